package http

import (
	"time"

	orderdomain "github.com/mealdash/orderflow/internal/order/domain"
	paydomain "github.com/mealdash/orderflow/internal/payment/domain"
	refunddomain "github.com/mealdash/orderflow/internal/refund/domain"
	trackdomain "github.com/mealdash/orderflow/internal/tracking/domain"
)

type addressView struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Street    string  `json:"street,omitempty"`
	City      string  `json:"city,omitempty"`
}

type orderItemView struct {
	MenuItemID     string   `json:"menu_item_id"`
	Name           string   `json:"name"`
	Quantity       int      `json:"quantity"`
	Options        []string `json:"options,omitempty"`
	UnitPriceCents int64    `json:"unit_price_cents"`
	LinePriceCents int64    `json:"line_price_cents"`
}

type orderView struct {
	ID           string          `json:"id"`
	Number       string          `json:"order_number"`
	CustomerID   string          `json:"customer_id"`
	RestaurantID string          `json:"restaurant_id"`
	CourierID    string          `json:"courier_id,omitempty"`
	Items        []orderItemView `json:"items,omitempty"`

	SubtotalCents      int64 `json:"subtotal_cents"`
	DeliveryFeeCents   int64 `json:"delivery_fee_cents"`
	ServiceChargeCents int64 `json:"service_charge_cents"`
	DiscountCents      int64 `json:"discount_cents"`
	TotalCents         int64 `json:"total_cents"`

	Status           orderdomain.OrderStatus   `json:"status"`
	PaymentStatus    orderdomain.PaymentStatus `json:"payment_status"`
	PaymentMethod    orderdomain.PaymentMethod `json:"payment_method"`
	PaymentReference string                    `json:"payment_reference,omitempty"`

	DeliveryAddress addressView `json:"delivery_address"`
	StatusReason    string      `json:"status_reason,omitempty"`

	EstimatedDeliveryMins *int       `json:"estimated_delivery_mins,omitempty"`
	ActualDeliveryTime    *time.Time `json:"actual_delivery_time,omitempty"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
}

func toOrderView(o orderdomain.Order) orderView {
	items := make([]orderItemView, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, orderItemView{
			MenuItemID:     it.MenuItemID,
			Name:           it.Name,
			Quantity:       it.Quantity,
			Options:        it.Options,
			UnitPriceCents: it.UnitPriceCents,
			LinePriceCents: it.LinePriceCents,
		})
	}
	return orderView{
		ID:                 o.ID,
		Number:             o.Number,
		CustomerID:         o.CustomerID,
		RestaurantID:       o.RestaurantID,
		CourierID:          o.CourierID,
		Items:              items,
		SubtotalCents:      o.SubtotalCents,
		DeliveryFeeCents:   o.DeliveryFeeCents,
		ServiceChargeCents: o.ServiceChargeCents,
		DiscountCents:      o.DiscountCents,
		TotalCents:         o.TotalCents,
		Status:             o.Status,
		PaymentStatus:      o.PaymentStatus,
		PaymentMethod:      o.PaymentMethod,
		PaymentReference:   o.PaymentReference,
		DeliveryAddress: addressView{
			Latitude:  o.DeliveryAddress.Latitude,
			Longitude: o.DeliveryAddress.Longitude,
			Street:    o.DeliveryAddress.Street,
			City:      o.DeliveryAddress.City,
		},
		StatusReason:          o.StatusReason,
		EstimatedDeliveryMins: o.EstimatedDeliveryMins,
		ActualDeliveryTime:    o.ActualDeliveryTime,
		CreatedAt:             o.CreatedAt,
		UpdatedAt:             o.UpdatedAt,
	}
}

type trackingView struct {
	OrderID          string                      `json:"order_id"`
	CourierID        string                      `json:"courier_id"`
	Status           trackdomain.TrackingStatus  `json:"status"`
	Current          *trackdomain.LocationPoint  `json:"current_location,omitempty"`
	History          []trackdomain.LocationPoint `json:"location_history,omitempty"`
	EstimatedArrival *time.Time                  `json:"estimated_arrival,omitempty"`
	UpdatedAt        time.Time                   `json:"updated_at"`
}

func toTrackingView(tr trackdomain.DeliveryTracking) trackingView {
	return trackingView{
		OrderID:          tr.OrderID,
		CourierID:        tr.CourierID,
		Status:           tr.Status,
		Current:          tr.Current,
		History:          tr.History,
		EstimatedArrival: tr.EstimatedArrival,
		UpdatedAt:        tr.UpdatedAt,
	}
}

type refundView struct {
	ID          string                    `json:"id"`
	OrderID     string                    `json:"order_id"`
	RequestedBy string                    `json:"requested_by"`
	AmountCents int64                     `json:"amount_cents"`
	Reason      string                    `json:"reason"`
	Status      refunddomain.RefundStatus `json:"status"`
	Method      refunddomain.RefundMethod `json:"method"`

	TransactionRef  string `json:"transaction_ref"`
	ApprovedBy      string `json:"approved_by,omitempty"`
	RejectedBy      string `json:"rejected_by,omitempty"`
	RejectionReason string `json:"rejection_reason,omitempty"`
	Notes           string `json:"notes,omitempty"`

	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func toRefundView(r refunddomain.Refund) refundView {
	return refundView{
		ID:              r.ID,
		OrderID:         r.OrderID,
		RequestedBy:     r.RequestedBy,
		AmountCents:     r.AmountCents,
		Reason:          r.Reason,
		Status:          r.Status,
		Method:          r.Method,
		TransactionRef:  r.TransactionRef,
		ApprovedBy:      r.ApprovedBy,
		RejectedBy:      r.RejectedBy,
		RejectionReason: r.RejectionReason,
		Notes:           r.Notes,
		CompletedAt:     r.CompletedAt,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
}

type returnView struct {
	OrderID     string            `json:"order_id"`
	OrderNumber string            `json:"order_number"`
	Outcome     paydomain.Outcome `json:"outcome"`
	AmountCents int64             `json:"amount_cents"`
}
