package domain

import "time"

type OrderStatus string

const (
	StatusPending        OrderStatus = "pending"
	StatusConfirmed      OrderStatus = "confirmed"
	StatusPreparing      OrderStatus = "preparing"
	StatusReadyForPickup OrderStatus = "ready_for_pickup"
	StatusOutForDelivery OrderStatus = "out_for_delivery"
	StatusDelivered      OrderStatus = "delivered"
	StatusCancelled      OrderStatus = "cancelled"
	StatusRejected       OrderStatus = "rejected"
)

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
	PaymentRefunded  PaymentStatus = "refunded"
)

type PaymentMethod string

const (
	PayCashOnDelivery PaymentMethod = "cash_on_delivery"
	PayGateway        PaymentMethod = "gateway"
)

// All money fields are minor units (cents).
type Order struct {
	ID           string
	Number       string
	CustomerID   string
	RestaurantID string
	CourierID    string // empty until a courier is assigned
	Items        []OrderItem

	SubtotalCents      int64
	DeliveryFeeCents   int64
	ServiceChargeCents int64
	DiscountCents      int64
	TotalCents         int64

	Status           OrderStatus
	PaymentStatus    PaymentStatus
	PaymentMethod    PaymentMethod
	PaymentReference string // gateway transaction id, the idempotency anchor

	DeliveryAddress Address
	StatusReason    string // cancellation or rejection reason

	EstimatedDeliveryMins *int
	ActualDeliveryTime    *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

type OrderItem struct {
	MenuItemID     string
	Name           string
	Quantity       int
	Options        []string
	UnitPriceCents int64
	LinePriceCents int64
}

type Address struct {
	Latitude  float64
	Longitude float64
	Street    string
	City      string
}

// NewOrder builds a Pending/Pending order, computing line prices and
// the money identity: total = subtotal + deliveryFee + serviceCharge - discount.
func NewOrder(id, number, customerID, restaurantID string, method PaymentMethod, addr Address, items []OrderItem, deliveryFee, serviceCharge, discount int64) Order {
	var subtotal int64
	for i := range items {
		items[i].LinePriceCents = int64(items[i].Quantity) * items[i].UnitPriceCents
		subtotal += items[i].LinePriceCents
	}
	now := time.Now().UTC()
	return Order{
		ID:                 id,
		Number:             number,
		CustomerID:         customerID,
		RestaurantID:       restaurantID,
		Items:              items,
		SubtotalCents:      subtotal,
		DeliveryFeeCents:   deliveryFee,
		ServiceChargeCents: serviceCharge,
		DiscountCents:      discount,
		TotalCents:         subtotal + deliveryFee + serviceCharge - discount,
		Status:             StatusPending,
		PaymentStatus:      PaymentPending,
		PaymentMethod:      method,
		DeliveryAddress:    addr,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

// TotalConsistent reports whether the stored total still satisfies the
// money identity. It must hold after every mutation.
func (o Order) TotalConsistent() bool {
	return o.TotalCents == o.SubtotalCents+o.DeliveryFeeCents+o.ServiceChargeCents-o.DiscountCents
}
