package application

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/mealdash/orderflow/internal/geo"
	"github.com/mealdash/orderflow/internal/identity"
	orderdomain "github.com/mealdash/orderflow/internal/order/domain"
	"github.com/mealdash/orderflow/internal/realtime"
	"github.com/mealdash/orderflow/internal/tracking/domain"
	"github.com/mealdash/orderflow/pkg/outbox"
	"github.com/mealdash/orderflow/pkg/tracing"
)

type Service struct {
	log      *slog.Logger
	tracking TrackingRepository
	orders   OrderReader
	owners   RestaurantOwners
	hub      Publisher
	clock    func() time.Time
}

func NewService(log *slog.Logger, tracking TrackingRepository, orders OrderReader, owners RestaurantOwners, hub Publisher, clock func() time.Time) *Service {
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	return &Service{log: log, tracking: tracking, orders: orders, owners: owners, hub: hub, clock: clock}
}

// Start opens (or resets) the tracking record when a courier is
// assigned. It satisfies the order context's TrackingLifecycle port.
func (s *Service) Start(ctx context.Context, orderID, courierID string) error {
	now := s.clock()
	return s.tracking.Reset(ctx, domain.DeliveryTracking{
		OrderID:   orderID,
		CourierID: courierID,
		Status:    domain.StatusAssigned,
		CreatedAt: now,
		UpdatedAt: now,
	})
}

// MarkDelivered closes out the record when the order reaches
// Delivered.
func (s *Service) MarkDelivered(ctx context.Context, orderID string) error {
	return s.tracking.MarkDelivered(ctx, orderID)
}

// RecordLocation appends a courier ping, recomputes the arrival
// estimate, and fans the update out to the customer and restaurant
// after the write has committed.
func (s *Service) RecordLocation(ctx context.Context, p identity.Principal, orderID string, lat, lng float64) (domain.DeliveryTracking, error) {
	order, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return domain.DeliveryTracking{}, err
	}
	if p.Role != identity.RoleCourier || p.ID == "" || p.ID != order.CourierID {
		return domain.DeliveryTracking{}, domain.ErrUnauthorizedUpdate
	}
	switch order.Status {
	case orderdomain.StatusReadyForPickup, orderdomain.StatusOutForDelivery:
	default:
		return domain.DeliveryTracking{}, fmt.Errorf("%w: order is %s", domain.ErrCannotUpdate, order.Status)
	}

	now := s.clock()
	pt := domain.LocationPoint{Latitude: lat, Longitude: lng, At: now}
	dist := geo.Distance(lat, lng, order.DeliveryAddress.Latitude, order.DeliveryAddress.Longitude)
	eta := geo.ArrivalEstimate(now, dist)

	event := domain.LocationUpdated{
		OrderID:          orderID,
		CourierID:        p.ID,
		Latitude:         lat,
		Longitude:        lng,
		EstimatedArrival: eta,
		At:               now,
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return domain.DeliveryTracking{}, err
	}
	rec := outbox.Record{
		AggregateType: "tracking",
		AggregateID:   orderID,
		Type:          domain.EventLocationUpdated,
		Payload:       payload,
		Traceparent:   tracing.Traceparent(ctx),
	}
	if err := s.tracking.AppendLocation(ctx, orderID, pt, eta, rec); err != nil {
		return domain.DeliveryTracking{}, err
	}

	s.hub.Publish(
		[]string{realtime.CustomerChannel(order.CustomerID), realtime.RestaurantChannel(order.RestaurantID)},
		domain.EventLocationUpdated, event)

	return s.tracking.Get(ctx, orderID)
}

// Get returns the tracking record to the customer, the assigned
// courier, the restaurant owner, or an admin.
func (s *Service) Get(ctx context.Context, p identity.Principal, orderID string) (domain.DeliveryTracking, error) {
	order, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return domain.DeliveryTracking{}, err
	}
	if !s.mayRead(ctx, p, order) {
		return domain.DeliveryTracking{}, domain.ErrUnauthorizedAccess
	}
	return s.tracking.Get(ctx, orderID)
}

func (s *Service) mayRead(ctx context.Context, p identity.Principal, order orderdomain.Order) bool {
	if p.IsAdmin() {
		return true
	}
	if p.Owns(identity.RoleCustomer, order.CustomerID) {
		return true
	}
	if order.CourierID != "" && p.Owns(identity.RoleCourier, order.CourierID) {
		return true
	}
	if p.Role == identity.RoleRestaurant {
		ownerID, err := s.owners.OwnerOf(ctx, order.RestaurantID)
		if err != nil {
			s.log.Error("owner lookup failed", "restaurant_id", order.RestaurantID, "err", err)
			return false
		}
		return ownerID == p.ID
	}
	return false
}
