package application

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/mealdash/orderflow/internal/geo"
	"github.com/mealdash/orderflow/internal/identity"
	"github.com/mealdash/orderflow/internal/order/domain"
	"github.com/mealdash/orderflow/internal/realtime"
	"github.com/mealdash/orderflow/pkg/outbox"
	"github.com/mealdash/orderflow/pkg/tracing"
)

// Deps bundles the collaborators the order service needs.
type Deps struct {
	Log         *slog.Logger
	Orders      OrderRepository
	Restaurants RestaurantDirectory
	Menu        MenuCatalog
	Couriers    CourierRoster
	Tracking    TrackingLifecycle
	Hub         Publisher
	Clock       func() time.Time
	NewID       func() string
}

type Service struct {
	log         *slog.Logger
	orders      OrderRepository
	restaurants RestaurantDirectory
	menu        MenuCatalog
	couriers    CourierRoster
	tracking    TrackingLifecycle
	hub         Publisher
	clock       func() time.Time
	newID       func() string
}

func NewService(d Deps) *Service {
	clock := d.Clock
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	newID := d.NewID
	if newID == nil {
		newID = func() string { return ulid.Make().String() }
	}
	return &Service{
		log:         d.Log,
		orders:      d.Orders,
		restaurants: d.Restaurants,
		menu:        d.Menu,
		couriers:    d.Couriers,
		tracking:    d.Tracking,
		hub:         d.Hub,
		clock:       clock,
		newID:       newID,
	}
}

type CreateOrderInput struct {
	RestaurantID  string
	PaymentMethod domain.PaymentMethod
	Address       domain.Address
	Items         []CreateOrderItem
	DiscountCents int64
	ServiceCharge int64
}

type CreateOrderItem struct {
	MenuItemID string
	Quantity   int
	Options    []string
}

// CreateOrder prices the requested items through the menu catalog and
// persists a Pending/Pending order.
func (s *Service) CreateOrder(ctx context.Context, p identity.Principal, in CreateOrderInput) (domain.Order, error) {
	if p.Role != identity.RoleCustomer && !p.IsAdmin() {
		return domain.Order{}, domain.ErrUnauthorized
	}
	if len(in.Items) == 0 {
		return domain.Order{}, fmt.Errorf("%w: order has no items", domain.ErrItemUnavailable)
	}

	restaurant, err := s.restaurants.Get(ctx, in.RestaurantID)
	if err != nil {
		return domain.Order{}, err
	}

	items := make([]domain.OrderItem, 0, len(in.Items))
	for _, req := range in.Items {
		if req.Quantity <= 0 {
			return domain.Order{}, fmt.Errorf("%w: quantity must be positive for item %s", domain.ErrItemUnavailable, req.MenuItemID)
		}
		mi, err := s.menu.GetItem(ctx, req.MenuItemID)
		if err != nil {
			return domain.Order{}, err
		}
		if !mi.Available {
			return domain.Order{}, fmt.Errorf("%w: %s", domain.ErrItemUnavailable, mi.Name)
		}
		price := mi.PriceCents
		if mi.DiscountedPriceCents > 0 && mi.DiscountedPriceCents < price {
			price = mi.DiscountedPriceCents
		}
		items = append(items, domain.OrderItem{
			MenuItemID:     mi.ID,
			Name:           mi.Name,
			Quantity:       req.Quantity,
			Options:        req.Options,
			UnitPriceCents: price,
		})
	}

	id := s.newID()
	order := domain.NewOrder(id, s.orderNumber(id), p.ID, in.RestaurantID, in.PaymentMethod,
		in.Address, items, restaurant.DeliveryFeeCents, in.ServiceCharge, in.DiscountCents)

	payload, err := json.Marshal(domain.OrderCreated{
		OrderID:    order.ID,
		Number:     order.Number,
		CustomerID: order.CustomerID,
		TotalCents: order.TotalCents,
	})
	if err != nil {
		return domain.Order{}, err
	}
	if err := s.orders.Create(ctx, order, s.record(ctx, order.ID, domain.EventOrderCreated, payload)); err != nil {
		return domain.Order{}, err
	}

	s.hub.Publish(
		[]string{realtime.CustomerChannel(order.CustomerID), realtime.RestaurantChannel(order.RestaurantID)},
		domain.EventOrderCreated,
		domain.OrderCreated{OrderID: order.ID, Number: order.Number, CustomerID: order.CustomerID, TotalCents: order.TotalCents},
	)
	s.log.Info("order created", "order_id", order.ID, "number", order.Number, "total_cents", order.TotalCents)
	return order, nil
}

// Transition validates and applies one status change as the given
// actor. The write is compare-and-set against the status the actor
// observed; a concurrent loser sees ErrInvalidTransition carrying the
// post-update state.
func (s *Service) Transition(ctx context.Context, p identity.Principal, orderID string, target domain.OrderStatus, reason string) (domain.Order, error) {
	if !domain.ValidStatus(target) {
		return domain.Order{}, fmt.Errorf("%w: unknown status %q", domain.ErrInvalidTransition, target)
	}

	order, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if err := s.authorizeTransition(ctx, p, order, target); err != nil {
		return domain.Order{}, err
	}
	if !domain.CanTransition(order.Status, target) {
		return domain.Order{}, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, order.Status, target)
	}
	if (target == domain.StatusCancelled || target == domain.StatusRejected) && strings.TrimSpace(reason) == "" {
		return domain.Order{}, domain.ErrReasonRequired
	}

	now := s.clock()
	upd := StatusUpdate{
		OrderID:  order.ID,
		Expected: order.Status,
		Target:   target,
		Reason:   strings.TrimSpace(reason),
	}
	switch target {
	case domain.StatusOutForDelivery:
		mins, err := s.deliveryEstimate(ctx, order)
		if err != nil {
			return domain.Order{}, err
		}
		upd.EstimatedDeliveryMins = &mins
	case domain.StatusDelivered:
		upd.ActualDeliveryTime = &now
	}

	event := domain.StatusChanged{
		OrderID:        order.ID,
		Number:         order.Number,
		PreviousStatus: order.Status,
		Status:         target,
		Reason:         upd.Reason,
		ActorID:        p.ID,
		At:             now,
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return domain.Order{}, err
	}

	applied, err := s.orders.UpdateStatus(ctx, upd, s.record(ctx, order.ID, domain.EventStatusChanged, payload))
	if err != nil {
		return domain.Order{}, err
	}
	if !applied {
		// Lost the race: report against whatever is stored now.
		current, err := s.orders.Get(ctx, orderID)
		if err != nil {
			return domain.Order{}, err
		}
		return domain.Order{}, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, current.Status, target)
	}

	if target == domain.StatusDelivered {
		if err := s.tracking.MarkDelivered(ctx, order.ID); err != nil {
			s.log.Error("mark tracking delivered failed", "order_id", order.ID, "err", err)
		}
		if order.CourierID != "" {
			if err := s.couriers.SetAvailable(ctx, order.CourierID, true); err != nil {
				s.log.Error("release courier failed", "courier_id", order.CourierID, "err", err)
			}
		}
	}

	s.hub.Publish(s.orderChannels(order), domain.EventStatusChanged, event)
	s.log.Info("order status changed", "order_id", order.ID, "from", order.Status, "to", target, "actor", p.ID)

	return s.orders.Get(ctx, orderID)
}

// Cancel is the customer-initiated special case of the Cancelled
// transition; the restaurant path goes through Transition directly.
func (s *Service) Cancel(ctx context.Context, p identity.Principal, orderID, reason string) (domain.Order, error) {
	return s.Transition(ctx, p, orderID, domain.StatusCancelled, reason)
}

// Reject is the restaurant-initiated special case of the Rejected
// transition.
func (s *Service) Reject(ctx context.Context, p identity.Principal, orderID, reason string) (domain.Order, error) {
	return s.Transition(ctx, p, orderID, domain.StatusRejected, reason)
}

// AssignCourier attaches an available courier to a ready order and
// opens its delivery tracking record.
func (s *Service) AssignCourier(ctx context.Context, p identity.Principal, orderID, courierID string) (domain.Order, error) {
	order, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if !p.IsAdmin() {
		owner, err := s.isRestaurantOwner(ctx, p, order.RestaurantID)
		if err != nil {
			return domain.Order{}, err
		}
		if !owner {
			return domain.Order{}, domain.ErrUnauthorized
		}
	}
	if order.Status != domain.StatusReadyForPickup {
		return domain.Order{}, fmt.Errorf("%w: order is %s", domain.ErrCannotAssign, order.Status)
	}

	available, err := s.couriers.Available(ctx, courierID)
	if err != nil {
		return domain.Order{}, err
	}
	if !available {
		return domain.Order{}, fmt.Errorf("%w: %s", domain.ErrCourierUnavailable, courierID)
	}

	restaurant, err := s.restaurants.Get(ctx, order.RestaurantID)
	if err != nil {
		return domain.Order{}, err
	}

	event := domain.CourierAssigned{
		OrderID:             order.ID,
		CourierID:           courierID,
		RestaurantLatitude:  restaurant.Latitude,
		RestaurantLongitude: restaurant.Longitude,
		DeliveryLatitude:    order.DeliveryAddress.Latitude,
		DeliveryLongitude:   order.DeliveryAddress.Longitude,
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return domain.Order{}, err
	}

	applied, err := s.orders.AssignCourier(ctx, order.ID, courierID, domain.StatusReadyForPickup,
		s.record(ctx, order.ID, domain.EventCourierAssigned, payload))
	if err != nil {
		return domain.Order{}, err
	}
	if !applied {
		return domain.Order{}, fmt.Errorf("%w: order left ready_for_pickup", domain.ErrCannotAssign)
	}

	if err := s.tracking.Start(ctx, order.ID, courierID); err != nil {
		s.log.Error("start tracking failed", "order_id", order.ID, "err", err)
	}
	if err := s.couriers.SetAvailable(ctx, courierID, false); err != nil {
		s.log.Error("mark courier busy failed", "courier_id", courierID, "err", err)
	}

	s.hub.Publish([]string{realtime.CourierChannel(courierID)}, domain.EventCourierAssigned, event)
	s.log.Info("courier assigned", "order_id", order.ID, "courier_id", courierID)

	return s.orders.Get(ctx, orderID)
}

// Rate records a customer rating for a delivered order and recomputes
// the restaurant's running average. The recompute is read-then-write
// without a lock; two near-simultaneous ratings may each average over
// a slightly stale set.
func (s *Service) Rate(ctx context.Context, p identity.Principal, orderID string, rating int, comment string) error {
	if rating < 1 || rating > 5 {
		return domain.ErrInvalidRating
	}
	order, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return err
	}
	if !p.Owns(identity.RoleCustomer, order.CustomerID) {
		return domain.ErrUnauthorized
	}
	if order.Status != domain.StatusDelivered {
		return fmt.Errorf("%w: order is %s", domain.ErrNotRateable, order.Status)
	}

	r := Rating{
		OrderID:      order.ID,
		RestaurantID: order.RestaurantID,
		CustomerID:   order.CustomerID,
		Rating:       rating,
		Comment:      comment,
	}
	payload, err := json.Marshal(domain.OrderRated{OrderID: order.ID, RestaurantID: order.RestaurantID, Rating: rating})
	if err != nil {
		return err
	}
	if err := s.orders.AddRating(ctx, r, s.record(ctx, order.ID, domain.EventOrderRated, payload)); err != nil {
		return err
	}

	avg, err := s.orders.RestaurantAverageRating(ctx, order.RestaurantID)
	if err != nil {
		return err
	}
	avg = math.Round(avg*10) / 10
	if err := s.restaurants.UpdateRating(ctx, order.RestaurantID, avg); err != nil {
		return err
	}

	s.hub.Publish([]string{realtime.RestaurantChannel(order.RestaurantID)}, domain.EventOrderRated,
		domain.OrderRated{OrderID: order.ID, RestaurantID: order.RestaurantID, Rating: rating, Average: avg})
	return nil
}

// Get returns the order to any principal with a stake in it.
func (s *Service) Get(ctx context.Context, p identity.Principal, orderID string) (domain.Order, error) {
	order, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if p.Owns(identity.RoleCustomer, order.CustomerID) ||
		(order.CourierID != "" && p.Owns(identity.RoleCourier, order.CourierID)) {
		return order, nil
	}
	owner, err := s.isRestaurantOwner(ctx, p, order.RestaurantID)
	if err != nil {
		return domain.Order{}, err
	}
	if !owner {
		return domain.Order{}, domain.ErrUnauthorized
	}
	return order, nil
}

// authorizeTransition is the single authorization predicate for status
// changes: owner and admin may drive any tabled transition, the
// assigned courier may only complete the delivery leg, the customer
// may only take the early cancel path.
func (s *Service) authorizeTransition(ctx context.Context, p identity.Principal, order domain.Order, target domain.OrderStatus) error {
	if p.IsAdmin() {
		return nil
	}
	switch p.Role {
	case identity.RoleRestaurant:
		owner, err := s.isRestaurantOwner(ctx, p, order.RestaurantID)
		if err != nil {
			return err
		}
		if owner {
			return nil
		}
	case identity.RoleCourier:
		if p.ID == order.CourierID && order.Status == domain.StatusOutForDelivery && target == domain.StatusDelivered {
			return nil
		}
	case identity.RoleCustomer:
		if p.ID == order.CustomerID && target == domain.StatusCancelled && domain.CustomerCancellable(order.Status) {
			return nil
		}
	}
	return domain.ErrUnauthorized
}

func (s *Service) isRestaurantOwner(ctx context.Context, p identity.Principal, restaurantID string) (bool, error) {
	if p.Role != identity.RoleRestaurant && !p.IsAdmin() {
		return false, nil
	}
	restaurant, err := s.restaurants.Get(ctx, restaurantID)
	if err != nil {
		return false, err
	}
	return p.Owns(identity.RoleRestaurant, restaurant.OwnerID), nil
}

// deliveryEstimate prefers the restaurant's configured estimate and
// falls back to the distance heuristic.
func (s *Service) deliveryEstimate(ctx context.Context, order domain.Order) (int, error) {
	restaurant, err := s.restaurants.Get(ctx, order.RestaurantID)
	if err != nil {
		return 0, err
	}
	if restaurant.EstimatedDeliveryMins > 0 {
		return restaurant.EstimatedDeliveryMins, nil
	}
	dist := geo.Distance(restaurant.Latitude, restaurant.Longitude,
		order.DeliveryAddress.Latitude, order.DeliveryAddress.Longitude)
	return geo.DeliveryEstimateMinutes(dist), nil
}

func (s *Service) orderChannels(order domain.Order) []string {
	channels := []string{
		realtime.CustomerChannel(order.CustomerID),
		realtime.RestaurantChannel(order.RestaurantID),
	}
	if order.CourierID != "" {
		channels = append(channels, realtime.CourierChannel(order.CourierID))
	}
	return channels
}

func (s *Service) orderNumber(id string) string {
	suffix := id
	if len(suffix) > 6 {
		suffix = suffix[len(suffix)-6:]
	}
	return fmt.Sprintf("ORD-%s-%s", s.clock().Format("20060102"), strings.ToUpper(suffix))
}

func (s *Service) record(ctx context.Context, orderID, eventType string, payload []byte) outbox.Record {
	return outbox.Record{
		AggregateType: "order",
		AggregateID:   orderID,
		Type:          eventType,
		Payload:       payload,
		Traceparent:   tracing.Traceparent(ctx),
	}
}
