package application

import (
	"context"
	"time"

	"github.com/mealdash/orderflow/internal/order/domain"
	"github.com/mealdash/orderflow/pkg/outbox"
)

// StatusUpdate is one conditional write against the order record. The
// store applies it only while the stored status still equals Expected,
// so the transition check and the write are atomic per order.
type StatusUpdate struct {
	OrderID               string
	Expected              domain.OrderStatus
	Target                domain.OrderStatus
	Reason                string
	EstimatedDeliveryMins *int
	ActualDeliveryTime    *time.Time
}

type Rating struct {
	OrderID      string
	RestaurantID string
	CustomerID   string
	Rating       int
	Comment      string
}

type OrderRepository interface {
	Create(ctx context.Context, o domain.Order, rec outbox.Record) error
	Get(ctx context.Context, id string) (domain.Order, error)
	// UpdateStatus returns false without writing when the compare-and-set
	// condition no longer holds.
	UpdateStatus(ctx context.Context, upd StatusUpdate, rec outbox.Record) (bool, error)
	// AssignCourier sets the courier reference, conditional on the order
	// still being in expected status.
	AssignCourier(ctx context.Context, orderID, courierID string, expected domain.OrderStatus, rec outbox.Record) (bool, error)
	// AddRating appends a rating; ratings are never updated in place.
	AddRating(ctx context.Context, r Rating, rec outbox.Record) error
	RestaurantAverageRating(ctx context.Context, restaurantID string) (float64, error)
}

type Restaurant struct {
	ID                    string
	OwnerID               string
	Latitude              float64
	Longitude             float64
	DeliveryFeeCents      int64
	MinOrderCents         int64
	EstimatedDeliveryMins int
}

type MenuItem struct {
	ID                   string
	Name                 string
	PriceCents           int64
	DiscountedPriceCents int64
	Available            bool
	Options              []string
}

// RestaurantDirectory and MenuCatalog are the contracts the core needs
// from the excluded restaurant/menu subsystem.
type RestaurantDirectory interface {
	Get(ctx context.Context, id string) (Restaurant, error)
	UpdateRating(ctx context.Context, id string, average float64) error
}

type MenuCatalog interface {
	GetItem(ctx context.Context, id string) (MenuItem, error)
}

// CourierRoster tracks courier availability.
type CourierRoster interface {
	Available(ctx context.Context, courierID string) (bool, error)
	SetAvailable(ctx context.Context, courierID string, available bool) error
}

// TrackingLifecycle is the slice of the tracking context the state
// machine drives: start on assignment, close out on delivery.
type TrackingLifecycle interface {
	Start(ctx context.Context, orderID, courierID string) error
	MarkDelivered(ctx context.Context, orderID string) error
}

// Publisher is the realtime fan-out. Publishing happens strictly after
// the corresponding write has committed and is best effort.
type Publisher interface {
	Publish(channels []string, eventType string, payload any)
}
