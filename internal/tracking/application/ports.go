package application

import (
	"context"
	"time"

	orderdomain "github.com/mealdash/orderflow/internal/order/domain"
	"github.com/mealdash/orderflow/internal/tracking/domain"
	"github.com/mealdash/orderflow/pkg/outbox"
)

type TrackingRepository interface {
	// Reset creates the tracking record for a fresh assignment, clearing
	// any history left by a previous courier.
	Reset(ctx context.Context, tr domain.DeliveryTracking) error
	Get(ctx context.Context, orderID string) (domain.DeliveryTracking, error)
	// AppendLocation appends the point and moves the current position and
	// ETA in one transaction.
	AppendLocation(ctx context.Context, orderID string, pt domain.LocationPoint, eta time.Time, rec outbox.Record) error
	MarkDelivered(ctx context.Context, orderID string) error
}

type OrderReader interface {
	Get(ctx context.Context, id string) (orderdomain.Order, error)
}

// RestaurantOwners resolves the owning principal of a restaurant for
// read authorization.
type RestaurantOwners interface {
	OwnerOf(ctx context.Context, restaurantID string) (string, error)
}

type Publisher interface {
	Publish(channels []string, eventType string, payload any)
}
