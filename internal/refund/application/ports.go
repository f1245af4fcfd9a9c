package application

import (
	"context"
	"time"

	orderdomain "github.com/mealdash/orderflow/internal/order/domain"
	"github.com/mealdash/orderflow/internal/refund/domain"
	"github.com/mealdash/orderflow/pkg/outbox"
)

// StatusUpdate is a compare-and-set write against a refund row: it
// applies only while the stored status equals Expected.
type StatusUpdate struct {
	ID       string
	Expected domain.RefundStatus
	Target   domain.RefundStatus

	ApprovedBy      string
	RejectedBy      string
	RejectionReason string
	// AppendNotes is added to the notes column, typically the gateway
	// error on a failed processing attempt.
	AppendNotes string
}

type RefundRepository interface {
	// Create inserts a Pending refund; returns ErrDuplicateRefund when
	// the order already has an active one.
	Create(ctx context.Context, r domain.Refund, rec outbox.Record) error
	Get(ctx context.Context, id string) (domain.Refund, error)
	ListByOrder(ctx context.Context, orderID string) ([]domain.Refund, error)
	UpdateStatus(ctx context.Context, upd StatusUpdate, rec outbox.Record) (bool, error)
	// Complete moves the refund from Processing to Completed and flips
	// the order's payment status to Refunded in one transaction.
	Complete(ctx context.Context, refundID, orderID string, completedAt time.Time, rec outbox.Record) (bool, error)
}

type OrderReader interface {
	Get(ctx context.Context, id string) (orderdomain.Order, error)
}

// RestaurantOwners resolves the owning principal of a restaurant.
type RestaurantOwners interface {
	OwnerOf(ctx context.Context, restaurantID string) (string, error)
}

// GatewayRefunder is the external refund capability. One call per
// processing attempt, never retried implicitly.
type GatewayRefunder interface {
	Refund(ctx context.Context, refundRef, originalRef string, amountCents int64, reason string) error
}

type Publisher interface {
	Publish(channels []string, eventType string, payload any)
}
