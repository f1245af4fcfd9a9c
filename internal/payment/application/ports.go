package application

import (
	"context"

	orderdomain "github.com/mealdash/orderflow/internal/order/domain"
	"github.com/mealdash/orderflow/pkg/outbox"
)

// PaymentOrders is the slice of the order store the reconciliation
// pipeline needs. All writes are conditional so that duplicate webhook
// deliveries racing each other settle the payment exactly once.
type PaymentOrders interface {
	Get(ctx context.Context, id string) (orderdomain.Order, error)
	GetByPaymentReference(ctx context.Context, ref string) (orderdomain.Order, error)
	// SetPaymentReference stores the reference only if the order has none
	// yet; returns false when one is already set.
	SetPaymentReference(ctx context.Context, orderID, ref string) (bool, error)
	// CompletePayment marks the payment completed and advances the order
	// from Pending to Confirmed in one transaction. Returns false when
	// the payment was already completed.
	CompletePayment(ctx context.Context, orderID string, rec outbox.Record) (bool, error)
	// FailPayment marks a still-pending payment failed. Returns false
	// when the payment already left Pending.
	FailPayment(ctx context.Context, orderID string, rec outbox.Record) (bool, error)
}

// Marks is the fast-path dedup store for webhook deliveries. It is an
// optimization only; the order row remains the authority.
type Marks interface {
	Seen(ctx context.Context, key string) (bool, error)
	Mark(ctx context.Context, key string) error
}

// RedirectBuilder builds the signed gateway redirect for an intent.
type RedirectBuilder interface {
	PayURL(ref string, amountCents int64, orderInfo string) string
}

type Publisher interface {
	Publish(channels []string, eventType string, payload any)
}
