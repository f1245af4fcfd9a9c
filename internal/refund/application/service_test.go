package application

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"testing"
	"time"

	"github.com/mealdash/orderflow/internal/identity"
	orderdomain "github.com/mealdash/orderflow/internal/order/domain"
	"github.com/mealdash/orderflow/internal/refund/domain"
	"github.com/mealdash/orderflow/pkg/outbox"
)

type memRefunds struct {
	refunds map[string]*domain.Refund
	outbox  []outbox.Record
	// completeOrder mirrors the real transaction's coupling of refund
	// completion to the order's payment status.
	completeOrder func(orderID string)
}

func newMemRefunds() *memRefunds {
	return &memRefunds{refunds: map[string]*domain.Refund{}}
}

func (m *memRefunds) Create(_ context.Context, r domain.Refund, rec outbox.Record) error {
	for _, existing := range m.refunds {
		if existing.OrderID == r.OrderID && existing.Status.Active() {
			return domain.ErrDuplicateRefund
		}
	}
	cp := r
	m.refunds[r.ID] = &cp
	m.outbox = append(m.outbox, rec)
	return nil
}

func (m *memRefunds) Get(_ context.Context, id string) (domain.Refund, error) {
	r, ok := m.refunds[id]
	if !ok {
		return domain.Refund{}, domain.ErrNotFound
	}
	return *r, nil
}

func (m *memRefunds) ListByOrder(_ context.Context, orderID string) ([]domain.Refund, error) {
	var out []domain.Refund
	for _, r := range m.refunds {
		if r.OrderID == orderID {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (m *memRefunds) UpdateStatus(_ context.Context, upd StatusUpdate, rec outbox.Record) (bool, error) {
	r, ok := m.refunds[upd.ID]
	if !ok || r.Status != upd.Expected {
		return false, nil
	}
	r.Status = upd.Target
	if upd.ApprovedBy != "" {
		r.ApprovedBy = upd.ApprovedBy
	}
	if upd.RejectedBy != "" {
		r.RejectedBy = upd.RejectedBy
	}
	if upd.RejectionReason != "" {
		r.RejectionReason = upd.RejectionReason
	}
	if upd.AppendNotes != "" {
		if r.Notes != "" {
			r.Notes += "\n"
		}
		r.Notes += upd.AppendNotes
	}
	m.outbox = append(m.outbox, rec)
	return true, nil
}

func (m *memRefunds) Complete(_ context.Context, refundID, orderID string, completedAt time.Time, rec outbox.Record) (bool, error) {
	r, ok := m.refunds[refundID]
	if !ok || r.Status != domain.StatusProcessing {
		return false, nil
	}
	r.Status = domain.StatusCompleted
	r.CompletedAt = &completedAt
	m.outbox = append(m.outbox, rec)
	if m.completeOrder != nil {
		m.completeOrder(orderID)
	}
	return true, nil
}

type memOrderReader struct {
	orders map[string]*orderdomain.Order
}

func (m *memOrderReader) Get(_ context.Context, id string) (orderdomain.Order, error) {
	o, ok := m.orders[id]
	if !ok {
		return orderdomain.Order{}, orderdomain.ErrNotFound
	}
	return *o, nil
}

type memOwners struct{ owners map[string]string }

func (m *memOwners) OwnerOf(_ context.Context, restaurantID string) (string, error) {
	ownerID, ok := m.owners[restaurantID]
	if !ok {
		return "", errors.New("restaurant not found")
	}
	return ownerID, nil
}

type fakeGateway struct {
	calls  int
	err    error
	onCall func()
}

func (g *fakeGateway) Refund(_ context.Context, _, _ string, _ int64, _ string) error {
	g.calls++
	if g.onCall != nil {
		g.onCall()
	}
	return g.err
}

type published struct {
	channels  []string
	eventType string
}

type memHub struct{ events []published }

func (m *memHub) Publish(channels []string, eventType string, _ any) {
	m.events = append(m.events, published{channels: channels, eventType: eventType})
}

type fixture struct {
	svc     *Service
	refunds *memRefunds
	orders  *memOrderReader
	gateway *fakeGateway
	hub     *memHub
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		refunds: newMemRefunds(),
		orders: &memOrderReader{orders: map[string]*orderdomain.Order{
			"ord1": {
				ID:               "ord1",
				Number:           "ORD-20250601-ABC123",
				CustomerID:       "cust1",
				RestaurantID:     "r1",
				Status:           orderdomain.StatusDelivered,
				PaymentStatus:    orderdomain.PaymentCompleted,
				PaymentMethod:    orderdomain.PayGateway,
				PaymentReference: "REF1",
				TotalCents:       2100,
			},
			"ord-cod": {
				ID:            "ord-cod",
				CustomerID:    "cust1",
				RestaurantID:  "r1",
				Status:        orderdomain.StatusDelivered,
				PaymentStatus: orderdomain.PaymentCompleted,
				PaymentMethod: orderdomain.PayCashOnDelivery,
				TotalCents:    1500,
			},
			"ord-unpaid": {
				ID:            "ord-unpaid",
				CustomerID:    "cust1",
				RestaurantID:  "r1",
				Status:        orderdomain.StatusPending,
				PaymentStatus: orderdomain.PaymentPending,
				PaymentMethod: orderdomain.PayGateway,
				TotalCents:    1000,
			},
		}},
		gateway: &fakeGateway{},
		hub:     &memHub{},
	}
	f.refunds.completeOrder = func(orderID string) {
		f.orders.orders[orderID].PaymentStatus = orderdomain.PaymentRefunded
	}
	ids := 0
	now := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	f.svc = NewService(Deps{
		Log:     slog.New(slog.DiscardHandler),
		Refunds: f.refunds,
		Orders:  f.orders,
		Owners:  &memOwners{owners: map[string]string{"r1": "owner1"}},
		Gateway: f.gateway,
		Hub:     f.hub,
		Clock:   func() time.Time { return now },
		NewID: func() string {
			ids++
			return "rfn" + strconv.Itoa(ids)
		},
	})
	return f
}

var (
	customer = identity.Principal{ID: "cust1", Role: identity.RoleCustomer}
	owner    = identity.Principal{ID: "owner1", Role: identity.RoleRestaurant}
	admin    = identity.Principal{ID: "adm1", Role: identity.RoleAdmin}
)

func TestCreateRefund(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("full amount on a paid order", func(t *testing.T) {
		f := newFixture(t)
		r, err := f.svc.Create(ctx, customer, "ord1", 2100, "cold food", domain.MethodOriginal)
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		if r.Status != domain.StatusPending {
			t.Fatalf("status = %s, want pending", r.Status)
		}
		if r.TransactionRef == "" || r.TransactionRef == r.ID {
			t.Fatalf("transaction ref %q must be fresh", r.TransactionRef)
		}
		if r.OriginalTransactionRef != "REF1" {
			t.Fatalf("original ref = %q", r.OriginalTransactionRef)
		}
	})

	t.Run("amount above total", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.Create(ctx, customer, "ord1", 2101, "too much", domain.MethodOriginal)
		if !errors.Is(err, domain.ErrInvalidRefundAmount) {
			t.Fatalf("got %v, want ErrInvalidRefundAmount", err)
		}
	})

	t.Run("zero and negative amounts", func(t *testing.T) {
		f := newFixture(t)
		for _, amount := range []int64{0, -100} {
			_, err := f.svc.Create(ctx, customer, "ord1", amount, "bad", domain.MethodOriginal)
			if !errors.Is(err, domain.ErrInvalidRefundAmount) {
				t.Fatalf("amount %d: got %v, want ErrInvalidRefundAmount", amount, err)
			}
		}
	})

	t.Run("payment not completed", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.Create(ctx, customer, "ord-unpaid", 1000, "never paid", domain.MethodOriginal)
		if !errors.Is(err, domain.ErrPaymentNotCompleted) {
			t.Fatalf("got %v, want ErrPaymentNotCompleted", err)
		}
	})

	t.Run("second active refund rejected", func(t *testing.T) {
		f := newFixture(t)
		if _, err := f.svc.Create(ctx, customer, "ord1", 1000, "first", domain.MethodOriginal); err != nil {
			t.Fatalf("first Create: %v", err)
		}
		_, err := f.svc.Create(ctx, customer, "ord1", 500, "second", domain.MethodOriginal)
		if !errors.Is(err, domain.ErrDuplicateRefund) {
			t.Fatalf("got %v, want ErrDuplicateRefund", err)
		}
	})

	t.Run("rejected refund frees the slot", func(t *testing.T) {
		f := newFixture(t)
		r, err := f.svc.Create(ctx, customer, "ord1", 1000, "first", domain.MethodOriginal)
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		if _, err := f.svc.Reject(ctx, owner, r.ID, "not justified"); err != nil {
			t.Fatalf("Reject: %v", err)
		}
		if _, err := f.svc.Create(ctx, customer, "ord1", 1000, "again", domain.MethodOriginal); err != nil {
			t.Fatalf("Create after rejection: %v", err)
		}
	})

	t.Run("stranger may not request", func(t *testing.T) {
		f := newFixture(t)
		stranger := identity.Principal{ID: "cust2", Role: identity.RoleCustomer}
		_, err := f.svc.Create(ctx, stranger, "ord1", 2100, "not mine", domain.MethodOriginal)
		if !errors.Is(err, domain.ErrUnauthorized) {
			t.Fatalf("got %v, want ErrUnauthorized", err)
		}
	})
}

func TestApproveChainsIntoProcessingForGatewayPayments(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	r, err := f.svc.Create(ctx, customer, "ord1", 2100, "cold food", domain.MethodOriginal)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	approved, err := f.svc.Approve(ctx, owner, r.ID, "ok")
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if approved.Status != domain.StatusCompleted {
		t.Fatalf("status = %s, want completed after the auto-chain", approved.Status)
	}
	if approved.CompletedAt == nil {
		t.Fatal("completed_at not set")
	}
	if f.gateway.calls != 1 {
		t.Fatalf("gateway calls = %d, want 1", f.gateway.calls)
	}
	if got := f.orders.orders["ord1"].PaymentStatus; got != orderdomain.PaymentRefunded {
		t.Fatalf("order payment status = %s, want refunded", got)
	}
}

func TestApproveCashOnDeliveryStaysApproved(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	r, err := f.svc.Create(ctx, customer, "ord-cod", 1500, "wrong order", domain.MethodWallet)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	approved, err := f.svc.Approve(ctx, admin, r.ID, "")
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if approved.Status != domain.StatusApproved {
		t.Fatalf("status = %s, want approved (manual settlement)", approved.Status)
	}
	if f.gateway.calls != 0 {
		t.Fatalf("gateway calls = %d, want 0", f.gateway.calls)
	}
}

func TestProcessFailureParksRefundFailed(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.gateway.err = errors.New("issuer timeout")
	ctx := context.Background()

	r, err := f.svc.Create(ctx, customer, "ord1", 2100, "cold food", domain.MethodOriginal)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	failed, err := f.svc.Approve(ctx, owner, r.ID, "")
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if failed.Status != domain.StatusFailed {
		t.Fatalf("status = %s, want failed", failed.Status)
	}
	if failed.Notes == "" {
		t.Fatal("gateway error not appended to notes")
	}
	// The order's payment stays untouched for a human to look at.
	if got := f.orders.orders["ord1"].PaymentStatus; got != orderdomain.PaymentCompleted {
		t.Fatalf("order payment status = %s, want completed", got)
	}
	if f.gateway.calls != 1 {
		t.Fatalf("gateway calls = %d, want exactly 1 (no implicit retry)", f.gateway.calls)
	}
}

func TestProcessFailureLosesToConcurrentCompletion(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	r, err := f.svc.Create(ctx, customer, "ord1", 2100, "cold food", domain.MethodOriginal)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	// Another worker settles the refund while the gateway call is in
	// flight; the Failed write must lose the race, not clobber it.
	f.gateway.err = errors.New("issuer timeout")
	f.gateway.onCall = func() {
		f.refunds.refunds[r.ID].Status = domain.StatusCompleted
	}

	if _, err := f.svc.Approve(ctx, owner, r.ID, ""); !errors.Is(err, domain.ErrInvalidRefundState) {
		t.Fatalf("got %v, want ErrInvalidRefundState", err)
	}
	if got := f.refunds.refunds[r.ID].Status; got != domain.StatusCompleted {
		t.Fatalf("status = %s, want completed preserved", got)
	}
}

func TestRefundDecisionGuards(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("reject requires a reason", func(t *testing.T) {
		f := newFixture(t)
		r, _ := f.svc.Create(ctx, customer, "ord1", 2100, "cold", domain.MethodOriginal)
		if _, err := f.svc.Reject(ctx, owner, r.ID, ""); !errors.Is(err, domain.ErrReasonRequired) {
			t.Fatalf("got %v, want ErrReasonRequired", err)
		}
	})

	t.Run("approve only from pending", func(t *testing.T) {
		f := newFixture(t)
		r, _ := f.svc.Create(ctx, customer, "ord1", 2100, "cold", domain.MethodOriginal)
		if _, err := f.svc.Reject(ctx, owner, r.ID, "no"); err != nil {
			t.Fatalf("Reject: %v", err)
		}
		if _, err := f.svc.Approve(ctx, owner, r.ID, ""); !errors.Is(err, domain.ErrInvalidRefundState) {
			t.Fatalf("got %v, want ErrInvalidRefundState", err)
		}
	})

	t.Run("process only from approved", func(t *testing.T) {
		f := newFixture(t)
		r, _ := f.svc.Create(ctx, customer, "ord1", 2100, "cold", domain.MethodOriginal)
		if _, err := f.svc.Process(ctx, owner, r.ID); !errors.Is(err, domain.ErrInvalidRefundState) {
			t.Fatalf("got %v, want ErrInvalidRefundState", err)
		}
	})

	t.Run("customer may not decide", func(t *testing.T) {
		f := newFixture(t)
		r, _ := f.svc.Create(ctx, customer, "ord1", 2100, "cold", domain.MethodOriginal)
		if _, err := f.svc.Approve(ctx, customer, r.ID, ""); !errors.Is(err, domain.ErrUnauthorized) {
			t.Fatalf("got %v, want ErrUnauthorized", err)
		}
	})
}
