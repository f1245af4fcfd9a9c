package application

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"testing"

	"github.com/mealdash/orderflow/internal/identity"
	orderdomain "github.com/mealdash/orderflow/internal/order/domain"
	"github.com/mealdash/orderflow/internal/payment/domain"
	"github.com/mealdash/orderflow/internal/payment/gateway"
	"github.com/mealdash/orderflow/pkg/outbox"
)

const testSecret = "test-secret"

type memOrders struct {
	orders  map[string]*orderdomain.Order
	outbox  []outbox.Record
	updates int
}

func (m *memOrders) Get(_ context.Context, id string) (orderdomain.Order, error) {
	o, ok := m.orders[id]
	if !ok {
		return orderdomain.Order{}, orderdomain.ErrNotFound
	}
	return *o, nil
}

func (m *memOrders) GetByPaymentReference(_ context.Context, ref string) (orderdomain.Order, error) {
	for _, o := range m.orders {
		if o.PaymentReference == ref && ref != "" {
			return *o, nil
		}
	}
	return orderdomain.Order{}, orderdomain.ErrNotFound
}

func (m *memOrders) SetPaymentReference(_ context.Context, orderID, ref string) (bool, error) {
	o, ok := m.orders[orderID]
	if !ok || o.PaymentReference != "" {
		return false, nil
	}
	o.PaymentReference = ref
	return true, nil
}

func (m *memOrders) CompletePayment(_ context.Context, orderID string, rec outbox.Record) (bool, error) {
	o, ok := m.orders[orderID]
	if !ok || o.PaymentStatus == orderdomain.PaymentCompleted {
		return false, nil
	}
	o.PaymentStatus = orderdomain.PaymentCompleted
	if o.Status == orderdomain.StatusPending {
		o.Status = orderdomain.StatusConfirmed
	}
	m.outbox = append(m.outbox, rec)
	m.updates++
	return true, nil
}

func (m *memOrders) FailPayment(_ context.Context, orderID string, rec outbox.Record) (bool, error) {
	o, ok := m.orders[orderID]
	if !ok || o.PaymentStatus != orderdomain.PaymentPending {
		return false, nil
	}
	o.PaymentStatus = orderdomain.PaymentFailed
	m.outbox = append(m.outbox, rec)
	m.updates++
	return true, nil
}

type memMarks struct {
	seen map[string]bool
}

func (m *memMarks) Seen(_ context.Context, key string) (bool, error) { return m.seen[key], nil }
func (m *memMarks) Mark(_ context.Context, key string) error {
	m.seen[key] = true
	return nil
}

type fakeRedirect struct{}

func (fakeRedirect) PayURL(ref string, amountCents int64, _ string) string {
	return "https://gw.example.com/pay?txn_ref=" + ref + "&amount=" + strconv.FormatInt(amountCents, 10)
}

type published struct {
	channels  []string
	eventType string
}

type memHub struct {
	events []published
}

func (m *memHub) Publish(channels []string, eventType string, _ any) {
	m.events = append(m.events, published{channels: channels, eventType: eventType})
}

type fixture struct {
	svc    *Service
	orders *memOrders
	marks  *memMarks
	hub    *memHub
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		orders: &memOrders{orders: map[string]*orderdomain.Order{
			"ord1": {
				ID:            "ord1",
				Number:        "ORD-20250601-ABC123",
				CustomerID:    "cust1",
				RestaurantID:  "r1",
				Status:        orderdomain.StatusPending,
				PaymentStatus: orderdomain.PaymentPending,
				PaymentMethod: orderdomain.PayGateway,
				TotalCents:    2100,
			},
		}},
		marks: &memMarks{seen: map[string]bool{}},
		hub:   &memHub{},
	}
	refs := 0
	f.svc = NewService(Deps{
		Log:      slog.New(slog.DiscardHandler),
		Orders:   f.orders,
		Redirect: fakeRedirect{},
		Marks:    f.marks,
		Hub:      f.hub,
		Secret:   testSecret,
		NewRef: func() string {
			refs++
			return "REF" + strconv.Itoa(refs)
		},
	})
	return f
}

var customer = identity.Principal{ID: "cust1", Role: identity.RoleCustomer}

func signedParams(ref, amount, code string) map[string]string {
	params := map[string]string{
		gateway.ParamMerchantCode: "MEALDASH01",
		gateway.ParamTxnRef:       ref,
		gateway.ParamAmount:       amount,
		gateway.ParamResultCode:   code,
	}
	params[gateway.SignatureParam] = gateway.Sign(params, testSecret)
	return params
}

func TestCreateIntent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("stores reference once and reuses it", func(t *testing.T) {
		f := newFixture(t)
		first, err := f.svc.CreateIntent(ctx, customer, "ord1", 2100)
		if err != nil {
			t.Fatalf("CreateIntent: %v", err)
		}
		if first.PaymentReference == "" || first.PaymentReference == "ord1" {
			t.Fatalf("reference %q must be fresh and distinct from the order id", first.PaymentReference)
		}
		second, err := f.svc.CreateIntent(ctx, customer, "ord1", 2100)
		if err != nil {
			t.Fatalf("second CreateIntent: %v", err)
		}
		if second.PaymentReference != first.PaymentReference {
			t.Fatalf("reference reassigned: %s then %s", first.PaymentReference, second.PaymentReference)
		}
	})

	t.Run("amount must equal stored total", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.CreateIntent(ctx, customer, "ord1", 100)
		if !errors.Is(err, domain.ErrAmountMismatch) {
			t.Fatalf("got %v, want ErrAmountMismatch", err)
		}
	})

	t.Run("already paid", func(t *testing.T) {
		f := newFixture(t)
		f.orders.orders["ord1"].PaymentStatus = orderdomain.PaymentCompleted
		_, err := f.svc.CreateIntent(ctx, customer, "ord1", 2100)
		if !errors.Is(err, domain.ErrAlreadyPaid) {
			t.Fatalf("got %v, want ErrAlreadyPaid", err)
		}
	})

	t.Run("only the customer or an admin", func(t *testing.T) {
		f := newFixture(t)
		stranger := identity.Principal{ID: "cust2", Role: identity.RoleCustomer}
		if _, err := f.svc.CreateIntent(ctx, stranger, "ord1", 2100); !errors.Is(err, domain.ErrUnauthorized) {
			t.Fatalf("got %v, want ErrUnauthorized", err)
		}
		admin := identity.Principal{ID: "adm1", Role: identity.RoleAdmin}
		if _, err := f.svc.CreateIntent(ctx, admin, "ord1", 2100); err != nil {
			t.Fatalf("admin CreateIntent: %v", err)
		}
	})
}

func TestVerifyNotificationSuccess(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	intent, err := f.svc.CreateIntent(ctx, customer, "ord1", 2100)
	if err != nil {
		t.Fatalf("CreateIntent: %v", err)
	}

	res, err := f.svc.VerifyNotification(ctx, signedParams(intent.PaymentReference, "2100", "00"))
	if err != nil {
		t.Fatalf("VerifyNotification: %v", err)
	}
	if res.Outcome != domain.OutcomeCompleted {
		t.Fatalf("outcome = %s, want completed", res.Outcome)
	}

	o := f.orders.orders["ord1"]
	if o.PaymentStatus != orderdomain.PaymentCompleted {
		t.Fatalf("payment status = %s", o.PaymentStatus)
	}
	if o.Status != orderdomain.StatusConfirmed {
		t.Fatalf("order status = %s, want confirmed", o.Status)
	}
	if len(f.orders.outbox) != 1 || f.orders.outbox[0].Type != domain.EventPaymentCompleted {
		t.Fatalf("outbox = %+v", f.orders.outbox)
	}
	if len(f.hub.events) != 1 || f.hub.events[0].eventType != domain.EventPaymentCompleted {
		t.Fatalf("hub events = %+v", f.hub.events)
	}
	if got := f.hub.events[0].channels; len(got) != 2 || got[0] != "customer:cust1" || got[1] != "restaurant:r1" {
		t.Fatalf("published channels = %v", got)
	}
}

func TestVerifyNotificationDuplicateDelivery(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	intent, _ := f.svc.CreateIntent(ctx, customer, "ord1", 2100)
	params := signedParams(intent.PaymentReference, "2100", "00")

	first, err := f.svc.VerifyNotification(ctx, params)
	if err != nil || first.Outcome != domain.OutcomeCompleted {
		t.Fatalf("first delivery: %v %s", err, first.Outcome)
	}
	second, err := f.svc.VerifyNotification(ctx, params)
	if err != nil {
		t.Fatalf("second delivery: %v", err)
	}
	if second.Outcome != domain.OutcomeAlreadyProcessed {
		t.Fatalf("second outcome = %s, want already_processed", second.Outcome)
	}
	if f.orders.updates != 1 {
		t.Fatalf("store updates = %d, want exactly 1", f.orders.updates)
	}
	if len(f.hub.events) != 1 {
		t.Fatalf("hub events = %d, want 1", len(f.hub.events))
	}

	// Same result when the duplicate arrives through the browser return.
	ret, err := f.svc.HandleReturn(ctx, params)
	if err != nil || ret.Outcome != domain.OutcomeAlreadyProcessed {
		t.Fatalf("return after webhook: %v %s", err, ret.Outcome)
	}
}

func TestVerifyNotificationDoesNotRegressOrderStatus(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	intent, _ := f.svc.CreateIntent(ctx, customer, "ord1", 2100)
	// The restaurant confirmed and started cooking before the webhook
	// landed.
	f.orders.orders["ord1"].Status = orderdomain.StatusPreparing

	res, err := f.svc.VerifyNotification(ctx, signedParams(intent.PaymentReference, "2100", "00"))
	if err != nil || res.Outcome != domain.OutcomeCompleted {
		t.Fatalf("VerifyNotification: %v %s", err, res.Outcome)
	}
	if got := f.orders.orders["ord1"].Status; got != orderdomain.StatusPreparing {
		t.Fatalf("order status regressed to %s", got)
	}
}

func TestVerifyNotificationRejections(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("invalid signature", func(t *testing.T) {
		f := newFixture(t)
		intent, _ := f.svc.CreateIntent(ctx, customer, "ord1", 2100)
		params := signedParams(intent.PaymentReference, "2100", "00")
		params[gateway.ParamAmount] = "1"
		_, err := f.svc.VerifyNotification(ctx, params)
		if !errors.Is(err, domain.ErrInvalidSignature) {
			t.Fatalf("got %v, want ErrInvalidSignature", err)
		}
	})

	t.Run("unknown reference", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.VerifyNotification(ctx, signedParams("NOSUCH", "2100", "00"))
		if !errors.Is(err, domain.ErrOrderNotFound) {
			t.Fatalf("got %v, want ErrOrderNotFound", err)
		}
	})

	t.Run("amount mismatch", func(t *testing.T) {
		f := newFixture(t)
		intent, _ := f.svc.CreateIntent(ctx, customer, "ord1", 2100)
		_, err := f.svc.VerifyNotification(ctx, signedParams(intent.PaymentReference, "2000", "00"))
		if !errors.Is(err, domain.ErrAmountMismatch) {
			t.Fatalf("got %v, want ErrAmountMismatch", err)
		}
		if f.orders.updates != 0 {
			t.Fatalf("store updates = %d, want 0", f.orders.updates)
		}
	})
}

func TestVerifyNotificationFailureAndUnknownCodes(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("failure code marks payment failed", func(t *testing.T) {
		f := newFixture(t)
		intent, _ := f.svc.CreateIntent(ctx, customer, "ord1", 2100)
		res, err := f.svc.VerifyNotification(ctx, signedParams(intent.PaymentReference, "2100", "24"))
		if err != nil || res.Outcome != domain.OutcomeFailed {
			t.Fatalf("VerifyNotification: %v %s", err, res.Outcome)
		}
		o := f.orders.orders["ord1"]
		if o.PaymentStatus != orderdomain.PaymentFailed {
			t.Fatalf("payment status = %s", o.PaymentStatus)
		}
		if o.Status != orderdomain.StatusPending {
			t.Fatalf("order status = %s, failure must not advance it", o.Status)
		}
	})

	t.Run("unknown code is a no-op", func(t *testing.T) {
		f := newFixture(t)
		intent, _ := f.svc.CreateIntent(ctx, customer, "ord1", 2100)
		res, err := f.svc.VerifyNotification(ctx, signedParams(intent.PaymentReference, "2100", "05"))
		if err != nil {
			t.Fatalf("VerifyNotification: %v", err)
		}
		if res.Outcome != domain.OutcomePending {
			t.Fatalf("outcome = %s, want pending", res.Outcome)
		}
		if f.orders.updates != 0 {
			t.Fatalf("store updates = %d, want 0", f.orders.updates)
		}
		// A later final code must still apply.
		final, err := f.svc.VerifyNotification(ctx, signedParams(intent.PaymentReference, "2100", "00"))
		if err != nil || final.Outcome != domain.OutcomeCompleted {
			t.Fatalf("final delivery: %v %s", err, final.Outcome)
		}
	})
}

func TestHandleReturnBeforeWebhook(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	intent, _ := f.svc.CreateIntent(ctx, customer, "ord1", 2100)
	params := signedParams(intent.PaymentReference, "2100", "00")

	res, err := f.svc.HandleReturn(ctx, params)
	if err != nil || res.Outcome != domain.OutcomeCompleted {
		t.Fatalf("HandleReturn: %v %s", err, res.Outcome)
	}
	// The webhook arriving afterwards sees the already-settled payment.
	hook, err := f.svc.VerifyNotification(ctx, params)
	if err != nil || hook.Outcome != domain.OutcomeAlreadyProcessed {
		t.Fatalf("webhook after return: %v %s", err, hook.Outcome)
	}
	if f.orders.updates != 1 {
		t.Fatalf("store updates = %d, want exactly 1", f.orders.updates)
	}
}
