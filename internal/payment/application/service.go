package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/oklog/ulid/v2"

	"github.com/mealdash/orderflow/internal/identity"
	orderdomain "github.com/mealdash/orderflow/internal/order/domain"
	"github.com/mealdash/orderflow/internal/payment/domain"
	"github.com/mealdash/orderflow/internal/payment/gateway"
	"github.com/mealdash/orderflow/internal/realtime"
	"github.com/mealdash/orderflow/pkg/idempotency"
	"github.com/mealdash/orderflow/pkg/outbox"
	"github.com/mealdash/orderflow/pkg/tracing"
)

type Deps struct {
	Log      *slog.Logger
	Orders   PaymentOrders
	Redirect RedirectBuilder
	Marks    Marks
	Hub      Publisher
	Secret   string
	NewRef   func() string
}

type Service struct {
	log      *slog.Logger
	orders   PaymentOrders
	redirect RedirectBuilder
	marks    Marks
	hub      Publisher
	secret   string
	newRef   func() string
}

func NewService(d Deps) *Service {
	if d.NewRef == nil {
		d.NewRef = func() string { return ulid.Make().String() }
	}
	return &Service{
		log:      d.Log,
		orders:   d.Orders,
		redirect: d.Redirect,
		marks:    d.Marks,
		hub:      d.Hub,
		secret:   d.Secret,
		newRef:   d.NewRef,
	}
}

// Intent is the signed redirect payload handed back to the client.
type Intent struct {
	PaymentReference string `json:"payment_reference"`
	PayURL           string `json:"pay_url"`
	AmountCents      int64  `json:"amount_cents"`
}

// CreateIntent stores a fresh gateway reference on the order (at most
// once) and returns the signed redirect. The amount is checked against
// the stored total so a tampered client cannot underpay.
func (s *Service) CreateIntent(ctx context.Context, p identity.Principal, orderID string, amountCents int64) (Intent, error) {
	order, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return Intent{}, err
	}
	if !p.IsAdmin() && !p.Owns(identity.RoleCustomer, order.CustomerID) {
		return Intent{}, domain.ErrUnauthorized
	}
	if order.PaymentStatus == orderdomain.PaymentCompleted {
		return Intent{}, domain.ErrAlreadyPaid
	}
	if amountCents != order.TotalCents {
		return Intent{}, fmt.Errorf("%w: got %d, order total %d", domain.ErrAmountMismatch, amountCents, order.TotalCents)
	}

	ref := order.PaymentReference
	if ref == "" {
		ref = s.newRef()
		ok, err := s.orders.SetPaymentReference(ctx, orderID, ref)
		if err != nil {
			return Intent{}, err
		}
		if !ok {
			// A concurrent intent won; reuse its reference.
			order, err = s.orders.Get(ctx, orderID)
			if err != nil {
				return Intent{}, err
			}
			ref = order.PaymentReference
		}
	}

	return Intent{
		PaymentReference: ref,
		PayURL:           s.redirect.PayURL(ref, order.TotalCents, "Order "+order.Number),
		AmountCents:      order.TotalCents,
	}, nil
}

// NotificationResult is what a webhook or return handler converts into
// the caller's expected format.
type NotificationResult struct {
	Outcome          domain.Outcome
	OrderID          string
	OrderNumber      string
	PaymentReference string
	AmountCents      int64
	ResultCode       string
}

// VerifyNotification reconciles one asynchronous gateway notification.
// The gateway redelivers until it gets a success acknowledgement, so
// every step here must be safe to repeat: signature and amount are
// re-verified, and the state write is conditional on the payment still
// being pending.
func (s *Service) VerifyNotification(ctx context.Context, params map[string]string) (NotificationResult, error) {
	return s.reconcile(ctx, params)
}

// HandleReturn is the browser-redirect counterpart. It may run before
// or after the webhook; both converge on the same conditional write, so
// whichever arrives second observes the already-processed outcome.
func (s *Service) HandleReturn(ctx context.Context, params map[string]string) (NotificationResult, error) {
	return s.reconcile(ctx, params)
}

func (s *Service) reconcile(ctx context.Context, params map[string]string) (NotificationResult, error) {
	if !gateway.Verify(params, s.secret) {
		return NotificationResult{}, domain.ErrInvalidSignature
	}
	ref := params[gateway.ParamTxnRef]
	code := params[gateway.ParamResultCode]

	markKey := idempotency.NotificationKey(ref, code)
	if seen, err := s.marks.Seen(ctx, markKey); err != nil {
		s.log.Warn("idempotency check unavailable, falling through to store", "ref", ref, "err", err)
	} else if seen {
		return NotificationResult{Outcome: domain.OutcomeAlreadyProcessed, PaymentReference: ref, ResultCode: code}, nil
	}

	order, err := s.orders.GetByPaymentReference(ctx, ref)
	if err != nil {
		if errors.Is(err, orderdomain.ErrNotFound) {
			return NotificationResult{}, fmt.Errorf("%w: %s", domain.ErrOrderNotFound, ref)
		}
		return NotificationResult{}, err
	}

	amount, err := strconv.ParseInt(params[gateway.ParamAmount], 10, 64)
	if err != nil || amount != order.TotalCents {
		return NotificationResult{}, fmt.Errorf("%w: notified %q, order total %d",
			domain.ErrAmountMismatch, params[gateway.ParamAmount], order.TotalCents)
	}

	res := NotificationResult{
		OrderID:          order.ID,
		OrderNumber:      order.Number,
		PaymentReference: ref,
		AmountCents:      order.TotalCents,
		ResultCode:       code,
	}

	if order.PaymentStatus == orderdomain.PaymentCompleted {
		res.Outcome = domain.OutcomeAlreadyProcessed
		s.mark(ctx, markKey)
		return res, nil
	}

	switch domain.ResultOutcome(code) {
	case domain.OutcomeCompleted:
		applied, err := s.orders.CompletePayment(ctx, order.ID, s.record(ctx, order, code, domain.EventPaymentCompleted))
		if err != nil {
			return NotificationResult{}, err
		}
		if !applied {
			res.Outcome = domain.OutcomeAlreadyProcessed
			s.mark(ctx, markKey)
			return res, nil
		}
		res.Outcome = domain.OutcomeCompleted
		s.hub.Publish(s.channels(order), domain.EventPaymentCompleted, s.payload(order, code))
		s.mark(ctx, markKey)
		return res, nil

	case domain.OutcomeFailed:
		applied, err := s.orders.FailPayment(ctx, order.ID, s.record(ctx, order, code, domain.EventPaymentFailed))
		if err != nil {
			return NotificationResult{}, err
		}
		if !applied {
			res.Outcome = domain.OutcomeAlreadyProcessed
			s.mark(ctx, markKey)
			return res, nil
		}
		res.Outcome = domain.OutcomeFailed
		s.hub.Publish(s.channels(order), domain.EventPaymentFailed, s.payload(order, code))
		s.mark(ctx, markKey)
		return res, nil

	default:
		// Unknown code: acknowledge without advancing state. The gateway
		// will send a final code later.
		res.Outcome = domain.OutcomePending
		return res, nil
	}
}

func (s *Service) payload(order orderdomain.Order, code string) domain.PaymentSettled {
	return domain.PaymentSettled{
		OrderID:          order.ID,
		OrderNumber:      order.Number,
		PaymentReference: order.PaymentReference,
		AmountCents:      order.TotalCents,
		ResultCode:       code,
	}
}

func (s *Service) record(ctx context.Context, order orderdomain.Order, code, eventType string) outbox.Record {
	payload, _ := json.Marshal(s.payload(order, code))
	return outbox.Record{
		AggregateType: "order",
		AggregateID:   order.ID,
		Type:          eventType,
		Payload:       payload,
		Traceparent:   tracing.Traceparent(ctx),
	}
}

func (s *Service) channels(order orderdomain.Order) []string {
	return []string{
		realtime.CustomerChannel(order.CustomerID),
		realtime.RestaurantChannel(order.RestaurantID),
	}
}

func (s *Service) mark(ctx context.Context, key string) {
	if err := s.marks.Mark(ctx, key); err != nil {
		s.log.Warn("idempotency mark failed", "key", key, "err", err)
	}
}
