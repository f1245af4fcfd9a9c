package application

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/mealdash/orderflow/internal/identity"
	orderdomain "github.com/mealdash/orderflow/internal/order/domain"
	"github.com/mealdash/orderflow/internal/realtime"
	"github.com/mealdash/orderflow/internal/refund/domain"
	"github.com/mealdash/orderflow/pkg/outbox"
	"github.com/mealdash/orderflow/pkg/tracing"
)

type Deps struct {
	Log     *slog.Logger
	Refunds RefundRepository
	Orders  OrderReader
	Owners  RestaurantOwners
	Gateway GatewayRefunder
	Hub     Publisher
	Clock   func() time.Time
	NewID   func() string
}

type Service struct {
	log     *slog.Logger
	refunds RefundRepository
	orders  OrderReader
	owners  RestaurantOwners
	gateway GatewayRefunder
	hub     Publisher
	clock   func() time.Time
	newID   func() string
}

func NewService(d Deps) *Service {
	if d.Clock == nil {
		d.Clock = func() time.Time { return time.Now().UTC() }
	}
	if d.NewID == nil {
		d.NewID = func() string { return ulid.Make().String() }
	}
	return &Service{
		log:     d.Log,
		refunds: d.Refunds,
		orders:  d.Orders,
		owners:  d.Owners,
		gateway: d.Gateway,
		hub:     d.Hub,
		clock:   d.Clock,
		newID:   d.NewID,
	}
}

// Create opens a Pending refund request. The order must have a
// completed payment, the amount must fit in (0, total], and the order
// must not already carry an active refund.
func (s *Service) Create(ctx context.Context, p identity.Principal, orderID string, amountCents int64, reason string, method domain.RefundMethod) (domain.Refund, error) {
	order, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return domain.Refund{}, err
	}
	allowed, err := s.hasStake(ctx, p, order)
	if err != nil {
		return domain.Refund{}, err
	}
	if !allowed {
		return domain.Refund{}, domain.ErrUnauthorized
	}
	if order.PaymentStatus != orderdomain.PaymentCompleted {
		return domain.Refund{}, fmt.Errorf("%w: payment is %s", domain.ErrPaymentNotCompleted, order.PaymentStatus)
	}
	if amountCents <= 0 || amountCents > order.TotalCents {
		return domain.Refund{}, fmt.Errorf("%w: requested %d, order total %d", domain.ErrInvalidRefundAmount, amountCents, order.TotalCents)
	}
	if method == "" {
		method = domain.MethodOriginal
	}

	now := s.clock()
	r := domain.Refund{
		ID:                     s.newID(),
		OrderID:                orderID,
		RequestedBy:            p.ID,
		AmountCents:            amountCents,
		Reason:                 reason,
		Status:                 domain.StatusPending,
		Method:                 method,
		TransactionRef:         "RFN-" + s.newID(),
		OriginalTransactionRef: order.PaymentReference,
		CreatedAt:              now,
		UpdatedAt:              now,
	}
	if err := s.refunds.Create(ctx, r, s.record(ctx, r, domain.EventRefundRequested)); err != nil {
		return domain.Refund{}, err
	}
	s.notify(order, r, domain.EventRefundRequested)
	return r, nil
}

// Approve moves a Pending refund to Approved. Gateway-paid orders chain
// straight into processing; the approval is committed first, so a
// processing failure leaves a durable Approved-then-Failed trail
// instead of losing the decision.
func (s *Service) Approve(ctx context.Context, p identity.Principal, refundID, notes string) (domain.Refund, error) {
	r, order, err := s.loadForDecision(ctx, p, refundID)
	if err != nil {
		return domain.Refund{}, err
	}

	r.Status = domain.StatusApproved
	r.ApprovedBy = p.ID
	r.Notes = notes
	applied, err := s.refunds.UpdateStatus(ctx, StatusUpdate{
		ID:          refundID,
		Expected:    domain.StatusPending,
		Target:      domain.StatusApproved,
		ApprovedBy:  p.ID,
		AppendNotes: notes,
	}, s.record(ctx, r, domain.EventRefundApproved))
	if err != nil {
		return domain.Refund{}, err
	}
	if !applied {
		return domain.Refund{}, s.stateConflict(ctx, refundID, domain.StatusPending)
	}
	s.notify(order, r, domain.EventRefundApproved)

	// Cash-on-delivery refunds stay Approved until someone settles them
	// by hand.
	if order.PaymentMethod == orderdomain.PayGateway {
		return s.Process(ctx, p, refundID)
	}
	return s.refunds.Get(ctx, refundID)
}

// Process runs one gateway refund attempt for an Approved refund.
// Processing is persisted before the external call, so a crash
// mid-flight is visible rather than silently retried; a declined or
// failed call parks the refund in Failed with the error in notes.
func (s *Service) Process(ctx context.Context, p identity.Principal, refundID string) (domain.Refund, error) {
	r, order, err := s.loadForDecision(ctx, p, refundID)
	if err != nil {
		return domain.Refund{}, err
	}

	r.Status = domain.StatusProcessing
	applied, err := s.refunds.UpdateStatus(ctx, StatusUpdate{
		ID:       refundID,
		Expected: domain.StatusApproved,
		Target:   domain.StatusProcessing,
	}, s.record(ctx, r, domain.EventRefundProcessing))
	if err != nil {
		return domain.Refund{}, err
	}
	if !applied {
		return domain.Refund{}, s.stateConflict(ctx, refundID, domain.StatusApproved)
	}

	if gwErr := s.gateway.Refund(ctx, r.TransactionRef, r.OriginalTransactionRef, r.AmountCents, r.Reason); gwErr != nil {
		s.log.Error("gateway refund failed", "refund_id", refundID, "order_id", r.OrderID, "err", gwErr)
		r.Status = domain.StatusFailed
		applied, err := s.refunds.UpdateStatus(ctx, StatusUpdate{
			ID:          refundID,
			Expected:    domain.StatusProcessing,
			Target:      domain.StatusFailed,
			AppendNotes: "gateway: " + gwErr.Error(),
		}, s.record(ctx, r, domain.EventRefundFailed))
		if err != nil {
			return domain.Refund{}, err
		}
		if !applied {
			return domain.Refund{}, s.stateConflict(ctx, refundID, domain.StatusProcessing)
		}
		s.notify(order, r, domain.EventRefundFailed)
		return s.refunds.Get(ctx, refundID)
	}

	now := s.clock()
	r.Status = domain.StatusCompleted
	r.CompletedAt = &now
	applied, err = s.refunds.Complete(ctx, refundID, r.OrderID, now, s.record(ctx, r, domain.EventRefundCompleted))
	if err != nil {
		return domain.Refund{}, err
	}
	if !applied {
		return domain.Refund{}, s.stateConflict(ctx, refundID, domain.StatusProcessing)
	}
	s.notify(order, r, domain.EventRefundCompleted)
	return s.refunds.Get(ctx, refundID)
}

// Reject closes a Pending refund with a mandatory reason.
func (s *Service) Reject(ctx context.Context, p identity.Principal, refundID, reason string) (domain.Refund, error) {
	if reason == "" {
		return domain.Refund{}, domain.ErrReasonRequired
	}
	r, order, err := s.loadForDecision(ctx, p, refundID)
	if err != nil {
		return domain.Refund{}, err
	}

	r.Status = domain.StatusRejected
	r.RejectedBy = p.ID
	r.RejectionReason = reason
	applied, err := s.refunds.UpdateStatus(ctx, StatusUpdate{
		ID:              refundID,
		Expected:        domain.StatusPending,
		Target:          domain.StatusRejected,
		RejectedBy:      p.ID,
		RejectionReason: reason,
	}, s.record(ctx, r, domain.EventRefundRejected))
	if err != nil {
		return domain.Refund{}, err
	}
	if !applied {
		return domain.Refund{}, s.stateConflict(ctx, refundID, domain.StatusPending)
	}
	s.notify(order, r, domain.EventRefundRejected)
	return s.refunds.Get(ctx, refundID)
}

func (s *Service) Get(ctx context.Context, p identity.Principal, refundID string) (domain.Refund, error) {
	r, err := s.refunds.Get(ctx, refundID)
	if err != nil {
		return domain.Refund{}, err
	}
	order, err := s.orders.Get(ctx, r.OrderID)
	if err != nil {
		return domain.Refund{}, err
	}
	allowed, err := s.hasStake(ctx, p, order)
	if err != nil {
		return domain.Refund{}, err
	}
	if !allowed {
		return domain.Refund{}, domain.ErrUnauthorized
	}
	return r, nil
}

func (s *Service) ListByOrder(ctx context.Context, p identity.Principal, orderID string) ([]domain.Refund, error) {
	order, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	allowed, err := s.hasStake(ctx, p, order)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, domain.ErrUnauthorized
	}
	return s.refunds.ListByOrder(ctx, orderID)
}

// loadForDecision fetches the refund and its order and checks that the
// principal may decide on it (restaurant owner or admin).
func (s *Service) loadForDecision(ctx context.Context, p identity.Principal, refundID string) (domain.Refund, orderdomain.Order, error) {
	r, err := s.refunds.Get(ctx, refundID)
	if err != nil {
		return domain.Refund{}, orderdomain.Order{}, err
	}
	order, err := s.orders.Get(ctx, r.OrderID)
	if err != nil {
		return domain.Refund{}, orderdomain.Order{}, err
	}
	if !p.IsAdmin() {
		if p.Role != identity.RoleRestaurant {
			return domain.Refund{}, orderdomain.Order{}, domain.ErrUnauthorized
		}
		ownerID, err := s.owners.OwnerOf(ctx, order.RestaurantID)
		if err != nil {
			return domain.Refund{}, orderdomain.Order{}, err
		}
		if ownerID != p.ID {
			return domain.Refund{}, orderdomain.Order{}, domain.ErrUnauthorized
		}
	}
	return r, order, nil
}

// hasStake is the read/create predicate: the ordering customer, the
// restaurant owner, or an admin.
func (s *Service) hasStake(ctx context.Context, p identity.Principal, order orderdomain.Order) (bool, error) {
	if p.IsAdmin() || p.Owns(identity.RoleCustomer, order.CustomerID) {
		return true, nil
	}
	if p.Role == identity.RoleRestaurant {
		ownerID, err := s.owners.OwnerOf(ctx, order.RestaurantID)
		if err != nil {
			return false, err
		}
		return ownerID == p.ID, nil
	}
	return false, nil
}

func (s *Service) stateConflict(ctx context.Context, refundID string, expected domain.RefundStatus) error {
	current, err := s.refunds.Get(ctx, refundID)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: refund is %s, expected %s", domain.ErrInvalidRefundState, current.Status, expected)
}

func (s *Service) record(ctx context.Context, r domain.Refund, eventType string) outbox.Record {
	payload, _ := json.Marshal(domain.RefundChanged{
		RefundID:    r.ID,
		OrderID:     r.OrderID,
		AmountCents: r.AmountCents,
		Status:      r.Status,
	})
	return outbox.Record{
		AggregateType: "refund",
		AggregateID:   r.ID,
		Type:          eventType,
		Payload:       payload,
		Traceparent:   tracing.Traceparent(ctx),
	}
}

func (s *Service) notify(order orderdomain.Order, r domain.Refund, eventType string) {
	s.hub.Publish(
		[]string{realtime.CustomerChannel(order.CustomerID), realtime.RestaurantChannel(order.RestaurantID)},
		eventType,
		domain.RefundChanged{RefundID: r.ID, OrderID: r.OrderID, AmountCents: r.AmountCents, Status: r.Status})
}
