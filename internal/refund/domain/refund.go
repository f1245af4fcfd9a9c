package domain

import (
	"errors"
	"time"
)

type RefundStatus string

const (
	StatusPending    RefundStatus = "pending"
	StatusApproved   RefundStatus = "approved"
	StatusProcessing RefundStatus = "processing"
	StatusCompleted  RefundStatus = "completed"
	StatusRejected   RefundStatus = "rejected"
	StatusFailed     RefundStatus = "failed"
)

// Active reports whether the status counts against the one-active-
// refund-per-order limit. Rejected and Failed refunds free the slot.
func (s RefundStatus) Active() bool {
	switch s {
	case StatusPending, StatusApproved, StatusProcessing, StatusCompleted:
		return true
	}
	return false
}

func (s RefundStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusRejected, StatusFailed:
		return true
	}
	return false
}

type RefundMethod string

const (
	MethodOriginal     RefundMethod = "original"
	MethodWallet       RefundMethod = "wallet"
	MethodBankTransfer RefundMethod = "bank_transfer"
)

// Refund is a request to return money for an order. Amounts are minor
// units, like everywhere else.
type Refund struct {
	ID          string
	OrderID     string
	RequestedBy string
	AmountCents int64
	Reason      string
	Status      RefundStatus
	Method      RefundMethod

	// TransactionRef is the fresh reference sent to the gateway for this
	// refund; OriginalTransactionRef is the payment it reverses.
	TransactionRef         string
	OriginalTransactionRef string

	ApprovedBy      string
	RejectedBy      string
	RejectionReason string
	Notes           string

	CompletedAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

var (
	ErrNotFound = errors.New("refund: not found")
	// ErrDuplicateRefund indicates the order already has an active
	// refund.
	ErrDuplicateRefund = errors.New("refund: order already has an active refund")
	// ErrInvalidRefundAmount indicates an amount outside (0, order total].
	ErrInvalidRefundAmount = errors.New("refund: amount must be positive and at most the order total")
	// ErrPaymentNotCompleted indicates a refund request against an order
	// that was never paid.
	ErrPaymentNotCompleted = errors.New("refund: order payment is not completed")
	// ErrInvalidRefundState indicates an action not allowed from the
	// refund's current status.
	ErrInvalidRefundState = errors.New("refund: action not allowed in current status")
	ErrReasonRequired     = errors.New("refund: a reason is required")
	ErrUnauthorized       = errors.New("refund: not allowed")
)

const (
	EventRefundRequested  = "refund.requested"
	EventRefundApproved   = "refund.approved"
	EventRefundProcessing = "refund.processing"
	EventRefundRejected   = "refund.rejected"
	EventRefundCompleted  = "refund.completed"
	EventRefundFailed     = "refund.failed"
)

// RefundChanged is the payload for every refund lifecycle event.
type RefundChanged struct {
	RefundID    string       `json:"refund_id"`
	OrderID     string       `json:"order_id"`
	AmountCents int64        `json:"amount_cents"`
	Status      RefundStatus `json:"status"`
}
