package domain

import "errors"

// Outcome is the reconciliation result of one gateway notification.
type Outcome string

const (
	// OutcomeCompleted means the payment succeeded and order state was
	// advanced in this call.
	OutcomeCompleted Outcome = "completed"
	// OutcomeFailed means the gateway reported a terminal failure.
	OutcomeFailed Outcome = "failed"
	// OutcomeAlreadyProcessed means a duplicate delivery; nothing was
	// written. Not a failure.
	OutcomeAlreadyProcessed Outcome = "already_processed"
	// OutcomePending means the result code is not in the known table;
	// state must not advance on it.
	OutcomePending Outcome = "pending"
)

// ResultCodeSuccess is the gateway's code for a completed payment.
const ResultCodeSuccess = "00"

// failedCodes is the fixed set of gateway result codes that map to a
// failed payment. Anything outside this set and ResultCodeSuccess is
// treated as pending/unknown.
var failedCodes = map[string]struct{}{
	"07": {}, // suspected fraud, amount held
	"09": {}, // card not registered for online payment
	"10": {}, // authentication failed too many times
	"11": {}, // payment window expired
	"12": {}, // card or account locked
	"13": {}, // wrong one-time password
	"24": {}, // customer cancelled at the gateway
	"51": {}, // insufficient funds
	"65": {}, // daily transaction limit exceeded
	"75": {}, // issuing bank under maintenance
	"79": {}, // wrong payment password too many times
	"99": {}, // unclassified gateway error
}

// ResultOutcome maps a gateway result code to the outcome it implies.
func ResultOutcome(code string) Outcome {
	if code == ResultCodeSuccess {
		return OutcomeCompleted
	}
	if _, ok := failedCodes[code]; ok {
		return OutcomeFailed
	}
	return OutcomePending
}

var (
	// ErrInvalidSignature indicates the recomputed signature did not
	// match the one the caller supplied.
	ErrInvalidSignature = errors.New("payment: invalid signature")
	// ErrAmountMismatch indicates the notified or requested amount does
	// not equal the order's stored total.
	ErrAmountMismatch = errors.New("payment: amount does not match order total")
	// ErrOrderNotFound indicates no order carries the given payment
	// reference.
	ErrOrderNotFound = errors.New("payment: no order for payment reference")
	// ErrAlreadyPaid indicates an intent was requested for an order whose
	// payment is already completed.
	ErrAlreadyPaid = errors.New("payment: order already paid")
	// ErrUnauthorized indicates the principal may not create an intent
	// for this order.
	ErrUnauthorized = errors.New("payment: not allowed")
)

const (
	EventPaymentCompleted = "payment.completed"
	EventPaymentFailed    = "payment.failed"
)

// PaymentSettled is the payload emitted when a notification resolves a
// payment either way.
type PaymentSettled struct {
	OrderID          string `json:"order_id"`
	OrderNumber      string `json:"order_number"`
	PaymentReference string `json:"payment_reference"`
	AmountCents      int64  `json:"amount_cents"`
	ResultCode       string `json:"result_code"`
}
