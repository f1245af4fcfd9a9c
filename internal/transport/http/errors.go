package http

import (
	"errors"
	"net/http"

	orderdomain "github.com/mealdash/orderflow/internal/order/domain"
	paydomain "github.com/mealdash/orderflow/internal/payment/domain"
	refunddomain "github.com/mealdash/orderflow/internal/refund/domain"
	trackdomain "github.com/mealdash/orderflow/internal/tracking/domain"
)

// statusFor maps a typed service failure to an HTTP status. Anything
// unmapped is an internal error; its detail is logged, not returned.
func statusFor(err error) int {
	switch {
	case errors.Is(err, orderdomain.ErrNotFound),
		errors.Is(err, trackdomain.ErrNotFound),
		errors.Is(err, refunddomain.ErrNotFound),
		errors.Is(err, paydomain.ErrOrderNotFound):
		return http.StatusNotFound

	case errors.Is(err, orderdomain.ErrUnauthorized),
		errors.Is(err, trackdomain.ErrUnauthorizedUpdate),
		errors.Is(err, trackdomain.ErrUnauthorizedAccess),
		errors.Is(err, paydomain.ErrUnauthorized),
		errors.Is(err, refunddomain.ErrUnauthorized):
		return http.StatusForbidden

	case errors.Is(err, orderdomain.ErrInvalidTransition),
		errors.Is(err, orderdomain.ErrCannotAssign),
		errors.Is(err, orderdomain.ErrCourierUnavailable),
		errors.Is(err, orderdomain.ErrNotRateable),
		errors.Is(err, trackdomain.ErrCannotUpdate),
		errors.Is(err, paydomain.ErrAlreadyPaid),
		errors.Is(err, refunddomain.ErrDuplicateRefund),
		errors.Is(err, refunddomain.ErrInvalidRefundState),
		errors.Is(err, refunddomain.ErrPaymentNotCompleted):
		return http.StatusConflict

	case errors.Is(err, orderdomain.ErrReasonRequired),
		errors.Is(err, orderdomain.ErrInvalidRating),
		errors.Is(err, orderdomain.ErrItemUnavailable),
		errors.Is(err, paydomain.ErrAmountMismatch),
		errors.Is(err, paydomain.ErrInvalidSignature),
		errors.Is(err, refunddomain.ErrInvalidRefundAmount),
		errors.Is(err, refunddomain.ErrReasonRequired):
		return http.StatusBadRequest

	default:
		return http.StatusInternalServerError
	}
}

// Acknowledgement codes the gateway expects from the webhook. Anything
// but ackOK makes the gateway redeliver.
const (
	ackOK            = "00"
	ackOrderNotFound = "01"
	ackAmountWrong   = "04"
	ackBadSignature  = "97"
	ackError         = "99"
)

func ackFor(err error) string {
	switch {
	case err == nil:
		return ackOK
	case errors.Is(err, paydomain.ErrOrderNotFound):
		return ackOrderNotFound
	case errors.Is(err, paydomain.ErrAmountMismatch):
		return ackAmountWrong
	case errors.Is(err, paydomain.ErrInvalidSignature):
		return ackBadSignature
	default:
		return ackError
	}
}
