package domain

import "errors"

var (
	// ErrInvalidTransition signals the requested status is not reachable
	// from the current one. Callers report current and requested status.
	ErrInvalidTransition = errors.New("order: invalid status transition")
	// ErrUnauthorized indicates the actor lacks the role or ownership the
	// operation requires.
	ErrUnauthorized = errors.New("order: actor not permitted")
	// ErrNotFound indicates the order does not exist.
	ErrNotFound = errors.New("order: not found")
	// ErrCannotAssign indicates the order is not ready for a courier.
	ErrCannotAssign = errors.New("order: cannot assign courier in current status")
	// ErrCourierUnavailable indicates the courier is not marked available.
	ErrCourierUnavailable = errors.New("order: courier unavailable")
	// ErrReasonRequired indicates a cancel/reject call without a reason.
	ErrReasonRequired = errors.New("order: reason is required")
	// ErrNotRateable indicates a rating on a non-delivered order.
	ErrNotRateable = errors.New("order: only delivered orders can be rated")
	// ErrInvalidRating indicates a rating outside 1..5.
	ErrInvalidRating = errors.New("order: rating must be between 1 and 5")
	// ErrItemUnavailable indicates a menu item that cannot be ordered.
	ErrItemUnavailable = errors.New("order: menu item unavailable")
)
