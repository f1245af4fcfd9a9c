package domain

import "slices"

// statusTransitions is the only source of truth for the order walk.
// Delivered, Cancelled, and Rejected are terminal.
var statusTransitions = map[OrderStatus][]OrderStatus{
	StatusPending:        {StatusConfirmed, StatusCancelled, StatusRejected},
	StatusConfirmed:      {StatusPreparing, StatusCancelled},
	StatusPreparing:      {StatusReadyForPickup, StatusCancelled},
	StatusReadyForPickup: {StatusOutForDelivery},
	StatusOutForDelivery: {StatusDelivered},
}

// customerCancellable guards the customer-initiated cancel path.
var customerCancellable = []OrderStatus{StatusPending, StatusConfirmed}

func ValidStatus(s OrderStatus) bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusPreparing, StatusReadyForPickup,
		StatusOutForDelivery, StatusDelivered, StatusCancelled, StatusRejected:
		return true
	}
	return false
}

// CanTransition reports whether target is reachable from current in a
// single step.
func CanTransition(current, target OrderStatus) bool {
	return slices.Contains(statusTransitions[current], target)
}

func IsTerminal(s OrderStatus) bool {
	return len(statusTransitions[s]) == 0 && ValidStatus(s)
}

// CustomerCancellable reports whether the customer may still cancel.
func CustomerCancellable(current OrderStatus) bool {
	return slices.Contains(customerCancellable, current)
}
