package domain

import (
	"errors"
	"time"
)

type TrackingStatus string

const (
	StatusAssigned  TrackingStatus = "assigned"
	StatusDelivered TrackingStatus = "delivered"
)

var (
	// ErrNotFound indicates no courier has been assigned yet.
	ErrNotFound = errors.New("tracking: not found")
	// ErrUnauthorizedUpdate indicates a location ping from anyone but the
	// assigned courier.
	ErrUnauthorizedUpdate = errors.New("tracking: only the assigned courier may report location")
	// ErrCannotUpdate indicates a ping while the order is not out in the
	// field.
	ErrCannotUpdate = errors.New("tracking: order not in a trackable status")
	// ErrUnauthorizedAccess indicates a read by a principal with no stake
	// in the order.
	ErrUnauthorizedAccess = errors.New("tracking: access denied")
)

type LocationPoint struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	At        time.Time `json:"at"`
}

// DeliveryTracking is one-to-one with an order once a courier is
// assigned. History is append-only with non-decreasing timestamps and
// Current always equals the last entry.
type DeliveryTracking struct {
	OrderID          string
	CourierID        string
	Status           TrackingStatus
	History          []LocationPoint
	Current          *LocationPoint
	EstimatedArrival *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

const EventLocationUpdated = "tracking.location_updated"

type LocationUpdated struct {
	OrderID          string    `json:"order_id"`
	CourierID        string    `json:"courier_id"`
	Latitude         float64   `json:"latitude"`
	Longitude        float64   `json:"longitude"`
	EstimatedArrival time.Time `json:"estimated_arrival"`
	At               time.Time `json:"at"`
}
