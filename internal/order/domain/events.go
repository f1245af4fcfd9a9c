package domain

import "time"

const (
	EventOrderCreated    = "order.created"
	EventStatusChanged   = "order.status_changed"
	EventCourierAssigned = "order.courier_assigned"
	EventOrderRated      = "order.rated"
)

type OrderCreated struct {
	OrderID    string `json:"order_id"`
	Number     string `json:"number"`
	CustomerID string `json:"customer_id"`
	TotalCents int64  `json:"total_cents"`
}

type StatusChanged struct {
	OrderID        string      `json:"order_id"`
	Number         string      `json:"number"`
	PreviousStatus OrderStatus `json:"previous_status"`
	Status         OrderStatus `json:"status"`
	Reason         string      `json:"reason,omitempty"`
	ActorID        string      `json:"actor_id"`
	At             time.Time   `json:"at"`
}

type CourierAssigned struct {
	OrderID             string  `json:"order_id"`
	CourierID           string  `json:"courier_id"`
	RestaurantLatitude  float64 `json:"restaurant_latitude"`
	RestaurantLongitude float64 `json:"restaurant_longitude"`
	DeliveryLatitude    float64 `json:"delivery_latitude"`
	DeliveryLongitude   float64 `json:"delivery_longitude"`
}

type OrderRated struct {
	OrderID      string  `json:"order_id"`
	RestaurantID string  `json:"restaurant_id"`
	Rating       int     `json:"rating"`
	Average      float64 `json:"average"`
}
