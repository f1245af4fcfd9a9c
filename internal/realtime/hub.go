// Package realtime is the in-process publish/subscribe fan-out. One
// logical channel exists per (role, id) pair. Delivery is best effort:
// the event stream is a low-latency hint, never authoritative; a
// reconnecting consumer recovers full state through the read APIs.
package realtime

import (
	"log/slog"
	"sync"
	"time"
)

const subscriberBuffer = 16

// Channel names other layers may subscribe to without knowledge of
// core internals.
func CustomerChannel(userID string) string         { return "customer:" + userID }
func RestaurantChannel(restaurantID string) string { return "restaurant:" + restaurantID }
func CourierChannel(courierID string) string       { return "courier:" + courierID }

type Event struct {
	Channel string    `json:"channel"`
	Type    string    `json:"type"`
	At      time.Time `json:"at"`
	Payload any       `json:"payload"`
}

type Subscriber struct {
	hub     *Hub
	channel string
	events  chan Event
	once    sync.Once
}

// Events yields the subscriber's event stream. The channel closes on
// Close.
func (s *Subscriber) Events() <-chan Event { return s.events }

func (s *Subscriber) Close() {
	s.once.Do(func() {
		s.hub.remove(s)
		close(s.events)
	})
}

// Hub is the owned subscriber registry. It is injected into whichever
// component needs to publish; there is no ambient singleton.
type Hub struct {
	log  *slog.Logger
	mu   sync.RWMutex
	subs map[string]map[*Subscriber]struct{}
}

func NewHub(log *slog.Logger) *Hub {
	return &Hub{
		log:  log,
		subs: make(map[string]map[*Subscriber]struct{}),
	}
}

func (h *Hub) Subscribe(channel string) *Subscriber {
	sub := &Subscriber{
		hub:     h,
		channel: channel,
		events:  make(chan Event, subscriberBuffer),
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs[channel] == nil {
		h.subs[channel] = make(map[*Subscriber]struct{})
	}
	h.subs[channel][sub] = struct{}{}
	return sub
}

func (h *Hub) remove(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.subs[sub.channel]
	delete(set, sub)
	if len(set) == 0 {
		delete(h.subs, sub.channel)
	}
}

// Publish delivers the event to every current subscriber of each
// channel. It never blocks: a subscriber whose buffer is full misses
// the event.
func (h *Hub) Publish(channels []string, eventType string, payload any) {
	now := time.Now().UTC()

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range channels {
		ev := Event{Channel: ch, Type: eventType, At: now, Payload: payload}
		for sub := range h.subs[ch] {
			select {
			case sub.events <- ev:
			default:
				h.log.Warn("realtime event dropped", "channel", ch, "type", eventType)
			}
		}
	}
}

// SubscriberCount is exposed for tests and diagnostics.
func (h *Hub) SubscriberCount(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[channel])
}
