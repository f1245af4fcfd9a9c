package realtime

import (
	"log/slog"
	"testing"
	"time"
)

func discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestPublishReachesSubscribedChannelsOnly(t *testing.T) {
	t.Parallel()

	hub := NewHub(discard())
	customer := hub.Subscribe(CustomerChannel("u1"))
	defer customer.Close()
	restaurant := hub.Subscribe(RestaurantChannel("r1"))
	defer restaurant.Close()
	other := hub.Subscribe(CustomerChannel("u2"))
	defer other.Close()

	hub.Publish([]string{CustomerChannel("u1"), RestaurantChannel("r1")}, "order.status_changed", map[string]string{"order_id": "o1"})

	for name, sub := range map[string]*Subscriber{"customer": customer, "restaurant": restaurant} {
		select {
		case ev := <-sub.Events():
			if ev.Type != "order.status_changed" {
				t.Errorf("%s: got event type %q", name, ev.Type)
			}
		case <-time.After(time.Second):
			t.Fatalf("%s: no event received", name)
		}
	}

	select {
	case ev := <-other.Events():
		t.Fatalf("unsubscribed channel received %v", ev)
	default:
	}
}

func TestPublishDoesNotBlockOnFullSubscriber(t *testing.T) {
	t.Parallel()

	hub := NewHub(discard())
	sub := hub.Subscribe(CourierChannel("c1"))
	defer sub.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < subscriberBuffer*3; i++ {
			hub.Publish([]string{CourierChannel("c1")}, "tracking.location_updated", i)
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
}

func TestCloseRemovesSubscriber(t *testing.T) {
	t.Parallel()

	hub := NewHub(discard())
	sub := hub.Subscribe(CustomerChannel("u1"))
	if got := hub.SubscriberCount(CustomerChannel("u1")); got != 1 {
		t.Fatalf("subscriber count = %d, want 1", got)
	}

	sub.Close()
	sub.Close() // idempotent

	if got := hub.SubscriberCount(CustomerChannel("u1")); got != 0 {
		t.Fatalf("subscriber count after close = %d, want 0", got)
	}
}
