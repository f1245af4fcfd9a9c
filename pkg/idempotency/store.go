package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store deduplicates external notifications with a redis mark. It is a
// fast path only: callers must stay correct when a mark is lost, the
// durable check lives with the order record.
type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewStore(rdb *redis.Client, ttl time.Duration) *Store {
	return &Store{rdb: rdb, ttl: ttl}
}

// NotificationKey identifies one logical gateway event: the payment
// reference plus the delivered result code.
func NotificationKey(paymentRef, resultCode string) string {
	return fmt.Sprintf("idem:notify:%s:%s", paymentRef, resultCode)
}

// Seen reports whether the key has already been marked.
func (s *Store) Seen(ctx context.Context, key string) (bool, error) {
	_, err := s.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Mark records the key once the event has been durably applied.
func (s *Store) Mark(ctx context.Context, key string) error {
	return s.rdb.SetNX(ctx, key, "1", s.ttl).Err()
}
