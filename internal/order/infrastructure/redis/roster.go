// Package redis keeps courier availability in a redis hash per
// courier, keyed courier:{id}.
package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

type Roster struct {
	rdb *redis.Client
}

func NewRoster(rdb *redis.Client) *Roster {
	return &Roster{rdb: rdb}
}

func (r *Roster) key(courierID string) string { return "courier:" + courierID }

// Available reports whether the courier is known and not busy. An
// unknown courier is unavailable; couriers register by going online.
func (r *Roster) Available(ctx context.Context, courierID string) (bool, error) {
	fields, err := r.rdb.HGetAll(ctx, r.key(courierID)).Result()
	if err != nil {
		return false, err
	}
	if len(fields) == 0 {
		return false, nil
	}
	return fields["is_busy"] != "true", nil
}

func (r *Roster) SetAvailable(ctx context.Context, courierID string, available bool) error {
	busy := "true"
	if available {
		busy = "false"
	}
	return r.rdb.HSet(ctx, r.key(courierID), map[string]any{
		"is_busy":     busy,
		"last_update": time.Now().Unix(),
	}).Err()
}

// GoOnline registers the courier as present and free.
func (r *Roster) GoOnline(ctx context.Context, courierID string) error {
	return r.SetAvailable(ctx, courierID, true)
}

// GoOffline removes the courier from the roster entirely.
func (r *Roster) GoOffline(ctx context.Context, courierID string) error {
	return r.rdb.Del(ctx, r.key(courierID)).Err()
}
