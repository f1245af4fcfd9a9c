package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mealdash/orderflow/internal/order/application"
)

// Directory is the thin data-access wrapper over the restaurant and
// menu tables. It carries no invariants of its own; the interesting
// rules live in the services that consume it.
type Directory struct {
	pool *pgxpool.Pool
}

func NewDirectory(pool *pgxpool.Pool) *Directory {
	return &Directory{pool: pool}
}

func (d *Directory) Get(ctx context.Context, id string) (application.Restaurant, error) {
	var r application.Restaurant
	err := d.pool.QueryRow(ctx, `SELECT id, owner_id, lat, lng, delivery_fee_cents,
			min_order_cents, estimated_delivery_mins
		FROM restaurants WHERE id=$1`, id).
		Scan(&r.ID, &r.OwnerID, &r.Latitude, &r.Longitude, &r.DeliveryFeeCents,
			&r.MinOrderCents, &r.EstimatedDeliveryMins)
	if errors.Is(err, pgx.ErrNoRows) {
		return application.Restaurant{}, fmt.Errorf("restaurant %s: not found", id)
	}
	return r, err
}

// OwnerOf resolves the owning principal without loading the full row.
func (d *Directory) OwnerOf(ctx context.Context, id string) (string, error) {
	var ownerID string
	err := d.pool.QueryRow(ctx, `SELECT owner_id FROM restaurants WHERE id=$1`, id).Scan(&ownerID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("restaurant %s: not found", id)
	}
	return ownerID, err
}

func (d *Directory) UpdateRating(ctx context.Context, id string, average float64) error {
	_, err := d.pool.Exec(ctx, `UPDATE restaurants SET rating=$2, updated_at=now() WHERE id=$1`, id, average)
	return err
}

func (d *Directory) GetItem(ctx context.Context, id string) (application.MenuItem, error) {
	var mi application.MenuItem
	err := d.pool.QueryRow(ctx, `SELECT id, name, price_cents, discounted_price_cents, available, options
		FROM menu_items WHERE id=$1`, id).
		Scan(&mi.ID, &mi.Name, &mi.PriceCents, &mi.DiscountedPriceCents, &mi.Available, &mi.Options)
	if errors.Is(err, pgx.ErrNoRows) {
		return application.MenuItem{}, fmt.Errorf("menu item %s: not found", id)
	}
	return mi, err
}
