package postgres

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mealdash/orderflow/internal/tracking/domain"
	"github.com/mealdash/orderflow/pkg/outbox"
)

type Repository struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

func NewRepository(log *slog.Logger, pool *pgxpool.Pool) *Repository {
	return &Repository{log: log, pool: pool}
}

func (r *Repository) Reset(ctx context.Context, tr domain.DeliveryTracking) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	_, err = tx.Exec(ctx, `INSERT INTO delivery_tracking (order_id, courier_id, status, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (order_id) DO UPDATE SET
			courier_id=$2, status=$3, current_lat=NULL, current_lng=NULL,
			current_at=NULL, estimated_arrival=NULL, updated_at=$5`,
		tr.OrderID, tr.CourierID, tr.Status, tr.CreatedAt, tr.UpdatedAt)
	if err != nil {
		return err
	}
	// A reassignment starts a fresh history.
	if _, err := tx.Exec(ctx, `DELETE FROM tracking_locations WHERE order_id=$1`, tr.OrderID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *Repository) Get(ctx context.Context, orderID string) (domain.DeliveryTracking, error) {
	var tr domain.DeliveryTracking
	var lat, lng *float64
	var at *time.Time
	err := r.pool.QueryRow(ctx, `SELECT order_id, courier_id, status, current_lat, current_lng,
			current_at, estimated_arrival, created_at, updated_at
		FROM delivery_tracking WHERE order_id=$1`, orderID).
		Scan(&tr.OrderID, &tr.CourierID, &tr.Status, &lat, &lng, &at,
			&tr.EstimatedArrival, &tr.CreatedAt, &tr.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.DeliveryTracking{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.DeliveryTracking{}, err
	}
	if lat != nil && lng != nil && at != nil {
		tr.Current = &domain.LocationPoint{Latitude: *lat, Longitude: *lng, At: *at}
	}

	rows, err := r.pool.Query(ctx, `SELECT lat, lng, recorded_at FROM tracking_locations
		WHERE order_id=$1 ORDER BY recorded_at, id`, orderID)
	if err != nil {
		return domain.DeliveryTracking{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var pt domain.LocationPoint
		if err := rows.Scan(&pt.Latitude, &pt.Longitude, &pt.At); err != nil {
			return domain.DeliveryTracking{}, err
		}
		tr.History = append(tr.History, pt)
	}
	return tr, rows.Err()
}

// AppendLocation writes the history row and the derived current
// position in one transaction, so a reader never sees them disagree.
func (r *Repository) AppendLocation(ctx context.Context, orderID string, pt domain.LocationPoint, eta time.Time, rec outbox.Record) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	_, err = tx.Exec(ctx, `INSERT INTO tracking_locations (order_id, lat, lng, recorded_at)
		VALUES ($1,$2,$3,$4)`, orderID, pt.Latitude, pt.Longitude, pt.At)
	if err != nil {
		return err
	}

	ct, err := tx.Exec(ctx, `UPDATE delivery_tracking SET
			current_lat=$2, current_lng=$3, current_at=$4, estimated_arrival=$5, updated_at=$4
		WHERE order_id=$1 AND (current_at IS NULL OR current_at <= $4)`,
		orderID, pt.Latitude, pt.Longitude, pt.At, eta)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		var exists bool
		err := tx.QueryRow(ctx, `SELECT true FROM delivery_tracking WHERE order_id=$1`, orderID).Scan(&exists)
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrNotFound
		}
		if err != nil {
			return err
		}
		// A ping older than the stored position keeps its history row
		// but never moves the current position backwards.
		return tx.Commit(ctx)
	}

	_, err = tx.Exec(ctx, `INSERT INTO outbox (aggregate_type, aggregate_id, type, payload, traceparent, status)
		VALUES ($1,$2,$3,$4,$5,'pending')`,
		rec.AggregateType, rec.AggregateID, rec.Type, rec.Payload, rec.Traceparent)
	if err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *Repository) MarkDelivered(ctx context.Context, orderID string) error {
	ct, err := r.pool.Exec(ctx, `UPDATE delivery_tracking SET status=$2, updated_at=now()
		WHERE order_id=$1`, orderID, domain.StatusDelivered)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
