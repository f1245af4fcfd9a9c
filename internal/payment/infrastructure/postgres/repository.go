package postgres

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	orderdomain "github.com/mealdash/orderflow/internal/order/domain"
	"github.com/mealdash/orderflow/pkg/outbox"
)

// Repository reads and conditionally mutates the payment fields of the
// orders table. Items are never needed on this path, so it scans the
// head row only.
type Repository struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

func NewRepository(log *slog.Logger, pool *pgxpool.Pool) *Repository {
	return &Repository{log: log, pool: pool}
}

const headColumns = `id, number, customer_id, restaurant_id, COALESCE(courier_id, ''),
	status, payment_status, payment_method, COALESCE(payment_reference, ''), total_cents`

func scanHead(row pgx.Row) (orderdomain.Order, error) {
	var o orderdomain.Order
	err := row.Scan(&o.ID, &o.Number, &o.CustomerID, &o.RestaurantID, &o.CourierID,
		&o.Status, &o.PaymentStatus, &o.PaymentMethod, &o.PaymentReference, &o.TotalCents)
	if errors.Is(err, pgx.ErrNoRows) {
		return orderdomain.Order{}, orderdomain.ErrNotFound
	}
	return o, err
}

func (r *Repository) Get(ctx context.Context, id string) (orderdomain.Order, error) {
	return scanHead(r.pool.QueryRow(ctx, `SELECT `+headColumns+` FROM orders WHERE id=$1`, id))
}

func (r *Repository) GetByPaymentReference(ctx context.Context, ref string) (orderdomain.Order, error) {
	return scanHead(r.pool.QueryRow(ctx, `SELECT `+headColumns+` FROM orders WHERE payment_reference=$1`, ref))
}

func (r *Repository) SetPaymentReference(ctx context.Context, orderID, ref string) (bool, error) {
	ct, err := r.pool.Exec(ctx, `UPDATE orders SET payment_reference=$2, updated_at=now()
		WHERE id=$1 AND (payment_reference IS NULL OR payment_reference='')`, orderID, ref)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() == 1, nil
}

// CompletePayment flips payment_status to completed and, when the order
// is still Pending, advances it to Confirmed — one transaction, so a
// crash cannot leave the payment settled but the order unconfirmed.
func (r *Repository) CompletePayment(ctx context.Context, orderID string, rec outbox.Record) (bool, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	ct, err := tx.Exec(ctx, `UPDATE orders SET
			payment_status=$2,
			status=CASE WHEN status=$3 THEN $4 ELSE status END,
			updated_at=now()
		WHERE id=$1 AND payment_status<>$2`,
		orderID, orderdomain.PaymentCompleted, orderdomain.StatusPending, orderdomain.StatusConfirmed)
	if err != nil {
		return false, err
	}
	if ct.RowsAffected() == 0 {
		return false, nil
	}
	if err := insertOutbox(ctx, tx, rec); err != nil {
		return false, err
	}
	return true, tx.Commit(ctx)
}

func (r *Repository) FailPayment(ctx context.Context, orderID string, rec outbox.Record) (bool, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	ct, err := tx.Exec(ctx, `UPDATE orders SET payment_status=$2, updated_at=now()
		WHERE id=$1 AND payment_status=$3`,
		orderID, orderdomain.PaymentFailed, orderdomain.PaymentPending)
	if err != nil {
		return false, err
	}
	if ct.RowsAffected() == 0 {
		return false, nil
	}
	if err := insertOutbox(ctx, tx, rec); err != nil {
		return false, err
	}
	return true, tx.Commit(ctx)
}

func insertOutbox(ctx context.Context, tx pgx.Tx, rec outbox.Record) error {
	_, err := tx.Exec(ctx, `INSERT INTO outbox (aggregate_type, aggregate_id, type, payload, traceparent, status)
		VALUES ($1,$2,$3,$4,$5,'pending')`,
		rec.AggregateType, rec.AggregateID, rec.Type, rec.Payload, rec.Traceparent)
	return err
}
