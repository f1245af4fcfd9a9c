package postgres

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	orderdomain "github.com/mealdash/orderflow/internal/order/domain"
	"github.com/mealdash/orderflow/internal/refund/application"
	"github.com/mealdash/orderflow/internal/refund/domain"
	"github.com/mealdash/orderflow/pkg/outbox"
)

type Repository struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

func NewRepository(log *slog.Logger, pool *pgxpool.Pool) *Repository {
	return &Repository{log: log, pool: pool}
}

const uniqueViolation = "23505"

// Create relies on the partial unique index over active refunds per
// order; a second active refund surfaces as a unique violation rather
// than a racy pre-check.
func (r *Repository) Create(ctx context.Context, rf domain.Refund, rec outbox.Record) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	_, err = tx.Exec(ctx, `INSERT INTO refunds
			(id, order_id, requested_by, amount_cents, reason, status, method,
			 transaction_ref, original_transaction_ref, notes, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,'',$10,$11)`,
		rf.ID, rf.OrderID, rf.RequestedBy, rf.AmountCents, rf.Reason, rf.Status, rf.Method,
		rf.TransactionRef, rf.OriginalTransactionRef, rf.CreatedAt, rf.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return domain.ErrDuplicateRefund
		}
		return err
	}
	if err := insertOutbox(ctx, tx, rec); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

const refundColumns = `id, order_id, requested_by, amount_cents, reason, status, method,
	transaction_ref, COALESCE(original_transaction_ref, ''),
	COALESCE(approved_by, ''), COALESCE(rejected_by, ''), COALESCE(rejection_reason, ''),
	COALESCE(notes, ''), completed_at, created_at, updated_at`

func scanRefund(row pgx.Row) (domain.Refund, error) {
	var rf domain.Refund
	err := row.Scan(&rf.ID, &rf.OrderID, &rf.RequestedBy, &rf.AmountCents, &rf.Reason,
		&rf.Status, &rf.Method, &rf.TransactionRef, &rf.OriginalTransactionRef,
		&rf.ApprovedBy, &rf.RejectedBy, &rf.RejectionReason, &rf.Notes,
		&rf.CompletedAt, &rf.CreatedAt, &rf.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Refund{}, domain.ErrNotFound
	}
	return rf, err
}

func (r *Repository) Get(ctx context.Context, id string) (domain.Refund, error) {
	return scanRefund(r.pool.QueryRow(ctx, `SELECT `+refundColumns+` FROM refunds WHERE id=$1`, id))
}

func (r *Repository) ListByOrder(ctx context.Context, orderID string) ([]domain.Refund, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+refundColumns+` FROM refunds WHERE order_id=$1 ORDER BY created_at`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Refund
	for rows.Next() {
		rf, err := scanRefund(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rf)
	}
	return out, rows.Err()
}

func (r *Repository) UpdateStatus(ctx context.Context, upd application.StatusUpdate, rec outbox.Record) (bool, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	ct, err := tx.Exec(ctx, `UPDATE refunds SET
			status=$3,
			approved_by=CASE WHEN $4<>'' THEN $4 ELSE approved_by END,
			rejected_by=CASE WHEN $5<>'' THEN $5 ELSE rejected_by END,
			rejection_reason=CASE WHEN $6<>'' THEN $6 ELSE rejection_reason END,
			notes=CASE WHEN $7<>'' THEN TRIM(BOTH E'\n' FROM notes || E'\n' || $7) ELSE notes END,
			updated_at=now()
		WHERE id=$1 AND status=$2`,
		upd.ID, upd.Expected, upd.Target,
		upd.ApprovedBy, upd.RejectedBy, upd.RejectionReason, upd.AppendNotes)
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

// Complete couples the refund's terminal success to the order's
// payment status so neither can land without the other.
func (r *Repository) Complete(ctx context.Context, refundID, orderID string, completedAt time.Time, rec outbox.Record) (bool, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	ct, err := tx.Exec(ctx, `UPDATE refunds SET status=$2, completed_at=$3, updated_at=$3
		WHERE id=$1 AND status=$4`,
		refundID, domain.StatusCompleted, completedAt, domain.StatusProcessing)
	if err != nil {
		return false, err
	}
	if ct.RowsAffected() == 0 {
		return false, nil
	}
	_, err = tx.Exec(ctx, `UPDATE orders SET payment_status=$2, updated_at=$3 WHERE id=$1`,
		orderID, orderdomain.PaymentRefunded, completedAt)
	if err != nil {
		return false, err
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
