package postgres

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mealdash/orderflow/internal/order/application"
	"github.com/mealdash/orderflow/internal/order/domain"
	"github.com/mealdash/orderflow/pkg/outbox"
)

type Repository struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

func NewRepository(log *slog.Logger, pool *pgxpool.Pool) *Repository {
	return &Repository{log: log, pool: pool}
}

func (r *Repository) Create(ctx context.Context, o domain.Order, rec outbox.Record) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	_, err = tx.Exec(ctx, `INSERT INTO orders
			(id, number, customer_id, restaurant_id, subtotal_cents, delivery_fee_cents,
			 service_charge_cents, discount_cents, total_cents, status, payment_status,
			 payment_method, status_reason, delivery_lat, delivery_lng, delivery_street,
			 delivery_city, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)`,
		o.ID, o.Number, o.CustomerID, o.RestaurantID, o.SubtotalCents, o.DeliveryFeeCents,
		o.ServiceChargeCents, o.DiscountCents, o.TotalCents, o.Status, o.PaymentStatus,
		o.PaymentMethod, o.StatusReason, o.DeliveryAddress.Latitude, o.DeliveryAddress.Longitude,
		o.DeliveryAddress.Street, o.DeliveryAddress.City, o.CreatedAt, o.UpdatedAt)
	if err != nil {
		return err
	}

	batch := &pgx.Batch{}
	for _, item := range o.Items {
		batch.Queue(`INSERT INTO order_items
				(order_id, menu_item_id, name, quantity, options, unit_price_cents, line_price_cents)
			VALUES ($1,$2,$3,$4,$5,$6,$7)`,
			o.ID, item.MenuItemID, item.Name, item.Quantity, item.Options,
			item.UnitPriceCents, item.LinePriceCents)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return err
	}

	if err := insertOutbox(ctx, tx, rec); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *Repository) Get(ctx context.Context, id string) (domain.Order, error) {
	var o domain.Order
	err := r.pool.QueryRow(ctx, `SELECT id, number, customer_id, restaurant_id,
			COALESCE(courier_id, ''), subtotal_cents, delivery_fee_cents, service_charge_cents,
			discount_cents, total_cents, status, payment_status, payment_method,
			COALESCE(payment_reference, ''), status_reason, delivery_lat, delivery_lng,
			delivery_street, delivery_city, estimated_delivery_mins, actual_delivery_time,
			created_at, updated_at
		FROM orders WHERE id=$1`, id).
		Scan(&o.ID, &o.Number, &o.CustomerID, &o.RestaurantID, &o.CourierID,
			&o.SubtotalCents, &o.DeliveryFeeCents, &o.ServiceChargeCents, &o.DiscountCents,
			&o.TotalCents, &o.Status, &o.PaymentStatus, &o.PaymentMethod, &o.PaymentReference,
			&o.StatusReason, &o.DeliveryAddress.Latitude, &o.DeliveryAddress.Longitude,
			&o.DeliveryAddress.Street, &o.DeliveryAddress.City, &o.EstimatedDeliveryMins,
			&o.ActualDeliveryTime, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Order{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Order{}, err
	}

	rows, err := r.pool.Query(ctx, `SELECT menu_item_id, name, quantity, options,
			unit_price_cents, line_price_cents
		FROM order_items WHERE order_id=$1 ORDER BY id`, id)
	if err != nil {
		return domain.Order{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(&item.MenuItemID, &item.Name, &item.Quantity, &item.Options,
			&item.UnitPriceCents, &item.LinePriceCents); err != nil {
			return domain.Order{}, err
		}
		o.Items = append(o.Items, item)
	}
	return o, rows.Err()
}

// UpdateStatus is the atomic conditional update the state machine
// relies on: the row changes only while its status still equals the
// one the caller validated against.
func (r *Repository) UpdateStatus(ctx context.Context, upd application.StatusUpdate, rec outbox.Record) (bool, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	ct, err := tx.Exec(ctx, `UPDATE orders SET
			status=$1,
			status_reason=CASE WHEN $2 <> '' THEN $2 ELSE status_reason END,
			estimated_delivery_mins=COALESCE($3, estimated_delivery_mins),
			actual_delivery_time=COALESCE($4, actual_delivery_time),
			updated_at=now()
		WHERE id=$5 AND status=$6`,
		upd.Target, upd.Reason, upd.EstimatedDeliveryMins, upd.ActualDeliveryTime,
		upd.OrderID, upd.Expected)
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

func (r *Repository) AssignCourier(ctx context.Context, orderID, courierID string, expected domain.OrderStatus, rec outbox.Record) (bool, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	ct, err := tx.Exec(ctx, `UPDATE orders SET courier_id=$1, updated_at=now()
		WHERE id=$2 AND status=$3`, courierID, orderID, expected)
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

func (r *Repository) AddRating(ctx context.Context, rating application.Rating, rec outbox.Record) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	_, err = tx.Exec(ctx, `INSERT INTO ratings (order_id, restaurant_id, customer_id, rating, comment, created_at)
		VALUES ($1,$2,$3,$4,$5,now())`,
		rating.OrderID, rating.RestaurantID, rating.CustomerID, rating.Rating, rating.Comment)
	if err != nil {
		return err
	}
	if err := insertOutbox(ctx, tx, rec); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *Repository) RestaurantAverageRating(ctx context.Context, restaurantID string) (float64, error) {
	var avg float64
	err := r.pool.QueryRow(ctx,
		`SELECT COALESCE(AVG(rating), 0) FROM ratings WHERE restaurant_id=$1`, restaurantID).
		Scan(&avg)
	return avg, err
}

func insertOutbox(ctx context.Context, tx pgx.Tx, rec outbox.Record) error {
	_, err := tx.Exec(ctx, `INSERT INTO outbox (aggregate_type, aggregate_id, type, payload, traceparent, status)
		VALUES ($1,$2,$3,$4,$5,'pending')`,
		rec.AggregateType, rec.AggregateID, rec.Type, rec.Payload, rec.Traceparent)
	return err
}
