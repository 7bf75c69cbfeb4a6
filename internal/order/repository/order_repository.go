package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"livraison/internal/domain"
	"livraison/internal/errors"
)

const orderColumns = `
	id, user_id, restaurant_id, courier_id, status, payment_status, payment_reference,
	line_items_subtotal, delivery_fee, platform_fee, preparation_time_minutes,
	ready_for_delivery, security_code, rejection_reason, cancellation_reason,
	refund_status, refund_amount, refunded_at, refund_id, revenue,
	accepted_at, delivered_at, version, created_at, updated_at`

// OrderFilter narrows List. Empty fields are ignored; Available selects
// orders with no courier yet that couriers may claim.
type OrderFilter struct {
	RestaurantID string
	UserID       string
	CourierID    string
	Statuses     []domain.OrderStatus
	Available    bool
	Limit        int
}

type MySQLOrderRepository struct {
	db *sql.DB
}

func NewMySQLOrderRepository(db *sql.DB) *MySQLOrderRepository {
	return &MySQLOrderRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*domain.Order, error) {
	var (
		order           domain.Order
		courierID       sql.NullString
		status, payment string
		refundStatus    string
		refundAmount    decimal.NullDecimal
		refundedAt      sql.NullTime
		revenue         []byte
		acceptedAt      sql.NullTime
		deliveredAt     sql.NullTime
	)

	err := row.Scan(
		&order.ID, &order.UserID, &order.RestaurantID, &courierID, &status, &payment, &order.PaymentReference,
		&order.LineItemsSubtotal, &order.DeliveryFee, &order.PlatformFee, &order.PreparationTimeMinutes,
		&order.ReadyForDelivery, &order.SecurityCode, &order.RejectionReason, &order.CancellationReason,
		&refundStatus, &refundAmount, &refundedAt, &order.RefundID, &revenue,
		&acceptedAt, &deliveredAt, &order.Version, &order.CreatedAt, &order.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if order.Status, err = domain.ParseOrderStatus(status); err != nil {
		return nil, err
	}
	if order.PaymentStatus, err = domain.ParsePaymentStatus(payment); err != nil {
		return nil, err
	}
	if order.RefundStatus, err = domain.ParseRefundStatus(refundStatus); err != nil {
		return nil, err
	}
	if courierID.Valid && courierID.String != "" {
		id := courierID.String
		order.CourierID = &id
	}
	if refundAmount.Valid {
		amount := refundAmount.Decimal
		order.RefundAmount = &amount
	}
	order.RefundedAt = nullTimePtr(refundedAt)
	order.AcceptedAt = nullTimePtr(acceptedAt)
	order.DeliveredAt = nullTimePtr(deliveredAt)
	if len(revenue) > 0 && string(revenue) != "null" {
		var split domain.RevenueSplit
		if err := json.Unmarshal(revenue, &split); err != nil {
			return nil, fmt.Errorf("decoding revenue snapshot: %w", err)
		}
		order.Revenue = &split
	}
	return &order, nil
}

func (r *MySQLOrderRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = ?`

	order, err := scanOrder(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError(fmt.Sprintf("order %s not found", id))
	}
	if err != nil {
		return nil, fmt.Errorf("querying order by id: %w", err)
	}
	return order, nil
}

func (r *MySQLOrderRepository) Insert(ctx context.Context, tx *sql.Tx, o domain.Order) error {
	query := `INSERT INTO orders (` + orderColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	args, err := orderArgs(o)
	if err != nil {
		return err
	}
	args = append([]any{o.ID}, args...)
	args = append(args, o.Version, o.CreatedAt, o.UpdatedAt)

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("inserting order: %w", err)
	}
	return nil
}

// Update writes the whole mutable snapshot only if the stored version still
// equals expectedVersion. A lost race yields errors.ErrVersionConflict.
func (r *MySQLOrderRepository) Update(ctx context.Context, tx *sql.Tx, o domain.Order, expectedVersion int64) error {
	query := `
		UPDATE orders SET
			user_id = ?, restaurant_id = ?, courier_id = ?, status = ?, payment_status = ?, payment_reference = ?,
			line_items_subtotal = ?, delivery_fee = ?, platform_fee = ?, preparation_time_minutes = ?,
			ready_for_delivery = ?, security_code = ?, rejection_reason = ?, cancellation_reason = ?,
			refund_status = ?, refund_amount = ?, refunded_at = ?, refund_id = ?, revenue = ?,
			accepted_at = ?, delivered_at = ?, version = ?, updated_at = ?
		WHERE id = ? AND version = ?`

	args, err := orderArgs(o)
	if err != nil {
		return err
	}
	args = append(args, expectedVersion+1, o.UpdatedAt, o.ID, expectedVersion)

	result, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("updating order: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return errors.ErrVersionConflict
	}
	return nil
}

func orderArgs(o domain.Order) ([]any, error) {
	var courierID any
	if o.HasCourier() {
		courierID = *o.CourierID
	}
	var refundAmount any
	if o.RefundAmount != nil {
		refundAmount = *o.RefundAmount
	}
	var revenue any
	if o.Revenue != nil {
		raw, err := json.Marshal(o.Revenue)
		if err != nil {
			return nil, fmt.Errorf("encoding revenue snapshot: %w", err)
		}
		revenue = raw
	}

	return []any{
		o.UserID, o.RestaurantID, courierID, string(o.Status), string(o.PaymentStatus), o.PaymentReference,
		o.LineItemsSubtotal, o.DeliveryFee, o.PlatformFee, o.PreparationTimeMinutes,
		o.ReadyForDelivery, o.SecurityCode, o.RejectionReason, o.CancellationReason,
		string(o.RefundStatus), refundAmount, timePtrArg(o.RefundedAt), o.RefundID, revenue,
		timePtrArg(o.AcceptedAt), timePtrArg(o.DeliveredAt),
	}, nil
}

func (r *MySQLOrderRepository) List(ctx context.Context, f OrderFilter) ([]domain.Order, error) {
	var (
		where []string
		args  []any
	)
	if f.RestaurantID != "" {
		where = append(where, "restaurant_id = ?")
		args = append(args, f.RestaurantID)
	}
	if f.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, f.UserID)
	}
	if f.CourierID != "" {
		where = append(where, "courier_id = ?")
		args = append(args, f.CourierID)
	}
	if f.Available {
		where = append(where, "courier_id IS NULL")
	}
	if len(f.Statuses) > 0 {
		placeholders := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			placeholders[i] = "?"
			args = append(args, string(s))
		}
		where = append(where, "status IN ("+strings.Join(placeholders, ", ")+")")
	}

	query := `SELECT ` + orderColumns + ` FROM orders`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC LIMIT ?"
	args = append(args, limitOrDefault(f.Limit))

	return r.query(ctx, query, args...)
}

// ListUpdatedSince feeds the fan-out poller. Rows come oldest first so the
// caller can advance its cursor.
func (r *MySQLOrderRepository) ListUpdatedSince(ctx context.Context, since time.Time, limit int) ([]domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE updated_at > ? ORDER BY updated_at ASC LIMIT ?`
	return r.query(ctx, query, since, limitOrDefault(limit))
}

// ListPaidDelivered returns the orders that count toward revenue for a
// restaurant over [from, to).
func (r *MySQLOrderRepository) ListPaidDelivered(ctx context.Context, restaurantID string, from, to time.Time) ([]domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders
		WHERE restaurant_id = ? AND status = ? AND payment_status = ?
		  AND delivered_at >= ? AND delivered_at < ?
		ORDER BY delivered_at ASC`
	return r.query(ctx, query, restaurantID, string(domain.OrderStatusDelivered), string(domain.PaymentStatusPaid), from, to)
}

func (r *MySQLOrderRepository) ListByRefundStatus(ctx context.Context, status domain.RefundStatus, updatedBefore time.Time, limit int) ([]domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders
		WHERE refund_status = ? AND updated_at < ?
		ORDER BY updated_at ASC LIMIT ?`
	return r.query(ctx, query, string(status), updatedBefore, limitOrDefault(limit))
}

func (r *MySQLOrderRepository) query(ctx context.Context, query string, args ...any) ([]domain.Order, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying orders: %w", err)
	}
	defer rows.Close()

	orders := []domain.Order{}
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning order: %w", err)
		}
		orders = append(orders, *order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating orders: %w", err)
	}
	return orders, nil
}

func limitOrDefault(limit int) int {
	if limit <= 0 || limit > 500 {
		return 100
	}
	return limit
}

func nullTimePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func timePtrArg(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
