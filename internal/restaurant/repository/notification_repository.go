package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"livraison/internal/domain"
	"livraison/internal/errors"
)

type MySQLNotificationRepository struct {
	db *sql.DB
}

func NewMySQLNotificationRepository(db *sql.DB) *MySQLNotificationRepository {
	return &MySQLNotificationRepository{db: db}
}

func (r *MySQLNotificationRepository) Insert(ctx context.Context, n domain.Notification) error {
	query := `
		INSERT INTO restaurant_notifications (id, type, restaurant_id, order_id, message, created_at, read_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`

	var orderID any
	if n.OrderID != nil {
		orderID = n.OrderID.String()
	}
	var readAt any
	if n.ReadAt != nil {
		readAt = *n.ReadAt
	}

	if _, err := r.db.ExecContext(ctx, query, n.ID, string(n.Type), n.RestaurantID, orderID, n.Message, n.CreatedAt, readAt); err != nil {
		return fmt.Errorf("inserting notification: %w", err)
	}
	return nil
}

func (r *MySQLNotificationRepository) ListUnread(ctx context.Context, restaurantID string, limit int) ([]domain.Notification, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	query := `
		SELECT id, type, restaurant_id, order_id, message, created_at, read_at
		FROM restaurant_notifications
		WHERE restaurant_id = ? AND read_at IS NULL
		ORDER BY created_at DESC
		LIMIT ?`

	rows, err := r.db.QueryContext(ctx, query, restaurantID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying notifications: %w", err)
	}
	defer rows.Close()

	notifications := []domain.Notification{}
	for rows.Next() {
		var (
			n       domain.Notification
			typ     string
			orderID sql.NullString
			readAt  sql.NullTime
		)
		if err := rows.Scan(&n.ID, &typ, &n.RestaurantID, &orderID, &n.Message, &n.CreatedAt, &readAt); err != nil {
			return nil, fmt.Errorf("scanning notification row: %w", err)
		}
		n.Type = domain.NotificationType(typ)
		if orderID.Valid {
			id, err := uuid.Parse(orderID.String)
			if err != nil {
				return nil, fmt.Errorf("parsing notification order id: %w", err)
			}
			n.OrderID = &id
		}
		if readAt.Valid {
			at := readAt.Time
			n.ReadAt = &at
		}
		notifications = append(notifications, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating notification rows: %w", err)
	}
	return notifications, nil
}

// ExistsSince reports whether a notification of typ, read or not, was
// created at or after since.
func (r *MySQLNotificationRepository) ExistsSince(ctx context.Context, restaurantID string, typ domain.NotificationType, since time.Time) (bool, error) {
	query := `
		SELECT COUNT(*) FROM restaurant_notifications
		WHERE restaurant_id = ? AND type = ? AND created_at >= ?`

	var count int
	if err := r.db.QueryRowContext(ctx, query, restaurantID, string(typ), since).Scan(&count); err != nil {
		return false, fmt.Errorf("counting notifications: %w", err)
	}
	return count > 0, nil
}

func (r *MySQLNotificationRepository) MarkRead(ctx context.Context, restaurantID string, id uuid.UUID, at time.Time) error {
	query := `
		UPDATE restaurant_notifications SET read_at = COALESCE(read_at, ?)
		WHERE id = ? AND restaurant_id = ?`

	result, err := r.db.ExecContext(ctx, query, at, id, restaurantID)
	if err != nil {
		return fmt.Errorf("marking notification read: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected > 0 {
		return nil
	}

	// Zero rows also means "already read"; tell it apart from a missing row.
	var count int
	err = r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM restaurant_notifications WHERE id = ? AND restaurant_id = ?`, id, restaurantID).Scan(&count)
	if err != nil {
		return fmt.Errorf("checking notification: %w", err)
	}
	if count == 0 {
		return errors.NewNotFoundError(fmt.Sprintf("notification %s not found", id))
	}
	return nil
}
