package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"livraison/internal/domain"
)

type MySQLOutboxRepository struct {
	db *sql.DB
}

func NewMySQLOutboxRepository(db *sql.DB) *MySQLOutboxRepository {
	return &MySQLOutboxRepository{db: db}
}

func (r *MySQLOutboxRepository) Insert(ctx context.Context, tx *sql.Tx, event domain.OutboxEvent) error {
	query := `INSERT INTO order_events (id, order_id, event_type, payload, created_at) VALUES (?, ?, ?, ?, ?)`

	if _, err := tx.ExecContext(ctx, query, event.ID, event.OrderID, string(event.Type), event.Payload, event.CreatedAt); err != nil {
		return fmt.Errorf("inserting order event: %w", err)
	}
	return nil
}

// FetchUnpublished returns pending events oldest first. Events that failed
// more than maxAttempts times are left for manual inspection.
func (r *MySQLOutboxRepository) FetchUnpublished(ctx context.Context, limit, maxAttempts int) ([]domain.OutboxEvent, error) {
	query := `SELECT id, order_id, event_type, payload, created_at, attempt_count, last_error
		FROM order_events
		WHERE published_at IS NULL AND attempt_count < ?
		ORDER BY created_at ASC
		LIMIT ?`

	rows, err := r.db.QueryContext(ctx, query, maxAttempts, limitOrDefault(limit))
	if err != nil {
		return nil, fmt.Errorf("querying order events: %w", err)
	}
	defer rows.Close()

	events := []domain.OutboxEvent{}
	for rows.Next() {
		var (
			event     domain.OutboxEvent
			eventType string
			lastError sql.NullString
		)
		if err := rows.Scan(&event.ID, &event.OrderID, &eventType, &event.Payload, &event.CreatedAt, &event.AttemptCount, &lastError); err != nil {
			return nil, fmt.Errorf("scanning order event: %w", err)
		}
		event.Type = domain.OrderEventType(eventType)
		if lastError.Valid {
			msg := lastError.String
			event.LastError = &msg
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating order events: %w", err)
	}
	return events, nil
}

func (r *MySQLOutboxRepository) MarkPublished(ctx context.Context, id uuid.UUID, at time.Time) error {
	query := `UPDATE order_events SET published_at = ?, attempt_count = attempt_count + 1, last_error = NULL WHERE id = ?`

	if _, err := r.db.ExecContext(ctx, query, at, id); err != nil {
		return fmt.Errorf("marking order event published: %w", err)
	}
	return nil
}

func (r *MySQLOutboxRepository) MarkFailed(ctx context.Context, id uuid.UUID, cause error) error {
	query := `UPDATE order_events SET attempt_count = attempt_count + 1, last_error = ? WHERE id = ?`

	if _, err := r.db.ExecContext(ctx, query, cause.Error(), id); err != nil {
		return fmt.Errorf("marking order event failed: %w", err)
	}
	return nil
}
