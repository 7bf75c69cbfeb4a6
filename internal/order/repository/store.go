package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"livraison/internal/domain"
)

type TransactionManager interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// MySQLOrderStore is the order unit of work: every write updates the order row
// and appends its change event in the same transaction.
type MySQLOrderStore struct {
	db        TransactionManager
	orders    *MySQLOrderRepository
	lineItems *MySQLLineItemRepository
	outbox    *MySQLOutboxRepository
	logger    *zap.Logger
	txTimeout time.Duration
}

func NewMySQLOrderStore(db *sql.DB, logger *zap.Logger, txTimeout time.Duration) *MySQLOrderStore {
	if txTimeout <= 0 {
		txTimeout = 5 * time.Second
	}
	return &MySQLOrderStore{
		db:        db,
		orders:    NewMySQLOrderRepository(db),
		lineItems: NewMySQLLineItemRepository(db),
		outbox:    NewMySQLOutboxRepository(db),
		logger:    logger,
		txTimeout: txTimeout,
	}
}

func (s *MySQLOrderStore) Outbox() *MySQLOutboxRepository {
	return s.outbox
}

func (s *MySQLOrderStore) Load(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	order, err := s.orders.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	items, err := s.lineItems.FindByOrderIDs(ctx, []uuid.UUID{id})
	if err != nil {
		return nil, err
	}
	order.LineItems = items[id]
	return order, nil
}

func (s *MySQLOrderStore) Create(ctx context.Context, order domain.Order, change domain.OrderChange) error {
	return s.inTx(ctx, order.ID, func(txCtx context.Context, tx *sql.Tx) error {
		if err := s.orders.Insert(txCtx, tx, order); err != nil {
			return err
		}
		if err := s.lineItems.InsertAll(txCtx, tx, order.ID, order.LineItems); err != nil {
			return err
		}
		return s.appendEvent(txCtx, tx, change)
	})
}

// Save persists order only if the stored row is still at expectedVersion.
// order.Version must already carry the next version.
func (s *MySQLOrderStore) Save(ctx context.Context, order domain.Order, expectedVersion int64, change domain.OrderChange) error {
	return s.inTx(ctx, order.ID, func(txCtx context.Context, tx *sql.Tx) error {
		if err := s.orders.Update(txCtx, tx, order, expectedVersion); err != nil {
			return err
		}
		return s.appendEvent(txCtx, tx, change)
	})
}

func (s *MySQLOrderStore) inTx(ctx context.Context, orderID uuid.UUID, fn func(context.Context, *sql.Tx) error) error {
	txCtx, cancel := context.WithTimeout(ctx, s.txTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(txCtx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead})
	if err != nil {
		s.logger.Error("failed to begin transaction", zap.Error(err))
		return err
	}
	// MySQL ignores rollback if already committed.
	defer tx.Rollback()

	if err := fn(txCtx, tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		s.logger.Error("failed to commit transaction", zap.String("orderId", orderID.String()), zap.Error(err))
		return err
	}
	return nil
}

func (s *MySQLOrderStore) appendEvent(ctx context.Context, tx *sql.Tx, change domain.OrderChange) error {
	payload, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("encoding order change: %w", err)
	}
	return s.outbox.Insert(ctx, tx, domain.OutboxEvent{
		ID:        change.EventID,
		OrderID:   change.OrderID,
		Type:      change.Type,
		Payload:   payload,
		CreatedAt: change.UpdatedAt,
	})
}

func (s *MySQLOrderStore) List(ctx context.Context, f OrderFilter) ([]domain.Order, error) {
	orders, err := s.orders.List(ctx, f)
	if err != nil {
		return nil, err
	}
	return s.withLineItems(ctx, orders)
}

func (s *MySQLOrderStore) ListUpdatedSince(ctx context.Context, since time.Time, limit int) ([]domain.Order, error) {
	return s.orders.ListUpdatedSince(ctx, since, limit)
}

func (s *MySQLOrderStore) ListPaidDelivered(ctx context.Context, restaurantID string, from, to time.Time) ([]domain.Order, error) {
	orders, err := s.orders.ListPaidDelivered(ctx, restaurantID, from, to)
	if err != nil {
		return nil, err
	}
	return s.withLineItems(ctx, orders)
}

func (s *MySQLOrderStore) ListByRefundStatus(ctx context.Context, status domain.RefundStatus, updatedBefore time.Time, limit int) ([]domain.Order, error) {
	return s.orders.ListByRefundStatus(ctx, status, updatedBefore, limit)
}

func (s *MySQLOrderStore) withLineItems(ctx context.Context, orders []domain.Order) ([]domain.Order, error) {
	ids := make([]uuid.UUID, len(orders))
	for i, o := range orders {
		ids[i] = o.ID
	}
	items, err := s.lineItems.FindByOrderIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range orders {
		orders[i].LineItems = items[orders[i].ID]
	}
	return orders, nil
}
