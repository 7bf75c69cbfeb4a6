package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"livraison/internal/domain"
	apperrors "livraison/internal/errors"
)

// MemoryOrderStore is an in-process order store with the same version guard
// as the MySQL one. Safe for concurrent use.
type MemoryOrderStore struct {
	mu     sync.Mutex
	orders map[uuid.UUID]domain.Order
	events []domain.OrderChange
	// SaveHook runs before the version check, while no lock is held. Tests use
	// it to interleave writers.
	SaveHook func(order domain.Order)
}

func NewMemoryOrderStore(orders ...domain.Order) *MemoryOrderStore {
	s := &MemoryOrderStore{orders: make(map[uuid.UUID]domain.Order)}
	for _, o := range orders {
		s.orders[o.ID] = o
	}
	return s
}

func (s *MemoryOrderStore) Load(_ context.Context, id uuid.UUID) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("order %s not found", id))
	}
	return &o, nil
}

func (s *MemoryOrderStore) Create(_ context.Context, order domain.Order, change domain.OrderChange) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.orders[order.ID]; exists {
		return fmt.Errorf("order %s already exists", order.ID)
	}
	s.orders[order.ID] = order
	s.events = append(s.events, change)
	return nil
}

func (s *MemoryOrderStore) Save(_ context.Context, order domain.Order, expectedVersion int64, change domain.OrderChange) error {
	if s.SaveHook != nil {
		s.SaveHook(order)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.orders[order.ID]
	if !ok {
		return apperrors.NewNotFoundError(fmt.Sprintf("order %s not found", order.ID))
	}
	if current.Version != expectedVersion {
		return apperrors.ErrVersionConflict
	}
	s.orders[order.ID] = order
	s.events = append(s.events, change)
	return nil
}

func (s *MemoryOrderStore) Get(id uuid.UUID) domain.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.orders[id]
}

func (s *MemoryOrderStore) Events() []domain.OrderChange {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.OrderChange, len(s.events))
	copy(out, s.events)
	return out
}
