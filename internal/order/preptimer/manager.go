package preptimer

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"livraison/internal/domain"
)

// Handler runs when an order's preparation deadline passes.
type Handler func(ctx context.Context, orderID uuid.UUID)

type entry struct {
	timer *time.Timer
	gen   uint64
}

// Manager keeps one in-process timer per order being prepared. Timers are lost
// on restart; Rearm restores them from the store.
type Manager struct {
	mu      sync.Mutex
	timers  map[uuid.UUID]entry
	gen     uint64
	handler Handler
	logger  *zap.Logger
	now     func() time.Time
	closed  bool
}

func NewManager(logger *zap.Logger) *Manager {
	return &Manager{
		timers: make(map[uuid.UUID]entry),
		logger: logger.With(zap.String("component", "preptimer")),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// SetHandler wires the overdue callback after construction, since the use
// case that handles it also owns the manager.
func (m *Manager) SetHandler(h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = h
}

// Start arms (or re-arms) the timer for orderID. A deadline in the past fires
// right away.
func (m *Manager) Start(orderID uuid.UUID, deadline time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}

	if existing, ok := m.timers[orderID]; ok {
		existing.timer.Stop()
	}
	m.gen++
	gen := m.gen

	wait := deadline.Sub(m.now())
	if wait < 0 {
		wait = 0
	}
	m.timers[orderID] = entry{
		gen:   gen,
		timer: time.AfterFunc(wait, func() { m.fire(orderID, gen) }),
	}
	m.logger.Debug("preparation timer armed", zap.String("orderId", orderID.String()), zap.Duration("in", wait))
}

func (m *Manager) Stop(orderID uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.timers[orderID]; ok {
		existing.timer.Stop()
		delete(m.timers, orderID)
	}
}

func (m *Manager) fire(orderID uuid.UUID, gen uint64) {
	m.mu.Lock()
	current, ok := m.timers[orderID]
	if !ok || current.gen != gen {
		// Re-armed or stopped after this timer was already scheduled.
		m.mu.Unlock()
		return
	}
	delete(m.timers, orderID)
	handler := m.handler
	m.mu.Unlock()

	if handler == nil {
		m.logger.Warn("preparation deadline passed with no handler", zap.String("orderId", orderID.String()))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	handler(ctx, orderID)
}

// Rearm restores timers for orders still in the kitchen.
func (m *Manager) Rearm(orders []domain.Order) int {
	armed := 0
	for _, o := range orders {
		if o.ReadyForDelivery {
			continue
		}
		if o.Status != domain.OrderStatusAccepted && o.Status != domain.OrderStatusPreparing {
			continue
		}
		if deadline := o.PreparationDeadline(); deadline != nil {
			m.Start(o.ID, *deadline)
			armed++
		}
	}
	return armed
}

func (m *Manager) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.timers)
}

// Close stops every timer; later Start calls are ignored.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	for id, e := range m.timers {
		e.timer.Stop()
		delete(m.timers, id)
	}
}
