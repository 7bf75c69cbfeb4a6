package preptimer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"livraison/internal/domain"
)

type firedSet struct {
	mu  sync.Mutex
	ids []uuid.UUID
}

func (f *firedSet) handle(ctx context.Context, orderID uuid.UUID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ids = append(f.ids, orderID)
}

func (f *firedSet) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.ids)
}

func TestStart_FiresAfterDeadline(t *testing.T) {
	fired := &firedSet{}
	m := NewManager(zap.NewNop())
	m.SetHandler(fired.handle)
	id := uuid.New()

	m.Start(id, time.Now().Add(10*time.Millisecond))

	assert.Eventually(t, func() bool { return fired.count() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, id, fired.ids[0])
	assert.Equal(t, 0, m.Pending())
}

func TestStart_PastDeadlineFiresImmediately(t *testing.T) {
	fired := &firedSet{}
	m := NewManager(zap.NewNop())
	m.SetHandler(fired.handle)

	m.Start(uuid.New(), time.Now().Add(-time.Hour))

	assert.Eventually(t, func() bool { return fired.count() == 1 }, time.Second, 5*time.Millisecond)
}

func TestStop_PreventsFiring(t *testing.T) {
	fired := &firedSet{}
	m := NewManager(zap.NewNop())
	m.SetHandler(fired.handle)
	id := uuid.New()

	m.Start(id, time.Now().Add(20*time.Millisecond))
	m.Stop(id)

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, 0, fired.count())
	assert.Equal(t, 0, m.Pending())
}

func TestStart_RearmReplacesPreviousTimer(t *testing.T) {
	fired := &firedSet{}
	m := NewManager(zap.NewNop())
	m.SetHandler(fired.handle)
	id := uuid.New()

	m.Start(id, time.Now().Add(10*time.Millisecond))
	m.Start(id, time.Now().Add(time.Hour))

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, fired.count())
	assert.Equal(t, 1, m.Pending())
	m.Close()
}

func TestRearm_OnlyKitchenOrders(t *testing.T) {
	m := NewManager(zap.NewNop())
	defer m.Close()
	acceptedAt := time.Now().UTC()

	orders := []domain.Order{
		{ID: uuid.New(), Status: domain.OrderStatusAccepted, PreparationTimeMinutes: 20, AcceptedAt: &acceptedAt},
		{ID: uuid.New(), Status: domain.OrderStatusPreparing, PreparationTimeMinutes: 30, AcceptedAt: &acceptedAt},
		{ID: uuid.New(), Status: domain.OrderStatusPreparing, PreparationTimeMinutes: 30, AcceptedAt: &acceptedAt, ReadyForDelivery: true},
		{ID: uuid.New(), Status: domain.OrderStatusPending},
		{ID: uuid.New(), Status: domain.OrderStatusAccepted},
	}

	assert.Equal(t, 2, m.Rearm(orders))
	assert.Equal(t, 2, m.Pending())
}

func TestClose_IgnoresLaterStarts(t *testing.T) {
	m := NewManager(zap.NewNop())
	m.Start(uuid.New(), time.Now().Add(time.Hour))

	m.Close()
	m.Start(uuid.New(), time.Now().Add(time.Hour))

	assert.Equal(t, 0, m.Pending())
}
