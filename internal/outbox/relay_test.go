package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"livraison/internal/domain"
)

type memoryRepository struct {
	mu        sync.Mutex
	events    []domain.OutboxEvent
	published map[uuid.UUID]time.Time
	failures  map[uuid.UUID]int
	fetchErr  error
}

func newMemoryRepository(events ...domain.OutboxEvent) *memoryRepository {
	return &memoryRepository{
		events:    events,
		published: make(map[uuid.UUID]time.Time),
		failures:  make(map[uuid.UUID]int),
	}
}

func (m *memoryRepository) FetchUnpublished(_ context.Context, limit, maxAttempts int) ([]domain.OutboxEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fetchErr != nil {
		return nil, m.fetchErr
	}
	var out []domain.OutboxEvent
	for _, ev := range m.events {
		if _, ok := m.published[ev.ID]; ok {
			continue
		}
		ev.AttemptCount = m.failures[ev.ID]
		if ev.AttemptCount >= maxAttempts {
			continue
		}
		out = append(out, ev)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *memoryRepository) MarkPublished(_ context.Context, id uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published[id] = at
	return nil
}

func (m *memoryRepository) MarkFailed(_ context.Context, id uuid.UUID, _ error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[id]++
	return nil
}

type funcSink struct {
	name        string
	PublishFunc func(ctx context.Context, event domain.OutboxEvent) error
}

func (s *funcSink) Name() string { return s.name }

func (s *funcSink) Publish(ctx context.Context, event domain.OutboxEvent) error {
	return s.PublishFunc(ctx, event)
}

type countingMetrics struct {
	results map[string]int
}

func (c *countingMetrics) ObserveOutboxPublish(result string) {
	if c.results == nil {
		c.results = make(map[string]int)
	}
	c.results[result]++
}

func sampleEvent(t *testing.T, version int64) domain.OutboxEvent {
	t.Helper()
	return orderEvent(t, uuid.New(), version)
}

func orderEvent(t *testing.T, orderID uuid.UUID, version int64) domain.OutboxEvent {
	t.Helper()
	order := domain.Order{
		ID:           orderID,
		UserID:       "user-1",
		RestaurantID: "resto-1",
		Status:       domain.OrderStatusAccepted,
		Version:      version,
	}
	change := domain.NewOrderChange(domain.OrderEventStatusChanged, domain.OrderStatusPending, order)
	payload, err := json.Marshal(change)
	require.NoError(t, err)
	return domain.OutboxEvent{
		ID:        change.EventID,
		OrderID:   order.ID,
		Type:      change.Type,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
}

func TestProcessBatch_PublishesToEverySink(t *testing.T) {
	first, second := sampleEvent(t, 2), sampleEvent(t, 3)
	repo := newMemoryRepository(first, second)

	var redisSeen, kafkaSeen []uuid.UUID
	sinks := []Sink{
		&funcSink{name: "redis", PublishFunc: func(ctx context.Context, ev domain.OutboxEvent) error {
			redisSeen = append(redisSeen, ev.ID)
			return nil
		}},
		&funcSink{name: "kafka", PublishFunc: func(ctx context.Context, ev domain.OutboxEvent) error {
			kafkaSeen = append(kafkaSeen, ev.ID)
			return nil
		}},
	}
	metrics := &countingMetrics{}
	relay := NewRelay(repo, sinks, metrics, Config{}, zap.NewNop())

	n, err := relay.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []uuid.UUID{first.ID, second.ID}, redisSeen)
	assert.Equal(t, []uuid.UUID{first.ID, second.ID}, kafkaSeen)
	assert.Len(t, repo.published, 2)
	assert.Equal(t, 2, metrics.results["ok"])

	n, err = relay.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestProcessBatch_SinkFailureKeepsEventPending(t *testing.T) {
	ev := sampleEvent(t, 2)
	repo := newMemoryRepository(ev)

	fail := true
	sink := &funcSink{name: "kafka", PublishFunc: func(ctx context.Context, _ domain.OutboxEvent) error {
		if fail {
			return errors.New("broker down")
		}
		return nil
	}}
	metrics := &countingMetrics{}
	relay := NewRelay(repo, []Sink{sink}, metrics, Config{MaxAttempts: 3}, zap.NewNop())

	_, err := relay.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Empty(t, repo.published)
	assert.Equal(t, 1, repo.failures[ev.ID])
	assert.Equal(t, 1, metrics.results["failed"])

	fail = false
	_, err = relay.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Contains(t, repo.published, ev.ID)
}

func TestProcessBatch_HoldsLaterEventsOfFailedOrder(t *testing.T) {
	orderA := uuid.New()
	a1, b1, a2 := orderEvent(t, orderA, 2), sampleEvent(t, 2), orderEvent(t, orderA, 3)
	repo := newMemoryRepository(a1, b1, a2)

	failFirst := true
	var seen []uuid.UUID
	sink := &funcSink{name: "kafka", PublishFunc: func(ctx context.Context, ev domain.OutboxEvent) error {
		if failFirst && ev.ID == a1.ID {
			return errors.New("leader not available")
		}
		seen = append(seen, ev.ID)
		return nil
	}}
	relay := NewRelay(repo, []Sink{sink}, nil, Config{MaxAttempts: 5}, zap.NewNop())

	n, err := relay.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []uuid.UUID{b1.ID}, seen)
	assert.NotContains(t, repo.published, a2.ID)
	assert.Zero(t, repo.failures[a2.ID])

	failFirst = false
	n, err = relay.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []uuid.UUID{b1.ID, a1.ID, a2.ID}, seen)
}

func TestProcessBatch_StopsRetryingAfterMaxAttempts(t *testing.T) {
	ev := sampleEvent(t, 2)
	repo := newMemoryRepository(ev)
	calls := 0
	sink := &funcSink{name: "redis", PublishFunc: func(ctx context.Context, _ domain.OutboxEvent) error {
		calls++
		return errors.New("unreachable")
	}}
	relay := NewRelay(repo, []Sink{sink}, nil, Config{MaxAttempts: 2}, zap.NewNop())

	for i := 0; i < 4; i++ {
		_, err := relay.ProcessBatch(context.Background())
		require.NoError(t, err)
	}
	assert.Equal(t, 2, calls)
}

func TestProcessBatch_FetchError(t *testing.T) {
	repo := newMemoryRepository()
	repo.fetchErr = errors.New("db gone")
	relay := NewRelay(repo, []Sink{&funcSink{name: "x"}}, nil, Config{}, zap.NewNop())

	_, err := relay.ProcessBatch(context.Background())
	assert.Error(t, err)
}

func TestRun_WakePublishesBeforeNextTick(t *testing.T) {
	repo := newMemoryRepository()
	delivered := make(chan uuid.UUID, 1)
	sink := &funcSink{name: "local", PublishFunc: func(ctx context.Context, ev domain.OutboxEvent) error {
		delivered <- ev.ID
		return nil
	}}
	relay := NewRelay(repo, []Sink{sink}, nil, Config{PollInterval: time.Hour}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- relay.Run(ctx) }()

	ev := sampleEvent(t, 2)
	repo.mu.Lock()
	repo.events = append(repo.events, ev)
	repo.mu.Unlock()

	// The first poll may run before the event is appended; keep waking until
	// the relay has seen it.
	deadline := time.After(2 * time.Second)
	for {
		relay.Wake()
		select {
		case id := <-delivered:
			assert.Equal(t, ev.ID, id)
			cancel()
			require.NoError(t, <-done)
			return
		case <-deadline:
			cancel()
			t.Fatal("event was not published after wake")
		case <-time.After(20 * time.Millisecond):
		}
	}
}

func TestRun_RequiresSink(t *testing.T) {
	relay := NewRelay(newMemoryRepository(), nil, nil, Config{}, zap.NewNop())
	assert.Error(t, relay.Run(context.Background()))
}

type recordingHandler struct {
	changes []domain.OrderChange
}

func (h *recordingHandler) Publish(source string, change domain.OrderChange) int {
	h.changes = append(h.changes, change)
	return 1
}

func TestLocalSink_DecodesPayload(t *testing.T) {
	ev := sampleEvent(t, 7)
	handler := &recordingHandler{}

	require.NoError(t, NewLocalSink(handler).Publish(context.Background(), ev))
	require.Len(t, handler.changes, 1)
	assert.Equal(t, ev.OrderID, handler.changes[0].OrderID)
	assert.Equal(t, int64(7), handler.changes[0].Version)

	err := NewLocalSink(handler).Publish(context.Background(), domain.OutboxEvent{Payload: []byte("{")})
	assert.Error(t, err)
}
