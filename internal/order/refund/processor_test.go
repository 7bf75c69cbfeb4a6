package refund

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"livraison/internal/domain"
	"livraison/internal/payment"
)

// Mock implementations
type mockOrders struct {
	LoadFunc               func(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	ListByRefundStatusFunc func(ctx context.Context, status domain.RefundStatus, updatedBefore time.Time, limit int) ([]domain.Order, error)
}

func (m *mockOrders) Load(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	return m.LoadFunc(ctx, id)
}

func (m *mockOrders) ListByRefundStatus(ctx context.Context, status domain.RefundStatus, updatedBefore time.Time, limit int) ([]domain.Order, error) {
	return m.ListByRefundStatusFunc(ctx, status, updatedBefore, limit)
}

type mockGateway struct {
	mu         sync.Mutex
	requests   []payment.RefundRequest
	RefundFunc func(attempt int, req payment.RefundRequest) (*payment.RefundResult, error)
}

func (m *mockGateway) Name() string { return "mock" }

func (m *mockGateway) Refund(ctx context.Context, req payment.RefundRequest) (*payment.RefundResult, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	attempt := len(m.requests)
	m.mu.Unlock()
	return m.RefundFunc(attempt, req)
}

type recording struct {
	mu        sync.Mutex
	succeeded map[uuid.UUID]string
	amounts   map[uuid.UUID]decimal.Decimal
	failed    map[uuid.UUID]error
}

func newRecording() *recording {
	return &recording{
		succeeded: map[uuid.UUID]string{},
		amounts:   map[uuid.UUID]decimal.Decimal{},
		failed:    map[uuid.UUID]error{},
	}
}

func (r *recording) RecordRefundSucceeded(ctx context.Context, orderID uuid.UUID, refundID string, amount decimal.Decimal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.succeeded[orderID] = refundID
	r.amounts[orderID] = amount
	return nil
}

func (r *recording) RecordRefundFailed(ctx context.Context, orderID uuid.UUID, cause error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed[orderID] = cause
	return nil
}

type countingMetrics struct {
	mu      sync.Mutex
	results map[string]int
}

func (m *countingMetrics) ObserveRefundAttempt(result string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.results == nil {
		m.results = map[string]int{}
	}
	m.results[result]++
}

// Helpers

func canceledPaidOrder() domain.Order {
	return domain.Order{
		ID:                uuid.New(),
		UserID:            "user-1",
		RestaurantID:      "resto-1",
		Status:            domain.OrderStatusCanceled,
		PaymentStatus:     domain.PaymentStatusPaid,
		PaymentReference:  "pi_123",
		LineItemsSubtotal: decimal.RequireFromString("20.00"),
		DeliveryFee:       decimal.RequireFromString("3.50"),
		PlatformFee:       decimal.RequireFromString("0.49"),
		RefundStatus:      domain.RefundStatusPending,
	}
}

func loaderFor(orders ...domain.Order) *mockOrders {
	byID := map[uuid.UUID]domain.Order{}
	for _, o := range orders {
		byID[o.ID] = o
	}
	return &mockOrders{
		LoadFunc: func(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
			o, ok := byID[id]
			if !ok {
				return nil, errors.New("not found")
			}
			return &o, nil
		},
	}
}

func newTestProcessor(orders OrderLoader, gateway payment.Gateway, rec Recorder, metrics Metrics) *Processor {
	p := NewProcessor(orders, gateway, metrics, Config{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
		QueueSize:      4,
	}, zap.NewNop())
	p.SetRecorder(rec)
	return p
}

// Tests

func TestProcess_TransientFailuresThenSuccess(t *testing.T) {
	order := canceledPaidOrder()
	gateway := &mockGateway{
		RefundFunc: func(attempt int, req payment.RefundRequest) (*payment.RefundResult, error) {
			if attempt < 3 {
				return nil, errors.New("provider timeout")
			}
			return &payment.RefundResult{ID: "re_1", Amount: req.Amount}, nil
		},
	}
	rec := newRecording()
	metrics := &countingMetrics{}

	p := newTestProcessor(loaderFor(order), gateway, rec, metrics)
	p.process(context.Background(), order.ID)

	require.Len(t, gateway.requests, 3)
	for _, req := range gateway.requests {
		assert.Equal(t, payment.IdempotencyKey(order.ID), req.IdempotencyKey)
		assert.True(t, decimal.RequireFromString("23.99").Equal(req.Amount))
		assert.Equal(t, "pi_123", req.PaymentReference)
	}
	assert.Equal(t, "re_1", rec.succeeded[order.ID])
	assert.True(t, decimal.RequireFromString("23.99").Equal(rec.amounts[order.ID]))
	assert.Empty(t, rec.failed)
	assert.Equal(t, 2, metrics.results["retry"])
	assert.Equal(t, 1, metrics.results["ok"])
}

func TestProcess_ExhaustedRetriesMarkFailed(t *testing.T) {
	order := canceledPaidOrder()
	gateway := &mockGateway{
		RefundFunc: func(attempt int, req payment.RefundRequest) (*payment.RefundResult, error) {
			return nil, errors.New("provider down")
		},
	}
	rec := newRecording()

	p := newTestProcessor(loaderFor(order), gateway, rec, nil)
	p.process(context.Background(), order.ID)

	assert.Len(t, gateway.requests, 3)
	assert.EqualError(t, rec.failed[order.ID], "provider down")
	assert.Empty(t, rec.succeeded)
}

func TestProcess_PermanentFailureStopsImmediately(t *testing.T) {
	order := canceledPaidOrder()
	gateway := &mockGateway{
		RefundFunc: func(attempt int, req payment.RefundRequest) (*payment.RefundResult, error) {
			return nil, payment.Permanent(errors.New("charge_already_refunded"))
		},
	}
	rec := newRecording()

	p := newTestProcessor(loaderFor(order), gateway, rec, nil)
	p.process(context.Background(), order.ID)

	assert.Len(t, gateway.requests, 1)
	assert.True(t, payment.IsPermanent(rec.failed[order.ID]))
}

func TestProcess_SkipsOrdersNotPending(t *testing.T) {
	order := canceledPaidOrder()
	order.RefundStatus = domain.RefundStatusRefunded
	gateway := &mockGateway{
		RefundFunc: func(attempt int, req payment.RefundRequest) (*payment.RefundResult, error) {
			t.Fatal("gateway must not be called")
			return nil, nil
		},
	}
	rec := newRecording()

	newTestProcessor(loaderFor(order), gateway, rec, nil).process(context.Background(), order.ID)

	assert.Empty(t, rec.succeeded)
	assert.Empty(t, rec.failed)
}

func TestProcess_FallsBackToRequestedAmount(t *testing.T) {
	order := canceledPaidOrder()
	gateway := &mockGateway{
		RefundFunc: func(attempt int, req payment.RefundRequest) (*payment.RefundResult, error) {
			return &payment.RefundResult{ID: "re_2"}, nil
		},
	}
	rec := newRecording()

	newTestProcessor(loaderFor(order), gateway, rec, nil).process(context.Background(), order.ID)

	assert.True(t, decimal.RequireFromString("23.99").Equal(rec.amounts[order.ID]))
}

func TestSchedule_DedupesInflightOrders(t *testing.T) {
	p := newTestProcessor(loaderFor(), &mockGateway{}, newRecording(), nil)
	id := uuid.New()

	p.Schedule(id)
	p.Schedule(id)

	assert.Len(t, p.queue, 1)
	p.release(<-p.queue)
	p.Schedule(id)
	assert.Len(t, p.queue, 1)
}

func TestSchedule_FullQueueDropsForSweep(t *testing.T) {
	p := newTestProcessor(loaderFor(), &mockGateway{}, newRecording(), nil)
	for i := 0; i < 6; i++ {
		p.Schedule(uuid.New())
	}

	assert.Len(t, p.queue, 4)
	assert.Len(t, p.inflight, 4)
}

func TestSweep_ReschedulesStalePending(t *testing.T) {
	now := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)
	stale := canceledPaidOrder()
	var gotBefore time.Time
	orders := &mockOrders{
		ListByRefundStatusFunc: func(ctx context.Context, status domain.RefundStatus, updatedBefore time.Time, limit int) ([]domain.Order, error) {
			assert.Equal(t, domain.RefundStatusPending, status)
			gotBefore = updatedBefore
			return []domain.Order{stale}, nil
		},
	}
	p := newTestProcessor(orders, &mockGateway{}, newRecording(), nil)
	p.now = func() time.Time { return now }

	p.Sweep(context.Background())

	assert.Equal(t, now.Add(-2*time.Minute), gotBefore)
	require.Len(t, p.queue, 1)
	assert.Equal(t, stale.ID, <-p.queue)
}

func TestRun_ProcessesScheduledRefunds(t *testing.T) {
	order := canceledPaidOrder()
	orders := loaderFor(order)
	orders.ListByRefundStatusFunc = func(ctx context.Context, status domain.RefundStatus, updatedBefore time.Time, limit int) ([]domain.Order, error) {
		return nil, nil
	}
	gateway := &mockGateway{
		RefundFunc: func(attempt int, req payment.RefundRequest) (*payment.RefundResult, error) {
			return &payment.RefundResult{ID: "re_run", Amount: req.Amount}, nil
		},
	}
	rec := newRecording()
	p := newTestProcessor(orders, gateway, rec, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	p.Schedule(order.ID)
	assert.Eventually(t, func() bool {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		return rec.succeeded[order.ID] == "re_run"
	}, time.Second, 5*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}

func TestRun_RequiresRecorder(t *testing.T) {
	p := NewProcessor(loaderFor(), &mockGateway{}, nil, Config{}, zap.NewNop())

	assert.Error(t, p.Run(context.Background()))
}
