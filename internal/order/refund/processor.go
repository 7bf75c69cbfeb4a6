package refund

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"livraison/internal/domain"
	"livraison/internal/payment"
)

type OrderLoader interface {
	Load(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	ListByRefundStatus(ctx context.Context, status domain.RefundStatus, updatedBefore time.Time, limit int) ([]domain.Order, error)
}

// Recorder books the outcome on the order. Implementations must ignore
// orders whose refund is no longer pending.
type Recorder interface {
	RecordRefundSucceeded(ctx context.Context, orderID uuid.UUID, refundID string, amount decimal.Decimal) error
	RecordRefundFailed(ctx context.Context, orderID uuid.UUID, cause error) error
}

type Metrics interface {
	ObserveRefundAttempt(result string)
}

type Config struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Workers        int
	QueueSize      int
	SweepInterval  time.Duration
	// SweepGrace keeps the sweep away from refunds that were just scheduled.
	SweepGrace time.Duration
	Currency   string
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = time.Minute
	}
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = time.Minute
	}
	if c.SweepGrace <= 0 {
		c.SweepGrace = 2 * time.Minute
	}
	return c
}

// Processor issues refunds asynchronously. Schedule is fire-and-forget; the
// periodic sweep re-schedules pending refunds lost to a restart or a full queue.
type Processor struct {
	orders   OrderLoader
	gateway  payment.Gateway
	recorder Recorder
	metrics  Metrics
	cfg      Config
	logger   *zap.Logger
	queue    chan uuid.UUID

	mu       sync.Mutex
	inflight map[uuid.UUID]struct{}

	now func() time.Time
}

func NewProcessor(orders OrderLoader, gateway payment.Gateway, metrics Metrics, cfg Config, logger *zap.Logger) *Processor {
	cfg = cfg.withDefaults()
	return &Processor{
		orders:   orders,
		gateway:  gateway,
		metrics:  metrics,
		cfg:      cfg,
		logger:   logger.With(zap.String("component", "refund"), zap.String("gateway", gateway.Name())),
		queue:    make(chan uuid.UUID, cfg.QueueSize),
		inflight: make(map[uuid.UUID]struct{}),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetRecorder must be called before Run. The recorder is the order use case,
// which in turn schedules refunds here.
func (p *Processor) SetRecorder(r Recorder) {
	p.recorder = r
}

func (p *Processor) Schedule(orderID uuid.UUID) {
	p.mu.Lock()
	if _, busy := p.inflight[orderID]; busy {
		p.mu.Unlock()
		return
	}
	p.inflight[orderID] = struct{}{}
	p.mu.Unlock()

	select {
	case p.queue <- orderID:
	default:
		p.release(orderID)
		p.logger.Warn("refund queue full, left for the sweep", zap.String("orderId", orderID.String()))
	}
}

func (p *Processor) release(orderID uuid.UUID) {
	p.mu.Lock()
	delete(p.inflight, orderID)
	p.mu.Unlock()
}

func (p *Processor) Run(ctx context.Context) error {
	if p.recorder == nil {
		return errors.New("refund processor has no recorder")
	}

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.cfg.Workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case id := <-p.queue:
					p.process(ctx, id)
					p.release(id)
				}
			}
		})
	}
	g.Go(func() error {
		ticker := time.NewTicker(p.cfg.SweepInterval)
		defer ticker.Stop()
		p.Sweep(ctx)
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				p.Sweep(ctx)
			}
		}
	})
	return g.Wait()
}

// Sweep schedules every refund still pending after the grace period.
func (p *Processor) Sweep(ctx context.Context) {
	orders, err := p.orders.ListByRefundStatus(ctx, domain.RefundStatusPending, p.now().Add(-p.cfg.SweepGrace), p.cfg.QueueSize)
	if err != nil {
		if ctx.Err() == nil {
			p.logger.Warn("refund sweep failed", zap.Error(err))
		}
		return
	}
	for _, o := range orders {
		p.Schedule(o.ID)
	}
	if len(orders) > 0 {
		p.logger.Info("refund sweep rescheduled orders", zap.Int("count", len(orders)))
	}
}

func (p *Processor) process(ctx context.Context, orderID uuid.UUID) {
	logger := p.logger.With(zap.String("orderId", orderID.String()))

	order, err := p.orders.Load(ctx, orderID)
	if err != nil {
		logger.Warn("refund could not load order", zap.Error(err))
		return
	}
	if order.RefundStatus != domain.RefundStatusPending {
		return
	}

	req := payment.RefundRequest{
		OrderID:          order.ID,
		PaymentReference: order.PaymentReference,
		Amount:           order.TotalCharged(),
		Currency:         p.cfg.Currency,
		IdempotencyKey:   payment.IdempotencyKey(order.ID),
	}

	result, err := p.refundWithRetry(ctx, logger, req)
	if err != nil {
		if ctx.Err() != nil {
			// Shutdown: the order stays pending for the next sweep.
			return
		}
		if recErr := p.recorder.RecordRefundFailed(ctx, orderID, err); recErr != nil {
			logger.Error("could not record refund failure", zap.Error(recErr))
		}
		return
	}

	amount := result.Amount
	if !amount.IsPositive() {
		amount = req.Amount
	}
	if err := p.recorder.RecordRefundSucceeded(ctx, orderID, result.ID, amount); err != nil {
		// The provider holds the refund under the same idempotency key, so the
		// next sweep books it without refunding twice.
		logger.Error("refund issued but not recorded", zap.String("refundId", result.ID), zap.Error(err))
		return
	}
	logger.Info("refund issued", zap.String("refundId", result.ID), zap.String("amount", amount.StringFixed(2)))
}

func (p *Processor) refundWithRetry(ctx context.Context, logger *zap.Logger, req payment.RefundRequest) (*payment.RefundResult, error) {
	backoff := retry.NewExponential(p.cfg.InitialBackoff)
	backoff = retry.WithCappedDuration(p.cfg.MaxBackoff, backoff)
	backoff = retry.WithJitterPercent(20, backoff)
	backoff = retry.WithMaxRetries(uint64(p.cfg.MaxAttempts-1), backoff)

	attempt := 0
	var result *payment.RefundResult
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		res, err := p.gateway.Refund(ctx, req)
		if err == nil {
			p.observe("ok")
			result = res
			return nil
		}
		if payment.IsPermanent(err) {
			p.observe("permanent")
			logger.Warn("refund rejected by provider", zap.Int("attempt", attempt), zap.Error(err))
			return err
		}
		p.observe("retry")
		logger.Warn("refund attempt failed", zap.Int("attempt", attempt), zap.Int("maxAttempts", p.cfg.MaxAttempts), zap.Error(err))
		return retry.RetryableError(err)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (p *Processor) observe(result string) {
	if p.metrics != nil {
		p.metrics.ObserveRefundAttempt(result)
	}
}
