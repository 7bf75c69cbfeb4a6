package outbox

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"livraison/internal/domain"
)

const (
	defaultBatchSize    = 100
	defaultPollInterval = 2 * time.Second
	defaultMaxAttempts  = 20
	maxErrorBackoff     = 30 * time.Second
	publishTimeout      = 10 * time.Second
)

type Repository interface {
	FetchUnpublished(ctx context.Context, limit, maxAttempts int) ([]domain.OutboxEvent, error)
	MarkPublished(ctx context.Context, id uuid.UUID, at time.Time) error
	MarkFailed(ctx context.Context, id uuid.UUID, cause error) error
}

// Sink is one destination of order change events.
type Sink interface {
	Name() string
	Publish(ctx context.Context, event domain.OutboxEvent) error
}

type Metrics interface {
	ObserveOutboxPublish(result string)
}

type Config struct {
	BatchSize    int
	PollInterval time.Duration
	MaxAttempts  int
}

// Relay publishes committed order events to every sink, at least once.
type Relay struct {
	repo    Repository
	sinks   []Sink
	metrics Metrics
	logger  *zap.Logger
	cfg     Config
	wake    chan struct{}
	now     func() time.Time
}

func NewRelay(repo Repository, sinks []Sink, metrics Metrics, cfg Config, logger *zap.Logger) *Relay {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	return &Relay{
		repo:    repo,
		sinks:   sinks,
		metrics: metrics,
		logger:  logger.With(zap.String("component", "outbox")),
		cfg:     cfg,
		wake:    make(chan struct{}, 1),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Wake asks the relay to poll now instead of waiting for the next tick.
// It never blocks.
func (r *Relay) Wake() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *Relay) Run(ctx context.Context) error {
	if len(r.sinks) == 0 {
		return errors.New("outbox relay has no sink")
	}
	r.logger.Info("outbox relay started", zap.Int("sinks", len(r.sinks)), zap.Duration("pollInterval", r.cfg.PollInterval))

	backoff := r.cfg.PollInterval
	for {
		n, err := r.ProcessBatch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			r.logger.Error("outbox batch failed", zap.Error(err))
			backoff = nextBackoff(backoff)
			if !r.wait(ctx, withJitter(backoff)) {
				return nil
			}
			continue
		}
		backoff = r.cfg.PollInterval

		// A fully published batch means more rows are probably waiting. A
		// batch with failures waits for the next tick instead of spinning.
		if n == r.cfg.BatchSize {
			continue
		}
		if !r.wait(ctx, r.cfg.PollInterval) {
			return nil
		}
	}
}

func (r *Relay) wait(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		r.logger.Info("outbox relay stopped")
		return false
	case <-r.wake:
		return true
	case <-timer.C:
		return true
	}
}

// ProcessBatch publishes one batch and returns how many events it published.
// Once an event fails, the later events of the same order in the batch are
// held back so sinks keep seeing each order's versions in order.
func (r *Relay) ProcessBatch(ctx context.Context) (int, error) {
	events, err := r.repo.FetchUnpublished(ctx, r.cfg.BatchSize, r.cfg.MaxAttempts)
	if err != nil {
		return 0, err
	}

	published := 0
	blocked := make(map[uuid.UUID]struct{})
	for _, event := range events {
		logger := r.logger.With(
			zap.String("eventId", event.ID.String()),
			zap.String("orderId", event.OrderID.String()),
			zap.String("eventType", string(event.Type)),
		)

		if _, held := blocked[event.OrderID]; held {
			logger.Debug("outbox event held behind an earlier failure")
			continue
		}

		if err := r.publish(ctx, event); err != nil {
			r.observe("failed")
			blocked[event.OrderID] = struct{}{}
			attempt := event.AttemptCount + 1
			if attempt >= r.cfg.MaxAttempts {
				logger.Error("outbox event will not be retried", zap.Int("attempt", attempt), zap.Error(err))
			} else {
				logger.Warn("outbox publish failed", zap.Int("attempt", attempt), zap.Error(err))
			}
			if markErr := r.repo.MarkFailed(ctx, event.ID, err); markErr != nil {
				return published, fmt.Errorf("mark failure %s: %w", event.ID, markErr)
			}
			continue
		}

		if err := r.repo.MarkPublished(ctx, event.ID, r.now()); err != nil {
			return published, fmt.Errorf("mark published %s: %w", event.ID, err)
		}
		published++
		r.observe("ok")
		logger.Debug("outbox event published")
	}
	return published, nil
}

// publish hands the event to every sink. A failure on any sink fails the
// event, which is then retried on all of them; consumers dedupe by version.
func (r *Relay) publish(ctx context.Context, event domain.OutboxEvent) error {
	pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	var errs []error
	for _, sink := range r.sinks {
		if err := sink.Publish(pubCtx, event); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", sink.Name(), err))
		}
	}
	return errors.Join(errs...)
}

func (r *Relay) observe(result string) {
	if r.metrics != nil {
		r.metrics.ObserveOutboxPublish(result)
	}
}

func nextBackoff(current time.Duration) time.Duration {
	next := current * 2
	if next > maxErrorBackoff {
		return maxErrorBackoff
	}
	return next
}

func withJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return d
	}
	return d + time.Duration(rand.Int63n(int64(d)/4+1))
}
