package fanout

import (
	"context"
	"time"

	"go.uber.org/zap"

	"livraison/internal/domain"
)

const (
	defaultPollInterval = 5 * time.Second
	pollBatch           = 500
	// updated_at has second precision in some setups; re-read a small window
	// and let the hub drop what was already delivered.
	pollOverlap = 2 * time.Second
)

type OrderLister interface {
	ListUpdatedSince(ctx context.Context, since time.Time, limit int) ([]domain.Order, error)
}

// Poller is the fallback source. It reads recently written orders only while
// the push channel is down.
type Poller struct {
	orders   OrderLister
	hub      Publisher
	health   *Health
	interval time.Duration
	logger   *zap.Logger
	now      func() time.Time
}

func NewPoller(orders OrderLister, hub Publisher, health *Health, interval time.Duration, logger *zap.Logger) *Poller {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	return &Poller{
		orders:   orders,
		hub:      hub,
		health:   health,
		interval: interval,
		logger:   logger.With(zap.String("component", "fanout"), zap.String("source", sourcePoll)),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	cursor := p.now()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			cursor = p.Tick(ctx, cursor)
		}
	}
}

// Tick runs one poll step and returns the next cursor. While push is up the
// cursor just follows the clock so an outage only replays its own window.
func (p *Poller) Tick(ctx context.Context, cursor time.Time) time.Time {
	if p.health != nil && p.health.Up() {
		return p.now()
	}

	orders, err := p.orders.ListUpdatedSince(ctx, cursor.Add(-pollOverlap), pollBatch)
	if err != nil {
		if ctx.Err() == nil {
			p.logger.Warn("poll failed", zap.Error(err))
		}
		return cursor
	}

	next := cursor
	for _, o := range orders {
		eventType := domain.OrderEventStatusChanged
		if o.Version <= 1 {
			eventType = domain.OrderEventCreated
		}
		p.hub.Publish(sourcePoll, domain.NewOrderChange(eventType, "", o))
		if o.UpdatedAt.After(next) {
			next = o.UpdatedAt
		}
	}
	return next
}
