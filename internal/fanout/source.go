package fanout

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"livraison/internal/domain"
)

const (
	receiveTimeout  = 30 * time.Second
	minReconnect    = 500 * time.Millisecond
	maxReconnect    = 30 * time.Second
	sourceRedis     = "redis"
	sourcePoll      = "poll"
	subscribeKind   = "subscribe"
	unsubscribeKind = "unsubscribe"
)

// Publisher is the Hub seen from a source.
type Publisher interface {
	Publish(source string, change domain.OrderChange) int
}

// Health tracks whether the push channel is delivering.
type Health struct {
	up atomic.Bool
}

func (h *Health) Up() bool { return h.up.Load() }

func (h *Health) Set(up bool) bool {
	return h.up.Swap(up) != up
}

type pubSub interface {
	ReceiveTimeout(ctx context.Context, timeout time.Duration) (interface{}, error)
	Ping(ctx context.Context, payload ...string) error
	Close() error
}

// RedisSource reads order changes from the Redis channel the outbox relay
// publishes to.
type RedisSource struct {
	subscribe func(ctx context.Context) pubSub
	hub       Publisher
	health    *Health
	logger    *zap.Logger
}

func NewRedisSource(client *goredis.Client, channel string, hub Publisher, health *Health, logger *zap.Logger) *RedisSource {
	return &RedisSource{
		subscribe: func(ctx context.Context) pubSub { return client.Subscribe(ctx, channel) },
		hub:       hub,
		health:    health,
		logger:    logger.With(zap.String("component", "fanout"), zap.String("source", sourceRedis), zap.String("channel", channel)),
	}
}

func (s *RedisSource) Run(ctx context.Context) error {
	ps := s.subscribe(ctx)
	defer ps.Close()

	backoff := minReconnect
	for {
		msg, err := ps.ReceiveTimeout(ctx, receiveTimeout)
		if err != nil {
			if ctx.Err() != nil {
				s.health.Set(false)
				return nil
			}
			if isTimeout(err) {
				// Idle channel: make sure the connection is still alive.
				if pingErr := ps.Ping(ctx); pingErr == nil {
					continue
				}
			}
			s.markDown(err)
			if !sleep(ctx, backoff) {
				return nil
			}
			backoff = min(backoff*2, maxReconnect)
			continue
		}
		backoff = minReconnect

		switch m := msg.(type) {
		case *goredis.Subscription:
			switch m.Kind {
			case subscribeKind:
				if s.health.Set(true) {
					s.logger.Info("push channel subscribed")
				}
			case unsubscribeKind:
				s.markDown(errors.New("unsubscribed"))
			}
		case *goredis.Message:
			s.health.Set(true)
			change, err := domain.DecodeOrderChange([]byte(m.Payload))
			if err != nil {
				s.logger.Warn("ignoring malformed order change", zap.Error(err))
				continue
			}
			s.hub.Publish(sourceRedis, change)
		case *goredis.Pong:
		}
	}
}

func (s *RedisSource) markDown(err error) {
	if s.health.Set(false) {
		s.logger.Warn("push channel down, polling fallback active", zap.Error(err))
	}
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
