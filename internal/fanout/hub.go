package fanout

import (
	"sync"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/simplelru"
	"go.uber.org/zap"

	"livraison/internal/domain"
)

const (
	EventOfferWithdrawn = "order.offer_withdrawn"

	defaultBuffer    = 64
	defaultSeenLimit = 4096
)

// Message is what a subscriber receives.
type Message struct {
	Event   string             `json:"event"`
	Payload domain.OrderChange `json:"payload"`
}

type Metrics interface {
	ObserveFanoutEvent(source string)
	IncFanoutDropped()
	SetFanoutSubscribers(n int)
}

// Subscription is one connected client. Its channel is closed on Unsubscribe.
type Subscription struct {
	ID    uuid.UUID
	Actor domain.Actor

	ch   chan Message
	seen *simplelru.LRU[uuid.UUID, seenEntry]
}

// seenEntry is the last version delivered for one order. A withdrawn entry
// still blocks older versions but no longer counts as shown to the courier.
type seenEntry struct {
	version   int64
	withdrawn bool
}

func (s *Subscription) C() <-chan Message {
	return s.ch
}

// Hub routes order changes from every source to the subscribers allowed to
// see them, once per (order, version).
type Hub struct {
	mu        sync.Mutex
	subs      map[uuid.UUID]*Subscription
	buffer    int
	seenLimit int
	metrics   Metrics
	logger    *zap.Logger
}

type HubOption func(*Hub)

// WithSeenLimit caps how many orders each subscriber remembers for dedupe.
// The least recently changed orders are forgotten first.
func WithSeenLimit(n int) HubOption {
	return func(h *Hub) {
		if n > 0 {
			h.seenLimit = n
		}
	}
}

func NewHub(buffer int, metrics Metrics, logger *zap.Logger, opts ...HubOption) *Hub {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	h := &Hub{
		subs:      make(map[uuid.UUID]*Subscription),
		buffer:    buffer,
		seenLimit: defaultSeenLimit,
		metrics:   metrics,
		logger:    logger.With(zap.String("component", "fanout")),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Hub) Subscribe(actor domain.Actor) *Subscription {
	// seenLimit is always positive, NewLRU only fails on a non-positive size.
	seen, _ := simplelru.NewLRU[uuid.UUID, seenEntry](h.seenLimit, nil)
	sub := &Subscription{
		ID:    uuid.New(),
		Actor: actor,
		ch:    make(chan Message, h.buffer),
		seen:  seen,
	}

	h.mu.Lock()
	h.subs[sub.ID] = sub
	n := len(h.subs)
	h.mu.Unlock()

	h.setSubscribers(n)
	return sub
}

func (h *Hub) Unsubscribe(sub *Subscription) {
	h.mu.Lock()
	if _, ok := h.subs[sub.ID]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.subs, sub.ID)
	close(sub.ch)
	n := len(h.subs)
	h.mu.Unlock()

	h.setSubscribers(n)
}

// Publish delivers the change to every subscriber that may see it and has not
// yet received this or a newer version. It never blocks: a subscriber whose
// buffer is full misses the event. Returns the number of deliveries.
func (h *Hub) Publish(source string, change domain.OrderChange) int {
	if h.metrics != nil {
		h.metrics.ObserveFanoutEvent(source)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	delivered := 0
	for _, sub := range h.subs {
		last, known := sub.seen.Get(change.OrderID)
		if known && change.Version <= last.version {
			continue
		}

		event, ok := Route(sub.Actor, change, known && !last.withdrawn)
		if !ok {
			continue
		}

		select {
		case sub.ch <- Message{Event: event, Payload: change}:
			delivered++
			sub.seen.Add(change.OrderID, seenEntry{
				version:   change.Version,
				withdrawn: event == EventOfferWithdrawn,
			})
		default:
			if h.metrics != nil {
				h.metrics.IncFanoutDropped()
			}
			h.logger.Warn("subscriber too slow, event dropped",
				zap.String("subscriptionId", sub.ID.String()),
				zap.String("userId", sub.Actor.UserID),
				zap.String("orderId", change.OrderID.String()),
				zap.Int64("version", change.Version),
			)
		}
	}
	return delivered
}

// CloseAll disconnects every subscriber, used on shutdown.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	subs := make([]*Subscription, 0, len(h.subs))
	for _, sub := range h.subs {
		subs = append(subs, sub)
	}
	h.mu.Unlock()

	for _, sub := range subs {
		h.Unsubscribe(sub)
	}
}

func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *Hub) setSubscribers(n int) {
	if h.metrics != nil {
		h.metrics.SetFanoutSubscribers(n)
	}
}

// Route decides whether actor sees change and under which event name.
// tracked reports whether the subscriber already received this order.
func Route(actor domain.Actor, change domain.OrderChange, tracked bool) (string, bool) {
	event := string(change.Type)

	switch actor.Role {
	case domain.RoleAdmin, domain.RoleSystem:
		return event, true
	case domain.RoleRestaurant:
		return event, actor.RestaurantID != "" && change.RestaurantID == actor.RestaurantID
	case domain.RoleCustomer:
		return event, change.UserID == actor.UserID
	case domain.RoleCourier:
		assigned := change.CourierID != nil && *change.CourierID != ""
		if assigned && *change.CourierID == actor.UserID {
			return event, true
		}
		if !assigned && isOffer(change.Status) {
			return event, true
		}
		// Taken by another courier or no longer offered.
		if tracked {
			return EventOfferWithdrawn, true
		}
	}
	return "", false
}

func isOffer(status domain.OrderStatus) bool {
	switch status {
	case domain.OrderStatusAccepted, domain.OrderStatusPreparing, domain.OrderStatusReady:
		return true
	}
	return false
}
