package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"livraison/internal/domain"
	"livraison/internal/money"
	"livraison/internal/order/statemachine"
)

type OrderStore interface {
	Load(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	Create(ctx context.Context, order domain.Order, change domain.OrderChange) error
	Save(ctx context.Context, order domain.Order, expectedVersion int64, change domain.OrderChange) error
}

type RestaurantFinder interface {
	FindByID(ctx context.Context, id string) (*domain.Restaurant, error)
}

// Outcome is a committed write. Effects are only returned once the new
// snapshot is durable.
type Outcome struct {
	Order    domain.Order
	Previous domain.OrderStatus
	Effects  []statemachine.Effect
}

// LifecycleService runs a single read-modify-write attempt per call. Retrying
// on a lost race is the caller's job.
type LifecycleService struct {
	store       OrderStore
	restaurants RestaurantFinder
	calculator  *money.Calculator
	logger      *zap.Logger
	now         func() time.Time
}

func NewLifecycleService(
	store OrderStore,
	restaurants RestaurantFinder,
	calculator *money.Calculator,
	logger *zap.Logger,
) *LifecycleService {
	return &LifecycleService{
		store:       store,
		restaurants: restaurants,
		calculator:  calculator,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (s *LifecycleService) Create(ctx context.Context, order domain.Order) (*Outcome, error) {
	order.Version = 1
	if err := s.store.Create(ctx, order, domain.NewOrderChange(domain.OrderEventCreated, "", order)); err != nil {
		s.logger.Error("failed to create order", zap.String("orderId", order.ID.String()), zap.Error(err))
		return nil, err
	}
	return &Outcome{Order: order}, nil
}

func (s *LifecycleService) Transition(
	ctx context.Context,
	orderID uuid.UUID,
	cmd statemachine.Command,
	actor domain.Actor,
	in statemachine.Input,
) (*Outcome, error) {
	// Bloque 1: snapshot actual
	current, err := s.store.Load(ctx, orderID)
	if err != nil {
		return nil, err
	}

	// Bloque 2: decisión pura
	res, err := statemachine.Apply(*current, cmd, actor, in, s.now())
	if err != nil {
		return nil, err
	}

	// Bloque 3: reparto de ingresos desde las líneas persistidas
	if res.Has(statemachine.EffectRecomputeRevenue) {
		restaurant, err := s.restaurants.FindByID(ctx, res.Order.RestaurantID)
		if err != nil {
			return nil, err
		}
		split := s.calculator.SplitForOrder(res.Order, *restaurant)
		res.Order.Revenue = &split
	}

	// Bloque 4: escritura condicionada por versión
	next := res.Order
	next.Version = current.Version + 1
	change := domain.NewOrderChange(domain.OrderEventStatusChanged, res.Previous, next)
	if err := s.store.Save(ctx, next, current.Version, change); err != nil {
		return nil, err
	}

	s.logger.Info("order transition committed",
		zap.String("orderId", orderID.String()),
		zap.String("transition", string(cmd)),
		zap.String("from", string(res.Previous)),
		zap.String("to", string(next.Status)),
		zap.Int64("version", next.Version),
	)

	return &Outcome{Order: next, Previous: res.Previous, Effects: res.Effects}, nil
}

// Mutate applies a change outside the state machine (refund bookkeeping) with
// the same version guard. fn returning false leaves the order untouched.
func (s *LifecycleService) Mutate(
	ctx context.Context,
	orderID uuid.UUID,
	eventType domain.OrderEventType,
	fn func(order *domain.Order) (bool, error),
) (*Outcome, error) {
	current, err := s.store.Load(ctx, orderID)
	if err != nil {
		return nil, err
	}

	next := *current
	changed, err := fn(&next)
	if err != nil {
		return nil, err
	}
	if !changed {
		return &Outcome{Order: *current, Previous: current.Status}, nil
	}

	next.Version = current.Version + 1
	next.UpdatedAt = s.now()
	change := domain.NewOrderChange(eventType, current.Status, next)
	if err := s.store.Save(ctx, next, current.Version, change); err != nil {
		return nil, err
	}
	return &Outcome{Order: next, Previous: current.Status}, nil
}
