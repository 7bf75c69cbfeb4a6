package usecase

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"livraison/internal/domain"
	apperrors "livraison/internal/errors"
	"livraison/internal/money"
	"livraison/internal/order/repository"
	"livraison/internal/order/service"
	"livraison/internal/order/statemachine"
)

type LifecycleService interface {
	Create(ctx context.Context, order domain.Order) (*service.Outcome, error)
	Transition(ctx context.Context, orderID uuid.UUID, cmd statemachine.Command, actor domain.Actor, in statemachine.Input) (*service.Outcome, error)
	Mutate(ctx context.Context, orderID uuid.UUID, eventType domain.OrderEventType, fn func(order *domain.Order) (bool, error)) (*service.Outcome, error)
}

type OrderReader interface {
	Load(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	List(ctx context.Context, f repository.OrderFilter) ([]domain.Order, error)
	ListPaidDelivered(ctx context.Context, restaurantID string, from, to time.Time) ([]domain.Order, error)
}

type RestaurantFinder interface {
	FindByID(ctx context.Context, id string) (*domain.Restaurant, error)
}

// Notifier delivers a push message. An empty recipientID targets every
// member of the role.
type Notifier interface {
	Notify(ctx context.Context, role domain.Role, recipientID, message string) error
}

// RestaurantInbox stores dashboard notifications for partners.
type RestaurantInbox interface {
	AddNotification(ctx context.Context, restaurantID string, typ domain.NotificationType, orderID *uuid.UUID, message string) error
}

type RefundScheduler interface {
	Schedule(orderID uuid.UUID)
}

type PrepTimers interface {
	Start(orderID uuid.UUID, deadline time.Time)
	Stop(orderID uuid.UUID)
}

type OutboxWaker interface {
	Wake()
}

type Metrics interface {
	ObserveTransition(transition, result string)
	IncRetry()
}

// Collaborators are the post-commit side-effect targets. Nil members are
// skipped.
type Collaborators struct {
	Notifier Notifier
	Inbox    RestaurantInbox
	Refunds  RefundScheduler
	Timers   PrepTimers
	Outbox   OutboxWaker
	Metrics  Metrics
}

type OrderUseCase struct {
	lifecycle        LifecycleService
	orders           OrderReader
	restaurants      RestaurantFinder
	calculator       *money.Calculator
	deliveryFees     money.DeliveryFeePolicy
	collab           Collaborators
	logger           *zap.Logger
	maxRetryAttempts int
	now              func() time.Time
	sleep            func(ctx context.Context, d time.Duration) error
}

func NewOrderUseCase(
	lifecycle LifecycleService,
	orders OrderReader,
	restaurants RestaurantFinder,
	calculator *money.Calculator,
	deliveryFees money.DeliveryFeePolicy,
	collab Collaborators,
	logger *zap.Logger,
	maxRetryAttempts int,
) *OrderUseCase {
	if maxRetryAttempts < 1 {
		maxRetryAttempts = 1
	}
	return &OrderUseCase{
		lifecycle:        lifecycle,
		orders:           orders,
		restaurants:      restaurants,
		calculator:       calculator,
		deliveryFees:     deliveryFees,
		collab:           collab,
		logger:           logger,
		maxRetryAttempts: maxRetryAttempts,
		now:              func() time.Time { return time.Now().UTC() },
		sleep:            sleepContext,
	}
}

func (uc *OrderUseCase) Accept(ctx context.Context, actor domain.Actor, orderID uuid.UUID, prepMinutes int) (*domain.Order, error) {
	return uc.transition(ctx, actor, orderID, statemachine.CommandAccept, statemachine.Input{PreparationTimeMinutes: prepMinutes})
}

func (uc *OrderUseCase) Reject(ctx context.Context, actor domain.Actor, orderID uuid.UUID, reason string) (*domain.Order, error) {
	return uc.transition(ctx, actor, orderID, statemachine.CommandReject, statemachine.Input{Reason: reason})
}

func (uc *OrderUseCase) MarkPreparing(ctx context.Context, actor domain.Actor, orderID uuid.UUID) (*domain.Order, error) {
	return uc.transition(ctx, actor, orderID, statemachine.CommandStartPreparing, statemachine.Input{})
}

func (uc *OrderUseCase) MarkReady(ctx context.Context, actor domain.Actor, orderID uuid.UUID) (*domain.Order, error) {
	return uc.transition(ctx, actor, orderID, statemachine.CommandMarkReady, statemachine.Input{})
}

func (uc *OrderUseCase) AssignCourier(ctx context.Context, actor domain.Actor, orderID uuid.UUID, courierID string) (*domain.Order, error) {
	return uc.transition(ctx, actor, orderID, statemachine.CommandAssignCourier, statemachine.Input{CourierID: courierID})
}

func (uc *OrderUseCase) MarkPickedUp(ctx context.Context, actor domain.Actor, orderID uuid.UUID) (*domain.Order, error) {
	return uc.transition(ctx, actor, orderID, statemachine.CommandPickUp, statemachine.Input{})
}

func (uc *OrderUseCase) MarkDelivered(ctx context.Context, actor domain.Actor, orderID uuid.UUID, securityCode string) (*domain.Order, error) {
	return uc.transition(ctx, actor, orderID, statemachine.CommandDeliver, statemachine.Input{SecurityCode: securityCode})
}

func (uc *OrderUseCase) Cancel(ctx context.Context, actor domain.Actor, orderID uuid.UUID, reason string) (*domain.Order, error) {
	return uc.transition(ctx, actor, orderID, statemachine.CommandCancel, statemachine.Input{Reason: reason})
}

func (uc *OrderUseCase) AddDelay(ctx context.Context, actor domain.Actor, orderID uuid.UUID, extraMinutes int) (*domain.Order, error) {
	return uc.transition(ctx, actor, orderID, statemachine.CommandAddDelay, statemachine.Input{ExtraMinutes: extraMinutes})
}

func (uc *OrderUseCase) transition(
	ctx context.Context,
	actor domain.Actor,
	orderID uuid.UUID,
	cmd statemachine.Command,
	in statemachine.Input,
) (*domain.Order, error) {
	logger := uc.logger.With(zap.String("orderId", orderID.String()), zap.String("transition", string(cmd)))
	logger.Info("order command received", zap.String("role", string(actor.Role)), zap.String("userId", actor.UserID))

	var outcome *service.Outcome
	err := uc.withRetry(ctx, logger, func() error {
		var err error
		outcome, err = uc.lifecycle.Transition(ctx, orderID, cmd, actor, in)
		return err
	})
	if err != nil {
		uc.observe(string(cmd), resultLabel(err))
		return nil, err
	}
	uc.observe(string(cmd), "ok")

	uc.runEffects(ctx, logger, outcome)
	return &outcome.Order, nil
}

// withRetry re-runs fn after a lost optimistic race or a MySQL deadlock, with
// jittered backoff, then gives up with ConcurrentModification.
func (uc *OrderUseCase) withRetry(ctx context.Context, logger *zap.Logger, fn func() error) error {
	maxAttempts := uc.maxRetryAttempts

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if !isRetryable(err) {
			return err
		}
		if attempt == maxAttempts {
			break
		}

		uc.incRetry()
		logger.Warn("concurrent write detected, retrying", zap.Int("attempt", attempt), zap.Int("maxAttempts", maxAttempts), zap.Error(err))
		if err := uc.sleep(ctx, backoff(attempt)); err != nil {
			return err
		}
	}

	return apperrors.NewConcurrentModificationError("order was modified concurrently, please retry", maxAttempts)
}

// backoff: attempt 1 -> ~50ms, 2 -> ~100ms, 3 -> ~200ms..., ±20% jitter.
func backoff(attempt int) time.Duration {
	base := 50 * time.Millisecond << uint(attempt-1)
	if base > time.Second {
		base = time.Second
	}
	jitter := 0.8 + rand.Float64()*0.4
	return time.Duration(float64(base) * jitter)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func isRetryable(err error) bool {
	return errors.Is(err, apperrors.ErrVersionConflict) || isDeadlockError(err)
}

func isDeadlockError(err error) bool {
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1213 || mysqlErr.Number == 1205
	}
	return false
}

func resultLabel(err error) string {
	switch {
	case isType(err, apperrors.IsValidationError):
		return "validation_error"
	case isType(err, apperrors.IsInvalidTransitionError):
		return "invalid_transition"
	case isType(err, apperrors.IsUnauthorizedError):
		return "unauthorized"
	case isType(err, apperrors.IsNotFoundError):
		return "not_found"
	case isType(err, apperrors.IsConcurrentModificationError):
		return "concurrent_modification"
	}
	return "error"
}

func isType[T any](err error, is func(error) (T, bool)) bool {
	_, ok := is(err)
	return ok
}

func (uc *OrderUseCase) observe(transition, result string) {
	if uc.collab.Metrics != nil {
		uc.collab.Metrics.ObserveTransition(transition, result)
	}
}

func (uc *OrderUseCase) incRetry() {
	if uc.collab.Metrics != nil {
		uc.collab.Metrics.IncRetry()
	}
}
