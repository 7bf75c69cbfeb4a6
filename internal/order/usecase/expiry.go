package usecase

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"livraison/internal/domain"
	apperrors "livraison/internal/errors"
	"livraison/internal/order/repository"
)

const expiryBatch = 500

var systemActor = domain.Actor{UserID: "system", Role: domain.RoleSystem}

// ExpiryPolicy says when an order is abandoned. A zero duration disables the
// matching rule.
type ExpiryPolicy struct {
	// PendingTimeout cancels orders the restaurant never answered.
	PendingTimeout time.Duration
	// UnassignedGrace cancels orders still without a courier this long after
	// their preparation deadline.
	UnassignedGrace time.Duration
}

// ExpireStaleOrders cancels abandoned orders as the system, so refunds and
// notifications follow the normal cancel path. It returns how many orders were
// cancelled; one failing order does not stop the others.
func (uc *OrderUseCase) ExpireStaleOrders(ctx context.Context, policy ExpiryPolicy) (int, error) {
	now := uc.now()
	var stale []domain.Order

	if policy.PendingTimeout > 0 {
		pending, err := uc.orders.List(ctx, repository.OrderFilter{
			Statuses: []domain.OrderStatus{domain.OrderStatusPending},
			Limit:    expiryBatch,
		})
		if err != nil {
			return 0, fmt.Errorf("listing pending orders: %w", err)
		}
		for _, o := range pending {
			if !o.CreatedAt.Add(policy.PendingTimeout).After(now) {
				stale = append(stale, o)
			}
		}
	}

	if policy.UnassignedGrace > 0 {
		unassigned, err := uc.orders.List(ctx, repository.OrderFilter{
			Statuses:  []domain.OrderStatus{domain.OrderStatusAccepted, domain.OrderStatusPreparing, domain.OrderStatusReady},
			Available: true,
			Limit:     expiryBatch,
		})
		if err != nil {
			return 0, fmt.Errorf("listing unassigned orders: %w", err)
		}
		for _, o := range unassigned {
			deadline := o.PreparationDeadline()
			if deadline != nil && !o.HasCourier() && !deadline.Add(policy.UnassignedGrace).After(now) {
				stale = append(stale, o)
			}
		}
	}

	cancelled := 0
	for _, o := range stale {
		logger := uc.logger.With(zap.String("orderId", o.ID.String()), zap.String("status", string(o.Status)))
		_, err := uc.Cancel(ctx, systemActor, o.ID, expiryReason(o))
		if err != nil {
			if ctx.Err() != nil {
				return cancelled, ctx.Err()
			}
			// Moved on since it was listed.
			if _, raced := apperrors.IsInvalidTransitionError(err); raced {
				logger.Debug("expired order changed before cancel", zap.Error(err))
				continue
			}
			logger.Warn("expiring order failed", zap.Error(err))
			continue
		}
		logger.Info("order expired")
		cancelled++
	}
	return cancelled, nil
}

// RunExpirySweep calls ExpireStaleOrders every interval until ctx ends.
func (uc *OrderUseCase) RunExpirySweep(ctx context.Context, interval time.Duration, policy ExpiryPolicy) error {
	if interval <= 0 || (policy.PendingTimeout <= 0 && policy.UnassignedGrace <= 0) {
		uc.logger.Info("order expiry sweep disabled")
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := uc.ExpireStaleOrders(ctx, policy)
			if err != nil && ctx.Err() == nil {
				uc.logger.Warn("order expiry sweep failed", zap.Error(err))
			}
			if n > 0 {
				uc.logger.Info("expired orders cancelled", zap.Int("count", n))
			}
		}
	}
}

func expiryReason(o domain.Order) string {
	if o.Status == domain.OrderStatusPending {
		return "commande expirée: le restaurant n'a pas répondu"
	}
	return "commande expirée: aucun livreur disponible"
}
