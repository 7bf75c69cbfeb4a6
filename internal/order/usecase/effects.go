package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"livraison/internal/domain"
	"livraison/internal/order/service"
	"livraison/internal/order/statemachine"
)

const effectTimeout = 10 * time.Second

// runEffects executes what the state machine asked for. It only runs after a
// commit and never fails the command: collaborator errors are logged.
func (uc *OrderUseCase) runEffects(ctx context.Context, logger *zap.Logger, outcome *service.Outcome) {
	if uc.collab.Outbox != nil {
		uc.collab.Outbox.Wake()
	}

	effectCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), effectTimeout)
	defer cancel()

	order := outcome.Order
	for _, effect := range outcome.Effects {
		switch effect.Kind {
		case statemachine.EffectNotify:
			uc.notify(effectCtx, logger, effect.Role, effect.RecipientID, effect.Message)
		case statemachine.EffectStartRefund:
			if uc.collab.Refunds != nil {
				uc.collab.Refunds.Schedule(order.ID)
			}
			logger.Info("refund scheduled", zap.String("amount", effect.Amount.StringFixed(2)))
		case statemachine.EffectStartPrepTimer:
			if deadline := order.PreparationDeadline(); deadline != nil && uc.collab.Timers != nil {
				uc.collab.Timers.Start(order.ID, *deadline)
			}
		case statemachine.EffectStopPrepTimer:
			if uc.collab.Timers != nil {
				uc.collab.Timers.Stop(order.ID)
			}
		case statemachine.EffectRecomputeRevenue:
			if order.Revenue != nil {
				logger.Info("revenue split recorded",
					zap.String("restaurantShare", order.Revenue.RestaurantShare.StringFixed(2)),
					zap.String("platformRevenue", order.Revenue.PlatformRevenue.StringFixed(2)),
					zap.String("courierEarning", order.Revenue.CourierEarning.StringFixed(2)),
				)
			}
		}
	}
}

func (uc *OrderUseCase) notify(ctx context.Context, logger *zap.Logger, role domain.Role, recipientID, message string) {
	if uc.collab.Notifier == nil {
		return
	}
	if err := uc.collab.Notifier.Notify(ctx, role, recipientID, message); err != nil {
		logger.Warn("push notification failed", zap.String("role", string(role)), zap.String("recipientId", recipientID), zap.Error(err))
	}
}

func (uc *OrderUseCase) addToInbox(ctx context.Context, logger *zap.Logger, order domain.Order, typ domain.NotificationType, message string) {
	if uc.collab.Inbox == nil {
		return
	}
	orderID := order.ID
	if err := uc.collab.Inbox.AddNotification(ctx, order.RestaurantID, typ, &orderID, message); err != nil {
		logger.Warn("restaurant notification failed", zap.String("type", string(typ)), zap.Error(err))
	}
}

// HandlePrepOverdue is called when an order's preparation deadline passes.
func (uc *OrderUseCase) HandlePrepOverdue(ctx context.Context, orderID uuid.UUID) {
	logger := uc.logger.With(zap.String("orderId", orderID.String()))

	order, err := uc.orders.Load(ctx, orderID)
	if err != nil {
		logger.Warn("overdue check could not load order", zap.Error(err))
		return
	}
	if order.ReadyForDelivery {
		return
	}
	if order.Status != domain.OrderStatusAccepted && order.Status != domain.OrderStatusPreparing {
		return
	}

	logger.Info("order preparation overdue", zap.Int("preparationTimeMinutes", order.PreparationTimeMinutes))
	uc.addToInbox(ctx, logger, *order, domain.NotificationOrderOverdue,
		fmt.Sprintf("La commande %s dépasse le temps de préparation annoncé (%d min).", shortID(order.ID), order.PreparationTimeMinutes))
	uc.notify(ctx, logger, domain.RoleCustomer, order.UserID, "Votre commande prend un peu plus de temps que prévu.")
}

func shortID(id uuid.UUID) string {
	return id.String()[:8]
}
