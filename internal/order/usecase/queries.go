package usecase

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"livraison/internal/domain"
	apperrors "livraison/internal/errors"
	"livraison/internal/money"
	"livraison/internal/order/repository"
	"livraison/internal/order/service"
	"livraison/internal/order/statemachine"
)

// courierOfferStatuses are the statuses in which an unassigned order is
// offered to every courier.
var courierOfferStatuses = []domain.OrderStatus{
	domain.OrderStatusAccepted,
	domain.OrderStatusPreparing,
	domain.OrderStatusReady,
}

type OrderView struct {
	Order         domain.Order
	Split         domain.RevenueSplit
	LegalCommands []statemachine.Command
}

type ListOrdersQuery struct {
	RestaurantID string
	UserID       string
	Available    bool
	Status       domain.OrderStatus
	Limit        int
}

type OrderRevenue struct {
	OrderID     uuid.UUID
	DeliveredAt *time.Time
	Split       domain.RevenueSplit
}

type RevenueReport struct {
	RestaurantID string
	From         time.Time
	To           time.Time
	Totals       money.Totals
	Orders       []OrderRevenue
}

func (uc *OrderUseCase) GetOrder(ctx context.Context, actor domain.Actor, orderID uuid.UUID) (*OrderView, error) {
	order, err := uc.orders.Load(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !canView(actor, *order) {
		// Same answer as a missing order so ids cannot be probed.
		return nil, apperrors.NewNotFoundError("order not found")
	}

	restaurant, err := uc.restaurants.FindByID(ctx, order.RestaurantID)
	if err != nil {
		return nil, err
	}
	return &OrderView{
		Order:         *order,
		Split:         uc.calculator.SplitForOrder(*order, *restaurant),
		LegalCommands: statemachine.LegalCommands(order.Status),
	}, nil
}

func canView(actor domain.Actor, o domain.Order) bool {
	switch actor.Role {
	case domain.RoleAdmin, domain.RoleSystem:
		return true
	case domain.RoleCustomer:
		return actor.UserID == o.UserID
	case domain.RoleRestaurant:
		return actor.RestaurantID != "" && actor.RestaurantID == o.RestaurantID
	case domain.RoleCourier:
		if o.HasCourier() {
			return o.IsCourier(actor.UserID)
		}
		return isOfferStatus(o.Status)
	}
	return false
}

func isOfferStatus(status domain.OrderStatus) bool {
	for _, s := range courierOfferStatuses {
		if s == status {
			return true
		}
	}
	return false
}

// ListOrders scopes the query to what the actor may see; only admins can
// query arbitrary restaurants or customers.
func (uc *OrderUseCase) ListOrders(ctx context.Context, actor domain.Actor, q ListOrdersQuery) ([]domain.Order, error) {
	filter := repository.OrderFilter{Limit: q.Limit}
	if q.Status != "" {
		filter.Statuses = []domain.OrderStatus{q.Status}
	}

	switch actor.Role {
	case domain.RoleCustomer:
		filter.UserID = actor.UserID
	case domain.RoleRestaurant:
		if q.RestaurantID != "" && q.RestaurantID != actor.RestaurantID {
			return nil, apperrors.NewUnauthorizedError("restaurant can only list its own orders")
		}
		filter.RestaurantID = actor.RestaurantID
	case domain.RoleCourier:
		if q.Available {
			filter.Available = true
			filter.Statuses = courierOfferStatuses
		} else {
			filter.CourierID = actor.UserID
		}
	case domain.RoleAdmin, domain.RoleSystem:
		filter.RestaurantID = q.RestaurantID
		filter.UserID = q.UserID
		filter.Available = q.Available
	default:
		return nil, apperrors.NewUnauthorizedError("unknown role")
	}

	return uc.orders.List(ctx, filter)
}

// RevenueReport aggregates paid, delivered orders over [from, to). Splits are
// recomputed from line items, not read from the stored snapshot.
func (uc *OrderUseCase) RevenueReport(ctx context.Context, actor domain.Actor, restaurantID string, from, to time.Time) (*RevenueReport, error) {
	if !actor.IsPrivileged() && !(actor.Role == domain.RoleRestaurant && actor.RestaurantID == restaurantID) {
		return nil, apperrors.NewUnauthorizedError("not allowed to read this restaurant's revenue")
	}
	if !from.Before(to) {
		return nil, apperrors.NewValidationError("invalid period", apperrors.ValidationDetail{
			Field:   "from",
			Message: "from must be before to",
		})
	}

	restaurant, err := uc.restaurants.FindByID(ctx, restaurantID)
	if err != nil {
		return nil, err
	}
	orders, err := uc.orders.ListPaidDelivered(ctx, restaurantID, from, to)
	if err != nil {
		return nil, err
	}

	report := &RevenueReport{RestaurantID: restaurantID, From: from, To: to, Orders: make([]OrderRevenue, 0, len(orders))}
	splits := make([]domain.RevenueSplit, 0, len(orders))
	for _, o := range orders {
		if o.PaymentStatus != domain.PaymentStatusPaid {
			continue
		}
		split := uc.calculator.SplitForOrder(o, *restaurant)
		splits = append(splits, split)
		report.Orders = append(report.Orders, OrderRevenue{OrderID: o.ID, DeliveredAt: o.DeliveredAt, Split: split})
	}
	report.Totals = money.Aggregate(splits)
	return report, nil
}

// RetryRefund puts a failed refund back in the queue.
func (uc *OrderUseCase) RetryRefund(ctx context.Context, actor domain.Actor, orderID uuid.UUID) (*domain.Order, error) {
	if !actor.IsPrivileged() {
		return nil, apperrors.NewUnauthorizedError("only an admin can retry a refund")
	}
	logger := uc.logger.With(zap.String("orderId", orderID.String()), zap.String("transition", "retry_refund"))

	outcome, err := uc.mutate(ctx, logger, orderID, func(o *domain.Order) (bool, error) {
		if o.RefundStatus != domain.RefundStatusFailed {
			return false, apperrors.NewInvalidTransitionError(string(o.Status), "retry_refund", "refund is not in a failed state")
		}
		o.RefundStatus = domain.RefundStatusPending
		return true, nil
	})
	if err != nil {
		uc.observe("retry_refund", resultLabel(err))
		return nil, err
	}
	uc.observe("retry_refund", "ok")

	if uc.collab.Outbox != nil {
		uc.collab.Outbox.Wake()
	}
	if uc.collab.Refunds != nil {
		uc.collab.Refunds.Schedule(orderID)
	}
	return &outcome.Order, nil
}

// RecordRefundSucceeded books a confirmed refund. Only a pending refund is
// updated so replays are harmless.
func (uc *OrderUseCase) RecordRefundSucceeded(ctx context.Context, orderID uuid.UUID, refundID string, amount decimal.Decimal) error {
	logger := uc.logger.With(zap.String("orderId", orderID.String()))
	at := uc.now()
	booked := false

	outcome, err := uc.mutate(ctx, logger, orderID, func(o *domain.Order) (bool, error) {
		booked = false
		if o.RefundStatus != domain.RefundStatusPending {
			return false, nil
		}
		booked = true
		o.RefundStatus = domain.RefundStatusRefunded
		o.PaymentStatus = domain.PaymentStatusRefunded
		o.RefundAmount = &amount
		o.RefundedAt = &at
		o.RefundID = refundID
		return true, nil
	})
	if err != nil {
		return err
	}

	if booked {
		uc.notify(ctx, logger, domain.RoleCustomer, outcome.Order.UserID,
			"Votre remboursement de "+amount.StringFixed(2)+" € a été effectué.")
	}
	if uc.collab.Outbox != nil {
		uc.collab.Outbox.Wake()
	}
	return nil
}

// RecordRefundFailed flags a refund whose retries are exhausted. Amount and
// date stay unset.
func (uc *OrderUseCase) RecordRefundFailed(ctx context.Context, orderID uuid.UUID, cause error) error {
	logger := uc.logger.With(zap.String("orderId", orderID.String()))
	logger.Error("refund failed, manual retry required", zap.Error(cause))

	_, err := uc.mutate(ctx, logger, orderID, func(o *domain.Order) (bool, error) {
		if o.RefundStatus != domain.RefundStatusPending {
			return false, nil
		}
		o.RefundStatus = domain.RefundStatusFailed
		return true, nil
	})
	if err != nil {
		return err
	}
	if uc.collab.Outbox != nil {
		uc.collab.Outbox.Wake()
	}
	return nil
}

func (uc *OrderUseCase) mutate(ctx context.Context, logger *zap.Logger, orderID uuid.UUID, fn func(o *domain.Order) (bool, error)) (*service.Outcome, error) {
	var outcome *service.Outcome
	err := uc.withRetry(ctx, logger, func() error {
		var err error
		outcome, err = uc.lifecycle.Mutate(ctx, orderID, domain.OrderEventRefundUpdated, fn)
		return err
	})
	return outcome, err
}
