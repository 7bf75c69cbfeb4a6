package usecase

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"livraison/internal/domain"
	apperrors "livraison/internal/errors"
	"livraison/internal/money"
)

type CreateOrderInput struct {
	RestaurantID      string
	Items             []domain.LineItem
	DeliveryLatitude  float64
	DeliveryLongitude float64
	// PaymentReference is the provider id of the charge made before checkout.
	PaymentReference string
}

// CreateOrder freezes line items, subtotal, delivery fee and platform fee.
// None of them is recomputed from client input afterwards.
func (uc *OrderUseCase) CreateOrder(ctx context.Context, actor domain.Actor, in CreateOrderInput) (*domain.Order, error) {
	if actor.Role != domain.RoleCustomer || actor.UserID == "" {
		return nil, apperrors.NewUnauthorizedError("only customers can place orders")
	}
	if len(in.Items) == 0 {
		return nil, apperrors.NewValidationError("order has no items", apperrors.ValidationDetail{
			Field:   "items",
			Message: "items must not be empty",
		})
	}

	restaurant, err := uc.restaurants.FindByID(ctx, in.RestaurantID)
	if err != nil {
		return nil, err
	}
	if restaurant.ManuallyClosed {
		return nil, apperrors.NewValidationError("restaurant is closed", apperrors.ValidationDetail{
			Field:   "restaurantId",
			Message: "the restaurant is not accepting orders right now",
		})
	}

	order := domain.Order{
		ID:            uuid.New(),
		UserID:        actor.UserID,
		RestaurantID:  restaurant.ID,
		Status:        domain.OrderStatusPending,
		PaymentStatus: domain.PaymentStatusPending,
		LineItems:     in.Items,
		RefundStatus:  domain.RefundStatusNone,
	}
	if ref := strings.TrimSpace(in.PaymentReference); ref != "" {
		order.PaymentStatus = domain.PaymentStatusPaid
		order.PaymentReference = ref
	}
	order.LineItemsSubtotal = order.ItemsTotal().Round(2)

	distance := money.HaversineKm(restaurant.Latitude, restaurant.Longitude, in.DeliveryLatitude, in.DeliveryLongitude)
	fee, err := uc.deliveryFees.DeliveryFee(distance, order.LineItemsSubtotal)
	if errors.Is(err, money.ErrOutOfDeliveryZone) {
		return nil, apperrors.NewValidationError("delivery address is out of zone", apperrors.ValidationDetail{
			Field:   "deliveryAddress",
			Message: fmt.Sprintf("delivery address is %.1f km away, beyond the delivery zone", distance),
		})
	}
	if err != nil {
		return nil, err
	}
	order.DeliveryFee = fee
	order.PlatformFee = uc.calculator.Policy().PlatformFlatFee

	if order.SecurityCode, err = newSecurityCode(); err != nil {
		return nil, apperrors.NewInternalError("could not generate security code", err)
	}
	now := uc.now()
	order.CreatedAt = now
	order.UpdatedAt = now

	logger := uc.logger.With(zap.String("orderId", order.ID.String()), zap.String("restaurantId", restaurant.ID))

	outcome, err := uc.lifecycle.Create(ctx, order)
	if err != nil {
		uc.observe("create", resultLabel(err))
		return nil, err
	}
	uc.observe("create", "ok")
	logger.Info("order created",
		zap.String("subtotal", outcome.Order.LineItemsSubtotal.StringFixed(2)),
		zap.String("deliveryFee", outcome.Order.DeliveryFee.StringFixed(2)),
		zap.String("paymentStatus", string(outcome.Order.PaymentStatus)),
	)

	uc.runEffects(ctx, logger, outcome)
	message := fmt.Sprintf("Nouvelle commande %s : %s €", shortID(order.ID), outcome.Order.LineItemsSubtotal.StringFixed(2))
	uc.addToInbox(ctx, logger, outcome.Order, domain.NotificationNewOrder, message)
	uc.notify(ctx, logger, domain.RoleRestaurant, restaurant.ID, message)

	return &outcome.Order, nil
}

// newSecurityCode returns the 6-digit code the customer gives the courier.
func newSecurityCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
