package statemachine

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"livraison/internal/domain"
	apperrors "livraison/internal/errors"
)

var (
	now        = time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)
	customer   = domain.Actor{UserID: "user-1", Role: domain.RoleCustomer}
	restaurant = domain.Actor{UserID: "owner-1", Role: domain.RoleRestaurant, RestaurantID: "resto-1"}
	courier    = domain.Actor{UserID: "courier-1", Role: domain.RoleCourier}
	admin      = domain.Actor{UserID: "admin-1", Role: domain.RoleAdmin}
)

var allCommands = []Command{
	CommandAccept, CommandReject, CommandStartPreparing, CommandMarkReady,
	CommandAssignCourier, CommandPickUp, CommandDeliver, CommandCancel, CommandAddDelay,
}

func newOrder(status domain.OrderStatus) domain.Order {
	return domain.Order{
		ID:                uuid.New(),
		UserID:            "user-1",
		RestaurantID:      "resto-1",
		Status:            status,
		PaymentStatus:     domain.PaymentStatusPaid,
		LineItemsSubtotal: decimal.RequireFromString("20.00"),
		DeliveryFee:       decimal.RequireFromString("3.50"),
		PlatformFee:       decimal.RequireFromString("0.49"),
		SecurityCode:      "123456",
		RefundStatus:      domain.RefundStatusNone,
		Version:           3,
	}
}

func withCourier(o domain.Order, id string) domain.Order {
	o.CourierID = &id
	return o
}

func TestTerminalStatusesAdmitNoCommand(t *testing.T) {
	terminals := []domain.OrderStatus{domain.OrderStatusDelivered, domain.OrderStatusRejected, domain.OrderStatusCanceled}

	for _, status := range terminals {
		assert.Empty(t, LegalCommands(status))
		for _, cmd := range allCommands {
			order := newOrder(status)
			_, err := Apply(order, cmd, admin, Input{PreparationTimeMinutes: 10, Reason: "x", ExtraMinutes: 5}, now)

			ite, ok := apperrors.IsInvalidTransitionError(err)
			require.Truef(t, ok, "%s from %s", cmd, status)
			assert.Equal(t, "order is already finalized", ite.Message)
		}
	}
}

func TestIllegalCommandsAreRejectedAndSnapshotUnchanged(t *testing.T) {
	for _, status := range domain.AllOrderStatuses() {
		for _, cmd := range allCommands {
			if IsLegal(status, cmd) {
				continue
			}
			order := newOrder(status)
			before := order

			res, err := Apply(order, cmd, admin, Input{PreparationTimeMinutes: 10, Reason: "x", ExtraMinutes: 5, CourierID: "c"}, now)

			_, ok := apperrors.IsInvalidTransitionError(err)
			assert.Truef(t, ok, "%s from %s should be invalid", cmd, status)
			assert.Equal(t, Result{}, res)
			assert.Equal(t, before, order)
		}
	}
}

func TestLegalCommandsTable(t *testing.T) {
	assert.Equal(t, []Command{CommandAccept, CommandReject, CommandCancel}, LegalCommands(domain.OrderStatusPending))
	assert.Equal(t, []Command{CommandDeliver, CommandCancel}, LegalCommands(domain.OrderStatusInDelivery))
	assert.False(t, IsLegal(domain.OrderStatusPending, CommandAssignCourier))
}

func TestAccept(t *testing.T) {
	res, err := Apply(newOrder(domain.OrderStatusPending), CommandAccept, restaurant, Input{PreparationTimeMinutes: 25}, now)

	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusAccepted, res.Order.Status)
	assert.Equal(t, domain.OrderStatusPending, res.Previous)
	assert.Equal(t, 25, res.Order.PreparationTimeMinutes)
	require.NotNil(t, res.Order.AcceptedAt)
	assert.Equal(t, now, *res.Order.AcceptedAt)
	assert.True(t, res.Has(EffectStartPrepTimer))
	assert.Contains(t, res.Effects[0].Message, "25 min")
	assert.Equal(t, domain.RoleCustomer, res.Effects[0].Role)
	assert.Equal(t, "user-1", res.Effects[0].RecipientID)
}

func TestAccept_RequiresPositivePrepTime(t *testing.T) {
	for _, minutes := range []int{0, -5} {
		_, err := Apply(newOrder(domain.OrderStatusPending), CommandAccept, restaurant, Input{PreparationTimeMinutes: minutes}, now)

		ve, ok := apperrors.IsValidationError(err)
		require.True(t, ok)
		assert.Equal(t, "preparationTimeMinutes", ve.Details[0].Field)
	}
}

func TestAccept_OtherRestaurantIsUnauthorized(t *testing.T) {
	other := domain.Actor{UserID: "owner-2", Role: domain.RoleRestaurant, RestaurantID: "resto-2"}

	_, err := Apply(newOrder(domain.OrderStatusPending), CommandAccept, other, Input{PreparationTimeMinutes: 10}, now)

	_, ok := apperrors.IsUnauthorizedError(err)
	assert.True(t, ok)
}

func TestAuthorizationCheckedBeforeValidation(t *testing.T) {
	_, err := Apply(newOrder(domain.OrderStatusPending), CommandAccept, customer, Input{}, now)

	_, ok := apperrors.IsUnauthorizedError(err)
	assert.True(t, ok)
}

func TestReject(t *testing.T) {
	res, err := Apply(newOrder(domain.OrderStatusPending), CommandReject, restaurant, Input{Reason: "  rupture de stock "}, now)

	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusRejected, res.Order.Status)
	assert.Equal(t, "rupture de stock", res.Order.RejectionReason)
	assert.Equal(t, domain.RefundStatusPending, res.Order.RefundStatus)
	assert.Nil(t, res.Order.RefundAmount)
	assert.Nil(t, res.Order.RefundedAt)

	var refund *Effect
	for i := range res.Effects {
		if res.Effects[i].Kind == EffectStartRefund {
			refund = &res.Effects[i]
		}
	}
	require.NotNil(t, refund)
	assert.True(t, decimal.RequireFromString("23.99").Equal(refund.Amount))
}

func TestReject_RequiresReason(t *testing.T) {
	_, err := Apply(newOrder(domain.OrderStatusPending), CommandReject, restaurant, Input{Reason: "   "}, now)

	_, ok := apperrors.IsValidationError(err)
	assert.True(t, ok)
}

func TestReject_UnpaidOrderHasNoRefund(t *testing.T) {
	order := newOrder(domain.OrderStatusPending)
	order.PaymentStatus = domain.PaymentStatusPending

	res, err := Apply(order, CommandReject, restaurant, Input{Reason: "fermé"}, now)

	require.NoError(t, err)
	assert.False(t, res.Has(EffectStartRefund))
	assert.Equal(t, domain.RefundStatusNone, res.Order.RefundStatus)
}

func TestMarkReady_SetsFlagAndStopsTimer(t *testing.T) {
	res, err := Apply(newOrder(domain.OrderStatusPreparing), CommandMarkReady, restaurant, Input{}, now)

	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusReady, res.Order.Status)
	assert.True(t, res.Order.ReadyForDelivery)
	assert.True(t, res.Has(EffectStopPrepTimer))
}

func TestAssignCourier(t *testing.T) {
	res, err := Apply(newOrder(domain.OrderStatusPreparing), CommandAssignCourier, courier, Input{}, now)

	require.NoError(t, err)
	require.NotNil(t, res.Order.CourierID)
	assert.Equal(t, "courier-1", *res.Order.CourierID)
	assert.Equal(t, domain.OrderStatusPreparing, res.Order.Status)
	for _, e := range res.Effects {
		assert.NotEqual(t, domain.RoleCourier, e.Role, "pickup notice must wait for readyForDelivery")
	}
}

func TestAssignCourier_ReadyOrderNotifiesCourier(t *testing.T) {
	order := newOrder(domain.OrderStatusReady)
	order.ReadyForDelivery = true

	res, err := Apply(order, CommandAssignCourier, courier, Input{}, now)

	require.NoError(t, err)
	last := res.Effects[len(res.Effects)-1]
	assert.Equal(t, domain.RoleCourier, last.Role)
	assert.Equal(t, "courier-1", last.RecipientID)
}

func TestAssignCourier_OnlyOnce(t *testing.T) {
	order := withCourier(newOrder(domain.OrderStatusPreparing), "courier-9")

	_, err := Apply(order, CommandAssignCourier, courier, Input{}, now)

	_, ok := apperrors.IsInvalidTransitionError(err)
	assert.True(t, ok)
}

func TestAssignCourier_CannotAssignSomeoneElse(t *testing.T) {
	_, err := Apply(newOrder(domain.OrderStatusPreparing), CommandAssignCourier, courier, Input{CourierID: "courier-2"}, now)

	_, ok := apperrors.IsUnauthorizedError(err)
	assert.True(t, ok)
}

func TestAssignCourier_AdminNeedsCourierID(t *testing.T) {
	_, err := Apply(newOrder(domain.OrderStatusAccepted), CommandAssignCourier, admin, Input{}, now)
	_, ok := apperrors.IsValidationError(err)
	assert.True(t, ok)

	res, err := Apply(newOrder(domain.OrderStatusAccepted), CommandAssignCourier, admin, Input{CourierID: "courier-7"}, now)
	require.NoError(t, err)
	assert.Equal(t, "courier-7", *res.Order.CourierID)
}

func TestPickUp(t *testing.T) {
	order := withCourier(newOrder(domain.OrderStatusReady), "courier-1")

	res, err := Apply(order, CommandPickUp, courier, Input{}, now)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusInDelivery, res.Order.Status)

	res, err = Apply(order, CommandPickUp, restaurant, Input{}, now)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusInDelivery, res.Order.Status)
}

func TestPickUp_RequiresCourier(t *testing.T) {
	_, err := Apply(newOrder(domain.OrderStatusReady), CommandPickUp, restaurant, Input{}, now)

	_, ok := apperrors.IsInvalidTransitionError(err)
	assert.True(t, ok)
}

func TestPickUp_OtherCourierUnauthorized(t *testing.T) {
	order := withCourier(newOrder(domain.OrderStatusReady), "courier-2")

	_, err := Apply(order, CommandPickUp, courier, Input{}, now)

	_, ok := apperrors.IsUnauthorizedError(err)
	assert.True(t, ok)
}

func TestDeliver(t *testing.T) {
	order := withCourier(newOrder(domain.OrderStatusInDelivery), "courier-1")

	res, err := Apply(order, CommandDeliver, courier, Input{SecurityCode: "123456"}, now)

	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusDelivered, res.Order.Status)
	assert.True(t, res.Has(EffectRecomputeRevenue))
	require.NotNil(t, res.Order.DeliveredAt)
}

func TestDeliver_WrongSecurityCode(t *testing.T) {
	order := withCourier(newOrder(domain.OrderStatusInDelivery), "courier-1")

	_, err := Apply(order, CommandDeliver, courier, Input{SecurityCode: "000000"}, now)

	ve, ok := apperrors.IsValidationError(err)
	require.True(t, ok)
	assert.Equal(t, "securityCode", ve.Details[0].Field)
}

func TestDeliver_RestaurantUnauthorized(t *testing.T) {
	order := withCourier(newOrder(domain.OrderStatusInDelivery), "courier-1")

	_, err := Apply(order, CommandDeliver, restaurant, Input{}, now)

	_, ok := apperrors.IsUnauthorizedError(err)
	assert.True(t, ok)
}

func TestCustomerCancel(t *testing.T) {
	t.Run("pending order", func(t *testing.T) {
		res, err := Apply(newOrder(domain.OrderStatusPending), CommandCancel, customer, Input{}, now)
		require.NoError(t, err)
		assert.Equal(t, domain.OrderStatusCanceled, res.Order.Status)
		assert.True(t, res.Has(EffectStartRefund))
		assert.Equal(t, "annulée par le client", res.Order.CancellationReason)
	})

	t.Run("preparing with short prep time", func(t *testing.T) {
		order := newOrder(domain.OrderStatusPreparing)
		order.PreparationTimeMinutes = 15
		_, err := Apply(order, CommandCancel, customer, Input{}, now)
		_, ok := apperrors.IsInvalidTransitionError(err)
		assert.True(t, ok)
	})

	t.Run("preparing with long prep time", func(t *testing.T) {
		order := newOrder(domain.OrderStatusPreparing)
		order.PreparationTimeMinutes = 45
		res, err := Apply(order, CommandCancel, customer, Input{Reason: "trop long"}, now)
		require.NoError(t, err)
		assert.Equal(t, domain.OrderStatusCanceled, res.Order.Status)
		assert.Equal(t, "trop long", res.Order.CancellationReason)
		assert.True(t, res.Has(EffectStartRefund))
		assert.True(t, res.Has(EffectStopPrepTimer))
	})

	t.Run("preparing with courier assigned", func(t *testing.T) {
		order := withCourier(newOrder(domain.OrderStatusPreparing), "courier-1")
		order.PreparationTimeMinutes = 45
		_, err := Apply(order, CommandCancel, customer, Input{}, now)
		_, ok := apperrors.IsInvalidTransitionError(err)
		assert.True(t, ok)
	})

	t.Run("accepted order", func(t *testing.T) {
		_, err := Apply(newOrder(domain.OrderStatusAccepted), CommandCancel, customer, Input{}, now)
		_, ok := apperrors.IsInvalidTransitionError(err)
		assert.True(t, ok)
	})

	t.Run("someone else's order", func(t *testing.T) {
		stranger := domain.Actor{UserID: "user-2", Role: domain.RoleCustomer}
		_, err := Apply(newOrder(domain.OrderStatusPending), CommandCancel, stranger, Input{}, now)
		_, ok := apperrors.IsUnauthorizedError(err)
		assert.True(t, ok)
	})
}

func TestCancel_AdminAnyNonTerminal(t *testing.T) {
	order := withCourier(newOrder(domain.OrderStatusInDelivery), "courier-1")

	res, err := Apply(order, CommandCancel, admin, Input{}, now)

	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCanceled, res.Order.Status)
	assert.Equal(t, "courier-1", *res.Order.CourierID)
	var courierNotified bool
	for _, e := range res.Effects {
		if e.Kind == EffectNotify && e.Role == domain.RoleCourier {
			courierNotified = true
		}
	}
	assert.True(t, courierNotified)
}

func TestCancel_RestaurantUnauthorized(t *testing.T) {
	_, err := Apply(newOrder(domain.OrderStatusPending), CommandCancel, restaurant, Input{}, now)

	_, ok := apperrors.IsUnauthorizedError(err)
	assert.True(t, ok)
}

func TestAddDelay(t *testing.T) {
	order := newOrder(domain.OrderStatusPreparing)
	order.PreparationTimeMinutes = 20

	res, err := Apply(order, CommandAddDelay, restaurant, Input{ExtraMinutes: 10}, now)

	require.NoError(t, err)
	assert.Equal(t, 30, res.Order.PreparationTimeMinutes)
	assert.Equal(t, 20, order.PreparationTimeMinutes)
	assert.True(t, res.Has(EffectStartPrepTimer))
}

func TestAddDelay_RejectsDecrease(t *testing.T) {
	order := newOrder(domain.OrderStatusPreparing)
	order.PreparationTimeMinutes = 20

	for _, extra := range []int{0, -10} {
		_, err := Apply(order, CommandAddDelay, restaurant, Input{ExtraMinutes: extra}, now)
		_, ok := apperrors.IsValidationError(err)
		assert.True(t, ok)
	}
}

func TestApply_DoesNotMutateInput(t *testing.T) {
	order := newOrder(domain.OrderStatusPending)
	before := order

	_, err := Apply(order, CommandAccept, restaurant, Input{PreparationTimeMinutes: 10}, now)

	require.NoError(t, err)
	assert.Equal(t, before, order)
}
