package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrder_ItemsTotal_FromLineItems(t *testing.T) {
	order := Order{
		ID:                uuid.New(),
		LineItemsSubtotal: decimal.RequireFromString("99.99"),
		LineItems: []LineItem{
			{
				Name:      "Pizza Margherita",
				Quantity:  2,
				UnitPrice: decimal.RequireFromString("12.50"),
				Customizations: []Customization{
					{Name: "Pepperoni supplémentaire", Price: decimal.RequireFromString("2.50")},
					{Name: "Sans oignons", Price: decimal.Zero},
				},
			},
			{Name: "Coca-Cola", Quantity: 1, UnitPrice: decimal.RequireFromString("2.50")},
		},
	}

	assert.True(t, decimal.RequireFromString("32.50").Equal(order.ItemsTotal()))
}

func TestOrder_ItemsTotal_FallsBackToSubtotal(t *testing.T) {
	order := Order{LineItemsSubtotal: decimal.RequireFromString("20.00")}

	assert.True(t, decimal.RequireFromString("20.00").Equal(order.ItemsTotal()))
}

func TestOrder_TotalCharged(t *testing.T) {
	order := Order{
		LineItemsSubtotal: decimal.RequireFromString("20.00"),
		DeliveryFee:       decimal.RequireFromString("3.50"),
		PlatformFee:       decimal.RequireFromString("0.49"),
	}

	assert.True(t, decimal.RequireFromString("23.99").Equal(order.TotalCharged()))
}

func TestLineItem_Total_IgnoresNegativeValues(t *testing.T) {
	item := LineItem{
		Quantity:       3,
		UnitPrice:      decimal.RequireFromString("-4.00"),
		Customizations: []Customization{{Name: "bad", Price: decimal.RequireFromString("-1")}},
	}
	assert.True(t, item.Total().IsZero())

	item = LineItem{Quantity: 0, UnitPrice: decimal.RequireFromString("4.00")}
	assert.True(t, item.Total().IsZero())
}

func TestOrder_CourierHelpers(t *testing.T) {
	order := Order{}
	assert.False(t, order.HasCourier())
	assert.False(t, order.IsCourier("c-1"))

	courier := "c-1"
	order.CourierID = &courier
	assert.True(t, order.HasCourier())
	assert.True(t, order.IsCourier("c-1"))
	assert.False(t, order.IsCourier("c-2"))
}

func TestOrder_PreparationDeadline(t *testing.T) {
	order := Order{PreparationTimeMinutes: 20}
	assert.Nil(t, order.PreparationDeadline())

	accepted := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)
	order.AcceptedAt = &accepted
	deadline := order.PreparationDeadline()
	require.NotNil(t, deadline)
	assert.Equal(t, accepted.Add(20*time.Minute), *deadline)
}

func TestOrderStatus_Terminal(t *testing.T) {
	terminal := map[OrderStatus]bool{
		OrderStatusDelivered: true,
		OrderStatusRejected:  true,
		OrderStatusCanceled:  true,
	}
	for _, status := range AllOrderStatuses() {
		assert.Equal(t, terminal[status], status.IsTerminal(), status.String())
	}
}

func TestParseOrderStatus(t *testing.T) {
	status, err := ParseOrderStatus("pret_a_livrer")
	require.NoError(t, err)
	assert.Equal(t, OrderStatusReady, status)

	_, err = ParseOrderStatus("ready")
	assert.Error(t, err)
}

func TestParsePaymentAndRefundStatus(t *testing.T) {
	p, err := ParsePaymentStatus("paid")
	require.NoError(t, err)
	assert.Equal(t, PaymentStatusPaid, p)

	r, err := ParseRefundStatus("failed")
	require.NoError(t, err)
	assert.Equal(t, RefundStatusFailed, r)

	_, err = ParseRefundStatus("refundFailed")
	assert.Error(t, err)
}

func TestNewOrderChange_UsesCancellationReason(t *testing.T) {
	order := Order{
		ID:                 uuid.New(),
		Status:             OrderStatusCanceled,
		RejectionReason:    "",
		CancellationReason: "delai trop long",
		Version:            4,
	}

	change := NewOrderChange(OrderEventStatusChanged, OrderStatusPreparing, order)

	assert.Equal(t, "delai trop long", change.Reason)
	assert.Equal(t, OrderStatusPreparing, change.PreviousStatus)
	assert.Equal(t, int64(4), change.Version)
	assert.NotEqual(t, uuid.Nil, change.EventID)
}
