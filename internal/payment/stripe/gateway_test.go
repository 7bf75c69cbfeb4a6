package stripe

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v84"
	"go.uber.org/zap"

	"livraison/internal/payment"
)

type mockRefundAPI struct {
	NewFunc func(params *stripe.RefundParams) (*stripe.Refund, error)
}

func (m *mockRefundAPI) New(params *stripe.RefundParams) (*stripe.Refund, error) {
	return m.NewFunc(params)
}

func refundRequest(ref string) payment.RefundRequest {
	orderID := uuid.New()
	return payment.RefundRequest{
		OrderID:          orderID,
		PaymentReference: ref,
		Amount:           decimal.RequireFromString("23.99"),
		IdempotencyKey:   payment.IdempotencyKey(orderID),
	}
}

func TestRefund_PaymentIntent(t *testing.T) {
	var got *stripe.RefundParams
	api := &mockRefundAPI{
		NewFunc: func(params *stripe.RefundParams) (*stripe.Refund, error) {
			got = params
			return &stripe.Refund{ID: "re_1", Amount: 2399, Status: stripe.RefundStatusSucceeded}, nil
		},
	}
	g := newGateway(api, "", zap.NewNop())
	req := refundRequest("pi_123")

	res, err := g.Refund(context.Background(), req)

	require.NoError(t, err)
	assert.Equal(t, "re_1", res.ID)
	assert.True(t, decimal.RequireFromString("23.99").Equal(res.Amount))
	assert.Equal(t, "pi_123", *got.PaymentIntent)
	assert.Nil(t, got.Charge)
	assert.Equal(t, int64(2399), *got.Amount)
	assert.Equal(t, req.IdempotencyKey, *got.IdempotencyKey)
	assert.Equal(t, req.OrderID.String(), got.Metadata["order_id"])
}

func TestRefund_LegacyCharge(t *testing.T) {
	var got *stripe.RefundParams
	api := &mockRefundAPI{
		NewFunc: func(params *stripe.RefundParams) (*stripe.Refund, error) {
			got = params
			return &stripe.Refund{ID: "re_2", Amount: 2399, Status: stripe.RefundStatusPending}, nil
		},
	}

	_, err := newGateway(api, "eur", zap.NewNop()).Refund(context.Background(), refundRequest("ch_456"))

	require.NoError(t, err)
	assert.Equal(t, "ch_456", *got.Charge)
	assert.Nil(t, got.PaymentIntent)
}

func TestRefund_ErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		permanent bool
	}{
		{"not found", &stripe.Error{HTTPStatusCode: http.StatusNotFound}, true},
		{"bad request", &stripe.Error{HTTPStatusCode: http.StatusBadRequest}, true},
		{"rate limited", &stripe.Error{HTTPStatusCode: http.StatusTooManyRequests}, false},
		{"server error", &stripe.Error{HTTPStatusCode: http.StatusInternalServerError}, false},
		{"network", errors.New("connection reset"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &mockRefundAPI{
				NewFunc: func(params *stripe.RefundParams) (*stripe.Refund, error) { return nil, tt.err },
			}

			_, err := newGateway(api, "", zap.NewNop()).Refund(context.Background(), refundRequest("pi_1"))

			require.Error(t, err)
			assert.Equal(t, tt.permanent, payment.IsPermanent(err))
		})
	}
}

func TestRefund_FailedStatusIsPermanent(t *testing.T) {
	api := &mockRefundAPI{
		NewFunc: func(params *stripe.RefundParams) (*stripe.Refund, error) {
			return &stripe.Refund{ID: "re_3", Status: stripe.RefundStatusFailed}, nil
		},
	}

	_, err := newGateway(api, "", zap.NewNop()).Refund(context.Background(), refundRequest("pi_1"))

	assert.True(t, payment.IsPermanent(err))
}

func TestNewGateway_ValidatesKey(t *testing.T) {
	_, err := NewGateway(Config{Environment: "test"}, zap.NewNop())
	assert.ErrorIs(t, err, errAPIKeyRequired)

	_, err = NewGateway(Config{APIKey: "sk_live_x", Environment: "test"}, zap.NewNop())
	assert.Error(t, err)

	_, err = NewGateway(Config{APIKey: "sk_test_x", Environment: "staging"}, zap.NewNop())
	assert.ErrorIs(t, err, errInvalidStripeEnv)

	g, err := NewGateway(Config{APIKey: "sk_test_x"}, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "stripe", g.Name())
}
