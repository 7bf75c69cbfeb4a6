package controller

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"livraison/internal/auth"
	"livraison/internal/domain"
	"livraison/internal/dto"
	apperrors "livraison/internal/errors"
	"livraison/internal/money"
	"livraison/internal/order/statemachine"
	"livraison/internal/order/usecase"
)

type mockOrderUseCase struct {
	OrderUseCase
	CreateOrderFunc   func(ctx context.Context, actor domain.Actor, in usecase.CreateOrderInput) (*domain.Order, error)
	GetOrderFunc      func(ctx context.Context, actor domain.Actor, orderID uuid.UUID) (*usecase.OrderView, error)
	ListOrdersFunc    func(ctx context.Context, actor domain.Actor, q usecase.ListOrdersQuery) ([]domain.Order, error)
	AcceptFunc        func(ctx context.Context, actor domain.Actor, orderID uuid.UUID, prepMinutes int) (*domain.Order, error)
	CancelFunc        func(ctx context.Context, actor domain.Actor, orderID uuid.UUID, reason string) (*domain.Order, error)
	MarkPreparingFunc func(ctx context.Context, actor domain.Actor, orderID uuid.UUID) (*domain.Order, error)
	MarkDeliveredFunc func(ctx context.Context, actor domain.Actor, orderID uuid.UUID, securityCode string) (*domain.Order, error)
	RevenueReportFunc func(ctx context.Context, actor domain.Actor, restaurantID string, from, to time.Time) (*usecase.RevenueReport, error)
}

func (m *mockOrderUseCase) CreateOrder(ctx context.Context, actor domain.Actor, in usecase.CreateOrderInput) (*domain.Order, error) {
	return m.CreateOrderFunc(ctx, actor, in)
}

func (m *mockOrderUseCase) GetOrder(ctx context.Context, actor domain.Actor, orderID uuid.UUID) (*usecase.OrderView, error) {
	return m.GetOrderFunc(ctx, actor, orderID)
}

func (m *mockOrderUseCase) ListOrders(ctx context.Context, actor domain.Actor, q usecase.ListOrdersQuery) ([]domain.Order, error) {
	return m.ListOrdersFunc(ctx, actor, q)
}

func (m *mockOrderUseCase) Accept(ctx context.Context, actor domain.Actor, orderID uuid.UUID, prepMinutes int) (*domain.Order, error) {
	return m.AcceptFunc(ctx, actor, orderID, prepMinutes)
}

func (m *mockOrderUseCase) Cancel(ctx context.Context, actor domain.Actor, orderID uuid.UUID, reason string) (*domain.Order, error) {
	return m.CancelFunc(ctx, actor, orderID, reason)
}

func (m *mockOrderUseCase) MarkPreparing(ctx context.Context, actor domain.Actor, orderID uuid.UUID) (*domain.Order, error) {
	return m.MarkPreparingFunc(ctx, actor, orderID)
}

func (m *mockOrderUseCase) MarkDelivered(ctx context.Context, actor domain.Actor, orderID uuid.UUID, securityCode string) (*domain.Order, error) {
	return m.MarkDeliveredFunc(ctx, actor, orderID, securityCode)
}

func (m *mockOrderUseCase) RevenueReport(ctx context.Context, actor domain.Actor, restaurantID string, from, to time.Time) (*usecase.RevenueReport, error) {
	return m.RevenueReportFunc(ctx, actor, restaurantID, from, to)
}

var (
	customerActor   = domain.Actor{UserID: "user-1", Role: domain.RoleCustomer}
	restaurantActor = domain.Actor{UserID: "owner-1", Role: domain.RoleRestaurant, RestaurantID: "resto-1"}
	courierActor    = domain.Actor{UserID: "courier-1", Role: domain.RoleCourier}
)

func serve(t *testing.T, uc OrderUseCase, actor domain.Actor, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	ctrl := NewOrderController(uc, zap.NewNop())
	ctrl.now = func() time.Time { return time.Date(2026, 10, 15, 19, 30, 0, 0, time.UTC) }

	router := chi.NewRouter()
	router.Route("/orders", ctrl.Routes)
	router.Get("/restaurants/{restaurantId}/revenue", ctrl.HandleRevenue)

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req = req.WithContext(auth.WithActor(req.Context(), actor))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func sampleOrder() domain.Order {
	courier := "courier-1"
	return domain.Order{
		ID:                uuid.New(),
		UserID:            "user-1",
		RestaurantID:      "resto-1",
		CourierID:         &courier,
		Status:            domain.OrderStatusInDelivery,
		PaymentStatus:     domain.PaymentStatusPaid,
		LineItemsSubtotal: decimal.RequireFromString("20"),
		DeliveryFee:       decimal.RequireFromString("3.5"),
		PlatformFee:       decimal.RequireFromString("0.49"),
		SecurityCode:      "123456",
		RefundStatus:      domain.RefundStatusNone,
		Version:           4,
	}
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body
}

func TestHandleCreate_Success(t *testing.T) {
	var got usecase.CreateOrderInput
	uc := &mockOrderUseCase{
		CreateOrderFunc: func(ctx context.Context, actor domain.Actor, in usecase.CreateOrderInput) (*domain.Order, error) {
			got = in
			o := sampleOrder()
			o.Status = domain.OrderStatusPending
			return &o, nil
		},
	}

	body := `{
		"restaurantId": "resto-1",
		"items": [{"menuItemId": "m1", "name": "Burger", "quantity": 2, "unitPrice": "9.50",
			"customizations": [{"name": "bacon", "price": 1}, {"name": "sans oignon", "price": 0}]}],
		"deliveryAddress": {"latitude": 48.85, "longitude": 2.35},
		"paymentReference": "pi_123"
	}`
	rec := serve(t, uc, customerActor, http.MethodPost, "/orders", body)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Header().Get("Location"), "/orders/"))
	require.Len(t, got.Items, 1)
	assert.Equal(t, "9.5", got.Items[0].UnitPrice.String())
	assert.Len(t, got.Items[0].Customizations, 2)
	assert.Equal(t, 48.85, got.DeliveryLatitude)
	assert.Equal(t, "pi_123", got.PaymentReference)

	var resp dto.OrderResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "en_attente", resp.Status)
	assert.Equal(t, "23.99", resp.Total)
	assert.Equal(t, "123456", resp.SecurityCode)
}

func TestHandleCreate_Validation(t *testing.T) {
	uc := &mockOrderUseCase{}
	tests := []struct {
		name  string
		body  string
		field string
	}{
		{"no items", `{"restaurantId":"r","items":[],"deliveryAddress":{"latitude":1,"longitude":1}}`, "items"},
		{"missing address", `{"restaurantId":"r","items":[{"menuItemId":"m","name":"n","quantity":1,"unitPrice":"1"}]}`, "deliveryAddress.latitude"},
		{"bad latitude", `{"restaurantId":"r","items":[{"menuItemId":"m","name":"n","quantity":1,"unitPrice":"1"}],"deliveryAddress":{"latitude":120,"longitude":1}}`, "deliveryAddress.latitude"},
		{"zero quantity", `{"restaurantId":"r","items":[{"menuItemId":"m","name":"n","quantity":0,"unitPrice":"1"}],"deliveryAddress":{"latitude":1,"longitude":1}}`, "items[0].quantity"},
		{"negative price", `{"restaurantId":"r","items":[{"menuItemId":"m","name":"n","quantity":1,"unitPrice":"-1"}],"deliveryAddress":{"latitude":1,"longitude":1}}`, "items[0].unitPrice"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(t, uc, customerActor, http.MethodPost, "/orders", tt.body)
			require.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), `"field":"`+tt.field+`"`)
		})
	}
}

func TestHandleAccept_PassesPrepTime(t *testing.T) {
	var gotMinutes int
	uc := &mockOrderUseCase{
		AcceptFunc: func(ctx context.Context, actor domain.Actor, orderID uuid.UUID, prepMinutes int) (*domain.Order, error) {
			gotMinutes = prepMinutes
			o := sampleOrder()
			o.Status = domain.OrderStatusAccepted
			o.PreparationTimeMinutes = prepMinutes
			return &o, nil
		},
	}

	rec := serve(t, uc, restaurantActor, http.MethodPost, "/orders/"+uuid.NewString()+"/accept", `{"preparationTimeMinutes": 25}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 25, gotMinutes)

	var resp dto.OrderResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, 25, resp.PreparationTimeMinutes)
	// Restaurants never see the handoff code.
	assert.Empty(t, resp.SecurityCode)
}

func TestHandleAccept_RejectsMissingPrepTime(t *testing.T) {
	rec := serve(t, &mockOrderUseCase{}, restaurantActor, http.MethodPost, "/orders/"+uuid.NewString()+"/accept", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "preparationTimeMinutes must be at least 1")
}

func TestHandleCommand_InvalidOrderID(t *testing.T) {
	rec := serve(t, &mockOrderUseCase{}, restaurantActor, http.MethodPost, "/orders/42/preparing", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleCommand_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"terminal", apperrors.NewInvalidTransitionError("livree", "cancel", "order is already finalized"), http.StatusConflict, "INVALID_TRANSITION"},
		{"forbidden", apperrors.NewUnauthorizedError("not your order"), http.StatusForbidden, "FORBIDDEN"},
		{"race", apperrors.NewConcurrentModificationError("order changed concurrently", 3), http.StatusConflict, "CONCURRENT_MODIFICATION"},
		{"missing", apperrors.NewNotFoundError("order not found"), http.StatusNotFound, "NOT_FOUND"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			uc := &mockOrderUseCase{
				CancelFunc: func(ctx context.Context, actor domain.Actor, orderID uuid.UUID, reason string) (*domain.Order, error) {
					return nil, tt.err
				},
			}
			rec := serve(t, uc, customerActor, http.MethodPost, "/orders/"+uuid.NewString()+"/cancel", "")
			require.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.code, decodeError(t, rec)["code"])
		})
	}
}

func TestHandleDeliver_CodeIsOptionalButWellFormed(t *testing.T) {
	var gotCode string
	uc := &mockOrderUseCase{
		MarkDeliveredFunc: func(ctx context.Context, actor domain.Actor, orderID uuid.UUID, securityCode string) (*domain.Order, error) {
			gotCode = securityCode
			o := sampleOrder()
			o.Status = domain.OrderStatusDelivered
			return &o, nil
		},
	}
	id := uuid.NewString()

	rec := serve(t, uc, courierActor, http.MethodPost, "/orders/"+id+"/deliver", `{"securityCode":"123456"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "123456", gotCode)
	var resp dto.OrderResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Empty(t, resp.SecurityCode)

	rec = serve(t, uc, courierActor, http.MethodPost, "/orders/"+id+"/deliver", `{"securityCode":"12ab"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleGet_IncludesSplitAndCommands(t *testing.T) {
	order := sampleOrder()
	uc := &mockOrderUseCase{
		GetOrderFunc: func(ctx context.Context, actor domain.Actor, orderID uuid.UUID) (*usecase.OrderView, error) {
			return &usecase.OrderView{
				Order: order,
				Split: domain.RevenueSplit{
					Subtotal:        decimal.RequireFromString("20"),
					RestaurantShare: decimal.RequireFromString("16"),
					PlatformRevenue: decimal.RequireFromString("4.59"),
					CourierEarning:  decimal.RequireFromString("3.4"),
				},
				LegalCommands: statemachine.LegalCommands(order.Status),
			}, nil
		},
	}

	rec := serve(t, uc, customerActor, http.MethodGet, "/orders/"+order.ID.String(), "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp dto.OrderDetailResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, order.ID.String(), resp.ID)
	assert.Equal(t, "16.00", resp.Split.RestaurantShare)
	assert.Equal(t, "4.59", resp.Split.PlatformRevenue)
	assert.Contains(t, resp.LegalCommands, string(statemachine.CommandDeliver))
}

func TestHandleList_ParsesQuery(t *testing.T) {
	var got usecase.ListOrdersQuery
	uc := &mockOrderUseCase{
		ListOrdersFunc: func(ctx context.Context, actor domain.Actor, q usecase.ListOrdersQuery) ([]domain.Order, error) {
			got = q
			return []domain.Order{sampleOrder()}, nil
		},
	}

	rec := serve(t, uc, courierActor, http.MethodGet, "/orders?available=true&status=pret_a_livrer&limit=20", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, got.Available)
	assert.Equal(t, domain.OrderStatusReady, got.Status)
	assert.Equal(t, 20, got.Limit)

	var resp dto.OrderListResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Len(t, resp.Orders, 1)

	rec = serve(t, uc, courierActor, http.MethodGet, "/orders?status=shipped&limit=0", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `"field":"status"`)
	assert.Contains(t, body, `"field":"limit"`)
}

func TestHandleRevenue_Period(t *testing.T) {
	var gotFrom, gotTo time.Time
	uc := &mockOrderUseCase{
		RevenueReportFunc: func(ctx context.Context, actor domain.Actor, restaurantID string, from, to time.Time) (*usecase.RevenueReport, error) {
			gotFrom, gotTo = from, to
			return &usecase.RevenueReport{
				RestaurantID: restaurantID,
				From:         from,
				To:           to,
				Totals:       money.Totals{OrderCount: 1, RestaurantShare: decimal.RequireFromString("16")},
			}, nil
		},
	}

	rec := serve(t, uc, restaurantActor, http.MethodGet, "/restaurants/resto-1/revenue", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC), gotFrom)
	assert.Equal(t, time.Date(2026, 10, 15, 19, 30, 0, 0, time.UTC), gotTo)

	var resp dto.RevenueReportResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, 1, resp.Totals.OrderCount)
	assert.Equal(t, "16.00", resp.Totals.RestaurantShare)

	rec = serve(t, uc, restaurantActor, http.MethodGet, "/restaurants/resto-1/revenue?from=2026-09-01&to=2026-10-01T00:00:00Z", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC), gotFrom)
	assert.Equal(t, time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC), gotTo)

	rec = serve(t, uc, restaurantActor, http.MethodGet, "/restaurants/resto-1/revenue?from=yesterday", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
