package controller

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"livraison/internal/auth"
	"livraison/internal/commons"
	"livraison/internal/domain"
	"livraison/internal/dto"
	apperrors "livraison/internal/errors"
	"livraison/internal/order/usecase"
)

type OrderUseCase interface {
	CreateOrder(ctx context.Context, actor domain.Actor, in usecase.CreateOrderInput) (*domain.Order, error)
	GetOrder(ctx context.Context, actor domain.Actor, orderID uuid.UUID) (*usecase.OrderView, error)
	ListOrders(ctx context.Context, actor domain.Actor, q usecase.ListOrdersQuery) ([]domain.Order, error)
	Accept(ctx context.Context, actor domain.Actor, orderID uuid.UUID, prepMinutes int) (*domain.Order, error)
	Reject(ctx context.Context, actor domain.Actor, orderID uuid.UUID, reason string) (*domain.Order, error)
	MarkPreparing(ctx context.Context, actor domain.Actor, orderID uuid.UUID) (*domain.Order, error)
	MarkReady(ctx context.Context, actor domain.Actor, orderID uuid.UUID) (*domain.Order, error)
	AssignCourier(ctx context.Context, actor domain.Actor, orderID uuid.UUID, courierID string) (*domain.Order, error)
	MarkPickedUp(ctx context.Context, actor domain.Actor, orderID uuid.UUID) (*domain.Order, error)
	MarkDelivered(ctx context.Context, actor domain.Actor, orderID uuid.UUID, securityCode string) (*domain.Order, error)
	Cancel(ctx context.Context, actor domain.Actor, orderID uuid.UUID, reason string) (*domain.Order, error)
	AddDelay(ctx context.Context, actor domain.Actor, orderID uuid.UUID, extraMinutes int) (*domain.Order, error)
	RetryRefund(ctx context.Context, actor domain.Actor, orderID uuid.UUID) (*domain.Order, error)
	RevenueReport(ctx context.Context, actor domain.Actor, restaurantID string, from, to time.Time) (*usecase.RevenueReport, error)
}

type OrderController struct {
	useCase OrderUseCase
	logger  *zap.Logger
	now     func() time.Time
}

func NewOrderController(useCase OrderUseCase, logger *zap.Logger) *OrderController {
	return &OrderController{
		useCase: useCase,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Routes mounts under /orders.
func (c *OrderController) Routes(r chi.Router) {
	r.Post("/", c.HandleCreate)
	r.Get("/", c.HandleList)
	r.Route("/{orderId}", func(r chi.Router) {
		r.Get("/", c.HandleGet)
		r.Post("/accept", c.HandleAccept)
		r.Post("/reject", c.HandleReject)
		r.Post("/preparing", c.HandlePreparing)
		r.Post("/ready", c.HandleReady)
		r.Post("/assign-courier", c.HandleAssignCourier)
		r.Post("/pickup", c.HandlePickUp)
		r.Post("/deliver", c.HandleDeliver)
		r.Post("/cancel", c.HandleCancel)
		r.Post("/delay", c.HandleDelay)
		r.Post("/refund/retry", c.HandleRetryRefund)
	})
}

func (c *OrderController) HandleCreate(w http.ResponseWriter, r *http.Request) {
	r, traceID, logger := commons.TraceLogger(r, c.logger)
	actor, _ := auth.ActorFrom(r.Context())

	var req dto.CreateOrderRequest
	if err := commons.DecodeJSON(r, &req, false); err != nil {
		logger.Warn("invalid request body", zap.Error(err))
		commons.WriteError(w, logger, traceID, err)
		return
	}
	in, details := toCreateOrderInput(req)
	if len(details) > 0 {
		commons.WriteValidationError(w, logger, traceID, "invalid prices", details...)
		return
	}

	order, err := c.useCase.CreateOrder(r.Context(), actor, in)
	if err != nil {
		commons.WriteError(w, logger, traceID, err)
		return
	}
	w.Header().Set("Location", "/orders/"+order.ID.String())
	commons.WriteJSON(w, logger, http.StatusCreated, dto.NewOrderResponse(*order, actor))
}

func (c *OrderController) HandleList(w http.ResponseWriter, r *http.Request) {
	r, traceID, logger := commons.TraceLogger(r, c.logger)
	actor, _ := auth.ActorFrom(r.Context())

	q, err := parseListQuery(r)
	if err != nil {
		commons.WriteError(w, logger, traceID, err)
		return
	}

	orders, err := c.useCase.ListOrders(r.Context(), actor, q)
	if err != nil {
		commons.WriteError(w, logger, traceID, err)
		return
	}
	commons.WriteJSON(w, logger, http.StatusOK, dto.NewOrderListResponse(orders, actor))
}

func (c *OrderController) HandleGet(w http.ResponseWriter, r *http.Request) {
	r, traceID, logger := commons.TraceLogger(r, c.logger)
	actor, _ := auth.ActorFrom(r.Context())

	orderID, ok := c.orderID(w, r, traceID, logger)
	if !ok {
		return
	}
	view, err := c.useCase.GetOrder(r.Context(), actor, orderID)
	if err != nil {
		commons.WriteError(w, logger, traceID, err)
		return
	}

	resp := dto.OrderDetailResponse{
		OrderResponse: dto.NewOrderResponse(view.Order, actor),
		Split:         dto.NewSplitResponse(view.Split),
		LegalCommands: make([]string, 0, len(view.LegalCommands)),
	}
	for _, cmd := range view.LegalCommands {
		resp.LegalCommands = append(resp.LegalCommands, string(cmd))
	}
	commons.WriteJSON(w, logger, http.StatusOK, resp)
}

func (c *OrderController) HandleAccept(w http.ResponseWriter, r *http.Request) {
	var req dto.AcceptOrderRequest
	c.command(w, r, &req, false, func(ctx context.Context, actor domain.Actor, id uuid.UUID) (*domain.Order, error) {
		return c.useCase.Accept(ctx, actor, id, req.PreparationTimeMinutes)
	})
}

func (c *OrderController) HandleReject(w http.ResponseWriter, r *http.Request) {
	var req dto.RejectOrderRequest
	c.command(w, r, &req, false, func(ctx context.Context, actor domain.Actor, id uuid.UUID) (*domain.Order, error) {
		return c.useCase.Reject(ctx, actor, id, req.Reason)
	})
}

func (c *OrderController) HandlePreparing(w http.ResponseWriter, r *http.Request) {
	c.command(w, r, nil, true, c.useCase.MarkPreparing)
}

func (c *OrderController) HandleReady(w http.ResponseWriter, r *http.Request) {
	c.command(w, r, nil, true, c.useCase.MarkReady)
}

func (c *OrderController) HandleAssignCourier(w http.ResponseWriter, r *http.Request) {
	var req dto.AssignCourierRequest
	c.command(w, r, &req, true, func(ctx context.Context, actor domain.Actor, id uuid.UUID) (*domain.Order, error) {
		return c.useCase.AssignCourier(ctx, actor, id, req.CourierID)
	})
}

func (c *OrderController) HandlePickUp(w http.ResponseWriter, r *http.Request) {
	c.command(w, r, nil, true, c.useCase.MarkPickedUp)
}

func (c *OrderController) HandleDeliver(w http.ResponseWriter, r *http.Request) {
	var req dto.DeliverOrderRequest
	c.command(w, r, &req, true, func(ctx context.Context, actor domain.Actor, id uuid.UUID) (*domain.Order, error) {
		return c.useCase.MarkDelivered(ctx, actor, id, req.SecurityCode)
	})
}

func (c *OrderController) HandleCancel(w http.ResponseWriter, r *http.Request) {
	var req dto.CancelOrderRequest
	c.command(w, r, &req, true, func(ctx context.Context, actor domain.Actor, id uuid.UUID) (*domain.Order, error) {
		return c.useCase.Cancel(ctx, actor, id, req.Reason)
	})
}

func (c *OrderController) HandleDelay(w http.ResponseWriter, r *http.Request) {
	var req dto.AddDelayRequest
	c.command(w, r, &req, false, func(ctx context.Context, actor domain.Actor, id uuid.UUID) (*domain.Order, error) {
		return c.useCase.AddDelay(ctx, actor, id, req.ExtraMinutes)
	})
}

func (c *OrderController) HandleRetryRefund(w http.ResponseWriter, r *http.Request) {
	c.command(w, r, nil, true, c.useCase.RetryRefund)
}

// HandleRevenue serves GET /restaurants/{restaurantId}/revenue. Without a
// period it reports the current calendar month so far.
func (c *OrderController) HandleRevenue(w http.ResponseWriter, r *http.Request) {
	r, traceID, logger := commons.TraceLogger(r, c.logger)
	actor, _ := auth.ActorFrom(r.Context())

	now := c.now()
	from := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	to := now
	var details []apperrors.ValidationDetail
	if raw := r.URL.Query().Get("from"); raw != "" {
		t, err := parseInstant(raw)
		if err != nil {
			details = append(details, apperrors.ValidationDetail{Field: "from", Message: "from must be a date (2006-01-02) or an RFC 3339 timestamp"})
		}
		from = t
	}
	if raw := r.URL.Query().Get("to"); raw != "" {
		t, err := parseInstant(raw)
		if err != nil {
			details = append(details, apperrors.ValidationDetail{Field: "to", Message: "to must be a date (2006-01-02) or an RFC 3339 timestamp"})
		}
		to = t
	}
	if len(details) > 0 {
		commons.WriteValidationError(w, logger, traceID, "invalid period", details...)
		return
	}

	report, err := c.useCase.RevenueReport(r.Context(), actor, chi.URLParam(r, "restaurantId"), from, to)
	if err != nil {
		commons.WriteError(w, logger, traceID, err)
		return
	}

	resp := dto.RevenueReportResponse{
		RestaurantID: report.RestaurantID,
		From:         report.From,
		To:           report.To,
		Totals:       dto.NewRevenueTotalsResponse(report.Totals),
		Orders:       make([]dto.OrderRevenueResponse, 0, len(report.Orders)),
	}
	for _, o := range report.Orders {
		resp.Orders = append(resp.Orders, dto.OrderRevenueResponse{
			OrderID:     o.OrderID.String(),
			DeliveredAt: o.DeliveredAt,
			Split:       dto.NewSplitResponse(o.Split),
		})
	}
	commons.WriteJSON(w, logger, http.StatusOK, resp)
}

type commandFunc func(ctx context.Context, actor domain.Actor, orderID uuid.UUID) (*domain.Order, error)

// command runs one lifecycle command: path id, optional body, use case call
// and response mapping. req is nil for commands without a body.
func (c *OrderController) command(w http.ResponseWriter, r *http.Request, req any, allowEmpty bool, fn commandFunc) {
	r, traceID, logger := commons.TraceLogger(r, c.logger)
	actor, _ := auth.ActorFrom(r.Context())

	orderID, ok := c.orderID(w, r, traceID, logger)
	if !ok {
		return
	}
	if req != nil {
		if err := commons.DecodeJSON(r, req, allowEmpty); err != nil {
			logger.Warn("invalid request body", zap.String("orderId", orderID.String()), zap.Error(err))
			commons.WriteError(w, logger, traceID, err)
			return
		}
	}

	order, err := fn(r.Context(), actor, orderID)
	if err != nil {
		commons.WriteError(w, logger, traceID, err)
		return
	}
	commons.WriteJSON(w, logger, http.StatusOK, dto.NewOrderResponse(*order, actor))
}

func (c *OrderController) orderID(w http.ResponseWriter, r *http.Request, traceID string, logger *zap.Logger) (uuid.UUID, bool) {
	raw := chi.URLParam(r, "orderId")
	id, err := uuid.Parse(raw)
	if err != nil {
		logger.Warn("invalid orderId in path", zap.String("orderId", raw))
		commons.WriteValidationError(w, logger, traceID, "invalid orderId", apperrors.ValidationDetail{
			Field:   "orderId",
			Message: "orderId must be a valid uuid",
		})
		return uuid.Nil, false
	}
	return id, true
}

func parseListQuery(r *http.Request) (usecase.ListOrdersQuery, error) {
	values := r.URL.Query()
	q := usecase.ListOrdersQuery{
		RestaurantID: values.Get("restaurantId"),
		UserID:       values.Get("userId"),
	}
	var details []apperrors.ValidationDetail

	if raw := values.Get("available"); raw != "" {
		available, err := strconv.ParseBool(raw)
		if err != nil {
			details = append(details, apperrors.ValidationDetail{Field: "available", Message: "available must be true or false"})
		}
		q.Available = available
	}
	if raw := values.Get("status"); raw != "" {
		status, err := domain.ParseOrderStatus(raw)
		if err != nil {
			details = append(details, apperrors.ValidationDetail{Field: "status", Message: err.Error()})
		}
		q.Status = status
	}
	if raw := values.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > 500 {
			details = append(details, apperrors.ValidationDetail{Field: "limit", Message: "limit must be between 1 and 500"})
		}
		q.Limit = limit
	}

	if len(details) > 0 {
		return q, apperrors.NewValidationError("invalid query", details...)
	}
	return q, nil
}

func toCreateOrderInput(req dto.CreateOrderRequest) (usecase.CreateOrderInput, []apperrors.ValidationDetail) {
	in := usecase.CreateOrderInput{
		RestaurantID:      strings.TrimSpace(req.RestaurantID),
		Items:             make([]domain.LineItem, 0, len(req.Items)),
		DeliveryLatitude:  *req.DeliveryAddress.Latitude,
		DeliveryLongitude: *req.DeliveryAddress.Longitude,
		PaymentReference:  req.PaymentReference,
	}

	var details []apperrors.ValidationDetail
	for i, item := range req.Items {
		if item.UnitPrice.IsNegative() {
			details = append(details, apperrors.ValidationDetail{
				Field:   "items[" + strconv.Itoa(i) + "].unitPrice",
				Message: "unitPrice must not be negative",
			})
		}
		li := domain.LineItem{
			MenuItemID:     item.MenuItemID,
			Name:           item.Name,
			Quantity:       item.Quantity,
			UnitPrice:      item.UnitPrice,
			Customizations: make([]domain.Customization, 0, len(item.Customizations)),
		}
		for j, cz := range item.Customizations {
			if cz.Price.IsNegative() {
				details = append(details, apperrors.ValidationDetail{
					Field:   "items[" + strconv.Itoa(i) + "].customizations[" + strconv.Itoa(j) + "].price",
					Message: "price must not be negative",
				})
			}
			li.Customizations = append(li.Customizations, domain.Customization{Name: cz.Name, Price: cz.Price})
		}
		in.Items = append(in.Items, li)
	}
	return in, details
}

func parseInstant(raw string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}
