package restaurant

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"livraison/internal/auth"
	"livraison/internal/commons"
	"livraison/internal/domain"
	apperrors "livraison/internal/errors"
)

type UseCase interface {
	GetRestaurant(ctx context.Context, actor domain.Actor, id string) (*domain.Restaurant, error)
	SetManuallyClosed(ctx context.Context, actor domain.Actor, id string, closed bool) (*domain.Restaurant, error)
	UpdatePrepTime(ctx context.Context, actor domain.Actor, id string, minutes int) (*domain.Restaurant, error)
	BroadcastPrepTimePrompt(ctx context.Context, actor domain.Actor) (*BroadcastResult, error)
	ListUnreadNotifications(ctx context.Context, actor domain.Actor, id string, limit int) ([]domain.Notification, error)
	MarkNotificationRead(ctx context.Context, actor domain.Actor, id string, notificationID uuid.UUID) error
}

type Controller struct {
	useCase UseCase
	logger  *zap.Logger
}

func NewController(useCase UseCase, logger *zap.Logger) *Controller {
	return &Controller{
		useCase: useCase,
		logger:  logger,
	}
}

// Routes mounts under /restaurants.
func (c *Controller) Routes(r chi.Router) {
	r.Post("/prep-time-prompts", c.HandleBroadcastPrepTimePrompt)
	r.Get("/{restaurantId}", c.HandleGet)
	r.Put("/{restaurantId}/closed", c.HandleSetClosed)
	r.Put("/{restaurantId}/prep-time", c.HandleUpdatePrepTime)
	r.Get("/{restaurantId}/notifications", c.HandleListNotifications)
	r.Post("/{restaurantId}/notifications/{notificationId}/read", c.HandleMarkRead)
}

func (c *Controller) HandleGet(w http.ResponseWriter, r *http.Request) {
	r, traceID, logger := commons.TraceLogger(r, c.logger)
	actor, _ := auth.ActorFrom(r.Context())

	restaurant, err := c.useCase.GetRestaurant(r.Context(), actor, chi.URLParam(r, "restaurantId"))
	if err != nil {
		commons.WriteError(w, logger, traceID, err)
		return
	}
	commons.WriteJSON(w, logger, http.StatusOK, toRestaurantDTO(*restaurant, manages(actor, *restaurant)))
}

func (c *Controller) HandleSetClosed(w http.ResponseWriter, r *http.Request) {
	r, traceID, logger := commons.TraceLogger(r, c.logger)
	actor, _ := auth.ActorFrom(r.Context())

	var req SetClosedRequest
	if err := commons.DecodeJSON(r, &req, false); err != nil {
		logger.Warn("invalid request body", zap.Error(err))
		commons.WriteError(w, logger, traceID, err)
		return
	}

	restaurant, err := c.useCase.SetManuallyClosed(r.Context(), actor, chi.URLParam(r, "restaurantId"), *req.ManuallyClosed)
	if err != nil {
		commons.WriteError(w, logger, traceID, err)
		return
	}
	commons.WriteJSON(w, logger, http.StatusOK, toRestaurantDTO(*restaurant, true))
}

func (c *Controller) HandleUpdatePrepTime(w http.ResponseWriter, r *http.Request) {
	r, traceID, logger := commons.TraceLogger(r, c.logger)
	actor, _ := auth.ActorFrom(r.Context())

	var req UpdatePrepTimeRequest
	if err := commons.DecodeJSON(r, &req, false); err != nil {
		logger.Warn("invalid request body", zap.Error(err))
		commons.WriteError(w, logger, traceID, err)
		return
	}

	restaurant, err := c.useCase.UpdatePrepTime(r.Context(), actor, chi.URLParam(r, "restaurantId"), req.Minutes)
	if err != nil {
		commons.WriteError(w, logger, traceID, err)
		return
	}
	commons.WriteJSON(w, logger, http.StatusOK, toRestaurantDTO(*restaurant, true))
}

func (c *Controller) HandleBroadcastPrepTimePrompt(w http.ResponseWriter, r *http.Request) {
	r, traceID, logger := commons.TraceLogger(r, c.logger)
	actor, _ := auth.ActorFrom(r.Context())

	result, err := c.useCase.BroadcastPrepTimePrompt(r.Context(), actor)
	if err != nil {
		commons.WriteError(w, logger, traceID, err)
		return
	}
	commons.WriteJSON(w, logger, http.StatusOK, result)
}

func (c *Controller) HandleListNotifications(w http.ResponseWriter, r *http.Request) {
	r, traceID, logger := commons.TraceLogger(r, c.logger)
	actor, _ := auth.ActorFrom(r.Context())

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			commons.WriteValidationError(w, logger, traceID, "invalid limit", apperrors.ValidationDetail{
				Field:   "limit",
				Message: "limit must be a positive integer",
			})
			return
		}
		limit = n
	}

	notifications, err := c.useCase.ListUnreadNotifications(r.Context(), actor, chi.URLParam(r, "restaurantId"), limit)
	if err != nil {
		commons.WriteError(w, logger, traceID, err)
		return
	}
	commons.WriteJSON(w, logger, http.StatusOK, NotificationsResponse{Notifications: toNotificationDTOs(notifications)})
}

func (c *Controller) HandleMarkRead(w http.ResponseWriter, r *http.Request) {
	r, traceID, logger := commons.TraceLogger(r, c.logger)
	actor, _ := auth.ActorFrom(r.Context())

	notificationID, err := uuid.Parse(chi.URLParam(r, "notificationId"))
	if err != nil {
		commons.WriteValidationError(w, logger, traceID, "invalid notificationId", apperrors.ValidationDetail{
			Field:   "notificationId",
			Message: "notificationId must be a valid uuid",
		})
		return
	}

	if err := c.useCase.MarkNotificationRead(r.Context(), actor, chi.URLParam(r, "restaurantId"), notificationID); err != nil {
		commons.WriteError(w, logger, traceID, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func manages(actor domain.Actor, r domain.Restaurant) bool {
	return actor.IsPrivileged() || (actor.Role == domain.RoleRestaurant && actor.RestaurantID == r.ID)
}
