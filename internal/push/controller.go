package push

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"livraison/internal/auth"
	"livraison/internal/commons"
	"livraison/internal/domain"
	apperrors "livraison/internal/errors"
)

type ChatRegistry interface {
	Register(ctx context.Context, role domain.Role, recipientID string, chatID int64) error
	Unregister(ctx context.Context, role domain.Role, recipientID string, chatID int64) error
}

type RegisterChatRequest struct {
	ChatID int64 `json:"chatId" validate:"required"`
}

type Controller struct {
	registry ChatRegistry
	logger   *zap.Logger
}

func NewController(registry ChatRegistry, logger *zap.Logger) *Controller {
	return &Controller{
		registry: registry,
		logger:   logger,
	}
}

func (c *Controller) Routes(r chi.Router) {
	r.Post("/telegram", c.HandleRegister)
	r.Delete("/telegram", c.HandleUnregister)
}

func (c *Controller) HandleRegister(w http.ResponseWriter, r *http.Request) {
	c.handle(w, r, c.registry.Register, http.StatusCreated)
}

func (c *Controller) HandleUnregister(w http.ResponseWriter, r *http.Request) {
	c.handle(w, r, c.registry.Unregister, http.StatusNoContent)
}

func (c *Controller) handle(w http.ResponseWriter, r *http.Request, op func(context.Context, domain.Role, string, int64) error, status int) {
	r, traceID, logger := commons.TraceLogger(r, c.logger)
	actor, _ := auth.ActorFrom(r.Context())

	var req RegisterChatRequest
	if err := commons.DecodeJSON(r, &req, false); err != nil {
		commons.WriteError(w, logger, traceID, err)
		return
	}

	recipientID, err := Topic(actor)
	if err != nil {
		commons.WriteError(w, logger, traceID, err)
		return
	}

	if err := op(r.Context(), actor.Role, recipientID, req.ChatID); err != nil {
		commons.WriteError(w, logger, traceID, apperrors.NewUpstreamError("redis", "updating telegram chat", err))
		return
	}
	logger.Info("telegram chat updated", zap.String("role", string(actor.Role)), zap.String("recipientId", recipientID))
	w.WriteHeader(status)
}

// Topic is the recipient id push messages are addressed to: the restaurant
// for partners, the user otherwise.
func Topic(actor domain.Actor) (string, error) {
	switch actor.Role {
	case domain.RoleRestaurant:
		if actor.RestaurantID == "" {
			return "", apperrors.NewUnauthorizedError("restaurant actor has no restaurant")
		}
		return actor.RestaurantID, nil
	case domain.RoleCustomer, domain.RoleCourier, domain.RoleAdmin:
		return actor.UserID, nil
	}
	return "", apperrors.NewUnauthorizedError("role cannot receive push notifications")
}
