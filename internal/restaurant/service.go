package restaurant

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"livraison/internal/domain"
	apperrors "livraison/internal/errors"
)

const (
	MinPrepTimeMinutes = 1
	MaxPrepTimeMinutes = 180

	PrepTimePromptMessage = "Merci d'indiquer votre temps de préparation (il sera affiché sur votre carte sur la page d'accueil). Vous pouvez le modifier à tout moment pendant le service sur votre dashboard."
)

type BroadcastResult struct {
	Targeted int `json:"targeted"`
	Prompted int `json:"prompted"`
	Failed   int `json:"failed"`
}

type Service struct {
	restaurants   Repository
	notifications NotificationRepository
	notifier      Notifier
	logger        *zap.Logger
	now           func() time.Time
}

func NewService(restaurants Repository, notifications NotificationRepository, notifier Notifier, logger *zap.Logger) *Service {
	return &Service{
		restaurants:   restaurants,
		notifications: notifications,
		notifier:      notifier,
		logger:        logger,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// FindByID is the lookup used by the order workflow; it applies no access
// rule.
func (s *Service) FindByID(ctx context.Context, id string) (*domain.Restaurant, error) {
	return s.restaurants.FindByID(ctx, id)
}

func (s *Service) GetRestaurant(ctx context.Context, actor domain.Actor, id string) (*domain.Restaurant, error) {
	if actor.Role == "" {
		return nil, apperrors.NewUnauthorizedError("authentication required")
	}
	return s.restaurants.FindByID(ctx, id)
}

func (s *Service) SetManuallyClosed(ctx context.Context, actor domain.Actor, id string, closed bool) (*domain.Restaurant, error) {
	if _, err := s.owned(ctx, actor, id); err != nil {
		return nil, err
	}
	if err := s.restaurants.SetManuallyClosed(ctx, id, closed, s.now()); err != nil {
		return nil, err
	}
	s.logger.Info("restaurant availability changed", zap.String("restaurantId", id), zap.Bool("manuallyClosed", closed), zap.String("by", actor.UserID))
	return s.restaurants.FindByID(ctx, id)
}

func (s *Service) UpdatePrepTime(ctx context.Context, actor domain.Actor, id string, minutes int) (*domain.Restaurant, error) {
	if minutes < MinPrepTimeMinutes || minutes > MaxPrepTimeMinutes {
		return nil, apperrors.NewValidationError("invalid preparation time", apperrors.ValidationDetail{
			Field:   "minutes",
			Message: fmt.Sprintf("minutes must be between %d and %d", MinPrepTimeMinutes, MaxPrepTimeMinutes),
		})
	}
	if _, err := s.owned(ctx, actor, id); err != nil {
		return nil, err
	}
	if err := s.restaurants.UpdatePrepTime(ctx, id, minutes, s.now()); err != nil {
		return nil, err
	}
	return s.restaurants.FindByID(ctx, id)
}

// PromptPrepTimeIfDue asks the partner for today's preparation time. It
// sends at most one prompt per local calendar day, and none once the partner
// already updated the time today. Reading a prompt does not re-arm it.
func (s *Service) PromptPrepTimeIfDue(ctx context.Context, id string) (bool, error) {
	r, err := s.restaurants.FindByID(ctx, id)
	if err != nil {
		return false, err
	}
	return s.promptIfDue(ctx, *r)
}

func (s *Service) promptIfDue(ctx context.Context, r domain.Restaurant) (bool, error) {
	now := s.now()
	if r.PrepTimeUpdatedOn(now) {
		return false, nil
	}

	exists, err := s.notifications.ExistsSince(ctx, r.ID, domain.NotificationPrepTimePrompt, startOfLocalDay(now, r.Location()))
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}

	err = s.notifications.Insert(ctx, domain.Notification{
		ID:           uuid.New(),
		Type:         domain.NotificationPrepTimePrompt,
		RestaurantID: r.ID,
		Message:      PrepTimePromptMessage,
		CreatedAt:    now,
	})
	if err != nil {
		return false, err
	}

	s.push(ctx, r.ID, PrepTimePromptMessage)
	return true, nil
}

// BroadcastPrepTimePrompt prompts every restaurant that is not manually
// closed. One failing restaurant does not stop the others.
func (s *Service) BroadcastPrepTimePrompt(ctx context.Context, actor domain.Actor) (*BroadcastResult, error) {
	if !actor.IsPrivileged() {
		return nil, apperrors.NewUnauthorizedError("only admins can broadcast prompts")
	}

	open, err := s.restaurants.ListOpen(ctx)
	if err != nil {
		return nil, err
	}

	result := &BroadcastResult{Targeted: len(open)}
	for _, r := range open {
		prompted, err := s.promptIfDue(ctx, r)
		if err != nil {
			result.Failed++
			s.logger.Warn("prep time prompt failed", zap.String("restaurantId", r.ID), zap.Error(err))
			continue
		}
		if prompted {
			result.Prompted++
		}
	}

	s.logger.Info("prep time prompt broadcast",
		zap.Int("targeted", result.Targeted),
		zap.Int("prompted", result.Prompted),
		zap.Int("failed", result.Failed),
	)
	return result, nil
}

// ListUnreadNotifications also issues the daily prep time prompt when a
// partner opens the dashboard.
func (s *Service) ListUnreadNotifications(ctx context.Context, actor domain.Actor, id string, limit int) ([]domain.Notification, error) {
	r, err := s.owned(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if actor.Role == domain.RoleRestaurant {
		if _, err := s.promptIfDue(ctx, *r); err != nil {
			s.logger.Warn("prep time prompt failed", zap.String("restaurantId", id), zap.Error(err))
		}
	}
	return s.notifications.ListUnread(ctx, id, limit)
}

func (s *Service) MarkNotificationRead(ctx context.Context, actor domain.Actor, id string, notificationID uuid.UUID) error {
	if _, err := s.owned(ctx, actor, id); err != nil {
		return err
	}
	return s.notifications.MarkRead(ctx, id, notificationID, s.now())
}

// AddNotification stores a dashboard notification raised by the order
// workflow.
func (s *Service) AddNotification(ctx context.Context, restaurantID string, typ domain.NotificationType, orderID *uuid.UUID, message string) error {
	return s.notifications.Insert(ctx, domain.Notification{
		ID:           uuid.New(),
		Type:         typ,
		RestaurantID: restaurantID,
		OrderID:      orderID,
		Message:      message,
		CreatedAt:    s.now(),
	})
}

// owned loads the restaurant and checks the actor manages it.
func (s *Service) owned(ctx context.Context, actor domain.Actor, id string) (*domain.Restaurant, error) {
	r, err := s.restaurants.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if actor.IsPrivileged() {
		return r, nil
	}
	if actor.Role == domain.RoleRestaurant && (actor.RestaurantID == r.ID || (r.OwnerUserID != "" && actor.UserID == r.OwnerUserID)) {
		return r, nil
	}
	return nil, apperrors.NewUnauthorizedError("you do not manage this restaurant")
}

func (s *Service) push(ctx context.Context, restaurantID, message string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, domain.RoleRestaurant, restaurantID, message); err != nil {
		s.logger.Warn("push notification failed", zap.String("restaurantId", restaurantID), zap.Error(err))
	}
}

func startOfLocalDay(now time.Time, loc *time.Location) time.Time {
	y, m, d := now.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}
