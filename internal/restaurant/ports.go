package restaurant

import (
	"context"
	"time"

	"github.com/google/uuid"

	"livraison/internal/domain"
)

type Repository interface {
	FindByID(ctx context.Context, id string) (*domain.Restaurant, error)
	ListOpen(ctx context.Context) ([]domain.Restaurant, error)
	SetManuallyClosed(ctx context.Context, id string, closed bool, at time.Time) error
	UpdatePrepTime(ctx context.Context, id string, minutes int, at time.Time) error
}

type NotificationRepository interface {
	Insert(ctx context.Context, n domain.Notification) error
	ListUnread(ctx context.Context, restaurantID string, limit int) ([]domain.Notification, error)
	ExistsSince(ctx context.Context, restaurantID string, typ domain.NotificationType, since time.Time) (bool, error)
	MarkRead(ctx context.Context, restaurantID string, id uuid.UUID, at time.Time) error
}

type Notifier interface {
	Notify(ctx context.Context, role domain.Role, recipientID, message string) error
}
