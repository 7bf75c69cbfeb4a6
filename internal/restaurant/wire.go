package restaurant

import (
	"database/sql"

	"go.uber.org/zap"

	"livraison/internal/restaurant/repository"
)

type Module struct {
	Service    *Service
	Controller *Controller
}

func NewModule(db *sql.DB, notifier Notifier, logger *zap.Logger) *Module {
	restaurantRepo := repository.NewMySQLRestaurantRepository(db)
	notificationRepo := repository.NewMySQLNotificationRepository(db)

	svc := NewService(restaurantRepo, notificationRepo, notifier, logger)
	return &Module{
		Service:    svc,
		Controller: NewController(svc, logger),
	}
}
