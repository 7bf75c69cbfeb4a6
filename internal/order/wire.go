package order

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"livraison/internal/config"
	"livraison/internal/domain"
	"livraison/internal/infrastructure/metrics"
	"livraison/internal/money"
	"livraison/internal/order/controller"
	"livraison/internal/order/preptimer"
	"livraison/internal/order/refund"
	"livraison/internal/order/repository"
	"livraison/internal/order/service"
	"livraison/internal/order/usecase"
	"livraison/internal/outbox"
	"livraison/internal/payment"
	"livraison/internal/payment/square"
	"livraison/internal/payment/stripe"
)

// Restaurants is what the order module needs from the restaurant module.
type Restaurants interface {
	usecase.RestaurantFinder
	usecase.RestaurantInbox
}

type Deps struct {
	DB          *sql.DB
	Config      *config.Config
	Restaurants Restaurants
	Notifier    usecase.Notifier
	Sinks       []outbox.Sink
	Metrics     *metrics.Metrics
	Logger      *zap.Logger
}

type Module struct {
	Store      *repository.MySQLOrderStore
	UseCase    *usecase.OrderUseCase
	Controller *controller.OrderController
	Refunds    *refund.Processor
	Timers     *preptimer.Manager
	Relay      *outbox.Relay
}

func NewModule(deps Deps) (*Module, error) {
	cfg := deps.Config
	logger := deps.Logger

	moneyPolicy, err := cfg.Money.Policy()
	if err != nil {
		return nil, err
	}
	deliveryPolicy, err := cfg.Delivery.Policy()
	if err != nil {
		return nil, err
	}
	gateway, err := NewGateway(cfg.Payments, logger)
	if err != nil {
		return nil, err
	}

	calculator := money.NewCalculator(moneyPolicy)
	store := repository.NewMySQLOrderStore(deps.DB, logger, cfg.Order.TxTimeout)
	lifecycle := service.NewLifecycleService(store, deps.Restaurants, calculator, logger)

	relay := outbox.NewRelay(store.Outbox(), deps.Sinks, deps.Metrics, outbox.Config{
		BatchSize:    cfg.Outbox.BatchSize,
		PollInterval: cfg.Outbox.PollInterval,
		MaxAttempts:  cfg.Outbox.MaxAttempts,
	}, logger)

	refunds := refund.NewProcessor(store, gateway, deps.Metrics, refund.Config{
		MaxAttempts:    cfg.Refunds.MaxAttempts,
		InitialBackoff: cfg.Refunds.InitialBackoff,
		MaxBackoff:     cfg.Refunds.MaxBackoff,
		Workers:        cfg.Refunds.Workers,
		SweepInterval:  cfg.Refunds.SweepInterval,
		SweepGrace:     cfg.Refunds.SweepGrace,
		Currency:       cfg.Payments.Currency,
	}, logger)
	timers := preptimer.NewManager(logger)

	uc := usecase.NewOrderUseCase(
		lifecycle,
		store,
		deps.Restaurants,
		calculator,
		deliveryPolicy,
		usecase.Collaborators{
			Notifier: deps.Notifier,
			Inbox:    deps.Restaurants,
			Refunds:  refunds,
			Timers:   timers,
			Outbox:   relay,
			Metrics:  deps.Metrics,
		},
		logger,
		cfg.Order.MaxRetryAttempts,
	)
	refunds.SetRecorder(uc)
	timers.SetHandler(uc.HandlePrepOverdue)

	return &Module{
		Store:      store,
		UseCase:    uc,
		Controller: controller.NewOrderController(uc, logger),
		Refunds:    refunds,
		Timers:     timers,
		Relay:      relay,
	}, nil
}

// RearmTimers restores preparation timers lost on restart.
func (m *Module) RearmTimers(ctx context.Context) (int, error) {
	orders, err := m.Store.List(ctx, repository.OrderFilter{
		Statuses: []domain.OrderStatus{domain.OrderStatusAccepted, domain.OrderStatusPreparing},
		Limit:    500,
	})
	if err != nil {
		return 0, fmt.Errorf("listing orders in preparation: %w", err)
	}
	return m.Timers.Rearm(orders), nil
}

// NewGateway picks the refund provider from configuration.
func NewGateway(cfg config.PaymentsConfig, logger *zap.Logger) (payment.Gateway, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "stripe":
		return stripe.NewGateway(stripe.Config{
			APIKey:      cfg.Stripe.APIKey,
			Environment: cfg.Stripe.Environment,
			Currency:    cfg.Currency,
		}, logger)
	case "square":
		return square.NewGateway(square.Config{
			AccessToken: cfg.Square.AccessToken,
			Environment: cfg.Square.Environment,
			Currency:    cfg.Currency,
		}, logger)
	case "", "disabled":
		logger.Warn("no payment provider configured, refunds will be marked failed")
		return payment.DisabledGateway{}, nil
	default:
		return nil, fmt.Errorf("unknown payment provider %q", cfg.Provider)
	}
}
