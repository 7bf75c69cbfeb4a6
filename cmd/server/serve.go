package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"livraison/internal/commons"
	"livraison/internal/config"
	"livraison/internal/fanout"
	"livraison/internal/infrastructure/kafka"
	"livraison/internal/infrastructure/logger"
	"livraison/internal/infrastructure/metrics"
	"livraison/internal/infrastructure/migrations"
	"livraison/internal/infrastructure/mysql"
	"livraison/internal/infrastructure/redis"
	"livraison/internal/order"
	"livraison/internal/order/usecase"
	"livraison/internal/outbox"
	"livraison/internal/push"
	"livraison/internal/restaurant"
	"livraison/internal/server"
)

var skipMigrations bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, the outbox relay and the background workers",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := commons.LoadConfig(configPath)
		if err != nil {
			return err
		}
		zapLogger, err := logger.New(cfg.Log)
		if err != nil {
			return err
		}
		defer zapLogger.Sync()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := serve(ctx, cfg, zapLogger); err != nil {
			zapLogger.Error("server exited", zap.Error(err))
			return err
		}
		zapLogger.Info("server stopped gracefully")
		return nil
	},
}

func init() {
	serveCmd.Flags().BoolVar(&skipMigrations, "skip-migrations", false, "do not apply pending migrations on start")
}

func serve(ctx context.Context, cfg *config.Config, zapLogger *zap.Logger) error {
	db, err := mysql.NewConnection(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()
	zapLogger.Info("database connected")

	if !skipMigrations {
		if err := migrations.Up(ctx, db); err != nil {
			return err
		}
	}

	redisClient, err := redis.NewClient(ctx, cfg.Redis)
	switch {
	case errors.Is(err, redis.ErrNotConfigured):
		zapLogger.Warn("redis not configured, change events stay in process")
	case err != nil:
		return err
	default:
		defer redisClient.Close()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	appMetrics := metrics.New(reg)

	notifier, chats, err := newNotifier(cfg, redisClient, zapLogger)
	if err != nil {
		return err
	}

	hub := fanout.NewHub(cfg.Fanout.SubscriberBuffer, appMetrics, zapLogger, fanout.WithSeenLimit(cfg.Fanout.SeenOrders))
	health := &fanout.Health{}

	sinks := []outbox.Sink{}
	if redisClient != nil {
		sinks = append(sinks, outbox.NewRedisSink(redisClient, cfg.Redis.Channel))
	} else {
		sinks = append(sinks, outbox.NewLocalSink(hub))
	}
	if cfg.Kafka.Enabled {
		producer, err := kafka.NewSyncProducer(cfg.Kafka)
		if err != nil {
			return err
		}
		kafkaSink := outbox.NewKafkaSink(producer, cfg.Kafka.Topic)
		defer closeProducer(kafkaSink, zapLogger)
		sinks = append(sinks, kafkaSink)
	}

	restaurants := restaurant.NewModule(db, notifier, zapLogger)
	orders, err := order.NewModule(order.Deps{
		DB:          db,
		Config:      cfg,
		Restaurants: restaurants.Service,
		Notifier:    notifier,
		Sinks:       sinks,
		Metrics:     appMetrics,
		Logger:      zapLogger,
	})
	if err != nil {
		return err
	}
	defer orders.Timers.Close()

	rearmed, err := orders.RearmTimers(ctx)
	if err != nil {
		return err
	}
	zapLogger.Info("preparation timers restored", zap.Int("count", rearmed))

	var pushCtrl *push.Controller
	if chats != nil {
		pushCtrl = push.NewController(chats, zapLogger)
	}

	// Without redis the local sink is the push channel, so polling stays off.
	health.Set(redisClient == nil)
	router := server.NewRouter(server.Routes{
		Orders:      orders.Controller,
		Restaurants: restaurants.Controller,
		Push:        pushCtrl,
		Stream:      fanout.NewHandler(hub, zapLogger),
		Gatherer:    reg,
		Health:      healthChecks(db, redisClient),
	}, cfg.Auth, zapLogger)
	srv := server.New(cfg.Server, router, zapLogger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.Start)
	g.Go(func() error {
		<-gctx.Done()
		hub.CloseAll()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error { return orders.Relay.Run(gctx) })
	g.Go(func() error { return orders.Refunds.Run(gctx) })
	g.Go(func() error {
		return orders.UseCase.RunExpirySweep(gctx, cfg.Order.ExpirySweepInterval, usecase.ExpiryPolicy{
			PendingTimeout:  cfg.Order.PendingTimeout,
			UnassignedGrace: cfg.Order.UnassignedGrace,
		})
	})
	if redisClient != nil {
		source := fanout.NewRedisSource(redisClient, cfg.Redis.Channel, hub, health, zapLogger)
		poller := fanout.NewPoller(orders.Store, hub, health, cfg.Fanout.PollInterval, zapLogger)
		g.Go(func() error { return source.Run(gctx) })
		g.Go(func() error { return poller.Run(gctx) })
	}

	return g.Wait()
}

// newNotifier uses Telegram when a bot token and redis are both available,
// since chat ids live in redis. Otherwise pushes are only logged.
func newNotifier(cfg *config.Config, client *goredis.Client, logger *zap.Logger) (usecase.Notifier, *push.RedisChatRegistry, error) {
	if client == nil {
		return push.NewLogNotifier(logger), nil, nil
	}
	chats := push.NewRedisChatRegistry(client, cfg.Redis.ChatIDsKey)
	if cfg.Telegram.BotToken == "" {
		logger.Warn("telegram bot token missing, push notifications are logged only")
		return push.NewLogNotifier(logger), chats, nil
	}
	bot, err := push.NewTelegramBot(cfg.Telegram.BotToken)
	if err != nil {
		return nil, nil, err
	}
	return push.NewTelegramNotifier(bot, chats, logger), chats, nil
}

type redisPinger struct {
	client *goredis.Client
}

func (p redisPinger) PingContext(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

func healthChecks(db server.Pinger, client *goredis.Client) map[string]server.Pinger {
	checks := map[string]server.Pinger{"mysql": db}
	if client != nil {
		checks["redis"] = redisPinger{client: client}
	}
	return checks
}

func closeProducer(sink interface{ Close() error }, logger *zap.Logger) {
	if err := sink.Close(); err != nil {
		logger.Warn("closing kafka producer", zap.Error(err))
	}
}
