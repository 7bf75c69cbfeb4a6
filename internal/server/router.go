package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"livraison/internal/auth"
	"livraison/internal/commons"
	"livraison/internal/config"
	ordercontroller "livraison/internal/order/controller"
	"livraison/internal/push"
	"livraison/internal/restaurant"
)

const healthTimeout = 2 * time.Second

// Pinger is anything the readiness probe checks, e.g. *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

type Routes struct {
	Orders      *ordercontroller.OrderController
	Restaurants *restaurant.Controller
	Push        *push.Controller
	Stream      http.Handler
	Gatherer    prometheus.Gatherer
	Health      map[string]Pinger
}

func NewRouter(routes Routes, authCfg config.AuthConfig, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(
		Recoverer(logger),
		AccessLog(logger),
	)

	r.Get("/healthz", healthHandler(routes.Health, logger))
	if routes.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(routes.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(authCfg, logger))

		r.Route("/orders", routes.Orders.Routes)
		r.Route("/restaurants", func(r chi.Router) {
			routes.Restaurants.Routes(r)
			r.Get("/{restaurantId}/revenue", routes.Orders.HandleRevenue)
		})
		if routes.Push != nil {
			r.Route("/push", routes.Push.Routes)
		}
		if routes.Stream != nil {
			r.Handle("/ws/orders", routes.Stream)
		}
	})

	return r
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func healthHandler(checks map[string]Pinger, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()

		resp := healthResponse{Status: "ok", Checks: make(map[string]string, len(checks))}
		status := http.StatusOK
		for name, p := range checks {
			if err := p.PingContext(ctx); err != nil {
				logger.Warn("health check failed", zap.String("check", name), zap.Error(err))
				resp.Checks[name] = "down"
				resp.Status = "degraded"
				status = http.StatusServiceUnavailable
				continue
			}
			resp.Checks[name] = "up"
		}
		commons.WriteJSON(w, logger, status, resp)
	}
}
