package auth

import (
	"context"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"livraison/internal/commons"
	"livraison/internal/config"
	"livraison/internal/domain"
)

type actorKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

func ActorFrom(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorKey{}).(domain.Actor)
	return actor, ok
}

// Middleware validates the bearer token and stores the resulting Actor in the
// request context. Browsers cannot set headers on a websocket upgrade, so the
// token may also come as ?access_token=.
func Middleware(cfg config.AuthConfig, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				writeUnauthorized(w, logger, "missing credentials")
				return
			}

			claims, err := Parse(cfg, token)
			if err != nil {
				logger.Debug("rejected access token", zap.Error(err))
				writeUnauthorized(w, logger, "invalid token")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), claims.Actor())))
		})
	}
}

func bearerToken(r *http.Request) string {
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	if raw != "" {
		if len(raw) > 7 && strings.EqualFold(raw[:7], "bearer ") {
			return strings.TrimSpace(raw[7:])
		}
		return raw
	}
	return strings.TrimSpace(r.URL.Query().Get("access_token"))
}

func writeUnauthorized(w http.ResponseWriter, logger *zap.Logger, message string) {
	commons.WriteJSON(w, logger, http.StatusUnauthorized, commons.ErrorResponse{
		Status:    http.StatusUnauthorized,
		Code:      "UNAUTHORIZED",
		Message:   message,
		Timestamp: time.Now().UTC(),
	})
}
