package server

import (
	"fmt"
	"net/http"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"livraison/internal/commons"
	apperrors "livraison/internal/errors"
)

// Recoverer turns a handler panic into a logged 500.
func Recoverer(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				traceID := uuid.NewString()
				err := fmt.Errorf("panic: %v", rec)
				logger.Error("panic recovered", zap.String("traceId", traceID), zap.String("path", r.URL.Path), zap.Stack("stack"), zap.Error(err))
				commons.WriteError(w, logger, traceID, apperrors.NewInternalError("panic", err))
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// AccessLog writes one line per request. The wrapped writer keeps
// http.Hijacker so websocket upgrades still work.
func AccessLog(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", status),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
			}
			if status >= http.StatusInternalServerError {
				logger.Error("request", fields...)
				return
			}
			logger.Info("request", fields...)
		})
	}
}
