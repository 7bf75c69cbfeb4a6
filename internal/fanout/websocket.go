package fanout

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"livraison/internal/auth"
	"livraison/internal/commons"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	readLimit  = 512
)

// Handler upgrades authenticated requests and streams the subscriber's
// messages as JSON text frames.
type Handler struct {
	hub      *Hub
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

func NewHandler(hub *Hub, logger *zap.Logger) *Handler {
	return &Handler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Browsers connect from the dashboard origins; the bearer token is
			// what authorizes the stream.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	r, traceID, logger := commons.TraceLogger(r, h.logger)

	actor, ok := auth.ActorFrom(r.Context())
	if !ok {
		commons.WriteJSON(w, logger, http.StatusUnauthorized, commons.ErrorResponse{
			TraceID:   traceID,
			Status:    http.StatusUnauthorized,
			Code:      "UNAUTHORIZED",
			Message:   "missing credentials",
			Timestamp: time.Now().UTC(),
		})
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	sub := h.hub.Subscribe(actor)
	defer h.hub.Unsubscribe(sub)

	logger = logger.With(zap.String("subscriptionId", sub.ID.String()), zap.String("userId", actor.UserID), zap.String("role", string(actor.Role)))
	logger.Info("subscriber connected")

	closed := make(chan struct{})
	go h.readLoop(conn, closed)
	h.writeLoop(conn, sub, closed, logger)

	logger.Info("subscriber disconnected")
}

// readLoop discards client frames and keeps the read deadline moving on pong.
// It closes done when the client goes away.
func (h *Handler) readLoop(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)

	conn.SetReadLimit(readLimit)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Handler) writeLoop(conn *websocket.Conn, sub *Subscription, closed <-chan struct{}, logger *zap.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			return
		case msg, ok := <-sub.C():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := conn.WriteJSON(msg); err != nil {
				logger.Debug("write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
