package websocket

import (
	"context"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/gorilla/websocket"

	"mentormatrix/internal/middleware"
	"mentormatrix/pkg/interfaces"
)

// EventHandler receives the lifecycle of every socket. It is implemented by
// the chat protocol; the transport knows nothing about events.
type EventHandler interface {
	// Connect runs once after the upgrade. userID is empty when the
	// handshake carried no credentials. An error closes the socket.
	Connect(ctx context.Context, conn interfaces.Connection, userID string) error

	// HandleMessage runs for each text frame, serially per connection.
	HandleMessage(ctx context.Context, connID string, data []byte)

	// Disconnect runs exactly once when the socket goes away.
	Disconnect(ctx context.Context, connID string)
}

// HandlerConfig configures the upgrade endpoint.
type HandlerConfig struct {
	Connection       ConnectionConfig
	AllowedOrigins   []string
	HandshakeTimeout time.Duration
}

// Handler upgrades HTTP requests and pumps frames into an EventHandler.
type Handler struct {
	events   EventHandler
	config   HandlerConfig
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewHandler creates a new WebSocket handler
func NewHandler(events EventHandler, config HandlerConfig, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{
		events: events,
		config: config,
		logger: logger.With("component", "websocket"),
	}
	h.upgrader = websocket.Upgrader{
		HandshakeTimeout: config.HandshakeTimeout,
		CheckOrigin:      h.checkOrigin,
	}
	return h
}

// checkOrigin allows every origin when none are configured.
func (h *Handler) checkOrigin(r *http.Request) bool {
	if len(h.config.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	for _, allowed := range h.config.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// ServeHTTP upgrades the request. Authentication is optional at the
// handshake: an unauthenticated socket can still identify later with the
// authenticate event.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err, "remote", r.RemoteAddr)
		return
	}

	conn := NewConnection(ws, h.config.Connection, h.logger)
	if err := h.events.Connect(conn.Context(), conn, userID); err != nil {
		h.logger.Warn("connection rejected", "conn_id", conn.ID(), "error", err)
		_ = conn.Close()
		return
	}
	h.logger.Debug("connection opened", "conn_id", conn.ID(), "user_id", userID, "remote", r.RemoteAddr)

	go h.readPump(conn, ws)
}

// readPump is the only reader of ws. Frames from one connection are handled
// in arrival order. A panic in the event handler closes only this socket.
func (h *Handler) readPump(conn *Connection, ws *websocket.Conn) {
	defer func() {
		if err := recover(); err != nil {
			h.logger.Error("panic handling websocket frame",
				"panic", err,
				"conn_id", conn.ID(),
				"stack", string(debug.Stack()),
			)
		}
		h.events.Disconnect(context.Background(), conn.ID())
		_ = conn.Close()
		h.logger.Debug("connection closed", "conn_id", conn.ID())
	}()

	cfg := h.config.Connection
	if cfg.MaxMessageBytes > 0 {
		ws.SetReadLimit(cfg.MaxMessageBytes)
	}
	if cfg.PongWait > 0 {
		_ = ws.SetReadDeadline(time.Now().Add(cfg.PongWait))
		ws.SetPongHandler(func(string) error {
			return ws.SetReadDeadline(time.Now().Add(cfg.PongWait))
		})
	}

	for {
		messageType, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.logger.Info("websocket read error", "conn_id", conn.ID(), "error", err)
			}
			return
		}
		if cfg.PongWait > 0 {
			_ = ws.SetReadDeadline(time.Now().Add(cfg.PongWait))
		}
		if messageType != websocket.TextMessage {
			continue
		}
		h.events.HandleMessage(conn.Context(), conn.ID(), data)
	}
}
