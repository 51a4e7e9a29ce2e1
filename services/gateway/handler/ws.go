package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Davide9292/v-try.app-sub001/internal/auth"
	"github.com/Davide9292/v-try.app-sub001/internal/notify"
	"github.com/Davide9292/v-try.app-sub001/pkg/telemetry"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// WS upgrades /api/v1/events to a websocket and streams the caller's job
// events from the local hub.
type WS struct {
	hub      *notify.Hub
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewWS creates a websocket handler over the given hub.
func NewWS(hub *notify.Hub, logger *slog.Logger) *WS {
	return &WS{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The bearer token already authenticates the caller; the browser
			// extension connects from arbitrary page origins.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger: logger,
	}
}

// Events handles GET /api/v1/events.
func (h *WS) Events(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing identity")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed",
			slog.String("owner_id", id.OwnerID), slog.String("error", err.Error()))
		return
	}

	sub := h.hub.Subscribe(id.OwnerID)
	telemetry.GatewayLiveConnections.Inc()
	h.logger.Info("event subscriber connected", slog.String("owner_id", id.OwnerID))

	go h.writePump(conn, sub, id.OwnerID)
	go h.readPump(conn, sub, id.OwnerID)
}

// writePump drains the subscription into the connection. It owns all writes.
func (h *WS) writePump(conn *websocket.Conn, sub *notify.Subscription, ownerID string) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		sub.Close()
		_ = conn.Close()
		telemetry.GatewayLiveConnections.Dec()
		h.logger.Info("event subscriber disconnected", slog.String("owner_id", ownerID))
	}()

	for {
		select {
		case ev, ok := <-sub.Events():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub dropped us (slow consumer) or the subscription closed.
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
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

// readPump discards client frames; its job is pong handling and noticing the
// peer going away.
func (h *WS) readPump(conn *websocket.Conn, sub *notify.Subscription, ownerID string) {
	defer sub.Close()
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("websocket read error",
					slog.String("owner_id", ownerID), slog.String("error", err.Error()))
			}
			return
		}
	}
}
