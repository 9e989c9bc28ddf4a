package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/mwakai/touch-grass/internal/identity"
	"github.com/mwakai/touch-grass/internal/session"
)

const writeTimeout = 5 * time.Second

// SnapshotFunc returns the Session snapshot of the requesting device.
type SnapshotFunc func(r *http.Request) session.Snapshot

// Message is a frame sent to subscribers.
type Message struct {
	Type    string            `json:"type"`
	Session *session.Snapshot `json:"session,omitempty"`
	Event   *session.Event    `json:"event,omitempty"`
}

type clientMessage struct {
	Type string `json:"type"`
}

// Handler upgrades requests to a websocket that streams the device's
// session snapshot followed by every subsequent session event.
type Handler struct {
	hub           *Hub
	snapshot      SnapshotFunc
	allowedOrigin string
	isDev         bool
}

// NewHandler creates a new websocket handler.
func NewHandler(hub *Hub, snapshot SnapshotFunc, allowedOrigin string, isDev bool) *Handler {
	return &Handler{
		hub:           hub,
		snapshot:      snapshot,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
	}
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	deviceID := identity.DeviceIDFromContext(r.Context())
	tabID := identity.TabIDFromContext(r.Context())
	if deviceID == "" {
		http.Error(w, "missing device identity", http.StatusBadRequest)
		return
	}

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "device_id", deviceID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "subscription ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "device_id", deviceID)
		}
	}()

	events := h.hub.Register(deviceID, tabID, ws)
	defer h.hub.Unregister(deviceID, tabID, ws)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	snap := h.snapshot(r)
	if err := writeJSON(ctx, ws, Message{Type: "snapshot", Session: &snap}); err != nil {
		slog.Debug("Failed to send initial snapshot", "error", err, "device_id", deviceID)
		return
	}

	go func() {
		defer cancel()
		h.readLoop(ctx, ws, deviceID)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := writeJSON(ctx, ws, Message{Type: "event", Event: &ev}); err != nil {
				slog.Debug("Failed to send session event", "error", err, "device_id", deviceID)
				return
			}
		}
	}
}

func (h *Handler) readLoop(ctx context.Context, ws *websocket.Conn, deviceID string) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("WebSocket closed by client", "device_id", deviceID)
			} else if ctx.Err() == nil {
				slog.Warn("WebSocket read error", "error", err, "device_id", deviceID)
			}
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Type == "ping" {
			if err := writeJSON(ctx, ws, Message{Type: "pong"}); err != nil {
				slog.Debug("Failed to send pong", "error", err)
				return
			}
		}
	}
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" || origin == h.allowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

func writeJSON(ctx context.Context, ws *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return ws.Write(ctx, websocket.MessageText, data)
}
