package stream

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
)

// WebSocketHandler serves the console event stream over a WebSocket, one
// JSON event per text message. Messages from the client are ignored.
type WebSocketHandler struct {
	broadcaster *Broadcaster[Event]
	upgrader    websocket.Upgrader
	logger      *slog.Logger
	initial     func() []Event
}

// NewWebSocketHandler creates a WebSocket event handler that accepts any
// origin; CORS is enforced by the router.
func NewWebSocketHandler(b *Broadcaster[Event], logger *slog.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		broadcaster: b,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger: logger.With("component", "websocket"),
	}
}

// SetInitial sets the function producing catch-up events for new clients.
func (h *WebSocketHandler) SetInitial(fn func() []Event) {
	h.initial = fn
}

func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		h.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	clientID := uuid.NewString()
	listener := h.broadcaster.Subscribe()
	defer h.broadcaster.Unsubscribe(listener)
	h.logger.Info("websocket client connected", "client", clientID)
	defer h.logger.Info("websocket client disconnected", "client", clientID)

	gone := make(chan struct{})
	go h.readPump(conn, gone)

	send := func(ev Event) bool {
		conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		return conn.WriteJSON(ev) == nil
	}

	if !send(NewEvent("hello", map[string]string{"client_id": clientID})) {
		return
	}
	if h.initial != nil {
		for _, ev := range h.initial() {
			if !send(ev) {
				return
			}
		}
	}

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-gone:
			return
		case <-listener.Done():
			return
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case ev := <-listener.C:
			if !send(ev) {
				return
			}
		}
	}
}

// readPump drains client frames so pongs and close frames are processed.
func (h *WebSocketHandler) readPump(conn *websocket.Conn, gone chan<- struct{}) {
	defer close(gone)
	conn.SetReadLimit(4096)
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
