package stream

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// SSEHandler serves the console event stream as Server-Sent Events.
type SSEHandler struct {
	broadcaster *Broadcaster[Event]
	heartbeat   time.Duration
	logger      *slog.Logger
	// initial, if set, produces events written before live ones, so a new
	// client starts from the current state.
	initial func() []Event
}

// NewSSEHandler creates an SSE handler.
func NewSSEHandler(b *Broadcaster[Event], logger *slog.Logger) *SSEHandler {
	return &SSEHandler{
		broadcaster: b,
		heartbeat:   15 * time.Second,
		logger:      logger.With("component", "sse"),
	}
}

// SetInitial sets the function producing the catch-up events for new clients.
func (h *SSEHandler) SetInitial(fn func() []Event) {
	h.initial = fn
}

func (h *SSEHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache, no-store")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	clientID := uuid.NewString()
	listener := h.broadcaster.Subscribe()
	defer h.broadcaster.Unsubscribe(listener)

	h.logger.Info("event client connected", "client", clientID, "total", h.broadcaster.ListenerCount())
	defer h.logger.Info("event client disconnected", "client", clientID)

	fmt.Fprintf(w, "event: hello\ndata: {\"client_id\":%q}\n\n", clientID)
	if h.initial != nil {
		for _, ev := range h.initial() {
			if err := writeEvent(w, ev); err != nil {
				return
			}
		}
	}
	flusher.Flush()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-listener.Done():
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": heartbeat\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case ev := <-listener.C:
			if err := writeEvent(w, ev); err != nil {
				h.logger.Debug("event write failed", "client", clientID, "error", err)
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, ev Event) error {
	data, err := ev.Encode()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Kind, data)
	return err
}
