package stream

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
)

// EventsLabel is the data channel label the browser opens for events.
const EventsLabel = "events"

// WebRTCHandler serves SDP negotiation for a low-latency event data channel.
// The browser creates the channel in its offer; no media tracks are used.
type WebRTCHandler struct {
	broadcaster *Broadcaster[Event]
	config      webrtc.Configuration
	logger      *slog.Logger
	initial     func() []Event

	mu    sync.Mutex
	peers map[string]*webrtc.PeerConnection
}

// NewWebRTCHandler creates a WebRTC event handler.
func NewWebRTCHandler(b *Broadcaster[Event], logger *slog.Logger) *WebRTCHandler {
	return &WebRTCHandler{
		broadcaster: b,
		logger:      logger.With("component", "webrtc"),
		peers:       make(map[string]*webrtc.PeerConnection),
	}
}

// SetInitial sets the function producing catch-up events for new channels.
func (h *WebRTCHandler) SetInitial(fn func() []Event) {
	h.initial = fn
}

// PeerCount returns the number of active WebRTC peers.
func (h *WebRTCHandler) PeerCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.peers)
}

func (h *WebRTCHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var offer webrtc.SessionDescription
	if err := json.NewDecoder(r.Body).Decode(&offer); err != nil || offer.SDP == "" {
		http.Error(w, "invalid SDP offer", http.StatusBadRequest)
		return
	}

	pc, err := webrtc.NewPeerConnection(h.config)
	if err != nil {
		h.logger.Error("create peer connection failed", "error", err)
		http.Error(w, "create peer connection failed", http.StatusInternalServerError)
		return
	}

	peerID := uuid.NewString()
	logger := h.logger.With("peer", peerID)

	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() != EventsLabel {
			logger.Debug("ignoring data channel", "label", dc.Label())
			return
		}
		dc.OnOpen(func() {
			go h.streamToChannel(dc, logger)
		})
	})

	if err := pc.SetRemoteDescription(offer); err != nil {
		pc.Close()
		http.Error(w, "set remote description failed", http.StatusBadRequest)
		return
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		pc.Close()
		http.Error(w, "create answer failed", http.StatusInternalServerError)
		return
	}

	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		pc.Close()
		http.Error(w, "set local description failed", http.StatusInternalServerError)
		return
	}
	<-gatherComplete

	h.mu.Lock()
	h.peers[peerID] = pc
	h.mu.Unlock()
	logger.Info("webrtc peer connected", "total", h.PeerCount())

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		if s == webrtc.PeerConnectionStateFailed ||
			s == webrtc.PeerConnectionStateClosed ||
			s == webrtc.PeerConnectionStateDisconnected {
			h.removePeer(peerID)
			pc.Close()
			logger.Info("webrtc peer disconnected", "remaining", h.PeerCount())
		}
	})

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(pc.LocalDescription())
}

func (h *WebRTCHandler) streamToChannel(dc *webrtc.DataChannel, logger *slog.Logger) {
	listener := h.broadcaster.Subscribe()
	defer h.broadcaster.Unsubscribe(listener)

	closed := make(chan struct{})
	var once sync.Once
	dc.OnClose(func() { once.Do(func() { close(closed) }) })

	send := func(ev Event) bool {
		data, err := ev.Encode()
		if err != nil {
			logger.Warn("dropping unencodable event", "kind", ev.Kind, "error", err)
			return true
		}
		return dc.Send(data) == nil
	}

	if h.initial != nil {
		for _, ev := range h.initial() {
			if !send(ev) {
				return
			}
		}
	}

	for {
		select {
		case <-closed:
			return
		case <-listener.Done():
			// Evicted for falling behind; the client reopens the channel.
			dc.Close()
			return
		case ev := <-listener.C:
			if !send(ev) {
				return
			}
		}
	}
}

func (h *WebRTCHandler) removePeer(id string) {
	h.mu.Lock()
	delete(h.peers, id)
	h.mu.Unlock()
}
