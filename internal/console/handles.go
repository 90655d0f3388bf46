package console

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/satindergrewal/songdeck/internal/remote"
)

type registerRequest struct {
	Ready bool `json:"ready"`
}

type readyRequest struct {
	Ready *bool `json:"ready"`
}

// startedRequest carries the id of the play command that started the
// element; it is empty when the page's own controls started it.
type startedRequest struct {
	ID string `json:"id" validate:"omitempty,uuid"`
}

type timeRequest struct {
	Seconds *float64 `json:"seconds" validate:"required,gte=0"`
}

type ackRequest struct {
	ID          string `json:"id" validate:"required,uuid"`
	OK          bool   `json:"ok"`
	Interrupted bool   `json:"interrupted"`
	Error       string `json:"error" validate:"max=512"`
}

// handleRegister attaches a browser media element at index, replacing any
// previous one.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	index, ok := s.pathIndex(w, r)
	if !ok {
		return
	}
	var req registerRequest
	if !s.decode(w, r, &req) {
		return
	}

	if old, ok := s.deps.Broker.Handle(index); ok && old.Playing() {
		old.Pause()
	}
	h := remote.NewHandle(index, s.deps.Publish)
	h.SetReady(req.Ready)
	s.deps.Broker.RegisterHandle(index, h)

	s.logger.Debug("handle registered", "index", index, "ready", req.Ready)
	writeJSON(w, http.StatusCreated, map[string]any{"index": index, "ready": req.Ready}, s.logger)
}

func (s *Server) handleUnregister(w http.ResponseWriter, r *http.Request) {
	index, ok := s.pathIndex(w, r)
	if !ok {
		return
	}
	h, ok := s.deps.Broker.Handle(index)
	if !ok {
		writeError(w, http.StatusNotFound, "no handle at index", s.logger)
		return
	}
	if s.deps.Coordinator.Snapshot().ActiveIndex == index {
		// Also cancels a start still pending on this handle.
		s.deps.Coordinator.Pause()
	} else if h.Playing() {
		h.Pause()
	}
	s.deps.Broker.UnregisterHandle(index)
	w.WriteHeader(http.StatusNoContent)
}

// handleHandleEvent applies a report from the browser element at index.
func (s *Server) handleHandleEvent(w http.ResponseWriter, r *http.Request) {
	index, ok := s.pathIndex(w, r)
	if !ok {
		return
	}
	ph, ok := s.deps.Broker.Handle(index)
	h, isRemote := ph.(*remote.Handle)
	if !ok || !isRemote {
		writeError(w, http.StatusNotFound, "no handle at index", s.logger)
		return
	}

	c := s.deps.Coordinator
	switch event := chi.URLParam(r, "event"); event {
	case "ready":
		var req readyRequest
		if !s.decode(w, r, &req) {
			return
		}
		ready := req.Ready == nil || *req.Ready
		h.SetReady(ready)

	case "started":
		var req startedRequest
		if !s.decode(w, r, &req) {
			return
		}
		if !h.ReportStarted(req.ID) {
			s.logger.Debug("ignoring start of withdrawn play command", "index", index, "command", req.ID)
			break
		}
		s.deps.Broker.NotifyStarted(h)

	case "time":
		if !s.limiter.Allow(clientKey(r)) {
			writeError(w, http.StatusTooManyRequests, "too many time reports", s.logger)
			return
		}
		var req timeRequest
		if !s.decode(w, r, &req) {
			return
		}
		h.ReportTime(*req.Seconds)
		c.ReportTimeUpdate(h, *req.Seconds)

	case "ended":
		h.ReportEnded()
		c.HandleEnded(h)

	case "ack":
		var req ackRequest
		if !s.decode(w, r, &req) {
			return
		}
		resolved := h.Ack(req.ID, remote.Result{OK: req.OK, Interrupted: req.Interrupted, Error: req.Error})
		writeJSON(w, http.StatusOK, map[string]bool{"resolved": resolved}, s.logger)
		return

	default:
		writeError(w, http.StatusNotFound, "unknown event "+event, s.logger)
		return
	}

	writeJSON(w, http.StatusOK, c.Snapshot(), s.logger)
}

func (s *Server) handleLayout(w http.ResponseWriter, r *http.Request) {
	var req remote.Layout
	if !s.decode(w, r, &req) {
		return
	}
	s.deps.Region.SetLayout(req)
	// Rows rendered since the highlight changed can be scrolled to now.
	s.deps.Scroll.Retry()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUserScrolled(w http.ResponseWriter, r *http.Request) {
	s.deps.Scroll.UserScrolled()
	w.WriteHeader(http.StatusNoContent)
}
