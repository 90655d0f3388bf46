package console

import (
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/satindergrewal/songdeck/internal/lyrics"
	"github.com/satindergrewal/songdeck/internal/playback"
	"github.com/satindergrewal/songdeck/internal/studio"
	"github.com/satindergrewal/songdeck/internal/tracks"
)

type playRequest struct {
	Index *int `json:"index" validate:"required,gte=0"`
}

type seekRequest struct {
	Seconds *float64 `json:"seconds" validate:"required"`
}

type versionInput struct {
	SourceURI string            `json:"source_uri" validate:"required"`
	TrackID   string            `json:"track_id" validate:"required"`
	Words     []lyrics.WireWord `json:"words"`
}

type replaceTracksRequest struct {
	Versions []versionInput `json:"versions" validate:"dive"`
}

type tracksResponse struct {
	Generation uint64           `json:"generation"`
	Versions   []tracks.Version `json:"versions"`
	Warnings   []string         `json:"warnings,omitempty"`
}

type highlightResponse struct {
	TrackIndex int          `json:"track_index"`
	Time       float64      `json:"time"`
	WordIndex  int          `json:"word_index"`
	Word       *lyrics.Word `json:"word,omitempty"`
}

type studioResponse struct {
	studio.Status
	Styles []string `json:"styles"`
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Coordinator.Snapshot(), s.logger)
}

func (s *Server) handlePlay(w http.ResponseWriter, r *http.Request) {
	var req playRequest
	if !s.decode(w, r, &req) {
		return
	}
	switch err := s.deps.Coordinator.SelectAndPlay(*req.Index); {
	case errors.Is(err, playback.ErrNotReady):
		writeError(w, http.StatusConflict, err.Error(), s.logger)
	case errors.Is(err, playback.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, err.Error(), s.logger)
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error(), s.logger)
	default:
		writeJSON(w, http.StatusOK, s.deps.Coordinator.Snapshot(), s.logger)
	}
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.deps.Coordinator.Pause()
	writeJSON(w, http.StatusOK, s.deps.Coordinator.Snapshot(), s.logger)
}

func (s *Server) handleSeek(w http.ResponseWriter, r *http.Request) {
	var req seekRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.deps.Coordinator.Seek(*req.Seconds)
	writeJSON(w, http.StatusOK, s.deps.Coordinator.Snapshot(), s.logger)
}

func (s *Server) handleListTracks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, tracksResponse{
		Generation: s.deps.Registry.Generation(),
		Versions:   s.deps.Registry.All(),
	}, s.logger)
}

// handleReplaceTracks loads versions produced elsewhere. Malformed word
// alignments are reported as warnings and the version is kept unaligned.
func (s *Server) handleReplaceTracks(w http.ResponseWriter, r *http.Request) {
	var req replaceTracksRequest
	if !s.decode(w, r, &req) {
		return
	}

	versions := make([]tracks.Version, 0, len(req.Versions))
	var warnings []string
	for _, in := range req.Versions {
		v, err := tracks.NewVersion(in.SourceURI, in.TrackID, in.Words)
		if err != nil {
			s.logger.Warn("dropping malformed word alignment", "track", in.TrackID, "error", err)
			warnings = append(warnings, err.Error())
		}
		versions = append(versions, v)
	}

	gen := s.deps.Registry.Replace(versions)
	writeJSON(w, http.StatusOK, tracksResponse{
		Generation: gen,
		Versions:   versions,
		Warnings:   warnings,
	}, s.logger)
}

func (s *Server) handleHighlight(w http.ResponseWriter, r *http.Request) {
	index, ok := s.pathIndex(w, r)
	if !ok {
		return
	}
	v, ok := s.deps.Registry.At(index)
	if !ok {
		writeError(w, http.StatusNotFound, "no such track", s.logger)
		return
	}
	t, err := strconv.ParseFloat(r.URL.Query().Get("t"), 64)
	if err != nil || math.IsNaN(t) || math.IsInf(t, 0) {
		writeError(w, http.StatusBadRequest, "t must be a number of seconds", s.logger)
		return
	}

	resp := highlightResponse{TrackIndex: index, Time: t, WordIndex: lyrics.HighlightIndex(v.Words, t)}
	if resp.WordIndex != lyrics.None {
		word := v.Words[resp.WordIndex]
		resp.Word = &word
	}
	writeJSON(w, http.StatusOK, resp, s.logger)
}

func (s *Server) handleStudioStatus(w http.ResponseWriter, r *http.Request) {
	if s.deps.Studio == nil {
		writeError(w, http.StatusServiceUnavailable, "generation not configured", s.logger)
		return
	}
	writeJSON(w, http.StatusOK, studioResponse{Status: s.deps.Studio.Status(), Styles: studio.StyleNames()}, s.logger)
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	if s.deps.Studio == nil {
		writeError(w, http.StatusServiceUnavailable, "generation not configured", s.logger)
		return
	}
	var req studio.SongRequest
	if !s.decode(w, r, &req) {
		return
	}
	switch err := s.deps.Studio.Start(s.deps.JobContext, req); {
	case errors.Is(err, studio.ErrBusy):
		writeError(w, http.StatusConflict, err.Error(), s.logger)
	case errors.Is(err, studio.ErrUnknownStyle):
		writeError(w, http.StatusBadRequest, err.Error(), s.logger)
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error(), s.logger)
	default:
		writeJSON(w, http.StatusAccepted, s.deps.Studio.Status(), s.logger)
	}
}

func (s *Server) pathIndex(w http.ResponseWriter, r *http.Request) (int, bool) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil || index < 0 {
		writeError(w, http.StatusBadRequest, "index must be a non-negative integer", s.logger)
		return 0, false
	}
	return index, true
}
