// Package console serves the HTTP API the browser UI drives playback
// through.
package console

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/satindergrewal/songdeck/internal/playback"
	"github.com/satindergrewal/songdeck/internal/remote"
	"github.com/satindergrewal/songdeck/internal/scroll"
	"github.com/satindergrewal/songdeck/internal/studio"
	"github.com/satindergrewal/songdeck/internal/tracks"
)

// Deps are the components the console exposes. Studio and the stream
// handlers may be nil; their routes then answer 503.
type Deps struct {
	Coordinator *playback.Coordinator
	Broker      playback.Broker
	Registry    *tracks.Registry
	Region      *remote.Region
	Scroll      *scroll.Controller
	Studio      *studio.Studio
	Publish     remote.Publisher

	Events http.Handler // SSE stream
	Socket http.Handler // WebSocket stream
	Offer  http.Handler // WebRTC signaling

	// JobContext bounds background generation jobs.
	JobContext        context.Context
	TimeReportsPerSec float64
	AllowedOrigins    []string
	Logger            *slog.Logger
}

// Server is the console HTTP API.
type Server struct {
	deps     Deps
	router   chi.Router
	validate *requestValidator
	limiter  *keyedLimiter
	logger   *slog.Logger
}

// New builds the router.
func New(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.JobContext == nil {
		deps.JobContext = context.Background()
	}
	if len(deps.AllowedOrigins) == 0 {
		deps.AllowedOrigins = []string{"*"}
	}

	s := &Server{
		deps:     deps,
		router:   chi.NewRouter(),
		validate: newValidator(),
		limiter:  newKeyedLimiter(deps.TimeReportsPerSec),
		logger:   deps.Logger.With("component", "console"),
	}
	s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	r := s.router
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.deps.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Get("/session", s.handleSession)
		r.Post("/play", s.handlePlay)
		r.Post("/pause", s.handlePause)
		r.Post("/seek", s.handleSeek)

		r.Get("/tracks", s.handleListTracks)
		r.Put("/tracks", s.handleReplaceTracks)
		r.Get("/tracks/{index}/highlight", s.handleHighlight)

		r.Get("/generate", s.handleStudioStatus)
		r.Post("/generate", s.handleGenerate)

		r.Route("/handles/{index}", func(r chi.Router) {
			r.Put("/", s.handleRegister)
			r.Delete("/", s.handleUnregister)
			r.Post("/{event}", s.handleHandleEvent)
		})

		r.Post("/layout", s.handleLayout)
		r.Post("/layout/scrolled", s.handleUserScrolled)

		r.Get("/events", s.optional(s.deps.Events))
		r.Get("/ws", s.optional(s.deps.Socket))
		r.Post("/offer", s.optional(s.deps.Offer))
	})
}

func (s *Server) optional(h http.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h == nil {
			writeError(w, http.StatusServiceUnavailable, "not enabled", s.logger)
			return
		}
		h.ServeHTTP(w, r)
	}
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"}, s.logger)
}
