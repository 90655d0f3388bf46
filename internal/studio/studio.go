// Package studio runs song generation jobs against ACE-Step and loads the
// resulting versions into the track registry.
package studio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/satindergrewal/songdeck/internal/acestep"
	"github.com/satindergrewal/songdeck/internal/tracks"
)

var (
	ErrBusy         = errors.New("a generation job is already running")
	ErrUnknownStyle = errors.New("unknown style")
)

// Generator is the part of acestep.Client the studio uses.
type Generator interface {
	Generate(ctx context.Context, req acestep.GenerateRequest) (string, error)
	PollUntilDone(ctx context.Context, taskID string, interval time.Duration) ([]acestep.Result, error)
}

// Config holds generation defaults.
type Config struct {
	TrackDuration  int // seconds
	BatchSize      int // versions per job
	InferenceSteps int
	GuidanceScale  float64
	AudioFormat    string
	PollInterval   time.Duration
}

// SongRequest describes one song to generate. Caption wins over Style when
// both are set.
type SongRequest struct {
	Style     string `json:"style"`
	Caption   string `json:"caption" validate:"max=512"`
	Lyrics    string `json:"lyrics" validate:"required,max=4000"`
	Duration  int    `json:"duration" validate:"omitempty,min=10,max=600"`
	BatchSize int    `json:"batch_size" validate:"omitempty,min=1,max=8"`
	Seed      *int   `json:"seed,omitempty"`
}

// State is the lifecycle of the most recent job.
type State string

const (
	StateIdle    State = "idle"
	StateRunning State = "running"
	StateDone    State = "done"
	StateFailed  State = "failed"
)

// Status describes the most recent job.
type Status struct {
	State      State     `json:"state"`
	TaskID     string    `json:"task_id,omitempty"`
	Style      string    `json:"style,omitempty"`
	Caption    string    `json:"caption,omitempty"`
	Tracks     int       `json:"tracks"`
	Unaligned  int       `json:"unaligned"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at,omitzero"`
	FinishedAt time.Time `json:"finished_at,omitzero"`
}

// Studio runs at most one generation job at a time.
type Studio struct {
	gen      Generator
	registry *tracks.Registry
	cfg      Config
	logger   *slog.Logger

	mu       sync.RWMutex
	status   Status
	onStatus func(Status)
}

// New creates a studio that replaces registry with each finished job.
func New(gen Generator, registry *tracks.Registry, cfg Config, logger *slog.Logger) *Studio {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 3 * time.Second
	}
	if cfg.AudioFormat == "" {
		cfg.AudioFormat = "mp3"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Studio{
		gen:      gen,
		registry: registry,
		cfg:      cfg,
		logger:   logger.With("component", "studio"),
		status:   Status{State: StateIdle},
	}
}

// OnStatus registers fn to receive every status change.
func (s *Studio) OnStatus(fn func(Status)) {
	s.mu.Lock()
	s.onStatus = fn
	s.mu.Unlock()
}

// Status returns the state of the most recent job.
func (s *Studio) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Start claims the studio and runs the job in the background. Errors
// returned here mean the job never started.
func (s *Studio) Start(ctx context.Context, req SongRequest) error {
	caption, err := s.claim(req)
	if err != nil {
		return err
	}
	go func() {
		if _, err := s.run(ctx, req, caption); err != nil {
			s.logger.Error("generation failed", "style", req.Style, "error", err)
		}
	}()
	return nil
}

// Generate runs a job to completion and returns the versions loaded into
// the registry.
func (s *Studio) Generate(ctx context.Context, req SongRequest) ([]tracks.Version, error) {
	caption, err := s.claim(req)
	if err != nil {
		return nil, err
	}
	return s.run(ctx, req, caption)
}

func (s *Studio) claim(req SongRequest) (string, error) {
	if req.Style != "" && !IsValidStyle(req.Style) {
		return "", fmt.Errorf("%q: %w", req.Style, ErrUnknownStyle)
	}
	caption := req.Caption
	if caption == "" {
		caption = GetCaption(req.Style)
	}

	s.mu.Lock()
	if s.status.State == StateRunning {
		s.mu.Unlock()
		return "", ErrBusy
	}
	s.status = Status{
		State:     StateRunning,
		Style:     req.Style,
		Caption:   caption,
		StartedAt: time.Now(),
	}
	st, fn := s.status, s.onStatus
	s.mu.Unlock()

	if fn != nil {
		fn(st)
	}
	return caption, nil
}

func (s *Studio) run(ctx context.Context, req SongRequest, caption string) ([]tracks.Version, error) {
	duration := req.Duration
	if duration == 0 {
		duration = s.cfg.TrackDuration
	}
	batch := req.BatchSize
	if batch == 0 {
		batch = s.cfg.BatchSize
	}
	seed := -1
	if req.Seed != nil {
		seed = *req.Seed
	}

	s.logger.Info("generating song", "style", req.Style, "duration", duration, "batch", batch)

	taskID, err := s.gen.Generate(ctx, acestep.GenerateRequest{
		Caption:        caption,
		Lyrics:         req.Lyrics,
		Duration:       duration,
		InferenceSteps: s.cfg.InferenceSteps,
		GuidanceScale:  s.cfg.GuidanceScale,
		Seed:           seed,
		BatchSize:      batch,
		AudioFormat:    s.cfg.AudioFormat,
	})
	if err != nil {
		return nil, s.fail("", fmt.Errorf("generate: %w", err))
	}
	s.update(func(st *Status) { st.TaskID = taskID })

	results, err := s.gen.PollUntilDone(ctx, taskID, s.cfg.PollInterval)
	if err != nil {
		return nil, s.fail(taskID, fmt.Errorf("poll task %s: %w", taskID, err))
	}

	versions := make([]tracks.Version, 0, len(results))
	unaligned := 0
	for i, r := range results {
		v, err := tracks.NewVersion(r.URI, fmt.Sprintf("%s-%d", taskID, i), r.Words)
		if err != nil {
			s.logger.Warn("dropping malformed word alignment", "track", v.TrackID, "error", err)
		}
		if !v.HasAlignment {
			unaligned++
		}
		versions = append(versions, v)
	}

	gen := s.registry.Replace(versions)
	s.logger.Info("song ready", "task", taskID, "versions", len(versions), "unaligned", unaligned, "generation", gen)

	s.update(func(st *Status) {
		st.State = StateDone
		st.Tracks = len(versions)
		st.Unaligned = unaligned
		st.FinishedAt = time.Now()
	})
	return versions, nil
}

func (s *Studio) fail(taskID string, err error) error {
	s.update(func(st *Status) {
		st.State = StateFailed
		st.TaskID = taskID
		st.Error = err.Error()
		st.FinishedAt = time.Now()
	})
	return err
}

func (s *Studio) update(fn func(*Status)) {
	s.mu.Lock()
	fn(&s.status)
	st, cb := s.status, s.onStatus
	s.mu.Unlock()

	if cb != nil {
		cb(st)
	}
}
