package studio

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/satindergrewal/songdeck/internal/acestep"
	"github.com/satindergrewal/songdeck/internal/lyrics"
	"github.com/satindergrewal/songdeck/internal/tracks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGenerator struct {
	requests []acestep.GenerateRequest
	release  chan struct{} // when set, PollUntilDone waits on it
	results  []acestep.Result
	pollErr  error
}

func (f *fakeGenerator) Generate(ctx context.Context, req acestep.GenerateRequest) (string, error) {
	f.requests = append(f.requests, req)
	return "task_9", nil
}

func (f *fakeGenerator) PollUntilDone(ctx context.Context, taskID string, interval time.Duration) ([]acestep.Result, error) {
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.results, f.pollErr
}

func f64(v float64) *float64 { return &v }

func newStudio(gen Generator) (*Studio, *tracks.Registry) {
	reg := tracks.NewRegistry()
	cfg := Config{TrackDuration: 120, BatchSize: 2, InferenceSteps: 50, GuidanceScale: 4, PollInterval: time.Millisecond}
	return New(gen, reg, cfg, slog.New(slog.NewTextHandler(io.Discard, nil))), reg
}

func TestGenerateReplacesRegistry(t *testing.T) {
	gen := &fakeGenerator{results: []acestep.Result{
		{URI: "http://ace/0.mp3", Words: []lyrics.WireWord{{Word: "Hello", StartS: f64(0.5), EndS: f64(1.0)}}},
		{URI: "http://ace/1.mp3", Words: []lyrics.WireWord{{Word: "broken", Start: f64(2), End: f64(1)}}},
	}}
	s, reg := newStudio(gen)

	versions, err := s.Generate(context.Background(), SongRequest{Style: "ballad", Lyrics: "Hello world"})
	require.NoError(t, err)
	require.Len(t, versions, 2)

	assert.Equal(t, "task_9-0", versions[0].TrackID)
	assert.True(t, versions[0].HasAlignment)
	assert.Equal(t, "task_9-1", versions[1].TrackID)
	assert.False(t, versions[1].HasAlignment, "malformed alignment is dropped, the version kept")

	assert.Equal(t, 2, reg.Len())
	assert.EqualValues(t, 1, reg.Generation())

	require.Len(t, gen.requests, 1)
	req := gen.requests[0]
	assert.Equal(t, GetCaption("ballad"), req.Caption)
	assert.Equal(t, "Hello world", req.Lyrics)
	assert.Equal(t, 120, req.Duration)
	assert.Equal(t, 2, req.BatchSize)
	assert.Equal(t, -1, req.Seed)

	st := s.Status()
	assert.Equal(t, StateDone, st.State)
	assert.Equal(t, "task_9", st.TaskID)
	assert.Equal(t, 2, st.Tracks)
	assert.Equal(t, 1, st.Unaligned)
}

func TestGenerateRequestOverrides(t *testing.T) {
	gen := &fakeGenerator{results: []acestep.Result{{URI: "u"}}}
	s, _ := newStudio(gen)
	seed := 7

	_, err := s.Generate(context.Background(), SongRequest{
		Caption: "custom", Lyrics: "la", Duration: 30, BatchSize: 1, Seed: &seed,
	})
	require.NoError(t, err)
	req := gen.requests[0]
	assert.Equal(t, "custom", req.Caption)
	assert.Equal(t, 30, req.Duration)
	assert.Equal(t, 1, req.BatchSize)
	assert.Equal(t, 7, req.Seed)
}

func TestGenerateUnknownStyle(t *testing.T) {
	s, _ := newStudio(&fakeGenerator{})
	_, err := s.Generate(context.Background(), SongRequest{Style: "polka", Lyrics: "x"})
	assert.ErrorIs(t, err, ErrUnknownStyle)
	assert.Equal(t, StateIdle, s.Status().State)
}

func TestStartRejectsWhileBusy(t *testing.T) {
	gen := &fakeGenerator{release: make(chan struct{}), results: []acestep.Result{{URI: "u"}}}
	s, reg := newStudio(gen)

	statusCh := make(chan Status, 8)
	s.OnStatus(func(st Status) { statusCh <- st })

	require.NoError(t, s.Start(context.Background(), SongRequest{Lyrics: "one"}))
	assert.ErrorIs(t, s.Start(context.Background(), SongRequest{Lyrics: "two"}), ErrBusy)

	close(gen.release)
	var states []State
	for st := range statusCh {
		states = append(states, st.State)
		if st.State == StateDone {
			break
		}
	}
	assert.Equal(t, StateRunning, states[0])
	assert.Equal(t, 1, reg.Len())

	s.OnStatus(nil)
	require.NoError(t, s.Start(context.Background(), SongRequest{Lyrics: "three"}), "studio is free again")
}

func TestGenerateFailureRecordsStatus(t *testing.T) {
	gen := &fakeGenerator{pollErr: acestep.ErrTaskFailed}
	s, reg := newStudio(gen)

	_, err := s.Generate(context.Background(), SongRequest{Lyrics: "x"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, acestep.ErrTaskFailed))

	st := s.Status()
	assert.Equal(t, StateFailed, st.State)
	assert.True(t, strings.Contains(st.Error, "generation failed"))
	assert.Equal(t, 0, reg.Len())
}

func TestStyles(t *testing.T) {
	names := StyleNames()
	require.NotEmpty(t, names)
	for _, name := range names {
		assert.True(t, IsValidStyle(name))
		assert.NotEmpty(t, GetCaption(name))
	}
	assert.False(t, IsValidStyle("polka"))
	assert.Contains(t, GetCaption("polka"), "polka")
}
