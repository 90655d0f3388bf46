// Package karaoke turns session snapshots into highlighted-word changes and
// keeps the lyric panel scrolled to them.
package karaoke

import (
	"context"
	"log/slog"
	"sync"

	"github.com/satindergrewal/songdeck/internal/lyrics"
	"github.com/satindergrewal/songdeck/internal/playback"
	"github.com/satindergrewal/songdeck/internal/tracks"
)

// Highlight identifies the word currently being sung.
type Highlight struct {
	TrackIndex int `json:"track_index"`
	WordIndex  int `json:"word_index"`
}

// Scroller is the part of scroll.Controller the follower drives.
type Scroller interface {
	Follow(index int) bool
	Reset()
}

// Follower derives the highlight for every session snapshot and publishes
// it when it changes.
type Follower struct {
	registry *tracks.Registry
	scroller Scroller
	publish  func(Highlight)
	logger   *slog.Logger

	mu         sync.Mutex
	last       Highlight
	generation uint64
}

// NewFollower creates a follower. scroller and publish may be nil.
func NewFollower(registry *tracks.Registry, scroller Scroller, publish func(Highlight), logger *slog.Logger) *Follower {
	if logger == nil {
		logger = slog.Default()
	}
	return &Follower{
		registry: registry,
		scroller: scroller,
		publish:  publish,
		logger:   logger.With("component", "karaoke"),
		last:     Highlight{TrackIndex: playback.None, WordIndex: lyrics.None},
	}
}

// Run applies snapshots until ctx is done or sessions is closed.
func (f *Follower) Run(ctx context.Context, sessions <-chan playback.Session) {
	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-sessions:
			if !ok {
				return
			}
			f.Apply(s)
		}
	}
}

// Apply derives the highlight for s. It reports the highlight and whether it
// differs from the previous one.
func (f *Follower) Apply(s playback.Session) (Highlight, bool) {
	h := Highlight{TrackIndex: s.ActiveIndex, WordIndex: lyrics.None}
	if v, ok := f.registry.At(s.ActiveIndex); ok {
		h.WordIndex = lyrics.Highlighted(v.Words, s.CurrentTime, s.Playing)
	}
	gen := f.registry.Generation()

	f.mu.Lock()
	trackChanged := h.TrackIndex != f.last.TrackIndex || gen != f.generation
	changed := trackChanged || h.WordIndex != f.last.WordIndex
	f.last = h
	f.generation = gen
	f.mu.Unlock()

	if !changed {
		return h, false
	}

	if f.scroller != nil {
		if trackChanged {
			f.scroller.Reset()
		}
		f.scroller.Follow(h.WordIndex)
	}
	if f.publish != nil {
		f.publish(h)
	}
	f.logger.Debug("highlight changed", "track", h.TrackIndex, "word", h.WordIndex)
	return h, true
}

// Current returns the last derived highlight.
func (f *Follower) Current() Highlight {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}
