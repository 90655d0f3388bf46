// Package playback keeps exactly one media handle playing at a time and
// tracks the shared playback session.
package playback

import (
	"context"
	"errors"
)

var (
	// ErrNotReady is returned when the requested track has no ready handle.
	ErrNotReady = errors.New("playback: handle not ready")

	// ErrInterrupted is returned by Handle.Play when the start was cut short
	// by a pause or a newer start. It is never treated as a failure.
	ErrInterrupted = errors.New("playback: start interrupted")

	ErrClosed = errors.New("playback: coordinator closed")
)

// Handle is a media element rendered and owned elsewhere. Implementations
// must be comparable (pointer types) since handles are matched by identity.
type Handle interface {
	// Ready reports whether the handle can accept Play.
	Ready() bool
	// Playing reports whether the handle is currently producing audio.
	Playing() bool
	// Position is the handle's own playback position in seconds.
	Position() float64
	// Play starts playback and blocks until it has started or failed.
	// Cancelling ctx abandons the start.
	Play(ctx context.Context) error
	Pause()
	Seek(seconds float64)
}

func isInterruption(err error) bool {
	return errors.Is(err, ErrInterrupted) || errors.Is(err, context.Canceled)
}
