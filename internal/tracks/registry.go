// Package tracks holds the generated versions of the current song.
package tracks

import (
	"fmt"
	"sync"

	"github.com/satindergrewal/songdeck/internal/lyrics"
)

// Version is one playable rendering of a song with its optional word alignment.
type Version struct {
	SourceURI    string        `json:"source_uri"`
	TrackID      string        `json:"track_id"`
	Words        []lyrics.Word `json:"words,omitempty"`
	HasAlignment bool          `json:"has_alignment"`
}

// NewVersion builds a Version, normalizing wire word timings at the boundary.
// On malformed alignment data the version is still returned, unaligned, along
// with the error so the caller can log it.
func NewVersion(sourceURI, trackID string, wire []lyrics.WireWord) (Version, error) {
	v := Version{SourceURI: sourceURI, TrackID: trackID}
	words, err := lyrics.Normalize(wire)
	if err != nil {
		return v, fmt.Errorf("track %s alignment: %w", trackID, err)
	}
	v.Words = words
	v.HasAlignment = len(words) > 0
	return v, nil
}

// ReplaceFunc is called after the registry contents are replaced.
type ReplaceFunc func(generation uint64)

// Registry is the ordered list of versions on screen. It is only ever
// replaced wholesale; individual versions are never edited.
type Registry struct {
	mu         sync.RWMutex
	versions   []Version
	generation uint64
	listeners  []ReplaceFunc
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// OnReplace registers fn to run after every Replace.
func (r *Registry) OnReplace(fn ReplaceFunc) {
	r.mu.Lock()
	r.listeners = append(r.listeners, fn)
	r.mu.Unlock()
}

// Replace swaps in a new set of versions and returns the new generation.
func (r *Registry) Replace(versions []Version) uint64 {
	cp := make([]Version, len(versions))
	copy(cp, versions)

	r.mu.Lock()
	r.versions = cp
	r.generation++
	gen := r.generation
	listeners := append([]ReplaceFunc(nil), r.listeners...)
	r.mu.Unlock()

	for _, fn := range listeners {
		fn(gen)
	}
	return gen
}

// Len returns the number of versions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.versions)
}

// At returns the version at index i.
func (r *Registry) At(i int) (Version, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if i < 0 || i >= len(r.versions) {
		return Version{}, false
	}
	return r.versions[i], true
}

// All returns a copy of every version in order.
func (r *Registry) All() []Version {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Version, len(r.versions))
	copy(out, r.versions)
	return out
}

// Generation increments on every Replace; zero means never populated.
func (r *Registry) Generation() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.generation
}
