// Package remote proxies browser-rendered media elements and the lyric panel
// so the playback core can drive them from the server.
package remote

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/satindergrewal/songdeck/internal/playback"
)

// CommandKind names an instruction sent to the browser.
type CommandKind string

const (
	CommandPlay   CommandKind = "play"
	CommandPause  CommandKind = "pause"
	CommandSeek   CommandKind = "seek"
	CommandScroll CommandKind = "scroll"
)

// Command is an instruction for the browser. Play commands expect an Ack
// carrying the same ID.
type Command struct {
	ID      string      `json:"id"`
	Kind    CommandKind `json:"kind"`
	Index   int         `json:"index"`
	Seconds float64     `json:"seconds,omitempty"`
	Top     float64     `json:"top,omitempty"`
}

// Publisher delivers commands to the browser. It must not block.
type Publisher func(Command)

// Result is the browser's answer to a play command.
type Result struct {
	OK          bool   `json:"ok"`
	Interrupted bool   `json:"interrupted"`
	Error       string `json:"error,omitempty"`
}

// maxWithdrawn bounds how many abandoned play commands a handle remembers.
const maxWithdrawn = 8

// Handle is a playback.Handle for one browser media element. Its state is
// whatever the browser last reported.
type Handle struct {
	index   int
	publish Publisher

	mu       sync.Mutex
	ready    bool
	playing  bool
	position float64
	waiters  map[string]chan Result
	// withdrawn holds ids of play commands abandoned before the browser
	// answered. A start the browser reports for one of them is stale.
	withdrawn []string
}

var _ playback.Handle = (*Handle)(nil)

// NewHandle creates a proxy for the element rendering track index.
func NewHandle(index int, publish Publisher) *Handle {
	return &Handle{
		index:   index,
		publish: publish,
		waiters: make(map[string]chan Result),
	}
}

// Index returns the track index this handle renders.
func (h *Handle) Index() int { return h.index }

func (h *Handle) Ready() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ready
}

func (h *Handle) Playing() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.playing
}

func (h *Handle) Position() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.position
}

// Play sends a play command and waits for the browser to acknowledge it.
func (h *Handle) Play(ctx context.Context) error {
	if ctx.Err() != nil {
		return fmt.Errorf("track %d: %w", h.index, playback.ErrInterrupted)
	}
	id := uuid.NewString()
	ch := make(chan Result, 1)

	h.mu.Lock()
	h.waiters[id] = ch
	h.mu.Unlock()
	defer h.forget(id)

	h.publish(Command{ID: id, Kind: CommandPlay, Index: h.index})

	select {
	case <-ctx.Done():
		h.withdraw(id)
		return fmt.Errorf("track %d: %w", h.index, playback.ErrInterrupted)
	case r := <-ch:
		switch {
		case r.OK:
			h.mu.Lock()
			h.playing = true
			h.mu.Unlock()
			return nil
		case r.Interrupted:
			return fmt.Errorf("track %d: %w", h.index, playback.ErrInterrupted)
		case r.Error != "":
			return fmt.Errorf("track %d: %w", h.index, errors.New(r.Error))
		default:
			return fmt.Errorf("track %d: play rejected", h.index)
		}
	}
}

// Pause sends a pause command. Outstanding play commands resolve as
// interrupted and are remembered as withdrawn.
func (h *Handle) Pause() {
	h.mu.Lock()
	h.playing = false
	for id, ch := range h.waiters {
		ch <- Result{Interrupted: true}
		delete(h.waiters, id)
		h.rememberLocked(id)
	}
	h.mu.Unlock()

	h.publish(Command{ID: uuid.NewString(), Kind: CommandPause, Index: h.index})
}

func (h *Handle) Seek(seconds float64) {
	h.mu.Lock()
	h.position = seconds
	h.mu.Unlock()

	h.publish(Command{ID: uuid.NewString(), Kind: CommandSeek, Index: h.index, Seconds: seconds})
}

// Ack resolves the play command id. It reports false for unknown or
// already resolved commands.
func (h *Handle) Ack(id string, r Result) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch, ok := h.waiters[id]
	if !ok {
		return false
	}
	delete(h.waiters, id)
	ch <- r
	return true
}

// SetReady records whether the element has loaded enough to play.
func (h *Handle) SetReady(ready bool) {
	h.mu.Lock()
	h.ready = ready
	h.mu.Unlock()
}

// ReportStarted records that the element began producing audio. commandID is
// the play command that caused it, or empty for a start from the page's own
// controls. A start caused by a withdrawn command is paused again and
// ReportStarted returns false; it must not be treated as a new start.
func (h *Handle) ReportStarted(commandID string) bool {
	h.mu.Lock()
	if commandID != "" && h.forgetWithdrawnLocked(commandID) {
		h.playing = false
		h.mu.Unlock()
		h.publish(Command{ID: uuid.NewString(), Kind: CommandPause, Index: h.index})
		return false
	}
	h.playing = true
	h.mu.Unlock()
	return true
}

// ReportTime records the element's own position.
func (h *Handle) ReportTime(seconds float64) {
	h.mu.Lock()
	h.position = seconds
	h.mu.Unlock()
}

// ReportEnded records that the element reached the end of its media.
func (h *Handle) ReportEnded() {
	h.mu.Lock()
	h.playing = false
	h.mu.Unlock()
}

func (h *Handle) forget(id string) {
	h.mu.Lock()
	delete(h.waiters, id)
	h.mu.Unlock()
}

// withdraw abandons play command id and tells the browser to drop it.
func (h *Handle) withdraw(id string) {
	h.mu.Lock()
	_, outstanding := h.waiters[id]
	delete(h.waiters, id)
	if outstanding {
		h.rememberLocked(id)
	}
	h.mu.Unlock()

	if outstanding {
		h.publish(Command{ID: uuid.NewString(), Kind: CommandPause, Index: h.index})
	}
}

func (h *Handle) rememberLocked(id string) {
	if len(h.withdrawn) == maxWithdrawn {
		h.withdrawn = h.withdrawn[1:]
	}
	h.withdrawn = append(h.withdrawn, id)
}

func (h *Handle) forgetWithdrawnLocked(id string) bool {
	for i, w := range h.withdrawn {
		if w == id {
			h.withdrawn = append(h.withdrawn[:i], h.withdrawn[i+1:]...)
			return true
		}
	}
	return false
}
