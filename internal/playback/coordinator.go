package playback

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/satindergrewal/songdeck/internal/tracks"
)

// None is the ActiveIndex of a session with no selected track.
const None = -1

// DefaultSettleDelay separates stopping other handles from starting the
// selected one.
const DefaultSettleDelay = 50 * time.Millisecond

// Session is the shared playback state read by every consumer.
type Session struct {
	ActiveIndex int     `json:"active_index"`
	Playing     bool    `json:"playing"`
	CurrentTime float64 `json:"current_time"`
}

func idleSession() Session {
	return Session{ActiveIndex: None}
}

// Options configures a Coordinator.
type Options struct {
	SettleDelay time.Duration
	Logger      *slog.Logger
}

// Coordinator serializes play, pause, seek and progress reports across all
// registered handles. Every operation and every asynchronous start
// completion runs under mu, so state changes apply in call order.
type Coordinator struct {
	broker Broker
	tracks *tracks.Registry
	settle time.Duration
	logger *slog.Logger
	events chan Session

	mu      sync.Mutex
	session Session
	closed  bool

	// token tags the current start request; completions carrying an older
	// token are discarded.
	token    uint64
	pending  bool
	starting Handle
	timer    *time.Timer
	cancel   context.CancelFunc
}

// NewCoordinator creates a coordinator over broker's handles. registry may be
// nil; when set, selections are bounded by its length and replacing it
// resets the session.
func NewCoordinator(broker Broker, registry *tracks.Registry, opts Options) *Coordinator {
	if opts.SettleDelay <= 0 {
		opts.SettleDelay = DefaultSettleDelay
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	c := &Coordinator{
		broker:  broker,
		tracks:  registry,
		settle:  opts.SettleDelay,
		logger:  opts.Logger.With("component", "playback"),
		events:  make(chan Session, 32),
		session: idleSession(),
	}

	broker.OnStarted(c.HandleStarted)
	if registry != nil {
		registry.OnReplace(func(gen uint64) {
			c.logger.Debug("track registry replaced, resetting session", "generation", gen)
			c.Reset()
		})
	}
	return c
}

// Events returns a channel of session snapshots. When the consumer falls
// behind the oldest snapshots are dropped; the newest is always delivered.
func (c *Coordinator) Events() <-chan Session {
	return c.events
}

// Snapshot returns the current session.
func (c *Coordinator) Snapshot() Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// SelectAndPlay makes track index the active track and starts it after the
// settle delay. Selecting the active track while it plays pauses it instead.
func (c *Coordinator) SelectAndPlay(index int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if c.tracks != nil && (index < 0 || index >= c.tracks.Len()) {
		c.logger.Debug("select ignored, no such track", "index", index)
		return fmt.Errorf("track %d: %w", index, ErrNotReady)
	}
	h, ok := c.broker.Handle(index)
	if !ok || !h.Ready() {
		c.logger.Debug("select ignored, handle not ready", "index", index, "registered", ok)
		return fmt.Errorf("track %d: %w", index, ErrNotReady)
	}

	if index == c.session.ActiveIndex && c.session.Playing {
		c.pauseLocked()
		return nil
	}

	switching := index != c.session.ActiveIndex

	c.broker.StopAllExcept(h)
	if switching {
		if prev, ok := c.activeHandleLocked(); ok && prev != h {
			prev.Seek(0)
		}
		h.Seek(0)
	}

	c.session.ActiveIndex = index
	c.session.Playing = false
	if switching {
		c.session.CurrentTime = 0
	}

	c.cancelStartLocked(h)
	token := c.token
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.pending = true
	c.starting = h
	c.timer = time.AfterFunc(c.settle, func() {
		c.start(ctx, token, index, h)
	})

	c.logger.Debug("track selected", "index", index, "switch", switching, "token", token)
	c.emitLocked()
	return nil
}

// start runs after the settle delay. Play blocks, so it runs without the lock
// and the token is re-checked once it returns.
func (c *Coordinator) start(ctx context.Context, token uint64, index int, h Handle) {
	c.mu.Lock()
	if token != c.token {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	err := h.Play(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()

	if token != c.token {
		c.logger.Debug("discarding stale start", "index", index, "token", token, "current", c.token, "error", err)
		if err == nil && !c.ownsStreamLocked(h) {
			h.Pause()
		}
		return
	}

	c.pending = false
	c.starting = nil
	c.releaseLocked()

	switch {
	case err == nil:
		c.session.Playing = true
		c.emitLocked()
	case isInterruption(err):
		c.logger.Debug("start interrupted", "index", index, "token", token)
	default:
		c.logger.Error("playback failed", "index", index, "token", token, "error", err)
		if c.session.Playing {
			c.session.Playing = false
			c.emitLocked()
		}
	}
}

// Pause stops the active handle. Any start still pending is cancelled.
func (c *Coordinator) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pauseLocked()
}

func (c *Coordinator) pauseLocked() {
	wasPending := c.invalidateLocked()
	if c.session.ActiveIndex == None {
		return
	}
	if h, ok := c.activeHandleLocked(); ok && (c.session.Playing || wasPending || h.Playing()) {
		h.Pause()
	}
	if c.session.Playing {
		c.session.Playing = false
		c.emitLocked()
	}
}

// Seek moves the active handle and updates the session without waiting for
// the handle to confirm.
func (c *Coordinator) Seek(seconds float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session.ActiveIndex == None {
		return
	}
	if math.IsNaN(seconds) || seconds < 0 {
		seconds = 0
	}
	if h, ok := c.activeHandleLocked(); ok {
		h.Seek(seconds)
	}
	c.session.CurrentTime = seconds
	c.emitLocked()
}

// ReportTimeUpdate records progress from source. Reports from handles other
// than the active one are ignored.
func (c *Coordinator) ReportTimeUpdate(source Handle, seconds float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	h, ok := c.activeHandleLocked()
	if !ok || h != source || math.IsNaN(seconds) {
		return
	}
	if c.session.CurrentTime == seconds {
		return
	}
	c.session.CurrentTime = seconds
	c.emitLocked()
}

// HandleStarted reacts to a handle starting by any means, including native
// transport controls that bypass SelectAndPlay. Every other handle is
// stopped; a registered handle that started on its own becomes active.
func (c *Coordinator) HandleStarted(source Handle) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.broker.StopAllExcept(source)
	if c.closed {
		return
	}

	idx, known := c.broker.IndexOf(source)
	switch {
	case !known:
		c.cancelStartLocked(source)
		if c.session.Playing {
			c.session.Playing = false
			c.emitLocked()
		}
	case idx == c.session.ActiveIndex:
		if !c.session.Playing {
			c.session.Playing = true
			c.emitLocked()
		}
	default:
		c.cancelStartLocked(source)
		c.logger.Debug("adopting externally started handle", "index", idx, "previous", c.session.ActiveIndex)
		c.session = Session{ActiveIndex: idx, Playing: true, CurrentTime: source.Position()}
		c.emitLocked()
	}
}

// HandleEnded marks the session stopped when the active handle finishes.
func (c *Coordinator) HandleEnded(source Handle) {
	c.mu.Lock()
	defer c.mu.Unlock()

	h, ok := c.activeHandleLocked()
	if !ok || h != source || !c.session.Playing {
		return
	}
	c.session.Playing = false
	c.emitLocked()
}

// Reset stops everything and returns the session to idle.
func (c *Coordinator) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetLocked()
}

func (c *Coordinator) resetLocked() {
	c.cancelStartLocked(nil)
	c.broker.StopAllExcept(nil)
	if c.session != idleSession() {
		c.session = idleSession()
		c.emitLocked()
	}
}

// Close resets the session and closes the events channel.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.resetLocked()
	c.closed = true
	close(c.events)
}

// cancelStartLocked invalidates any pending start and pauses the handle it
// targeted unless that is keep. The handle may already be starting without
// having reported it.
func (c *Coordinator) cancelStartLocked(keep Handle) {
	target := c.starting
	if c.invalidateLocked() && target != nil && target != keep {
		target.Pause()
	}
}

// invalidateLocked retires the current token, cancelling any scheduled or
// in-flight start. It reports whether a start was pending.
func (c *Coordinator) invalidateLocked() bool {
	c.token++
	wasPending := c.pending
	c.pending = false
	c.starting = nil
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.releaseLocked()
	return wasPending
}

func (c *Coordinator) releaseLocked() {
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
}

func (c *Coordinator) activeHandleLocked() (Handle, bool) {
	if c.session.ActiveIndex == None {
		return nil, false
	}
	return c.broker.Handle(c.session.ActiveIndex)
}

// ownsStreamLocked reports whether h is the handle the session expects to be
// audible, either playing or about to start.
func (c *Coordinator) ownsStreamLocked(h Handle) bool {
	active, ok := c.activeHandleLocked()
	return ok && active == h && (c.session.Playing || c.pending)
}

func (c *Coordinator) emitLocked() {
	if c.closed {
		return
	}
	s := c.session
	select {
	case c.events <- s:
		return
	default:
	}
	// Full: drop the oldest snapshot to make room.
	select {
	case <-c.events:
	default:
	}
	select {
	case c.events <- s:
	default:
	}
}
