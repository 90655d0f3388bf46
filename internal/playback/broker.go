package playback

import (
	"sync"
)

// StartedFunc receives the system-wide "playback started" signal.
type StartedFunc func(source Handle)

// Broker owns the media handle registry and the global "only one plays"
// signal. Platform event wiring (media element broadcasts, native transport
// controls) is adapted into calls on this interface.
type Broker interface {
	RegisterHandle(index int, h Handle)
	UnregisterHandle(index int)
	Handle(index int) (Handle, bool)
	IndexOf(h Handle) (int, bool)
	// NotifyStarted reports that source began playing by any means.
	NotifyStarted(source Handle)
	// StopAllExcept pauses every playing handle other than keep and returns
	// how many were stopped. A nil keep stops everything.
	StopAllExcept(keep Handle) int
	OnStarted(fn StartedFunc)
}

// LocalBroker is an in-process Broker.
type LocalBroker struct {
	mu        sync.RWMutex
	handles   map[int]Handle
	listeners []StartedFunc
}

// NewLocalBroker creates an empty broker.
func NewLocalBroker() *LocalBroker {
	return &LocalBroker{handles: make(map[int]Handle)}
}

// RegisterHandle attaches h at index, replacing any previous handle there.
func (b *LocalBroker) RegisterHandle(index int, h Handle) {
	b.mu.Lock()
	b.handles[index] = h
	b.mu.Unlock()
}

// UnregisterHandle detaches whatever handle is at index.
func (b *LocalBroker) UnregisterHandle(index int) {
	b.mu.Lock()
	delete(b.handles, index)
	b.mu.Unlock()
}

func (b *LocalBroker) Handle(index int) (Handle, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	h, ok := b.handles[index]
	return h, ok
}

func (b *LocalBroker) IndexOf(h Handle) (int, bool) {
	if h == nil {
		return 0, false
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for i, candidate := range b.handles {
		if candidate == h {
			return i, true
		}
	}
	return 0, false
}

// Len returns the number of registered handles.
func (b *LocalBroker) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handles)
}

func (b *LocalBroker) OnStarted(fn StartedFunc) {
	b.mu.Lock()
	b.listeners = append(b.listeners, fn)
	b.mu.Unlock()
}

// NotifyStarted stops every other handle before telling listeners, so the
// invariant holds even when nothing is listening.
func (b *LocalBroker) NotifyStarted(source Handle) {
	b.StopAllExcept(source)

	b.mu.RLock()
	listeners := append([]StartedFunc(nil), b.listeners...)
	b.mu.RUnlock()

	for _, fn := range listeners {
		fn(source)
	}
}

func (b *LocalBroker) StopAllExcept(keep Handle) int {
	b.mu.RLock()
	var playing []Handle
	for _, h := range b.handles {
		if h != keep && h.Playing() {
			playing = append(playing, h)
		}
	}
	b.mu.RUnlock()

	// Pause outside the lock; handles may report back through the broker.
	for _, h := range playing {
		h.Pause()
	}
	return len(playing)
}
