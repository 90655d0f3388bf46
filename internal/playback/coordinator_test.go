package playback

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/satindergrewal/songdeck/internal/tracks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = time.Second
	tick    = 2 * time.Millisecond
)

// fakeHandle is a controllable media element. With hold set, Play blocks
// until a result is sent on results; with ignoreCancel it keeps blocking even
// after the start is abandoned, simulating a late resolution.
type fakeHandle struct {
	mu           sync.Mutex
	ready        bool
	playing      bool
	pos          float64
	plays        int
	pauses       int
	seeks        []float64
	hold         bool
	ignoreCancel bool
	results      chan error
}

func newFake() *fakeHandle {
	return &fakeHandle{ready: true, results: make(chan error, 4)}
}

func (h *fakeHandle) Ready() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ready
}

func (h *fakeHandle) Playing() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.playing
}

func (h *fakeHandle) Position() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pos
}

func (h *fakeHandle) Play(ctx context.Context) error {
	h.mu.Lock()
	h.plays++
	hold, ignoreCancel := h.hold, h.ignoreCancel
	h.mu.Unlock()

	var err error
	switch {
	case !hold:
	case ignoreCancel:
		err = <-h.results
	default:
		select {
		case err = <-h.results:
		case <-ctx.Done():
			return fmt.Errorf("fake: %w", ErrInterrupted)
		}
	}
	if err == nil {
		h.mu.Lock()
		h.playing = true
		h.mu.Unlock()
	}
	return err
}

func (h *fakeHandle) Pause() {
	h.mu.Lock()
	h.pauses++
	h.playing = false
	h.mu.Unlock()
}

func (h *fakeHandle) Seek(seconds float64) {
	h.mu.Lock()
	h.seeks = append(h.seeks, seconds)
	h.pos = seconds
	h.mu.Unlock()
}

func (h *fakeHandle) playCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.plays
}

func (h *fakeHandle) pauseCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pauses
}

func (h *fakeHandle) seekLog() []float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]float64(nil), h.seeks...)
}

type harness struct {
	broker  *LocalBroker
	coord   *Coordinator
	handles []*fakeHandle
	logs    *syncBuffer
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newHarness(t *testing.T, n int) *harness {
	t.Helper()
	logs := &syncBuffer{}
	logger := slog.New(slog.NewTextHandler(logs, &slog.HandlerOptions{Level: slog.LevelDebug}))

	h := &harness{broker: NewLocalBroker(), logs: logs}
	for i := 0; i < n; i++ {
		fh := newFake()
		h.handles = append(h.handles, fh)
		h.broker.RegisterHandle(i, fh)
	}
	h.coord = NewCoordinator(h.broker, nil, Options{SettleDelay: 5 * time.Millisecond, Logger: logger})
	t.Cleanup(h.coord.Close)
	return h
}

func (h *harness) playingCount() int {
	n := 0
	for _, fh := range h.handles {
		if fh.Playing() {
			n++
		}
	}
	return n
}

func (h *harness) waitPlaying(t *testing.T, index int) {
	t.Helper()
	require.Eventually(t, func() bool {
		s := h.coord.Snapshot()
		return s.ActiveIndex == index && s.Playing
	}, waitFor, tick)
}

// --- SelectAndPlay ---

func TestSelectAndPlayStartsAfterSettle(t *testing.T) {
	h := newHarness(t, 2)

	require.NoError(t, h.coord.SelectAndPlay(0))
	assert.Equal(t, Session{ActiveIndex: 0, Playing: false, CurrentTime: 0}, h.coord.Snapshot())

	h.waitPlaying(t, 0)
	assert.True(t, h.handles[0].Playing())
	assert.False(t, h.handles[1].Playing())
}

func TestSwitchPausesHandleStillStarting(t *testing.T) {
	h := newHarness(t, 2)
	h.handles[0].hold = true

	require.NoError(t, h.coord.SelectAndPlay(0))
	require.Eventually(t, func() bool { return h.handles[0].playCount() == 1 }, waitFor, tick)

	require.NoError(t, h.coord.SelectAndPlay(1))
	assert.Equal(t, 1, h.handles[0].pauseCount(), "the element told to play 0 is told to stop")

	h.waitPlaying(t, 1)
	assert.False(t, h.handles[0].Playing())
	assert.Equal(t, 1, h.playingCount())
}

func TestSelectAndPlayNotReady(t *testing.T) {
	h := newHarness(t, 1)

	err := h.coord.SelectAndPlay(3)
	assert.ErrorIs(t, err, ErrNotReady)
	assert.Equal(t, idleSession(), h.coord.Snapshot())

	h.handles[0].mu.Lock()
	h.handles[0].ready = false
	h.handles[0].mu.Unlock()

	err = h.coord.SelectAndPlay(0)
	assert.ErrorIs(t, err, ErrNotReady)
	assert.Equal(t, idleSession(), h.coord.Snapshot())
	assert.Equal(t, 0, h.handles[0].playCount())
}

func TestSelectAndPlayBoundedByRegistry(t *testing.T) {
	broker := NewLocalBroker()
	broker.RegisterHandle(0, newFake())
	broker.RegisterHandle(1, newFake())
	registry := tracks.NewRegistry()
	registry.Replace([]tracks.Version{{TrackID: "only"}})

	c := NewCoordinator(broker, registry, Options{SettleDelay: time.Millisecond})
	defer c.Close()

	assert.ErrorIs(t, c.SelectAndPlay(1), ErrNotReady)
	assert.NoError(t, c.SelectAndPlay(0))
}

func TestToggleLawPreservesPosition(t *testing.T) {
	h := newHarness(t, 2)

	require.NoError(t, h.coord.SelectAndPlay(0))
	h.waitPlaying(t, 0)
	h.coord.ReportTimeUpdate(h.handles[0], 12.5)

	// Selecting the playing track pauses it.
	require.NoError(t, h.coord.SelectAndPlay(0))
	assert.Equal(t, Session{ActiveIndex: 0, Playing: false, CurrentTime: 12.5}, h.coord.Snapshot())
	assert.False(t, h.handles[0].Playing())

	// Selecting it again resumes without rewinding.
	require.NoError(t, h.coord.SelectAndPlay(0))
	h.waitPlaying(t, 0)
	assert.Equal(t, 12.5, h.coord.Snapshot().CurrentTime)
	assert.NotContains(t, h.handles[0].seekLog()[1:], 0.0)
}

func TestSwitchResetsTime(t *testing.T) {
	h := newHarness(t, 2)
	h.handles[1].Seek(30)

	require.NoError(t, h.coord.SelectAndPlay(0))
	h.waitPlaying(t, 0)
	h.coord.ReportTimeUpdate(h.handles[0], 12)

	require.NoError(t, h.coord.SelectAndPlay(1))
	s := h.coord.Snapshot()
	assert.Equal(t, 1, s.ActiveIndex)
	assert.Equal(t, 0.0, s.CurrentTime)
	assert.False(t, h.handles[0].Playing(), "outgoing handle must be stopped before the new one starts")

	h.waitPlaying(t, 1)
	assert.Equal(t, 0.0, h.coord.Snapshot().CurrentTime)
	assert.Equal(t, 0.0, h.handles[0].Position())
	assert.Equal(t, 0.0, h.handles[1].Position())
	assert.Equal(t, 1, h.playingCount())
}

// --- Pause ---

func TestPauseIdempotent(t *testing.T) {
	h := newHarness(t, 1)

	h.coord.Pause()
	assert.Equal(t, idleSession(), h.coord.Snapshot())

	require.NoError(t, h.coord.SelectAndPlay(0))
	h.waitPlaying(t, 0)
	h.coord.ReportTimeUpdate(h.handles[0], 3)

	h.coord.Pause()
	paused := h.coord.Snapshot()
	pauses := h.handles[0].pauseCount()

	h.coord.Pause()
	assert.Equal(t, paused, h.coord.Snapshot())
	assert.Equal(t, pauses, h.handles[0].pauseCount())
	assert.Equal(t, Session{ActiveIndex: 0, Playing: false, CurrentTime: 3}, paused)
}

func TestPauseDuringSettleCancelsStart(t *testing.T) {
	h := newHarness(t, 1)
	h.coord.settle = 40 * time.Millisecond

	require.NoError(t, h.coord.SelectAndPlay(0))
	h.coord.Pause()

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 0, h.handles[0].playCount())
	assert.False(t, h.coord.Snapshot().Playing)
}

// --- Stale tokens ---

func TestStaleSuccessIsDiscardedAndSilenced(t *testing.T) {
	h := newHarness(t, 2)
	h.handles[0].hold = true
	h.handles[0].ignoreCancel = true

	require.NoError(t, h.coord.SelectAndPlay(0))
	require.Eventually(t, func() bool { return h.handles[0].playCount() == 1 }, waitFor, tick)

	require.NoError(t, h.coord.SelectAndPlay(1))
	h.waitPlaying(t, 1)

	// Track 0 finally resolves.
	h.handles[0].results <- nil
	require.Eventually(t, func() bool { return h.handles[0].pauseCount() > 0 && !h.handles[0].Playing() }, waitFor, tick)

	assert.Equal(t, Session{ActiveIndex: 1, Playing: true, CurrentTime: 0}, h.coord.Snapshot())
	assert.Equal(t, 1, h.playingCount())
}

func TestStaleResolutionNeverMarksNewTrackPlaying(t *testing.T) {
	h := newHarness(t, 2)
	for _, fh := range h.handles {
		fh.hold = true
		fh.ignoreCancel = true
	}

	require.NoError(t, h.coord.SelectAndPlay(0))
	require.Eventually(t, func() bool { return h.handles[0].playCount() == 1 }, waitFor, tick)
	require.NoError(t, h.coord.SelectAndPlay(1))
	require.Eventually(t, func() bool { return h.handles[1].playCount() == 1 }, waitFor, tick)

	// Track 0's success arrives first but belongs to a superseded request.
	h.handles[0].results <- nil
	require.Eventually(t, func() bool { return h.handles[0].pauseCount() > 0 }, waitFor, tick)
	assert.Equal(t, Session{ActiveIndex: 1, Playing: false, CurrentTime: 0}, h.coord.Snapshot())

	h.handles[1].results <- nil
	h.waitPlaying(t, 1)
	assert.Equal(t, 1, h.playingCount())
}

func TestStaleFailureIsDiscarded(t *testing.T) {
	h := newHarness(t, 2)
	for _, fh := range h.handles {
		fh.hold = true
		fh.ignoreCancel = true
	}

	require.NoError(t, h.coord.SelectAndPlay(0))
	require.Eventually(t, func() bool { return h.handles[0].playCount() == 1 }, waitFor, tick)
	require.NoError(t, h.coord.SelectAndPlay(1))
	require.Eventually(t, func() bool { return h.handles[1].playCount() == 1 }, waitFor, tick)

	h.handles[1].results <- nil
	h.waitPlaying(t, 1)

	h.handles[0].results <- errors.New("network error")
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, Session{ActiveIndex: 1, Playing: true, CurrentTime: 0}, h.coord.Snapshot())
	assert.NotContains(t, h.logs.String(), "playback failed")
}

func TestRapidReselectOfSameTrack(t *testing.T) {
	h := newHarness(t, 1)
	h.handles[0].hold = true
	h.handles[0].ignoreCancel = true

	require.NoError(t, h.coord.SelectAndPlay(0))
	require.Eventually(t, func() bool { return h.handles[0].playCount() == 1 }, waitFor, tick)
	// Not yet playing, so this is a fresh start rather than a toggle.
	require.NoError(t, h.coord.SelectAndPlay(0))
	require.Eventually(t, func() bool { return h.handles[0].playCount() == 2 }, waitFor, tick)

	h.handles[0].results <- nil // stale, but the handle is the one we want
	h.handles[0].results <- nil
	h.waitPlaying(t, 0)
	assert.True(t, h.handles[0].Playing())
}

// --- Failures ---

func TestPlaybackFailureIsLoggedAndRetryable(t *testing.T) {
	h := newHarness(t, 1)
	h.handles[0].hold = true

	require.NoError(t, h.coord.SelectAndPlay(0))
	h.handles[0].results <- errors.New("decode error")

	require.Eventually(t, func() bool { return strings.Contains(h.logs.String(), "playback failed") }, waitFor, tick)
	assert.False(t, h.coord.Snapshot().Playing)

	require.NoError(t, h.coord.SelectAndPlay(0))
	h.handles[0].results <- nil
	h.waitPlaying(t, 0)
}

func TestInterruptedStartIsAbsorbed(t *testing.T) {
	h := newHarness(t, 1)
	h.handles[0].hold = true

	require.NoError(t, h.coord.SelectAndPlay(0))
	h.handles[0].results <- fmt.Errorf("abort: %w", ErrInterrupted)

	require.Eventually(t, func() bool { return strings.Contains(h.logs.String(), "start interrupted") }, waitFor, tick)
	assert.NotContains(t, h.logs.String(), "playback failed")
	assert.False(t, h.coord.Snapshot().Playing)
}

// --- Seek and time reports ---

func TestSeekIsOptimistic(t *testing.T) {
	h := newHarness(t, 1)

	h.coord.Seek(10)
	assert.Equal(t, idleSession(), h.coord.Snapshot(), "seek without an active track is a no-op")

	require.NoError(t, h.coord.SelectAndPlay(0))
	h.waitPlaying(t, 0)

	h.coord.Seek(42)
	assert.Equal(t, 42.0, h.coord.Snapshot().CurrentTime)
	assert.Equal(t, 42.0, h.handles[0].Position())

	h.coord.Seek(-3)
	assert.Equal(t, 0.0, h.coord.Snapshot().CurrentTime)
}

func TestReportTimeUpdateIgnoresInactiveHandles(t *testing.T) {
	h := newHarness(t, 2)

	h.coord.ReportTimeUpdate(h.handles[0], 5)
	assert.Equal(t, 0.0, h.coord.Snapshot().CurrentTime)

	require.NoError(t, h.coord.SelectAndPlay(0))
	h.waitPlaying(t, 0)

	h.coord.ReportTimeUpdate(h.handles[1], 99)
	assert.Equal(t, 0.0, h.coord.Snapshot().CurrentTime)

	h.coord.ReportTimeUpdate(h.handles[0], 7.25)
	assert.Equal(t, 7.25, h.coord.Snapshot().CurrentTime)
}

// --- Global singleton enforcement ---

func TestNativeStartAdoptsHandleAndStopsOthers(t *testing.T) {
	h := newHarness(t, 3)

	require.NoError(t, h.coord.SelectAndPlay(0))
	h.waitPlaying(t, 0)

	native := h.handles[2]
	native.mu.Lock()
	native.playing = true
	native.pos = 8
	native.mu.Unlock()
	h.broker.NotifyStarted(native)

	assert.False(t, h.handles[0].Playing())
	assert.True(t, native.Playing())
	assert.Equal(t, Session{ActiveIndex: 2, Playing: true, CurrentTime: 8}, h.coord.Snapshot())
	assert.Equal(t, 1, h.playingCount())
}

func TestNativeStartOfActiveHandle(t *testing.T) {
	h := newHarness(t, 2)
	h.handles[0].hold = true

	require.NoError(t, h.coord.SelectAndPlay(0))
	require.Eventually(t, func() bool { return h.handles[0].playCount() == 1 }, waitFor, tick)

	h.handles[0].mu.Lock()
	h.handles[0].playing = true
	h.handles[0].mu.Unlock()
	h.broker.NotifyStarted(h.handles[0])
	assert.True(t, h.coord.Snapshot().Playing)

	h.handles[0].results <- nil
	h.waitPlaying(t, 0)
}

func TestUnknownSourceStopsEverything(t *testing.T) {
	h := newHarness(t, 2)

	require.NoError(t, h.coord.SelectAndPlay(1))
	h.waitPlaying(t, 1)

	h.broker.NotifyStarted(newFake())
	assert.Equal(t, 0, h.playingCount())
	assert.False(t, h.coord.Snapshot().Playing)
}

func TestHandleEnded(t *testing.T) {
	h := newHarness(t, 2)

	require.NoError(t, h.coord.SelectAndPlay(0))
	h.waitPlaying(t, 0)
	h.coord.ReportTimeUpdate(h.handles[0], 61)

	h.coord.HandleEnded(h.handles[1])
	assert.True(t, h.coord.Snapshot().Playing)

	h.coord.HandleEnded(h.handles[0])
	assert.Equal(t, Session{ActiveIndex: 0, Playing: false, CurrentTime: 61}, h.coord.Snapshot())
}

// --- Invariant ---

func TestAtMostOneHandlePlaysUnderChurn(t *testing.T) {
	h := newHarness(t, 4)

	seq := []int{0, 1, 2, 2, 3, 0, 1, 1, 1, 3, 2, 0}
	for _, idx := range seq {
		require.NoError(t, h.coord.SelectAndPlay(idx))
		assert.LessOrEqual(t, h.playingCount(), 1)
		time.Sleep(3 * time.Millisecond)
		assert.LessOrEqual(t, h.playingCount(), 1)
	}
	time.Sleep(30 * time.Millisecond)
	assert.LessOrEqual(t, h.playingCount(), 1)
}

// --- Lifecycle ---

func TestRegistryReplaceResetsSession(t *testing.T) {
	broker := NewLocalBroker()
	fh := newFake()
	broker.RegisterHandle(0, fh)
	registry := tracks.NewRegistry()
	registry.Replace([]tracks.Version{{TrackID: "a"}})

	c := NewCoordinator(broker, registry, Options{SettleDelay: time.Millisecond})
	defer c.Close()

	require.NoError(t, c.SelectAndPlay(0))
	require.Eventually(t, func() bool { return c.Snapshot().Playing }, waitFor, tick)

	registry.Replace([]tracks.Version{{TrackID: "b"}, {TrackID: "c"}})
	assert.Equal(t, idleSession(), c.Snapshot())
	assert.False(t, fh.Playing())
}

func TestEventsDeliverLatestAndCloseOnClose(t *testing.T) {
	h := newHarness(t, 1)

	// Overflow the buffer; the coordinator must never block.
	for i := 0; i < 100; i++ {
		require.NoError(t, h.coord.SelectAndPlay(0))
		h.coord.Pause()
	}
	h.coord.Seek(0) // no-op target but emits while active

	var last Session
	for len(h.coord.Events()) > 0 {
		last = <-h.coord.Events()
	}
	assert.Equal(t, h.coord.Snapshot(), last)

	h.coord.Close()
	for range h.coord.Events() {
	}
	_, open := <-h.coord.Events()
	assert.False(t, open)
	assert.ErrorIs(t, h.coord.SelectAndPlay(0), ErrClosed)
}
