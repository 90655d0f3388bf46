// Package scroll keeps the highlighted lyric centered in its panel.
package scroll

import (
	"math"
	"sync"
	"time"

	"github.com/satindergrewal/songdeck/internal/lyrics"
)

const (
	DefaultUserHold  = 2 * time.Second
	DefaultTolerance = 1.0
)

// Region is a vertically scrollable container of indexed items.
type Region interface {
	// Item returns the offset of item index from the top of the content and
	// its height, or ok=false if it is not rendered yet.
	Item(index int) (top, height float64, ok bool)
	// Viewport returns the current scroll offset and visible height.
	Viewport() (scrollTop, height float64)
	// ScrollTo scrolls smoothly so that top is the first visible offset.
	ScrollTo(top float64)
}

// Options configures a Controller.
type Options struct {
	// UserHold is how long automatic scrolling stays off after the user
	// scrolls by hand.
	UserHold time.Duration
	// Tolerance is the distance, in region units, treated as already centered.
	Tolerance float64
	Now       func() time.Time
}

// Controller follows the highlighted index, scrolling only when it changes.
type Controller struct {
	region    Region
	hold      time.Duration
	tolerance float64
	now       func() time.Time

	mu        sync.Mutex
	last      int
	want      int // most recent index asked for, followed or not
	heldUntil time.Time
}

// NewController creates a controller for region.
func NewController(region Region, opts Options) *Controller {
	if opts.UserHold <= 0 {
		opts.UserHold = DefaultUserHold
	}
	if opts.Tolerance <= 0 {
		opts.Tolerance = DefaultTolerance
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Controller{
		region:    region,
		hold:      opts.UserHold,
		tolerance: opts.Tolerance,
		now:       opts.Now,
		last:      lyrics.None,
		want:      lyrics.None,
	}
}

// Follow centers item index if it differs from the last followed index. It
// reports whether a scroll was issued. A missing item is skipped and retried
// on the next call with the same index or by Retry.
func (c *Controller) Follow(index int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.want = index
	return c.followLocked(index)
}

// Retry follows the most recently requested index if its item was missing
// when it was requested, e.g. after the region reports a new layout.
func (c *Controller) Retry() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.want == c.last {
		return false
	}
	return c.followLocked(c.want)
}

func (c *Controller) followLocked(index int) bool {
	if index == c.last {
		return false
	}
	if index == lyrics.None {
		c.last = lyrics.None
		return false
	}

	top, height, ok := c.region.Item(index)
	if !ok {
		return false
	}
	c.last = index

	if c.now().Before(c.heldUntil) {
		return false
	}

	scrollTop, viewport := c.region.Viewport()
	target := math.Max(0, top+height/2-viewport/2)
	if math.Abs(target-scrollTop) <= c.tolerance {
		return false
	}
	c.region.ScrollTo(target)
	return true
}

// UserScrolled pauses automatic scrolling for the hold window.
func (c *Controller) UserScrolled() {
	c.mu.Lock()
	c.heldUntil = c.now().Add(c.hold)
	c.mu.Unlock()
}

// Reset forgets the last followed index, e.g. after switching tracks.
func (c *Controller) Reset() {
	c.mu.Lock()
	c.last = lyrics.None
	c.want = lyrics.None
	c.mu.Unlock()
}

// Last returns the last followed index.
func (c *Controller) Last() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}
