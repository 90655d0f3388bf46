package remote

import (
	"sync"

	"github.com/google/uuid"
	"github.com/satindergrewal/songdeck/internal/scroll"
)

// Box is the vertical extent of one rendered lyric word.
type Box struct {
	Top    float64 `json:"top"`
	Height float64 `json:"height" validate:"gte=0"`
}

// Layout is the browser's report of the lyric panel geometry.
type Layout struct {
	TrackIndex int     `json:"track_index" validate:"gte=0"`
	ScrollTop  float64 `json:"scroll_top" validate:"gte=0"`
	Height     float64 `json:"height" validate:"gt=0"`
	Items      []Box   `json:"items" validate:"dive"`
}

// Region is a scroll.Region backed by the latest layout report.
type Region struct {
	publish Publisher

	mu     sync.RWMutex
	layout Layout
	known  bool
}

var _ scroll.Region = (*Region)(nil)

// NewRegion creates an empty region; Item reports nothing until SetLayout.
func NewRegion(publish Publisher) *Region {
	return &Region{publish: publish}
}

// SetLayout replaces the known geometry.
func (r *Region) SetLayout(l Layout) {
	r.mu.Lock()
	r.layout = l
	r.known = true
	r.mu.Unlock()
}

// TrackIndex returns which track's lyrics the panel shows, or -1.
func (r *Region) TrackIndex() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.known {
		return -1
	}
	return r.layout.TrackIndex
}

func (r *Region) Item(index int) (top, height float64, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.known || index < 0 || index >= len(r.layout.Items) {
		return 0, 0, false
	}
	b := r.layout.Items[index]
	return b.Top, b.Height, true
}

func (r *Region) Viewport() (scrollTop, height float64) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.layout.ScrollTop, r.layout.Height
}

// ScrollTo asks the browser to scroll and assumes it will.
func (r *Region) ScrollTo(top float64) {
	r.mu.Lock()
	r.layout.ScrollTop = top
	index := r.layout.TrackIndex
	r.mu.Unlock()

	r.publish(Command{ID: uuid.NewString(), Kind: CommandScroll, Index: index, Top: top})
}
