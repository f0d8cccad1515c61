// Package visibility reports which anchor of a scrolling view is active:
// among the anchors intersecting the viewport, the one whose centre is
// closest to the viewport's centre.
package visibility

import (
	"math"
	"slices"
	"sort"
	"sync"
	"time"
)

// DefaultThresholds are the visible ratios at which an anchor's
// intersection is re-evaluated.
var DefaultThresholds = []float64{0.1, 0.3, 0.5, 0.7}

const (
	// DefaultRootMargin shrinks the viewport at the top and the bottom, as
	// a fraction of its height, so anchors touching an edge don't flicker.
	DefaultRootMargin = 0.1
	// DefaultFrameInterval bounds how often scroll positions are sampled.
	DefaultFrameInterval = 16 * time.Millisecond
)

// Anchor is a tagged region of the content, in content coordinates.
type Anchor struct {
	ID     string
	Top    float64
	Height float64
}

func (a Anchor) centre() float64 { return a.Top + a.Height/2 }

// Viewport is the visible window onto the content.
type Viewport struct {
	Top           float64
	Height        float64
	ContentHeight float64
}

// Options configures a Tracker. Zero values select the defaults.
type Options struct {
	Thresholds    []float64
	RootMargin    float64
	FrameInterval time.Duration
}

// Tracker is safe for concurrent use. It never drives playback; wire
// OnActiveAnchorChanged to whatever should follow the scroll position.
type Tracker struct {
	mu sync.Mutex

	thresholds []float64
	margin     float64
	frame      time.Duration
	schedule   func(time.Duration, func()) func() bool

	anchors []Anchor

	viewport  Viewport
	pending   bool
	cancel    func() bool
	stopped   bool
	active    string
	hasActive bool

	listeners []func(string)
}

// New returns a Tracker with no anchors.
func New(opts Options) *Tracker {
	thresholds := append([]float64(nil), opts.Thresholds...)
	if len(thresholds) == 0 {
		thresholds = append(thresholds, DefaultThresholds...)
	}
	sort.Float64s(thresholds)

	margin := opts.RootMargin
	if margin <= 0 {
		margin = DefaultRootMargin
	}
	frame := opts.FrameInterval
	if frame <= 0 {
		frame = DefaultFrameInterval
	}

	return &Tracker{
		thresholds: thresholds,
		margin:     margin,
		frame:      frame,
		schedule: func(d time.Duration, fn func()) func() bool {
			return time.AfterFunc(d, fn).Stop
		},
	}
}

// SetAnchors replaces the observed anchors. The active anchor is kept until
// the next evaluation.
func (t *Tracker) SetAnchors(anchors []Anchor) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.anchors = slices.Clone(anchors)
}

// OnActiveAnchorChanged registers fn to be called with the new active
// anchor id each time the pick changes.
func (t *Tracker) OnActiveAnchorChanged(fn func(id string)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listeners = append(t.listeners, fn)
}

// Scroll records a new viewport. Evaluation happens at most once per frame
// interval with the latest viewport, however often Scroll is called.
func (t *Tracker) Scroll(v Viewport) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.viewport = v
	if t.pending || t.stopped {
		return
	}
	t.pending = true
	t.cancel = t.schedule(t.frame, t.flush)
}

func (t *Tracker) flush() {
	t.mu.Lock()
	if !t.pending {
		t.mu.Unlock()
		return
	}
	t.pending = false
	t.cancel = nil
	v := t.viewport
	t.mu.Unlock()

	t.Evaluate(v)
}

// Evaluate records v and evaluates it immediately, bypassing the frame
// limit. It reports the active anchor afterwards.
func (t *Tracker) Evaluate(v Viewport) (string, bool) {
	t.mu.Lock()
	t.viewport = v

	top := v.Top + v.Height*t.margin
	bottom := v.Top + v.Height - v.Height*t.margin
	centre := (top + bottom) / 2

	// an anchor intersects once it reaches the lowest threshold; the pick
	// among those is recomputed every frame as the centre moves
	best, found := "", false
	bestDist := math.Inf(1)
	for _, a := range t.anchors {
		if t.level(Ratio(a, top, bottom)) == 0 {
			continue
		}
		if d := math.Abs(a.centre() - centre); d < bestDist {
			best, bestDist, found = a.ID, d, true
		}
	}

	// with nothing intersecting the last pick stays reported
	if !found || (t.hasActive && best == t.active) {
		id, ok := t.active, t.hasActive
		t.mu.Unlock()
		return id, ok
	}

	t.active, t.hasActive = best, true
	fns := slices.Clone(t.listeners)
	t.mu.Unlock()

	for _, fn := range fns {
		fn(best)
	}
	return best, true
}

// level is the number of thresholds a visible ratio has reached.
func (t *Tracker) level(ratio float64) int {
	n := 0
	for _, th := range t.thresholds {
		if ratio >= th {
			n++
		}
	}
	return n
}

// Active returns the last reported anchor id.
func (t *Tracker) Active() (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active, t.hasActive
}

// ScrollProgress returns how far the viewport has scrolled through the
// content, in [0, 1].
func (t *Tracker) ScrollProgress() float64 {
	t.mu.Lock()
	v := t.viewport
	t.mu.Unlock()

	scrollable := v.ContentHeight - v.Height
	if scrollable <= 0 {
		return 0
	}
	return math.Max(0, math.Min(1, v.Top/scrollable))
}

// Stop cancels a pending evaluation and ignores further scrolls.
func (t *Tracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
	t.pending = false
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
}

// Ratio returns the fraction of an anchor visible between top and bottom.
// Zero-height anchors count as fully visible when inside the range.
func Ratio(a Anchor, top, bottom float64) float64 {
	if a.Height <= 0 {
		if a.Top >= top && a.Top <= bottom {
			return 1
		}
		return 0
	}
	overlap := math.Min(a.Top+a.Height, bottom) - math.Max(a.Top, top)
	if overlap <= 0 {
		return 0
	}
	return overlap / a.Height
}
