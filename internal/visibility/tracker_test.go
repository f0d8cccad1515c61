package visibility

import (
	"math"
	"sync"
	"testing"
	"time"
)

// manualScheduler captures scheduled evaluations so tests decide when a
// frame elapses.
type manualScheduler struct {
	mu        sync.Mutex
	scheduled []func()
	cancelled int
}

func (s *manualScheduler) schedule(_ time.Duration, fn func()) func() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scheduled = append(s.scheduled, fn)
	return func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.cancelled++
		return true
	}
}

func (s *manualScheduler) runAll() {
	s.mu.Lock()
	fns := s.scheduled
	s.scheduled = nil
	s.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func timelineAnchors() []Anchor {
	return []Anchor{
		{ID: "hero", Top: 0, Height: 10},
		{ID: "m1", Top: 10, Height: 10},
		{ID: "m2", Top: 20, Height: 10},
		{ID: "m3", Top: 40, Height: 10},
	}
}

func newTestTracker() (*Tracker, *manualScheduler, *[]string) {
	tr := New(Options{})
	sched := &manualScheduler{}
	tr.schedule = sched.schedule
	tr.SetAnchors(timelineAnchors())

	var changes []string
	tr.OnActiveAnchorChanged(func(id string) {
		changes = append(changes, id)
	})
	return tr, sched, &changes
}

func TestEvaluate_PicksAnchorClosestToCentre(t *testing.T) {
	tr, _, changes := newTestTracker()

	// root is 17..33 after the margin, centre 25
	id, ok := tr.Evaluate(Viewport{Top: 15, Height: 20, ContentHeight: 100})
	if !ok || id != "m2" {
		t.Fatalf("Evaluate() = %q, %v, want m2", id, ok)
	}
	if len(*changes) != 1 || (*changes)[0] != "m2" {
		t.Errorf("changes = %v, want [m2]", *changes)
	}
	if got, _ := tr.Active(); got != "m2" {
		t.Errorf("Active() = %q", got)
	}
}

func TestEvaluate_FiresOnlyOnChange(t *testing.T) {
	tr, _, changes := newTestTracker()

	tr.Evaluate(Viewport{Top: 15, Height: 20})
	tr.Evaluate(Viewport{Top: 15, Height: 20})
	// m1 drops below its thresholds but m2 stays the closest
	tr.Evaluate(Viewport{Top: 16, Height: 20})
	if len(*changes) != 1 {
		t.Errorf("changes = %v, want a single notification", *changes)
	}

	tr.Evaluate(Viewport{Top: 30, Height: 20})
	if len(*changes) != 2 || (*changes)[1] != "m3" {
		t.Errorf("changes = %v, want [m2 m3]", *changes)
	}
}

func TestEvaluate_FollowsCentreWithoutThresholdCrossing(t *testing.T) {
	tr := New(Options{})
	tr.SetAnchors([]Anchor{
		{ID: "a20", Top: 20, Height: 1},
		{ID: "a30", Top: 30, Height: 1},
		{ID: "a40", Top: 40, Height: 1},
		{ID: "a50", Top: 50, Height: 1},
		{ID: "a60", Top: 60, Height: 1},
		{ID: "a70", Top: 70, Height: 1},
	})
	var changes []string
	tr.OnActiveAnchorChanged(func(id string) { changes = append(changes, id) })

	// root 10..90, centre 50
	if id, _ := tr.Evaluate(Viewport{Top: 0, Height: 100}); id != "a50" {
		t.Fatalf("Evaluate() = %q, want a50", id)
	}
	// root 18..98, centre 58; every anchor stays fully visible
	if id, _ := tr.Evaluate(Viewport{Top: 8, Height: 100}); id != "a60" {
		t.Errorf("Evaluate() = %q, want a60", id)
	}
	if len(changes) != 2 || changes[1] != "a60" {
		t.Errorf("changes = %v, want [a50 a60]", changes)
	}
}

func TestEvaluate_RootMarginAndThresholds(t *testing.T) {
	tests := []struct {
		name    string
		anchors []Anchor
		view    Viewport
		want    string
		wantOK  bool
	}{
		{
			name:    "anchor inside the top margin is ignored",
			anchors: []Anchor{{ID: "edge", Top: 0, Height: 10}, {ID: "body", Top: 80, Height: 5}},
			view:    Viewport{Top: 0, Height: 100},
			want:    "body",
			wantOK:  true,
		},
		{
			name:    "below the lowest threshold is not intersecting",
			anchors: []Anchor{{ID: "sliver", Top: 89, Height: 100}},
			view:    Viewport{Top: 0, Height: 100},
			wantOK:  false,
		},
		{
			name:    "zero height anchor inside the root",
			anchors: []Anchor{{ID: "marker", Top: 50}},
			view:    Viewport{Top: 0, Height: 100},
			want:    "marker",
			wantOK:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := New(Options{})
			tr.SetAnchors(tt.anchors)
			id, ok := tr.Evaluate(tt.view)
			if ok != tt.wantOK || id != tt.want {
				t.Errorf("Evaluate() = %q, %v, want %q, %v", id, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestEvaluate_KeepsLastPickWhenNothingIntersects(t *testing.T) {
	tr, _, changes := newTestTracker()

	tr.Evaluate(Viewport{Top: 15, Height: 20})
	id, ok := tr.Evaluate(Viewport{Top: 500, Height: 20})
	if !ok || id != "m2" {
		t.Errorf("Evaluate() = %q, %v, want the previous pick", id, ok)
	}
	if len(*changes) != 1 {
		t.Errorf("changes = %v", *changes)
	}
}

func TestScroll_CoalescesToOneEvaluationPerFrame(t *testing.T) {
	tr, sched, changes := newTestTracker()

	tr.Scroll(Viewport{Top: 0, Height: 20})
	tr.Scroll(Viewport{Top: 5, Height: 20})
	tr.Scroll(Viewport{Top: 30, Height: 20})

	if len(sched.scheduled) != 1 {
		t.Fatalf("scheduled %d evaluations, want 1", len(sched.scheduled))
	}
	if len(*changes) != 0 {
		t.Fatalf("evaluated before the frame elapsed: %v", *changes)
	}

	sched.runAll()
	if len(*changes) != 1 || (*changes)[0] != "m3" {
		t.Errorf("changes = %v, want the latest viewport's pick [m3]", *changes)
	}

	tr.Scroll(Viewport{Top: 15, Height: 20})
	if len(sched.scheduled) != 1 {
		t.Errorf("a new frame should be scheduled after the previous one ran")
	}
}

func TestStop_CancelsPendingEvaluation(t *testing.T) {
	tr, sched, changes := newTestTracker()

	tr.Scroll(Viewport{Top: 15, Height: 20})
	tr.Stop()
	if sched.cancelled != 1 {
		t.Errorf("cancelled = %d, want 1", sched.cancelled)
	}

	sched.runAll() // a timer that fired anyway
	tr.Scroll(Viewport{Top: 30, Height: 20})
	if len(sched.scheduled) != 0 || len(*changes) != 0 {
		t.Errorf("tracker kept working after Stop: %v", *changes)
	}
}

func TestScroll_WithRealTimer(t *testing.T) {
	tr := New(Options{FrameInterval: time.Millisecond})
	tr.SetAnchors(timelineAnchors())
	defer tr.Stop()

	got := make(chan string, 1)
	tr.OnActiveAnchorChanged(func(id string) { got <- id })

	tr.Scroll(Viewport{Top: 0, Height: 10})
	select {
	case id := <-got:
		if id != "hero" {
			t.Errorf("active = %q, want hero", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no evaluation happened")
	}
}

func TestScrollProgress(t *testing.T) {
	tests := []struct {
		view Viewport
		want float64
	}{
		{Viewport{Top: 0, Height: 20, ContentHeight: 100}, 0},
		{Viewport{Top: 40, Height: 20, ContentHeight: 100}, 0.5},
		{Viewport{Top: 80, Height: 20, ContentHeight: 100}, 1},
		{Viewport{Top: 120, Height: 20, ContentHeight: 100}, 1},
		{Viewport{Top: 0, Height: 200, ContentHeight: 100}, 0},
	}

	for _, tt := range tests {
		tr := New(Options{})
		tr.Evaluate(tt.view)
		if got := tr.ScrollProgress(); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("ScrollProgress(%+v) = %v, want %v", tt.view, got, tt.want)
		}
	}
}

func TestRatio(t *testing.T) {
	tests := []struct {
		name   string
		anchor Anchor
		want   float64
	}{
		{"fully inside", Anchor{Top: 20, Height: 10}, 1},
		{"half above", Anchor{Top: 5, Height: 10}, 0.5},
		{"below", Anchor{Top: 95, Height: 10}, 0},
		{"taller than root", Anchor{Top: 0, Height: 160}, 0.5},
		{"empty outside", Anchor{Top: 5}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Ratio(tt.anchor, 10, 90); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Ratio() = %v, want %v", got, tt.want)
			}
		})
	}
}
