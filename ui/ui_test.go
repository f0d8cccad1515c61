package ui

import (
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/dgnsrekt/narrator/internal/playback"
	"github.com/dgnsrekt/narrator/internal/synth"
	"github.com/dgnsrekt/narrator/internal/timeline"
	"github.com/dgnsrekt/narrator/internal/tracks"
	"github.com/dgnsrekt/narrator/internal/visibility"
)

func testTimeline() *timeline.Timeline {
	return &timeline.Timeline{
		ID:         "rome",
		Title:      "Rome",
		Conclusion: "Rome shaped the western world for a thousand years.",
		Milestones: []timeline.Milestone{
			{
				ID: "m1", Title: "Founding", Order: 1,
				Context: "Romulus founds the city on the Palatine hill.",
				Events: []timeline.Event{
					{ID: "e1", Title: "The Sabine women", LeftType: "Historian", LeftOpinion: "Mostly legend."},
				},
			},
			{ID: "m2", Title: "Republic", Order: 2, Context: "The last king is expelled."},
		},
	}
}

// fakeNarrator records what the view asks of the playback layer.
type fakeNarrator struct {
	mu      sync.Mutex
	queue   *tracks.Queue
	state   playback.State
	played  []string
	toggles int
	stops   int
	loads   int
}

func newFakeNarrator() *fakeNarrator {
	return &fakeNarrator{
		queue: tracks.NewQueue(tracks.Build(testTimeline())),
		state: playback.State{Volume: 1},
	}
}

func (f *fakeNarrator) LoadTracklist(t *timeline.Timeline) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads++
	f.queue = tracks.NewQueue(tracks.Build(t))
	f.state = playback.State{Volume: f.state.Volume}
	return nil
}

func (f *fakeNarrator) PlayTrack(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.queue.Get(id); !ok {
		return playback.ErrTrackNotFound
	}
	f.played = append(f.played, id)
	f.state.CurrentTrackID = id
	f.state.Status = playback.StatusLoading
	return nil
}

func (f *fakeNarrator) TogglePause() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.toggles++
	return nil
}

func (f *fakeNarrator) StopTrack() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	f.state.Status = playback.StatusIdle
}

func (f *fakeNarrator) NextTrack() bool {
	return f.step(func(id string) (tracks.Track, bool) {
		if id == "" {
			return f.queue.At(0)
		}
		return f.queue.Next(id)
	})
}

func (f *fakeNarrator) PreviousTrack() bool {
	return f.step(f.queue.Previous)
}

func (f *fakeNarrator) step(pick func(string) (tracks.Track, bool)) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := pick(f.state.CurrentTrackID)
	if !ok {
		return false
	}
	f.state.CurrentTrackID = t.ID
	f.state.Status = playback.StatusIdle
	return true
}

func (f *fakeNarrator) SetVolume(v float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state.Volume = max(0, min(1, v))
}

func (f *fakeNarrator) SetMuted(muted bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state.IsMuted = muted
}

func (f *fakeNarrator) SetAutoPlay(on bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state.IsAutoPlayMode = on
}

func (f *fakeNarrator) SampleFallback() bool { return false }

func (f *fakeNarrator) State() playback.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeNarrator) Queue() *tracks.Queue {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.queue
}

func (f *fakeNarrator) GetTrackByProgressID(id string) (tracks.Track, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.queue.ByProgressID(id)
}

func (f *fakeNarrator) OnChange(func(playback.State)) func() { return func() {} }

func (f *fakeNarrator) setState(st playback.State) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = st
}

func (f *fakeNarrator) playedTracks() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.played...)
}

func testConfig() Config {
	return Config{GlamourStyle: "notty", DisableFileWatch: true}
}

// newTestModel returns a model that has been sized and has rendered its
// document.
func newTestModel(t *testing.T, cfg Config, n *fakeNarrator, load Loader) model {
	t.Helper()
	// scrolls are evaluated explicitly by the tests
	tracker := visibility.New(visibility.Options{FrameInterval: time.Hour})
	t.Cleanup(tracker.Stop)

	m := newModel(cfg, n, load, tracker)
	m = update(t, m, tea.WindowSizeMsg{Width: 120, Height: 12})
	if !m.ready {
		t.Fatal("document was not rendered")
	}
	return m
}

// update applies msg and, for rendering and search results, the message
// produced by the returned command.
func update(t *testing.T, m model, msg tea.Msg) model {
	t.Helper()
	next, cmd := m.Update(msg)
	m = next.(model)

	switch msg.(type) {
	case tea.WindowSizeMsg:
		rendered := cmd()
		if _, ok := rendered.(documentRenderedMsg); !ok {
			t.Fatalf("expected documentRenderedMsg, got %T", rendered)
		}
		next, _ = m.Update(rendered)
		m = next.(model)
	}
	return m
}

func keyMsg(k string) tea.KeyMsg {
	switch k {
	case " ":
		return tea.KeyMsg{Type: tea.KeySpace, Runes: []rune{' '}}
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(k)}
}

func TestModel_SpaceStartsFirstTrack(t *testing.T) {
	n := newFakeNarrator()
	m := newTestModel(t, testConfig(), n, nil)

	update(t, m, keyMsg(" "))

	if got := n.playedTracks(); len(got) != 1 || got[0] != "rome-conclusion" {
		t.Errorf("played %v, want [rome-conclusion]", got)
	}
}

func TestModel_SpaceTogglesWhilePlaying(t *testing.T) {
	n := newFakeNarrator()
	n.setState(playback.State{CurrentTrackID: "m1-context", Status: playback.StatusPlaying})
	m := newTestModel(t, testConfig(), n, nil)
	m = update(t, m, stateChangedMsg{})

	update(t, m, keyMsg(" "))

	if n.toggles != 1 || len(n.playedTracks()) != 0 {
		t.Errorf("toggles = %d, played = %v", n.toggles, n.playedTracks())
	}
}

func TestModel_RetryAfterError(t *testing.T) {
	n := newFakeNarrator()
	n.setState(playback.State{CurrentTrackID: "e1-content", Status: playback.StatusError})
	m := newTestModel(t, testConfig(), n, nil)
	m = update(t, m, stateChangedMsg{})

	if !strings.Contains(m.View(), "r to retry") {
		t.Error("error state should offer a retry")
	}

	update(t, m, keyMsg("r"))

	if got := n.playedTracks(); len(got) != 1 || got[0] != "e1-content" {
		t.Errorf("played %v, want retry of e1-content", got)
	}
}

func TestModel_NextAndPrevious(t *testing.T) {
	n := newFakeNarrator()
	m := newTestModel(t, testConfig(), n, nil)

	m = update(t, m, keyMsg("n"))
	m = update(t, m, keyMsg("n"))
	update(t, m, keyMsg("p"))

	want := []string{"rome-conclusion", "m1-context", "rome-conclusion"}
	got := n.playedTracks()
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("played %v, want %v", got, want)
	}
}

func TestModel_FollowScroll(t *testing.T) {
	tests := []struct {
		name   string
		follow bool
		want   []string
	}{
		{"following plays the centred track", true, []string{"m2-context"}},
		{"not following only records the anchor", false, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := newFakeNarrator()
			cfg := testConfig()
			cfg.FollowScroll = tt.follow
			m := newTestModel(t, cfg, n, nil)

			a, ok := m.doc.anchorOf("m2-context")
			if !ok {
				t.Fatal("no anchor for m2-context")
			}
			// centre the viewport on the m2 block
			m.tracker.Evaluate(visibility.Viewport{
				Top:           a.Top + a.Height/2 - 5,
				Height:        10,
				ContentHeight: float64(len(m.doc.lines)),
			})
			m = update(t, m, anchorChangedMsg{})

			if m.activeAnchor != "m2" {
				t.Errorf("activeAnchor = %q, want m2", m.activeAnchor)
			}
			if got := n.playedTracks(); strings.Join(got, ",") != strings.Join(tt.want, ",") {
				t.Errorf("played %v, want %v", got, tt.want)
			}

			if !tt.follow {
				update(t, m, keyMsg("enter"))
				if got := n.playedTracks(); len(got) != 1 || got[0] != "m2-context" {
					t.Errorf("enter played %v, want m2-context", got)
				}
			}
		})
	}
}

func TestModel_FollowScrollIgnoresCurrentTrack(t *testing.T) {
	n := newFakeNarrator()
	n.setState(playback.State{CurrentTrackID: "m1-context", Status: playback.StatusPlaying})
	cfg := testConfig()
	cfg.FollowScroll = true
	m := newTestModel(t, cfg, n, nil)
	m = update(t, m, stateChangedMsg{})

	// m1 is closest to the centre of the top of the document
	m.tracker.Evaluate(visibility.Viewport{Top: 0, Height: 10, ContentHeight: float64(len(m.doc.lines))})
	m = update(t, m, anchorChangedMsg{})

	if m.activeAnchor != "m1" {
		t.Fatalf("activeAnchor = %q, want m1", m.activeAnchor)
	}

	if got := n.playedTracks(); len(got) != 0 {
		t.Errorf("played %v, want nothing", got)
	}
}

func TestModel_ToggleFollowScroll(t *testing.T) {
	m := newTestModel(t, testConfig(), newFakeNarrator(), nil)

	m = update(t, m, keyMsg("f"))
	if !m.cfg.FollowScroll || m.statusMessage != "Follow scroll on" {
		t.Errorf("follow = %v, message = %q", m.cfg.FollowScroll, m.statusMessage)
	}
	m = update(t, m, keyMsg("f"))
	if m.cfg.FollowScroll {
		t.Error("follow scroll should be off again")
	}
}

func TestModel_VolumeMuteAutoPlay(t *testing.T) {
	n := newFakeNarrator()
	m := newTestModel(t, testConfig(), n, nil)

	m = update(t, m, keyMsg("-"))
	m = update(t, m, keyMsg("m"))
	update(t, m, keyMsg("a"))

	st := n.State()
	if st.Volume < 0.89 || st.Volume > 0.91 {
		t.Errorf("Volume = %v, want 0.9", st.Volume)
	}
	if !st.IsMuted || !st.IsAutoPlayMode {
		t.Errorf("unexpected state: %+v", st)
	}
}

func TestModel_SearchJumpsToTrack(t *testing.T) {
	n := newFakeNarrator()
	m := newTestModel(t, testConfig(), n, nil)

	m = update(t, m, keyMsg("/"))
	if m.search == nil {
		t.Fatal("search prompt not opened")
	}
	for _, r := range "sabine" {
		m = update(t, m, keyMsg(string(r)))
	}

	_, cmd := m.Update(keyMsg("enter"))
	done, ok := cmd().(searchDoneMsg)
	if !ok || done.trackID != "e1-content" {
		t.Fatalf("got %+v, want selection of e1-content", done)
	}

	m = update(t, m, done)
	if m.search != nil {
		t.Error("search prompt should be closed")
	}
	if got := n.playedTracks(); len(got) != 1 || got[0] != "e1-content" {
		t.Errorf("played %v, want e1-content", got)
	}
}

func TestModel_Reload(t *testing.T) {
	n := newFakeNarrator()
	calls := 0
	load := func() (*timeline.Timeline, error) {
		calls++
		tl := testTimeline()
		tl.Milestones = tl.Milestones[:1]
		return tl, nil
	}
	m := newTestModel(t, testConfig(), n, load)

	_, cmd := m.Update(keyMsg("r"))
	loaded, ok := cmd().(timelineLoadedMsg)
	if !ok || loaded.err != nil {
		t.Fatalf("expected a loaded timeline, got %+v", loaded)
	}
	m = update(t, m, loaded)

	if calls != 1 || n.loads != 1 {
		t.Errorf("load calls = %d, LoadTracklist calls = %d", calls, n.loads)
	}
	if n.Queue().Len() != 3 {
		t.Errorf("queue has %d tracks, want 3", n.Queue().Len())
	}
	if m.statusMessage != "Reloaded timeline" {
		t.Errorf("statusMessage = %q", m.statusMessage)
	}
}

func TestModel_StatusMessageTimeout(t *testing.T) {
	m := newTestModel(t, testConfig(), newFakeNarrator(), nil)

	m = update(t, m, keyMsg("f"))
	first := m.statusID
	m = update(t, m, keyMsg("f"))

	// a stale timeout must not clear the newer message
	m = update(t, m, statusMessageTimeoutMsg{id: first})
	if m.statusMessage == "" {
		t.Fatal("stale timeout cleared the message")
	}
	m = update(t, m, statusMessageTimeoutMsg{id: m.statusID})
	if m.statusMessage != "" {
		t.Errorf("statusMessage = %q, want cleared", m.statusMessage)
	}
}

func TestPlaybackStatus(t *testing.T) {
	tests := []struct {
		name  string
		state playback.State
		want  []string
	}{
		{
			name:  "nothing selected",
			state: playback.State{},
			want:  []string{"space to narrate"},
		},
		{
			name:  "loading",
			state: playback.State{CurrentTrackID: "x", Status: playback.StatusLoading},
			want:  []string{"2/4 Founding", "loading"},
		},
		{
			name: "playing from cache",
			state: playback.State{
				CurrentTrackID: "x", Status: playback.StatusPlaying, Source: synth.SourceCache,
				CurrentTime: 5 * time.Second, Duration: 70 * time.Second,
			},
			want: []string{"0:05/1:10", "cached"},
		},
		{
			name:  "failed",
			state: playback.State{CurrentTrackID: "x", Status: playback.StatusError, IsMuted: true},
			want:  []string{"couldn't load narration", "r to retry", "muted"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := playbackStatus(tt.state, "Founding", 2, 4, "")
			for _, w := range tt.want {
				if !strings.Contains(got, w) {
					t.Errorf("playbackStatus() = %q, missing %q", got, w)
				}
			}
		})
	}
}

func TestProgressBar(t *testing.T) {
	tests := []struct {
		percent float64
		want    string
	}{
		{0, "░░░░"},
		{50, "██░░"},
		{100, "████"},
		{250, "████"},
		{-5, "░░░░"},
	}
	for _, tt := range tests {
		if got := progressBar(tt.percent, 4); got != tt.want {
			t.Errorf("progressBar(%v) = %q, want %q", tt.percent, got, tt.want)
		}
	}
}

func TestFormatDuration(t *testing.T) {
	tests := map[time.Duration]string{
		0:                "0:00",
		-time.Second:     "0:00",
		59 * time.Second: "0:59",
		61 * time.Second: "1:01",
		10 * time.Minute: "10:00",
	}
	for d, want := range tests {
		if got := formatDuration(d); got != want {
			t.Errorf("formatDuration(%s) = %q, want %q", d, got, want)
		}
	}
}
