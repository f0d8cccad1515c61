// Package ui provides the terminal timeline view: the rendered timeline in a
// scrolling viewport with the narration transport in the status bar.
package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour/styles"
	"github.com/charmbracelet/log"
	"github.com/muesli/termenv"

	"github.com/dgnsrekt/narrator/internal/playback"
	"github.com/dgnsrekt/narrator/internal/timeline"
	"github.com/dgnsrekt/narrator/internal/tracks"
	"github.com/dgnsrekt/narrator/internal/visibility"
)

const (
	statusMessageTimeout = time.Second * 3
	fallbackInterval     = 250 * time.Millisecond
	volumeStep           = 0.1
)

// Narrator is the playback API driven by the view. *playback.Orchestrator
// implements it.
type Narrator interface {
	LoadTracklist(t *timeline.Timeline) error
	PlayTrack(id string) error
	TogglePause() error
	StopTrack()
	NextTrack() bool
	PreviousTrack() bool
	SetVolume(v float64)
	SetMuted(muted bool)
	SetAutoPlay(on bool)
	SampleFallback() bool
	State() playback.State
	Queue() *tracks.Queue
	GetTrackByProgressID(progressID string) (tracks.Track, bool)
	OnChange(fn func(playback.State)) func()
}

// Loader reads the timeline document again, for reloads.
type Loader func() (*timeline.Timeline, error)

// NewProgram returns a new Tea program showing the narrator's loaded
// timeline. load may be nil when the document can't be read again.
func NewProgram(cfg Config, narrator Narrator, load Loader) *tea.Program {
	log.Debug("starting narrator ui", "path", cfg.Path, "follow_scroll", cfg.FollowScroll)

	opts := []tea.ProgramOption{tea.WithAltScreen()}
	if cfg.EnableMouse {
		opts = append(opts, tea.WithMouseCellMotion())
	}
	return tea.NewProgram(newModel(cfg, narrator, load, visibility.New(visibility.Options{})), opts...)
}

type (
	stateChangedMsg         struct{}
	anchorChangedMsg        struct{}
	fallbackTickMsg         struct{}
	statusMessageTimeoutMsg struct{ id int }

	documentRenderedMsg struct {
		doc document
		err error
	}
	timelineLoadedMsg struct {
		tl  *timeline.Timeline
		err error
	}
)

type model struct {
	cfg      Config
	narrator Narrator
	tracker  *visibility.Tracker
	load     Loader
	watcher  *fileWatcher

	viewport viewport.Model
	spinner  spinner.Model
	spinning bool
	search   *searchModel
	showHelp bool

	doc          document
	state        playback.State
	activeAnchor string
	width        int
	height       int
	ready        bool

	// last viewport published to the tracker
	publishedTop    int
	publishedHeight int

	statusMessage string
	statusIsError bool
	statusID      int

	// signalled by listeners running on other goroutines
	stateCh  chan struct{}
	anchorCh chan struct{}
	unsub    func()
}

func newModel(cfg Config, narrator Narrator, load Loader, tracker *visibility.Tracker) model {
	if cfg.GlamourStyle == "" || cfg.GlamourStyle == styles.AutoStyle {
		if termenv.HasDarkBackground() {
			cfg.GlamourStyle = styles.DarkStyle
		} else {
			cfg.GlamourStyle = styles.LightStyle
		}
	}

	vp := viewport.New(0, 0)
	// space and f belong to the transport
	vp.KeyMap.PageDown = key.NewBinding(key.WithKeys("pgdown"))
	vp.KeyMap.PageUp = key.NewBinding(key.WithKeys("pgup", "b"))

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	m := model{
		cfg:      cfg,
		narrator: narrator,
		tracker:  tracker,
		load:     load,
		viewport: vp,
		spinner:  sp,
		state:    narrator.State(),
		stateCh:  make(chan struct{}, 1),
		anchorCh: make(chan struct{}, 1),

		publishedTop: -1,
	}

	m.unsub = narrator.OnChange(func(playback.State) { signal(m.stateCh) })
	tracker.OnActiveAnchorChanged(func(string) { signal(m.anchorCh) })

	if cfg.Path != "" && load != nil && !cfg.DisableFileWatch {
		w, err := newFileWatcher(cfg.Path)
		if err != nil {
			log.Error("error creating fsnotify watcher", "error", err)
		} else {
			m.watcher = w
		}
	}
	return m
}

// signal does a non-blocking send; one pending signal is enough since the
// receiver reads the latest value itself.
func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

func waitFor(ch chan struct{}, msg tea.Msg) tea.Cmd {
	return func() tea.Msg {
		<-ch
		return msg
	}
}

func fallbackTick() tea.Cmd {
	return tea.Tick(fallbackInterval, func(time.Time) tea.Msg { return fallbackTickMsg{} })
}

func (m model) Init() tea.Cmd {
	cmds := []tea.Cmd{
		waitFor(m.stateCh, stateChangedMsg{}),
		waitFor(m.anchorCh, anchorChangedMsg{}),
		fallbackTick(),
	}
	if m.watcher != nil {
		cmds = append(cmds, m.watcher.wait)
	}
	return tea.Batch(cmds...)
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, m.quit()
		}
		if m.search != nil {
			s, cmd := m.search.update(msg)
			m.search = &s
			return m, cmd
		}
		cmd, handled := m.handleKey(msg)
		if handled {
			m.publishViewport()
			return m, cmd
		}
		cmds = append(cmds, cmd)

	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.setSize()
		return m, m.render()

	case documentRenderedMsg:
		if msg.err != nil {
			log.Error("error rendering timeline", "error", msg.err)
			return m, m.showStatusMessage(msg.err.Error(), true)
		}
		m.doc = msg.doc
		m.ready = true
		m.tracker.SetAnchors(m.doc.anchors)
		m.refreshContent()
		m.publishedTop = -1

	case stateChangedMsg:
		prev := m.state.CurrentTrackID
		m.state = m.narrator.State()
		m.refreshContent()
		if m.state.CurrentTrackID != prev && !m.cfg.FollowScroll {
			m.ensureVisible(m.state.CurrentTrackID)
		}
		cmds = append(cmds, waitFor(m.stateCh, stateChangedMsg{}))
		if m.state.Status == playback.StatusLoading && !m.spinning {
			m.spinning = true
			cmds = append(cmds, m.spinner.Tick)
		}

	case anchorChangedMsg:
		if id, ok := m.tracker.Active(); ok {
			m.activeAnchor = id
			if m.cfg.FollowScroll {
				cmds = append(cmds, m.followAnchor(id))
			}
		}
		cmds = append(cmds, waitFor(m.anchorCh, anchorChangedMsg{}))

	case spinner.TickMsg:
		if m.state.Status != playback.StatusLoading {
			m.spinning = false
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case fallbackTickMsg:
		m.narrator.SampleFallback()
		return m, fallbackTick()

	case searchDoneMsg:
		m.search = nil
		m.setSize()
		if msg.trackID != "" {
			m.scrollTo(msg.trackID)
			cmds = append(cmds, m.play(msg.trackID))
		}

	case reloadMsg:
		cmds = append(cmds, m.reload())
		if m.watcher != nil {
			cmds = append(cmds, m.watcher.wait)
		}

	case timelineLoadedMsg:
		if msg.err != nil {
			log.Warn("unable to reload timeline", "error", msg.err)
			return m, m.showStatusMessage("Reload failed: "+msg.err.Error(), true)
		}
		if err := m.narrator.LoadTracklist(msg.tl); err != nil {
			return m, m.showStatusMessage(err.Error(), true)
		}
		m.state = m.narrator.State()
		return m, tea.Batch(m.render(), m.showStatusMessage("Reloaded timeline", false))

	case statusMessageTimeoutMsg:
		if msg.id == m.statusID {
			m.statusMessage = ""
			m.statusIsError = false
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)
	m.publishViewport()

	return m, tea.Batch(cmds...)
}

// handleKey runs the transport and view shortcuts. handled reports whether
// the key must not reach the viewport.
func (m *model) handleKey(msg tea.KeyMsg) (cmd tea.Cmd, handled bool) {
	switch msg.String() {
	case "q":
		if m.showHelp {
			m.toggleHelp()
			return nil, true
		}
		return m.quit(), true

	case "esc":
		if m.showHelp {
			m.toggleHelp()
		}
		return nil, true

	case "?":
		m.toggleHelp()
		return nil, true

	case "home", "g":
		m.viewport.GotoTop()
	case "end", "G":
		m.viewport.GotoBottom()

	case " ":
		return m.togglePlayback(), true

	case "enter":
		t, ok := m.visibleTrack()
		if !ok {
			return nil, true
		}
		return m.play(t.ID), true

	case "n":
		if !m.narrator.NextTrack() {
			return m.showStatusMessage("End of timeline", false), true
		}
		return m.play(m.narrator.State().CurrentTrackID), true

	case "p":
		if !m.narrator.PreviousTrack() {
			return m.showStatusMessage("Start of timeline", false), true
		}
		return m.play(m.narrator.State().CurrentTrackID), true

	case "s":
		m.narrator.StopTrack()
		return nil, true

	case "r":
		if m.state.Status == playback.StatusError && m.state.CurrentTrackID != "" {
			return m.play(m.state.CurrentTrackID), true
		}
		return m.reload(), true

	case "f":
		m.cfg.FollowScroll = !m.cfg.FollowScroll
		note := "Follow scroll off"
		if m.cfg.FollowScroll {
			note = "Follow scroll on"
			if id, ok := m.tracker.Active(); ok {
				return tea.Batch(m.followAnchor(id), m.showStatusMessage(note, false)), true
			}
		}
		return m.showStatusMessage(note, false), true

	case "a":
		m.narrator.SetAutoPlay(!m.state.IsAutoPlayMode)
		return nil, true

	case "m":
		m.narrator.SetMuted(!m.state.IsMuted)
		return nil, true

	case "+", "=":
		m.narrator.SetVolume(m.state.Volume + volumeStep)
		return m.showStatusMessage(fmt.Sprintf("Volume %.0f%%", min(1, m.state.Volume+volumeStep)*100), false), true

	case "-":
		m.narrator.SetVolume(m.state.Volume - volumeStep)
		return m.showStatusMessage(fmt.Sprintf("Volume %.0f%%", max(0, m.state.Volume-volumeStep)*100), false), true

	case "c":
		t, ok := m.narrator.Queue().Get(m.state.CurrentTrackID)
		if !ok {
			t, ok = m.visibleTrack()
		}
		if !ok {
			return nil, true
		}
		// Copy using OSC 52
		termenv.Copy(t.Text)
		// Copy using native system clipboard
		_ = clipboard.WriteAll(t.Text)
		return m.showStatusMessage("Copied narration", false), true

	case "/":
		s := newSearchModel(m.narrator.Queue().Tracks())
		m.search = &s
		m.setSize()
		return textinput.Blink, true
	}
	return nil, false
}

// togglePlayback pauses or resumes the current track, or starts narrating
// the visible section when nothing is loaded.
func (m *model) togglePlayback() tea.Cmd {
	switch m.state.Status {
	case playback.StatusPlaying, playback.StatusPaused:
		if err := m.narrator.TogglePause(); err != nil {
			return m.showStatusMessage(err.Error(), true)
		}
		return nil
	case playback.StatusLoading:
		return nil
	}

	if m.state.CurrentTrackID != "" {
		return m.play(m.state.CurrentTrackID)
	}
	if t, ok := m.visibleTrack(); ok {
		return m.play(t.ID)
	}
	return nil
}

func (m *model) play(id string) tea.Cmd {
	if err := m.narrator.PlayTrack(id); err != nil {
		log.Warn("unable to play track", "track", id, "error", err)
		return m.showStatusMessage(err.Error(), true)
	}
	return nil
}

// followAnchor plays the track narrating a newly active anchor unless it is
// already current.
func (m *model) followAnchor(id string) tea.Cmd {
	t, ok := m.narrator.GetTrackByProgressID(id)
	if !ok || t.ID == m.state.CurrentTrackID {
		return nil
	}
	log.Debug("following scroll", "anchor", id, "track", t.ID)
	return m.play(t.ID)
}

// visibleTrack returns the track of the active anchor, or the first track.
func (m *model) visibleTrack() (tracks.Track, bool) {
	if m.activeAnchor != "" {
		if t, ok := m.narrator.GetTrackByProgressID(m.activeAnchor); ok {
			return t, true
		}
	}
	return m.narrator.Queue().At(0)
}

func (m *model) reload() tea.Cmd {
	if m.load == nil {
		return m.showStatusMessage("Nothing to reload", false)
	}
	load := m.load
	return func() tea.Msg {
		tl, err := load()
		return timelineLoadedMsg{tl: tl, err: err}
	}
}

func (m *model) quit() tea.Cmd {
	m.tracker.Stop()
	if m.unsub != nil {
		m.unsub()
	}
	if m.watcher != nil {
		m.watcher.close()
	}
	return tea.Quit
}

func (m *model) setSize() {
	m.viewport.Width = m.width
	m.viewport.Height = m.height - statusBarHeight
	if m.showHelp {
		m.viewport.Height -= strings.Count(m.helpView(), "\n")
	}
	if m.search != nil {
		m.viewport.Height -= m.search.height()
	}
	m.viewport.Height = max(0, m.viewport.Height)
	if m.viewport.PastBottom() {
		m.viewport.GotoBottom()
	}
}

func (m *model) toggleHelp() {
	m.showHelp = !m.showHelp
	m.setSize()
}

func (m model) render() tea.Cmd {
	q, cfg, width := m.narrator.Queue(), m.cfg, m.width
	return func() tea.Msg {
		doc, err := renderDocument(q, cfg, width)
		return documentRenderedMsg{doc: doc, err: err}
	}
}

func (m *model) refreshContent() {
	if !m.ready {
		return
	}
	m.viewport.SetContent(m.doc.content(m.state.CurrentTrackID, m.state.Status == playback.StatusError))
}

// publishViewport hands the scroll position to the visibility tracker when
// it moved.
func (m *model) publishViewport() {
	if !m.ready {
		return
	}
	if m.viewport.YOffset == m.publishedTop && m.viewport.Height == m.publishedHeight {
		return
	}
	m.publishedTop, m.publishedHeight = m.viewport.YOffset, m.viewport.Height
	m.tracker.Scroll(visibility.Viewport{
		Top:           float64(m.viewport.YOffset),
		Height:        float64(m.viewport.Height),
		ContentHeight: float64(len(m.doc.lines)),
	})
}

// scrollTo puts the top of a track's block at the top of the viewport.
func (m *model) scrollTo(trackID string) {
	if a, ok := m.doc.anchorOf(trackID); ok {
		m.viewport.SetYOffset(int(a.Top))
	}
}

// ensureVisible scrolls only when the track's heading is off screen.
func (m *model) ensureVisible(trackID string) {
	a, ok := m.doc.anchorOf(trackID)
	if !ok {
		return
	}
	top := int(a.Top)
	if top < m.viewport.YOffset || top >= m.viewport.YOffset+m.viewport.Height {
		m.viewport.SetYOffset(top)
	}
}

// trackPosition returns the 1-based queue position, the queue length and
// the title of the current track.
func (m model) trackPosition() (int, int, string) {
	q := m.narrator.Queue()
	t, ok := q.Get(m.state.CurrentTrackID)
	if !ok {
		return 0, q.Len(), ""
	}
	return q.Index(t.ID) + 1, q.Len(), t.Title
}

func (m *model) showStatusMessage(msg string, isError bool) tea.Cmd {
	m.statusID++
	m.statusMessage = msg
	m.statusIsError = isError
	id := m.statusID
	return tea.Tick(statusMessageTimeout, func(time.Time) tea.Msg {
		return statusMessageTimeoutMsg{id: id}
	})
}

func (m model) View() string {
	if !m.ready {
		return ""
	}

	var b strings.Builder
	fmt.Fprint(&b, m.viewport.View()+"\n")
	m.statusBarView(&b)

	if m.search != nil {
		fmt.Fprint(&b, "\n"+m.search.view(m.width))
	} else if m.showHelp {
		fmt.Fprint(&b, "\n"+m.helpView())
	}
	return b.String()
}
