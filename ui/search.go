package ui

import (
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/truncate"
	"github.com/sahilm/fuzzy"

	"github.com/dgnsrekt/narrator/internal/tracks"
)

const maxSearchResults = 8

var (
	searchCursorStyle = lipgloss.NewStyle().Foreground(mintGreen).Bold(true).Render
	searchMatchStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#ECFD65")).Render
	searchDimStyle    = lipgloss.NewStyle().Foreground(gray).Render
)

// trackTitles adapts a track list to fuzzy.Source.
type trackTitles []tracks.Track

func (t trackTitles) String(i int) string { return t[i].Title }
func (t trackTitles) Len() int            { return len(t) }

// searchModel is the jump-to-track prompt.
type searchModel struct {
	input   textinput.Model
	tracks  trackTitles
	matches fuzzy.Matches
	cursor  int
}

type searchDoneMsg struct {
	trackID string // empty when cancelled
}

func newSearchModel(list []tracks.Track) searchModel {
	ti := textinput.New()
	ti.Prompt = "Jump to: "
	ti.PromptStyle = lipgloss.NewStyle().Foreground(mintGreen)
	ti.CharLimit = 80
	ti.Focus()

	m := searchModel{input: ti, tracks: list}
	m.filter()
	return m
}

// filter refreshes the matches for the current input. An empty term
// matches every track in queue order.
func (m *searchModel) filter() {
	term := strings.TrimSpace(m.input.Value())
	if term == "" {
		m.matches = make(fuzzy.Matches, len(m.tracks))
		for i, t := range m.tracks {
			m.matches[i] = fuzzy.Match{Str: t.Title, Index: i}
		}
	} else {
		m.matches = fuzzy.FindFrom(term, m.tracks)
	}
	m.cursor = min(m.cursor, max(0, len(m.matches)-1))
}

// selected returns the track under the cursor.
func (m searchModel) selected() (tracks.Track, bool) {
	if len(m.matches) == 0 {
		return tracks.Track{}, false
	}
	return m.tracks[m.matches[m.cursor].Index], true
}

func (m searchModel) update(msg tea.Msg) (searchModel, tea.Cmd) {
	if msg, ok := msg.(tea.KeyMsg); ok {
		switch msg.String() {
		case "esc":
			return m, func() tea.Msg { return searchDoneMsg{} }
		case "enter":
			t, ok := m.selected()
			if !ok {
				return m, func() tea.Msg { return searchDoneMsg{} }
			}
			return m, func() tea.Msg { return searchDoneMsg{trackID: t.ID} }
		case "up", "ctrl+p", "ctrl+k":
			if m.cursor > 0 {
				m.cursor--
			}
			return m, nil
		case "down", "ctrl+n", "ctrl+j":
			if m.cursor < len(m.matches)-1 {
				m.cursor++
			}
			return m, nil
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	m.filter()
	return m, cmd
}

func (m searchModel) view(width int) string {
	var b strings.Builder
	b.WriteString(m.input.View())

	if len(m.matches) == 0 {
		b.WriteString("\n" + searchDimStyle("  no matching tracks"))
		return b.String()
	}

	// keep the cursor inside the visible window
	start := 0
	if m.cursor >= maxSearchResults {
		start = m.cursor - maxSearchResults + 1
	}
	end := min(len(m.matches), start+maxSearchResults)

	for i := start; i < end; i++ {
		match := m.matches[i]
		line := truncate.StringWithTail(highlightMatch(match), uint(max(0, width-2)), ellipsis) //nolint:gosec
		if i == m.cursor {
			b.WriteString("\n" + searchCursorStyle("▸ ") + line)
		} else {
			b.WriteString("\n  " + line)
		}
	}
	return b.String()
}

// highlightMatch styles the matched characters of a result.
func highlightMatch(match fuzzy.Match) string {
	if len(match.MatchedIndexes) == 0 {
		return match.Str
	}
	matched := make(map[int]bool, len(match.MatchedIndexes))
	for _, i := range match.MatchedIndexes {
		matched[i] = true
	}

	var b strings.Builder
	for i, r := range match.Str {
		if matched[i] {
			b.WriteString(searchMatchStyle(string(r)))
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// height is the number of lines the prompt occupies.
func (m searchModel) height() int {
	return 1 + max(1, min(len(m.matches), maxSearchResults))
}
