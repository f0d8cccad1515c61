package ui

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	runewidth "github.com/mattn/go-runewidth"
	"github.com/muesli/reflow/ansi"
	"github.com/muesli/reflow/truncate"

	"github.com/dgnsrekt/narrator/internal/playback"
	"github.com/dgnsrekt/narrator/internal/synth"
)

const (
	statusBarHeight = 1
	ellipsis        = "…"
)

var (
	mintGreen = lipgloss.AdaptiveColor{Light: "#89F0CB", Dark: "#89F0CB"}
	darkGreen = lipgloss.AdaptiveColor{Light: "#1C8760", Dark: "#1C8760"}
	red       = lipgloss.AdaptiveColor{Light: "#FF4672", Dark: "#ED567A"}
	yellow    = lipgloss.AdaptiveColor{Light: "#B8860B", Dark: "#FFFF00"}
	gray      = lipgloss.AdaptiveColor{Light: "#909090", Dark: "#626262"}

	statusBarNoteFg = lipgloss.AdaptiveColor{Light: "#656565", Dark: "#7D7D7D"}
	statusBarBg     = lipgloss.AdaptiveColor{Light: "#E6E6E6", Dark: "#242424"}

	logoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#ECFD65")).
			Background(lipgloss.Color("#5A56E0")).
			Bold(true).
			Render

	statusBarScrollPosStyle = lipgloss.NewStyle().
				Foreground(lipgloss.AdaptiveColor{Light: "#949494", Dark: "#5A5A5A"}).
				Background(statusBarBg).
				Render

	statusBarNoteStyle = lipgloss.NewStyle().
				Foreground(statusBarNoteFg).
				Background(statusBarBg).
				Render

	statusBarHelpStyle = lipgloss.NewStyle().
				Foreground(statusBarNoteFg).
				Background(lipgloss.AdaptiveColor{Light: "#DCDCDC", Dark: "#323232"}).
				Render

	statusBarMessageStyle = lipgloss.NewStyle().
				Foreground(mintGreen).
				Background(darkGreen).
				Render

	statusBarErrorStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#FFFFFF")).
				Background(red).
				Render

	helpViewStyle = lipgloss.NewStyle().
			Foreground(statusBarNoteFg).
			Background(lipgloss.AdaptiveColor{Light: "#f2f2f2", Dark: "#1B1B1B"}).
			Render
)

// playbackIndicator returns the icon and colour for a playback status.
func playbackIndicator(s playback.Status) (string, lipgloss.TerminalColor) {
	switch s {
	case playback.StatusPlaying:
		return "▶", mintGreen
	case playback.StatusPaused:
		return "⏸", yellow
	case playback.StatusLoading:
		return "⟳", lipgloss.Color("#00AAFF")
	case playback.StatusError:
		return "✗", red
	default:
		return "■", gray
	}
}

// playbackStatus returns the compact playback summary for the status bar.
// spin replaces the loading icon when set.
func playbackStatus(st playback.State, title string, position, total int, spin string) string {
	icon, color := playbackIndicator(st.Status)
	if st.Status == playback.StatusLoading && spin != "" {
		icon = spin
	}

	var b strings.Builder
	b.WriteString(lipgloss.NewStyle().Foreground(color).Render(icon))

	if st.CurrentTrackID == "" {
		b.WriteString(" space to narrate")
		return b.String()
	}

	fmt.Fprintf(&b, " %d/%d %s", position, total, title)

	switch st.Status {
	case playback.StatusError:
		b.WriteString(" · couldn't load narration, r to retry")
	case playback.StatusLoading:
		b.WriteString(" · loading")
	case playback.StatusPlaying, playback.StatusPaused:
		fmt.Fprintf(&b, " %s/%s", formatDuration(st.CurrentTime), formatDuration(st.Duration))
		if st.Source == synth.SourceCache {
			b.WriteString(" ·cached")
		}
	}
	if st.IsMuted {
		b.WriteString(" · muted")
	}
	return b.String()
}

// progressBar renders percent (0-100) as a bar of the given width.
func progressBar(percent float64, width int) string {
	if width <= 0 {
		return ""
	}
	filled := int(math.Round(math.Max(0, math.Min(100, percent)) / 100 * float64(width)))
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}

// formatDuration formats a duration for display.
func formatDuration(d time.Duration) string {
	if d < 0 {
		return "0:00"
	}
	minutes := int(d.Minutes())
	seconds := int(d.Seconds()) % 60
	return fmt.Sprintf("%d:%02d", minutes, seconds)
}

func (m model) statusBarView(b *strings.Builder) {
	const barWidth = 10

	logo := logoStyle(" Narrator ")

	flags := ""
	if m.cfg.FollowScroll {
		flags += " follow"
	}
	if m.state.IsAutoPlayMode {
		flags += " auto"
	}
	scroll := fmt.Sprintf(" %3.f%%%s ", math.Max(0, math.Min(1, m.viewport.ScrollPercent()))*100, flags)

	var bar string
	if m.state.Duration > 0 {
		bar = " " + progressBar(m.state.Progress, barWidth)
	}
	scroll = statusBarScrollPosStyle(bar + scroll)
	helpNote := statusBarHelpStyle(" ? Help ")

	var note string
	switch {
	case m.statusMessage != "":
		note = m.statusMessage
	default:
		position, total, title := m.trackPosition()
		note = playbackStatus(m.state, title, position, total, m.spinner.View())
	}

	note = truncate.StringWithTail(" "+note+" ", uint(max(0, //nolint:gosec
		m.width-
			ansi.PrintableRuneWidth(logo)-
			ansi.PrintableRuneWidth(scroll)-
			ansi.PrintableRuneWidth(helpNote),
	)), ellipsis)

	style := statusBarNoteStyle
	switch {
	case m.statusMessage != "" && m.statusIsError:
		style = statusBarErrorStyle
	case m.statusMessage != "":
		style = statusBarMessageStyle
	}
	note = style(note)

	padding := max(0,
		m.width-
			ansi.PrintableRuneWidth(logo)-
			ansi.PrintableRuneWidth(note)-
			ansi.PrintableRuneWidth(scroll)-
			ansi.PrintableRuneWidth(helpNote),
	)
	emptySpace := style(strings.Repeat(" ", padding))

	fmt.Fprintf(b, "%s%s%s%s%s",
		logo,
		note,
		emptySpace,
		scroll,
		helpNote,
	)
}

func (m model) helpView() (s string) {
	col1 := []string{
		"space   play/pause",
		"enter   narrate visible section",
		"n/p     next/previous track",
		"s       stop",
		"r       retry or reload",
		"/       jump to track",
	}
	col2 := []string{
		"f   follow scroll",
		"a   auto-play",
		"m   mute",
		"+/- volume",
		"c   copy narration",
		"q   quit",
	}

	nav := []string{
		"k/↑      up",
		"j/↓      down",
		"b/pgup   page up",
		"pgdn     page down",
		"g/home   go to top",
		"G/end    go to bottom",
	}

	s += "\n"
	for i := range nav {
		s += fmt.Sprintf("%-28s%-35s%s", nav[i], col1[i], col2[i])
		if i+1 < len(nav) {
			s += "\n"
		}
	}

	s = indent(s, 2)

	// Fill up empty cells with spaces for background coloring
	if m.width > 0 {
		lines := strings.Split(s, "\n")
		for i := 0; i < len(lines); i++ {
			l := runewidth.StringWidth(lines[i])
			n := max(m.width-l, 0)
			lines[i] += strings.Repeat(" ", n)
		}
		s = strings.Join(lines, "\n")
	}

	return helpViewStyle(s)
}

// indent prefixes every line of s with n spaces.
func indent(s string, n int) string {
	if n <= 0 || s == "" {
		return s
	}
	l := strings.Split(s, "\n")
	b := strings.Builder{}
	i := strings.Repeat(" ", n)
	for _, v := range l {
		fmt.Fprintf(&b, "%s%s\n", i, v)
	}
	return b.String()
}
