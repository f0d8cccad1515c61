package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"

	"github.com/dgnsrekt/narrator/internal/tracks"
	"github.com/dgnsrekt/narrator/internal/visibility"
	"github.com/dgnsrekt/narrator/utils"
)

const gutterWidth = 2

var (
	gutterStyle       = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#1C8760", Dark: "#89F0CB"}).Render
	failedGutterStyle = lipgloss.NewStyle().Foreground(red).Render
	plainHeadingStyle = lipgloss.NewStyle().Bold(true).Render
)

// document is a timeline rendered for the viewport. Each track occupies a
// contiguous run of lines, published to the visibility tracker as an
// anchor.
type document struct {
	lines   []string
	anchors []visibility.Anchor
	// trackIDs[i] narrates anchors[i]
	trackIDs []string
}

// trackMarkdown returns the markdown shown for a track.
func trackMarkdown(t tracks.Track) string {
	heading := "###"
	switch t.Type {
	case tracks.TypeConclusion:
		heading = "#"
	case tracks.TypeMilestoneContext, tracks.TypeMilestoneConsequence:
		heading = "##"
	}
	return fmt.Sprintf("%s %s\n\n%s\n", heading, t.Title, t.Text)
}

// renderDocument renders every track of q in order. With glamour disabled
// the text is word-wrapped as is.
func renderDocument(q *tracks.Queue, cfg Config, width int) (document, error) {
	width = max(0, width-gutterWidth)
	if cfg.MaxWidth > 0 {
		width = min(width, int(cfg.MaxWidth)) //nolint:gosec
	}

	var render func(tracks.Track) (string, error)
	if cfg.GlamourEnabled {
		r, err := glamour.NewTermRenderer(
			utils.GlamourStyle(cfg.GlamourStyle),
			glamour.WithWordWrap(width),
		)
		if err != nil {
			return document{}, fmt.Errorf("error creating glamour renderer: %w", err)
		}
		render = func(t tracks.Track) (string, error) {
			return r.Render(trackMarkdown(t))
		}
	} else {
		render = func(t tracks.Track) (string, error) {
			return plainHeadingStyle(t.Title) + "\n\n" + wordwrap.String(t.Text, width) + "\n", nil
		}
	}

	var doc document
	for _, t := range q.Tracks() {
		out, err := render(t)
		if err != nil {
			return document{}, fmt.Errorf("error rendering track %s: %w", t.ID, err)
		}
		lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
		// blank separator line belongs to the block above it
		lines = append(lines, "")

		doc.anchors = append(doc.anchors, visibility.Anchor{
			ID:     t.ProgressID,
			Top:    float64(len(doc.lines)),
			Height: float64(len(lines)),
		})
		doc.trackIDs = append(doc.trackIDs, t.ID)
		doc.lines = append(doc.lines, lines...)
	}
	return doc, nil
}

// anchorOf returns the anchor narrated by a track.
func (d document) anchorOf(trackID string) (visibility.Anchor, bool) {
	for i, id := range d.trackIDs {
		if id == trackID {
			return d.anchors[i], true
		}
	}
	return visibility.Anchor{}, false
}

// content returns the document with a gutter marking the current track.
func (d document) content(currentTrackID string, failed bool) string {
	mark := gutterStyle("▌ ")
	if failed {
		mark = failedGutterStyle("▌ ")
	}

	from, to := -1, -1
	if a, ok := d.anchorOf(currentTrackID); ok {
		from, to = int(a.Top), int(a.Top+a.Height)-1
	}

	var b strings.Builder
	for i, l := range d.lines {
		if i >= from && i < to {
			b.WriteString(mark)
		} else {
			b.WriteString("  ")
		}
		b.WriteString(l)
		if i+1 < len(d.lines) {
			b.WriteRune('\n')
		}
	}
	return b.String()
}
