package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/truncate"
	"github.com/spf13/cobra"

	"github.com/dgnsrekt/narrator/internal/tracks"
	"github.com/dgnsrekt/narrator/utils"
)

var (
	tracksJSON bool

	tracksCmd = &cobra.Command{
		Use:     "tracks TIMELINE",
		Short:   "Print the narration queue of a timeline",
		Long:    paragraph(fmt.Sprintf("\n%s the tracks a timeline is narrated as, in playback order.", keyword("Print"))),
		Example: paragraph("narrator tracks rome.timeline.json\nnarrator tracks --json rome.timeline.json | jq '.[].id'"),
		Args:    cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			src, err := openTimeline(args[0])
			if err != nil {
				return err
			}
			list := tracks.Build(src.timeline)
			if tracksJSON {
				return writeTracksJSON(os.Stdout, list)
			}
			return writeTrackTable(os.Stdout, src.timeline.Title, list, style, int(width)) //nolint:gosec
		},
	}
)

type trackJSON struct {
	ID          string  `json:"id"`
	Type        string  `json:"type"`
	Title       string  `json:"title"`
	Text        string  `json:"text"`
	MilestoneID string  `json:"milestone_id,omitempty"`
	EventID     string  `json:"event_id,omitempty"`
	Order       float64 `json:"order"`
	ProgressID  string  `json:"progress_id"`
}

func writeTracksJSON(w io.Writer, list []tracks.Track) error {
	out := make([]trackJSON, len(list))
	for i, t := range list {
		out[i] = trackJSON{
			ID:          t.ID,
			Type:        string(t.Type),
			Title:       t.Title,
			Text:        t.Text,
			MilestoneID: t.MilestoneID,
			EventID:     t.EventID,
			Order:       t.Order,
			ProgressID:  t.ProgressID,
		}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

// trackTableMarkdown lists the tracks as a markdown table.
func trackTableMarkdown(title string, list []tracks.Track) string {
	cell := func(s string) string {
		s = strings.ReplaceAll(s, "\n", " ")
		return strings.ReplaceAll(s, "|", `\|`)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", cell(title))
	b.WriteString("| # | Order | Track | Type | Narration |\n")
	b.WriteString("|--:|--:|---|---|---|\n")
	for i, t := range list {
		fmt.Fprintf(&b, "| %d | %s | %s | %s | %s |\n",
			i+1,
			strconv.FormatFloat(t.Order, 'f', -1, 64),
			cell(t.ID),
			t.Type,
			cell(truncate.StringWithTail(t.Text, 40, "…")),
		)
	}
	return b.String()
}

func writeTrackTable(w io.Writer, title string, list []tracks.Track, style string, width int) error {
	r, err := glamour.NewTermRenderer(
		glamour.WithColorProfile(lipgloss.ColorProfile()),
		utils.GlamourStyle(style),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return fmt.Errorf("unable to create renderer: %w", err)
	}

	out, err := r.Render(trackTableMarkdown(title, list))
	if err != nil {
		return fmt.Errorf("unable to render markdown: %w", err)
	}
	if _, err = fmt.Fprint(w, out); err != nil {
		return fmt.Errorf("unable to write to writer: %w", err)
	}
	return nil
}

func init() {
	tracksCmd.Flags().BoolVar(&tracksJSON, "json", false, "print the tracks as JSON")
}
