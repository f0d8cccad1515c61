// Package tracks flattens a timeline into an ordered queue of narration
// tracks.
package tracks

import (
	"sort"
	"strings"

	"github.com/dgnsrekt/narrator/internal/timeline"
)

// Type identifies what part of the timeline a track narrates.
type Type string

const (
	// TypeConclusion narrates the timeline's closing summary.
	TypeConclusion Type = "conclusion"
	// TypeMilestoneContext narrates a milestone's context.
	TypeMilestoneContext Type = "milestone_context"
	// TypeMilestoneConsequence narrates a milestone's consequence.
	TypeMilestoneConsequence Type = "milestone_consequence"
	// TypeEvent narrates an event and its expert opinions.
	TypeEvent Type = "event"
)

// Track is one narratable unit of a timeline.
type Track struct {
	ID          string
	Type        Type
	Text        string
	Title       string
	MilestoneID string
	EventID     string
	Order       float64
	ProgressID  string
}

// maxTenthEvents is the largest event count for which tenths can be used as
// the event step without reaching the next milestone's order.
const maxTenthEvents = 9

// Build flattens a timeline into tracks sorted by ascending order. It is
// pure: the same timeline always yields the same tracks.
func Build(t *timeline.Timeline) []Track {
	if t == nil {
		return nil
	}

	out := make([]Track, 0, 1+len(t.Milestones)+t.EventCount())
	out = append(out, Track{
		ID:         t.ID + "-conclusion",
		Type:       TypeConclusion,
		Text:       t.Conclusion,
		Title:      conclusionTitle(t),
		Order:      0,
		ProgressID: timeline.HeroAnchor,
	})

	milestones := make([]timeline.Milestone, len(t.Milestones))
	copy(milestones, t.Milestones)
	sort.SliceStable(milestones, func(a, b int) bool {
		return milestones[a].Order < milestones[b].Order
	})

	for idx, m := range milestones {
		i := float64(idx + 1)
		out = append(out, Track{
			ID:          m.ID + "-context",
			Type:        TypeMilestoneContext,
			Text:        m.Context,
			Title:       m.Title,
			MilestoneID: m.ID,
			Order:       i,
			ProgressID:  m.ID,
		})

		step := 0.1
		if len(m.Events) > maxTenthEvents {
			step = 1 / float64(len(m.Events)+1)
		}
		for j, e := range m.Events {
			out = append(out, Track{
				ID:          e.ID + "-content",
				Type:        TypeEvent,
				Text:        EventText(e),
				Title:       e.Title,
				MilestoneID: m.ID,
				EventID:     e.ID,
				Order:       i + step*float64(j+1),
				ProgressID:  e.ID,
			})
		}
	}

	sort.SliceStable(out, func(a, b int) bool {
		return out[a].Order < out[b].Order
	})
	return out
}

// EventText composes the narration of an event: its title followed by the
// left expert's opinion and then the right expert's, when present.
func EventText(e timeline.Event) string {
	var b strings.Builder
	b.WriteString(e.Title)
	appendOpinion(&b, e.LeftType, e.LeftOpinion)
	appendOpinion(&b, e.RightType, e.RightOpinion)
	return b.String()
}

func appendOpinion(b *strings.Builder, label, opinion string) {
	if strings.TrimSpace(opinion) == "" {
		return
	}
	b.WriteString(". ")
	if label != "" {
		b.WriteString(label)
		b.WriteString(" ")
	}
	b.WriteString("expert says: ")
	b.WriteString(opinion)
}

func conclusionTitle(t *timeline.Timeline) string {
	if t.Title != "" {
		return t.Title
	}
	return "Conclusion"
}
