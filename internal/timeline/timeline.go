// Package timeline defines the timeline document narrated by narrator: an
// ordered list of milestones, each holding an ordered list of events.
package timeline

import (
	"errors"
	"fmt"
	"strings"
)

// HeroAnchor is the anchor id reserved for the timeline's closing summary.
const HeroAnchor = "hero"

// Timeline is a narratable timeline document.
type Timeline struct {
	ID         string      `json:"id" yaml:"id"`
	Title      string      `json:"title" yaml:"title"`
	Conclusion string      `json:"conclusion" yaml:"conclusion"`
	Milestones []Milestone `json:"milestones" yaml:"milestones"`
}

// Milestone is a top-level entry of a timeline.
type Milestone struct {
	ID          string  `json:"id" yaml:"id"`
	Title       string  `json:"title" yaml:"title"`
	Order       float64 `json:"order" yaml:"order"`
	Context     string  `json:"context" yaml:"context"`
	Consequence string  `json:"consequence,omitempty" yaml:"consequence,omitempty"`
	Events      []Event `json:"events,omitempty" yaml:"events,omitempty"`
}

// Event belongs to a milestone and may carry up to two expert opinions.
type Event struct {
	ID           string `json:"id" yaml:"id"`
	Title        string `json:"title" yaml:"title"`
	LeftType     string `json:"left_type,omitempty" yaml:"left_type,omitempty"`
	LeftOpinion  string `json:"left_opinion,omitempty" yaml:"left_opinion,omitempty"`
	RightType    string `json:"right_type,omitempty" yaml:"right_type,omitempty"`
	RightOpinion string `json:"right_opinion,omitempty" yaml:"right_opinion,omitempty"`
}

// ErrInvalid is wrapped by every ValidationError.
var ErrInvalid = errors.New("invalid timeline")

// ValidationError lists the problems found in a timeline document.
type ValidationError struct {
	Problems []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid timeline: %s", strings.Join(e.Problems, "; "))
}

// Unwrap returns ErrInvalid so callers can use errors.Is.
func (e *ValidationError) Unwrap() error {
	return ErrInvalid
}

// Validate checks that every milestone and event can be addressed by a
// unique anchor id. Anchors map one-to-one onto narration tracks, so
// duplicated or empty ids are rejected.
func (t *Timeline) Validate() error {
	var problems []string
	seen := map[string]string{HeroAnchor: "reserved"}

	claim := func(id, what string) {
		if strings.TrimSpace(id) == "" {
			problems = append(problems, what+" has an empty id")
			return
		}
		if prev, ok := seen[id]; ok {
			problems = append(problems, fmt.Sprintf("%s id %q already used by %s", what, id, prev))
			return
		}
		seen[id] = what
	}

	for i, m := range t.Milestones {
		claim(m.ID, fmt.Sprintf("milestone #%d", i+1))
		for j, e := range m.Events {
			claim(e.ID, fmt.Sprintf("event #%d of milestone %q", j+1, m.ID))
		}
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

// EventCount returns the number of events across all milestones.
func (t *Timeline) EventCount() int {
	n := 0
	for _, m := range t.Milestones {
		n += len(m.Events)
	}
	return n
}
