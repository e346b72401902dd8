// Package intent maintains a per-namespace model of user intent and gates
// proposed actions against it.
package intent

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrUnknownNamespace indicates no intent model exists for a namespace.
	ErrUnknownNamespace = errors.New("intent: unknown namespace")
	// ErrInvalidEntry indicates an entry missing its kind or text.
	ErrInvalidEntry = errors.New("intent: entry kind and text required")
)

// Source identifies where an intent entry came from. Explicit and
// custom-answer entries outweigh inferred ones and cannot be overwritten by
// inference alone.
type Source string

const (
	SourceExplicit     Source = "explicit"
	SourceInferred     Source = "inferred"
	SourceCustomAnswer Source = "custom-answer"
)

// Weight is the source's confidence contribution.
func (s Source) Weight() float64 {
	switch s {
	case SourceExplicit:
		return 1.0
	case SourceCustomAnswer:
		return 0.9
	case SourceInferred:
		return 0.4
	default:
		return 0
	}
}

func (s Source) valid() bool {
	switch s {
	case SourceExplicit, SourceInferred, SourceCustomAnswer:
		return true
	}
	return false
}

// Kind classifies an entry within the model.
type Kind string

const (
	KindGoal       Kind = "goal"
	KindAntiGoal   Kind = "anti-goal"
	KindConstraint Kind = "constraint"
)

func (k Kind) valid() bool {
	switch k {
	case KindGoal, KindAntiGoal, KindConstraint:
		return true
	}
	return false
}

// Entry is one recorded statement of intent.
type Entry struct {
	Kind   Kind      `json:"kind"`
	Text   string    `json:"text"`
	Source Source    `json:"source"`
	At     time.Time `json:"at"`
}

// Validate checks the entry is storable.
func (e Entry) Validate() error {
	if !e.Kind.valid() || strings.TrimSpace(e.Text) == "" {
		return ErrInvalidEntry
	}
	if !e.Source.valid() {
		return fmt.Errorf("intent: unknown source %q", e.Source)
	}
	return nil
}

// Model is a namespace's accumulated intent.
type Model struct {
	Namespace       string  `json:"namespace"`
	Goals           []Entry `json:"goals,omitempty"`
	AntiGoals       []Entry `json:"anti_goals,omitempty"`
	Constraints     []Entry `json:"constraints,omitempty"`
	ConfidenceScore float64 `json:"confidence_score"`
}

// entries returns every entry regardless of kind.
func (m *Model) entries() []Entry {
	out := make([]Entry, 0, len(m.Goals)+len(m.AntiGoals)+len(m.Constraints))
	out = append(out, m.Goals...)
	out = append(out, m.AntiGoals...)
	out = append(out, m.Constraints...)
	return out
}

// Decision is the outcome of an alignment check.
type Decision string

const (
	Proceed Decision = "PROCEED"
	Modify  Decision = "MODIFY"
	Stop    Decision = "STOP"
)

// Verdict is the result of validating a proposed action.
type Verdict struct {
	Decision   Decision
	Reason     string
	Suggestion string
}

// ConflictError reports a proposed action colliding with an anti-goal or
// constraint. It is always surfaced for explicit resolution.
type ConflictError struct {
	Namespace string
	Action    string
	Reason    string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("intent: namespace %q: %s", e.Namespace, e.Reason)
}
