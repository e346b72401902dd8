// Package triangulate runs parallel independent viewpoint evaluations of an
// artifact and synthesizes them into a single consensus judgment.
package triangulate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/conductord/internal/memory"
)

var (
	// ErrNoViewpoints indicates an engine was constructed without evaluators.
	ErrNoViewpoints = errors.New("triangulate: at least one viewpoint required")
	// ErrInvalidArtifact indicates a triangulation request with no artifact content.
	ErrInvalidArtifact = errors.New("triangulate: artifact ref and content required")
)

// Artifact is the unit under review: a reference plus the content to judge.
type Artifact struct {
	Ref     string
	Phase   string
	Content string
}

// Validate checks the artifact carries enough to evaluate.
func (a Artifact) Validate() error {
	if a.Ref == "" || a.Content == "" {
		return ErrInvalidArtifact
	}
	return nil
}

// Input is what each viewpoint sees: the artifact, the project goal, and an
// optional memory boost carrying historically learned patterns.
type Input struct {
	Artifact Artifact
	Goal     string
	Boost    memory.Boost
}

// Evaluation is one viewpoint's verdict.
type Evaluation struct {
	Score  float64
	Issues []string
}

// Viewpoint is one independent, domain-specific evaluator.
type Viewpoint interface {
	Name() string
	// Weight is the viewpoint's domain priority in the consensus average.
	Weight() float64
	Evaluate(ctx context.Context, in Input) (Evaluation, error)
}

// ViewpointResult records one viewpoint's contribution to a triangulation,
// including the effective weight it was given.
type ViewpointResult struct {
	Name     string    `json:"name"`
	Score    float64   `json:"score"`
	Weight   float64   `json:"weight"`
	Issues   []string  `json:"issues,omitempty"`
	Degraded bool      `json:"degraded,omitempty"`
	Duration float64   `json:"duration_seconds"`
	At       time.Time `json:"at"`
}

// Passed reports whether this viewpoint's score clears the pass threshold.
func (r ViewpointResult) passed(threshold float64) bool {
	return r.Score >= threshold
}

// Conflict records a pass/fail disagreement between two viewpoints.
type Conflict struct {
	ViewpointA string  `json:"viewpoint_a"`
	ViewpointB string  `json:"viewpoint_b"`
	Spread     float64 `json:"spread"`
}

func (c Conflict) String() string {
	return fmt.Sprintf("%s vs %s (spread %.2f)", c.ViewpointA, c.ViewpointB, c.Spread)
}

// Result is the synthesized outcome of one triangulation. Immutable once
// written; persisted to the audit log.
type Result struct {
	ArtifactRef         string            `json:"artifact_ref"`
	Phase               string            `json:"phase"`
	Viewpoints          []ViewpointResult `json:"viewpoints"`
	ConsensusScore      float64           `json:"consensus_score"`
	UnresolvedConflicts []Conflict        `json:"unresolved_conflicts,omitempty"`
	Passed              bool              `json:"passed"`
	At                  time.Time         `json:"at"`
}

// Issues flattens every viewpoint's issues, prefixed by viewpoint name.
func (r Result) Issues() []string {
	var issues []string
	for _, vp := range r.Viewpoints {
		for _, issue := range vp.Issues {
			issues = append(issues, vp.Name+": "+issue)
		}
	}
	for _, c := range r.UnresolvedConflicts {
		issues = append(issues, "unresolved conflict: "+c.String())
	}
	return issues
}
