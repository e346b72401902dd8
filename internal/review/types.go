// Package review runs artifacts through an ordered chain of quality gates.
// Each gate triangulates the artifact scoped to its concern; a failed gate
// is retried after remediation, and exhausted retries escalate to an
// operator instead of advancing.
package review

import (
	"context"
	"fmt"

	"github.com/fyrsmithlabs/conductord/internal/triangulate"
)

// GateResult is the immutable outcome of one gate evaluation.
type GateResult struct {
	GateName    string   `json:"gate_name"`
	ArtifactRef string   `json:"artifact_ref"`
	Passed      bool     `json:"passed"`
	Score       float64  `json:"score"`
	Issues      []string `json:"issues,omitempty"`
	RetryCount  int      `json:"retry_count"`
}

// FixInstruction tells the external executor what a gate rejected and why.
type FixInstruction struct {
	GateName    string   `json:"gate_name"`
	ArtifactRef string   `json:"artifact_ref"`
	Phase       string   `json:"phase"`
	Issues      []string `json:"issues"`
	Attempt     int      `json:"attempt"`
}

// Remediator forwards a fix instruction to the external executor and returns
// the revised artifact.
type Remediator interface {
	Remediate(ctx context.Context, fix FixInstruction, artifact triangulate.Artifact) (triangulate.Artifact, error)
}

// EscalationError reports a gate whose retry budget is exhausted. It halts
// automatic progression of the phase and requires operator action.
type EscalationError struct {
	GateName    string
	ArtifactRef string
	Attempts    int
	Issues      []string
}

func (e *EscalationError) Error() string {
	return fmt.Sprintf("review: gate %q failed %d attempts for artifact %q, operator action required",
		e.GateName, e.Attempts, e.ArtifactRef)
}
