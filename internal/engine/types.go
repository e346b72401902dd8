package engine

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/fyrsmithlabs/conductord/internal/memory"
)

// namespacePattern bounds namespaces to a filesystem-safe alphabet: they
// become file names in the project store, journal, and intent snapshots,
// and they arrive from the network.
var namespacePattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]*$`)

// ValidNamespace reports whether a namespace is usable as an identifier.
func ValidNamespace(namespace string) bool {
	return namespacePattern.MatchString(namespace) && !strings.Contains(namespace, "..")
}

// ProjectStatus is a project's lifecycle state.
type ProjectStatus string

const (
	StatusActive    ProjectStatus = "active"
	StatusPaused    ProjectStatus = "paused"
	StatusCompleted ProjectStatus = "completed"
	StatusCancelled ProjectStatus = "cancelled"
)

// Project is one namespace's workflow state. Mutated only by the engine;
// never deleted, only marked cancelled.
type Project struct {
	Namespace    string        `json:"namespace"`
	Goal         string        `json:"goal"`
	CurrentPhase Phase         `json:"current_phase"`
	Status       ProjectStatus `json:"status"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// TaskStatus tracks a unit of work.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in-progress"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
)

// Task is a unit of work bound to a namespace, phase, and worker.
type Task struct {
	ID           string     `json:"id"`
	Namespace    string     `json:"namespace"`
	Phase        Phase      `json:"phase"`
	WorkerName   string     `json:"worker_name"`
	Status       TaskStatus `json:"status"`
	Dependencies []string   `json:"dependencies,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// CompletionSignal is delivered by the external executor when a unit of
// work finishes. SignalID is the idempotency key: redelivery produces no
// additional state change.
type CompletionSignal struct {
	Namespace    string    `json:"namespace"`
	Phase        Phase     `json:"phase"`
	WorkerName   string    `json:"worker_name"`
	ArtifactRefs []string  `json:"artifact_refs"`
	Timestamp    time.Time `json:"timestamp"`
	SignalID     string    `json:"signal_id"`
}

// Validate checks the signal carries everything processing needs.
func (s CompletionSignal) Validate() error {
	switch {
	case strings.TrimSpace(s.Namespace) == "":
		return fmt.Errorf("engine: signal namespace required")
	case !ValidNamespace(s.Namespace):
		return fmt.Errorf("engine: signal namespace %q invalid", s.Namespace)
	case strings.TrimSpace(s.SignalID) == "":
		return fmt.Errorf("engine: signal id required")
	case !s.Phase.Valid():
		return fmt.Errorf("engine: signal phase %q unknown", s.Phase)
	case strings.TrimSpace(s.WorkerName) == "":
		return fmt.Errorf("engine: signal worker name required")
	case len(s.ArtifactRefs) == 0:
		return fmt.Errorf("engine: signal must reference at least one artifact")
	}
	return nil
}

// ContextBundle is the fully-resolved context handed to the external
// executor with an instruction.
type ContextBundle struct {
	Goal            string       `json:"goal"`
	History         []string     `json:"history,omitempty"`
	Artifacts       []string     `json:"artifacts,omitempty"`
	Boost           memory.Boost `json:"boost"`
	SuccessCriteria []string     `json:"success_criteria"`
}

// InstructionRequest asks the external executor to run one unit of work.
type InstructionRequest struct {
	Namespace  string        `json:"namespace"`
	Phase      Phase         `json:"phase"`
	WorkerName string        `json:"worker_name"`
	Tier       string        `json:"tier"`
	TaskID     string        `json:"task_id"`
	Context    ContextBundle `json:"context"`
	IssuedAt   time.Time     `json:"issued_at"`
}
