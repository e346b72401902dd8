package engine

import (
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/conductord/internal/intent"
	"github.com/fyrsmithlabs/conductord/internal/review"
)

var (
	// ErrProjectExists indicates a goal was submitted for a namespace that
	// already has a project.
	ErrProjectExists = errors.New("engine: project already exists")
	// ErrProjectNotFound indicates an operation on an unknown namespace.
	ErrProjectNotFound = errors.New("engine: project not found")
	// ErrProjectCancelled indicates new work was submitted for a cancelled
	// namespace.
	ErrProjectCancelled = errors.New("engine: project cancelled")
	// ErrQueueFull indicates a namespace's signal queue is at capacity.
	ErrQueueFull = errors.New("engine: namespace queue full")
)

// ValidationError reports a gate or check failure. The phase does not
// advance; the failure is progress feedback, not an abort.
type ValidationError struct {
	Namespace string
	Phase     Phase
	Gate      string
	Issues    []string
}

func (e *ValidationError) Error() string {
	if e.Gate != "" {
		return fmt.Sprintf("engine: namespace %q phase %s held back by gate %q", e.Namespace, e.Phase, e.Gate)
	}
	return fmt.Sprintf("engine: namespace %q phase %s failed validation", e.Namespace, e.Phase)
}

// StaleSignalError identifies a completion signal for a phase the namespace
// has already left. Logged and dropped, never surfaced as a failure.
type StaleSignalError struct {
	Namespace    string
	SignalPhase  Phase
	CurrentPhase Phase
	SignalID     string
}

func (e *StaleSignalError) Error() string {
	return fmt.Sprintf("engine: stale signal %q for namespace %q: phase %s already superseded by %s",
		e.SignalID, e.Namespace, e.SignalPhase, e.CurrentPhase)
}

// IsEscalation reports whether err carries an exhausted review gate.
func IsEscalation(err error) bool {
	var escalation *review.EscalationError
	return errors.As(err, &escalation)
}

// IsIntentConflict reports whether err carries an intent conflict.
func IsIntentConflict(err error) bool {
	var conflict *intent.ConflictError
	return errors.As(err, &conflict)
}
