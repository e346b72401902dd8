// Package engine coordinates multi-phase project workflows: it tracks each
// namespace's phase, consumes completion signals in arrival order, validates
// artifacts through the review chain and intent tracker, and dispatches the
// next worker's instruction.
package engine

import "fmt"

// Phase is one stage in the fixed development sequence.
type Phase string

const (
	PhaseGoalClarification        Phase = "goal-clarification"
	PhaseSpecification            Phase = "specification"
	PhaseArchitecture             Phase = "architecture"
	PhasePseudocode               Phase = "pseudocode"
	PhaseImplementation           Phase = "implementation"
	PhaseRefinementTesting        Phase = "refinement-testing"
	PhaseRefinementImplementation Phase = "refinement-implementation"
	PhaseCompletion               Phase = "completion"
	PhaseDocumentation            Phase = "documentation"
)

// phaseOrder is the fixed progression. A project's phase index never
// decreases except under an explicit operator rollback.
var phaseOrder = []Phase{
	PhaseGoalClarification,
	PhaseSpecification,
	PhaseArchitecture,
	PhasePseudocode,
	PhaseImplementation,
	PhaseRefinementTesting,
	PhaseRefinementImplementation,
	PhaseCompletion,
	PhaseDocumentation,
}

// phaseIndex maps each phase to its position.
var phaseIndex = func() map[Phase]int {
	m := make(map[Phase]int, len(phaseOrder))
	for i, p := range phaseOrder {
		m[p] = i
	}
	return m
}()

// Valid reports whether p is a known phase.
func (p Phase) Valid() bool {
	_, ok := phaseIndex[p]
	return ok
}

// Index returns the phase's position in the progression, or -1.
func (p Phase) Index() int {
	i, ok := phaseIndex[p]
	if !ok {
		return -1
	}
	return i
}

// Next returns the following phase and true, or false after documentation.
func (p Phase) Next() (Phase, bool) {
	i := p.Index()
	if i < 0 || i+1 >= len(phaseOrder) {
		return "", false
	}
	return phaseOrder[i+1], true
}

// Before reports whether p precedes other in the progression.
func (p Phase) Before(other Phase) bool {
	return p.Index() < other.Index()
}

// ParsePhase validates a phase name.
func ParsePhase(s string) (Phase, error) {
	p := Phase(s)
	if !p.Valid() {
		return "", fmt.Errorf("engine: unknown phase %q", s)
	}
	return p, nil
}

// phaseCapabilities maps each phase to the worker capability that executes
// it.
var phaseCapabilities = map[Phase]string{
	PhaseGoalClarification:        "goal-clarifier",
	PhaseSpecification:            "specification-writer",
	PhaseArchitecture:             "architect",
	PhasePseudocode:               "pseudocode-writer",
	PhaseImplementation:           "implementer",
	PhaseRefinementTesting:        "test-refiner",
	PhaseRefinementImplementation: "implementation-refiner",
	PhaseCompletion:               "completion-reviewer",
	PhaseDocumentation:            "documentation-writer",
}

// Capability returns the worker capability for a phase.
func (p Phase) Capability() string {
	return phaseCapabilities[p]
}

// successCriteria states what each phase's artifact must demonstrate. They
// travel with the instruction so the executor's output is verifiable.
var successCriteria = map[Phase][]string{
	PhaseGoalClarification:        {"goal restated unambiguously", "open questions resolved or listed"},
	PhaseSpecification:            {"every requirement testable", "edge cases enumerated"},
	PhaseArchitecture:             {"components and boundaries named", "data flows traced end to end"},
	PhasePseudocode:               {"control flow complete", "error paths covered"},
	PhaseImplementation:           {"compiles against the architecture", "no unhandled error paths"},
	PhaseRefinementTesting:        {"failing cases reproduced", "coverage of critical paths"},
	PhaseRefinementImplementation: {"all known test failures resolved"},
	PhaseCompletion:               {"acceptance criteria checked off"},
	PhaseDocumentation:            {"usage and operations documented"},
}
