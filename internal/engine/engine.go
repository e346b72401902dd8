package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/conductord/internal/intent"
	"github.com/fyrsmithlabs/conductord/internal/logging"
	"github.com/fyrsmithlabs/conductord/internal/memory"
	"github.com/fyrsmithlabs/conductord/internal/review"
	"github.com/fyrsmithlabs/conductord/internal/triangulate"
)

// InstructionSink receives instruction requests for the external executor.
type InstructionSink interface {
	Publish(ctx context.Context, req InstructionRequest) error
}

// ArtifactResolver fetches artifact content by reference.
type ArtifactResolver interface {
	Resolve(ctx context.Context, ref string) (string, error)
}

// Config bounds engine behavior.
type Config struct {
	// HistoryLimit caps journal entries included in a context bundle.
	HistoryLimit int

	// MaxModifyRetries bounds intent MODIFY re-instructions per phase
	// before the conflict escalates to the operator.
	MaxModifyRetries int
}

// ApplyDefaults fills zero values.
func (c *Config) ApplyDefaults() {
	if c.HistoryLimit == 0 {
		c.HistoryLimit = 20
	}
	if c.MaxModifyRetries == 0 {
		c.MaxModifyRetries = 2
	}
}

// Engine is the phase state machine and its collaborators. One Engine
// serves every namespace; per-namespace ordering comes from the Dispatcher.
type Engine struct {
	config      Config
	projects    *ProjectStore
	journal     *Journal
	tasks       *TaskStore
	registry    *Registry
	chain       *review.Chain
	tracker     *intent.Tracker
	mem         *memory.Service
	escalations *EscalationQueue
	sink        InstructionSink
	resolver    ArtifactResolver
	logger      *zap.Logger

	mu       sync.Mutex
	modifies map[string]int
}

// NewEngine wires the coordinator. All collaborators are required.
func NewEngine(
	config Config,
	projects *ProjectStore,
	journal *Journal,
	registry *Registry,
	chain *review.Chain,
	tracker *intent.Tracker,
	mem *memory.Service,
	escalations *EscalationQueue,
	sink InstructionSink,
	resolver ArtifactResolver,
	logger *zap.Logger,
) (*Engine, error) {
	for name, dep := range map[string]any{
		"project store": projects, "journal": journal, "registry": registry,
		"review chain": chain, "intent tracker": tracker, "memory service": mem,
		"escalation queue": escalations, "instruction sink": sink, "artifact resolver": resolver,
	} {
		if dep == nil {
			return nil, fmt.Errorf("engine: %s required", name)
		}
	}
	config.ApplyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		config:      config,
		projects:    projects,
		journal:     journal,
		tasks:       NewTaskStore(),
		registry:    registry,
		chain:       chain,
		tracker:     tracker,
		mem:         mem,
		escalations: escalations,
		sink:        sink,
		resolver:    resolver,
		logger:      logger,
		modifies:    make(map[string]int),
	}, nil
}

// SubmitGoal creates a project in goal-clarification and dispatches the
// first instruction. The goal is recorded as an explicit intent entry.
func (e *Engine) SubmitGoal(ctx context.Context, namespace, goal string) (Project, error) {
	if strings.TrimSpace(namespace) == "" || strings.TrimSpace(goal) == "" {
		return Project{}, fmt.Errorf("engine: namespace and goal required")
	}
	if !ValidNamespace(namespace) {
		return Project{}, fmt.Errorf("engine: namespace %q invalid", namespace)
	}
	if existing, err := e.projects.Get(namespace); err == nil {
		if existing.Status == StatusCancelled {
			return Project{}, ErrProjectCancelled
		}
		return Project{}, ErrProjectExists
	}

	project := Project{
		Namespace:    namespace,
		Goal:         goal,
		CurrentPhase: PhaseGoalClarification,
		Status:       StatusActive,
		CreatedAt:    time.Now().UTC(),
	}
	if err := e.projects.Put(project); err != nil {
		return Project{}, err
	}
	activeProjects.Inc()

	if err := e.tracker.RecordIntent(ctx, namespace, intent.Entry{
		Kind:   intent.KindGoal,
		Text:   goal,
		Source: intent.SourceExplicit,
	}); err != nil {
		return Project{}, fmt.Errorf("engine: recording goal intent: %w", err)
	}

	if err := e.dispatchNext(ctx, &project); err != nil {
		return Project{}, err
	}
	e.logger.Info("engine: project created",
		zap.String("namespace", namespace),
		zap.String("goal", goal))
	return project, nil
}

// ProcessSignal handles one completion signal: dedup, staleness, intent
// check, review chain, phase advance, next dispatch. The Dispatcher calls it
// from the namespace's consumer loop, so invocations for one namespace never
// overlap.
func (e *Engine) ProcessSignal(ctx context.Context, signal CompletionSignal) error {
	ctx = logging.WithNamespace(ctx, signal.Namespace)
	ctx = logging.WithSignalID(ctx, signal.SignalID)
	log := e.logger.With(logging.ContextFields(ctx)...)

	if err := signal.Validate(); err != nil {
		signalsTotal.WithLabelValues("invalid").Inc()
		return err
	}

	if e.journal.Seen(signal.Namespace, signal.SignalID) {
		log.Info("engine: duplicate signal ignored")
		signalsTotal.WithLabelValues("duplicate").Inc()
		return nil
	}

	project, err := e.projects.Get(signal.Namespace)
	if err != nil {
		signalsTotal.WithLabelValues("invalid").Inc()
		return fmt.Errorf("engine: signal for unknown namespace %q: %w", signal.Namespace, err)
	}

	if project.Status != StatusActive {
		log.Warn("engine: signal for inactive project discarded",
			zap.String("status", string(project.Status)))
		signalsTotal.WithLabelValues("stale").Inc()
		return nil
	}

	if signal.Phase != project.CurrentPhase {
		stale := &StaleSignalError{
			Namespace:    signal.Namespace,
			SignalPhase:  signal.Phase,
			CurrentPhase: project.CurrentPhase,
			SignalID:     signal.SignalID,
		}
		log.Warn("engine: stale signal discarded", zap.String("reason", stale.Error()))
		signalsTotal.WithLabelValues("stale").Inc()
		return nil
	}

	// Journal first so a redelivery mid-processing still deduplicates.
	if err := e.journal.Append(JournalEntry{
		Type:      eventSignal,
		Namespace: signal.Namespace,
		SignalID:  signal.SignalID,
		Phase:     signal.Phase,
		Worker:    signal.WorkerName,
		At:        signal.Timestamp,
	}); err != nil {
		signalsTotal.WithLabelValues("failed").Inc()
		return err
	}

	if err := e.tasks.Complete(signal.Namespace, signal.Phase, signal.WorkerName); err != nil {
		// No open task is normal after a restart: the journal is the
		// durable record.
		log.Debug("engine: no open task for signal", zap.Error(err))
	}

	content, err := e.resolveArtifacts(ctx, signal.ArtifactRefs)
	if err != nil {
		signalsTotal.WithLabelValues("failed").Inc()
		return &ValidationError{
			Namespace: signal.Namespace,
			Phase:     signal.Phase,
			Issues:    []string{"artifact unavailable: " + err.Error()},
		}
	}

	if err := e.checkIntent(ctx, log, &project, signal, content); err != nil {
		return err
	}

	if err := e.runReview(ctx, log, &project, signal, content); err != nil {
		return err
	}

	// A success pattern goes into memory only once the phase can actually
	// close; a held phase is not a success.
	if !e.tasks.AllCompleted(signal.Namespace, signal.Phase) {
		signalsTotal.WithLabelValues("failed").Inc()
		return &ValidationError{
			Namespace: signal.Namespace,
			Phase:     signal.Phase,
			Issues:    []string{"tasks for the current phase are still open"},
		}
	}

	e.recordOutcome(ctx, signal, project.Goal, true)
	signalsTotal.WithLabelValues("processed").Inc()
	return e.advance(ctx, log, &project, signal)
}

// checkIntent validates the artifact against the namespace's intent model.
// STOP escalates an intent conflict; MODIFY re-instructs the same worker up
// to MaxModifyRetries times, then escalates like an exhausted gate.
func (e *Engine) checkIntent(ctx context.Context, log *zap.Logger, project *Project, signal CompletionSignal, content string) error {
	verdict, err := e.tracker.ValidateAlignment(ctx, signal.Namespace, content)
	if err != nil {
		signalsTotal.WithLabelValues("failed").Inc()
		return fmt.Errorf("engine: intent check: %w", err)
	}

	switch verdict.Decision {
	case intent.Stop:
		conflict := &intent.ConflictError{
			Namespace: signal.Namespace,
			Action:    signal.ArtifactRefs[0],
			Reason:    verdict.Reason,
		}
		e.escalateIntent(log, signal, verdict.Reason)
		e.recordOutcome(ctx, signal, project.Goal, false)
		signalsTotal.WithLabelValues("intent_conflict").Inc()
		log.Warn("engine: intent conflict, phase held", zap.String("reason", verdict.Reason))
		return conflict

	case intent.Modify:
		e.recordOutcome(ctx, signal, project.Goal, false)

		modifies := e.bumpModifies(signal.Namespace, signal.Phase)
		if modifies > e.config.MaxModifyRetries {
			reason := fmt.Sprintf("intent required modification %d times: %s", modifies, verdict.Reason)
			e.escalateIntent(log, signal, reason)
			signalsTotal.WithLabelValues("escalated").Inc()
			log.Warn("engine: intent modify retries exhausted, phase held",
				zap.Int("modifies", modifies))
			return &intent.ConflictError{
				Namespace: signal.Namespace,
				Action:    signal.ArtifactRefs[0],
				Reason:    reason,
			}
		}

		if err := e.reinstruct(ctx, project, signal, verdict); err != nil {
			log.Error("engine: re-instruction failed", zap.Error(err))
		}
		signalsTotal.WithLabelValues("modify").Inc()
		return &ValidationError{
			Namespace: signal.Namespace,
			Phase:     signal.Phase,
			Issues:    []string{verdict.Reason, verdict.Suggestion},
		}
	}
	return nil
}

// escalateIntent queues an intent escalation carrying the artifact so
// approval can still run the review chain.
func (e *Engine) escalateIntent(log *zap.Logger, signal CompletionSignal, reason string) {
	if _, err := e.escalations.Push(Escalation{
		Namespace:    signal.Namespace,
		Phase:        signal.Phase,
		Gate:         "intent",
		Reason:       reason,
		Worker:       signal.WorkerName,
		ArtifactRefs: signal.ArtifactRefs,
	}); err != nil {
		log.Error("engine: escalation queue rejected intent conflict", zap.Error(err))
	}
	e.journalEvent(eventEscalation, signal.Namespace, signal.Phase, reason)
}

// bumpModifies counts MODIFY verdicts per namespace and phase.
func (e *Engine) bumpModifies(namespace string, phase Phase) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	key := namespace + "/" + string(phase)
	e.modifies[key]++
	return e.modifies[key]
}

// clearModifies forgets the MODIFY count once a phase closes or rolls back.
func (e *Engine) clearModifies(namespace string, phase Phase) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.modifies, namespace+"/"+string(phase))
}

// runReview drives the artifact through the review chain. An exhausted gate
// pushes exactly one escalation and holds the phase.
func (e *Engine) runReview(ctx context.Context, log *zap.Logger, project *Project, signal CompletionSignal, content string) error {
	boost := e.mem.Enhance(ctx, signal.WorkerName, string(signal.Phase), content)
	input := triangulate.Input{
		Artifact: triangulate.Artifact{
			Ref:     signal.ArtifactRefs[0],
			Phase:   string(signal.Phase),
			Content: content,
		},
		Goal:  project.Goal,
		Boost: boost,
	}

	results, err := e.chain.Review(ctx, input)
	if err == nil {
		return nil
	}

	var escalation *review.EscalationError
	if errors.As(err, &escalation) {
		if _, pushErr := e.escalations.Push(Escalation{
			Namespace:    signal.Namespace,
			Phase:        signal.Phase,
			Gate:         escalation.GateName,
			Reason:       escalation.Error(),
			Worker:       signal.WorkerName,
			ArtifactRefs: signal.ArtifactRefs,
		}); pushErr != nil {
			log.Error("engine: escalation queue rejected gate failure", zap.Error(pushErr))
		}
		e.journalEvent(eventEscalation, signal.Namespace, signal.Phase, escalation.Error())
		e.recordOutcome(ctx, signal, project.Goal, false)
		e.tasks.Fail(signal.Namespace, signal.Phase, signal.WorkerName)
		signalsTotal.WithLabelValues("escalated").Inc()
		log.Warn("engine: review gate exhausted, phase held",
			zap.String("gate", escalation.GateName),
			zap.Int("attempts", escalation.Attempts))
		return err
	}

	// A gate that failed without escalation still holds the phase.
	var failedGate string
	var issues []string
	for _, r := range results {
		if !r.Passed {
			failedGate = r.GateName
			issues = r.Issues
		}
	}
	e.recordOutcome(ctx, signal, project.Goal, false)
	signalsTotal.WithLabelValues("failed").Inc()
	return &ValidationError{
		Namespace: signal.Namespace,
		Phase:     signal.Phase,
		Gate:      failedGate,
		Issues:    append(issues, err.Error()),
	}
}

// advance moves the project to the next phase and dispatches its worker, or
// completes the project after documentation.
func (e *Engine) advance(ctx context.Context, log *zap.Logger, project *Project, signal CompletionSignal) error {
	if !e.tasks.AllCompleted(signal.Namespace, signal.Phase) {
		return &ValidationError{
			Namespace: signal.Namespace,
			Phase:     signal.Phase,
			Issues:    []string{"tasks for the current phase are still open"},
		}
	}

	e.clearModifies(signal.Namespace, signal.Phase)

	next, ok := project.CurrentPhase.Next()
	if !ok {
		project.Status = StatusCompleted
		if err := e.projects.Put(*project); err != nil {
			return err
		}
		activeProjects.Dec()
		e.journalEvent(eventTransition, project.Namespace, project.CurrentPhase, "project completed")
		log.Info("engine: project completed")
		return nil
	}

	from := project.CurrentPhase
	project.CurrentPhase = next
	if err := e.projects.Put(*project); err != nil {
		return err
	}
	transitionsTotal.WithLabelValues(string(next)).Inc()
	if err := e.journal.Append(JournalEntry{
		Type:      eventTransition,
		Namespace: project.Namespace,
		Phase:     from,
		ToPhase:   next,
	}); err != nil {
		log.Warn("engine: journaling transition failed", zap.Error(err))
	}
	log.Info("engine: phase advanced",
		zap.String("from", string(from)),
		zap.String("to", string(next)))

	return e.dispatchNext(ctx, project)
}

// dispatchNext selects the worker for the project's current phase, enriches
// the context with a memory boost, and publishes the instruction.
func (e *Engine) dispatchNext(ctx context.Context, project *Project) error {
	phase := project.CurrentPhase
	variant, err := e.registry.Select(ctx, phase.Capability())
	if err != nil {
		return err
	}

	boost := e.mem.Enhance(ctx, variant.WorkerName, string(phase), project.Goal)
	task := e.tasks.Add(project.Namespace, phase, variant.WorkerName, nil)
	e.journalEvent(eventTask, project.Namespace, phase, "dispatched "+variant.WorkerName)

	req := InstructionRequest{
		Namespace:  project.Namespace,
		Phase:      phase,
		WorkerName: variant.WorkerName,
		Tier:       variant.Tier,
		TaskID:     task.ID,
		Context: ContextBundle{
			Goal:            project.Goal,
			History:         e.journal.History(project.Namespace, e.config.HistoryLimit),
			Boost:           boost,
			SuccessCriteria: successCriteria[phase],
		},
		IssuedAt: time.Now().UTC(),
	}
	if err := e.sink.Publish(ctx, req); err != nil {
		return fmt.Errorf("engine: publishing instruction: %w", err)
	}
	instructionsTotal.WithLabelValues(string(phase), variant.Tier).Inc()
	return nil
}

// reinstruct re-issues the current phase's instruction with an intent
// suggestion folded into the success criteria.
func (e *Engine) reinstruct(ctx context.Context, project *Project, signal CompletionSignal, verdict intent.Verdict) error {
	variant, err := e.registry.Select(ctx, signal.Phase.Capability())
	if err != nil {
		return err
	}
	boost := e.mem.Enhance(ctx, variant.WorkerName, string(signal.Phase), project.Goal)
	task := e.tasks.Add(project.Namespace, signal.Phase, variant.WorkerName, nil)

	criteria := append([]string{}, successCriteria[signal.Phase]...)
	criteria = append(criteria, verdict.Suggestion)

	return e.sink.Publish(ctx, InstructionRequest{
		Namespace:  project.Namespace,
		Phase:      signal.Phase,
		WorkerName: variant.WorkerName,
		Tier:       variant.Tier,
		TaskID:     task.ID,
		Context: ContextBundle{
			Goal:            project.Goal,
			History:         e.journal.History(project.Namespace, e.config.HistoryLimit),
			Artifacts:       signal.ArtifactRefs,
			Boost:           boost,
			SuccessCriteria: criteria,
		},
		IssuedAt: time.Now().UTC(),
	})
}

// Cancel marks a project cancelled. In-flight executor work may still
// finish; its signal is discarded as stale.
func (e *Engine) Cancel(ctx context.Context, namespace string) error {
	project, err := e.projects.Get(namespace)
	if err != nil {
		return err
	}
	if project.Status == StatusCancelled {
		return nil
	}
	wasActive := project.Status == StatusActive
	project.Status = StatusCancelled
	if err := e.projects.Put(project); err != nil {
		return err
	}
	if wasActive {
		activeProjects.Dec()
	}
	e.journalEvent(eventCancel, namespace, project.CurrentPhase, "project cancelled")
	e.logger.Info("engine: project cancelled", zap.String("namespace", namespace))
	return nil
}

// Rollback is the explicit operator path backward: it resets the phase,
// drops tasks for the replayed phases, then re-dispatches the target phase.
func (e *Engine) Rollback(ctx context.Context, namespace string, target Phase) error {
	if !target.Valid() {
		return fmt.Errorf("engine: unknown rollback phase %q", target)
	}
	project, err := e.projects.Get(namespace)
	if err != nil {
		return err
	}
	if project.Status != StatusActive {
		return fmt.Errorf("engine: cannot roll back %s project %q", project.Status, namespace)
	}
	if !target.Before(project.CurrentPhase) {
		return fmt.Errorf("engine: rollback target %s is not before current phase %s", target, project.CurrentPhase)
	}

	from := project.CurrentPhase
	project.CurrentPhase = target
	if err := e.projects.Put(project); err != nil {
		return err
	}
	e.tasks.DropFrom(namespace, target)
	for _, phase := range phaseOrder[target.Index():] {
		e.clearModifies(namespace, phase)
	}
	if err := e.journal.Append(JournalEntry{
		Type:      eventRollback,
		Namespace: namespace,
		Phase:     from,
		ToPhase:   target,
	}); err != nil {
		e.logger.Warn("engine: journaling rollback failed", zap.Error(err))
	}
	e.logger.Info("engine: rolled back",
		zap.String("namespace", namespace),
		zap.String("from", string(from)),
		zap.String("to", string(target)))

	return e.dispatchNext(ctx, &project)
}

// ResolveEscalation applies an operator decision. Approval forces the held
// phase forward; rejection leaves the phase for rollback or cancellation.
func (e *Engine) ResolveEscalation(ctx context.Context, id string, approved bool) error {
	escalation, err := e.escalations.Resolve(id, approved)
	if err != nil {
		return err
	}
	e.journalEvent(eventEscalation, escalation.Namespace, escalation.Phase,
		fmt.Sprintf("escalation %s %s by operator", id, escalation.Status))

	if !approved {
		return nil
	}

	project, err := e.projects.Get(escalation.Namespace)
	if err != nil {
		return err
	}
	if project.Status != StatusActive || project.CurrentPhase != escalation.Phase {
		return fmt.Errorf("engine: escalation %s no longer applies to namespace %q", id, escalation.Namespace)
	}

	log := e.logger.With(zap.String("namespace", escalation.Namespace))

	// An intent conflict held the phase before the review chain ever ran.
	// Approval clears the conflict, not the quality gates: the artifact
	// still has to pass review before the phase advances. A gate
	// escalation, by contrast, is the operator overriding a gate that ran
	// and failed.
	if escalation.Gate == "intent" && len(escalation.ArtifactRefs) > 0 {
		content, err := e.resolveArtifacts(ctx, escalation.ArtifactRefs)
		if err != nil {
			return fmt.Errorf("engine: resolving escalated artifacts: %w", err)
		}
		signal := CompletionSignal{
			Namespace:    escalation.Namespace,
			Phase:        escalation.Phase,
			WorkerName:   escalation.Worker,
			ArtifactRefs: escalation.ArtifactRefs,
		}
		if err := e.runReview(ctx, log, &project, signal, content); err != nil {
			return err
		}
	}

	e.tasks.ForceComplete(escalation.Namespace, escalation.Phase)
	return e.advance(ctx, log, &project, CompletionSignal{
		Namespace: escalation.Namespace,
		Phase:     escalation.Phase,
	})
}

// Project returns the current record for a namespace.
func (e *Engine) Project(namespace string) (Project, error) {
	return e.projects.Get(namespace)
}

// Projects lists every project record.
func (e *Engine) Projects() []Project {
	return e.projects.List()
}

// Escalations exposes the operator queue.
func (e *Engine) Escalations() *EscalationQueue {
	return e.escalations
}

// resolveArtifacts fetches and joins every referenced artifact.
func (e *Engine) resolveArtifacts(ctx context.Context, refs []string) (string, error) {
	parts := make([]string, 0, len(refs))
	for _, ref := range refs {
		content, err := e.resolver.Resolve(ctx, ref)
		if err != nil {
			return "", fmt.Errorf("resolving %q: %w", ref, err)
		}
		parts = append(parts, content)
	}
	return strings.Join(parts, "\n\n"), nil
}

// recordOutcome feeds the memory orchestrator. Failures here never block
// signal processing.
func (e *Engine) recordOutcome(ctx context.Context, signal CompletionSignal, goal string, success bool) {
	outcome := memory.Outcome{
		Namespace:   signal.Namespace,
		WorkerName:  signal.WorkerName,
		TaskType:    string(signal.Phase),
		PatternText: fmt.Sprintf("worker %s delivered %s for goal %q", signal.WorkerName, signal.Phase, goal),
		Success:     success,
		CompletedAt: signal.Timestamp,
	}
	if err := e.mem.Record(ctx, outcome); err != nil {
		e.logger.Warn("engine: recording outcome failed",
			zap.String("namespace", signal.Namespace),
			zap.Error(err))
	}
}

func (e *Engine) journalEvent(eventType, namespace string, phase Phase, detail string) {
	if err := e.journal.Append(JournalEntry{
		Type:      eventType,
		Namespace: namespace,
		Phase:     phase,
		Detail:    detail,
	}); err != nil {
		e.logger.Warn("engine: journaling event failed",
			zap.String("type", eventType),
			zap.String("namespace", namespace),
			zap.Error(err))
	}
}
