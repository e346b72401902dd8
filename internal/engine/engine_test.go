package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/conductord/internal/intent"
	"github.com/fyrsmithlabs/conductord/internal/memory"
	"github.com/fyrsmithlabs/conductord/internal/patternstore"
	"github.com/fyrsmithlabs/conductord/internal/review"
	"github.com/fyrsmithlabs/conductord/internal/triangulate"
)

// captureSink records published instructions.
type captureSink struct {
	mu   sync.Mutex
	reqs []InstructionRequest
}

func (s *captureSink) Publish(_ context.Context, req InstructionRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reqs = append(s.reqs, req)
	return nil
}

func (s *captureSink) all() []InstructionRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]InstructionRequest(nil), s.reqs...)
}

func (s *captureSink) last() InstructionRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reqs[len(s.reqs)-1]
}

func (s *captureSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.reqs)
}

// mapResolver serves artifact content from a map.
type mapResolver map[string]string

func (r mapResolver) Resolve(_ context.Context, ref string) (string, error) {
	content, ok := r[ref]
	if !ok {
		return "", fmt.Errorf("no artifact %q", ref)
	}
	return content, nil
}

// fixedEmbedder returns preset vectors per exact string.
type fixedEmbedder struct {
	vectors map[string][]float32
}

func (f *fixedEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = f.lookup(t)
	}
	return out, nil
}

func (f *fixedEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	return f.lookup(text), nil
}

func (f *fixedEmbedder) lookup(text string) []float32 {
	if v, ok := f.vectors[text]; ok {
		return v
	}
	return []float32{0, 0, 1}
}

func (f *fixedEmbedder) Dimension() int { return 3 }
func (f *fixedEmbedder) Close() error   { return nil }

// memPatternStore is a minimal in-memory pattern store.
type memPatternStore struct {
	mu      sync.Mutex
	records map[string]patternstore.PatternRecord
}

func newMemPatternStore() *memPatternStore {
	return &memPatternStore{records: make(map[string]patternstore.PatternRecord)}
}

func (m *memPatternStore) Upsert(_ context.Context, records []patternstore.PatternRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range records {
		m.records[r.ID] = r
	}
	return nil
}

func (m *memPatternStore) Query(_ context.Context, tags []string, _ []float32, topK int) ([]patternstore.QueryResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []patternstore.QueryResult
	for _, r := range m.records {
		if !r.HasAnyTag(tags) {
			continue
		}
		out = append(out, patternstore.QueryResult{Record: r, Similarity: 0.8})
		if len(out) == topK {
			break
		}
	}
	return out, nil
}

func (m *memPatternStore) Delete(_ context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.records, id)
	}
	return nil
}

func (m *memPatternStore) Close() error { return nil }

func (m *memPatternStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

// scoredViewpoint maps artifact content to a fixed score.
type scoredViewpoint struct {
	name   string
	scores map[string]float64
}

func (v scoredViewpoint) Name() string    { return v.name }
func (v scoredViewpoint) Weight() float64 { return 1 }

func (v scoredViewpoint) Evaluate(_ context.Context, in triangulate.Input) (triangulate.Evaluation, error) {
	score, ok := v.scores[in.Artifact.Content]
	if !ok {
		score = 0.9
	}
	var issues []string
	if score < 0.6 {
		issues = []string{"artifact rejected"}
	}
	return triangulate.Evaluation{Score: score, Issues: issues}, nil
}

// sameArtifactRemediator retries without changing the artifact.
type sameArtifactRemediator struct{}

func (sameArtifactRemediator) Remediate(_ context.Context, _ review.FixInstruction, a triangulate.Artifact) (triangulate.Artifact, error) {
	return a, nil
}

type harness struct {
	engine   *Engine
	sink     *captureSink
	resolver mapResolver
	tracker  *intent.Tracker
	queue    *EscalationQueue
	patterns *memPatternStore
}

type harnessOptions struct {
	gateScores    map[string]float64
	maxRetries    int
	remediate     review.Remediator
	vectors       map[string][]float32
	enhancedDown  bool
	intentEntries []intent.Entry
}

func newHarness(t *testing.T, opts harnessOptions) *harness {
	t.Helper()
	dir := t.TempDir()

	projects, err := NewProjectStore(filepath.Join(dir, "projects"))
	require.NoError(t, err)
	journal, err := NewJournal(filepath.Join(dir, "journal"), 24*time.Hour)
	require.NoError(t, err)

	registry, err := DefaultRegistry(func(context.Context) bool { return !opts.enhancedDown })
	require.NoError(t, err)

	embedder := &fixedEmbedder{vectors: opts.vectors}
	tracker, err := intent.NewTracker(embedder, intent.Config{}, zap.NewNop())
	require.NoError(t, err)
	for _, entry := range opts.intentEntries {
		require.NoError(t, tracker.RecordIntent(context.Background(), "demo", entry))
	}

	patterns := newMemPatternStore()
	mem, err := memory.NewService(patterns, nil, embedder, memory.Config{}, zap.NewNop())
	require.NoError(t, err)

	gate, err := triangulate.NewEngine([]triangulate.Viewpoint{
		scoredViewpoint{name: "safety", scores: opts.gateScores},
	}, triangulate.Config{}, nil, zap.NewNop())
	require.NoError(t, err)
	chain, err := review.NewChain([]review.Gate{{Name: "safety", Engine: gate}},
		opts.remediate, review.Config{MaxRetries: opts.maxRetries}, zap.NewNop())
	require.NoError(t, err)

	sink := &captureSink{}
	resolver := mapResolver{}
	queue := NewEscalationQueue(8)

	engine, err := NewEngine(Config{}, projects, journal, registry, chain, tracker, mem, queue, sink, resolver, zap.NewNop())
	require.NoError(t, err)

	return &harness{engine: engine, sink: sink, resolver: resolver, tracker: tracker, queue: queue, patterns: patterns}
}

func signalFor(phase Phase, id, ref string) CompletionSignal {
	return CompletionSignal{
		Namespace:    "demo",
		Phase:        phase,
		WorkerName:   phase.Capability() + "-memory-enhanced",
		ArtifactRefs: []string{ref},
		Timestamp:    time.Now().UTC(),
		SignalID:     id,
	}
}

func TestSubmitGoalDispatchesFirstWorker(t *testing.T) {
	h := newHarness(t, harnessOptions{})

	project, err := h.engine.SubmitGoal(context.Background(), "demo", "build an API")
	require.NoError(t, err)

	assert.Equal(t, PhaseGoalClarification, project.CurrentPhase)
	assert.Equal(t, StatusActive, project.Status)

	require.Equal(t, 1, h.sink.count())
	req := h.sink.last()
	assert.Equal(t, PhaseGoalClarification, req.Phase)
	assert.Equal(t, "goal-clarifier-memory-enhanced", req.WorkerName)
	assert.Equal(t, "memory-enhanced", req.Tier)
	assert.Equal(t, "build an API", req.Context.Goal)
	assert.NotEmpty(t, req.Context.SuccessCriteria)

	_, err = h.engine.SubmitGoal(context.Background(), "demo", "build an API")
	assert.ErrorIs(t, err, ErrProjectExists)
}

func TestSignalAdvancesToSpecification(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	ctx := context.Background()

	_, err := h.engine.SubmitGoal(ctx, "demo", "build an API")
	require.NoError(t, err)
	h.resolver["clarified-goal.md"] = "the goal is an HTTP API with error handling and validation"

	err = h.engine.ProcessSignal(ctx, signalFor(PhaseGoalClarification, "sig-1", "clarified-goal.md"))
	require.NoError(t, err)

	project, err := h.engine.Project("demo")
	require.NoError(t, err)
	assert.Equal(t, PhaseSpecification, project.CurrentPhase)

	req := h.sink.last()
	assert.Equal(t, PhaseSpecification, req.Phase)
	assert.Equal(t, "specification-writer-memory-enhanced", req.WorkerName)
	assert.Equal(t, "build an API", req.Context.Goal)
	assert.NotEmpty(t, req.Context.History)
}

func TestDuplicateSignalAtMostOneTransition(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	ctx := context.Background()

	_, err := h.engine.SubmitGoal(ctx, "demo", "build an API")
	require.NoError(t, err)
	h.resolver["a.md"] = "clarified goal with error handling"

	signal := signalFor(PhaseGoalClarification, "sig-1", "a.md")
	require.NoError(t, h.engine.ProcessSignal(ctx, signal))
	dispatched := h.sink.count()

	for i := 0; i < 3; i++ {
		require.NoError(t, h.engine.ProcessSignal(ctx, signal))
	}

	project, err := h.engine.Project("demo")
	require.NoError(t, err)
	assert.Equal(t, PhaseSpecification, project.CurrentPhase)
	assert.Equal(t, dispatched, h.sink.count())
}

func TestStaleSignalDiscarded(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	ctx := context.Background()

	_, err := h.engine.SubmitGoal(ctx, "demo", "build an API")
	require.NoError(t, err)
	h.resolver["a.md"] = "clarified goal with error handling"

	require.NoError(t, h.engine.ProcessSignal(ctx, signalFor(PhaseGoalClarification, "sig-1", "a.md")))

	// A different signal for the phase the namespace already left.
	err = h.engine.ProcessSignal(ctx, signalFor(PhaseGoalClarification, "sig-2", "a.md"))
	require.NoError(t, err)

	project, err := h.engine.Project("demo")
	require.NoError(t, err)
	assert.Equal(t, PhaseSpecification, project.CurrentPhase)
}

func TestPhaseMonotonicallyNonDecreasing(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	ctx := context.Background()

	_, err := h.engine.SubmitGoal(ctx, "demo", "build an API")
	require.NoError(t, err)
	h.resolver["a.md"] = "artifact body with error handling and validation"

	lastIndex := 0
	for i, phase := range phaseOrder {
		signal := signalFor(phase, fmt.Sprintf("sig-%d", i), "a.md")
		require.NoError(t, h.engine.ProcessSignal(ctx, signal))

		project, err := h.engine.Project("demo")
		require.NoError(t, err)
		assert.GreaterOrEqual(t, project.CurrentPhase.Index(), lastIndex)
		lastIndex = project.CurrentPhase.Index()
	}

	project, err := h.engine.Project("demo")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, project.Status)
}

func TestSafetyGateExhaustionEscalatesOnce(t *testing.T) {
	h := newHarness(t, harnessOptions{
		gateScores: map[string]float64{"dangerous artifact body": 0.2},
		maxRetries: 2,
		remediate:  sameArtifactRemediator{},
	})
	ctx := context.Background()

	_, err := h.engine.SubmitGoal(ctx, "demo", "build an API")
	require.NoError(t, err)
	h.resolver["bad.md"] = "dangerous artifact body"

	err = h.engine.ProcessSignal(ctx, signalFor(PhaseGoalClarification, "sig-1", "bad.md"))
	require.Error(t, err)
	assert.True(t, IsEscalation(err))

	pending := h.queue.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, "safety", pending[0].Gate)
	assert.Equal(t, "demo", pending[0].Namespace)

	project, err := h.engine.Project("demo")
	require.NoError(t, err)
	assert.Equal(t, PhaseGoalClarification, project.CurrentPhase)

	// Redelivery after the escalation is a deduplicated no-op.
	require.NoError(t, h.engine.ProcessSignal(ctx, signalFor(PhaseGoalClarification, "sig-1", "bad.md")))
	assert.Len(t, h.queue.Pending(), 1)
}

func TestIntentStopBlocksAdvance(t *testing.T) {
	vectors := map[string][]float32{
		"no paid dependencies":          {1, 0, 0},
		"integrate the stripe paid sdk": {0.9, 0.436, 0},
		"billing should ship this week": {0.85, 0.527, 0},
		"monetization is the priority":  {0.8, 0.6, 0},
	}
	h := newHarness(t, harnessOptions{
		vectors: vectors,
		intentEntries: []intent.Entry{
			{Kind: intent.KindAntiGoal, Text: "no paid dependencies", Source: intent.SourceExplicit},
			{Kind: intent.KindGoal, Text: "billing should ship this week", Source: intent.SourceInferred},
			{Kind: intent.KindGoal, Text: "monetization is the priority", Source: intent.SourceInferred},
		},
	})
	ctx := context.Background()

	_, err := h.engine.SubmitGoal(ctx, "demo", "build an API")
	require.NoError(t, err)
	h.resolver["paid.md"] = "integrate the stripe paid sdk"

	err = h.engine.ProcessSignal(ctx, signalFor(PhaseGoalClarification, "sig-1", "paid.md"))
	require.Error(t, err)
	assert.True(t, IsIntentConflict(err))

	pending := h.queue.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, "intent", pending[0].Gate)
	assert.Contains(t, pending[0].Reason, "no paid dependencies")

	project, err := h.engine.Project("demo")
	require.NoError(t, err)
	assert.Equal(t, PhaseGoalClarification, project.CurrentPhase)
}

func TestCancelDiscardsInFlightSignals(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	ctx := context.Background()

	_, err := h.engine.SubmitGoal(ctx, "demo", "build an API")
	require.NoError(t, err)
	h.resolver["a.md"] = "clarified goal with error handling"

	require.NoError(t, h.engine.Cancel(ctx, "demo"))

	project, err := h.engine.Project("demo")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, project.Status)

	// The executor finishing after cancellation does not crash or advance.
	require.NoError(t, h.engine.ProcessSignal(ctx, signalFor(PhaseGoalClarification, "sig-1", "a.md")))
	project, err = h.engine.Project("demo")
	require.NoError(t, err)
	assert.Equal(t, PhaseGoalClarification, project.CurrentPhase)
	assert.Equal(t, StatusCancelled, project.Status)
}

func TestDispatcherDropsSignalsForCancelledProject(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	ctx := context.Background()

	_, err := h.engine.SubmitGoal(ctx, "demo", "build an API")
	require.NoError(t, err)
	require.NoError(t, h.engine.Cancel(ctx, "demo"))

	dispatcher, err := NewDispatcher(h.engine, 4, zap.NewNop())
	require.NoError(t, err)
	defer dispatcher.Stop()

	h.resolver["a.md"] = "clarified goal"
	require.NoError(t, dispatcher.Submit(signalFor(PhaseGoalClarification, "sig-1", "a.md")))

	// Nothing was enqueued, so the phase never moves.
	time.Sleep(50 * time.Millisecond)
	project, err := h.engine.Project("demo")
	require.NoError(t, err)
	assert.Equal(t, PhaseGoalClarification, project.CurrentPhase)
}

func TestDispatcherProcessesInArrivalOrder(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	ctx := context.Background()

	_, err := h.engine.SubmitGoal(ctx, "demo", "build an API")
	require.NoError(t, err)
	h.resolver["a.md"] = "artifact body with error handling and validation"

	dispatcher, err := NewDispatcher(h.engine, 16, zap.NewNop())
	require.NoError(t, err)
	defer dispatcher.Stop()

	for i, phase := range phaseOrder[:3] {
		require.NoError(t, dispatcher.Submit(signalFor(phase, fmt.Sprintf("sig-%d", i), "a.md")))
	}

	require.Eventually(t, func() bool {
		project, err := h.engine.Project("demo")
		return err == nil && project.CurrentPhase == PhasePseudocode
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRollbackResetsPhase(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	ctx := context.Background()

	_, err := h.engine.SubmitGoal(ctx, "demo", "build an API")
	require.NoError(t, err)
	h.resolver["a.md"] = "artifact body with error handling"
	require.NoError(t, h.engine.ProcessSignal(ctx, signalFor(PhaseGoalClarification, "sig-1", "a.md")))
	require.NoError(t, h.engine.ProcessSignal(ctx, signalFor(PhaseSpecification, "sig-2", "a.md")))

	require.NoError(t, h.engine.Rollback(ctx, "demo", PhaseSpecification))

	project, err := h.engine.Project("demo")
	require.NoError(t, err)
	assert.Equal(t, PhaseSpecification, project.CurrentPhase)

	req := h.sink.last()
	assert.Equal(t, PhaseSpecification, req.Phase)

	// Rolling forward is not a rollback.
	err = h.engine.Rollback(ctx, "demo", PhaseDocumentation)
	assert.Error(t, err)
}

func TestTierFallbackWhenEnhancedUnhealthy(t *testing.T) {
	h := newHarness(t, harnessOptions{enhancedDown: true})

	_, err := h.engine.SubmitGoal(context.Background(), "demo", "build an API")
	require.NoError(t, err)

	req := h.sink.last()
	assert.Equal(t, "basic", req.Tier)
	assert.Equal(t, "goal-clarifier-basic", req.WorkerName)
}

func TestResolveEscalationApprovalAdvances(t *testing.T) {
	h := newHarness(t, harnessOptions{
		gateScores: map[string]float64{"dangerous artifact body": 0.2},
		maxRetries: 2,
		remediate:  sameArtifactRemediator{},
	})
	ctx := context.Background()

	_, err := h.engine.SubmitGoal(ctx, "demo", "build an API")
	require.NoError(t, err)
	h.resolver["bad.md"] = "dangerous artifact body"

	err = h.engine.ProcessSignal(ctx, signalFor(PhaseGoalClarification, "sig-1", "bad.md"))
	require.Error(t, err)

	pending := h.queue.Pending()
	require.Len(t, pending, 1)

	require.NoError(t, h.engine.ResolveEscalation(ctx, pending[0].ID, true))

	project, err := h.engine.Project("demo")
	require.NoError(t, err)
	assert.Equal(t, PhaseSpecification, project.CurrentPhase)
	assert.Empty(t, h.queue.Pending())
}

func TestResolveEscalationRejectionHoldsPhase(t *testing.T) {
	h := newHarness(t, harnessOptions{
		gateScores: map[string]float64{"dangerous artifact body": 0.2},
		maxRetries: 2,
		remediate:  sameArtifactRemediator{},
	})
	ctx := context.Background()

	_, err := h.engine.SubmitGoal(ctx, "demo", "build an API")
	require.NoError(t, err)
	h.resolver["bad.md"] = "dangerous artifact body"
	_ = h.engine.ProcessSignal(ctx, signalFor(PhaseGoalClarification, "sig-1", "bad.md"))

	pending := h.queue.Pending()
	require.Len(t, pending, 1)
	require.NoError(t, h.engine.ResolveEscalation(ctx, pending[0].ID, false))

	project, err := h.engine.Project("demo")
	require.NoError(t, err)
	assert.Equal(t, PhaseGoalClarification, project.CurrentPhase)
}

func TestSignalAfterRollbackAdvances(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	ctx := context.Background()

	_, err := h.engine.SubmitGoal(ctx, "demo", "build an API")
	require.NoError(t, err)
	h.resolver["a.md"] = "artifact body with error handling"
	require.NoError(t, h.engine.ProcessSignal(ctx, signalFor(PhaseGoalClarification, "sig-1", "a.md")))
	require.NoError(t, h.engine.ProcessSignal(ctx, signalFor(PhaseSpecification, "sig-2", "a.md")))

	require.NoError(t, h.engine.Rollback(ctx, "demo", PhaseSpecification))

	// The re-dispatched worker finishes the replayed phase; only its fresh
	// task may be open, or the completion can never close the phase.
	require.NoError(t, h.engine.ProcessSignal(ctx, signalFor(PhaseSpecification, "sig-3", "a.md")))

	project, err := h.engine.Project("demo")
	require.NoError(t, err)
	assert.Equal(t, PhaseArchitecture, project.CurrentPhase)
}

func TestIntentModifyRetriesExhaustIntoEscalation(t *testing.T) {
	vectors := map[string][]float32{
		"no schema migrations this sprint": {1, 0, 0},
		"add an index to the users table":  {0.2, 0.98, 0},
	}
	h := newHarness(t, harnessOptions{
		vectors: vectors,
		intentEntries: []intent.Entry{
			{Kind: intent.KindAntiGoal, Text: "no schema migrations this sprint", Source: intent.SourceExplicit},
		},
	})
	ctx := context.Background()

	_, err := h.engine.SubmitGoal(ctx, "demo", "build an API")
	require.NoError(t, err)
	h.resolver["idx.md"] = "add an index to the users table"

	// The first two MODIFY verdicts re-instruct the worker.
	for i := 1; i <= 2; i++ {
		err = h.engine.ProcessSignal(ctx, signalFor(PhaseGoalClarification, fmt.Sprintf("sig-%d", i), "idx.md"))
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Empty(t, h.queue.Pending())
	}
	assert.Equal(t, 3, h.sink.count()) // initial dispatch plus two re-instructions

	// The third exhausts the budget and escalates instead of looping.
	err = h.engine.ProcessSignal(ctx, signalFor(PhaseGoalClarification, "sig-3", "idx.md"))
	require.Error(t, err)
	assert.True(t, IsIntentConflict(err))
	assert.Equal(t, 3, h.sink.count())

	pending := h.queue.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, "intent", pending[0].Gate)
	assert.Contains(t, pending[0].Reason, "modification")

	project, err := h.engine.Project("demo")
	require.NoError(t, err)
	assert.Equal(t, PhaseGoalClarification, project.CurrentPhase)
}

func TestIntentEscalationApprovalRunsReview(t *testing.T) {
	vectors := map[string][]float32{
		"no paid dependencies":          {1, 0, 0},
		"integrate the stripe paid sdk": {0.9, 0.436, 0},
	}
	h := newHarness(t, harnessOptions{
		vectors:    vectors,
		gateScores: map[string]float64{"integrate the stripe paid sdk": 0.2},
		maxRetries: 2,
		remediate:  sameArtifactRemediator{},
		intentEntries: []intent.Entry{
			{Kind: intent.KindAntiGoal, Text: "no paid dependencies", Source: intent.SourceExplicit},
		},
	})
	ctx := context.Background()

	_, err := h.engine.SubmitGoal(ctx, "demo", "build an API")
	require.NoError(t, err)
	h.resolver["paid.md"] = "integrate the stripe paid sdk"

	err = h.engine.ProcessSignal(ctx, signalFor(PhaseGoalClarification, "sig-1", "paid.md"))
	require.Error(t, err)
	require.True(t, IsIntentConflict(err))

	pending := h.queue.Pending()
	require.Len(t, pending, 1)
	require.Equal(t, "intent", pending[0].Gate)

	// Approval clears the conflict, not the gates: the artifact still has
	// to pass review, and here it does not.
	err = h.engine.ResolveEscalation(ctx, pending[0].ID, true)
	require.Error(t, err)
	assert.True(t, IsEscalation(err))

	project, err := h.engine.Project("demo")
	require.NoError(t, err)
	assert.Equal(t, PhaseGoalClarification, project.CurrentPhase)

	pending = h.queue.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, "safety", pending[0].Gate)
}

func TestIntentEscalationApprovalAdvancesWhenReviewPasses(t *testing.T) {
	vectors := map[string][]float32{
		"no paid dependencies":          {1, 0, 0},
		"integrate the stripe paid sdk": {0.9, 0.436, 0},
	}
	h := newHarness(t, harnessOptions{
		vectors: vectors,
		intentEntries: []intent.Entry{
			{Kind: intent.KindAntiGoal, Text: "no paid dependencies", Source: intent.SourceExplicit},
		},
	})
	ctx := context.Background()

	_, err := h.engine.SubmitGoal(ctx, "demo", "build an API")
	require.NoError(t, err)
	h.resolver["paid.md"] = "integrate the stripe paid sdk"

	err = h.engine.ProcessSignal(ctx, signalFor(PhaseGoalClarification, "sig-1", "paid.md"))
	require.Error(t, err)

	pending := h.queue.Pending()
	require.Len(t, pending, 1)
	require.NoError(t, h.engine.ResolveEscalation(ctx, pending[0].ID, true))

	project, err := h.engine.Project("demo")
	require.NoError(t, err)
	assert.Equal(t, PhaseSpecification, project.CurrentPhase)
	assert.Empty(t, h.queue.Pending())
}

func TestNamespaceRejectsPathCharacters(t *testing.T) {
	for _, namespace := range []string{"demo", "team-a.project_1", "ns42"} {
		assert.True(t, ValidNamespace(namespace), namespace)
	}
	for _, namespace := range []string{"..", "../etc", "a/b", `a\b`, ".hidden", "a..b", "ns with space"} {
		assert.False(t, ValidNamespace(namespace), namespace)
	}

	signal := signalFor(PhaseGoalClarification, "sig-1", "a.md")
	signal.Namespace = "../../escape"
	assert.Error(t, signal.Validate())

	h := newHarness(t, harnessOptions{})
	_, err := h.engine.SubmitGoal(context.Background(), "../escape", "build an API")
	assert.Error(t, err)
}

func TestOpenTasksBlockSuccessRecording(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	ctx := context.Background()

	_, err := h.engine.SubmitGoal(ctx, "demo", "build an API")
	require.NoError(t, err)
	// A second worker is still busy on the same phase.
	h.engine.tasks.Add("demo", PhaseGoalClarification, "goal-clarifier-basic", nil)
	h.resolver["a.md"] = "clarified goal with error handling"

	err = h.engine.ProcessSignal(ctx, signalFor(PhaseGoalClarification, "sig-1", "a.md"))
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)

	project, err := h.engine.Project("demo")
	require.NoError(t, err)
	assert.Equal(t, PhaseGoalClarification, project.CurrentPhase)
	// No success pattern lands while the phase is held open.
	assert.Zero(t, h.patterns.count())
}
