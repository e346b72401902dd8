package review

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/conductord/internal/embeddings"
	"github.com/fyrsmithlabs/conductord/internal/triangulate"
)

// contentViewpoint scores by artifact content so tests can flip a gate's
// verdict through remediation.
type contentViewpoint struct {
	name   string
	scores map[string]float64
	calls  *atomic.Int64
}

func (v contentViewpoint) Name() string    { return v.name }
func (v contentViewpoint) Weight() float64 { return 1 }

func (v contentViewpoint) Evaluate(_ context.Context, in triangulate.Input) (triangulate.Evaluation, error) {
	if v.calls != nil {
		v.calls.Add(1)
	}
	score, ok := v.scores[in.Artifact.Content]
	if !ok {
		score = 0.9
	}
	var issues []string
	if score < 0.6 {
		issues = []string{"content rejected"}
	}
	return triangulate.Evaluation{Score: score, Issues: issues}, nil
}

// rewriteRemediator replaces the artifact content with a fixed revision.
type rewriteRemediator struct {
	revision string
	calls    atomic.Int64
	err      error
}

func (r *rewriteRemediator) Remediate(_ context.Context, _ FixInstruction, artifact triangulate.Artifact) (triangulate.Artifact, error) {
	r.calls.Add(1)
	if r.err != nil {
		return triangulate.Artifact{}, r.err
	}
	artifact.Content = r.revision
	return artifact, nil
}

func testGate(t *testing.T, name string, vp triangulate.Viewpoint) Gate {
	t.Helper()
	engine, err := triangulate.NewEngine([]triangulate.Viewpoint{vp}, triangulate.Config{}, nil, zap.NewNop())
	require.NoError(t, err)
	return Gate{Name: name, Engine: engine}
}

func testInput(content string) triangulate.Input {
	return triangulate.Input{
		Artifact: triangulate.Artifact{Ref: "artifact-1", Phase: "specification", Content: content},
	}
}

func TestReviewAllGatesPass(t *testing.T) {
	chain, err := NewChain([]Gate{
		testGate(t, "safety", contentViewpoint{name: "v1"}),
		testGate(t, "robustness", contentViewpoint{name: "v2"}),
		testGate(t, "final-critique", contentViewpoint{name: "v3"}),
	}, nil, Config{}, zap.NewNop())
	require.NoError(t, err)

	results, err := chain.Review(context.Background(), testInput("fine"))
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, []string{"safety", "robustness", "final-critique"},
		[]string{results[0].GateName, results[1].GateName, results[2].GateName})
	for _, r := range results {
		assert.True(t, r.Passed)
		assert.Equal(t, 0, r.RetryCount)
		assert.Equal(t, "artifact-1", r.ArtifactRef)
	}
}

func TestReviewGatePassesAfterRemediation(t *testing.T) {
	vp := contentViewpoint{name: "v", scores: map[string]float64{"bad": 0.2, "good": 0.9}}
	remediator := &rewriteRemediator{revision: "good"}

	chain, err := NewChain([]Gate{
		testGate(t, "safety", vp),
		testGate(t, "robustness", vp),
	}, remediator, Config{MaxRetries: 2}, zap.NewNop())
	require.NoError(t, err)

	results, err := chain.Review(context.Background(), testInput("bad"))
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.True(t, results[0].Passed)
	assert.Equal(t, 1, results[0].RetryCount)
	assert.Equal(t, int64(1), remediator.calls.Load())

	// The revised artifact carries forward to the next gate.
	assert.True(t, results[1].Passed)
	assert.Equal(t, 0, results[1].RetryCount)
}

func TestReviewEscalatesAfterRetriesExhausted(t *testing.T) {
	var laterGateCalls atomic.Int64
	failing := contentViewpoint{name: "v", scores: map[string]float64{"bad": 0.2}}
	later := contentViewpoint{name: "later", calls: &laterGateCalls}
	remediator := &rewriteRemediator{revision: "bad"}

	chain, err := NewChain([]Gate{
		testGate(t, "safety", failing),
		testGate(t, "robustness", later),
	}, remediator, Config{MaxRetries: 2}, zap.NewNop())
	require.NoError(t, err)

	results, err := chain.Review(context.Background(), testInput("bad"))

	var escalation *EscalationError
	require.ErrorAs(t, err, &escalation)
	assert.Equal(t, "safety", escalation.GateName)
	assert.Equal(t, 2, escalation.Attempts)
	assert.NotEmpty(t, escalation.Issues)

	require.Len(t, results, 1)
	assert.False(t, results[0].Passed)
	assert.Equal(t, 1, results[0].RetryCount)

	// The later gate never saw the failed artifact.
	assert.Equal(t, int64(0), laterGateCalls.Load())
}

func TestReviewWithoutRemediatorEscalatesOnFirstFailure(t *testing.T) {
	failing := contentViewpoint{name: "v", scores: map[string]float64{"bad": 0.2}}
	chain, err := NewChain([]Gate{testGate(t, "safety", failing)}, nil, Config{MaxRetries: 2}, zap.NewNop())
	require.NoError(t, err)

	_, err = chain.Review(context.Background(), testInput("bad"))

	var escalation *EscalationError
	require.ErrorAs(t, err, &escalation)
	assert.Equal(t, 1, escalation.Attempts)
}

func TestReviewRemediationErrorEscalates(t *testing.T) {
	failing := contentViewpoint{name: "v", scores: map[string]float64{"bad": 0.2}}
	remediator := &rewriteRemediator{err: errors.New("executor unreachable")}

	chain, err := NewChain([]Gate{testGate(t, "safety", failing)}, remediator, Config{MaxRetries: 3}, zap.NewNop())
	require.NoError(t, err)

	_, err = chain.Review(context.Background(), testInput("bad"))

	var escalation *EscalationError
	require.ErrorAs(t, err, &escalation)
	assert.Equal(t, 1, escalation.Attempts)
}

func TestDefaultGatesOrder(t *testing.T) {
	embedder, err := embeddings.NewLocal(64)
	require.NoError(t, err)

	gates, err := DefaultGates(embedder, triangulate.Config{}, nil, zap.NewNop())
	require.NoError(t, err)
	require.Len(t, gates, 4)

	names := make([]string, len(gates))
	for i, g := range gates {
		names[i] = g.Name
	}
	assert.Equal(t, []string{"safety", "robustness", "resilience", "final-critique"}, names)
}

func TestNewChainValidation(t *testing.T) {
	_, err := NewChain(nil, nil, Config{}, zap.NewNop())
	assert.Error(t, err)

	_, err = NewChain([]Gate{testGate(t, "safety", contentViewpoint{name: "v"})}, nil, Config{MaxRetries: -1}, zap.NewNop())
	assert.Error(t, err)
}
