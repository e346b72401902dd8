package triangulate

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/conductord/internal/embeddings"
)

// stubViewpoint returns a fixed evaluation.
type stubViewpoint struct {
	name   string
	weight float64
	score  float64
	issues []string
	err    error
	delay  time.Duration
}

func (s stubViewpoint) Name() string    { return s.name }
func (s stubViewpoint) Weight() float64 { return s.weight }

func (s stubViewpoint) Evaluate(ctx context.Context, _ Input) (Evaluation, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return Evaluation{}, ctx.Err()
		}
	}
	if s.err != nil {
		return Evaluation{}, s.err
	}
	return Evaluation{Score: s.score, Issues: s.issues}, nil
}

func testArtifact() Artifact {
	return Artifact{Ref: "artifact-1", Phase: "specification", Content: "a reasonable artifact body with error handling and validation text"}
}

func TestTriangulateWeightedConsensus(t *testing.T) {
	engine, err := NewEngine([]Viewpoint{
		stubViewpoint{name: "a", weight: 3, score: 0.9},
		stubViewpoint{name: "b", weight: 1, score: 0.7},
	}, Config{}, nil, zap.NewNop())
	require.NoError(t, err)

	result, err := engine.Triangulate(context.Background(), Input{Artifact: testArtifact()})
	require.NoError(t, err)

	assert.InDelta(t, 0.85, result.ConsensusScore, 1e-9) // (3*0.9 + 1*0.7) / 4
	assert.True(t, result.Passed)
	assert.Empty(t, result.UnresolvedConflicts)
	assert.Len(t, result.Viewpoints, 2)
}

func TestTriangulateDeterministic(t *testing.T) {
	viewpoints := []Viewpoint{
		stubViewpoint{name: "a", weight: 1, score: 0.8},
		stubViewpoint{name: "b", weight: 1, score: 0.3},
		stubViewpoint{name: "c", weight: 1, score: 0.65},
	}
	engine, err := NewEngine(viewpoints, Config{}, nil, zap.NewNop())
	require.NoError(t, err)

	first, err := engine.Triangulate(context.Background(), Input{Artifact: testArtifact()})
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := engine.Triangulate(context.Background(), Input{Artifact: testArtifact()})
		require.NoError(t, err)
		assert.Equal(t, first.ConsensusScore, again.ConsensusScore)
		assert.Equal(t, first.UnresolvedConflicts, again.UnresolvedConflicts)
		assert.Equal(t, first.Passed, again.Passed)
	}
}

func TestTriangulateUnresolvedConflictForcesFailure(t *testing.T) {
	// Equal weights, one clearly passing and one clearly failing: a
	// conflict weighting cannot resolve.
	engine, err := NewEngine([]Viewpoint{
		stubViewpoint{name: "optimist", weight: 1, score: 0.95},
		stubViewpoint{name: "pessimist", weight: 1, score: 0.35},
	}, Config{}, nil, zap.NewNop())
	require.NoError(t, err)

	result, err := engine.Triangulate(context.Background(), Input{Artifact: testArtifact()})
	require.NoError(t, err)

	require.Len(t, result.UnresolvedConflicts, 1)
	assert.Equal(t, "optimist", result.UnresolvedConflicts[0].ViewpointA)
	assert.Equal(t, "pessimist", result.UnresolvedConflicts[0].ViewpointB)
	// Consensus alone (0.65) would pass; the unresolved conflict forces failure.
	assert.InDelta(t, 0.65, result.ConsensusScore, 1e-9)
	assert.False(t, result.Passed)
}

func TestTriangulateConflictResolvedByWeight(t *testing.T) {
	engine, err := NewEngine([]Viewpoint{
		stubViewpoint{name: "heavy", weight: 4, score: 0.95},
		stubViewpoint{name: "light", weight: 1, score: 0.2},
	}, Config{}, nil, zap.NewNop())
	require.NoError(t, err)

	result, err := engine.Triangulate(context.Background(), Input{Artifact: testArtifact()})
	require.NoError(t, err)

	assert.Empty(t, result.UnresolvedConflicts)
	assert.True(t, result.Passed)
}

func TestTriangulateSmallSpreadIsNotAConflict(t *testing.T) {
	engine, err := NewEngine([]Viewpoint{
		stubViewpoint{name: "a", weight: 1, score: 0.65},
		stubViewpoint{name: "b", weight: 1, score: 0.55},
	}, Config{}, nil, zap.NewNop())
	require.NoError(t, err)

	result, err := engine.Triangulate(context.Background(), Input{Artifact: testArtifact()})
	require.NoError(t, err)
	assert.Empty(t, result.UnresolvedConflicts)
}

func TestTriangulateTimeoutDegradesToNeutral(t *testing.T) {
	engine, err := NewEngine([]Viewpoint{
		stubViewpoint{name: "fast", weight: 1, score: 0.9},
		stubViewpoint{name: "slow", weight: 1, score: 0.9, delay: time.Second},
	}, Config{ViewpointTimeout: 20 * time.Millisecond}, nil, zap.NewNop())
	require.NoError(t, err)

	result, err := engine.Triangulate(context.Background(), Input{Artifact: testArtifact()})
	require.NoError(t, err)

	var slow ViewpointResult
	for _, vp := range result.Viewpoints {
		if vp.Name == "slow" {
			slow = vp
		}
	}
	assert.True(t, slow.Degraded)
	assert.Equal(t, 0.5, slow.Score)
	assert.InDelta(t, 0.25, slow.Weight, 1e-9)
}

func TestTriangulateEvaluatorErrorDegrades(t *testing.T) {
	engine, err := NewEngine([]Viewpoint{
		stubViewpoint{name: "ok", weight: 1, score: 0.9},
		stubViewpoint{name: "broken", weight: 1, err: errors.New("backend down")},
	}, Config{}, nil, zap.NewNop())
	require.NoError(t, err)

	result, err := engine.Triangulate(context.Background(), Input{Artifact: testArtifact()})
	require.NoError(t, err)

	var broken ViewpointResult
	for _, vp := range result.Viewpoints {
		if vp.Name == "broken" {
			broken = vp
		}
	}
	assert.True(t, broken.Degraded)
	assert.Equal(t, 0.5, broken.Score)
	assert.Contains(t, broken.Issues[0], "evaluation failed")
}

func TestTriangulateRejectsInvalidArtifact(t *testing.T) {
	engine, err := NewEngine([]Viewpoint{stubViewpoint{name: "a", weight: 1, score: 1}}, Config{}, nil, zap.NewNop())
	require.NoError(t, err)

	_, err = engine.Triangulate(context.Background(), Input{Artifact: Artifact{Ref: "x"}})
	assert.ErrorIs(t, err, ErrInvalidArtifact)
}

func TestNewEngineRequiresViewpoints(t *testing.T) {
	_, err := NewEngine(nil, Config{}, nil, zap.NewNop())
	assert.ErrorIs(t, err, ErrNoViewpoints)
}

func TestAuditLogPersistsResults(t *testing.T) {
	audit, err := NewAuditLog(filepath.Join(t.TempDir(), "audit", "triangulations.jsonl"))
	require.NoError(t, err)

	engine, err := NewEngine([]Viewpoint{
		stubViewpoint{name: "a", weight: 1, score: 0.9},
	}, Config{}, audit, zap.NewNop())
	require.NoError(t, err)

	_, err = engine.Triangulate(context.Background(), Input{Artifact: testArtifact()})
	require.NoError(t, err)
	_, err = engine.Triangulate(context.Background(), Input{Artifact: testArtifact()})
	require.NoError(t, err)

	entries, err := audit.Entries()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "artifact-1", entries[0].ArtifactRef)
	assert.Equal(t, "specification", entries[0].Phase)
	assert.True(t, entries[0].Passed)
}

func TestCorrectnessViewpointFlagsPlaceholders(t *testing.T) {
	vp := CorrectnessViewpoint{}

	clean, err := vp.Evaluate(context.Background(), Input{Artifact: testArtifact()})
	require.NoError(t, err)

	dirty, err := vp.Evaluate(context.Background(), Input{Artifact: Artifact{
		Ref: "a", Phase: "implementation",
		Content: "func main() { // TODO finish this\n// FIXME broken\n}",
	}})
	require.NoError(t, err)

	assert.Greater(t, clean.Score, dirty.Score)
	assert.NotEmpty(t, dirty.Issues)
}

func TestSafetyViewpointFlagsHazards(t *testing.T) {
	vp := SafetyViewpoint{}

	bad, err := vp.Evaluate(context.Background(), Input{Artifact: Artifact{
		Ref: "a", Phase: "implementation",
		Content: "cleanup() { rm -rf / }\npassword=hunter2",
	}})
	require.NoError(t, err)
	assert.Less(t, bad.Score, 0.5)
	assert.Len(t, bad.Issues, 2)

	good, err := vp.Evaluate(context.Background(), Input{Artifact: testArtifact()})
	require.NoError(t, err)
	assert.Equal(t, 1.0, good.Score)
}

func TestAlignmentViewpointPrefersOnTopicArtifacts(t *testing.T) {
	embedder, err := embeddings.NewLocal(128)
	require.NoError(t, err)
	vp := AlignmentViewpoint{Embedder: embedder}
	goal := "build an API with user authentication"

	onTopic, err := vp.Evaluate(context.Background(), Input{
		Artifact: Artifact{Ref: "a", Phase: "specification", Content: "the API exposes user authentication endpoints and session handling"},
		Goal:     goal,
	})
	require.NoError(t, err)

	offTopic, err := vp.Evaluate(context.Background(), Input{
		Artifact: Artifact{Ref: "b", Phase: "specification", Content: "recipe for sourdough bread with a long fermentation schedule"},
		Goal:     goal,
	})
	require.NoError(t, err)

	assert.Greater(t, onTopic.Score, offTopic.Score)
}

func TestAlignmentViewpointNeutralWithoutGoal(t *testing.T) {
	embedder, err := embeddings.NewLocal(64)
	require.NoError(t, err)
	vp := AlignmentViewpoint{Embedder: embedder}

	ev, err := vp.Evaluate(context.Background(), Input{Artifact: testArtifact()})
	require.NoError(t, err)
	assert.Equal(t, 0.5, ev.Score)
}
