package intent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// stubEmbedder returns fixed vectors per exact string so alignment
// similarities are fully controlled.
type stubEmbedder struct {
	vectors map[string][]float32
}

func (s *stubEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = s.lookup(t)
	}
	return out, nil
}

func (s *stubEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	return s.lookup(text), nil
}

func (s *stubEmbedder) lookup(text string) []float32 {
	if v, ok := s.vectors[text]; ok {
		return v
	}
	return []float32{0, 0, 1}
}

func (s *stubEmbedder) Dimension() int { return 3 }
func (s *stubEmbedder) Close() error   { return nil }

func newTestTracker(t *testing.T, vectors map[string][]float32) *Tracker {
	t.Helper()
	tracker, err := NewTracker(&stubEmbedder{vectors: vectors}, Config{}, zap.NewNop())
	require.NoError(t, err)
	return tracker
}

func TestRecordIntentBuildsModel(t *testing.T) {
	tracker := newTestTracker(t, nil)
	ctx := context.Background()

	require.NoError(t, tracker.RecordIntent(ctx, "demo", Entry{Kind: KindGoal, Text: "build an API", Source: SourceExplicit}))
	require.NoError(t, tracker.RecordIntent(ctx, "demo", Entry{Kind: KindAntiGoal, Text: "no paid dependencies", Source: SourceExplicit}))
	require.NoError(t, tracker.RecordIntent(ctx, "demo", Entry{Kind: KindConstraint, Text: "keep responses under 100ms", Source: SourceInferred}))

	model, err := tracker.Model("demo")
	require.NoError(t, err)
	assert.Len(t, model.Goals, 1)
	assert.Len(t, model.AntiGoals, 1)
	assert.Len(t, model.Constraints, 1)
	assert.InDelta(t, 0.8, model.ConfidenceScore, 1e-9) // (1.0 + 1.0 + 0.4) / 3
}

func TestRecordIntentValidation(t *testing.T) {
	tracker := newTestTracker(t, nil)
	ctx := context.Background()

	assert.ErrorIs(t, tracker.RecordIntent(ctx, "demo", Entry{Kind: KindGoal, Source: SourceExplicit}), ErrInvalidEntry)
	assert.Error(t, tracker.RecordIntent(ctx, "", Entry{Kind: KindGoal, Text: "x", Source: SourceExplicit}))
	assert.Error(t, tracker.RecordIntent(ctx, "demo", Entry{Kind: KindGoal, Text: "x", Source: "hearsay"}))
}

func TestInferenceCannotOverwriteExplicit(t *testing.T) {
	tracker := newTestTracker(t, nil)
	ctx := context.Background()

	require.NoError(t, tracker.RecordIntent(ctx, "demo", Entry{Kind: KindGoal, Text: "build an API", Source: SourceExplicit}))
	require.NoError(t, tracker.RecordIntent(ctx, "demo", Entry{Kind: KindGoal, Text: "Build an API", Source: SourceInferred}))

	model, err := tracker.Model("demo")
	require.NoError(t, err)
	require.Len(t, model.Goals, 1)
	assert.Equal(t, SourceExplicit, model.Goals[0].Source)

	// The other direction upgrades.
	require.NoError(t, tracker.RecordIntent(ctx, "demo", Entry{Kind: KindAntiGoal, Text: "no paid dependencies", Source: SourceInferred}))
	require.NoError(t, tracker.RecordIntent(ctx, "demo", Entry{Kind: KindAntiGoal, Text: "no paid dependencies", Source: SourceCustomAnswer}))

	model, err = tracker.Model("demo")
	require.NoError(t, err)
	require.Len(t, model.AntiGoals, 1)
	assert.Equal(t, SourceCustomAnswer, model.AntiGoals[0].Source)
}

func TestValidateAlignmentProceedsWithoutIntent(t *testing.T) {
	tracker := newTestTracker(t, nil)

	verdict, err := tracker.ValidateAlignment(context.Background(), "unknown", "do anything")
	require.NoError(t, err)
	assert.Equal(t, Proceed, verdict.Decision)
}

func TestValidateAlignmentStopsOnAntiGoal(t *testing.T) {
	// The proposed action sits close to the explicit anti-goal; inferred
	// goals favoring it do not matter.
	vectors := map[string][]float32{
		"no paid dependencies":                    {1, 0, 0},
		"add the stripe paid dependency":          {0.9, 0.436, 0},
		"ship billing as fast as possible":        {0.8, 0.6, 0},
		"integrate with a payment provider today": {0.85, 0.527, 0},
	}
	tracker := newTestTracker(t, vectors)
	ctx := context.Background()

	require.NoError(t, tracker.RecordIntent(ctx, "demo", Entry{Kind: KindAntiGoal, Text: "no paid dependencies", Source: SourceExplicit}))
	require.NoError(t, tracker.RecordIntent(ctx, "demo", Entry{Kind: KindGoal, Text: "ship billing as fast as possible", Source: SourceInferred}))
	require.NoError(t, tracker.RecordIntent(ctx, "demo", Entry{Kind: KindGoal, Text: "integrate with a payment provider today", Source: SourceInferred}))

	verdict, err := tracker.ValidateAlignment(ctx, "demo", "add the stripe paid dependency")
	require.NoError(t, err)
	assert.Equal(t, Stop, verdict.Decision)
	assert.Contains(t, verdict.Reason, "no paid dependencies")
}

func TestValidateAlignmentExplicitGoalOutranksInferredBlocker(t *testing.T) {
	vectors := map[string][]float32{
		"avoid external services":     {1, 0, 0},
		"call the partner webhook":    {0.9, 0.436, 0},
		"notify partners of releases": {0.9, 0.436, 0},
	}
	tracker := newTestTracker(t, vectors)
	ctx := context.Background()

	require.NoError(t, tracker.RecordIntent(ctx, "demo", Entry{Kind: KindAntiGoal, Text: "avoid external services", Source: SourceInferred}))
	require.NoError(t, tracker.RecordIntent(ctx, "demo", Entry{Kind: KindGoal, Text: "notify partners of releases", Source: SourceExplicit}))

	verdict, err := tracker.ValidateAlignment(ctx, "demo", "call the partner webhook")
	require.NoError(t, err)
	assert.Equal(t, Modify, verdict.Decision)
	assert.NotEmpty(t, verdict.Suggestion)
}

func TestValidateAlignmentModifyNearBlocker(t *testing.T) {
	vectors := map[string][]float32{
		"no schema migrations this sprint": {1, 0, 0},
		"add an index to the users table":  {0.2, 0.98, 0},
	}
	tracker := newTestTracker(t, vectors)
	ctx := context.Background()

	require.NoError(t, tracker.RecordIntent(ctx, "demo", Entry{Kind: KindConstraint, Text: "no schema migrations this sprint", Source: SourceExplicit}))

	verdict, err := tracker.ValidateAlignment(ctx, "demo", "add an index to the users table")
	require.NoError(t, err)
	assert.Equal(t, Modify, verdict.Decision)
	assert.Contains(t, verdict.Reason, "no schema migrations this sprint")
}

func TestValidateAlignmentModifyWhenOffGoal(t *testing.T) {
	vectors := map[string][]float32{
		"build an API":         {1, 0, 0},
		"redesign the logo":    {-0.9, 0.436, 0},
		"add a users endpoint": {0.95, 0.312, 0},
	}
	tracker := newTestTracker(t, vectors)
	ctx := context.Background()

	require.NoError(t, tracker.RecordIntent(ctx, "demo", Entry{Kind: KindGoal, Text: "build an API", Source: SourceExplicit}))

	offGoal, err := tracker.ValidateAlignment(ctx, "demo", "redesign the logo")
	require.NoError(t, err)
	assert.Equal(t, Modify, offGoal.Decision)

	onGoal, err := tracker.ValidateAlignment(ctx, "demo", "add a users endpoint")
	require.NoError(t, err)
	assert.Equal(t, Proceed, onGoal.Decision)
}

func TestSnapshotRestore(t *testing.T) {
	dir := t.TempDir()
	config := Config{SnapshotDir: dir}

	tracker, err := NewTracker(&stubEmbedder{}, config, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, tracker.RecordIntent(context.Background(), "demo", Entry{Kind: KindGoal, Text: "build an API", Source: SourceExplicit}))

	restored, err := NewTracker(&stubEmbedder{}, config, zap.NewNop())
	require.NoError(t, err)

	model, err := restored.Model("demo")
	require.NoError(t, err)
	require.Len(t, model.Goals, 1)
	assert.Equal(t, "build an API", model.Goals[0].Text)
}

func TestConfigValidate(t *testing.T) {
	bad := Config{StopThreshold: 0.5, ModifyThreshold: 0.8, MisalignFloor: 0.3}
	assert.Error(t, bad.Validate())

	bad = Config{StopThreshold: 1.5, ModifyThreshold: 0.5, MisalignFloor: 0.3}
	assert.Error(t, bad.Validate())
}
