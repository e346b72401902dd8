package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/conductord/internal/embeddings"
)

// Config holds the alignment thresholds. Similarities are cosine mapped to
// [0,1].
type Config struct {
	// StopThreshold is the anti-goal similarity above which an action is
	// blocked outright.
	StopThreshold float64
	// ModifyThreshold is the anti-goal similarity above which an action
	// needs adjustment.
	ModifyThreshold float64
	// MisalignFloor is the minimum goal similarity; below it an action is
	// flagged as drifting from the stated goals.
	MisalignFloor float64
	// SnapshotDir persists one JSON model per namespace. Empty disables
	// persistence.
	SnapshotDir string
}

// ApplyDefaults fills zero thresholds with conservative defaults.
func (c *Config) ApplyDefaults() {
	if c.StopThreshold == 0 {
		c.StopThreshold = 0.7
	}
	if c.ModifyThreshold == 0 {
		c.ModifyThreshold = 0.55
	}
	if c.MisalignFloor == 0 {
		c.MisalignFloor = 0.3
	}
}

// Validate checks threshold ordering.
func (c *Config) Validate() error {
	for name, v := range map[string]float64{
		"stop threshold":   c.StopThreshold,
		"modify threshold": c.ModifyThreshold,
		"misalign floor":   c.MisalignFloor,
	} {
		if v <= 0 || v >= 1 {
			return fmt.Errorf("intent: %s must be in (0,1)", name)
		}
	}
	if c.ModifyThreshold > c.StopThreshold {
		return fmt.Errorf("intent: modify threshold must not exceed stop threshold")
	}
	return nil
}

// Tracker maintains per-namespace intent models and validates proposed
// actions against them. Safe for concurrent use.
type Tracker struct {
	embedder embeddings.Provider
	config   Config
	logger   *zap.Logger

	mu      sync.RWMutex
	models  map[string]*Model
	vectors map[string][]float32
}

// NewTracker builds a tracker, restoring any snapshots found in the
// configured directory.
func NewTracker(embedder embeddings.Provider, config Config, logger *zap.Logger) (*Tracker, error) {
	if embedder == nil {
		return nil, fmt.Errorf("intent: embedder required")
	}
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	t := &Tracker{
		embedder: embedder,
		config:   config,
		logger:   logger,
		models:   make(map[string]*Model),
		vectors:  make(map[string][]float32),
	}
	if config.SnapshotDir != "" {
		if err := t.restore(); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// RecordIntent appends an entry to the namespace's model. A repeated entry
// (same kind and text) is upgraded when the new source carries at least the
// old weight; inference alone never overwrites an explicit or custom-answer
// entry.
func (t *Tracker) RecordIntent(ctx context.Context, namespace string, entry Entry) error {
	if namespace == "" {
		return fmt.Errorf("intent: namespace required")
	}
	if err := entry.Validate(); err != nil {
		return err
	}
	if entry.At.IsZero() {
		entry.At = time.Now().UTC()
	}

	// Warm the embedding cache outside the lock.
	if _, err := t.vector(ctx, entry.Text); err != nil {
		return fmt.Errorf("intent: embedding entry: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	model, ok := t.models[namespace]
	if !ok {
		model = &Model{Namespace: namespace}
		t.models[namespace] = model
	}

	bucket := model.bucket(entry.Kind)
	replaced := false
	for i, existing := range *bucket {
		if !sameText(existing.Text, entry.Text) {
			continue
		}
		if entry.Source.Weight() < existing.Source.Weight() {
			t.logger.Debug("intent: keeping higher-weight entry",
				zap.String("namespace", namespace),
				zap.String("text", existing.Text),
				zap.String("kept", string(existing.Source)),
				zap.String("ignored", string(entry.Source)))
			return nil
		}
		(*bucket)[i] = entry
		replaced = true
		break
	}
	if !replaced {
		*bucket = append(*bucket, entry)
	}
	model.ConfidenceScore = modelConfidence(model)

	entriesTotal.WithLabelValues(string(entry.Kind), string(entry.Source)).Inc()
	return t.saveLocked(model)
}

// ValidateAlignment checks a proposed action against the namespace's goals,
// anti-goals, and constraints. An unknown namespace proceeds: nothing has
// been recorded to conflict with.
func (t *Tracker) ValidateAlignment(ctx context.Context, namespace, proposedAction string) (Verdict, error) {
	if strings.TrimSpace(proposedAction) == "" {
		return Verdict{}, fmt.Errorf("intent: proposed action required")
	}

	t.mu.RLock()
	model, ok := t.models[namespace]
	var goals, blockers []Entry
	if ok {
		goals = append(goals, model.Goals...)
		blockers = append(blockers, model.AntiGoals...)
		blockers = append(blockers, model.Constraints...)
	}
	t.mu.RUnlock()

	if !ok || (len(goals) == 0 && len(blockers) == 0) {
		verdictsTotal.WithLabelValues(string(Proceed)).Inc()
		return Verdict{Decision: Proceed, Reason: "no recorded intent"}, nil
	}

	actionVec, err := t.vector(ctx, proposedAction)
	if err != nil {
		return Verdict{}, fmt.Errorf("intent: embedding action: %w", err)
	}

	bestGoal, goalSim, err := t.closest(ctx, goals, actionVec)
	if err != nil {
		return Verdict{}, err
	}
	bestBlock, blockSim, err := t.closest(ctx, blockers, actionVec)
	if err != nil {
		return Verdict{}, err
	}

	verdict := t.judge(bestGoal, goalSim, bestBlock, blockSim, len(goals) > 0)
	verdictsTotal.WithLabelValues(string(verdict.Decision)).Inc()

	if verdict.Decision != Proceed {
		t.logger.Info("intent: alignment check flagged action",
			zap.String("namespace", namespace),
			zap.String("decision", string(verdict.Decision)),
			zap.String("reason", verdict.Reason))
	}
	return verdict, nil
}

// judge applies the threshold rules. Explicit and custom-answer entries
// dominate inferred ones when a goal and a blocker are both close.
func (t *Tracker) judge(bestGoal Entry, goalSim float64, bestBlock Entry, blockSim float64, hasGoals bool) Verdict {
	if blockSim >= t.config.StopThreshold {
		// An explicit goal can outrank an inferred blocker, but never
		// the other way around.
		if goalSim >= blockSim && bestGoal.Source.Weight() > bestBlock.Source.Weight() {
			return Verdict{
				Decision:   Modify,
				Reason:     fmt.Sprintf("action is close to %s %q but an explicit goal outranks it", bestBlock.Kind, bestBlock.Text),
				Suggestion: fmt.Sprintf("rework the action to satisfy %q without touching %q", bestGoal.Text, bestBlock.Text),
			}
		}
		return Verdict{
			Decision: Stop,
			Reason:   fmt.Sprintf("action conflicts with %s %q (source %s)", bestBlock.Kind, bestBlock.Text, bestBlock.Source),
		}
	}
	if blockSim >= t.config.ModifyThreshold {
		return Verdict{
			Decision:   Modify,
			Reason:     fmt.Sprintf("action is adjacent to %s %q", bestBlock.Kind, bestBlock.Text),
			Suggestion: fmt.Sprintf("adjust the action to stay clear of %q", bestBlock.Text),
		}
	}
	if hasGoals && goalSim < t.config.MisalignFloor {
		return Verdict{
			Decision:   Modify,
			Reason:     "action does not relate to any recorded goal",
			Suggestion: fmt.Sprintf("tie the action back to %q", bestGoal.Text),
		}
	}
	return Verdict{Decision: Proceed}
}

// Model returns a copy of the namespace's intent model.
func (t *Tracker) Model(namespace string) (Model, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	model, ok := t.models[namespace]
	if !ok {
		return Model{}, ErrUnknownNamespace
	}
	copied := *model
	copied.Goals = append([]Entry(nil), model.Goals...)
	copied.AntiGoals = append([]Entry(nil), model.AntiGoals...)
	copied.Constraints = append([]Entry(nil), model.Constraints...)
	return copied, nil
}

// closest finds the entry most similar to the action vector.
func (t *Tracker) closest(ctx context.Context, entries []Entry, actionVec []float32) (Entry, float64, error) {
	var best Entry
	bestSim := -1.0
	for _, entry := range entries {
		vec, err := t.vector(ctx, entry.Text)
		if err != nil {
			return Entry{}, 0, fmt.Errorf("intent: embedding entry: %w", err)
		}
		sim := similarityScore(actionVec, vec)
		if sim > bestSim || (sim == bestSim && entry.Source.Weight() > best.Source.Weight()) {
			best = entry
			bestSim = sim
		}
	}
	if bestSim < 0 {
		bestSim = 0
	}
	return best, bestSim, nil
}

// vector embeds text with a small cache keyed by the exact string.
func (t *Tracker) vector(ctx context.Context, text string) ([]float32, error) {
	t.mu.RLock()
	vec, ok := t.vectors[text]
	t.mu.RUnlock()
	if ok {
		return vec, nil
	}

	vec, err := t.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	t.vectors[text] = vec
	t.mu.Unlock()
	return vec, nil
}

func (m *Model) bucket(kind Kind) *[]Entry {
	switch kind {
	case KindGoal:
		return &m.Goals
	case KindAntiGoal:
		return &m.AntiGoals
	default:
		return &m.Constraints
	}
}

// modelConfidence averages the source weights of all entries.
func modelConfidence(m *Model) float64 {
	entries := m.entries()
	if len(entries) == 0 {
		return 0
	}
	var sum float64
	for _, e := range entries {
		sum += e.Source.Weight()
	}
	return sum / float64(len(entries))
}

func sameText(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

// similarityScore maps cosine similarity to [0,1].
func similarityScore(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	cos := dot / (math.Sqrt(na) * math.Sqrt(nb))
	return (cos + 1) / 2
}

// saveLocked snapshots one model. Callers hold t.mu.
func (t *Tracker) saveLocked(model *Model) error {
	if t.config.SnapshotDir == "" {
		return nil
	}
	if err := os.MkdirAll(t.config.SnapshotDir, 0700); err != nil {
		return fmt.Errorf("intent: creating snapshot directory: %w", err)
	}

	data, err := json.MarshalIndent(model, "", "  ")
	if err != nil {
		return fmt.Errorf("intent: encoding model: %w", err)
	}

	path := filepath.Join(t.config.SnapshotDir, model.Namespace+".json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("intent: writing snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("intent: committing snapshot: %w", err)
	}
	return nil
}

// restore loads every snapshot in the directory. Malformed files are
// skipped with a warning.
func (t *Tracker) restore() error {
	entries, err := os.ReadDir(t.config.SnapshotDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("intent: reading snapshot directory: %w", err)
	}

	for _, de := range entries {
		if de.IsDir() || filepath.Ext(de.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(t.config.SnapshotDir, de.Name()))
		if err != nil {
			t.logger.Warn("intent: skipping unreadable snapshot", zap.String("file", de.Name()), zap.Error(err))
			continue
		}
		var model Model
		if err := json.Unmarshal(data, &model); err != nil || model.Namespace == "" {
			t.logger.Warn("intent: skipping malformed snapshot", zap.String("file", de.Name()))
			continue
		}
		t.models[model.Namespace] = &model
	}
	return nil
}
