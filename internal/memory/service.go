package memory

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/conductord/internal/embeddings"
	"github.com/fyrsmithlabs/conductord/internal/patternstore"
)

// patternIDNamespace derives deterministic record IDs, so re-learning the
// same pattern in the same project updates one record instead of piling up
// duplicates.
var patternIDNamespace = uuid.MustParse("76c2e8f4-31a5-4a61-9c36-0fb2a8d1c0de")

// Config holds tunables for boost ranking and confidence updates.
type Config struct {
	// TopK is how many records a boost carries. Default: 5
	TopK int

	// RecencyHalfLife halves a record's rank weight per elapsed period.
	// Default: 30 days
	RecencyHalfLife time.Duration

	// EMAAlpha is the confidence moving-average step. Default: 0.2
	EMAAlpha float64

	// EnhanceTimeout bounds a single enhance call. Default: 5s
	EnhanceTimeout time.Duration
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.TopK == 0 {
		c.TopK = 5
	}
	if c.RecencyHalfLife == 0 {
		c.RecencyHalfLife = 30 * 24 * time.Hour
	}
	if c.EMAAlpha == 0 {
		c.EMAAlpha = 0.2
	}
	if c.EnhanceTimeout == 0 {
		c.EnhanceTimeout = 5 * time.Second
	}
}

// Validate validates the configuration.
func (c Config) Validate() error {
	if c.TopK <= 0 {
		return fmt.Errorf("top_k must be positive")
	}
	if c.EMAAlpha <= 0 || c.EMAAlpha >= 1 {
		return fmt.Errorf("ema_alpha must be in (0,1), got %f", c.EMAAlpha)
	}
	return nil
}

// Service is the memory orchestrator. Enhance never returns an error: store
// outages degrade to an empty boost so task dispatch is never blocked on
// history.
type Service struct {
	store    patternstore.Store
	index    *patternstore.Index
	embedder embeddings.Provider
	config   Config
	logger   *zap.Logger
	now      func() time.Time
}

// NewService creates a memory service over the given store and embedder.
// The index may be nil when retention bookkeeping is handled elsewhere.
func NewService(store patternstore.Store, index *patternstore.Index, embedder embeddings.Provider, config Config, logger *zap.Logger) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("memory: store is required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("memory: embedder is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("memory: %w", err)
	}
	return &Service{
		store:    store,
		index:    index,
		embedder: embedder,
		config:   config,
		logger:   logger,
		now:      time.Now,
	}, nil
}

// Enhance retrieves the top-K learned patterns relevant to a task, ranked by
// confidence weighted by recency decay. It always returns within the
// configured timeout; any failure degrades to an empty boost.
func (s *Service) Enhance(ctx context.Context, workerName, taskType, taskContext string) Boost {
	ctx, cancel := context.WithTimeout(ctx, s.config.EnhanceTimeout)
	defer cancel()

	boost := Boost{WorkerName: workerName, TaskType: taskType}

	query := taskContext
	if query == "" {
		query = taskType
	}
	embedding, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		s.logger.Warn("memory: query embedding failed, returning empty boost",
			zap.String("worker", workerName),
			zap.Error(err))
		boost.Degraded = true
		enhanceTotal.WithLabelValues("degraded").Inc()
		return boost
	}

	tags := boostTags(workerName, taskType)

	// Over-fetch so recency re-ranking has candidates beyond raw
	// similarity order.
	results, err := s.store.Query(ctx, tags, embedding, s.config.TopK*3)
	if err != nil {
		s.logger.Warn("memory: pattern query failed, returning empty boost",
			zap.String("worker", workerName),
			zap.Error(err))
		boost.Degraded = true
		enhanceTotal.WithLabelValues("degraded").Inc()
		return boost
	}

	now := s.now()
	entries := make([]BoostEntry, 0, len(results))
	for _, r := range results {
		decay := recencyDecay(now.Sub(r.Record.UpdatedAt), s.config.RecencyHalfLife)
		entries = append(entries, BoostEntry{
			Record:        r.Record,
			Similarity:    r.Similarity,
			Applicability: clamp01(float64(r.Similarity) * r.Record.ConfidenceScore * decay),
		})
	}

	// Rank by confidence × recency-decay, applicability as tie-break.
	sort.SliceStable(entries, func(i, j int) bool {
		ri := entries[i].Record.ConfidenceScore * recencyDecay(now.Sub(entries[i].Record.UpdatedAt), s.config.RecencyHalfLife)
		rj := entries[j].Record.ConfidenceScore * recencyDecay(now.Sub(entries[j].Record.UpdatedAt), s.config.RecencyHalfLife)
		if ri != rj {
			return ri > rj
		}
		return entries[i].Applicability > entries[j].Applicability
	})
	if len(entries) > s.config.TopK {
		entries = entries[:s.config.TopK]
	}

	boost.Entries = entries
	if boost.Empty() {
		enhanceTotal.WithLabelValues("empty").Inc()
	} else {
		enhanceTotal.WithLabelValues("boost").Inc()
	}
	return boost
}

// Record converts a task outcome into a pattern record. The same pattern
// text in the same namespace updates the existing record: success raises
// confidence toward 1 via an exponential moving average, failure lowers it.
func (s *Service) Record(ctx context.Context, outcome Outcome) error {
	if outcome.Namespace == "" {
		return fmt.Errorf("memory: outcome namespace required")
	}
	if outcome.PatternText == "" {
		return fmt.Errorf("memory: outcome pattern text required")
	}

	completedAt := outcome.CompletedAt
	if completedAt.IsZero() {
		completedAt = s.now()
	}

	embedding, err := s.embedder.EmbedQuery(ctx, outcome.PatternText)
	if err != nil {
		return fmt.Errorf("memory: embedding outcome: %w", err)
	}

	id := patternID(outcome.Namespace, outcome.PatternText)
	tags := boostTags(outcome.WorkerName, outcome.TaskType)

	record := s.lookupExisting(ctx, id, tags, embedding)
	if record == nil {
		record = &patternstore.PatternRecord{
			ID:              id,
			Namespace:       outcome.Namespace,
			Tags:            tags,
			PatternText:     outcome.PatternText,
			ConfidenceScore: 0.5,
			Embedding:       embedding,
			CreatedAt:       completedAt,
		}
	}

	if outcome.Success {
		record.SuccessCount++
		record.ConfidenceScore += s.config.EMAAlpha * (1 - record.ConfidenceScore)
		recordsTotal.WithLabelValues("success").Inc()
	} else {
		record.FailureCount++
		record.ConfidenceScore *= 1 - s.config.EMAAlpha
		recordsTotal.WithLabelValues("failure").Inc()
	}
	record.ConfidenceScore = clamp01(record.ConfidenceScore)
	record.UpdatedAt = completedAt
	record.Embedding = embedding

	if err := s.store.Upsert(ctx, []patternstore.PatternRecord{*record}); err != nil {
		// The fallback store absorbs outages; a surfaced error here is
		// a local failure worth reporting.
		return fmt.Errorf("memory: storing outcome: %w", err)
	}

	if s.index != nil {
		if err := s.index.Put(patternstore.RecordMeta{
			ID:        record.ID,
			Namespace: record.Namespace,
			Tags:      record.Tags,
			CreatedAt: record.CreatedAt,
			UpdatedAt: record.UpdatedAt,
		}); err != nil {
			s.logger.Warn("memory: index update failed", zap.Error(err))
		}
	}

	s.logger.Debug("memory: recorded outcome",
		zap.String("namespace", outcome.Namespace),
		zap.String("worker", outcome.WorkerName),
		zap.Bool("success", outcome.Success),
		zap.Float64("confidence", record.ConfidenceScore))
	return nil
}

// lookupExisting finds the prior version of a record by its deterministic ID
// via similarity search. Store outages silently yield nil: the outcome is
// then recorded fresh and the duplicate collapses on a later upsert.
func (s *Service) lookupExisting(ctx context.Context, id string, tags []string, embedding []float32) *patternstore.PatternRecord {
	results, err := s.store.Query(ctx, tags, embedding, 5)
	if err != nil {
		return nil
	}
	for _, r := range results {
		if r.Record.ID == id {
			rec := r.Record
			rec.Embedding = embedding
			return &rec
		}
	}
	return nil
}

// patternID derives a stable UUID from namespace and pattern text.
func patternID(namespace, patternText string) string {
	return uuid.NewSHA1(patternIDNamespace, []byte(namespace+"\x00"+patternText)).String()
}

// boostTags builds the retrieval tag set for a worker and task type.
func boostTags(workerName, taskType string) []string {
	tags := make([]string, 0, 2)
	if taskType != "" {
		tags = append(tags, normalizeTag(taskType))
	}
	if workerName != "" {
		tags = append(tags, normalizeTag(workerName))
	}
	return tags
}

func normalizeTag(s string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), " ", "-"))
}

// recencyDecay returns 0.5^(age/halfLife), clamped to [0,1].
func recencyDecay(age, halfLife time.Duration) float64 {
	if halfLife <= 0 || age <= 0 {
		return 1
	}
	return math.Pow(0.5, float64(age)/float64(halfLife))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
