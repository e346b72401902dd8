package patternstore

import (
	"context"
	"fmt"
	"os"
	"sort"

	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// chromemTracer for OpenTelemetry instrumentation.
var chromemTracer = otel.Tracer("conductord.patternstore.chromem")

// ChromemConfig holds configuration for the embedded chromem-go store.
type ChromemConfig struct {
	// Path is the directory for persistent storage.
	Path string

	// Compress enables gzip compression for stored data.
	Compress bool

	// Collection is the collection name for pattern records.
	// Default: "patterns"
	Collection string
}

// ApplyDefaults sets default values for unset fields.
func (c *ChromemConfig) ApplyDefaults() {
	if c.Collection == "" {
		c.Collection = "patterns"
	}
}

// Validate validates the configuration.
func (c *ChromemConfig) Validate() error {
	if c.Path == "" {
		return fmt.Errorf("%w: path required", ErrInvalidConfig)
	}
	return ValidateCollectionName(c.Collection)
}

// ChromemStore implements Store using chromem-go, an embeddable pure-Go
// vector database with gob persistence. It needs no external service, which
// makes it the local side of the fallback pair and the default for
// single-node deployments.
//
// chromem-go only filters on exact metadata matches, so tag-overlap
// filtering happens here after an over-fetched query.
type ChromemStore struct {
	db     *chromem.DB
	config ChromemConfig
	logger *zap.Logger
}

// NewChromemStore creates a new ChromemStore with the given configuration.
func NewChromemStore(config ChromemConfig, logger *zap.Logger) (*ChromemStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	if err := os.MkdirAll(config.Path, 0o755); err != nil {
		return nil, fmt.Errorf("creating directory %s: %w", config.Path, err)
	}

	db, err := chromem.NewPersistentDB(config.Path, config.Compress)
	if err != nil {
		return nil, fmt.Errorf("creating chromem DB: %w", err)
	}

	store := &ChromemStore{
		db:     db,
		config: config,
		logger: logger,
	}

	logger.Info("chromem pattern store initialized",
		zap.String("path", config.Path),
		zap.Bool("compress", config.Compress),
		zap.String("collection", config.Collection))

	return store, nil
}

// embeddingFunc rejects implicit embedding. All records carry precomputed
// vectors; chromem must never fall back to its default OpenAI embedder.
func embeddingFunc(ctx context.Context, text string) ([]float32, error) {
	return nil, fmt.Errorf("pattern records must carry precomputed embeddings")
}

func (s *ChromemStore) collection() (*chromem.Collection, error) {
	collection, err := s.db.GetOrCreateCollection(s.config.Collection, nil, embeddingFunc)
	if err != nil {
		return nil, fmt.Errorf("getting/creating collection %s: %w", s.config.Collection, err)
	}
	return collection, nil
}

// Upsert writes records to the store.
func (s *ChromemStore) Upsert(ctx context.Context, records []PatternRecord) error {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.Upsert")
	defer span.End()

	span.SetAttributes(attribute.Int("record_count", len(records)))

	if len(records) == 0 {
		return nil
	}

	docs := make([]chromem.Document, len(records))
	for i, rec := range records {
		if err := rec.Validate(); err != nil {
			span.RecordError(err)
			return err
		}
		docs[i] = chromem.Document{
			ID:        rec.ID,
			Content:   rec.PatternText,
			Metadata:  recordToMetadata(rec),
			Embedding: rec.Embedding,
		}
	}

	collection, err := s.collection()
	if err != nil {
		span.RecordError(err)
		return err
	}

	// Concurrency of 1 since embeddings are precomputed.
	if err := collection.AddDocuments(ctx, docs, 1); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("adding records: %w", err)
	}

	span.SetStatus(codes.Ok, "success")
	s.logger.Debug("upserted pattern records", zap.Int("count", len(records)))
	return nil
}

// Query performs similarity search restricted by tag overlap.
func (s *ChromemStore) Query(ctx context.Context, tags []string, embedding []float32, topK int) ([]QueryResult, error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.Query")
	defer span.End()

	span.SetAttributes(
		attribute.Int("top_k", topK),
		attribute.StringSlice("tags", tags),
	)

	if topK <= 0 {
		return nil, fmt.Errorf("topK must be positive, got %d", topK)
	}
	if len(embedding) == 0 {
		return nil, fmt.Errorf("embedding cannot be empty")
	}

	collection, err := s.collection()
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	docCount := collection.Count()
	if docCount == 0 {
		return []QueryResult{}, nil
	}

	// Over-fetch so tag filtering still yields up to topK hits, capped at
	// collection size (chromem requires nResults <= doc count).
	fetchK := topK * 4
	if fetchK > docCount {
		fetchK = docCount
	}

	results, err := collection.QueryEmbedding(ctx, embedding, fetchK, nil, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("querying collection %s: %w", s.config.Collection, err)
	}

	hits := make([]QueryResult, 0, topK)
	for _, r := range results {
		rec := recordFromMetadata(r.ID, r.Content, r.Metadata)
		if !rec.HasAnyTag(tags) {
			continue
		}
		hits = append(hits, QueryResult{Record: rec, Similarity: r.Similarity})
		if len(hits) == topK {
			break
		}
	}

	// chromem returns results ordered by similarity already; keep the
	// contract explicit for the interface.
	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].Similarity > hits[j].Similarity
	})

	span.SetAttributes(attribute.Int("results_count", len(hits)))
	span.SetStatus(codes.Ok, "success")
	return hits, nil
}

// Delete removes records by ID.
func (s *ChromemStore) Delete(ctx context.Context, ids []string) error {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.Delete")
	defer span.End()

	span.SetAttributes(attribute.Int("id_count", len(ids)))

	if len(ids) == 0 {
		return nil
	}

	collection, err := s.collection()
	if err != nil {
		span.RecordError(err)
		return err
	}

	var failures []string
	for _, id := range ids {
		if err := collection.Delete(ctx, nil, nil, id); err != nil {
			s.logger.Warn("failed to delete pattern record",
				zap.String("id", id),
				zap.Error(err))
			failures = append(failures, id)
		}
	}
	if len(failures) > 0 {
		span.SetStatus(codes.Error, "partial deletion failure")
		return fmt.Errorf("failed to delete %d of %d records: %v", len(failures), len(ids), failures)
	}

	span.SetStatus(codes.Ok, "success")
	return nil
}

// Count returns the number of stored records.
func (s *ChromemStore) Count() (int, error) {
	collection, err := s.collection()
	if err != nil {
		return 0, err
	}
	return collection.Count(), nil
}

// Close closes the store. chromem-go persists automatically.
func (s *ChromemStore) Close() error {
	s.logger.Info("chromem pattern store closed")
	return nil
}

// Ensure ChromemStore implements Store.
var _ Store = (*ChromemStore)(nil)
