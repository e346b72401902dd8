package patternstore

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// GlobalNamespace marks records shared across all projects.
const GlobalNamespace = "global"

// PatternRecord is one learned pattern. Records are shared across projects
// but tagged with the originating namespace for provenance. They are never
// hard-deleted by callers; only the retention pruner removes them.
type PatternRecord struct {
	// ID uniquely identifies the record. UUID string.
	ID string

	// Namespace is the originating project, or GlobalNamespace.
	Namespace string

	// Tags index the record for retrieval (e.g. worker name, task type).
	Tags []string

	// PatternText is the learned pattern itself.
	PatternText string

	// ConfidenceScore is in [0,1], adjusted as outcomes accumulate.
	ConfidenceScore float64

	SuccessCount int
	FailureCount int

	// Embedding is the precomputed vector for PatternText.
	Embedding []float32

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Validate checks record fields before storage.
func (r *PatternRecord) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("%w: id required", ErrInvalidRecord)
	}
	if r.Namespace == "" {
		return fmt.Errorf("%w: namespace required", ErrInvalidRecord)
	}
	if r.PatternText == "" {
		return fmt.Errorf("%w: pattern text required", ErrInvalidRecord)
	}
	if r.ConfidenceScore < 0 || r.ConfidenceScore > 1 {
		return fmt.Errorf("%w: confidence score must be in [0,1], got %f", ErrInvalidRecord, r.ConfidenceScore)
	}
	if len(r.Embedding) == 0 {
		return fmt.Errorf("%w: embedding required", ErrInvalidRecord)
	}
	for _, tag := range r.Tags {
		if err := ValidateTag(tag); err != nil {
			return err
		}
	}
	return nil
}

// HasAnyTag reports whether the record shares at least one tag with the
// given set. An empty set matches everything.
func (r *PatternRecord) HasAnyTag(tags []string) bool {
	if len(tags) == 0 {
		return true
	}
	for _, want := range tags {
		for _, have := range r.Tags {
			if want == have {
				return true
			}
		}
	}
	return false
}

// QueryResult is one similarity search hit.
type QueryResult struct {
	Record     PatternRecord
	Similarity float32
}

// recordToMetadata flattens record fields into string metadata for storage
// backends that only index scalar payloads.
func recordToMetadata(r PatternRecord) map[string]string {
	return map[string]string{
		"namespace":     r.Namespace,
		"tags":          strings.Join(r.Tags, ","),
		"confidence":    strconv.FormatFloat(r.ConfidenceScore, 'f', -1, 64),
		"success_count": strconv.Itoa(r.SuccessCount),
		"failure_count": strconv.Itoa(r.FailureCount),
		"created_at":    r.CreatedAt.UTC().Format(time.RFC3339Nano),
		"updated_at":    r.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
}

// recordFromMetadata rebuilds a record from stored metadata. Missing or
// malformed fields degrade to zero values rather than failing the query.
func recordFromMetadata(id, content string, meta map[string]string) PatternRecord {
	r := PatternRecord{
		ID:          id,
		PatternText: content,
		Namespace:   meta["namespace"],
	}
	if tags := meta["tags"]; tags != "" {
		r.Tags = strings.Split(tags, ",")
	}
	if v, err := strconv.ParseFloat(meta["confidence"], 64); err == nil {
		r.ConfidenceScore = v
	}
	if v, err := strconv.Atoi(meta["success_count"]); err == nil {
		r.SuccessCount = v
	}
	if v, err := strconv.Atoi(meta["failure_count"]); err == nil {
		r.FailureCount = v
	}
	if t, err := time.Parse(time.RFC3339Nano, meta["created_at"]); err == nil {
		r.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339Nano, meta["updated_at"]); err == nil {
		r.UpdatedAt = t
	}
	return r
}
