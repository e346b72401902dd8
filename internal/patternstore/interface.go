// Package patternstore provides durable, tag-indexed storage for learned
// patterns, with a local fallback when the remote store is unavailable.
package patternstore

import (
	"context"
	"errors"
	"fmt"
	"regexp"
)

// Sentinel errors for pattern store operations.
var (
	// ErrStoreUnavailable indicates the remote store is unreachable.
	// Callers recover via the local fallback; this never reaches a user.
	ErrStoreUnavailable = errors.New("pattern store unavailable")

	// ErrInvalidRecord indicates a record failed validation.
	ErrInvalidRecord = errors.New("invalid pattern record")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrInvalidCollectionName indicates collection name validation failure.
	ErrInvalidCollectionName = errors.New("invalid collection name")

	// ErrConnectionFailed indicates gRPC connection issues.
	ErrConnectionFailed = errors.New("failed to connect to Qdrant")

	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("pattern record not found")
)

// collectionNamePattern validates collection names.
// Pattern: lowercase letters, numbers, underscores, 1-64 characters.
var collectionNamePattern = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)

// tagPattern validates tags: lowercase letters, numbers, hyphens, dots.
var tagPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9\-.]{0,63}$`)

// ValidateCollectionName validates a collection name against naming rules.
func ValidateCollectionName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: collection name cannot be empty", ErrInvalidCollectionName)
	}
	if !collectionNamePattern.MatchString(name) {
		return fmt.Errorf("%w: collection name must match ^[a-z0-9_]{1,64}$, got %q", ErrInvalidCollectionName, name)
	}
	return nil
}

// ValidateTag validates a single tag.
func ValidateTag(tag string) error {
	if !tagPattern.MatchString(tag) {
		return fmt.Errorf("%w: tag must match ^[a-z0-9][a-z0-9-.]{0,63}$, got %q", ErrInvalidRecord, tag)
	}
	return nil
}

// Store is the interface for pattern storage operations.
//
// Implementations:
//   - ChromemStore: embedded chromem-go (default, no external service)
//   - QdrantStore: external Qdrant via gRPC
//   - FallbackStore: QdrantStore with ChromemStore fallback and WAL sync
type Store interface {
	// Upsert writes records to the store. Records carry their own
	// precomputed embedding; writing the same ID replaces the record.
	Upsert(ctx context.Context, records []PatternRecord) error

	// Query performs nearest-neighbor search over the given embedding,
	// restricted to records sharing at least one of the given tags.
	// An empty tag list matches all records. Results are ordered by
	// similarity, highest first, at most topK.
	Query(ctx context.Context, tags []string, embedding []float32, topK int) ([]QueryResult, error)

	// Delete removes records by ID. Missing IDs are not an error.
	Delete(ctx context.Context, ids []string) error

	// Close releases store resources.
	Close() error
}
