// Package embeddings provides text embedding providers for the pattern store.
//
// Two providers are available: a deterministic local hashing embedder that
// needs no external service, and a client for a text-embeddings-inference
// (TEI) HTTP server for real model embeddings.
package embeddings

import (
	"context"
	"fmt"
)

// Provider generates vector embeddings from text.
type Provider interface {
	// EmbedDocuments embeds a batch of documents for storage.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedQuery embeds a single query string for search.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)

	// Dimension returns the embedding vector dimension.
	Dimension() int

	// Close releases provider resources.
	Close() error
}

// Config selects and configures a provider.
type Config struct {
	// Provider is "local" or "tei".
	Provider string

	// Model is the model name passed to remote providers.
	Model string

	// BaseURL is the TEI server endpoint.
	BaseURL string

	// Dimension is the embedding vector dimension.
	Dimension int
}

// New constructs the configured provider.
func New(cfg Config) (Provider, error) {
	switch cfg.Provider {
	case "local":
		return NewLocal(cfg.Dimension)
	case "tei":
		return NewTEI(cfg.BaseURL, cfg.Dimension)
	default:
		return nil, fmt.Errorf("unknown embeddings provider: %q", cfg.Provider)
	}
}
