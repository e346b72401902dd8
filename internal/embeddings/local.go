package embeddings

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// Local is a deterministic hashing embedder. It maps token and character
// n-gram features into a fixed-dimension vector via the hashing trick and
// L2-normalizes the result, so cosine similarity reflects lexical overlap.
// The same text always produces the same vector, which keeps store queries
// and triangulation reproducible without an external model server.
type Local struct {
	dim int
}

// NewLocal creates a local hashing embedder with the given dimension.
func NewLocal(dim int) (*Local, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("embedding dimension must be positive, got %d", dim)
	}
	return &Local{dim: dim}, nil
}

// EmbedDocuments embeds a batch of documents.
func (l *Local) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = l.embed(text)
	}
	return out, nil
}

// EmbedQuery embeds a single query string.
func (l *Local) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return l.embed(text), nil
}

// Dimension returns the embedding vector dimension.
func (l *Local) Dimension() int { return l.dim }

// Close is a no-op for the local embedder.
func (l *Local) Close() error { return nil }

func (l *Local) embed(text string) []float32 {
	vec := make([]float32, l.dim)

	for _, tok := range tokenize(text) {
		addFeature(vec, tok, 1.0)
		// Character trigrams give partial credit for related terms.
		runes := []rune(tok)
		for i := 0; i+3 <= len(runes); i++ {
			addFeature(vec, "3g:"+string(runes[i:i+3]), 0.5)
		}
	}

	normalize(vec)
	return vec
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// addFeature hashes the feature to an index and a sign, spreading features
// across the vector without coordinate bias.
func addFeature(vec []float32, feature string, weight float32) {
	h := fnv.New64a()
	h.Write([]byte(feature))
	sum := h.Sum64()
	idx := int(sum % uint64(len(vec)))
	sign := float32(1)
	if sum&(1<<63) != 0 {
		sign = -1
	}
	vec[idx] += sign * weight
}

func normalize(vec []float32) {
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return
	}
	inv := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= inv
	}
}
