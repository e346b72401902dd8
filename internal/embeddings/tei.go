package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// TEI calls a text-embeddings-inference server over HTTP.
type TEI struct {
	baseURL string
	dim     int
	client  *http.Client
}

// NewTEI creates a TEI client for the given endpoint.
func NewTEI(baseURL string, dim int) (*TEI, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("tei base URL required")
	}
	if dim <= 0 {
		return nil, fmt.Errorf("embedding dimension must be positive, got %d", dim)
	}
	return &TEI{
		baseURL: baseURL,
		dim:     dim,
		client:  &http.Client{Timeout: 30 * time.Second},
	}, nil
}

type teiRequest struct {
	Inputs []string `json:"inputs"`
}

// EmbedDocuments embeds a batch of documents.
func (t *TEI) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	body, err := json.Marshal(teiRequest{Inputs: texts})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embed request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("embed request failed: status %d: %s", resp.StatusCode, msg)
	}

	var vectors [][]float32
	if err := json.NewDecoder(resp.Body).Decode(&vectors); err != nil {
		return nil, fmt.Errorf("decode embed response: %w", err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("embed response count mismatch: got %d, want %d", len(vectors), len(texts))
	}
	for i, v := range vectors {
		if len(v) != t.dim {
			return nil, fmt.Errorf("embedding %d has dimension %d, want %d", i, len(v), t.dim)
		}
	}
	return vectors, nil
}

// EmbedQuery embeds a single query string.
func (t *TEI) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := t.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// Dimension returns the embedding vector dimension.
func (t *TEI) Dimension() int { return t.dim }

// Close releases idle connections.
func (t *TEI) Close() error {
	t.client.CloseIdleConnections()
	return nil
}
