package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FileResolver resolves artifact references as paths under a root
// directory. Workers write artifacts to the shared workspace and send
// relative refs in completion signals.
type FileResolver struct {
	root string
}

// NewFileResolver creates the root directory if needed.
func NewFileResolver(root string) (*FileResolver, error) {
	if root == "" {
		return nil, fmt.Errorf("engine: artifact root required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("engine: resolve artifact root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o700); err != nil {
		return nil, fmt.Errorf("engine: create artifact root: %w", err)
	}
	return &FileResolver{root: abs}, nil
}

// Resolve reads the artifact content for a relative ref. Refs escaping
// the root are rejected.
func (r *FileResolver) Resolve(ctx context.Context, ref string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if ref == "" {
		return "", fmt.Errorf("engine: empty artifact ref")
	}
	path := filepath.Join(r.root, filepath.Clean("/"+ref))
	if !strings.HasPrefix(path, r.root+string(filepath.Separator)) {
		return "", fmt.Errorf("engine: artifact ref %q escapes root", ref)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("engine: read artifact %q: %w", ref, err)
	}
	return string(data), nil
}

// Store writes artifact content under the root and returns the ref.
// Used by tooling and tests that seed artifacts.
func (r *FileResolver) Store(ref, content string) error {
	path := filepath.Join(r.root, filepath.Clean("/"+ref))
	if !strings.HasPrefix(path, r.root+string(filepath.Separator)) {
		return fmt.Errorf("engine: artifact ref %q escapes root", ref)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(content), 0o600)
}

var _ ArtifactResolver = (*FileResolver)(nil)
