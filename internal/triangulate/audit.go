package triangulate

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// AuditLog persists triangulation results as an append-only JSON-lines file.
// Results are immutable once written.
type AuditLog struct {
	path string
	mu   sync.Mutex
}

// NewAuditLog opens (or creates) the audit log at path.
func NewAuditLog(path string) (*AuditLog, error) {
	if path == "" {
		return nil, fmt.Errorf("triangulate: audit log path required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("triangulate: creating audit directory: %w", err)
	}
	return &AuditLog{path: path}, nil
}

// Append writes one result. Each entry is a single JSON line.
func (a *AuditLog) Append(result Result) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("triangulate: encoding audit entry: %w", err)
	}

	f, err := os.OpenFile(a.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return fmt.Errorf("triangulate: opening audit log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("triangulate: writing audit entry: %w", err)
	}
	return f.Sync()
}

// Entries loads every recorded result in write order. Malformed lines are
// skipped.
func (a *AuditLog) Entries() ([]Result, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	f, err := os.Open(a.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("triangulate: opening audit log: %w", err)
	}
	defer f.Close()

	var results []Result
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var r Result
		if err := json.Unmarshal(scanner.Bytes(), &r); err != nil {
			continue
		}
		results = append(results, r)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("triangulate: reading audit log: %w", err)
	}
	return results, nil
}
