package patternstore

import (
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// RecordMeta is the index entry for one stored pattern record. The index
// exists so the retention pruner can enumerate records by age without a
// full store scan, which neither backend supports cheaply.
type RecordMeta struct {
	ID        string
	Namespace string
	Tags      []string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Index is a file-backed map of record ID to RecordMeta, written atomically
// as a single gob file.
type Index struct {
	path    string
	mu      sync.Mutex
	records map[string]RecordMeta
}

// NewIndex loads or creates the index at the given file path.
func NewIndex(path string) (*Index, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("index: failed to create directory: %w", err)
	}

	idx := &Index{
		path:    path,
		records: make(map[string]RecordMeta),
	}

	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return idx, nil
	}
	if err != nil {
		return nil, fmt.Errorf("index: failed to open: %w", err)
	}
	defer f.Close()

	if err := gob.NewDecoder(f).Decode(&idx.records); err != nil {
		return nil, fmt.Errorf("index: failed to decode: %w", err)
	}
	return idx, nil
}

// Put records or updates metadata for the given records.
func (idx *Index) Put(metas ...RecordMeta) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	for _, m := range metas {
		idx.records[m.ID] = m
	}
	return idx.flushLocked()
}

// Remove deletes entries by ID.
func (idx *Index) Remove(ids ...string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	for _, id := range ids {
		delete(idx.records, id)
	}
	return idx.flushLocked()
}

// Count returns the number of indexed records.
func (idx *Index) Count() int {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return len(idx.records)
}

// Expired returns IDs eligible for pruning: records older than maxAge, plus
// the oldest records beyond maxCount. Zero values disable a bound.
func (idx *Index) Expired(now time.Time, maxAge time.Duration, maxCount int) []string {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	expired := make(map[string]bool)

	if maxAge > 0 {
		cutoff := now.Add(-maxAge)
		for id, m := range idx.records {
			if m.CreatedAt.Before(cutoff) {
				expired[id] = true
			}
		}
	}

	if maxCount > 0 && len(idx.records)-len(expired) > maxCount {
		survivors := make([]RecordMeta, 0, len(idx.records))
		for id, m := range idx.records {
			if !expired[id] {
				survivors = append(survivors, m)
			}
		}
		sort.Slice(survivors, func(i, j int) bool {
			return survivors[i].CreatedAt.Before(survivors[j].CreatedAt)
		})
		overflow := len(survivors) - maxCount
		for i := 0; i < overflow; i++ {
			expired[survivors[i].ID] = true
		}
	}

	ids := make([]string, 0, len(expired))
	for id := range expired {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// flushLocked writes the index atomically: temp file, fsync, rename.
func (idx *Index) flushLocked() error {
	tmpPath := idx.path + ".tmp." + GenerateEntryID("i")

	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("index: failed to create temp file: %w", err)
	}
	if err := gob.NewEncoder(f).Encode(idx.records); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("index: failed to encode: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("index: failed to sync: %w", err)
	}
	f.Close()

	if err := os.Rename(tmpPath, idx.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("index: failed to finalize: %w", err)
	}
	return nil
}
