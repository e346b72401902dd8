package patternstore

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// validOperations whitelist for deserialization safety.
var validOperations = map[string]bool{
	"upsert": true,
	"delete": true,
}

const (
	maxRecordsPerEntry = 1000
	maxEntrySize       = 4 * 1024 * 1024 // 4MB per entry
)

// WALEntry is one pending or synced write, keyed by namespace and tags so
// the fallback queue stays auditable per project.
type WALEntry struct {
	ID           string
	Operation    string // "upsert", "delete" - validated against whitelist
	Namespace    string
	Records      []PatternRecord // for upsert operations
	IDs          []string        // for delete operations
	Timestamp    time.Time
	Synced       bool
	Checksum     []byte // SHA-256 of entry content
	SyncAttempts int
	LastAttempt  time.Time
	SyncError    string
}

// WAL is an append-only local log of writes that could not reach the remote
// store. Entries are one gob file each, written atomically.
type WAL struct {
	path    string
	mu      sync.Mutex // protects entries and file operations
	entries []WALEntry
	logger  *zap.Logger
}

// NewWAL creates a write-ahead log at the given directory, loading any
// existing entries.
func NewWAL(path string, logger *zap.Logger) (*WAL, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	cleanPath := filepath.Clean(path)
	if strings.Contains(cleanPath, "..") {
		return nil, fmt.Errorf("wal: path contains directory traversal: %s", path)
	}
	if err := os.MkdirAll(cleanPath, 0o700); err != nil {
		return nil, fmt.Errorf("wal: failed to create directory: %w", err)
	}

	w := &WAL{
		path:    cleanPath,
		entries: make([]WALEntry, 0),
		logger:  logger,
	}

	if err := w.load(); err != nil {
		return nil, fmt.Errorf("wal: failed to load entries: %w", err)
	}

	logger.Info("wal initialized",
		zap.String("path", cleanPath),
		zap.Int("entries_loaded", len(w.entries)))

	return w, nil
}

// GenerateEntryID generates a random WAL entry ID with the given prefix.
func GenerateEntryID(prefix string) string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%s_%d", prefix, time.Now().UnixNano())
	}
	return fmt.Sprintf("%s_%x", prefix, b)
}

// WriteEntry appends a new entry to the WAL.
func (w *WAL) WriteEntry(entry WALEntry) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !validOperations[entry.Operation] {
		return fmt.Errorf("wal: invalid operation: %s", entry.Operation)
	}
	if len(entry.Records) > maxRecordsPerEntry {
		return fmt.Errorf("wal: entry exceeds max records (%d > %d)", len(entry.Records), maxRecordsPerEntry)
	}
	size := 0
	for _, rec := range entry.Records {
		size += len(rec.PatternText) + len(rec.ID) + 4*len(rec.Embedding)
	}
	if size > maxEntrySize {
		return fmt.Errorf("wal: entry exceeds max size (%d > %d bytes)", size, maxEntrySize)
	}

	entry.Checksum = computeChecksum(entry)

	if err := w.writeEntryFile(entry); err != nil {
		return err
	}

	w.entries = append(w.entries, entry)
	walPendingEntries.Set(float64(w.pendingCountLocked()))
	return nil
}

// computeChecksum computes SHA-256 over entry content for corruption
// detection on load.
func computeChecksum(entry WALEntry) []byte {
	h := sha256.New()
	h.Write([]byte(entry.ID))
	h.Write([]byte(entry.Operation))
	h.Write([]byte(entry.Namespace))
	h.Write([]byte(entry.Timestamp.Format(time.RFC3339Nano)))
	for _, rec := range entry.Records {
		h.Write([]byte(rec.ID))
		h.Write([]byte(rec.PatternText))
	}
	for _, id := range entry.IDs {
		h.Write([]byte(id))
	}
	return h.Sum(nil)
}

func validateChecksum(entry WALEntry) bool {
	expected := computeChecksum(entry)
	return subtle.ConstantTimeCompare(entry.Checksum, expected) == 1
}

// writeEntryFile writes an entry atomically: temp file, fsync, rename.
func (w *WAL) writeEntryFile(entry WALEntry) error {
	entryPath := filepath.Join(w.path, entry.ID+".wal")
	tmpPath := entryPath + ".tmp." + GenerateEntryID("t")

	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("wal: failed to create entry file: %w", err)
	}

	if err := gob.NewEncoder(f).Encode(entry); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("wal: failed to encode entry: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("wal: failed to sync entry: %w", err)
	}
	f.Close()

	if err := os.Rename(tmpPath, entryPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("wal: failed to finalize entry: %w", err)
	}
	return nil
}

// load reads all WAL entries from disk, skipping corrupted files.
func (w *WAL) load() error {
	files, err := filepath.Glob(filepath.Join(w.path, "*.wal"))
	if err != nil {
		return fmt.Errorf("failed to list wal files: %w", err)
	}

	for _, file := range files {
		entry, err := readEntry(file)
		if err != nil {
			w.logger.Warn("wal: skipping corrupted entry",
				zap.String("file", file),
				zap.Error(err))
			continue
		}
		if !validateChecksum(entry) {
			w.logger.Warn("wal: skipping entry with invalid checksum",
				zap.String("file", file))
			continue
		}
		if !validOperations[entry.Operation] {
			w.logger.Warn("wal: skipping entry with invalid operation",
				zap.String("file", file),
				zap.String("operation", entry.Operation))
			continue
		}
		w.entries = append(w.entries, entry)
	}
	return nil
}

func readEntry(path string) (WALEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return WALEntry{}, err
	}
	defer f.Close()

	var entry WALEntry
	if err := gob.NewDecoder(f).Decode(&entry); err != nil {
		return WALEntry{}, err
	}
	return entry, nil
}

// PendingEntries returns unsynced entries in write order.
func (w *WAL) PendingEntries() []WALEntry {
	w.mu.Lock()
	defer w.mu.Unlock()

	pending := make([]WALEntry, 0)
	for _, entry := range w.entries {
		if !entry.Synced {
			pending = append(pending, entry)
		}
	}
	return pending
}

func (w *WAL) pendingCountLocked() int {
	n := 0
	for _, entry := range w.entries {
		if !entry.Synced {
			n++
		}
	}
	return n
}

// MarkSynced marks an entry as synced.
func (w *WAL) MarkSynced(id string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	for i := range w.entries {
		if w.entries[i].ID == id {
			w.entries[i].Synced = true
			w.entries[i].SyncError = ""
			if err := w.writeEntryFile(w.entries[i]); err != nil {
				return fmt.Errorf("wal: failed to update synced entry: %w", err)
			}
			walPendingEntries.Set(float64(w.pendingCountLocked()))
			return nil
		}
	}
	return fmt.Errorf("wal: entry not found: %s", id)
}

// RecordSyncAttempt records a failed sync attempt against an entry.
func (w *WAL) RecordSyncAttempt(id string, attemptErr error) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	for i := range w.entries {
		if w.entries[i].ID == id {
			w.entries[i].SyncAttempts++
			w.entries[i].LastAttempt = time.Now()
			if attemptErr != nil {
				w.entries[i].SyncError = attemptErr.Error()
			}
			if err := w.writeEntryFile(w.entries[i]); err != nil {
				return fmt.Errorf("wal: failed to update entry: %w", err)
			}
			return nil
		}
	}
	return fmt.Errorf("wal: entry not found: %s", id)
}

// Compact removes synced entries older than the retention period.
func (w *WAL) Compact(retentionDays int) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	kept := make([]WALEntry, 0)

	for _, entry := range w.entries {
		if !entry.Synced || entry.Timestamp.After(cutoff) {
			kept = append(kept, entry)
			continue
		}
		entryPath := filepath.Join(w.path, entry.ID+".wal")
		if err := os.Remove(entryPath); err != nil && !os.IsNotExist(err) {
			w.logger.Warn("wal: failed to remove compacted entry",
				zap.String("id", entry.ID),
				zap.Error(err))
		}
	}

	removed := len(w.entries) - len(kept)
	w.entries = kept
	w.logger.Info("wal: compaction complete",
		zap.Int("entries_kept", len(kept)),
		zap.Int("entries_removed", removed))
	return nil
}

// Close closes the WAL.
func (w *WAL) Close() error {
	return nil
}
