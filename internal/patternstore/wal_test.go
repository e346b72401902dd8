package patternstore

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testRecord(id, namespace string, tags ...string) PatternRecord {
	return PatternRecord{
		ID:              id,
		Namespace:       namespace,
		Tags:            tags,
		PatternText:     "prefer table-driven tests for parsers",
		ConfidenceScore: 0.7,
		Embedding:       []float32{0.1, 0.2, 0.3},
		CreatedAt:       time.Now(),
		UpdatedAt:       time.Now(),
	}
}

func TestWALWriteAndReload(t *testing.T) {
	dir := t.TempDir()

	w, err := NewWAL(dir, zap.NewNop())
	require.NoError(t, err)

	entry := WALEntry{
		ID:        GenerateEntryID("upsert"),
		Operation: "upsert",
		Namespace: "demo",
		Records:   []PatternRecord{testRecord("rec-1", "demo", "specification")},
		Timestamp: time.Now(),
	}
	require.NoError(t, w.WriteEntry(entry))

	// Reload from disk.
	w2, err := NewWAL(dir, zap.NewNop())
	require.NoError(t, err)

	pending := w2.PendingEntries()
	require.Len(t, pending, 1)
	assert.Equal(t, entry.ID, pending[0].ID)
	assert.Equal(t, "demo", pending[0].Namespace)
	require.Len(t, pending[0].Records, 1)
	assert.Equal(t, "rec-1", pending[0].Records[0].ID)
}

func TestWALRejectsInvalidOperation(t *testing.T) {
	w, err := NewWAL(t.TempDir(), zap.NewNop())
	require.NoError(t, err)

	err = w.WriteEntry(WALEntry{ID: "x", Operation: "truncate", Timestamp: time.Now()})
	assert.ErrorContains(t, err, "invalid operation")
}

func TestWALSkipsCorruptedEntryOnLoad(t *testing.T) {
	dir := t.TempDir()

	w, err := NewWAL(dir, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, w.WriteEntry(WALEntry{
		ID:        "good",
		Operation: "upsert",
		Namespace: "demo",
		Records:   []PatternRecord{testRecord("rec-1", "demo")},
		Timestamp: time.Now(),
	}))

	// Corrupt one file on disk.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.wal"), []byte("garbage"), 0o600))

	w2, err := NewWAL(dir, zap.NewNop())
	require.NoError(t, err)
	assert.Len(t, w2.PendingEntries(), 1)
}

func TestWALMarkSynced(t *testing.T) {
	w, err := NewWAL(t.TempDir(), zap.NewNop())
	require.NoError(t, err)

	entry := WALEntry{
		ID:        "e1",
		Operation: "upsert",
		Namespace: "demo",
		Records:   []PatternRecord{testRecord("rec-1", "demo")},
		Timestamp: time.Now(),
	}
	require.NoError(t, w.WriteEntry(entry))
	require.Len(t, w.PendingEntries(), 1)

	require.NoError(t, w.MarkSynced("e1"))
	assert.Empty(t, w.PendingEntries())

	assert.Error(t, w.MarkSynced("missing"))
}

func TestWALRecordSyncAttempt(t *testing.T) {
	w, err := NewWAL(t.TempDir(), zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, w.WriteEntry(WALEntry{
		ID:        "e1",
		Operation: "delete",
		IDs:       []string{"rec-1"},
		Timestamp: time.Now(),
	}))

	require.NoError(t, w.RecordSyncAttempt("e1", assert.AnError))

	pending := w.PendingEntries()
	require.Len(t, pending, 1)
	assert.Equal(t, 1, pending[0].SyncAttempts)
	assert.NotEmpty(t, pending[0].SyncError)
}

func TestWALCompactRemovesOldSyncedEntries(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWAL(dir, zap.NewNop())
	require.NoError(t, err)

	old := WALEntry{
		ID:        "old",
		Operation: "upsert",
		Namespace: "demo",
		Records:   []PatternRecord{testRecord("rec-1", "demo")},
		Timestamp: time.Now().AddDate(0, 0, -30),
	}
	require.NoError(t, w.WriteEntry(old))
	require.NoError(t, w.MarkSynced("old"))

	pendingEntry := WALEntry{
		ID:        "pending",
		Operation: "upsert",
		Namespace: "demo",
		Records:   []PatternRecord{testRecord("rec-2", "demo")},
		Timestamp: time.Now().AddDate(0, 0, -30),
	}
	require.NoError(t, w.WriteEntry(pendingEntry))

	require.NoError(t, w.Compact(7))

	// Pending entries survive compaction regardless of age.
	w2, err := NewWAL(dir, zap.NewNop())
	require.NoError(t, err)
	pending := w2.PendingEntries()
	require.Len(t, pending, 1)
	assert.Equal(t, "pending", pending[0].ID)
}
