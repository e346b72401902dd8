package engine

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Journal event types.
const (
	eventSignal     = "signal"
	eventTransition = "transition"
	eventTask       = "task"
	eventEscalation = "escalation"
	eventRollback   = "rollback"
	eventCancel     = "cancel"
)

// JournalEntry is one line in a namespace's append-only log. The log serves
// two purposes: signal deduplication within the idempotency window, and an
// audit trail of everything the engine did to the namespace.
type JournalEntry struct {
	Type      string    `json:"type"`
	Namespace string    `json:"namespace"`
	SignalID  string    `json:"signal_id,omitempty"`
	Phase     Phase     `json:"phase,omitempty"`
	ToPhase   Phase     `json:"to_phase,omitempty"`
	Worker    string    `json:"worker,omitempty"`
	TaskID    string    `json:"task_id,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	At        time.Time `json:"at"`
}

// Journal maintains one append-only JSON-lines file per namespace plus an
// in-memory index of recently seen signal IDs.
type Journal struct {
	dir         string
	dedupWindow time.Duration
	now         func() time.Time

	mu   sync.Mutex
	seen map[string]map[string]time.Time
}

// NewJournal opens the journal directory and replays existing logs to
// rebuild the deduplication index.
func NewJournal(dir string, dedupWindow time.Duration) (*Journal, error) {
	if dir == "" {
		return nil, fmt.Errorf("engine: journal directory required")
	}
	if dedupWindow <= 0 {
		dedupWindow = 24 * time.Hour
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("engine: creating journal directory: %w", err)
	}

	j := &Journal{
		dir:         dir,
		dedupWindow: dedupWindow,
		now:         time.Now,
		seen:        make(map[string]map[string]time.Time),
	}
	if err := j.replay(); err != nil {
		return nil, err
	}
	return j, nil
}

// Seen reports whether a signal ID was already journaled for the namespace
// within the deduplication window. Entries older than the window are
// forgotten: replays after expiry are treated as fresh no-ops by the caller.
func (j *Journal) Seen(namespace, signalID string) bool {
	j.mu.Lock()
	defer j.mu.Unlock()

	ids, ok := j.seen[namespace]
	if !ok {
		return false
	}
	at, ok := ids[signalID]
	if !ok {
		return false
	}
	if j.now().Sub(at) > j.dedupWindow {
		delete(ids, signalID)
		return false
	}
	return true
}

// Append writes one entry to the namespace's log and, for signals, marks
// the signal ID seen.
func (j *Journal) Append(entry JournalEntry) error {
	if entry.Namespace == "" {
		return fmt.Errorf("engine: journal entry namespace required")
	}
	if entry.At.IsZero() {
		entry.At = j.now().UTC()
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("engine: encoding journal entry: %w", err)
	}

	f, err := os.OpenFile(j.path(entry.Namespace), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return fmt.Errorf("engine: opening journal: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("engine: writing journal entry: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("engine: syncing journal: %w", err)
	}

	if entry.Type == eventSignal && entry.SignalID != "" {
		ids, ok := j.seen[entry.Namespace]
		if !ok {
			ids = make(map[string]time.Time)
			j.seen[entry.Namespace] = ids
		}
		ids[entry.SignalID] = entry.At
	}
	return nil
}

// Entries loads a namespace's full log in write order.
func (j *Journal) Entries(namespace string) ([]JournalEntry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.readFile(j.path(namespace))
}

// History summarizes the most recent entries for inclusion in an
// instruction's context bundle.
func (j *Journal) History(namespace string, limit int) []string {
	entries, err := j.Entries(namespace)
	if err != nil || len(entries) == 0 {
		return nil
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.summary())
	}
	return out
}

func (e JournalEntry) summary() string {
	switch e.Type {
	case eventSignal:
		return fmt.Sprintf("%s: %s completed %s", e.At.Format(time.RFC3339), e.Worker, e.Phase)
	case eventTransition:
		return fmt.Sprintf("%s: advanced %s -> %s", e.At.Format(time.RFC3339), e.Phase, e.ToPhase)
	case eventRollback:
		return fmt.Sprintf("%s: rolled back %s -> %s", e.At.Format(time.RFC3339), e.Phase, e.ToPhase)
	default:
		detail := e.Detail
		if detail == "" {
			detail = string(e.Phase)
		}
		return fmt.Sprintf("%s: %s %s", e.At.Format(time.RFC3339), e.Type, detail)
	}
}

func (j *Journal) path(namespace string) string {
	return filepath.Join(j.dir, namespace+".jsonl")
}

// replay rebuilds the seen index from every namespace log. Entries outside
// the deduplication window are ignored.
func (j *Journal) replay() error {
	files, err := filepath.Glob(filepath.Join(j.dir, "*.jsonl"))
	if err != nil {
		return fmt.Errorf("engine: scanning journal: %w", err)
	}
	cutoff := j.now().Add(-j.dedupWindow)
	for _, file := range files {
		entries, err := j.readFile(file)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if e.Type != eventSignal || e.SignalID == "" || e.At.Before(cutoff) {
				continue
			}
			ids, ok := j.seen[e.Namespace]
			if !ok {
				ids = make(map[string]time.Time)
				j.seen[e.Namespace] = ids
			}
			ids[e.SignalID] = e.At
		}
	}
	return nil
}

// readFile parses one log file, skipping malformed lines.
func (j *Journal) readFile(path string) ([]JournalEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("engine: opening journal: %w", err)
	}
	defer f.Close()

	var entries []JournalEntry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var e JournalEntry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("engine: reading journal: %w", err)
	}
	return entries, nil
}
