// Package memory turns stored patterns into ranked memory boosts for new
// tasks and records task outcomes as learned patterns.
package memory

import (
	"time"

	"github.com/fyrsmithlabs/conductord/internal/patternstore"
)

// BoostEntry is one historical pattern selected for a new task.
type BoostEntry struct {
	Record patternstore.PatternRecord

	// Similarity is the raw embedding similarity to the task context.
	Similarity float32

	// Applicability combines similarity, confidence, and recency into a
	// single [0,1] relevance score for the entry.
	Applicability float64
}

// Boost is the ranked set of learned patterns supplied to enrich a task's
// context. An empty boost is valid and means no relevant history exists.
type Boost struct {
	WorkerName string
	TaskType   string
	Entries    []BoostEntry

	// Degraded marks boosts produced while the pattern store was
	// unreachable. Consumers treat these the same as empty history.
	Degraded bool
}

// Empty reports whether the boost carries no entries.
func (b Boost) Empty() bool { return len(b.Entries) == 0 }

// Outcome describes a completed task result to learn from.
type Outcome struct {
	// Namespace of the originating project, for provenance.
	Namespace string

	// WorkerName that performed the task.
	WorkerName string

	// TaskType tags the pattern for later retrieval.
	TaskType string

	// PatternText is the lesson to store.
	PatternText string

	// Success raises the pattern's confidence; failure lowers it.
	Success bool

	// CompletedAt defaults to now when zero.
	CompletedAt time.Time
}
