package engine

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Escalation statuses.
type EscalationStatus string

const (
	EscalationPending  EscalationStatus = "pending"
	EscalationApproved EscalationStatus = "approved"
	EscalationRejected EscalationStatus = "rejected"
)

// ErrEscalationNotFound indicates an unknown escalation ID.
var ErrEscalationNotFound = errors.New("engine: escalation not found")

// Escalation is one item awaiting operator action. It halts automatic
// progression of its namespace's phase but nothing else.
type Escalation struct {
	ID           string           `json:"id"`
	Namespace    string           `json:"namespace"`
	Phase        Phase            `json:"phase"`
	Gate         string           `json:"gate,omitempty"`
	Reason       string           `json:"reason"`
	Worker       string           `json:"worker,omitempty"`
	ArtifactRefs []string         `json:"artifact_refs,omitempty"`
	Status       EscalationStatus `json:"status"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// EscalationQueue is the bounded operator queue. Push never blocks signal
// processing: at capacity the escalation is rejected and the caller logs it.
type EscalationQueue struct {
	capacity int

	mu    sync.Mutex
	items map[string]*Escalation
	order []string
}

// NewEscalationQueue builds a queue holding at most capacity pending items.
func NewEscalationQueue(capacity int) *EscalationQueue {
	if capacity <= 0 {
		capacity = 64
	}
	return &EscalationQueue{
		capacity: capacity,
		items:    make(map[string]*Escalation),
	}
}

// Push enqueues a pending escalation and returns it with its assigned ID.
// ID, status, and timestamps are set here; the caller fills the rest.
func (q *EscalationQueue) Push(e Escalation) (Escalation, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	pending := 0
	for _, item := range q.items {
		if item.Status == EscalationPending {
			pending++
		}
	}
	if pending >= q.capacity {
		return Escalation{}, fmt.Errorf("engine: escalation queue at capacity (%d)", q.capacity)
	}

	now := time.Now().UTC()
	e.ID = uuid.NewString()
	e.Status = EscalationPending
	e.CreatedAt = now
	e.UpdatedAt = now
	q.items[e.ID] = &e
	q.order = append(q.order, e.ID)
	escalationsTotal.WithLabelValues(string(EscalationPending)).Inc()
	return e, nil
}

// Resolve marks an escalation approved or rejected.
func (q *EscalationQueue) Resolve(id string, approved bool) (Escalation, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.items[id]
	if !ok {
		return Escalation{}, ErrEscalationNotFound
	}
	if e.Status != EscalationPending {
		return Escalation{}, fmt.Errorf("engine: escalation %s already %s", id, e.Status)
	}
	if approved {
		e.Status = EscalationApproved
	} else {
		e.Status = EscalationRejected
	}
	e.UpdatedAt = time.Now().UTC()
	escalationsTotal.WithLabelValues(string(e.Status)).Inc()
	return *e, nil
}

// Get returns one escalation by ID.
func (q *EscalationQueue) Get(id string) (Escalation, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.items[id]
	if !ok {
		return Escalation{}, ErrEscalationNotFound
	}
	return *e, nil
}

// Pending lists unresolved escalations in arrival order.
func (q *EscalationQueue) Pending() []Escalation {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Escalation, 0)
	for _, id := range q.order {
		if e := q.items[id]; e.Status == EscalationPending {
			out = append(out, *e)
		}
	}
	return out
}
