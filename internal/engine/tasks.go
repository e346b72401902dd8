package engine

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// TaskStore tracks units of work in memory. The journal carries the durable
// record; this index answers the "all tasks completed?" question the state
// machine asks before advancing.
type TaskStore struct {
	mu    sync.Mutex
	tasks map[string][]*Task
}

// NewTaskStore builds an empty store.
func NewTaskStore() *TaskStore {
	return &TaskStore{tasks: make(map[string][]*Task)}
}

// Add registers a new in-progress task and returns it.
func (s *TaskStore) Add(namespace string, phase Phase, workerName string, dependencies []string) Task {
	now := time.Now().UTC()
	task := &Task{
		ID:           uuid.NewString(),
		Namespace:    namespace,
		Phase:        phase,
		WorkerName:   workerName,
		Status:       TaskInProgress,
		Dependencies: dependencies,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[namespace] = append(s.tasks[namespace], task)
	return *task
}

// Complete marks the namespace's in-progress task for (phase, worker)
// completed. Dependencies must already be completed.
func (s *TaskStore) Complete(namespace string, phase Phase, workerName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, task := range s.tasks[namespace] {
		if task.Phase != phase || task.WorkerName != workerName || task.Status == TaskCompleted {
			continue
		}
		if !s.dependenciesMetLocked(namespace, task) {
			return fmt.Errorf("engine: task %s has incomplete dependencies", task.ID)
		}
		task.Status = TaskCompleted
		task.UpdatedAt = time.Now().UTC()
		return nil
	}
	return fmt.Errorf("engine: no open task for namespace %q phase %s worker %q", namespace, phase, workerName)
}

// Fail marks the matching task failed.
func (s *TaskStore) Fail(namespace string, phase Phase, workerName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, task := range s.tasks[namespace] {
		if task.Phase == phase && task.WorkerName == workerName && task.Status == TaskInProgress {
			task.Status = TaskFailed
			task.UpdatedAt = time.Now().UTC()
			return
		}
	}
}

// AllCompleted reports whether every task for the namespace's phase is
// completed. A phase with no recorded tasks counts as complete: the engine
// may be resuming from a journal replay.
func (s *TaskStore) AllCompleted(namespace string, phase Phase) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, task := range s.tasks[namespace] {
		if task.Phase == phase && task.Status != TaskCompleted {
			return false
		}
	}
	return true
}

// ForceComplete marks every open task for the phase completed. Operator
// approval of an escalation overrides the normal completion path.
func (s *TaskStore) ForceComplete(namespace string, phase Phase) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, task := range s.tasks[namespace] {
		if task.Phase == phase && task.Status != TaskCompleted {
			task.Status = TaskCompleted
			task.UpdatedAt = time.Now().UTC()
		}
	}
}

// DropFrom removes every task at or beyond the target phase. Operator
// rollback dispatches fresh tasks for the replayed phases; keeping the old
// ones around would leave open tasks no completion signal can ever match.
func (s *TaskStore) DropFrom(namespace string, target Phase) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.tasks[namespace][:0]
	for _, task := range s.tasks[namespace] {
		if task.Phase.Index() < target.Index() {
			kept = append(kept, task)
		}
	}
	s.tasks[namespace] = kept
}

// ByNamespace returns copies of the namespace's tasks in creation order.
func (s *TaskStore) ByNamespace(namespace string) []Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Task, 0, len(s.tasks[namespace]))
	for _, task := range s.tasks[namespace] {
		out = append(out, *task)
	}
	return out
}

func (s *TaskStore) dependenciesMetLocked(namespace string, task *Task) bool {
	if len(task.Dependencies) == 0 {
		return true
	}
	byID := make(map[string]*Task)
	for _, t := range s.tasks[namespace] {
		byID[t.ID] = t
	}
	for _, dep := range task.Dependencies {
		t, ok := byID[dep]
		if !ok || t.Status != TaskCompleted {
			return false
		}
	}
	return true
}
