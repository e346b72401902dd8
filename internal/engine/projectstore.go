package engine

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ProjectStore keeps one JSON record per project on disk. Writes are atomic
// so a crash never leaves a half-written record.
type ProjectStore struct {
	dir string

	mu       sync.RWMutex
	projects map[string]*Project
}

// NewProjectStore opens the store, loading any existing records.
func NewProjectStore(dir string) (*ProjectStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("engine: project store directory required")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("engine: creating project store: %w", err)
	}

	s := &ProjectStore{
		dir:      dir,
		projects: make(map[string]*Project),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// Get returns a copy of the project for a namespace.
func (s *ProjectStore) Get(namespace string) (Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.projects[namespace]
	if !ok {
		return Project{}, ErrProjectNotFound
	}
	return *p, nil
}

// Put persists the project record, replacing any prior version.
func (s *ProjectStore) Put(project Project) error {
	if project.Namespace == "" {
		return fmt.Errorf("engine: project namespace required")
	}
	project.UpdatedAt = time.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.writeLocked(&project); err != nil {
		return err
	}
	s.projects[project.Namespace] = &project
	return nil
}

// List returns copies of every project, no particular order.
func (s *ProjectStore) List() []Project {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Project, 0, len(s.projects))
	for _, p := range s.projects {
		out = append(out, *p)
	}
	return out
}

func (s *ProjectStore) writeLocked(project *Project) error {
	data, err := json.MarshalIndent(project, "", "  ")
	if err != nil {
		return fmt.Errorf("engine: encoding project: %w", err)
	}

	path := filepath.Join(s.dir, project.Namespace+".json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("engine: writing project: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("engine: committing project: %w", err)
	}
	return nil
}

func (s *ProjectStore) load() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("engine: reading project store: %w", err)
	}
	for _, de := range entries {
		if de.IsDir() || filepath.Ext(de.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, de.Name()))
		if err != nil {
			continue
		}
		var p Project
		if err := json.Unmarshal(data, &p); err != nil || p.Namespace == "" {
			continue
		}
		s.projects[p.Namespace] = &p
	}
	return nil
}
