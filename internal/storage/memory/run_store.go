package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/JakeFAU/site-cloner/internal/cloner"
)

// RunStore keeps run snapshots in memory for development and tests.
type RunStore struct {
	mu   sync.RWMutex
	runs map[string]*cloner.CloneRun
}

// NewRunStore constructs a RunStore.
func NewRunStore() *RunStore {
	return &RunStore{runs: make(map[string]*cloner.CloneRun)}
}

// Upsert stores a copy of run, replacing any earlier snapshot.
func (s *RunStore) Upsert(_ context.Context, run *cloner.CloneRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.ID] = run.Snapshot()
	return nil
}

// Get returns a copy of the stored run or cloner.ErrNotFound.
func (s *RunStore) Get(_ context.Context, id string) (*cloner.CloneRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	if !ok {
		return nil, cloner.ErrNotFound
	}
	return run.Snapshot(), nil
}

// List returns every run, newest first.
func (s *RunStore) List(_ context.Context) ([]*cloner.CloneRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*cloner.CloneRun, 0, len(s.runs))
	for _, run := range s.runs {
		out = append(out, run.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// Delete removes a run. Deleting an unknown id returns cloner.ErrNotFound.
func (s *RunStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[id]; !ok {
		return cloner.ErrNotFound
	}
	delete(s.runs, id)
	return nil
}
