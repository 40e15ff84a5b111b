package store

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/dunamismax/pixelvariants/internal/domain"
)

var ErrRunExists = errors.New("run already exists")

type MemoryRunStore struct {
	mu   sync.RWMutex
	runs map[string]domain.Run
	now  func() time.Time
}

func NewMemoryRunStore() *MemoryRunStore {
	return &MemoryRunStore{
		runs: make(map[string]domain.Run),
		now:  time.Now,
	}
}

func (s *MemoryRunStore) Create(_ context.Context, run domain.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.runs[run.ID]; ok {
		return fmt.Errorf("%w: %s", ErrRunExists, run.ID)
	}
	s.runs[run.ID] = cloneRun(run)
	return nil
}

func (s *MemoryRunStore) Get(_ context.Context, id string) (domain.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[id]
	if !ok {
		return domain.Run{}, domain.ErrRunNotFound
	}
	return cloneRun(run), nil
}

func (s *MemoryRunStore) Complete(_ context.Context, id string, result domain.RunResult) (domain.Run, error) {
	return s.update(id, func(run *domain.Run) {
		run.Status = domain.RunStatusSucceeded
		run.ArtifactKeys = slices.Clone(result.ArtifactKeys)
		run.Metadata = maps.Clone(result.Metadata)
		run.Stats = result.Stats
		run.Error = ""
	})
}

func (s *MemoryRunStore) Fail(_ context.Context, id, reason string) (domain.Run, error) {
	return s.update(id, func(run *domain.Run) {
		run.Status = domain.RunStatusFailed
		run.Error = reason
	})
}

func (s *MemoryRunStore) update(id string, apply func(*domain.Run)) (domain.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[id]
	if !ok {
		return domain.Run{}, domain.ErrRunNotFound
	}
	if !run.Terminal() {
		apply(&run)
		run.UpdatedAt = s.now().UTC()
		s.runs[id] = run
	}
	return cloneRun(run), nil
}

func cloneRun(run domain.Run) domain.Run {
	run.ArtifactKeys = slices.Clone(run.ArtifactKeys)
	run.Metadata = maps.Clone(run.Metadata)
	return run
}
