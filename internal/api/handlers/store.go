package handlers

import (
	"sync"

	"offer-allocation/internal/engine"
)

// DefaultRunStoreSize is how many outcomes the API keeps for GET lookups.
const DefaultRunStoreSize = 100

// RunStore keeps the most recent outcomes in memory, evicting the oldest.
type RunStore struct {
	mu    sync.RWMutex
	size  int
	order []string
	runs  map[string]*engine.Outcome
}

func NewRunStore(size int) *RunStore {
	if size <= 0 {
		size = DefaultRunStoreSize
	}
	return &RunStore{size: size, runs: make(map[string]*engine.Outcome, size)}
}

func (s *RunStore) Put(out *engine.Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[out.ID]; !ok {
		s.order = append(s.order, out.ID)
	}
	s.runs[out.ID] = out
	for len(s.order) > s.size {
		delete(s.runs, s.order[0])
		s.order = s.order[1:]
	}
}

func (s *RunStore) Get(id string) (*engine.Outcome, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out, ok := s.runs[id]
	return out, ok
}

func (s *RunStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.runs)
}
