package store

import (
	"context"
	"sort"
	"sync"

	"github.com/baldhumanity/neatlab/neat"
)

// MemoryStore keeps run history in process memory.
type MemoryStore struct {
	mu          sync.RWMutex
	initialized bool
	runs        map[string]Run
	generations map[string][]neat.GenerationStats
	champions   map[string]Champion
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.initialized = true
	s.runs = make(map[string]Run)
	s.generations = make(map[string][]neat.GenerationStats)
	s.champions = make(map[string]Champion)
	return nil
}

func (s *MemoryStore) CreateRun(_ context.Context, run Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return ErrNotInitialized
	}

	s.runs[run.ID] = run
	return nil
}

// SaveGeneration replaces any stats already stored for the same generation.
func (s *MemoryStore) SaveGeneration(_ context.Context, runID string, stats neat.GenerationStats) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return ErrNotInitialized
	}

	history := s.generations[runID]
	for i := range history {
		if history[i].Generation == stats.Generation {
			history[i] = stats
			return nil
		}
	}
	s.generations[runID] = append(history, stats)
	return nil
}

func (s *MemoryStore) SaveChampion(_ context.Context, runID string, generation int, genome *neat.Genome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return ErrNotInitialized
	}

	s.champions[runID] = Champion{RunID: runID, Generation: generation, Genome: genome.Clone(genome.ID)}
	return nil
}

// Runs returns every run, oldest first.
func (s *MemoryStore) Runs(_ context.Context) ([]Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.initialized {
		return nil, ErrNotInitialized
	}

	runs := make([]Run, 0, len(s.runs))
	for _, run := range s.runs {
		runs = append(runs, run)
	}
	sort.Slice(runs, func(i, j int) bool {
		if runs[i].StartedAt.Equal(runs[j].StartedAt) {
			return runs[i].ID < runs[j].ID
		}
		return runs[i].StartedAt.Before(runs[j].StartedAt)
	})
	return runs, nil
}

func (s *MemoryStore) Generations(_ context.Context, runID string) ([]neat.GenerationStats, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.initialized {
		return nil, false, ErrNotInitialized
	}

	history, ok := s.generations[runID]
	if !ok {
		return nil, false, nil
	}
	out := append([]neat.GenerationStats(nil), history...)
	sort.Slice(out, func(i, j int) bool { return out[i].Generation < out[j].Generation })
	return out, true, nil
}

func (s *MemoryStore) Champion(_ context.Context, runID string) (Champion, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.initialized {
		return Champion{}, false, ErrNotInitialized
	}

	champion, ok := s.champions[runID]
	if !ok {
		return Champion{}, false, nil
	}
	champion.Genome = champion.Genome.Clone(champion.Genome.ID)
	return champion, true, nil
}

func (s *MemoryStore) Close() error {
	return nil
}
