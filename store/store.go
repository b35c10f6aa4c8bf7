// Package store persists the history of evolutionary runs: one row per run,
// the stats of every completed generation, and the latest champion genome.
// Records are versionless and may not survive an upgrade.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/baldhumanity/neatlab/neat"
)

// ErrNotInitialized is returned by every operation before Init.
var ErrNotInitialized = errors.New("store is not initialized")

// Run describes one evolutionary run.
type Run struct {
	ID          string      `json:"id"`
	Environment string      `json:"environment"`
	StartedAt   time.Time   `json:"startedAt"`
	Config      neat.Config `json:"config"`
}

// Champion is the best genome recorded for a run.
type Champion struct {
	RunID      string       `json:"runId"`
	Generation int          `json:"generation"`
	Genome     *neat.Genome `json:"genome"`
}

// Store defines persistence operations for run history.
type Store interface {
	Init(ctx context.Context) error
	CreateRun(ctx context.Context, run Run) error
	SaveGeneration(ctx context.Context, runID string, stats neat.GenerationStats) error
	SaveChampion(ctx context.Context, runID string, generation int, genome *neat.Genome) error
	Runs(ctx context.Context) ([]Run, error)
	Generations(ctx context.Context, runID string) ([]neat.GenerationStats, bool, error)
	Champion(ctx context.Context, runID string) (Champion, bool, error)
	Close() error
}

// NewStore returns an uninitialized store for the named backend.
func NewStore(kind, sqlitePath string) (Store, error) {
	switch kind {
	case "", "memory":
		return NewMemoryStore(), nil
	case "sqlite":
		return NewSQLiteStore(sqlitePath), nil
	default:
		return nil, fmt.Errorf("unsupported store backend: %s", kind)
	}
}

func encodeGenome(g *neat.Genome) ([]byte, error) {
	return json.Marshal(g)
}

func decodeGenome(data []byte) (*neat.Genome, error) {
	var g neat.Genome
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, err
	}
	return &g, nil
}
