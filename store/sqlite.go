package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/baldhumanity/neatlab/neat"

	_ "modernc.org/sqlite"
)

// SQLiteStore keeps run history in a SQLite database file.
type SQLiteStore struct {
	path string

	mu sync.RWMutex
	db *sql.DB
}

func NewSQLiteStore(path string) *SQLiteStore {
	return &SQLiteStore{path: path}
}

func (s *SQLiteStore) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		return errors.New("sqlite path is required")
	}
	if s.db != nil {
		return nil
	}

	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return err
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return err
	}

	if err := createTables(ctx, db); err != nil {
		_ = db.Close()
		return err
	}

	s.db = db
	return nil
}

func (s *SQLiteStore) CreateRun(ctx context.Context, run Run) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	config, err := json.Marshal(run.Config)
	if err != nil {
		return fmt.Errorf("encode config of run %s: %w", run.ID, err)
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO runs (id, environment, started_at, config)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			environment = excluded.environment,
			started_at = excluded.started_at,
			config = excluded.config
	`, run.ID, run.Environment, run.StartedAt.UTC().Format(time.RFC3339Nano), config)
	return err
}

func (s *SQLiteStore) SaveGeneration(ctx context.Context, runID string, stats neat.GenerationStats) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO generations (
			run_id, generation, best, avg, worst, species_count,
			champion_nodes, champion_connections, population_size
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, generation) DO UPDATE SET
			best = excluded.best,
			avg = excluded.avg,
			worst = excluded.worst,
			species_count = excluded.species_count,
			champion_nodes = excluded.champion_nodes,
			champion_connections = excluded.champion_connections,
			population_size = excluded.population_size
	`, runID, stats.Generation, stats.Best, stats.Avg, stats.Worst, stats.SpeciesCount,
		stats.ChampionNodeCount, stats.ChampionConnectionCount, stats.PopulationSize)
	return err
}

func (s *SQLiteStore) SaveChampion(ctx context.Context, runID string, generation int, genome *neat.Genome) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	payload, err := encodeGenome(genome)
	if err != nil {
		return fmt.Errorf("encode champion of run %s: %w", runID, err)
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO champions (run_id, generation, fitness, payload)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			generation = excluded.generation,
			fitness = excluded.fitness,
			payload = excluded.payload
	`, runID, generation, genome.Fitness, payload)
	return err
}

func (s *SQLiteStore) Runs(ctx context.Context) ([]Run, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `SELECT id, environment, started_at, config FROM runs ORDER BY started_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			run       Run
			startedAt string
			config    []byte
		)
		if err := rows.Scan(&run.ID, &run.Environment, &startedAt, &config); err != nil {
			return nil, err
		}
		if run.StartedAt, err = time.Parse(time.RFC3339Nano, startedAt); err != nil {
			return nil, fmt.Errorf("decode start time of run %s: %w", run.ID, err)
		}
		if err := json.Unmarshal(config, &run.Config); err != nil {
			return nil, fmt.Errorf("decode config of run %s: %w", run.ID, err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func (s *SQLiteStore) Generations(ctx context.Context, runID string) ([]neat.GenerationStats, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, false, err
	}

	rows, err := db.QueryContext(ctx, `
		SELECT generation, best, avg, worst, species_count,
			champion_nodes, champion_connections, population_size
		FROM generations
		WHERE run_id = ?
		ORDER BY generation
	`, runID)
	if err != nil {
		return nil, false, err
	}
	defer rows.Close()

	var history []neat.GenerationStats
	for rows.Next() {
		var stats neat.GenerationStats
		if err := rows.Scan(&stats.Generation, &stats.Best, &stats.Avg, &stats.Worst, &stats.SpeciesCount,
			&stats.ChampionNodeCount, &stats.ChampionConnectionCount, &stats.PopulationSize); err != nil {
			return nil, false, err
		}
		history = append(history, stats)
	}
	if err := rows.Err(); err != nil {
		return nil, false, err
	}
	return history, len(history) > 0, nil
}

func (s *SQLiteStore) Champion(ctx context.Context, runID string) (Champion, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return Champion{}, false, err
	}

	champion := Champion{RunID: runID}
	var payload []byte
	err = db.QueryRowContext(ctx, `SELECT generation, payload FROM champions WHERE run_id = ?`, runID).
		Scan(&champion.Generation, &payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Champion{}, false, nil
		}
		return Champion{}, false, err
	}

	champion.Genome, err = decodeGenome(payload)
	if err != nil {
		return Champion{}, false, fmt.Errorf("decode champion of run %s: %w", runID, err)
	}
	return champion, true, nil
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *SQLiteStore) getDB() (*sql.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return nil, ErrNotInitialized
	}
	return s.db, nil
}

func createTables(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			environment TEXT NOT NULL,
			started_at TEXT NOT NULL,
			config BLOB NOT NULL
		);
		CREATE TABLE IF NOT EXISTS generations (
			run_id TEXT NOT NULL,
			generation INTEGER NOT NULL,
			best REAL NOT NULL,
			avg REAL NOT NULL,
			worst REAL NOT NULL,
			species_count INTEGER NOT NULL,
			champion_nodes INTEGER NOT NULL,
			champion_connections INTEGER NOT NULL,
			population_size INTEGER NOT NULL,
			PRIMARY KEY (run_id, generation)
		);
		CREATE TABLE IF NOT EXISTS champions (
			run_id TEXT PRIMARY KEY,
			generation INTEGER NOT NULL,
			fitness REAL NOT NULL,
			payload BLOB NOT NULL
		);
	`)
	return err
}
