package neat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/baldhumanity/neatlab/logging"
)

var (
	// ErrNotInitialized is returned when a generation is requested before InitPopulation.
	ErrNotInitialized = errors.New("neat: population not initialized")
	// ErrUnknownGenome is returned when a genome id is not part of the current run.
	ErrUnknownGenome = errors.New("neat: unknown genome")
)

// Environment supplies the task a population is evolved against.
// Evaluate drives g.Activate once per simulated step and returns a score >= 0.
// It may be called concurrently for different genomes.
type Environment interface {
	InputCount() int
	OutputCount() int
	Evaluate(ctx context.Context, g *Genome) (float64, error)
}

// StepLimiter is implemented by environments that bound simulation length.
type StepLimiter interface {
	SetMaxSteps(steps int)
}

// EngineState is the position of the engine in its generation cycle.
type EngineState int

const (
	StateUninitialized EngineState = iota
	StateInitialized
	StateEvaluating
	StateSpeciating
	StateReproducing
)

func (s EngineState) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitialized:
		return "initialized"
	case StateEvaluating:
		return "evaluating"
	case StateSpeciating:
		return "speciating"
	case StateReproducing:
		return "reproducing"
	default:
		return fmt.Sprintf("EngineState(%d)", int(s))
	}
}

// GenerationStats summarizes one evaluated generation.
type GenerationStats struct {
	Generation              int     `json:"gen"`
	Best                    float64 `json:"best"`
	Avg                     float64 `json:"avg"`
	Worst                   float64 `json:"worst"`
	SpeciesCount            int     `json:"speciesCount"`
	ChampionNodeCount       int     `json:"championNodeCount"`
	ChampionConnectionCount int     `json:"championConnectionCount"`
	PopulationSize          int     `json:"populationSize"`
}

// ProgressFunc is called while a generation is evaluated. Calls are serialized.
type ProgressFunc func(evaluated, total int)

// Engine owns the population, the innovation tracker and the species of one
// evolutionary run. It is not safe for concurrent use; one goroutine drives it.
type Engine struct {
	config  Config
	env     Environment
	rng     *rand.Rand
	logger  *slog.Logger
	tracker *InnovationTracker

	population []*Genome // Generation about to be evaluated
	displayed  []*Genome // Last evaluated generation, kept for snapshots
	species    []*Species
	best       *Genome // Detached copy of the best genome found so far
	bestStale  bool    // best was scored before the fitness landscape changed
	history    []GenerationStats

	generation    int
	nextGenomeID  int
	nextSpeciesID int
	state         EngineState
}

// Option customizes an Engine.
type Option func(*Engine)

// WithLogger sets the logger used for generation and species events.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithRand replaces the engine's random source. It overrides the Seed tunable.
func WithRand(rng *rand.Rand) Option {
	return func(e *Engine) {
		if rng != nil {
			e.rng = rng
		}
	}
}

// NewEngine creates an uninitialized engine. The genome shape is taken from the environment.
func NewEngine(cfg Config, env Environment, opts ...Option) (*Engine, error) {
	if env == nil {
		return nil, fmt.Errorf("environment is required")
	}
	if env.InputCount() <= 0 || env.OutputCount() <= 0 {
		return nil, fmt.Errorf("environment must have inputs and outputs (got %d/%d)", env.InputCount(), env.OutputCount())
	}
	cfg.Clamp()

	e := &Engine{
		config:        cfg,
		env:           env,
		rng:           newRand(cfg.Neat.Seed),
		logger:        slog.New(slog.DiscardHandler),
		nextGenomeID:  1,
		nextSpeciesID: 1,
		state:         StateUninitialized,
	}
	for _, opt := range opts {
		opt(e)
	}
	if limiter, ok := env.(StepLimiter); ok {
		limiter.SetMaxSteps(cfg.Environment.MaxStepsPerEval)
	}
	return e, nil
}

func newRand(seed int64) *rand.Rand {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return rand.New(rand.NewSource(seed))
}

// InitPopulation builds PopulationSize minimal genomes, each seeded with one or
// two random input->output connections. Any previous run state is discarded.
func (e *Engine) InitPopulation() {
	inputs, outputs := e.env.InputCount(), e.env.OutputCount()
	e.tracker = NewInnovationTracker(inputs + outputs)
	e.population = make([]*Genome, 0, e.config.Neat.PopulationSize)
	for i := 0; i < e.config.Neat.PopulationSize; i++ {
		g := NewGenome(e.newGenomeID(), inputs, outputs, e.config.Genome.Activation)
		g.SeedConnections(e.rng, e.tracker, 1+e.rng.Intn(2))
		e.population = append(e.population, g)
	}
	e.displayed = e.population
	e.species = nil
	e.best = nil
	e.bestStale = false
	e.history = nil
	e.generation = 0
	e.state = StateInitialized
	e.logger.Info("population initialized", "size", len(e.population), "inputs", inputs, "outputs", outputs)
}

func (e *Engine) newGenomeID() int {
	id := e.nextGenomeID
	e.nextGenomeID++
	return id
}

// EvolveOneGeneration evaluates the current population, speciates it, shares
// fitness, culls stale species and replaces the population with the next
// generation. The population is only replaced once reproduction completes.
func (e *Engine) EvolveOneGeneration(ctx context.Context, onProgress ProgressFunc) (GenerationStats, error) {
	if e.state == StateUninitialized {
		return GenerationStats{}, ErrNotInitialized
	}
	start := time.Now()

	// 1. Evaluate Fitness
	e.state = StateEvaluating
	if err := e.evaluate(ctx, onProgress); err != nil {
		e.state = StateInitialized
		return GenerationStats{}, fmt.Errorf("generation %d: %w", e.generation, err)
	}

	// 2. Speciate and share fitness
	e.state = StateSpeciating
	e.speciate()
	for _, sp := range e.species {
		sp.ShareFitness()
		sp.UpdateStaleness()
	}

	// 3. Track the best genome and cull stale species
	champion := e.populationBest()
	if e.best == nil || e.bestStale || champion.Fitness > e.best.Fitness {
		e.best = champion.Clone(champion.ID)
		e.bestStale = false
		e.logger.Debug("new best genome", "genome", champion.ID, "fitness", champion.Fitness)
	}
	survivors, culled := cullStaleSpecies(e.species, champion, e.config.Species.MaxStaleGenerations)
	for _, sp := range culled {
		e.logger.Debug("species removed due to stagnation", "species", sp.ID, "stale", sp.StaleGenerations)
	}
	if len(survivors) == 0 {
		sp := NewSpecies(e.nextSpeciesID, champion)
		e.nextSpeciesID++
		sp.AddMember(champion)
		sp.ShareFitness()
		survivors = []*Species{sp}
		e.logger.Warn("all species extinct, reseeding around the best genome", "genome", champion.ID)
	}
	e.species = survivors

	// 4. Snapshot for display and record stats
	e.displayed = e.population
	stats := e.recordStats(champion)

	// 5. Reproduce
	e.state = StateReproducing
	next := e.createNextGeneration(champion)
	for _, sp := range e.species {
		sp.RefreshRepresentative(e.rng)
	}

	e.population = next
	e.generation++
	e.state = StateInitialized

	e.logger.Info("generation complete",
		"gen", stats.Generation,
		"best", stats.Best,
		"avg", stats.Avg,
		"species", stats.SpeciesCount,
		"elapsed", time.Since(start))
	return stats, nil
}

// evaluate scores every genome of the current population. Evaluate calls run on
// up to EvalWorkers goroutines; results are merged by index before speciation.
func (e *Engine) evaluate(ctx context.Context, onProgress ProgressFunc) error {
	population := e.population
	total := len(population)
	fitness := make([]float64, total)
	interval := e.config.Neat.ProgressInterval

	var (
		progressMu sync.Mutex
		done       int
	)
	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(e.config.Neat.EvalWorkers)
	for i, genome := range population {
		i, genome := i, genome
		group.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("evaluate genome %d: panic: %v", genome.ID, r)
				}
			}()
			if err := gctx.Err(); err != nil {
				return err
			}
			score, err := e.env.Evaluate(gctx, genome)
			if err != nil {
				return fmt.Errorf("evaluate genome %d: %w", genome.ID, err)
			}
			fitness[i] = sanitizeFitness(score)
			e.logger.Log(gctx, logging.LevelTrace, "genome evaluated", "genome", genome.ID, "fitness", fitness[i])

			progressMu.Lock()
			done++
			if onProgress != nil && (done%interval == 0 || done == total) {
				onProgress(done, total)
			}
			progressMu.Unlock()
			return nil
		})
		if (i+1)%interval == 0 {
			runtime.Gosched() // Let progress consumers run between batches.
		}
	}
	if err := group.Wait(); err != nil {
		return err
	}

	for i, genome := range population {
		genome.Fitness = fitness[i]
		genome.AdjustedFitness = 0
	}
	return nil
}

// sanitizeFitness maps NaN, infinite and negative scores into [0, MaxFloat64].
func sanitizeFitness(score float64) float64 {
	if math.IsNaN(score) || score < 0 {
		return 0
	}
	if math.IsInf(score, 1) {
		return math.MaxFloat64
	}
	return score
}

// speciate assigns each genome to the first species whose representative is
// within the compatibility threshold, founding a new species otherwise.
func (e *Engine) speciate() {
	coefficients := e.config.Coefficients()
	threshold := e.config.Species.CompatibilityThreshold

	for _, sp := range e.species {
		sp.Members = nil
		sp.parents = nil
	}
	distances := make([]float64, 0, len(e.population))
	for _, g := range e.population {
		placed := false
		for _, sp := range e.species {
			d := sp.Representative.Compatibility(g, coefficients)
			distances = append(distances, d)
			if d < threshold {
				sp.AddMember(g)
				placed = true
				break
			}
		}
		if !placed {
			sp := NewSpecies(e.nextSpeciesID, g)
			e.nextSpeciesID++
			sp.AddMember(g)
			e.species = append(e.species, sp)
			e.logger.Debug("created new species", "species", sp.ID, "representative", g.ID)
		}
	}

	alive := e.species[:0]
	for _, sp := range e.species {
		if len(sp.Members) == 0 {
			e.logger.Debug("species died out", "species", sp.ID)
			continue
		}
		alive = append(alive, sp)
	}
	e.species = alive

	if len(distances) > 0 {
		d := summarize(distances)
		e.logger.Debug("speciated",
			"species", len(e.species),
			"meanDistance", d.Mean,
			"stdevDistance", d.Stdev)
	}
}

// populationBest returns the genome with the highest raw fitness in the current population.
func (e *Engine) populationBest() *Genome {
	var best *Genome
	for _, g := range e.population {
		if best == nil || g.Fitness > best.Fitness {
			best = g
		}
	}
	return best
}

func (e *Engine) recordStats(champion *Genome) GenerationStats {
	fitnesses := make([]float64, len(e.population))
	for i, g := range e.population {
		fitnesses[i] = g.Fitness
	}
	fitness := summarize(fitnesses)
	stats := GenerationStats{
		Generation:              e.generation,
		Best:                    fitness.Max,
		Avg:                     fitness.Mean,
		Worst:                   fitness.Min,
		SpeciesCount:            len(e.species),
		ChampionNodeCount:       len(champion.Nodes),
		ChampionConnectionCount: champion.EnabledConnections(),
		PopulationSize:          len(e.population),
	}
	e.history = append(e.history, stats)
	if overflow := len(e.history) - e.config.Neat.HistoryCap; overflow > 0 {
		e.history = append([]GenerationStats(nil), e.history[overflow:]...)
	}
	return stats
}

// UpdateConfig applies a partial configuration. A population size change
// re-initializes the run and reports true; an activation change re-stamps the
// existing genomes without discarding their weights.
func (e *Engine) UpdateConfig(patch ConfigPatch) bool {
	old := e.config
	patch.Apply(&e.config)

	if patch.Seed != nil && e.config.Neat.Seed != old.Neat.Seed {
		e.rng = newRand(e.config.Neat.Seed)
	}
	if e.config.Environment.MaxStepsPerEval != old.Environment.MaxStepsPerEval {
		if limiter, ok := e.env.(StepLimiter); ok {
			limiter.SetMaxSteps(e.config.Environment.MaxStepsPerEval)
			e.ResetBest()
		}
	}
	if e.config.Neat.PopulationSize != old.Neat.PopulationSize && e.state != StateUninitialized {
		e.InitPopulation()
		return true
	}
	if e.config.Genome.Activation != old.Genome.Activation {
		e.restampActivation(e.config.Genome.Activation)
		e.ResetBest()
	}
	return false
}

// ResetBest marks the recorded best genome as scored under an outdated
// fitness landscape, such as an edited environment. The champion of the next
// evaluated generation replaces it whatever its fitness.
func (e *Engine) ResetBest() {
	if e.best != nil {
		e.bestStale = true
	}
}

func (e *Engine) restampActivation(name string) {
	seen := make(map[*Genome]bool)
	restamp := func(g *Genome) {
		if g == nil || seen[g] {
			return
		}
		seen[g] = true
		g.SetActivation(name)
	}
	for _, g := range e.population {
		restamp(g)
	}
	for _, g := range e.displayed {
		restamp(g)
	}
	for _, sp := range e.species {
		restamp(sp.Representative)
	}
	restamp(e.best)
}

// Config returns a copy of the active configuration.
func (e *Engine) Config() Config { return e.config }

// Environment returns the environment the engine evaluates against.
func (e *Engine) Environment() Environment { return e.env }

// Generation returns the number of completed generations.
func (e *Engine) Generation() int { return e.generation }

// State returns the current generation state.
func (e *Engine) State() EngineState { return e.state }

// Population returns the genomes awaiting evaluation.
func (e *Engine) Population() []*Genome {
	return append([]*Genome(nil), e.population...)
}

// Species returns the species of the last evaluated generation.
func (e *Engine) Species() []*Species {
	return append([]*Species(nil), e.species...)
}

// History returns the recorded generation stats, oldest first.
func (e *Engine) History() []GenerationStats {
	return append([]GenerationStats(nil), e.history...)
}

// Best returns a copy of the best genome found so far, or nil before the first generation.
func (e *Engine) Best() *Genome {
	if e.best == nil {
		return nil
	}
	return e.best.Clone(e.best.ID)
}

// Tracker returns the innovation tracker of the run.
func (e *Engine) Tracker() *InnovationTracker { return e.tracker }

// Genome returns a copy of the genome with the given id from the current or
// last evaluated generation, or the best genome.
func (e *Engine) Genome(id int) (*Genome, error) {
	for _, set := range [][]*Genome{e.population, e.displayed} {
		for _, g := range set {
			if g.ID == id {
				return g.Clone(g.ID), nil
			}
		}
	}
	if e.best != nil && e.best.ID == id {
		return e.best.Clone(id), nil
	}
	return nil, fmt.Errorf("%w: %d", ErrUnknownGenome, id)
}
