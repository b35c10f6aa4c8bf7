package neat

import (
	"bytes"
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baldhumanity/neatlab/logging"
)

// outputEnv scores a genome by its single output for inputs (1, 1), so a
// genome's score depends only on its genes.
type outputEnv struct {
	mu       sync.Mutex
	maxSteps int
	failOn   int // Fail on this call number when > 0
	calls    int
}

func (e *outputEnv) InputCount() int  { return 2 }
func (e *outputEnv) OutputCount() int { return 1 }

func (e *outputEnv) SetMaxSteps(steps int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.maxSteps = steps
}

func (e *outputEnv) Evaluate(ctx context.Context, g *Genome) (float64, error) {
	e.mu.Lock()
	e.calls++
	call := e.calls
	e.mu.Unlock()
	if e.failOn > 0 && call == e.failOn {
		return 0, errTaskFailed
	}
	g.ResetState()
	return 1 + g.Activate([]float64{1, 1})[0], nil
}

var errTaskFailed = errors.New("task failed")

func testConfig(popSize int, seed int64) Config {
	cfg := DefaultConfig()
	cfg.Neat.PopulationSize = popSize
	cfg.Neat.Seed = seed
	return cfg
}

func newTestEngine(t *testing.T, cfg Config, env Environment) *Engine {
	t.Helper()
	e, err := NewEngine(cfg, env)
	require.NoError(t, err)
	e.InitPopulation()
	return e
}

func TestNewEngineValidatesEnvironment(t *testing.T) {
	_, err := NewEngine(DefaultConfig(), nil)
	assert.Error(t, err)

	e, err := NewEngine(testConfig(5, 1), &outputEnv{})
	require.NoError(t, err)
	assert.Equal(t, 20, e.Config().Neat.PopulationSize, "population size is clamped")
	assert.Equal(t, StateUninitialized, e.State())
}

func TestNewEngineForwardsStepLimit(t *testing.T) {
	env := &outputEnv{}
	cfg := testConfig(20, 1)
	cfg.Environment.MaxStepsPerEval = 900

	e, err := NewEngine(cfg, env)
	require.NoError(t, err)
	assert.Equal(t, 900, env.maxSteps)

	steps := 5000
	e.UpdateConfig(ConfigPatch{MaxStepsPerEval: &steps})
	assert.Equal(t, 3000, env.maxSteps)
}

func TestEvolveBeforeInitFails(t *testing.T) {
	e, err := NewEngine(testConfig(20, 1), &outputEnv{})
	require.NoError(t, err)

	_, err = e.EvolveOneGeneration(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestInitPopulationBuildsMinimalGenomes(t *testing.T) {
	e := newTestEngine(t, testConfig(30, 4), &outputEnv{})

	population := e.Population()
	require.Len(t, population, 30)
	ids := map[int]bool{}
	for _, g := range population {
		assert.False(t, ids[g.ID], "duplicate genome id %d", g.ID)
		ids[g.ID] = true
		assert.Len(t, g.Nodes, 3)
		assert.GreaterOrEqual(t, len(g.Connections), 1)
		assert.LessOrEqual(t, len(g.Connections), 2)
		assert.NoError(t, g.Validate())
	}
	assert.Equal(t, StateInitialized, e.State())
	assert.Equal(t, 0, e.Generation())
	assert.Nil(t, e.Best())
}

func TestBestFitnessNeverDecreases(t *testing.T) {
	e := newTestEngine(t, testConfig(20, 42), &outputEnv{})

	for i := 0; i < 5; i++ {
		stats, err := e.EvolveOneGeneration(context.Background(), nil)
		require.NoError(t, err)
		assert.Equal(t, i, stats.Generation)
		assert.Len(t, e.Population(), 20)
	}

	history := e.History()
	require.Len(t, history, 5)
	for i := 1; i < len(history); i++ {
		assert.GreaterOrEqual(t, history[i].Best, history[i-1].Best, "generation %d", i)
	}
	assert.Equal(t, 5, e.Generation())
	require.NotNil(t, e.Best())
	assert.Equal(t, history[4].Best, e.Best().Fitness)
}

func TestGenerationSharesFitnessWithinSpecies(t *testing.T) {
	e := newTestEngine(t, testConfig(40, 9), &outputEnv{})
	for i := 0; i < 3; i++ {
		_, err := e.EvolveOneGeneration(context.Background(), nil)
		require.NoError(t, err)
	}

	species := e.Species()
	require.NotEmpty(t, species)
	for _, sp := range species {
		require.NotEmpty(t, sp.Members)
		for _, g := range sp.Members {
			assert.Equal(t, sp.ID, g.SpeciesID)
			assert.InDelta(t, g.Fitness/float64(len(sp.Members)), g.AdjustedFitness, 1e-12)
		}
	}
}

func TestNextGenerationStartsWithUnchangedChampion(t *testing.T) {
	e := newTestEngine(t, testConfig(25, 5), &outputEnv{})

	stats, err := e.EvolveOneGeneration(context.Background(), nil)
	require.NoError(t, err)

	snap := e.Snapshot(1)
	require.Len(t, snap.PopulationGenomes, 1)
	champion := snap.PopulationGenomes[0]
	assert.Equal(t, stats.Best, champion.Fitness)

	elite := e.Population()[0]
	assert.NotEqual(t, champion.ID, elite.ID)
	assert.Equal(t, champion.Nodes, elite.Nodes)
	assert.Equal(t, champion.Connections, elite.Connections)
	assert.Zero(t, elite.Fitness)
}

func TestEvaluationErrorKeepsPopulation(t *testing.T) {
	env := &outputEnv{failOn: 3}
	cfg := testConfig(20, 2)
	e := newTestEngine(t, cfg, env)
	before := e.Population()

	_, err := e.EvolveOneGeneration(context.Background(), nil)
	require.ErrorIs(t, err, errTaskFailed)
	assert.ErrorContains(t, err, "generation 0")

	after := e.Population()
	require.Len(t, after, len(before))
	for i := range before {
		assert.Same(t, before[i], after[i])
	}
	assert.Equal(t, 0, e.Generation())
	assert.Equal(t, StateInitialized, e.State())
	assert.Empty(t, e.History())

	// The engine keeps working once the environment recovers.
	_, err = e.EvolveOneGeneration(context.Background(), nil)
	assert.NoError(t, err)
	assert.Equal(t, 1, e.Generation())
}

func TestEvolveHonorsCancelledContext(t *testing.T) {
	e := newTestEngine(t, testConfig(20, 2), &outputEnv{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.EvolveOneGeneration(ctx, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, e.Generation())
}

func TestProgressIsReported(t *testing.T) {
	e := newTestEngine(t, testConfig(20, 3), &outputEnv{})

	var calls [][2]int
	_, err := e.EvolveOneGeneration(context.Background(), func(evaluated, total int) {
		calls = append(calls, [2]int{evaluated, total})
	})
	require.NoError(t, err)
	assert.Equal(t, [][2]int{{8, 20}, {16, 20}, {20, 20}}, calls)
}

func TestParallelEvaluationMatchesSequential(t *testing.T) {
	run := func(workers int) []GenerationStats {
		cfg := testConfig(30, 11)
		cfg.Neat.EvalWorkers = workers
		e := newTestEngine(t, cfg, &outputEnv{})
		for i := 0; i < 4; i++ {
			_, err := e.EvolveOneGeneration(context.Background(), nil)
			require.NoError(t, err)
		}
		return e.History()
	}

	assert.Equal(t, run(1), run(8))
}

func TestHistoryIsCapped(t *testing.T) {
	cfg := testConfig(20, 6)
	cfg.Neat.HistoryCap = 10
	e := newTestEngine(t, cfg, &outputEnv{})
	for i := 0; i < 12; i++ {
		_, err := e.EvolveOneGeneration(context.Background(), nil)
		require.NoError(t, err)
	}

	history := e.History()
	require.Len(t, history, 10)
	assert.Equal(t, 2, history[0].Generation)
	assert.Equal(t, 11, history[9].Generation)
}

func TestUpdateConfigPopulationSizeReinitializes(t *testing.T) {
	e := newTestEngine(t, testConfig(20, 8), &outputEnv{})
	_, err := e.EvolveOneGeneration(context.Background(), nil)
	require.NoError(t, err)

	size := 35
	assert.True(t, e.UpdateConfig(ConfigPatch{PopulationSize: &size}))
	assert.Len(t, e.Population(), 35)
	assert.Equal(t, 0, e.Generation())
	assert.Empty(t, e.History())
	assert.Nil(t, e.Best())

	threshold := 2.5
	assert.False(t, e.UpdateConfig(ConfigPatch{CompatibilityThreshold: &threshold}))
	assert.Equal(t, 2.5, e.Config().Species.CompatibilityThreshold)
}

func TestUpdateConfigActivationKeepsWeights(t *testing.T) {
	e := newTestEngine(t, testConfig(20, 8), &outputEnv{})
	_, err := e.EvolveOneGeneration(context.Background(), nil)
	require.NoError(t, err)

	before := e.Population()[3].Clone(0)
	relu := "relu"
	assert.False(t, e.UpdateConfig(ConfigPatch{Activation: &relu}))

	for _, g := range e.Population() {
		assert.Equal(t, "relu", g.Activation)
	}
	assert.Equal(t, "relu", e.Best().Activation)
	assert.Equal(t, before.Connections, e.Population()[3].Connections)
	assert.Equal(t, 1, e.Generation())
}

func TestGenomeLookup(t *testing.T) {
	e := newTestEngine(t, testConfig(20, 8), &outputEnv{})
	first := e.Population()[0]

	g, err := e.Genome(first.ID)
	require.NoError(t, err)
	assert.Equal(t, first.Connections, g.Connections)
	assert.NotSame(t, first, g)

	_, err = e.Genome(-1)
	assert.ErrorIs(t, err, ErrUnknownGenome)

	// Genomes of the last evaluated generation stay reachable.
	_, err = e.EvolveOneGeneration(context.Background(), nil)
	require.NoError(t, err)
	_, err = e.Genome(first.ID)
	assert.NoError(t, err)
}

func TestSnapshotLimitsVisibleGenomes(t *testing.T) {
	e := newTestEngine(t, testConfig(60, 13), &outputEnv{})

	snap := e.Snapshot(5)
	assert.Nil(t, snap.Stats)
	assert.Len(t, snap.Population, 60)
	assert.Len(t, snap.PopulationGenomes, 5)
	assert.Equal(t, "initialized", snap.State)

	_, err := e.EvolveOneGeneration(context.Background(), nil)
	require.NoError(t, err)

	snap = e.Snapshot(500)
	require.NotNil(t, snap.Stats)
	assert.Len(t, snap.PopulationGenomes, MaxVisibleGenomes)
	for i := 1; i < len(snap.PopulationGenomes); i++ {
		assert.GreaterOrEqual(t, snap.PopulationGenomes[i-1].Fitness, snap.PopulationGenomes[i].Fitness)
	}
	assert.NotEmpty(t, snap.Species)
	assert.Equal(t, 1, snap.Generation)
	assert.Empty(t, e.Snapshot(-3).PopulationGenomes)
}

func TestSanitizeFitness(t *testing.T) {
	tests := []struct {
		name  string
		score float64
		want  float64
	}{
		{"positive", 2.5, 2.5},
		{"negative", -1, 0},
		{"nan", math.NaN(), 0},
		{"infinite", math.Inf(1), math.MaxFloat64},
		{"negative infinite", math.Inf(-1), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, sanitizeFitness(tt.score))
		})
	}
}

type panicEnv struct{ outputEnv }

func (*panicEnv) Evaluate(context.Context, *Genome) (float64, error) {
	panic("simulator exploded")
}

func TestEvaluationPanicBecomesError(t *testing.T) {
	cfg := testConfig(20, 2)
	cfg.Neat.EvalWorkers = 4
	e := newTestEngine(t, cfg, &panicEnv{})

	_, err := e.EvolveOneGeneration(context.Background(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "simulator exploded")
	assert.Equal(t, 0, e.Generation())
}

func TestPopulationSizeHoldsAcrossSettings(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"defaults", func(*Config) {}},
		{"no survivors beyond the champion", func(c *Config) { c.Reproduction.SurvivalRate = 0 }},
		{"always crossover", func(c *Config) { c.Reproduction.CrossoverRate = 1 }},
		{"tight threshold", func(c *Config) { c.Species.CompatibilityThreshold = 0.5 }},
		{"everything at once", func(c *Config) {
			c.Reproduction.SurvivalRate = 0
			c.Reproduction.CrossoverRate = 1
			c.Reproduction.InterspeciesRate = 1
			c.Species.CompatibilityThreshold = 0.5
			c.Genome.AddNodeRate = 0.5
			c.Genome.AddConnectionRate = 0.8
		}},
	}
	for _, tc := range cases {
		for _, size := range []int{20, 37, 150} {
			for _, recurrent := range []bool{false, true} {
				cfg := testConfig(size, int64(size))
				cfg.Genome.AllowRecurrent = recurrent
				tc.mutate(&cfg)
				e := newTestEngine(t, cfg, &outputEnv{})

				for gen := 0; gen < 10; gen++ {
					stats, err := e.EvolveOneGeneration(context.Background(), nil)
					require.NoError(t, err)
					assert.Equal(t, size, stats.PopulationSize, "%s size=%d recurrent=%v", tc.name, size, recurrent)
					require.Len(t, e.Population(), size, "%s size=%d recurrent=%v gen=%d", tc.name, size, recurrent, gen)
				}
				for _, g := range e.Population() {
					require.NoError(t, g.Validate(), tc.name)
				}
			}
		}
	}
}

// scaledEnv multiplies outputEnv scores, so lowering the scale leaves old
// records unreachable.
type scaledEnv struct {
	outputEnv
	scale float64
}

func (e *scaledEnv) Evaluate(ctx context.Context, g *Genome) (float64, error) {
	score, err := e.outputEnv.Evaluate(ctx, g)
	return score * e.scale, err
}

func TestResetBestFollowsChangedLandscape(t *testing.T) {
	task := &scaledEnv{scale: 1}
	e := newTestEngine(t, testConfig(20, 5), task)
	ctx := context.Background()

	_, err := e.EvolveOneGeneration(ctx, nil)
	require.NoError(t, err)
	before := e.Best()
	require.NotNil(t, before)

	task.scale = 0.001
	e.ResetBest()
	stats, err := e.EvolveOneGeneration(ctx, nil)
	require.NoError(t, err)

	best := e.Best()
	assert.Equal(t, stats.Best, best.Fitness)
	assert.Less(t, best.Fitness, before.Fitness)
	snap := e.Snapshot(MaxVisibleGenomes)
	ids := map[int]bool{}
	for _, g := range snap.Population {
		ids[g.ID] = true
	}
	assert.True(t, ids[best.ID], "the best genome belongs to the evaluated generation")

	// Without a reset the record stands.
	task.scale = 0.0001
	_, err = e.EvolveOneGeneration(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, best.Fitness, e.Best().Fitness)
}

func TestActivationChangeReanchorsBest(t *testing.T) {
	e := newTestEngine(t, testConfig(20, 8), &outputEnv{})
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := e.EvolveOneGeneration(ctx, nil)
		require.NoError(t, err)
	}

	relu := "relu"
	e.UpdateConfig(ConfigPatch{Activation: &relu})
	stats, err := e.EvolveOneGeneration(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, stats.Best, e.Best().Fitness)
	assert.Equal(t, "relu", e.Best().Activation)
}

func TestEvaluationLogsEachGenomeAtTrace(t *testing.T) {
	var buf bytes.Buffer
	e, err := NewEngine(testConfig(20, 2), &outputEnv{}, WithLogger(logging.NewLogger("trace", &buf)))
	require.NoError(t, err)
	e.InitPopulation()

	_, err = e.EvolveOneGeneration(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 20, strings.Count(buf.String(), `level=TRACE msg="genome evaluated"`))

	buf.Reset()
	quiet, err := NewEngine(testConfig(20, 2), &outputEnv{}, WithLogger(logging.NewLogger("debug", &buf)))
	require.NoError(t, err)
	quiet.InitPopulation()
	_, err = quiet.EvolveOneGeneration(context.Background(), nil)
	require.NoError(t, err)
	assert.NotContains(t, buf.String(), "genome evaluated")
}
