package env

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baldhumanity/neatlab/neat"
)

// reflexPlayer fires exactly when the stimulus is on.
func reflexPlayer() *neat.Genome {
	g := neat.NewGenome(1, 3, 1, "tanh")
	g.Nodes[3].Bias = -1
	g.Connections = []neat.ConnectionGene{
		{InNodeID: 0, OutNodeID: 3, Weight: 2, Enabled: true, Innovation: 0},
	}
	return g
}

func TestReflexScores(t *testing.T) {
	r := NewReflex(Settings{Seed: 5})
	ctx := context.Background()

	idle, err := r.Evaluate(ctx, neat.NewGenome(1, 3, 1, "tanh"))
	require.NoError(t, err)
	assert.InDelta(t, defaultReflexTrials*reflexWaitReward, idle, 1e-12)

	eager := neat.NewGenome(2, 3, 1, "tanh")
	eager.Nodes[3].Bias = 1
	early, err := r.Evaluate(ctx, eager)
	require.NoError(t, err)
	assert.Zero(t, early, "firing on the first step earns nothing")

	perfect, err := r.Evaluate(ctx, reflexPlayer())
	require.NoError(t, err)
	assert.InDelta(t, defaultReflexTrials*(reflexWaitReward+reflexFastReward), perfect, 1e-12)
}

func TestReflexIsDeterministic(t *testing.T) {
	tracker := neat.NewInnovationTracker(4)
	g := neat.NewGenome(1, 3, 1, "tanh")
	g.Connections = []neat.ConnectionGene{
		{InNodeID: 0, OutNodeID: 3, Weight: 0.7, Enabled: true, Innovation: tracker.GetInnovation(0, 3)},
		{InNodeID: 1, OutNodeID: 3, Weight: 1.3, Enabled: true, Innovation: tracker.GetInnovation(1, 3)},
		{InNodeID: 2, OutNodeID: 3, Weight: -0.9, Enabled: true, Innovation: tracker.GetInnovation(2, 3)},
	}

	a := NewReflex(Settings{Seed: 9})
	b := NewReflex(Settings{Seed: 9})
	first, err := a.Evaluate(context.Background(), g)
	require.NoError(t, err)
	second, err := b.Evaluate(context.Background(), g)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.GreaterOrEqual(t, first, 0.0)
	assert.LessOrEqual(t, first, float64(defaultReflexTrials)*(reflexWaitReward+reflexFastReward))
}

func TestReflexConfigureClamps(t *testing.T) {
	r := NewReflex(Settings{})

	changed, err := r.Configure(Settings{Trials: 100, ReactionWindow: 1, MaxSteps: 10})
	require.NoError(t, err)
	assert.False(t, changed)

	p := r.params()
	assert.Equal(t, 20, p.trials)
	assert.Equal(t, 2, p.window)
	assert.Equal(t, MinSteps, p.maxSteps)

	r.SetMaxSteps(99_999)
	assert.Equal(t, MaxSteps, r.params().maxSteps)

	idle, err := r.Evaluate(context.Background(), neat.NewGenome(1, 3, 1, "tanh"))
	require.NoError(t, err)
	assert.InDelta(t, 20*reflexWaitReward, idle, 1e-12)
}

func TestStimulusDelayRange(t *testing.T) {
	p := reflexParams{seed: 3, trials: 4, maxSteps: 400, window: 12}
	steps := p.maxSteps / p.trials
	for trial := 0; trial < 20; trial++ {
		delay := stimulusDelay(p, trial)
		assert.GreaterOrEqual(t, delay, steps/8)
		assert.Less(t, delay, steps/2)
		assert.Equal(t, delay, stimulusDelay(p, trial))
	}
}

func TestReflexReplay(t *testing.T) {
	r := NewReflex(Settings{Seed: 2})
	replay := r.Replay(reflexPlayer())

	delay := stimulusDelay(r.params(), 0)
	require.Len(t, replay.Frames, delay+1)
	last := replay.Frames[delay]
	assert.True(t, last.Stimulus)
	assert.True(t, last.Fired)
	assert.False(t, replay.Frames[0].Stimulus)
	assert.InDelta(t, reflexWaitReward+reflexFastReward, replay.Score, 1e-12)
}
