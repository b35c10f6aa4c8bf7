package env

import (
	"context"
	"math/rand"
	"sync"

	"github.com/baldhumanity/neatlab/neat"
)

const (
	defaultReflexTrials = 4
	defaultReflexWindow = 12

	// Score components of one trial.
	reflexWaitReward = 0.5 // Held still until the stimulus
	reflexFastReward = 1.5 // Fired on the first step of the stimulus
	reflexLateReward = 0.1 // Fired after the reaction window closed
	reflexFireOutput = 0.0 // Output above this counts as firing
)

// Reflex is a reaction-time game. Each trial a stimulus switches on after a
// seeded random delay; the genome must fire only after it appears, and the
// sooner it fires inside the reaction window the higher it scores. Firing
// early ends the trial with partial credit for the time waited.
//
// Inputs: stimulus (0/1), steps since stimulus scaled by the window, constant 1.
// Output: fire when the value is above zero.
type Reflex struct {
	mu       sync.RWMutex
	seed     int64
	trials   int
	maxSteps int
	window   int
}

type reflexParams struct {
	seed     int64
	trials   int
	maxSteps int
	window   int
}

// NewReflex creates the reflex game from settings, clamping every value.
func NewReflex(s Settings) *Reflex {
	r := &Reflex{
		seed:     s.Seed,
		trials:   defaultReflexTrials,
		maxSteps: MinSteps * 2,
		window:   defaultReflexWindow,
	}
	r.apply(s)
	return r
}

func (r *Reflex) InputCount() int  { return 3 }
func (r *Reflex) OutputCount() int { return 1 }

// SetMaxSteps bounds the total steps of one evaluation across all trials.
func (r *Reflex) SetMaxSteps(steps int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.maxSteps = clampSteps(steps)
}

// Configure applies trials, reaction window, seed and step budget.
func (r *Reflex) Configure(s Settings) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.apply(s)
	return false, nil
}

func (r *Reflex) apply(s Settings) {
	if s.Seed != 0 {
		r.seed = s.Seed
	}
	if s.Trials != 0 {
		r.trials = clampInt(s.Trials, 1, 20)
	}
	if s.MaxSteps != 0 {
		r.maxSteps = clampSteps(s.MaxSteps)
	}
	if s.ReactionWindow != 0 {
		r.window = clampInt(s.ReactionWindow, 2, 60)
	}
}

func (r *Reflex) params() reflexParams {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return reflexParams{seed: r.seed, trials: r.trials, maxSteps: r.maxSteps, window: r.window}
}

// Evaluate plays every trial and returns the summed trial scores.
func (r *Reflex) Evaluate(ctx context.Context, g *neat.Genome) (float64, error) {
	p := r.params()
	total := 0.0
	for trial := 0; trial < p.trials; trial++ {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		total += playReflex(g, p, trial, nil)
	}
	return total, nil
}

// Replay records the first trial.
func (r *Reflex) Replay(g *neat.Genome) *Replay {
	p := r.params()
	replay := &Replay{Environment: "reflex"}
	replay.Score = playReflex(g, p, 0, func(f Frame) {
		replay.Frames = append(replay.Frames, f)
	})
	return replay.sanitize()
}

// stimulusDelay picks the step at which the stimulus of a trial appears.
func stimulusDelay(p reflexParams, trial int) int {
	steps := p.maxSteps / p.trials
	rng := rand.New(rand.NewSource(trialSeed(p.seed, trial)))
	lo, hi := steps/8, steps/2
	if hi <= lo {
		return lo
	}
	return lo + rng.Intn(hi-lo)
}

func playReflex(g *neat.Genome, p reflexParams, trial int, record func(Frame)) float64 {
	steps := p.maxSteps / p.trials
	delay := stimulusDelay(p, trial)
	window := float64(p.window)

	g.ResetState()
	inputs := make([]float64, 3)
	for step := 0; step < steps; step++ {
		stimulus := step >= delay
		inputs[0], inputs[1], inputs[2] = 0, 0, 1
		if stimulus {
			inputs[0] = 1
			inputs[1] = float64(step-delay) / window
		}
		outputs := g.Activate(inputs)
		fired := outputs[0] > reflexFireOutput
		if record != nil {
			record(Frame{Step: step, Stimulus: stimulus, Fired: fired, Outputs: outputs})
		}
		if !fired {
			continue
		}
		if !stimulus {
			return reflexWaitReward * float64(step) / float64(max(delay, 1))
		}
		reaction := float64(step - delay)
		if reaction < window {
			return reflexWaitReward + reflexFastReward*(1-reaction/window)
		}
		return reflexWaitReward + reflexLateReward
	}
	// Never fired: credit for waiting only.
	return reflexWaitReward
}
