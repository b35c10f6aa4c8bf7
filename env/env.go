// Package env provides the tasks genomes are evolved against.
//
// Every environment satisfies neat.Environment. Environments with tunable
// worlds also implement Reconfigurer, and those that can show one genome's
// behaviour step by step implement Replayer. Evaluate is safe for concurrent
// use; reconfiguration takes effect for evaluations that start afterwards.
package env

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/baldhumanity/neatlab/neat"
)

// ErrUnknownEnvironment is returned by New for an unregistered name.
var ErrUnknownEnvironment = errors.New("env: unknown environment")

// Step budget bounds, matching the engine's maxStepsPerEval range.
const (
	MinSteps = 160
	MaxSteps = 3000
)

// Point is a position or vector in world coordinates.
type Point struct {
	X float64 `yaml:"x" json:"x"`
	Y float64 `yaml:"y" json:"y"`
}

// Circle is a round obstacle.
type Circle struct {
	X float64 `yaml:"x" json:"x"`
	Y float64 `yaml:"y" json:"y"`
	R float64 `yaml:"r" json:"r"`
}

// Settings is the host-facing environment configuration. Zero values mean
// "keep the current value" when passed to Configure.
type Settings struct {
	Name           string   `yaml:"name" json:"name,omitempty"`
	Seed           int64    `yaml:"seed" json:"seed,omitempty"`
	Trials         int      `yaml:"trials" json:"trials,omitempty"`
	MaxSteps       int      `yaml:"maxSteps" json:"maxSteps,omitempty"`
	Width          float64  `yaml:"width" json:"width,omitempty"`
	Height         float64  `yaml:"height" json:"height,omitempty"`
	Mode           string   `yaml:"mode" json:"mode,omitempty"`
	Obstacles      []Circle `yaml:"obstacles" json:"obstacles,omitempty"`
	Targets        []Point  `yaml:"targets" json:"targets,omitempty"`
	ReactionWindow int      `yaml:"reactionWindow" json:"reactionWindow,omitempty"`
}

// Reconfigurer is implemented by environments whose world can be edited by the host.
// Invalid values are clamped; an error means the request could not be applied at all.
type Reconfigurer interface {
	Configure(s Settings) (sizeChanged bool, err error)
}

// Replayer is implemented by environments that can record one genome's run.
type Replayer interface {
	Replay(g *neat.Genome) *Replay
}

// Sizer is implemented by environments with a world size.
type Sizer interface {
	Size() (width, height float64)
}

// Replay is a frame-by-frame record of one trial.
type Replay struct {
	Environment string   `json:"environment"`
	Width       float64  `json:"width,omitempty"`
	Height      float64  `json:"height,omitempty"`
	Obstacles   []Circle `json:"obstacles,omitempty"`
	Targets     []Point  `json:"targets,omitempty"`
	Frames      []Frame  `json:"frames"`
	Score       float64  `json:"score"`
}

// sanitize makes every recorded number finite so the replay encodes as JSON.
// Unbounded recurrent networks can drive outputs to infinity or NaN.
func (r *Replay) sanitize() *Replay {
	r.Score = finiteValue(r.Score)
	for i := range r.Frames {
		for j, v := range r.Frames[i].Outputs {
			r.Frames[i].Outputs[j] = finiteValue(v)
		}
	}
	return r
}

// Frame is the state after one simulation step.
type Frame struct {
	Step     int       `json:"step"`
	Position *Point    `json:"position,omitempty"`
	Velocity *Point    `json:"velocity,omitempty"`
	Target   int       `json:"target,omitempty"`
	Stimulus bool      `json:"stimulus,omitempty"`
	Fired    bool      `json:"fired,omitempty"`
	Outputs  []float64 `json:"outputs"`
}

// Factory builds an environment from settings.
type Factory func(s Settings) (neat.Environment, error)

var registry = map[string]Factory{
	"xor": func(Settings) (neat.Environment, error) {
		return NewXOR(), nil
	},
	"reflex": func(s Settings) (neat.Environment, error) {
		return NewReflex(s), nil
	},
	"seeker": func(s Settings) (neat.Environment, error) {
		return NewSeeker(s)
	},
}

// New builds the environment registered under name.
func New(name string, s Settings) (neat.Environment, error) {
	factory, ok := registry[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEnvironment, name)
	}
	return factory(s)
}

// Names lists the registered environments in sorted order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func clampSteps(steps int) int {
	if steps < MinSteps {
		return MinSteps
	}
	if steps > MaxSteps {
		return MaxSteps
	}
	return steps
}

func clampInt(v, lo, hi int) int {
	return max(lo, min(v, hi))
}

func clampFloat(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(v, hi))
}

func finite(values ...float64) bool {
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// finiteValue maps NaN to 0 and each infinity to the largest float of its sign.
func finiteValue(v float64) float64 {
	switch {
	case math.IsNaN(v):
		return 0
	case math.IsInf(v, 1):
		return math.MaxFloat64
	case math.IsInf(v, -1):
		return -math.MaxFloat64
	}
	return v
}

// trialSeed derives a distinct, stable seed for each trial.
func trialSeed(seed int64, trial int) int64 {
	return seed*1_000_003 + int64(trial)*7919 + 1
}
