package env

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"sync"

	"github.com/baldhumanity/neatlab/neat"
)

// Seeker task modes.
const (
	ModeReach   = "reach"   // Touch a single target
	ModeCollect = "collect" // Touch every target in order
)

// World limits. Host edits are clamped into these ranges.
const (
	minWorldSize    = 100.0
	maxWorldSize    = 2000.0
	maxObstacles    = 32
	maxTargets      = 16
	minObstacleSize = 5.0

	agentRadius  = 6.0
	targetRadius = 10.0
	maxSpeed     = 4.0
	thrust       = 0.6
	drag         = 0.9
)

// Seeker is a goal-seeking task: an agent in a Width x Height world steers
// with two thrust outputs towards targets while avoiding circular obstacles.
// Touching an obstacle ends the trial.
//
// Inputs: target direction (x, y), target distance, velocity (x, y), nearest
// obstacle direction scaled by proximity (x, y), time remaining.
type Seeker struct {
	mu        sync.RWMutex
	width     float64
	height    float64
	mode      string
	obstacles []Circle
	targets   []Point
	trials    int
	maxSteps  int
	seed      int64
}

// seekerWorld is an immutable copy of the world used by one evaluation.
type seekerWorld struct {
	width, height float64
	mode          string
	obstacles     []Circle
	targets       []Point
	trials        int
	maxSteps      int
	seed          int64
}

// NewSeeker creates a seeker world from settings. Missing obstacles and
// targets are placed from the seed.
func NewSeeker(s Settings) (*Seeker, error) {
	sk := &Seeker{
		width:    400,
		height:   300,
		mode:     ModeReach,
		trials:   3,
		maxSteps: 600,
		seed:     s.Seed,
	}
	if _, err := sk.apply(s); err != nil {
		return nil, err
	}
	if len(sk.targets) == 0 {
		sk.targets = sk.placeTargets()
	}
	if s.Obstacles == nil {
		sk.obstacles = sk.placeObstacles(3)
	}
	return sk, nil
}

func (sk *Seeker) InputCount() int  { return 8 }
func (sk *Seeker) OutputCount() int { return 2 }

// Size reports the world dimensions.
func (sk *Seeker) Size() (float64, float64) {
	sk.mu.RLock()
	defer sk.mu.RUnlock()
	return sk.width, sk.height
}

// SetMaxSteps bounds the steps of one trial.
func (sk *Seeker) SetMaxSteps(steps int) {
	sk.mu.Lock()
	defer sk.mu.Unlock()
	sk.maxSteps = clampSteps(steps)
}

// Configure edits the world. Sizes, positions and radii are clamped into the
// world; non-finite entries are dropped. An unknown mode is rejected.
func (sk *Seeker) Configure(s Settings) (bool, error) {
	sk.mu.Lock()
	defer sk.mu.Unlock()
	return sk.apply(s)
}

func (sk *Seeker) apply(s Settings) (bool, error) {
	mode := sk.mode
	if s.Mode != "" {
		mode = strings.ToLower(strings.TrimSpace(s.Mode))
		if mode != ModeReach && mode != ModeCollect {
			return false, fmt.Errorf("seeker: unknown mode %q", s.Mode)
		}
	}

	sizeChanged := false
	if s.Width != 0 || s.Height != 0 {
		width, height := sk.width, sk.height
		if s.Width != 0 {
			width = clampFloat(s.Width, minWorldSize, maxWorldSize)
		}
		if s.Height != 0 {
			height = clampFloat(s.Height, minWorldSize, maxWorldSize)
		}
		sizeChanged = width != sk.width || height != sk.height
		sk.width, sk.height = width, height
	}
	modeChanged := mode != sk.mode
	sk.mode = mode
	if s.Seed != 0 {
		sk.seed = s.Seed
	}
	if s.Trials != 0 {
		sk.trials = clampInt(s.Trials, 1, 10)
	}
	if s.MaxSteps != 0 {
		sk.maxSteps = clampSteps(s.MaxSteps)
	}

	if s.Obstacles != nil {
		sk.obstacles = sk.sanitizeObstacles(s.Obstacles)
	} else if sizeChanged {
		sk.obstacles = sk.sanitizeObstacles(sk.obstacles)
	}
	if s.Targets != nil {
		if targets := sk.sanitizeTargets(s.Targets); len(targets) > 0 {
			sk.targets = targets
		}
	} else if sizeChanged {
		sk.targets = sk.sanitizeTargets(sk.targets)
	}
	switch {
	case sk.mode == ModeReach && len(sk.targets) > 1:
		sk.targets = sk.targets[:1]
	case sk.mode == ModeCollect && modeChanged && s.Targets == nil && len(sk.targets) <= 1:
		// Reach mode kept only the first target.
		sk.targets = sk.placeTargets()
	}
	return sizeChanged, nil
}

func (sk *Seeker) sanitizeObstacles(in []Circle) []Circle {
	maxRadius := math.Min(sk.width, sk.height) / 4
	out := make([]Circle, 0, min(len(in), maxObstacles))
	for _, c := range in {
		if len(out) == maxObstacles {
			break
		}
		if !finite(c.X, c.Y, c.R) {
			continue
		}
		out = append(out, Circle{
			X: clampFloat(c.X, 0, sk.width),
			Y: clampFloat(c.Y, 0, sk.height),
			R: clampFloat(c.R, minObstacleSize, maxRadius),
		})
	}
	return out
}

func (sk *Seeker) sanitizeTargets(in []Point) []Point {
	out := make([]Point, 0, min(len(in), maxTargets))
	for _, p := range in {
		if len(out) == maxTargets {
			break
		}
		if !finite(p.X, p.Y) {
			continue
		}
		out = append(out, Point{
			X: clampFloat(p.X, targetRadius, sk.width-targetRadius),
			Y: clampFloat(p.Y, targetRadius, sk.height-targetRadius),
		})
	}
	return out
}

func (sk *Seeker) placeTargets() []Point {
	rng := rand.New(rand.NewSource(trialSeed(sk.seed, -1)))
	count := 1
	if sk.mode == ModeCollect {
		count = 3
	}
	targets := make([]Point, count)
	for i := range targets {
		targets[i] = Point{
			X: sk.width * (0.6 + 0.3*rng.Float64()),
			Y: sk.height * (0.1 + 0.8*rng.Float64()),
		}
	}
	return targets
}

func (sk *Seeker) placeObstacles(count int) []Circle {
	rng := rand.New(rand.NewSource(trialSeed(sk.seed, -2)))
	obstacles := make([]Circle, 0, count)
	for i := 0; i < count; i++ {
		obstacles = append(obstacles, Circle{
			X: sk.width * (0.3 + 0.4*rng.Float64()),
			Y: sk.height * (0.1 + 0.8*rng.Float64()),
			R: math.Min(sk.width, sk.height) * (0.04 + 0.06*rng.Float64()),
		})
	}
	return obstacles
}

func (sk *Seeker) world() seekerWorld {
	sk.mu.RLock()
	defer sk.mu.RUnlock()
	return seekerWorld{
		width:     sk.width,
		height:    sk.height,
		mode:      sk.mode,
		obstacles: append([]Circle(nil), sk.obstacles...),
		targets:   append([]Point(nil), sk.targets...),
		trials:    sk.trials,
		maxSteps:  sk.maxSteps,
		seed:      sk.seed,
	}
}

// Evaluate runs every trial and returns the summed trial scores.
func (sk *Seeker) Evaluate(ctx context.Context, g *neat.Genome) (float64, error) {
	w := sk.world()
	total := 0.0
	for trial := 0; trial < w.trials; trial++ {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		total += w.run(g, trial, nil)
	}
	return total, nil
}

// Replay records the first trial together with the world layout.
func (sk *Seeker) Replay(g *neat.Genome) *Replay {
	w := sk.world()
	replay := &Replay{
		Environment: "seeker",
		Width:       w.width,
		Height:      w.height,
		Obstacles:   w.obstacles,
		Targets:     w.targets,
	}
	replay.Score = w.run(g, 0, func(f Frame) {
		replay.Frames = append(replay.Frames, f)
	})
	return replay.sanitize()
}

// start picks a seeded start position clear of every obstacle.
func (w seekerWorld) start(trial int) Point {
	rng := rand.New(rand.NewSource(trialSeed(w.seed, trial)))
	for attempt := 0; attempt < 20; attempt++ {
		p := Point{
			X: w.width * (0.05 + 0.2*rng.Float64()),
			Y: w.height * (0.1 + 0.8*rng.Float64()),
		}
		if !w.collides(p) {
			return p
		}
	}
	return Point{X: agentRadius, Y: agentRadius}
}

func (w seekerWorld) collides(p Point) bool {
	for _, c := range w.obstacles {
		if math.Hypot(p.X-c.X, p.Y-c.Y) < c.R+agentRadius {
			return true
		}
	}
	return false
}

// sense builds the input vector for one step.
func (w seekerWorld) sense(inputs []float64, pos, vel, target Point, remaining float64) {
	diag := math.Hypot(w.width, w.height)
	dx, dy := target.X-pos.X, target.Y-pos.Y
	dist := math.Hypot(dx, dy)
	if dist > 0 {
		inputs[0], inputs[1] = dx/dist, dy/dist
	} else {
		inputs[0], inputs[1] = 0, 0
	}
	inputs[2] = dist / diag
	inputs[3], inputs[4] = vel.X/maxSpeed, vel.Y/maxSpeed

	inputs[5], inputs[6] = 0, 0
	nearest := math.Inf(1)
	for _, c := range w.obstacles {
		ox, oy := c.X-pos.X, c.Y-pos.Y
		centre := math.Hypot(ox, oy)
		gap := centre - c.R - agentRadius
		if gap >= nearest || centre == 0 {
			continue
		}
		nearest = gap
		proximity := 1 - clampFloat(gap/(diag/4), 0, 1)
		inputs[5], inputs[6] = ox/centre*proximity, oy/centre*proximity
	}
	inputs[7] = remaining
}

// run simulates one trial and returns its score. In reach mode a trial scores
// 1 plus the fraction of time left when the target is touched, or its
// closeness otherwise. In collect mode every target touched adds 1.
func (w seekerWorld) run(g *neat.Genome, trial int, record func(Frame)) float64 {
	if len(w.targets) == 0 {
		return 0
	}
	diag := math.Hypot(w.width, w.height)
	pos := w.start(trial)
	vel := Point{}
	current := 0
	inputs := make([]float64, 8)
	crashed := false

	g.ResetState()
	step := 0
	for ; step < w.maxSteps; step++ {
		target := w.targets[current]
		remaining := 1 - float64(step)/float64(w.maxSteps)
		w.sense(inputs, pos, vel, target, remaining)
		outputs := g.Activate(inputs)

		vel.X = drag*vel.X + thrust*clampFloat(outputs[0], -1, 1)
		vel.Y = drag*vel.Y + thrust*clampFloat(outputs[1], -1, 1)
		if speed := math.Hypot(vel.X, vel.Y); speed > maxSpeed {
			vel.X, vel.Y = vel.X/speed*maxSpeed, vel.Y/speed*maxSpeed
		}
		pos.X += vel.X
		pos.Y += vel.Y
		if pos.X < 0 || pos.X > w.width {
			pos.X = clampFloat(pos.X, 0, w.width)
			vel.X = 0
		}
		if pos.Y < 0 || pos.Y > w.height {
			pos.Y = clampFloat(pos.Y, 0, w.height)
			vel.Y = 0
		}

		if record != nil {
			p, v := pos, vel
			record(Frame{Step: step, Position: &p, Velocity: &v, Target: current, Outputs: outputs})
		}
		if w.collides(pos) {
			crashed = true
			break
		}
		if math.Hypot(target.X-pos.X, target.Y-pos.Y) < targetRadius+agentRadius {
			current++
			if current == len(w.targets) {
				break
			}
		}
	}

	score := float64(current)
	if current == len(w.targets) {
		// Finished: reward speed.
		return score + 1 - float64(step)/float64(w.maxSteps)
	}
	target := w.targets[current]
	closeness := 1 - clampFloat(math.Hypot(target.X-pos.X, target.Y-pos.Y)/diag, 0, 1)
	if crashed {
		closeness *= 0.5
	}
	return score + closeness
}
