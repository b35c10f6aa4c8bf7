package env

import (
	"context"

	"github.com/baldhumanity/neatlab/neat"
)

// XOR inputs and expected outputs.
var (
	xorInputs = [][]float64{
		{0.0, 0.0},
		{0.0, 1.0},
		{1.0, 0.0},
		{1.0, 1.0},
	}
	xorOutputs = []float64{0.0, 1.0, 1.0, 0.0}
)

// XOR scores a genome on the exclusive-or truth table.
type XOR struct{}

// NewXOR returns the XOR task.
func NewXOR() *XOR { return &XOR{} }

func (*XOR) InputCount() int  { return 2 }
func (*XOR) OutputCount() int { return 1 }

// Evaluate returns (4 - SSE)^2, clamped at zero, so a perfect network scores 16.
func (*XOR) Evaluate(ctx context.Context, g *neat.Genome) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	g.ResetState()
	sumSquaredError := 0.0
	for i, inputs := range xorInputs {
		outputs := g.Activate(inputs)
		diff := outputs[0] - xorOutputs[i]
		sumSquaredError += diff * diff
	}
	baseFitness := 4.0 - sumSquaredError
	if baseFitness < 0 {
		baseFitness = 0
	}
	return baseFitness * baseFitness, nil
}

// Replay records the four truth-table cases as frames.
func (*XOR) Replay(g *neat.Genome) *Replay {
	g.ResetState()
	replay := &Replay{Environment: "xor"}
	sumSquaredError := 0.0
	for i, inputs := range xorInputs {
		outputs := g.Activate(inputs)
		diff := outputs[0] - xorOutputs[i]
		sumSquaredError += diff * diff
		replay.Frames = append(replay.Frames, Frame{Step: i, Outputs: outputs})
	}
	replay.Score = max(0, 4.0-sumSquaredError)
	replay.Score *= replay.Score
	return replay.sanitize()
}
