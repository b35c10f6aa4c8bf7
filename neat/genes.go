package neat

import (
	"fmt"
	"math/rand"
)

// NodeType classifies a node gene.
type NodeType int

const (
	InputNode NodeType = iota
	HiddenNode
	OutputNode
)

func (t NodeType) String() string {
	switch t {
	case InputNode:
		return "input"
	case HiddenNode:
		return "hidden"
	case OutputNode:
		return "output"
	default:
		return fmt.Sprintf("NodeType(%d)", int(t))
	}
}

// MarshalText encodes the node type by name.
func (t NodeType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText decodes a node type name.
func (t *NodeType) UnmarshalText(b []byte) error {
	switch string(b) {
	case "input":
		*t = InputNode
	case "hidden":
		*t = HiddenNode
	case "output":
		*t = OutputNode
	default:
		return fmt.Errorf("unknown node type %q", string(b))
	}
	return nil
}

// --------------------------- NodeGene ---------------------------

// NodeGene represents a node (neuron) in the neural network genome.
type NodeGene struct {
	ID         int      `json:"id"` // Inputs and outputs occupy 0..in+out-1, hidden nodes come from the tracker
	Type       NodeType `json:"type"`
	Bias       float64  `json:"bias"`
	Activation string   `json:"activation"` // Name of the activation function
}

// String returns a string representation of the NodeGene.
func (ng NodeGene) String() string {
	return fmt.Sprintf("NodeGene(ID: %d, Type: %s, Bias: %.3f, Activation: %s)",
		ng.ID, ng.Type, ng.Bias, ng.Activation)
}

// Crossover creates a new NodeGene by randomly inheriting attributes from two parent NodeGenes.
// The receiver is the primary parent and provides the identity.
func (ng NodeGene) Crossover(rng *rand.Rand, other NodeGene) NodeGene {
	child := ng
	if rng.Float64() < 0.5 {
		child.Bias = other.Bias
	}
	if rng.Float64() < 0.5 {
		child.Activation = other.Activation
	}
	return child
}

// --------------------------- ConnectionGene ---------------------------

// ConnectionKey identifies a directed connection between two nodes.
type ConnectionKey struct {
	InNodeID  int
	OutNodeID int
}

// ConnectionGene represents a connection between two nodes in the genome.
// Innovation is the stable identity used to align genes across genomes.
type ConnectionGene struct {
	InNodeID   int     `json:"from"`
	OutNodeID  int     `json:"to"`
	Weight     float64 `json:"weight"`
	Enabled    bool    `json:"enabled"`
	Innovation int     `json:"innovation"`
}

// Key returns the (from, to) pair of the gene.
func (cg ConnectionGene) Key() ConnectionKey {
	return ConnectionKey{InNodeID: cg.InNodeID, OutNodeID: cg.OutNodeID}
}

// String returns a string representation of the ConnectionGene.
func (cg ConnectionGene) String() string {
	return fmt.Sprintf("ConnGene(#%d %d->%d, Weight: %.3f, Enabled: %t)",
		cg.Innovation, cg.InNodeID, cg.OutNodeID, cg.Weight, cg.Enabled)
}

// --------------------------- Attribute Helpers ---------------------------

// WeightMutation holds the per-gene parameters of MutateWeights.
type WeightMutation struct {
	PerturbRate float64
	ReplaceRate float64
	Power       float64
	Limit       float64
	Uniform     bool // Uniform noise in [-Power, Power] instead of gaussian with stdev Power
}

// initWeightRange bounds freshly drawn weights.
const initWeightRange = 1.0

func randomWeight(rng *rand.Rand, scale float64) float64 {
	return (rng.Float64()*2 - 1) * scale
}

// mutateFloatAttribute replaces the value with ReplaceRate, otherwise perturbs it
// with PerturbRate. The result stays inside [-Limit, Limit].
func mutateFloatAttribute(rng *rand.Rand, value float64, m WeightMutation) float64 {
	r := rng.Float64()
	if r < m.ReplaceRate {
		return clamp(randomWeight(rng, initWeightRange), -m.Limit, m.Limit)
	}
	if r < m.ReplaceRate+m.PerturbRate {
		var perturbation float64
		if m.Uniform {
			perturbation = randomWeight(rng, m.Power)
		} else {
			perturbation = rng.NormFloat64() * m.Power
		}
		return clamp(value+perturbation, -m.Limit, m.Limit)
	}
	// No mutation
	return value
}
