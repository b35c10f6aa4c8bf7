package neat

import (
	"fmt"
	"math"
	"strings"
)

// ActivationType defines the type for activation functions.
type ActivationType func(x float64) float64

// DefaultActivation is used when a configured name is unknown.
const DefaultActivation = "tanh"

// ActivationFunctions maps function names to the actual activation functions.
// This allows configuration to specify activations by name.
var ActivationFunctions = map[string]ActivationType{
	"tanh":    Tanh,
	"sigmoid": Sigmoid,
	"relu":    ReLU,
	"sin":     Sine,
}

// activationAliases maps accepted spellings onto canonical names.
var activationAliases = map[string]string{
	"sine":     "sin",
	"logistic": "sigmoid",
}

// GetActivation retrieves an activation function by name.
func GetActivation(name string) (ActivationType, error) {
	if fn, ok := ActivationFunctions[name]; ok {
		return fn, nil
	}
	return nil, fmt.Errorf("unknown activation function: %s", name)
}

// normalizeActivation returns the canonical activation name, falling back to
// DefaultActivation for anything unknown.
func normalizeActivation(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if alias, ok := activationAliases[name]; ok {
		name = alias
	}
	if _, ok := ActivationFunctions[name]; ok {
		return name
	}
	return DefaultActivation
}

// --- Activation Function Implementations ---

// Sigmoid activation function.
// Uses the steepened logistic curve 1 / (1 + exp(-4.9x)) from the original NEAT paper.
func Sigmoid(x float64) float64 {
	k := 4.9
	return 1.0 / (1.0 + math.Exp(-k*x))
}

// Tanh activation function.
func Tanh(x float64) float64 {
	return math.Tanh(x)
}

// ReLU (Rectified Linear Unit) activation function.
func ReLU(x float64) float64 {
	return math.Max(0, x)
}

// Sine activation function.
func Sine(x float64) float64 {
	return math.Sin(x)
}
