package neat

import (
	"fmt"
	"strings"

	"gopkg.in/ini.v1"
)

// Config stores the tunable parameters of an evolutionary run.
// Every value is clamped into its valid range by Clamp; an out-of-range
// value is never an error.
type Config struct {
	Neat         NeatConfig         `json:"neat"`
	Genome       GenomeConfig       `json:"genome"`
	Reproduction ReproductionConfig `json:"reproduction"`
	Species      SpeciesConfig      `json:"species"`
	Environment  EnvironmentConfig  `json:"environment"`
}

// NeatConfig holds run-level parameters.
type NeatConfig struct {
	PopulationSize   int   `ini:"population_size" json:"populationSize"`
	Seed             int64 `ini:"seed" json:"seed"`                          // 0 seeds from the clock
	EvalWorkers      int   `ini:"eval_workers" json:"evalWorkers"`           // Parallel Evaluate calls per generation
	ProgressInterval int   `ini:"progress_interval" json:"progressInterval"` // Genomes between progress callbacks
	HistoryCap       int   `ini:"history_cap" json:"historyCap"`
}

// GenomeConfig holds parameters for genome structure, distance and mutation.
type GenomeConfig struct {
	Activation     string `ini:"activation" json:"activation"`
	AllowRecurrent bool   `ini:"allow_recurrent" json:"allowRecurrent"`

	// Compatibility distance: (c1*E + c2*D)/N + c3*W
	ExcessCoefficient   float64 `ini:"compatibility_excess_coefficient" json:"excessCoefficient"`
	DisjointCoefficient float64 `ini:"compatibility_disjoint_coefficient" json:"disjointCoefficient"`
	WeightCoefficient   float64 `ini:"compatibility_weight_coefficient" json:"weightCoefficient"`

	WeightMutationRate float64 `ini:"weight_mutation_rate" json:"weightMutationRate"` // Chance a child gets MutateWeights
	WeightPerturbRate  float64 `ini:"weight_perturb_rate" json:"weightPerturbRate"`   // Per gene
	WeightReplaceRate  float64 `ini:"weight_replace_rate" json:"weightReplaceRate"`   // Per gene
	WeightPower        float64 `ini:"weight_power" json:"weightPower"`
	WeightLimit        float64 `ini:"weight_limit" json:"weightLimit"`
	Perturbation       string  `ini:"perturbation" json:"perturbation"` // gaussian or uniform

	AddConnectionRate     float64 `ini:"add_connection_rate" json:"addConnectionRate"`
	AddNodeRate           float64 `ini:"add_node_rate" json:"addNodeRate"`
	AddConnectionAttempts int     `ini:"add_connection_attempts" json:"addConnectionAttempts"`
}

// ReproductionConfig holds parameters related to reproduction.
type ReproductionConfig struct {
	CrossoverRate      float64 `ini:"crossover_rate" json:"crossoverRate"`
	SurvivalRate       float64 `ini:"survival_rate" json:"survivalRate"` // Top fraction of a species allowed to breed
	InterspeciesRate   float64 `ini:"interspecies_rate" json:"interspeciesRate"`
	DisableInheritRate float64 `ini:"disable_inherit_rate" json:"disableInheritRate"`
}

// SpeciesConfig holds parameters related to speciation and stagnation.
type SpeciesConfig struct {
	CompatibilityThreshold float64 `ini:"compatibility_threshold" json:"compatibilityThreshold"`
	MaxStaleGenerations    int     `ini:"max_stale_generations" json:"maxStaleGenerations"`
}

// EnvironmentConfig holds parameters forwarded to the environment.
type EnvironmentConfig struct {
	MaxStepsPerEval int `ini:"max_steps_per_eval" json:"maxStepsPerEval"`
}

// DefaultConfig returns a configuration with conventional NEAT values.
func DefaultConfig() Config {
	return Config{
		Neat: NeatConfig{
			PopulationSize:   150,
			EvalWorkers:      1,
			ProgressInterval: 8,
			HistoryCap:       500,
		},
		Genome: GenomeConfig{
			Activation:            "tanh",
			ExcessCoefficient:     1.0,
			DisjointCoefficient:   1.0,
			WeightCoefficient:     0.4,
			WeightMutationRate:    0.8,
			WeightPerturbRate:     0.9,
			WeightReplaceRate:     0.1,
			WeightPower:           0.5,
			WeightLimit:           8.0,
			Perturbation:          "gaussian",
			AddConnectionRate:     0.1,
			AddNodeRate:           0.03,
			AddConnectionAttempts: 20,
		},
		Reproduction: ReproductionConfig{
			CrossoverRate:      0.75,
			SurvivalRate:       0.2,
			InterspeciesRate:   0.001,
			DisableInheritRate: 0.75,
		},
		Species: SpeciesConfig{
			CompatibilityThreshold: 3.0,
			MaxStaleGenerations:    15,
		},
		Environment: EnvironmentConfig{
			MaxStepsPerEval: 600,
		},
	}
}

// LoadConfig loads configuration parameters from an INI file on top of DefaultConfig.
// Keys missing from the file keep their default value. The result is clamped.
func LoadConfig(filePath string) (*Config, error) {
	cfg, err := ini.LoadSources(ini.LoadOptions{
		IgnoreInlineComment:         true, // Allow # comments starting with # or ;
		UnescapeValueCommentSymbols: true, // If # or ; appear in value, treat as value
	}, filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config file '%s': %w", filePath, err)
	}

	config := DefaultConfig()

	// Map sections to structs
	sections := []struct {
		name   string
		target any
	}{
		{"NEAT", &config.Neat},
		{"Genome", &config.Genome},
		{"Reproduction", &config.Reproduction},
		{"Species", &config.Species},
		{"Environment", &config.Environment},
	}
	for _, s := range sections {
		if !cfg.HasSection(s.name) {
			continue
		}
		if err := cfg.Section(s.name).MapTo(s.target); err != nil {
			return nil, fmt.Errorf("failed to map [%s] section: %w", s.name, err)
		}
	}

	config.Genome.Activation = cleanIniString(config.Genome.Activation)
	config.Genome.Perturbation = cleanIniString(config.Genome.Perturbation)

	config.Clamp()
	return &config, nil
}

// Clamp forces every tunable into its valid range.
func (c *Config) Clamp() {
	c.Neat.PopulationSize = clampInt(c.Neat.PopulationSize, 20, 500)
	c.Neat.EvalWorkers = clampInt(c.Neat.EvalWorkers, 1, 64)
	c.Neat.ProgressInterval = clampInt(c.Neat.ProgressInterval, 1, 500)
	c.Neat.HistoryCap = clampInt(c.Neat.HistoryCap, 10, 5000)

	g := &c.Genome
	g.Activation = normalizeActivation(g.Activation)
	g.ExcessCoefficient = clamp(g.ExcessCoefficient, 0, 10)
	g.DisjointCoefficient = clamp(g.DisjointCoefficient, 0, 10)
	g.WeightCoefficient = clamp(g.WeightCoefficient, 0, 10)
	g.WeightMutationRate = clampRate(g.WeightMutationRate)
	g.WeightPerturbRate = clampRate(g.WeightPerturbRate)
	g.WeightReplaceRate = clampRate(g.WeightReplaceRate)
	g.WeightPower = clamp(g.WeightPower, 0, 5)
	g.WeightLimit = clamp(g.WeightLimit, 1, 100)
	switch strings.ToLower(g.Perturbation) {
	case "uniform":
		g.Perturbation = "uniform"
	default:
		g.Perturbation = "gaussian"
	}
	g.AddConnectionRate = clampRate(g.AddConnectionRate)
	g.AddNodeRate = clampRate(g.AddNodeRate)
	g.AddConnectionAttempts = clampInt(g.AddConnectionAttempts, 1, 200)

	r := &c.Reproduction
	r.CrossoverRate = clampRate(r.CrossoverRate)
	r.SurvivalRate = clampRate(r.SurvivalRate)
	r.InterspeciesRate = clampRate(r.InterspeciesRate)
	r.DisableInheritRate = clampRate(r.DisableInheritRate)

	c.Species.CompatibilityThreshold = clamp(c.Species.CompatibilityThreshold, 0.5, 8)
	c.Species.MaxStaleGenerations = clampInt(c.Species.MaxStaleGenerations, 3, 60)

	c.Environment.MaxStepsPerEval = clampInt(c.Environment.MaxStepsPerEval, 160, 3000)
}

// Coefficients returns the compatibility distance weights of this config.
func (c *Config) Coefficients() Coefficients {
	return Coefficients{
		Excess:   c.Genome.ExcessCoefficient,
		Disjoint: c.Genome.DisjointCoefficient,
		Weight:   c.Genome.WeightCoefficient,
	}
}

// WeightMutation returns the per-gene weight mutation parameters of this config.
func (c *Config) WeightMutation() WeightMutation {
	return WeightMutation{
		PerturbRate: c.Genome.WeightPerturbRate,
		ReplaceRate: c.Genome.WeightReplaceRate,
		Power:       c.Genome.WeightPower,
		Limit:       c.Genome.WeightLimit,
		Uniform:     c.Genome.Perturbation == "uniform",
	}
}

// ConfigPatch is a partial configuration update. Nil fields are left untouched.
type ConfigPatch struct {
	PopulationSize         *int     `json:"populationSize,omitempty"`
	Seed                   *int64   `json:"seed,omitempty"`
	EvalWorkers            *int     `json:"evalWorkers,omitempty"`
	CompatibilityThreshold *float64 `json:"compatibilityThreshold,omitempty"`
	WeightMutationRate     *float64 `json:"weightMutationRate,omitempty"`
	AddConnectionRate      *float64 `json:"addConnectionRate,omitempty"`
	AddNodeRate            *float64 `json:"addNodeRate,omitempty"`
	CrossoverRate          *float64 `json:"crossoverRate,omitempty"`
	SurvivalRate           *float64 `json:"survivalRate,omitempty"`
	InterspeciesRate       *float64 `json:"interspeciesRate,omitempty"`
	DisableInheritRate     *float64 `json:"disableInheritRate,omitempty"`
	Activation             *string  `json:"activation,omitempty"`
	AllowRecurrent         *bool    `json:"allowRecurrent,omitempty"`
	MaxStaleGenerations    *int     `json:"maxStaleGenerations,omitempty"`
	MaxStepsPerEval        *int     `json:"maxStepsPerEval,omitempty"`
}

// Apply writes the non-nil fields of the patch into c and clamps the result.
func (p ConfigPatch) Apply(c *Config) {
	if p.PopulationSize != nil {
		c.Neat.PopulationSize = *p.PopulationSize
	}
	if p.Seed != nil {
		c.Neat.Seed = *p.Seed
	}
	if p.EvalWorkers != nil {
		c.Neat.EvalWorkers = *p.EvalWorkers
	}
	if p.CompatibilityThreshold != nil {
		c.Species.CompatibilityThreshold = *p.CompatibilityThreshold
	}
	if p.WeightMutationRate != nil {
		c.Genome.WeightMutationRate = *p.WeightMutationRate
	}
	if p.AddConnectionRate != nil {
		c.Genome.AddConnectionRate = *p.AddConnectionRate
	}
	if p.AddNodeRate != nil {
		c.Genome.AddNodeRate = *p.AddNodeRate
	}
	if p.CrossoverRate != nil {
		c.Reproduction.CrossoverRate = *p.CrossoverRate
	}
	if p.SurvivalRate != nil {
		c.Reproduction.SurvivalRate = *p.SurvivalRate
	}
	if p.InterspeciesRate != nil {
		c.Reproduction.InterspeciesRate = *p.InterspeciesRate
	}
	if p.DisableInheritRate != nil {
		c.Reproduction.DisableInheritRate = *p.DisableInheritRate
	}
	if p.Activation != nil {
		c.Genome.Activation = *p.Activation
	}
	if p.AllowRecurrent != nil {
		c.Genome.AllowRecurrent = *p.AllowRecurrent
	}
	if p.MaxStaleGenerations != nil {
		c.Species.MaxStaleGenerations = *p.MaxStaleGenerations
	}
	if p.MaxStepsPerEval != nil {
		c.Environment.MaxStepsPerEval = *p.MaxStepsPerEval
	}
	c.Clamp()
}

// cleanIniString removes inline comments and trims whitespace from a string read from INI.
func cleanIniString(s string) string {
	// Remove comments starting with # or ;
	if idx := strings.IndexAny(s, "#;"); idx != -1 {
		s = s[:idx]
	}
	return strings.TrimSpace(s)
}
