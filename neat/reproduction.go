package neat

import (
	"math"
	"sort"
)

// createNextGeneration builds exactly PopulationSize genomes from the surviving
// species. Slot 0 is an unmutated copy of the generation's best genome; each
// species then keeps its champion and fills its quota with offspring, richest
// species first. Any shortfall is padded with mutated copies of the best.
func (e *Engine) createNextGeneration(globalBest *Genome) []*Genome {
	popSize := e.config.Neat.PopulationSize
	next := make([]*Genome, 0, popSize)

	// Elitism: the global best survives unchanged.
	next = append(next, e.offspringOf(globalBest))

	ranked := append([]*Species(nil), e.species...)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].TotalAdjustedFitness() > ranked[j].TotalAdjustedFitness()
	})
	adjusted := make([]float64, len(ranked))
	adjustedSum := 0.0
	for i, sp := range ranked {
		adjusted[i] = sp.TotalAdjustedFitness()
		adjustedSum += adjusted[i]
	}
	spawnAmounts := computeSpawnAmounts(adjusted, adjustedSum, popSize)

	for _, sp := range ranked {
		sp.selectParents(e.config.Reproduction.SurvivalRate)
	}
	for i, sp := range ranked {
		if len(next) >= popSize {
			break
		}
		quota := spawnAmounts[i]
		if champion := sp.Champion(); champion != nil && champion != globalBest {
			next = append(next, e.offspringOf(champion))
			quota--
		}
		for ; quota > 0 && len(next) < popSize; quota-- {
			next = append(next, e.breed(sp, ranked))
		}
	}

	for len(next) < popSize {
		child := e.offspringOf(globalBest)
		e.mutate(child)
		next = append(next, child)
	}
	return next[:popSize]
}

// computeSpawnAmounts calculates the number of offspring each species should
// produce: its share of the total adjusted fitness, or an even split when the
// total is not positive, clamped to [1, popSize].
func computeSpawnAmounts(adjustedFitnesses []float64, adjustedFitnessSum float64, popSize int) []int {
	spawnAmounts := make([]int, len(adjustedFitnesses))
	if len(adjustedFitnesses) == 0 {
		return spawnAmounts
	}
	for i, af := range adjustedFitnesses {
		var s float64
		if adjustedFitnessSum > 0 {
			s = af / adjustedFitnessSum * float64(popSize)
		} else {
			s = float64(popSize) / float64(len(adjustedFitnesses))
		}
		spawnAmounts[i] = clampInt(int(math.Round(s)), 1, popSize)
	}
	return spawnAmounts
}

// breed produces one mutated child from a species' breeding pool, by crossover
// or by cloning a single parent.
func (e *Engine) breed(sp *Species, ranked []*Species) *Genome {
	cfg := e.config.Reproduction

	var child *Genome
	if e.rng.Float64() < cfg.CrossoverRate {
		parent1 := sp.SelectByFitness(e.rng)
		mate := sp
		if len(ranked) > 1 && e.rng.Float64() < cfg.InterspeciesRate {
			mate = ranked[e.rng.Intn(len(ranked))]
		}
		parent2 := mate.SelectByFitness(e.rng)
		if parent2.Fitness > parent1.Fitness {
			parent1, parent2 = parent2, parent1
		}
		child = Crossover(e.rng, parent1, parent2, e.newGenomeID(), cfg.DisableInheritRate)
	} else {
		child = sp.SelectByFitness(e.rng).Clone(e.newGenomeID())
	}
	child.Fitness = 0
	child.AdjustedFitness = 0
	child.SpeciesID = 0

	e.mutate(child)
	return child
}

// offspringOf copies parent under a fresh id with its scores cleared.
func (e *Engine) offspringOf(parent *Genome) *Genome {
	child := parent.Clone(e.newGenomeID())
	child.Fitness = 0
	child.AdjustedFitness = 0
	child.SpeciesID = 0
	return child
}

// mutate applies each mutation operator with its configured probability.
func (e *Engine) mutate(g *Genome) {
	cfg := e.config.Genome
	if e.rng.Float64() < cfg.WeightMutationRate {
		g.MutateWeights(e.rng, e.config.WeightMutation())
	}
	if e.rng.Float64() < cfg.AddConnectionRate {
		g.MutateAddConnection(e.rng, e.tracker, cfg.AddConnectionAttempts, cfg.AllowRecurrent)
	}
	if e.rng.Float64() < cfg.AddNodeRate {
		g.MutateAddNode(e.rng, e.tracker)
	}
}
