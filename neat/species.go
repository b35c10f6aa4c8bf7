package neat

import (
	"math"
	"math/rand"
	"sort"
)

// Species represents a group of genetically similar genomes.
// Membership is rebuilt every generation; only the representative lineage and
// the staleness counter carry over.
type Species struct {
	ID               int       // Unique identifier for the species.
	Representative   *Genome   // Detached snapshot used as the comparison anchor.
	Members          []*Genome // Non-owning references into the current population.
	BestFitness      float64   // Best raw fitness any member has reached.
	StaleGenerations int       // Generations since BestFitness last improved.

	parents []*Genome // Breeding pool picked by selectParents
}

// NewSpecies creates a new species anchored on a detached copy of representative.
func NewSpecies(id int, representative *Genome) *Species {
	return &Species{
		ID:             id,
		Representative: representative.Clone(representative.ID),
		BestFitness:    math.Inf(-1),
	}
}

// AddMember assigns the genome to this species.
func (s *Species) AddMember(g *Genome) {
	g.SpeciesID = s.ID
	s.Members = append(s.Members, g)
}

// RefreshRepresentative picks a random member (not the fittest) as the anchor
// for the next generation's compatibility tests.
func (s *Species) RefreshRepresentative(rng *rand.Rand) {
	if len(s.Members) == 0 {
		return
	}
	pick := s.Members[rng.Intn(len(s.Members))]
	s.Representative = pick.Clone(pick.ID)
}

// UpdateStaleness resets the staleness counter when the species improves on its
// best raw fitness, and increments it otherwise.
func (s *Species) UpdateStaleness() {
	best := math.Inf(-1)
	for _, g := range s.Members {
		if g.Fitness > best {
			best = g.Fitness
		}
	}
	if best > s.BestFitness {
		s.BestFitness = best
		s.StaleGenerations = 0
		return
	}
	s.StaleGenerations++
}

// ShareFitness divides each member's raw fitness by the species size.
func (s *Species) ShareFitness() {
	size := float64(len(s.Members))
	for _, g := range s.Members {
		g.AdjustedFitness = g.Fitness / size
	}
}

// TotalAdjustedFitness sums the members' shared fitness.
func (s *Species) TotalAdjustedFitness() float64 {
	total := 0.0
	for _, g := range s.Members {
		total += g.AdjustedFitness
	}
	return total
}

// Champion returns the member with the highest raw fitness.
func (s *Species) Champion() *Genome {
	var best *Genome
	for _, g := range s.Members {
		if best == nil || g.Fitness > best.Fitness {
			best = g
		}
	}
	return best
}

// Contains reports whether g is currently a member.
func (s *Species) Contains(g *Genome) bool {
	for _, m := range s.Members {
		if m == g {
			return true
		}
	}
	return false
}

// SelectByFitness performs roulette-wheel selection over the raw fitness of
// the breeding pool, or of every member when no pool has been picked.
func (s *Species) SelectByFitness(rng *rand.Rand) *Genome {
	if len(s.parents) > 0 {
		return rouletteSelect(rng, s.parents)
	}
	return rouletteSelect(rng, s.Members)
}

// selectParents restricts breeding to the top rate of members.
func (s *Species) selectParents(rate float64) {
	s.parents = s.survivalPool(rate)
}

// survivalPool returns the top fraction of members by raw fitness, at least one.
func (s *Species) survivalPool(rate float64) []*Genome {
	sorted := append([]*Genome(nil), s.Members...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Fitness > sorted[j].Fitness
	})
	cutoff := int(math.Ceil(rate * float64(len(sorted))))
	cutoff = clampInt(cutoff, 1, len(sorted))
	return sorted[:cutoff]
}

// rouletteSelect picks a genome with probability proportional to raw fitness,
// falling back to a uniform choice when the total is not positive.
func rouletteSelect(rng *rand.Rand, pool []*Genome) *Genome {
	if len(pool) == 0 {
		return nil
	}
	total := 0.0
	for _, g := range pool {
		total += math.Max(0, g.Fitness)
	}
	if total <= 0 {
		return pool[rng.Intn(len(pool))]
	}
	r := rng.Float64() * total
	for _, g := range pool {
		r -= math.Max(0, g.Fitness)
		if r <= 0 {
			return g
		}
	}
	return pool[len(pool)-1]
}
