package neat

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func genomeWithFitness(id int, fitness float64) *Genome {
	g := NewGenome(id, 1, 1, "tanh")
	g.Fitness = fitness
	return g
}

func TestSpeciesShareFitness(t *testing.T) {
	sp := NewSpecies(1, genomeWithFitness(1, 0))
	for i, f := range []float64{4, 2, 6} {
		sp.AddMember(genomeWithFitness(i+1, f))
	}
	sp.ShareFitness()

	assert.InDelta(t, 4.0/3, sp.Members[0].AdjustedFitness, 1e-12)
	assert.InDelta(t, 12.0/3, sp.TotalAdjustedFitness(), 1e-12)
	for _, g := range sp.Members {
		assert.Equal(t, 1, g.SpeciesID)
	}
	assert.Equal(t, 6.0, sp.Champion().Fitness)
}

func TestSpeciesStaleness(t *testing.T) {
	sp := NewSpecies(1, genomeWithFitness(1, 0))
	assert.True(t, math.IsInf(sp.BestFitness, -1))

	sp.AddMember(genomeWithFitness(1, 2))
	sp.UpdateStaleness()
	assert.Equal(t, 2.0, sp.BestFitness)
	assert.Equal(t, 0, sp.StaleGenerations)

	sp.UpdateStaleness()
	sp.UpdateStaleness()
	assert.Equal(t, 2, sp.StaleGenerations)

	sp.Members[0].Fitness = 3
	sp.UpdateStaleness()
	assert.Equal(t, 0, sp.StaleGenerations)
	assert.Equal(t, 3.0, sp.BestFitness)
}

func TestRepresentativeIsDetached(t *testing.T) {
	g := genomeWithFitness(1, 1)
	sp := NewSpecies(1, g)
	g.Nodes[1].Bias = 5

	assert.Equal(t, 0.0, sp.Representative.Nodes[1].Bias)

	sp.AddMember(g)
	sp.RefreshRepresentative(rand.New(rand.NewSource(1)))
	assert.Equal(t, 5.0, sp.Representative.Nodes[1].Bias)
	assert.NotSame(t, g, sp.Representative)
}

func TestSurvivalPoolKeepsTopFraction(t *testing.T) {
	sp := NewSpecies(1, genomeWithFitness(1, 0))
	for i := 0; i < 10; i++ {
		sp.AddMember(genomeWithFitness(i+1, float64(i)))
	}

	pool := sp.survivalPool(0.2)
	require.Len(t, pool, 2)
	assert.Equal(t, 9.0, pool[0].Fitness)
	assert.Equal(t, 8.0, pool[1].Fitness)

	assert.Len(t, sp.survivalPool(0), 1)
	assert.Len(t, sp.survivalPool(1), 10)
}

func TestRouletteSelectFavorsFitness(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	pool := []*Genome{genomeWithFitness(1, 0), genomeWithFitness(2, 9), genomeWithFitness(3, 1)}

	counts := map[int]int{}
	for i := 0; i < 1000; i++ {
		counts[rouletteSelect(rng, pool).ID]++
	}
	assert.Zero(t, counts[1])
	assert.Greater(t, counts[2], counts[3])

	zero := []*Genome{genomeWithFitness(1, 0), genomeWithFitness(2, 0)}
	assert.NotNil(t, rouletteSelect(rng, zero))
	assert.Nil(t, rouletteSelect(rng, nil))
}

func TestSelectByFitnessUsesBreedingPool(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	sp := NewSpecies(1, genomeWithFitness(1, 0))
	for i := 0; i < 10; i++ {
		sp.AddMember(genomeWithFitness(i+1, float64(i+1)))
	}

	seen := map[int]bool{}
	for i := 0; i < 500; i++ {
		seen[sp.SelectByFitness(rng).ID] = true
	}
	assert.Greater(t, len(seen), 2, "every member is eligible before a pool is picked")

	sp.selectParents(0.2)
	seen = map[int]bool{}
	for i := 0; i < 500; i++ {
		seen[sp.SelectByFitness(rng).ID] = true
	}
	assert.Equal(t, map[int]bool{9: true, 10: true}, seen)
}

func TestCullStaleSpeciesProtectsBest(t *testing.T) {
	best := genomeWithFitness(1, 10)
	holder := NewSpecies(1, best)
	holder.AddMember(best)
	holder.StaleGenerations = 20

	other := NewSpecies(2, genomeWithFitness(2, 1))
	other.AddMember(genomeWithFitness(2, 1))
	other.StaleGenerations = 20

	fresh := NewSpecies(3, genomeWithFitness(3, 1))
	fresh.AddMember(genomeWithFitness(3, 1))
	fresh.StaleGenerations = 15

	survivors, culled := cullStaleSpecies([]*Species{holder, other, fresh}, best, 15)

	require.Len(t, culled, 1)
	assert.Equal(t, 2, culled[0].ID)
	require.Len(t, survivors, 2)
	assert.Equal(t, 1, survivors[0].ID)
	assert.Equal(t, 3, survivors[1].ID)

	infos := checkStagnation([]*Species{holder}, best, 15)
	assert.True(t, infos[0].Protected)
	assert.False(t, infos[0].IsStagnant)
}

func TestComputeSpawnAmounts(t *testing.T) {
	assert.Equal(t, []int{75, 25}, computeSpawnAmounts([]float64{3, 1}, 4, 100))
	assert.Equal(t, []int{50, 50}, computeSpawnAmounts([]float64{0, 0}, 0, 100))
	assert.Equal(t, []int{100, 1}, computeSpawnAmounts([]float64{1, 0}, 1, 100))
	assert.Empty(t, computeSpawnAmounts(nil, 0, 100))
}
