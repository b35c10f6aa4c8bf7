package neat

import (
	"math"
	"sort"
)

// MaxVisibleGenomes caps how many full genomes a Snapshot carries.
const MaxVisibleGenomes = 48

// GenomeSummary is the light view of a genome used in population listings.
type GenomeSummary struct {
	ID                 int     `json:"id"`
	Fitness            float64 `json:"fitness"`
	AdjustedFitness    float64 `json:"adjustedFitness"`
	SpeciesID          int     `json:"speciesId"`
	NodeCount          int     `json:"nodeCount"`
	ConnectionCount    int     `json:"connectionCount"`
	EnabledConnections int     `json:"enabledConnections"`
}

// SpeciesSummary describes one species of the last evaluated generation.
type SpeciesSummary struct {
	ID               int     `json:"id"`
	Members          []int   `json:"members"`
	RepresentativeID int     `json:"representativeId"`
	BestFitness      float64 `json:"bestFitness"`
	StaleGenerations int     `json:"staleGenerations"`
}

// Snapshot is a detached view of the engine, safe to hand to another goroutine.
type Snapshot struct {
	Generation        int               `json:"generation"`
	History           []GenerationStats `json:"history"`
	Population        []GenomeSummary   `json:"population"`
	PopulationGenomes []*Genome         `json:"populationGenomes"`
	Species           []SpeciesSummary  `json:"species"`
	Stats             *GenerationStats  `json:"stats"`
	Best              *Genome           `json:"best"`
	Config            Config            `json:"config"`
	State             string            `json:"state"`
	Running           bool              `json:"running"`
}

// Snapshot captures the last evaluated generation. At most visibleLimit full
// genomes (and never more than MaxVisibleGenomes) are included, fittest first.
func (e *Engine) Snapshot(visibleLimit int) Snapshot {
	snap := Snapshot{
		Generation: e.generation,
		History:    e.History(),
		Config:     e.config,
		State:      e.state.String(),
		Best:       e.Best(),
	}
	if len(e.history) > 0 {
		last := e.history[len(e.history)-1]
		snap.Stats = &last
	}

	snap.Population = make([]GenomeSummary, 0, len(e.displayed))
	for _, g := range e.displayed {
		snap.Population = append(snap.Population, GenomeSummary{
			ID:                 g.ID,
			Fitness:            g.Fitness,
			AdjustedFitness:    g.AdjustedFitness,
			SpeciesID:          g.SpeciesID,
			NodeCount:          len(g.Nodes),
			ConnectionCount:    len(g.Connections),
			EnabledConnections: g.EnabledConnections(),
		})
	}

	ranked := append([]*Genome(nil), e.displayed...)
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Fitness > ranked[j].Fitness })
	limit := clampInt(visibleLimit, 0, MaxVisibleGenomes)
	if limit > len(ranked) {
		limit = len(ranked)
	}
	snap.PopulationGenomes = make([]*Genome, 0, limit)
	for _, g := range ranked[:limit] {
		snap.PopulationGenomes = append(snap.PopulationGenomes, g.Clone(g.ID))
	}

	snap.Species = make([]SpeciesSummary, 0, len(e.species))
	for _, sp := range e.species {
		members := make([]int, len(sp.Members))
		for i, m := range sp.Members {
			members[i] = m.ID
		}
		best := sp.BestFitness
		if math.IsInf(best, 0) {
			best = 0
		}
		snap.Species = append(snap.Species, SpeciesSummary{
			ID:               sp.ID,
			Members:          members,
			RepresentativeID: sp.Representative.ID,
			BestFitness:      best,
			StaleGenerations: sp.StaleGenerations,
		})
	}
	return snap
}
