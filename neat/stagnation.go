package neat

// StagnationInfo holds the outcome of the stagnation check for a single species.
type StagnationInfo struct {
	SpeciesID  int
	Species    *Species
	IsStagnant bool
	Protected  bool // Stale but kept because it holds the global best
}

// checkStagnation marks species whose staleness exceeds maxStale. A species
// holding the global best genome is never marked, so the best lineage can
// not go extinct.
func checkStagnation(species []*Species, globalBest *Genome, maxStale int) []StagnationInfo {
	result := make([]StagnationInfo, 0, len(species))
	for _, sp := range species {
		info := StagnationInfo{SpeciesID: sp.ID, Species: sp}
		if sp.StaleGenerations > maxStale {
			if globalBest != nil && sp.Contains(globalBest) {
				info.Protected = true
			} else {
				info.IsStagnant = true
			}
		}
		result = append(result, info)
	}
	return result
}

// cullStaleSpecies splits species into survivors and culled ones.
func cullStaleSpecies(species []*Species, globalBest *Genome, maxStale int) (survivors, culled []*Species) {
	for _, info := range checkStagnation(species, globalBest, maxStale) {
		if info.IsStagnant {
			culled = append(culled, info.Species)
			continue
		}
		survivors = append(survivors, info.Species)
	}
	return survivors, culled
}
