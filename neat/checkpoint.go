package neat

import (
	"compress/gzip"
	"encoding/gob"
	"fmt"
	"io"
	"os"
)

// checkpointData holds the parts of an Engine needed to resume a run.
// Species members are stored by genome id and re-linked on load, because gob
// does not preserve pointer identity.
type checkpointData struct {
	Config        Config
	Tracker       *InnovationTracker
	Population    []*Genome
	Displayed     []*Genome
	Species       []speciesSaveData
	Best          *Genome
	History       []GenerationStats
	Generation    int
	NextGenomeID  int
	NextSpeciesID int
}

type speciesSaveData struct {
	ID               int
	Representative   *Genome
	MemberIDs        []int
	BestFitness      float64
	StaleGenerations int
}

// SaveCheckpoint writes the engine state to a gzip-compressed gob file.
func (e *Engine) SaveCheckpoint(filePath string) error {
	file, err := os.Create(filePath)
	if err != nil {
		return fmt.Errorf("failed to create checkpoint file '%s': %w", filePath, err)
	}
	defer file.Close()

	if err := e.WriteCheckpoint(file); err != nil {
		return err
	}
	e.logger.Info("checkpoint saved", "path", filePath, "gen", e.generation)
	return file.Close()
}

// WriteCheckpoint encodes the engine state to w.
func (e *Engine) WriteCheckpoint(w io.Writer) error {
	if e.state == StateUninitialized {
		return ErrNotInitialized
	}
	saveData := checkpointData{
		Config:        e.config,
		Tracker:       e.tracker,
		Population:    e.population,
		Displayed:     e.displayed,
		Best:          e.best,
		History:       e.history,
		Generation:    e.generation,
		NextGenomeID:  e.nextGenomeID,
		NextSpeciesID: e.nextSpeciesID,
	}
	for _, sp := range e.species {
		ids := make([]int, len(sp.Members))
		for i, m := range sp.Members {
			ids[i] = m.ID
		}
		saveData.Species = append(saveData.Species, speciesSaveData{
			ID:               sp.ID,
			Representative:   sp.Representative,
			MemberIDs:        ids,
			BestFitness:      sp.BestFitness,
			StaleGenerations: sp.StaleGenerations,
		})
	}

	gzWriter := gzip.NewWriter(w)
	if err := gob.NewEncoder(gzWriter).Encode(saveData); err != nil {
		return fmt.Errorf("failed to encode engine state: %w", err)
	}
	if err := gzWriter.Close(); err != nil {
		return fmt.Errorf("failed to flush checkpoint: %w", err)
	}
	return nil
}

// LoadCheckpoint restores an engine from a checkpoint file. The environment
// must have the same shape as the one the checkpoint was written with.
func LoadCheckpoint(filePath string, env Environment, opts ...Option) (*Engine, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint file '%s': %w", filePath, err)
	}
	defer file.Close()
	return ReadCheckpoint(file, env, opts...)
}

// ReadCheckpoint decodes an engine state written by WriteCheckpoint.
func ReadCheckpoint(r io.Reader, env Environment, opts ...Option) (*Engine, error) {
	gzReader, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to create gzip reader for checkpoint: %w", err)
	}
	defer gzReader.Close()

	var saveData checkpointData
	if err := gob.NewDecoder(gzReader).Decode(&saveData); err != nil {
		return nil, fmt.Errorf("failed to decode engine state from checkpoint: %w", err)
	}

	e, err := NewEngine(saveData.Config, env, opts...)
	if err != nil {
		return nil, err
	}
	for _, g := range saveData.Population {
		if g.InputCount != env.InputCount() || g.OutputCount != env.OutputCount() {
			return nil, fmt.Errorf("checkpoint genome %d has shape %d/%d, environment wants %d/%d",
				g.ID, g.InputCount, g.OutputCount, env.InputCount(), env.OutputCount())
		}
		if err := g.Validate(); err != nil {
			return nil, fmt.Errorf("checkpoint: %w", err)
		}
	}
	if saveData.Tracker == nil || len(saveData.Population) == 0 {
		return nil, fmt.Errorf("checkpoint holds no population")
	}
	if saveData.Tracker.Innovations == nil {
		saveData.Tracker.Innovations = make(map[ConnectionKey]int)
	}

	e.tracker = saveData.Tracker
	e.population = saveData.Population
	e.displayed = saveData.Displayed
	if len(e.displayed) == 0 {
		e.displayed = e.population
	}
	e.best = saveData.Best
	e.history = saveData.History
	e.generation = saveData.Generation
	e.nextGenomeID = saveData.NextGenomeID
	e.nextSpeciesID = saveData.NextSpeciesID

	byID := make(map[int]*Genome, len(e.displayed))
	for _, g := range e.displayed {
		byID[g.ID] = g
	}
	for _, sd := range saveData.Species {
		sp := &Species{
			ID:               sd.ID,
			Representative:   sd.Representative,
			BestFitness:      sd.BestFitness,
			StaleGenerations: sd.StaleGenerations,
		}
		for _, id := range sd.MemberIDs {
			if g, ok := byID[id]; ok {
				sp.Members = append(sp.Members, g)
			}
		}
		e.species = append(e.species, sp)
	}
	e.state = StateInitialized

	e.logger.Info("checkpoint loaded", "gen", e.generation, "population", len(e.population))
	return e, nil
}
