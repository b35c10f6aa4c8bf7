package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/baldhumanity/neatlab/env"
	"github.com/baldhumanity/neatlab/neat"
	"github.com/baldhumanity/neatlab/store"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Evolve a population headless",
		Long: `Evolve a population against a built-in environment for a fixed number of
generations, recording every generation in the history store.

Examples:
  neatlab run --env xor --generations 100
  neatlab run --env seeker --seed 7 --checkpoint seeker.gz
  neatlab run --resume seeker.gz --generations 50`,
		RunE: func(cmd *cobra.Command, args []string) error {
			session, err := loadSession(cmd)
			if err != nil {
				return err
			}
			envName, _ := cmd.Flags().GetString("env")
			generations, _ := cmd.Flags().GetInt("generations")
			seed, _ := cmd.Flags().GetInt64("seed")
			population, _ := cmd.Flags().GetInt("population")
			checkpoint, _ := cmd.Flags().GetString("checkpoint")
			resume, _ := cmd.Flags().GetString("resume")
			target, _ := cmd.Flags().GetFloat64("target")
			jsonOut, _ := cmd.Flags().GetBool("json")

			if envName != "" {
				session.Environment.Name = envName
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runEvolution(ctx, cmd, session, runOptions{
				generations: generations,
				seed:        seed,
				population:  population,
				checkpoint:  checkpoint,
				resume:      resume,
				target:      target,
				jsonOut:     jsonOut,
			})
		},
	}

	cmd.Flags().String("env", "", "Environment: "+fmt.Sprint(env.Names()))
	cmd.Flags().Int("generations", 50, "Number of generations to run")
	cmd.Flags().Int64("seed", 0, "Random seed (0 seeds from the clock)")
	cmd.Flags().Int("population", 0, "Population size override (must match a resumed checkpoint)")
	cmd.Flags().String("checkpoint", "", "Write a checkpoint to this path when done")
	cmd.Flags().String("resume", "", "Resume from a checkpoint file")
	cmd.Flags().Float64("target", 0, "Stop once the best fitness reaches this value (0 disables)")
	return cmd
}

type runOptions struct {
	generations int
	seed        int64
	population  int
	checkpoint  string
	resume      string
	target      float64
	jsonOut     bool
}

func runEvolution(ctx context.Context, cmd *cobra.Command, session *Session, opts runOptions) error {
	logger := session.Logger(cmd.ErrOrStderr())
	out := cmd.OutOrStdout()

	cfg, err := session.Config()
	if err != nil {
		return err
	}
	var patch neat.ConfigPatch
	if opts.seed != 0 {
		patch.Seed = &opts.seed
	}
	if opts.population != 0 {
		patch.PopulationSize = &opts.population
	}
	patch.Apply(&cfg)

	environment, err := env.New(session.Environment.Name, session.Environment)
	if err != nil {
		return err
	}

	var engine *neat.Engine
	if opts.resume != "" {
		engine, err = neat.LoadCheckpoint(opts.resume, environment, neat.WithLogger(logger))
		if err != nil {
			return err
		}
		// A size change would re-initialize and discard the resumed population.
		if saved := engine.Config().Neat.PopulationSize; opts.population != 0 && opts.population != saved {
			return fmt.Errorf("--population %d conflicts with the %d genomes saved in %s", opts.population, saved, opts.resume)
		}
		engine.UpdateConfig(patch)
	} else {
		engine, err = neat.NewEngine(cfg, environment, neat.WithLogger(logger))
		if err != nil {
			return err
		}
		engine.InitPopulation()
	}

	history, err := session.OpenStore(ctx)
	if err != nil {
		return err
	}
	defer history.Close()

	runID := uuid.NewString()
	if err := history.CreateRun(ctx, store.Run{
		ID:          runID,
		Environment: session.Environment.Name,
		StartedAt:   time.Now().UTC(),
		Config:      engine.Config(),
	}); err != nil {
		return fmt.Errorf("recording run: %w", err)
	}
	logger.Info("run started", "run", runID, "environment", session.Environment.Name, "generations", opts.generations)

	enc := json.NewEncoder(out)
	bestSaved := -1.0
	for i := 0; i < opts.generations; i++ {
		if ctx.Err() != nil {
			logger.Warn("run interrupted", "run", runID, "gen", engine.Generation())
			break
		}
		stats, err := engine.EvolveOneGeneration(ctx, nil)
		if err != nil {
			return err
		}
		if err := history.SaveGeneration(ctx, runID, stats); err != nil {
			return fmt.Errorf("recording generation %d: %w", stats.Generation, err)
		}
		if best := engine.Best(); best != nil && best.Fitness > bestSaved {
			if err := history.SaveChampion(ctx, runID, stats.Generation, best); err != nil {
				return fmt.Errorf("recording champion: %w", err)
			}
			bestSaved = best.Fitness
		}

		if opts.jsonOut {
			enc.Encode(stats)
		} else {
			fmt.Fprintf(out, "gen %4d  best %10.4f  avg %10.4f  worst %10.4f  species %3d  champion %d/%d\n",
				stats.Generation, stats.Best, stats.Avg, stats.Worst, stats.SpeciesCount,
				stats.ChampionNodeCount, stats.ChampionConnectionCount)
		}
		if opts.target > 0 && stats.Best >= opts.target {
			logger.Info("target fitness reached", "run", runID, "gen", stats.Generation, "best", stats.Best)
			break
		}
	}

	if opts.checkpoint != "" {
		if err := engine.SaveCheckpoint(opts.checkpoint); err != nil {
			return err
		}
	}

	if best := engine.Best(); best != nil && !opts.jsonOut {
		fmt.Fprintf(out, "run %s best: %s\n", runID, best)
	}
	return nil
}
