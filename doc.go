// Package neatlab is a Go implementation of NeuroEvolution of Augmenting Topologies (NEAT).
//
// NEAT is a genetic algorithm for the generation of evolving artificial neural networks.
// It alters both the weighting parameters and structures of networks, attempting to find
// a balance between the fitness of evolved solutions and their diversity.
//
// The module is split into:
//
//   - neat: genomes, innovation tracking, speciation and the generation engine
//   - env: built-in tasks (xor, reflex, seeker)
//   - coprocess: a message-driven harness that runs one engine on its own goroutine
//   - store: run history in memory or SQLite
//   - cmd/neatlab: the command line front end
//
// Basic usage:
//
//	// Load configuration
//	config, err := neat.LoadConfig("path/to/config.ini")
//	if err != nil {
//		log.Fatalf("Error loading config: %v", err)
//	}
//
//	// Create an engine for an environment
//	engine, err := neat.NewEngine(*config, env.NewXOR())
//	if err != nil {
//		log.Fatalf("Error creating engine: %v", err)
//	}
//	engine.InitPopulation()
//
//	// Run for 100 generations
//	for i := 0; i < 100; i++ {
//		stats, err := engine.EvolveOneGeneration(ctx, nil)
//		if err != nil {
//			log.Fatalf("Error running generation: %v", err)
//		}
//		if stats.Best > 15.5 {
//			fmt.Println("Solution found!")
//			break
//		}
//	}
package neatlab
