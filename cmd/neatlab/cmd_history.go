package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newHistoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history [run-id]",
		Short: "List recorded runs or show one run's generations",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			session, err := loadSession(cmd)
			if err != nil {
				return err
			}
			jsonOut, _ := cmd.Flags().GetBool("json")
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			history, err := session.OpenStore(ctx)
			if err != nil {
				return err
			}
			defer history.Close()

			if len(args) == 0 {
				runs, err := history.Runs(ctx)
				if err != nil {
					return err
				}
				if jsonOut {
					return json.NewEncoder(out).Encode(runs)
				}
				if len(runs) == 0 {
					fmt.Fprintln(out, "No runs recorded.")
					return nil
				}
				tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "RUN\tENVIRONMENT\tSTARTED\tPOPULATION")
				for _, run := range runs {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", run.ID, run.Environment,
						run.StartedAt.Format("2006-01-02 15:04:05"), run.Config.Neat.PopulationSize)
				}
				return tw.Flush()
			}

			runID := args[0]
			generations, ok, err := history.Generations(ctx, runID)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("no generations recorded for run %s", runID)
			}
			champion, hasChampion, err := history.Champion(ctx, runID)
			if err != nil {
				return err
			}

			if jsonOut {
				result := map[string]any{"runId": runID, "generations": generations}
				if hasChampion {
					result["champion"] = champion
				}
				return json.NewEncoder(out).Encode(result)
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "GEN\tBEST\tAVG\tWORST\tSPECIES\tNODES\tCONNECTIONS")
			for _, g := range generations {
				fmt.Fprintf(tw, "%d\t%.4f\t%.4f\t%.4f\t%d\t%d\t%d\n", g.Generation, g.Best, g.Avg, g.Worst,
					g.SpeciesCount, g.ChampionNodeCount, g.ChampionConnectionCount)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			if hasChampion {
				fmt.Fprintf(out, "champion (gen %d): %s\n", champion.Generation, champion.Genome)
			}
			return nil
		},
	}
}
