package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/baldhumanity/neatlab/coprocess"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve an evolution co-process over stdio",
		Long: `Run an evolution co-process that reads one JSON request per line from
stdin and writes one JSON reply or event per line to stdout. Logs go to stderr.

Example request lines:
  {"type":"INIT","id":"1","payload":{"environment":"seeker","config":{"populationSize":100}}}
  {"type":"START"}
  {"type":"STOP"}`,
		RunE: func(cmd *cobra.Command, args []string) error {
			session, err := loadSession(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, err := session.Config()
			if err != nil {
				return err
			}
			history, err := session.OpenStore(ctx)
			if err != nil {
				return err
			}
			defer history.Close()

			return coprocess.ServeJSON(ctx, cmd.InOrStdin(), cmd.OutOrStdout(), coprocess.Options{
				Config:       cfg,
				Environment:  session.Environment.Name,
				EnvSettings:  session.Environment,
				VisibleLimit: session.VisibleLimit,
				Logger:       session.Logger(cmd.ErrOrStderr()),
				Recorder:     history,
			})
		},
	}
}
