package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/Provincie-Zuid-Holland/Provincie-Zuid-Holland-PZH-Wooverzicht/internal/app"
	"github.com/Provincie-Zuid-Holland/Provincie-Zuid-Holland-PZH-Wooverzicht/internal/config"
	"github.com/Provincie-Zuid-Holland/Provincie-Zuid-Holland-PZH-Wooverzicht/internal/retrieval"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP query API",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context(), cfg)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(ctx context.Context, cfg *config.Config) error {
	deps, err := app.Bootstrap(ctx, cfg)
	if err != nil {
		return err
	}
	defer deps.Close()

	queryLogger, err := retrieval.NewFileQueryLogger(cfg.QueryLogPath)
	if err != nil {
		slog.Warn("failed to create query logger, falling back to stdout", "error", err)
		queryLogger = retrieval.NewQueryLogger(os.Stdout)
	}

	return app.New(cfg, deps.Index, deps.Ledger, deps.Embedder, queryLogger, deps.Registry).Run(ctx)
}
