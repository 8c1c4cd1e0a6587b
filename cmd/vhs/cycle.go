package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/postfiatorg/validator-history-service/internal/config"
	"github.com/postfiatorg/validator-history-service/internal/store"
	"github.com/postfiatorg/validator-history-service/internal/store/memory"
	"github.com/postfiatorg/validator-history-service/internal/store/postgres"
)

var cycleCmd = &cobra.Command{
	Use:   "cycle",
	Short: "Run one reconciliation cycle and print its report",
	Long: `Run one reconciliation cycle against the configured sources.

With --dry-run the cycle runs against an empty in-memory store, so nothing
is written to the database and no snapshot is exported.`,
	GroupID: "service",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := newLogger()
		dryRun, _ := cmd.Flags().GetBool("dry-run")

		cfg, err := config.Load()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		var st store.Store
		if dryRun {
			st = memory.New()
		} else {
			if err := cfg.RequireDatabase(); err != nil {
				return err
			}
			pg, err := postgres.New(ctx, cfg.DatabaseURL, cfg.Concurrency+4)
			if err != nil {
				return err
			}
			st = pg
		}
		defer st.Close()

		p, err := buildPipeline(ctx, cfg, st, nil, !dryRun, logger)
		if err != nil {
			return err
		}
		defer p.Close()

		rep, err := p.orch.Run(ctx)
		if err != nil {
			return err
		}
		if jsonOutput {
			printJSON(rep)
		} else {
			printReport(rep)
		}
		if dryRun && !jsonOutput {
			participants, err := st.ListParticipants(ctx)
			if err != nil {
				return err
			}
			printParticipants(participants)
		}
		return nil
	},
}

func init() {
	cycleCmd.Flags().Bool("dry-run", false, "run against an in-memory store")
}
