package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/SteelMorgan/cslogwatch/internal/service"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Reconcile, then ingest new lines as they are written",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, flush, err := setup()
		if err != nil {
			return err
		}
		defer flush()

		svc, err := service.NewIngestService(cfg)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

		errChan := make(chan error, 1)
		go func() {
			errChan <- svc.Start(ctx)
		}()

		log.Info().Msg("Ingest service started")

		var runErr error
		select {
		case <-sigChan:
			log.Info().Msg("Received shutdown signal")
			cancel()
			// Start returns once in-flight files are committed
			runErr = <-errChan
		case runErr = <-errChan:
		}
		if runErr != nil {
			log.Error().Err(runErr).Msg("Ingest service error")
		}

		log.Info().Msg("Shutting down gracefully...")
		if err := svc.Stop(); err != nil {
			log.Error().Err(err).Msg("Error during shutdown")
		}
		log.Info().Msg("Ingest service stopped")
		return runErr
	},
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Bring the store up to date once and exit",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, flush, err := setup()
		if err != nil {
			return err
		}
		defer flush()

		svc, err := service.NewIngestService(cfg)
		if err != nil {
			return err
		}
		defer svc.Stop()

		summary, err := svc.Reconcile(cmd.Context())
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "added:     %d\n", summary.Added)
		fmt.Fprintf(out, "changed:   %d\n", summary.Changed)
		fmt.Fprintf(out, "truncated: %d\n", summary.Truncated)
		fmt.Fprintf(out, "removed:   %d\n", summary.Removed)
		fmt.Fprintf(out, "unchanged: %d\n", summary.Unchanged)
		fmt.Fprintf(out, "failed:    %d\n", summary.Failed)
		fmt.Fprintf(out, "events:    %d parsed, %d inserted, %d duplicate, %d failed, %d retracted\n",
			summary.Totals.Events, summary.Totals.Inserted, summary.Totals.Duplicates,
			summary.Totals.Failed, summary.Totals.Retracted)
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show tracked files and stored event count",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, flush, err := setup()
		if err != nil {
			return err
		}
		defer flush()

		svc, err := service.NewIngestService(cfg)
		if err != nil {
			return err
		}
		defer svc.Stop()

		snap, events, err := svc.Status(cmd.Context())
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "project:   %s\n", cfg.ProjectName)
		fmt.Fprintf(out, "directory: %s\n", snap.Directory)
		fmt.Fprintf(out, "events:    %d\n", events)
		fmt.Fprintf(out, "files:     %d\n", len(snap.Files))
		for _, f := range snap.Files {
			fmt.Fprintf(out, "  %8d  %s\n", f.LineCount, f.Path)
		}
		return nil
	},
}

var initDBCmd = &cobra.Command{
	Use:   "init-db",
	Short: "Create the database schema and exit",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, flush, err := setup()
		if err != nil {
			return err
		}
		defer flush()

		svc, err := service.NewIngestService(cfg)
		if err != nil {
			return err
		}
		if err := svc.Open(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "schema ready in %s\n", cfg.Database)
		return svc.Stop()
	},
}
