package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/SteelMorgan/cslogwatch/internal/config"
	"github.com/SteelMorgan/cslogwatch/internal/observability"
)

const version = "0.1.0"

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "cslogwatch",
	Short: "Incremental ingestion of Cobalt Strike beacon logs",
	Long: `cslogwatch watches a Cobalt Strike log directory and stores every
beacon log event in a per-project SQLite database, optionally mirrored to
ClickHouse. Progress is tracked per file so a restart only ingests lines
that were not committed before.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "config.yaml", "config file (YAML)")
	rootCmd.AddCommand(runCmd, reconcileCmd, statusCmd, initDBCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// setup loads configuration and initializes logging and tracing. The
// returned func flushes the tracer.
func setup() (*config.Config, func(), error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	observability.InitLogger(cfg.LogLevel, cfg.LogFile)

	log.Info().
		Str("version", version).
		Str("project", cfg.ProjectName).
		Msg("Starting cslogwatch")

	shutdown, err := observability.InitTracer(context.Background(), observability.TracerConfig{
		Enabled:  cfg.Tracing.Enabled,
		Endpoint: cfg.Tracing.Endpoint,
		Protocol: cfg.Tracing.Protocol,
		Version:  version,
		Project:  cfg.ProjectName,
	})
	if err != nil {
		log.Error().Err(err).Msg("Failed to initialize tracer")
		return cfg, func() {}, nil
	}
	return cfg, func() {
		if err := shutdown(context.Background()); err != nil {
			log.Warn().Err(err).Msg("Tracer shutdown failed")
		}
	}, nil
}
