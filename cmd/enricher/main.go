package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ncloudioj/gcp-ingestion/internal/config"
	"github.com/ncloudioj/gcp-ingestion/internal/engine"
	"github.com/ncloudioj/gcp-ingestion/internal/logging"
	"github.com/ncloudioj/gcp-ingestion/internal/resource"
)

var configFile string

func main() {
	rootCmd := &cobra.Command{
		Use:           "enricher",
		Short:         "Contextual-services enrichment: geo lookup, interaction classification, reporting URL validation",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "configs/enricher.yaml", "Path to YAML config")

	rootCmd.AddCommand(newServeCmd(), newProcessCmd(), newCheckCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// app bundles what every command needs after startup.
type app struct {
	loader *config.Loader
	cfg    *config.Config
	cache  *resource.Cache
	stage  *engine.Stage
	log    zerolog.Logger
}

// bootstrap loads the config, builds the logger and loads
// every resource the configured mode needs.
func bootstrap(ctx context.Context) (*app, error) {
	bootLog := zerolog.New(os.Stderr).With().Timestamp().Logger()
	loader, err := config.NewLoader(configFile, bootLog)
	if err != nil {
		return nil, err
	}
	cfg := loader.Config()

	log, err := logging.New(cfg.Log.Level, cfg.Log.Format, os.Stderr)
	if err != nil {
		return nil, err
	}
	log = log.With().Str("service", "enricher").Logger()

	cache := resource.NewCache(resource.WithLogger(log.With().Str("component", "resource_cache").Logger()))
	stage, err := engine.NewStage(ctx, cache, cfg.StageConfig(), log)
	if err != nil {
		return nil, fmt.Errorf("initialize stage: %w", err)
	}
	log.Info().
		Str("mode", string(stage.Mode())).
		Str("geo_database", cfg.Resources.GeoDatabase).
		Msg("stage ready")

	return &app{loader: loader, cfg: cfg, cache: cache, stage: stage, log: log}, nil
}
