package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"marketdata/internal/adapter/storage"
	"marketdata/internal/infrastructure/config"
	"marketdata/internal/infrastructure/logger"
)

var version = "dev"

var cfg *config.Config

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "marketdata",
	Short: "Market data service: conversion rates, asset lists and OHLC candles",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("config")
		var err error
		cfg, err = config.Load(path)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if port, _ := cmd.Flags().GetInt("port"); port != 0 {
			cfg.Server.Port = port
		}
		if level, _ := cmd.Flags().GetString("log-level"); level != "" {
			cfg.Logging.Level = level
		}
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		log, logFile, err := logger.Open(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.File, cfg.LogToStdout())
		if err != nil {
			return err
		}
		defer logFile.Close()
		log.Info("starting marketdata", "version", version, "mode", cfg.Mode, "storage", cfg.Storage.Driver)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		app, err := NewApp(ctx, cfg, log)
		if err != nil {
			return err
		}
		return app.Run(ctx)
	},
	SilenceUsage: true,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the schema and seed assets and markets from the config",
	RunE: func(cmd *cobra.Command, args []string) error {
		log, logFile, err := logger.Open(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.File, cfg.LogToStdout())
		if err != nil {
			return err
		}
		defer logFile.Close()

		store, err := storage.NewSQLAdapter(cfg.Storage.Driver, cfg.StorageDSN())
		if err != nil {
			return err
		}
		defer store.Close()

		if err := migrate(cmd.Context(), store, cfg); err != nil {
			return err
		}
		log.Info("migration complete", "assets", len(cfg.AssetList()), "markets", len(cfg.Markets))
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	// no config needed
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("marketdata %s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().String("config", "configs/config.yaml", "config file path")
	rootCmd.PersistentFlags().String("log-level", "", "log level override (debug, info, warn, error)")
	rootCmd.Flags().Int("port", 0, "HTTP port, overrides server.port")

	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(versionCmd)
}

// migrate creates the schema and upserts the configured assets and markets.
func migrate(ctx context.Context, store *storage.SQLAdapter, cfg *config.Config) error {
	if err := store.InitSchema(ctx); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	if err := store.SeedAssets(ctx, cfg.AssetList()); err != nil {
		return err
	}
	markets, err := cfg.MarketList()
	if err != nil {
		return err
	}
	return store.SeedMarkets(ctx, markets)
}
