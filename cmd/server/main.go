package main

import (
	"context"
	"fmt"
	"os"

	"github.com/nadmax/forecastd/internal/config"
	"github.com/nadmax/forecastd/internal/logger"
	"github.com/nadmax/forecastd/internal/repository/sqlstore"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "forecastd",
	Short:         "Forecasting task service",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
	rootCmd.AddCommand(serveCmd, migrateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// bootstrap loads the configuration, builds the logger and connects to the
// database. The caller owns the returned store and must sync the logger.
func bootstrap(ctx context.Context) (*config.Config, *zap.Logger, *sqlstore.Store, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, err
	}

	log, err := logger.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to build logger: %w", err)
	}

	store, err := sqlstore.Open(ctx, sqlstore.Options{
		Driver:          cfg.Database.Driver,
		DSN:             cfg.Database.DSN,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnectTimeout:  cfg.Database.ConnectRetry,
	}, log.With(zap.String("component", "sqlstore")))
	if err != nil {
		_ = log.Sync()
		return nil, nil, nil, err
	}
	return cfg, log, store, nil
}
