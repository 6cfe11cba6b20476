// Command agrimarket runs the marketplace API and its operator tooling.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jogardn/agrimarket/internal/config"
	"github.com/jogardn/agrimarket/internal/store"
	"github.com/jogardn/agrimarket/internal/store/memory"
	"github.com/jogardn/agrimarket/internal/store/postgres"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "agrimarket",
		Short:         "Agricultural marketplace backend",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.AddCommand(
		serveCommand(),
		migrateCommand(),
		seedCommand(),
		tokenCommand(),
		ordersCommand(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newLogger(level string) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logger.SetLevel(lvl)
	return logger
}

// loadConfig returns the settings together with a logger at their level.
func loadConfig() (config.Config, *logrus.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, newLogger(cfg.LogLevel), nil
}

// openStore connects the configured backend and brings its schema up to date.
func openStore(ctx context.Context, cfg config.Config, logger *logrus.Logger) (store.Store, error) {
	if cfg.StoreDriver == config.DriverMemory {
		logger.Warn("Using in-memory store; data is lost on exit")
		return memory.New(), nil
	}
	pg := cfg.Database.Postgres()
	st, err := postgres.Open(ctx, pg, logger)
	if err != nil {
		return nil, err
	}
	if err := postgres.MigrateUp(pg, logger); err != nil {
		st.Close()
		return nil, err
	}
	return st, nil
}
