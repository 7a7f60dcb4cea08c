package cmd

import (
	"fmt"
	"log/slog"

	"github.com/lucaspimentel/pscue/internal/config"
	"github.com/lucaspimentel/pscue/internal/engine"
	"github.com/lucaspimentel/pscue/internal/logging"
	"github.com/lucaspimentel/pscue/internal/storage"
)

// openEngine loads the configuration and builds a store-backed engine.
// The caller must Close it.
func openEngine() (*engine.Engine, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger := logging.New(&logging.Config{Level: logLevel(cfg.Logging.Level)})

	store, err := storage.NewSQLiteStore(cfg.Storage.DBPath, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	eng, err := engine.New(cfg, store, logger)
	if err != nil {
		store.Close()
		return nil, err
	}
	return eng, nil
}

func logLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
