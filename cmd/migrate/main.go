// Package main applies or rolls back the Postgres schema.
//
//	migrate [-direction up|down]
package main

import (
	"flag"
	"log/slog"
	"os"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"

	"github.com/tapon/qrengine/internal/repository"
)

type migrateConfig struct {
	DatabaseURL string `env:"DATABASE_URL,required"`
}

func main() {
	direction := flag.String("direction", repository.MigrateUp, "migration direction: up or down")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	// A missing .env is fine; the environment may already be populated.
	_ = godotenv.Load()

	var cfg migrateConfig
	if err := env.Parse(&cfg); err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	if err := repository.Migrate(cfg.DatabaseURL, *direction); err != nil {
		logger.Error("migration failed", "direction", *direction, "error", err)
		os.Exit(1)
	}
	logger.Info("migration complete", "direction", *direction)
}
