package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"mailtrack/internal/config"
	"mailtrack/internal/logging"
	"mailtrack/internal/store/pg"
)

func main() {
	cfg := config.LoadMigrate()
	logging.Init("mailtrack-migrate", cfg.LogFormat, cfg.LogLevel)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := pg.Migrate(ctx, cfg.DBDSN); err != nil {
		slog.Error("migrate failed", "err", err)
		os.Exit(1)
	}
	slog.Info("migrations applied")
}
