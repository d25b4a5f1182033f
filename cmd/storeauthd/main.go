package main

import (
	"log/slog"
	"os"

	"github.com/leafcart/storeauth/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	})))

	application, err := newApp(cfg)
	if err != nil {
		slog.Error("failed to initialize storeauthd", "error", err)
		os.Exit(1)
	}

	if err := application.run(); err != nil {
		slog.Error("storeauthd stopped with error", "error", err)
		os.Exit(1)
	}
}
