package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"feedrelay/internal/bot"
	"feedrelay/internal/config"
	"feedrelay/internal/delivery"
	"feedrelay/internal/fetcher"
	"feedrelay/internal/scheduler"
	"feedrelay/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	log := newLogger(cfg.LogLevel)

	if dir := filepath.Dir(cfg.StatePath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			log.Error("create data directory", "path", dir, "error", err)
			os.Exit(1)
		}
	}

	st, err := store.Open(cfg.StatePath, store.Options{
		SeenLimit:  cfg.SeenLimit,
		PruneFeeds: cfg.PruneFeeds,
	}, log)
	if err != nil {
		log.Error("open state file", "path", cfg.StatePath, "error", err)
		os.Exit(1)
	}

	b, err := bot.New(cfg.TelegramBotToken, st, cfg, log)
	if err != nil {
		log.Error("create bot", "error", err)
		os.Exit(1)
	}

	deliverer := delivery.New(b.API(), delivery.Config{
		RatePerSec: cfg.SendRate,
		Retries:    cfg.DeliveryRetries,
	}, log)

	sched := scheduler.New(st, fetcher.New(http.DefaultClient), deliverer, scheduler.Config{
		Tick:          cfg.TickInterval,
		MaxConcurrent: cfg.MaxConcurrent,
		BackoffBase:   cfg.BackoffBase,
		BackoffMax:    cfg.BackoffMax,
	}, log)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Info("starting bot", "state_file", cfg.StatePath)

	go sched.Run(ctx)

	b.Run(ctx)

	log.Info("bot stopped")
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
