package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"

	"agrosentry/internal/config"
	"agrosentry/internal/events"
	natspub "agrosentry/internal/events/nats"
	"agrosentry/internal/repo/postgres"
)

// The worker relays the Postgres outbox to NATS for deployments that keep
// the relay out of the server process.
func main() {
	cfg, err := config.LoadWorker(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(2)
	}
	logger := cfg.NewLogger(os.Stderr)
	if !cfg.OutboxEnabled {
		logger.Info("outbox disabled; exiting")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("db error", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if cfg.MigrateOnStart {
		if err := postgres.ApplyMigrations(ctx, pool, "migrations"); err != nil {
			logger.Error("migration error", "error", err)
			os.Exit(1)
		}
	}

	publisher, err := natspub.New(cfg.NATSURL, cfg.EventsSubject)
	if err != nil {
		logger.Error("nats error", "error", err)
		os.Exit(1)
	}
	defer publisher.Close()

	worker := &events.OutboxWorker{
		Repo:         postgres.NewStore(pool),
		Publisher:    publisher,
		PollInterval: cfg.OutboxInterval,
		BatchSize:    cfg.OutboxBatch,
		Logger:       logger,
	}

	logger.Info("outbox worker running", "interval", cfg.OutboxInterval, "batch", cfg.OutboxBatch)
	if err := worker.Start(ctx); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return
		}
		logger.Error("worker error", "error", err)
		os.Exit(1)
	}
}
