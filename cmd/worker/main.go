package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/hibiken/asynq"

	"github.com/nikhilbhutani/ragchat/internal/app"
	"github.com/nikhilbhutani/ragchat/internal/config"
	"github.com/nikhilbhutani/ragchat/internal/queue"
	"github.com/nikhilbhutani/ragchat/internal/queue/workers"
)

const concurrency = 4

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	app.SetupLogger(cfg.LogLevel)
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	svc, err := app.Build(context.Background(), cfg)
	if err != nil {
		slog.Error("failed to start services", "error", err)
		os.Exit(1)
	}
	defer svc.Close()

	srv := asynq.NewServer(
		queue.RedisOpt(cfg.Redis),
		asynq.Config{
			Concurrency: concurrency,
			Queues: map[string]int{
				"critical": 6,
				"default":  3,
				"low":      1,
			},
			Logger: newAsynqLogger(),
		},
	)

	registry := queue.NewHandlersRegistry()
	ingestWorker := workers.NewIngestWorker(svc.Pipeline)
	registry.Register(queue.TypeIngestFile, asynq.HandlerFunc(ingestWorker.ProcessTask))

	slog.Info("starting worker", "concurrency", concurrency, "index", cfg.Index.Backend)
	// Run blocks until SIGTERM or SIGINT.
	if err := srv.Run(registry.Mux()); err != nil {
		slog.Error("worker error", "error", err)
		os.Exit(1)
	}
}
