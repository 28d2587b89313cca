package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nikhilbhutani/ragchat/internal/api"
	"github.com/nikhilbhutani/ragchat/internal/api/handlers"
	"github.com/nikhilbhutani/ragchat/internal/app"
	"github.com/nikhilbhutani/ragchat/internal/config"
	"github.com/nikhilbhutani/ragchat/internal/document"
	"github.com/nikhilbhutani/ragchat/internal/eval"
	"github.com/nikhilbhutani/ragchat/internal/memory"
	"github.com/nikhilbhutani/ragchat/internal/queue"
	"github.com/nikhilbhutani/ragchat/internal/rag"
)

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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := app.Build(ctx, cfg)
	if err != nil {
		slog.Error("failed to start services", "error", err)
		os.Exit(1)
	}
	defer svc.Close()

	orch := svc.Orchestrator()
	if err := orch.Ready(); err != nil {
		// Uploads and listing still work; chat reports the same error per request.
		slog.Warn("qa path not ready", "error", err)
	}

	docs := document.NewService(cfg.Storage.UploadDir, svc.Store,
		document.WithMaxBytes(cfg.Storage.MaxUploadBytes),
		document.WithAllowed(cfg.Storage.AllowedExtension),
	)
	if cfg.Storage.WatchUploads {
		go func() {
			if err := docs.Watch(ctx); err != nil {
				slog.Error("upload watcher stopped", "error", err)
			}
		}()
	}

	var enqueuer handlers.Enqueuer
	if cfg.Ingest.Mode == "async" {
		qc := queue.NewClient(cfg.Redis)
		defer qc.Close()
		enqueuer = qc
	}

	var ping handlers.Pinger
	if svc.Redis != nil {
		ping = func(ctx context.Context) error { return svc.Redis.Ping(ctx).Err() }
	}

	sessions := svc.Sessions()
	router := api.NewRouter(cfg, api.Deps{
		Health: handlers.NewHealthHandler(svc.Store, ping),
		Files:  handlers.NewFileHandler(docs, svc.Pipeline, enqueuer, cfg.Storage.MaxUploadBytes),
		Chat:   rag.NewConversation(orch, sessions),
		Eval:   eval.NewHarness(orch, svc.Metrics()),
	})

	go func() {
		t := time.NewTicker(time.Minute)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				router.Limiter().Sweep()
				if s, ok := sessions.(*memory.InMemorySessions); ok {
					s.Sweep()
				}
			}
		}
	}()

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router.Setup(),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.Info("starting API server", "addr", cfg.Addr(), "index", cfg.Index.Backend, "ingest_mode", cfg.Ingest.Mode)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()

	slog.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced shutdown", "error", err)
	}
	slog.Info("server stopped")
}
