// Package app builds the process-wide services shared by the API server, the
// ingestion worker and the evaluation CLI.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/nikhilbhutani/ragchat/internal/cache"
	"github.com/nikhilbhutani/ragchat/internal/config"
	"github.com/nikhilbhutani/ragchat/internal/database"
	"github.com/nikhilbhutani/ragchat/internal/embedding"
	"github.com/nikhilbhutani/ragchat/internal/eval"
	"github.com/nikhilbhutani/ragchat/internal/ingest"
	"github.com/nikhilbhutani/ragchat/internal/llm"
	"github.com/nikhilbhutani/ragchat/internal/memory"
	"github.com/nikhilbhutani/ragchat/internal/rag"
	"github.com/nikhilbhutani/ragchat/internal/vectorstore"
	"github.com/nikhilbhutani/ragchat/pkg/chunker"
)

// SetupLogger installs a JSON slog handler at the named level as the default.
func SetupLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)
	return logger
}

type Services struct {
	Config   *config.Config
	Gateway  llm.Gateway
	Redis    *redis.Client // nil when nothing needs Redis
	Embedder *embedding.Service
	Store    vectorstore.Store
	Pipeline *ingest.Pipeline

	closers []func()
}

// Build connects the index and the LLM gateway. Redis is dialed when the
// history backend or async ingestion needs it; otherwise it only backs the
// embedding cache if reachable.
func Build(ctx context.Context, cfg *config.Config) (*Services, error) {
	s := &Services{Config: cfg, Gateway: llm.NewGateway(cfg.LLM)}

	if err := s.connectRedis(ctx); err != nil {
		s.Close()
		return nil, err
	}

	var opts []embedding.Option
	if s.Redis != nil && cfg.LLM.EmbeddingCacheTTL > 0 {
		opts = append(opts, embedding.WithCache(cache.NewCache(s.Redis, "embed:"), cfg.LLM.EmbeddingCacheTTL))
	}
	s.Embedder = embedding.NewService(s.Gateway, cfg.LLM.EmbeddingModel, opts...)

	store, err := s.openStore(ctx)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.Store = store

	s.Pipeline, err = ingest.New(store, s.Embedder, chunker.Options{
		Size:     cfg.Ingest.ChunkSize,
		Overlap:  cfg.Ingest.ChunkOverlap,
		Strategy: cfg.Ingest.Strategy,
	},
		ingest.WithAllowed(cfg.Storage.AllowedExtension),
		ingest.WithTimeout(cfg.LLM.Timeout, cfg.Retrieval.Timeout),
	)
	if err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Services) redisRequired() bool {
	return s.Config.History.Backend == "redis" || s.Config.Ingest.Mode == "async"
}

func (s *Services) connectRedis(ctx context.Context) error {
	cfg := s.Config.Redis
	if cfg.Addr == "" {
		if s.redisRequired() {
			return errors.New("REDIS_ADDR is required for the redis history backend and async ingestion")
		}
		return nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		if s.redisRequired() {
			return fmt.Errorf("ping redis: %w", err)
		}
		slog.Warn("redis unavailable, running without embedding cache", "error", err)
		return nil
	}
	s.Redis = rdb
	s.closers = append(s.closers, func() { rdb.Close() })
	return nil
}

func (s *Services) openStore(ctx context.Context) (vectorstore.Store, error) {
	idx := s.Config.Index
	switch idx.Backend {
	case "pgvector":
		pool, err := database.Open(ctx, s.Config.Database)
		if err != nil {
			return nil, fmt.Errorf("open pgvector index: %w", err)
		}
		s.closers = append(s.closers, pool.Close)
		slog.Info("index ready", "backend", idx.Backend, "collection", idx.Collection)
		return vectorstore.NewPgVectorStore(pool, idx.Collection), nil
	default:
		embed := func(ctx context.Context, text string) ([]float32, error) {
			return s.Embedder.EmbedSingle(ctx, text)
		}
		store, err := vectorstore.OpenChromem(idx.Path, idx.Collection, idx.Compress, embed)
		if err != nil {
			return nil, fmt.Errorf("open chromem index: %w", err)
		}
		s.closers = append(s.closers, func() { store.Close() })
		slog.Info("index ready", "backend", "chromem", "path", idx.Path, "collection", idx.Collection)
		return store, nil
	}
}

// Sessions returns the configured conversation history backend.
func (s *Services) Sessions() memory.Sessions {
	if s.Config.History.Backend == "redis" && s.Redis != nil {
		return memory.NewRedisSessions(s.Redis, s.Config.History.MaxTurns, s.Config.History.TTL)
	}
	return memory.NewInMemorySessions(s.Config.History.MaxTurns, s.Config.History.TTL)
}

// Metrics returns the evaluation metric set, each judge call bounded by the
// LLM timeout.
func (s *Services) Metrics() []eval.Metric {
	return eval.DefaultMetrics(s.Gateway, s.Config.Eval.JudgeModel, eval.WithJudgeTimeout(s.Config.LLM.Timeout))
}

func (s *Services) Orchestrator() *rag.Orchestrator {
	cfg := s.Config
	return rag.NewOrchestrator(s.Gateway, s.Store, s.Embedder, rag.Options{
		TopK:             cfg.Retrieval.TopK,
		Model:            cfg.LLM.DefaultModel,
		LLMTimeout:       cfg.LLM.Timeout,
		RetrievalTimeout: cfg.Retrieval.Timeout,
	})
}

// Close releases connections in reverse order of opening.
func (s *Services) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}
