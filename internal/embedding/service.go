package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nikhilbhutani/ragchat/internal/cache"
	"github.com/nikhilbhutani/ragchat/internal/llm"
)

// batchSize keeps requests under provider input limits.
const batchSize = 100

// Cache is the subset of cache.Cache the service needs.
type Cache interface {
	Get(ctx context.Context, key string, dest any) error
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
}

type Service struct {
	gateway llm.Gateway
	model   string
	cache   Cache
	ttl     time.Duration
}

type Option func(*Service)

// WithCache memoizes vectors by model and text.
func WithCache(c Cache, ttl time.Duration) Option {
	return func(s *Service) {
		s.cache = c
		s.ttl = ttl
	}
}

func NewService(gw llm.Gateway, model string, opts ...Option) *Service {
	if model == "" {
		model = "text-embedding-3-small"
	}
	s := &Service{gateway: gw, model: model}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Embed returns one vector per input text, in input order.
func (s *Service) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, len(texts))
	var missing []int
	for i, t := range texts {
		if v, ok := s.lookup(ctx, t); ok {
			out[i] = v
			continue
		}
		missing = append(missing, i)
	}

	for start := 0; start < len(missing); start += batchSize {
		end := min(start+batchSize, len(missing))
		idx := missing[start:end]

		batch := make([]string, len(idx))
		for j, i := range idx {
			batch[j] = texts[i]
		}

		resp, err := s.gateway.Embed(ctx, llm.EmbeddingRequest{
			Model: s.model,
			Input: batch,
		})
		if err != nil {
			return nil, fmt.Errorf("embed batch %d: %w", start/batchSize, err)
		}

		for j, i := range idx {
			out[i] = resp.Embeddings[j]
			s.store(ctx, texts[i], resp.Embeddings[j])
		}
	}

	return out, nil
}

func (s *Service) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := s.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(embeddings) == 0 || len(embeddings[0]) == 0 {
		return nil, fmt.Errorf("no embedding returned")
	}
	return embeddings[0], nil
}

func (s *Service) cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return s.model + ":" + hex.EncodeToString(sum[:])
}

func (s *Service) lookup(ctx context.Context, text string) ([]float32, bool) {
	if s.cache == nil {
		return nil, false
	}
	var v []float32
	err := s.cache.Get(ctx, s.cacheKey(text), &v)
	if err != nil {
		if !errors.Is(err, cache.ErrMiss) {
			slog.Warn("embedding cache read failed", "error", err)
		}
		return nil, false
	}
	return v, len(v) > 0
}

func (s *Service) store(ctx context.Context, text string, v []float32) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, s.cacheKey(text), v, s.ttl); err != nil {
		slog.Warn("embedding cache write failed", "error", err)
	}
}
