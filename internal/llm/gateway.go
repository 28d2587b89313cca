package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nikhilbhutani/ragchat/internal/apperr"
	"github.com/nikhilbhutani/ragchat/internal/config"
)

type gateway struct {
	providers         map[string]Provider
	defaultProvider   string
	defaultModel      string
	fallbackProvider  string
	embeddingProvider string
	maxRetries        int
	backoff           time.Duration
}

// NewGateway registers a provider for every credential present in cfg.
func NewGateway(cfg config.LLMConfig) Gateway {
	var providers []Provider
	if cfg.OpenAIKey != "" {
		providers = append(providers, NewOpenAIProvider(cfg.OpenAIKey))
	}
	if cfg.AnthropicKey != "" {
		providers = append(providers, NewAnthropicProvider(cfg.AnthropicKey))
	}
	if cfg.OllamaURL != "" {
		providers = append(providers, NewOllamaProvider(cfg.OllamaURL))
	}
	return NewGatewayWithProviders(cfg, providers...)
}

// NewGatewayWithProviders builds a gateway over an explicit provider set.
func NewGatewayWithProviders(cfg config.LLMConfig, providers ...Provider) Gateway {
	g := &gateway{
		providers:         make(map[string]Provider, len(providers)),
		defaultProvider:   cfg.DefaultProvider,
		defaultModel:      cfg.DefaultModel,
		fallbackProvider:  cfg.FallbackProvider,
		embeddingProvider: cfg.EmbeddingProvider,
		maxRetries:        cfg.MaxRetries,
		backoff:           500 * time.Millisecond,
	}
	if g.embeddingProvider == "" {
		g.embeddingProvider = g.defaultProvider
	}
	for _, p := range providers {
		g.providers[p.Name()] = p
	}
	return g
}

func (g *gateway) provider(name string) (Provider, error) {
	p, ok := g.providers[name]
	if !ok {
		return nil, apperr.Configuration("llm gateway", fmt.Sprintf("provider %q not configured", name))
	}
	return p, nil
}

func (g *gateway) Check() error {
	if _, err := g.provider(g.defaultProvider); err != nil {
		return err
	}
	_, err := g.provider(g.embeddingProvider)
	return err
}

func (g *gateway) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	providerName := req.Provider
	if providerName == "" {
		providerName = g.defaultProvider
	}
	if req.Model == "" {
		req.Model = g.defaultModel
	}

	resp, err := g.chatWithRetry(ctx, providerName, req)
	if err != nil && ctx.Err() == nil && g.fallbackProvider != "" && g.fallbackProvider != providerName {
		slog.Warn("primary provider failed, trying fallback",
			"primary", providerName,
			"fallback", g.fallbackProvider,
			"error", err,
		)
		return g.chatWithRetry(ctx, g.fallbackProvider, req)
	}
	return resp, err
}

func (g *gateway) chatWithRetry(ctx context.Context, providerName string, req ChatRequest) (*ChatResponse, error) {
	p, err := g.provider(providerName)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt <= g.maxRetries; attempt++ {
		if attempt > 0 {
			wait := time.Duration(attempt*attempt) * g.backoff
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("%s chat: %w", providerName, ctx.Err())
			case <-time.After(wait):
			}
			slog.Debug("retrying LLM call", "provider", providerName, "attempt", attempt)
		}

		resp, err := p.ChatCompletion(ctx, req)
		if err == nil {
			slog.Debug("llm call",
				"provider", resp.Provider,
				"model", resp.Model,
				"tokens", resp.TotalTokens,
				"cost_usd", resp.CostUSD,
				"latency_ms", resp.LatencyMs,
			)
			return resp, nil
		}
		lastErr = err
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			break
		}
	}
	return nil, fmt.Errorf("all retries exhausted for %s: %w", providerName, lastErr)
}

func (g *gateway) Embed(ctx context.Context, req EmbeddingRequest) (*EmbeddingResponse, error) {
	providerName := req.Provider
	if providerName == "" {
		providerName = g.embeddingProvider
	}

	p, err := g.provider(providerName)
	if err != nil {
		return nil, err
	}

	resp, err := p.GenerateEmbedding(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(resp.Embeddings) != len(req.Input) {
		return nil, fmt.Errorf("%s embedding: got %d vectors for %d inputs", providerName, len(resp.Embeddings), len(req.Input))
	}
	return resp, nil
}
