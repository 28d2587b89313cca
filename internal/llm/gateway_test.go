package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikhilbhutani/ragchat/internal/apperr"
	"github.com/nikhilbhutani/ragchat/internal/config"
)

type stubProvider struct {
	name     string
	failures int
	calls    int
	err      error
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) ChatCompletion(_ context.Context, req ChatRequest) (*ChatResponse, error) {
	s.calls++
	if s.calls <= s.failures {
		return nil, s.err
	}
	return &ChatResponse{Provider: s.name, Model: req.Model, Content: "ok from " + s.name}, nil
}

func (s *stubProvider) GenerateEmbedding(_ context.Context, req EmbeddingRequest) (*EmbeddingResponse, error) {
	out := make([][]float32, len(req.Input))
	for i := range out {
		out[i] = []float32{float32(i), 1}
	}
	return &EmbeddingResponse{Provider: s.name, Embeddings: out}, nil
}

func newTestGateway(cfg config.LLMConfig, providers ...Provider) *gateway {
	g := NewGatewayWithProviders(cfg, providers...).(*gateway)
	g.backoff = time.Millisecond
	return g
}

func TestChatRetriesThenSucceeds(t *testing.T) {
	p := &stubProvider{name: "openai", failures: 2, err: errors.New("503")}
	g := newTestGateway(config.LLMConfig{DefaultProvider: "openai", DefaultModel: "gpt-4o", MaxRetries: 2}, p)

	resp, err := g.Chat(context.Background(), ChatRequest{Messages: []Message{{Role: RoleUser, Content: "hi"}}})
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", resp.Model)
	assert.Equal(t, 3, p.calls)
}

func TestChatFallsBack(t *testing.T) {
	primary := &stubProvider{name: "openai", failures: 10, err: errors.New("down")}
	backup := &stubProvider{name: "ollama"}
	g := newTestGateway(config.LLMConfig{DefaultProvider: "openai", FallbackProvider: "ollama", MaxRetries: 1}, primary, backup)

	resp, err := g.Chat(context.Background(), ChatRequest{})
	require.NoError(t, err)
	assert.Equal(t, "ok from ollama", resp.Content)
	assert.Equal(t, 2, primary.calls)
}

func TestChatDoesNotRetryDeadline(t *testing.T) {
	p := &stubProvider{name: "openai", failures: 10, err: context.DeadlineExceeded}
	g := newTestGateway(config.LLMConfig{DefaultProvider: "openai", MaxRetries: 3}, p)

	_, err := g.Chat(context.Background(), ChatRequest{})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, p.calls)
}

func TestCheckReportsMissingProvider(t *testing.T) {
	g := newTestGateway(config.LLMConfig{DefaultProvider: "openai"}, &stubProvider{name: "ollama"})
	assert.ErrorIs(t, g.Check(), apperr.ErrConfiguration)

	g = newTestGateway(config.LLMConfig{DefaultProvider: "anthropic", EmbeddingProvider: "ollama"},
		&stubProvider{name: "anthropic"}, &stubProvider{name: "ollama"})
	assert.NoError(t, g.Check())
}

func TestEmbedUsesEmbeddingProvider(t *testing.T) {
	g := newTestGateway(config.LLMConfig{DefaultProvider: "anthropic", EmbeddingProvider: "ollama"},
		&stubProvider{name: "anthropic"}, &stubProvider{name: "ollama"})

	resp, err := g.Embed(context.Background(), EmbeddingRequest{Input: []string{"a", "b"}})
	require.NoError(t, err)
	assert.Equal(t, "ollama", resp.Provider)
	assert.Len(t, resp.Embeddings, 2)
}

func TestCalculateCost(t *testing.T) {
	assert.InDelta(t, 0.0025+0.01, CalculateCost("gpt-4o", 1000, 1000), 1e-9)
	assert.Zero(t, CalculateCost("llama3", 1000, 1000))
}
