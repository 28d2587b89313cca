// Package llmtest provides an in-process llm.Gateway for tests.
package llmtest

import (
	"context"
	"hash/fnv"
	"strings"
	"sync"
	"unicode"

	"github.com/nikhilbhutani/ragchat/internal/llm"
)

// Dim is the length of the vectors the fake gateway produces.
const Dim = 64

// Gateway answers chat calls with Reply and embeds text as a hashed bag of
// words, so texts sharing words land close together.
type Gateway struct {
	mu       sync.Mutex
	chats    []llm.ChatRequest
	embeds   int
	Reply    func(req llm.ChatRequest) (string, error)
	EmbedErr error
	CheckErr error
}

func New() *Gateway {
	return &Gateway{}
}

func (g *Gateway) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	g.mu.Lock()
	g.chats = append(g.chats, req)
	reply := g.Reply
	g.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	content := "fake answer"
	if reply != nil {
		var err error
		if content, err = reply(req); err != nil {
			return nil, err
		}
	}
	return &llm.ChatResponse{Provider: "fake", Model: req.Model, Content: content}, nil
}

func (g *Gateway) Embed(ctx context.Context, req llm.EmbeddingRequest) (*llm.EmbeddingResponse, error) {
	g.mu.Lock()
	g.embeds += len(req.Input)
	g.mu.Unlock()

	if g.EmbedErr != nil {
		return nil, g.EmbedErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([][]float32, len(req.Input))
	for i, text := range req.Input {
		out[i] = Vector(text)
	}
	return &llm.EmbeddingResponse{Provider: "fake", Model: req.Model, Embeddings: out}, nil
}

func (g *Gateway) Check() error { return g.CheckErr }

// Chats returns a copy of every chat request received so far.
func (g *Gateway) Chats() []llm.ChatRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]llm.ChatRequest(nil), g.chats...)
}

// Embedded returns how many texts were embedded.
func (g *Gateway) Embedded() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.embeds
}

// Vector is the deterministic embedding used by the fake gateway.
func Vector(text string) []float32 {
	v := make([]float32, Dim)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		h := fnv.New32a()
		h.Write([]byte(w))
		v[h.Sum32()%Dim]++
	}
	// keep the vector non-zero so cosine similarity stays defined
	v[Dim-1] += 0.01
	return v
}
