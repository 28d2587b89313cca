// Package rag answers questions over the indexed documents: reformulate the
// question against the conversation, retrieve the closest chunks, and have
// the LLM answer from them.
package rag

import (
	"context"
	"log/slog"
	"time"

	"github.com/nikhilbhutani/ragchat/internal/apperr"
	"github.com/nikhilbhutani/ragchat/internal/llm"
	"github.com/nikhilbhutani/ragchat/internal/memory"
	"github.com/nikhilbhutani/ragchat/internal/vectorstore"
)

type Request struct {
	Question string        `json:"question"`
	History  []memory.Turn `json:"history,omitempty"`
}

type Response struct {
	Answer             string        `json:"answer"`
	Question           string        `json:"question"`
	StandaloneQuestion string        `json:"standalone_question"`
	History            []memory.Turn `json:"history"`
	Sources            []Source      `json:"sources"`
}

// Contexts returns the retrieved chunk texts in rank order.
func (r *Response) Contexts() []string {
	out := make([]string, len(r.Sources))
	for i, s := range r.Sources {
		out[i] = s.Content
	}
	return out
}

type Source struct {
	ChunkID string  `json:"chunk_id"`
	DocID   string  `json:"doc_id,omitempty"`
	Source  string  `json:"source,omitempty"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

type Options struct {
	TopK             int
	Model            string
	LLMTimeout       time.Duration
	RetrievalTimeout time.Duration
}

type Orchestrator struct {
	gateway      llm.Gateway
	store        vectorstore.Store
	reformulator Reformulator
	retriever    *Retriever
	generator    *Generator
	opts         Options
}

func NewOrchestrator(gw llm.Gateway, store vectorstore.Store, embedder Embedder, opts Options) *Orchestrator {
	if opts.LLMTimeout <= 0 {
		opts.LLMTimeout = 60 * time.Second
	}
	if opts.RetrievalTimeout <= 0 {
		opts.RetrievalTimeout = 30 * time.Second
	}
	return &Orchestrator{
		gateway:      gw,
		store:        store,
		reformulator: NewLLMReformulator(gw, opts.Model),
		retriever:    NewRetriever(store, embedder, opts.TopK),
		generator:    NewGenerator(gw, opts.Model),
		opts:         opts,
	}
}

// Ready reports a configuration error when the index or the LLM cannot be
// used, without calling either.
func (o *Orchestrator) Ready() error {
	if o.store == nil {
		return apperr.Configuration("answer", "vector store is not initialized")
	}
	if o.gateway == nil {
		return apperr.Configuration("answer", "llm gateway is not initialized")
	}
	if err := o.gateway.Check(); err != nil {
		return apperr.New(apperr.ErrConfiguration, "answer", err)
	}
	return nil
}

// Answer runs reformulate, retrieve and generate in order, each under its
// own timeout. The returned history is the input history, unchanged.
func (o *Orchestrator) Answer(ctx context.Context, req Request) (*Response, error) {
	if err := o.Ready(); err != nil {
		return nil, err
	}

	standalone, err := withTimeout(ctx, o.opts.LLMTimeout, func(ctx context.Context) (string, error) {
		return o.reformulator.Reformulate(ctx, req.Question, req.History)
	})
	if err != nil {
		return nil, apperr.External("reformulate question", err)
	}

	results, err := withTimeout(ctx, o.opts.RetrievalTimeout, func(ctx context.Context) ([]vectorstore.SearchResult, error) {
		return o.retriever.Retrieve(ctx, standalone)
	})
	if err != nil {
		return nil, apperr.External("retrieve context", err)
	}

	answer, err := withTimeout(ctx, o.opts.LLMTimeout, func(ctx context.Context) (string, error) {
		return o.generator.Generate(ctx, req.Question, req.History, results)
	})
	if err != nil {
		return nil, apperr.External("generate answer", err)
	}

	slog.Debug("question answered",
		"question", req.Question,
		"standalone", standalone,
		"sources", len(results),
	)

	return &Response{
		Answer:             answer,
		Question:           req.Question,
		StandaloneQuestion: standalone,
		History:            req.History,
		Sources:            toSources(results),
	}, nil
}

func withTimeout[T any](ctx context.Context, d time.Duration, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	return fn(ctx)
}

func toSources(results []vectorstore.SearchResult) []Source {
	out := make([]Source, len(results))
	for i, r := range results {
		out[i] = Source{
			ChunkID: r.ID,
			DocID:   r.Metadata["doc_id"],
			Source:  r.Metadata["source"],
			Content: r.Content,
			Score:   r.Score,
		}
	}
	return out
}
