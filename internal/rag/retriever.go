package rag

import (
	"context"
	"fmt"

	"github.com/nikhilbhutani/ragchat/internal/vectorstore"
)

type Embedder interface {
	EmbedSingle(ctx context.Context, text string) ([]float32, error)
}

type Retriever struct {
	store    vectorstore.Store
	embedder Embedder
	k        int
}

func NewRetriever(store vectorstore.Store, embedder Embedder, k int) *Retriever {
	if k <= 0 {
		k = 3
	}
	return &Retriever{store: store, embedder: embedder, k: k}
}

// Retrieve returns the k chunks most similar to query, best first.
func (r *Retriever) Retrieve(ctx context.Context, query string) ([]vectorstore.SearchResult, error) {
	vec, err := r.embedder.EmbedSingle(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	results, err := r.store.Search(ctx, vec, r.k)
	if err != nil {
		return nil, fmt.Errorf("search index: %w", err)
	}
	return results, nil
}
