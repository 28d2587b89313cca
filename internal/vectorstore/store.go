// Package vectorstore is the retrieval index: chunks, their embeddings and
// their string metadata.
package vectorstore

import (
	"context"
	"math"
)

type Chunk struct {
	ID        string
	Content   string
	Metadata  map[string]string
	Embedding []float32
}

type SearchResult struct {
	ID       string            `json:"id"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata"`
	Score    float64           `json:"score"`
}

// Store is implemented by the chromem-go and pgvector backends. Implementations
// serialize Add and DeleteWhere per collection; reads may run concurrently.
type Store interface {
	// Add writes all chunks in one batch. Chunk ids must be unique.
	Add(ctx context.Context, chunks []Chunk) error
	// Search returns at most k chunks ordered by descending similarity.
	Search(ctx context.Context, query []float32, k int) ([]SearchResult, error)
	// DeleteWhere removes every chunk whose metadata field equals value.
	DeleteWhere(ctx context.Context, field, value string) error
	// Scan returns every stored chunk (without embeddings).
	Scan(ctx context.Context) ([]SearchResult, error)
	Count(ctx context.Context) (int, error)
	Close() error
}

func normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	norm := float32(math.Sqrt(sum))
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = x / norm
	}
	return out
}
