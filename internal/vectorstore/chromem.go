package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"

	"github.com/philippgille/chromem-go"
)

// scanProbe is embedded once to obtain a vector of the right dimension for
// full-collection scans.
const scanProbe = "document"

// ChromemStore keeps the index in an embedded chromem-go database, persisted
// under a directory when opened with OpenChromem.
type ChromemStore struct {
	db         *chromem.DB
	collection *chromem.Collection
	embed      chromem.EmbeddingFunc

	// mu serializes writes; readers hold it shared so a count taken before a
	// query stays valid.
	mu sync.RWMutex

	scanMu  sync.Mutex
	scanVec []float32
}

// OpenChromem opens (or creates) a persistent database at path and the named
// collection inside it. An empty path keeps everything in memory.
func OpenChromem(path, collection string, compress bool, embed chromem.EmbeddingFunc) (*ChromemStore, error) {
	var db *chromem.DB
	if path == "" {
		db = chromem.NewDB()
	} else {
		var err error
		db, err = chromem.NewPersistentDB(path, compress)
		if err != nil {
			return nil, fmt.Errorf("open chromem db at %s: %w", path, err)
		}
	}
	return NewChromemStore(db, collection, embed)
}

func NewChromemStore(db *chromem.DB, collection string, embed chromem.EmbeddingFunc) (*ChromemStore, error) {
	if embed == nil {
		return nil, errors.New("chromem store: embedding func required")
	}
	c, err := db.GetOrCreateCollection(collection, nil, embed)
	if err != nil {
		return nil, fmt.Errorf("get or create collection %s: %w", collection, err)
	}
	return &ChromemStore{db: db, collection: c, embed: embed}, nil
}

func (s *ChromemStore) Add(ctx context.Context, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	docs := make([]chromem.Document, len(chunks))
	for i, c := range chunks {
		if len(c.Embedding) == 0 {
			return fmt.Errorf("chunk %s has no embedding", c.ID)
		}
		docs[i] = chromem.Document{
			ID:        c.ID,
			Content:   c.Content,
			Metadata:  c.Metadata,
			Embedding: normalize(c.Embedding),
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.collection.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("add %d documents: %w", len(docs), err)
	}
	return nil
}

func (s *ChromemStore) Search(ctx context.Context, query []float32, k int) ([]SearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := min(k, s.collection.Count())
	if n <= 0 {
		return nil, nil
	}
	return s.query(ctx, normalize(query), n)
}

func (s *ChromemStore) DeleteWhere(ctx context.Context, field, value string) error {
	if field == "" || value == "" {
		return errors.New("delete filter requires a field and a value")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.collection.Delete(ctx, map[string]string{field: value}, nil); err != nil {
		return fmt.Errorf("delete where %s=%s: %w", field, value, err)
	}
	return nil
}

func (s *ChromemStore) Scan(ctx context.Context) ([]SearchResult, error) {
	if s.collection.Count() == 0 {
		return nil, nil
	}
	query, err := s.scanQuery(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := s.collection.Count()
	if n == 0 {
		return nil, nil
	}
	return s.query(ctx, query, n)
}

func (s *ChromemStore) Count(_ context.Context) (int, error) {
	return s.collection.Count(), nil
}

// Close is a no-op: persistent chromem databases write through on every change.
func (s *ChromemStore) Close() error { return nil }

func (s *ChromemStore) query(ctx context.Context, vec []float32, n int) ([]SearchResult, error) {
	res, err := s.collection.QueryWithOptions(ctx, chromem.QueryOptions{
		QueryEmbedding: vec,
		NResults:       n,
	})
	if err != nil {
		return nil, fmt.Errorf("query collection: %w", err)
	}
	out := make([]SearchResult, len(res))
	for i, r := range res {
		out[i] = SearchResult{
			ID:       r.ID,
			Content:  r.Content,
			Metadata: r.Metadata,
			Score:    float64(r.Similarity),
		}
	}
	return out, nil
}

func (s *ChromemStore) scanQuery(ctx context.Context) ([]float32, error) {
	s.scanMu.Lock()
	defer s.scanMu.Unlock()
	if s.scanVec != nil {
		return s.scanVec, nil
	}
	v, err := s.embed(ctx, scanProbe)
	if err != nil {
		return nil, fmt.Errorf("embed scan query: %w", err)
	}
	s.scanVec = normalize(v)
	return s.scanVec, nil
}
