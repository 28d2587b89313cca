package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// PgVectorStore keeps chunks in the rag_chunks table (see internal/database/migrations),
// partitioned by collection name.
type PgVectorStore struct {
	db         *pgxpool.Pool
	collection string
	writeMu    sync.Mutex
}

func NewPgVectorStore(db *pgxpool.Pool, collection string) *PgVectorStore {
	return &PgVectorStore{db: db, collection: collection}
}

func (s *PgVectorStore) Add(ctx context.Context, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, c := range chunks {
		if len(c.Embedding) == 0 {
			return fmt.Errorf("chunk %s has no embedding", c.ID)
		}
		metadata := c.Metadata
		if metadata == nil {
			metadata = map[string]string{}
		}
		batch.Queue(
			`INSERT INTO rag_chunks (collection, id, content, metadata, embedding)
			 VALUES ($1, $2, $3, $4, $5)`,
			s.collection, c.ID, c.Content, metadata, pgvector.NewVector(normalize(c.Embedding)),
		)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert %d chunks: %w", len(chunks), err)
	}
	return tx.Commit(ctx)
}

func (s *PgVectorStore) Search(ctx context.Context, query []float32, k int) ([]SearchResult, error) {
	if k <= 0 {
		return nil, nil
	}
	rows, err := s.db.Query(ctx,
		`SELECT id, content, metadata, 1 - (embedding <=> $1) AS score
		 FROM rag_chunks
		 WHERE collection = $2
		 ORDER BY embedding <=> $1
		 LIMIT $3`,
		pgvector.NewVector(normalize(query)), s.collection, k,
	)
	if err != nil {
		return nil, fmt.Errorf("similarity search: %w", err)
	}
	return collectResults(rows, true)
}

func (s *PgVectorStore) DeleteWhere(ctx context.Context, field, value string) error {
	if field == "" || value == "" {
		return errors.New("delete filter requires a field and a value")
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, err := s.db.Exec(ctx,
		"DELETE FROM rag_chunks WHERE collection = $1 AND metadata->>$2 = $3",
		s.collection, field, value,
	)
	if err != nil {
		return fmt.Errorf("delete where %s=%s: %w", field, value, err)
	}
	return nil
}

func (s *PgVectorStore) Scan(ctx context.Context) ([]SearchResult, error) {
	rows, err := s.db.Query(ctx,
		"SELECT id, content, metadata FROM rag_chunks WHERE collection = $1 ORDER BY created_at",
		s.collection,
	)
	if err != nil {
		return nil, fmt.Errorf("scan chunks: %w", err)
	}
	return collectResults(rows, false)
}

func (s *PgVectorStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRow(ctx, "SELECT count(*) FROM rag_chunks WHERE collection = $1", s.collection).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count chunks: %w", err)
	}
	return n, nil
}

// Close leaves the pool open; its owner closes it.
func (s *PgVectorStore) Close() error { return nil }

func collectResults(rows pgx.Rows, scored bool) ([]SearchResult, error) {
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		dest := []any{&r.ID, &r.Content, &r.Metadata}
		if scored {
			dest = append(dest, &r.Score)
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read rows: %w", err)
	}
	return results, nil
}
