package vectorstore

import (
	"context"
	"testing"

	"github.com/philippgille/chromem-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikhilbhutani/ragchat/internal/llm/llmtest"
)

func fakeEmbed(_ context.Context, text string) ([]float32, error) {
	return llmtest.Vector(text), nil
}

func newTestStore(t *testing.T) *ChromemStore {
	t.Helper()
	s, err := NewChromemStore(chromem.NewDB(), "test", fakeEmbed)
	require.NoError(t, err)
	return s
}

func chunk(id, doc, text string) Chunk {
	return Chunk{
		ID:        id,
		Content:   text,
		Metadata:  map[string]string{"doc_id": doc},
		Embedding: llmtest.Vector(text),
	}
}

func TestChromemSearchOrdersBySimilarity(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Add(ctx, []Chunk{
		chunk("a_0", "a", "golang channels and goroutines"),
		chunk("b_0", "b", "baking sourdough bread at home"),
		chunk("c_0", "c", "goroutines leak when channels block"),
	}))

	res, err := s.Search(ctx, llmtest.Vector("goroutines channels"), 2)
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.ElementsMatch(t, []string{"a_0", "c_0"}, []string{res[0].ID, res[1].ID})
	assert.GreaterOrEqual(t, res[0].Score, res[1].Score)

	// k larger than the collection is clamped
	res, err = s.Search(ctx, llmtest.Vector("baking sourdough bread"), 10)
	require.NoError(t, err)
	assert.Len(t, res, 3)
	assert.Equal(t, "b_0", res[0].ID)
}

func TestChromemSearchEmpty(t *testing.T) {
	s := newTestStore(t)
	res, err := s.Search(context.Background(), llmtest.Vector("anything"), 3)
	require.NoError(t, err)
	assert.Empty(t, res)
}

func TestChromemDeleteWhereAndScan(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Add(ctx, []Chunk{
		chunk("a_0", "a", "first part"),
		chunk("a_1", "a", "second part"),
		chunk("b_0", "b", "other document"),
	}))

	require.NoError(t, s.DeleteWhere(ctx, "doc_id", "a"))

	all, err := s.Scan(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "b_0", all[0].ID)
	assert.Equal(t, "b", all[0].Metadata["doc_id"])

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.Error(t, s.DeleteWhere(ctx, "doc_id", ""))
}

func TestChromemPersistsToDisk(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := OpenChromem(dir, "kb", false, fakeEmbed)
	require.NoError(t, err)
	require.NoError(t, s.Add(ctx, []Chunk{chunk("x_0", "x", "persisted text")}))

	reopened, err := OpenChromem(dir, "kb", false, fakeEmbed)
	require.NoError(t, err)
	n, err := reopened.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestChromemAddRequiresEmbedding(t *testing.T) {
	s := newTestStore(t)
	err := s.Add(context.Background(), []Chunk{{ID: "z", Content: "no vector"}})
	assert.ErrorContains(t, err, "no embedding")
}
