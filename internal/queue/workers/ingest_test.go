package workers

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/philippgille/chromem-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikhilbhutani/ragchat/internal/embedding"
	"github.com/nikhilbhutani/ragchat/internal/ingest"
	"github.com/nikhilbhutani/ragchat/internal/llm/llmtest"
	"github.com/nikhilbhutani/ragchat/internal/models"
	"github.com/nikhilbhutani/ragchat/internal/queue"
	"github.com/nikhilbhutani/ragchat/internal/vectorstore"
	"github.com/nikhilbhutani/ragchat/pkg/chunker"
)

func newWorker(t *testing.T) (*IngestWorker, *vectorstore.ChromemStore, *llmtest.Gateway) {
	t.Helper()
	store, err := vectorstore.NewChromemStore(chromem.NewDB(), "test", func(_ context.Context, text string) ([]float32, error) {
		return llmtest.Vector(text), nil
	})
	require.NoError(t, err)
	gw := llmtest.New()
	p, err := ingest.New(store, embedding.NewService(gw, ""), chunker.DefaultOptions())
	require.NoError(t, err)
	return NewIngestWorker(p), store, gw
}

func task(t *testing.T, file models.FileMetadata) *asynq.Task {
	t.Helper()
	tk, err := queue.NewTask(queue.TypeIngestFile, queue.IngestFilePayload{File: file})
	require.NoError(t, err)
	return tk
}

func TestIngestWorkerWritesChunks(t *testing.T) {
	w, store, _ := newWorker(t)
	path := filepath.Join(t.TempDir(), "notes_0a1b2c3d.txt")
	require.NoError(t, os.WriteFile(path, []byte("The warehouse closes at six."), 0o644))

	err := w.ProcessTask(context.Background(), task(t, models.FileMetadata{
		OriginalFilename: "notes.txt",
		StoredFilename:   "notes_0a1b2c3d.txt",
		Extension:        ".txt",
		Path:             path,
	}))
	require.NoError(t, err)

	all, err := store.Scan(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "notes_0a1b2c3d.txt", all[0].Metadata["stored_filename"])
	assert.Equal(t, "notes.txt", all[0].Metadata["original_filename"])
}

func TestIngestWorkerSkipsRetryForBadInput(t *testing.T) {
	w, _, _ := newWorker(t)

	err := w.ProcessTask(context.Background(), asynq.NewTask(queue.TypeIngestFile, []byte("{")))
	assert.ErrorIs(t, err, asynq.SkipRetry)

	err = w.ProcessTask(context.Background(), task(t, models.FileMetadata{Path: filepath.Join(t.TempDir(), "missing.txt")}))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestIngestWorkerRetriesEmbeddingFailure(t *testing.T) {
	w, _, gw := newWorker(t)
	gw.EmbedErr = assert.AnError
	path := filepath.Join(t.TempDir(), "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("some text"), 0o644))

	err := w.ProcessTask(context.Background(), task(t, models.FileMetadata{StoredFilename: "a.txt", Path: path}))
	require.Error(t, err)
	assert.NotErrorIs(t, err, asynq.SkipRetry)
}
