package workers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/nikhilbhutani/ragchat/internal/apperr"
	"github.com/nikhilbhutani/ragchat/internal/document"
	"github.com/nikhilbhutani/ragchat/internal/ingest"
	"github.com/nikhilbhutani/ragchat/internal/queue"
)

// IngestWorker runs queued uploads through the ingestion pipeline.
type IngestWorker struct {
	pipeline *ingest.Pipeline
}

func NewIngestWorker(p *ingest.Pipeline) *IngestWorker {
	return &IngestWorker{pipeline: p}
}

func (w *IngestWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload queue.IngestFilePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %v: %w", err, asynq.SkipRetry)
	}
	file := payload.File
	if file.Path == "" {
		return fmt.Errorf("payload has no file path: %w", asynq.SkipRetry)
	}

	slog.Info("ingesting queued file", "stored_filename", file.StoredFilename)

	res := w.pipeline.IngestFile(ctx, document.IngestSource(&file))
	switch {
	case res.Err == nil:
		slog.Info("queued file ingested", "stored_filename", file.StoredFilename, "doc_id", res.DocID, "chunks", res.Chunks, "status", res.Status)
		return nil
	case !isTransient(res.Err):
		return fmt.Errorf("ingest %s: %v: %w", file.StoredFilename, res.Err, asynq.SkipRetry)
	default:
		return fmt.Errorf("ingest %s: %w", file.StoredFilename, res.Err)
	}
}

// Only index and embedding failures are retried.
func isTransient(err error) bool {
	return errors.Is(err, apperr.ErrExternalService) || errors.Is(err, apperr.ErrTimeout)
}
