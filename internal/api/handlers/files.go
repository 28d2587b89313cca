package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"path/filepath"

	"github.com/go-chi/chi/v5"

	"github.com/nikhilbhutani/ragchat/internal/apperr"
	"github.com/nikhilbhutani/ragchat/internal/document"
	"github.com/nikhilbhutani/ragchat/internal/ingest"
	"github.com/nikhilbhutani/ragchat/internal/models"
	"github.com/nikhilbhutani/ragchat/internal/queue"
	"github.com/nikhilbhutani/ragchat/pkg/textextract"
)

// Multipart parts beyond this stay on disk while the request is parsed.
const multipartMemory = 32 << 20

type Ingester interface {
	Ingest(ctx context.Context, sources []ingest.Source) ingest.Report
}

type Enqueuer interface {
	EnqueueIngestFile(ctx context.Context, payload queue.IngestFilePayload) (string, error)
}

type FileHandler struct {
	docs     *document.Service
	ingester Ingester
	enqueuer Enqueuer
	maxBytes int64
}

// NewFileHandler serves the upload ledger. With a non-nil enqueuer uploads
// are ingested by the worker instead of inside the request.
func NewFileHandler(docs *document.Service, ingester Ingester, enqueuer Enqueuer, maxBytes int64) *FileHandler {
	return &FileHandler{docs: docs, ingester: ingester, enqueuer: enqueuer, maxBytes: maxBytes}
}

func (h *FileHandler) Upload(w http.ResponseWriter, r *http.Request) {
	if h.maxBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "upload exceeds size limit"})
			return
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid multipart form"})
		return
	}
	defer r.MultipartForm.RemoveAll()

	headers := r.MultipartForm.File["file"]
	if len(headers) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "no file part"})
		return
	}

	names := make([]string, len(headers))
	for i, fh := range headers {
		names[i] = fh.Filename
		if fh.Filename == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "no selected file"})
			return
		}
	}
	// Reject the whole batch before anything is written.
	for _, name := range names {
		if !h.docs.Allowed(name) {
			writeJSON(w, http.StatusForbidden, map[string]any{
				"error": apperr.UnsupportedFileType(textextract.Ext(name)).Error(),
				"files": names,
			})
			return
		}
	}

	saved := make([]*models.FileMetadata, 0, len(headers))
	for _, fh := range headers {
		m, err := h.save(r.Context(), fh)
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, document.ErrTooLarge) {
				status = http.StatusRequestEntityTooLarge
			}
			writeJSON(w, status, map[string]any{"error": err.Error(), "files": names})
			return
		}
		saved = append(saved, m)
	}
	stored := make([]string, len(saved))
	for i, m := range saved {
		stored[i] = m.StoredFilename
	}

	if h.enqueuer != nil {
		h.enqueue(w, r, saved, stored)
		return
	}

	sources := make([]ingest.Source, len(saved))
	for i, m := range saved {
		sources[i] = document.IngestSource(m)
	}
	report := h.ingester.Ingest(r.Context(), sources)
	if err := report.Err(); err != nil {
		slog.Error("ingestion failed", "files", stored, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error(), "files": stored})
		return
	}

	docIDs := report.DocIDs()
	if docIDs == nil {
		docIDs = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "File processed successfully",
		"files":   stored,
		"doc_ids": docIDs,
	})
}

func (h *FileHandler) save(ctx context.Context, fh *multipart.FileHeader) (*models.FileMetadata, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("open part %s: %w", fh.Filename, err)
	}
	defer f.Close()
	return h.docs.Save(ctx, fh.Filename, f)
}

func (h *FileHandler) enqueue(w http.ResponseWriter, r *http.Request, saved []*models.FileMetadata, stored []string) {
	taskIDs := make([]string, 0, len(saved))
	for _, m := range saved {
		id, err := h.enqueuer.EnqueueIngestFile(r.Context(), queue.IngestFilePayload{File: *m})
		if err != nil {
			slog.Error("enqueue ingestion failed", "stored_filename", m.StoredFilename, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error(), "files": stored})
			return
		}
		taskIDs = append(taskIDs, id)
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"message":  "File queued for processing",
		"files":    stored,
		"task_ids": taskIDs,
	})
}

func (h *FileHandler) List(w http.ResponseWriter, r *http.Request) {
	files, err := h.docs.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if files == nil {
		files = []models.FileMetadata{}
	}
	writeJSON(w, http.StatusOK, files)
}

func (h *FileHandler) Get(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	path, m, err := h.docs.Open(r.Context(), name)
	if err != nil {
		if r.URL.Query().Get("metadata") == "true" && errors.Is(err, apperr.ErrNotFound) {
			// Index-only entries still have metadata after their bytes are gone.
			if meta, rerr := h.docs.Resolve(r.Context(), name); rerr == nil {
				writeJSON(w, http.StatusOK, meta)
				return
			}
		}
		writeError(w, err)
		return
	}
	if r.URL.Query().Get("metadata") == "true" {
		writeJSON(w, http.StatusOK, m)
		return
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", filepath.Base(m.OriginalFilename)))
	http.ServeFile(w, r, path)
}

type deleteRequest struct {
	Filenames []string `json:"filenames"`
}

func (h *FileHandler) Delete(w http.ResponseWriter, r *http.Request) {
	var req deleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if len(req.Filenames) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "filenames required"})
		return
	}

	report := h.docs.Delete(r.Context(), req.Filenames)
	slog.Info("files deleted", "deleted", report.Deleted, "not_found", report.NotFound, "errors", report.Errors)
	writeJSON(w, http.StatusOK, map[string]any{
		"message":   fmt.Sprintf("Deleted %d of %d files", report.Deleted, len(req.Filenames)),
		"deleted":   report.Deleted,
		"not_found": report.NotFound,
		"errors":    report.Errors,
		"results":   report.Results,
	})
}
