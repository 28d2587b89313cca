package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/nikhilbhutani/ragchat/internal/eval"
)

// Runner scores a question set.
type Runner interface {
	Run(ctx context.Context, questions []eval.Question) (*eval.Table, error)
}

type EvalHandler struct {
	runner    Runner
	outputDir string
	maxBytes  int64
}

func NewEvalHandler(runner Runner, outputDir string, maxBytes int64) *EvalHandler {
	return &EvalHandler{runner: runner, outputDir: outputDir, maxBytes: maxBytes}
}

type evalResponse struct {
	ResultsFile string      `json:"results_file"`
	Table       *eval.Table `json:"table"`
}

// Run scores an uploaded CSV or XLSX question set and saves the table under
// the output directory.
func (h *EvalHandler) Run(w http.ResponseWriter, r *http.Request) {
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

	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "file required"})
		return
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if ext != ".csv" && ext != ".xlsx" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "question set must be .csv or .xlsx"})
		return
	}

	questions, err := h.loadQuestions(file, ext)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if len(questions) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "question set is empty"})
		return
	}

	table, err := h.runner.Run(r.Context(), questions)
	if err != nil {
		writeError(w, err)
		return
	}

	out := eval.ResultPath(filepath.Base(header.Filename), h.outputDir, ".csv")
	if err := table.Save(out); err != nil {
		writeError(w, fmt.Errorf("save results: %w", err))
		return
	}
	slog.Info("evaluation finished", "questions", len(questions), "results_file", out)
	writeJSON(w, http.StatusOK, evalResponse{ResultsFile: out, Table: table})
}

// loadQuestions spools the upload to a temp file since XLSX needs random access.
func (h *EvalHandler) loadQuestions(src io.Reader, ext string) ([]eval.Question, error) {
	tmp, err := os.CreateTemp("", "questions-*"+ext)
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	_, err = io.Copy(tmp, src)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, fmt.Errorf("spool question set: %w", err)
	}

	qs, err := eval.LoadQuestions(tmp.Name())
	if err != nil {
		return nil, fmt.Errorf("load questions: %w", err)
	}
	return qs, nil
}
