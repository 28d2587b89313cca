// Package ingest loads files, splits them into chunks, embeds the chunks and
// writes them to the vector store, one doc_id per file.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/nikhilbhutani/ragchat/internal/apperr"
	"github.com/nikhilbhutani/ragchat/internal/vectorstore"
	"github.com/nikhilbhutani/ragchat/pkg/chunker"
	"github.com/nikhilbhutani/ragchat/pkg/textextract"
	"github.com/nikhilbhutani/ragchat/pkg/tokenizer"
)

// Metadata keys written by the pipeline. They override loader and caller
// values of the same name.
const (
	KeySource        = "source"
	KeyFullPath      = "full_path"
	KeyDocID         = "doc_id"
	KeyChunkID       = "chunk_id"
	KeyChunkIndex    = "chunk_index"
	KeyTokenEstimate = "token_estimate"
)

type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Source is one file to ingest plus caller metadata copied onto every chunk.
type Source struct {
	Path     string            `json:"path"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type Status string

const (
	StatusIngested Status = "ingested"
	StatusSkipped  Status = "skipped"
	StatusFailed   Status = "failed"
)

type FileResult struct {
	Path   string `json:"path"`
	DocID  string `json:"doc_id,omitempty"`
	Chunks int    `json:"chunks"`
	Status Status `json:"status"`
	Err    error  `json:"-"`
}

// Report holds one result per input, in input order.
type Report struct {
	Files []FileResult `json:"files"`
}

// DocIDs lists the doc_ids of files that produced chunks.
func (r Report) DocIDs() []string {
	var ids []string
	for _, f := range r.Files {
		if f.Status == StatusIngested {
			ids = append(ids, f.DocID)
		}
	}
	return ids
}

// Err joins the per-file failures, or returns nil when none failed.
func (r Report) Err() error {
	var errs []error
	for _, f := range r.Files {
		if f.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", filepath.Base(f.Path), f.Err))
		}
	}
	return errors.Join(errs...)
}

type Pipeline struct {
	store    vectorstore.Store
	embedder Embedder
	splitter chunker.Splitter
	allowed  func(ext string) bool
	newID    func() string

	embedTimeout time.Duration
	storeTimeout time.Duration
}

type Option func(*Pipeline)

// WithAllowed restricts ingestion to extensions the predicate accepts, on top
// of the extensions that have a loader.
func WithAllowed(allowed func(ext string) bool) Option {
	return func(p *Pipeline) { p.allowed = allowed }
}

// WithIDFunc replaces the doc_id generator.
func WithIDFunc(fn func() string) Option {
	return func(p *Pipeline) { p.newID = fn }
}

// WithTimeout bounds each embedding call by llm and each vector store write
// by store. Zero leaves the call bounded only by the caller's context.
func WithTimeout(llm, store time.Duration) Option {
	return func(p *Pipeline) {
		p.embedTimeout = llm
		p.storeTimeout = store
	}
}

func New(store vectorstore.Store, embedder Embedder, opts chunker.Options, options ...Option) (*Pipeline, error) {
	if store == nil {
		return nil, apperr.Configuration("new ingest pipeline", "vector store is not initialized")
	}
	splitter, err := chunker.New(opts)
	if err != nil {
		return nil, apperr.Configuration("new ingest pipeline", err.Error())
	}
	p := &Pipeline{
		store:    store,
		embedder: embedder,
		splitter: splitter,
		newID:    uuid.NewString,
	}
	for _, o := range options {
		o(p)
	}
	return p, nil
}

// Ingest processes every source independently. A failing file never stops
// the batch, and files already written stay written.
func (p *Pipeline) Ingest(ctx context.Context, sources []Source) Report {
	report := Report{Files: make([]FileResult, 0, len(sources))}
	for _, src := range sources {
		res := p.IngestFile(ctx, src)
		switch res.Status {
		case StatusFailed:
			slog.Error("ingest failed", "path", src.Path, "error", res.Err)
		case StatusSkipped:
			slog.Warn("no chunks produced, skipping", "path", src.Path)
		default:
			slog.Info("file ingested", "path", src.Path, "doc_id", res.DocID, "chunks", res.Chunks)
		}
		report.Files = append(report.Files, res)
	}
	return report
}

func (p *Pipeline) IngestFile(ctx context.Context, src Source) FileResult {
	res := FileResult{Path: src.Path}
	fail := func(err error) FileResult {
		res.Status = StatusFailed
		res.Err = err
		return res
	}

	ext := textextract.Ext(src.Path)
	if !textextract.Supports(ext) || (p.allowed != nil && !p.allowed(ext)) {
		return fail(apperr.UnsupportedFileType(ext))
	}

	abs, err := filepath.Abs(src.Path)
	if err != nil {
		return fail(fmt.Errorf("resolve path: %w", err))
	}

	sections, err := textextract.Extract(ctx, abs)
	if err != nil {
		if errors.Is(err, textextract.ErrUnsupported) {
			return fail(apperr.UnsupportedFileType(ext))
		}
		return fail(err)
	}

	docID := p.newID()
	chunks, err := p.split(sections, src.Metadata, docID, abs)
	if err != nil {
		return fail(err)
	}
	if len(chunks) == 0 {
		res.Status = StatusSkipped
		return res
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}
	vectors, err := p.embed(ctx, texts)
	if err != nil {
		return fail(apperr.External("embed chunks", err))
	}
	if len(vectors) != len(chunks) {
		return fail(apperr.External("embed chunks", fmt.Errorf("got %d vectors for %d chunks", len(vectors), len(chunks))))
	}
	for i := range chunks {
		chunks[i].Embedding = vectors[i]
	}

	if err := p.add(ctx, chunks); err != nil {
		return fail(apperr.External("write chunks", err))
	}

	res.DocID = docID
	res.Chunks = len(chunks)
	res.Status = StatusIngested
	return res
}

func (p *Pipeline) embed(ctx context.Context, texts []string) ([][]float32, error) {
	ctx, cancel := bounded(ctx, p.embedTimeout)
	defer cancel()
	return p.embedder.Embed(ctx, texts)
}

func (p *Pipeline) add(ctx context.Context, chunks []vectorstore.Chunk) error {
	ctx, cancel := bounded(ctx, p.storeTimeout)
	defer cancel()
	return p.store.Add(ctx, chunks)
}

func bounded(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// split numbers chunks across all sections of a file and builds their
// metadata: loader values, then caller values, then pipeline fields.
func (p *Pipeline) split(sections []textextract.Section, caller map[string]string, docID, absPath string) ([]vectorstore.Chunk, error) {
	var chunks []vectorstore.Chunk
	for _, sec := range sections {
		parts, err := p.splitter.Split(sec.Text)
		if err != nil {
			return nil, err
		}
		for _, part := range parts {
			idx := len(chunks)
			id := ChunkID(docID, idx)

			md := make(map[string]string, len(sec.Metadata)+len(caller)+6)
			maps.Copy(md, sec.Metadata)
			maps.Copy(md, caller)
			md[KeySource] = filepath.Base(absPath)
			md[KeyFullPath] = absPath
			md[KeyDocID] = docID
			md[KeyChunkID] = id
			md[KeyChunkIndex] = strconv.Itoa(idx)
			md[KeyTokenEstimate] = strconv.Itoa(tokenizer.Estimate(part))

			chunks = append(chunks, vectorstore.Chunk{ID: id, Content: part, Metadata: md})
		}
	}
	return chunks, nil
}

// ChunkID derives a chunk id from its document and position.
func ChunkID(docID string, index int) string {
	return docID + "_" + strconv.Itoa(index)
}
