// Package document is the ledger of uploaded files. The upload directory
// holds the bytes; chunk metadata in the vector store is the authoritative
// description of every ingested file.
package document

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nikhilbhutani/ragchat/internal/apperr"
	"github.com/nikhilbhutani/ragchat/internal/ingest"
	"github.com/nikhilbhutani/ragchat/internal/models"
	"github.com/nikhilbhutani/ragchat/internal/vectorstore"
	"github.com/nikhilbhutani/ragchat/pkg/textextract"
)

// Chunk metadata keys written for uploaded files.
const (
	KeyOriginalFilename = "original_filename"
	KeyStoredFilename   = "stored_filename"
	KeyExtension        = "extension"
	KeySizeBytes        = "size_bytes"
	KeyUploadedAt       = "uploaded_at"
)

// ErrTooLarge is returned by Save when the upload exceeds the size cap.
var ErrTooLarge = errors.New("file exceeds upload size limit")

type Service struct {
	dir      string
	store    vectorstore.Store
	maxBytes int64
	allowed  func(ext string) bool
	now      func() time.Time
}

type Option func(*Service)

func WithMaxBytes(n int64) Option {
	return func(s *Service) { s.maxBytes = n }
}

// WithAllowed sets the extension allow-list used by Save.
func WithAllowed(allowed func(ext string) bool) Option {
	return func(s *Service) { s.allowed = allowed }
}

func NewService(dir string, store vectorstore.Store, opts ...Option) *Service {
	s := &Service{
		dir:      dir,
		store:    store,
		maxBytes: 20 << 20,
		allowed:  textextract.Supports,
		now:      time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Service) Dir() string { return s.dir }

// Allowed reports whether uploads with this file name are accepted.
func (s *Service) Allowed(name string) bool {
	ext := textextract.Ext(name)
	return ext != "" && s.allowed(ext)
}

// Save writes r under a unique stored name in the upload directory.
func (s *Service) Save(_ context.Context, name string, r io.Reader) (*models.FileMetadata, error) {
	if !s.Allowed(name) {
		return nil, apperr.UnsupportedFileType(textextract.Ext(name))
	}

	base := filepath.Base(strings.ReplaceAll(name, `\`, "/"))
	ext := filepath.Ext(base)
	stem := sanitizeStem(strings.TrimSuffix(base, ext))
	original := stem + ext
	stored := stem + "_" + uuid.NewString()[:8] + strings.ToLower(ext)
	path := filepath.Join(s.dir, stored)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", stored, err)
	}
	n, err := io.Copy(f, io.LimitReader(r, s.maxBytes+1))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && n > s.maxBytes {
		err = ErrTooLarge
	}
	if err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("save %s: %w", original, err)
	}

	abs, _ := filepath.Abs(path)
	now := s.now().UTC()
	return &models.FileMetadata{
		OriginalFilename: original,
		StoredFilename:   stored,
		Extension:        strings.ToLower(ext),
		SizeBytes:        n,
		UploadedAt:       now,
		ModifiedAt:       now,
		Path:             abs,
		Source:           stored,
		MetadataSource:   models.MetadataSourceFilesystem,
	}, nil
}

// IngestSource builds the ingestion input for a saved file, carrying the
// ledger fields onto every chunk.
func IngestSource(m *models.FileMetadata) ingest.Source {
	md := map[string]string{
		KeyOriginalFilename: m.OriginalFilename,
		KeyStoredFilename:   m.StoredFilename,
		KeyExtension:        m.Extension,
		KeySizeBytes:        strconv.FormatInt(m.SizeBytes, 10),
	}
	if !m.UploadedAt.IsZero() {
		md[KeyUploadedAt] = m.UploadedAt.Format(time.RFC3339Nano)
	}
	return ingest.Source{Path: m.Path, Metadata: md}
}

// List returns every known file, newest first. Index metadata wins over
// the filesystem view; if the index cannot be read the filesystem view is
// returned alone.
func (s *Service) List(ctx context.Context) ([]models.FileMetadata, error) {
	onDisk, err := s.scanDir()
	if err != nil {
		return nil, err
	}

	byName := make(map[string]models.FileMetadata, len(onDisk))
	for _, m := range onDisk {
		byName[m.StoredFilename] = m
	}

	indexed, err := s.indexed(ctx)
	if err != nil {
		slog.Warn("index scan failed, listing filesystem only", "error", err)
	}
	for _, m := range indexed {
		key := m.StoredFilename
		if disk, ok := byName[key]; ok {
			m = overlay(disk, m)
		}
		byName[key] = m
	}

	out := make([]models.FileMetadata, 0, len(byName))
	for _, m := range byName {
		out = append(out, m)
	}
	slices.SortFunc(out, func(a, b models.FileMetadata) int {
		if c := b.SortTime().Compare(a.SortTime()); c != 0 {
			return c
		}
		return strings.Compare(a.StoredFilename, b.StoredFilename)
	})
	return out, nil
}

// Resolve finds a file by stored name on disk, then by stored_filename,
// original_filename and source in the index. The first match wins.
func (s *Service) Resolve(ctx context.Context, name string) (*models.FileMetadata, error) {
	if name == "" || name != filepath.Base(name) || name == "." || name == ".." {
		return nil, apperr.NotFound(name)
	}

	disk, diskErr := s.stat(name)
	indexed, err := s.indexed(ctx)
	if err != nil {
		if diskErr == nil {
			slog.Warn("index scan failed, resolving from filesystem", "name", name, "error", err)
			return disk, nil
		}
		return nil, apperr.External("resolve "+name, err)
	}

	if diskErr == nil {
		for _, m := range indexed {
			if m.StoredFilename == name {
				merged := overlay(*disk, m)
				return &merged, nil
			}
		}
		return disk, nil
	}

	for _, field := range []func(models.FileMetadata) string{
		func(m models.FileMetadata) string { return m.StoredFilename },
		func(m models.FileMetadata) string { return m.OriginalFilename },
		func(m models.FileMetadata) string { return m.Source },
	} {
		for _, m := range indexed {
			if field(m) == name {
				return &m, nil
			}
		}
	}
	return nil, apperr.NotFound(name)
}

// Open resolves name and returns the path of its bytes on disk.
func (s *Service) Open(ctx context.Context, name string) (string, *models.FileMetadata, error) {
	m, err := s.Resolve(ctx, name)
	if err != nil {
		return "", nil, err
	}
	path := filepath.Join(s.dir, m.StoredFilename)
	if _, err := os.Stat(path); err != nil {
		return "", nil, apperr.NotFound(name)
	}
	return path, m, nil
}

func (s *Service) scanDir() ([]models.FileMetadata, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read upload dir: %w", err)
	}
	out := make([]models.FileMetadata, 0, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		m, err := s.stat(e.Name())
		if err != nil {
			continue
		}
		out = append(out, *m)
	}
	return out, nil
}

func (s *Service) stat(name string) (*models.FileMetadata, error) {
	path := filepath.Join(s.dir, name)
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%s is not a regular file", name)
	}
	abs, _ := filepath.Abs(path)
	return &models.FileMetadata{
		OriginalFilename: originalName(name),
		StoredFilename:   name,
		Extension:        textextract.Ext(name),
		SizeBytes:        info.Size(),
		ModifiedAt:       info.ModTime().UTC(),
		Path:             abs,
		Source:           name,
		MetadataSource:   models.MetadataSourceFilesystem,
	}, nil
}

// indexed groups stored chunks into one record per document.
func (s *Service) indexed(ctx context.Context) ([]models.FileMetadata, error) {
	if s.store == nil {
		return nil, nil
	}
	chunks, err := s.store.Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("scan index: %w", err)
	}

	groups := make(map[string]*models.FileMetadata)
	var order []string
	for _, c := range chunks {
		md := c.Metadata
		key := firstNonEmpty(md[ingest.KeyDocID], md[KeyStoredFilename], md[ingest.KeySource])
		if key == "" {
			continue
		}
		if g, ok := groups[key]; ok {
			g.ChunkCount++
			continue
		}
		groups[key] = fromChunkMetadata(md)
		order = append(order, key)
	}

	out := make([]models.FileMetadata, 0, len(order))
	for _, k := range order {
		out = append(out, *groups[k])
	}
	return out, nil
}

func fromChunkMetadata(md map[string]string) *models.FileMetadata {
	stored := firstNonEmpty(md[KeyStoredFilename], md[ingest.KeySource])
	m := &models.FileMetadata{
		OriginalFilename: firstNonEmpty(md[KeyOriginalFilename], originalName(stored)),
		StoredFilename:   stored,
		Extension:        firstNonEmpty(md[KeyExtension], textextract.Ext(stored)),
		Path:             md[ingest.KeyFullPath],
		DocID:            md[ingest.KeyDocID],
		Source:           md[ingest.KeySource],
		ChunkCount:       1,
		MetadataSource:   models.MetadataSourceIndex,
	}
	if n, err := strconv.ParseInt(md[KeySizeBytes], 10, 64); err == nil {
		m.SizeBytes = n
	}
	if t, err := time.Parse(time.RFC3339Nano, md[KeyUploadedAt]); err == nil {
		m.UploadedAt = t
	}
	return m
}

// overlay fills gaps in the index record from the disk record.
func overlay(disk, idx models.FileMetadata) models.FileMetadata {
	if idx.SizeBytes == 0 {
		idx.SizeBytes = disk.SizeBytes
	}
	if idx.Path == "" {
		idx.Path = disk.Path
	}
	idx.ModifiedAt = disk.ModifiedAt
	return idx
}

var storedSuffix = regexp.MustCompile(`_[0-9a-f]{8}$`)

// originalName strips the unique suffix Save adds to stored names.
func originalName(stored string) string {
	ext := filepath.Ext(stored)
	stem := strings.TrimSuffix(stored, ext)
	if trimmed := storedSuffix.ReplaceAllString(stem, ""); trimmed != "" {
		stem = trimmed
	}
	return stem + ext
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// sanitizeStem replaces anything outside a conservative character set so the
// stored name can never escape the upload directory.
func sanitizeStem(stem string) string {
	stem = unsafeChars.ReplaceAllString(stem, "_")
	stem = strings.TrimLeft(stem, "._")
	if stem == "" {
		return "file"
	}
	return stem
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
