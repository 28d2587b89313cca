// Package textextract turns files on disk into plain-text sections, one
// loader per extension.
package textextract

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
)

// ErrUnsupported is returned for extensions with no registered loader.
var ErrUnsupported = errors.New("unsupported file type")

// Section is one unit of extracted text: a PDF page, a CSV row, a sheet, or
// the whole file for flat formats.
type Section struct {
	Text     string
	Metadata map[string]string
}

type loader func(ctx context.Context, path string) ([]Section, error)

var loaders = map[string]loader{
	".pdf":  extractPDF,
	".txt":  extractTXT,
	".csv":  extractCSV,
	".doc":  extractDOCX,
	".docx": extractDOCX,
	".md":   extractMarkdown,
	".xlsx": extractXLSX,
}

// Ext returns the lower-cased extension of path, including the dot.
func Ext(path string) string {
	return strings.ToLower(filepath.Ext(path))
}

func Supports(ext string) bool {
	ext = strings.ToLower(ext)
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	_, ok := loaders[ext]
	return ok
}

func SupportedTypes() []string {
	out := make([]string, 0, len(loaders))
	for ext := range loaders {
		out = append(out, ext)
	}
	slices.Sort(out)
	return out
}

// Extract loads path with the loader for its extension. Sections with no
// text are dropped; a file with no text at all yields an empty slice.
func Extract(ctx context.Context, path string) ([]Section, error) {
	ext := Ext(path)
	load, ok := loaders[ext]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupported, ext)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sections, err := load(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("extract %s: %w", filepath.Base(path), err)
	}

	out := sections[:0]
	for _, s := range sections {
		if strings.TrimSpace(s.Text) == "" {
			continue
		}
		if s.Metadata == nil {
			s.Metadata = map[string]string{}
		}
		out = append(out, s)
	}
	return out, nil
}
