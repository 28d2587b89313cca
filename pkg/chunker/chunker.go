// Package chunker splits extracted text into overlapping windows.
package chunker

import (
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/textsplitter"
)

const (
	StrategyRecursive = "recursive"
	StrategyFixed     = "fixed"
)

// Options sizes are measured in characters (runes).
type Options struct {
	Size     int
	Overlap  int
	Strategy string
}

func DefaultOptions() Options {
	return Options{Size: 3000, Overlap: 200, Strategy: StrategyRecursive}
}

func (o Options) Validate() error {
	if o.Size <= 0 {
		return fmt.Errorf("chunk size must be positive, got %d", o.Size)
	}
	if o.Overlap < 0 || o.Overlap >= o.Size {
		return fmt.Errorf("chunk overlap must satisfy 0 <= overlap < size, got overlap %d size %d", o.Overlap, o.Size)
	}
	return nil
}

// Splitter turns one text into ordered chunks. Whitespace-only chunks are dropped.
type Splitter interface {
	Split(text string) ([]string, error)
}

func New(opts Options) (Splitter, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	switch opts.Strategy {
	case "", StrategyRecursive:
		return recursive{
			inner: textsplitter.NewRecursiveCharacter(
				textsplitter.WithChunkSize(opts.Size),
				textsplitter.WithChunkOverlap(opts.Overlap),
			),
		}, nil
	case StrategyFixed:
		return fixed{size: opts.Size, overlap: opts.Overlap}, nil
	default:
		return nil, fmt.Errorf("unknown chunk strategy %q", opts.Strategy)
	}
}

// recursive prefers paragraph, then line, then word boundaries.
type recursive struct {
	inner textsplitter.RecursiveCharacter
}

func (r recursive) Split(text string) ([]string, error) {
	parts, err := r.inner.SplitText(text)
	if err != nil {
		return nil, fmt.Errorf("split text: %w", err)
	}
	return dropBlank(parts), nil
}

// fixed cuts at exact rune offsets; consecutive windows share overlap runes.
type fixed struct {
	size    int
	overlap int
}

func (f fixed) Split(text string) ([]string, error) {
	runes := []rune(text)
	step := f.size - f.overlap

	var out []string
	for start := 0; start < len(runes); start += step {
		end := min(start+f.size, len(runes))
		out = append(out, string(runes[start:end]))
		if end == len(runes) {
			break
		}
	}
	return dropBlank(out), nil
}

func dropBlank(parts []string) []string {
	out := parts[:0]
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			out = append(out, p)
		}
	}
	return out
}
