package textextract

import (
	"bytes"
	"context"
	"fmt"
	"os"

	"github.com/tmc/langchaingo/documentloaders"
	"github.com/tmc/langchaingo/schema"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

func extractTXT(ctx context.Context, path string) ([]Section, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	docs, err := documentloaders.NewText(f).Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load text: %w", err)
	}
	return fromDocuments(docs), nil
}

// extractCSV yields one section per data row, rendered as "column: value"
// lines.
func extractCSV(ctx context.Context, path string) ([]Section, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	docs, err := documentloaders.NewCSV(f).Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load csv: %w", err)
	}
	return fromDocuments(docs), nil
}

func fromDocuments(docs []schema.Document) []Section {
	out := make([]Section, 0, len(docs))
	for _, d := range docs {
		md := make(map[string]string, len(d.Metadata))
		for k, v := range d.Metadata {
			md[k] = fmt.Sprint(v)
		}
		out = append(out, Section{Text: d.PageContent, Metadata: md})
	}
	return out
}

// extractMarkdown walks the goldmark AST and keeps text content only, one
// line per block.
func extractMarkdown(_ context.Context, path string) ([]Section, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	doc := goldmark.New().Parser().Parse(text.NewReader(src))

	var buf bytes.Buffer
	err = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			if n.Type() == ast.TypeBlock && n.Kind() != ast.KindDocument {
				buf.WriteByte('\n')
			}
			return ast.WalkContinue, nil
		}
		switch node := n.(type) {
		case *ast.Text:
			buf.Write(node.Segment.Value(src))
			if node.SoftLineBreak() || node.HardLineBreak() {
				buf.WriteByte('\n')
			}
		case *ast.String:
			buf.Write(node.Value)
		case *ast.AutoLink:
			buf.Write(node.URL(src))
		case *ast.FencedCodeBlock, *ast.CodeBlock:
			lines := n.Lines()
			for i := 0; i < lines.Len(); i++ {
				seg := lines.At(i)
				buf.Write(seg.Value(src))
			}
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk markdown: %w", err)
	}

	return []Section{{
		Text:     buf.String(),
		Metadata: map[string]string{"format": "markdown"},
	}}, nil
}
