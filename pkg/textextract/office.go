package textextract

import (
	"context"
	"fmt"
	"html"
	"strings"

	"github.com/nguyenthenguyen/docx"
	"github.com/xuri/excelize/v2"
)

// extractDOCX also serves .doc; legacy binary documents fail to open as a
// zip archive and are reported as errors.
func extractDOCX(_ context.Context, path string) ([]Section, error) {
	r, err := docx.ReadDocxFile(path)
	if err != nil {
		return nil, fmt.Errorf("open DOCX: %w", err)
	}
	defer r.Close()

	return []Section{{
		Text:     documentXMLText(r.Editable().GetContent()),
		Metadata: map[string]string{"format": "docx"},
	}}, nil
}

var docxBreaks = strings.NewReplacer(
	"</w:p>", "\n",
	"<w:br/>", "\n",
	"<w:tab/>", "\t",
)

// documentXMLText reduces WordprocessingML to text, one paragraph per line.
func documentXMLText(xml string) string {
	xml = docxBreaks.Replace(xml)

	var result strings.Builder
	inTag := false
	for _, r := range xml {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
		case !inTag:
			result.WriteRune(r)
		}
	}

	lines := strings.Split(html.UnescapeString(result.String()), "\n")
	out := lines[:0]
	for _, l := range lines {
		if l = strings.Join(strings.Fields(l), " "); l != "" {
			out = append(out, l)
		}
	}
	return strings.Join(out, "\n")
}

// extractXLSX yields one section per sheet, rows as tab-separated lines.
func extractXLSX(ctx context.Context, path string) ([]Section, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open XLSX: %w", err)
	}
	defer f.Close()

	var sections []Section
	for _, sheet := range f.GetSheetList() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("read sheet %s: %w", sheet, err)
		}
		var buf strings.Builder
		for _, row := range rows {
			line := strings.TrimRight(strings.Join(row, "\t"), "\t")
			if line == "" {
				continue
			}
			buf.WriteString(line)
			buf.WriteByte('\n')
		}
		sections = append(sections, Section{
			Text:     buf.String(),
			Metadata: map[string]string{"sheet": sheet},
		})
	}
	return sections, nil
}
