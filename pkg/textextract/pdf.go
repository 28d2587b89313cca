package textextract

import (
	"context"
	"fmt"
	"strconv"

	"github.com/ledongthuc/pdf"
)

// extractPDF yields one section per page. Pages are numbered from zero.
func extractPDF(ctx context.Context, path string) ([]Section, error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open PDF: %w", err)
	}
	defer f.Close()

	numPages := reader.NumPage()
	total := strconv.Itoa(numPages)
	sections := make([]Section, 0, numPages)

	for i := 1; i <= numPages; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			// unreadable page; keep the rest of the document
			continue
		}
		sections = append(sections, Section{
			Text: text,
			Metadata: map[string]string{
				"page":        strconv.Itoa(i - 1),
				"total_pages": total,
			},
		})
	}
	return sections, nil
}
