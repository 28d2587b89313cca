package textextract

import (
	"archive/zip"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestSupports(t *testing.T) {
	for _, ext := range []string{".pdf", "PDF", "txt", ".csv", ".doc", ".docx", ".md", ".xlsx"} {
		assert.True(t, Supports(ext), ext)
	}
	assert.False(t, Supports(".exe"))
	assert.Contains(t, SupportedTypes(), ".xlsx")
}

func TestExtractUnsupported(t *testing.T) {
	_, err := Extract(context.Background(), writeFile(t, "run.exe", "MZ"))
	assert.True(t, errors.Is(err, ErrUnsupported))
}

func TestExtractTXT(t *testing.T) {
	path := writeFile(t, "notes.TXT", "The warranty covers two years.\nReturns within 30 days.")
	sections, err := Extract(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, sections, 1)
	assert.Contains(t, sections[0].Text, "warranty covers two years")
	assert.NotNil(t, sections[0].Metadata)
}

func TestExtractEmptyTXT(t *testing.T) {
	sections, err := Extract(context.Background(), writeFile(t, "empty.txt", "  \n"))
	require.NoError(t, err)
	assert.Empty(t, sections)
}

func TestExtractCSVRows(t *testing.T) {
	path := writeFile(t, "people.csv", "name,city\nAda,London\nLinus,Helsinki\n")
	sections, err := Extract(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, sections, 2)
	assert.Contains(t, sections[0].Text, "name: Ada")
	assert.Contains(t, sections[1].Text, "city: Helsinki")
	assert.Contains(t, sections[0].Metadata, "row")
}

func TestExtractMarkdown(t *testing.T) {
	src := "# Title\n\nSome *emphasis* and a [link](http://x.test).\n\n```\ncode line\n```\n"
	sections, err := Extract(context.Background(), writeFile(t, "readme.md", src))
	require.NoError(t, err)
	require.Len(t, sections, 1)

	text := sections[0].Text
	assert.Contains(t, text, "Title")
	assert.Contains(t, text, "Some emphasis and a link.")
	assert.Contains(t, text, "code line")
	assert.NotContains(t, text, "#")
	assert.NotContains(t, text, "](")
}

func TestExtractDOCX(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.docx")
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	files := map[string]string{
		"[Content_Types].xml":          `<?xml version="1.0"?><Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types"></Types>`,
		"word/_rels/document.xml.rels": `<?xml version="1.0"?><Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships"></Relationships>`,
		"word/document.xml": `<?xml version="1.0"?><w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>` +
			`<w:p><w:r><w:t>Refunds &amp; returns</w:t></w:r></w:p>` +
			`<w:p><w:r><w:t>Within</w:t></w:r><w:r><w:t xml:space="preserve"> 30 days.</w:t></w:r></w:p>` +
			`</w:body></w:document>`,
	}
	for name, body := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())

	sections, err := Extract(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, sections, 1)
	assert.Equal(t, "Refunds & returns\nWithin 30 days.", sections[0].Text)
}

func TestExtractLegacyDocFails(t *testing.T) {
	_, err := Extract(context.Background(), writeFile(t, "old.doc", "\xd0\xcf\x11\xe0 not a zip"))
	assert.Error(t, err)
	assert.False(t, errors.Is(err, ErrUnsupported))
}

func TestExtractXLSX(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prices.xlsx")
	f := excelize.NewFile()
	require.NoError(t, f.SetCellValue("Sheet1", "A1", "item"))
	require.NoError(t, f.SetCellValue("Sheet1", "B1", "price"))
	require.NoError(t, f.SetCellValue("Sheet1", "A2", "widget"))
	require.NoError(t, f.SetCellValue("Sheet1", "B2", 12))
	require.NoError(t, f.SaveAs(path))
	require.NoError(t, f.Close())

	sections, err := Extract(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, sections, 1)
	assert.Equal(t, "Sheet1", sections[0].Metadata["sheet"])
	assert.Equal(t, "item\tprice\nwidget\t12\n", sections[0].Text)
}

func TestExtractCorruptPDF(t *testing.T) {
	_, err := Extract(context.Background(), writeFile(t, "broken.pdf", "not a pdf"))
	assert.Error(t, err)
}

func TestDocumentXMLText(t *testing.T) {
	xml := `<w:p><w:r><w:t>a</w:t><w:tab/><w:t>b</w:t><w:br/><w:t>c &lt;d&gt;</w:t></w:r></w:p>`
	assert.Equal(t, "a b\nc <d>", documentXMLText(xml))
}
