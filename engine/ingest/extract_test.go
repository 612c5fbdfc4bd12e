package ingest

import (
	"archive/zip"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/CodeChampian/safebot/engine/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const documentXML = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
  <w:body>
    <w:p><w:r><w:t>Supplier audit</w:t></w:r></w:p>
    <w:p><w:r><w:t xml:space="preserve">Late </w:t></w:r><w:r><w:t>deliveries</w:t></w:r><w:r><w:tab/><w:t>Q3</w:t></w:r></w:p>
    <w:p></w:p>
    <w:p><w:r><w:t>Line one</w:t><w:br/><w:t>line two</w:t></w:r></w:p>
  </w:body>
</w:document>`

func writeDocx(t *testing.T, dir, name string, files map[string]string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	for n, body := range files {
		w, err := zw.Create(n)
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
	return path
}

func TestExtractText_Plain(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"notes.txt", "NOTES.MD"} {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte("payment terms net 90"), 0o644))

		text, err := ExtractText(path)
		require.NoError(t, err)
		assert.Equal(t, "payment terms net 90", text)
	}
}

func TestExtractText_DocxParagraphs(t *testing.T) {
	path := writeDocx(t, t.TempDir(), "audit.docx", map[string]string{
		"[Content_Types].xml": "<Types/>",
		"word/document.xml":   documentXML,
	})

	text, err := ExtractText(path)
	require.NoError(t, err)
	assert.Equal(t, "Supplier audit\nLate deliveries\tQ3\n\nLine one\nline two", text)
}

func TestExtractText_DocxMissingBody(t *testing.T) {
	path := writeDocx(t, t.TempDir(), "empty.docx", map[string]string{"other.xml": "<x/>"})

	_, err := ExtractText(path)
	var ee *domain.ExtractionError
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, "DOCX", ee.Format)
	assert.ErrorIs(t, err, domain.ErrExtraction)
}

func TestExtractText_CorruptPDF(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.pdf")
	require.NoError(t, os.WriteFile(path, []byte("this is not a pdf"), 0o644))

	_, err := ExtractText(path)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrExtraction)
	assert.Contains(t, err.Error(), "PDF")
}

func TestExtractText_Unsupported(t *testing.T) {
	_, err := ExtractText("/tmp/ledger.xlsx")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrUnsupportedFormat)
	assert.Contains(t, err.Error(), ".xlsx")
	assert.True(t, domain.IsClientError(err))
}

func TestExtractText_MissingFile(t *testing.T) {
	_, err := ExtractText(filepath.Join(t.TempDir(), "gone.txt"))
	assert.ErrorIs(t, err, domain.ErrExtraction)
}

func TestSupported(t *testing.T) {
	assert.True(t, Supported("a.PDF"))
	assert.True(t, Supported("b.docx"))
	assert.False(t, Supported("c.doc"))
	assert.False(t, Supported("noext"))
	assert.Equal(t, []string{".docx", ".md", ".pdf", ".txt"}, SupportedExtensions())
}
