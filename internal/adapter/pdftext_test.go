package adapter

import (
	"bytes"
	"compress/zlib"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildPDF assembles a minimal single-stream PDF around the given content
// stream, optionally FlateDecode-compressed.
func buildPDF(t *testing.T, content string, compress bool) []byte {
	t.Helper()

	body := []byte(content)
	filter := ""

	if compress {
		var buf bytes.Buffer

		w := zlib.NewWriter(&buf)
		_, err := w.Write(body)
		require.NoError(t, err)
		require.NoError(t, w.Close())

		body = buf.Bytes()
		filter = " /Filter /FlateDecode"
	}

	var pdf bytes.Buffer

	pdf.WriteString("%PDF-1.4\n1 0 obj\n<< /Length ")
	pdf.WriteString("0")
	pdf.WriteString(filter)
	pdf.WriteString(" >>\nstream\n")
	pdf.Write(body)
	pdf.WriteString("\nendstream\nendobj\n%%EOF\n")

	return pdf.Bytes()
}

func TestExtractPDFText_Uncompressed(t *testing.T) {
	pdf := buildPDF(t, "BT /F1 12 Tf 72 712 Td (Hello World) Tj ET", false)

	text, err := ExtractPDFText(pdf)

	require.NoError(t, err)
	assert.Contains(t, text, "Hello World")
}

func TestExtractPDFText_FlateCompressed(t *testing.T) {
	pdf := buildPDF(t, "BT (Total revenues) Tj ( ) Tj (1,234,567) Tj ET", true)

	text, err := ExtractPDFText(pdf)

	require.NoError(t, err)
	assert.Contains(t, text, "Total revenues")
	assert.Contains(t, text, "1,234,567")
}

func TestExtractPDFText_TJArray(t *testing.T) {
	pdf := buildPDF(t, "BT [(Net ) -250 (position)] TJ ET", false)

	text, err := ExtractPDFText(pdf)

	require.NoError(t, err)
	assert.Contains(t, text, "Net ")
	assert.Contains(t, text, "position")
}

func TestExtractPDFText_EscapedLiterals(t *testing.T) {
	pdf := buildPDF(t, `BT (Deficit \(123\) and \\ slash) Tj ET`, false)

	text, err := ExtractPDFText(pdf)

	require.NoError(t, err)
	assert.Contains(t, text, `Deficit (123) and \ slash`)
}

func TestExtractPDFText_NestedParens(t *testing.T) {
	pdf := buildPDF(t, "BT (outer (inner) text) Tj ET", false)

	text, err := ExtractPDFText(pdf)

	require.NoError(t, err)
	assert.Contains(t, text, "outer (inner) text")
}

func TestExtractPDFText_NotPDF(t *testing.T) {
	_, err := ExtractPDFText([]byte("<html>not a pdf</html>"))

	assert.ErrorIs(t, err, ErrNotPDF)
}

func TestExtractPDFText_NoTextStreams(t *testing.T) {
	_, err := ExtractPDFText([]byte("%PDF-1.4\n%%EOF\n"))

	assert.ErrorIs(t, err, ErrNotPDF)
}

func TestExtractPDFText_CorruptStreamSkipped(t *testing.T) {
	// A stream claiming FlateDecode with garbage bytes is skipped, and the
	// later valid stream still yields text.
	var pdf bytes.Buffer

	pdf.WriteString("%PDF-1.4\n")
	pdf.WriteString("1 0 obj\n<< /Filter /FlateDecode >>\nstream\nnot-zlib\nendstream\nendobj\n")
	pdf.Write(buildPDF(t, "BT (recovered) Tj ET", false)[9:]) // strip the inner header

	text, err := ExtractPDFText(pdf.Bytes())

	require.NoError(t, err)
	assert.Contains(t, text, "recovered")
}
