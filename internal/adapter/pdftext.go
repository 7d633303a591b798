package adapter

import (
	"bytes"
	"compress/zlib"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrNotPDF is returned when a financial-report payload is not a PDF file.
var ErrNotPDF = errors.New("payload is not a pdf document")

var (
	pdfHeader      = []byte("%PDF-")
	streamMarker   = []byte("stream")
	endStreamToken = []byte("endstream")
	flateFilter    = []byte("/FlateDecode")
)

// ExtractPDFText pulls the text content out of a PDF: every content stream
// is located, inflated when FlateDecode-compressed, and scanned for text
// show operators (Tj, TJ, '). Layout is approximated with spaces and
// newlines at text-positioning operators; that is enough for the
// keyword-proximity chunking the financial-report adapter does downstream.
func ExtractPDFText(data []byte) (string, error) {
	if !bytes.HasPrefix(bytes.TrimLeft(data, "\r\n \t"), pdfHeader) {
		return "", ErrNotPDF
	}

	var out strings.Builder

	rest := data

	for {
		idx := bytes.Index(rest, streamMarker)
		if idx < 0 {
			break
		}

		// The object dictionary precedes the stream keyword; it names the
		// filter chain.
		dictStart := bytes.LastIndex(rest[:idx], []byte("<<"))
		deflated := dictStart >= 0 && bytes.Contains(rest[dictStart:idx], flateFilter)

		body := rest[idx+len(streamMarker):]
		body = bytes.TrimPrefix(body, []byte("\r"))
		body = bytes.TrimPrefix(body, []byte("\n"))

		end := bytes.Index(body, endStreamToken)
		if end < 0 {
			break
		}

		content := body[:end]
		rest = body[end+len(endStreamToken):]

		if deflated {
			reader, err := zlib.NewReader(bytes.NewReader(content))
			if err != nil {
				continue
			}

			inflated, err := io.ReadAll(reader)
			_ = reader.Close()

			if err != nil && len(inflated) == 0 {
				continue
			}

			content = inflated
		}

		extractContentText(content, &out)
	}

	text := out.String()
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%w: no extractable text", ErrNotPDF)
	}

	return text, nil
}

// extractContentText scans one content stream for text operators. PDF string
// literals are parenthesized with backslash escapes; a show operator follows
// the literal (Tj, ', or the elements of a TJ array).
func extractContentText(content []byte, out *strings.Builder) {
	i := 0

	for i < len(content) {
		switch content[i] {
		case '(':
			literal, next := pdfStringLiteral(content, i)
			out.WriteString(literal)
			out.WriteByte(' ')
			i = next
		case 'T':
			// Td, TD, and T* move the text cursor to a new line.
			if i+1 < len(content) && (content[i+1] == 'd' || content[i+1] == 'D' || content[i+1] == '*') {
				out.WriteByte('\n')
			}

			i++
		case 'E':
			// ET ends a text object.
			if i+1 < len(content) && content[i+1] == 'T' {
				out.WriteByte('\n')
			}

			i++
		default:
			i++
		}
	}
}

// pdfStringLiteral decodes one parenthesized string literal starting at
// open. Returns the decoded text and the index just past the literal.
func pdfStringLiteral(content []byte, open int) (string, int) {
	var text strings.Builder

	depth := 1
	i := open + 1

	for i < len(content) && depth > 0 {
		c := content[i]

		switch c {
		case '\\':
			if i+1 < len(content) {
				switch escaped := content[i+1]; escaped {
				case 'n':
					text.WriteByte('\n')
				case 'r', 't', 'b', 'f':
					text.WriteByte(' ')
				case '(', ')', '\\':
					text.WriteByte(escaped)
				}

				i += 2

				continue
			}

			i++
		case '(':
			depth++

			text.WriteByte(c)
			i++
		case ')':
			depth--

			if depth > 0 {
				text.WriteByte(c)
			}

			i++
		default:
			text.WriteByte(c)
			i++
		}
	}

	return text.String(), i
}
