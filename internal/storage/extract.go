package storage

import (
	"bytes"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
)

// maxExtractedText caps the searchable text kept per attachment.
const maxExtractedText = 64 << 10

// ExtractText returns searchable text for PDFs and plain text uploads. Other
// content types yield an empty string.
func ExtractText(data []byte, contentType string) (string, error) {
	lower := strings.ToLower(contentType)
	var text string
	switch {
	case strings.Contains(lower, "pdf"):
		extracted, err := extractTextFromPDF(data)
		if err != nil {
			return "", err
		}
		text = extracted
	case strings.HasPrefix(lower, "text/") || strings.Contains(lower, "json") || strings.Contains(lower, "csv"):
		if !utf8.Valid(data) {
			return "", nil
		}
		text = string(data)
	default:
		return "", nil
	}

	text = strings.TrimSpace(text)
	if len(text) > maxExtractedText {
		cut := maxExtractedText
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		text = text[:cut]
	}
	return text, nil
}

func extractTextFromPDF(data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}
	var builder strings.Builder
	numPages := reader.NumPage()
	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return "", err
		}
		builder.WriteString(text)
		builder.WriteString("\n")
	}
	return builder.String(), nil
}

// ContentTypeFromName guesses a content type from the file extension.
func ContentTypeFromName(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".txt":
		return "text/plain"
	case ".csv":
		return "text/csv"
	case ".pdf":
		return "application/pdf"
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".webp":
		return "image/webp"
	case ".xlsx":
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	default:
		return "application/octet-stream"
	}
}
