// Package extract turns content items and the documents behind them into plain text.
package extract

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hyperjump/kotae/internal/models"
)

// ErrUnsupported is returned for file extensions no extractor handles.
var ErrUnsupported = errors.New("unsupported document format")

// Extractor extracts normalized plain text from content items.
type Extractor struct{}

// NewExtractor returns a new Extractor.
func NewExtractor() *Extractor {
	return &Extractor{}
}

// Extract returns the plain text of item: its title followed by its body blocks and fields
// for structured pages, or by the extracted document for file-backed items. Markup is
// stripped, entities decoded and whitespace collapsed. Empty content yields "".
func (e *Extractor) Extract(item *models.ContentItem) (string, error) {
	parts := []string{item.Title}
	switch {
	case item.Text != "":
		parts = append(parts, item.Text)
	case item.SourcePath != "":
		text, err := e.ExtractFile(item.SourcePath)
		if err != nil {
			return "", err
		}
		parts = append(parts, text)
	default:
		parts = append(parts, pageParts(item)...)
	}
	return CleanHTML(strings.Join(parts, " ")), nil
}

// ExtractFile reads the file at path and returns its text content.
func (e *Extractor) ExtractFile(path string) (string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}
	return e.ExtractBytes(content, strings.ToLower(filepath.Ext(path)))
}

// ExtractBytes extracts text from content based on ext, which includes the leading dot.
func (e *Extractor) ExtractBytes(content []byte, ext string) (string, error) {
	switch ext {
	case ".pdf":
		return extractPDF(content)
	case ".docx":
		return extractDOCX(content)
	case ".pptx":
		return extractPPTX(content)
	case ".odt", ".odp", ".ods":
		return extractOpenDocument(content)
	case ".rtf":
		return extractRTF(content)
	case ".xlsx":
		return extractExcel(content)
	case ".html", ".htm":
		return CleanHTML(plainText(content)), nil
	case ".txt", ".md", ".rst", "":
		return plainText(content), nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupported, ext)
	}
}

// Supported reports whether ExtractBytes handles ext.
func Supported(ext string) bool {
	switch strings.ToLower(ext) {
	case ".pdf", ".docx", ".pptx", ".odt", ".odp", ".ods", ".rtf", ".xlsx", ".html", ".htm", ".txt", ".md", ".rst":
		return true
	}
	return false
}
