// Package extract provides text extraction from document files.
package extract

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hyperjump/ragcli/internal/models"
	"go.uber.org/zap"
)

type extractFunc func(content []byte) (string, error)

var extractors = map[string]extractFunc{
	".pdf":  extractPDF,
	".txt":  extractPlain,
	".md":   extractPlain,
	".docx": extractDOCX,
	".odt":  extractCat,
	".rtf":  extractCat,
	".xlsx": extractExcel,
}

// SupportedExtensions returns the lower-case extensions (with leading dot) Extract accepts.
func SupportedExtensions() []string {
	exts := make([]string, 0, len(extractors))
	for ext := range extractors {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

// Supported reports whether path has an extension Extract accepts.
func Supported(path string) bool {
	_, ok := extractors[strings.ToLower(filepath.Ext(path))]
	return ok
}

// Extractor extracts plain text from document files.
type Extractor struct {
	ocr    *OCR
	logger *zap.Logger
}

// ExtractorOption configures an Extractor.
type ExtractorOption func(*Extractor)

// WithOCR enables the OCR fallback for PDFs without a text layer.
func WithOCR(o *OCR) ExtractorOption {
	return func(e *Extractor) { e.ocr = o }
}

// WithLogger sets a logger for debug output.
func WithLogger(l *zap.Logger) ExtractorOption {
	return func(e *Extractor) { e.logger = l }
}

// NewExtractor returns a new Extractor.
func NewExtractor(opts ...ExtractorOption) *Extractor {
	e := &Extractor{}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract reads the file at path and returns its text content.
// Unknown extensions fail with models.ErrUnsupportedFormat; unreadable or
// corrupt content and PDFs without recoverable text fail with models.ErrExtraction.
func (e *Extractor) Extract(ctx context.Context, path string) (string, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if _, ok := extractors[ext]; !ok {
		return "", fmt.Errorf("%w: %q (supported: %s)", models.ErrUnsupportedFormat, ext, strings.Join(SupportedExtensions(), ", "))
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}
	text, err := e.ExtractBytes(content, ext)
	if err != nil {
		return "", err
	}
	if ext == ".pdf" && strings.TrimSpace(text) == "" {
		if e.ocr == nil || !e.ocr.Enabled {
			return "", fmt.Errorf("%w: %s has no text layer and OCR is disabled", models.ErrExtraction, filepath.Base(path))
		}
		if e.logger != nil {
			e.logger.Debug("extract falling back to OCR", zap.String("path", path))
		}
		text, err = e.ocr.ExtractPDF(ctx, path)
		if err != nil {
			return "", fmt.Errorf("%w: %s: %w", models.ErrExtraction, filepath.Base(path), err)
		}
	}
	if e.logger != nil {
		e.logger.Debug("extract done", zap.String("path", path), zap.Int("bytes", len(content)), zap.Int("text_len", len(text)))
	}
	return text, nil
}

// ExtractBytes extracts text from content based on the given extension.
// ext should include the leading dot (e.g. ".pdf").
func (e *Extractor) ExtractBytes(content []byte, ext string) (string, error) {
	fn, ok := extractors[strings.ToLower(ext)]
	if !ok {
		return "", fmt.Errorf("%w: %q", models.ErrUnsupportedFormat, ext)
	}
	text, err := fn(content)
	if err != nil {
		return "", fmt.Errorf("%w: %w", models.ErrExtraction, err)
	}
	return text, nil
}
