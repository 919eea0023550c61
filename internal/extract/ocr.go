package extract

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// ErrOCRUnavailable is returned when the OCR tools are not installed.
var ErrOCRUnavailable = errors.New("OCR engine not available")

// OCR rasterises PDF pages with pdftoppm (poppler) and reads them with tesseract.
type OCR struct {
	Enabled  bool
	Language string
	DPI      int

	lookPath func(string) (string, error)
	run      func(ctx context.Context, name string, args ...string) ([]byte, error)
}

// NewOCR returns an OCR backed by the system's pdftoppm and tesseract binaries.
func NewOCR(enabled bool, language string, dpi int) *OCR {
	if language == "" {
		language = "eng"
	}
	if dpi <= 0 {
		dpi = 300
	}
	return &OCR{
		Enabled:  enabled,
		Language: language,
		DPI:      dpi,
		lookPath: exec.LookPath,
		run: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			return exec.CommandContext(ctx, name, args...).Output()
		},
	}
}

// Available reports whether both OCR tools are on PATH.
func (o *OCR) Available() error {
	for _, bin := range []string{"pdftoppm", "tesseract"} {
		if _, err := o.lookPath(bin); err != nil {
			return fmt.Errorf("%w: %s not found in PATH", ErrOCRUnavailable, bin)
		}
	}
	return nil
}

// ExtractPDF returns the recognised text of every page of the PDF at path.
func (o *OCR) ExtractPDF(ctx context.Context, path string) (string, error) {
	if err := o.Available(); err != nil {
		return "", err
	}
	tmp, err := os.MkdirTemp("", "ragcli-ocr-")
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(tmp)

	prefix := filepath.Join(tmp, "page")
	if _, err := o.run(ctx, "pdftoppm", "-r", strconv.Itoa(o.DPI), "-png", path, prefix); err != nil {
		return "", fmt.Errorf("rasterise pages: %w", err)
	}
	images, err := filepath.Glob(prefix + "*.png")
	if err != nil {
		return "", err
	}
	sort.Strings(images)

	var pages []string
	for _, img := range images {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		out, err := o.run(ctx, "tesseract", img, "stdout", "-l", o.Language)
		if err != nil {
			return "", fmt.Errorf("recognise %s: %w", filepath.Base(img), err)
		}
		if t := strings.TrimSpace(string(out)); t != "" {
			pages = append(pages, t)
		}
	}
	if len(pages) == 0 {
		return "", errors.New("OCR produced no text")
	}
	return strings.Join(pages, "\n\n"), nil
}
