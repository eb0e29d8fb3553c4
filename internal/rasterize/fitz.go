package rasterize

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io/fs"
	"os"

	"github.com/gen2brain/go-fitz"

	ocrerrors "github.com/adverant/nexus/ocr-worker/internal/errors"
)

// Fitz renders pages with MuPDF.
type Fitz struct {
	preflight bool
}

// FitzOption configures a Fitz rasterizer.
type FitzOption func(*Fitz)

// WithPreflight validates the document structure with pdfcpu before rendering.
func WithPreflight() FitzOption {
	return func(f *Fitz) { f.preflight = true }
}

// NewFitz creates a new MuPDF rasterizer
func NewFitz(opts ...FitzOption) *Fitz {
	f := &Fitz{}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Rasterize returns one image per page. A missing file is reported as a
// SourceNotFound error.
func (f *Fitz) Rasterize(ctx context.Context, path string, dpi int) ([]image.Image, error) {
	if dpi <= 0 {
		dpi = DefaultDPI
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ocrerrors.NewSourceNotFoundError(path, err)
		}
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	if f.preflight {
		pages, err := PageCount(path)
		if err != nil {
			return nil, err
		}
		if pages == 0 {
			return []image.Image{}, nil
		}
	}

	doc, err := fitz.New(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF %s: %w", path, err)
	}
	defer doc.Close()

	n := doc.NumPage()
	pages := make([]image.Image, 0, n)
	for i := 0; i < n; i++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		img, err := doc.ImageDPI(i, float64(dpi))
		if err != nil {
			return nil, fmt.Errorf("failed to render page %d of %s: %w", i+1, path, err)
		}
		pages = append(pages, img)
	}
	return pages, nil
}
