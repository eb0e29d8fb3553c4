package rasterize

import (
	"context"
	"image"

	"github.com/adverant/nexus/ocr-worker/internal/logging"
)

// Tolerant wraps a Rasterizer so that any failure yields an empty page list.
// Batches then record empty text for unreadable PDFs instead of an error.
type Tolerant struct {
	inner  Rasterizer
	logger *logging.Logger
}

// NewTolerant creates a new tolerant rasterizer around inner
func NewTolerant(inner Rasterizer, logger *logging.Logger) *Tolerant {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Tolerant{inner: inner, logger: logger}
}

func (t *Tolerant) Rasterize(ctx context.Context, path string, dpi int) ([]image.Image, error) {
	pages, err := t.inner.Rasterize(ctx, path, dpi)
	if err != nil {
		t.logger.Warn("Rasterization failed, treating document as empty", "path", path, "error", err)
		return []image.Image{}, nil
	}
	return pages, nil
}
