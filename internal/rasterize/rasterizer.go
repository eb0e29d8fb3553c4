// Package rasterize renders PDF pages to images.
package rasterize

import (
	"context"
	"image"
)

// DefaultDPI is the render resolution used when the caller passes none.
const DefaultDPI = 300

// Rasterizer renders every page of the PDF at path, in page order.
type Rasterizer interface {
	Rasterize(ctx context.Context, path string, dpi int) ([]image.Image, error)
}

// RasterizerFunc adapts a function to Rasterizer.
type RasterizerFunc func(ctx context.Context, path string, dpi int) ([]image.Image, error)

func (f RasterizerFunc) Rasterize(ctx context.Context, path string, dpi int) ([]image.Image, error) {
	return f(ctx, path, dpi)
}
