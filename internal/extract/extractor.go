// Package extract turns one page image into text: optional preprocessing
// followed by recognition.
package extract

import (
	"context"
	"image"

	ocrerrors "github.com/adverant/nexus/ocr-worker/internal/errors"
	"github.com/adverant/nexus/ocr-worker/internal/ocr"
	"github.com/adverant/nexus/ocr-worker/internal/preprocess"
)

// Extractor extracts the text of a single page. A nil cfg skips
// preprocessing and hands the raw page to the recognizer.
type Extractor interface {
	Extract(ctx context.Context, page image.Image, cfg *preprocess.Config) (string, error)
}

// PageExtractor runs the preprocessing pipeline and then the recognizer.
type PageExtractor struct {
	pipeline   preprocess.Pipeline
	recognizer ocr.Recognizer
}

// NewPageExtractor creates a new page extractor
func NewPageExtractor(pipeline preprocess.Pipeline, recognizer ocr.Recognizer) *PageExtractor {
	if pipeline == nil {
		pipeline = preprocess.NewPipeline()
	}
	return &PageExtractor{
		pipeline:   pipeline,
		recognizer: recognizer,
	}
}

// Extract returns the recognized text, possibly empty. Recognizer failures
// are returned as EngineFailed errors.
func (e *PageExtractor) Extract(ctx context.Context, page image.Image, cfg *preprocess.Config) (string, error) {
	if cfg != nil {
		page = e.pipeline.Run(ctx, page, *cfg)
	}

	text, err := e.recognizer.Recognize(ctx, page)
	if err != nil {
		return "", ocrerrors.NewEngineFailedError("", err)
	}
	return text, nil
}
