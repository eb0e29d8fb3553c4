/**
 * Recognition engine contract
 *
 * Engines turn a single prepared page into text. The production engine lives
 * in the tesseract subpackage so that callers and their tests do not need
 * libtesseract to build.
 */

package ocr

import (
	"context"
	"image"
	"strings"
)

// Recognizer extracts text from one page image. An empty string is a valid
// result for a blank page.
type Recognizer interface {
	Recognize(ctx context.Context, img image.Image) (string, error)
}

// RecognizerFunc adapts a function to Recognizer.
type RecognizerFunc func(ctx context.Context, img image.Image) (string, error)

func (f RecognizerFunc) Recognize(ctx context.Context, img image.Image) (string, error) {
	return f(ctx, img)
}

// EstimateConfidence scores recognized text from 0.5 up to 0.85 using length,
// word count and the share of latin letters. Engines without per-word
// confidences report this instead.
func EstimateConfidence(text string) float64 {
	confidence := 0.5

	if len(text) > 1000 {
		confidence += 0.1
	}
	if len(text) > 5000 {
		confidence += 0.1
	}

	if len(strings.Fields(text)) > 100 {
		confidence += 0.1
	}

	alpha, total := 0, 0
	for _, r := range text {
		total++
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
			alpha++
		}
	}
	if total > 0 {
		ratio := float64(alpha) / float64(total)
		if ratio > 0.5 && ratio < 0.9 {
			confidence += 0.1
		}
	}

	if confidence > 0.85 {
		confidence = 0.85
	}
	return confidence
}
