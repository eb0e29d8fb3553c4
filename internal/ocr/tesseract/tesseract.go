/**
 * Tesseract recognition engine
 *
 * Offline OCR through libtesseract (gosseract). A fresh client is created per
 * page; gosseract clients are not safe for concurrent use.
 */

package tesseract

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/otiai10/gosseract/v2"
)

// Config holds engine settings.
type Config struct {
	// TessdataPrefix overrides the directory holding *.traineddata files.
	TessdataPrefix string
	// Languages defaults to English.
	Languages []string
}

// Engine recognizes text with Tesseract.
type Engine struct {
	tessdataPrefix string
	languages      []string
}

// New creates a new Tesseract engine
func New(cfg Config) *Engine {
	langs := cfg.Languages
	if len(langs) == 0 {
		langs = []string{"eng"}
	}
	return &Engine{
		tessdataPrefix: cfg.TessdataPrefix,
		languages:      langs,
	}
}

// Recognize encodes img as PNG and runs Tesseract on it.
func (e *Engine) Recognize(ctx context.Context, img image.Image) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return "", fmt.Errorf("failed to encode page: %w", err)
	}

	client := gosseract.NewClient()
	defer client.Close()

	if e.tessdataPrefix != "" {
		if err := client.SetTessdataPrefix(e.tessdataPrefix); err != nil {
			return "", fmt.Errorf("failed to set tessdata prefix: %w", err)
		}
	}
	if err := client.SetLanguage(e.languages...); err != nil {
		return "", fmt.Errorf("failed to set languages %s: %w", strings.Join(e.languages, "+"), err)
	}
	if err := client.SetImageFromBytes(buf.Bytes()); err != nil {
		return "", fmt.Errorf("failed to set image: %w", err)
	}

	text, err := client.Text()
	if err != nil {
		return "", fmt.Errorf("tesseract OCR failed: %w", err)
	}
	return text, nil
}
