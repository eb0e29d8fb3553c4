package tesseract

import (
	"context"
	"image"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/adverant/nexus/ocr-worker/internal/ocr"
)

var _ ocr.Recognizer = (*Engine)(nil)

func TestNewDefaultsToEnglish(t *testing.T) {
	e := New(Config{})
	assert.Equal(t, []string{"eng"}, e.languages)

	e = New(Config{TessdataPrefix: "/opt/tessdata", Languages: []string{"deu", "eng"}})
	assert.Equal(t, "/opt/tessdata", e.tessdataPrefix)
	assert.Equal(t, []string{"deu", "eng"}, e.languages)
}

func TestRecognizeHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(Config{}).Recognize(ctx, image.NewGray(image.Rect(0, 0, 4, 4)))
	assert.ErrorIs(t, err, context.Canceled)
}
