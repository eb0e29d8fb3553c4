package processor

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ocrerrors "github.com/adverant/nexus/ocr-worker/internal/errors"
	"github.com/adverant/nexus/ocr-worker/internal/ocr"
	"github.com/adverant/nexus/ocr-worker/internal/preprocess"
	"github.com/adverant/nexus/ocr-worker/internal/rasterize"
	"github.com/adverant/nexus/ocr-worker/internal/storage"
)

// sizeRecognizer returns the text registered for the width of the page.
func sizeRecognizer(texts map[int]string) ocr.Recognizer {
	return ocr.RecognizerFunc(func(_ context.Context, img image.Image) (string, error) {
		if text, ok := texts[img.Bounds().Dx()]; ok {
			return text, nil
		}
		return "", fmt.Errorf("no text for width %d", img.Bounds().Dx())
	})
}

// pageRasterizer renders pages of the given widths for any path.
func pageRasterizer(widths ...int) rasterize.Rasterizer {
	return rasterize.RasterizerFunc(func(ctx context.Context, _ string, _ int) ([]image.Image, error) {
		pages := make([]image.Image, 0, len(widths))
		for _, w := range widths {
			pages = append(pages, image.NewGray(image.Rect(0, 0, w, w)))
		}
		return pages, nil
	})
}

func writePNG(t *testing.T, dir, name string, w, h int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 0xff
	}
	img.Set(w/2, h/2, color.Black)
	path := filepath.Join(dir, name)
	require.NoError(t, storage.SaveImage(img, path))
	return path
}

func touch(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.4\n"), 0o644))
	return path
}

func newTestProcessor(t *testing.T, cfg ProcessorConfig) *Processor {
	t.Helper()
	p, err := NewProcessor(&cfg)
	require.NoError(t, err)
	return p
}

func TestClassify(t *testing.T) {
	tests := map[string]Kind{
		"scan.pdf":        KindPDF,
		"SCAN.PDF":        KindPDF,
		"a.png":           KindImage,
		"photo.JPG":       KindImage,
		"photo.jpeg":      KindImage,
		"fax.tiff":        KindImage,
		"old.bmp":         KindImage,
		"anim.GIF":        KindImage,
		"c.txt":           KindUnsupported,
		"fax.tif":         KindUnsupported,
		"noext":           KindUnsupported,
		"dir.pdf/file":    KindUnsupported,
		"archive.pdf.zip": KindUnsupported,
	}
	for path, want := range tests {
		assert.Equal(t, want, Classify(path), path)
	}
}

func TestNewProcessorValidation(t *testing.T) {
	_, err := NewProcessor(nil)
	assert.Error(t, err)

	_, err = NewProcessor(&ProcessorConfig{Rasterizer: pageRasterizer()})
	assert.Error(t, err)

	_, err = NewProcessor(&ProcessorConfig{Recognizer: sizeRecognizer(nil)})
	assert.Error(t, err)

	p, err := NewProcessor(&ProcessorConfig{Recognizer: sizeRecognizer(nil), Rasterizer: pageRasterizer()})
	require.NoError(t, err)
	assert.Equal(t, rasterize.DefaultDPI, p.dpi)
	assert.Equal(t, DefaultConcurrency, p.concurrency)
	assert.Equal(t, DefaultItemTimeout, p.itemTimeout)
	assert.Nil(t, p.preprocess)
}

func TestProcessBatchMixedInputs(t *testing.T) {
	dir := t.TempDir()
	a := writePNG(t, dir, "a.png", 10, 10)
	b := touch(t, dir, "b.pdf")
	c := filepath.Join(dir, "c.txt")

	p := newTestProcessor(t, ProcessorConfig{
		Recognizer: sizeRecognizer(map[int]string{10: "Hello", 3: "Page1", 4: "Page2"}),
		Rasterizer: pageRasterizer(3, 4),
	})

	result := p.ProcessBatch(context.Background(), []string{a, b, c})

	assert.Equal(t, map[string]string{
		a: "Hello",
		b: "Page1\nPage2\n",
		c: "Unsupported file format: " + c,
	}, result.Map())
	assert.Equal(t, []string{a, b, c}, result.Keys())
	assert.Zero(t, result.FailedCount())

	entry, ok := result.Entry(c)
	require.True(t, ok)
	assert.Equal(t, KindUnsupported, entry.Kind)
	assert.False(t, entry.Failed())
}

func TestProcessBatchIsolatesFailures(t *testing.T) {
	dir := t.TempDir()
	good := writePNG(t, dir, "good.png", 10, 10)
	unreadable := writePNG(t, dir, "unreadable.png", 7, 7)
	missing := filepath.Join(dir, "missing.jpg")
	corrupt := filepath.Join(dir, "corrupt.gif")
	require.NoError(t, os.WriteFile(corrupt, []byte("GIF89a?"), 0o644))

	p := newTestProcessor(t, ProcessorConfig{
		Recognizer: sizeRecognizer(map[int]string{10: "Hello"}),
		Rasterizer: pageRasterizer(),
	})

	result := p.ProcessBatch(context.Background(), []string{missing, unreadable, corrupt, good})

	require.Equal(t, 4, result.Len())
	assert.Equal(t, 3, result.FailedCount())

	text, _ := result.Get(good)
	assert.Equal(t, "Hello", text)

	e, _ := result.Entry(missing)
	assert.ErrorIs(t, e.Err, ocrerrors.ErrSourceNotFound)
	assert.Contains(t, e.Value, missing)

	e, _ = result.Entry(unreadable)
	assert.ErrorIs(t, e.Err, ocrerrors.ErrEngineFailed)
	assert.Contains(t, e.Value, "no text for width 7")

	e, _ = result.Entry(corrupt)
	assert.ErrorIs(t, e.Err, ocrerrors.ErrEngineFailed)
}

func TestProcessBatchDuplicatePathLastWins(t *testing.T) {
	dir := t.TempDir()
	a := writePNG(t, dir, "a.png", 5, 5)
	b := writePNG(t, dir, "b.png", 5, 5)

	var calls atomic.Int32
	rec := ocr.RecognizerFunc(func(context.Context, image.Image) (string, error) {
		return fmt.Sprintf("call-%d", calls.Add(1)), nil
	})
	p := newTestProcessor(t, ProcessorConfig{Recognizer: rec, Rasterizer: pageRasterizer()})

	result := p.ProcessBatch(context.Background(), []string{a, b, a})

	assert.Equal(t, []string{a, b}, result.Keys())
	text, _ := result.Get(a)
	assert.Equal(t, "call-3", text)
	text, _ = result.Get(b)
	assert.Equal(t, "call-2", text)
}

func TestProcessBatchEmptyPDFYieldsEmptyText(t *testing.T) {
	dir := t.TempDir()
	b := touch(t, dir, "b.pdf")

	p := newTestProcessor(t, ProcessorConfig{Recognizer: sizeRecognizer(nil), Rasterizer: pageRasterizer()})

	result := p.ProcessBatch(context.Background(), []string{b})
	text, ok := result.Get(b)
	require.True(t, ok)
	assert.Empty(t, text)
	assert.Zero(t, result.FailedCount())
}

func TestRasterizerPolicy(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing.pdf")
	p := newTestProcessor(t, ProcessorConfig{
		Recognizer: sizeRecognizer(nil),
		Rasterizer: rasterize.NewTolerant(rasterize.NewFitz(), nil),
	})

	result := p.ProcessBatch(context.Background(), []string{missing})
	text, _ := result.Get(missing)
	assert.Empty(t, text)

	_, err := p.ProcessPDF(context.Background(), missing, 0)
	assert.ErrorIs(t, err, ocrerrors.ErrSourceNotFound)

	strict := newTestProcessor(t, ProcessorConfig{
		Recognizer: sizeRecognizer(nil),
		Rasterizer: rasterize.NewFitz(),
	})
	result = strict.ProcessBatch(context.Background(), []string{missing})
	e, _ := result.Entry(missing)
	assert.ErrorIs(t, e.Err, ocrerrors.ErrSourceNotFound)
}

func TestProcessPDF(t *testing.T) {
	dir := t.TempDir()
	b := touch(t, dir, "b.pdf")

	var gotDPI int
	raster := rasterize.RasterizerFunc(func(_ context.Context, _ string, dpi int) ([]image.Image, error) {
		gotDPI = dpi
		return []image.Image{image.NewGray(image.Rect(0, 0, 3, 3)), image.NewGray(image.Rect(0, 0, 9, 9))}, nil
	})
	p := newTestProcessor(t, ProcessorConfig{
		Recognizer: sizeRecognizer(map[int]string{3: "Page1"}),
		Rasterizer: raster,
		DPI:        150,
	})

	_, err := p.ProcessPDF(context.Background(), b, 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, ocrerrors.ErrEngineFailed)
	assert.Contains(t, err.Error(), "page 2")
	assert.Equal(t, 150, gotDPI)

	_, _ = p.ProcessPDF(context.Background(), b, 72)
	assert.Equal(t, 72, gotDPI)
}

func TestProcessPDFRasterizerError(t *testing.T) {
	b := touch(t, t.TempDir(), "b.pdf")
	raster := rasterize.RasterizerFunc(func(context.Context, string, int) ([]image.Image, error) {
		return nil, errors.New("cannot parse xref")
	})
	p := newTestProcessor(t, ProcessorConfig{Recognizer: sizeRecognizer(nil), Rasterizer: raster})

	_, err := p.ProcessPDF(context.Background(), b, 0)
	assert.ErrorIs(t, err, ocrerrors.ErrEngineFailed)
	assert.Contains(t, err.Error(), "Error processing "+b)
}

func TestProcessImage(t *testing.T) {
	dir := t.TempDir()
	a := writePNG(t, dir, "a.png", 10, 10)

	var mode preprocess.Mode
	rec := ocr.RecognizerFunc(func(_ context.Context, img image.Image) (string, error) {
		mode = preprocess.ModeOf(img)
		return "Hello", nil
	})
	cfg := preprocess.Config{Grayscale: true}
	p := newTestProcessor(t, ProcessorConfig{Recognizer: rec, Rasterizer: pageRasterizer(), Preprocess: &cfg})

	text, err := p.ProcessImage(context.Background(), a)
	require.NoError(t, err)
	assert.Equal(t, "Hello", text)
	assert.Equal(t, preprocess.ModeGray, mode)

	_, err = p.ProcessImage(context.Background(), filepath.Join(dir, "nope.png"))
	assert.ErrorIs(t, err, ocrerrors.ErrSourceNotFound)
}

func TestProcessBatchItemTimeout(t *testing.T) {
	dir := t.TempDir()
	slow := writePNG(t, dir, "slow.png", 8, 8)
	fast := writePNG(t, dir, "fast.png", 4, 4)

	rec := ocr.RecognizerFunc(func(_ context.Context, img image.Image) (string, error) {
		if img.Bounds().Dx() == 8 {
			time.Sleep(500 * time.Millisecond)
		}
		return "done", nil
	})
	p := newTestProcessor(t, ProcessorConfig{
		Recognizer:  rec,
		Rasterizer:  pageRasterizer(),
		ItemTimeout: 50 * time.Millisecond,
	})

	result := p.ProcessBatch(context.Background(), []string{slow, fast})

	e, _ := result.Entry(slow)
	assert.ErrorIs(t, e.Err, ocrerrors.ErrProcessingTimeout)
	assert.Contains(t, e.Value, "PROCESSING_TIMEOUT")
	text, _ := result.Get(fast)
	assert.Equal(t, "done", text)
}

func TestProcessBatchTimeoutsKeepConcurrencyLimit(t *testing.T) {
	dir := t.TempDir()
	var paths []string
	for i := 0; i < 5; i++ {
		paths = append(paths, touch(t, dir, fmt.Sprintf("slow%d.pdf", i)))
	}

	var inFlight, peak, calls atomic.Int32
	rec := ocr.RecognizerFunc(func(_ context.Context, _ image.Image) (string, error) {
		calls.Add(1)
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		time.Sleep(100 * time.Millisecond)
		return "late", nil
	})
	p := newTestProcessor(t, ProcessorConfig{
		Recognizer:  rec,
		Rasterizer:  pageRasterizer(4),
		Concurrency: 1,
		ItemTimeout: 20 * time.Millisecond,
	})

	result := p.ProcessBatch(context.Background(), paths)

	assert.Equal(t, int32(1), peak.Load())
	assert.Equal(t, int32(5), calls.Load())
	assert.Equal(t, int32(0), inFlight.Load())
	for _, path := range paths {
		e, _ := result.Entry(path)
		assert.ErrorIs(t, e.Err, ocrerrors.ErrProcessingTimeout)
	}
}

func TestProcessBatchRecoversPanics(t *testing.T) {
	dir := t.TempDir()
	bad := writePNG(t, dir, "bad.png", 6, 6)
	good := writePNG(t, dir, "good.png", 4, 4)

	rec := ocr.RecognizerFunc(func(_ context.Context, img image.Image) (string, error) {
		if img.Bounds().Dx() == 6 {
			panic("engine crashed")
		}
		return "fine", nil
	})
	p := newTestProcessor(t, ProcessorConfig{Recognizer: rec, Rasterizer: pageRasterizer()})

	result := p.ProcessBatch(context.Background(), []string{bad, good})

	e, _ := result.Entry(bad)
	assert.True(t, e.Failed())
	assert.Contains(t, e.Value, "engine crashed")
	text, _ := result.Get(good)
	assert.Equal(t, "fine", text)
}

func TestProcessBatchConcurrentKeepsInputOrder(t *testing.T) {
	dir := t.TempDir()
	var paths []string
	for i := 0; i < 8; i++ {
		paths = append(paths, writePNG(t, dir, fmt.Sprintf("p%d.png", i), i+1, 2))
	}

	var inFlight, peak atomic.Int32
	rec := ocr.RecognizerFunc(func(_ context.Context, img image.Image) (string, error) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		return fmt.Sprintf("w%d", img.Bounds().Dx()), nil
	})
	p := newTestProcessor(t, ProcessorConfig{Recognizer: rec, Rasterizer: pageRasterizer(), Concurrency: 3})

	result := p.ProcessBatch(context.Background(), paths)

	assert.Equal(t, paths, result.Keys())
	for i, path := range paths {
		text, _ := result.Get(path)
		assert.Equal(t, fmt.Sprintf("w%d", i+1), text)
	}
	assert.LessOrEqual(t, peak.Load(), int32(3))
}

func TestProcessBatchCancelledContext(t *testing.T) {
	a := writePNG(t, t.TempDir(), "a.png", 4, 4)
	p := newTestProcessor(t, ProcessorConfig{Recognizer: sizeRecognizer(map[int]string{4: "x"}), Rasterizer: pageRasterizer()})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result := p.ProcessBatch(ctx, []string{a, "c.txt"})

	assert.Equal(t, 2, result.Len())
	e, _ := result.Entry(a)
	assert.ErrorIs(t, e.Err, context.Canceled)
	text, _ := result.Get("c.txt")
	assert.Equal(t, "Unsupported file format: c.txt", text)
}

func TestEnhanceImage(t *testing.T) {
	dir := t.TempDir()
	a := writePNG(t, dir, "a.png", 12, 9)
	out := filepath.Join(dir, "enhanced", "a.png")

	p := newTestProcessor(t, ProcessorConfig{Recognizer: sizeRecognizer(nil), Rasterizer: pageRasterizer()})

	enhanced, err := p.EnhanceImage(context.Background(), a, out)
	require.NoError(t, err)
	assert.Equal(t, image.Pt(12, 9), enhanced.Bounds().Size())
	for _, v := range enhanced.Pix {
		require.Contains(t, []uint8{0, 255}, v)
	}

	saved, err := storage.LoadImage(out)
	require.NoError(t, err)
	assert.Equal(t, enhanced.Bounds().Size(), saved.Bounds().Size())

	_, err = p.EnhanceImage(context.Background(), filepath.Join(dir, "none.png"), "")
	assert.ErrorIs(t, err, ocrerrors.ErrSourceNotFound)
}

func TestProcessImageWithEnhancement(t *testing.T) {
	a := writePNG(t, t.TempDir(), "a.png", 12, 9)

	var got image.Image
	rec := ocr.RecognizerFunc(func(_ context.Context, img image.Image) (string, error) {
		got = img
		return "Enhanced", nil
	})
	p := newTestProcessor(t, ProcessorConfig{Recognizer: rec, Rasterizer: pageRasterizer()})

	text, err := p.ProcessImageWithEnhancement(context.Background(), a)
	require.NoError(t, err)
	assert.Equal(t, "Enhanced", text)
	_, isGray := got.(*image.Gray)
	assert.True(t, isGray)
}

func TestSaveText(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.txt")
	p := newTestProcessor(t, ProcessorConfig{Recognizer: sizeRecognizer(nil), Rasterizer: pageRasterizer()})

	require.NoError(t, p.SaveText("Page1\nPage2\n", path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "Page1\nPage2\n", string(data))

	assert.Error(t, p.SaveText("x", filepath.Join(path, "under-a-file.txt")))
}
