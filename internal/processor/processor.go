/**
 * Document Processor for the OCR worker
 *
 * Routes scanned documents to text:
 * - PDFs are rasterized page by page, each page preprocessed and recognized
 * - Images are loaded once, preprocessed and recognized
 * - Anything else is reported as unsupported
 *
 * Single-item APIs return typed errors; batch APIs record every outcome as a
 * string and never fail.
 */

package processor

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io/fs"
	"os"
	"strings"
	"time"

	ocrerrors "github.com/adverant/nexus/ocr-worker/internal/errors"
	"github.com/adverant/nexus/ocr-worker/internal/extract"
	"github.com/adverant/nexus/ocr-worker/internal/logging"
	"github.com/adverant/nexus/ocr-worker/internal/ocr"
	"github.com/adverant/nexus/ocr-worker/internal/preprocess"
	"github.com/adverant/nexus/ocr-worker/internal/rasterize"
	"github.com/adverant/nexus/ocr-worker/internal/storage"
)

// Defaults
const (
	DefaultConcurrency = 1
	DefaultItemTimeout = 5 * time.Minute
)

// ProcessorConfig holds processor configuration
type ProcessorConfig struct {
	Recognizer ocr.Recognizer
	Rasterizer rasterize.Rasterizer
	// Pipeline defaults to preprocess.NewPipeline().
	Pipeline preprocess.Pipeline
	// Preprocess is applied to every page; nil sends raw pages to the recognizer.
	Preprocess *preprocess.Config
	DPI        int
	// Concurrency bounds how many batch items run at once.
	Concurrency int
	ItemTimeout time.Duration
	Logger      *logging.Logger
}

// Processor extracts text from images and PDFs
type Processor struct {
	extractor   extract.Extractor
	rasterizer  rasterize.Rasterizer
	preprocess  *preprocess.Config
	dpi         int
	concurrency int
	itemTimeout time.Duration
	logger      *logging.Logger
}

// NewProcessor creates a new document processor
func NewProcessor(cfg *ProcessorConfig) (*Processor, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	if cfg.Recognizer == nil {
		return nil, fmt.Errorf("recognizer is required")
	}

	if cfg.Rasterizer == nil {
		return nil, fmt.Errorf("rasterizer is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logging.Nop()
	}

	p := &Processor{
		extractor:   extract.NewPageExtractor(cfg.Pipeline, cfg.Recognizer),
		rasterizer:  cfg.Rasterizer,
		dpi:         cfg.DPI,
		concurrency: cfg.Concurrency,
		itemTimeout: cfg.ItemTimeout,
		logger:      logger,
	}
	if cfg.Preprocess != nil {
		pc := *cfg.Preprocess
		p.preprocess = &pc
	}
	if p.dpi <= 0 {
		p.dpi = rasterize.DefaultDPI
	}
	if p.concurrency <= 0 {
		p.concurrency = DefaultConcurrency
	}
	if p.itemTimeout <= 0 {
		p.itemTimeout = DefaultItemTimeout
	}

	return p, nil
}

// ProcessImage extracts the text of the image at path.
func (p *Processor) ProcessImage(ctx context.Context, path string) (string, error) {
	return p.processImage(ctx, path, p.preprocess)
}

// ProcessPDF extracts the text of every page of the PDF at path, each page
// followed by a newline. A missing file is a SourceNotFound error even when
// the rasterizer tolerates failures.
func (p *Processor) ProcessPDF(ctx context.Context, path string, dpi int) (string, error) {
	if err := statSource(path); err != nil {
		return "", err
	}
	if dpi <= 0 {
		dpi = p.dpi
	}
	return p.processPDF(ctx, path, dpi, p.preprocess)
}

// EnhanceImage loads the image at path and applies grayscale conversion,
// median noise removal and adaptive thresholding. The result is written to
// outputPath when it is not empty.
func (p *Processor) EnhanceImage(ctx context.Context, path, outputPath string) (*image.Gray, error) {
	p.logger.Info("Enhancing image", "path", path)

	img, err := storage.LoadImage(path)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	gray, err := preprocess.Grayscale(img)
	if err != nil {
		return nil, fmt.Errorf("error enhancing image %s: %w", path, err)
	}
	denoised, err := preprocess.MedianBlur(gray)
	if err != nil {
		return nil, fmt.Errorf("error enhancing image %s: %w", path, err)
	}
	enhanced, err := preprocess.Binarize(denoised, preprocess.ThresholdAdaptive)
	if err != nil {
		return nil, fmt.Errorf("error enhancing image %s: %w", path, err)
	}

	if outputPath != "" {
		if err := storage.SaveImage(enhanced, outputPath); err != nil {
			return nil, err
		}
		p.logger.Info("Enhanced image saved", "path", outputPath)
	}
	return enhanced, nil
}

// ProcessImageWithEnhancement recognizes the output of EnhanceImage.
func (p *Processor) ProcessImageWithEnhancement(ctx context.Context, path string) (string, error) {
	enhanced, err := p.EnhanceImage(ctx, path, "")
	if err != nil {
		return "", err
	}

	text, err := p.extractor.Extract(ctx, enhanced, nil)
	if err != nil {
		return "", engineError(path, err)
	}
	return text, nil
}

// SaveText writes text to path as UTF-8, replacing any existing file.
func (p *Processor) SaveText(text, path string) error {
	if err := storage.SaveText(text, path); err != nil {
		p.logger.Error("Failed to save text", "path", path, "error", err)
		return err
	}
	p.logger.Info("Text saved to file", "path", path)
	return nil
}

func (p *Processor) processImage(ctx context.Context, path string, cfg *preprocess.Config) (string, error) {
	p.logger.Info("Processing image", "path", path)

	img, err := storage.LoadImage(path)
	if err != nil {
		if errors.Is(err, ocrerrors.ErrSourceNotFound) {
			return "", err
		}
		return "", ocrerrors.NewEngineFailedError(path, err)
	}

	text, err := p.extractor.Extract(ctx, img, cfg)
	if err != nil {
		return "", engineError(path, err)
	}
	p.logger.Debug("Image recognized", "path", path, "chars", len(text), "confidence", ocr.EstimateConfidence(text))
	return text, nil
}

// processPDF leaves missing files to the rasterizer so that a tolerant
// rasterizer can turn them into empty documents.
func (p *Processor) processPDF(ctx context.Context, path string, dpi int, cfg *preprocess.Config) (string, error) {
	p.logger.Info("Processing PDF", "path", path, "dpi", dpi)

	pages, err := p.rasterizer.Rasterize(ctx, path, dpi)
	if err != nil {
		if errors.Is(err, ocrerrors.ErrSourceNotFound) || ctx.Err() != nil {
			return "", err
		}
		return "", ocrerrors.NewEngineFailedError(path, err)
	}
	p.logger.Info("PDF rasterized", "path", path, "pages", len(pages))

	var sb strings.Builder
	for i, page := range pages {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		text, err := p.extractor.Extract(ctx, page, cfg)
		if err != nil {
			return "", ocrerrors.NewEngineFailedError(path, fmt.Errorf("page %d: %w", i+1, recognitionCause(err)))
		}
		p.logger.Debug("Page recognized", "path", path, "page", i+1, "chars", len(text))
		sb.WriteString(text)
		sb.WriteString("\n")
	}
	return sb.String(), nil
}

// engineError attaches path to a recognition failure.
func engineError(path string, err error) error {
	return ocrerrors.NewEngineFailedError(path, recognitionCause(err))
}

// recognitionCause unwraps a pathless EngineFailed error from the extractor.
func recognitionCause(err error) error {
	var pe *ocrerrors.ProcessingError
	if errors.As(err, &pe) && pe.Code == ocrerrors.ErrorEngineFailed && pe.Path == "" {
		return pe.Cause
	}
	return err
}

func statSource(path string) error {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ocrerrors.NewSourceNotFoundError(path, err)
		}
		return fmt.Errorf("failed to stat %s: %w", path, err)
	}
	return nil
}
