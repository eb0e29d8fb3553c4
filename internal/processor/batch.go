package processor

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	ocrerrors "github.com/adverant/nexus/ocr-worker/internal/errors"
	"github.com/adverant/nexus/ocr-worker/internal/ocr"
	"github.com/adverant/nexus/ocr-worker/internal/preprocess"
)

// BatchOptions override processor defaults for one batch.
type BatchOptions struct {
	// DPI for PDF rasterization; zero keeps the processor default.
	DPI int
	// Preprocess replaces the processor's pipeline config when set.
	Preprocess *preprocess.Config
}

// ProcessBatch processes every path and records one entry per distinct path.
// It never fails: errors become the entry's value.
func (p *Processor) ProcessBatch(ctx context.Context, paths []string) *BatchResult {
	return p.ProcessBatchWith(ctx, paths, BatchOptions{})
}

// ProcessBatchWith is ProcessBatch with per-batch overrides.
func (p *Processor) ProcessBatchWith(ctx context.Context, paths []string, opts BatchOptions) *BatchResult {
	start := time.Now()
	dpi := opts.DPI
	if dpi <= 0 {
		dpi = p.dpi
	}
	cfg := p.preprocess
	if opts.Preprocess != nil {
		cfg = opts.Preprocess
	}

	p.logger.Info("Processing batch", "items", len(paths), "concurrency", p.concurrency, "dpi", dpi)

	// each worker owns its slot, so no locking is needed
	entries := make([]Entry, len(paths))
	var g errgroup.Group
	g.SetLimit(p.concurrency)
	for i, path := range paths {
		g.Go(func() error {
			entry, wait := p.processEntry(ctx, path, dpi, cfg)
			entries[i] = entry
			// the slot stays taken until a timed-out item's worker exits
			wait()
			return nil
		})
	}
	_ = g.Wait()

	result := NewBatchResult()
	for i, path := range paths {
		result.Set(path, entries[i])
	}

	p.logger.Info("Batch complete",
		"items", result.Len(),
		"failed", result.FailedCount(),
		"duration", time.Since(start))
	return result
}

func (p *Processor) processEntry(ctx context.Context, path string, dpi int, cfg *preprocess.Config) (Entry, func()) {
	kind := Classify(path)
	if kind == KindUnsupported {
		msg := ocrerrors.NewUnsupportedFormatError(path).Message
		p.logger.Warn(msg, "path", path)
		return Entry{Value: msg, Kind: kind}, func() {}
	}

	text, wait, err := p.runItem(ctx, path, kind, dpi, cfg)
	if err != nil {
		p.logger.Error("Batch item failed", "path", path, "error", err)
		return Entry{Value: err.Error(), Kind: kind, Err: err}, wait
	}
	return Entry{Value: text, Kind: kind, Confidence: ocr.EstimateConfidence(text)}, wait
}

type itemOutcome struct {
	text string
	err  error
}

// runItem bounds one item by the item timeout. Recognition cannot be
// interrupted, so on timeout the result is reported at once and the worker
// goroutine finishes in the background with its output dropped. The returned
// wait blocks until that goroutine has exited.
func (p *Processor) runItem(ctx context.Context, path string, kind Kind, dpi int, cfg *preprocess.Config) (string, func(), error) {
	if err := ctx.Err(); err != nil {
		return "", func() {}, err
	}

	itemCtx, cancel := context.WithTimeout(ctx, p.itemTimeout)
	defer cancel()

	done := make(chan itemOutcome, 1)
	exited := make(chan struct{})
	go func() {
		var out itemOutcome
		defer close(exited)
		defer func() {
			if r := recover(); r != nil {
				out = itemOutcome{err: ocrerrors.NewEngineFailedError(path, fmt.Errorf("panic: %v", r))}
			}
			done <- out
		}()

		switch kind {
		case KindPDF:
			out.text, out.err = p.processPDF(itemCtx, path, dpi, cfg)
		default:
			out.text, out.err = p.processImage(itemCtx, path, cfg)
		}
	}()

	wait := func() { <-exited }

	select {
	case out := <-done:
		return out.text, wait, out.err
	case <-itemCtx.Done():
		if ctx.Err() != nil {
			return "", wait, ctx.Err()
		}
		return "", wait, ocrerrors.NewProcessingTimeoutError(path, p.itemTimeout, itemCtx.Err())
	}
}
