// Package preprocess implements the image enhancement pipeline applied to
// scanned pages before text recognition.
package preprocess

import (
	"context"
	"fmt"
	"image"
	"time"

	"github.com/disintegration/imaging"

	ocrerrors "github.com/adverant/nexus/ocr-worker/internal/errors"
)

// Stage names, in pipeline order.
const (
	StageRescale             = "rescale"
	StageGrayscale           = "grayscale"
	StageNoiseRemoval        = "noise_removal"
	StageContrastEnhancement = "contrast_enhancement"
	StageThreshold           = "threshold"
	StageDilation            = "dilation"
	StageErosion             = "erosion"
	StageEdgeDetection       = "edge_detection"
	StageSharpening          = "sharpening"
)

// Pipeline turns a raster image into an image better suited for recognition.
type Pipeline interface {
	// Run never fails: a stage that errors is skipped and reported to the
	// observer, and the last good image carries on.
	// A nil or empty input yields an empty image in the mode cfg.Grayscale
	// selects.
	Run(ctx context.Context, img image.Image, cfg Config) image.Image
}

// Stage is one toggleable transformation.
type Stage struct {
	Name    string
	Enabled func(Config) bool
	// SingleChannel stages get a grayscale copy when the current image is color.
	SingleChannel bool
	// Binarizes marks stages whose output needs polarity normalization.
	Binarizes bool
	Apply     func(img image.Image, cfg Config) (image.Image, error)
}

// Option configures a pipeline.
type Option func(*pipeline)

// WithObserver sets the sink for stage events.
func WithObserver(o Observer) Option {
	return func(p *pipeline) {
		if o != nil {
			p.observer = o
		}
	}
}

type pipeline struct {
	stages   []Stage
	observer Observer
}

// NewPipeline returns the canonical pipeline.
func NewPipeline(opts ...Option) Pipeline {
	p := &pipeline{
		stages:   Stages(),
		observer: nopObserver{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Stages returns the canonical stage list in execution order.
func Stages() []Stage {
	gray := func(fn func(image.Image) (*image.Gray, error)) func(image.Image, Config) (image.Image, error) {
		return func(img image.Image, _ Config) (image.Image, error) {
			return fn(img)
		}
	}
	return []Stage{
		{
			Name:    StageRescale,
			Enabled: func(c Config) bool { return c.Rescale },
			Apply:   func(img image.Image, _ Config) (image.Image, error) { return Rescale(img) },
		},
		{
			Name:    StageGrayscale,
			Enabled: func(c Config) bool { return c.Grayscale },
			Apply:   gray(Grayscale),
		},
		{
			Name:          StageNoiseRemoval,
			Enabled:       func(c Config) bool { return c.NoiseRemoval },
			SingleChannel: true,
			Apply:         gray(MedianBlur),
		},
		{
			Name:          StageContrastEnhancement,
			Enabled:       func(c Config) bool { return c.ContrastEnhancement },
			SingleChannel: true,
			Apply:         gray(ContrastEnhance),
		},
		{
			Name:          StageThreshold,
			Enabled:       func(c Config) bool { return c.Threshold },
			SingleChannel: true,
			Binarizes:     true,
			Apply: func(img image.Image, c Config) (image.Image, error) {
				return Binarize(img, c.ThresholdMethod)
			},
		},
		{
			Name:          StageDilation,
			Enabled:       func(c Config) bool { return c.Dilation },
			SingleChannel: true,
			Apply:         gray(Dilate),
		},
		{
			Name:          StageErosion,
			Enabled:       func(c Config) bool { return c.Erosion },
			SingleChannel: true,
			Apply:         gray(Erode),
		},
		{
			Name:          StageEdgeDetection,
			Enabled:       func(c Config) bool { return c.EdgeDetection },
			SingleChannel: true,
			Binarizes:     true,
			Apply:         gray(DetectEdges),
		},
		{
			Name:          StageSharpening,
			Enabled:       func(c Config) bool { return c.Sharpening },
			SingleChannel: true,
			Apply:         gray(Sharpen),
		},
	}
}

func (p *pipeline) Run(ctx context.Context, img image.Image, cfg Config) image.Image {
	if err := checkBounds(img); err != nil {
		p.observer.StageCompleted(ctx, StageEvent{Stage: "input", Err: ocrerrors.NewStageError("input", err)})
		return emptyImage(img, cfg.Grayscale)
	}

	current := image.Image(imaging.Clone(img))
	binarized := false

	for _, st := range p.stages {
		if !st.Enabled(cfg) {
			p.observer.StageCompleted(ctx, StageEvent{Stage: st.Name, Skipped: true})
			continue
		}
		if err := ctx.Err(); err != nil {
			p.observer.StageCompleted(ctx, StageEvent{Stage: st.Name, Skipped: true, Err: ocrerrors.NewStageError(st.Name, err)})
			continue
		}

		input := current
		if st.SingleChannel && ModeOf(input) != ModeGray {
			input = toGray(input)
		}

		start := time.Now()
		out, err := applyStage(st, input, cfg)
		evt := StageEvent{Stage: st.Name, Duration: time.Since(start)}
		if err != nil {
			evt.Err = ocrerrors.NewStageError(st.Name, err)
			p.observer.StageCompleted(ctx, evt)
			continue
		}
		p.observer.StageCompleted(ctx, evt)

		current = out
		if st.Binarizes {
			binarized = true
		}
	}

	if binarized {
		current = normalizePolarity(current)
	}
	return finalize(current, cfg.Grayscale)
}

// applyStage runs one stage, turning a panic into an error.
func applyStage(st Stage, img image.Image, cfg Config) (out image.Image, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("panic: %v", r)
		}
	}()
	out, err = st.Apply(img, cfg)
	if err == nil {
		err = checkBounds(out)
	}
	return out, err
}

// normalizePolarity makes binarized output dark-on-light.
func normalizePolarity(img image.Image) image.Image {
	g, ok := img.(*image.Gray)
	if !ok {
		return img
	}
	if lightFraction(g) < 0.5 {
		return invertGray(g)
	}
	return g
}

func emptyImage(img image.Image, grayscale bool) image.Image {
	var r image.Rectangle
	if img != nil {
		r = img.Bounds()
	}
	if grayscale {
		return image.NewGray(r)
	}
	return image.NewRGBA(r)
}

func finalize(img image.Image, grayscale bool) image.Image {
	if grayscale {
		if g, ok := img.(*image.Gray); ok && g.Bounds().Min == (image.Point{}) {
			return g
		}
		return toGray(img)
	}
	return toRGBA(img)
}
