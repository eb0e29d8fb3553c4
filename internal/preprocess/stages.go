package preprocess

import (
	"fmt"
	"image"
	"math"

	"github.com/disintegration/imaging"
)

// Stage parameters. They are fixed; only the stage toggles and the threshold
// method are configurable.
const (
	RescaleFactor = 1.5

	MedianKernel = 5

	ClaheClipLimit = 2.0
	ClaheTileGrid  = 8

	AdaptiveBlockSize = 11
	AdaptiveC         = 2

	MorphKernel     = 1
	MorphIterations = 1

	CannyLow  = 100
	CannyHigh = 200
)

var sharpenKernel = [9]float64{
	-1, -1, -1,
	-1, 9, -1,
	-1, -1, -1,
}

// Rescale scales img up by RescaleFactor in both axes with cubic
// (Catmull-Rom) interpolation. The color mode is preserved.
func Rescale(img image.Image) (image.Image, error) {
	if err := checkBounds(img); err != nil {
		return nil, err
	}
	b := img.Bounds()
	w := int(math.Round(float64(b.Dx()) * RescaleFactor))
	h := int(math.Round(float64(b.Dy()) * RescaleFactor))

	resized := imaging.Resize(img, w, h, imaging.CatmullRom)
	if ModeOf(img) == ModeGray {
		return toGray(resized), nil
	}
	return resized, nil
}

// Grayscale reduces img to single-channel luminance.
func Grayscale(img image.Image) (*image.Gray, error) {
	if err := checkBounds(img); err != nil {
		return nil, err
	}
	return toGray(img), nil
}

// MedianBlur replaces each pixel with the median of its MedianKernel x
// MedianKernel neighbourhood, replicating edge pixels at the border.
func MedianBlur(img image.Image) (*image.Gray, error) {
	src, err := asGray(img)
	if err != nil {
		return nil, err
	}
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	dst := image.NewGray(image.Rect(0, 0, w, h))

	r := MedianKernel / 2
	var win [MedianKernel * MedianKernel]uint8
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			n := 0
			for dy := -r; dy <= r; dy++ {
				for dx := -r; dx <= r; dx++ {
					v := at(src, b.Min.X+x+dx, b.Min.Y+y+dy)
					// insertion sort as we go; the window is tiny
					j := n
					for j > 0 && win[j-1] > v {
						win[j] = win[j-1]
						j--
					}
					win[j] = v
					n++
				}
			}
			dst.Pix[y*dst.Stride+x] = win[n/2]
		}
	}
	return dst, nil
}

// ContrastEnhance applies contrast-limited adaptive histogram equalization
// over a ClaheTileGrid x ClaheTileGrid grid with ClaheClipLimit.
func ContrastEnhance(img image.Image) (*image.Gray, error) {
	src, err := asGray(img)
	if err != nil {
		return nil, err
	}
	return clahe(src, ClaheClipLimit, ClaheTileGrid), nil
}

// Binarize reduces img to two tones, 0 and 255. ThresholdAdaptive uses a
// Gaussian-weighted local mean (AdaptiveBlockSize, AdaptiveC); ThresholdOtsu
// picks one global threshold.
func Binarize(img image.Image, method ThresholdMethod) (*image.Gray, error) {
	src, err := asGray(img)
	if err != nil {
		return nil, err
	}
	switch method {
	case ThresholdAdaptive, "":
		return adaptiveThreshold(src, AdaptiveBlockSize, AdaptiveC), nil
	case ThresholdOtsu:
		return otsuThreshold(src), nil
	default:
		return nil, fmt.Errorf("unknown threshold method %q", method)
	}
}

// Dilate applies a morphological max filter with a MorphKernel square
// structuring element, MorphIterations times.
func Dilate(img image.Image) (*image.Gray, error) {
	src, err := asGray(img)
	if err != nil {
		return nil, err
	}
	return morph(src, MorphKernel, MorphIterations, true), nil
}

// Erode applies a morphological min filter with a MorphKernel square
// structuring element, MorphIterations times.
func Erode(img image.Image) (*image.Gray, error) {
	src, err := asGray(img)
	if err != nil {
		return nil, err
	}
	return morph(src, MorphKernel, MorphIterations, false), nil
}

// DetectEdges produces a Canny edge map (CannyLow, CannyHigh): edges are 255,
// everything else 0.
func DetectEdges(img image.Image) (*image.Gray, error) {
	src, err := asGray(img)
	if err != nil {
		return nil, err
	}
	return canny(src, CannyLow, CannyHigh), nil
}

// Sharpen convolves img with the fixed high-pass kernel (center 9,
// neighbours -1). Results are clamped to [0,255].
func Sharpen(img image.Image) (*image.Gray, error) {
	src, err := asGray(img)
	if err != nil {
		return nil, err
	}
	return toGray(imaging.Convolve3x3(src, sharpenKernel, nil)), nil
}

func morph(src *image.Gray, k, iterations int, dilate bool) *image.Gray {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	cur := toGray(src)
	r := k / 2
	for it := 0; it < iterations; it++ {
		next := image.NewGray(image.Rect(0, 0, w, h))
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				best := at(cur, x, y)
				for dy := -r; dy <= r; dy++ {
					for dx := -r; dx <= r; dx++ {
						v := at(cur, x+dx, y+dy)
						if (dilate && v > best) || (!dilate && v < best) {
							best = v
						}
					}
				}
				next.Pix[y*next.Stride+x] = best
			}
		}
		cur = next
	}
	return cur
}

func otsuThreshold(src *image.Gray) *image.Gray {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()

	var hist [256]int
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			hist[src.Pix[src.PixOffset(b.Min.X+x, b.Min.Y+y)]]++
		}
	}

	total := float64(w * h)
	var sum float64
	for i, c := range hist {
		sum += float64(i * c)
	}

	var sumB, wB, best float64
	t := 0
	for i := 0; i < 256; i++ {
		wB += float64(hist[i])
		if wB == 0 {
			continue
		}
		wF := total - wB
		if wF == 0 {
			break
		}
		sumB += float64(i * hist[i])
		mB := sumB / wB
		mF := (sum - sumB) / wF
		between := wB * wF * (mB - mF) * (mB - mF)
		if between > best {
			best = between
			t = i
		}
	}

	dst := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if int(src.Pix[src.PixOffset(b.Min.X+x, b.Min.Y+y)]) > t {
				dst.Pix[y*dst.Stride+x] = 255
			}
		}
	}
	return dst
}

func adaptiveThreshold(src *image.Gray, block, c int) *image.Gray {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()

	// sigma derived from the block size the way OpenCV does for ksize > 7
	sigma := 0.3*(float64(block-1)*0.5-1) + 0.8
	kernel := gaussianKernel(block, sigma)
	r := block / 2

	horiz := make([]float64, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var s float64
			for i := -r; i <= r; i++ {
				s += kernel[i+r] * float64(at(src, b.Min.X+x+i, b.Min.Y+y))
			}
			horiz[y*w+x] = s
		}
	}

	dst := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var s float64
			for i := -r; i <= r; i++ {
				yy := clampInt(y+i, 0, h-1)
				s += kernel[i+r] * horiz[yy*w+x]
			}
			mean := int(math.Round(s))
			if int(src.Pix[src.PixOffset(b.Min.X+x, b.Min.Y+y)]) > mean-c {
				dst.Pix[y*dst.Stride+x] = 255
			}
		}
	}
	return dst
}

func gaussianKernel(size int, sigma float64) []float64 {
	k := make([]float64, size)
	r := size / 2
	var sum float64
	for i := -r; i <= r; i++ {
		v := math.Exp(-float64(i*i) / (2 * sigma * sigma))
		k[i+r] = v
		sum += v
	}
	for i := range k {
		k[i] /= sum
	}
	return k
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
