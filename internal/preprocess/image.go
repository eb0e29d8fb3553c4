package preprocess

import (
	"errors"
	"image"
	"image/color"

	xdraw "golang.org/x/image/draw"
)

// Mode is the color mode of a raster image.
type Mode string

const (
	ModeRGB  Mode = "rgb"
	ModeGray Mode = "gray"
)

var (
	errEmptyImage = errors.New("image has no pixels")
	errNotGray    = errors.New("stage requires a single-channel image")
)

// ModeOf reports whether img is single-channel or tri-channel.
func ModeOf(img image.Image) Mode {
	switch img.(type) {
	case *image.Gray, *image.Gray16:
		return ModeGray
	default:
		return ModeRGB
	}
}

func checkBounds(img image.Image) error {
	if img == nil || img.Bounds().Empty() {
		return errEmptyImage
	}
	return nil
}

func asGray(img image.Image) (*image.Gray, error) {
	if err := checkBounds(img); err != nil {
		return nil, err
	}
	g, ok := img.(*image.Gray)
	if !ok {
		return nil, errNotGray
	}
	return g, nil
}

// toGray converts img to an 8-bit luminance image with its origin at (0,0).
// Luminance uses the ITU-R 601 weights of color.GrayModel.
func toGray(img image.Image) *image.Gray {
	b := img.Bounds()
	dst := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))

	switch src := img.(type) {
	case *image.Gray:
		for y := 0; y < b.Dy(); y++ {
			copy(dst.Pix[y*dst.Stride:y*dst.Stride+b.Dx()], src.Pix[src.PixOffset(b.Min.X, b.Min.Y+y):])
		}
	case *image.NRGBA:
		for y := 0; y < b.Dy(); y++ {
			for x := 0; x < b.Dx(); x++ {
				i := src.PixOffset(b.Min.X+x, b.Min.Y+y)
				dst.Pix[y*dst.Stride+x] = luma(src.Pix[i], src.Pix[i+1], src.Pix[i+2])
			}
		}
	case *image.RGBA:
		for y := 0; y < b.Dy(); y++ {
			for x := 0; x < b.Dx(); x++ {
				i := src.PixOffset(b.Min.X+x, b.Min.Y+y)
				dst.Pix[y*dst.Stride+x] = luma(src.Pix[i], src.Pix[i+1], src.Pix[i+2])
			}
		}
	default:
		for y := 0; y < b.Dy(); y++ {
			for x := 0; x < b.Dx(); x++ {
				dst.SetGray(x, y, color.GrayModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.Gray))
			}
		}
	}
	return dst
}

func luma(r, g, b uint8) uint8 {
	y := (19595*uint32(r) + 38470*uint32(g) + 7471*uint32(b) + 1<<15) >> 16
	return uint8(y)
}

// toRGBA converts img to a tri-channel image with its origin at (0,0).
func toRGBA(img image.Image) *image.RGBA {
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	if g, ok := img.(*image.Gray); ok {
		for y := 0; y < b.Dy(); y++ {
			for x := 0; x < b.Dx(); x++ {
				v := g.Pix[g.PixOffset(b.Min.X+x, b.Min.Y+y)]
				i := dst.PixOffset(x, y)
				dst.Pix[i], dst.Pix[i+1], dst.Pix[i+2], dst.Pix[i+3] = v, v, v, 0xff
			}
		}
		return dst
	}
	xdraw.Draw(dst, dst.Bounds(), img, b.Min, xdraw.Src)
	return dst
}

func invertGray(g *image.Gray) *image.Gray {
	dst := image.NewGray(g.Bounds())
	for i, v := range g.Pix {
		dst.Pix[i] = 255 - v
	}
	return dst
}

// lightFraction is the share of pixels at or above mid-gray.
func lightFraction(g *image.Gray) float64 {
	b := g.Bounds()
	total := b.Dx() * b.Dy()
	if total == 0 {
		return 1
	}
	light := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := g.Pix[g.PixOffset(b.Min.X, y) : g.PixOffset(b.Min.X, y)+b.Dx()]
		for _, v := range row {
			if v >= 128 {
				light++
			}
		}
	}
	return float64(light) / float64(total)
}

// at returns the pixel at (x,y) with coordinates clamped to the image.
func at(g *image.Gray, x, y int) uint8 {
	b := g.Bounds()
	if x < b.Min.X {
		x = b.Min.X
	} else if x >= b.Max.X {
		x = b.Max.X - 1
	}
	if y < b.Min.Y {
		y = b.Min.Y
	} else if y >= b.Max.Y {
		y = b.Max.Y - 1
	}
	return g.Pix[g.PixOffset(x, y)]
}
