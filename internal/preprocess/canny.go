package preprocess

import (
	"image"
	"math"
)

const (
	tan22 = 0.41421356237 // tan(22.5°)
	tan67 = 2.41421356237 // tan(67.5°)
)

// canny runs Sobel gradients (L1 magnitude), non-maximum suppression and
// hysteresis with 8-connectivity.
func canny(src *image.Gray, low, high float64) *image.Gray {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	p := func(x, y int) float64 { return float64(at(src, b.Min.X+x, b.Min.Y+y)) }

	mag := make([]float64, w*h)
	dir := make([]uint8, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			gx := (p(x+1, y-1) + 2*p(x+1, y) + p(x+1, y+1)) - (p(x-1, y-1) + 2*p(x-1, y) + p(x-1, y+1))
			gy := (p(x-1, y+1) + 2*p(x, y+1) + p(x+1, y+1)) - (p(x-1, y-1) + 2*p(x, y-1) + p(x+1, y-1))
			i := y*w + x
			mag[i] = math.Abs(gx) + math.Abs(gy)

			ax, ay := math.Abs(gx), math.Abs(gy)
			switch {
			case ay <= ax*tan22:
				dir[i] = 0
			case ay >= ax*tan67:
				dir[i] = 2
			case gx*gy > 0:
				dir[i] = 1
			default:
				dir[i] = 3
			}
		}
	}

	m := func(x, y int) float64 {
		if x < 0 || y < 0 || x >= w || y >= h {
			return 0
		}
		return mag[y*w+x]
	}

	// keep only local maxima along the gradient direction
	nms := make([]float64, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := y*w + x
			v := mag[i]
			if v <= low {
				continue
			}
			var a, c float64
			switch dir[i] {
			case 0:
				a, c = m(x-1, y), m(x+1, y)
			case 2:
				a, c = m(x, y-1), m(x, y+1)
			case 1:
				a, c = m(x-1, y-1), m(x+1, y+1)
			default:
				a, c = m(x+1, y-1), m(x-1, y+1)
			}
			if v > a && v >= c {
				nms[i] = v
			}
		}
	}

	dst := image.NewGray(image.Rect(0, 0, w, h))
	stack := make([]int, 0, 64)
	for i, v := range nms {
		if v > high && dst.Pix[i/w*dst.Stride+i%w] == 0 {
			dst.Pix[i/w*dst.Stride+i%w] = 255
			stack = append(stack, i)
		}
		for len(stack) > 0 {
			j := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			jx, jy := j%w, j/w
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					nx, ny := jx+dx, jy+dy
					if nx < 0 || ny < 0 || nx >= w || ny >= h {
						continue
					}
					k := ny*w + nx
					off := ny*dst.Stride + nx
					if nms[k] > low && dst.Pix[off] == 0 {
						dst.Pix[off] = 255
						stack = append(stack, k)
					}
				}
			}
		}
	}
	return dst
}
