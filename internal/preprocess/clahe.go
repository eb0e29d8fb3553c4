package preprocess

import (
	"image"
	"math"
)

// clahe equalizes src tile by tile, clipping each tile histogram at
// clip*tileArea/256 and redistributing the excess, then blends the four
// nearest tile mappings bilinearly for every pixel.
func clahe(src *image.Gray, clip float64, grid int) *image.Gray {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()

	tilesX, tilesY := min(grid, w), min(grid, h)
	tw := (w + tilesX - 1) / tilesX
	th := (h + tilesY - 1) / tilesY
	tilesX = (w + tw - 1) / tw
	tilesY = (h + th - 1) / th

	luts := make([][256]uint8, tilesX*tilesY)
	for ty := 0; ty < tilesY; ty++ {
		for tx := 0; tx < tilesX; tx++ {
			x0, y0 := tx*tw, ty*th
			x1, y1 := min(x0+tw, w), min(y0+th, h)
			luts[ty*tilesX+tx] = tileLUT(src, b.Min.X+x0, b.Min.Y+y0, b.Min.X+x1, b.Min.Y+y1, clip)
		}
	}

	dst := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		tyf := (float64(y)+0.5)/float64(th) - 0.5
		ty1 := int(math.Floor(tyf))
		ya := tyf - float64(ty1)
		ty2 := clampInt(ty1+1, 0, tilesY-1)
		ty1 = clampInt(ty1, 0, tilesY-1)

		for x := 0; x < w; x++ {
			txf := (float64(x)+0.5)/float64(tw) - 0.5
			tx1 := int(math.Floor(txf))
			xa := txf - float64(tx1)
			tx2 := clampInt(tx1+1, 0, tilesX-1)
			tx1 = clampInt(tx1, 0, tilesX-1)

			v := src.Pix[src.PixOffset(b.Min.X+x, b.Min.Y+y)]
			top := (1-xa)*float64(luts[ty1*tilesX+tx1][v]) + xa*float64(luts[ty1*tilesX+tx2][v])
			bottom := (1-xa)*float64(luts[ty2*tilesX+tx1][v]) + xa*float64(luts[ty2*tilesX+tx2][v])
			dst.Pix[y*dst.Stride+x] = uint8(clampInt(int(math.Round((1-ya)*top+ya*bottom)), 0, 255))
		}
	}
	return dst
}

func tileLUT(src *image.Gray, x0, y0, x1, y1 int, clip float64) [256]uint8 {
	var hist [256]int
	for y := y0; y < y1; y++ {
		for x := x0; x < x1; x++ {
			hist[src.Pix[src.PixOffset(x, y)]]++
		}
	}
	count := (x1 - x0) * (y1 - y0)

	limit := int(clip * float64(count) / 256)
	if limit < 1 {
		limit = 1
	}
	excess := 0
	for i := range hist {
		if hist[i] > limit {
			excess += hist[i] - limit
			hist[i] = limit
		}
	}
	batch := excess / 256
	residual := excess - batch*256
	for i := range hist {
		hist[i] += batch
	}
	if residual > 0 {
		step := max(256/residual, 1)
		for i := 0; i < 256 && residual > 0; i += step {
			hist[i]++
			residual--
		}
	}

	var lut [256]uint8
	scale := 255.0 / float64(count)
	sum := 0
	for i := range hist {
		sum += hist[i]
		lut[i] = uint8(clampInt(int(math.Round(float64(sum)*scale)), 0, 255))
	}
	return lut
}
