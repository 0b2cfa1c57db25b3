package pipeline

import (
	"image"

	"github.com/andresmejia3/pixelcloak/internal/raster"
	"github.com/disintegration/imaging"
	xdraw "golang.org/x/image/draw"
)

// fitWithin returns the size of a w x h image scaled so its longer side is
// at most maxDim. Images already small enough keep their size.
func fitWithin(w, h, maxDim int) (int, int) {
	if maxDim <= 0 || (w <= maxDim && h <= maxDim) {
		return w, h
	}
	if w >= h {
		return maxDim, max(1, int(float64(h)*float64(maxDim)/float64(w)+0.5))
	}
	return max(1, int(float64(w)*float64(maxDim)/float64(h)+0.5)), maxDim
}

// resize scales img to exactly w x h with Catmull-Rom resampling.
func resize(img *raster.Image, w, h int) *raster.Image {
	if img.W == w && img.H == h {
		return img.Clone()
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	src := img.ToRGBA()
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), xdraw.Src, nil)
	return raster.FromImage(dst)
}

// rotate turns img clockwise by quarter turns. Negative values turn
// counter-clockwise.
func rotate(img *image.RGBA, quarterTurns int) image.Image {
	switch ((quarterTurns % 4) + 4) % 4 {
	case 1:
		return imaging.Rotate270(img)
	case 2:
		return imaging.Rotate180(img)
	case 3:
		return imaging.Rotate90(img)
	}
	return img
}
