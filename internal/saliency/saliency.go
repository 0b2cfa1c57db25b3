// Package saliency builds the edge-strength map that tells the perturbation
// operators where an image carries structure. It is a generic gradient proxy,
// not a face detector.
package saliency

import (
	"math"

	"github.com/andresmejia3/pixelcloak/internal/raster"
	"gonum.org/v1/gonum/floats"
)

// Estimate returns the Sobel gradient magnitude of the image's luma,
// min-max normalized to [0,255]. Border pixels stay at zero.
func Estimate(img *raster.Image) *raster.Mask {
	w, h := img.W, img.H
	gray := img.Gray().Pix
	out := make([]float64, w*h)

	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			tl := gray[(y-1)*w+(x-1)]
			tc := gray[(y-1)*w+x]
			tr := gray[(y-1)*w+(x+1)]
			ml := gray[y*w+(x-1)]
			mr := gray[y*w+(x+1)]
			bl := gray[(y+1)*w+(x-1)]
			bc := gray[(y+1)*w+x]
			br := gray[(y+1)*w+(x+1)]

			gx := -tl - 2*ml - bl + tr + 2*mr + br
			gy := -tl - 2*tc - tr + bl + 2*bc + br
			out[y*w+x] = math.Min(255, math.Hypot(gx, gy))
		}
	}

	if len(out) > 0 {
		lo, hi := floats.Min(out), floats.Max(out)
		if hi > lo {
			floats.AddConst(-lo, out)
			floats.Scale(255/(hi-lo), out)
		}
	}
	return &raster.Mask{W: w, H: h, Pix: out}
}
