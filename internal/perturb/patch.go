package perturb

import (
	"context"

	"github.com/andresmejia3/pixelcloak/internal/raster"
)

// lowSaliencyKeep is the chance a patch landing on a low-saliency area is still drawn.
const lowSaliencyKeep = 0.4

// PatchCount is the number of patches OverlayPatches draws for the given geometry.
func PatchCount(w, h, patchSize int, density float64) int {
	return max(1, int(float64(w*h)*density/float64(patchSize*patchSize)*8))
}

// OverlayPatches alpha-blends randomly placed square patches of solid colour
// or raw noise onto a copy of img.
func OverlayPatches(ctx context.Context, rng Source, img *raster.Image, patchSize int, density, strength float64, mask *raster.Mask) *raster.Image {
	out := img.Clone()
	if patchSize < 1 {
		patchSize = 1
	}
	w, h := img.W, img.H
	area := patchSize * patchSize
	lowSaliency := float64(area) / 6 * 255

	numPatches := PatchCount(w, h, patchSize, density)
	patch := make([]float64, area*raster.Channels)

	for i := 0; i < numPatches; i++ {
		if cancelled(ctx) {
			return out
		}
		x := rng.IntRange(0, max(0, w-patchSize))
		y := rng.IntRange(0, max(0, h-patchSize))

		if mask != nil {
			var sum float64
			for yy := y; yy < min(y+patchSize, h); yy++ {
				for xx := x; xx < min(x+patchSize, w); xx++ {
					sum += mask.At(xx, yy)
				}
			}
			if sum < lowSaliency && rng.Uniform(1)[0] > lowSaliencyKeep {
				continue
			}
		}

		if rng.Bool() {
			c := rng.Bytes(raster.Channels)
			for k := 0; k < area; k++ {
				patch[k*3] = float64(c[0])
				patch[k*3+1] = float64(c[1])
				patch[k*3+2] = float64(c[2])
			}
		} else {
			for k, b := range rng.Bytes(len(patch)) {
				patch[k] = float64(b)
			}
		}

		alpha := rng.UniformRange(0.4, 1.0) * strength
		for yy := 0; yy < patchSize; yy++ {
			for xx := 0; xx < patchSize; xx++ {
				idx := out.Offset(min(w-1, x+xx), min(h-1, y+yy))
				pidx := (yy*patchSize + xx) * raster.Channels
				for c := 0; c < raster.Channels; c++ {
					out.Pix[idx+c] = raster.Clamp((1-alpha)*out.Pix[idx+c] + alpha*patch[pidx+c])
				}
			}
		}
	}
	return out
}
