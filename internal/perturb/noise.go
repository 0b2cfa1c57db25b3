package perturb

import (
	"context"

	"github.com/andresmejia3/pixelcloak/internal/raster"
)

// AddNoise adds per-channel Gaussian noise with the given sigma, then flips
// whole pixels to black or white with probability saltProb.
func AddNoise(ctx context.Context, rng Source, img *raster.Image, sigma, saltProb float64) *raster.Image {
	out := img.Clone()
	pixels := img.W * img.H

	if sigma > 0 {
		gauss := rng.Normal(len(out.Pix), 0, sigma)
		for p := 0; p < pixels; p++ {
			if cancelled(ctx) {
				return out
			}
			o := p * raster.Channels
			for c := 0; c < raster.Channels; c++ {
				out.Pix[o+c] = raster.Clamp(out.Pix[o+c] + gauss[o+c])
			}
		}
	}

	if saltProb > 0 {
		uni := rng.Uniform(pixels)
		for p, u := range uni {
			if cancelled(ctx) {
				return out
			}
			if u >= saltProb {
				continue
			}
			val := 0.0
			if rng.Bool() {
				val = 255
			}
			o := p * raster.Channels
			out.Pix[o], out.Pix[o+1], out.Pix[o+2] = val, val, val
		}
	}
	return out
}
