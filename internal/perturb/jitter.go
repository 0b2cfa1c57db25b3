package perturb

import (
	"context"
	"math"

	"github.com/andresmejia3/pixelcloak/internal/raster"
	colorful "github.com/lucasb-eyer/go-colorful"
)

const (
	satJitter = 0.03
	valJitter = 0.02
)

// JitterHSV nudges each pixel's saturation and value by a small random factor
// scaled by scale. Hue is never changed. Output channels are whole numbers.
func JitterHSV(ctx context.Context, rng Source, img *raster.Image, scale float64) *raster.Image {
	out := img.Clone()
	w := img.W

	for y := 0; y < img.H; y++ {
		// Two draws per pixel: saturation then value.
		u := rng.Uniform(2 * w)
		for x := 0; x < w; x++ {
			if cancelled(ctx) {
				return out
			}
			o := out.Offset(x, y)
			c := colorful.Color{R: out.Pix[o] / 255, G: out.Pix[o+1] / 255, B: out.Pix[o+2] / 255}
			hue, s, v := c.Hsv()

			sMult := 1 + (-satJitter+u[2*x]*2*satJitter)*scale
			vMult := 1 + (-valJitter+u[2*x+1]*2*valJitter)*scale
			s = math.Max(0, math.Min(1, s*sMult))
			v = math.Max(0, math.Min(1, v*vMult))

			r := colorful.Hsv(hue, s, v)
			out.Pix[o] = raster.Clamp(math.Round(r.R * 255))
			out.Pix[o+1] = raster.Clamp(math.Round(r.G * 255))
			out.Pix[o+2] = raster.Clamp(math.Round(r.B * 255))
		}
	}
	return out
}
