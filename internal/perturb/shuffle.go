package perturb

import (
	"context"

	"github.com/andresmejia3/pixelcloak/internal/raster"
)

// salientTileMean is the normalized mean saliency above which a tile's
// shuffle fraction gets boosted.
const (
	salientTileMean = 0.1
	salientBoost    = 0.4
)

// BlockShuffle rearranges a random subset of pixels inside each
// blockSize x blockSize tile. Pixels outside the subset are untouched, so the
// multiset of values in a tile never changes.
func BlockShuffle(ctx context.Context, rng Source, img *raster.Image, blockSize int, intensity float64, mask *raster.Mask) *raster.Image {
	out := img.Clone()
	if blockSize < 1 {
		blockSize = 1
	}
	w, h := img.W, img.H

	for y := 0; y < h; y += blockSize {
		for x := 0; x < w; x += blockSize {
			if cancelled(ctx) {
				return out
			}
			by := min(blockSize, h-y)
			bx := min(blockSize, w-x)

			indices := make([]int, 0, by*bx)
			for yy := 0; yy < by; yy++ {
				for xx := 0; xx < bx; xx++ {
					indices = append(indices, out.Offset(x+xx, y+yy))
				}
			}

			p := intensity
			if mask != nil {
				var sum float64
				for yy := 0; yy < by; yy++ {
					for xx := 0; xx < bx; xx++ {
						sum += mask.At(x+xx, y+yy)
					}
				}
				if sum/float64(by*bx)/255 > salientTileMean {
					p = intensity + salientBoost
				}
			}

			n := len(indices)
			k := min(int(p*float64(n)), n)
			if k <= 1 {
				continue
			}

			selected := rng.Permutation(n)[:k]
			order := rng.Permutation(k)

			tmp := make([][raster.Channels]float64, k)
			for i, s := range selected {
				idx := indices[s]
				tmp[i] = [raster.Channels]float64{out.Pix[idx], out.Pix[idx+1], out.Pix[idx+2]}
			}
			for i := range tmp {
				dst := indices[selected[order[i]]]
				out.Pix[dst] = tmp[i][0]
				out.Pix[dst+1] = tmp[i][1]
				out.Pix[dst+2] = tmp[i][2]
			}
		}
	}
	return out
}
