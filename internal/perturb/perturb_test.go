package perturb

import (
	"context"
	"math"
	mrand "math/rand/v2"
	"slices"
	"testing"

	"github.com/andresmejia3/pixelcloak/internal/random"
	"github.com/andresmejia3/pixelcloak/internal/raster"
)

func testRNG() *random.Engine {
	var seed [32]byte
	seed[0] = 1
	return random.NewFromReader(mrand.NewChaCha8(seed))
}

// gradient builds an image where every pixel is distinct.
func gradient(w, h int) *raster.Image {
	img := raster.New(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			o := img.Offset(x, y)
			img.Pix[o] = float64(x * 255 / max(1, w-1))
			img.Pix[o+1] = float64(y * 255 / max(1, h-1))
			img.Pix[o+2] = float64((x + y) % 256)
		}
	}
	return img
}

func tilePixels(img *raster.Image, x0, y0, size int) [][3]float64 {
	var px [][3]float64
	for y := y0; y < min(y0+size, img.H); y++ {
		for x := x0; x < min(x0+size, img.W); x++ {
			o := img.Offset(x, y)
			px = append(px, [3]float64{img.Pix[o], img.Pix[o+1], img.Pix[o+2]})
		}
	}
	slices.SortFunc(px, func(a, b [3]float64) int {
		for c := 0; c < 3; c++ {
			if a[c] != b[c] {
				if a[c] < b[c] {
					return -1
				}
				return 1
			}
		}
		return 0
	})
	return px
}

func TestBlockShufflePreservesTileMultiset(t *testing.T) {
	img := gradient(21, 13) // uneven size exercises clipped edge tiles
	before := img.Clone()
	const block = 8

	out := BlockShuffle(context.Background(), testRNG(), img, block, 0.8, nil)

	if !slices.Equal(img.Pix, before.Pix) {
		t.Fatal("BlockShuffle mutated its input")
	}
	for y := 0; y < img.H; y += block {
		for x := 0; x < img.W; x += block {
			a, b := tilePixels(img, x, y, block), tilePixels(out, x, y, block)
			if !slices.Equal(a, b) {
				t.Fatalf("tile (%d,%d) multiset changed", x, y)
			}
		}
	}
	if slices.Equal(img.Pix, out.Pix) {
		t.Error("expected at least one pixel to move")
	}
}

func TestBlockShuffleTinyFractionIsNoop(t *testing.T) {
	img := gradient(8, 8)
	// 0.01 * 64 = 0 pixels selected per tile.
	out := BlockShuffle(context.Background(), testRNG(), img, 8, 0.01, nil)
	if !slices.Equal(img.Pix, out.Pix) {
		t.Error("k <= 1 should leave the tile untouched")
	}
}

func TestBlockShuffleMaskBoost(t *testing.T) {
	img := gradient(8, 8)
	mask := &raster.Mask{W: 8, H: 8, Pix: make([]float64, 64)}
	for i := range mask.Pix {
		mask.Pix[i] = 255
	}
	// Without the boost 0.01 would select nothing; the salient tile gets +0.4.
	out := BlockShuffle(context.Background(), testRNG(), img, 8, 0.01, mask)
	if slices.Equal(img.Pix, out.Pix) {
		t.Error("salient tile should have been shuffled")
	}
	if !slices.Equal(tilePixels(img, 0, 0, 8), tilePixels(out, 0, 0, 8)) {
		t.Error("boosted shuffle must still preserve the tile multiset")
	}
}

func TestOperatorsHonourCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	img := gradient(16, 16)
	rng := testRNG()

	ops := map[string]*raster.Image{
		"shuffle": BlockShuffle(ctx, rng, img, 4, 0.9, nil),
		"patches": OverlayPatches(ctx, rng, img, 8, 0.5, 1, nil),
		"noise":   AddNoise(ctx, rng, img, 10, 0.5),
		"jitter":  JitterHSV(ctx, rng, img, 1),
	}
	for name, out := range ops {
		if out == img {
			t.Errorf("%s returned its input buffer", name)
		}
		if !slices.Equal(out.Pix, img.Pix) {
			t.Errorf("%s changed pixels after cancellation", name)
		}
	}
}

func TestPatchCount(t *testing.T) {
	tests := []struct {
		w, h, size int
		density    float64
		want       int
	}{
		{64, 64, 8, 0.06, 30},
		{10, 10, 8, 0.0, 1},
		{100, 100, 10, 1.0, 800},
	}
	for _, tt := range tests {
		if got := PatchCount(tt.w, tt.h, tt.size, tt.density); got != tt.want {
			t.Errorf("PatchCount(%d,%d,%d,%v) = %d, want %d", tt.w, tt.h, tt.size, tt.density, got, tt.want)
		}
	}
}

func TestOverlayPatchesStaysInRange(t *testing.T) {
	img := gradient(32, 32)
	// strength above 1 pushes alpha past 1; output must still be clamped.
	out := OverlayPatches(context.Background(), testRNG(), img, 8, 0.5, 1.05, nil)
	for i, v := range out.Pix {
		if v < 0 || v > 255 {
			t.Fatalf("channel %d = %f out of range", i, v)
		}
	}
	if slices.Equal(img.Pix, out.Pix) {
		t.Error("expected patches to change the image")
	}
}

func TestOverlayPatchesSmallerThanPatch(t *testing.T) {
	img := gradient(4, 3)
	out := OverlayPatches(context.Background(), testRNG(), img, 8, 0.1, 0.5, nil)
	if out.W != 4 || out.H != 3 || len(out.Pix) != len(img.Pix) {
		t.Fatal("output geometry changed")
	}
}

func TestAddNoiseSaltOnly(t *testing.T) {
	img := gradient(10, 10)
	out := AddNoise(context.Background(), testRNG(), img, 0, 1.0)
	for p := 0; p < 100; p++ {
		o := p * 3
		r, g, b := out.Pix[o], out.Pix[o+1], out.Pix[o+2]
		if r != g || g != b || (r != 0 && r != 255) {
			t.Fatalf("pixel %d = (%v,%v,%v), want pure black or white", p, r, g, b)
		}
	}
}

func TestAddNoiseClamps(t *testing.T) {
	img := raster.New(8, 8)
	for i := range img.Pix {
		img.Pix[i] = 250
	}
	out := AddNoise(context.Background(), testRNG(), img, 50, 0)
	for _, v := range out.Pix {
		if v < 0 || v > 255 {
			t.Fatalf("value %f escaped [0,255]", v)
		}
	}
}

func TestJitterHSVKeepsGrayGray(t *testing.T) {
	img := raster.New(6, 6)
	for i := range img.Pix {
		img.Pix[i] = 128
	}
	out := JitterHSV(context.Background(), testRNG(), img, 1)
	for p := 0; p < 36; p++ {
		o := p * 3
		if out.Pix[o] != out.Pix[o+1] || out.Pix[o+1] != out.Pix[o+2] {
			t.Fatalf("zero-saturation pixel gained colour: %v", out.Pix[o:o+3])
		}
		if math.Abs(out.Pix[o]-128) > 128*valJitter+1 {
			t.Fatalf("value moved too far: %v", out.Pix[o])
		}
	}
}

func TestJitterHSVZeroScaleIsIdentityOnIntegers(t *testing.T) {
	img := gradient(9, 7)
	out := JitterHSV(context.Background(), testRNG(), img, 0)
	for i := range img.Pix {
		if math.Abs(img.Pix[i]-out.Pix[i]) > 0 {
			t.Fatalf("channel %d changed %v -> %v", i, img.Pix[i], out.Pix[i])
		}
	}
}
