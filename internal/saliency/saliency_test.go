package saliency

import (
	"testing"

	"github.com/andresmejia3/pixelcloak/internal/raster"
)

func fill(img *raster.Image, x0, x1 int, v float64) {
	for y := 0; y < img.H; y++ {
		for x := x0; x < x1; x++ {
			o := img.Offset(x, y)
			img.Pix[o], img.Pix[o+1], img.Pix[o+2] = v, v, v
		}
	}
}

func TestEstimateUniformImageIsFlat(t *testing.T) {
	img := raster.New(16, 16)
	fill(img, 0, 16, 128)

	m := Estimate(img)
	for i, v := range m.Pix {
		if v != 0 {
			t.Fatalf("pixel %d = %f, want 0 for a flat image", i, v)
		}
	}
}

func TestEstimateHighlightsEdge(t *testing.T) {
	// Left half black, right half white: the seam must be the brightest column.
	img := raster.New(20, 10)
	fill(img, 10, 20, 255)

	m := Estimate(img)
	if m.W != 20 || m.H != 10 {
		t.Fatalf("mask size %dx%d", m.W, m.H)
	}
	if got := m.At(9, 5); got != 255 {
		t.Errorf("edge value = %f, want 255 after normalization", got)
	}
	if got := m.At(3, 5); got != 0 {
		t.Errorf("flat region = %f, want 0", got)
	}
	for x := 0; x < 20; x++ {
		if m.At(x, 0) != 0 || m.At(x, 9) != 0 {
			t.Fatalf("border row at x=%d should stay zero", x)
		}
	}
	for _, v := range m.Pix {
		if v < 0 || v > 255 {
			t.Fatalf("mask value %f out of range", v)
		}
	}
}

func TestEstimateTinyImage(t *testing.T) {
	m := Estimate(raster.New(1, 1))
	if len(m.Pix) != 1 || m.Pix[0] != 0 {
		t.Errorf("1x1 mask = %v", m.Pix)
	}
}
