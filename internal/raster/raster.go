package raster

import (
	"fmt"
	"image"
	"image/color"
	"math"
)

// Channels is the number of interleaved float channels per pixel (R, G, B).
const Channels = 3

// Image is a flat RGB buffer with a stride of 3 floats per pixel.
// Values are expected in [0,255].
type Image struct {
	W, H int
	Pix  []float64
}

// Mask is a single channel saliency map in [0,255]. It is never mutated after construction.
type Mask struct {
	W, H int
	Pix  []float64
}

// Gray is a single channel luma plane.
type Gray struct {
	W, H int
	Pix  []float64
}

// New allocates a zeroed w x h image.
func New(w, h int) *Image {
	return &Image{W: w, H: h, Pix: make([]float64, w*h*Channels)}
}

// NewGray allocates a zeroed w x h luma plane.
func NewGray(w, h int) *Gray {
	return &Gray{W: w, H: h, Pix: make([]float64, w*h)}
}

// Clone returns a deep copy of the image.
func (m *Image) Clone() *Image {
	out := &Image{W: m.W, H: m.H, Pix: make([]float64, len(m.Pix))}
	copy(out.Pix, m.Pix)
	return out
}

// Offset returns the index of the R channel of pixel (x, y).
func (m *Image) Offset(x, y int) int {
	return (y*m.W + x) * Channels
}

// SameSize reports whether both images share dimensions.
func (m *Image) SameSize(o *Image) bool {
	return m.W == o.W && m.H == o.H
}

// Gray converts the image to luma using 0.299R + 0.587G + 0.114B.
func (m *Image) Gray() *Gray {
	g := NewGray(m.W, m.H)
	for i := range g.Pix {
		o := i * Channels
		g.Pix[i] = 0.299*m.Pix[o] + 0.587*m.Pix[o+1] + 0.114*m.Pix[o+2]
	}
	return g
}

// At returns the mask value at (x, y).
func (k *Mask) At(x, y int) float64 {
	return k.Pix[y*k.W+x]
}

// Clamp limits a channel value to [0,255].
func Clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return v
}

func toByte(v float64) uint8 {
	return uint8(Clamp(math.Round(v)))
}

// FromImage copies any image.Image into a float buffer. Alpha is discarded.
func FromImage(src image.Image) *Image {
	b := src.Bounds()
	out := New(b.Dx(), b.Dy())

	// Fast path for the decoders' common output types.
	if rgba, ok := src.(*image.RGBA); ok {
		for y := 0; y < out.H; y++ {
			row := rgba.Pix[rgba.PixOffset(b.Min.X, b.Min.Y+y):]
			for x := 0; x < out.W; x++ {
				o := out.Offset(x, y)
				out.Pix[o] = float64(row[x*4])
				out.Pix[o+1] = float64(row[x*4+1])
				out.Pix[o+2] = float64(row[x*4+2])
			}
		}
		return out
	}

	for y := 0; y < out.H; y++ {
		for x := 0; x < out.W; x++ {
			c := color.NRGBAModel.Convert(src.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA)
			o := out.Offset(x, y)
			out.Pix[o] = float64(c.R)
			out.Pix[o+1] = float64(c.G)
			out.Pix[o+2] = float64(c.B)
		}
	}
	return out
}

// ToRGBA renders the buffer as an opaque image.RGBA, rounding and clamping each channel.
func (m *Image) ToRGBA() *image.RGBA {
	out := image.NewRGBA(image.Rect(0, 0, m.W, m.H))
	for y := 0; y < m.H; y++ {
		row := out.Pix[y*out.Stride:]
		for x := 0; x < m.W; x++ {
			o := m.Offset(x, y)
			row[x*4] = toByte(m.Pix[o])
			row[x*4+1] = toByte(m.Pix[o+1])
			row[x*4+2] = toByte(m.Pix[o+2])
			row[x*4+3] = 255
		}
	}
	return out
}

// CheckDims validates dimensions against a pixel ceiling before any buffer is allocated.
func CheckDims(w, h, maxPixels int) error {
	if w <= 0 || h <= 0 {
		return fmt.Errorf("invalid dimensions %dx%d", w, h)
	}
	if maxPixels > 0 && w*h > maxPixels {
		return fmt.Errorf("%dx%d exceeds the %d pixel limit", w, h, maxPixels)
	}
	return nil
}
