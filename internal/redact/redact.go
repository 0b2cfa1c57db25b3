// Package redact paints over detected face regions after perturbation.
package redact

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"os"

	"github.com/anthonynsimon/bild/blur"
	"github.com/andresmejia3/pixelcloak/internal/raster"
	"github.com/andresmejia3/pixelcloak/internal/types"
	"golang.org/x/image/font/opentype"
)

// Redaction modes.
const (
	ModeOpaque = "opaque"
	ModeGlyph  = "glyph"
	ModePixel  = "pixel"
	ModeBlur   = "blur"
)

// Modes lists every supported mode.
var Modes = []string{ModeOpaque, ModeGlyph, ModePixel, ModeBlur}

const (
	minFaceSide = 4
	padFraction = 0.12
)

// Options selects how faces are covered.
type Options struct {
	Mode  string
	Glyph string
	// FontPath is an optional TrueType/OpenType file used for glyph mode.
	FontPath   string
	Foreground color.RGBA
	Background color.RGBA
	// PixelBlock is the pixelation cell size for pixel mode.
	PixelBlock int
	// BlurRadius is the Gaussian radius for blur mode.
	BlurRadius float64
}

// Compositor applies one redaction style to a list of face boxes.
type Compositor struct {
	opts Options
	font *opentype.Font
}

// NewCompositor validates the options and loads the glyph font if one is configured.
func NewCompositor(opts Options) (*Compositor, error) {
	switch opts.Mode {
	case ModeOpaque, ModePixel, ModeBlur:
	case ModeGlyph:
		if opts.Glyph == "" {
			return nil, fmt.Errorf("glyph mode requires a glyph")
		}
	default:
		return nil, fmt.Errorf("unknown redaction mode %q", opts.Mode)
	}
	if opts.PixelBlock < 1 {
		opts.PixelBlock = 12
	}
	if opts.BlurRadius <= 0 {
		opts.BlurRadius = 12
	}

	c := &Compositor{opts: opts}
	if opts.Mode == ModeGlyph && opts.FontPath != "" {
		data, err := os.ReadFile(opts.FontPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read glyph font: %w", err)
		}
		f, err := opentype.Parse(data)
		if err != nil {
			return nil, fmt.Errorf("failed to parse glyph font %s: %w", opts.FontPath, err)
		}
		c.font = f
	}
	return c, nil
}

// Mode reports the configured mode.
func (c *Compositor) Mode() string { return c.opts.Mode }

// Pad clamps a detector box to a w x h image, rejects boxes of 4 pixels or
// less on either side, and grows the rest by 12% per side as a safety margin.
// The returned rectangle always lies inside the image.
func Pad(box types.FaceBox, w, h int) (image.Rectangle, bool) {
	bounds := image.Rect(0, 0, w, h)
	r := box.Rect().Intersect(bounds)
	if r.Dx() <= minFaceSide || r.Dy() <= minFaceSide {
		return image.Rectangle{}, false
	}
	padW := int(float64(r.Dx()) * padFraction)
	padH := int(float64(r.Dy()) * padFraction)
	r = image.Rect(r.Min.X-padW, r.Min.Y-padH, r.Max.X+padW, r.Max.Y+padH)
	return r.Intersect(bounds), true
}

// Apply returns a copy of img with every usable box covered. The padded
// rectangles actually painted are returned alongside.
func (c *Compositor) Apply(ctx context.Context, img *raster.Image, boxes []types.FaceBox) (*raster.Image, []image.Rectangle, error) {
	out := img.Clone()
	var painted []image.Rectangle

	for _, box := range boxes {
		if ctx.Err() != nil {
			break
		}
		r, ok := Pad(box, img.W, img.H)
		if !ok {
			continue
		}

		switch c.opts.Mode {
		case ModeOpaque:
			fill(out, r, color.RGBA{A: 255})
		case ModePixel:
			pixelate(out, r, c.opts.PixelBlock)
		case ModeBlur:
			blurred := blur.Gaussian(region(out, r), c.opts.BlurRadius)
			overwrite(out, r, blurred)
		case ModeGlyph:
			tile, err := c.renderGlyph(r.Dx(), r.Dy())
			if err != nil {
				return nil, nil, err
			}
			overwrite(out, r, tile)
		}
		painted = append(painted, r)
	}
	return out, painted, nil
}

func fill(img *raster.Image, r image.Rectangle, c color.RGBA) {
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			o := img.Offset(x, y)
			img.Pix[o] = float64(c.R)
			img.Pix[o+1] = float64(c.G)
			img.Pix[o+2] = float64(c.B)
		}
	}
}

// pixelate fills each block with its top-left pixel's colour.
func pixelate(img *raster.Image, r image.Rectangle, blockSize int) {
	for y := r.Min.Y; y < r.Max.Y; y += blockSize {
		for x := r.Min.X; x < r.Max.X; x += blockSize {
			src := img.Offset(x, y)
			cr, cg, cb := img.Pix[src], img.Pix[src+1], img.Pix[src+2]

			x2 := min(x+blockSize, r.Max.X)
			y2 := min(y+blockSize, r.Max.Y)
			for by := y; by < y2; by++ {
				for bx := x; bx < x2; bx++ {
					o := img.Offset(bx, by)
					img.Pix[o], img.Pix[o+1], img.Pix[o+2] = cr, cg, cb
				}
			}
		}
	}
}

// region copies r out of img into an RGBA image anchored at the origin.
func region(img *raster.Image, r image.Rectangle) *image.RGBA {
	out := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	for y := 0; y < r.Dy(); y++ {
		row := out.Pix[y*out.Stride:]
		for x := 0; x < r.Dx(); x++ {
			o := img.Offset(r.Min.X+x, r.Min.Y+y)
			row[x*4] = uint8(raster.Clamp(img.Pix[o]))
			row[x*4+1] = uint8(raster.Clamp(img.Pix[o+1]))
			row[x*4+2] = uint8(raster.Clamp(img.Pix[o+2]))
			row[x*4+3] = 255
		}
	}
	return out
}

// overwrite copies src over r without alpha blending.
func overwrite(img *raster.Image, r image.Rectangle, src image.Image) {
	sb := src.Bounds()
	for y := 0; y < r.Dy() && y < sb.Dy(); y++ {
		for x := 0; x < r.Dx() && x < sb.Dx(); x++ {
			c := color.RGBAModel.Convert(src.At(sb.Min.X+x, sb.Min.Y+y)).(color.RGBA)
			o := img.Offset(r.Min.X+x, r.Min.Y+y)
			img.Pix[o] = float64(c.R)
			img.Pix[o+1] = float64(c.G)
			img.Pix[o+2] = float64(c.B)
		}
	}
}
