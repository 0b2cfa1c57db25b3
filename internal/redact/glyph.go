package redact

import (
	"fmt"
	"image"
	"image/draw"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

// glyphHeight is the glyph size relative to the box height.
const glyphHeight = 0.8

// renderGlyph draws the configured glyph centered on an opaque w x h tile.
func (c *Compositor) renderGlyph(w, h int) (*image.RGBA, error) {
	tile := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(tile, tile.Bounds(), image.NewUniform(c.opts.Background), image.Point{}, draw.Src)

	if c.font != nil {
		face, err := opentype.NewFace(c.font, &opentype.FaceOptions{
			Size:    glyphHeight * float64(h),
			DPI:     72,
			Hinting: font.HintingFull,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to size glyph face: %w", err)
		}
		defer face.Close()
		c.drawCentered(tile, face, w, h)
		return tile, nil
	}

	// No font configured: draw with the built-in bitmap face at its native
	// size, then scale the result up to the target height.
	face := basicfont.Face7x13
	adv := font.MeasureString(face, c.opts.Glyph).Ceil()
	if adv == 0 {
		return tile, nil
	}
	m := face.Metrics()
	lineH := (m.Ascent + m.Descent).Ceil()
	small := image.NewRGBA(image.Rect(0, 0, adv, lineH))
	draw.Draw(small, small.Bounds(), image.NewUniform(c.opts.Background), image.Point{}, draw.Src)
	d := &font.Drawer{
		Dst:  small,
		Src:  image.NewUniform(c.opts.Foreground),
		Face: face,
		Dot:  fixed.Point26_6{X: 0, Y: m.Ascent},
	}
	d.DrawString(c.opts.Glyph)

	th := max(1, int(glyphHeight*float64(h)))
	tw := max(1, adv*th/lineH)
	if tw > w {
		th = max(1, th*w/tw)
		tw = w
	}
	x0, y0 := (w-tw)/2, (h-th)/2
	xdraw.NearestNeighbor.Scale(tile, image.Rect(x0, y0, x0+tw, y0+th), small, small.Bounds(), draw.Src, nil)
	return tile, nil
}

func (c *Compositor) drawCentered(dst *image.RGBA, face font.Face, w, h int) {
	m := face.Metrics()
	adv := font.MeasureString(face, c.opts.Glyph)
	x := (fixed.I(w) - adv) / 2
	y := (fixed.I(h) + m.Ascent - m.Descent) / 2
	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(c.opts.Foreground),
		Face: face,
		Dot:  fixed.Point26_6{X: x, Y: y},
	}
	d.DrawString(c.opts.Glyph)
}
