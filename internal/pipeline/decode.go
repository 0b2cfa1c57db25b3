package pipeline

import (
	"bytes"
	"fmt"
	"image"
	"io"

	"github.com/andresmejia3/pixelcloak/internal/raster"
	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"
)

// Decode reads an encoded image, rejects it with ErrTooLarge if its header
// announces more than maxPixels, and applies the EXIF orientation tag.
func Decode(r io.Reader, maxPixels int) (*raster.Image, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("unrecognised image: %w", err)
	}
	if err := raster.CheckDims(cfg.Width, cfg.Height, maxPixels); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTooLarge, err)
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", format, err)
	}
	return raster.FromImage(img), nil
}
