// Package persist encodes finished images and writes them to a destination.
package persist

import (
	"bytes"
	"context"
	"fmt"
	"math/big"
	"os"
	"path/filepath"

	"github.com/andresmejia3/pixelcloak/internal/raster"
	"github.com/disintegration/imaging"
)

// Quality is the JPEG quality used for saved output.
const Quality = 90

// filenameBytes is the number of random bytes behind each output name.
const filenameBytes = 12

// Saver stores an encoded JPEG under name and reports where it went.
type Saver interface {
	Save(ctx context.Context, name string, jpeg []byte) (location string, err error)
}

// ByteSource is the slice of the random engine RandomFilename needs.
type ByteSource interface {
	Bytes(n int) []byte
}

// RandomFilename returns 12 random bytes read as a non-negative big-endian
// integer, printed in decimal, with a .jpg suffix.
func RandomFilename(rng ByteSource) string {
	n := new(big.Int).SetBytes(rng.Bytes(filenameBytes))
	return n.String() + ".jpg"
}

// EncodeJPEG clamps and encodes img.
func EncodeJPEG(img *raster.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img.ToRGBA(), imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return nil, fmt.Errorf("failed to encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// DirSaver writes files into a local directory readable only by the owner.
type DirSaver struct {
	Dir string
}

func (d DirSaver) Save(ctx context.Context, name string, jpeg []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if name != filepath.Base(name) {
		return "", fmt.Errorf("invalid output name %q", name)
	}
	if err := os.MkdirAll(d.Dir, 0o700); err != nil {
		return "", fmt.Errorf("failed to create output dir: %w", err)
	}

	path := filepath.Join(d.Dir, name)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return "", fmt.Errorf("failed to create %s: %w", path, err)
	}
	if _, err := f.Write(jpeg); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("failed to close %s: %w", path, err)
	}
	return path, nil
}
