// Package detector adapts external face detectors to a single interface.
// Detectors only ever see the finished, full-resolution image and return
// boxes in its pixel coordinates.
package detector

import (
	"context"
	"fmt"
	"time"

	"github.com/andresmejia3/pixelcloak/internal/raster"
	"github.com/andresmejia3/pixelcloak/internal/types"
)

// Detector kinds accepted by New.
const (
	KindNone   = "none"
	KindWorker = "worker"
	KindStatic = "static"
	KindHaar   = "haar"
)

// DefaultTimeout bounds a single detection call.
const DefaultTimeout = 30 * time.Second

// Detector finds face boxes in an image. Errors are *types.DetectionError.
type Detector interface {
	Name() string
	Detect(ctx context.Context, img *raster.Image) ([]types.FaceBox, error)
	Close() error
}

// Options selects and configures a detector.
type Options struct {
	Kind    string
	Timeout time.Duration

	// worker
	Python string
	Script string

	// static
	BoxesFile string

	// haar
	Cascade string
}

// New builds the configured detector. KindNone returns a nil Detector.
func New(opts Options) (Detector, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	switch opts.Kind {
	case "", KindNone:
		return nil, nil
	case KindWorker:
		w, err := NewWorker(opts.Python, opts.Script, opts.Timeout)
		if err != nil {
			return nil, err
		}
		return w, nil
	case KindStatic:
		s, err := LoadStatic(opts.BoxesFile)
		if err != nil {
			return nil, err
		}
		return s, nil
	case KindHaar:
		return NewHaar(opts.Cascade)
	default:
		return nil, fmt.Errorf("unknown detector %q", opts.Kind)
	}
}

func wrap(name string, err error) error {
	if err == nil {
		return nil
	}
	return &types.DetectionError{Detector: name, Err: err}
}
