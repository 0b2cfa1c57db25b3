//go:build gocv

package detector

import (
	"context"
	"fmt"
	"sync"

	"github.com/andresmejia3/pixelcloak/internal/raster"
	"github.com/andresmejia3/pixelcloak/internal/types"
	"gocv.io/x/gocv"
)

// Haar runs an OpenCV cascade classifier in-process.
type Haar struct {
	mu         sync.Mutex
	classifier gocv.CascadeClassifier
}

func NewHaar(cascade string) (Detector, error) {
	if cascade == "" {
		return nil, fmt.Errorf("haar detector requires a cascade file")
	}
	c := gocv.NewCascadeClassifier()
	if !c.Load(cascade) {
		c.Close()
		return nil, fmt.Errorf("failed to load cascade %s", cascade)
	}
	return &Haar{classifier: c}, nil
}

func (h *Haar) Name() string { return KindHaar }

func (h *Haar) Detect(ctx context.Context, img *raster.Image) ([]types.FaceBox, error) {
	if err := ctx.Err(); err != nil {
		return nil, wrap(h.Name(), err)
	}

	mat, err := gocv.ImageToMatRGB(img.ToRGBA())
	if err != nil {
		return nil, wrap(h.Name(), err)
	}
	defer mat.Close()

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(mat, &gray, gocv.ColorBGRToGray)
	gocv.EqualizeHist(gray, &gray)

	// CascadeClassifier is not safe for concurrent use.
	h.mu.Lock()
	rects := h.classifier.DetectMultiScale(gray)
	h.mu.Unlock()

	boxes := make([]types.FaceBox, 0, len(rects))
	for _, r := range rects {
		boxes = append(boxes, types.BoxFromRect(r))
	}
	return boxes, nil
}

func (h *Haar) Close() error {
	return h.classifier.Close()
}
