package types

import (
	"fmt"
	"image"
)

// FaceBox is an axis-aligned face rectangle in source pixel coordinates,
// as produced by an external detector.
type FaceBox struct {
	Left   int `json:"left"`
	Top    int `json:"top"`
	Right  int `json:"right"`
	Bottom int `json:"bottom"`
}

// Rect converts the box to an image.Rectangle.
func (b FaceBox) Rect() image.Rectangle {
	return image.Rect(b.Left, b.Top, b.Right, b.Bottom)
}

// BoxFromRect is the inverse of Rect.
func BoxFromRect(r image.Rectangle) FaceBox {
	return FaceBox{Left: r.Min.X, Top: r.Min.Y, Right: r.Max.X, Bottom: r.Max.Y}
}

// DetectionError wraps any failure coming out of a face detector.
type DetectionError struct {
	Detector string
	Err      error
}

func (e *DetectionError) Error() string {
	return fmt.Sprintf("face detection failed (%s): %v", e.Detector, e.Err)
}

func (e *DetectionError) Unwrap() error { return e.Err }

// ErrorResult captures the error object a detector worker may return as JSON.
type ErrorResult struct {
	Error string `json:"error"`
}
