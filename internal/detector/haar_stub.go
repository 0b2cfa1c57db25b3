//go:build !gocv

package detector

import "errors"

// ErrNoGocv is returned by NewHaar in builds without the gocv tag.
var ErrNoGocv = errors.New("haar detector requires a build with -tags gocv")

func NewHaar(cascade string) (Detector, error) {
	return nil, ErrNoGocv
}
