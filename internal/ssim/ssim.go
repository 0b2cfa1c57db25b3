// Package ssim scores structural similarity between two luma planes. It is
// the only fidelity gate the perturbation controller uses.
package ssim

import (
	"errors"
	"math"
	"runtime"

	hwyimage "github.com/ajroetker/go-highway/hwy/contrib/image"
	"github.com/ajroetker/go-highway/hwy/contrib/workerpool"
	"github.com/andresmejia3/pixelcloak/internal/raster"
	"gonum.org/v1/gonum/stat"
)

const (
	// WindowSize and Sigma describe the Gaussian window.
	WindowSize = 11
	Sigma      = 1.5
)

var (
	c1 = math.Pow(0.01*255, 2)
	c2 = math.Pow(0.03*255, 2)
)

// ErrSizeMismatch is returned when the two planes differ in dimensions.
var ErrSizeMismatch = errors.New("ssim: images differ in size")

// Evaluator computes SSIM, spreading blur rows over a persistent worker pool.
type Evaluator struct {
	pool   *workerpool.Pool
	kernel []float64
}

// New creates an Evaluator with the given number of blur workers.
// workers <= 0 uses GOMAXPROCS.
func New(workers int) *Evaluator {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Evaluator{
		pool:   workerpool.New(workers),
		kernel: GaussianKernel(WindowSize, Sigma),
	}
}

// Close releases the worker pool.
func (e *Evaluator) Close() {
	e.pool.Close()
}

// GaussianKernel returns a normalized 1-D Gaussian of the given size.
func GaussianKernel(size int, sigma float64) []float64 {
	half := size / 2
	k := make([]float64, size)
	var sum float64
	for i := range k {
		x := float64(i - half)
		k[i] = math.Exp(-(x * x) / (2 * sigma * sigma))
		sum += k[i]
	}
	for i := range k {
		k[i] /= sum
	}
	return k
}

// Blur applies the evaluator's separable Gaussian with clamp-to-edge borders.
// The output has the same size as src.
func (e *Evaluator) Blur(src []float64, w, h int) []float64 {
	half := len(e.kernel) / 2
	tmp := make([]float64, w*h)
	dst := make([]float64, w*h)

	e.pool.ParallelFor(h, func(start, end int) {
		for y := start; y < end; y++ {
			row := src[y*w : (y+1)*w]
			for x := 0; x < w; x++ {
				var v float64
				for k := -half; k <= half; k++ {
					v += row[hwyimage.Clamp(x+k, w)] * e.kernel[k+half]
				}
				tmp[y*w+x] = v
			}
		}
	})
	e.pool.ParallelFor(h, func(start, end int) {
		for y := start; y < end; y++ {
			for x := 0; x < w; x++ {
				var v float64
				for k := -half; k <= half; k++ {
					v += tmp[hwyimage.Clamp(y+k, h)*w+x] * e.kernel[k+half]
				}
				dst[y*w+x] = v
			}
		}
	})
	return dst
}

// Index returns the mean SSIM of a and b.
func (e *Evaluator) Index(a, b *raster.Gray) (float64, error) {
	if a.W != b.W || a.H != b.H || len(a.Pix) != len(b.Pix) {
		return 0, ErrSizeMismatch
	}
	w, h := a.W, a.H
	n := w * h
	if n == 0 {
		return 0, ErrSizeMismatch
	}

	aSq := make([]float64, n)
	bSq := make([]float64, n)
	ab := make([]float64, n)
	for i := 0; i < n; i++ {
		aSq[i] = a.Pix[i] * a.Pix[i]
		bSq[i] = b.Pix[i] * b.Pix[i]
		ab[i] = a.Pix[i] * b.Pix[i]
	}

	mu1 := e.Blur(a.Pix, w, h)
	mu2 := e.Blur(b.Pix, w, h)
	s1 := e.Blur(aSq, w, h)
	s2 := e.Blur(bSq, w, h)
	s12 := e.Blur(ab, w, h)

	scores := make([]float64, n)
	for i := 0; i < n; i++ {
		m1m2 := mu1[i] * mu2[i]
		m1sq := mu1[i] * mu1[i]
		m2sq := mu2[i] * mu2[i]
		sigma1 := s1[i] - m1sq
		sigma2 := s2[i] - m2sq
		sigma12 := s12[i] - m1m2

		top := (2*m1m2 + c1) * (2*sigma12 + c2)
		bot := (m1sq + m2sq + c1) * (sigma1 + sigma2 + c2)
		if bot == 0 {
			scores[i] = 1
			continue
		}
		scores[i] = top / bot
	}
	return stat.Mean(scores, nil), nil
}
