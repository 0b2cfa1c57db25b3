// Package perturb holds the mask-aware perturbation operators. Every operator
// returns a fresh buffer and polls ctx between granular steps (tile, patch,
// pixel); a cancelled call returns whatever it has built so far, which is
// always a structurally valid image.
package perturb

import (
	"context"

	"github.com/andresmejia3/pixelcloak/internal/random"
)

// Source is the subset of the random engine the operators draw from.
type Source interface {
	Uniform(n int) []float64
	Normal(n int, mean, std float64) []float64
	Permutation(n int) []int
	UniformRange(a, b float64) float64
	IntRange(a, b int) int
	Bool() bool
	Bytes(n int) []byte
}

var _ Source = (*random.Engine)(nil)

func cancelled(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	default:
		return false
	}
}
