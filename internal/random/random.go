// Package random draws every value the perturbation pipeline needs from a
// cryptographically secure source so the perturbation pattern cannot be
// predicted or replayed by someone who knows the algorithm.
package random

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"math/big"
	"sort"
)

// Engine samples uniform, normal and permutation values from a byte source.
type Engine struct {
	src io.Reader
}

// New returns an Engine backed by crypto/rand.
func New() *Engine {
	return &Engine{src: rand.Reader}
}

// NewFromReader returns an Engine reading from src. Tests use it with a
// deterministic stream; production code should call New.
func NewFromReader(src io.Reader) *Engine {
	return &Engine{src: src}
}

// Bytes returns n random bytes.
func (e *Engine) Bytes(n int) []byte {
	if n <= 0 {
		return []byte{}
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(e.src, buf); err != nil {
		// crypto/rand does the same: an entropy failure is not recoverable.
		panic(fmt.Sprintf("random source failed: %v", err))
	}
	return buf
}

// Uniform returns n floats in (0,1], each from a 63 bit value divided by 2^63.
func (e *Engine) Uniform(n int) []float64 {
	if n <= 0 {
		return []float64{}
	}
	raw := e.Bytes(8 * n)
	out := make([]float64, n)
	for i := range out {
		v := binary.BigEndian.Uint64(raw[i*8:]) & math.MaxInt64
		u := float64(v) / (1 << 63)
		if u == 0 {
			u = math.SmallestNonzeroFloat64
		}
		out[i] = u
	}
	return out
}

// Normal returns n samples from N(mean, std²) via Box-Muller. Surplus samples
// from the last pair are dropped.
func (e *Engine) Normal(n int, mean, std float64) []float64 {
	if n <= 0 {
		return []float64{}
	}
	pairs := (n + 1) / 2
	u1 := e.Uniform(pairs)
	u2 := e.Uniform(pairs)
	z := make([]float64, pairs*2)
	for i := 0; i < pairs; i++ {
		r := math.Sqrt(-2 * math.Log(math.Max(u1[i], 1e-12)))
		theta := 2 * math.Pi * u2[i]
		z[2*i] = r * math.Cos(theta)
		z[2*i+1] = r * math.Sin(theta)
	}
	out := z[:n]
	for i := range out {
		out[i] = out[i]*std + mean
	}
	return out
}

// Permutation returns the indices [0,n) ordered by n uniform keys.
func (e *Engine) Permutation(n int) []int {
	if n <= 0 {
		return []int{}
	}
	keys := e.Uniform(n)
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return keys[order[a]] < keys[order[b]] })
	return order
}

// UniformRange maps a single uniform draw onto [a,b).
func (e *Engine) UniformRange(a, b float64) float64 {
	return a + e.Uniform(1)[0]*(b-a)
}

// IntRange returns an integer in [a,b] inclusive without modulo bias.
func (e *Engine) IntRange(a, b int) int {
	if b <= a {
		return a
	}
	v, err := rand.Int(e.src, big.NewInt(int64(b-a)+1))
	if err != nil {
		panic(fmt.Sprintf("random source failed: %v", err))
	}
	return a + int(v.Int64())
}

// Bool is a fair coin flip.
func (e *Engine) Bool() bool {
	return e.Bytes(1)[0]&1 == 1
}
