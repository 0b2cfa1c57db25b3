// Package fingerprint measures how far an output image has drifted from its
// source under a perceptual hash.
package fingerprint

import (
	"image"
	"math/bits"

	"github.com/corona10/goimagehash"
)

// Bits is the length of the dHash vector.
const Bits = 128

// hashW x hashH gradient comparisons make up the hash.
const (
	hashW = 16
	hashH = 8
)

// DHash returns the 128-bit difference hash of img. A nil image hashes to zero.
func DHash(img image.Image) [2]uint64 {
	var out [2]uint64
	if img == nil {
		return out
	}
	h, err := goimagehash.ExtDifferenceHash(img, hashW, hashH)
	if err != nil {
		return out
	}
	copy(out[:], h.GetHash())
	return out
}

// Hamming counts differing bits between two hashes.
func Hamming(a, b [2]uint64) int {
	return bits.OnesCount64(a[0]^b[0]) + bits.OnesCount64(a[1]^b[1])
}

// Distance is the dHash Hamming distance between two images. 0 means the
// hashes are identical.
func Distance(a, b image.Image) int {
	return Hamming(DHash(a), DHash(b))
}
