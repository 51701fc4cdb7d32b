package util

import (
	"fmt"
	"math/big"
)

// diffDividend is 2^256, the dividend used to turn a share boundary into a
// difficulty magnitude.
var diffDividend = new(big.Int).Lsh(big.NewInt(1), 256)

// diffUnits is the scaling ladder for difficulty display. Petahashes is the
// last unit even when the scaled value still exceeds 1000.
var diffUnits = []string{"hashes", "kilohashes", "megahashes", "gigahashes", "terahashes", "petahashes"}

// BoundaryToDifficulty computes floor(2^256 / boundary) with exact big-integer
// arithmetic. The boundary is a 256-bit big-endian upper bound on the share
// hash; a smaller boundary means a higher difficulty. A zero boundary yields
// zero difficulty.
func BoundaryToDifficulty(boundary []byte) *big.Int {
	divisor := new(big.Int).SetBytes(boundary)
	if divisor.Sign() == 0 {
		return new(big.Int)
	}
	return new(big.Int).Div(diffDividend, divisor)
}

// FormatDifficulty scales a difficulty magnitude to the largest unit that
// keeps the value at or below 1000 and formats it with two decimals.
func FormatDifficulty(diff *big.Int) string {
	v, _ := new(big.Float).SetInt(diff).Float64()
	i := 0
	for v > 1000.0 && i < len(diffUnits)-1 {
		i++
		v /= 1000.0
	}
	return fmt.Sprintf("%.2f %s", v, diffUnits[i])
}

// DisplayDifficulty is the boundary-to-display convenience used when a new
// boundary arrives from the pool.
func DisplayDifficulty(boundary []byte) string {
	return FormatDifficulty(BoundaryToDifficulty(boundary))
}
