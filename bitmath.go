package lbcore

import (
	"math/bits"

	"github.com/holiman/uint256"
)

//
// bit scans over 256 bit words. limb 0 holds the lowest order bits, so a scan
// from the top walks limbs 3..0 and a scan from the bottom walks 0..3.
//

// MostSignificantBit returns the index of the highest set bit of x. It
// returns 0 when x is zero, which callers must tell apart from bit 0 by
// checking x themselves.
func MostSignificantBit(x *uint256.Int) uint8 {
	for i := 3; i >= 0; i-- {
		if x[i] != 0 {
			return uint8(64*i + bits.Len64(x[i]) - 1)
		}
	}
	return 0
}

// LeastSignificantBit returns the index of the lowest set bit of x, or 255
// when x is zero.
func LeastSignificantBit(x *uint256.Int) uint8 {
	for i := 0; i < 4; i++ {
		if x[i] != 0 {
			return uint8(64*i + bits.TrailingZeros64(x[i]))
		}
	}
	return 255
}

// ClosestBitRight returns the highest set bit of x whose index is at most
// bit. It reports false if there is none.
func ClosestBitRight(x *uint256.Int, bit uint8) (uint8, bool) {
	shift := 255 - bit

	// shifting left by 255-bit discards every bit above bit.
	var y uint256.Int
	y.Lsh(x, uint(shift))
	if y.IsZero() {
		return 0, false
	}
	return MostSignificantBit(&y) - shift, true
}

// ClosestBitLeft returns the lowest set bit of x whose index is at least bit.
// It reports false if there is none.
func ClosestBitLeft(x *uint256.Int, bit uint8) (uint8, bool) {
	var y uint256.Int
	y.Rsh(x, uint(bit))
	if y.IsZero() {
		return 0, false
	}
	return LeastSignificantBit(&y) + bit, true
}

// onesCount returns the number of set bits in x.
func onesCount(x *uint256.Int) int {
	return bits.OnesCount64(x[0]) +
		bits.OnesCount64(x[1]) +
		bits.OnesCount64(x[2]) +
		bits.OnesCount64(x[3])
}

// bitWord returns a word with only bit set.
func bitWord(bit uint8) (w uint256.Int) {
	w[bit/64] = 1 << (bit % 64)
	return w
}

// hasBit reports if bit is set in x.
func hasBit(x *uint256.Int, bit uint8) bool {
	return x[bit/64]&(1<<(bit%64)) != 0
}

func clearBit(x *uint256.Int, bit uint8) {
	x[bit/64] &^= 1 << (bit % 64)
}
