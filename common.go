package lbcore

import (
	"encoding/binary"

	"github.com/holiman/uint256"
)

// 256 bit words are persisted as 32 bytes, always little endian.

// Bytes32 returns the little endian form of the word.
func Bytes32(w *uint256.Int) (b [32]byte) {
	binary.LittleEndian.PutUint64(b[0:8], w[0])
	binary.LittleEndian.PutUint64(b[8:16], w[1])
	binary.LittleEndian.PutUint64(b[16:24], w[2])
	binary.LittleEndian.PutUint64(b[24:32], w[3])
	return b
}

// FromBytes32 is the inverse of Bytes32.
func FromBytes32(b [32]byte) (w uint256.Int) {
	w[0] = binary.LittleEndian.Uint64(b[0:8])
	w[1] = binary.LittleEndian.Uint64(b[8:16])
	w[2] = binary.LittleEndian.Uint64(b[16:24])
	w[3] = binary.LittleEndian.Uint64(b[24:32])
	return w
}

func putWord(buf []byte, w *uint256.Int) {
	b := Bytes32(w)
	copy(buf, b[:])
}

func getWord(buf []byte) uint256.Int {
	var b [32]byte
	copy(b[:], buf)
	return FromBytes32(b)
}
