package lbcore

import (
	"github.com/holiman/uint256"
)

// EncodedSample is a 256 bit word holding fixed width fields addressed by a
// bit offset and a mask. Offsets and masks are chosen by the callers so that
// offset plus width never exceeds 256; anything shifted past bit 255 is
// dropped.
type EncodedSample uint256.Int

func lowMask(bits uint) (m uint256.Int) {
	for i := uint(0); i < bits; i += 64 {
		if n := bits - i; n >= 64 {
			m[i/64] = ^uint64(0)
		} else {
			m[i/64] = 1<<n - 1
		}
	}
	return m
}

// field masks
var (
	MaskUint1   = lowMask(1)
	MaskUint8   = lowMask(8)
	MaskUint12  = lowMask(12)
	MaskUint14  = lowMask(14)
	MaskUint16  = lowMask(16)
	MaskUint20  = lowMask(20)
	MaskUint24  = lowMask(24)
	MaskUint40  = lowMask(40)
	MaskUint64  = lowMask(64)
	MaskUint128 = lowMask(128)
)

func (e *EncodedSample) word() *uint256.Int { return (*uint256.Int)(e) }

// Word returns the sample as a plain 256 bit integer.
func (e EncodedSample) Word() uint256.Int { return uint256.Int(e) }

// IsZero reports if every bit of the sample is clear.
func (e EncodedSample) IsZero() bool { return e.word().IsZero() }

// Set writes value into the bits [offset, offset+width) where width is the
// width of mask. The previous contents of those bits are cleared first and
// any bits of value above the mask are discarded.
func (e *EncodedSample) Set(value, mask *uint256.Int, offset uint) *EncodedSample {
	var shifted, v uint256.Int
	shifted.Lsh(mask, offset)
	shifted.Not(&shifted)

	v.And(value, mask)
	v.Lsh(&v, offset)

	w := e.word()
	w.And(w, &shifted)
	w.Or(w, &v)
	return e
}

// SetUint64 is Set for values that fit in 64 bits.
func (e *EncodedSample) SetUint64(value uint64, mask *uint256.Int, offset uint) *EncodedSample {
	return e.Set(uint256.NewInt(value), mask, offset)
}

// SetBool writes a single bit at offset.
func (e *EncodedSample) SetBool(b bool, offset uint) *EncodedSample {
	var v uint64
	if b {
		v = 1
	}
	return e.SetUint64(v, &MaskUint1, offset)
}

// Decode returns the field of width mask found at offset.
func (e EncodedSample) Decode(mask *uint256.Int, offset uint) (v uint256.Int) {
	v.Rsh(e.word(), offset)
	v.And(&v, mask)
	return v
}

func (e EncodedSample) decode64(mask *uint256.Int, offset uint) uint64 {
	v := e.Decode(mask, offset)
	return v[0]
}

func (e EncodedSample) DecodeBool(offset uint) bool     { return e.decode64(&MaskUint1, offset) != 0 }
func (e EncodedSample) DecodeUint8(offset uint) uint8   { return uint8(e.decode64(&MaskUint8, offset)) }
func (e EncodedSample) DecodeUint12(offset uint) uint16 { return uint16(e.decode64(&MaskUint12, offset)) }
func (e EncodedSample) DecodeUint14(offset uint) uint16 { return uint16(e.decode64(&MaskUint14, offset)) }
func (e EncodedSample) DecodeUint16(offset uint) uint16 { return uint16(e.decode64(&MaskUint16, offset)) }
func (e EncodedSample) DecodeUint20(offset uint) uint32 { return uint32(e.decode64(&MaskUint20, offset)) }
func (e EncodedSample) DecodeUint24(offset uint) uint32 { return uint32(e.decode64(&MaskUint24, offset)) }
func (e EncodedSample) DecodeUint40(offset uint) uint64 { return e.decode64(&MaskUint40, offset) }
func (e EncodedSample) DecodeUint64(offset uint) uint64 { return e.decode64(&MaskUint64, offset) }

// DecodeUint128 returns a 128 bit field. Only the low two limbs of the
// result can be nonzero.
func (e EncodedSample) DecodeUint128(offset uint) uint256.Int {
	return e.Decode(&MaskUint128, offset)
}

//
// two 128 bit amounts packed in one word: x in [0, 128), y in [128, 256).
//

// PackUint128 packs x and y into one word, truncating each to 128 bits.
func PackUint128(x, y *uint256.Int) (e EncodedSample) {
	e.Set(x, &MaskUint128, 0)
	e.Set(y, &MaskUint128, 128)
	return e
}

// PackUint64s packs two amounts that fit in 64 bits.
func PackUint64s(x, y uint64) (e EncodedSample) {
	return PackUint128(uint256.NewInt(x), uint256.NewInt(y))
}

// Uint128s unpacks the x and y halves.
func (e EncodedSample) Uint128s() (x, y uint256.Int) {
	return e.DecodeUint128(0), e.DecodeUint128(128)
}

// AddUint128s adds each half of a and b independently. A half that overflows
// wraps modulo 2^128 and never carries into the other half.
func AddUint128s(a, b EncodedSample) EncodedSample {
	ax, ay := a.Uint128s()
	bx, by := b.Uint128s()
	ax.Add(&ax, &bx)
	ay.Add(&ay, &by)
	return PackUint128(&ax, &ay)
}

// Bytes32 returns the little endian form of the sample.
func (e EncodedSample) Bytes32() [32]byte { return Bytes32(e.word()) }

// EncodedFromBytes32 is the inverse of EncodedSample.Bytes32.
func EncodedFromBytes32(b [32]byte) EncodedSample { return EncodedSample(FromBytes32(b)) }
