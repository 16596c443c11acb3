package lbcore

import (
	"github.com/holiman/uint256"
)

//
// the data word of a sample is laid out as
//
// | 16 bits cumulative txns        | [0, 16)
// | 64 bits cumulative id          | [16, 80)
// | 64 bits cumulative volatility  | [80, 144)
// | 64 bits cumulative bin crossed | [144, 208)
// | 8 bits sample lifetime         | [208, 216)
// | 40 bits creation timestamp     | [216, 256)
//
// the volume and fee words each hold the x amount in [0, 128) and the y amount
// in [128, 256). the last update time is created at + lifetime and is never
// stored on its own.
//

const (
	OffsetCumulativeTxns       = 0
	OffsetCumulativeID         = 16
	OffsetCumulativeVolatility = 80
	OffsetCumulativeBinCrossed = 144
	OffsetSampleLifetime       = 208
	OffsetSampleCreation       = 216
)

const (
	sampleSize   = 3 * 32
	maxCreatedAt = 1<<40 - 1
)

// Sample is an oracle sample: cumulative swap statistics for one time bucket.
type Sample struct {
	data   EncodedSample
	volume EncodedSample
	fee    EncodedSample
}

// EncodeSample packs the fields into a sample. Each field is truncated to its
// width: txns 16 bits, lifetime 8 bits, createdAt 40 bits.
func EncodeSample(
	txns uint16,
	cumulativeID, cumulativeVolatility, cumulativeBinCrossed uint64,
	lifetime uint8,
	createdAt uint64,
	volume, fee EncodedSample,
) (s Sample) {
	s.data.SetUint64(uint64(txns), &MaskUint16, OffsetCumulativeTxns)
	s.data.SetUint64(cumulativeID, &MaskUint64, OffsetCumulativeID)
	s.data.SetUint64(cumulativeVolatility, &MaskUint64, OffsetCumulativeVolatility)
	s.data.SetUint64(cumulativeBinCrossed, &MaskUint64, OffsetCumulativeBinCrossed)
	s.data.SetUint64(uint64(lifetime), &MaskUint8, OffsetSampleLifetime)
	s.data.SetUint64(createdAt, &MaskUint40, OffsetSampleCreation)
	s.volume = volume
	s.fee = fee
	return s
}

func (s Sample) CumulativeTxns() uint16       { return s.data.DecodeUint16(OffsetCumulativeTxns) }
func (s Sample) CumulativeID() uint64         { return s.data.DecodeUint64(OffsetCumulativeID) }
func (s Sample) CumulativeVolatility() uint64 { return s.data.DecodeUint64(OffsetCumulativeVolatility) }
func (s Sample) CumulativeBinCrossed() uint64 { return s.data.DecodeUint64(OffsetCumulativeBinCrossed) }
func (s Sample) Lifetime() uint8              { return s.data.DecodeUint8(OffsetSampleLifetime) }
func (s Sample) CreatedAt() uint64            { return s.data.DecodeUint40(OffsetSampleCreation) }
func (s Sample) LastUpdate() uint64           { return s.CreatedAt() + uint64(s.Lifetime()) }

func (s Sample) Volume() EncodedSample { return s.volume }
func (s Sample) Fee() EncodedSample    { return s.fee }

func (s Sample) VolumeX() uint256.Int { return s.volume.DecodeUint128(0) }
func (s Sample) VolumeY() uint256.Int { return s.volume.DecodeUint128(128) }
func (s Sample) FeeX() uint256.Int    { return s.fee.DecodeUint128(0) }
func (s Sample) FeeY() uint256.Int    { return s.fee.DecodeUint128(128) }

// SetCreatedAt replaces only the creation timestamp, leaving the accumulated
// statistics alone.
func (s *Sample) SetCreatedAt(createdAt uint64) *Sample {
	s.data.SetUint64(createdAt, &MaskUint40, OffsetSampleCreation)
	return s
}

// Cumulatives are the running totals produced by Sample.Update.
type Cumulatives struct {
	Txns       uint16
	ID         uint64
	Volatility uint64
	BinCrossed uint64
	Volume     EncodedSample
	Fee        EncodedSample
}

// Update returns the totals of s advanced by deltaTime seconds spent at
// activeID with the given volatility accumulator and bins crossed, plus the
// volume and fee of the call. The txn count only moves when both volume and
// fee are nonzero, so liquidity only updates do not count as trades. The 64
// bit totals wrap, as do the 16 bit txn count and each 128 bit amount.
func (s Sample) Update(
	deltaTime uint64,
	activeID, volatilityAccumulator, binCrossed uint32,
	volume, fee EncodedSample,
) Cumulatives {
	txns := s.CumulativeTxns()
	if !volume.IsZero() && !fee.IsZero() {
		txns++
	}

	return Cumulatives{
		Txns:       txns,
		ID:         s.CumulativeID() + uint64(activeID)*deltaTime,
		Volatility: s.CumulativeVolatility() + uint64(volatilityAccumulator)*deltaTime,
		BinCrossed: s.CumulativeBinCrossed() + uint64(binCrossed)*deltaTime,
		Volume:     AddUint128s(s.volume, volume),
		Fee:        AddUint128s(s.fee, fee),
	}
}

// WeightedAverage interpolates the cumulative id, volatility and bins crossed
// of two samples with the given weights, rounding down. A zero weight on
// either side returns the other sample's values unchanged.
func WeightedAverage(s1, s2 Sample, weight1, weight2 uint64) (id, volatility, binCrossed uint64) {
	if weight2 == 0 {
		return s1.CumulativeID(), s1.CumulativeVolatility(), s1.CumulativeBinCrossed()
	}
	if weight1 == 0 {
		return s2.CumulativeID(), s2.CumulativeVolatility(), s2.CumulativeBinCrossed()
	}

	// products and the total weight are taken in 256 bits so nothing wraps.
	w1, w2 := uint256.NewInt(weight1), uint256.NewInt(weight2)
	total := new(uint256.Int).Add(w1, w2)

	avg := func(a, b uint64) uint64 {
		var x, y uint256.Int
		x.Mul(uint256.NewInt(a), w1)
		y.Mul(uint256.NewInt(b), w2)
		x.Add(&x, &y)
		x.Div(&x, total)
		return x.Uint64()
	}

	return avg(s1.CumulativeID(), s2.CumulativeID()),
		avg(s1.CumulativeVolatility(), s2.CumulativeVolatility()),
		avg(s1.CumulativeBinCrossed(), s2.CumulativeBinCrossed())
}

// MarshalBinary returns the data, volume and fee words as 32 little endian
// bytes each.
func (s Sample) MarshalBinary() ([]byte, error) {
	buf := make([]byte, sampleSize)
	s.putBytes(buf)
	return buf, nil
}

// UnmarshalBinary is the inverse of MarshalBinary.
func (s *Sample) UnmarshalBinary(buf []byte) error {
	if len(buf) != sampleSize {
		return Error.New("sample: expected %d bytes, got %d", sampleSize, len(buf))
	}
	s.getBytes(buf)
	return nil
}

func (s Sample) putBytes(buf []byte) {
	putWord(buf[0:32], s.data.word())
	putWord(buf[32:64], s.volume.word())
	putWord(buf[64:96], s.fee.word())
}

func (s *Sample) getBytes(buf []byte) {
	s.data = EncodedSample(getWord(buf[0:32]))
	s.volume = EncodedSample(getWord(buf[32:64]))
	s.fee = EncodedSample(getWord(buf[64:96]))
}
