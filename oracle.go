package lbcore

import (
	"github.com/zeebo/mon"
)

const (
	// DefaultMaxSampleLifetime is how many seconds a sample keeps absorbing
	// updates before it is sealed and the next one is started.
	DefaultMaxSampleLifetime = 120

	// DefaultOracleLength is the number of slots in the ring.
	DefaultOracleLength = 65535

	// DefaultPageSize is used by SamplesAfter when no page size is given.
	DefaultPageSize = 100
)

// Options configure an Oracle. Zero fields take their defaults.
type Options struct {
	MaxSampleLifetime uint8
	Length            uint16
}

func (o Options) withDefaults() Options {
	if o.MaxSampleLifetime == 0 {
		o.MaxSampleLifetime = DefaultMaxSampleLifetime
	}
	if o.Length == 0 {
		o.Length = DefaultOracleLength
	}
	return o
}

// Swap is one call into the oracle: the state of the pair after a swap or a
// liquidity change.
type Swap struct {
	Now                   uint64        // current unix time, must fit 40 bits
	DeltaTime             uint64        // seconds the pair spent at ActiveID
	ActiveID              uint32        // active bin id
	VolatilityAccumulator uint32        // volatility accumulator of the pair
	BinCrossed            uint32        // bins crossed by the swap
	Volume                EncodedSample // volume in x and y, zero for liquidity changes
	Fee                   EncodedSample // fee in x and y, zero for liquidity changes
}

func (s Swap) trade() bool { return !s.Volume.IsZero() && !s.Fee.IsZero() }

// IndexedSample is a sample along with its oracle id.
type IndexedSample struct {
	ID uint16
	Sample
}

// Oracle is a ring of samples. Each sample covers at most MaxSampleLifetime
// seconds; once that elapses the next call seals it and starts a new sample
// at the next id, wrapping after Length.
type Oracle struct {
	store  Store
	opts   Options
	cursor Cursor
}

var (
	recordThunk mon.Thunk
	lookupThunk mon.Thunk
)

// NewOracle returns an Oracle reading and writing through store.
func NewOracle(store Store, opts Options) (_ *Oracle, err error) {
	defer mon.Start().Stop(&err)

	opts = opts.withDefaults()
	cursor, err := store.Cursor()
	if err != nil {
		return nil, StorageError.Wrap(err)
	}
	if err := cursor.check(opts.Length); err != nil {
		return nil, err
	}

	return &Oracle{
		store:  store,
		opts:   opts,
		cursor: cursor,
	}, nil
}

func (o *Oracle) Options() Options { return o.opts }
func (o *Oracle) Cursor() Cursor   { return o.cursor }

// ActiveID returns the id of the sample being written, or 0 if there are no
// samples yet.
func (o *Oracle) ActiveID() uint16 { return o.cursor.Active }

// check reports if the cursor describes a ring of the given length. A ring
// that has not filled has its active sample at the last written slot, so a
// cursor that wrapped a shorter ring cannot be read with a longer one.
func (c Cursor) check(length uint16) error {
	switch {
	case c.Active > length || c.Size > length:
	case (c.Active == 0) != (c.Size == 0):
	case c.Size < length && c.Active != c.Size:
	default:
		return nil
	}
	return RangeError.New("cursor %+v does not fit oracle length %d", c, length)
}

// oldest returns the id of the oldest written sample.
func (o *Oracle) oldest() uint16 {
	if o.cursor.Size < o.opts.Length {
		return 1
	}
	return o.next(o.cursor.Active)
}

func (o *Oracle) next(id uint16) uint16 { return uint16(uint32(id)%uint32(o.opts.Length) + 1) }

// idAt returns the id of the sample at position pos counting from the oldest.
func (o *Oracle) idAt(pos int) uint16 {
	l := int(o.opts.Length)
	return uint16((int(o.oldest())-1+pos)%l + 1)
}

// position is the inverse of idAt.
func (o *Oracle) position(id uint16) int {
	l := int(o.opts.Length)
	return (int(id) - int(o.oldest()) + l) % l
}

func (o *Oracle) load(id uint16) (Sample, error) {
	s, ok, err := o.store.Load(id)
	if err != nil {
		return Sample{}, StorageError.Wrap(err)
	}
	if !ok {
		return Sample{}, StorageError.New("sample %d is behind the cursor but missing", id)
	}
	return s, nil
}

// RecordSwap folds sw into the active sample and returns the active id
// afterward. While the active sample is younger than MaxSampleLifetime it is
// rewritten in place; otherwise it is left sealed and a new sample is started
// at the next id, carrying the cumulative totals forward with the txn count
// reset. Nothing is changed if an error is returned.
func (o *Oracle) RecordSwap(sw Swap) (_ uint16, err error) {
	timer := recordThunk.Start()
	defer timer.Stop(&err)

	if sw.Now > maxCreatedAt {
		return 0, RangeError.New("timestamp %d does not fit in 40 bits", sw.Now)
	}
	if sw.ActiveID > MaxBinID {
		return 0, RangeError.New("active id %d above %d", sw.ActiveID, MaxBinID)
	}

	id, cursor := o.cursor.Active, o.cursor
	var cur Sample
	if id == 0 {
		id, cursor = 1, Cursor{Active: 1, Size: 1}
		cur.SetCreatedAt(sw.Now)
	} else if cur, err = o.load(id); err != nil {
		return 0, err
	}

	if sw.Now < cur.LastUpdate() {
		return 0, RangeError.New("timestamp %d before last update %d", sw.Now, cur.LastUpdate())
	}

	c := cur.Update(sw.DeltaTime, sw.ActiveID, sw.VolatilityAccumulator, sw.BinCrossed, sw.Volume, sw.Fee)
	createdAt, lifetime := cur.CreatedAt(), sw.Now-cur.CreatedAt()

	if lifetime > uint64(o.opts.MaxSampleLifetime) {
		id = o.next(id)
		if cursor.Size < o.opts.Length {
			cursor.Size++
		}
		cursor.Active = id
		createdAt, lifetime = sw.Now, 0

		c.Txns = 0
		if sw.trade() {
			c.Txns = 1
		}
	}

	s := EncodeSample(c.Txns, c.ID, c.Volatility, c.BinCrossed, uint8(lifetime), createdAt, c.Volume, c.Fee)
	if err := o.store.Commit(id, s, cursor); err != nil {
		return 0, StorageError.Wrap(err)
	}
	o.cursor = cursor
	return id, nil
}

// SampleAt returns the sample stored at id.
func (o *Oracle) SampleAt(id uint16) (Sample, error) {
	if id == 0 || id > o.opts.Length {
		return Sample{}, NotFound.New("oracle id %d", id)
	}
	s, ok, err := o.store.Load(id)
	if err != nil {
		return Sample{}, StorageError.Wrap(err)
	}
	if !ok {
		return Sample{}, NotFound.New("oracle id %d", id)
	}
	return s, nil
}

// SamplesAt returns the samples stored at ids, in the same order. Ids that
// are out of range or were never written get a zero sample, and are listed
// in a NotFound error returned along with the samples.
func (o *Oracle) SamplesAt(ids ...uint16) (_ []IndexedSample, err error) {
	defer mon.Start().Stop(&err)

	var missing []uint16
	samples := make([]IndexedSample, 0, len(ids))
	for _, id := range ids {
		s, err := o.SampleAt(id)
		if NotFound.Has(err) {
			missing = append(missing, id)
		} else if err != nil {
			return nil, err
		}
		samples = append(samples, IndexedSample{ID: id, Sample: s})
	}

	if len(missing) > 0 {
		return samples, NotFound.New("oracle ids %v", missing)
	}
	return samples, nil
}

// SamplesAfter returns up to pageSize samples in ring order starting at
// start and ending with the active sample. A start of 0, or of a slot that
// was never written, begins at the oldest sample. The returned next id
// continues the listing, and is 0 once the active sample has been returned.
func (o *Oracle) SamplesAfter(start uint16, pageSize int) (samples []IndexedSample, next uint16, err error) {
	defer mon.Start().Stop(&err)

	if start > o.opts.Length {
		return nil, 0, NotFound.New("oracle id %d", start)
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	size := int(o.cursor.Size)

	pos := 0
	if start != 0 {
		if pos = o.position(start); pos >= size {
			pos = 0
		}
	}

	for ; pos < size && len(samples) < pageSize; pos++ {
		id := o.idAt(pos)
		s, err := o.load(id)
		if err != nil {
			return nil, 0, err
		}
		samples = append(samples, IndexedSample{ID: id, Sample: s})
	}

	if pos < size {
		next = o.idAt(pos)
	}
	return samples, next, nil
}

// Params describe the state of the oracle.
type Params struct {
	SampleLifetime uint8  // max seconds per sample
	Length         uint16 // slots in the ring
	ActiveSize     uint16 // slots written
	LastUpdated    uint64 // last update of the active sample
	FirstTimestamp uint64 // last update of the oldest sample
}

// Params returns the oracle parameters. The timestamps are zero before the
// first sample.
func (o *Oracle) Params() (_ Params, err error) {
	p := Params{
		SampleLifetime: o.opts.MaxSampleLifetime,
		Length:         o.opts.Length,
		ActiveSize:     o.cursor.Size,
	}
	if o.cursor.Active == 0 {
		return p, nil
	}

	active, err := o.load(o.cursor.Active)
	if err != nil {
		return Params{}, err
	}
	first, err := o.load(o.oldest())
	if err != nil {
		return Params{}, err
	}
	p.LastUpdated = active.LastUpdate()
	p.FirstTimestamp = first.LastUpdate()
	return p, nil
}

// Observation is the cumulative state of the oracle at a point in time.
type Observation struct {
	Timestamp            uint64
	CumulativeID         uint64
	CumulativeVolatility uint64
	CumulativeBinCrossed uint64
}

func observe(ts uint64, s Sample) Observation {
	return Observation{
		Timestamp:            ts,
		CumulativeID:         s.CumulativeID(),
		CumulativeVolatility: s.CumulativeVolatility(),
		CumulativeBinCrossed: s.CumulativeBinCrossed(),
	}
}

// LookupAt returns the cumulative values at ts. Times after the last update
// return the active sample with its last update as the timestamp. Times
// between two samples are interpolated by WeightedAverage on the distance to
// each. Times before the oldest sample fail with LookupTooOld.
func (o *Oracle) LookupAt(ts uint64) (_ Observation, err error) {
	timer := lookupThunk.Start()
	defer timer.Stop(&err)

	if o.cursor.Active == 0 {
		return Observation{}, NotFound.New("oracle has no samples")
	}

	oldest, err := o.load(o.oldest())
	if err != nil {
		return Observation{}, err
	}
	if oldest.LastUpdate() > ts {
		return Observation{}, LookupTooOld.New("%d before %d", ts, oldest.LastUpdate())
	}

	active, err := o.load(o.cursor.Active)
	if err != nil {
		return Observation{}, err
	}
	if active.LastUpdate() <= ts {
		return observe(active.LastUpdate(), active), nil
	}

	// lastUpdate(lo) <= ts < lastUpdate(hi) holds throughout.
	lo, hi := 0, int(o.cursor.Size)-1
	prev, next := oldest, active
	for hi-lo > 1 {
		mid := (lo + hi) / 2
		s, err := o.load(o.idAt(mid))
		if err != nil {
			return Observation{}, err
		}
		if s.LastUpdate() <= ts {
			lo, prev = mid, s
		} else {
			hi, next = mid, s
		}
	}

	if prev.LastUpdate() == ts {
		return observe(ts, prev), nil
	}

	weightPrev := next.LastUpdate() - ts
	weightNext := ts - prev.LastUpdate()
	id, volatility, binCrossed := WeightedAverage(prev, next, weightPrev, weightNext)
	return Observation{
		Timestamp:            ts,
		CumulativeID:         id,
		CumulativeVolatility: volatility,
		CumulativeBinCrossed: binCrossed,
	}, nil
}

// Averages are time weighted averages over an interval.
type Averages struct {
	ID         uint64
	Volatility uint64
	BinCrossed uint64
}

// AverageBetween returns the time weighted average id, volatility and bins
// crossed between from and to, rounding down. The interval is clipped to the
// last update of the active sample.
func (o *Oracle) AverageBetween(from, to uint64) (Averages, error) {
	if to <= from {
		return Averages{}, RangeError.New("empty interval [%d, %d)", from, to)
	}

	a, err := o.LookupAt(from)
	if err != nil {
		return Averages{}, err
	}
	b, err := o.LookupAt(to)
	if err != nil {
		return Averages{}, err
	}

	if b.Timestamp <= a.Timestamp {
		return Averages{}, RangeError.New("no recorded time in [%d, %d)", from, to)
	}
	dt := b.Timestamp - a.Timestamp

	return Averages{
		ID:         (b.CumulativeID - a.CumulativeID) / dt,
		Volatility: (b.CumulativeVolatility - a.CumulativeVolatility) / dt,
		BinCrossed: (b.CumulativeBinCrossed - a.CumulativeBinCrossed) / dt,
	}, nil
}
