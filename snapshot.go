package lbcore

import (
	"github.com/fxamacker/cbor/v2"
	"github.com/zeebo/errs"
	"golang.org/x/crypto/sha3"
)

// encMode encodes with sorted map keys and shortest integers so that equal
// states produce equal bytes.
var encMode = func() cbor.EncMode {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	return em
}()

// TreeSnapshot is the persisted form of a Tree: the stored words of each
// level as little-endian bytes. Missing keys are empty words.
type TreeSnapshot struct {
	Level0 [32]byte            `cbor:"1,keyasint"`
	Level1 map[uint8][32]byte  `cbor:"2,keyasint"`
	Level2 map[uint16][32]byte `cbor:"3,keyasint"`
}

// Snapshot returns the words of the tree.
func (t *Tree) Snapshot() TreeSnapshot {
	snap := TreeSnapshot{
		Level0: Bytes32(&t.level0),
		Level1: make(map[uint8][32]byte, len(t.level1)),
		Level2: make(map[uint16][32]byte, len(t.level2)),
	}
	for key, w := range t.level1 {
		snap.Level1[key] = Bytes32(&w)
	}
	for key, w := range t.level2 {
		snap.Level2[key] = Bytes32(&w)
	}
	return snap
}

// RestoreTree builds a tree from a snapshot. Zero words in the snapshot are
// dropped. The result is verified, so a snapshot whose levels disagree fails
// with an InvariantError.
func RestoreTree(snap TreeSnapshot) (*Tree, error) {
	t := NewTree()
	t.level0 = FromBytes32(snap.Level0)
	for key, b := range snap.Level1 {
		w := FromBytes32(b)
		t.setWord1(key, &w)
	}
	for key, b := range snap.Level2 {
		w := FromBytes32(b)
		t.setWord2(key, &w)
		t.len += onesCount(&w)
	}
	if err := t.Verify(); err != nil {
		return nil, err
	}
	return t, nil
}

// MarshalCBOR encodes the tree snapshot deterministically.
func (t *Tree) MarshalCBOR() ([]byte, error) {
	data, err := encMode.Marshal(t.Snapshot())
	return data, errs.Wrap(err)
}

// UnmarshalCBOR replaces the tree with the decoded snapshot.
func (t *Tree) UnmarshalCBOR(data []byte) error {
	var snap TreeSnapshot
	if err := cbor.Unmarshal(data, &snap); err != nil {
		return Error.Wrap(err)
	}
	restored, err := RestoreTree(snap)
	if err != nil {
		return err
	}
	*t = *restored
	return nil
}

// Digest returns the SHA3-256 hash of the encoded tree. Trees with the same
// occupied ids have the same digest.
func (t *Tree) Digest() ([32]byte, error) {
	data, err := t.MarshalCBOR()
	if err != nil {
		return [32]byte{}, err
	}
	return sha3.Sum256(data), nil
}

// OracleSnapshot is the persisted form of an Oracle: its options, cursor and
// every written sample in binary form.
type OracleSnapshot struct {
	MaxSampleLifetime uint8             `cbor:"1,keyasint"`
	Length            uint16            `cbor:"2,keyasint"`
	Active            uint16            `cbor:"3,keyasint"`
	Size              uint16            `cbor:"4,keyasint"`
	Samples           map[uint16][]byte `cbor:"5,keyasint"`
}

// Snapshot reads every written sample of the oracle.
func (o *Oracle) Snapshot() (_ OracleSnapshot, err error) {
	snap := OracleSnapshot{
		MaxSampleLifetime: o.opts.MaxSampleLifetime,
		Length:            o.opts.Length,
		Active:            o.cursor.Active,
		Size:              o.cursor.Size,
		Samples:           make(map[uint16][]byte, o.cursor.Size),
	}
	for pos := 0; pos < int(o.cursor.Size); pos++ {
		id := o.idAt(pos)
		s, err := o.load(id)
		if err != nil {
			return OracleSnapshot{}, err
		}
		buf := make([]byte, sampleSize)
		s.putBytes(buf)
		snap.Samples[id] = buf
	}
	return snap, nil
}

// RestoreOracle writes the snapshot into an empty store and returns an
// oracle over it. The cursor stays at zero until the active sample, which is
// committed last, so an interrupted restore leaves an empty oracle.
func RestoreOracle(store Store, snap OracleSnapshot) (*Oracle, error) {
	o, err := NewOracle(store, Options{
		MaxSampleLifetime: snap.MaxSampleLifetime,
		Length:            snap.Length,
	})
	if err != nil {
		return nil, err
	}
	if o.cursor != (Cursor{}) {
		return nil, StorageError.New("restore into a store that has samples")
	}

	target := Cursor{Active: snap.Active, Size: snap.Size}
	if err := target.check(o.opts.Length); err != nil {
		return nil, err
	}
	if len(snap.Samples) != int(target.Size) {
		return nil, RangeError.New("snapshot has %d samples for cursor %+v", len(snap.Samples), target)
	}

	// positions are relative to the target cursor.
	o.cursor = target
	for pos := 0; pos < int(target.Size); pos++ {
		id := o.idAt(pos)
		data, ok := snap.Samples[id]
		if !ok {
			return nil, RangeError.New("snapshot is missing sample %d", id)
		}
		var s Sample
		if err := s.UnmarshalBinary(data); err != nil {
			return nil, err
		}

		var c Cursor
		if id == target.Active {
			c = target
		}
		if err := store.Commit(id, s, c); err != nil {
			return nil, StorageError.Wrap(err)
		}
	}
	return o, nil
}

// MarshalCBOR encodes the oracle snapshot deterministically.
func (s OracleSnapshot) MarshalCBOR() ([]byte, error) {
	type plain OracleSnapshot
	data, err := encMode.Marshal(plain(s))
	return data, errs.Wrap(err)
}

// Digest returns the SHA3-256 hash of the encoded oracle.
func (o *Oracle) Digest() ([32]byte, error) {
	snap, err := o.Snapshot()
	if err != nil {
		return [32]byte{}, err
	}
	data, err := snap.MarshalCBOR()
	if err != nil {
		return [32]byte{}, err
	}
	return sha3.Sum256(data), nil
}
