package lbcore

import (
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/zeebo/assert"
	"github.com/zeebo/pcg"
)

func TestSnapshot(t *testing.T) {
	t.Run("Tree", func(t *testing.T) {
		tr := NewTree()
		for i := 0; i < 5000; i++ {
			tr.Add(randomID())
		}

		data, err := tr.MarshalCBOR()
		assert.NoError(t, err)

		got := NewTree()
		assert.NoError(t, got.UnmarshalCBOR(data))
		assert.NoError(t, got.Verify())
		assert.Equal(t, got.Len(), tr.Len())

		for a, b := tr.Iter(), got.Iter(); a.Next(); {
			assert.That(t, b.Next())
			assert.Equal(t, a.ID(), b.ID())
		}

		d1, err := tr.Digest()
		assert.NoError(t, err)
		d2, err := got.Digest()
		assert.NoError(t, err)
		assert.Equal(t, d1, d2)
	})

	t.Run("TreeOrder", func(t *testing.T) {
		ids := make([]uint32, 500)
		for i := range ids {
			ids[i] = randomID()
		}

		a, b := NewTree(), NewTree()
		for i := range ids {
			a.Add(ids[i])
			b.Add(ids[len(ids)-1-i])
		}
		// churn b so its maps have seen deletes.
		for _, id := range ids[:100] {
			b.Remove(id)
		}
		for _, id := range ids[:100] {
			b.Add(id)
		}

		d1, err := a.Digest()
		assert.NoError(t, err)
		d2, err := b.Digest()
		assert.NoError(t, err)
		assert.Equal(t, d1, d2)

		b.Remove(ids[0])
		d3, err := b.Digest()
		assert.NoError(t, err)
		assert.That(t, d1 != d3)
	})

	t.Run("TreeInvalid", func(t *testing.T) {
		tr := NewTree()
		tr.Add(0x010203)
		snap := tr.Snapshot()
		delete(snap.Level1, 0x01)

		_, err := RestoreTree(snap)
		assert.That(t, InvariantError.Has(err))

		data, err := cbor.Marshal(snap)
		assert.NoError(t, err)
		assert.Error(t, NewTree().UnmarshalCBOR(data))
	})

	t.Run("TreeZeroWords", func(t *testing.T) {
		snap := NewTree().Snapshot()
		snap.Level2 = map[uint16][32]byte{7: {}}

		tr, err := RestoreTree(snap)
		assert.NoError(t, err)
		assert.That(t, tr.Empty())
	})

	t.Run("Oracle", func(t *testing.T) {
		o, err := NewOracle(NewMemStore(), Options{Length: 16})
		assert.NoError(t, err)

		now := uint64(5000)
		for n := 0; n < 300; n++ {
			delta := uint64(pcg.Uint32n(100))
			now += delta
			record(t, o, at(trade, now, delta, pcg.Uint32n(1<<24)))
		}

		snap, err := o.Snapshot()
		assert.NoError(t, err)
		assert.Equal(t, len(snap.Samples), int(o.Cursor().Size))

		restored, err := RestoreOracle(NewMemStore(), snap)
		assert.NoError(t, err)
		assert.Equal(t, restored.Cursor(), o.Cursor())
		assert.Equal(t, restored.Options(), o.Options())

		d1, err := o.Digest()
		assert.NoError(t, err)
		d2, err := restored.Digest()
		assert.NoError(t, err)
		assert.Equal(t, d1, d2)

		// both keep going the same way.
		sw := at(trade, now+500, 500, 42)
		assert.Equal(t, record(t, restored, sw), record(t, o, sw))
		d1, _ = o.Digest()
		d2, _ = restored.Digest()
		assert.Equal(t, d1, d2)
	})

	t.Run("OracleInvalid", func(t *testing.T) {
		o := newOracle(t, newMemStore, 4)
		record(t, o, at(trade, 1000, 0, 1))
		snap, err := o.Snapshot()
		assert.NoError(t, err)

		// restoring twice into the same store fails.
		store := NewMemStore()
		_, err = RestoreOracle(store, snap)
		assert.NoError(t, err)
		_, err = RestoreOracle(store, snap)
		assert.That(t, StorageError.Has(err))

		bad := snap
		bad.Active = 3
		_, err = RestoreOracle(NewMemStore(), bad)
		assert.That(t, RangeError.Has(err))

		bad = snap
		bad.Samples = map[uint16][]byte{2: snap.Samples[1]}
		_, err = RestoreOracle(NewMemStore(), bad)
		assert.That(t, RangeError.Has(err))
	})
}
