package sqlstore

import (
	"path/filepath"
	"testing"

	"github.com/zeebo/assert"
	"github.com/zeebo/pcg"

	"github.com/securesecrets/lbcore"
)

func newStore(t *testing.T) *Store {
	s, err := Open(":memory:")
	assert.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func randomSwap(now, delta uint64) lbcore.Swap {
	sw := lbcore.Swap{
		Now:                   now,
		DeltaTime:             delta,
		ActiveID:              pcg.Uint32n(lbcore.MaxBinID + 1),
		VolatilityAccumulator: pcg.Uint32n(1 << 20),
		BinCrossed:            pcg.Uint32n(16),
	}
	if pcg.Uint32n(3) != 0 {
		sw.Volume = lbcore.PackUint64s(pcg.Uint64(), pcg.Uint64())
		sw.Fee = lbcore.PackUint64s(1+pcg.Uint64()%1000, 0)
	}
	return sw
}

func TestOracle(t *testing.T) {
	t.Run("Basic", func(t *testing.T) {
		s := newStore(t)

		c, err := s.Oracle("a").Cursor()
		assert.NoError(t, err)
		assert.Equal(t, c, lbcore.Cursor{})

		_, ok, err := s.Oracle("a").Load(1)
		assert.NoError(t, err)
		assert.That(t, !ok)

		sample := lbcore.EncodeSample(3, 1000, 2000, 3000, 4, 123456,
			lbcore.PackUint64s(1, 2), lbcore.PackUint64s(3, 4))
		assert.NoError(t, s.Oracle("a").Commit(1, sample, lbcore.Cursor{Active: 1, Size: 1}))

		got, ok, err := s.Oracle("a").Load(1)
		assert.NoError(t, err)
		assert.That(t, ok)
		assert.Equal(t, got, sample)

		c, err = s.Oracle("a").Cursor()
		assert.NoError(t, err)
		assert.Equal(t, c, lbcore.Cursor{Active: 1, Size: 1})

		// pairs do not see each other.
		_, ok, err = s.Oracle("b").Load(1)
		assert.NoError(t, err)
		assert.That(t, !ok)
	})

	t.Run("Fuzz", func(t *testing.T) {
		s := newStore(t)

		o, err := lbcore.NewOracle(s.Oracle("pair"), lbcore.Options{Length: 8})
		assert.NoError(t, err)
		ref, err := lbcore.NewOracle(lbcore.NewMemStore(), lbcore.Options{Length: 8})
		assert.NoError(t, err)

		now := uint64(1_000_000)
		for n := 0; n < 500; n++ {
			delta := uint64(pcg.Uint32n(150))
			now += delta
			sw := randomSwap(now, delta)

			id, err := o.RecordSwap(sw)
			assert.NoError(t, err)
			want, err := ref.RecordSwap(sw)
			assert.NoError(t, err)
			assert.Equal(t, id, want)
		}

		d1, err := o.Digest()
		assert.NoError(t, err)
		d2, err := ref.Digest()
		assert.NoError(t, err)
		assert.Equal(t, d1, d2)

		samples, _, err := o.SamplesAfter(0, 0)
		assert.NoError(t, err)
		assert.Equal(t, len(samples), 8)
	})

	t.Run("Reopen", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "lb.db")

		s, err := Open(path)
		assert.NoError(t, err)
		o, err := lbcore.NewOracle(s.Oracle("pair"), lbcore.Options{})
		assert.NoError(t, err)
		for k := uint64(0); k < 10; k++ {
			_, err := o.RecordSwap(randomSwap(1000+60*k, 60))
			assert.NoError(t, err)
		}
		want, err := o.Digest()
		assert.NoError(t, err)
		assert.NoError(t, s.Close())

		s, err = Open(path)
		assert.NoError(t, err)
		defer s.Close()

		o, err = lbcore.NewOracle(s.Oracle("pair"), lbcore.Options{})
		assert.NoError(t, err)
		got, err := o.Digest()
		assert.NoError(t, err)
		assert.Equal(t, got, want)

		pairs, err := s.Pairs()
		assert.NoError(t, err)
		assert.Equal(t, len(pairs), 1)
		assert.Equal(t, pairs[0], "pair")
	})
}

func TestTree(t *testing.T) {
	t.Run("Basic", func(t *testing.T) {
		s := newStore(t)

		tr, err := s.LoadTree("a")
		assert.NoError(t, err)
		assert.That(t, tr.Empty())

		for i := 0; i < 2000; i++ {
			tr.Add(pcg.Uint32n(1 << 12))
			tr.Add(pcg.Uint32n(lbcore.MaxBinID + 1))
		}
		assert.NoError(t, s.SaveTree("a", tr))

		got, err := s.LoadTree("a")
		assert.NoError(t, err)
		assert.Equal(t, got.Len(), tr.Len())

		d1, err := tr.Digest()
		assert.NoError(t, err)
		d2, err := got.Digest()
		assert.NoError(t, err)
		assert.Equal(t, d1, d2)

		// saving again replaces the old words.
		var even []uint32
		for it := tr.Iter(); it.Next(); {
			if it.ID()%2 == 0 {
				even = append(even, it.ID())
			}
		}
		for _, id := range even {
			tr.Remove(id)
		}
		assert.NoError(t, s.SaveTree("a", tr))
		got, err = s.LoadTree("a")
		assert.NoError(t, err)
		assert.Equal(t, got.Len(), tr.Len())
		assert.NoError(t, got.Verify())

		other, err := s.LoadTree("b")
		assert.NoError(t, err)
		assert.That(t, other.Empty())

		pairs, err := s.Pairs()
		assert.NoError(t, err)
		assert.Equal(t, len(pairs), 1)
	})

	t.Run("Corrupt", func(t *testing.T) {
		s := newStore(t)

		tr := lbcore.NewTree()
		tr.Add(0x010203)
		assert.NoError(t, s.SaveTree("a", tr))

		_, err := s.db.Exec(`DELETE FROM tree_words WHERE pair = 'a' AND level = 1`)
		assert.NoError(t, err)
		_, err = s.LoadTree("a")
		assert.That(t, lbcore.InvariantError.Has(err))

		_, err = s.db.Exec(`INSERT INTO tree_words (pair, level, key, word) VALUES ('a', 3, 0, x'00')`)
		assert.NoError(t, err)
		_, err = s.LoadTree("a")
		assert.That(t, Error.Has(err))
	})
}
