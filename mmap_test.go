package lbcore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/zeebo/assert"
)

func newFileStore(t *testing.T, length uint16) Store {
	fh, err := os.CreateTemp(t.TempDir(), "oracle")
	assert.NoError(t, err)
	t.Cleanup(func() { _ = fh.Close() })

	fs, err := OpenFileStore(fh, length)
	assert.NoError(t, err)
	t.Cleanup(func() { _ = fs.Close() })
	return fs
}

func TestFileStore(t *testing.T) {
	t.Run("Oracle", func(t *testing.T) {
		testOracle(t, newFileStore)
	})

	t.Run("Persist", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "oracle")
		fh, err := os.Create(path)
		assert.NoError(t, err)

		fs, err := OpenFileStore(fh, 8)
		assert.NoError(t, err)
		o, err := NewOracle(fs, Options{Length: 8})
		assert.NoError(t, err)
		for k := uint64(0); k < 12; k++ {
			record(t, o, at(trade, 1000+121*k, 121, uint32(k)))
		}
		want, err := o.Digest()
		assert.NoError(t, err)

		assert.NoError(t, fs.Close())
		assert.NoError(t, fh.Close())

		fh, err = os.OpenFile(path, os.O_RDWR, 0)
		assert.NoError(t, err)
		defer fh.Close()

		fs, err = OpenFileStore(fh, 8)
		assert.NoError(t, err)
		defer fs.Close()

		o, err = NewOracle(fs, Options{Length: 8})
		assert.NoError(t, err)
		assert.Equal(t, o.Cursor(), Cursor{Active: 4, Size: 8})

		got, err := o.Digest()
		assert.NoError(t, err)
		assert.Equal(t, got, want)
	})

	t.Run("Mismatch", func(t *testing.T) {
		fh, err := os.CreateTemp(t.TempDir(), "oracle")
		assert.NoError(t, err)
		defer fh.Close()

		fs, err := OpenFileStore(fh, 8)
		assert.NoError(t, err)
		assert.NoError(t, fs.Close())

		// 8 and 9 records round to the same page.
		_, err = OpenFileStore(fh, 9)
		assert.That(t, StorageError.Has(err))

		_, err = OpenFileStore(fh, 1000)
		assert.That(t, StorageError.Has(err))
	})

	t.Run("Closed", func(t *testing.T) {
		fs := newFileStore(t, 8).(*FileStore)
		assert.NoError(t, fs.Close())
		assert.NoError(t, fs.Close())

		_, err := fs.Cursor()
		assert.That(t, StorageError.Has(err))
		assert.That(t, StorageError.Has(fs.Commit(1, Sample{}, Cursor{1, 1})))
	})
}
