package lbcore

import (
	"encoding/binary"
	"os"

	"github.com/zeebo/errs"
	"github.com/zeebo/mon"
	"golang.org/x/sys/unix"
)

// file layout
//
//	header (32 bytes)
//	  0-4    magic "LBOR"
//	  4-6    length
//	  6-8    cursor active
//	  8-10   cursor size
//	  10-32  reserved
//	records (length many, 128 bytes each, record i holds oracle id i+1)
//	  0-96   sample
//	  96     1 if written
//	  97-128 reserved
const (
	fileMagic      = "LBOR"
	fileHeaderSize = 32
	fileRecordSize = 128
)

// FileStore is a Store backed by a memory mapped file of fixed size records.
// Writes go to the mapping and reach the file when the kernel flushes it or
// Sync is called.
type FileStore struct {
	fh     *os.File
	buf    []byte
	length uint16
}

var commitThunk mon.Thunk

// OpenFileStore maps fh as a store for an oracle of the given length. An
// empty file is sized and initialized. A non-empty file must have been
// created with the same length.
func OpenFileStore(fh *os.File, length uint16) (_ *FileStore, err error) {
	defer mon.Start().Stop(&err)

	if length == 0 {
		length = DefaultOracleLength
	}

	// round the size up to the next page
	pageSize := int64(unix.Getpagesize())
	size := int64(fileHeaderSize + int(length)*fileRecordSize)
	size = (size + pageSize - 1) / pageSize * pageSize

	info, err := fh.Stat()
	if err != nil {
		return nil, StorageError.Wrap(err)
	}

	fresh := info.Size() == 0
	if fresh {
		if err := fh.Truncate(size); err != nil {
			return nil, StorageError.Wrap(err)
		}
	} else if info.Size() != size {
		return nil, StorageError.New("file is %d bytes, want %d for length %d",
			info.Size(), size, length)
	}

	buf, err := unix.Mmap(int(fh.Fd()), 0, int(size),
		unix.PROT_WRITE|unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, StorageError.Wrap(err)
	}

	f := &FileStore{fh: fh, buf: buf, length: length}
	if fresh {
		copy(buf[0:4], fileMagic)
		binary.LittleEndian.PutUint16(buf[4:6], length)
		return f, nil
	}

	if string(buf[0:4]) != fileMagic {
		err = StorageError.New("bad magic %q", buf[0:4])
	} else if got := binary.LittleEndian.Uint16(buf[4:6]); got != length {
		err = StorageError.New("file holds length %d, want %d", got, length)
	}
	if err != nil {
		_ = unix.Munmap(buf)
		return nil, err
	}
	return f, nil
}

func (f *FileStore) record(id uint16) []byte {
	off := fileHeaderSize + (int(id)-1)*fileRecordSize
	return f.buf[off : off+fileRecordSize]
}

func (f *FileStore) Load(id uint16) (s Sample, ok bool, err error) {
	if f.buf == nil {
		return Sample{}, false, StorageError.New("store closed")
	}
	if id == 0 || id > f.length {
		return Sample{}, false, nil
	}
	rec := f.record(id)
	if rec[sampleSize] != 1 {
		return Sample{}, false, nil
	}
	if err := s.UnmarshalBinary(rec[:sampleSize]); err != nil {
		return Sample{}, false, errs.Wrap(err)
	}
	return s, true, nil
}

func (f *FileStore) Cursor() (Cursor, error) {
	if f.buf == nil {
		return Cursor{}, StorageError.New("store closed")
	}
	return Cursor{
		Active: binary.LittleEndian.Uint16(f.buf[6:8]),
		Size:   binary.LittleEndian.Uint16(f.buf[8:10]),
	}, nil
}

// Commit writes the record and then the cursor. Both live in the same
// mapping, so a failure can only happen before either is touched.
func (f *FileStore) Commit(id uint16, s Sample, c Cursor) (err error) {
	timer := commitThunk.Start()
	defer timer.Stop(&err)

	if f.buf == nil {
		return StorageError.New("store closed")
	}
	if id == 0 || id > f.length {
		return StorageError.New("oracle id %d outside [1, %d]", id, f.length)
	}

	rec := f.record(id)
	s.putBytes(rec[:sampleSize])
	rec[sampleSize] = 1

	binary.LittleEndian.PutUint16(f.buf[6:8], c.Active)
	binary.LittleEndian.PutUint16(f.buf[8:10], c.Size)
	return nil
}

// Sync flushes the mapping to the file.
func (f *FileStore) Sync() (err error) {
	defer mon.Start().Stop(&err)

	if f.buf == nil {
		return nil
	}
	return StorageError.Wrap(unix.Msync(f.buf, unix.MS_SYNC))
}

// Close syncs and unmaps the file. It does not close the file handle.
func (f *FileStore) Close() (err error) {
	if f.buf == nil {
		return nil
	}
	err = f.Sync()
	if uerr := unix.Munmap(f.buf); err == nil {
		err = StorageError.Wrap(uerr)
	}
	f.buf = nil
	return err
}
