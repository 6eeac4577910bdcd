//go:build !linux && !darwin && !freebsd

package arena

import (
	"io"
	"os"

	"github.com/bytedance/gopkg/lang/dirtmake"
	"github.com/cockroachdb/errors"
)

// Mapping is a region standing in for a memory mapping on platforms without mmap. File regions
// are read into memory and written back by Sync and Close.
type Mapping struct {
	data []byte
	f    *os.File
}

// Anonymous allocates size zeroed bytes on the Go heap
func Anonymous(size int) (*Mapping, error) {
	if size <= 0 {
		return nil, errors.Wrapf(ErrInvalidSize, "requested %d bytes", size)
	}

	return &Mapping{data: make([]byte, size)}, nil
}

// File loads the file at path into memory. The file is created if it does not exist and extended
// with zeros if it is shorter than size. A size of zero loads the file at its current length,
// which must be positive.
func File(path string, size int) (*Mapping, error) {
	if size < 0 {
		return nil, errors.Wrapf(ErrInvalidSize, "requested %d bytes", size)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, errors.Wrap(err, "arena: open failed")
	}

	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, errors.Wrap(err, "arena: stat failed")
	}

	if size == 0 {
		size = int(st.Size())
		if size == 0 {
			_ = f.Close()
			return nil, errors.Wrapf(ErrInvalidSize, "%s is empty", path)
		}
	} else if st.Size() < int64(size) {
		if err := f.Truncate(int64(size)); err != nil {
			_ = f.Close()
			return nil, errors.Wrapf(err, "arena: failed to extend %s to %d bytes", path, size)
		}
	}

	data := dirtmake.Bytes(size, size)
	if _, err := io.ReadFull(f, data); err != nil {
		_ = f.Close()
		return nil, errors.Wrapf(err, "arena: failed to read %s", path)
	}

	return &Mapping{data: data, f: f}, nil
}

func (m *Mapping) Bytes() []byte { return m.data }

// Sync writes a file region back to its file. It does nothing for anonymous regions.
func (m *Mapping) Sync() error {
	if m.data == nil {
		return ErrClosed
	}
	if m.f == nil {
		return nil
	}

	if _, err := m.f.WriteAt(m.data, 0); err != nil {
		return errors.Wrap(err, "arena: write back failed")
	}
	return errors.Wrap(m.f.Sync(), "arena: fsync failed")
}

// Close releases the region and closes its file, if any. File regions are synced first.
func (m *Mapping) Close() error {
	if m.data == nil {
		return ErrClosed
	}

	var err error
	if m.f != nil {
		err = m.Sync()
		if closeErr := m.f.Close(); closeErr != nil && err == nil {
			err = errors.Wrap(closeErr, "arena: close failed")
		}
		m.f = nil
	}
	m.data = nil

	return err
}
