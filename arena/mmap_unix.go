//go:build linux || darwin || freebsd

package arena

import (
	"os"

	"github.com/cockroachdb/errors"
	"golang.org/x/sys/unix"
)

// Mapping is a region backed by a memory mapping. File mappings are shared with the file, so
// writes reach it once Sync is called or the mapping is closed.
type Mapping struct {
	data []byte
	f    *os.File
}

// Anonymous maps size bytes of private zeroed memory. The kernel is told that access is random,
// which disables readahead for the mapping.
func Anonymous(size int) (*Mapping, error) {
	if size <= 0 {
		return nil, errors.Wrapf(ErrInvalidSize, "requested %d bytes", size)
	}

	data, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, errors.Wrapf(err, "arena: mmap of %d anonymous bytes failed", size)
	}

	// Advice is only a hint
	_ = unix.Madvise(data, unix.MADV_RANDOM)

	return &Mapping{data: data}, nil
}

// File maps the file at path read-write and shared. The file is created if it does not exist and
// extended with zeros if it is shorter than size. A size of zero maps the file at its current
// length, which must be positive.
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

	data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		_ = f.Close()
		return nil, errors.Wrapf(err, "arena: mmap of %s failed", path)
	}

	_ = unix.Madvise(data, unix.MADV_RANDOM)

	return &Mapping{data: data, f: f}, nil
}

func (m *Mapping) Bytes() []byte { return m.data }

// Sync flushes a file mapping to disk. It does nothing for anonymous mappings.
func (m *Mapping) Sync() error {
	if m.data == nil {
		return ErrClosed
	}
	if m.f == nil {
		return nil
	}

	return errors.Wrap(unix.Msync(m.data, unix.MS_SYNC), "arena: msync failed")
}

// Close unmaps the region and closes its file, if any. File mappings are synced first.
func (m *Mapping) Close() error {
	if m.data == nil {
		return ErrClosed
	}

	var err error
	if m.f != nil {
		err = m.Sync()
	}

	if unmapErr := unix.Munmap(m.data); unmapErr != nil && err == nil {
		err = errors.Wrap(unmapErr, "arena: munmap failed")
	}
	m.data = nil

	if m.f != nil {
		if closeErr := m.f.Close(); closeErr != nil && err == nil {
			err = errors.Wrap(closeErr, "arena: close failed")
		}
		m.f = nil
	}

	return err
}
