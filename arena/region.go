// Package arena acquires the contiguous byte ranges that a buddy.Allocator manages. Regions can
// come from the Go heap, from an anonymous memory mapping, or from a file mapped shared so that
// the allocator's state survives the process.
package arena

import (
	"github.com/bytedance/gopkg/lang/dirtmake"
	"github.com/cockroachdb/errors"
)

var (
	// ErrInvalidSize is returned when a region of zero or negative size is requested.
	ErrInvalidSize = errors.New("arena: size must be positive")

	// ErrClosed is returned when a region is used after Close.
	ErrClosed = errors.New("arena: region is closed")
)

//go:generate mockgen -source region.go -destination ./mocks/mocks.go -package mock_arena

// Region is a contiguous range of memory that stays valid until Close is called
type Region interface {
	Bytes() []byte
	Close() error
}

// Source produces regions of a requested size
type Source interface {
	Acquire(size int) (Region, error)
}

var _ Region = &HeapRegion{}
var _ Region = &Mapping{}

// HeapRegion is a region allocated on the Go heap. Its contents are not zeroed.
type HeapRegion struct {
	data []byte
}

// Heap allocates a region of size bytes on the Go heap without clearing it
func Heap(size int) (*HeapRegion, error) {
	if size <= 0 {
		return nil, errors.Wrapf(ErrInvalidSize, "requested %d bytes", size)
	}

	return &HeapRegion{data: dirtmake.Bytes(size, size)}, nil
}

func (r *HeapRegion) Bytes() []byte { return r.data }

// Close drops the region's reference to its memory so the garbage collector can reclaim it
func (r *HeapRegion) Close() error {
	if r.data == nil {
		return ErrClosed
	}
	r.data = nil
	return nil
}

// HeapSource acquires regions with Heap
type HeapSource struct{}

func (HeapSource) Acquire(size int) (Region, error) {
	return Heap(size)
}

// AnonymousSource acquires regions with Anonymous
type AnonymousSource struct{}

func (AnonymousSource) Acquire(size int) (Region, error) {
	return Anonymous(size)
}

// FileSource acquires regions by mapping the file at Path with File
type FileSource struct {
	Path string
}

func (s FileSource) Acquire(size int) (Region, error) {
	return File(s.Path, size)
}
