package buddy

import (
	"context"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/buddyalloc/memutils"
	"golang.org/x/exp/slog"
)

// CreateOptions contains optional settings when creating or attaching an allocator
type CreateOptions struct {
	// Logger receives lifecycle and diagnostic messages. slog.Default() is used when it is nil.
	Logger *slog.Logger
}

// Allocator is a buddy allocator managing a caller-supplied arena. The arena must stay valid
// until Destroy has been called, and the caller remains responsible for releasing it afterward.
//
// All allocator state lives inside the arena; the Allocator itself only caches the arena's
// geometry.
type Allocator struct {
	geometry

	logger    *slog.Logger
	arena     []byte
	destroyed bool
}

var _ memutils.Validatable = &Allocator{}

// New lays out a fresh allocator over arena, discarding anything the arena previously held.
// The whole usable region starts out as a single free block of MaxOrder.
func New(arena []byte, options CreateOptions) (*Allocator, error) {
	geo, ok := computeGeometry(len(arena))
	if !ok {
		return nil, errors.Wrapf(ErrArenaTooSmall, "arena is %d bytes", len(arena))
	}

	a := newAllocator(arena, geo, options)
	memutils.DebugCheckPow2(a.usableSize, "usable size")

	s := state{
		magic:        stateMagic,
		version:      stateVersion,
		minOrder:     minOrder,
		maxOrder:     a.maxOrder,
		arenaSize:    uint64(a.arenaSize),
		usableSize:   uint64(a.usableSize),
		metadataSize: uint64(a.metadataSize),
	}
	s.encode(a.stateBytes())

	a.initFreeLists()
	a.setTag(0, newTag(true, a.maxOrder))
	a.pushFront(a.maxOrder, 0)

	a.logger.LogAttrs(context.Background(), slog.LevelDebug, "buddy: created allocator",
		slog.Int("arenaSize", a.arenaSize),
		slog.Int("usableSize", a.usableSize),
		slog.Int("metadataSize", a.metadataSize),
		slog.Int("maxOrder", int(a.maxOrder)),
	)

	return a, nil
}

// Attach rebuilds an allocator over an arena previously laid out by New, such as a file-backed
// mapping. The arena's allocations and free lists are used as they are found.
func Attach(arena []byte, options CreateOptions) (*Allocator, error) {
	geo, ok := computeGeometry(len(arena))
	if !ok {
		return nil, errors.Wrapf(ErrArenaTooSmall, "arena is %d bytes", len(arena))
	}

	a := newAllocator(arena, geo, options)
	s := a.loadState()

	switch {
	case s.magic != stateMagic:
		return nil, errors.Wrapf(ErrBadMetadata, "magic is %#x", s.magic)
	case s.version != stateVersion:
		return nil, errors.Wrapf(ErrBadMetadata, "unsupported version %d", s.version)
	case s.minOrder != minOrder || s.maxOrder != a.maxOrder:
		return nil, errors.Wrapf(ErrBadMetadata, "orders %d..%d do not match computed %d..%d",
			s.minOrder, s.maxOrder, minOrder, a.maxOrder)
	case s.arenaSize != uint64(a.arenaSize) || s.usableSize != uint64(a.usableSize) ||
		s.metadataSize != uint64(a.metadataSize):
		return nil, errors.Wrapf(ErrBadMetadata, "recorded sizes (%d, %d, %d) do not match arena layout (%d, %d, %d)",
			s.arenaSize, s.usableSize, s.metadataSize, a.arenaSize, a.usableSize, a.metadataSize)
	}

	a.logger.LogAttrs(context.Background(), slog.LevelDebug, "buddy: attached allocator",
		slog.Int("arenaSize", a.arenaSize),
		slog.Int("allocations", int(s.allocCount)),
	)

	return a, nil
}

func newAllocator(arena []byte, geo geometry, options CreateOptions) *Allocator {
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Allocator{
		geometry: geo,
		logger:   logger,
		arena:    arena,
	}
}

// Destroy ends the allocator's use of its arena. It does not release the arena, which remains
// owned by the caller. Calling Destroy on a nil allocator logs the mistake and returns
// ErrInvalidHandle. Allocations that are still live are logged but do not cause a failure.
func (a *Allocator) Destroy() error {
	if a == nil {
		slog.Default().LogAttrs(context.Background(), slog.LevelError, "buddy: Destroy called with a nil allocator")
		return ErrInvalidHandle
	}
	if a.destroyed {
		return ErrDestroyed
	}

	if !a.IsEmpty() {
		err := a.VisitAllRegions(func(handle int, offset int, size int, free bool) error {
			if free {
				return nil
			}

			a.logger.LogAttrs(context.Background(), slog.LevelError, "[UNRELEASED MEMORY] unfreed allocation",
				slog.Int("handle", handle),
				slog.Int("offset", offset),
				slog.Int("size", size),
			)
			return nil
		})
		if err != nil {
			a.logger.LogAttrs(context.Background(), slog.LevelError,
				"[UNRELEASED MEMORY] error while iterating unreleased memory",
				slog.Any("error", err))
		}
	}

	a.destroyed = true
	a.arena = nil
	return nil
}

// Destroy calls a.Destroy(). It exists so a nil allocator can be reported without a method call.
func Destroy(a *Allocator) error {
	return a.Destroy()
}

// Alloc reserves a block able to hold size bytes and returns the payload handle, which is the
// arena offset of the first payload byte. A size of zero or less is not an error: no block is
// reserved and ok is false. ok is also false when no free block is large enough.
func (a *Allocator) Alloc(size int) (handle int, ok bool) {
	if size <= 0 || a.destroyed {
		return NoHandle, false
	}

	order := OrderForSize(size)
	if order > int(a.maxOrder) {
		a.logger.LogAttrs(context.Background(), slog.LevelDebug, "buddy: allocation larger than arena",
			slog.Int("size", size),
			slog.Int("order", order),
		)
		return NoHandle, false
	}

	block, ok := a.reserve(uint8(order))
	if !ok {
		a.logger.LogAttrs(context.Background(), slog.LevelDebug, "buddy: out of memory",
			slog.Int("size", size),
			slog.Int("order", order),
		)
		return NoHandle, false
	}

	a.addAllocation(1, BlockSize(order))
	return block + TagSize, true
}

// AllocBytes is Alloc returning the payload as a slice of length size. The slice's capacity
// runs to the end of the block. It returns nil if the allocation could not be made.
func (a *Allocator) AllocBytes(size int) []byte {
	handle, ok := a.Alloc(size)
	if !ok {
		return nil
	}

	end := handle - TagSize + BlockSize(int(a.tagAt(handle-TagSize).order()))
	return a.arena[handle : handle+size : end]
}

// Free returns the allocation identified by handle to the pool. Freeing NoHandle is a no-op.
// Handles that do not refer to a live allocation, including handles that were already freed,
// are refused with ErrDoubleFreeOrInvalidPointer and leave the allocator untouched.
func (a *Allocator) Free(handle int) error {
	if handle == NoHandle {
		return nil
	}
	if a.destroyed {
		return ErrDestroyed
	}

	block, err := a.checkHandle(handle)
	if err != nil {
		return err
	}

	size := BlockSize(int(a.tagAt(block).order()))
	a.release(block)
	a.addAllocation(-1, -size)
	return nil
}

// FreeBytes frees an allocation made by AllocBytes. The slice must start at the first payload
// byte, though it may have been resliced to a different length or capacity. An empty slice with
// no capacity is a no-op.
func (a *Allocator) FreeBytes(b []byte) error {
	if cap(b) == 0 {
		return nil
	}
	if a.destroyed {
		return ErrDestroyed
	}

	handle, ok := a.handleOf(b)
	if !ok {
		return errors.Wrap(ErrDoubleFreeOrInvalidPointer, "slice does not point into the arena")
	}
	return a.Free(handle)
}

// Bytes returns the payload of a live allocation, running from the handle to the end of its block.
// It returns nil if handle does not refer to a live allocation.
func (a *Allocator) Bytes(handle int) []byte {
	if a.destroyed {
		return nil
	}

	block, err := a.checkHandle(handle)
	if err != nil {
		return nil
	}

	end := block + BlockSize(int(a.tagAt(block).order()))
	return a.arena[handle:end:end]
}

// checkHandle verifies that handle is the payload of an allocated block and returns the block's offset
func (a *Allocator) checkHandle(handle int) (int, error) {
	block := handle - TagSize
	if block < 0 || block >= a.usableSize || memutils.AlignDown(block, MinBlockSize) != block {
		return 0, errors.Wrapf(ErrDoubleFreeOrInvalidPointer, "handle %d is not a block payload", handle)
	}

	if !a.isBlockStart(block) {
		return 0, errors.Wrapf(ErrDoubleFreeOrInvalidPointer, "offset %d lies inside another block", block)
	}

	if a.tagAt(block).free() {
		return 0, errors.Wrapf(ErrDoubleFreeOrInvalidPointer, "block at offset %d is already free", block)
	}

	return block, nil
}

// isBlockStart reports whether a block currently begins at offset. Only tags at real block
// starts are read, descending from the top block toward offset, so stale tags left inside
// merged blocks and payload bytes that happen to look like tags are never trusted.
func (a *Allocator) isBlockStart(offset int) bool {
	pos, order := 0, a.maxOrder
	for {
		if a.tagAt(pos).order() == order {
			return pos == offset
		}
		if order == 0 {
			return false
		}

		order--
		if half := BlockSize(int(order)); offset >= pos+half {
			pos += half
		}
	}
}

func (a *Allocator) handleOf(b []byte) (int, bool) {
	if len(a.arena) == 0 {
		return 0, false
	}

	start := uintptr(unsafe.Pointer(unsafe.SliceData(a.arena)))
	ptr := uintptr(unsafe.Pointer(unsafe.SliceData(b)))
	if ptr < start || ptr >= start+uintptr(a.usableSize) {
		return 0, false
	}

	return int(ptr - start), true
}

// Arena returns the arena this allocator manages
func (a *Allocator) Arena() []byte { return a.arena }

// ArenaSize returns the length of the arena in bytes
func (a *Allocator) ArenaSize() int { return a.arenaSize }

// UsableSize returns the size in bytes of the usable region, which is the size of a MaxOrder block
func (a *Allocator) UsableSize() int { return a.usableSize }

// MetadataSize returns the size in bytes of the metadata region at the tail of the arena
func (a *Allocator) MetadataSize() int { return a.metadataSize }

// MaxOrder returns the order of the block that covers the whole usable region
func (a *Allocator) MaxOrder() int { return int(a.maxOrder) }

// MaxAllocationSize returns the largest size Alloc can ever satisfy
func (a *Allocator) MaxAllocationSize() int { return a.usableSize - TagSize }
