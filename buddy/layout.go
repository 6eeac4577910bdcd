package buddy

import (
	"encoding/binary"

	"github.com/vkngwrapper/buddyalloc/memutils"
)

const (
	// TagSize is the number of bytes at the start of every block reserved for the block's tag.
	// Payload handles point immediately past it.
	TagSize = 1

	// MinBlockSize is the size in bytes of an order 0 block. It is the smallest power of two
	// able to hold a tag followed by the two free list links.
	MinBlockSize = 32

	// MaxOrders is the number of orders the 7-bit order field of a tag can express.
	MaxOrders = 128

	// NoHandle is the null payload handle. Alloc returns it on failure and Free ignores it.
	NoHandle = -1

	minOrder = 5

	linkSize   = 8
	nextOffset = 8
	prevOffset = nextOffset + linkSize
	nodeSize   = prevOffset + linkSize

	stateMagic   uint32 = 0x59445542 // "BUDY"
	stateVersion uint16 = 1
	stateSize           = 48
)

// tag is the in-place header of a block: bit 7 is the free flag and bits 0-6 hold the order
type tag uint8

const (
	tagFree      tag = 0x80
	tagOrderMask tag = 0x7f
)

func newTag(free bool, order uint8) tag {
	t := tag(order) & tagOrderMask
	if free {
		t |= tagFree
	}
	return t
}

func (t tag) free() bool {
	return t&tagFree != 0
}

func (t tag) order() uint8 {
	return uint8(t & tagOrderMask)
}

// state is the allocator header stored at the start of the metadata region.
//
//	0  magic        uint32
//	4  version      uint16
//	6  minOrder     uint8
//	7  maxOrder     uint8
//	8  arenaSize    uint64
//	16 usableSize   uint64
//	24 metadataSize uint64
//	32 allocCount   uint64
//	40 allocBytes   uint64
type state struct {
	magic        uint32
	version      uint16
	minOrder     uint8
	maxOrder     uint8
	arenaSize    uint64
	usableSize   uint64
	metadataSize uint64
	allocCount   uint64
	allocBytes   uint64
}

func (s *state) encode(b []byte) {
	_ = b[stateSize-1]
	binary.LittleEndian.PutUint32(b[0:], s.magic)
	binary.LittleEndian.PutUint16(b[4:], s.version)
	b[6] = s.minOrder
	b[7] = s.maxOrder
	binary.LittleEndian.PutUint64(b[8:], s.arenaSize)
	binary.LittleEndian.PutUint64(b[16:], s.usableSize)
	binary.LittleEndian.PutUint64(b[24:], s.metadataSize)
	binary.LittleEndian.PutUint64(b[32:], s.allocCount)
	binary.LittleEndian.PutUint64(b[40:], s.allocBytes)
}

func (s *state) decode(b []byte) {
	_ = b[stateSize-1]
	s.magic = binary.LittleEndian.Uint32(b[0:])
	s.version = binary.LittleEndian.Uint16(b[4:])
	s.minOrder = b[6]
	s.maxOrder = b[7]
	s.arenaSize = binary.LittleEndian.Uint64(b[8:])
	s.usableSize = binary.LittleEndian.Uint64(b[16:])
	s.metadataSize = binary.LittleEndian.Uint64(b[24:])
	s.allocCount = binary.LittleEndian.Uint64(b[32:])
	s.allocBytes = binary.LittleEndian.Uint64(b[40:])
}

// geometry describes how an arena of a given length is carved up
type geometry struct {
	arenaSize      int
	usableSize     int
	metadataOffset int
	metadataSize   int
	maxOrder       uint8
}

// computeGeometry sizes the metadata region from the provisional order range of the whole arena,
// then recomputes the top order against what is left once the metadata is carved off. The
// metadata keeps its provisional size, so it may hold a few sentinels more than are used.
func computeGeometry(arenaSize int) (geometry, bool) {
	provisional := memutils.Log2(arenaSize)
	if provisional < minOrder {
		return geometry{}, false
	}

	metadataSize := stateSize + (provisional-minOrder+1)*nodeSize
	if arenaSize < metadataSize+MinBlockSize {
		return geometry{}, false
	}

	maxAbsOrder := memutils.Log2(arenaSize - metadataSize)
	m := maxAbsOrder - minOrder
	if m >= MaxOrders {
		m = MaxOrders - 1
		maxAbsOrder = m + minOrder
	}

	return geometry{
		arenaSize:      arenaSize,
		usableSize:     1 << maxAbsOrder,
		metadataOffset: arenaSize - metadataSize,
		metadataSize:   metadataSize,
		maxOrder:       uint8(m),
	}, true
}

func (a *Allocator) tagAt(block int) tag {
	memutils.DebugCheckBounds(block, TagSize, a.usableSize, "block tag")
	return tag(a.arena[block])
}

func (a *Allocator) setTag(block int, t tag) {
	memutils.DebugCheckBounds(block, TagSize, a.usableSize, "block tag")
	a.arena[block] = byte(t)
}

func (a *Allocator) next(node int) int {
	memutils.DebugCheckBounds(node+nextOffset, linkSize, len(a.arena), "next link")
	return int(binary.LittleEndian.Uint64(a.arena[node+nextOffset:]))
}

func (a *Allocator) prev(node int) int {
	memutils.DebugCheckBounds(node+prevOffset, linkSize, len(a.arena), "prev link")
	return int(binary.LittleEndian.Uint64(a.arena[node+prevOffset:]))
}

func (a *Allocator) setNext(node, target int) {
	memutils.DebugCheckBounds(node+nextOffset, linkSize, len(a.arena), "next link")
	binary.LittleEndian.PutUint64(a.arena[node+nextOffset:], uint64(target))
}

func (a *Allocator) setPrev(node, target int) {
	memutils.DebugCheckBounds(node+prevOffset, linkSize, len(a.arena), "prev link")
	binary.LittleEndian.PutUint64(a.arena[node+prevOffset:], uint64(target))
}

func (a *Allocator) stateBytes() []byte {
	return a.arena[a.metadataOffset : a.metadataOffset+stateSize]
}

func (a *Allocator) loadState() state {
	var s state
	s.decode(a.stateBytes())
	return s
}

// addAllocation adjusts the live allocation counters in the arena header
func (a *Allocator) addAllocation(count, bytes int) {
	b := a.stateBytes()
	binary.LittleEndian.PutUint64(b[32:], uint64(int(binary.LittleEndian.Uint64(b[32:]))+count))
	binary.LittleEndian.PutUint64(b[40:], uint64(int(binary.LittleEndian.Uint64(b[40:]))+bytes))
}
