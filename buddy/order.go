package buddy

import "github.com/vkngwrapper/buddyalloc/memutils"

// OrderForSize returns the smallest order whose blocks can hold size payload bytes plus the
// block tag. The result may exceed an allocator's MaxOrder, in which case the request cannot be
// satisfied by that allocator.
func OrderForSize(size int) int {
	size += TagSize
	if size < MinBlockSize {
		size = MinBlockSize
	}

	return memutils.Log2(memutils.NextPow2(size)) - minOrder
}

// BlockSize returns the size in bytes of a block of the provided order
func BlockSize(order int) int {
	return MinBlockSize << order
}

// buddyOf returns the offset of the sibling of the order-aligned block at offset. Offsets are
// relative to the usable region, which starts at the beginning of the arena.
func buddyOf(offset int, order uint8) int {
	return offset ^ (1 << (minOrder + uint(order)))
}
