package buddy

import (
	"github.com/cockroachdb/errors"
)

// VisitAllRegions calls handleBlock once for every block in the usable region, free or allocated,
// in address order. handle is the payload handle for allocated blocks and NoHandle for free ones.
// Iteration stops at the first error returned by handleBlock, which is passed back to the caller.
func (a *Allocator) VisitAllRegions(handleBlock func(handle int, offset int, size int, free bool) error) error {
	if a.destroyed {
		return ErrDestroyed
	}

	for offset := 0; offset < a.usableSize; {
		t := a.tagAt(offset)
		if t.order() > a.maxOrder {
			return errors.Errorf("block at offset %d has order %d, above the maximum of %d", offset, t.order(), a.maxOrder)
		}

		size := BlockSize(int(t.order()))
		handle := NoHandle
		if !t.free() {
			handle = offset + TagSize
		}

		err := handleBlock(handle, offset, size, t.free())
		if err != nil {
			return err
		}

		offset += size
	}

	return nil
}

// Validate performs internal consistency checks on the arena: the blocks must tile the usable
// region with each block aligned to its size, every free block must be threaded through exactly
// the free list of its order, no two free buddies of the same order may be left unmerged, and the
// allocation counters in the header must agree with the blocks found. It walks the whole arena and
// is meant for tests and diagnostics.
func (a *Allocator) Validate() error {
	if a.destroyed {
		return ErrDestroyed
	}

	s := a.loadState()
	if s.magic != stateMagic || s.maxOrder != a.maxOrder || s.usableSize != uint64(a.usableSize) {
		return errors.New("arena header does not match the allocator's geometry")
	}

	var freeCounts [MaxOrders]int
	var allocCount, allocBytes int

	err := a.VisitAllRegions(func(handle int, offset int, size int, free bool) error {
		if offset&(size-1) != 0 {
			return errors.Errorf("block at offset %d is not aligned to its size of %d", offset, size)
		}
		if offset+size > a.usableSize {
			return errors.Errorf("block at offset %d of size %d runs past the usable region", offset, size)
		}

		order := a.tagAt(offset).order()
		if !free {
			allocCount++
			allocBytes += size
			return nil
		}

		freeCounts[order]++
		if order < a.maxOrder {
			buddyTag := a.tagAt(buddyOf(offset, order))
			if buddyTag.free() && buddyTag.order() == order {
				return errors.Errorf("free block at offset %d and its buddy were not merged at order %d", offset, order)
			}
		}

		return nil
	})
	if err != nil {
		return err
	}

	maxListLen := a.usableSize/MinBlockSize + 1
	for order := 0; order <= int(a.maxOrder); order++ {
		head := a.sentinel(uint8(order))
		listLen := 0
		prev := head

		for node := a.next(head); node != head; node = a.next(node) {
			if node < 0 || node >= a.usableSize || node&(MinBlockSize-1) != 0 {
				return errors.Errorf("free list of order %d links to offset %d, which is not a block", order, node)
			}
			if a.prev(node) != prev {
				return errors.Errorf("block at offset %d lists the node at offset %d as its previous node, but the reverse reference is broken", node, prev)
			}

			t := a.tagAt(node)
			if !t.free() {
				return errors.Errorf("block at offset %d is in the free list of order %d but is not free", node, order)
			}
			if int(t.order()) != order {
				return errors.Errorf("block at offset %d is in the free list of order %d but has order %d", node, order, t.order())
			}

			listLen++
			if listLen > maxListLen {
				return errors.Errorf("free list of order %d does not cycle back to its sentinel", order)
			}
			prev = node
		}

		if a.prev(head) != prev {
			return errors.Errorf("sentinel of order %d does not point back to the last node of its list", order)
		}

		if listLen != freeCounts[order] {
			return errors.Errorf("the free list of order %d holds %d blocks, but %d free blocks of that order were found in the arena",
				order, listLen, freeCounts[order])
		}
	}

	if uint64(allocCount) != s.allocCount {
		return errors.Errorf("the allocation count of the arena is %d, but the allocated blocks only added up to %d", s.allocCount, allocCount)
	}

	if uint64(allocBytes) != s.allocBytes {
		return errors.Errorf("the allocated size of the arena is %d, but the allocated blocks only added up to %d", s.allocBytes, allocBytes)
	}

	return nil
}

// FreeBlockCount returns the number of blocks in the free list of order. Orders outside
// 0..MaxOrder have no free blocks.
func (a *Allocator) FreeBlockCount(order int) int {
	if a.destroyed || order < 0 || order > int(a.maxOrder) {
		return 0
	}

	return a.freeListLen(uint8(order))
}

// AllocationCount returns the number of live allocations
func (a *Allocator) AllocationCount() int {
	if a.destroyed {
		return 0
	}
	return int(a.loadState().allocCount)
}

// SumFreeSize returns the number of bytes of the usable region that are not in an allocated block
func (a *Allocator) SumFreeSize() int {
	if a.destroyed {
		return 0
	}
	return a.usableSize - int(a.loadState().allocBytes)
}

// IsEmpty returns true if the allocator has no live allocations
func (a *Allocator) IsEmpty() bool {
	return a.AllocationCount() == 0
}
