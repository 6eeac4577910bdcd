package buddy

// release returns an allocated block to the pool, merging it with its buddy for as long as the
// buddy is a whole free block of the same order. The merged block is identified by its lower
// half. The loop runs at most maxOrder - order times.
func (a *Allocator) release(block int) uint8 {
	order := a.tagAt(block).order()

	for order < a.maxOrder {
		buddy := buddyOf(block, order)
		buddyTag := a.tagAt(buddy)
		if !buddyTag.free() || buddyTag.order() != order {
			break
		}

		a.remove(buddy)

		if buddy < block {
			// The upper half is now interior to the merged block. Leave it marked free so a
			// stale tag there never reads as a live allocation.
			a.setTag(block, newTag(true, order))
			block = buddy
		}
		order++
	}

	a.setTag(block, newTag(true, order))
	a.pushFront(order, block)
	return order
}
