package buddy

import "github.com/vkngwrapper/buddyalloc/memutils"

// reserve takes the first free block at or above order, halving it until it is exactly order.
// Each halving donates the upper half to the free list one order down. It returns the offset of
// the reserved block, or false if no list at or above order has a free block.
func (a *Allocator) reserve(order uint8) (int, bool) {
	memutils.DebugValidate(a)

	j := order
	for ; j <= a.maxOrder; j++ {
		if !a.isEmpty(j) {
			break
		}
	}

	if j > a.maxOrder {
		return 0, false
	}

	block := a.popFront(j)
	a.setTag(block, newTag(false, j))

	for j > order {
		j--

		upper := buddyOf(block, j)
		a.setTag(upper, newTag(true, j))
		a.pushFront(j, upper)
	}

	a.setTag(block, newTag(false, order))
	return block, true
}
