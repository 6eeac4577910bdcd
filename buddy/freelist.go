package buddy

import "fmt"

// The free list table is a run of sentinel nodes in the metadata region, one per order. Each
// sentinel anchors a circular doubly linked list threaded through the free blocks of that order.

func (a *Allocator) sentinel(order uint8) int {
	return a.metadataOffset + stateSize + int(order)*nodeSize
}

func (a *Allocator) initFreeLists() {
	for order := 0; order <= int(a.maxOrder); order++ {
		s := a.sentinel(uint8(order))
		a.arena[s] = 0
		a.setNext(s, s)
		a.setPrev(s, s)
	}
}

func (a *Allocator) isEmpty(order uint8) bool {
	s := a.sentinel(order)
	return a.next(s) == s
}

func (a *Allocator) pushFront(order uint8, block int) {
	head := a.sentinel(order)
	first := a.next(head)

	a.setNext(block, first)
	a.setPrev(first, block)
	a.setPrev(block, head)
	a.setNext(head, block)
}

func (a *Allocator) popFront(order uint8) int {
	if a.isEmpty(order) {
		panic(fmt.Sprintf("attempted to pop from the empty free list of order %d", order))
	}

	block := a.next(a.sentinel(order))
	a.remove(block)
	return block
}

// remove detaches a node from whichever list it is threaded through
func (a *Allocator) remove(block int) {
	next := a.next(block)
	prev := a.prev(block)

	a.setPrev(next, prev)
	a.setNext(prev, next)
}

// freeListLen walks the list for order and returns the number of blocks in it
func (a *Allocator) freeListLen(order uint8) int {
	s := a.sentinel(order)
	count := 0
	for node := a.next(s); node != s; node = a.next(node) {
		count++
	}
	return count
}
