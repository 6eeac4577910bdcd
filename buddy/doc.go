// Package buddy implements a binary buddy allocator over a single caller-supplied arena.
//
// Every byte of bookkeeping lives inside the arena. The arena is split into a usable region,
// which is the largest power of two that fits in front of the metadata, and a metadata region at
// the tail that holds the allocator state and one free list sentinel per order:
//
//	0                                   usableSize         len(arena)-metadataSize   len(arena)
//	| t |  32  | t |  64  | t |   128   |   ...   | (slack) | state | sentinel[0..m] |
//
// Each block begins with a one byte tag holding its free flag and its order. A free block reuses
// the bytes after its tag as the next and prev links of its order's circular free list. All links
// are byte offsets into the arena stored little-endian, so an arena backed by a file can be
// reattached later with Attach.
//
// The allocator is not synchronized. Callers that share an Allocator between goroutines must
// serialize access themselves.
package buddy
