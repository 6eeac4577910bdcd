package buddy_test

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/buddyalloc/buddy"
	"github.com/vkngwrapper/buddyalloc/memutils"
	"golang.org/x/exp/slog"
)

func newAllocator(t *testing.T, size int) *buddy.Allocator {
	a, err := buddy.New(make([]byte, size), buddy.CreateOptions{})
	require.NoError(t, err)
	require.NoError(t, a.Validate())
	return a
}

func requireSingleTopBlock(t *testing.T, a *buddy.Allocator) {
	require.NoError(t, a.Validate())
	require.True(t, a.IsEmpty())
	require.Equal(t, 1, a.FreeBlockCount(a.MaxOrder()))
	for order := 0; order < a.MaxOrder(); order++ {
		require.Zero(t, a.FreeBlockCount(order), "order %d", order)
	}
	require.Equal(t, a.UsableSize(), a.SumFreeSize())
}

func TestOrderForSize(t *testing.T) {
	require.Equal(t, 0, buddy.OrderForSize(1))
	require.Equal(t, 0, buddy.OrderForSize(31))
	require.Equal(t, 1, buddy.OrderForSize(32))
	require.Equal(t, 1, buddy.OrderForSize(63))
	require.Equal(t, 2, buddy.OrderForSize(64))
	require.Equal(t, 14, buddy.OrderForSize(1<<18))

	for size := 1; size < 1<<16; size++ {
		order := buddy.OrderForSize(size)
		require.GreaterOrEqual(t, buddy.BlockSize(order), size+buddy.TagSize)
		if order > 0 {
			require.Less(t, buddy.BlockSize(order-1), size+buddy.TagSize)
		}
	}
}

func TestNewArenaTooSmall(t *testing.T) {
	for _, size := range []int{0, 16, 64, 100} {
		a, err := buddy.New(make([]byte, size), buddy.CreateOptions{})
		require.Nil(t, a)
		require.True(t, errors.Is(err, buddy.ErrArenaTooSmall), "size %d", size)
	}

	a := newAllocator(t, 200)
	require.Equal(t, 1, a.MaxOrder())
	require.Equal(t, 64, a.UsableSize())
	require.Equal(t, 120, a.MetadataSize())
}

func TestNewGeometry(t *testing.T) {
	a := newAllocator(t, 1<<20)
	require.Equal(t, 1<<20, a.ArenaSize())
	require.Equal(t, 1<<19, a.UsableSize())
	require.Equal(t, 432, a.MetadataSize())
	require.Equal(t, 14, a.MaxOrder())
	require.Equal(t, 1<<19-1, a.MaxAllocationSize())
	requireSingleTopBlock(t, a)
}

func TestAllocSplitsAndFreeMerges(t *testing.T) {
	a := newAllocator(t, 4096)

	handle, ok := a.Alloc(1)
	require.True(t, ok)
	require.Equal(t, 1, handle)
	require.NoError(t, a.Validate())

	for order := 0; order < a.MaxOrder(); order++ {
		require.Equal(t, 1, a.FreeBlockCount(order), "order %d", order)
	}
	require.Zero(t, a.FreeBlockCount(a.MaxOrder()))
	require.Equal(t, 1, a.AllocationCount())
	require.Equal(t, 2048-32, a.SumFreeSize())

	require.NoError(t, a.Free(handle))
	requireSingleTopBlock(t, a)
}

func TestAllocSequentialHandles(t *testing.T) {
	a := newAllocator(t, 4096)

	var handles []int
	for i := 0; i < 5; i++ {
		handle, ok := a.Alloc(100)
		require.True(t, ok)
		handles = append(handles, handle)
	}
	require.Equal(t, []int{1, 129, 257, 385, 513}, handles)
	require.NoError(t, a.Validate())

	require.Equal(t, []int{0, 0, 1, 1, 0, 1, 0}, []int{
		a.FreeBlockCount(0), a.FreeBlockCount(1), a.FreeBlockCount(2), a.FreeBlockCount(3),
		a.FreeBlockCount(4), a.FreeBlockCount(5), a.FreeBlockCount(6),
	})

	for i := len(handles) - 1; i >= 0; i-- {
		require.NoError(t, a.Free(handles[i]))
		require.NoError(t, a.Validate())
	}
	requireSingleTopBlock(t, a)
}

func TestAllocZeroSize(t *testing.T) {
	a := newAllocator(t, 4096)

	handle, ok := a.Alloc(0)
	require.False(t, ok)
	require.Equal(t, buddy.NoHandle, handle)

	handle, ok = a.Alloc(-5)
	require.False(t, ok)
	require.Equal(t, buddy.NoHandle, handle)

	require.Nil(t, a.AllocBytes(0))
	requireSingleTopBlock(t, a)
}

func TestFreeNoHandle(t *testing.T) {
	a := newAllocator(t, 4096)
	require.NoError(t, a.Free(buddy.NoHandle))
	require.NoError(t, a.FreeBytes(nil))
	requireSingleTopBlock(t, a)
}

func TestOutOfMemory(t *testing.T) {
	a := newAllocator(t, 4096)

	handle, ok := a.Alloc(a.MaxAllocationSize())
	require.True(t, ok)
	require.Equal(t, 1, handle)

	_, ok = a.Alloc(1)
	require.False(t, ok)
	require.NoError(t, a.Validate())

	require.NoError(t, a.Free(handle))
	requireSingleTopBlock(t, a)

	handle, ok = a.Alloc(a.UsableSize())
	require.False(t, ok)
	require.Equal(t, buddy.NoHandle, handle)
	requireSingleTopBlock(t, a)
}

func TestLargeAllocation(t *testing.T) {
	a := newAllocator(t, 1<<20)

	payload := a.AllocBytes(1 << 18)
	require.NotNil(t, payload)
	require.Len(t, payload, 1<<18)
	require.Equal(t, 1<<19-buddy.TagSize, cap(payload))
	require.Zero(t, a.FreeBlockCount(a.MaxOrder()))

	for i := range payload {
		payload[i] = 'a'
	}
	require.NoError(t, a.Validate())

	require.NoError(t, a.FreeBytes(payload))
	requireSingleTopBlock(t, a)
}

func TestAllocationCycles(t *testing.T) {
	a := newAllocator(t, 1<<20)

	handles := make([]int, 200)
	for cycle := 0; cycle < 20; cycle++ {
		for i := range handles {
			size := 16 * (i + 1)
			handle, ok := a.Alloc(size)
			require.True(t, ok, "cycle %d allocation %d", cycle, i)

			payload := a.Bytes(handle)
			require.GreaterOrEqual(t, len(payload), size)
			for j := 0; j < size; j++ {
				payload[j] = 'a'
			}
			handles[i] = handle
		}
		require.NoError(t, a.Validate())
		require.Equal(t, 200, a.AllocationCount())

		for _, handle := range handles {
			require.NoError(t, a.Free(handle))
		}
		requireSingleTopBlock(t, a)
	}
}

type liveAllocation struct {
	handle int
	size   int
	fill   byte
}

func TestRandomSequence(t *testing.T) {
	a := newAllocator(t, 1<<16)
	rng := rand.New(rand.NewSource(1))

	var live []liveAllocation
	for step := 0; step < 2000; step++ {
		if len(live) > 0 && rng.Intn(3) == 0 {
			index := rng.Intn(len(live))
			alloc := live[index]

			payload := a.Bytes(alloc.handle)
			for j := 0; j < alloc.size; j++ {
				require.Equal(t, alloc.fill, payload[j], "allocation at %d was overwritten", alloc.handle)
			}

			require.NoError(t, a.Free(alloc.handle))
			live[index] = live[len(live)-1]
			live = live[:len(live)-1]
		} else {
			size := 1 + rng.Intn(2000)
			handle, ok := a.Alloc(size)
			if !ok {
				continue
			}

			fill := byte(step)
			payload := a.Bytes(handle)
			for j := 0; j < size; j++ {
				payload[j] = fill
			}
			live = append(live, liveAllocation{handle: handle, size: size, fill: fill})
		}

		require.NoError(t, a.Validate(), "step %d", step)
		require.Equal(t, len(live), a.AllocationCount())
	}

	for _, alloc := range live {
		require.NoError(t, a.Free(alloc.handle))
	}
	requireSingleTopBlock(t, a)
}

func TestAllocationsDoNotOverlap(t *testing.T) {
	a := newAllocator(t, 1<<20)
	rng := rand.New(rand.NewSource(7))

	for i := 0; i < 100; i++ {
		_, ok := a.Alloc(1 + rng.Intn(700))
		require.True(t, ok)
	}

	end := 0
	err := a.VisitAllRegions(func(handle int, offset int, size int, free bool) error {
		require.Equal(t, end, offset)
		if free {
			require.Equal(t, buddy.NoHandle, handle)
		} else {
			require.Equal(t, offset+buddy.TagSize, handle)
		}
		end = offset + size
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, a.UsableSize(), end)
}

func TestDoubleFree(t *testing.T) {
	a := newAllocator(t, 4096)

	lower, ok := a.Alloc(1)
	require.True(t, ok)
	upper, ok := a.Alloc(1)
	require.True(t, ok)
	require.Equal(t, 33, upper)

	require.NoError(t, a.Free(upper))
	err := a.Free(upper)
	require.True(t, errors.Is(err, buddy.ErrDoubleFreeOrInvalidPointer))
	require.NoError(t, a.Validate())

	require.NoError(t, a.Free(lower))
	requireSingleTopBlock(t, a)

	// Both halves have been merged away
	require.True(t, errors.Is(a.Free(lower), buddy.ErrDoubleFreeOrInvalidPointer))
	require.True(t, errors.Is(a.Free(upper), buddy.ErrDoubleFreeOrInvalidPointer))
	requireSingleTopBlock(t, a)
}

func TestFreeStaleUpperHalf(t *testing.T) {
	a := newAllocator(t, 4096)

	lower, ok := a.Alloc(1)
	require.True(t, ok)
	upper, ok := a.Alloc(1)
	require.True(t, ok)

	require.NoError(t, a.Free(lower))
	require.NoError(t, a.Free(upper))
	requireSingleTopBlock(t, a)

	require.True(t, errors.Is(a.Free(upper), buddy.ErrDoubleFreeOrInvalidPointer))
	requireSingleTopBlock(t, a)
}

func TestFreeForeignHandle(t *testing.T) {
	a := newAllocator(t, 4096)

	handle, ok := a.Alloc(100)
	require.True(t, ok)

	for _, foreign := range []int{0, 5, handle + 1, 2048 + buddy.TagSize, 1 << 20, -40} {
		err := a.Free(foreign)
		require.True(t, errors.Is(err, buddy.ErrDoubleFreeOrInvalidPointer), "handle %d", foreign)
		require.Nil(t, a.Bytes(foreign))
	}
	require.NoError(t, a.Validate())
	require.Equal(t, 1, a.AllocationCount())

	other := newAllocator(t, 4096)
	payload := other.AllocBytes(10)
	require.True(t, errors.Is(a.FreeBytes(payload), buddy.ErrDoubleFreeOrInvalidPointer))

	for _, interior := range []int{33, 65, 97} {
		err := a.Free(interior)
		require.True(t, errors.Is(err, buddy.ErrDoubleFreeOrInvalidPointer), "handle %d", interior)
		require.Nil(t, a.Bytes(interior))
	}
	require.NoError(t, a.Validate())

	require.NoError(t, a.Free(handle))
	requireSingleTopBlock(t, a)
}

func TestFreeInteriorHandle(t *testing.T) {
	a := newAllocator(t, 4096)

	for _, interior := range []int{33, 65, 1025} {
		err := a.Free(interior)
		require.True(t, errors.Is(err, buddy.ErrDoubleFreeOrInvalidPointer), "handle %d", interior)
		require.Nil(t, a.Bytes(interior))
	}
	require.NoError(t, a.Validate())
	requireSingleTopBlock(t, a)

	handle, ok := a.Alloc(60)
	require.True(t, ok)
	require.Equal(t, 1, handle)

	payload := a.Bytes(handle)
	require.Len(t, payload, 63)
	payload[31] = 0

	err := a.Free(33)
	require.True(t, errors.Is(err, buddy.ErrDoubleFreeOrInvalidPointer))
	require.Nil(t, a.Bytes(33))
	require.NoError(t, a.Validate())
	require.Equal(t, 1, a.AllocationCount())

	require.NoError(t, a.Free(handle))
	requireSingleTopBlock(t, a)
}

func TestAllocBytes(t *testing.T) {
	a := newAllocator(t, 4096)

	payload := a.AllocBytes(50)
	require.Len(t, payload, 50)
	require.Equal(t, 63, cap(payload))

	handle := 1
	require.Equal(t, a.Arena()[handle:handle+50], payload)

	resliced := payload[:10]
	require.NoError(t, a.FreeBytes(resliced))
	requireSingleTopBlock(t, a)

	require.Nil(t, a.AllocBytes(4096))
}

func TestDestroy(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf))

	a, err := buddy.New(make([]byte, 4096), buddy.CreateOptions{Logger: logger})
	require.NoError(t, err)

	handle, ok := a.Alloc(10)
	require.True(t, ok)

	require.NoError(t, a.Destroy())
	require.Contains(t, buf.String(), "[UNRELEASED MEMORY]")
	require.Contains(t, buf.String(), "handle=1")

	require.True(t, errors.Is(a.Destroy(), buddy.ErrDestroyed))
	require.True(t, errors.Is(a.Free(handle), buddy.ErrDestroyed))
	require.True(t, errors.Is(a.Validate(), buddy.ErrDestroyed))
	_, ok = a.Alloc(10)
	require.False(t, ok)
	require.Nil(t, a.Bytes(handle))
	require.Nil(t, a.Arena())
}

func TestDestroyEmpty(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf))

	a, err := buddy.New(make([]byte, 4096), buddy.CreateOptions{Logger: logger})
	require.NoError(t, err)

	require.NoError(t, buddy.Destroy(a))
	require.NotContains(t, buf.String(), "[UNRELEASED MEMORY]")
}

func TestDestroyNil(t *testing.T) {
	err := buddy.Destroy(nil)
	require.True(t, errors.Is(err, buddy.ErrInvalidHandle))

	var a *buddy.Allocator
	require.True(t, errors.Is(a.Destroy(), buddy.ErrInvalidHandle))
}

func TestAttach(t *testing.T) {
	arena := make([]byte, 1<<16)
	a, err := buddy.New(arena, buddy.CreateOptions{})
	require.NoError(t, err)

	first, ok := a.Alloc(300)
	require.True(t, ok)
	second, ok := a.Alloc(5000)
	require.True(t, ok)
	copy(a.Bytes(second), "persisted")

	attached, err := buddy.Attach(arena, buddy.CreateOptions{})
	require.NoError(t, err)
	require.NoError(t, attached.Validate())
	require.Equal(t, 2, attached.AllocationCount())
	require.Equal(t, a.MaxOrder(), attached.MaxOrder())
	require.Equal(t, []byte("persisted"), attached.Bytes(second)[:9])

	require.NoError(t, attached.Free(first))
	require.NoError(t, attached.Free(second))
	requireSingleTopBlock(t, attached)
}

func TestAttachBadMetadata(t *testing.T) {
	_, err := buddy.Attach(make([]byte, 4096), buddy.CreateOptions{})
	require.True(t, errors.Is(err, buddy.ErrBadMetadata))

	arena := make([]byte, 4096)
	_, err = buddy.New(arena, buddy.CreateOptions{})
	require.NoError(t, err)

	_, err = buddy.Attach(arena[:4000], buddy.CreateOptions{})
	require.True(t, errors.Is(err, buddy.ErrBadMetadata))

	_, err = buddy.Attach(arena[:64], buddy.CreateOptions{})
	require.True(t, errors.Is(err, buddy.ErrArenaTooSmall))

	_, err = buddy.Attach(arena, buddy.CreateOptions{})
	require.NoError(t, err)
}

func TestValidateDetectsCorruption(t *testing.T) {
	a := newAllocator(t, 4096)

	_, ok := a.Alloc(1)
	require.True(t, ok)
	require.NoError(t, a.Validate())

	// Flip the free flag of the order 0 block at offset 32 without unlinking it
	a.Arena()[32] &^= 0x80
	require.Error(t, a.Validate())
}

func TestNoHeapAllocations(t *testing.T) {
	if memutils.DebugEnabled {
		t.Skip("debug validation allocates")
	}

	a := newAllocator(t, 1<<20)

	allocs := testing.AllocsPerRun(100, func() {
		handle, ok := a.Alloc(200)
		if !ok {
			panic("allocation failed")
		}
		if err := a.Free(handle); err != nil {
			panic(err)
		}
	})
	require.Zero(t, allocs)
}
