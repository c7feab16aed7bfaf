package freelist

import (
	"math/rand"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/suballoc/memutils"
)

var listConstructors = map[string]func() FreeList{
	"FirstFit":   func() FreeList { return NewFirstFitList() },
	"Coalescing": func() FreeList { return NewCoalescingList() },
}

func freeRanges(list FreeList) []Range {
	var ranges []Range
	list.VisitFreeRanges(func(r Range) bool {
		ranges = append(ranges, r)
		return true
	})
	return ranges
}

func TestInit(t *testing.T) {
	for name, newList := range listConstructors {
		t.Run(name, func(t *testing.T) {
			list := newList()
			list.Init(1024)

			require.Equal(t, 1024, list.Size())
			require.Equal(t, 1024, list.SumFreeSize())
			require.Equal(t, []Range{{Head: 0, Tail: 1024}}, freeRanges(list))
			require.NoError(t, list.Validate())
		})
	}
}

func TestFirstFitOrder(t *testing.T) {
	for name, newList := range listConstructors {
		t.Run(name, func(t *testing.T) {
			list := newList()
			list.Init(1024)

			a, ok := list.Allocate(112)
			require.True(t, ok)
			require.Equal(t, 0, a)

			b, ok := list.Allocate(48)
			require.True(t, ok)
			require.Equal(t, 112, b)

			require.NoError(t, list.Free(Range{Head: 0, Tail: 112}))
			require.Equal(t, []Range{{Head: 0, Tail: 112}, {Head: 160, Tail: 1024}}, freeRanges(list))

			// The lowest range that fits wins even though the later range is larger
			c, ok := list.Allocate(80)
			require.True(t, ok)
			require.Equal(t, 0, c)
			require.Equal(t, []Range{{Head: 80, Tail: 112}, {Head: 160, Tail: 1024}}, freeRanges(list))
			require.Equal(t, 1024-160+32, list.SumFreeSize())
			require.NoError(t, list.Validate())
		})
	}
}

func TestAllocateSkipsSmallRanges(t *testing.T) {
	for name, newList := range listConstructors {
		t.Run(name, func(t *testing.T) {
			list := newList()
			list.Init(256)

			for i := 0; i < 4; i++ {
				_, ok := list.Allocate(64)
				require.True(t, ok)
			}
			_, ok := list.Allocate(1)
			require.False(t, ok)

			require.NoError(t, list.Free(Range{Head: 64, Tail: 128}))
			require.NoError(t, list.Free(Range{Head: 192, Tail: 256}))

			_, ok = list.Allocate(65)
			require.False(t, ok)

			head, ok := list.Allocate(64)
			require.True(t, ok)
			require.Equal(t, 64, head)
			require.Equal(t, []Range{{Head: 192, Tail: 256}}, freeRanges(list))
		})
	}
}

func TestEmptiedRangeIsRemoved(t *testing.T) {
	list := NewFirstFitList()
	list.Init(300)

	for i := 0; i < 3; i++ {
		_, ok := list.Allocate(100)
		require.True(t, ok)
	}
	require.NoError(t, list.Free(Range{Head: 200, Tail: 300}))
	require.NoError(t, list.Free(Range{Head: 0, Tail: 100}))
	require.Equal(t, []Range{{Head: 0, Tail: 100}, {Head: 200, Tail: 300}}, freeRanges(list))

	head, ok := list.Allocate(100)
	require.True(t, ok)
	require.Equal(t, 0, head)
	require.Equal(t, []Range{{Head: 200, Tail: 300}}, freeRanges(list))
	require.NoError(t, list.Validate())
}

func TestFirstFitDoesNotCoalesce(t *testing.T) {
	list := NewFirstFitList()
	list.Init(300)

	for i := 0; i < 3; i++ {
		_, ok := list.Allocate(100)
		require.True(t, ok)
	}
	require.NoError(t, list.Free(Range{Head: 0, Tail: 100}))
	require.NoError(t, list.Free(Range{Head: 100, Tail: 200}))

	require.Equal(t, 2, list.FreeRegionsCount())
	require.Equal(t, 200, list.SumFreeSize())

	// 200 free bytes, but no single range can hold them
	_, ok := list.Allocate(150)
	require.False(t, ok)
	require.NoError(t, list.Validate())
}

func TestCoalescingMergesNeighbours(t *testing.T) {
	list := NewCoalescingList()
	list.Init(300)

	for i := 0; i < 3; i++ {
		_, ok := list.Allocate(100)
		require.True(t, ok)
	}
	require.NoError(t, list.Free(Range{Head: 0, Tail: 100}))
	require.NoError(t, list.Free(Range{Head: 200, Tail: 300}))
	require.Equal(t, 2, list.FreeRegionsCount())

	require.NoError(t, list.Free(Range{Head: 100, Tail: 200}))
	require.Equal(t, []Range{{Head: 0, Tail: 300}}, freeRanges(list))

	head, ok := list.Allocate(300)
	require.True(t, ok)
	require.Equal(t, 0, head)
	require.Zero(t, list.FreeRegionsCount())
	require.NoError(t, list.Validate())
}

func TestFreeErrors(t *testing.T) {
	for name, newList := range listConstructors {
		t.Run(name, func(t *testing.T) {
			list := newList()
			list.Init(256)

			_, ok := list.Allocate(128)
			require.True(t, ok)

			err := list.Free(Range{Head: 200, Tail: 300})
			require.True(t, errors.Is(err, ErrRangeOutOfBounds))

			err = list.Free(Range{Head: 64, Tail: 64})
			require.True(t, errors.Is(err, ErrRangeOutOfBounds))

			err = list.Free(Range{Head: 64, Tail: 192})
			require.True(t, errors.Is(err, ErrRangeOverlap))

			require.NoError(t, list.Free(Range{Head: 0, Tail: 128}))
			err = list.Free(Range{Head: 0, Tail: 128})
			require.True(t, errors.Is(err, ErrRangeOverlap))

			require.Equal(t, 256, list.SumFreeSize())
			require.NoError(t, list.Validate())
		})
	}
}

func TestClear(t *testing.T) {
	for name, newList := range listConstructors {
		t.Run(name, func(t *testing.T) {
			list := newList()
			list.Init(512)

			_, ok := list.Allocate(100)
			require.True(t, ok)
			_, ok = list.Allocate(100)
			require.True(t, ok)

			list.Clear()
			require.Equal(t, []Range{{Head: 0, Tail: 512}}, freeRanges(list))
			require.Equal(t, 512, list.SumFreeSize())
		})
	}
}

func TestStatistics(t *testing.T) {
	list := NewFirstFitList()
	list.Init(1000)
	_, _ = list.Allocate(100)
	_, _ = list.Allocate(100)
	require.NoError(t, list.Free(Range{Head: 0, Tail: 100}))

	var stats memutils.DetailedStatistics
	stats.Clear()
	list.AddDetailedStatistics(&stats)

	require.Equal(t, 2, stats.FreeRangeCount)
	require.Equal(t, 100, stats.FreeRangeSizeMin)
	require.Equal(t, 800, stats.FreeRangeSizeMax)
}

// Random allocate/free cycles must never hand out overlapping ranges and must always account
// for every byte of the block.
func TestRandomCycles(t *testing.T) {
	for name, newList := range listConstructors {
		t.Run(name, func(t *testing.T) {
			const blockSize = 1 << 16
			rng := rand.New(rand.NewSource(42))

			list := newList()
			list.Init(blockSize)

			var live []Range
			liveBytes := 0

			for i := 0; i < 5000; i++ {
				if len(live) > 0 && rng.Intn(3) == 0 {
					index := rng.Intn(len(live))
					r := live[index]
					live[index] = live[len(live)-1]
					live = live[:len(live)-1]

					require.NoError(t, list.Free(r))
					liveBytes -= r.Size()
				} else {
					size := memutils.AlignUp(rng.Intn(2048)+1, 16)
					head, ok := list.Allocate(size)
					if !ok {
						continue
					}

					allocated := Range{Head: head, Tail: head + size}
					for _, other := range live {
						require.False(t, allocated.Overlaps(other), "range %v overlaps %v", allocated, other)
					}
					live = append(live, allocated)
					liveBytes += size
				}

				require.Equal(t, blockSize, liveBytes+list.SumFreeSize())
			}

			require.NoError(t, list.Validate())
		})
	}
}
