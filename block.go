package suballoc

import (
	"context"
	"log/slog"
	"sort"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/suballoc/internal/vulkan"
	"github.com/vkngwrapper/suballoc/memutils"
	"github.com/vkngwrapper/suballoc/memutils/freelist"
)

// memoryBlock is one backing device memory allocation and the free space inside it
type memoryBlock struct {
	id        int
	signature MemoryTypeSignature
	memory    *vulkan.SynchronizedMemory
	logger    *slog.Logger

	freeList freelist.FreeList
	// head -> tail of every live suballocation
	allocations *swiss.Map[int, int]
	bytesInUse  int
}

func (b *memoryBlock) Init(
	logger *slog.Logger,
	id int,
	signature MemoryTypeSignature,
	memory core1_0.DeviceMemory,
	size int,
	coalesce bool,
	useMutex bool,
) {
	if b.memory != nil {
		panic("attempting to initialize a memory block that is already in use")
	}

	b.id = id
	b.signature = signature
	b.logger = logger
	b.memory = vulkan.NewSynchronizedMemory(memory, size, useMutex)
	b.allocations = swiss.NewMap[int, int](42)
	b.bytesInUse = 0

	if coalesce {
		b.freeList = freelist.NewCoalescingList()
	} else {
		b.freeList = freelist.NewFirstFitList()
	}
	b.freeList.Init(size)
}

func (b *memoryBlock) Capacity() int {
	return b.memory.Size()
}

func (b *memoryBlock) IsEmpty() bool {
	return b.allocations.Count() == 0
}

func (b *memoryBlock) IsFreed() bool {
	return b.memory.IsFreed()
}

// Allocate carves size bytes out of the first free range that can hold them
func (b *memoryBlock) Allocate(size int) (int, bool) {
	head, ok := b.freeList.Allocate(size)
	if !ok {
		return 0, false
	}

	b.allocations.Put(head, head+size)
	b.bytesInUse += size
	return head, true
}

// Free returns [head, tail) to the free list. The range must be a live suballocation of this block.
func (b *memoryBlock) Free(head, tail int) error {
	if b.memory.IsFreed() {
		return errors.Wrapf(ErrStaleAllocation, "block %d", b.id)
	}

	liveTail, ok := b.allocations.Get(head)
	if !ok || liveTail != tail {
		return errors.Newf("range [%d, %d) is not a live suballocation of block %d", head, tail, b.id)
	}

	err := b.freeList.Free(freelist.Range{Head: head, Tail: tail})
	if err != nil {
		return err
	}

	b.allocations.Delete(head)
	b.bytesInUse -= tail - head
	return nil
}

// Destroy frees the backing memory. Suballocations that were never released are logged and
// their memory is freed regardless.
func (b *memoryBlock) Destroy(device MemoryDevice) {
	if b.memory == nil {
		panic("attempting to destroy a memory block that was never initialized")
	}

	if !b.IsEmpty() {
		b.allocations.Iter(func(head, tail int) bool {
			b.logger.LogAttrs(context.Background(), slog.LevelError, "[UNRELEASED MEMORY] unreleased suballocation",
				slog.Int("block", b.id),
				slog.Int("offset", head),
				slog.Int("size", tail-head),
			)
			return false
		})
	}

	b.memory.FreeMemory(device)
	b.allocations.Clear()
	b.freeList.Clear()
	b.bytesInUse = 0
}

func (b *memoryBlock) Validate() error {
	if b.memory.IsFreed() {
		return errors.Newf("block %d has no backing memory", b.id)
	}
	if b.Capacity() < 1 {
		return errors.Newf("block %d has an invalid size of %d", b.id, b.Capacity())
	}

	err := b.freeList.Validate()
	if err != nil {
		return errors.Wrapf(err, "block %d", b.id)
	}

	if b.bytesInUse+b.freeList.SumFreeSize() != b.Capacity() {
		return errors.Newf("block %d accounts for %d bytes in use and %d bytes free, but has a capacity of %d",
			b.id, b.bytesInUse, b.freeList.SumFreeSize(), b.Capacity())
	}

	sum := 0
	var inner error
	b.allocations.Iter(func(head, tail int) bool {
		if head < 0 || tail > b.Capacity() || head >= tail {
			inner = errors.Newf("block %d has a suballocation [%d, %d) outside of its bounds", b.id, head, tail)
			return true
		}
		sum += tail - head
		return false
	})
	if inner != nil {
		return inner
	}
	if sum != b.bytesInUse {
		return errors.Newf("block %d tracks %d bytes in use but its suballocations sum to %d", b.id, b.bytesInUse, sum)
	}

	return nil
}

func (b *memoryBlock) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	stats.BlockCount++
	stats.BlockBytes += b.Capacity()

	b.allocations.Iter(func(head, tail int) bool {
		stats.AddAllocation(tail - head)
		return false
	})
	b.freeList.AddDetailedStatistics(stats)
}

type blockRegion struct {
	offset int
	size   int
	free   bool
}

// regions lists every free and used region of the block in offset order
func (b *memoryBlock) regions() []blockRegion {
	regions := make([]blockRegion, 0, b.allocations.Count()+b.freeList.FreeRegionsCount())
	b.allocations.Iter(func(head, tail int) bool {
		regions = append(regions, blockRegion{offset: head, size: tail - head})
		return false
	})
	b.freeList.VisitFreeRanges(func(r freelist.Range) bool {
		regions = append(regions, blockRegion{offset: r.Head, size: r.Size(), free: true})
		return true
	})

	sort.Slice(regions, func(i, j int) bool {
		return regions[i].offset < regions[j].offset
	})
	return regions
}

func (b *memoryBlock) PrintDetailedMap(json *jwriter.ObjectState) {
	json.Name("Id").Int(b.id)
	json.Name("MapReferences").Int(b.memory.References())
	b.freeList.BlockJsonData(json)

	arrayState := json.Name("Suballocations").Array()
	defer arrayState.End()

	for _, region := range b.regions() {
		obj := arrayState.Object()
		obj.Name("Offset").Int(region.offset)
		if region.free {
			obj.Name("Type").String("FREE")
		} else {
			obj.Name("Type").String("USED")
		}
		obj.Name("Size").Int(region.size)
		obj.End()
	}
}
