package suballoc

import (
	"context"
	"log/slog"
	"math"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/suballoc/internal/utils"
	"github.com/vkngwrapper/suballoc/memutils"
)

// Allocator carves large blocks of device memory into regions that back individual buffers and
// images. Blocks are grouped by MemoryTypeSignature and created lazily; released regions are
// queued and only handed back to their block once the device is known to be done with them.
type Allocator struct {
	useMutex    bool
	logger      *slog.Logger
	device      Device
	createFlags CreateFlags
	blockSize   int
	callbacks   memoryCallbacks

	mutex       utils.OptionalRWMutex
	nextBlockId int
	blockLists  *swiss.Map[MemoryTypeSignature, *blockList]
	// signatures in the order their block lists were created
	signatures []MemoryTypeSignature

	releases releaseQueue
	frame    uint64
}

// BlockSize returns the capacity given to new blocks
func (a *Allocator) BlockSize() int {
	return a.blockSize
}

// Allocate reserves a region satisfying requirements in memory with the requested properties. The
// region is written to outAlloc, which must not already hold a live region.
func (a *Allocator) Allocate(requirements core1_0.MemoryRequirements, properties core1_0.MemoryPropertyFlags, outAlloc *SubAllocation) (common.VkResult, error) {
	a.logger.Debug("Allocator::Allocate",
		slog.Int("Size", requirements.Size),
		slog.Int("Alignment", requirements.Alignment),
	)

	a.mutex.Lock()
	defer a.mutex.Unlock()

	return a.allocate(requirements, properties, outAlloc)
}

func (a *Allocator) allocate(requirements core1_0.MemoryRequirements, properties core1_0.MemoryPropertyFlags, outAlloc *SubAllocation) (common.VkResult, error) {
	if outAlloc == nil {
		return core1_0.VKErrorUnknown, errors.New("attempted to allocate into a nil suballocation")
	}
	if outAlloc.Allocated() {
		return core1_0.VKErrorUnknown, errors.Wrap(ErrAlreadyCreated, "attempted to allocate into a suballocation that is still live")
	}
	if requirements.Size < 1 {
		return core1_0.VKErrorUnknown, errors.New("provided memory requirement size was not a positive integer")
	}
	err := memutils.CheckPow2(requirements.Alignment, "requirements.Alignment")
	if err != nil {
		return core1_0.VKErrorUnknown, err
	}

	if requirements.Size > math.MaxInt-(requirements.Alignment-1) {
		return core1_0.VKErrorOutOfDeviceMemory, markError(nil, ErrAllocationFailed,
			"%d bytes aligned to %d does not fit in a memory block", requirements.Size, requirements.Alignment)
	}

	memoryTypeIndex, err := a.device.FindMemoryTypeIndex(requirements.MemoryTypeBits, properties)
	if err != nil {
		return core1_0.VKErrorFeatureNotPresent, markError(err, ErrNoCompatibleMemoryType,
			"could not find a memory type for type bits %#x with properties %s", requirements.MemoryTypeBits, properties)
	}

	signature := MemoryTypeSignature{
		Alignment:       requirements.Alignment,
		MemoryTypeBits:  requirements.MemoryTypeBits,
		MemoryTypeIndex: memoryTypeIndex,
	}
	alignedSize := memutils.AlignUp(requirements.Size, requirements.Alignment)

	list, registered := a.blockLists.Get(signature)
	if !registered {
		list = &blockList{signature: signature}
	}

	block, head, found := list.Allocate(alignedSize)
	if !found {
		var res common.VkResult
		block, res, err = a.createBlock(signature, max(a.blockSize, alignedSize))
		if err != nil {
			return res, err
		}
		list.AddBlock(block)

		// A signature is only listed once it has a block
		if !registered {
			a.blockLists.Put(signature, list)
			a.signatures = append(a.signatures, signature)
		}

		head, found = block.Allocate(alignedSize)
		if !found {
			panic("a new memory block could not hold the allocation it was created for")
		}
	}

	memutils.DebugValidate(block)

	*outAlloc = SubAllocation{
		allocator: a,
		block:     block,
		head:      head,
		tail:      head + alignedSize,
	}
	return core1_0.VKSuccess, nil
}

func (a *Allocator) createBlock(signature MemoryTypeSignature, size int) (*memoryBlock, common.VkResult, error) {
	memory, res, err := a.device.AllocateMemory(size, signature.MemoryTypeIndex)
	if err != nil {
		return nil, res, markError(err, ErrAllocationFailed, "failed to allocate a block of %d bytes from memory type %d", size, signature.MemoryTypeIndex)
	}

	block := &memoryBlock{}
	block.Init(a.logger, a.nextBlockId, signature, memory, size, a.createFlags&AllocatorCreateCoalesceFreeRanges != 0, a.useMutex)
	a.nextBlockId++

	a.callbacks.BlockAllocated(block)
	a.logger.Debug("    Created memory block",
		slog.Int("Id", block.id),
		slog.Int("Size", size),
		slog.Int("MemoryTypeIndex", signature.MemoryTypeIndex),
	)

	return block, core1_0.VKSuccess, nil
}

func (a *Allocator) destroyBlock(block *memoryBlock) {
	size := block.Capacity()

	a.callbacks.BlockFreeing(block)
	block.Destroy(a.device)

	a.logger.Debug("    Destroyed memory block",
		slog.Int("Id", block.id),
		slog.Int("Size", size),
		slog.Int("MemoryTypeIndex", block.signature.MemoryTypeIndex),
	)
}

// Release queues alloc's region to be returned to its block by the next Flush or RetireFrame and
// resets alloc so it can be passed to Allocate again.
func (a *Allocator) Release(alloc *SubAllocation) error {
	a.logger.Debug("Allocator::Release")

	if alloc == nil {
		return errors.New("attempted to release a nil suballocation")
	}
	err := alloc.checkLive()
	if errors.Is(err, ErrStaleAllocation) {
		// The block is already gone, so there is nothing to queue
		*alloc = SubAllocation{}
		return err
	} else if err != nil {
		return err
	}
	if alloc.allocator != a {
		return errors.New("attempted to release a suballocation that belongs to a different allocator")
	}

	a.mutex.Lock()
	defer a.mutex.Unlock()

	a.enqueue(PendingRelease{Kind: ReleaseAllocation, Allocation: *alloc})
	*alloc = SubAllocation{}
	return nil
}

func (a *Allocator) enqueue(record PendingRelease) {
	record.Frame = a.frame
	a.releases.Push(record)
}

// PendingReleases returns a copy of the releases that have been requested but not yet run
func (a *Allocator) PendingReleases() []PendingRelease {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	return a.releases.Snapshot()
}

// Flush waits for the device to go idle and then runs every pending release in the order it was
// requested. If waiting fails, nothing is released. Otherwise every release is attempted and
// the queue is emptied, and any errors are returned together.
func (a *Allocator) Flush() (common.VkResult, error) {
	a.logger.Debug("Allocator::Flush")

	a.mutex.Lock()
	defer a.mutex.Unlock()

	res, err := a.device.WaitIdle()
	if err != nil {
		return res, errors.Wrap(err, "failed to wait for the device to go idle")
	}

	err = a.runReleases(a.releases.Len())
	if err != nil {
		return core1_0.VKErrorUnknown, err
	}
	return core1_0.VKSuccess, nil
}

func (a *Allocator) runReleases(count int) error {
	var err error
	for _, record := range a.releases.PopFront(count) {
		err = errors.CombineErrors(err, record.execute(a.device))
	}
	return err
}

// AdvanceFrame marks the end of recording for the current frame and returns the new frame number.
// Releases requested from now on are stamped with the new frame.
func (a *Allocator) AdvanceFrame() uint64 {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	a.frame++
	return a.frame
}

// RetireFrame runs, without waiting for the device, every pending release stamped with a frame no
// later than completed. The caller asserts that the device has finished all work submitted for
// those frames, usually by waiting on a per-frame fence. The current frame cannot be retired.
func (a *Allocator) RetireFrame(completed uint64) error {
	a.logger.Debug("Allocator::RetireFrame", slog.Uint64("Frame", completed))

	a.mutex.Lock()
	defer a.mutex.Unlock()

	if completed >= a.frame {
		return errors.Newf("attempted to retire frame %d, but frame %d is still being recorded", completed, a.frame)
	}

	return a.runReleases(a.releases.RetiredCount(completed))
}

// Clear flushes every pending release and then frees the memory of every block. Regions that
// were never released are logged and their memory is freed along with the block. The allocator
// may be used again afterward.
func (a *Allocator) Clear() {
	a.logger.Debug("Allocator::Clear")

	a.mutex.Lock()
	defer a.mutex.Unlock()

	a.clear()
}

func (a *Allocator) clear() {
	_, err := a.device.WaitIdle()
	if err != nil {
		a.logger.LogAttrs(context.Background(), slog.LevelError, "failed to wait for the device to go idle during teardown",
			slog.Any("error", err))
	}

	err = a.runReleases(a.releases.Len())
	if err != nil {
		a.logger.LogAttrs(context.Background(), slog.LevelError, "pending releases failed during teardown",
			slog.Any("error", err))
	}

	for _, signature := range a.signatures {
		list, ok := a.blockLists.Get(signature)
		if !ok {
			panic("signature has no block list")
		}

		for _, block := range list.blocks {
			if !block.IsEmpty() {
				a.logger.LogAttrs(context.Background(), slog.LevelError, "[UNRELEASED MEMORY] memory block destroyed with live suballocations",
					slog.Int("block", block.id),
					slog.String("signature", signature.String()),
					slog.Int("count", block.allocations.Count()),
				)
			}
			a.destroyBlock(block)
		}
	}

	a.blockLists.Clear()
	a.signatures = nil
}

// Destroy tears down the allocator. It is equivalent to Clear and is safe to call more than once.
func (a *Allocator) Destroy() {
	a.logger.Debug("Allocator::Destroy")

	a.mutex.Lock()
	defer a.mutex.Unlock()

	a.clear()
	a.logger.Debug("    Allocator destroyed")
}

// Validate checks the internal consistency of every block
func (a *Allocator) Validate() error {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	for _, signature := range a.signatures {
		list, ok := a.blockLists.Get(signature)
		if !ok {
			return errors.Newf("signature %s has no block list", signature)
		}
		if list.signature != signature {
			return errors.Newf("block list for signature %s is registered under %s", list.signature, signature)
		}

		err := list.Validate()
		if err != nil {
			return err
		}
	}

	if a.blockLists.Count() != len(a.signatures) {
		return errors.Newf("%d block lists are registered but %d signatures are tracked", a.blockLists.Count(), len(a.signatures))
	}

	return nil
}
