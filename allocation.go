package suballoc

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/suballoc/memutils"
)

// SubAllocation is a [Head, Tail) region of one memory block. It is produced by Allocator.Allocate
// and handed back with Allocator.Release. The zero value is an unallocated SubAllocation that can be
// passed to Allocate.
//
// A SubAllocation does not own its block: after Allocator.Clear the block's memory is gone and every
// operation on the SubAllocation fails with ErrStaleAllocation.
type SubAllocation struct {
	allocator *Allocator
	block     *memoryBlock
	head      int
	tail      int
	mapCount  int
}

// Allocated reports whether this SubAllocation currently holds a region. A stale SubAllocation
// holds nothing and can be passed to Allocate again.
func (a *SubAllocation) Allocated() bool {
	return a.block != nil && !a.block.IsFreed()
}

func (a *SubAllocation) Head() int { return a.head }
func (a *SubAllocation) Tail() int { return a.tail }

// Offset is the byte offset of this region within its block's memory, which is the value
// resources are bound at
func (a *SubAllocation) Offset() int { return a.head }

// Size is the aligned size of the region
func (a *SubAllocation) Size() int { return a.tail - a.head }

// Memory returns the backing device memory of the block this region was carved from, or nil
// if the region is unallocated or stale
func (a *SubAllocation) Memory() core1_0.DeviceMemory {
	if a.block == nil {
		return nil
	}
	return a.block.memory.VulkanDeviceMemory()
}

func (a *SubAllocation) Signature() MemoryTypeSignature {
	if a.block == nil {
		return MemoryTypeSignature{}
	}
	return a.block.signature
}

func (a *SubAllocation) checkLive() error {
	if a.block == nil {
		return errors.New("attempted to use a suballocation that has not been allocated")
	}
	if a.block.IsFreed() {
		return errors.Wrapf(ErrStaleAllocation, "suballocation [%d, %d) of block %d", a.head, a.tail, a.block.id)
	}
	return nil
}

// BindBuffer binds buffer to this region's memory at Offset
func (a *SubAllocation) BindBuffer(buffer core1_0.Buffer) (common.VkResult, error) {
	if buffer == nil {
		return core1_0.VKErrorUnknown, errors.New("attempted to bind a nil buffer")
	}
	err := a.checkLive()
	if err != nil {
		return core1_0.VKErrorUnknown, err
	}

	res, err := a.allocator.device.BindBufferMemory(buffer, a.Memory(), a.head)
	if err != nil {
		return res, markError(err, ErrBindFailed, "failed to bind buffer to block %d at offset %d", a.block.id, a.head)
	}
	return res, nil
}

// BindImage binds image to this region's memory at Offset
func (a *SubAllocation) BindImage(image core1_0.Image) (common.VkResult, error) {
	if image == nil {
		return core1_0.VKErrorUnknown, errors.New("attempted to bind a nil image")
	}
	err := a.checkLive()
	if err != nil {
		return core1_0.VKErrorUnknown, err
	}

	res, err := a.allocator.device.BindImageMemory(image, a.Memory(), a.head)
	if err != nil {
		return res, markError(err, ErrBindFailed, "failed to bind image to block %d at offset %d", a.block.id, a.head)
	}
	return res, nil
}

// Map returns a host pointer to the start of this region. The block's memory is mapped once and
// shared by every region mapped from it; each successful Map must be balanced by an Unmap.
func (a *SubAllocation) Map() (unsafe.Pointer, common.VkResult, error) {
	err := a.checkLive()
	if err != nil {
		return nil, core1_0.VKErrorUnknown, err
	}

	data, res, err := a.block.memory.Map(a.allocator.device, 1)
	if err != nil {
		return nil, res, err
	}

	a.mapCount++
	return unsafe.Add(data, a.head), res, nil
}

func (a *SubAllocation) Unmap() error {
	err := a.checkLive()
	if err != nil {
		return err
	}
	if a.mapCount == 0 {
		return errors.New("attempted to unmap a suballocation that is not mapped")
	}

	err = a.block.memory.Unmap(a.allocator.device, 1)
	if err != nil {
		return err
	}

	a.mapCount--
	return nil
}

// mappedRange converts an offset and size relative to this region into a block range widened to
// the device's non-coherent atom size. A size of -1 runs to the end of the region.
func (a *SubAllocation) mappedRange(offset, size int) (int, int, error) {
	if offset < 0 || offset > a.Size() {
		return 0, 0, errors.Newf("offset %d is outside of a suballocation of size %d", offset, a.Size())
	}

	end := a.tail
	if size >= 0 {
		if size > a.Size()-offset {
			return 0, 0, errors.Newf("range of %d bytes at offset %d overruns a suballocation of size %d", size, offset, a.Size())
		}
		end = a.head + offset + size
	} else if size != -1 {
		return 0, 0, errors.Newf("invalid range size %d", size)
	}

	atom := max(a.allocator.device.NonCoherentAtomSize(), 1)
	memutils.DebugCheckPow2(atom, "NonCoherentAtomSize")

	start := memutils.AlignDown(a.head+offset, atom)
	end = min(memutils.AlignUp(end, atom), a.block.Capacity())
	return start, end - start, nil
}

// Flush makes host writes to [offset, offset+size) of this region visible to the device. It is
// only required for memory types that are not host coherent.
func (a *SubAllocation) Flush(offset, size int) (common.VkResult, error) {
	err := a.checkLive()
	if err != nil {
		return core1_0.VKErrorUnknown, err
	}

	start, length, err := a.mappedRange(offset, size)
	if err != nil {
		return core1_0.VKErrorUnknown, err
	}
	if length == 0 {
		return core1_0.VKSuccess, nil
	}

	return a.allocator.device.FlushMappedMemoryRange(a.Memory(), start, length)
}

// Invalidate makes device writes to [offset, offset+size) of this region visible to the host
func (a *SubAllocation) Invalidate(offset, size int) (common.VkResult, error) {
	err := a.checkLive()
	if err != nil {
		return core1_0.VKErrorUnknown, err
	}

	start, length, err := a.mappedRange(offset, size)
	if err != nil {
		return core1_0.VKErrorUnknown, err
	}
	if length == 0 {
		return core1_0.VKSuccess, nil
	}

	return a.allocator.device.InvalidateMappedMemoryRange(a.Memory(), start, length)
}
