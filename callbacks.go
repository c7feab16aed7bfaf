package suballoc

import "github.com/vkngwrapper/core/v2/core1_0"

// AllocateDeviceMemoryCallback is called after the allocator creates the backing memory of a new block
type AllocateDeviceMemoryCallback func(
	allocator *Allocator,
	memoryType int,
	memory core1_0.DeviceMemory,
	size int,
	userData interface{},
)

// FreeDeviceMemoryCallback is called before the allocator frees the backing memory of a block
type FreeDeviceMemoryCallback func(
	allocator *Allocator,
	memoryType int,
	memory core1_0.DeviceMemory,
	size int,
	userData interface{},
)

// MemoryCallbackOptions lets the consumer observe block-level memory traffic, for profilers or
// residency tracking. Suballocations do not trigger these callbacks.
type MemoryCallbackOptions struct {
	Allocate AllocateDeviceMemoryCallback
	Free     FreeDeviceMemoryCallback
	UserData interface{}
}

// memoryCallbacks reports block memory traffic to the consumer's MemoryCallbackOptions
type memoryCallbacks struct {
	Callbacks *MemoryCallbackOptions
	Allocator *Allocator
}

func (c *memoryCallbacks) BlockAllocated(block *memoryBlock) {
	if c.Callbacks != nil && c.Callbacks.Allocate != nil {
		c.Callbacks.Allocate(c.Allocator, block.signature.MemoryTypeIndex, block.memory.VulkanDeviceMemory(), block.Capacity(), c.Callbacks.UserData)
	}
}

// BlockFreeing must be called before the block's memory is freed, while the handle is still valid
func (c *memoryCallbacks) BlockFreeing(block *memoryBlock) {
	if c.Callbacks != nil && c.Callbacks.Free != nil {
		c.Callbacks.Free(c.Allocator, block.signature.MemoryTypeIndex, block.memory.VulkanDeviceMemory(), block.Capacity(), c.Callbacks.UserData)
	}
}
