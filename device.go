package suballoc

import (
	"unsafe"

	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
)

// MemoryDevice is the part of the graphics device that backs memory blocks. Implementations
// are expected to be thin wrappers around the driver; the vulkan package provides one built on
// vkngwrapper.
type MemoryDevice interface {
	AllocateMemory(size int, memoryTypeIndex int) (core1_0.DeviceMemory, common.VkResult, error)
	FreeMemory(memory core1_0.DeviceMemory)

	// FindMemoryTypeIndex resolves a memory type index from the type bits reported by a resource's
	// memory requirements and the memory properties the caller asked for
	FindMemoryTypeIndex(memoryTypeBits uint32, properties core1_0.MemoryPropertyFlags) (int, error)
	// NonCoherentAtomSize is the granularity of flush and invalidate ranges on non-coherent memory
	NonCoherentAtomSize() int

	MapMemory(memory core1_0.DeviceMemory, offset, size int) (unsafe.Pointer, common.VkResult, error)
	UnmapMemory(memory core1_0.DeviceMemory)
	FlushMappedMemoryRange(memory core1_0.DeviceMemory, offset, size int) (common.VkResult, error)
	InvalidateMappedMemoryRange(memory core1_0.DeviceMemory, offset, size int) (common.VkResult, error)

	// WaitIdle blocks until the device has finished all submitted work
	WaitIdle() (common.VkResult, error)
}

// ResourceDevice creates, binds and destroys the buffers and images that live in suballocated memory
type ResourceDevice interface {
	CreateBuffer(createInfo core1_0.BufferCreateInfo) (core1_0.Buffer, common.VkResult, error)
	DestroyBuffer(buffer core1_0.Buffer)
	BufferMemoryRequirements(buffer core1_0.Buffer) core1_0.MemoryRequirements
	BindBufferMemory(buffer core1_0.Buffer, memory core1_0.DeviceMemory, offset int) (common.VkResult, error)

	CreateImage(createInfo core1_0.ImageCreateInfo) (core1_0.Image, common.VkResult, error)
	DestroyImage(image core1_0.Image)
	ImageMemoryRequirements(image core1_0.Image) core1_0.MemoryRequirements
	BindImageMemory(image core1_0.Image, memory core1_0.DeviceMemory, offset int) (common.VkResult, error)

	CreateImageView(createInfo core1_0.ImageViewCreateInfo) (core1_0.ImageView, common.VkResult, error)
	DestroyImageView(view core1_0.ImageView)
}

// Device is everything the Allocator needs from the graphics device
type Device interface {
	MemoryDevice
	ResourceDevice
}
