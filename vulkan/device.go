package vulkan

import (
	"sync/atomic"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/core/v2/driver"
	"github.com/vkngwrapper/suballoc"
	"github.com/vkngwrapper/suballoc/memutils"
)

// Device implements suballoc.Device on top of a vkngwrapper device
type Device struct {
	device              core1_0.Device
	allocationCallbacks *driver.AllocationCallbacks
	memoryProperties    *core1_0.PhysicalDeviceMemoryProperties
	deviceProperties    *core1_0.PhysicalDeviceProperties

	// PreferredProperties are memory property flags that memory type resolution favors without
	// requiring them
	PreferredProperties core1_0.MemoryPropertyFlags

	memoryCount uint32
}

var _ suballoc.Device = &Device{}

// NewDevice reads the memory properties and limits of physicalDevice and wraps device. callbacks
// may be nil; otherwise it is passed to every create, allocate, destroy and free call.
func NewDevice(device core1_0.Device, physicalDevice core1_0.PhysicalDevice, callbacks *driver.AllocationCallbacks) (*Device, error) {
	if device == nil {
		return nil, errors.New("attempted to wrap a nil device")
	}
	if physicalDevice == nil {
		return nil, errors.New("attempted to wrap a device with a nil physical device")
	}

	deviceProperties, err := physicalDevice.Properties()
	if err != nil {
		return nil, err
	}

	err = memutils.CheckPow2(deviceProperties.Limits.NonCoherentAtomSize, "NonCoherentAtomSize")
	if err != nil {
		return nil, err
	}

	return &Device{
		device:              device,
		allocationCallbacks: callbacks,
		memoryProperties:    physicalDevice.MemoryProperties(),
		deviceProperties:    deviceProperties,
	}, nil
}

// MemoryCount returns the number of device memory objects currently allocated through this Device
func (d *Device) MemoryCount() int {
	return int(atomic.LoadUint32(&d.memoryCount))
}

func (d *Device) MemoryProperties() *core1_0.PhysicalDeviceMemoryProperties {
	return d.memoryProperties
}

func (d *Device) AllocateMemory(size int, memoryTypeIndex int) (memory core1_0.DeviceMemory, res common.VkResult, err error) {
	if memoryTypeIndex < 0 || memoryTypeIndex >= len(d.memoryProperties.MemoryTypes) {
		return nil, core1_0.VKErrorUnknown, errors.Newf("attempted to allocate from unsupported memory type index %d", memoryTypeIndex)
	}

	newDeviceCount := atomic.AddUint32(&d.memoryCount, 1)
	defer func() {
		// If we failed out, roll back the device increment
		if err != nil {
			atomic.AddUint32(&d.memoryCount, ^uint32(0))
		}
	}()

	if int(newDeviceCount) > d.deviceProperties.Limits.MaxMemoryAllocationCount {
		return nil, core1_0.VKErrorTooManyObjects, core1_0.VKErrorTooManyObjects.ToError()
	}

	return d.device.AllocateMemory(d.allocationCallbacks, core1_0.MemoryAllocateInfo{
		AllocationSize:  size,
		MemoryTypeIndex: memoryTypeIndex,
	})
}

func (d *Device) FreeMemory(memory core1_0.DeviceMemory) {
	memory.Free(d.allocationCallbacks)
	// Decrement
	atomic.AddUint32(&d.memoryCount, ^uint32(0))
}

// FindMemoryTypeIndex resolves properties as required flags and the Device's PreferredProperties
// as preferred flags
func (d *Device) FindMemoryTypeIndex(memoryTypeBits uint32, properties core1_0.MemoryPropertyFlags) (int, error) {
	return FindMemoryTypeIndex(d.memoryProperties, memoryTypeBits, properties, d.PreferredProperties)
}

func (d *Device) NonCoherentAtomSize() int {
	return d.deviceProperties.Limits.NonCoherentAtomSize
}

func (d *Device) MapMemory(memory core1_0.DeviceMemory, offset, size int) (unsafe.Pointer, common.VkResult, error) {
	return memory.Map(offset, size, 0)
}

func (d *Device) UnmapMemory(memory core1_0.DeviceMemory) {
	memory.Unmap()
}

type CacheOperation uint32

const (
	CacheOperationFlush CacheOperation = iota
	CacheOperationInvalidate
)

var cacheOperationMapping = make(map[CacheOperation]string)

func (o CacheOperation) String() string {
	return cacheOperationMapping[o]
}

func init() {
	cacheOperationMapping[CacheOperationFlush] = "CacheOperationFlush"
	cacheOperationMapping[CacheOperationInvalidate] = "CacheOperationInvalidate"
}

func (d *Device) flushOrInvalidate(memory core1_0.DeviceMemory, offset, size int, operation CacheOperation) (common.VkResult, error) {
	memRanges := []core1_0.MappedMemoryRange{
		{
			Memory: memory,
			Offset: offset,
			Size:   size,
		},
	}

	switch operation {
	case CacheOperationFlush:
		return d.device.FlushMappedMemoryRanges(memRanges)
	case CacheOperationInvalidate:
		return d.device.InvalidateMappedMemoryRanges(memRanges)
	}

	return core1_0.VKErrorUnknown, errors.Newf("attempted to carry out invalid cache operation %s", operation.String())
}

func (d *Device) FlushMappedMemoryRange(memory core1_0.DeviceMemory, offset, size int) (common.VkResult, error) {
	return d.flushOrInvalidate(memory, offset, size, CacheOperationFlush)
}

func (d *Device) InvalidateMappedMemoryRange(memory core1_0.DeviceMemory, offset, size int) (common.VkResult, error) {
	return d.flushOrInvalidate(memory, offset, size, CacheOperationInvalidate)
}

func (d *Device) WaitIdle() (common.VkResult, error) {
	return d.device.WaitIdle()
}

func (d *Device) CreateBuffer(createInfo core1_0.BufferCreateInfo) (core1_0.Buffer, common.VkResult, error) {
	return d.device.CreateBuffer(d.allocationCallbacks, createInfo)
}

func (d *Device) DestroyBuffer(buffer core1_0.Buffer) {
	buffer.Destroy(d.allocationCallbacks)
}

func (d *Device) BufferMemoryRequirements(buffer core1_0.Buffer) core1_0.MemoryRequirements {
	return *buffer.MemoryRequirements()
}

func (d *Device) BindBufferMemory(buffer core1_0.Buffer, memory core1_0.DeviceMemory, offset int) (common.VkResult, error) {
	return buffer.BindBufferMemory(memory, offset)
}

func (d *Device) CreateImage(createInfo core1_0.ImageCreateInfo) (core1_0.Image, common.VkResult, error) {
	return d.device.CreateImage(d.allocationCallbacks, createInfo)
}

func (d *Device) DestroyImage(image core1_0.Image) {
	image.Destroy(d.allocationCallbacks)
}

func (d *Device) ImageMemoryRequirements(image core1_0.Image) core1_0.MemoryRequirements {
	return *image.MemoryRequirements()
}

func (d *Device) BindImageMemory(image core1_0.Image, memory core1_0.DeviceMemory, offset int) (common.VkResult, error) {
	return image.BindImageMemory(memory, offset)
}

func (d *Device) CreateImageView(createInfo core1_0.ImageViewCreateInfo) (core1_0.ImageView, common.VkResult, error) {
	return d.device.CreateImageView(d.allocationCallbacks, createInfo)
}

func (d *Device) DestroyImageView(view core1_0.ImageView) {
	view.Destroy(d.allocationCallbacks)
}
