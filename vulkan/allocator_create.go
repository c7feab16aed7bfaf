package vulkan

import (
	"log/slog"

	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/core/v2/driver"
	"github.com/vkngwrapper/suballoc"
)

// NewAllocator creates a suballoc.Allocator that allocates from device
//
// physicalDevice - The PhysicalDevice that owns the provided Device
//
// device - The Device that memory will be allocated into
//
// callbacks - Optional host allocation callbacks passed to every Vulkan call the allocator makes
//
// options - Optional parameters: it is valid to leave all the fields blank
func NewAllocator(
	logger *slog.Logger,
	device core1_0.Device,
	physicalDevice core1_0.PhysicalDevice,
	callbacks *driver.AllocationCallbacks,
	options suballoc.CreateOptions,
) (*suballoc.Allocator, error) {
	wrapped, err := NewDevice(device, physicalDevice, callbacks)
	if err != nil {
		return nil, err
	}

	return suballoc.New(logger, wrapped, options)
}
