package vulkan

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/suballoc/internal/utils"
)

// MemoryMapper is the subset of the device used to map, unmap and free backing memory
type MemoryMapper interface {
	MapMemory(memory core1_0.DeviceMemory, offset, size int) (unsafe.Pointer, common.VkResult, error)
	UnmapMemory(memory core1_0.DeviceMemory)
	FreeMemory(memory core1_0.DeviceMemory)
}

// SynchronizedMemory wraps one backing device memory allocation that is shared by many
// suballocations. A device memory object may only be mapped once at a time, so mappings
// are reference counted: the first Map maps the whole allocation and the last Unmap unmaps it.
type SynchronizedMemory struct {
	mapReferences int
	mapData       unsafe.Pointer

	mapMutex utils.OptionalRWMutex
	memory   core1_0.DeviceMemory
	size     int
}

func NewSynchronizedMemory(memory core1_0.DeviceMemory, size int, useMutex bool) *SynchronizedMemory {
	return &SynchronizedMemory{
		memory: memory,
		size:   size,
		mapMutex: utils.OptionalRWMutex{
			UseMutex: useMutex,
		},
	}
}

func (m *SynchronizedMemory) VulkanDeviceMemory() core1_0.DeviceMemory {
	return m.memory
}

func (m *SynchronizedMemory) Size() int {
	return m.size
}

func (m *SynchronizedMemory) References() int {
	m.mapMutex.RLock()
	defer m.mapMutex.RUnlock()

	return m.mapReferences
}

func (m *SynchronizedMemory) MappedData() unsafe.Pointer {
	m.mapMutex.RLock()
	defer m.mapMutex.RUnlock()

	return m.mapData
}

// Map adds references to the mapping of this memory and returns a pointer to the start of the
// allocation, mapping it if no references were held.
func (m *SynchronizedMemory) Map(mapper MemoryMapper, references int) (unsafe.Pointer, common.VkResult, error) {
	if references < 1 {
		return nil, core1_0.VKSuccess, nil
	}

	m.mapMutex.Lock()
	defer m.mapMutex.Unlock()

	if m.memory == nil {
		return nil, core1_0.VKErrorMemoryMapFailed, errors.New("attempted to map device memory that has already been freed")
	}

	if m.mapReferences > 0 {
		if m.mapData == nil {
			return nil, core1_0.VKErrorUnknown, errors.New("the memory is showing existing mapping references, but no mapped memory")
		}

		m.mapReferences += references
		return m.mapData, core1_0.VKSuccess, nil
	}

	mappedData, res, err := mapper.MapMemory(m.memory, 0, m.size)
	if err != nil {
		return nil, res, err
	}

	m.mapData = mappedData
	m.mapReferences = references
	return mappedData, res, nil
}

// Unmap removes references from the mapping of this memory, unmapping it when none remain
func (m *SynchronizedMemory) Unmap(mapper MemoryMapper, references int) error {
	m.mapMutex.Lock()
	defer m.mapMutex.Unlock()

	if m.mapReferences == 0 {
		return nil
	}

	if m.mapReferences < references {
		return errors.Newf("attempted to remove %d mapping references from memory that only has %d", references, m.mapReferences)
	}

	m.mapReferences -= references
	if m.mapReferences == 0 {
		mapper.UnmapMemory(m.memory)
		m.mapData = nil
	}

	return nil
}

// FreeMemory releases the backing allocation. Outstanding mappings are dropped first.
func (m *SynchronizedMemory) FreeMemory(mapper MemoryMapper) {
	m.mapMutex.Lock()
	defer m.mapMutex.Unlock()

	if m.memory == nil {
		return
	}

	if m.mapReferences > 0 {
		mapper.UnmapMemory(m.memory)
		m.mapReferences = 0
		m.mapData = nil
	}

	mapper.FreeMemory(m.memory)
	m.memory = nil
}

// IsFreed reports whether FreeMemory has been called
func (m *SynchronizedMemory) IsFreed() bool {
	m.mapMutex.RLock()
	defer m.mapMutex.RUnlock()

	return m.memory == nil
}
