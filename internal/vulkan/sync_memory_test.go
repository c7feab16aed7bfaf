package vulkan

import (
	"testing"
	"unsafe"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/core/v2/mocks"
)

// memoryMapper forwards to the memory object the same way the device adapter does
type memoryMapper struct{}

func (memoryMapper) MapMemory(memory core1_0.DeviceMemory, offset, size int) (unsafe.Pointer, common.VkResult, error) {
	return memory.Map(offset, size, 0)
}

func (memoryMapper) UnmapMemory(memory core1_0.DeviceMemory) {
	memory.Unmap()
}

func (memoryMapper) FreeMemory(memory core1_0.DeviceMemory) {
	memory.Free(nil)
}

func TestSynchronizedMemoryMapReferences(t *testing.T) {
	ctrl := gomock.NewController(t)

	data := make([]byte, 256)
	vkMemory := mocks.EasyMockDeviceMemory(ctrl)
	vkMemory.EXPECT().Map(0, 256, core1_0.MemoryMapFlags(0)).Return(unsafe.Pointer(&data[0]), core1_0.VKSuccess, nil)

	memory := NewSynchronizedMemory(vkMemory, 256, true)

	first, _, err := memory.Map(memoryMapper{}, 1)
	require.NoError(t, err)
	second, _, err := memory.Map(memoryMapper{}, 2)
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Equal(t, 3, memory.References())

	require.Error(t, memory.Unmap(memoryMapper{}, 4))
	require.NoError(t, memory.Unmap(memoryMapper{}, 2))
	require.NotNil(t, memory.MappedData())

	vkMemory.EXPECT().Unmap()
	require.NoError(t, memory.Unmap(memoryMapper{}, 1))
	require.Nil(t, memory.MappedData())

	// Unmapping memory with no references is a no-op
	require.NoError(t, memory.Unmap(memoryMapper{}, 1))
}

func TestSynchronizedMemoryMapFailure(t *testing.T) {
	ctrl := gomock.NewController(t)

	vkMemory := mocks.EasyMockDeviceMemory(ctrl)
	vkMemory.EXPECT().Map(0, 64, core1_0.MemoryMapFlags(0)).
		Return(nil, core1_0.VKErrorMemoryMapFailed, core1_0.VKErrorMemoryMapFailed.ToError())

	memory := NewSynchronizedMemory(vkMemory, 64, false)

	_, res, err := memory.Map(memoryMapper{}, 1)
	require.Error(t, err)
	require.Equal(t, core1_0.VKErrorMemoryMapFailed, res)
	require.Equal(t, 0, memory.References())
	require.Nil(t, memory.MappedData())
}

func TestSynchronizedMemoryFree(t *testing.T) {
	ctrl := gomock.NewController(t)

	data := make([]byte, 64)
	vkMemory := mocks.EasyMockDeviceMemory(ctrl)
	vkMemory.EXPECT().Map(0, 64, core1_0.MemoryMapFlags(0)).Return(unsafe.Pointer(&data[0]), core1_0.VKSuccess, nil)
	vkMemory.EXPECT().Unmap()
	vkMemory.EXPECT().Free(nil)

	memory := NewSynchronizedMemory(vkMemory, 64, false)

	_, _, err := memory.Map(memoryMapper{}, 1)
	require.NoError(t, err)

	memory.FreeMemory(memoryMapper{})
	require.True(t, memory.IsFreed())
	require.Nil(t, memory.VulkanDeviceMemory())
	require.Equal(t, 0, memory.References())

	// A second free does not reach the device
	memory.FreeMemory(memoryMapper{})

	_, _, err = memory.Map(memoryMapper{}, 1)
	require.Error(t, err)
}
