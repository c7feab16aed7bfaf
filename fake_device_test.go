package suballoc

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
)

type fakeMemory struct {
	core1_0.DeviceMemory
	id        int
	size      int
	typeIndex int
	data      []byte
	mapped    bool
	freed     bool
}

type fakeBuffer struct {
	core1_0.Buffer
	id   int
	size int
}

type fakeImage struct {
	core1_0.Image
	id int
}

type fakeImageView struct {
	core1_0.ImageView
	id    int
	image core1_0.Image
}

type fakeBinding struct {
	resource any
	memory   *fakeMemory
	offset   int
}

type fakeRange struct {
	memory *fakeMemory
	offset int
	size   int
}

// fakeDevice records every call the allocator makes so tests can make assertions about them
type fakeDevice struct {
	memoryTypes         []core1_0.MemoryPropertyFlags
	nonCoherentAtomSize int
	bufferAlignment     int
	imageRequirements   core1_0.MemoryRequirements

	nextId      int
	memories    []*fakeMemory
	mapCalls    int
	unmapCalls  int
	flushes     []fakeRange
	invalidates []fakeRange
	waitIdles   int
	bindings    []fakeBinding

	liveBuffers map[*fakeBuffer]bool
	liveImages  map[*fakeImage]bool
	liveViews   map[*fakeImageView]bool
	destroyLog  []string

	failAllocate     error
	failWaitIdle     error
	failCreateBuffer error
	failCreateImage  error
	failCreateView   error
	failBind         error
}

var _ Device = &fakeDevice{}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{
		memoryTypes: []core1_0.MemoryPropertyFlags{
			core1_0.MemoryPropertyDeviceLocal,
			core1_0.MemoryPropertyHostVisible | core1_0.MemoryPropertyHostCoherent,
			core1_0.MemoryPropertyHostVisible | core1_0.MemoryPropertyHostCached,
		},
		nonCoherentAtomSize: 1,
		bufferAlignment:     16,
		imageRequirements: core1_0.MemoryRequirements{
			Size:           4096,
			Alignment:      256,
			MemoryTypeBits: 0xffffffff,
		},
		liveBuffers: make(map[*fakeBuffer]bool),
		liveImages:  make(map[*fakeImage]bool),
		liveViews:   make(map[*fakeImageView]bool),
	}
}

func (d *fakeDevice) id() int {
	d.nextId++
	return d.nextId
}

func (d *fakeDevice) liveMemories() []*fakeMemory {
	var live []*fakeMemory
	for _, memory := range d.memories {
		if !memory.freed {
			live = append(live, memory)
		}
	}
	return live
}

func (d *fakeDevice) AllocateMemory(size int, memoryTypeIndex int) (core1_0.DeviceMemory, common.VkResult, error) {
	if d.failAllocate != nil {
		return nil, core1_0.VKErrorOutOfDeviceMemory, d.failAllocate
	}

	memory := &fakeMemory{id: d.id(), size: size, typeIndex: memoryTypeIndex}
	d.memories = append(d.memories, memory)
	return memory, core1_0.VKSuccess, nil
}

func (d *fakeDevice) FreeMemory(memory core1_0.DeviceMemory) {
	fake := memory.(*fakeMemory)
	if fake.freed {
		panic("double free of device memory")
	}
	fake.freed = true
}

func (d *fakeDevice) FindMemoryTypeIndex(memoryTypeBits uint32, properties core1_0.MemoryPropertyFlags) (int, error) {
	for index, flags := range d.memoryTypes {
		if memoryTypeBits&(1<<index) != 0 && flags&properties == properties {
			return index, nil
		}
	}
	return -1, errors.Newf("no memory type in %#x has properties %d", memoryTypeBits, properties)
}

func (d *fakeDevice) NonCoherentAtomSize() int {
	return d.nonCoherentAtomSize
}

func (d *fakeDevice) MapMemory(memory core1_0.DeviceMemory, offset, size int) (unsafe.Pointer, common.VkResult, error) {
	fake := memory.(*fakeMemory)
	if fake.mapped {
		return nil, core1_0.VKErrorMemoryMapFailed, errors.New("memory is already mapped")
	}
	if fake.data == nil {
		fake.data = make([]byte, fake.size)
	}

	d.mapCalls++
	fake.mapped = true
	return unsafe.Pointer(&fake.data[offset]), core1_0.VKSuccess, nil
}

func (d *fakeDevice) UnmapMemory(memory core1_0.DeviceMemory) {
	fake := memory.(*fakeMemory)
	if !fake.mapped {
		panic("unmapped memory that was not mapped")
	}

	d.unmapCalls++
	fake.mapped = false
}

func (d *fakeDevice) FlushMappedMemoryRange(memory core1_0.DeviceMemory, offset, size int) (common.VkResult, error) {
	d.flushes = append(d.flushes, fakeRange{memory: memory.(*fakeMemory), offset: offset, size: size})
	return core1_0.VKSuccess, nil
}

func (d *fakeDevice) InvalidateMappedMemoryRange(memory core1_0.DeviceMemory, offset, size int) (common.VkResult, error) {
	d.invalidates = append(d.invalidates, fakeRange{memory: memory.(*fakeMemory), offset: offset, size: size})
	return core1_0.VKSuccess, nil
}

func (d *fakeDevice) WaitIdle() (common.VkResult, error) {
	d.waitIdles++
	if d.failWaitIdle != nil {
		return core1_0.VKErrorDeviceLost, d.failWaitIdle
	}
	return core1_0.VKSuccess, nil
}

func (d *fakeDevice) CreateBuffer(createInfo core1_0.BufferCreateInfo) (core1_0.Buffer, common.VkResult, error) {
	if d.failCreateBuffer != nil {
		return nil, core1_0.VKErrorOutOfHostMemory, d.failCreateBuffer
	}

	buffer := &fakeBuffer{id: d.id(), size: createInfo.Size}
	d.liveBuffers[buffer] = true
	return buffer, core1_0.VKSuccess, nil
}

func (d *fakeDevice) DestroyBuffer(buffer core1_0.Buffer) {
	fake := buffer.(*fakeBuffer)
	if !d.liveBuffers[fake] {
		panic("destroyed a buffer that is not live")
	}
	delete(d.liveBuffers, fake)
	d.destroyLog = append(d.destroyLog, "buffer")
}

func (d *fakeDevice) BufferMemoryRequirements(buffer core1_0.Buffer) core1_0.MemoryRequirements {
	return core1_0.MemoryRequirements{
		Size:           buffer.(*fakeBuffer).size,
		Alignment:      d.bufferAlignment,
		MemoryTypeBits: 0xffffffff,
	}
}

func (d *fakeDevice) bind(resource any, memory core1_0.DeviceMemory, offset int) (common.VkResult, error) {
	if d.failBind != nil {
		return core1_0.VKErrorOutOfDeviceMemory, d.failBind
	}

	d.bindings = append(d.bindings, fakeBinding{resource: resource, memory: memory.(*fakeMemory), offset: offset})
	return core1_0.VKSuccess, nil
}

func (d *fakeDevice) BindBufferMemory(buffer core1_0.Buffer, memory core1_0.DeviceMemory, offset int) (common.VkResult, error) {
	return d.bind(buffer, memory, offset)
}

func (d *fakeDevice) CreateImage(createInfo core1_0.ImageCreateInfo) (core1_0.Image, common.VkResult, error) {
	if d.failCreateImage != nil {
		return nil, core1_0.VKErrorOutOfHostMemory, d.failCreateImage
	}

	image := &fakeImage{id: d.id()}
	d.liveImages[image] = true
	return image, core1_0.VKSuccess, nil
}

func (d *fakeDevice) DestroyImage(image core1_0.Image) {
	fake := image.(*fakeImage)
	if !d.liveImages[fake] {
		panic("destroyed an image that is not live")
	}
	delete(d.liveImages, fake)
	d.destroyLog = append(d.destroyLog, "image")
}

func (d *fakeDevice) ImageMemoryRequirements(image core1_0.Image) core1_0.MemoryRequirements {
	return d.imageRequirements
}

func (d *fakeDevice) BindImageMemory(image core1_0.Image, memory core1_0.DeviceMemory, offset int) (common.VkResult, error) {
	return d.bind(image, memory, offset)
}

func (d *fakeDevice) CreateImageView(createInfo core1_0.ImageViewCreateInfo) (core1_0.ImageView, common.VkResult, error) {
	if d.failCreateView != nil {
		return nil, core1_0.VKErrorOutOfHostMemory, d.failCreateView
	}

	view := &fakeImageView{id: d.id(), image: createInfo.Image}
	d.liveViews[view] = true
	return view, core1_0.VKSuccess, nil
}

func (d *fakeDevice) DestroyImageView(view core1_0.ImageView) {
	fake := view.(*fakeImageView)
	if !d.liveViews[fake] {
		panic("destroyed an image view that is not live")
	}
	delete(d.liveViews, fake)
	d.destroyLog = append(d.destroyLog, "view")
}
