package suballoc

import (
	"fmt"
	"log/slog"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
)

// Buffer is a device buffer bound to a region of suballocated memory
type Buffer struct {
	allocator  *Allocator
	handle     core1_0.Buffer
	allocation SubAllocation
}

func (b *Buffer) Handle() core1_0.Buffer { return b.handle }

func (b *Buffer) Allocation() *SubAllocation { return &b.allocation }

func (b *Buffer) Map() (unsafe.Pointer, common.VkResult, error) {
	return b.allocation.Map()
}

func (b *Buffer) Unmap() error {
	return b.allocation.Unmap()
}

// Flush makes host writes to the whole buffer visible to the device
func (b *Buffer) Flush() (common.VkResult, error) {
	return b.allocation.Flush(0, -1)
}

// Destroy queues the buffer and its memory for release by the next Allocator.Flush or
// Allocator.RetireFrame. The Buffer can be reused afterward.
func (b *Buffer) Destroy() error {
	if b.handle == nil {
		return errors.New("attempted to destroy a buffer that was never created")
	}

	b.allocator.logger.Debug("Buffer::Destroy")

	b.allocator.mutex.Lock()
	defer b.allocator.mutex.Unlock()

	b.allocator.enqueue(PendingRelease{
		Kind:       ReleaseBuffer,
		Buffer:     b.handle,
		Allocation: liveAllocation(b.allocation),
	})
	*b = Buffer{}
	return nil
}

// liveAllocation drops a region whose block Clear already freed, so destroying the resource
// only destroys its handles
func liveAllocation(alloc SubAllocation) SubAllocation {
	if !alloc.Allocated() {
		return SubAllocation{}
	}
	return alloc
}

// Image is a device image and its default view, bound to a region of suballocated memory
type Image struct {
	allocator  *Allocator
	handle     core1_0.Image
	view       core1_0.ImageView
	allocation SubAllocation
}

func (i *Image) Handle() core1_0.Image { return i.handle }

func (i *Image) View() core1_0.ImageView { return i.view }

func (i *Image) Allocation() *SubAllocation { return &i.allocation }

// Destroy queues the view, the image and its memory for release by the next Allocator.Flush or
// Allocator.RetireFrame. The Image can be reused afterward.
func (i *Image) Destroy() error {
	if i.handle == nil {
		return errors.New("attempted to destroy an image that was never created")
	}

	i.allocator.logger.Debug("Image::Destroy")

	i.allocator.mutex.Lock()
	defer i.allocator.mutex.Unlock()

	i.allocator.enqueue(PendingRelease{
		Kind:       ReleaseImage,
		Image:      i.handle,
		View:       i.view,
		Allocation: liveAllocation(i.allocation),
	})
	*i = Image{}
	return nil
}

// CreateBuffer creates an exclusive-sharing buffer of size bytes, suballocates memory with the
// requested properties for it, and binds the two. If any step fails, the pieces already created
// are torn down immediately, since the device has never seen them.
func (a *Allocator) CreateBuffer(size int, usage core1_0.BufferUsageFlags, properties core1_0.MemoryPropertyFlags, outBuffer *Buffer) (common.VkResult, error) {
	a.logger.Debug("Allocator::CreateBuffer", slog.Int("Size", size), slog.String("Usage", usage.String()))

	if outBuffer == nil {
		return core1_0.VKErrorUnknown, errors.New("attempted to create into a nil buffer")
	}
	if outBuffer.handle != nil {
		return core1_0.VKErrorUnknown, errors.Wrap(ErrAlreadyCreated, "attempted to create into a buffer that is still live")
	}
	if size < 1 {
		return core1_0.VKErrorUnknown, errors.Newf("buffer size must be a positive integer, but was %d", size)
	}

	buffer, res, err := a.device.CreateBuffer(core1_0.BufferCreateInfo{
		Size:        size,
		Usage:       usage,
		SharingMode: core1_0.SharingModeExclusive,
	})
	if err != nil {
		return res, markError(err, ErrResourceCreationFailed, "failed to create a buffer of %d bytes", size)
	}

	a.mutex.Lock()
	defer a.mutex.Unlock()

	var allocation SubAllocation
	res, err = a.allocate(a.device.BufferMemoryRequirements(buffer), properties, &allocation)
	if err != nil {
		a.device.DestroyBuffer(buffer)
		return res, err
	}

	res, err = allocation.BindBuffer(buffer)
	if err != nil {
		a.rollback(&allocation)
		a.device.DestroyBuffer(buffer)
		return res, err
	}

	*outBuffer = Buffer{
		allocator:  a,
		handle:     buffer,
		allocation: allocation,
	}
	return res, nil
}

// CreateImage creates an image from imageInfo, suballocates memory with the requested properties
// for it, binds the two, and creates a view from viewInfo. The view's Image field is filled in.
// If any step fails, the pieces already created are torn down immediately.
func (a *Allocator) CreateImage(imageInfo core1_0.ImageCreateInfo, viewInfo core1_0.ImageViewCreateInfo, properties core1_0.MemoryPropertyFlags, outImage *Image) (common.VkResult, error) {
	a.logger.Debug("Allocator::CreateImage",
		slog.Int("Width", imageInfo.Extent.Width),
		slog.Int("Height", imageInfo.Extent.Height),
	)

	if outImage == nil {
		return core1_0.VKErrorUnknown, errors.New("attempted to create into a nil image")
	}
	if outImage.handle != nil {
		return core1_0.VKErrorUnknown, errors.Wrap(ErrAlreadyCreated, "attempted to create into an image that is still live")
	}

	image, res, err := a.device.CreateImage(imageInfo)
	if err != nil {
		return res, markError(err, ErrResourceCreationFailed, "failed to create a %dx%d image", imageInfo.Extent.Width, imageInfo.Extent.Height)
	}

	a.mutex.Lock()
	defer a.mutex.Unlock()

	var allocation SubAllocation
	res, err = a.allocate(a.device.ImageMemoryRequirements(image), properties, &allocation)
	if err != nil {
		a.device.DestroyImage(image)
		return res, err
	}

	res, err = allocation.BindImage(image)
	if err != nil {
		a.rollback(&allocation)
		a.device.DestroyImage(image)
		return res, err
	}

	viewInfo.Image = image
	view, res, err := a.device.CreateImageView(viewInfo)
	if err != nil {
		a.rollback(&allocation)
		a.device.DestroyImage(image)
		return res, markError(err, ErrResourceCreationFailed, "failed to create an image view")
	}

	*outImage = Image{
		allocator:  a,
		handle:     image,
		view:       view,
		allocation: allocation,
	}
	return res, nil
}

// rollback returns a region straight to its block, bypassing the release queue. It is only
// valid for regions no submitted work can reference.
func (a *Allocator) rollback(allocation *SubAllocation) {
	err := allocation.block.Free(allocation.head, allocation.tail)
	if err != nil {
		panic(fmt.Sprintf("failed to roll back a suballocation: %+v", err))
	}
	*allocation = SubAllocation{}
}
