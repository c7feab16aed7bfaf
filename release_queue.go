package suballoc

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/core1_0"
)

// ReleaseKind identifies what a PendingRelease tears down
type ReleaseKind int

const (
	// ReleaseAllocation returns a bare SubAllocation to its block
	ReleaseAllocation ReleaseKind = iota
	// ReleaseBuffer returns a Buffer's region and destroys the buffer
	ReleaseBuffer
	// ReleaseImage returns an Image's region and destroys the view and the image
	ReleaseImage
)

func (k ReleaseKind) String() string {
	switch k {
	case ReleaseAllocation:
		return "ReleaseAllocation"
	case ReleaseBuffer:
		return "ReleaseBuffer"
	case ReleaseImage:
		return "ReleaseImage"
	}

	return "unknown"
}

// PendingRelease is one deferred teardown waiting for the device to stop using it
type PendingRelease struct {
	Kind       ReleaseKind
	Buffer     core1_0.Buffer
	Image      core1_0.Image
	View       core1_0.ImageView
	Allocation SubAllocation
	// Frame is the value of the allocator's frame counter when the release was requested
	Frame uint64
}

// releaseQueue is a FIFO of pending releases. Frames are nondecreasing from front to back.
type releaseQueue struct {
	records []PendingRelease
}

func (q *releaseQueue) Len() int {
	return len(q.records)
}

func (q *releaseQueue) Push(record PendingRelease) {
	q.records = append(q.records, record)
}

// RetiredCount returns the length of the prefix of records stamped with a frame no later than completed
func (q *releaseQueue) RetiredCount(completed uint64) int {
	for i, record := range q.records {
		if record.Frame > completed {
			return i
		}
	}
	return len(q.records)
}

// PopFront removes and returns the first count records
func (q *releaseQueue) PopFront(count int) []PendingRelease {
	popped := q.records[:count:count]
	q.records = append([]PendingRelease(nil), q.records[count:]...)
	return popped
}

func (q *releaseQueue) Snapshot() []PendingRelease {
	return append([]PendingRelease(nil), q.records...)
}

// execute returns the record's region to its block and then destroys its handles. Every step is
// attempted even if an earlier one fails.
func (r *PendingRelease) execute(device Device) error {
	var err error

	alloc := &r.Allocation
	if alloc.block != nil {
		if alloc.mapCount > 0 && !alloc.block.IsFreed() {
			err = errors.CombineErrors(err, alloc.block.memory.Unmap(device, alloc.mapCount))
			alloc.mapCount = 0
		}

		freeErr := alloc.block.Free(alloc.head, alloc.tail)
		if freeErr != nil {
			err = errors.CombineErrors(err, errors.Wrapf(freeErr, "failed to release %s", r.Kind))
		}
	}

	if r.View != nil {
		device.DestroyImageView(r.View)
	}
	if r.Image != nil {
		device.DestroyImage(r.Image)
	}
	if r.Buffer != nil {
		device.DestroyBuffer(r.Buffer)
	}

	return err
}
