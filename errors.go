package suballoc

import "github.com/cockroachdb/errors"

var (
	// ErrResourceCreationFailed indicates the device refused to create a buffer, image or image view
	ErrResourceCreationFailed = errors.New("resource creation failed")
	// ErrNoCompatibleMemoryType indicates no memory type satisfies both a resource's type bits and the
	// requested memory properties
	ErrNoCompatibleMemoryType = errors.New("no compatible memory type")
	// ErrAlreadyCreated indicates an out parameter passed to Allocate, CreateBuffer or CreateImage
	// still holds a live object
	ErrAlreadyCreated = errors.New("object already created")
	// ErrAllocationFailed indicates the device could not provide backing memory for a new block
	ErrAllocationFailed = errors.New("device memory allocation failed")
	// ErrBindFailed indicates the device refused to bind a resource to suballocated memory
	ErrBindFailed = errors.New("memory bind failed")
	// ErrStaleAllocation indicates an operation on a suballocation whose block has been freed by
	// Allocator.Clear or Allocator.Destroy
	ErrStaleAllocation = errors.New("suballocation refers to a freed memory block")
)

// markError wraps a driver error with context and tags it with a sentinel so callers can use errors.Is
func markError(err error, sentinel error, format string, args ...any) error {
	if err == nil {
		err = sentinel
	}
	return errors.Mark(errors.Wrapf(err, format, args...), sentinel)
}
