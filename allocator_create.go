package suballoc

import (
	"log/slog"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/vkngwrapper/core/v2/common"
)

// CreateFlags indicate specific allocator behaviors to activate or deactivate
type CreateFlags int32

var allocatorCreateFlagsMapping = common.NewFlagStringMapping[CreateFlags]()

func (f CreateFlags) Register(str string) {
	allocatorCreateFlagsMapping.Register(f, str)
}
func (f CreateFlags) String() string {
	return allocatorCreateFlagsMapping.FlagsToString(f)
}

const (
	// AllocatorCreateExternallySynchronized ensures that this allocator and all objects created from it
	// will not be synchronized internally. The consumer must guarantee they are used from only one
	// thread at a time or are synchronized by some other mechanism, but performance may improve because
	// internal mutexes are not used.
	AllocatorCreateExternallySynchronized CreateFlags = 1 << iota
	// AllocatorCreateCoalesceFreeRanges makes every block merge adjacent free ranges as regions are
	// released, and keeps them in an ordered tree instead of a flat list. Without this flag, released
	// regions are never merged and a block can fragment into many small ranges.
	AllocatorCreateCoalesceFreeRanges
)

func init() {
	AllocatorCreateExternallySynchronized.Register("AllocatorCreateExternallySynchronized")
	AllocatorCreateCoalesceFreeRanges.Register("AllocatorCreateCoalesceFreeRanges")
}

const (
	// DefaultBlockSize is the block capacity used when CreateOptions.BlockSize is 0. It is equal to 256Mb.
	DefaultBlockSize int = 256 * 1024 * 1024
)

// CreateOptions contains optional settings when creating an allocator
type CreateOptions struct {
	// Flags indicates specific allocator behaviors to activate or deactivate
	Flags CreateFlags
	// BlockSize is the capacity of each new block of device memory. Requests larger than this
	// receive a block of exactly their aligned size.
	BlockSize int

	// MemoryCallbackOptions is an optional set of callbacks that will be executed when block memory
	// is allocated or freed by this allocator
	MemoryCallbackOptions *MemoryCallbackOptions
}

// New creates an Allocator that suballocates memory from device. An application will usually
// create one per device and pass it to everything that creates buffers and images.
func New(logger *slog.Logger, device Device, options CreateOptions) (*Allocator, error) {
	if device == nil {
		return nil, errors.New("attempted to create an allocator with a nil device")
	}
	if logger == nil {
		logger = slog.Default()
	}

	blockSize := options.BlockSize
	if blockSize == 0 {
		blockSize = DefaultBlockSize
	} else if blockSize < 0 {
		return nil, errors.Newf("block size must be a positive integer, but was %d", blockSize)
	}

	useMutex := options.Flags&AllocatorCreateExternallySynchronized == 0

	allocator := &Allocator{
		logger:      logger,
		device:      device,
		createFlags: options.Flags,
		blockSize:   blockSize,
		blockLists:  swiss.NewMap[MemoryTypeSignature, *blockList](42),
	}
	allocator.useMutex = useMutex
	allocator.mutex.UseMutex = useMutex
	allocator.callbacks = memoryCallbacks{
		Callbacks: options.MemoryCallbackOptions,
		Allocator: allocator,
	}

	logger.Debug("Allocator::New",
		slog.String("Flags", options.Flags.String()),
		slog.Int("BlockSize", blockSize),
	)

	return allocator, nil
}
