package vulkan

import (
	"math"
	"math/bits"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/suballoc"
)

// FindMemoryTypeIndex picks the memory type a resource should be allocated from. A memory type is
// eligible when its bit is set in memoryTypeBits and it has every flag in required. Among eligible
// types, the one missing the fewest preferred flags wins, with ties going to the lowest index. An
// error wrapping suballoc.ErrNoCompatibleMemoryType is returned if no type is eligible.
func FindMemoryTypeIndex(
	memoryProperties *core1_0.PhysicalDeviceMemoryProperties,
	memoryTypeBits uint32,
	required core1_0.MemoryPropertyFlags,
	preferred core1_0.MemoryPropertyFlags,
) (int, error) {
	if memoryProperties == nil {
		return -1, errors.New("attempted to find a memory type with nil memory properties")
	}

	bestMemoryTypeIndex := -1
	minCost := math.MaxInt

	for memTypeIndex, memType := range memoryProperties.MemoryTypes {
		memTypeBit := uint32(1 << memTypeIndex)

		if memTypeBit&memoryTypeBits == 0 {
			// This memory type is banned by the bitmask
			continue
		}

		flags := memType.PropertyFlags
		if required&flags != required {
			// This memory type is missing required flags
			continue
		}

		missingPreferredFlags := preferred & ^flags
		cost := bits.OnesCount32(uint32(missingPreferredFlags))
		if cost == 0 {
			return memTypeIndex, nil
		} else if cost < minCost {
			bestMemoryTypeIndex = memTypeIndex
			minCost = cost
		}
	}

	if bestMemoryTypeIndex < 0 {
		return -1, errors.Wrapf(suballoc.ErrNoCompatibleMemoryType, "memory type bits %#x, required properties %s", memoryTypeBits, required)
	}

	return bestMemoryTypeIndex, nil
}
