// Package freelist tracks the unused byte ranges of a single memory block. Two implementations
// are provided: FirstFitList keeps a flat slice and never merges neighbouring ranges, and
// CoalescingList keeps an ordered B-tree and merges adjacent ranges as they are freed.
// Both hand out the lowest-addressed range that is large enough.
package freelist

import (
	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/suballoc/memutils"
)

var (
	// ErrRangeOutOfBounds is returned when a freed range does not lie inside the block
	ErrRangeOutOfBounds = errors.New("range lies outside of the block")
	// ErrRangeOverlap is returned when a freed range overlaps space that is already free, which
	// usually indicates a double free
	ErrRangeOverlap = errors.New("range overlaps a free range")
)

// Range is a half-open [Head, Tail) byte interval inside one block
type Range struct {
	Head int
	Tail int
}

func (r Range) Size() int { return r.Tail - r.Head }

// Overlaps reports whether r and other share at least one byte
func (r Range) Overlaps(other Range) bool {
	return r.Head < other.Tail && other.Head < r.Tail
}

// FreeList manages the unused space of one block of memory.
type FreeList interface {
	// Init sizes the list for a block of size bytes, all of which start out free
	Init(size int)
	// Size returns the capacity of the block in bytes
	Size() int
	// Allocate carves size bytes out of the first free range large enough to hold them and
	// returns the head of the carved region. ok is false if no range is large enough.
	Allocate(size int) (head int, ok bool)
	// Free returns a previously-allocated range to the list. An error is returned if the range
	// lies outside the block or overlaps space that is already free.
	Free(r Range) error
	// SumFreeSize returns the number of free bytes in the block
	SumFreeSize() int
	// FreeRegionsCount returns the number of distinct free ranges
	FreeRegionsCount() int
	// VisitFreeRanges calls visit for each free range in ascending head order until visit
	// returns false
	VisitFreeRanges(visit func(r Range) bool)
	// Validate performs internal consistency checks
	Validate() error
	// AddDetailedStatistics sums this list's free ranges into stats
	AddDetailedStatistics(stats *memutils.DetailedStatistics)
	// BlockJsonData populates a json object with information about the free space of this block
	BlockJsonData(json *jwriter.ObjectState)
	// Clear marks the entire block as free again
	Clear()
}

type listBase struct {
	size    int
	sumFree int
}

func (b *listBase) Size() int        { return b.size }
func (b *listBase) SumFreeSize() int { return b.sumFree }

func (b *listBase) checkBounds(r Range) error {
	if r.Head < 0 || r.Tail > b.size || r.Head >= r.Tail {
		return errors.Wrapf(ErrRangeOutOfBounds, "range [%d, %d) in block of size %d", r.Head, r.Tail, b.size)
	}
	return nil
}

// validateRanges walks the ranges in ascending order and checks the invariants shared by every
// implementation. When allowAdjacent is false, two ranges touching each other are also an error.
func (b *listBase) validateRanges(visit func(func(Range) bool), allowAdjacent bool) error {
	var err error
	sum := 0
	last := Range{Head: -1, Tail: 0}

	visit(func(r Range) bool {
		if r.Head >= r.Tail {
			err = errors.Newf("free range [%d, %d) is empty or inverted", r.Head, r.Tail)
			return false
		}
		if r.Head < 0 || r.Tail > b.size {
			err = errors.Newf("free range [%d, %d) lies outside of block size %d", r.Head, r.Tail, b.size)
			return false
		}
		if r.Head < last.Tail {
			err = errors.Newf("free range [%d, %d) overlaps or precedes free range [%d, %d)", r.Head, r.Tail, last.Head, last.Tail)
			return false
		}
		if !allowAdjacent && r.Head == last.Tail && last.Head >= 0 {
			err = errors.Newf("free ranges [%d, %d) and [%d, %d) are adjacent but were not merged", last.Head, last.Tail, r.Head, r.Tail)
			return false
		}

		sum += r.Size()
		last = r
		return true
	})

	if err != nil {
		return err
	}
	if sum != b.sumFree {
		return errors.Newf("free ranges sum to %d bytes but the list reports %d free bytes", sum, b.sumFree)
	}
	return nil
}

func addDetailedStatistics(list FreeList, stats *memutils.DetailedStatistics) {
	list.VisitFreeRanges(func(r Range) bool {
		stats.AddFreeRange(r.Size())
		return true
	})
}

func blockJsonData(list FreeList, json *jwriter.ObjectState) {
	json.Name("TotalBytes").Int(list.Size())
	json.Name("UnusedBytes").Int(list.SumFreeSize())
	json.Name("UnusedRanges").Int(list.FreeRegionsCount())
}
