package freelist

import (
	"github.com/cockroachdb/errors"
	"github.com/google/btree"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/suballoc/memutils"
)

const coalescingTreeDegree = 8

func rangeLess(a, b Range) bool {
	return a.Head < b.Head
}

// CoalescingList keeps free ranges in a B-tree ordered by head. Inserting and removing a range
// is logarithmic, and a freed range is merged with any free neighbour it touches, so the
// list never holds two adjacent ranges.
type CoalescingList struct {
	listBase
	tree *btree.BTreeG[Range]
}

var _ FreeList = &CoalescingList{}

func NewCoalescingList() *CoalescingList {
	return &CoalescingList{}
}

func (l *CoalescingList) Init(size int) {
	l.size = size
	l.Clear()
}

func (l *CoalescingList) Clear() {
	if l.tree == nil {
		l.tree = btree.NewG[Range](coalescingTreeDegree, rangeLess)
	} else {
		l.tree.Clear(true)
	}

	l.sumFree = l.size
	if l.size > 0 {
		l.tree.ReplaceOrInsert(Range{Head: 0, Tail: l.size})
	}
}

func (l *CoalescingList) Allocate(size int) (int, bool) {
	if size < 1 {
		return 0, false
	}

	var found Range
	ok := false
	l.tree.Ascend(func(r Range) bool {
		if r.Size() >= size {
			found = r
			ok = true
			return false
		}
		return true
	})

	if !ok {
		return 0, false
	}

	l.tree.Delete(found)
	if found.Size() > size {
		l.tree.ReplaceOrInsert(Range{Head: found.Head + size, Tail: found.Tail})
	}
	l.sumFree -= size

	return found.Head, true
}

func (l *CoalescingList) Free(r Range) error {
	err := l.checkBounds(r)
	if err != nil {
		return err
	}

	var prev, next Range
	var hasPrev, hasNext bool

	l.tree.DescendLessOrEqual(Range{Head: r.Head}, func(item Range) bool {
		prev = item
		hasPrev = true
		return false
	})
	l.tree.AscendGreaterOrEqual(Range{Head: r.Head}, func(item Range) bool {
		next = item
		hasNext = true
		return false
	})

	if hasPrev && prev.Overlaps(r) {
		return newOverlapError(r, prev)
	}
	if hasNext && next.Overlaps(r) {
		return newOverlapError(r, next)
	}

	merged := r
	if hasPrev && prev.Tail == r.Head {
		l.tree.Delete(prev)
		merged.Head = prev.Head
	}
	if hasNext && next.Head == r.Tail {
		l.tree.Delete(next)
		merged.Tail = next.Tail
	}

	l.tree.ReplaceOrInsert(merged)
	l.sumFree += r.Size()

	return nil
}

func (l *CoalescingList) FreeRegionsCount() int { return l.tree.Len() }

func (l *CoalescingList) VisitFreeRanges(visit func(r Range) bool) {
	l.tree.Ascend(func(r Range) bool {
		return visit(r)
	})
}

func (l *CoalescingList) Validate() error {
	if l.tree == nil {
		return errors.New("coalescing free list was not initialized")
	}
	return l.validateRanges(l.VisitFreeRanges, false)
}

func (l *CoalescingList) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	addDetailedStatistics(l, stats)
}

func (l *CoalescingList) BlockJsonData(json *jwriter.ObjectState) {
	blockJsonData(l, json)
}

func newOverlapError(freed, existing Range) error {
	return errors.Wrapf(ErrRangeOverlap, "freed range [%d, %d) overlaps free range [%d, %d)",
		freed.Head, freed.Tail, existing.Head, existing.Tail)
}
