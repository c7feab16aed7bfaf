package freelist

import (
	"sort"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/suballoc/memutils"
)

// FirstFitList keeps free ranges in a slice ordered by head. Allocation consumes the front of the
// first range that is large enough; a range that becomes empty is swapped with the last element,
// truncated away, and the remainder is re-sorted. Freed ranges are inserted in head order and
// are never merged with their neighbours, so free space fragments over repeated
// allocate/free cycles.
type FirstFitList struct {
	listBase
	ranges []Range
}

var _ FreeList = &FirstFitList{}

func NewFirstFitList() *FirstFitList {
	return &FirstFitList{}
}

func (l *FirstFitList) Init(size int) {
	l.size = size
	l.Clear()
}

func (l *FirstFitList) Clear() {
	l.ranges = l.ranges[:0]
	l.sumFree = l.size
	if l.size > 0 {
		l.ranges = append(l.ranges, Range{Head: 0, Tail: l.size})
	}
}

func (l *FirstFitList) Allocate(size int) (int, bool) {
	if size < 1 {
		return 0, false
	}

	for i := 0; i < len(l.ranges); i++ {
		current := &l.ranges[i]
		if current.Size() < size {
			continue
		}

		head := current.Head
		current.Head += size
		l.sumFree -= size

		if current.Head == current.Tail {
			last := len(l.ranges) - 1
			l.ranges[i] = l.ranges[last]
			l.ranges = l.ranges[:last]
			l.sortRanges()
		}

		return head, true
	}

	return 0, false
}

func (l *FirstFitList) Free(r Range) error {
	err := l.checkBounds(r)
	if err != nil {
		return err
	}

	index := sort.Search(len(l.ranges), func(i int) bool {
		return l.ranges[i].Head >= r.Head
	})

	if index > 0 && l.ranges[index-1].Overlaps(r) {
		prev := l.ranges[index-1]
		return newOverlapError(r, prev)
	}
	if index < len(l.ranges) && l.ranges[index].Overlaps(r) {
		next := l.ranges[index]
		return newOverlapError(r, next)
	}

	l.ranges = append(l.ranges, Range{})
	copy(l.ranges[index+1:], l.ranges[index:])
	l.ranges[index] = r
	l.sumFree += r.Size()

	return nil
}

func (l *FirstFitList) sortRanges() {
	sort.Slice(l.ranges, func(i, j int) bool {
		return l.ranges[i].Head < l.ranges[j].Head
	})
}

func (l *FirstFitList) FreeRegionsCount() int { return len(l.ranges) }

func (l *FirstFitList) VisitFreeRanges(visit func(r Range) bool) {
	for _, r := range l.ranges {
		if !visit(r) {
			return
		}
	}
}

func (l *FirstFitList) Validate() error {
	return l.validateRanges(l.VisitFreeRanges, true)
}

func (l *FirstFitList) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	addDetailedStatistics(l, stats)
}

func (l *FirstFitList) BlockJsonData(json *jwriter.ObjectState) {
	blockJsonData(l, json)
}
