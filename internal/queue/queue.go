// Package queue implements the Input Queue: an ordered batch of Input
// Descriptors pending open, drained FIFO in key order into the Reader
// Set. A Queue is populated wholesale by one Data Interface poll and
// destroyed after it drains, per spec.md §3.
package queue

import (
	"sort"

	"github.com/route-beacon/bgpstream/internal/inputdesc"
)

// Queue holds Input Descriptors sorted by their ordering key ascending.
type Queue struct {
	items   []inputdesc.Descriptor
	nextSeq uint64
}

// New returns an empty Queue.
func New() *Queue {
	return &Queue{}
}

// Fill replaces the queue contents with descs, assigning each a stable
// insertion sequence (preserving the order descs were returned in, so a
// RIB and UPDATES file for the same collector with close timestamps keep
// the RIB-before-UPDATES tie-break from spec.md §4.3) and sorting by the
// Input Descriptor ordering key.
func (q *Queue) Fill(descs []inputdesc.Descriptor) {
	q.items = make([]inputdesc.Descriptor, len(descs))
	for i, d := range descs {
		q.items[i] = d.WithSeq(q.nextSeq)
		q.nextSeq++
	}
	sort.SliceStable(q.items, func(i, j int) bool {
		return inputdesc.Less(q.items[i], q.items[j])
	})
}

// Len reports how many descriptors remain queued.
func (q *Queue) Len() int { return len(q.items) }

// Empty reports whether the queue has been fully drained.
func (q *Queue) Empty() bool { return len(q.items) == 0 }

// Pop removes and returns the lowest-keyed descriptor.
func (q *Queue) Pop() (inputdesc.Descriptor, bool) {
	if len(q.items) == 0 {
		return inputdesc.Descriptor{}, false
	}
	d := q.items[0]
	q.items = q.items[1:]
	return d, true
}

// Peek returns the lowest-keyed descriptor without removing it.
func (q *Queue) Peek() (inputdesc.Descriptor, bool) {
	if len(q.items) == 0 {
		return inputdesc.Descriptor{}, false
	}
	return q.items[0], true
}
