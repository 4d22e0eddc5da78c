package reader

import "container/heap"

// Set is the Reader Set: a min-heap of currently-open Readers, ordered by
// (head-record timestamp, collector, dump type RIB<UPDATES, insertion
// sequence), satisfying the ordering contract in spec.md §4.4's merge
// invariant. Any min-heap, ordered map, or tournament tree satisfies this
// contract (spec.md §9); this picks container/heap.
type Set struct {
	h       readerHeap
	nextSeq uint64
}

// NewSet returns an empty Reader Set.
func NewSet() *Set {
	s := &Set{}
	heap.Init(&s.h)
	return s
}

// Add inserts r into the set. r must already be in READY (primed by
// Open); callers should not add a Reader that is OPENING, EOF, or
// FAILED — those states are not visible to the priority structure per
// spec.md §4.4.
func (s *Set) Add(r *Reader) {
	item := &heapItem{reader: r, seq: s.nextSeq}
	s.nextSeq++
	heap.Push(&s.h, item)
}

// Len reports how many Readers are currently open.
func (s *Set) Len() int { return s.h.Len() }

// Empty reports whether every known input is exhausted for the current
// window, per spec.md §3's Reader Set invariant.
func (s *Set) Empty() bool { return s.h.Len() == 0 }

// PopNext implements the emission step from spec.md §4.4: it removes the
// minimum-keyed reader, returns its head record, advances that reader,
// and reinserts it (or drops it on EOF/FAILED).
func (s *Set) PopNext() (*Record, *Reader, bool) {
	if s.h.Len() == 0 {
		return nil, nil, false
	}
	item := heap.Pop(&s.h).(*heapItem)
	r := item.reader
	rec := r.Head()

	r.Advance()
	switch r.State() {
	case StateReady:
		heap.Push(&s.h, &heapItem{reader: r, seq: item.seq})
	default:
		// EOF or FAILED: drop from the merge. Caller is responsible for
		// inspecting r.Err() / r.State() for FAILED diagnostics and
		// closing r (Advance/pullHead already closed the handle).
	}
	return rec, r, true
}

// CloseAll closes every reader currently held by the set without
// advancing them, and empties the set. Used by coordinator teardown,
// where decoding further would be pointless work on the way out.
func (s *Set) CloseAll() {
	for _, item := range s.h {
		item.reader.Close()
	}
	s.h = nil
}

// heapItem pairs a Reader with its original insertion sequence so ties
// (equal timestamp, collector, dump type) break by insertion order even
// after repeated Push/Pop cycles change its position in the underlying
// slice.
type heapItem struct {
	reader *Reader
	seq    uint64
}

type readerHeap []*heapItem

func (h readerHeap) Len() int { return len(h) }

func (h readerHeap) Less(i, j int) bool {
	a, b := h[i].reader.Head(), h[j].reader.Head()
	if a.Timestamp != b.Timestamp {
		return a.Timestamp < b.Timestamp
	}
	if a.Collector != b.Collector {
		return a.Collector < b.Collector
	}
	if a.Type != b.Type {
		return a.Type == 0 // inputdesc.TypeRIB == 0, RIB sorts before UPDATES
	}
	return h[i].seq < h[j].seq
}

func (h readerHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *readerHeap) Push(x any) {
	*h = append(*h, x.(*heapItem))
}

func (h *readerHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
