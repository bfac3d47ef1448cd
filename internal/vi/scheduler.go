package vi

import (
	"container/heap"
	"time"
)

// pendingEntry is one scheduled unsubscribe. Entries are never removed from
// the heap on cancellation; a stale generation marks them dead and they are
// skipped when they surface.
type pendingEntry struct {
	symbol   string
	deadline time.Time
	gen      uint64
}

type pendingHeap []pendingEntry

func (h pendingHeap) Len() int            { return len(h) }
func (h pendingHeap) Less(i, j int) bool  { return h[i].deadline.Before(h[j].deadline) }
func (h pendingHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *pendingHeap) Push(x interface{}) { *h = append(*h, x.(pendingEntry)) }

func (h *pendingHeap) Pop() interface{} {
	old := *h
	n := len(old)
	entry := old[n-1]
	*h = old[:n-1]
	return entry
}

func (h pendingHeap) peek() pendingEntry {
	return h[0]
}

func newPendingHeap() *pendingHeap {
	h := make(pendingHeap, 0, 16)
	heap.Init(&h)
	return &h
}
