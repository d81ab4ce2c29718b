package admission

import (
	"context"
	"time"
)

// item is a queued operation awaiting a concurrency slot.
type item struct {
	id         string
	priority   int
	seq        uint64
	enqueuedAt time.Time
	op         func(context.Context) error
	ctx        context.Context
	done       chan error
	timer      *time.Timer
	index      int
}

// itemHeap orders by descending priority, then ascending sequence, so
// equal-priority items stay FIFO.
type itemHeap []*item

func (h itemHeap) Len() int { return len(h) }

func (h itemHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	return h[i].seq < h[j].seq
}

func (h itemHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *itemHeap) Push(x any) {
	it := x.(*item)
	it.index = len(*h)
	*h = append(*h, it)
}

func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	*h = old[:n-1]
	return it
}
