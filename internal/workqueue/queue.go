// Package workqueue implements the priority work queue of §4.C: a
// thread-safe heap ordered by (adjusted priority, size, insertion order)
// with a blocking pop carrying a deadline and a close() that wakes every
// blocked consumer. Generalizes the per-language channel queue pattern of
// the teacher's internal/backends/lsp/queue.go into a true priority heap,
// grounded on original_source's processing_queue.py.
package workqueue

import (
	"container/heap"
	"context"
	"sync"
)

// Item is one unit of work: a file awaiting LSP processing.
type Item struct {
	Key          string // unique key, typically the file path
	BasePriority int
	RetryCount   int
	Size         int64
	Payload      interface{}

	seq   int64 // insertion order, tiebreaker
	index int   // heap index, maintained by container/heap
}

// AdjustedPriority implements §4.C's retry-urgency rule: failed files are
// retried at increasing urgency (lower number) to drain poison faster,
// floored at 1.
func (it *Item) AdjustedPriority() int {
	p := it.BasePriority - it.RetryCount
	if p < 1 {
		return 1
	}
	return p
}

type innerHeap []*Item

func (h innerHeap) Len() int { return len(h) }

func (h innerHeap) Less(i, j int) bool {
	pi, pj := h[i].AdjustedPriority(), h[j].AdjustedPriority()
	if pi != pj {
		return pi < pj
	}
	if h[i].Size != h[j].Size {
		return h[i].Size < h[j].Size
	}
	return h[i].seq < h[j].seq
}

func (h innerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *innerHeap) Push(x interface{}) {
	it := x.(*Item)
	it.index = len(*h)
	*h = append(*h, it)
}

func (h *innerHeap) Pop() interface{} {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	*h = old[:n-1]
	return it
}

// Queue is a thread-safe priority work queue. The zero value is not
// usable; construct with New.
type Queue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	heap   innerHeap
	byKey  map[string]*Item
	nextSeq int64
	closed bool
}

// New returns an empty, ready-to-use Queue.
func New() *Queue {
	q := &Queue{byKey: map[string]*Item{}}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push inserts or replaces (by Key) an item and wakes one blocked popper.
func (q *Queue) Push(it *Item) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	if existing, ok := q.byKey[it.Key]; ok {
		q.removeLocked(existing)
	}
	it.seq = q.nextSeq
	q.nextSeq++
	heap.Push(&q.heap, it)
	q.byKey[it.Key] = it
	q.cond.Signal()
}

// Pop blocks until an item is available, ctx is cancelled, or the queue
// is closed. Returns ok=false on cancellation/close with an empty queue.
func (q *Queue) Pop(ctx context.Context) (*Item, bool) {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			q.mu.Lock()
			q.cond.Broadcast()
			q.mu.Unlock()
		case <-done:
		}
	}()

	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.heap) == 0 && !q.closed && ctx.Err() == nil {
		q.cond.Wait()
	}
	if len(q.heap) == 0 {
		return nil, false
	}
	it := heap.Pop(&q.heap).(*Item)
	delete(q.byKey, it.Key)
	return it, true
}

// Remove drops a pending item by key, if present. Returns true if it was
// found and removed.
func (q *Queue) Remove(key string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	it, ok := q.byKey[key]
	if !ok {
		return false
	}
	q.removeLocked(it)
	delete(q.byKey, key)
	return true
}

func (q *Queue) removeLocked(it *Item) {
	if it.index >= 0 && it.index < len(q.heap) && q.heap[it.index] == it {
		heap.Remove(&q.heap, it.index)
	}
}

// Len returns the number of items currently queued.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.heap)
}

// Drain removes and returns every pending item without blocking.
func (q *Queue) Drain() []*Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*Item, 0, len(q.heap))
	for len(q.heap) > 0 {
		out = append(out, heap.Pop(&q.heap).(*Item))
	}
	q.byKey = map[string]*Item{}
	return out
}

// Close marks the queue closed and wakes every blocked Pop; subsequent
// Pushes are no-ops.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.cond.Broadcast()
}
