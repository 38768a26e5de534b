package camera

import (
	"sync"

	"github.com/argos-vision/argos/internal/frame"
)

// DefaultQueueSize bounds the in-process frame queue of a runtime that has
// no network callback attached. Raw tuples are large, so the bound is kept
// small and overflow discards the oldest frame rather than stalling the
// capture loop.
const DefaultQueueSize = 8

// TupleQueue is a bounded FIFO of composite frames with drop-oldest
// overflow. Push never blocks; Pop never blocks.
type TupleQueue struct {
	mu      sync.Mutex
	items   []*frame.Tuple
	max     int
	dropped uint64
}

// NewTupleQueue returns a queue bounded to max tuples. max must be > 0.
func NewTupleQueue(max int) *TupleQueue {
	if max <= 0 {
		max = DefaultQueueSize
	}
	return &TupleQueue{max: max}
}

// Push appends a tuple, discarding the oldest entry when full.
func (q *TupleQueue) Push(t *frame.Tuple) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) >= q.max {
		copy(q.items, q.items[1:])
		q.items = q.items[:len(q.items)-1]
		q.dropped++
	}
	q.items = append(q.items, t)
}

// Pop removes and returns the oldest tuple. The second result is false
// when the queue is empty.
func (q *TupleQueue) Pop() (*frame.Tuple, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, false
	}
	t := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return t, true
}

// Len returns the number of queued tuples.
func (q *TupleQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Dropped returns how many tuples overflow has discarded.
func (q *TupleQueue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Clear empties the queue without touching the drop counter.
func (q *TupleQueue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = nil
}
