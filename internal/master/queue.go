package master

import "sync"

// PayloadQueue is the bounded frame buffer between a node session's event
// handler and a recording worker. Push never blocks: overflow discards the
// oldest payload and counts the drop. Pop blocks until a payload arrives
// or the queue is closed and drained, so a worker naturally finishes the
// backlog after its session is toggled off.
type PayloadQueue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	items   [][]byte
	max     int
	dropped uint64
	closed  bool
}

// NewPayloadQueue returns a queue bounded to max payloads.
func NewPayloadQueue(max int) *PayloadQueue {
	if max <= 0 {
		max = 256
	}
	q := &PayloadQueue{max: max}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push appends a payload, discarding the oldest entry when full. Pushes
// after Close are dropped and counted.
func (q *PayloadQueue) Push(payload []byte) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		q.dropped++
		return
	}
	if len(q.items) >= q.max {
		copy(q.items, q.items[1:])
		q.items = q.items[:len(q.items)-1]
		q.dropped++
	}
	q.items = append(q.items, payload)
	q.cond.Signal()
}

// Pop removes and returns the oldest payload, blocking while the queue is
// empty and open. The second result is false only when the queue is closed
// and fully drained.
func (q *PayloadQueue) Pop() ([]byte, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.items) == 0 {
		return nil, false
	}
	payload := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return payload, true
}

// Close marks the queue finished and wakes the consumer. Queued payloads
// remain poppable.
func (q *PayloadQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}

// Len returns the number of queued payloads.
func (q *PayloadQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Dropped returns how many payloads overflow or late pushes discarded.
func (q *PayloadQueue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}
