package chunkio

import (
	"container/heap"
	"context"
	"errors"
	"sync"
)

var (
	// ErrQueueClosed is returned by Push and Pop after Close, and resolves
	// every request still pending at that point.
	ErrQueueClosed = errors.New("chunkio: queue closed")
	// ErrQueueFull is returned by TryPush when the queue is at capacity.
	ErrQueueFull = errors.New("chunkio: queue full")
)

type entry struct {
	task Task
	seq  uint64
}

// taskHeap orders by priority, highest first, then by submission order.
type taskHeap []entry

func (h taskHeap) Len() int { return len(h) }
func (h taskHeap) Less(i, j int) bool {
	pi, pj := h[i].task.Priority(), h[j].task.Priority()
	if pi != pj {
		return pi > pj
	}
	return h[i].seq < h[j].seq
}
func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *taskHeap) Push(x any)   { *h = append(*h, x.(entry)) }
func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = entry{}
	*h = old[:n-1]
	return e
}

// Queue is a bounded priority queue. Push blocks while it is full.
type Queue struct {
	mu       sync.Mutex
	items    taskHeap
	capacity int
	seq      uint64
	closed   bool
	// changed is closed and replaced whenever items or closed change.
	changed chan struct{}
}

// NewQueue returns a queue holding at most capacity tasks.
func NewQueue(capacity int) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue{capacity: capacity, changed: make(chan struct{})}
}

func (q *Queue) notify() {
	close(q.changed)
	q.changed = make(chan struct{})
}

// Push adds t, waiting for space until ctx ends or the queue closes.
func (q *Queue) Push(ctx context.Context, t Task) error {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return ErrQueueClosed
		}
		if len(q.items) < q.capacity {
			q.push(t)
			q.mu.Unlock()
			return nil
		}
		wait := q.changed
		q.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// TryPush adds t without blocking.
func (q *Queue) TryPush(t Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	if len(q.items) >= q.capacity {
		return ErrQueueFull
	}
	q.push(t)
	return nil
}

func (q *Queue) push(t Task) {
	heap.Push(&q.items, entry{task: t, seq: q.seq})
	q.seq++
	q.notify()
}

// Pop removes the highest priority task, waiting until one is available.
func (q *Queue) Pop(ctx context.Context) (Task, error) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return nil, ErrQueueClosed
		}
		if len(q.items) > 0 {
			e := heap.Pop(&q.items).(entry)
			q.notify()
			q.mu.Unlock()
			return e.task, nil
		}
		wait := q.changed
		q.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Len returns the number of queued tasks.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close stops the queue and returns the tasks that were still waiting, in
// priority order. Blocked Push and Pop calls return ErrQueueClosed.
func (q *Queue) Close() []Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	pending := make([]Task, 0, len(q.items))
	for len(q.items) > 0 {
		pending = append(pending, heap.Pop(&q.items).(entry).task)
	}
	q.notify()
	return pending
}
