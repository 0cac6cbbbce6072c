package session

import (
	"sync"

	"github.com/danmuck/candlewire/internal/protocol/frame"
)

// FrameQueue is a bounded FIFO that drops its oldest frame when full. Push
// never blocks.
type FrameQueue struct {
	mu      sync.Mutex
	items   []frame.Frame
	limit   int
	dropped uint64
	ready   chan struct{}
}

func NewFrameQueue(limit int) *FrameQueue {
	if limit < 1 {
		limit = 1
	}
	return &FrameQueue{
		items: make([]frame.Frame, 0, limit),
		limit: limit,
		ready: make(chan struct{}, 1),
	}
}

// Push appends f and reports whether an older frame was evicted to make
// room.
func (q *FrameQueue) Push(f frame.Frame) bool {
	q.mu.Lock()
	evicted := false
	if len(q.items) >= q.limit {
		q.items[0] = frame.Frame{}
		q.items = q.items[1:]
		q.dropped++
		evicted = true
	}
	q.items = append(q.items, f)
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
	return evicted
}

// Pop removes the oldest frame.
func (q *FrameQueue) Pop() (frame.Frame, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return frame.Frame{}, false
	}
	f := q.items[0]
	q.items[0] = frame.Frame{}
	q.items = q.items[1:]
	return f, true
}

// Ready is signalled after every Push. One signal may cover many frames.
func (q *FrameQueue) Ready() <-chan struct{} {
	return q.ready
}

func (q *FrameQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *FrameQueue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Reset discards queued frames and returns how many were discarded.
func (q *FrameQueue) Reset() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.items)
	clear(q.items)
	q.items = q.items[:0]
	return n
}
