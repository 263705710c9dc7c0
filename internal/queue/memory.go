package queue

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrClosed is returned by Enqueue and Dequeue after Close.
var ErrClosed = errors.New("queue: closed")

// MemoryQueue is a buffered in-process Queue. Delayed messages are armed on
// timers and delivered to the same channel once due.
type MemoryQueue struct {
	ch     chan Message
	done   chan struct{}
	mu     sync.Mutex
	timers map[*time.Timer]struct{}
	closed bool
}

// NewMemoryQueue creates a MemoryQueue with the given buffer size.
func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = 256
	}
	return &MemoryQueue{
		ch:     make(chan Message, size),
		done:   make(chan struct{}),
		timers: make(map[*time.Timer]struct{}),
	}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, function, jobRunID string, delay time.Duration) error {
	msg := Message{Function: function, JobRunID: jobRunID}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	if delay > 0 {
		var t *time.Timer
		t = time.AfterFunc(delay, func() {
			q.mu.Lock()
			delete(q.timers, t)
			q.mu.Unlock()
			select {
			case q.ch <- msg:
			case <-q.done:
			}
		})
		q.timers[t] = struct{}{}
		q.mu.Unlock()
		return nil
	}
	q.mu.Unlock()

	select {
	case q.ch <- msg:
		return nil
	case <-q.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *MemoryQueue) Dequeue(ctx context.Context) (Message, error) {
	select {
	case msg := <-q.ch:
		return msg, nil
	case <-q.done:
		return Message{}, ErrClosed
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

// Close stops all pending timers and unblocks waiting producers and
// consumers. Buffered and delayed messages are dropped.
func (q *MemoryQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	for t := range q.timers {
		t.Stop()
	}
	q.timers = nil
	close(q.done)
}
