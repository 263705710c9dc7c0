// Package queue defines the work queue contract between pipeline
// coordination and the worker pool, plus an in-process implementation
// suitable for a single-node deployment and for tests.
package queue

import (
	"context"
	"time"
)

// Message is one unit of deliverable work: which handler to run and which
// persisted job run it belongs to.
type Message struct {
	Function string
	JobRunID string
}

// Queue delivers job run messages to workers with at-least-once semantics.
// Ordering between messages is not guaranteed; correctness comes from the
// compare-and-swap status transitions in the repository layer, not from the
// queue.
type Queue interface {
	// Enqueue publishes a message, optionally deferred by delay.
	Enqueue(ctx context.Context, function, jobRunID string, delay time.Duration) error

	// Dequeue blocks until a message is available or ctx is done.
	Dequeue(ctx context.Context) (Message, error)

	// Close stops delivery. Pending delayed messages are dropped.
	Close()
}
