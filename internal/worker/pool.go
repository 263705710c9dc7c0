package worker

import (
	"context"
	"errors"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/VariantEffect/mavedb-api-sub004/internal/queue"
)

// Pool runs a fixed number of workers that drain the queue and hand each
// delivery to the executor.
type Pool struct {
	queue       queue.Queue
	executor    *Executor
	concurrency int
	logger      *slog.Logger
}

// NewPool creates a Pool with the given concurrency.
func NewPool(q queue.Queue, executor *Executor, concurrency int, logger *slog.Logger) *Pool {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Pool{queue: q, executor: executor, concurrency: concurrency, logger: logger}
}

// Run blocks until ctx is cancelled or the queue is closed. Delivery errors
// are logged, not fatal; a worker exits only when dequeueing stops.
func (p *Pool) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.concurrency; i++ {
		worker := i
		g.Go(func() error {
			logger := p.logger.With("worker", worker)
			logger.Info("worker started")
			for {
				msg, err := p.queue.Dequeue(ctx)
				if err != nil {
					if errors.Is(err, context.Canceled) || errors.Is(err, queue.ErrClosed) {
						logger.Info("worker stopped")
						return nil
					}
					return err
				}
				if err := p.executor.Execute(ctx, msg); err != nil {
					logger.Error("delivery failed",
						"job_run_id", msg.JobRunID,
						"job_function", msg.Function,
						"error", err,
					)
				}
			}
		})
	}
	return g.Wait()
}
