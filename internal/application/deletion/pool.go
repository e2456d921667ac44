package deletion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Pool errors.
var (
	ErrQueueFull   = errors.New("delete queue is full")
	ErrPoolStopped = errors.New("delete pool is stopped")
)

// Handler processes one job. Worker.Execute is the production handler.
type Handler func(ctx context.Context, job Job)

// Pool runs jobs on a fixed number of goroutines fed by a bounded queue.
// Its size is independent of request concurrency.
type Pool struct {
	workers int
	queue   chan Job
	handler Handler

	mu      sync.RWMutex
	stopped bool
	group   *errgroup.Group
}

// NewPool creates a pool; call Start before expecting jobs to run.
// PRE: handler is non-nil (workers and queueSize <= 0 default to 1)
// POST: Submit accepts up to queueSize jobs before ErrQueueFull
func NewPool(workers, queueSize int, handler Handler) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 1
	}
	return &Pool{
		workers: workers,
		queue:   make(chan Job, queueSize),
		handler: handler,
	}
}

// Start launches the workers. Jobs run with a context detached from ctx's cancellation,
// so an operation that has started always runs to a terminal status; use Stop to drain.
func (p *Pool) Start(ctx context.Context) {
	jobCtx := context.WithoutCancel(ctx)
	g := new(errgroup.Group)
	for i := 0; i < p.workers; i++ {
		g.Go(func() error {
			for job := range p.queue {
				p.run(jobCtx, job)
			}
			return nil
		})
	}
	p.mu.Lock()
	p.group = g
	p.mu.Unlock()
	slog.Info("delete_pool_started", "workers", p.workers, "queue_size", cap(p.queue))
}

// Submit enqueues job without blocking.
// PRE: none
// POST: job is queued, or ErrQueueFull / ErrPoolStopped is returned and job is not queued
func (p *Pool) Submit(job Job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return ErrPoolStopped
	}
	select {
	case p.queue <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

// Stop refuses new jobs and waits for queued and running jobs to finish or ctx to expire.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	close(p.queue)
	g := p.group
	p.mu.Unlock()

	if g == nil {
		return nil
	}
	done := make(chan error, 1)
	go func() { done <- g.Wait() }()
	select {
	case err := <-done:
		slog.Info("delete_pool_stopped")
		return err
	case <-ctx.Done():
		slog.Warn("delete_pool_stop_timeout", "queued", len(p.queue))
		return ctx.Err()
	}
}

// QueueLen returns the number of jobs waiting for a worker.
func (p *Pool) QueueLen() int {
	return len(p.queue)
}

func (p *Pool) run(ctx context.Context, job Job) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("delete_pool_job_panic", "operation_id", job.OperationID, "panic", fmt.Sprint(r))
		}
	}()
	p.handler(ctx, job)
}
