// Package dispatcher manages worker fan-out over the job queue and tracks running
// jobs so they can be canceled.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/crawlbridge/internal/crawler"
	"github.com/JakeFAU/crawlbridge/internal/worker"
)

// Runner is a queue consumer.
type Runner interface {
	Run(ctx context.Context, tracker worker.Tracker)
}

// Dispatcher fans out queue work to a pool of workers.
type Dispatcher struct {
	queue   crawler.Queue
	workers []Runner

	mu      sync.Mutex
	running map[string]context.CancelCauseFunc
}

// New creates a Dispatcher.
func New(queue crawler.Queue, workers []Runner) *Dispatcher {
	return &Dispatcher{
		queue:   queue,
		workers: workers,
		running: make(map[string]context.CancelCauseFunc),
	}
}

// Run starts all workers and blocks until every worker has returned, which happens
// when the context finishes or the queue closes.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(wk Runner) {
			defer wg.Done()
			wk.Run(ctx, d)
		}(w)
	}
	wg.Wait()
}

// Enqueue proxies to the underlying queue.
func (d *Dispatcher) Enqueue(ctx context.Context, item crawler.QueueItem) error {
	if err := d.queue.Enqueue(ctx, item); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}

// Track registers a running job and returns its cancellable context. The returned
// cancel function must be called when the job finishes.
func (d *Dispatcher) Track(ctx context.Context, jobID string) (context.Context, context.CancelCauseFunc) {
	jobCtx, cancel := context.WithCancelCause(ctx)
	d.mu.Lock()
	d.running[jobID] = cancel
	d.mu.Unlock()
	return jobCtx, func(cause error) {
		d.mu.Lock()
		delete(d.running, jobID)
		d.mu.Unlock()
		cancel(cause)
	}
}

// Cancel interrupts a running job. It reports false when the job is not running.
func (d *Dispatcher) Cancel(jobID string) bool {
	d.mu.Lock()
	cancel, ok := d.running[jobID]
	d.mu.Unlock()
	if !ok {
		return false
	}
	cancel(worker.ErrJobCanceled)
	return true
}

// Running lists the IDs of jobs currently executing.
func (d *Dispatcher) Running() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	ids := make([]string, 0, len(d.running))
	for id := range d.running {
		ids = append(ids, id)
	}
	return ids
}
