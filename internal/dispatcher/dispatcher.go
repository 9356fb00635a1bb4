// Package dispatcher manages worker fan-out over the run queue.
package dispatcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-cloner/internal/cloner"
	"github.com/JakeFAU/site-cloner/internal/worker"
)

// Dispatcher fans out queued runs to a pool of workers.
type Dispatcher struct {
	queue   cloner.Queue
	workers []*worker.Worker
	now     func() time.Time
}

// New creates a Dispatcher.
func New(queue cloner.Queue, workers []*worker.Worker) *Dispatcher {
	return &Dispatcher{
		queue:   queue,
		workers: workers,
		now:     time.Now,
	}
}

// NewPool builds n workers sharing queue and runner.
func NewPool(n int, queue cloner.Queue, runner worker.Runner, cfg worker.Config, logger *zap.Logger) *Dispatcher {
	if n <= 0 {
		n = 1
	}
	workers := make([]*worker.Worker, 0, n)
	for i := 1; i <= n; i++ {
		workers = append(workers, worker.New(i, queue, runner, cfg, logger))
	}
	return New(queue, workers)
}

// Run starts all workers and blocks until the context finishes and every
// worker has returned.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(wk *worker.Worker) {
			defer wg.Done()
			wk.Run(ctx)
		}(w)
	}
	<-ctx.Done()
	wg.Wait()
}

// Submit queues run for execution with opts.
func (d *Dispatcher) Submit(ctx context.Context, run *cloner.CloneRun, opts cloner.Options) error {
	return d.Enqueue(ctx, cloner.QueueItem{Run: run, Options: opts, Submitted: d.now().UnixNano()})
}

// Enqueue proxies to the underlying queue.
func (d *Dispatcher) Enqueue(ctx context.Context, item cloner.QueueItem) error {
	if err := d.queue.Enqueue(ctx, item); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}
