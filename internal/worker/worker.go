// Package worker executes queued clone runs.
package worker

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-cloner/internal/cloner"
	"github.com/JakeFAU/site-cloner/internal/metrics"
	"github.com/JakeFAU/site-cloner/internal/queue/memory"
)

// Runner drives one run to a terminal state. *pipeline.Pipeline implements it.
type Runner interface {
	Run(ctx context.Context, run *cloner.CloneRun, opts cloner.Options) (*cloner.CloneRun, error)
}

// Config controls Worker behavior.
type Config struct {
	// RunTimeout bounds a single run; zero means no limit.
	RunTimeout time.Duration
}

// Worker consumes queue items one at a time.
type Worker struct {
	id     int
	queue  cloner.Queue
	runner Runner
	cfg    Config
	logger *zap.Logger
}

// New constructs a Worker.
func New(id int, queue cloner.Queue, runner Runner, cfg Config, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		id:     id,
		queue:  queue,
		runner: runner,
		cfg:    cfg,
		logger: logger.With(zap.Int("worker", id)),
	}
}

// Run blocks, consuming queue items until ctx finishes or the queue closes.
// A run already in progress is allowed to finish after ctx is canceled.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, memory.ErrClosed) {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		if item.Run == nil {
			w.logger.Warn("dequeued item without run")
			continue
		}
		w.logger.Debug("dequeued run", zap.String("run_id", item.Run.ID))
		w.process(context.WithoutCancel(ctx), item)
	}
}

func (w *Worker) process(ctx context.Context, item cloner.QueueItem) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	if w.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.cfg.RunTimeout)
		defer cancel()
	}

	start := time.Now()
	fields := []zap.Field{zap.String("run_id", item.Run.ID), zap.String("url", item.Run.URL)}
	if item.Submitted > 0 {
		fields = append(fields, zap.Duration("queued_for", start.Sub(time.Unix(0, item.Submitted))))
	}
	final, err := w.runner.Run(ctx, item.Run, item.Options)
	fields = append(fields, zap.Duration("duration", time.Since(start)))
	if err != nil {
		w.logger.Warn("clone run failed", append(fields, zap.Error(err))...)
		return
	}
	w.logger.Info("clone run completed", append(fields,
		zap.Int("asset_count", final.Metadata.AssetCount),
		zap.Int64("total_size", final.Metadata.TotalSize),
	)...)
}
