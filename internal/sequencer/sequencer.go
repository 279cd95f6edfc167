// Package sequencer runs event handlers strictly one at a time, in the order
// they were enqueued, across the whole process.
//
// The queue is unbounded: a slow task delays every task behind it, for every
// resource. Queue depth is exported as a gauge so the backlog is visible.
package sequencer

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"k8s.io/client-go/util/workqueue"
)

// TaskFunc is one unit of sequenced work.
type TaskFunc func(ctx context.Context) error

// task wraps a TaskFunc. The queue stores pointers, so two tasks are never
// merged even if they describe the same resource.
type task struct {
	name       string
	fn         TaskFunc
	enqueuedAt time.Time
}

// Sequencer is a single FIFO queue drained by a single worker.
type Sequencer struct {
	logger *zap.Logger
	queue  workqueue.TypedInterface[*task]
}

// New creates a Sequencer. Call Run to start draining.
func New(logger *zap.Logger) *Sequencer {
	return &Sequencer{
		logger: logger.Named("sequencer"),
		queue: workqueue.NewTypedWithConfig(workqueue.TypedQueueConfig[*task]{
			Name: "events",
		}),
	}
}

// Enqueue appends a task. Never blocks.
func (s *Sequencer) Enqueue(name string, fn TaskFunc) {
	s.queue.Add(&task{name: name, fn: fn, enqueuedAt: time.Now()})
	queueDepth.Set(float64(s.queue.Len()))
}

// Len returns the number of tasks waiting to run.
func (s *Sequencer) Len() int {
	return s.queue.Len()
}

// Run drains the queue until ctx is cancelled. Blocks.
// Tasks still queued at cancellation are dropped.
func (s *Sequencer) Run(ctx context.Context) error {
	s.logger.Info("Starting event sequencer")

	go func() {
		<-ctx.Done()
		s.queue.ShutDown()
	}()

	dropped := 0
	for {
		t, shutdown := s.queue.Get()
		if shutdown {
			queueDepth.Set(0)
			s.logger.Info("Event sequencer stopped", zap.Int("dropped", dropped))
			return nil
		}
		if ctx.Err() != nil {
			// Drain without running.
			dropped++
			taskTotal.WithLabelValues("dropped").Inc()
			s.queue.Done(t)
			continue
		}
		s.process(ctx, t)
		s.queue.Done(t)
		queueDepth.Set(float64(s.queue.Len()))
	}
}

// process runs one task, containing errors and panics so the loop keeps going.
// Whatever the task committed before failing stays committed.
func (s *Sequencer) process(ctx context.Context, t *task) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			taskTotal.WithLabelValues("panic").Inc()
			s.logger.Error("Task panicked",
				zap.String("task", t.name),
				zap.String("panic", fmt.Sprint(r)),
			)
		}
	}()

	err := t.fn(ctx)
	taskDuration.Observe(time.Since(start).Seconds())
	taskWait.Observe(start.Sub(t.enqueuedAt).Seconds())
	if err != nil {
		taskTotal.WithLabelValues("error").Inc()
		s.logger.Error("Task failed", zap.String("task", t.name), zap.Error(err))
		return
	}
	taskTotal.WithLabelValues("success").Inc()
	s.logger.Debug("Task done", zap.String("task", t.name), zap.Duration("took", time.Since(start)))
}
