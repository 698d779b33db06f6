package internal

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	writeQueueSize = 1024
	writeTimeout   = 5 * time.Second
)

type writeJob struct {
	name string
	run  func(ctx context.Context) error
}

// writeBehind runs durable writes on one goroutine in submission order so
// room mutations never wait on storage. Failures are logged and dropped, and
// so are writes that find the queue full.
type writeBehind struct {
	mu      sync.RWMutex
	closed  bool
	jobs    chan writeJob
	done    chan struct{}
	metrics *Metrics
}

func newWriteBehind(metrics *Metrics) *writeBehind {
	if metrics == nil {
		metrics = NewMetrics()
	}
	w := &writeBehind{
		jobs:    make(chan writeJob, writeQueueSize),
		done:    make(chan struct{}),
		metrics: metrics,
	}
	go w.run()
	return w
}

func (w *writeBehind) run() {
	defer close(w.done)
	for job := range w.jobs {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		if err := job.run(ctx); err != nil {
			slog.Error("persistence write failed", "job", job.name, "err", err)
		}
		cancel()
	}
}

// enqueue schedules fn without waiting. It reports false when the queue is
// closed or full.
func (w *writeBehind) enqueue(name string, fn func(ctx context.Context) error) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		slog.Warn("persistence write dropped after close", "job", name)
		return false
	}
	select {
	case w.jobs <- writeJob{name: name, run: fn}:
		return true
	default:
		w.metrics.IncDroppedWrite()
		slog.Error("persistence queue full, dropping write", "job", name)
		return false
	}
}

// close drains pending jobs and stops the worker.
func (w *writeBehind) close() {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.jobs)
	}
	w.mu.Unlock()
	<-w.done
}
