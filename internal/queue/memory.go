package queue

import (
	"context"
	"log/slog"
	"sync"
)

// Memory is a buffered channel queue consumed by a fixed set of goroutines.
// It provides no durability; jobs still buffered at shutdown are lost.
type Memory struct {
	jobs    chan Job
	workers int

	mu     sync.RWMutex
	closed bool
}

// NewMemory builds a Memory queue with capacity tied to worker count.
func NewMemory(workers int) *Memory {
	if workers <= 0 {
		workers = 1
	}
	return &Memory{
		jobs:    make(chan Job, workers*4),
		workers: workers,
	}
}

// Enqueue buffers a job. A full buffer is reported as ErrQueueFull rather
// than blocking the request path.
func (m *Memory) Enqueue(ctx context.Context, job Job) error {
	if _, err := EncodeJob(job); err != nil {
		return err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case m.jobs <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

// Pending reports how many jobs are buffered and not yet picked up.
func (m *Memory) Pending() int {
	return len(m.jobs)
}

// Close stops accepting jobs. Consumers drain what is already buffered only
// while their context is alive.
func (m *Memory) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.jobs)
	}
}

// Consume runs the worker goroutines and blocks until ctx is cancelled or the
// queue is closed and drained. In-flight handlers finish before it returns.
func (m *Memory) Consume(ctx context.Context, h Handler) error {
	var wg sync.WaitGroup
	for i := 0; i < m.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.worker(ctx, h)
		}()
	}
	wg.Wait()
	return ctx.Err()
}

func (m *Memory) worker(ctx context.Context, h Handler) {
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-m.jobs:
			if !ok {
				return
			}
			if err := h(ctx, job); err != nil {
				slog.Warn("job failed", "item_id", job.ItemID, "error", err)
			}
		}
	}
}
