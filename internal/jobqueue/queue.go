// Package jobqueue drains a queue of jobs with a fixed number of workers.
package jobqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rcourtman/fabricpulse/internal/barrier"
	"github.com/rcourtman/fabricpulse/internal/logging"
	"github.com/rs/zerolog"
)

// Queue is a FIFO with an atomic pop-or-empty operation.
type Queue[T any] struct {
	mu    sync.Mutex
	items []T
	head  int
}

// NewQueue returns a queue holding items in order.
func NewQueue[T any](items []T) *Queue[T] {
	return &Queue[T]{items: append([]T(nil), items...)}
}

// Push appends items to the tail.
func (q *Queue[T]) Push(items ...T) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, items...)
}

// Pop removes and returns the head, or false when the queue is empty.
func (q *Queue[T]) Pop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var zero T
	if q.head >= len(q.items) {
		return zero, false
	}
	item := q.items[q.head]
	q.items[q.head] = zero
	q.head++
	if q.head == len(q.items) {
		q.items = q.items[:0]
		q.head = 0
	}
	return item, true
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) - q.head
}

// ProcessFunc handles one job. It must not retain the job after returning.
type ProcessFunc[T any] func(ctx context.Context, job T)

// Pool drains one queue with at most Workers jobs in progress.
type Pool[T any] struct {
	Name    string
	Workers int
	Queue   *Queue[T]
	Process ProcessFunc[T]
}

// Start launches the workers, registering each one on b. Every worker pops a
// job, processes it and immediately pops the next; a worker that finds the
// queue empty terminates. The barrier therefore resolves exactly when every
// queued job has been attempted once.
func (p *Pool[T]) Start(ctx context.Context, b *barrier.Barrier) error {
	if p.Workers < 1 {
		return fmt.Errorf("pool %q: worker count must be at least 1, got %d", p.Name, p.Workers)
	}
	if p.Queue == nil || p.Process == nil {
		return errors.New("pool requires a queue and a process function")
	}

	workers := p.Workers
	if n := p.Queue.Len(); n < workers {
		workers = n
	}

	for i := 0; i < workers; i++ {
		h, err := b.Begin()
		if err != nil {
			return err
		}
		go func(id int) {
			defer func() {
				if err := h.Done(); err != nil {
					logging.FromContext(ctx).Error().Err(err).Str("pool", p.Name).Msg("Worker completion misuse")
				}
			}()
			p.worker(ctx, id)
		}(i)
	}
	return nil
}

func (p *Pool[T]) worker(ctx context.Context, id int) {
	logger := logging.FromContext(ctx)
	if logging.IsLevelEnabled(zerolog.TraceLevel) {
		logger.Trace().Str("pool", p.Name).Int("worker", id).Msg("Worker started")
	}

	processed := 0
	for {
		job, ok := p.Queue.Pop()
		if !ok {
			break
		}
		p.Process(ctx, job)
		processed++
	}

	if logging.IsLevelEnabled(zerolog.TraceLevel) {
		logger.Trace().Str("pool", p.Name).Int("worker", id).Int("processed", processed).Msg("Worker drained queue")
	}
}

// Drain runs a pool over jobs with its own barrier and waits for it.
func Drain[T any](ctx context.Context, name string, workers int, jobs []T, process ProcessFunc[T]) error {
	b := barrier.New(name)
	pool := &Pool[T]{
		Name:    name,
		Workers: workers,
		Queue:   NewQueue(jobs),
		Process: process,
	}
	if err := pool.Start(ctx, b); err != nil {
		return err
	}
	return b.Wait(ctx)
}
