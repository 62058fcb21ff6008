// Package barrier provides the countdown primitive that gates pipeline stages.
//
// A Barrier counts registered units of work. Each Begin returns a Handle whose
// Done must be called exactly once. Wait seals the barrier and returns once the
// pending count reaches zero. Units may still be registered after Wait has been
// called, as long as the barrier has not resolved yet (a running unit can fan
// out nested work before it signals its own completion).
package barrier

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	monerrors "github.com/rcourtman/fabricpulse/internal/errors"
)

// Barrier is a single-use completion countdown.
type Barrier struct {
	name string

	mu       sync.Mutex
	pending  int
	total    int
	sealed   bool
	resolved bool
	done     chan struct{}
}

// Handle is the completion token for one registered unit of work.
type Handle struct {
	b    *Barrier
	id   int
	used atomic.Bool
}

// New creates an empty barrier. The name only appears in errors.
func New(name string) *Barrier {
	return &Barrier{
		name: name,
		done: make(chan struct{}),
	}
}

// Name returns the barrier name.
func (b *Barrier) Name() string {
	return b.name
}

// Begin registers one pending unit of work.
func (b *Barrier) Begin() (*Handle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.resolved {
		return nil, monerrors.ProtocolViolation("barrier_begin", "barrier %q already resolved", b.name)
	}

	b.pending++
	b.total++
	return &Handle{b: b, id: b.total}, nil
}

// Done signals completion of the unit. Calling it more than once fails with a
// ProtocolViolation and leaves the count untouched.
func (h *Handle) Done() error {
	if h == nil || h.b == nil {
		return monerrors.ProtocolViolation("barrier_done", "nil handle")
	}
	if !h.used.CompareAndSwap(false, true) {
		return monerrors.ProtocolViolation("barrier_done", "handle %d of barrier %q completed twice", h.id, h.b.name)
	}
	h.b.complete()
	return nil
}

func (b *Barrier) complete() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.pending--
	b.resolveLocked()
}

func (b *Barrier) resolveLocked() {
	if b.sealed && b.pending == 0 && !b.resolved {
		b.resolved = true
		close(b.done)
	}
}

// Wait seals the barrier and blocks until every registered unit has called
// Done, or ctx ends. A barrier with no registered work resolves immediately.
func (b *Barrier) Wait(ctx context.Context) error {
	b.mu.Lock()
	b.sealed = true
	b.resolveLocked()
	b.mu.Unlock()

	select {
	case <-b.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("barrier %q: %d of %d units still pending: %w", b.name, b.Pending(), b.Total(), ctx.Err())
	}
}

// Resolved reports whether the barrier has resolved.
func (b *Barrier) Resolved() bool {
	select {
	case <-b.done:
		return true
	default:
		return false
	}
}

// Pending returns the number of registered units that have not completed.
func (b *Barrier) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pending
}

// Total returns the number of units ever registered.
func (b *Barrier) Total() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.total
}
