package message

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrTimeout is returned by Wait when the barrier timeout elapsed before
	// every holder reached it.
	ErrTimeout = errors.New("synchronize barrier timed out")
	// ErrAborted is returned by Wait when the caller's context ends first.
	ErrAborted = errors.New("synchronize barrier wait aborted")
)

// Barrier is a rendezvous point shared by several consumers. Each holder
// that is expected to reach it is counted with Acquire, and each holder
// signals arrival with Release. The barrier is satisfied once the count
// reaches zero.
type Barrier struct {
	mu      sync.Mutex
	pending int
	done    chan struct{}
	created time.Time
	timeout time.Duration
}

// NewBarrier creates a barrier with no holders. A barrier without holders
// is already satisfied.
func NewBarrier(timeout time.Duration) *Barrier {
	b := &Barrier{
		done:    make(chan struct{}),
		created: time.Now(),
		timeout: timeout,
	}
	close(b.done)
	return b
}

// Acquire registers n more holders.
func (b *Barrier) Acquire(n int) {
	if n <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pending == 0 {
		b.done = make(chan struct{})
	}
	b.pending += n
}

// Release marks one holder as arrived.
func (b *Barrier) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pending == 0 {
		return
	}
	b.pending--
	if b.pending == 0 {
		close(b.done)
	}
}

// Pending returns the number of holders that have not arrived yet.
func (b *Barrier) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pending
}

// Done returns a channel closed once every holder arrived.
func (b *Barrier) Done() <-chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.done
}

// Timeout returns the barrier's timeout.
func (b *Barrier) Timeout() time.Duration {
	return b.timeout
}

// Wait blocks until the barrier is satisfied, its timeout (counted from
// creation) elapses, or ctx ends.
func (b *Barrier) Wait(ctx context.Context) error {
	done := b.Done()
	select {
	case <-done:
		return nil
	default:
	}

	remaining := b.timeout - time.Since(b.created)
	if remaining <= 0 {
		return ErrTimeout
	}

	timer := time.NewTimer(remaining)
	defer timer.Stop()

	select {
	case <-done:
		return nil
	case <-timer.C:
		return ErrTimeout
	case <-ctx.Done():
		return ErrAborted
	}
}
