package session

import (
	"context"
	"sync"

	"github.com/go-sshd/go-sshd/lib/sshbuf"
	"github.com/go-sshd/go-sshd/lib/util"
)

// Future is a one-shot completion value with the tri-state
// pending / success / error. It is set exactly once: the first writer wins
// and later completions are ignored.
type Future struct {
	mu   sync.Mutex
	done chan struct{}
	set  bool
	err  error
}

// NewFuture creates a pending future.
func NewFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// Complete resolves the future; a nil error means success. Returns true if
// this call won the race to set the value.
func (f *Future) Complete(err error) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.set {
		return false
	}
	f.set = true
	f.err = err
	close(f.done)
	return true
}

// Done returns a channel closed when the future resolves.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Completed returns true once the future has resolved.
func (f *Future) Completed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.set
}

// Err returns the outcome. It is only meaningful after Done is closed;
// before that it returns util.ErrTimeout-free nil without blocking.
func (f *Future) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

// Await blocks until the future resolves or the context ends.
func (f *Future) Await(ctx context.Context) error {
	select {
	case <-f.done:
		return f.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WriteFuture tracks one packet write. It resolves when the bytes have been
// handed to the operating system, or with an error when the write failed,
// timed out, or the session closed first.
type WriteFuture struct {
	Future
}

// NewWriteFuture creates a pending write future.
func NewWriteFuture() *WriteFuture {
	return &WriteFuture{Future{done: make(chan struct{})}}
}

// pendingWrite is a packet parked in the pending queue during key exchange,
// with the future its eventual write will resolve.
type pendingWrite struct {
	buf    *sshbuf.Buffer
	future *WriteFuture
}

// fail resolves a parked write with the session-closed error.
func (p *pendingWrite) fail() {
	p.future.Complete(util.ErrSessionClosed)
}
