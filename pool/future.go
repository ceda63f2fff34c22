package pool

import (
	"context"
	"sync/atomic"

	"github.com/tresler/httpool/transport"
)

// Future is the completion handle for a submitted request. It completes
// exactly once: with a response, or with a typed pool failure.
type Future struct {
	done      chan struct{}
	completed int32
	resp      *transport.Response
	err       error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// complete resolves the future. Returns false if it was already
// resolved; losers never overwrite the first result.
func (f *Future) complete(resp *transport.Response, err error) bool {
	if !atomic.CompareAndSwapInt32(&f.completed, 0, 1) {
		return false
	}
	f.resp = resp
	f.err = err
	close(f.done)
	return true
}

// Done returns a channel closed when the future resolves.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the future resolves or the context is cancelled.
func (f *Future) Wait(ctx context.Context) (*transport.Response, error) {
	select {
	case <-f.done:
		return f.resp, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Result returns the outcome without blocking. ok is false while the
// future is unresolved.
func (f *Future) Result() (resp *transport.Response, err error, ok bool) {
	select {
	case <-f.done:
		return f.resp, f.err, true
	default:
		return nil, nil, false
	}
}
