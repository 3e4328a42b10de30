// Package task runs a cancellable background pipeline and reports how it ended.
package task

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// Handle owns one running pipeline. Cancelling it is not an error: Wait
// returns nil for a pipeline that stopped because it was cancelled.
type Handle struct {
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	cancelled atomic.Bool

	mu  sync.Mutex
	err error
}

// Start runs fn in its own goroutine with a context derived from parent.
func Start(parent context.Context, fn func(ctx context.Context) error) *Handle {
	ctx, cancel := context.WithCancel(parent)
	h := &Handle{ctx: ctx, cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(h.done)
		defer cancel()
		err := fn(ctx)
		if err != nil && (IsCancellation(err) || ctx.Err() != nil) {
			err = nil
		}
		h.mu.Lock()
		h.err = err
		h.mu.Unlock()
	}()
	return h
}

func (h *Handle) Cancel() {
	if h == nil {
		return
	}
	h.cancelled.Store(true)
	h.cancel()
}

func (h *Handle) Context() context.Context { return h.ctx }

func (h *Handle) Done() <-chan struct{} { return h.done }

// Cancelled reports whether Cancel was called.
func (h *Handle) Cancelled() bool {
	return h.cancelled.Load()
}

// Wait blocks until the pipeline returns and yields its genuine failure, if any.
func (h *Handle) Wait() error {
	if h == nil {
		return nil
	}
	<-h.done
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// Err is the non-blocking form of Wait; it returns nil while still running.
func (h *Handle) Err() error {
	select {
	case <-h.done:
	default:
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// IsCancellation reports whether err came from an intentional stop.
func IsCancellation(err error) bool {
	return errors.Is(err, context.Canceled)
}
