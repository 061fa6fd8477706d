package streaming

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/cecil-the-coder/classroom-kit/pkg/types"
)

// Callbacks receive the outcome of a request started with Start.
// Any of them may be nil.
type Callbacks struct {
	// OnMessage is called for every event, in arrival order.
	OnMessage func(types.StreamEvent)
	// OnError is called at most once, for a validation, transport or
	// decode error. Cancellation is not reported as an error.
	OnError func(error)
	// OnComplete is called exactly once when the request is over, whatever
	// the outcome.
	OnComplete func()
}

// Handle controls a request started with Start.
type Handle struct {
	cancel    context.CancelFunc
	cancelled atomic.Bool
	done      chan struct{}
}

// Cancel aborts the request. It is idempotent, safe after completion and
// safe on a nil Handle.
func (h *Handle) Cancel() {
	if h == nil {
		return
	}
	h.cancelled.Store(true)
	h.cancel()
}

// Cancelled reports whether Cancel was called.
func (h *Handle) Cancelled() bool {
	return h != nil && h.cancelled.Load()
}

// Done is closed after OnComplete has returned.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the request is over.
func (h *Handle) Wait() {
	<-h.done
}

// Start runs a request in the background and reports its events through cb.
//
// If payload fails validation, OnError and then OnComplete run on the calling
// goroutine and Start returns nil without sending anything. Otherwise Start
// returns immediately and a single goroutine opens the request, delivers the
// events to OnMessage, reports at most one error and finally calls
// OnComplete.
func (c *Controller) Start(ctx context.Context, ep Endpoint, payload types.Payload, cb Callbacks) *Handle {
	var once sync.Once
	complete := func() {
		once.Do(func() {
			if cb.OnComplete != nil {
				cb.OnComplete()
			}
		})
	}
	fail := func(err error) {
		if cb.OnError != nil {
			cb.OnError(err)
		}
	}

	body, err := c.prepare(ep, payload)
	if err != nil {
		fail(err)
		complete()
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	h := &Handle{cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(h.done)
		defer complete()
		defer cancel()

		stream, err := c.open(ctx, ep, body)
		if err != nil {
			if ctx.Err() == nil {
				fail(err)
			}
			return
		}

		for event, err := range stream.Events() {
			if err != nil {
				fail(err)
				return
			}
			if cb.OnMessage != nil {
				cb.OnMessage(event)
			}
		}
	}()

	return h
}
