package paging

import (
	"context"

	"github.com/shashiranjanraj/chanpage/pkg/workerpool"
)

// Serializer is the single-threaded cooperative executor described in §5:
// every state-mutating operation on a channel is submitted here and run to
// completion before the next one starts. A size-1 workerpool.Pool already
// has exactly this shape — one worker goroutine draining a FIFO task
// channel — so the serializer is a thin wrapper around one.
//
// Suspension points inside a submitted task (store I/O) block the single
// worker, which is the backpressure §5 calls for: producers/consumers
// stall if the store is slow, because their own Run call won't return
// until their task reaches the front of the queue and finishes.
type Serializer struct {
	pool *workerpool.Pool
}

// NewSerializer creates a Serializer for one channel.
func NewSerializer() *Serializer {
	return &Serializer{pool: workerpool.New(1)}
}

type serializedResult struct {
	val any
	err error
}

// Run submits fn and blocks until it has run to completion, returning its
// result. Per §5, operations are non-cancellable once enqueued: if ctx is
// cancelled while fn is queued or running, Run returns early with ctx.Err()
// but fn still runs to completion in the background.
func (s *Serializer) Run(ctx context.Context, fn func() (any, error)) (any, error) {
	done := make(chan serializedResult, 1)

	err := s.pool.SubmitWait(func() {
		v, err := fn()
		done <- serializedResult{val: v, err: err}
	})
	if err != nil {
		return nil, err
	}

	select {
	case r := <-done:
		return r.val, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Shutdown waits for any in-flight task to finish and releases the worker.
func (s *Serializer) Shutdown() {
	s.pool.Shutdown()
}
