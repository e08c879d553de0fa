package pool

import (
	"context"
	"sync"

	"github.com/BranchIntl/windup/errors"
	"github.com/BranchIntl/windup/job"
)

// Call runs against whichever worker picks it up
type Call func(ctx context.Context, w Worker) (any, error)

// Future is the deferred result of a call
type Future struct {
	once  sync.Once
	done  chan struct{}
	value any
	err   error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func (f *Future) resolve(value any, err error) {
	f.once.Do(func() {
		f.value, f.err = value, err
		close(f.done)
	})
}

// Done is closed once the result is available
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Value waits for the result or for ctx to end
func (f *Future) Value(ctx context.Context) (any, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// request is the message a worker receives for one call
type request struct {
	call   Call
	job    *job.Job
	future *Future
}

// Cleanup fails the caller when a mailbox discards an unclaimed request
func (r *request) Cleanup() {
	if r.future != nil {
		r.future.resolve(nil, errors.ErrPoolShutdown)
	}
}

func performCall(j *job.Job) Call {
	return func(ctx context.Context, w Worker) (any, error) {
		return w.Perform(ctx, j)
	}
}
