package pool

import (
	"context"
	"time"

	"github.com/BranchIntl/windup/job"
)

// Worker performs jobs handed out by the supervisor. A returned error
// fails the job; a panic crashes the worker and restarts its slot.
type Worker interface {
	Perform(ctx context.Context, j *job.Job) (any, error)
}

// Factory creates a fresh worker instance for a slot
type Factory func() Worker

// WorkerFunc adapts a function to the Worker interface
type WorkerFunc func(ctx context.Context, j *job.Job) (any, error)

func (f WorkerFunc) Perform(ctx context.Context, j *job.Job) (any, error) {
	return f(ctx, j)
}

// Statistics records job outcomes per slot
type Statistics interface {
	RecordJobStarted(ctx context.Context, j *job.Job, slot string) error
	RecordJobCompleted(ctx context.Context, j *job.Job, slot string, elapsed time.Duration) error
	RecordJobFailed(ctx context.Context, j *job.Job, slot string, err error, elapsed time.Duration) error
}
