// Package noop provides a statistics backend that records nothing.
package noop

import (
	"context"
	"time"

	"github.com/BranchIntl/windup/job"
)

// NoOpStatistics discards every record
type NoOpStatistics struct{}

// NewStatistics creates a new no-op statistics backend
func NewStatistics() *NoOpStatistics {
	return &NoOpStatistics{}
}

// Type returns the statistics backend type
func (n *NoOpStatistics) Type() string {
	return "noop"
}

func (n *NoOpStatistics) RecordJobStarted(ctx context.Context, j *job.Job, slot string) error {
	return nil
}

func (n *NoOpStatistics) RecordJobCompleted(ctx context.Context, j *job.Job, slot string, elapsed time.Duration) error {
	return nil
}

func (n *NoOpStatistics) RecordJobFailed(ctx context.Context, j *job.Job, slot string, err error, elapsed time.Duration) error {
	return nil
}

func (n *NoOpStatistics) Close() error {
	return nil
}
