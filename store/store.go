// Package store defines the priority-ordered job store contract shared by
// every persistence backend.
//
// A store maps level names to FIFO sequences of jobs. Push always appends
// to the tail of the named level; Pop scans an ordered list of candidate
// levels and removes the head of the first non-empty one.
package store

import (
	"context"

	"github.com/BranchIntl/windup/job"
)

// Store is the persistence capability a queue dispatches from.
//
// Implementations must be safe for concurrent use. Pushes to the same
// level are strictly FIFO; no ordering is promised across levels.
type Store interface {
	// Push appends j to level, creating the level lazily.
	Push(ctx context.Context, j *job.Job, level string) error

	// Pop returns the head of the first non-empty level in levels.
	// A nil or empty levels means any level, no preference. Pop returns
	// (nil, nil) when nothing is pending. Blocking backends may wait up
	// to their configured timeout before reporting empty.
	Pop(ctx context.Context, levels []string) (*job.Job, error)

	// Size returns the pending count per level. Levels with nothing
	// pending are omitted.
	Size(ctx context.Context) (map[string]int64, error)

	// Reset clears every level.
	Reset(ctx context.Context) error

	// Close releases backend resources.
	Close() error

	// Type returns the backend name.
	Type() string
}

// Connector is implemented by backends that must dial before use.
type Connector interface {
	Connect(ctx context.Context) error
	Health() error
}

// Total sums a Size snapshot.
func Total(sizes map[string]int64) int64 {
	var n int64
	for _, c := range sizes {
		n += c
	}
	return n
}
