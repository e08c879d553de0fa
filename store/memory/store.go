// Package memory implements a process-local job store.
package memory

import (
	"container/list"
	"context"
	"sync"

	"github.com/BranchIntl/windup/job"
)

// MemoryStore keeps one FIFO list per level. Pop never blocks.
type MemoryStore struct {
	mu     sync.Mutex
	levels map[string]*list.List
	order  []string // level names in first-push order, used when Pop has no preference
}

// NewStore creates an empty in-memory store
func NewStore() *MemoryStore {
	return &MemoryStore{
		levels: make(map[string]*list.List),
	}
}

// Push appends a job to the named level
func (m *MemoryStore) Push(ctx context.Context, j *job.Job, level string) error {
	if level == "" {
		level = job.DefaultLevel
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.levels[level]
	if !ok {
		l = list.New()
		m.levels[level] = l
		m.order = append(m.order, level)
	}
	l.PushBack(j.WithLevel(level))
	return nil
}

// Pop removes the head of the first non-empty candidate level
func (m *MemoryStore) Pop(ctx context.Context, levels []string) (*job.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if len(levels) == 0 {
		levels = m.order
	}

	for _, level := range levels {
		l, ok := m.levels[level]
		if !ok || l.Len() == 0 {
			continue
		}
		return l.Remove(l.Front()).(*job.Job), nil
	}
	return nil, nil
}

// Size returns pending counts for non-empty levels
func (m *MemoryStore) Size(ctx context.Context) (map[string]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sizes := make(map[string]int64, len(m.levels))
	for level, l := range m.levels {
		if l.Len() > 0 {
			sizes[level] = int64(l.Len())
		}
	}
	return sizes, nil
}

// Reset clears all levels
func (m *MemoryStore) Reset(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.levels = make(map[string]*list.List)
	m.order = nil
	return nil
}

// Close is a no-op for the memory store
func (m *MemoryStore) Close() error {
	return nil
}

// Type returns the store type
func (m *MemoryStore) Type() string {
	return "memory"
}
