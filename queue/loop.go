package queue

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/BranchIntl/windup/errors"
	"github.com/BranchIntl/windup/job"
	"github.com/BranchIntl/windup/store"
)

// Start runs the dispatch loop in the background until ctx is done or
// Shutdown is called. Starting a running queue is a no-op.
func (q *Queue) Start(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.started {
		return nil
	}

	loopCtx, cancel := context.WithCancel(ctx)
	q.cancel = cancel
	q.done = make(chan struct{})
	q.started = true

	go q.run(loopCtx, q.done)
	return nil
}

// Run starts the dispatch loop and blocks until ctx is done, then shuts
// the queue down
func (q *Queue) Run(ctx context.Context) error {
	if err := q.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return q.Shutdown(shutdownCtx)
}

// Shutdown stops the loop, then shuts down an owned pool and closes the
// store. Jobs already handed to workers keep running.
func (q *Queue) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	cancel, done := q.cancel, q.done
	q.cancel, q.done = nil, nil
	q.started = false
	s, p, owned := q.store, q.pool, q.ownsPool
	q.mu.Unlock()

	if cancel != nil {
		cancel()
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	var errs []error
	if p != nil && owned {
		if err := p.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown pool: %w", err))
		}
	}
	if s != nil {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
	}

	q.logger.Info("Queue shut down")
	return stderrors.Join(errs...)
}

func (q *Queue) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	q.logger.Info("Dispatch loop started", "strict", q.cfg.strict, "levels", q.PriorityLevels())

	for {
		wait, err := q.tick(ctx)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			if errors.IsTemporary(err) {
				q.logger.Warn("Dispatch failed, retrying", "error", err)
			} else {
				q.logger.Error("Dispatch failed", "error", err)
			}
			wait = q.cfg.idleWait
		}

		if !q.sleep(ctx, wait) {
			break
		}
	}

	q.logger.Info("Dispatch loop stopped")
}

// sleep waits for d, a wake-up or cancellation. It reports false once ctx
// is done.
func (q *Queue) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-q.wake:
		return true
	case <-timer.C:
		return true
	}
}

// tick performs one loop iteration and returns how long to wait before
// the next
func (q *Queue) tick(ctx context.Context) (time.Duration, error) {
	q.mu.Lock()
	q.waiting = false
	ready := q.ready()
	paused := q.paused
	s, p := q.store, q.pool
	if !ready {
		q.waiting = true
	}
	q.mu.Unlock()

	if !ready {
		q.logger.Warn("Queue not ready, pausing", "retry", q.cfg.readinessRetry)
		return q.cfg.readinessRetry, nil
	}

	if paused || p.Idle() <= p.Backlog() {
		return q.cfg.idleWait, nil
	}

	j, err := q.dispatch(ctx, s, p)
	if err != nil {
		return 0, err
	}
	if j == nil {
		return q.cfg.idleWait, nil
	}
	return 0, nil
}

// dispatch pops one job and hands it to the pool. A job the pool refuses
// goes back to its level.
func (q *Queue) dispatch(ctx context.Context, s store.Store, p Pool) (*job.Job, error) {
	j, err := s.Pop(ctx, q.candidates())
	if err != nil {
		return nil, fmt.Errorf("pop: %w", err)
	}
	if j == nil {
		return nil, nil
	}

	if err := p.Perform(j); err != nil {
		if pushErr := s.Push(context.WithoutCancel(ctx), j, j.Level); pushErr != nil {
			q.logger.Error("Lost job after failed dispatch", "job", j.ID, "level", j.Level, "error", pushErr)
		}
		return nil, fmt.Errorf("dispatch %s: %w", j, err)
	}

	q.logger.Debug("Dispatched job", "job", j.ID, "level", j.Level)
	return j, nil
}
