package pool

import (
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BranchIntl/windup/errors"
	"github.com/BranchIntl/windup/job"
	"github.com/BranchIntl/windup/router"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

// testWorker panics on "boom", fails on "fail", blocks on "block" until
// gate closes, and otherwise returns its instance number
type testWorker struct {
	id   int64
	gate <-chan struct{}
}

func (w *testWorker) Perform(ctx context.Context, j *job.Job) (any, error) {
	switch j.Payload {
	case "boom":
		panic("boom")
	case "fail":
		return nil, stderrors.New("failed on purpose")
	case "block":
		select {
		case <-w.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return w.id, nil
}

func newFactory(gate <-chan struct{}) (Factory, *int64) {
	var instances int64
	return func() Worker {
		return &testWorker{id: atomic.AddInt64(&instances, 1), gate: gate}
	}, &instances
}

func newSupervisor(t *testing.T, factory Factory, opts ...Option) *Supervisor {
	t.Helper()
	s, err := New(factory, opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitFor)
		defer cancel()
		_ = s.Shutdown(ctx)
	})
	return s
}

type countingStats struct {
	started, completed, failed atomic.Int32
}

func (c *countingStats) RecordJobStarted(ctx context.Context, j *job.Job, slot string) error {
	c.started.Add(1)
	return nil
}

func (c *countingStats) RecordJobCompleted(ctx context.Context, j *job.Job, slot string, elapsed time.Duration) error {
	c.completed.Add(1)
	return nil
}

func (c *countingStats) RecordJobFailed(ctx context.Context, j *job.Job, slot string, err error, elapsed time.Duration) error {
	c.failed.Add(1)
	return nil
}

func TestNew_RequiresFactory(t *testing.T) {
	_, err := New(nil)
	assert.ErrorIs(t, err, errors.ErrMissingWorker)

	factory, _ := newFactory(nil)
	_, err = New(factory, WithSize(-1))
	assert.True(t, errors.IsConfig(err))
}

func TestSupervisor_PerformFuture(t *testing.T) {
	factory, _ := newFactory(nil)
	s := newSupervisor(t, factory, WithSize(2))

	f, err := s.PerformFuture(job.New("ok", "high"))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	v, err := f.Value(ctx)
	require.NoError(t, err)
	assert.IsType(t, int64(0), v)
}

func TestSupervisor_CallModes(t *testing.T) {
	factory, _ := newFactory(nil)
	s := newSupervisor(t, factory, WithSize(2))
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()

	v, err := s.CallSync(ctx, func(ctx context.Context, w Worker) (any, error) {
		return "sync", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "sync", v)

	ran := make(chan struct{})
	require.NoError(t, s.CallAsync(func(ctx context.Context, w Worker) (any, error) {
		close(ran)
		return nil, nil
	}))
	select {
	case <-ran:
	case <-ctx.Done():
		t.Fatal("async call never ran")
	}

	f, err := s.CallFuture(func(ctx context.Context, w Worker) (any, error) {
		return w.(*testWorker).id > 0, nil
	})
	require.NoError(t, err)
	v, err = f.Value(ctx)
	require.NoError(t, err)
	assert.Equal(t, true, v)
}

func TestSupervisor_JobErrorIsNotCrash(t *testing.T) {
	factory, instances := newFactory(nil)
	stats := &countingStats{}
	s := newSupervisor(t, factory, WithSize(1), WithStatistics(stats))

	f, err := s.PerformFuture(job.New("fail", ""))
	require.NoError(t, err)

	_, err = f.Value(context.Background())
	var workerErr *errors.WorkerError
	require.ErrorAs(t, err, &workerErr)
	assert.NotErrorIs(t, err, errors.ErrWorkerCrashed)

	assert.Equal(t, int64(1), atomic.LoadInt64(instances))
	assert.Equal(t, 0, s.Slots()[0].Restarts)
	assert.Equal(t, int32(1), stats.started.Load())
	assert.Equal(t, int32(1), stats.failed.Load())
	assert.Equal(t, int32(0), stats.completed.Load())
}

func TestSupervisor_ResizeInvariant(t *testing.T) {
	factory, _ := newFactory(nil)
	s := newSupervisor(t, factory, WithSize(2))

	for _, n := range []int{3, 1, 4, 0, 2, 2, 5} {
		require.NoError(t, s.Resize(n))
		assert.Equal(t, n, s.Size())
		assert.Eventually(t, func() bool { return s.Live() == n }, waitFor, tick, "live workers for size %d", n)
	}

	assert.Error(t, s.Resize(-1))
}

func TestSupervisor_ShrinkSendsOneTerminationPerWorker(t *testing.T) {
	gate := make(chan struct{})
	factory, _ := newFactory(gate)
	s := newSupervisor(t, factory, WithSize(4))

	for i := 0; i < 4; i++ {
		require.NoError(t, s.Perform(job.New("block", "")))
	}
	require.Eventually(t, func() bool { return s.Busy() == 4 }, waitFor, tick)

	require.NoError(t, s.Resize(1))
	assert.Equal(t, 1, s.Size())
	assert.Equal(t, 3, s.Backlog(), "termination requests wait in the inbox")
	assert.Equal(t, 4, s.Live())

	close(gate)
	assert.Eventually(t, func() bool { return s.Live() == 1 }, waitFor, tick)
	assert.Eventually(t, func() bool { return s.Backlog() == 0 }, waitFor, tick)
}

func TestSupervisor_CrashRestartKeepsSize(t *testing.T) {
	factory, instances := newFactory(nil)
	stats := &countingStats{}
	s := newSupervisor(t, factory, WithSize(2), WithStatistics(stats))

	f, err := s.PerformFuture(job.New("boom", ""))
	require.NoError(t, err)

	_, err = f.Value(context.Background())
	assert.ErrorIs(t, err, errors.ErrWorkerCrashed)

	require.Eventually(t, func() bool { return atomic.LoadInt64(instances) == 3 }, waitFor, tick)
	assert.Equal(t, 2, s.Size())
	assert.Equal(t, 2, s.Live())

	restarts := 0
	for _, slot := range s.Slots() {
		restarts += slot.Restarts
		if slot.Restarts == 1 {
			require.Len(t, slot.History, 1)
			assert.ErrorIs(t, slot.History[0].Err, errors.ErrWorkerCrashed)
		}
	}
	assert.Equal(t, 1, restarts)
	assert.Equal(t, int32(1), stats.failed.Load())

	f, err = s.PerformFuture(job.New("ok", ""))
	require.NoError(t, err)
	_, err = f.Value(context.Background())
	assert.NoError(t, err)
}

func TestSupervisor_MaxRestarts(t *testing.T) {
	factory, _ := newFactory(nil)
	s := newSupervisor(t, factory, WithSize(1), WithMaxRestarts(1))

	f, err := s.PerformFuture(job.New("boom", ""))
	require.NoError(t, err)
	_, _ = f.Value(context.Background())
	require.Eventually(t, func() bool {
		slots := s.Slots()
		return len(slots) == 1 && slots[0].Restarts == 1
	}, waitFor, tick)

	f, err = s.PerformFuture(job.New("boom", ""))
	require.NoError(t, err)
	_, _ = f.Value(context.Background())

	assert.Eventually(t, func() bool { return s.Live() == 0 }, waitFor, tick)
	assert.Equal(t, 0, s.Size())
}

func TestSupervisor_IdleBusyBacklog(t *testing.T) {
	gate := make(chan struct{})
	factory, _ := newFactory(gate)
	s := newSupervisor(t, factory, WithSize(2))

	assert.Equal(t, 2, s.Idle())
	assert.Equal(t, 0, s.Busy())
	assert.Equal(t, 0, s.Backlog())

	for i := 0; i < 3; i++ {
		require.NoError(t, s.Perform(job.New("block", "")))
	}

	require.Eventually(t, func() bool { return s.Busy() == 2 }, waitFor, tick)
	assert.Equal(t, 0, s.Idle())
	assert.Equal(t, 1, s.Backlog())

	close(gate)
	assert.Eventually(t, func() bool {
		return s.Busy() == 0 && s.Backlog() == 0 && s.Idle() == 2
	}, waitFor, tick)
}

func TestSupervisor_WithRouter(t *testing.T) {
	factory, _ := newFactory(nil)
	s := newSupervisor(t, factory, WithSize(2), WithRouter(router.NewRoundRobin()))

	seen := make(map[any]bool)
	for i := 0; i < 10; i++ {
		f, err := s.PerformFuture(job.New("ok", ""))
		require.NoError(t, err)
		v, err := f.Value(context.Background())
		require.NoError(t, err)
		seen[v] = true
	}
	assert.Len(t, seen, 2, "round robin reaches both workers")
}

func TestSupervisor_WithScatterGather(t *testing.T) {
	factory, _ := newFactory(nil)
	s := newSupervisor(t, factory, WithSize(3), WithRouter(router.NewScatterGather()))

	var wg sync.WaitGroup
	var done atomic.Int32
	for i := 0; i < 20; i++ {
		f, err := s.PerformFuture(job.New("ok", ""))
		require.NoError(t, err)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.Value(context.Background()); err == nil {
				done.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(20), done.Load())
	assert.Equal(t, 0, s.Backlog())
}

func TestSupervisor_NotifyIdle(t *testing.T) {
	factory, _ := newFactory(nil)
	s := newSupervisor(t, factory, WithSize(1))

	var notified atomic.Int32
	s.NotifyIdle(func() { notified.Add(1) })

	require.NoError(t, s.Perform(job.New("ok", "")))
	assert.Eventually(t, func() bool { return notified.Load() > 0 }, waitFor, tick)
}

func TestSupervisor_Shutdown(t *testing.T) {
	gate := make(chan struct{})
	factory, _ := newFactory(gate)
	s, err := New(factory, WithSize(1))
	require.NoError(t, err)

	running, err := s.PerformFuture(job.New("block", ""))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return s.Busy() == 1 }, waitFor, tick)

	queued, err := s.PerformFuture(job.New("ok", ""))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))
	require.NoError(t, s.Shutdown(ctx))

	_, err = queued.Value(ctx)
	assert.ErrorIs(t, err, errors.ErrPoolShutdown)

	_, err = running.Value(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	assert.ErrorIs(t, s.Perform(job.New("ok", "")), errors.ErrPoolShutdown)
	assert.ErrorIs(t, s.Resize(3), errors.ErrPoolShutdown)
}

func TestSupervisor_SignalsStayBounded(t *testing.T) {
	factory, _ := newFactory(nil)
	s := newSupervisor(t, factory, WithSize(4))

	futures := make([]*Future, 0, 2000)
	for i := 0; i < 2000; i++ {
		f, err := s.PerformFuture(job.New("ok", ""))
		require.NoError(t, err)
		futures = append(futures, f)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, f := range futures {
		_, err := f.Value(ctx)
		require.NoError(t, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	left := 0
	for _, sl := range s.slots {
		left += sl.own.Size()
	}
	assert.LessOrEqual(t, left, len(s.slots), "at most one pending signal per worker")
}
