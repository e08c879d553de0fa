package queue

import (
	"bytes"
	"context"
	"log/slog"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BranchIntl/windup/errors"
	"github.com/BranchIntl/windup/job"
	"github.com/BranchIntl/windup/pool"
	"github.com/BranchIntl/windup/store/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = 3 * time.Second
	tick    = 5 * time.Millisecond
)

func TestNew_RequiresName(t *testing.T) {
	_, err := New("")
	assert.ErrorIs(t, err, errors.ErrMissingQueueName)
	assert.True(t, errors.IsConfig(err))
}

func TestQueue_Levels(t *testing.T) {
	q, err := New("mail",
		WithLevel("high", 10, false),
		WithLevel("low", 0, false),
	)
	require.NoError(t, err)

	assert.Equal(t, []string{"high", "low"}, q.PriorityLevels())
	assert.Equal(t, map[string]int{"high": 10, "low": 1}, q.PriorityLevelWeights())

	q.DeclareLevel("high", 3, false)
	q.DeclareLevel("urgent", 5, false)
	assert.Equal(t, []string{"high", "low", "urgent"}, q.PriorityLevels())
	assert.Equal(t, map[string]int{"high": 3, "low": 1, "urgent": 5}, q.PriorityLevelWeights())
}

func TestQueue_DefaultLevel(t *testing.T) {
	tests := []struct {
		name string
		opts []Option
		want string
	}{
		{"no levels", nil, ""},
		{"first declared", []Option{WithLevel("high", 1, false), WithLevel("low", 1, false)}, "high"},
		{"flagged default", []Option{WithLevel("high", 1, false), WithLevel("low", 1, true)}, "low"},
		{"explicit default", []Option{WithLevel("high", 1, true), WithLevel("low", 1, false), WithDefaultLevel("low")}, "low"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := New("mail", tt.opts...)
			require.NoError(t, err)
			assert.Equal(t, tt.want, q.DefaultLevel())
		})
	}
}

func TestQueue_PushUsesDefaultLevel(t *testing.T) {
	ctx := context.Background()
	q, err := New("mail", WithStore(memory.NewStore()), WithLevel("high", 1, false), WithLevel("low", 1, true))
	require.NoError(t, err)

	j, err := q.Push(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "low", j.Level)

	j, err = q.PushTo(ctx, "b", "high")
	require.NoError(t, err)
	assert.Equal(t, "high", j.Level)

	sizes, err := q.Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"low": 1, "high": 1}, sizes)

	require.NoError(t, q.Reset(ctx))
	sizes, err = q.Size(ctx)
	require.NoError(t, err)
	assert.Empty(t, sizes)
}

func TestQueue_NoLevelsPushesToStoreDefault(t *testing.T) {
	q, err := New("mail", WithStore(memory.NewStore()))
	require.NoError(t, err)

	j, err := q.Push(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, job.DefaultLevel, j.Level)
	assert.Nil(t, q.candidates())

	got, err := q.Pop(context.Background())
	require.NoError(t, err)
	assert.Equal(t, j.ID, got.ID)
}

func TestQueue_WithoutStore(t *testing.T) {
	q, err := New("mail")
	require.NoError(t, err)
	ctx := context.Background()

	_, err = q.Push(ctx, "a")
	assert.ErrorIs(t, err, errors.ErrNotConnected)
	_, err = q.Pop(ctx)
	assert.ErrorIs(t, err, errors.ErrNotConnected)
	_, err = q.Fetch(ctx)
	assert.ErrorIs(t, err, errors.ErrNotConnected)
	_, err = q.Size(ctx)
	assert.ErrorIs(t, err, errors.ErrNotConnected)
	assert.ErrorIs(t, q.SetWorkers(2), errors.ErrNotConnected)
	assert.Equal(t, 0, q.Workers())
}

func TestQueue_StrictOrdering(t *testing.T) {
	ctx := context.Background()
	q, err := New("mail",
		WithStore(memory.NewStore()),
		WithStrict(true),
		WithLevel("high", 1, false),
		WithLevel("low", 50, false),
	)
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		assert.Equal(t, []string{"high", "low"}, q.candidates())
	}

	_, err = q.PushTo(ctx, "low job", "low")
	require.NoError(t, err)
	high, err := q.PushTo(ctx, "high job", "high")
	require.NoError(t, err)

	got, err := q.Pop(ctx)
	require.NoError(t, err)
	assert.Equal(t, high.ID, got.ID)
}

func TestQueue_WeightedOrdering(t *testing.T) {
	q, err := New("mail",
		WithRand(rand.New(rand.NewPCG(42, 7))),
		WithLevel("high", 10, false),
		WithLevel("low", 1, false),
	)
	require.NoError(t, err)

	const ticks = 1000
	highFirst := 0
	for i := 0; i < ticks; i++ {
		c := q.candidates()
		require.Len(t, c, 2)
		assert.ElementsMatch(t, []string{"high", "low"}, c)
		if c[0] == "high" {
			highFirst++
		}
	}

	assert.InDelta(t, 10.0/11.0, float64(highFirst)/ticks, 0.05)
}

func TestQueue_Equal(t *testing.T) {
	a, _ := New("mail", WithLevel("high", 10, false), WithLevel("low", 1, false))
	b, _ := New("mail", WithLevel("low", 1, false), WithLevel("high", 10, false))
	c, _ := New("mail", WithLevel("high", 2, false))
	d, _ := New("other", WithLevel("high", 10, false), WithLevel("low", 1, false))

	assert.True(t, a.Equal(a))
	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
	assert.False(t, a.Equal(d))
	assert.False(t, a.Equal(nil))
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "not_ready", NotReady.String())
	assert.Equal(t, "paused", Paused.String())
	assert.Equal(t, "running", Running.String())
	assert.Equal(t, "unknown", State(9).String())
}

func TestQueue_PauseUnpause(t *testing.T) {
	q, err := New("mail")
	require.NoError(t, err)

	assert.Equal(t, NotReady, q.State())
	q.Pause()
	assert.True(t, q.Paused())
	assert.Equal(t, Paused, q.State())
	q.Unpause()
	assert.False(t, q.Paused())
	assert.Equal(t, NotReady, q.State())
}

// recordingPool is a Pool that remembers what it was given
type recordingPool struct {
	mu        sync.Mutex
	jobs      []*job.Job
	size      int
	err       error
	listeners []func()
	shutdown  atomic.Bool
}

func (p *recordingPool) Perform(j *job.Job) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.jobs = append(p.jobs, j)
	return nil
}

func (p *recordingPool) performed() []*job.Job {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*job.Job(nil), p.jobs...)
}

func (p *recordingPool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.size
}

func (p *recordingPool) Resize(n int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.size = n
	return nil
}

func (p *recordingPool) Idle() int    { return p.Size() }
func (p *recordingPool) Busy() int    { return 0 }
func (p *recordingPool) Backlog() int { return 0 }

func (p *recordingPool) NotifyIdle(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listeners = append(p.listeners, fn)
}

func (p *recordingPool) Shutdown(ctx context.Context) error {
	p.shutdown.Store(true)
	return nil
}

func startQueue(t *testing.T, q *Queue) {
	t.Helper()
	require.NoError(t, q.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitFor)
		defer cancel()
		_ = q.Shutdown(ctx)
	})
}

func TestQueue_ReadinessRetry(t *testing.T) {
	p := &recordingPool{size: 1}
	q, err := New("mail", WithPool(p), WithReadinessRetry(time.Hour))
	require.NoError(t, err)
	assert.False(t, q.Ready())

	startQueue(t, q)
	require.Eventually(t, func() bool { return q.State() == Paused }, waitFor, tick)

	s := memory.NewStore()
	require.NoError(t, s.Push(context.Background(), job.New("a", ""), ""))
	q.SetStore(s)

	assert.Eventually(t, func() bool { return len(p.performed()) == 1 }, waitFor, tick)
	assert.Equal(t, Running, q.State())
	assert.True(t, q.Ready())
}

func TestQueue_PausedLoopDoesNotDispatch(t *testing.T) {
	p := &recordingPool{size: 1}
	q, err := New("mail", WithStore(memory.NewStore()), WithPool(p))
	require.NoError(t, err)

	q.Pause()
	startQueue(t, q)

	_, err = q.Push(context.Background(), "a")
	require.NoError(t, err)
	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, p.performed())

	q.Unpause()
	assert.Eventually(t, func() bool { return len(p.performed()) == 1 }, waitFor, tick)
}

func TestQueue_NoCapacitySkipsTick(t *testing.T) {
	p := &recordingPool{size: 0}
	q, err := New("mail", WithStore(memory.NewStore()), WithPool(p))
	require.NoError(t, err)
	startQueue(t, q)

	_, err = q.Push(context.Background(), "a")
	require.NoError(t, err)
	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, p.performed())

	require.NoError(t, q.SetWorkers(1))
	assert.Equal(t, 1, q.Workers())
	assert.Eventually(t, func() bool { return len(p.performed()) == 1 }, waitFor, tick)
}

func TestQueue_RejectedDispatchGoesBack(t *testing.T) {
	ctx := context.Background()
	p := &recordingPool{size: 1, err: errors.ErrPoolShutdown}
	q, err := New("mail", WithStore(memory.NewStore()), WithPool(p))
	require.NoError(t, err)

	pushed, err := q.PushTo(ctx, "a", "high")
	require.NoError(t, err)

	_, err = q.Fetch(ctx)
	assert.ErrorIs(t, err, errors.ErrPoolShutdown)

	sizes, err := q.Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"high": 1}, sizes)

	got, err := q.Pop(ctx)
	require.NoError(t, err)
	assert.Equal(t, pushed.ID, got.ID)
}

func TestQueue_ShutdownClosesOwnedResources(t *testing.T) {
	shared := &recordingPool{size: 1}
	q, err := New("mail", WithStore(memory.NewStore()), WithPool(shared))
	require.NoError(t, err)
	startQueue(t, q)
	require.NoError(t, q.Shutdown(context.Background()))
	assert.False(t, shared.shutdown.Load())
	assert.Equal(t, NotReady, q.State())

	owned := &recordingPool{size: 1}
	q, err = New("mail", WithStore(memory.NewStore()), WithOwnedPool(owned))
	require.NoError(t, err)
	require.NoError(t, q.Start(context.Background()))
	require.NoError(t, q.Shutdown(context.Background()))
	assert.True(t, owned.shutdown.Load())
}

func TestQueue_RunStopsOnCancel(t *testing.T) {
	q, err := New("mail", WithStore(memory.NewStore()), WithPool(&recordingPool{size: 1}))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- q.Run(ctx) }()

	require.Eventually(t, func() bool { return q.State() == Running }, waitFor, tick)
	cancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("run did not return after cancel")
	}
}

func TestQueue_EndToEnd(t *testing.T) {
	ctx := context.Background()

	var mu sync.Mutex
	dispatched := make(map[string]int)
	worker := pool.WorkerFunc(func(ctx context.Context, j *job.Job) (any, error) {
		time.Sleep(5 * time.Millisecond)
		mu.Lock()
		dispatched[j.ID]++
		mu.Unlock()
		return nil, nil
	})

	p, err := pool.New(func() pool.Worker { return worker }, pool.WithSize(2))
	require.NoError(t, err)

	q, err := New("e2e",
		WithStore(memory.NewStore()),
		WithOwnedPool(p),
		WithStrict(false),
		WithLevel("high", 10, false),
		WithLevel("low", 1, false),
	)
	require.NoError(t, err)

	var pushed []*job.Job
	for i := 0; i < 5; i++ {
		j, err := q.PushTo(ctx, i, "low")
		require.NoError(t, err)
		pushed = append(pushed, j)
	}
	j, err := q.PushTo(ctx, "urgent", "high")
	require.NoError(t, err)
	pushed = append(pushed, j)

	startQueue(t, q)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(dispatched) == 6
	}, waitFor, tick)

	// give any duplicate a chance to show up
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	for _, j := range pushed {
		assert.Equal(t, 1, dispatched[j.ID], "job %s", j)
	}
	assert.Len(t, dispatched, 6)

	sizes, err := q.Size(ctx)
	require.NoError(t, err)
	assert.Empty(t, sizes)
}

// flakyStore fails the first few pops
type flakyStore struct {
	*memory.MemoryStore
	failures atomic.Int32
}

func (f *flakyStore) Pop(ctx context.Context, levels []string) (*job.Job, error) {
	if f.failures.Add(-1) >= 0 {
		return nil, errors.NewStoreError("pop", "", errors.ErrNotConnected)
	}
	return f.MemoryStore.Pop(ctx, levels)
}

// lockedBuffer is a log sink safe to read while the loop writes
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestQueue_LoopSurvivesPopErrors(t *testing.T) {
	s := &flakyStore{MemoryStore: memory.NewStore()}
	s.failures.Store(3)
	p := &recordingPool{size: 1}
	logs := &lockedBuffer{}

	q, err := New("mail",
		WithStore(s),
		WithPool(p),
		WithIdleWait(5*time.Millisecond),
		WithLogger(slog.New(slog.NewTextHandler(logs, nil))),
	)
	require.NoError(t, err)

	_, err = q.Push(context.Background(), "a")
	require.NoError(t, err)
	startQueue(t, q)

	assert.Eventually(t, func() bool { return len(p.performed()) == 1 }, waitFor, tick)
	assert.Less(t, s.failures.Load(), int32(0))

	// a disconnected store is retried quietly
	assert.Contains(t, logs.String(), "level=WARN msg=\"Dispatch failed, retrying\"")
	assert.NotContains(t, logs.String(), "level=ERROR")
}

func TestLevelSet_WeightedOrder(t *testing.T) {
	s := levelSet{}
	s.declare(Level{Name: "high", Weight: 3})
	s.declare(Level{Name: "mid", Weight: 2})
	s.declare(Level{Name: "low", Weight: 1})

	tests := []struct {
		name     string
		draws    []int64
		expected []string
	}{
		{"first band", []int64{0, 0, 0}, []string{"high", "mid", "low"}},
		{"last of first band", []int64{2, 2, 0}, []string{"high", "low", "mid"}},
		{"middle band", []int64{3, 0, 0}, []string{"mid", "high", "low"}},
		{"last band", []int64{5, 3, 0}, []string{"low", "mid", "high"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var totals []int64
			i := 0
			draw := func(n int64) int64 {
				totals = append(totals, n)
				v := tt.draws[i]
				i++
				return v
			}
			assert.Equal(t, tt.expected, s.weightedOrder(draw))
			assert.Equal(t, int64(6), totals[0], "first draw spans every weight")
		})
	}
}

func TestQueue_HugeWeightsStayCheap(t *testing.T) {
	q, err := New("mail",
		WithRand(rand.New(rand.NewPCG(1, 2))),
		WithLevel("high", 1_000_000_000, false),
		WithLevel("low", 1, false),
	)
	require.NoError(t, err)

	for i := 0; i < 100; i++ {
		assert.ElementsMatch(t, []string{"high", "low"}, q.candidates())
	}
}
