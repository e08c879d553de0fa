// Package queue ties a store to a worker pool with a dispatch loop.
//
// The loop runs one tick at a time: it checks readiness and flow control,
// pops the next job using the queue's level ordering and hands it to the
// pool without waiting for it to finish. Ticks never overlap.
package queue

import (
	"context"
	"log/slog"
	"maps"
	"math/rand/v2"
	"slices"
	"sync"

	"github.com/BranchIntl/windup/errors"
	"github.com/BranchIntl/windup/job"
	"github.com/BranchIntl/windup/store"
)

// Pool is the part of the worker pool a queue dispatches to
type Pool interface {
	Perform(j *job.Job) error
	Size() int
	Resize(n int) error
	Idle() int
	Busy() int
	Backlog() int
	NotifyIdle(fn func())
	Shutdown(ctx context.Context) error
}

// State is the flow-control state of a queue
type State int

const (
	NotReady State = iota
	Paused
	Running
)

func (s State) String() string {
	switch s {
	case NotReady:
		return "not_ready"
	case Paused:
		return "paused"
	case Running:
		return "running"
	default:
		return "unknown"
	}
}

// Queue dispatches jobs from one store to one pool
type Queue struct {
	name   string
	cfg    config
	logger *slog.Logger

	mu       sync.Mutex
	store    store.Store
	pool     Pool
	ownsPool bool
	levels   levelSet
	paused   bool
	waiting  bool
	started  bool
	cancel   context.CancelFunc
	done     chan struct{}

	rngMu sync.Mutex
	rng   *rand.Rand

	wake chan struct{}
}

// New creates a queue. It does not dispatch until Start is called.
func New(name string, opts ...Option) (*Queue, error) {
	if name == "" {
		return nil, errors.ErrMissingQueueName
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	rng := cfg.rng
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}

	q := &Queue{
		name:     name,
		cfg:      cfg,
		logger:   cfg.logger.With("queue", name),
		store:    cfg.store,
		ownsPool: cfg.ownsPool,
		rng:      rng,
		wake:     make(chan struct{}, 1),
	}
	for _, l := range cfg.levels {
		q.levels.declare(l)
	}
	if cfg.pool != nil {
		q.attach(cfg.pool)
	}
	return q, nil
}

// Name returns the queue name
func (q *Queue) Name() string {
	return q.name
}

// Strict reports whether levels are offered in declaration order
func (q *Queue) Strict() bool {
	return q.cfg.strict
}

// DeclareLevel adds a priority level, or replaces the weight of an
// existing one while keeping its position. Weights below 1 count as 1.
func (q *Queue) DeclareLevel(name string, weight int, isDefault bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.levels.declare(Level{Name: name, Weight: weight, Default: isDefault})
}

// PriorityLevels returns level names in declaration order
func (q *Queue) PriorityLevels() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.levels.names()
}

// PriorityLevelWeights returns the weight of every level
func (q *Queue) PriorityLevelWeights() map[string]int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.levels.weights()
}

// DefaultLevel returns the level Push uses: the configured default, else
// a level declared as default, else the first declared level. It is empty
// for a queue without levels.
func (q *Queue) DefaultLevel() string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.defaultLevel()
}

func (q *Queue) defaultLevel() string {
	if q.cfg.defaultLevel != "" {
		return q.cfg.defaultLevel
	}
	if name := q.levels.flaggedDefault(); name != "" {
		return name
	}
	if len(q.levels.levels) > 0 {
		return q.levels.levels[0].Name
	}
	return ""
}

// Push stores payload at the default level
func (q *Queue) Push(ctx context.Context, payload any) (*job.Job, error) {
	return q.PushTo(ctx, payload, "")
}

// PushTo stores payload at level, or at the default level when empty
func (q *Queue) PushTo(ctx context.Context, payload any, level string) (*job.Job, error) {
	q.mu.Lock()
	s := q.store
	if level == "" {
		level = q.defaultLevel()
	}
	q.mu.Unlock()

	if s == nil {
		return nil, errors.ErrNotConnected
	}

	j := job.New(payload, level)
	if err := s.Push(ctx, j, j.Level); err != nil {
		return nil, err
	}
	q.signal()
	return j, nil
}

// Pop removes the next job using the queue's level ordering without
// dispatching it. It returns (nil, nil) when nothing is pending.
func (q *Queue) Pop(ctx context.Context) (*job.Job, error) {
	s := q.Store()
	if s == nil {
		return nil, errors.ErrNotConnected
	}
	return s.Pop(ctx, q.candidates())
}

// Fetch pops the next job and hands it to the pool
func (q *Queue) Fetch(ctx context.Context) (*job.Job, error) {
	q.mu.Lock()
	s, p := q.store, q.pool
	q.mu.Unlock()

	if s == nil || p == nil {
		return nil, errors.ErrNotConnected
	}
	return q.dispatch(ctx, s, p)
}

// Size returns pending counts per level
func (q *Queue) Size(ctx context.Context) (map[string]int64, error) {
	s := q.Store()
	if s == nil {
		return nil, errors.ErrNotConnected
	}
	return s.Size(ctx)
}

// Reset clears the store
func (q *Queue) Reset(ctx context.Context) error {
	s := q.Store()
	if s == nil {
		return errors.ErrNotConnected
	}
	return s.Reset(ctx)
}

// Pause stops dispatching until Unpause
func (q *Queue) Pause() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.paused {
		q.paused = true
		q.logger.Info("Queue paused")
	}
}

// Unpause resumes dispatching, also cutting a readiness retry short
func (q *Queue) Unpause() {
	q.mu.Lock()
	wasPaused := q.paused || q.waiting
	q.paused = false
	q.waiting = false
	q.mu.Unlock()

	if wasPaused {
		q.logger.Info("Queue unpaused")
	}
	q.signal()
}

// Paused reports an explicit pause or a pending readiness retry
func (q *Queue) Paused() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.paused || q.waiting
}

// Ready reports whether the queue has both a store and a pool
func (q *Queue) Ready() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.ready()
}

func (q *Queue) ready() bool {
	return q.store != nil && q.pool != nil
}

// State returns the flow-control state
func (q *Queue) State() State {
	q.mu.Lock()
	defer q.mu.Unlock()

	switch {
	case q.paused || q.waiting:
		return Paused
	case !q.ready() || !q.started:
		return NotReady
	default:
		return Running
	}
}

// Store returns the current store
func (q *Queue) Store() store.Store {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.store
}

// SetStore replaces the store. The previous store is not closed.
func (q *Queue) SetStore(s store.Store) {
	q.mu.Lock()
	q.store = s
	q.mu.Unlock()
	q.signal()
}

// Pool returns the current pool
func (q *Queue) Pool() Pool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pool
}

// SetPool replaces the pool. owned pools are shut down with the queue.
func (q *Queue) SetPool(p Pool, owned bool) {
	q.mu.Lock()
	q.ownsPool = owned
	q.mu.Unlock()
	q.attach(p)
	q.signal()
}

func (q *Queue) attach(p Pool) {
	q.mu.Lock()
	q.pool = p
	q.mu.Unlock()
	p.NotifyIdle(q.signal)
}

// SetWorkers resizes the pool
func (q *Queue) SetWorkers(n int) error {
	p := q.Pool()
	if p == nil {
		return errors.ErrNotConnected
	}
	if err := p.Resize(n); err != nil {
		return err
	}
	q.signal()
	return nil
}

// Workers returns the pool size, zero without a pool
func (q *Queue) Workers() int {
	if p := q.Pool(); p != nil {
		return p.Size()
	}
	return 0
}

// IdleWorkers returns the number of workers free for a job
func (q *Queue) IdleWorkers() int {
	if p := q.Pool(); p != nil {
		return p.Idle()
	}
	return 0
}

// BusyWorkers returns the number of workers running a job
func (q *Queue) BusyWorkers() int {
	if p := q.Pool(); p != nil {
		return p.Busy()
	}
	return 0
}

// Backlog returns jobs handed to the pool but not yet picked up
func (q *Queue) Backlog() int {
	if p := q.Pool(); p != nil {
		return p.Backlog()
	}
	return 0
}

// Equal reports whether both queues have the same name and level weights
func (q *Queue) Equal(other *Queue) bool {
	if other == nil {
		return false
	}
	if q == other {
		return true
	}
	return q.name == other.name &&
		maps.Equal(q.PriorityLevelWeights(), other.PriorityLevelWeights())
}

// signal wakes the dispatch loop if it is idling
func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// candidates returns the level order for one pop: declaration order in
// strict mode, otherwise a weighted draw. Nil means any level.
func (q *Queue) candidates() []string {
	q.mu.Lock()
	if len(q.levels.levels) == 0 {
		q.mu.Unlock()
		return nil
	}
	if q.cfg.strict {
		names := q.levels.names()
		q.mu.Unlock()
		return names
	}
	levels := levelSet{levels: slices.Clone(q.levels.levels)}
	q.mu.Unlock()

	q.rngMu.Lock()
	defer q.rngMu.Unlock()
	return levels.weightedOrder(q.rng.Int64N)
}
