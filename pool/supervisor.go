// Package pool supervises a resizable group of workers fed from a shared
// inbox mailbox.
//
// Each worker owns a slot whose mailbox subscribes to the inbox and falls
// back to it as a master. Crashed workers (panics) are restarted in place;
// workers that receive a termination request leave and their slot is
// removed, which is how the pool shrinks.
package pool

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BranchIntl/windup/errors"
	"github.com/BranchIntl/windup/job"
	"github.com/BranchIntl/windup/mailbox"
	"github.com/google/uuid"
)

// Supervisor owns the worker slots of a pool
type Supervisor struct {
	cfg     config
	factory Factory
	logger  *slog.Logger
	inbox   *mailbox.Publisher

	ctx    context.Context
	cancel context.CancelFunc
	exits  chan exit
	wg     sync.WaitGroup
	done   chan struct{}

	mu        sync.Mutex
	target    int
	slots     []*Slot
	closed    bool
	listeners []func()

	busy atomic.Int32
}

// exit reports a worker goroutine ending. A nil crash is a requested
// termination.
type exit struct {
	slot  *Slot
	crash error
}

// New starts a supervisor with the configured number of workers
func New(factory Factory, opts ...Option) (*Supervisor, error) {
	if factory == nil {
		return nil, errors.ErrMissingWorker
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.size < 0 {
		return nil, errors.NewConfigError("size", errors.ErrInvalidConfig)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Supervisor{
		cfg:     cfg,
		factory: factory,
		logger:  cfg.logger,
		inbox:   mailbox.NewPublisher(mailbox.New()),
		ctx:     ctx,
		cancel:  cancel,
		exits:   make(chan exit),
		done:    make(chan struct{}),
	}

	go s.supervise()

	if err := s.Resize(cfg.size); err != nil {
		cancel()
		return nil, err
	}
	return s, nil
}

// Size returns the requested number of workers
func (s *Supervisor) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.target
}

// Live returns the number of slots currently occupied, which lags Size
// while termination requests are pending
func (s *Supervisor) Live() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.slots)
}

// Resize grows the pool by spawning workers or shrinks it by sending one
// termination request per surplus worker into the shared inbox. Shrinking
// stops whichever workers pick the requests up, so queued work is not
// protected.
func (s *Supervisor) Resize(n int) error {
	if n < 0 {
		return errors.NewConfigError("size", errors.ErrInvalidConfig)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errors.ErrPoolShutdown
	}

	grew := n > s.target
	for i := s.target; i < n; i++ {
		s.addSlot()
	}
	for i := n; i < s.target; i++ {
		if err := s.inbox.Send(mailbox.TerminationRequest{Reason: "resize"}); err != nil {
			s.mu.Unlock()
			return err
		}
	}

	if n != s.target {
		s.logger.Info("Resized worker pool", "from", s.target, "to", n)
	}
	s.target = n
	s.mu.Unlock()

	if grew {
		s.notifyIdle()
	}
	return nil
}

// CallAsync runs call on some worker without waiting
func (s *Supervisor) CallAsync(call Call) error {
	return s.dispatch(&request{call: call})
}

// CallFuture runs call on some worker and returns a handle to its result
func (s *Supervisor) CallFuture(call Call) (*Future, error) {
	f := newFuture()
	if err := s.dispatch(&request{call: call, future: f}); err != nil {
		return nil, err
	}
	return f, nil
}

// CallSync runs call on some worker and waits for the result
func (s *Supervisor) CallSync(ctx context.Context, call Call) (any, error) {
	f, err := s.CallFuture(call)
	if err != nil {
		return nil, err
	}
	return f.Value(ctx)
}

// Perform hands j to the pool asynchronously
func (s *Supervisor) Perform(j *job.Job) error {
	return s.dispatch(&request{call: performCall(j), job: j})
}

// PerformFuture hands j to the pool and returns a handle to its result
func (s *Supervisor) PerformFuture(j *job.Job) (*Future, error) {
	f := newFuture()
	if err := s.dispatch(&request{call: performCall(j), job: j, future: f}); err != nil {
		return nil, err
	}
	return f, nil
}

// Busy returns the number of workers executing a call
func (s *Supervisor) Busy() int {
	return int(s.busy.Load())
}

// Idle returns the number of live workers not executing a call
func (s *Supervisor) Idle() int {
	idle := s.Live() - s.Busy()
	if idle < 0 {
		return 0
	}
	return idle
}

// Backlog returns the number of dispatched messages no worker has taken
func (s *Supervisor) Backlog() int {
	n := s.inbox.Size()
	if s.cfg.router == nil {
		return n
	}
	if p, ok := s.cfg.router.(interface{ Pending() int }); ok {
		return n + p.Pending()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sl := range s.slots {
		n += sl.own.Size()
	}
	return n
}

// Slots returns a snapshot of every live slot
func (s *Supervisor) Slots() []SlotInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]SlotInfo, 0, len(s.slots))
	for _, sl := range s.slots {
		out = append(out, sl.info())
	}
	return out
}

// NotifyIdle registers fn to be called whenever worker capacity may have
// been freed
func (s *Supervisor) NotifyIdle(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Shutdown stops every worker, discarding undelivered calls, and waits
// for running calls to return or ctx to end
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	slots := append([]*Slot(nil), s.slots...)
	s.mu.Unlock()

	s.logger.Info("Shutting down worker pool", "workers", len(slots))

	s.cancel()
	s.inbox.Shutdown()
	for _, sl := range slots {
		sl.mailbox.Shutdown()
	}
	<-s.done

	stopped := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(stopped)
	}()

	select {
	case <-stopped:
		s.logger.Info("Worker pool stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Supervisor) dispatch(r *request) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return errors.ErrPoolShutdown
	}

	err := s.route(r)
	if stderrors.Is(err, errors.ErrDeadRecipient) {
		return errors.ErrPoolShutdown
	}
	return err
}

// addSlot creates and starts a slot. Callers hold s.mu.
func (s *Supervisor) addSlot() {
	own := mailbox.New()
	sl := &Slot{
		id:      uuid.NewString(),
		own:     own,
		mailbox: mailbox.NewSubscriber(mailbox.NewSlave(own, s.inbox)),
	}

	if s.cfg.router != nil {
		s.cfg.router.Subscribe(sl.mailbox)
	} else {
		s.inbox.Subscribe(sl.mailbox)
	}

	s.slots = append(s.slots, sl)
	s.spawn(sl)
}

// removeSlot retires a slot, re-dispatching calls routed to it. Callers
// hold s.mu.
func (s *Supervisor) removeSlot(sl *Slot) {
	for i, other := range s.slots {
		if other == sl {
			s.slots = append(s.slots[:i], s.slots[i+1:]...)
			break
		}
	}

	if s.cfg.router != nil {
		s.cfg.router.Unsubscribe(sl.mailbox)
	} else {
		s.inbox.Unsubscribe(sl.mailbox)
	}

	for {
		msg, err := sl.own.Receive(s.ctx, 0)
		if err != nil {
			break
		}
		r, ok := msg.(*request)
		if !ok {
			continue
		}
		if err := s.route(r); err != nil {
			r.Cleanup()
		}
	}
	sl.mailbox.Shutdown()
}

func (s *Supervisor) route(r *request) error {
	if s.cfg.router != nil {
		return s.cfg.router.Route(r)
	}
	return s.inbox.Send(r)
}

func (s *Supervisor) spawn(sl *Slot) {
	w := s.factory()
	s.wg.Add(1)
	go s.work(sl, w)
	s.logger.Debug("Worker started", "slot", sl.id)
}

func (s *Supervisor) work(sl *Slot, w Worker) {
	defer s.wg.Done()

	for {
		msg, err := sl.mailbox.Receive(s.ctx, -1)
		if err != nil {
			// shutdown or slot removed
			return
		}
		if s.ctx.Err() != nil {
			if c, ok := msg.(mailbox.Cleaner); ok {
				c.Cleanup()
			}
			return
		}

		switch m := msg.(type) {
		case mailbox.TerminationRequest:
			s.report(exit{slot: sl})
			return
		case *request:
			if crash := s.execute(sl, w, m); crash != nil {
				s.report(exit{slot: sl, crash: crash})
				return
			}
		default:
			s.logger.Warn("Discarding unexpected message", "slot", sl.id, "type", fmt.Sprintf("%T", msg))
		}
	}
}

// execute runs one call, converting a panic into a crash error
func (s *Supervisor) execute(sl *Slot, w Worker, r *request) (crash error) {
	s.busy.Add(1)
	start := time.Now()

	jobID := ""
	if r.job != nil {
		jobID = r.job.ID
		if err := s.statsStarted(r.job, sl.id); err != nil {
			s.logger.Error("Failed to record job start", "error", err)
		}
	}

	defer func() {
		if p := recover(); p != nil {
			crash = errors.NewWorkerError(sl.id, jobID, fmt.Errorf("%w: %v", errors.ErrWorkerCrashed, p))
			s.finish(sl, r, nil, crash, time.Since(start))
		}
		s.busy.Add(-1)
		s.notifyIdle()
	}()

	value, err := r.call(s.ctx, w)
	if err != nil {
		err = errors.NewWorkerError(sl.id, jobID, err)
	}
	s.finish(sl, r, value, err, time.Since(start))
	return nil
}

func (s *Supervisor) finish(sl *Slot, r *request, value any, err error, elapsed time.Duration) {
	if r.future != nil {
		r.future.resolve(value, err)
	}
	if r.job == nil {
		return
	}

	if err != nil {
		if statErr := s.statsFailed(r.job, sl.id, err, elapsed); statErr != nil {
			s.logger.Error("Failed to record job failure", "error", statErr)
		}
		s.logger.Error("Job failed", "job", r.job.ID, "level", r.job.Level, "error", err)
		return
	}

	if statErr := s.statsCompleted(r.job, sl.id, elapsed); statErr != nil {
		s.logger.Error("Failed to record job completion", "error", statErr)
	}
	s.logger.Debug("Job completed", "job", r.job.ID, "level", r.job.Level, "duration", elapsed)
}

func (s *Supervisor) report(e exit) {
	select {
	case s.exits <- e:
	case <-s.ctx.Done():
	}
}

// supervise turns worker exits into slot removals and restarts
func (s *Supervisor) supervise() {
	defer close(s.done)

	for {
		select {
		case <-s.ctx.Done():
			return
		case e := <-s.exits:
			s.handleExit(e)
		}
	}
}

func (s *Supervisor) handleExit(e exit) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	if e.crash == nil {
		s.removeSlot(e.slot)
		s.logger.Debug("Worker terminated", "slot", e.slot.id)
		return
	}

	if limit := s.cfg.maxRestarts; limit > 0 && e.slot.restarts() >= limit {
		s.removeSlot(e.slot)
		if s.target > 0 {
			s.target--
		}
		s.logger.Error("Worker exceeded restart limit, slot removed",
			"slot", e.slot.id, "restarts", limit, "error", e.crash)
		return
	}

	e.slot.recordRestart(e.crash)
	s.logger.Warn("Restarting crashed worker", "slot", e.slot.id, "error", e.crash)
	s.spawn(e.slot)
}

func (s *Supervisor) notifyIdle() {
	s.mu.Lock()
	listeners := append([]func(){}, s.listeners...)
	s.mu.Unlock()

	for _, fn := range listeners {
		fn()
	}
}

func (s *Supervisor) statsStarted(j *job.Job, slot string) error {
	if s.cfg.stats == nil {
		return nil
	}
	return s.cfg.stats.RecordJobStarted(s.ctx, j, slot)
}

func (s *Supervisor) statsCompleted(j *job.Job, slot string, elapsed time.Duration) error {
	if s.cfg.stats == nil {
		return nil
	}
	return s.cfg.stats.RecordJobCompleted(s.ctx, j, slot, elapsed)
}

func (s *Supervisor) statsFailed(j *job.Job, slot string, err error, elapsed time.Duration) error {
	if s.cfg.stats == nil {
		return nil
	}
	return s.cfg.stats.RecordJobFailed(s.ctx, j, slot, err, elapsed)
}
