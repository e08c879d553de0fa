package windup

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BranchIntl/windup/pool"
	"github.com/BranchIntl/windup/queue"
	"github.com/BranchIntl/windup/registry"
	"github.com/BranchIntl/windup/router"
)

// ShutdownTimeout bounds how long Run waits for queues to stop
const ShutdownTimeout = 30 * time.Second

// NewQueue builds a queue from c. The store is created and connected, and
// unless c.Pool is given a pool of c.Workers workers is started and owned
// by the queue. When reg is non-nil the queue is registered there,
// replacing any live queue of the same name. The queue is returned even
// when shutting down a replaced queue fails.
//
// The queue does not dispatch until it is started, directly or by Run.
func NewQueue(ctx context.Context, reg *registry.Registry, c Config) (*queue.Queue, error) {
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}

	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s, err := NewStore(ctx, c.Name, c.Store, c.LevelNames()...)
	if err != nil {
		return nil, err
	}

	opts := []queue.Option{
		queue.WithStrict(c.Strict),
		queue.WithDefaultLevel(c.DefaultPriorityLevel),
		queue.WithLogger(logger),
	}
	for _, l := range c.Levels {
		opts = append(opts, queue.WithLevel(l.Name, l.Weight, l.Default))
	}
	if c.IdleWait > 0 {
		opts = append(opts, queue.WithIdleWait(c.IdleWait))
	}
	if c.ReadinessRetry > 0 {
		opts = append(opts, queue.WithReadinessRetry(c.ReadinessRetry))
	}

	if c.Pool != nil {
		opts = append(opts, queue.WithStore(s), queue.WithPool(c.Pool))
	} else {
		stats, err := newStatistics(ctx, c.Name, c.Statistics, s)
		if err != nil {
			_ = s.Close()
			return nil, err
		}

		p, err := newPool(c, stats, logger)
		if err != nil {
			_ = stats.Close()
			_ = s.Close()
			return nil, err
		}

		s = &closingStore{Store: s, closers: []func() error{stats.Close}}
		opts = append(opts, queue.WithStore(s), queue.WithOwnedPool(p))
	}

	q, err := queue.New(c.Name, opts...)
	if err != nil {
		return nil, err
	}

	if reg != nil {
		if err := reg.Register(ctx, q); err != nil {
			return q, err
		}
	}

	logger.Info("Queue created",
		"queue", c.Name,
		"store", c.Store.Type,
		"workers", q.Workers(),
		"levels", q.PriorityLevels())
	return q, nil
}

func newPool(c Config, stats pool.Statistics, logger *slog.Logger) (*pool.Supervisor, error) {
	opts := []pool.Option{
		pool.WithSize(c.Workers),
		pool.WithMaxRestarts(c.MaxRestarts),
		pool.WithStatistics(stats),
		pool.WithLogger(logger.With("queue", c.Name)),
	}
	if c.Router != "" {
		opts = append(opts, pool.WithRouter(router.New(c.Router)))
	}
	return pool.New(c.Worker, opts...)
}

// Run starts every queue in reg and blocks until ctx is done or the
// process is asked to quit, then shuts all of them down.
func Run(ctx context.Context, reg *registry.Registry) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	for _, name := range reg.List() {
		q, ok := reg.Get(name)
		if !ok {
			continue
		}
		if err := q.Start(ctx); err != nil {
			return fmt.Errorf("start queue %s: %w", name, err)
		}
	}

	select {
	case <-ctx.Done():
		slog.Info("Context cancelled, shutting down")
	case sig := <-signals(ctx):
		slog.Info("Received signal, shutting down", "signal", sig)
	}

	shutdownCtx, stop := context.WithTimeout(context.WithoutCancel(ctx), ShutdownTimeout)
	defer stop()
	return reg.Shutdown(shutdownCtx)
}

// signals delivers the first quit signal received while ctx is live
func signals(ctx context.Context) <-chan os.Signal {
	quit := make(chan os.Signal, 1)

	go func() {
		sigs := make(chan os.Signal, 1)
		signal.Notify(sigs, syscall.SIGQUIT, syscall.SIGTERM, os.Interrupt)
		defer signal.Stop(sigs)

		select {
		case sig := <-sigs:
			quit <- sig
		case <-ctx.Done():
		}
	}()

	return quit
}
