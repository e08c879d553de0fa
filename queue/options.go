package queue

import (
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/BranchIntl/windup/store"
)

// Option configures a Queue
type Option func(*config)

type config struct {
	store          store.Store
	pool           Pool
	ownsPool       bool
	strict         bool
	defaultLevel   string
	levels         []Level
	idleWait       time.Duration
	readinessRetry time.Duration
	rng            *rand.Rand
	logger         *slog.Logger
}

func defaultConfig() config {
	return config{
		idleWait:       50 * time.Millisecond,
		readinessRetry: 5 * time.Second,
		logger:         slog.Default(),
	}
}

// WithStore sets the store. The queue closes it on shutdown.
func WithStore(s store.Store) Option {
	return func(c *config) {
		c.store = s
	}
}

// WithPool dispatches to a pool owned by someone else
func WithPool(p Pool) Option {
	return func(c *config) {
		c.pool = p
		c.ownsPool = false
	}
}

// WithOwnedPool dispatches to p and shuts it down with the queue
func WithOwnedPool(p Pool) Option {
	return func(c *config) {
		c.pool = p
		c.ownsPool = true
	}
}

// WithStrict offers levels in declaration order instead of weighted
// random order
func WithStrict(strict bool) Option {
	return func(c *config) {
		c.strict = strict
	}
}

// WithDefaultLevel sets the level Push uses
func WithDefaultLevel(name string) Option {
	return func(c *config) {
		c.defaultLevel = name
	}
}

// WithLevel declares a priority level
func WithLevel(name string, weight int, isDefault bool) Option {
	return func(c *config) {
		c.levels = append(c.levels, Level{Name: name, Weight: weight, Default: isDefault})
	}
}

// WithIdleWait bounds the pause after a tick that found nothing to do.
// Pushes and capacity changes cut it short.
func WithIdleWait(d time.Duration) Option {
	return func(c *config) {
		c.idleWait = d
	}
}

// WithReadinessRetry sets how long the loop stays paused while the queue
// has no store or pool
func WithReadinessRetry(d time.Duration) Option {
	return func(c *config) {
		c.readinessRetry = d
	}
}

// WithRand sets the source used to order weighted levels
func WithRand(r *rand.Rand) Option {
	return func(c *config) {
		c.rng = r
	}
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		c.logger = l
	}
}
