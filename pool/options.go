package pool

import (
	"log/slog"

	"github.com/BranchIntl/windup/router"
)

// Option configures a Supervisor
type Option func(*config)

type config struct {
	size        int
	maxRestarts int
	router      router.Router
	stats       Statistics
	logger      *slog.Logger
}

func defaultConfig() config {
	return config{
		size:   1,
		logger: slog.Default(),
	}
}

// WithSize sets the initial number of workers
func WithSize(n int) Option {
	return func(c *config) {
		c.size = n
	}
}

// WithMaxRestarts caps restarts per slot. Zero means unlimited; a slot
// that crashes past the cap is removed.
func WithMaxRestarts(n int) Option {
	return func(c *config) {
		c.maxRestarts = n
	}
}

// WithRouter dispatches calls through r across worker mailboxes instead
// of the shared inbox
func WithRouter(r router.Router) Option {
	return func(c *config) {
		c.router = r
	}
}

// WithStatistics records job outcomes
func WithStatistics(s Statistics) Option {
	return func(c *config) {
		c.stats = s
	}
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		c.logger = l
	}
}
