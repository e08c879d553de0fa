package windup

import (
	"context"
	"fmt"

	"github.com/BranchIntl/windup/errors"
	"github.com/BranchIntl/windup/pool"
	"github.com/BranchIntl/windup/statistics/noop"
	redisstats "github.com/BranchIntl/windup/statistics/redis"
	"github.com/BranchIntl/windup/store"
	"github.com/BranchIntl/windup/store/memory"
	"github.com/BranchIntl/windup/store/rabbitmq"
	redisstore "github.com/BranchIntl/windup/store/redis"
)

// NewStore creates the store for queue name and connects it when the
// backend needs a connection. Backends that cannot list their levels
// are told about levels up front.
func NewStore(ctx context.Context, name string, c StoreConfig, levels ...string) (store.Store, error) {
	var s store.Store

	switch c.Type {
	case "", StoreMemory:
		return memory.NewStore(), nil

	case StoreRedis:
		opts := redisstore.DefaultOptions()
		opts.URI = c.URL
		opts.Pool = c.Connection
		opts.UseNumber = c.UseNumber
		if c.Namespace != "" {
			opts.Namespace = c.Namespace
		}
		if c.Size > 0 {
			opts.MaxConnections = c.Size
			opts.MaxIdle = c.Size
		}
		if c.Timeout > 0 {
			opts.WaitTimeout = c.Timeout
		}
		if c.PopTimeout > 0 {
			opts.PopTimeout = c.PopTimeout
		}
		s = redisstore.NewStore(name, opts)

	case StoreRabbitMQ:
		opts := rabbitmq.DefaultOptions()
		if c.URL != "" {
			opts.URI = c.URL
		}
		if c.Namespace != "" {
			opts.QueuePrefix = c.Namespace
		}
		if c.PopTimeout > 0 {
			opts.PollTimeout = c.PopTimeout
		}
		opts.UseNumber = c.UseNumber
		opts.Levels = levels
		s = rabbitmq.NewStore(name, opts)

	default:
		return nil, errors.NewConfigError("store", fmt.Errorf("%w: %s", errors.ErrUnknownStore, c.Type))
	}

	if connector, ok := s.(store.Connector); ok {
		if err := connector.Connect(ctx); err != nil {
			return nil, fmt.Errorf("connect %s store: %w", c.Type, err)
		}
	}
	return s, nil
}

// statistics is a pool statistics backend that holds resources
type statistics interface {
	pool.Statistics
	Close() error
}

// newStatistics creates the counters backend for a queue. A redis backend
// shares the store's connection pool when the store is redis too.
func newStatistics(ctx context.Context, name string, c StatisticsConfig, s store.Store) (statistics, error) {
	switch c.Type {
	case "", StatisticsNoop:
		return noop.NewStatistics(), nil

	case StatisticsRedis:
		opts := redisstats.DefaultOptions()
		opts.URI = c.URL
		opts.Queue = name
		if c.Namespace != "" {
			opts.Namespace = c.Namespace
		}
		if c.MaxFailures > 0 {
			opts.MaxFailures = c.MaxFailures
		}
		if rs, ok := s.(*redisstore.RedisStore); ok && c.URL == "" {
			opts.Pool = rs.Pool()
		}

		stats := redisstats.NewStatistics(opts)
		if err := stats.Connect(ctx); err != nil {
			return nil, fmt.Errorf("connect statistics: %w", err)
		}
		return stats, nil

	default:
		return nil, errors.NewConfigError("statistics", fmt.Errorf("%w: unknown statistics type %s", errors.ErrInvalidConfig, c.Type))
	}
}

// closingStore closes extra resources along with the store
type closingStore struct {
	store.Store
	closers []func() error
}

func (s *closingStore) Close() error {
	err := s.Store.Close()
	for _, c := range s.closers {
		if cerr := c(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}
