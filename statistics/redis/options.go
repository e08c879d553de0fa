package redis

import (
	"time"

	"github.com/gomodule/redigo/redis"
)

// Options for Redis statistics
type Options struct {
	// URI is the Redis connection URI. Empty falls back to the same
	// environment lookup as the Redis store.
	URI string

	// Pool shares an existing connection pool, typically the store's
	Pool *redis.Pool

	// Namespace is the key prefix in Redis
	Namespace string

	// Queue scopes the counters to one queue
	Queue string

	// MaxFailures caps the failure list; zero keeps everything
	MaxFailures int64

	MaxConnections int
	MaxIdle        int
	IdleTimeout    time.Duration
	WaitTimeout    time.Duration
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration

	// TLS options
	UseTLS        bool
	TLSSkipVerify bool
	TLSCertPath   string
}

// ConnectionOptions interface implementation
func (o Options) GetURI() string                   { return o.URI }
func (o Options) GetMaxConnections() int           { return o.MaxConnections }
func (o Options) GetMaxIdle() int                  { return o.MaxIdle }
func (o Options) GetIdleTimeout() time.Duration    { return o.IdleTimeout }
func (o Options) GetConnectTimeout() time.Duration { return o.ConnectTimeout }
func (o Options) GetReadTimeout() time.Duration    { return o.ReadTimeout }
func (o Options) GetWriteTimeout() time.Duration   { return o.WriteTimeout }
func (o Options) GetWaitTimeout() time.Duration    { return o.WaitTimeout }
func (o Options) GetUseTLS() bool                  { return o.UseTLS }
func (o Options) GetTLSSkipVerify() bool           { return o.TLSSkipVerify }
func (o Options) GetTLSCertPath() string           { return o.TLSCertPath }

// DefaultOptions returns default Redis statistics options
func DefaultOptions() Options {
	return Options{
		Namespace:      "windup",
		MaxFailures:    1000,
		MaxConnections: 10,
		MaxIdle:        2,
		IdleTimeout:    240 * time.Second,
		WaitTimeout:    5 * time.Second,
		ConnectTimeout: 10 * time.Second,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
	}
}
