package redis

import (
	"os"
	"time"

	"github.com/gomodule/redigo/redis"
)

// Options for the Redis store
type Options struct {
	// URI is the Redis connection URI. Empty falls back to $REDIS_PROVIDER,
	// $REDIS_URL and finally redis://localhost:6379/0.
	URI string

	// Pool reuses an existing connection pool; URI and the connection
	// settings below are ignored when it is set.
	Pool *redis.Pool

	// Namespace is the key prefix root
	Namespace string

	// Environment separates keys of different deployments sharing a server
	Environment string

	// PopTimeout bounds how long Pop blocks on BLPOP. Zero disables
	// blocking and pops with LPOP.
	PopTimeout time.Duration

	// UseNumber decodes payload numbers as json.Number
	UseNumber bool

	// MaxConnections is the connection pool size
	MaxConnections int

	// MaxIdle is the maximum number of idle connections
	MaxIdle int

	// IdleTimeout is the timeout for idle connections
	IdleTimeout time.Duration

	// WaitTimeout is how long a caller waits for a free pooled connection
	WaitTimeout time.Duration

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

// DefaultOptions returns default Redis store options
func DefaultOptions() Options {
	return Options{
		Namespace:      "windup",
		Environment:    environment(),
		PopTimeout:     time.Second,
		MaxConnections: 3,
		MaxIdle:        3,
		IdleTimeout:    240 * time.Second,
		WaitTimeout:    5 * time.Second,
		ConnectTimeout: 10 * time.Second,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
	}
}

func environment() string {
	for _, name := range []string{"APP_ENV", "RACK_ENV", "RAILS_ENV"} {
		if v := os.Getenv(name); v != "" {
			return v
		}
	}
	return "none"
}
