package redis

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	windupErrors "github.com/BranchIntl/windup/errors"
	"github.com/gomodule/redigo/redis"
)

// DefaultURI is used when neither options nor the environment name a server.
const DefaultURI = "redis://localhost:6379/0"

var (
	// ErrInvalidScheme is returned when the Redis URI scheme is invalid
	ErrInvalidScheme = errors.New("invalid Redis database URI scheme")
)

// ConnectionOptions defines what a backend must expose to get a pool
type ConnectionOptions interface {
	GetURI() string
	GetMaxConnections() int
	GetMaxIdle() int
	GetIdleTimeout() time.Duration
	GetConnectTimeout() time.Duration
	GetReadTimeout() time.Duration
	GetWriteTimeout() time.Duration
	GetWaitTimeout() time.Duration
	GetUseTLS() bool
	GetTLSSkipVerify() bool
	GetTLSCertPath() string
}

// ResolveURI picks the connection URI: the explicit value, then the
// variable named by $REDIS_PROVIDER, then $REDIS_URL, then DefaultURI.
func ResolveURI(uri string) string {
	if uri != "" {
		return uri
	}
	if provider := os.Getenv("REDIS_PROVIDER"); provider != "" {
		if v := os.Getenv(provider); v != "" {
			return v
		}
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		return v
	}
	return DefaultURI
}

// CreatePool creates a Redis connection pool using the provided options.
// A non-zero wait timeout makes Get block for a free connection instead
// of failing once MaxConnections are in use.
func CreatePool(options ConnectionOptions) (*redis.Pool, error) {
	if _, err := url.Parse(ResolveURI(options.GetURI())); err != nil {
		return nil, windupErrors.NewConnectionError(options.GetURI(),
			fmt.Errorf("invalid URI: %w", err))
	}

	return &redis.Pool{
		MaxActive:   options.GetMaxConnections(),
		MaxIdle:     options.GetMaxIdle(),
		IdleTimeout: options.GetIdleTimeout(),
		Wait:        options.GetWaitTimeout() > 0,
		Dial: func() (redis.Conn, error) {
			return DialRedis(options)
		},
		TestOnBorrow: func(c redis.Conn, t time.Time) error {
			if time.Since(t) < time.Minute {
				return nil
			}
			_, err := c.Do("PING")
			return err
		},
	}, nil
}

// DialRedis establishes a Redis connection using the provided options
func DialRedis(options ConnectionOptions) (redis.Conn, error) {
	rawURI := ResolveURI(options.GetURI())
	uri, err := url.Parse(rawURI)
	if err != nil {
		return nil, windupErrors.NewConnectionError(rawURI,
			fmt.Errorf("invalid URI: %w", err))
	}

	network, host, dialOptions, err := dialParams(uri, options)
	if err != nil {
		return nil, err
	}

	conn, err := redis.Dial(network, host, dialOptions...)
	if err != nil {
		return nil, windupErrors.NewConnectionError(redact(uri),
			fmt.Errorf("failed to connect: %w", err))
	}
	return conn, nil
}

// dialParams translates a URI into redigo dial arguments
func dialParams(uri *url.URL, options ConnectionOptions) (string, string, []redis.DialOption, error) {
	dialOptions := []redis.DialOption{
		redis.DialConnectTimeout(options.GetConnectTimeout()),
		redis.DialReadTimeout(options.GetReadTimeout()),
		redis.DialWriteTimeout(options.GetWriteTimeout()),
	}

	switch uri.Scheme {
	case "redis", "rediss":
		if uri.User != nil {
			if password, ok := uri.User.Password(); ok {
				dialOptions = append(dialOptions, redis.DialPassword(password))
			}
		}
		if len(uri.Path) > 1 {
			var db int
			if _, err := fmt.Sscanf(uri.Path[1:], "%d", &db); err != nil {
				return "", "", nil, windupErrors.NewConnectionError(redact(uri),
					fmt.Errorf("invalid database %q: %w", uri.Path[1:], err))
			}
			dialOptions = append(dialOptions, redis.DialDatabase(db))
		}

		if uri.Scheme == "rediss" || options.GetUseTLS() {
			tlsConfig := &tls.Config{
				InsecureSkipVerify: options.GetTLSSkipVerify(),
			}

			if options.GetTLSCertPath() != "" {
				pool, err := LoadCertPool(options.GetTLSCertPath())
				if err != nil {
					return "", "", nil, err
				}
				tlsConfig.RootCAs = pool
			}

			dialOptions = append(dialOptions,
				redis.DialUseTLS(true),
				redis.DialTLSConfig(tlsConfig),
			)
		}
		return "tcp", uri.Host, dialOptions, nil
	case "unix":
		return "unix", uri.Path, dialOptions, nil
	default:
		return "", "", nil, windupErrors.NewConnectionError(redact(uri), ErrInvalidScheme)
	}
}

// LoadCertPool loads a certificate pool from a file
func LoadCertPool(certPath string) (*x509.CertPool, error) {
	rootCAs, _ := x509.SystemCertPool()
	if rootCAs == nil {
		rootCAs = x509.NewCertPool()
	}

	certs, err := os.ReadFile(certPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read cert file %q: %w", certPath, err)
	}

	if ok := rootCAs.AppendCertsFromPEM(certs); !ok {
		return nil, fmt.Errorf("failed to append certs from %q", certPath)
	}

	return rootCAs, nil
}

func redact(uri *url.URL) string {
	return uri.Redacted()
}
