// Package redis implements a network-backed job store on Redis lists.
//
// Each level is a list under windup:<env>:queues:<queue>:<level>. Pop uses
// BLPOP across the candidate keys, so Redis itself resolves the candidate
// order and the configured timeout throttles the dispatch loop when every
// level is empty.
package redis

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/BranchIntl/windup/errors"
	redisUtils "github.com/BranchIntl/windup/internal/redis"
	"github.com/BranchIntl/windup/job"
	"github.com/gomodule/redigo/redis"
)

// RedisStore implements store.Store for Redis
type RedisStore struct {
	pool    *redis.Pool
	name    string
	options Options
	ownPool bool
}

// NewStore creates a Redis store for the named queue. Connect must be
// called before use unless options.Pool is set.
func NewStore(name string, options Options) *RedisStore {
	return &RedisStore{
		name:    name,
		options: options,
		pool:    options.Pool,
	}
}

// Connect establishes connection to Redis
func (r *RedisStore) Connect(ctx context.Context) error {
	if r.pool == nil {
		pool, err := redisUtils.CreatePool(r.options)
		if err != nil {
			return errors.NewConnectionError(r.options.URI,
				fmt.Errorf("failed to create Redis pool: %w", err))
		}
		r.pool = pool
		r.ownPool = true
	}

	conn, err := r.pool.GetContext(ctx)
	if err != nil {
		return errors.NewConnectionError(r.options.URI, err)
	}
	defer conn.Close()

	if _, err := conn.Do("PING"); err != nil {
		return errors.NewConnectionError(r.options.URI,
			fmt.Errorf("ping failed: %w", err))
	}

	return nil
}

// Close closes the pool if the store created it
func (r *RedisStore) Close() error {
	if r.pool != nil && r.ownPool {
		return r.pool.Close()
	}
	return nil
}

// Health checks the Redis connection health
func (r *RedisStore) Health() error {
	if r.pool == nil {
		return errors.ErrNotConnected
	}

	conn := r.pool.Get()
	defer conn.Close()

	if _, err := conn.Do("PING"); err != nil {
		return errors.NewConnectionError(r.options.URI,
			fmt.Errorf("health check failed: %w", err))
	}

	return nil
}

// Pool returns the connection pool, nil before Connect
func (r *RedisStore) Pool() *redis.Pool {
	return r.pool
}

// Type returns the store type
func (r *RedisStore) Type() string {
	return "redis"
}

// Push appends a job to the level's list and records the level
func (r *RedisStore) Push(ctx context.Context, j *job.Job, level string) error {
	if level == "" {
		level = job.DefaultLevel
	}

	conn, err := r.conn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	data, err := job.Marshal(j.WithLevel(level))
	if err != nil {
		return errors.NewSerializationError("json", fmt.Errorf("serialize job: %w", err))
	}

	if _, err := conn.Do("RPUSH", r.levelKey(level), data); err != nil {
		return errors.NewStoreError("push", level, err)
	}

	if _, err := conn.Do("SADD", r.levelsKey(), level); err != nil {
		return errors.NewStoreError("push", level, fmt.Errorf("track level: %w", err))
	}

	return nil
}

// Pop takes the head of the first non-empty candidate level, waiting up
// to PopTimeout when all of them are empty
func (r *RedisStore) Pop(ctx context.Context, levels []string) (*job.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	conn, err := r.conn(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if len(levels) == 0 {
		levels, err = r.knownLevels(conn)
		if err != nil {
			return nil, err
		}
		if len(levels) == 0 {
			levels = []string{job.DefaultLevel}
		}
	}

	var data []byte
	if r.options.PopTimeout > 0 {
		data, err = r.blockingPop(conn, levels)
	} else {
		data, err = r.pop(conn, levels)
	}
	if err != nil || data == nil {
		return nil, err
	}

	j, err := job.Unmarshal(data, r.options.UseNumber)
	if err != nil {
		return nil, errors.NewSerializationError("json", fmt.Errorf("deserialize job: %w", err))
	}
	return j, nil
}

func (r *RedisStore) blockingPop(conn redis.Conn, levels []string) ([]byte, error) {
	args := redis.Args{}
	for _, level := range levels {
		args = args.Add(r.levelKey(level))
	}
	args = args.Add(blockSeconds(r.options.PopTimeout))

	// The read deadline has to outlive the server-side block.
	reply, err := redis.ByteSlices(redis.DoWithTimeout(conn,
		r.options.ReadTimeout+r.options.PopTimeout, "BLPOP", args...))
	if err == redis.ErrNil {
		return nil, nil
	}
	if err != nil {
		return nil, errors.NewStoreError("pop", "", err)
	}
	if len(reply) != 2 {
		return nil, errors.NewStoreError("pop", "", fmt.Errorf("unexpected BLPOP reply of %d elements", len(reply)))
	}
	return reply[1], nil
}

func (r *RedisStore) pop(conn redis.Conn, levels []string) ([]byte, error) {
	for _, level := range levels {
		data, err := redis.Bytes(conn.Do("LPOP", r.levelKey(level)))
		if err == redis.ErrNil {
			continue
		}
		if err != nil {
			return nil, errors.NewStoreError("pop", level, err)
		}
		return data, nil
	}
	return nil, nil
}

// Size returns the length of every non-empty level
func (r *RedisStore) Size(ctx context.Context) (map[string]int64, error) {
	conn, err := r.conn(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	levels, err := r.knownLevels(conn)
	if err != nil {
		return nil, err
	}

	sizes := make(map[string]int64, len(levels))
	for _, level := range levels {
		n, err := redis.Int64(conn.Do("LLEN", r.levelKey(level)))
		if err != nil {
			return nil, errors.NewStoreError("size", level, err)
		}
		if n > 0 {
			sizes[level] = n
		}
	}
	return sizes, nil
}

// Reset deletes every tracked level list and the level index
func (r *RedisStore) Reset(ctx context.Context) error {
	conn, err := r.conn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	levels, err := r.knownLevels(conn)
	if err != nil {
		return err
	}

	keys := make([]string, 0, len(levels)+1)
	for _, level := range levels {
		keys = append(keys, r.levelKey(level))
	}
	keys = append(keys, r.levelsKey())

	if _, err := conn.Do("DEL", redis.Args{}.AddFlat(keys)...); err != nil {
		return errors.NewStoreError("reset", "", err)
	}
	return nil
}

// Helper methods

func (r *RedisStore) conn(ctx context.Context) (redis.Conn, error) {
	if r.pool == nil {
		return nil, errors.ErrNotConnected
	}
	conn, err := r.pool.GetContext(ctx)
	if err != nil {
		return nil, errors.NewConnectionError(r.options.URI, err)
	}
	return conn, nil
}

func (r *RedisStore) knownLevels(conn redis.Conn) ([]string, error) {
	levels, err := redis.Strings(conn.Do("SMEMBERS", r.levelsKey()))
	if err != nil {
		return nil, errors.NewStoreError("levels", "", err)
	}
	sort.Strings(levels)
	return levels, nil
}

func (r *RedisStore) prefix() string {
	return fmt.Sprintf("%s:%s:queues:%s:", r.options.Namespace, r.options.Environment, r.name)
}

func (r *RedisStore) levelKey(level string) string {
	return r.prefix() + level
}

func (r *RedisStore) levelsKey() string {
	return fmt.Sprintf("%s:%s:levels:%s", r.options.Namespace, r.options.Environment, r.name)
}

// blockSeconds rounds a timeout up to whole seconds for BLPOP
func blockSeconds(d time.Duration) int64 {
	s := int64(d / time.Second)
	if d%time.Second != 0 {
		s++
	}
	if s < 1 {
		s = 1
	}
	return s
}
