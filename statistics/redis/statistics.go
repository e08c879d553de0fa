// Package redis records job outcomes in Redis hashes so several processes
// working the same queue share one set of counters.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/BranchIntl/windup/errors"
	redisUtils "github.com/BranchIntl/windup/internal/redis"
	"github.com/BranchIntl/windup/job"
	"github.com/gomodule/redigo/redis"
)

// Counts holds per-level counters
type Counts struct {
	Processed map[string]int64
	Failed    map[string]int64
}

// Total returns processed and failed totals across levels
func (c Counts) Total() (processed, failed int64) {
	for _, n := range c.Processed {
		processed += n
	}
	for _, n := range c.Failed {
		failed += n
	}
	return processed, failed
}

// RedisStatistics implements pool.Statistics on Redis
type RedisStatistics struct {
	pool    *redis.Pool
	options Options
	ownPool bool
}

// NewStatistics creates a new Redis statistics backend
func NewStatistics(options Options) *RedisStatistics {
	return &RedisStatistics{
		pool:    options.Pool,
		options: options,
	}
}

// Connect establishes connection to Redis
func (r *RedisStatistics) Connect(ctx context.Context) error {
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

// Close closes the pool if this backend created it
func (r *RedisStatistics) Close() error {
	if r.pool != nil && r.ownPool {
		return r.pool.Close()
	}
	return nil
}

// Health checks the Redis connection health
func (r *RedisStatistics) Health() error {
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

// Type returns the statistics backend type
func (r *RedisStatistics) Type() string {
	return "redis"
}

// RecordJobStarted stores the job a slot is working on
func (r *RedisStatistics) RecordJobStarted(ctx context.Context, j *job.Job, slot string) error {
	conn, err := r.conn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	work, err := json.Marshal(map[string]interface{}{
		"job":    j.ID,
		"level":  j.Level,
		"run_at": time.Now().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal work data: %w", err)
	}

	if _, err := conn.Do("SET", r.slotKey(slot), work); err != nil {
		return fmt.Errorf("failed to set slot job: %w", err)
	}
	return nil
}

// RecordJobCompleted bumps the processed counter of the job's level
func (r *RedisStatistics) RecordJobCompleted(ctx context.Context, j *job.Job, slot string, elapsed time.Duration) error {
	conn, err := r.conn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	conn.Send("MULTI")
	conn.Send("HINCRBY", r.processedKey(), j.Level, 1)
	conn.Send("DEL", r.slotKey(slot))
	if _, err := conn.Do("EXEC"); err != nil {
		return fmt.Errorf("failed to record completion: %w", err)
	}
	return nil
}

// RecordJobFailed bumps the failed counter and keeps the failure details
func (r *RedisStatistics) RecordJobFailed(ctx context.Context, j *job.Job, slot string, jobErr error, elapsed time.Duration) error {
	conn, err := r.conn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	failure, err := json.Marshal(map[string]interface{}{
		"failed_at": time.Now().Format(time.RFC3339),
		"job":       j.ID,
		"level":     j.Level,
		"payload":   j.Payload,
		"error":     jobErr.Error(),
		"slot":      slot,
		"elapsed":   elapsed.String(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal failure data: %w", err)
	}

	conn.Send("MULTI")
	conn.Send("HINCRBY", r.failedKey(), j.Level, 1)
	conn.Send("RPUSH", r.failuresKey(), failure)
	if r.options.MaxFailures > 0 {
		conn.Send("LTRIM", r.failuresKey(), -r.options.MaxFailures, -1)
	}
	conn.Send("DEL", r.slotKey(slot))
	if _, err := conn.Do("EXEC"); err != nil {
		return fmt.Errorf("failed to record failure: %w", err)
	}
	return nil
}

// Counts reads the per-level counters
func (r *RedisStatistics) Counts(ctx context.Context) (Counts, error) {
	conn, err := r.conn(ctx)
	if err != nil {
		return Counts{}, err
	}
	defer conn.Close()

	processed, err := redis.Int64Map(conn.Do("HGETALL", r.processedKey()))
	if err != nil {
		return Counts{}, fmt.Errorf("failed to get processed counts: %w", err)
	}

	failed, err := redis.Int64Map(conn.Do("HGETALL", r.failedKey()))
	if err != nil {
		return Counts{}, fmt.Errorf("failed to get failed counts: %w", err)
	}

	return Counts{Processed: processed, Failed: failed}, nil
}

// Reset clears counters and recorded failures
func (r *RedisStatistics) Reset(ctx context.Context) error {
	conn, err := r.conn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	if _, err := conn.Do("DEL", r.processedKey(), r.failedKey(), r.failuresKey()); err != nil {
		return fmt.Errorf("failed to reset statistics: %w", err)
	}
	return nil
}

func (r *RedisStatistics) conn(ctx context.Context) (redis.Conn, error) {
	if r.pool == nil {
		return nil, errors.ErrNotConnected
	}
	conn, err := r.pool.GetContext(ctx)
	if err != nil {
		return nil, errors.NewConnectionError(r.options.URI, err)
	}
	return conn, nil
}

// Helper methods for Redis keys

func (r *RedisStatistics) statKey(kind string) string {
	return fmt.Sprintf("%s:stat:%s:%s", r.options.Namespace, r.options.Queue, kind)
}

func (r *RedisStatistics) processedKey() string {
	return r.statKey("processed")
}

func (r *RedisStatistics) failedKey() string {
	return r.statKey("failed")
}

func (r *RedisStatistics) failuresKey() string {
	return r.statKey("failures")
}

func (r *RedisStatistics) slotKey(slot string) string {
	return fmt.Sprintf("%s:worker:%s:%s", r.options.Namespace, r.options.Queue, slot)
}
