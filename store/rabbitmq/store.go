// Package rabbitmq implements a network-backed job store on AMQP queues.
//
// Each level maps to one durable queue. Pop scans candidate queues in
// order with basic.get, so ordering is decided client-side and a message
// is removed by the broker as soon as it is handed out.
package rabbitmq

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/BranchIntl/windup/errors"
	"github.com/BranchIntl/windup/job"
	amqp "github.com/rabbitmq/amqp091-go"
)

// RabbitMQStore implements store.Store for RabbitMQ
type RabbitMQStore struct {
	name    string
	options Options

	mu         sync.Mutex
	connection *amqp.Connection
	channel    *amqp.Channel
	declared   map[string]bool
}

// NewStore creates a RabbitMQ store for the named queue
func NewStore(name string, options Options) *RabbitMQStore {
	return &RabbitMQStore{
		name:     name,
		options:  options,
		declared: make(map[string]bool),
	}
}

// Connect dials the broker and opens a channel
func (r *RabbitMQStore) Connect(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, err := amqp.Dial(r.options.URI)
	if err != nil {
		return errors.NewConnectionError(r.options.URI,
			fmt.Errorf("failed to connect to RabbitMQ: %w", err))
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return errors.NewConnectionError(r.options.URI,
			fmt.Errorf("failed to open channel: %w", err))
	}

	r.connection = conn
	r.channel = ch
	r.declared = make(map[string]bool)

	for _, level := range r.knownLevels() {
		if err := r.ensureQueue(level); err != nil {
			r.channel, r.connection = nil, nil
			ch.Close()
			conn.Close()
			return err
		}
	}
	return nil
}

// Close closes the channel and connection
func (r *RabbitMQStore) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.channel != nil {
		if err := r.channel.Close(); err != nil {
			return err
		}
		r.channel = nil
	}
	if r.connection != nil {
		err := r.connection.Close()
		r.connection = nil
		return err
	}
	return nil
}

// Health checks the connection state
func (r *RabbitMQStore) Health() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.connection == nil || r.connection.IsClosed() {
		return errors.ErrNotConnected
	}
	return nil
}

// Type returns the store type
func (r *RabbitMQStore) Type() string {
	return "rabbitmq"
}

// Push publishes a job onto the level's queue
func (r *RabbitMQStore) Push(ctx context.Context, j *job.Job, level string) error {
	if level == "" {
		level = job.DefaultLevel
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.ensureQueue(level); err != nil {
		return err
	}

	j = j.WithLevel(level)
	data, err := job.Marshal(j)
	if err != nil {
		return errors.NewSerializationError("json", fmt.Errorf("serialize job: %w", err))
	}

	err = r.channel.PublishWithContext(
		ctx,
		"",                 // default exchange
		r.queueName(level), // routing key
		false,              // mandatory
		false,              // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         data,
			DeliveryMode: amqp.Persistent,
			Timestamp:    j.EnqueuedAt,
			MessageId:    j.ID,
		})
	if err != nil {
		return errors.NewStoreError("push", level, err)
	}
	return nil
}

// Pop scans candidate levels in order, repeating until PollTimeout when
// all of them are empty
func (r *RabbitMQStore) Pop(ctx context.Context, levels []string) (*job.Job, error) {
	deadline := time.Now().Add(r.options.PollTimeout)

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		j, err := r.scan(levels)
		if err != nil || j != nil {
			return j, err
		}

		wait := r.options.PollInterval
		if remaining := time.Until(deadline); remaining < wait {
			wait = remaining
		}
		if wait <= 0 {
			return nil, nil
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

func (r *RabbitMQStore) scan(levels []string) (*job.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.channel == nil {
		return nil, errors.ErrNotConnected
	}

	if len(levels) == 0 {
		levels = r.knownLevels()
	}

	for _, level := range levels {
		if err := r.ensureQueue(level); err != nil {
			return nil, err
		}

		delivery, ok, err := r.channel.Get(r.queueName(level), true)
		if err != nil {
			return nil, errors.NewStoreError("pop", level, err)
		}
		if !ok {
			continue
		}

		j, err := job.Unmarshal(delivery.Body, r.options.UseNumber)
		if err != nil {
			return nil, errors.NewSerializationError("json", fmt.Errorf("deserialize job: %w", err))
		}
		return j, nil
	}
	return nil, nil
}

// Size reports message counts of the configured levels, the default level
// and any level this store has declared since connecting
func (r *RabbitMQStore) Size(ctx context.Context) (map[string]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.channel == nil {
		return nil, errors.ErrNotConnected
	}

	sizes := make(map[string]int64)
	for _, level := range r.knownLevels() {
		if err := r.ensureQueue(level); err != nil {
			return nil, err
		}
		q, err := r.channel.QueueDeclarePassive(r.queueName(level), true, false, false, false, nil)
		if err != nil {
			return nil, errors.NewStoreError("size", level, err)
		}
		if q.Messages > 0 {
			sizes[level] = int64(q.Messages)
		}
	}
	return sizes, nil
}

// Reset purges every known level queue
func (r *RabbitMQStore) Reset(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.channel == nil {
		return errors.ErrNotConnected
	}

	for _, level := range r.knownLevels() {
		if err := r.ensureQueue(level); err != nil {
			return err
		}
		if _, err := r.channel.QueuePurge(r.queueName(level), false); err != nil {
			return errors.NewStoreError("reset", level, err)
		}
	}
	return nil
}

// ensureQueue declares a level queue once. Callers hold r.mu.
func (r *RabbitMQStore) ensureQueue(level string) error {
	if r.channel == nil {
		return errors.ErrNotConnected
	}
	if r.declared[level] {
		return nil
	}

	_, err := r.channel.QueueDeclare(
		r.queueName(level),
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		r.queueArgs(),
	)
	if err != nil {
		return errors.NewStoreError("declare", level, err)
	}

	r.declared[level] = true
	return nil
}

// knownLevels lists the configured levels in order, then the default
// level, then other declared levels sorted. A fresh process only knows
// the first two, so they must cover every level jobs are pushed to.
// Callers hold r.mu.
func (r *RabbitMQStore) knownLevels() []string {
	n := len(r.options.Levels) + len(r.declared) + 1
	seen := make(map[string]bool, n)
	levels := make([]string, 0, n)
	for _, level := range append(slices.Clone(r.options.Levels), job.DefaultLevel) {
		if level != "" && !seen[level] {
			seen[level] = true
			levels = append(levels, level)
		}
	}

	var rest []string
	for level := range r.declared {
		if !seen[level] {
			rest = append(rest, level)
		}
	}
	sort.Strings(rest)
	return append(levels, rest...)
}

func (r *RabbitMQStore) queueName(level string) string {
	return fmt.Sprintf("%s.%s.%s", r.options.QueuePrefix, r.name, level)
}

// queueArgs builds the declare arguments from options
func (r *RabbitMQStore) queueArgs() amqp.Table {
	args := amqp.Table{}
	if r.options.MessageTTL > 0 {
		args["x-message-ttl"] = int64(r.options.MessageTTL / time.Millisecond)
	}
	if r.options.QueueType != "" {
		args["x-queue-type"] = r.options.QueueType
	}
	return args
}
