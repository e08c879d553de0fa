package windup

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/BranchIntl/windup/errors"
	"github.com/BranchIntl/windup/pool"
	"github.com/BranchIntl/windup/queue"
	"github.com/gomodule/redigo/redis"
	"gopkg.in/yaml.v3"
)

// Store types
const (
	StoreMemory   = "memory"
	StoreRedis    = "redis"
	StoreRabbitMQ = "rabbitmq"
)

// Statistics types
const (
	StatisticsNoop  = "noop"
	StatisticsRedis = "redis"
)

// Config describes one queue: where its jobs live and who performs them
type Config struct {
	Name string `yaml:"name" mapstructure:"name"`

	// Worker builds a worker per pool slot. Ignored when Pool is set.
	Worker pool.Factory `yaml:"-" mapstructure:"-"`

	// Pool is an existing pool to dispatch to. It is not shut down with
	// the queue.
	Pool queue.Pool `yaml:"-" mapstructure:"-"`

	Workers     int    `yaml:"workers" mapstructure:"workers"`
	MaxRestarts int    `yaml:"max_restarts" mapstructure:"max_restarts"`
	Router      string `yaml:"router" mapstructure:"router"`

	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Statistics StatisticsConfig `yaml:"statistics" mapstructure:"statistics"`

	Strict               bool          `yaml:"strict" mapstructure:"strict"`
	DefaultPriorityLevel string        `yaml:"default_priority_level" mapstructure:"default_priority_level"`
	Levels               []LevelConfig `yaml:"levels" mapstructure:"levels"`

	IdleWait       time.Duration `yaml:"idle_wait" mapstructure:"idle_wait"`
	ReadinessRetry time.Duration `yaml:"readiness_retry" mapstructure:"readiness_retry"`

	Logger *slog.Logger `yaml:"-" mapstructure:"-"`
}

// StoreConfig selects and configures the job store
type StoreConfig struct {
	Type string `yaml:"type" mapstructure:"type"`
	URL  string `yaml:"url" mapstructure:"url"`

	// Connection reuses an existing Redis pool
	Connection *redis.Pool `yaml:"-" mapstructure:"-"`

	// Size is the connection pool size
	Size int `yaml:"size" mapstructure:"size"`

	// Timeout is how long to wait for a pooled connection
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`

	// PopTimeout is how long an empty pop may block
	PopTimeout time.Duration `yaml:"pop_timeout" mapstructure:"pop_timeout"`

	Namespace string `yaml:"namespace" mapstructure:"namespace"`
	UseNumber bool   `yaml:"use_number" mapstructure:"use_number"`
}

// StatisticsConfig selects the job counters backend
type StatisticsConfig struct {
	Type        string `yaml:"type" mapstructure:"type"`
	URL         string `yaml:"url" mapstructure:"url"`
	Namespace   string `yaml:"namespace" mapstructure:"namespace"`
	MaxFailures int64  `yaml:"max_failures" mapstructure:"max_failures"`
}

// LevelConfig declares one priority level
type LevelConfig struct {
	Name    string `yaml:"name" mapstructure:"name"`
	Weight  int    `yaml:"weight" mapstructure:"weight"`
	Default bool   `yaml:"default" mapstructure:"default"`
}

// LoggingConfig configures the default slog handler
type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// File is the layout of a configuration file
type File struct {
	Logging LoggingConfig `yaml:"logging" mapstructure:"logging"`
	Queues  []Config      `yaml:"queues" mapstructure:"queues"`
}

// DefaultWorkers is the pool size used when none is configured
func DefaultWorkers() int {
	return max(runtime.NumCPU(), 2)
}

// DefaultConfig returns a memory-backed configuration for name
func DefaultConfig(name string) Config {
	c := Config{Name: name}
	c.applyDefaults()
	return c
}

func (c *Config) applyDefaults() {
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers()
	}
	if c.Store.Type == "" {
		c.Store.Type = StoreMemory
	}
	if c.Statistics.Type == "" {
		c.Statistics.Type = StatisticsNoop
	}
	c.Store.Type = strings.ToLower(c.Store.Type)
	c.Statistics.Type = strings.ToLower(c.Statistics.Type)

	// an omitted weight counts once
	c.Levels = slices.Clone(c.Levels)
	for i := range c.Levels {
		if c.Levels[i].Weight == 0 {
			c.Levels[i].Weight = 1
		}
	}
}

// LevelNames returns the declared levels followed by the default level
func (c Config) LevelNames() []string {
	names := make([]string, 0, len(c.Levels)+1)
	for _, l := range c.Levels {
		names = append(names, l.Name)
	}
	if c.DefaultPriorityLevel != "" {
		names = append(names, c.DefaultPriorityLevel)
	}
	return names
}

// Validate checks everything NewQueue needs
func (c Config) Validate() error {
	if err := c.validateDefinition(); err != nil {
		return err
	}
	if c.Worker == nil && c.Pool == nil {
		return errors.ErrMissingWorker
	}
	return nil
}

// validateDefinition checks the parts a config file can express
func (c Config) validateDefinition() error {
	if c.Name == "" {
		return errors.ErrMissingQueueName
	}

	switch c.Store.Type {
	case "", StoreMemory, StoreRedis, StoreRabbitMQ:
	default:
		return errors.NewConfigError("store", fmt.Errorf("%w: %s", errors.ErrUnknownStore, c.Store.Type))
	}

	switch c.Statistics.Type {
	case "", StatisticsNoop, StatisticsRedis:
	default:
		return errors.NewConfigError("statistics", fmt.Errorf("%w: unknown statistics type %s", errors.ErrInvalidConfig, c.Statistics.Type))
	}

	if c.Workers < 0 {
		return errors.NewConfigError("workers", errors.ErrInvalidConfig)
	}
	if c.MaxRestarts < 0 {
		return errors.NewConfigError("max_restarts", errors.ErrInvalidConfig)
	}

	for _, l := range c.Levels {
		if l.Name == "" {
			return errors.NewConfigError("levels", fmt.Errorf("%w: level name cannot be empty", errors.ErrInvalidConfig))
		}
		if l.Weight < 0 {
			return errors.NewConfigError("levels", fmt.Errorf("%w: weight of %s must be positive", errors.ErrInvalidConfig, l.Name))
		}
	}
	return nil
}

// Validate checks every queue definition and that names are unique
func (f *File) Validate() error {
	seen := make(map[string]bool, len(f.Queues))
	for _, c := range f.Queues {
		if err := c.validateDefinition(); err != nil {
			return err
		}
		if seen[c.Name] {
			return errors.NewConfigError("queues", fmt.Errorf("%w: %s", errors.ErrQueueExists, c.Name))
		}
		seen[c.Name] = true
	}
	return nil
}

// Queue returns the definition for name
func (f *File) Queue(name string) (Config, bool) {
	for _, c := range f.Queues {
		if c.Name == name {
			return c, true
		}
	}
	return Config{}, false
}

// ApplyDefaults fills unset fields of every queue definition
func (f *File) ApplyDefaults() {
	for i := range f.Queues {
		f.Queues[i].applyDefaults()
	}
}

// LoadConfig reads a YAML configuration file
func LoadConfig(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes and validates YAML configuration
func ParseConfig(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, errors.NewSerializationError("yaml", err)
	}

	f.ApplyDefaults()
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// ParseLevels reads "high=10,low" style level lists. A list without any
// weights is meant to be served in strict order.
func ParseLevels(value string) ([]LevelConfig, bool, error) {
	var levels []LevelConfig
	for _, entry := range strings.Split(value, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		name, weight, hasWeight := strings.Cut(entry, "=")
		l := LevelConfig{Name: strings.TrimSpace(name), Weight: 1}
		if hasWeight {
			w, err := strconv.Atoi(strings.TrimSpace(weight))
			if err != nil {
				return nil, false, errors.NewConfigError("levels", fmt.Errorf("weight of %s: %w", l.Name, err))
			}
			if w < 1 {
				return nil, false, errors.NewConfigError("levels", fmt.Errorf("%w: weight of %s must be positive", errors.ErrInvalidConfig, l.Name))
			}
			l.Weight = w
		}
		if l.Name == "" {
			return nil, false, errors.NewConfigError("levels", fmt.Errorf("%w: level name cannot be empty", errors.ErrInvalidConfig))
		}
		levels = append(levels, l)
	}

	strict := !strings.ContainsRune(value, '=')
	return levels, strict, nil
}

// NewLogger builds a logger from logging configuration
func NewLogger(c LoggingConfig, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(c.Level)}

	var handler slog.Handler
	if strings.EqualFold(c.Format, "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

func parseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return level
}
