// Package cmd implements the windup command line.
package cmd

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/BranchIntl/windup"
	"github.com/BranchIntl/windup/queue"
	"github.com/BranchIntl/windup/store"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Execute runs the root command
func Execute() error {
	return NewRootCmd().Execute()
}

// NewRootCmd builds the command tree around its own viper instance
func NewRootCmd() *cobra.Command {
	return newRootCmd(viper.New())
}

func newRootCmd(v *viper.Viper) *cobra.Command {
	root := &cobra.Command{
		Use:   "windup",
		Short: "Operate windup job queues",
		Long: `windup dispatches background jobs from a priority store to a pool of workers.

Queues are described in a YAML config file, WINDUP_* environment variables
and flags, in increasing order of precedence.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig(cmd, v)
		},
	}

	flags := root.PersistentFlags()
	flags.StringP("config", "c", "", "config file (default is ./windup.yaml)")
	flags.StringP("queue", "q", "default", "queue name")
	flags.String("store", "", "store type: memory, redis or rabbitmq")
	flags.String("url", "", "store connection URL")
	flags.String("levels", "", `priority levels, "high,low" for strict order or "high=10,low=1" for weights`)
	flags.String("log-level", "", "log level: debug, info, warn or error")
	flags.String("log-format", "", "log format: text or json")

	_ = v.BindPFlag("config", flags.Lookup("config"))
	_ = v.BindPFlag("queue", flags.Lookup("queue"))
	_ = v.BindPFlag("store.type", flags.Lookup("store"))
	_ = v.BindPFlag("store.url", flags.Lookup("url"))
	_ = v.BindPFlag("levels", flags.Lookup("levels"))
	_ = v.BindPFlag("logging.level", flags.Lookup("log-level"))
	_ = v.BindPFlag("logging.format", flags.Lookup("log-format"))

	root.AddCommand(newRunCmd(v), newPushCmd(v), newSizeCmd(v), newResetCmd(v))
	return root
}

func initConfig(cmd *cobra.Command, v *viper.Viper) error {
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	if cfgFile := v.GetString("config"); cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("windup")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/windup")
	}

	v.SetEnvPrefix("WINDUP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// a missing default config file is fine, a broken or missing explicit one is not
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || v.GetString("config") != "" {
			return fmt.Errorf("read config: %w", err)
		}
	}

	var logging windup.LoggingConfig
	if err := v.UnmarshalKey("logging", &logging); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}
	slog.SetDefault(windup.NewLogger(logging, cmd.ErrOrStderr()))
	return nil
}

// queueConfig resolves the selected queue: its definition from the config
// file, overridden by environment and flags
func queueConfig(v *viper.Viper) (windup.Config, error) {
	var f windup.File
	if err := v.Unmarshal(&f); err != nil {
		return windup.Config{}, fmt.Errorf("decode config: %w", err)
	}
	f.ApplyDefaults()
	if err := f.Validate(); err != nil {
		return windup.Config{}, err
	}

	name := v.GetString("queue")
	c, ok := f.Queue(name)
	if !ok {
		c = windup.DefaultConfig(name)
	}

	if v.IsSet("store.type") && v.GetString("store.type") != "" {
		c.Store.Type = strings.ToLower(v.GetString("store.type"))
	}
	if v.IsSet("store.url") && v.GetString("store.url") != "" {
		c.Store.URL = v.GetString("store.url")
	}
	if v.IsSet("workers") && v.GetInt("workers") > 0 {
		c.Workers = v.GetInt("workers")
	}
	if value := v.GetString("levels"); value != "" {
		levels, strict, err := windup.ParseLevels(value)
		if err != nil {
			return windup.Config{}, err
		}
		c.Levels = levels
		c.Strict = strict
	}
	return c, nil
}

// openQueue builds a queue over the configured store without a pool,
// enough to push, count and reset
func openQueue(cmd *cobra.Command, v *viper.Viper) (*queue.Queue, error) {
	c, err := queueConfig(v)
	if err != nil {
		return nil, err
	}

	s, err := windup.NewStore(cmd.Context(), c.Name, c.Store, c.LevelNames()...)
	if err != nil {
		return nil, err
	}
	return queue.New(c.Name, levelOptions(c, s)...)
}

func levelOptions(c windup.Config, s store.Store) []queue.Option {
	opts := []queue.Option{
		queue.WithStore(s),
		queue.WithStrict(c.Strict),
		queue.WithDefaultLevel(c.DefaultPriorityLevel),
	}
	for _, l := range c.Levels {
		opts = append(opts, queue.WithLevel(l.Name, l.Weight, l.Default))
	}
	return opts
}
