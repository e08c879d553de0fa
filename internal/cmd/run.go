package cmd

import (
	"github.com/BranchIntl/windup"
	"github.com/BranchIntl/windup/registry"
	"github.com/BranchIntl/windup/workers"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newRunCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Dispatch jobs to workers until interrupted",
		Long: `Run starts the selected queue with a pool of handler workers and
dispatches until SIGINT, SIGTERM or SIGQUIT.

Jobs are {"handler": name, "msg": value} objects. The built-in handlers are
log, sleep (msg is a duration such as "2s") and fail.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := queueConfig(v)
			if err != nil {
				return err
			}
			c.Worker = workers.NewHandlerWorker(builtinHandlers())

			reg := registry.New()
			if _, err := windup.NewQueue(cmd.Context(), reg, c); err != nil {
				return err
			}
			return windup.Run(cmd.Context(), reg)
		},
	}

	cmd.Flags().IntP("workers", "w", 0, "worker pool size (default max(CPUs, 2))")
	_ = v.BindPFlag("workers", cmd.Flags().Lookup("workers"))
	return cmd
}
