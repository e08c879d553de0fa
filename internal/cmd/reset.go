package cmd

import (
	stderrors "errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var errResetNotConfirmed = stderrors.New("refusing to reset without --yes")

func newResetCmd(v *viper.Viper) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete every pending job of the queue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errResetNotConfirmed
			}

			q, err := openQueue(cmd, v)
			if err != nil {
				return err
			}
			defer q.Shutdown(cmd.Context())

			if err := q.Reset(cmd.Context()); err != nil {
				return fmt.Errorf("reset: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "reset %s\n", q.Name())
			return nil
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "confirm deleting pending jobs")
	return cmd
}
