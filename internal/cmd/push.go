package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/BranchIntl/windup/workers"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newPushCmd(v *viper.Viper) *cobra.Command {
	var (
		level   string
		handler string
	)

	cmd := &cobra.Command{
		Use:   "push <payload>",
		Short: "Push a job onto the queue",
		Long: `Push stores one job. A payload that parses as JSON is stored decoded,
anything else as a string. With --handler the payload becomes the msg of a
handler job.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := openQueue(cmd, v)
			if err != nil {
				return err
			}
			defer q.Shutdown(cmd.Context())

			payload := decodePayload(args[0])
			if handler != "" {
				payload = workers.NewMessage(handler, payload)
			}

			j, err := q.PushTo(cmd.Context(), payload, level)
			if err != nil {
				return fmt.Errorf("push: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", j.ID, j.Level)
			return nil
		},
	}

	cmd.Flags().StringVarP(&level, "level", "l", "", "priority level (default is the queue's default level)")
	cmd.Flags().StringVar(&handler, "handler", "", "wrap the payload for the named handler")
	return cmd
}

func decodePayload(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return raw
	}
	return v
}
