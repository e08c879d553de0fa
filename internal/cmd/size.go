package cmd

import (
	"encoding/json"
	"fmt"
	"slices"

	"github.com/BranchIntl/windup/store"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newSizeCmd(v *viper.Viper) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "size",
		Short: "Show pending jobs per priority level",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := openQueue(cmd, v)
			if err != nil {
				return err
			}
			defer q.Shutdown(cmd.Context())

			sizes, err := q.Size(cmd.Context())
			if err != nil {
				return fmt.Errorf("size: %w", err)
			}

			out := cmd.OutOrStdout()
			if asJSON {
				return json.NewEncoder(out).Encode(sizes)
			}

			levels := make([]string, 0, len(sizes))
			for level := range sizes {
				levels = append(levels, level)
			}
			slices.Sort(levels)

			for _, level := range levels {
				fmt.Fprintf(out, "%s\t%d\n", level, sizes[level])
			}
			fmt.Fprintf(out, "total\t%d\n", store.Total(sizes))
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print sizes as JSON")
	return cmd
}
