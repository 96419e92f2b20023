package main

import (
	"github.com/spf13/cobra"
)

func newWatchCmd(flags *rootFlags) *cobra.Command {
	var fromSeq uint64

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Subscribe to the configured backend's checkpoint stream and print each one as it arrives",
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, err := buildDeps(flags)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			checkpoints, errc := deps.tp.SubscribeCheckpoints(ctx, fromSeq)
			for cp := range checkpoints {
				if err := printJSON(cp); err != nil {
					return err
				}
			}
			if err := <-errc; err != nil {
				return err
			}
			return nil
		},
	}

	cmd.Flags().Uint64Var(&fromSeq, "from", 0, "checkpoint sequence to start subscribing from")

	return cmd
}
