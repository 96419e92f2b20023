package main

import (
	"github.com/spf13/cobra"

	"github.com/sui-sandbox/replay/internal/hydrate"
)

func newAnalyzeCmd(flags *rootFlags) *cobra.Command {
	var (
		allowFallback bool
		autoSystem    bool
		noPrefetch    bool
		source        string
	)

	cmd := &cobra.Command{
		Use:   "analyze <digest>",
		Short: "Hydrate a transaction's historical state without executing the VM",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, err := buildDeps(flags)
			if err != nil {
				return err
			}
			state, err := deps.orch.Analyze(cmd.Context(), args[0], hydrate.Policy{
				PrefetchDynamicFields: !noPrefetch,
				PrefetchDepth:         2,
				PrefetchLimit:         50,
				AutoSystemObjects:     autoSystem,
				AllowFallback:         allowFallback,
				Source:                hydrate.Source(source),
			})
			if err != nil {
				return err
			}
			return printJSON(state)
		},
	}

	cmd.Flags().BoolVar(&allowFallback, "allow-fallback", false, "fall back to a weaker source when an exact historical version is unavailable")
	cmd.Flags().BoolVar(&autoSystem, "auto-system-objects", false, "auto-fetch well-known system objects (clock, system state)")
	cmd.Flags().BoolVar(&noPrefetch, "no-prefetch", false, "skip dynamic-field prefetching")
	cmd.Flags().StringVar(&source, "source", string(hydrate.SourceHybrid), "transport source preference: rpc, walrus, hybrid")

	return cmd
}
