package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sui-sandbox/replay/internal/hydrate"
	"github.com/sui-sandbox/replay/internal/patch"
	"github.com/sui-sandbox/replay/internal/replay"
)

func newReplayCmd(flags *rootFlags) *cobra.Command {
	var (
		allowFallback bool
		autoSystem    bool
		noPrefetch    bool
		compare       string
		source        string
	)

	cmd := &cobra.Command{
		Use:   "replay <digest>",
		Short: "Re-execute one historical transaction in the sandbox VM",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, err := buildDeps(flags)
			if err != nil {
				return err
			}

			mode := replay.CompareNone
			switch compare {
			case "summary":
				mode = replay.CompareSummary
			case "strict":
				mode = replay.CompareStrict
			case "", "none":
			default:
				return fmt.Errorf("unknown --compare mode %q", compare)
			}

			result, err := deps.orch.Replay(cmd.Context(), args[0], replay.Policy{
				Hydrate: hydrate.Policy{
					PrefetchDynamicFields: !noPrefetch,
					PrefetchDepth:         2,
					PrefetchLimit:         50,
					AutoSystemObjects:     autoSystem,
					AllowFallback:         allowFallback,
					Source:                hydrate.Source(source),
				},
				PatchMode: patch.ModeWarnAndSkip,
				Compare:   mode,
			})
			if err != nil {
				return err
			}
			return printJSON(result)
		},
	}

	cmd.Flags().BoolVar(&allowFallback, "allow-fallback", false, "fall back to a weaker source when an exact historical version is unavailable")
	cmd.Flags().BoolVar(&autoSystem, "auto-system-objects", false, "auto-fetch well-known system objects (clock, system state)")
	cmd.Flags().BoolVar(&noPrefetch, "no-prefetch", false, "skip dynamic-field prefetching")
	cmd.Flags().StringVar(&compare, "compare", "none", "comparison mode against on-chain effects: none, summary, strict")
	cmd.Flags().StringVar(&source, "source", string(hydrate.SourceHybrid), "transport source preference: rpc, walrus, hybrid")

	return cmd
}

func printJSON(v interface{}) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
