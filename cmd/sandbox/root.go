package main

import (
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sui-sandbox/replay/internal/config"
	"github.com/sui-sandbox/replay/internal/hydrate"
	"github.com/sui-sandbox/replay/internal/logging"
	"github.com/sui-sandbox/replay/internal/patch"
	"github.com/sui-sandbox/replay/internal/replay"
	"github.com/sui-sandbox/replay/internal/resolver"
	"github.com/sui-sandbox/replay/internal/store"
	"github.com/sui-sandbox/replay/internal/transport"
	"github.com/sui-sandbox/replay/internal/vm"
)

type rootFlags struct {
	home          string
	grpcEndpoint  string
	grpcAPIKey    string
	insecure      bool
	cacheEntries  int
	develop       bool
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	cmd := &cobra.Command{
		Use:   "sandbox",
		Short: "Replay historical Sui transactions against a local sandbox VM",
	}
	cmd.PersistentFlags().StringVar(&flags.home, "home", "", "cache root (defaults to SUI_SANDBOX_HOME or ~/.sui-sandbox)")
	cmd.PersistentFlags().StringVar(&flags.grpcEndpoint, "grpc-endpoint", "", "gRPC archive endpoint")
	cmd.PersistentFlags().StringVar(&flags.grpcAPIKey, "grpc-api-key", "", "gRPC API key")
	cmd.PersistentFlags().BoolVar(&flags.insecure, "insecure", false, "dial the gRPC endpoint without TLS")
	cmd.PersistentFlags().IntVar(&flags.cacheEntries, "cache-entries", 4096, "in-memory LRU cache capacity")
	cmd.PersistentFlags().BoolVar(&flags.develop, "develop", false, "use human-readable development logging instead of JSON")

	cmd.AddCommand(newReplayCmd(flags))
	cmd.AddCommand(newAnalyzeCmd(flags))
	cmd.AddCommand(newWorkflowCmd(flags))
	cmd.AddCommand(newWatchCmd(flags))

	return cmd
}

// orchestratorDeps is every collaborator buildDeps wires together, so
// subcommands can each reach the pieces they additionally need (e.g. the
// workflow command reaches for the logger and store directly).
type orchestratorDeps struct {
	logger *zap.Logger
	store  *store.Store
	tp     transport.Backend
	orch   *replay.Orchestrator
}

func buildDeps(flags *rootFlags) (*orchestratorDeps, error) {
	logger, err := logging.New(logging.Options{Development: flags.develop})
	if err != nil {
		return nil, err
	}

	fs := afero.NewOsFs()
	cfg, err := config.Load(fs, config.Config{
		Home:         flags.home,
		GRPCEndpoint: flags.grpcEndpoint,
		GRPCAPIKey:   flags.grpcAPIKey,
	})
	if err != nil {
		return nil, err
	}

	st, err := store.New(fs, cfg.Home, flags.cacheEntries)
	if err != nil {
		return nil, err
	}

	var tp transport.Backend = transport.NoopBackend{}
	if cfg.GRPCEndpoint != "" {
		tp = transport.NewRPCBackend(transport.RPCOptions{
			Endpoint: cfg.GRPCEndpoint,
			APIKey:   cfg.GRPCAPIKey,
			Insecure: flags.insecure,
			// The sandbox's whole purpose is historical replay, so every
			// RPC-backed invocation asks for archival behavior; NewRPCBackend
			// warns and switches to ArchiveEndpoint if GRPCEndpoint itself
			// doesn't look archival.
			Historical:      true,
			ArchiveEndpoint: cfg.GRPCArchiveEndpoint,
			Logger:          logger,
		})
	}

	res := resolver.New(st, tp)
	hyd := hydrate.New(st, tp, res)
	metrics := replay.NewMetrics(nil)

	orch := replay.New(st, tp, hyd,
		func() *patch.Patcher { return patch.New(patch.ModeWarnAndSkip) },
		func() (vm.MoveRuntime, error) { return vm.NoopRuntime{}, nil },
		logger, metrics,
	)

	return &orchestratorDeps{logger: logger, store: st, tp: tp, orch: orch}, nil
}
