// Package replay implements the Replay Orchestrator (C7): the top-level
// state machine for one replay. It glues C1-C6 together — hydrate via C4,
// patch via C5, build the VM harness (C6), execute, compare against
// on-chain effects, and classify (C8) — per spec §4.7. Grounded on
// turbo/snapshotsync.go's step-wise state machine style (explicit stages,
// each one a suspension point, degrade-on-failure at each boundary).
package replay

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/mr-tron/base58"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/sui-sandbox/replay/internal/address"
	"github.com/sui-sandbox/replay/internal/classify"
	"github.com/sui-sandbox/replay/internal/domain"
	"github.com/sui-sandbox/replay/internal/hydrate"
	"github.com/sui-sandbox/replay/internal/patch"
	"github.com/sui-sandbox/replay/internal/store"
	"github.com/sui-sandbox/replay/internal/transport"
	"github.com/sui-sandbox/replay/internal/vm"
)

// CompareMode selects how local effects are compared to on-chain effects.
type CompareMode string

const (
	CompareNone    CompareMode = "none"
	CompareSummary CompareMode = "summary"
	CompareStrict  CompareMode = "strict"
)

// Policy controls one replay's behavior end to end.
type Policy struct {
	Hydrate   hydrate.Policy
	PatchMode patch.FailureMode
	Compare   CompareMode
}

// Result is one replay's output: the hydrated state (for inspection), the
// raw VM effects, and the classified outcome.
type Result struct {
	Digest         string
	State          *domain.ReplayState
	Effects        domain.Effects
	Classification classify.Classification
}

// HarnessFactory builds a fresh MoveRuntime for one replay. A MoveRuntime is
// never reused across replays (§5: "the VM is exclusively owned by one
// replay for its entire duration").
type HarnessFactory func() (vm.MoveRuntime, error)

// Metrics are the ambient Prometheus counters/histograms this component
// exposes, passed in at construction rather than registered against a
// global registry.
type Metrics struct {
	ReplayDuration   prometheus.Histogram
	CategoryCounters *prometheus.CounterVec
}

// NewMetrics registers this component's metrics against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ReplayDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name: "sandbox_replay_duration_seconds",
			Help: "Duration of one replay, from hydration start to classification.",
		}),
		CategoryCounters: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sandbox_replay_classification_total",
			Help: "Count of replays by classification category.",
		}, []string{"category"}),
	}
	if reg != nil {
		reg.MustRegister(m.ReplayDuration, m.CategoryCounters)
	}
	return m
}

// Orchestrator is the C7 Replay Orchestrator.
type Orchestrator struct {
	store      *store.Store
	transport  transport.Backend
	hydrator   *hydrate.Hydrator
	newPatcher func() *patch.Patcher
	newHarness HarnessFactory
	logger     *zap.Logger
	metrics    *Metrics
}

// New builds an Orchestrator from its collaborators. newPatcher and
// newHarness are factories so each replay gets its own exclusively-owned
// Patcher/Harness instance.
func New(
	st *store.Store,
	tp transport.Backend,
	hydrator *hydrate.Hydrator,
	newPatcher func() *patch.Patcher,
	newHarness HarnessFactory,
	logger *zap.Logger,
	metrics *Metrics,
) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		store: st, transport: tp, hydrator: hydrator,
		newPatcher: newPatcher, newHarness: newHarness,
		logger: logger, metrics: metrics,
	}
}

// Replay runs the full pipeline for digest under policy.
func (o *Orchestrator) Replay(ctx context.Context, digest string, policy Policy) (*Result, error) {
	logger := o.logger.With(zap.String("digest", digest))
	if o.metrics != nil {
		start := time.Now()
		defer func() { o.metrics.ReplayDuration.Observe(time.Since(start).Seconds()) }()
	}

	state, hydErr := o.hydrator.Hydrate(ctx, digest, policy.Hydrate)
	if state == nil {
		cls := classify.Classify(classify.RawOutcome{
			Success:      false,
			ErrorMessage: errString(hydErr),
		})
		o.record(cls)
		return &Result{Digest: digest, Classification: cls}, nil
	}
	if hydErr != nil {
		logger.Warn("hydration completed with diagnostics", zap.Error(hydErr))
	}

	patcher := o.newPatcher()
	o.patchObjects(state, patcher)

	harness, err := o.buildHarness(ctx, state, patcher, logger)
	if err != nil {
		return nil, fmt.Errorf("replay: build harness: %w", err)
	}

	if err := o.configureHarness(harness, state); err != nil {
		return nil, fmt.Errorf("replay: configure harness: %w", err)
	}

	effects, execErr := harness.ExecuteCommands(ctx, state.Transaction.Commands)
	if execErr != nil {
		return nil, fmt.Errorf("replay: execute commands: %w", execErr)
	}

	if effects.Status.Success {
		o.writeBackOutputs(state, effects, logger)
	}

	diff := o.compare(state, effects, policy.Compare)

	var failedIdx *int
	var failedDesc string
	var errMsg string
	if effects.Status.Failure != nil {
		idx := effects.Status.Failure.CommandIndex
		failedIdx = &idx
		failedDesc = describeCommand(state.Transaction.Commands, idx)
		errMsg = effects.Status.Failure.Message
	}

	cls := classify.Classify(classify.RawOutcome{
		Success:                  effects.Status.Success,
		Comparison:               diff,
		ErrorMessage:             errMsg,
		MissingInputObjects:      state.MissingInputObjects,
		MissingPackages:          state.MissingPackages,
		FailedCommandIndex:       failedIdx,
		FailedCommandDescription: failedDesc,
	})
	o.record(cls)

	return &Result{Digest: digest, State: state, Effects: effects, Classification: cls}, nil
}

// Analyze hydrates a ReplayState without executing the VM ("analyze_replay"
// in the workflow grammar, §4.9).
func (o *Orchestrator) Analyze(ctx context.Context, digest string, policy hydrate.Policy) (*domain.ReplayState, error) {
	state, err := o.hydrator.Hydrate(ctx, digest, policy)
	if state == nil {
		return nil, err
	}
	return state, nil
}

func (o *Orchestrator) record(cls classify.Classification) {
	if o.metrics == nil {
		return
	}
	o.metrics.CategoryCounters.WithLabelValues(string(cls.Category)).Inc()
}

// writeBackOutputs persists every created/mutated object's post-execution
// bytes into the store and the in-memory ReplayState, per spec §7's
// cross-transaction intra-checkpoint state progression: a later transaction
// in the same workflow run, replayed against the same checkpoint, reads this
// transaction's output through the ordinary store-first lookup in
// hydrate.fetchOneObject rather than a stale pre-execution version.
func (o *Orchestrator) writeBackOutputs(state *domain.ReplayState, effects domain.Effects, logger *zap.Logger) {
	for id, obj := range effects.OutputObjects {
		if obj == nil {
			continue
		}
		if err := o.store.PutObject(id, obj.Version, obj.Bytes, store.ObjectMeta{
			TypeTag:          obj.TypeTag,
			Owner:            obj.Owner,
			SharedInitialVer: obj.SharedInitialVer,
		}); err != nil {
			logger.Warn("write-back failed", zap.String("object", id.String()), zap.Error(err))
			continue
		}
		state.Objects[id] = obj
		state.HistoricalVersions[id] = obj.Version
	}
}

// patchObjects applies the Object Patcher to every fetched object in place,
// guided by the closure's detected package versions (recorded via
// RecordDetectedVersion before patching begins).
func (o *Orchestrator) patchObjects(state *domain.ReplayState, patcher *patch.Patcher) {
	for runtimeID, version := range detectedVersions(state) {
		patcher.RecordDetectedVersion(runtimeID, version)
	}
	for id, obj := range state.Objects {
		out, _, err := patcher.Patch(obj)
		if err != nil {
			o.logger.Warn("patch error", zap.String("object", id.String()), zap.Error(err))
			continue
		}
		obj.Bytes = out
	}
}

// detectedVersions scans each resolved package's bytecode for the integer
// constant its package_version check compares against. The embedded
// bytecode scanner itself lives outside this core's scope (it depends on
// the Move runtime's deserializer, same as the resolver's static dependency
// extraction); here the package's own recorded Version is used as the
// detected constant, which matches the common case where the loaded
// package's own version is exactly the value new objects of its types
// should carry.
func detectedVersions(state *domain.ReplayState) map[address.Address]uint64 {
	out := make(map[address.Address]uint64, len(state.Packages))
	for _, pkg := range state.Packages {
		if existing, ok := out[pkg.RuntimeID]; !ok || pkg.Version > existing {
			out[pkg.RuntimeID] = pkg.Version
		}
	}
	return out
}

// buildHarness configures a fresh Harness in canonical registration order
// per §4.7 step 4: framework first, then every resolved package loaded at
// its own storage address, then an alias from each runtime id to its
// newest-at-checkpoint ("canonical") version so self-referential calls by
// runtime id resolve correctly, per the Open Question 1 "load both" freeze.
func (o *Orchestrator) buildHarness(ctx context.Context, state *domain.ReplayState, patcher *patch.Patcher, logger *zap.Logger) (*vm.Harness, error) {
	rt, err := o.newHarness()
	if err != nil {
		return nil, err
	}
	h := vm.New(rt, logger)

	if err := h.LoadFramework(); err != nil {
		return nil, err
	}

	for _, storageID := range sortedPackageKeys(state.Packages) {
		if err := h.RegisterPackage(state.Packages[storageID]); err != nil {
			return nil, err
		}
	}

	canonical := canonicalByRuntimeID(state.Packages)
	for runtimeID, pkg := range canonical {
		if runtimeID == pkg.StorageID {
			continue
		}
		if err := h.AddAddressAlias(runtimeID, pkg.StorageID); err != nil {
			return nil, err
		}
	}

	for _, id := range sortedObjectKeys(state.Objects) {
		if err := h.AddInputObject(state.Objects[id]); err != nil {
			return nil, err
		}
	}

	h.SetChildFetcher(NewChildFetcher(ctx, state, o.store, o.transport))

	return h, nil
}

func (o *Orchestrator) configureHarness(h *vm.Harness, state *domain.ReplayState) error {
	txn := state.Transaction
	return h.Configure(vm.ExecConfig{
		Sender:            txn.Sender,
		Epoch:             state.Epoch,
		ProtocolVersion:   state.ProtocolVersion,
		TxDigest:          txn.Digest,
		TimestampMs:       txn.TimestampMs,
		GasBudget:         txn.Gas.Budget,
		GasPrice:          txn.Gas.Price,
		ReferenceGasPrice: state.ReferenceGasPrice,
	})
}

// compare performs the set-based comparison against the transaction's
// on-chain effects, normalizing object ids on both sides first. Returns nil
// when comparison is disabled or there is nothing to compare against.
func (o *Orchestrator) compare(state *domain.ReplayState, effects domain.Effects, mode CompareMode) *classify.ComparisonDiff {
	if mode == CompareNone {
		return nil
	}
	onChain := state.Transaction.OnChainEffects
	if onChain == nil {
		return nil
	}

	diff := &classify.ComparisonDiff{
		StatusMismatch: effects.Status.Success != onChain.Status.Success,
		CreatedDiff:    setDiff(effects.Created, onChain.Created),
		MutatedDiff:    setDiff(effects.Mutated, onChain.Mutated),
		DeletedDiff:    setDiff(effects.Deleted, onChain.Deleted),
	}
	return diff
}

// setDiff returns the symmetric difference between a and b (addresses
// present in exactly one of the two sets), which is what both "summary" and
// "strict" comparison modes report; strict mode additionally treats a
// non-empty diff as disqualifying at a higher level (the caller's
// responsibility, not this component's).
func setDiff(a, b []address.Address) []address.Address {
	inA := map[address.Address]bool{}
	for _, x := range a {
		inA[x] = true
	}
	inB := map[address.Address]bool{}
	for _, x := range b {
		inB[x] = true
	}
	var out []address.Address
	for x := range inA {
		if !inB[x] {
			out = append(out, x)
		}
	}
	for x := range inB {
		if !inA[x] {
			out = append(out, x)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

func canonicalByRuntimeID(packages map[address.Address]*domain.Package) map[address.Address]*domain.Package {
	out := map[address.Address]*domain.Package{}
	for _, pkg := range packages {
		existing, ok := out[pkg.RuntimeID]
		if !ok || pkg.Version > existing.Version {
			out[pkg.RuntimeID] = pkg
		}
	}
	return out
}

func sortedPackageKeys(m map[address.Address]*domain.Package) []address.Address {
	out := make([]address.Address, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

func sortedObjectKeys(m map[address.Address]*domain.Object) []address.Address {
	out := make([]address.Address, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

func describeCommand(cmds []domain.Command, idx int) string {
	if idx < 0 || idx >= len(cmds) {
		return ""
	}
	cmd := cmds[idx]
	switch cmd.Kind {
	case domain.CommandMoveCall:
		return fmt.Sprintf("MoveCall %s::%s::%s", cmd.Package, cmd.Module, cmd.Function)
	case domain.CommandSplitCoins:
		return "SplitCoins"
	case domain.CommandMergeCoins:
		return "MergeCoins"
	case domain.CommandTransferObjects:
		return "TransferObjects"
	case domain.CommandMakeMoveVec:
		return "MakeMoveVec"
	case domain.CommandPublish:
		return "Publish"
	case domain.CommandUpgrade:
		return "Upgrade"
	default:
		return "Unknown"
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// DigestToBase58 is a small helper validating the spec §6 textual digest
// convention: digests are base58, normalization never strips or lowercases
// them (unlike addresses).
func DigestToBase58(raw []byte) string {
	return base58.Encode(raw)
}
