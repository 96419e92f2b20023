// Package hydrate implements the State Hydrator (C4): it assembles a
// complete domain.ReplayState for one transaction digest, fetching
// historical object versions, resolving the package closure, prefetching
// dynamic fields, and resolving epoch metadata. Grounded on
// core/state/history_reader_v3.go's "as-of" staged-construction idiom
// (SetTx/SetTxNum before reads) and the original Rust historical view's
// best-effort hydration pipeline — missing inputs are diagnostics, not
// errors, except for the transaction fetch itself.
package hydrate

import (
	"context"

	"go.uber.org/multierr"

	"github.com/sui-sandbox/replay/internal/address"
	"github.com/sui-sandbox/replay/internal/domain"
	"github.com/sui-sandbox/replay/internal/resolver"
	"github.com/sui-sandbox/replay/internal/store"
	"github.com/sui-sandbox/replay/internal/transport"
)

// Source selects which transport family to prefer.
type Source string

const (
	SourceRPC    Source = "rpc"
	SourceWalrus Source = "walrus"
	SourceHybrid Source = "hybrid"
)

// Policy controls hydration behavior per spec §4.4.
type Policy struct {
	PrefetchDynamicFields bool
	PrefetchDepth         int
	PrefetchLimit         int
	AutoSystemObjects     bool
	AllowFallback         bool
	Source                Source
}

// HydrationFailed is returned when the transaction itself cannot be
// obtained; everything else is best-effort.
type HydrationFailed struct {
	Reason string
}

func (e *HydrationFailed) Error() string { return "hydration failed: " + e.Reason }

// Hydrator assembles ReplayState from a store, a transport backend, and a
// package resolver.
type Hydrator struct {
	store     *store.Store
	transport transport.Backend
	resolver  *resolver.Resolver
}

// New builds a Hydrator.
func New(st *store.Store, tp transport.Backend, rs *resolver.Resolver) *Hydrator {
	return &Hydrator{store: st, transport: tp, resolver: rs}
}

// Hydrate assembles a ReplayState for digest under policy.
func (h *Hydrator) Hydrate(ctx context.Context, digest string, policy Policy) (*domain.ReplayState, error) {
	txn, err := h.fetchTransaction(ctx, digest)
	if err != nil {
		return nil, &HydrationFailed{Reason: err.Error()}
	}

	state := &domain.ReplayState{
		Packages:           map[address.Address]*domain.Package{},
		Objects:            map[address.Address]*domain.Object{},
		Transaction:        txn,
		Checkpoint:         txn.Checkpoint,
		Epoch:              txn.Epoch,
		HistoricalVersions: map[address.Address]domain.ObjectVersion{},
	}

	h.collectHistoricalVersions(state, txn)

	roots, typeTags := commandRoots(txn)
	resResult, rerr := h.resolver.Resolve(ctx, roots, typeTags, txn.Checkpoint, resolver.Options{AllowFallback: policy.AllowFallback})
	var diag error
	if resResult != nil {
		for storageID, pkg := range resResult.Packages {
			state.Packages[storageID] = pkg
		}
	}
	if rerr != nil {
		if ri, ok := rerr.(*resolver.ResolutionIncomplete); ok {
			state.MissingPackages = append(state.MissingPackages, ri.Unresolved...)
			diag = multierr.Append(diag, rerr)
		} else {
			return nil, &HydrationFailed{Reason: rerr.Error()}
		}
	}

	h.fetchHistoricalObjects(ctx, state, policy, &diag)

	if policy.AutoSystemObjects {
		h.fetchAutoSystemObjects(ctx, state, policy)
	}

	if policy.PrefetchDynamicFields {
		h.prefetchDynamicFields(ctx, state, policy)
	}

	if err := h.resolveEpoch(ctx, state, txn); err != nil {
		diag = multierr.Append(diag, err)
	}

	// Hydration succeeds whenever the transaction itself was obtained;
	// everything accumulated in diag is non-fatal and returned only as an
	// informational aggregate for callers that want to log it.
	return state, diag
}

func (h *Hydrator) fetchTransaction(ctx context.Context, digest string) (*domain.Transaction, error) {
	return h.transport.FetchTransaction(ctx, digest)
}

// collectHistoricalVersions unions the three authoritative effects sources
// plus any version hints carried on the input descriptors themselves.
func (h *Hydrator) collectHistoricalVersions(state *domain.ReplayState, txn *domain.Transaction) {
	add := func(ref domain.ObjectRef) {
		state.HistoricalVersions[ref.ID] = ref.Version
	}
	if txn.OnChainEffects != nil {
		for _, ref := range txn.OnChainEffects.UnchangedLoadedRuntimeObjects {
			add(ref)
		}
		for _, ref := range txn.OnChainEffects.ChangedObjects {
			add(ref)
		}
		for _, ref := range txn.OnChainEffects.UnchangedConsensusObjects {
			add(ref)
		}
	}
	for _, in := range txn.Inputs {
		if in.Kind == domain.InputObject && in.VersionHint != nil {
			if _, exists := state.HistoricalVersions[in.ObjectID]; !exists {
				state.HistoricalVersions[in.ObjectID] = *in.VersionHint
			}
		}
	}
}

// commandRoots collects package addresses directly targeted by commands,
// type-argument strings contributing additional roots, and dependencies
// declared by Publish/Upgrade commands.
func commandRoots(txn *domain.Transaction) ([]address.Address, []string) {
	var roots []address.Address
	var typeTags []string
	for _, cmd := range txn.Commands {
		switch cmd.Kind {
		case domain.CommandMoveCall:
			roots = append(roots, cmd.Package)
			typeTags = append(typeTags, cmd.TypeArgs...)
		case domain.CommandUpgrade:
			roots = append(roots, cmd.UpgradePackage)
		case domain.CommandPublish:
			roots = append(roots, cmd.PublishDeps...)
		}
	}
	return roots, typeTags
}

// fetchHistoricalObjects fetches every object in HistoricalVersions plus
// every object-kind input, store-first then transport, recording misses as
// diagnostics rather than failing.
func (h *Hydrator) fetchHistoricalObjects(ctx context.Context, state *domain.ReplayState, policy Policy, diag *error) {
	wanted := map[address.Address]domain.ObjectVersion{}
	for id, v := range state.HistoricalVersions {
		wanted[id] = v
	}
	for _, in := range state.Transaction.Inputs {
		if in.Kind != domain.InputObject {
			continue
		}
		if _, ok := wanted[in.ObjectID]; ok {
			continue
		}
		if in.VersionHint != nil {
			wanted[in.ObjectID] = *in.VersionHint
		}
	}

	for id, v := range wanted {
		obj, err := h.fetchOneObject(ctx, id, v, policy)
		if err != nil {
			state.MissingInputObjects = append(state.MissingInputObjects, id)
			*diag = multierr.Append(*diag, err)
			continue
		}
		state.Objects[id] = obj
	}
}

// fetchOneObject tries the store, then the transport, then (if allowed) the
// transport's latest-version fetch as a last resort.
func (h *Hydrator) fetchOneObject(ctx context.Context, id address.Address, v domain.ObjectVersion, policy Policy) (*domain.Object, error) {
	if data, meta, ok, err := h.store.GetObject(id, v); err != nil {
		return nil, err
	} else if ok {
		return &domain.Object{
			ID: id, Version: v, TypeTag: meta.TypeTag, Bytes: data,
			Owner: meta.Owner, SharedInitialVer: meta.SharedInitialVer,
			SourceCheckpoint: meta.SourceCheckpoint,
		}, nil
	}

	version := v
	fetched, err := h.transport.FetchObject(ctx, id, &version)
	if err != nil && policy.AllowFallback {
		fetched, err = h.transport.FetchObject(ctx, id, nil)
	}
	if err != nil {
		return nil, err
	}

	_ = h.store.PutObject(id, fetched.Version, fetched.Bytes, store.ObjectMeta{
		TypeTag: fetched.TypeTag, Owner: fetched.Owner,
		SharedInitialVer: fetched.SharedInitialVer,
	})

	return &domain.Object{
		ID: id, Version: fetched.Version, TypeTag: fetched.TypeTag,
		Bytes: fetched.Bytes, Owner: fetched.Owner, SharedInitialVer: fetched.SharedInitialVer,
	}, nil
}

// fetchAutoSystemObjects fetches the canonical clock and system-state
// objects at the version discovered via the transaction's effects, or at
// latest known for the checkpoint.
func (h *Hydrator) fetchAutoSystemObjects(ctx context.Context, state *domain.ReplayState, policy Policy) {
	for _, id := range []address.Address{address.SystemClock, address.SystemState} {
		if _, already := state.Objects[id]; already {
			continue
		}
		var versionPtr *domain.ObjectVersion
		if v, ok := state.HistoricalVersions[id]; ok {
			versionPtr = &v
		}
		fetched, err := h.transport.FetchObject(ctx, id, versionPtr)
		if err != nil {
			continue // best-effort: absence is not fatal.
		}
		state.Objects[id] = &domain.Object{
			ID: id, Version: fetched.Version, TypeTag: fetched.TypeTag,
			Bytes: fetched.Bytes, Owner: fetched.Owner, SharedInitialVer: fetched.SharedInitialVer,
		}
		state.HistoricalVersions[id] = fetched.Version
	}
}

// prefetchDynamicFields enumerates up to PrefetchLimit children per parent
// for up to PrefetchDepth levels among the already-hydrated object set. A
// child-fetch failure never fails hydration.
func (h *Hydrator) prefetchDynamicFields(ctx context.Context, state *domain.ReplayState, policy Policy) {
	limit := policy.PrefetchLimit
	if limit <= 0 {
		limit = 50
	}
	depth := policy.PrefetchDepth
	if depth <= 0 {
		depth = 1
	}

	var frontier []address.Address
	for id := range state.Objects {
		frontier = append(frontier, id)
	}

	for level := 0; level < depth && len(frontier) > 0; level++ {
		var nextFrontier []address.Address
		for _, parent := range frontier {
			children, err := h.store.ChildrenOf(parent)
			if err != nil {
				continue
			}
			count := 0
			for _, child := range children {
				if count >= limit {
					break
				}
				count++
				if _, already := state.Objects[child.Child]; already {
					continue
				}
				obj, err := h.fetchOneObject(ctx, child.Child, child.Version, policy)
				if err != nil {
					continue // best-effort.
				}
				state.Objects[child.Child] = obj
				nextFrontier = append(nextFrontier, child.Child)
			}
		}
		frontier = nextFrontier
	}
}

// resolveEpoch fetches protocol version and reference gas price, preferring
// the epoch carried on the fetched transaction itself.
func (h *Hydrator) resolveEpoch(ctx context.Context, state *domain.ReplayState, txn *domain.Transaction) error {
	var epochPtr *uint64
	if txn.Epoch != 0 {
		e := txn.Epoch
		epochPtr = &e
	}
	epoch, err := h.transport.FetchEpoch(ctx, epochPtr)
	if err != nil {
		return err
	}
	state.Epoch = epoch.Epoch
	state.ProtocolVersion = epoch.ProtocolVersion
	state.ReferenceGasPrice = epoch.ReferenceGasPrice
	return nil
}
