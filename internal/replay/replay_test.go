package replay

import (
	"context"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/sui-sandbox/replay/internal/address"
	"github.com/sui-sandbox/replay/internal/classify"
	"github.com/sui-sandbox/replay/internal/domain"
	"github.com/sui-sandbox/replay/internal/hydrate"
	"github.com/sui-sandbox/replay/internal/patch"
	"github.com/sui-sandbox/replay/internal/resolver"
	"github.com/sui-sandbox/replay/internal/store"
	"github.com/sui-sandbox/replay/internal/transport"
	"github.com/sui-sandbox/replay/internal/vm"
)

// testRuntime is a minimal vm.MoveRuntime stand-in so the orchestrator's
// wiring can be exercised without a real embedded VM.
type testRuntime struct {
	nextEffects domain.Effects
}

func (r *testRuntime) LoadPackage(storageID, runtimeID address.Address, modules []domain.Module) error {
	return nil
}
func (r *testRuntime) LoadFrameworkPackage(id address.Address) error { return nil }
func (r *testRuntime) SetLinkage(callerStorageID address.Address, linkage map[address.Address]address.Address) error {
	return nil
}
func (r *testRuntime) SetAddressAlias(storageID, runtimeID address.Address) error { return nil }
func (r *testRuntime) StageInputObject(id address.Address, version domain.ObjectVersion, owner domain.Ownership, bytes []byte) error {
	return nil
}
func (r *testRuntime) SetChildFetcher(fn vm.ChildFetcherFunc) {}
func (r *testRuntime) Configure(cfg vm.ExecConfig) error       { return nil }
func (r *testRuntime) ExecuteCommands(ctx context.Context, cmds []domain.Command) (domain.Effects, error) {
	return r.nextEffects, nil
}

func newTestOrchestrator(t *testing.T, tp *transport.MockBackend) (*Orchestrator, *testRuntime) {
	t.Helper()
	st, err := store.New(afero.NewMemMapFs(), "/cache", 16)
	require.NoError(t, err)
	res := resolver.New(st, tp)
	hyd := hydrate.New(st, tp, res)
	rt := &testRuntime{nextEffects: domain.Effects{Status: domain.Status{Success: true}}}
	o := New(st, tp, hyd,
		func() *patch.Patcher { return patch.New(patch.ModeWarnAndSkip) },
		func() (vm.MoveRuntime, error) { return rt, nil },
		nil, nil,
	)
	return o, rt
}

func basicFixtures(tp *transport.MockBackend) {
	pkg := address.MustParse("0xaa")
	tp.PutObject(pkg, 1, &transport.FetchedObject{
		Version:          1,
		PackageModules:   []domain.Module{{Name: "m", Bytes: []byte{1}}},
		PackageLinkage:   map[address.Address]address.Address{},
		PackageRuntimeID: pkg,
	})
	obj := address.MustParse("0x100")
	tp.PutObject(obj, 5, &transport.FetchedObject{Version: 5, TypeTag: "0xaa::m::Thing", Bytes: []byte{1, 2, 3}, Owner: domain.OwnershipShared})

	tp.PutTransaction(&domain.Transaction{
		Digest: "D1",
		Sender: address.MustParse("0x1"),
		Gas:    domain.GasData{Budget: 1000, Price: 1},
		Inputs: []domain.Input{
			{Kind: domain.InputObject, ObjectID: obj, VersionHint: verPtr(5)},
			{Kind: domain.InputPure, Pure: []byte{9}},
		},
		Commands: []domain.Command{
			{Kind: domain.CommandMoveCall, Package: pkg, Module: "m", Function: "f"},
		},
		Epoch:      10,
		Checkpoint: 100,
	})
	tp.PutEpoch(&transport.Epoch{Epoch: 10, ProtocolVersion: 40, ReferenceGasPrice: 1000})
}

func verPtr(v uint64) *uint64 { return &v }

func TestReplaySucceedsEndToEnd(t *testing.T) {
	tp := transport.NewMockBackend()
	basicFixtures(tp)
	o, _ := newTestOrchestrator(t, tp)

	result, err := o.Replay(context.Background(), "D1", Policy{
		Hydrate:   hydrate.Policy{AllowFallback: true, Source: hydrate.SourceHybrid},
		PatchMode: patch.ModeWarnAndSkip,
		Compare:   CompareNone,
	})
	require.NoError(t, err)
	require.Equal(t, classify.CategorySuccess, result.Classification.Category)
	require.True(t, result.Classification.Success)
	require.False(t, result.Classification.Retryable)
}

func TestReplayMissingInputObjectWithFallbackDisabled(t *testing.T) {
	tp := transport.NewMockBackend()
	pkg := address.MustParse("0xaa")
	tp.PutObject(pkg, 1, &transport.FetchedObject{
		Version: 1, PackageModules: []domain.Module{{Name: "m"}}, PackageLinkage: map[address.Address]address.Address{}, PackageRuntimeID: pkg,
	})
	tp.PutTransaction(&domain.Transaction{
		Digest: "D2",
		Sender: address.MustParse("0x1"),
		Inputs: []domain.Input{
			{Kind: domain.InputObject, ObjectID: address.MustParse("0x200"), VersionHint: verPtr(3)},
		},
		Commands: []domain.Command{
			{Kind: domain.CommandMoveCall, Package: pkg, Module: "m", Function: "f"},
		},
		Checkpoint: 1,
	})
	tp.PutEpoch(&transport.Epoch{Epoch: 1})
	o, rt := newTestOrchestrator(t, tp)
	rt.nextEffects = domain.Effects{Status: domain.Status{
		Success: false,
		Failure: &domain.ExecutionError{CommandIndex: 0, Kind: domain.ExecMissingObject, Message: "missing input object"},
	}}

	result, err := o.Replay(context.Background(), "D2", Policy{
		Hydrate: hydrate.Policy{AllowFallback: false},
	})
	require.NoError(t, err)
	require.Equal(t, classify.CategoryMissingInputObjects, result.Classification.Category)
	require.True(t, result.Classification.Retryable)
	require.NotEmpty(t, result.Classification.MissingInputObjects)
}

func TestReplayComparisonMismatchIsNotAFailure(t *testing.T) {
	tp := transport.NewMockBackend()
	basicFixtures(tp)
	o, rt := newTestOrchestrator(t, tp)
	rt.nextEffects = domain.Effects{
		Status:  domain.Status{Success: true},
		Created: []address.Address{address.MustParse("0x999")},
	}

	// Re-fetch and mutate the transaction fixture to carry on-chain effects
	// with a different created-set, so Compare finds a mismatch.
	tx, err := tp.FetchTransaction(context.Background(), "D1")
	require.NoError(t, err)
	tx.OnChainEffects = &domain.Effects{Status: domain.Status{Success: true}}
	tp.PutTransaction(tx)

	result, err := o.Replay(context.Background(), "D1", Policy{
		Hydrate: hydrate.Policy{AllowFallback: true},
		Compare: CompareSummary,
	})
	require.NoError(t, err)
	require.True(t, result.Classification.Success)
	require.Equal(t, classify.CategoryComparisonMismatch, result.Classification.Category)
}

func TestReplayWritesBackOutputObjectsForNextTransaction(t *testing.T) {
	tp := transport.NewMockBackend()
	basicFixtures(tp)
	o, rt := newTestOrchestrator(t, tp)

	newObj := address.MustParse("0x777")
	rt.nextEffects = domain.Effects{
		Status:  domain.Status{Success: true},
		Created: []address.Address{newObj},
		OutputObjects: map[address.Address]*domain.Object{
			newObj: {ID: newObj, Version: 1, TypeTag: "0xaa::m::Thing", Bytes: []byte{9, 9}, Owner: domain.OwnershipShared},
		},
	}

	_, err := o.Replay(context.Background(), "D1", Policy{Hydrate: hydrate.Policy{AllowFallback: true}})
	require.NoError(t, err)

	data, meta, ok, err := o.store.GetObject(newObj, 1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte{9, 9}, data)
	require.Equal(t, "0xaa::m::Thing", meta.TypeTag)
}

func TestAnalyzeDoesNotExecute(t *testing.T) {
	tp := transport.NewMockBackend()
	basicFixtures(tp)
	o, _ := newTestOrchestrator(t, tp)

	state, err := o.Analyze(context.Background(), "D1", hydrate.Policy{AllowFallback: true})
	require.NoError(t, err)
	require.NotNil(t, state)
	require.Equal(t, "D1", state.Transaction.Digest)
}
