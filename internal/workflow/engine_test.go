package workflow

import (
	"context"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/sui-sandbox/replay/internal/address"
	"github.com/sui-sandbox/replay/internal/domain"
	"github.com/sui-sandbox/replay/internal/hydrate"
	"github.com/sui-sandbox/replay/internal/patch"
	"github.com/sui-sandbox/replay/internal/replay"
	"github.com/sui-sandbox/replay/internal/resolver"
	"github.com/sui-sandbox/replay/internal/store"
	"github.com/sui-sandbox/replay/internal/transport"
	"github.com/sui-sandbox/replay/internal/vm"
)

type fakeRuntime struct{ success bool }

func (r *fakeRuntime) LoadPackage(storageID, runtimeID address.Address, modules []domain.Module) error {
	return nil
}
func (r *fakeRuntime) LoadFrameworkPackage(id address.Address) error { return nil }
func (r *fakeRuntime) SetLinkage(caller address.Address, linkage map[address.Address]address.Address) error {
	return nil
}
func (r *fakeRuntime) SetAddressAlias(storageID, runtimeID address.Address) error { return nil }
func (r *fakeRuntime) StageInputObject(id address.Address, version domain.ObjectVersion, owner domain.Ownership, bytes []byte) error {
	return nil
}
func (r *fakeRuntime) SetChildFetcher(fn vm.ChildFetcherFunc) {}
func (r *fakeRuntime) Configure(cfg vm.ExecConfig) error       { return nil }
func (r *fakeRuntime) ExecuteCommands(ctx context.Context, cmds []domain.Command) (domain.Effects, error) {
	return domain.Effects{Status: domain.Status{Success: r.success}}, nil
}

func newEngineFixture(t *testing.T, success bool) (*Engine, *transport.MockBackend) {
	t.Helper()
	tp := transport.NewMockBackend()

	pkg := address.MustParse("0xaa")
	tp.PutObject(pkg, 1, &transport.FetchedObject{
		Version: 1, PackageModules: []domain.Module{{Name: "m"}},
		PackageLinkage: map[address.Address]address.Address{}, PackageRuntimeID: pkg,
	})
	obj := address.MustParse("0x100")
	tp.PutObject(obj, 5, &transport.FetchedObject{Version: 5, TypeTag: "0xaa::m::Thing", Bytes: []byte{1}, Owner: domain.OwnershipShared})
	tp.PutTransaction(&domain.Transaction{
		Digest: "D1",
		Sender: address.MustParse("0x1"),
		Gas:    domain.GasData{Budget: 1000, Price: 1},
		Inputs: []domain.Input{
			{Kind: domain.InputObject, ObjectID: obj, VersionHint: verPtr(5)},
		},
		Commands: []domain.Command{
			{Kind: domain.CommandMoveCall, Package: pkg, Module: "m", Function: "f"},
		},
		Epoch:      10,
		Checkpoint: 100,
	})
	tp.PutEpoch(&transport.Epoch{Epoch: 10, ProtocolVersion: 40, ReferenceGasPrice: 1000})

	st, err := store.New(afero.NewMemMapFs(), "/cache", 16)
	require.NoError(t, err)
	res := resolver.New(st, tp)
	hyd := hydrate.New(st, tp, res)
	orch := replay.New(st, tp, hyd,
		func() *patch.Patcher { return patch.New(patch.ModeWarnAndSkip) },
		func() (vm.MoveRuntime, error) { return &fakeRuntime{success: success}, nil },
		nil, nil,
	)
	return NewEngine(orch, nil, nil), tp
}

func verPtr(v uint64) *uint64 { return &v }

func TestEngineRunAllStepsSucceed(t *testing.T) {
	eng, _ := newEngineFixture(t, true)
	spec, err := Parse([]byte(`
version: 1
name: ok
steps:
  - id: s1
    kind: replay
    digest: "D1"
    allow_fallback: true
  - id: s2
    kind: analyze_replay
    digest: "D1"
    allow_fallback: true
`), "yaml")
	require.NoError(t, err)

	report, err := eng.Run(context.Background(), spec)
	require.NoError(t, err)
	require.True(t, report.Success)
	require.Len(t, report.Steps, 2)
}

func TestEngineContinueOnErrorKeepsGoing(t *testing.T) {
	eng, _ := newEngineFixture(t, false)
	spec, err := Parse([]byte(`
version: 1
name: partial
steps:
  - id: s1
    kind: replay
    digest: "D1"
    allow_fallback: true
    continue_on_error: true
  - id: s2
    kind: analyze_replay
    digest: "D1"
    allow_fallback: true
`), "yaml")
	require.NoError(t, err)

	report, err := eng.Run(context.Background(), spec)
	require.NoError(t, err)
	require.True(t, report.Success)
	require.Len(t, report.Steps, 2)
	require.False(t, report.Steps[0].Succeeded)
	require.True(t, report.Steps[1].Succeeded)
}

func TestEngineHaltsWithoutContinueOnError(t *testing.T) {
	eng, _ := newEngineFixture(t, false)
	spec, err := Parse([]byte(`
version: 1
name: halting
steps:
  - id: s1
    kind: replay
    digest: "D1"
    allow_fallback: true
  - id: s2
    kind: analyze_replay
    digest: "D1"
    allow_fallback: true
`), "yaml")
	require.NoError(t, err)

	report, err := eng.Run(context.Background(), spec)
	require.NoError(t, err)
	require.False(t, report.Success)
	require.Len(t, report.Steps, 1)
}

func TestEngineCommandStepUsesRunner(t *testing.T) {
	tp := transport.NewMockBackend()
	st, err := store.New(afero.NewMemMapFs(), "/cache", 16)
	require.NoError(t, err)
	res := resolver.New(st, tp)
	hyd := hydrate.New(st, tp, res)
	orch := replay.New(st, tp, hyd,
		func() *patch.Patcher { return patch.New(patch.ModeWarnAndSkip) },
		func() (vm.MoveRuntime, error) { return &fakeRuntime{success: true}, nil },
		nil, nil,
	)
	var captured []string
	eng := NewEngine(orch, func(ctx context.Context, args []string) error {
		captured = args
		return nil
	}, nil)

	spec, err := Parse([]byte(`
version: 1
name: cmd
steps:
  - id: s1
    kind: command
    args: ["sui-sandbox", "inspect", "D1"]
`), "yaml")
	require.NoError(t, err)

	report, err := eng.Run(context.Background(), spec)
	require.NoError(t, err)
	require.True(t, report.Success)
	require.Equal(t, []string{"inspect", "D1"}, captured)
}

func TestReportSummaryIncludesCategoryCounts(t *testing.T) {
	eng, _ := newEngineFixture(t, true)
	spec, err := Parse([]byte(`
version: 1
name: summarized
steps:
  - id: s1
    kind: replay
    digest: "D1"
    allow_fallback: true
`), "yaml")
	require.NoError(t, err)

	report, err := eng.Run(context.Background(), spec)
	require.NoError(t, err)
	summary := report.Summary()
	require.Contains(t, summary, "summarized")
	require.Contains(t, summary, "success")
}
