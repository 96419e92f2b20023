package vm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sui-sandbox/replay/internal/address"
	"github.com/sui-sandbox/replay/internal/domain"
)

// fakeRuntime is a minimal in-memory MoveRuntime stand-in exercising the
// Harness's state machine and registration calls without depending on any
// real embedded VM.
type fakeRuntime struct {
	packages      map[address.Address]bool
	framework     map[address.Address]bool
	linkage       map[address.Address]map[address.Address]address.Address
	aliases       map[address.Address]address.Address
	staged        map[address.Address][]byte
	childFetcher  ChildFetcherFunc
	cfg           ExecConfig
	nextEffects   domain.Effects
	nextErr       error
	executedCmds  []domain.Command
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{
		packages:  map[address.Address]bool{},
		framework: map[address.Address]bool{},
		linkage:   map[address.Address]map[address.Address]address.Address{},
		aliases:   map[address.Address]address.Address{},
		staged:    map[address.Address][]byte{},
	}
}

func (f *fakeRuntime) LoadPackage(storageID, runtimeID address.Address, modules []domain.Module) error {
	f.packages[storageID] = true
	return nil
}

func (f *fakeRuntime) LoadFrameworkPackage(id address.Address) error {
	f.framework[id] = true
	return nil
}

func (f *fakeRuntime) SetLinkage(callerStorageID address.Address, linkage map[address.Address]address.Address) error {
	f.linkage[callerStorageID] = linkage
	return nil
}

func (f *fakeRuntime) SetAddressAlias(storageID, runtimeID address.Address) error {
	f.aliases[storageID] = runtimeID
	return nil
}

func (f *fakeRuntime) StageInputObject(id address.Address, version domain.ObjectVersion, owner domain.Ownership, bytes []byte) error {
	f.staged[id] = bytes
	return nil
}

func (f *fakeRuntime) SetChildFetcher(fn ChildFetcherFunc) { f.childFetcher = fn }

func (f *fakeRuntime) Configure(cfg ExecConfig) error {
	f.cfg = cfg
	return nil
}

func (f *fakeRuntime) ExecuteCommands(ctx context.Context, cmds []domain.Command) (domain.Effects, error) {
	f.executedCmds = cmds
	return f.nextEffects, f.nextErr
}

func TestHarnessRegistrationAndSuccessfulExecution(t *testing.T) {
	rt := newFakeRuntime()
	h := New(rt, nil)

	require.NoError(t, h.LoadFramework())
	require.True(t, rt.framework[address.Framework0x1])

	pkg := &domain.Package{
		StorageID: address.MustParse("0xaa"),
		RuntimeID: address.MustParse("0xaa"),
		Linkage:   map[address.Address]address.Address{},
	}
	require.NoError(t, h.RegisterPackage(pkg))
	require.True(t, rt.packages[pkg.StorageID])

	obj := &domain.Object{ID: address.MustParse("0x100"), Bytes: []byte{1, 2, 3}}
	require.NoError(t, h.AddInputObject(obj))
	require.Equal(t, []byte{1, 2, 3}, rt.staged[obj.ID])

	require.Equal(t, StateIdle, h.State())
	require.NoError(t, h.Configure(ExecConfig{Sender: address.MustParse("0x1"), GasBudget: 1000}))
	require.Equal(t, StatePrepared, h.State())

	rt.nextEffects = domain.Effects{Status: domain.Status{Success: true}}
	effects, err := h.ExecuteCommands(context.Background(), []domain.Command{{Kind: domain.CommandMoveCall}})
	require.NoError(t, err)
	require.True(t, effects.Status.Success)
	require.Equal(t, StateDone, h.State())
}

func TestHarnessRejectsExecutionBeforePrepared(t *testing.T) {
	rt := newFakeRuntime()
	h := New(rt, nil)
	_, err := h.ExecuteCommands(context.Background(), nil)
	require.Error(t, err)
}

func TestHarnessRecordsFailedCommandIndex(t *testing.T) {
	rt := newFakeRuntime()
	h := New(rt, nil)
	require.NoError(t, h.Configure(ExecConfig{}))

	rt.nextEffects = domain.Effects{Status: domain.Status{
		Success: false,
		Failure: &domain.ExecutionError{CommandIndex: 2, Kind: domain.ExecAbort, Message: "move abort"},
	}}
	_, err := h.ExecuteCommands(context.Background(), make([]domain.Command, 3))
	require.NoError(t, err) // VM-originated failures are data, not a Go error.
	require.Equal(t, StateFailed, h.State())

	idx, reason, ok := h.FailedCommand()
	require.True(t, ok)
	require.Equal(t, 2, idx)
	require.Equal(t, "move abort", reason)
}

func TestGasEstimateOutOfGas(t *testing.T) {
	table := DefaultCostTable()
	used, rebate := Estimate(table, 5, 1000)
	require.Greater(t, used, uint64(0))
	require.Greater(t, rebate, uint64(0))
	require.True(t, OutOfGas(used, used-1))
	require.False(t, OutOfGas(used, used+1))
}
