package vm

import (
	"context"

	"github.com/sui-sandbox/replay/internal/address"
	"github.com/sui-sandbox/replay/internal/domain"
)

// NoopRuntime accepts every registration call but refuses to execute,
// mirroring transport.NoopBackend's role as a safe, explicit default when no
// concrete engine has been wired in. CLI wiring uses this until a real
// embedded Move VM is integrated behind MoveRuntime.
type NoopRuntime struct{}

var _ MoveRuntime = NoopRuntime{}

func (NoopRuntime) LoadPackage(storageID, runtimeID address.Address, modules []domain.Module) error {
	return nil
}
func (NoopRuntime) LoadFrameworkPackage(id address.Address) error { return nil }
func (NoopRuntime) SetLinkage(callerStorageID address.Address, linkage map[address.Address]address.Address) error {
	return nil
}
func (NoopRuntime) SetAddressAlias(storageID, runtimeID address.Address) error { return nil }
func (NoopRuntime) StageInputObject(id address.Address, version domain.ObjectVersion, owner domain.Ownership, bytes []byte) error {
	return nil
}
func (NoopRuntime) SetChildFetcher(fn ChildFetcherFunc) {}
func (NoopRuntime) Configure(cfg ExecConfig) error       { return nil }

func (NoopRuntime) ExecuteCommands(ctx context.Context, cmds []domain.Command) (domain.Effects, error) {
	return domain.Effects{}, errNoRuntime
}

var errNoRuntime = noRuntimeError{}

type noRuntimeError struct{}

func (noRuntimeError) Error() string {
	return "vm: no embedded Move runtime is wired in (NoopRuntime); replace the HarnessFactory with a real MoveRuntime integration"
}
