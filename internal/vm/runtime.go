// Package vm implements the VM Harness (C6): it configures an embedded Move
// VM instance to faithfully re-execute one transaction's PTB, registering
// packages, address aliases, input objects, and a lazy child-object
// fetcher, then driving execution command-by-command and collecting
// effects. Grounded on the original Rust historical_view's VMHarness /
// PTBExecutor wiring (execute_view_call's registration order) and the
// interpreter-state-machine shape of other_examples/.../vm-interpreter.go.go.
package vm

import (
	"context"

	"github.com/sui-sandbox/replay/internal/address"
	"github.com/sui-sandbox/replay/internal/domain"
)

// MoveRuntime is the narrow integration seam onto the embedded Move virtual
// machine and bytecode verifier. No concrete embedded-VM package exists in
// the retrieved pack (see DESIGN.md); this interface is the seam a real
// integration wires a concrete engine into. The Harness never constructs a
// MoveRuntime itself — one is always supplied at construction, per the
// "explicit config passed at construction, avoid singletons" design note.
type MoveRuntime interface {
	// LoadPackage installs one exact package version's modules, addressable
	// at storageID, self-referencing as runtimeID.
	LoadPackage(storageID, runtimeID address.Address, modules []domain.Module) error
	// LoadFrameworkPackage installs one of the embedded 0x1/0x2/0x3 framework
	// bundles; these are never fetched over the transport layer.
	LoadFrameworkPackage(id address.Address) error
	// SetLinkage installs the per-dependency pinning map a package compiled
	// against, consulted on every cross-package call made from that
	// package's own modules. Per DESIGN.md's Open Question 1 decision, link
	// resolution always uses the calling package's own map, never a
	// process-global one.
	SetLinkage(callerStorageID address.Address, linkage map[address.Address]address.Address) error
	// SetAddressAlias makes future module lookups at storageID resolve to
	// the modules loaded at runtimeID.
	SetAddressAlias(storageID, runtimeID address.Address) error
	// StageInputObject pre-loads one input object for the next
	// ExecuteCommands call.
	StageInputObject(id address.Address, version domain.ObjectVersion, owner domain.Ownership, bytes []byte) error
	// SetChildFetcher installs the callback invoked by the VM's object
	// runtime when a dynamic-field child is not pre-staged.
	SetChildFetcher(fn ChildFetcherFunc)
	// Configure sets the per-replay execution parameters.
	Configure(cfg ExecConfig) error
	// ExecuteCommands drives the VM through cmds in order and returns
	// collected effects. VM-originated failures (aborts, verifier/linker
	// errors, out-of-gas) are reported as data inside the returned Effects,
	// never as a panic; the error return is reserved for conditions that
	// prevented execution from starting at all. On success, Effects.
	// OutputObjects must carry the new bytes/version/owner for every id in
	// Effects.Created or Effects.Mutated: the orchestrator writes these back
	// into the shared store so the next transaction replayed against the same
	// checkpoint sees this one's output.
	ExecuteCommands(ctx context.Context, cmds []domain.Command) (domain.Effects, error)
}

// ChildFetcherFunc resolves one dynamic-field child miss observed during
// execution. Implementations must be safe to call from a VM-suspended
// context; spinning up an independent scheduler per call is permitted but
// discouraged (§4.6).
type ChildFetcherFunc func(parent, child address.Address) (typeTag string, bcsBytes []byte, ok bool)

// ExecConfig carries the per-replay execution parameters named in §4.6.
type ExecConfig struct {
	Sender            address.Address
	Epoch             uint64
	ProtocolVersion   uint64
	TxDigest          string
	TimestampMs       uint64
	GasBudget         uint64
	GasPrice          uint64
	ReferenceGasPrice uint64
}
