package vm

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/sui-sandbox/replay/internal/address"
	"github.com/sui-sandbox/replay/internal/domain"
)

// State enumerates the Harness's execution state machine: Idle -> Prepared
// -> Executing(i) -> {Done, Failed(i, reason)}.
type State int

const (
	StateIdle State = iota
	StatePrepared
	StateExecuting
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePrepared:
		return "prepared"
	case StateExecuting:
		return "executing"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Harness wraps a MoveRuntime, owning it exclusively for the duration of one
// replay (§5: "the VM is exclusively owned by one replay for its entire
// duration").
type Harness struct {
	mu     sync.Mutex
	rt     MoveRuntime
	logger *zap.Logger

	state         State
	failedIndex   int
	failedReason  string
}

// New builds a Harness around rt. logger may be nil; a no-op logger is used
// in that case.
func New(rt MoveRuntime, logger *zap.Logger) *Harness {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Harness{rt: rt, logger: logger, state: StateIdle}
}

// State returns the harness's current state-machine value.
func (h *Harness) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// FailedCommand returns the index and reason of the command that failed, if
// the harness is in StateFailed.
func (h *Harness) FailedCommand() (index int, reason string, ok bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != StateFailed {
		return 0, "", false
	}
	return h.failedIndex, h.failedReason, true
}

// RegisterPackage canonicalizes and installs one package version by its
// storage address.
func (h *Harness) RegisterPackage(pkg *domain.Package) error {
	if err := h.rt.LoadPackage(pkg.StorageID, pkg.RuntimeID, pkg.Modules); err != nil {
		return fmt.Errorf("vm: load package %s: %w", pkg.StorageID, err)
	}
	if err := h.rt.SetLinkage(pkg.StorageID, pkg.Linkage); err != nil {
		return fmt.Errorf("vm: set linkage for %s: %w", pkg.StorageID, err)
	}
	return nil
}

// LoadFramework installs the embedded 0x1/0x2/0x3 framework bundles.
func (h *Harness) LoadFramework() error {
	for _, id := range []address.Address{address.Framework0x1, address.Framework0x2, address.Framework0x3} {
		if err := h.rt.LoadFrameworkPackage(id); err != nil {
			return fmt.Errorf("vm: load framework %s: %w", id, err)
		}
	}
	return nil
}

// AddAddressAlias makes future lookups at storage resolve to the modules
// loaded at runtime.
func (h *Harness) AddAddressAlias(storage, runtime address.Address) error {
	return h.rt.SetAddressAlias(storage, runtime)
}

// AddInputObject pre-loads one input object's bytes.
func (h *Harness) AddInputObject(obj *domain.Object) error {
	return h.rt.StageInputObject(obj.ID, obj.Version, obj.Owner, obj.Bytes)
}

// SetChildFetcher installs the dynamic-field child resolver.
func (h *Harness) SetChildFetcher(fn ChildFetcherFunc) {
	h.rt.SetChildFetcher(fn)
}

// Configure transitions Idle -> Prepared once per-replay parameters are set.
func (h *Harness) Configure(cfg ExecConfig) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.rt.Configure(cfg); err != nil {
		return err
	}
	h.state = StatePrepared
	return nil
}

// ExecuteCommands drives the VM through cmds, transitioning
// Prepared -> Executing -> {Done, Failed}. A failed command short-circuits
// subsequent commands at the MoveRuntime level; the Harness only records the
// terminal state here.
func (h *Harness) ExecuteCommands(ctx context.Context, cmds []domain.Command) (domain.Effects, error) {
	h.mu.Lock()
	if h.state != StatePrepared {
		state := h.state
		h.mu.Unlock()
		return domain.Effects{}, fmt.Errorf("vm: harness not prepared (state=%s)", state)
	}
	h.state = StateExecuting
	h.mu.Unlock()

	effects, err := h.rt.ExecuteCommands(ctx, cmds)

	h.mu.Lock()
	defer h.mu.Unlock()
	if err != nil {
		h.state = StateFailed
		h.failedReason = err.Error()
		return effects, err
	}
	if effects.Status.Success {
		h.state = StateDone
		return effects, nil
	}
	h.state = StateFailed
	if effects.Status.Failure != nil {
		h.failedIndex = effects.Status.Failure.CommandIndex
		h.failedReason = effects.Status.Failure.Message
	}
	return effects, nil
}
