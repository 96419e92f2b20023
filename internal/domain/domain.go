// Package domain holds the data model shared across every pipeline stage:
// objects, packages, transactions, the hydrated ReplayState, dynamic-field
// entries, patching plans, and execution effects. Nothing in this package
// performs I/O; it is pure data plus the small amount of derived logic
// (ownership classification, PTB command shape) that every consumer needs
// identically.
package domain

import "github.com/sui-sandbox/replay/internal/address"

// Ownership enumerates how an object is owned.
type Ownership string

const (
	OwnershipAddress          Ownership = "address-owned"
	OwnershipObject           Ownership = "object-owned"
	OwnershipShared           Ownership = "shared"
	OwnershipImmutable        Ownership = "immutable"
	OwnershipConsensusAddress Ownership = "consensus-address-owned"
)

// ObjectVersion is a monotonically increasing per-object version counter.
type ObjectVersion = uint64

// Object is one immutable snapshot of on-chain object state.
type Object struct {
	ID               address.Address
	Version          ObjectVersion
	TypeTag          string
	Bytes            []byte
	Owner            Ownership
	SharedInitialVer ObjectVersion
	SourceCheckpoint *uint64
}

// Module is one named bytecode unit inside a package.
type Module struct {
	Name  string
	Bytes []byte
}

// Package is one exact version of a published Move package.
type Package struct {
	// StorageID is where this version's bytes physically live.
	StorageID address.Address
	// RuntimeID is the self_id encoded in the bytecode; stable across
	// upgrades of the same package.
	RuntimeID address.Address
	Version   uint64
	Modules   []Module
	// Linkage maps original (runtime) address -> upgraded storage address
	// this package was compiled against, for each of its dependencies.
	Linkage map[address.Address]address.Address
}

// ModuleByName returns the named module's bytecode, if present.
func (p *Package) ModuleByName(name string) ([]byte, bool) {
	for _, m := range p.Modules {
		if m.Name == name {
			return m.Bytes, true
		}
	}
	return nil, false
}

// InputKind distinguishes a PTB input: a pure byte value, or an object
// reference (by id, optionally pinned to a version).
type InputKind int

const (
	InputPure InputKind = iota
	InputObject
)

// Input is one entry of a transaction's ordered input list.
type Input struct {
	Kind InputKind
	// Pure holds the raw BCS bytes when Kind == InputPure.
	Pure []byte
	// ObjectID and VersionHint apply when Kind == InputObject. VersionHint
	// is nil when the input did not carry an explicit version (e.g. a
	// shared object reference resolved by consensus).
	ObjectID    address.Address
	VersionHint *ObjectVersion
}

// CommandKind enumerates the PTB command grammar.
type CommandKind int

const (
	CommandMoveCall CommandKind = iota
	CommandSplitCoins
	CommandMergeCoins
	CommandTransferObjects
	CommandMakeMoveVec
	CommandPublish
	CommandUpgrade
)

// Argument references an input, a previous command's result (optionally a
// nested tuple element), or the implicit gas coin.
type Argument struct {
	// Exactly one of the following selectors applies.
	IsGasCoin    bool
	InputIndex   *int
	ResultIndex  *int
	NestedResult *int // valid only when ResultIndex is set
}

// Command is one PTB command.
type Command struct {
	Kind CommandKind

	// MoveCall fields.
	Package  address.Address
	Module   string
	Function string
	TypeArgs []string

	Args []Argument

	// Publish/Upgrade fields.
	PublishModules []Module
	PublishDeps    []address.Address
	UpgradePackage address.Address
}

// GasData carries the transaction's gas parameters.
type GasData struct {
	Budget  uint64
	Price   uint64
	Payment []ObjectRef
}

// ObjectRef pins an object id to a specific version (and optionally a
// digest, omitted here since replay does not need to re-verify it).
type ObjectRef struct {
	ID      address.Address
	Version ObjectVersion
}

// Transaction is the immutable, once-fetched transaction under replay.
type Transaction struct {
	Digest      string // base58 textual digest
	Sender      address.Address
	Gas         GasData
	Inputs      []Input
	Commands    []Command
	Epoch       uint64
	Checkpoint  uint64
	TimestampMs uint64

	// OnChainEffects, if the transport could supply it, is used for
	// comparison in the orchestrator's Compare step.
	OnChainEffects *Effects
}

// DynamicFieldEntry records one parent-owned child object.
type DynamicFieldEntry struct {
	Parent           address.Address
	Child            address.Address
	Version          ObjectVersion
	TypeTag          string
	SourceCheckpoint *uint64
}

// ReplayState is the hydrated snapshot consumed by the VM harness and
// orchestrator. It is constructed once by the Hydrator and never mutated
// after construction.
type ReplayState struct {
	Packages          map[address.Address]*Package
	Objects           map[address.Address]*Object
	Transaction       *Transaction
	Epoch             uint64
	ProtocolVersion   uint64
	Checkpoint        uint64
	ReferenceGasPrice uint64
	// HistoricalVersions is authoritative: the version-at-this-tx for
	// every object touched, independent of whether it was successfully
	// fetched into Objects.
	HistoricalVersions map[address.Address]ObjectVersion

	// Diagnostics accumulated during hydration; non-fatal.
	MissingInputObjects []address.Address
	MissingPackages     []address.Address
}

// RewriteOffset expresses a patch byte offset, either from the start or
// from the end of the object's BCS bytes (resolved using the BCS length at
// patch time).
type RewriteOffset struct {
	FromEnd bool
	N       int
}

// Rewrite is one (offset, bytes) patch.
type Rewrite struct {
	Offset RewriteOffset
	Bytes  []byte
}

// PatchingPlan is the set of rewrites to apply to one object's BCS.
type PatchingPlan struct {
	Rewrites []Rewrite
}

// ExecutionErrorKind enumerates VM-originated failure kinds.
type ExecutionErrorKind int

const (
	ExecAbort ExecutionErrorKind = iota
	ExecVerifier
	ExecLinker
	ExecTypeMismatch
	ExecOutOfGas
	ExecMissingObject
	ExecOther
)

// ExecutionError describes a per-command VM failure. It is reported as
// data, never thrown.
type ExecutionError struct {
	CommandIndex int
	Kind         ExecutionErrorKind
	AbortCode    *uint64
	Module       string
	Function     string
	Message      string
}

// Status is the terminal outcome of executing a PTB.
type Status struct {
	Success bool
	Failure *ExecutionError
}

// Effects is the VM's output for one transaction.
type Effects struct {
	Status              Status
	Created             []address.Address
	Mutated             []address.Address
	Deleted             []address.Address
	ReturnValues        [][]byte
	GasUsed             uint64
	Events              []Event
	NewDynamicFields    []DynamicFieldEntry
	UnchangedLoadedRuntimeObjects []ObjectRef
	UnchangedConsensusObjects     []ObjectRef
	ChangedObjects                []ObjectRef

	// OutputObjects carries the full post-execution state (bytes, version,
	// owner) for every id in Created or Mutated, keyed by id. The orchestrator
	// writes these back into the shared object store immediately after a
	// successful execution, so a later transaction replayed against the same
	// checkpoint observes this transaction's output rather than its stale
	// pre-execution input version.
	OutputObjects map[address.Address]*Object
}

// Event is one Move event emitted during execution.
type Event struct {
	Type string
	Data []byte
}
