// Package transport implements the Transport Layer: a uniform fetch
// abstraction over an RPC/gRPC backend and a Walrus blob archive backend,
// plus Mock and Noop variants for testing. The Backend interface mirrors
// the trait-shaped abstraction in the original Rust fetcher (see
// DESIGN.md), adapted to Go's interface + constructor idiom.
package transport

import (
	"context"
	"fmt"

	"github.com/sui-sandbox/replay/internal/address"
	"github.com/sui-sandbox/replay/internal/domain"
)

// ErrorKind enumerates the closed error taxonomy C2 surfaces.
type ErrorKind string

const (
	ErrNotFound      ErrorKind = "NotFound"
	ErrNetworkTimeout ErrorKind = "NetworkTimeout"
	ErrUnauthorized  ErrorKind = "Unauthorized"
	ErrMalformed     ErrorKind = "Malformed"
	ErrDisabled      ErrorKind = "Disabled"
)

// Error is the structured error every Backend returns on failure.
type Error struct {
	Kind     ErrorKind
	SourceID string
	Message  string
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("transport[%s]: %s (%s)", e.Kind, e.Message, e.SourceID)
	}
	return fmt.Sprintf("transport[%s]: %s", e.Kind, e.SourceID)
}

// FetchedObject is what fetch_object returns: object bytes plus, when the
// fetched id is a package, its modules and linkage.
type FetchedObject struct {
	Bytes            []byte
	TypeTag          string
	Owner            domain.Ownership
	SharedInitialVer domain.ObjectVersion
	Version          domain.ObjectVersion
	PackageModules   []domain.Module
	PackageLinkage   map[address.Address]address.Address
	PackageRuntimeID address.Address
}

// Checkpoint is the set of transactions and objects committed at one
// sequence number.
type Checkpoint struct {
	Sequence     uint64
	Epoch        uint64
	Transactions []string // digests
	Objects      []address.Address
}

// Epoch carries protocol metadata for one epoch.
type Epoch struct {
	Epoch             uint64
	ProtocolVersion   uint64
	ReferenceGasPrice uint64
}

// ObjectVersionRequest is one item of a batched fetch.
type ObjectVersionRequest struct {
	ID      address.Address
	Version *domain.ObjectVersion // nil means "latest"
}

// ObjectFetchResult is one item of a batched fetch's result, preserving
// input order; failures are per-item, not per-batch.
type ObjectFetchResult struct {
	Request ObjectVersionRequest
	Object  *FetchedObject
	Err     error
}

// Backend is the capability set every transport implementation exposes.
type Backend interface {
	FetchObject(ctx context.Context, id address.Address, version *domain.ObjectVersion) (*FetchedObject, error)
	FetchPackageModulesAtCheckpoint(ctx context.Context, pkg address.Address, checkpoint uint64) ([]domain.Module, error)
	FetchTransaction(ctx context.Context, digest string) (*domain.Transaction, error)
	FetchCheckpoint(ctx context.Context, seq uint64) (*Checkpoint, error)
	FetchEpoch(ctx context.Context, epoch *uint64) (*Epoch, error)
	BatchFetchObjectsAtVersions(ctx context.Context, reqs []ObjectVersionRequest, concurrency int) []ObjectFetchResult

	// SubscribeCheckpoints opens the lazy infinite sequence of checkpoints
	// described in spec §4.2, starting at fromSeq (inclusive). The returned
	// channel is closed, and the error channel receives exactly one value,
	// when the subscription ends — either because ctx was canceled or
	// because the backend hit an unrecoverable error. Callers must drain
	// both channels until the checkpoint channel closes.
	SubscribeCheckpoints(ctx context.Context, fromSeq uint64) (<-chan *Checkpoint, <-chan error)
}

// BatchFetchObjectsAtVersions is a shared helper backends can delegate to:
// it fans out to FetchObject with a bounded worker pool, preserving input
// order in the result slice regardless of completion order. This mirrors
// erigon's explicit channel-based concurrency limiting (no generic pool
// library) rather than reaching for a goroutine-pool dependency.
func BatchFetchObjectsAtVersions(ctx context.Context, b Backend, reqs []ObjectVersionRequest, concurrency int) []ObjectFetchResult {
	if concurrency <= 0 {
		concurrency = 16
	}
	results := make([]ObjectFetchResult, len(reqs))
	sem := make(chan struct{}, concurrency)
	done := make(chan int, len(reqs))

	for i, req := range reqs {
		sem <- struct{}{}
		go func(i int, req ObjectVersionRequest) {
			defer func() { <-sem; done <- i }()
			obj, err := b.FetchObject(ctx, req.ID, req.Version)
			results[i] = ObjectFetchResult{Request: req, Object: obj, Err: err}
		}(i, req)
	}
	for range reqs {
		<-done
	}
	return results
}
