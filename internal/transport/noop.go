package transport

import (
	"context"

	"github.com/sui-sandbox/replay/internal/address"
	"github.com/sui-sandbox/replay/internal/domain"
)

// NoopBackend answers every call with Disabled. Useful as a safe default
// when no transport has been configured.
type NoopBackend struct{}

var _ Backend = NoopBackend{}

func disabledErr(sourceID string) error {
	return &Error{Kind: ErrDisabled, SourceID: sourceID, Message: "transport disabled"}
}

func (NoopBackend) FetchObject(context.Context, address.Address, *domain.ObjectVersion) (*FetchedObject, error) {
	return nil, disabledErr("noop")
}

func (NoopBackend) FetchPackageModulesAtCheckpoint(context.Context, address.Address, uint64) ([]domain.Module, error) {
	return nil, disabledErr("noop")
}

func (NoopBackend) FetchTransaction(context.Context, string) (*domain.Transaction, error) {
	return nil, disabledErr("noop")
}

func (NoopBackend) FetchCheckpoint(context.Context, uint64) (*Checkpoint, error) {
	return nil, disabledErr("noop")
}

func (NoopBackend) FetchEpoch(context.Context, *uint64) (*Epoch, error) {
	return nil, disabledErr("noop")
}

func (n NoopBackend) BatchFetchObjectsAtVersions(ctx context.Context, reqs []ObjectVersionRequest, concurrency int) []ObjectFetchResult {
	return BatchFetchObjectsAtVersions(ctx, n, reqs, concurrency)
}

func (NoopBackend) SubscribeCheckpoints(context.Context, uint64) (<-chan *Checkpoint, <-chan error) {
	return disabledSubscription("noop")
}

// disabledSubscription is the shared closed-channel shape every backend
// without real streaming support returns from SubscribeCheckpoints: an
// already-closed checkpoint channel and a single Disabled error.
func disabledSubscription(sourceID string) (<-chan *Checkpoint, <-chan error) {
	out := make(chan *Checkpoint)
	close(out)
	errc := make(chan error, 1)
	errc <- disabledErr(sourceID)
	return out, errc
}
