package transport

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/sui-sandbox/replay/internal/address"
	"github.com/sui-sandbox/replay/internal/domain"
)

// objectKey identifies a programmed fixture: an id, plus a version (0
// meaning "the latest registered version for this id").
type objectKey struct {
	id      address.Address
	version domain.ObjectVersion
}

// MockBackend is a programmable map of (id[, version]) -> FetchedObject,
// for fault-injection and fixture-driven tests.
type MockBackend struct {
	mu sync.Mutex

	objects      map[objectKey]*FetchedObject
	latestByID   map[address.Address]domain.ObjectVersion
	transactions map[string]*domain.Transaction
	checkpoints  map[uint64]*Checkpoint
	epochs       map[uint64]*Epoch

	// ForcedErr, when non-nil, is returned by every call regardless of
	// programmed fixtures, for fault-injection tests.
	ForcedErr error
}

// NewMockBackend returns an empty programmable backend.
func NewMockBackend() *MockBackend {
	return &MockBackend{
		objects:      map[objectKey]*FetchedObject{},
		latestByID:   map[address.Address]domain.ObjectVersion{},
		transactions: map[string]*domain.Transaction{},
		checkpoints:  map[uint64]*Checkpoint{},
		epochs:       map[uint64]*Epoch{},
	}
}

// PutObject registers a fixture for (id, version), and tracks it as the
// latest if it exceeds any previously registered version for id.
func (m *MockBackend) PutObject(id address.Address, version domain.ObjectVersion, obj *FetchedObject) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[objectKey{id, version}] = obj
	if version >= m.latestByID[id] {
		m.latestByID[id] = version
	}
}

// PutTransaction registers a fixture transaction.
func (m *MockBackend) PutTransaction(tx *domain.Transaction) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transactions[tx.Digest] = tx
}

// PutCheckpoint registers a fixture checkpoint.
func (m *MockBackend) PutCheckpoint(cp *Checkpoint) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkpoints[cp.Sequence] = cp
}

// PutEpoch registers a fixture epoch.
func (m *MockBackend) PutEpoch(e *Epoch) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.epochs[e.Epoch] = e
}

var _ Backend = (*MockBackend)(nil)

func (m *MockBackend) FetchObject(_ context.Context, id address.Address, version *domain.ObjectVersion) (*FetchedObject, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ForcedErr != nil {
		return nil, m.ForcedErr
	}
	v := domain.ObjectVersion(0)
	if version != nil {
		v = *version
	} else {
		v = m.latestByID[id]
	}
	obj, ok := m.objects[objectKey{id, v}]
	if !ok {
		return nil, &Error{Kind: ErrNotFound, SourceID: "mock", Message: fmt.Sprintf("no fixture for %s@%d", id, v)}
	}
	return obj, nil
}

func (m *MockBackend) FetchPackageModulesAtCheckpoint(ctx context.Context, pkg address.Address, _ uint64) ([]domain.Module, error) {
	obj, err := m.FetchObject(ctx, pkg, nil)
	if err != nil {
		return nil, err
	}
	return obj.PackageModules, nil
}

func (m *MockBackend) FetchTransaction(_ context.Context, digest string) (*domain.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ForcedErr != nil {
		return nil, m.ForcedErr
	}
	tx, ok := m.transactions[digest]
	if !ok {
		return nil, &Error{Kind: ErrNotFound, SourceID: "mock", Message: "no fixture for digest " + digest}
	}
	return tx, nil
}

func (m *MockBackend) FetchCheckpoint(_ context.Context, seq uint64) (*Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ForcedErr != nil {
		return nil, m.ForcedErr
	}
	cp, ok := m.checkpoints[seq]
	if !ok {
		return nil, &Error{Kind: ErrNotFound, SourceID: "mock"}
	}
	return cp, nil
}

func (m *MockBackend) FetchEpoch(_ context.Context, epoch *uint64) (*Epoch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ForcedErr != nil {
		return nil, m.ForcedErr
	}
	if epoch == nil {
		for _, e := range m.epochs {
			return e, nil
		}
		return nil, &Error{Kind: ErrNotFound, SourceID: "mock"}
	}
	e, ok := m.epochs[*epoch]
	if !ok {
		return nil, &Error{Kind: ErrNotFound, SourceID: "mock"}
	}
	return e, nil
}

func (m *MockBackend) BatchFetchObjectsAtVersions(ctx context.Context, reqs []ObjectVersionRequest, concurrency int) []ObjectFetchResult {
	return BatchFetchObjectsAtVersions(ctx, m, reqs, concurrency)
}

// SubscribeCheckpoints streams every registered checkpoint fixture at or
// after fromSeq, in sequence order, then blocks (as a real subscription
// would between new arrivals) until ctx is canceled. PutCheckpoint calls
// made after the subscription starts are not observed — fixtures must be
// registered before subscribing, matching this mock's snapshot-style
// programming model used elsewhere in the file.
func (m *MockBackend) SubscribeCheckpoints(ctx context.Context, fromSeq uint64) (<-chan *Checkpoint, <-chan error) {
	out := make(chan *Checkpoint)
	errc := make(chan error, 1)

	m.mu.Lock()
	forced := m.ForcedErr
	seqs := make([]uint64, 0, len(m.checkpoints))
	for seq := range m.checkpoints {
		if seq >= fromSeq {
			seqs = append(seqs, seq)
		}
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	cps := make([]*Checkpoint, len(seqs))
	for i, seq := range seqs {
		cps[i] = m.checkpoints[seq]
	}
	m.mu.Unlock()

	go func() {
		defer close(out)
		if forced != nil {
			errc <- forced
			return
		}
		for _, cp := range cps {
			select {
			case out <- cp:
			case <-ctx.Done():
				errc <- ctx.Err()
				return
			}
		}
		<-ctx.Done()
		errc <- ctx.Err()
	}()

	return out, errc
}
