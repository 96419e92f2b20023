package replay

import (
	"context"

	"github.com/sui-sandbox/replay/internal/address"
	"github.com/sui-sandbox/replay/internal/domain"
	"github.com/sui-sandbox/replay/internal/store"
	"github.com/sui-sandbox/replay/internal/transport"
	"github.com/sui-sandbox/replay/internal/vm"
)

// NewChildFetcher builds the callback the VM Harness installs for dynamic-
// field children that were not pre-staged. Per §9's cyclic-ownership design
// note, it consults, in order: the already-hydrated ReplayState arena, the
// persistent Store, then the Transport — and never re-enters the VM. It
// captures the transport and store by ordinary Go reference (the
// spec's "weak reference" framing has no direct Go analogue without
// introducing a GC-unsafe pattern; ownership is instead scoped by the
// Orchestrator never holding a reference back to the Harness) and the
// ReplayState's historical-versions map by shared immutable ownership,
// since ReplayState is never mutated after construction.
func NewChildFetcher(ctx context.Context, state *domain.ReplayState, st *store.Store, tp transport.Backend) vm.ChildFetcherFunc {
	return func(parent, child address.Address) (string, []byte, bool) {
		if obj, ok := state.Objects[child]; ok {
			return obj.TypeTag, obj.Bytes, true
		}

		var versionPtr *domain.ObjectVersion
		if v, ok := state.HistoricalVersions[child]; ok {
			versionPtr = &v
			if data, meta, found, err := st.GetObject(child, v); err == nil && found {
				return meta.TypeTag, data, true
			}
		}

		fetched, err := tp.FetchObject(ctx, child, versionPtr)
		if err != nil {
			return "", nil, false
		}

		_ = st.PutObject(child, fetched.Version, fetched.Bytes, store.ObjectMeta{
			TypeTag:          fetched.TypeTag,
			Owner:            fetched.Owner,
			SharedInitialVer: fetched.SharedInitialVer,
		})

		entry := store.DynamicFieldEntry{
			Parent: parent, Child: child, Version: fetched.Version, TypeTag: fetched.TypeTag,
		}
		_ = st.RecordDynamicField(entry)

		return fetched.TypeTag, fetched.Bytes, true
	}
}
