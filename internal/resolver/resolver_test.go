package resolver

import (
	"context"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/sui-sandbox/replay/internal/address"
	"github.com/sui-sandbox/replay/internal/domain"
	"github.com/sui-sandbox/replay/internal/store"
	"github.com/sui-sandbox/replay/internal/transport"
)

func newFixture(t *testing.T) (*store.Store, *transport.MockBackend) {
	t.Helper()
	st, err := store.New(afero.NewMemMapFs(), "/cache", 16)
	require.NoError(t, err)
	return st, transport.NewMockBackend()
}

func TestResolveSinglePackageNoDeps(t *testing.T) {
	st, mock := newFixture(t)
	pkg := address.MustParse("0xaaa")
	mock.PutObject(pkg, 0, &transport.FetchedObject{
		PackageModules:   []domain.Module{{Name: "m", Bytes: []byte("bytecode")}},
		PackageLinkage:   map[address.Address]address.Address{},
		PackageRuntimeID: pkg,
		Version:          1,
	})

	r := New(st, mock)
	res, err := r.Resolve(context.Background(), []address.Address{pkg}, nil, 100, Options{})
	require.NoError(t, err)
	require.Contains(t, res.Packages, pkg)
	require.Equal(t, uint64(1), res.PackageVersions[pkg])
}

func TestResolveSkipsFrameworkAddresses(t *testing.T) {
	st, mock := newFixture(t)
	r := New(st, mock)
	res, err := r.Resolve(context.Background(), []address.Address{address.Framework0x2}, nil, 100, Options{})
	require.NoError(t, err)
	require.Empty(t, res.Packages)
	require.Empty(t, res.Failed)
}

func TestResolveFollowsLinkageUpgrades(t *testing.T) {
	st, mock := newFixture(t)
	caller := address.MustParse("0x10")
	depOriginal := address.MustParse("0x20")
	depStorage := address.MustParse("0x21")

	mock.PutObject(caller, 0, &transport.FetchedObject{
		PackageModules:   []domain.Module{{Name: "caller", Bytes: []byte("x")}},
		PackageLinkage:   map[address.Address]address.Address{depOriginal: depStorage},
		PackageRuntimeID: caller,
		Version:          1,
	})
	mock.PutObject(depStorage, 0, &transport.FetchedObject{
		PackageModules:   []domain.Module{{Name: "dep", Bytes: []byte("y")}},
		PackageLinkage:   map[address.Address]address.Address{},
		PackageRuntimeID: depOriginal,
		Version:          2,
	})

	r := New(st, mock)
	res, err := r.Resolve(context.Background(), []address.Address{caller}, nil, 100, Options{})
	require.NoError(t, err)
	require.Contains(t, res.Packages, caller)
	require.Contains(t, res.Packages, depStorage)
	require.Equal(t, depStorage, res.LinkageUpgrades[depOriginal])
}

func TestResolveLinkageTieBreakKeepsBothStorageAddresses(t *testing.T) {
	st, mock := newFixture(t)
	callerA := address.MustParse("0x100")
	callerB := address.MustParse("0x101")
	depOriginal := address.MustParse("0x200")
	storageA := address.MustParse("0x201")
	storageB := address.MustParse("0x202")

	mock.PutObject(callerA, 0, &transport.FetchedObject{
		PackageModules:   []domain.Module{{Name: "a", Bytes: []byte("a")}},
		PackageLinkage:   map[address.Address]address.Address{depOriginal: storageA},
		PackageRuntimeID: callerA,
		Version:          1,
	})
	mock.PutObject(callerB, 0, &transport.FetchedObject{
		PackageModules:   []domain.Module{{Name: "b", Bytes: []byte("b")}},
		PackageLinkage:   map[address.Address]address.Address{depOriginal: storageB},
		PackageRuntimeID: callerB,
		Version:          1,
	})
	mock.PutObject(storageA, 0, &transport.FetchedObject{
		PackageModules:   []domain.Module{{Name: "dep", Bytes: []byte("1")}},
		PackageLinkage:   map[address.Address]address.Address{},
		PackageRuntimeID: depOriginal,
		Version:          1,
	})
	mock.PutObject(storageB, 0, &transport.FetchedObject{
		PackageModules:   []domain.Module{{Name: "dep", Bytes: []byte("2")}},
		PackageLinkage:   map[address.Address]address.Address{},
		PackageRuntimeID: depOriginal,
		Version:          2,
	})

	r := New(st, mock)
	res, err := r.Resolve(context.Background(), []address.Address{callerA, callerB}, nil, 100, Options{})
	require.NoError(t, err)
	require.Contains(t, res.Packages, storageA)
	require.Contains(t, res.Packages, storageB)
}

func TestResolveUnresolvedRootFailsWithoutFallback(t *testing.T) {
	st, mock := newFixture(t)
	missing := address.MustParse("0xdead")

	r := New(st, mock)
	_, err := r.Resolve(context.Background(), []address.Address{missing}, nil, 100, Options{AllowFallback: false})
	require.Error(t, err)
	var incomplete *ResolutionIncomplete
	require.ErrorAs(t, err, &incomplete)
	require.Contains(t, incomplete.Unresolved, missing)
}

func TestResolveUnresolvedRootToleratedWithFallback(t *testing.T) {
	st, mock := newFixture(t)
	missing := address.MustParse("0xdead")

	r := New(st, mock)
	res, err := r.Resolve(context.Background(), []address.Address{missing}, nil, 100, Options{AllowFallback: true})
	require.NoError(t, err)
	require.Empty(t, res.Packages)
}

func TestResolveExtractsRootsFromTypeTags(t *testing.T) {
	st, mock := newFixture(t)
	pkg := address.MustParse("0x2")
	_ = pkg // framework, skipped
	otherPkg := address.MustParse("0x3abc")
	mock.PutObject(otherPkg, 0, &transport.FetchedObject{
		PackageModules:   []domain.Module{{Name: "m", Bytes: []byte("x")}},
		PackageLinkage:   map[address.Address]address.Address{},
		PackageRuntimeID: otherPkg,
		Version:          1,
	})

	r := New(st, mock)
	res, err := r.Resolve(context.Background(), nil, []string{"0x2::coin::Coin<0x3abc::my_module::Thing>"}, 100, Options{})
	require.NoError(t, err)
	require.Contains(t, res.Packages, otherPkg)
	require.NotContains(t, res.Packages, address.Framework0x2)
}
