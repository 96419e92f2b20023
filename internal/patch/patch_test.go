package patch

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sui-sandbox/replay/internal/address"
	"github.com/sui-sandbox/replay/internal/domain"
)

func TestManualOverrideAppliesAndIsIdempotent(t *testing.T) {
	p := New(ModeWarnAndSkip)
	id := address.MustParse("0x1")
	p.RegisterManualOverride(id, "", []domain.Rewrite{
		{Offset: domain.RewriteOffset{N: 0}, Bytes: []byte{0xff}},
	})

	obj := &domain.Object{ID: id, TypeTag: "0x2::foo::Bar", Bytes: []byte{0x00, 0x01, 0x02}}
	out1, applied, err := p.Patch(obj)
	require.NoError(t, err)
	require.True(t, applied)
	require.Equal(t, []byte{0xff, 0x01, 0x02}, out1)

	obj2 := &domain.Object{ID: id, TypeTag: "0x2::foo::Bar", Bytes: out1}
	out2, applied2, err := p.Patch(obj2)
	require.NoError(t, err)
	require.True(t, applied2)
	require.Equal(t, out1, out2, "patching twice must be idempotent")
}

func TestWellKnownTablePreservesLength(t *testing.T) {
	p := New(ModeWarnAndSkip)
	p.RegisterWellKnown("GlobalConfig", FieldPosition{FromEnd: true, N: 8}, 8, 3)

	bytes := make([]byte, 40)
	for i := range bytes {
		bytes[i] = byte(i)
	}
	obj := &domain.Object{ID: address.MustParse("0x2"), TypeTag: "0x7::cfg::GlobalConfig", Bytes: bytes}

	out, applied, err := p.Patch(obj)
	require.NoError(t, err)
	require.True(t, applied)
	require.Len(t, out, len(bytes), "every layer must preserve BCS length")
}

func TestStructBasedPatchPreferredOverWellKnownWhenVersionDetected(t *testing.T) {
	p := New(ModeWarnAndSkip)
	pkg := address.MustParse("0x9")
	p.RecordDetectedVersion(pkg, 3)
	p.RegisterWellKnown("Config", FieldPosition{FromEnd: true, N: 8}, 8, 99)

	bytes := make([]byte, 16)
	obj := &domain.Object{ID: address.MustParse("0xaa"), TypeTag: "0x9::mod::Config", Bytes: bytes}

	out, applied, err := p.Patch(obj)
	require.NoError(t, err)
	require.True(t, applied)
	require.Equal(t, uint64(3), leUint64(out[len(out)-8:]), "struct-based layer must win over well-known table")
}

func TestNoOpWhenBCSShorterThanFromEndOffset(t *testing.T) {
	p := New(ModeWarnAndSkip)
	p.RegisterWellKnown("GlobalConfig", FieldPosition{FromEnd: true, N: 100}, 8, 1)

	obj := &domain.Object{ID: address.MustParse("0x3"), TypeTag: "0x7::cfg::GlobalConfig", Bytes: []byte{1, 2, 3}}
	out, applied, err := p.Patch(obj)
	require.NoError(t, err)
	require.False(t, applied)
	require.Equal(t, obj.Bytes, out)
}

func TestRawPatternAppliesOnSubstringMatch(t *testing.T) {
	p := New(ModeWarnAndSkip)
	p.RegisterRawPattern("my_module::Thing", []domain.Rewrite{
		{Offset: domain.RewriteOffset{N: 1}, Bytes: []byte{0x42}},
	})
	obj := &domain.Object{ID: address.MustParse("0x4"), TypeTag: "0xabc::my_module::Thing", Bytes: []byte{0, 0, 0}}
	out, applied, err := p.Patch(obj)
	require.NoError(t, err)
	require.True(t, applied)
	require.Equal(t, []byte{0, 0x42, 0}, out)
}

func TestErrorModeReturnsPatchSkippedForUnhandledWarnWorthyType(t *testing.T) {
	p := New(ModeError)
	obj := &domain.Object{ID: address.MustParse("0x5"), TypeTag: "0xabc::cfg::VersionRegistry", Bytes: []byte{1, 2, 3}}
	_, applied, err := p.Patch(obj)
	require.False(t, applied)
	require.Error(t, err)
	var skipped *PatchSkipped
	require.ErrorAs(t, err, &skipped)
}

func TestSilentNoOpForNonVersionGatedType(t *testing.T) {
	p := New(ModeError)
	obj := &domain.Object{ID: address.MustParse("0x6"), TypeTag: "0xabc::coin::Coin", Bytes: []byte{1, 2, 3}}
	_, applied, err := p.Patch(obj)
	require.False(t, applied)
	require.NoError(t, err, "non-version-gated types must not error even in ModeError")
}

func leUint64(b []byte) uint64 {
	var v uint64
	for i := 0; i < 8 && i < len(b); i++ {
		v |= uint64(b[i]) << (8 * i)
	}
	return v
}
