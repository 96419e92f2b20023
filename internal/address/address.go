// Package address implements canonical 32-byte address handling: parsing,
// zero-padded hex normalization, and extraction of package-id roots from
// fully qualified Move type-tag strings.
package address

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// Length is the byte length of every Address.
const Length = 32

// Address is a 32-byte identifier used for accounts, objects, and packages.
type Address [Length]byte

// Framework addresses are pre-loaded by the VM harness and never fetched
// over the transport layer.
var (
	Framework0x1 = mustParse("0x1")
	Framework0x2 = mustParse("0x2")
	Framework0x3 = mustParse("0x3")
)

// Canonical system object addresses, auto-included by the State Hydrator
// when its auto_system_objects policy flag is set.
var (
	SystemClock = mustParse("0x6")
	SystemState = mustParse("0x5")
)

func mustParse(s string) Address {
	a, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return a
}

// IsFramework reports whether a is one of the pre-loaded framework
// addresses (0x1, 0x2, 0x3).
func (a Address) IsFramework() bool {
	return a == Framework0x1 || a == Framework0x2 || a == Framework0x3
}

// Parse normalizes s (with or without a 0x prefix, with or without leading
// zero padding) into an Address. "0x6" and "0x0...06" parse identically.
func Parse(s string) (Address, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if s == "" {
		return Address{}, fmt.Errorf("address: empty string")
	}
	if len(s) > Length*2 {
		return Address{}, fmt.Errorf("address: %q exceeds %d hex chars", s, Length*2)
	}
	if len(s)%2 != 0 {
		s = "0" + s
	}
	padded := strings.Repeat("0", Length*2-len(s)) + s
	raw, err := hex.DecodeString(padded)
	if err != nil {
		return Address{}, fmt.Errorf("address: invalid hex %q: %w", s, err)
	}
	var a Address
	copy(a[:], raw)
	return a, nil
}

// MustParse parses s and panics on error. Intended for constants and tests.
func MustParse(s string) Address {
	a, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return a
}

// String renders the canonical "0x" + 64 lowercase hex characters form.
func (a Address) String() string {
	return "0x" + hex.EncodeToString(a[:])
}

// MarshalText implements encoding.TextMarshaler so Address can be used as a
// map key in encoding/json output.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// RootsFromTypeTag extracts every leading package address referenced inside
// a fully qualified type-tag string such as
// "0x2::coin::Coin<0x3abc::my_module::Thing>", including nested generics.
func RootsFromTypeTag(tag string) []Address {
	var roots []Address
	seen := map[Address]bool{}
	for _, segment := range splitTagSegments(tag) {
		addrPart, _, ok := strings.Cut(segment, "::")
		if !ok {
			continue
		}
		a, err := Parse(addrPart)
		if err != nil {
			continue
		}
		if !seen[a] {
			seen[a] = true
			roots = append(roots, a)
		}
	}
	return roots
}

// splitTagSegments splits a type-tag string on the characters that can
// precede an "addr::module::Name" segment: '<', ',', '>', and the start of
// string, returning only trimmed non-empty pieces that look like they begin
// with a hex address.
func splitTagSegments(tag string) []string {
	replacer := strings.NewReplacer("<", "\x00", ">", "\x00", ",", "\x00")
	parts := strings.Split(replacer.Replace(tag), "\x00")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
