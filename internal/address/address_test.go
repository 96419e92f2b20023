package address

import "testing"

func TestParseRejectsOverlongHex(t *testing.T) {
	_, err := Parse("0x" + string(make([]byte, Length*2+2)))
	if err == nil {
		t.Fatal("expected error for overlong hex string")
	}
}

func TestParseRoundTrip(t *testing.T) {
	cases := []string{"0x6", "6", "0x2", "0x0000000000000000000000000000000000000000000000000000000000000002"}
	for _, c := range cases {
		a, err := Parse(c)
		if err != nil {
			t.Fatalf("parse %q: %v", c, err)
		}
		if a != Framework0x2 && c != "0x6" && c != "6" {
			t.Fatalf("expected 0x2 for %q, got %s", c, a)
		}
	}

	a1, _ := Parse("0x6")
	a2, _ := Parse("0x0000000000000000000000000000000000000000000000000000000000000006")
	if a1 != a2 {
		t.Fatalf("expected equal addresses, got %s vs %s", a1, a2)
	}
}

func TestIsFramework(t *testing.T) {
	if !Framework0x1.IsFramework() || !Framework0x2.IsFramework() || !Framework0x3.IsFramework() {
		t.Fatal("expected framework addresses to report IsFramework")
	}
	other := MustParse("0x99")
	if other.IsFramework() {
		t.Fatal("expected non-framework address")
	}
}

func TestRootsFromTypeTag(t *testing.T) {
	tag := "0x2::coin::Coin<0x3abc::my_module::Thing>"
	roots := RootsFromTypeTag(tag)
	if len(roots) != 2 {
		t.Fatalf("expected 2 roots, got %d: %v", len(roots), roots)
	}
	want0 := MustParse("0x2")
	want1 := MustParse("0x3abc")
	if roots[0] != want0 || roots[1] != want1 {
		t.Fatalf("unexpected roots: %v", roots)
	}
}
