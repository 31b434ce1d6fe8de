package textutil

import "testing"

func TestFoldKeyCollapsesWhitespace(t *testing.T) {
	if got := FoldKey("  VIP   Members "); got != "vip members" {
		t.Fatalf("expected folded key 'vip members', got %q", got)
	}
}

func TestEqualFold(t *testing.T) {
	cases := []struct {
		a, b  string
		equal bool
	}{
		{"VIP", "vip", true},
		{"Großhandel", "GROSSHANDEL", true},
		{" wholesale ", "Wholesale", true},
		{"vip", "vip2", false},
	}
	for _, tc := range cases {
		if got := EqualFold(tc.a, tc.b); got != tc.equal {
			t.Fatalf("EqualFold(%q, %q) = %v, want %v", tc.a, tc.b, got, tc.equal)
		}
	}
}
