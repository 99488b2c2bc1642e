package database

import "testing"

// TestRandomBase62String checks length and alphabet so minted codes
// always survive isBase62 validation on the way back in.
func TestRandomBase62String(t *testing.T) {
	for _, length := range []int{1, 8, 16} {
		code, err := randomBase62String(length)
		if err != nil {
			t.Fatalf("randomBase62String(%d): %v", length, err)
		}
		if len(code) != length {
			t.Fatalf("len = %d, want %d", len(code), length)
		}
		if !isBase62(code) {
			t.Fatalf("generated code %q fails isBase62", code)
		}
	}

	// Zero and negative lengths fall back to the default.
	code, err := randomBase62String(0)
	if err != nil {
		t.Fatalf("randomBase62String(0): %v", err)
	}
	if len(code) != defaultShortCodeLength {
		t.Fatalf("default length = %d, want %d", len(code), defaultShortCodeLength)
	}
}

func TestIsBase62(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"abcXYZ019", true},
		{"", false},
		{"has space", false},
		{"under_score", false},
		{"Ünicode", false},
	}
	for _, tc := range tests {
		if got := isBase62(tc.in); got != tc.want {
			t.Errorf("isBase62(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}
