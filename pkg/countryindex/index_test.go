package countryindex

import "testing"

func TestNormalize(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"France", "france"},
		{"  República   Dominicana ", "republica dominicana"},
		{"CÔTE D'IVOIRE", "cote d'ivoire"},
		{"\tNew\n Zealand ", "new zealand"},
		{"   ", ""},
	}
	for _, tc := range tests {
		if got := Normalize(tc.in); got != tc.want {
			t.Errorf("Normalize(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func seeded() *Index {
	ix := New(2)
	ix.Add(Entry{Name: "France", ISO2: "FR", ISO3: "FRA", Lon: 2.2, Lat: 46.2})
	ix.Add(Entry{Name: "French Guiana", ISO2: "GF", Lon: -53.1, Lat: 3.9})
	ix.Add(Entry{Name: "Germany", ISO2: "DE", ISO3: "DEU", Lon: 10.4, Lat: 51.1})
	ix.Add(Entry{Name: "República Dominicana", ISO2: "DO", Lon: -70.1, Lat: 18.7})
	ix.Add(Entry{Name: "South Africa", ISO2: "ZA", Lon: 24.6, Lat: -28.4})
	ix.Seal()
	return ix
}

func TestLookupBeforeSeal(t *testing.T) {
	ix := New(1)
	ix.Add(Entry{Name: "France"})
	if _, _, err := ix.Lookup("France"); err != ErrNotReady {
		t.Fatalf("Lookup before Seal: err = %v, want ErrNotReady", err)
	}
}

func TestLookupForgivesAccentsAndSpacing(t *testing.T) {
	ix := seeded()
	e, ok, err := ix.Lookup("  republica   DOMINICANA ")
	if err != nil || !ok {
		t.Fatalf("Lookup = ok=%v err=%v, want a hit", ok, err)
	}
	if e.Name != "República Dominicana" || e.ISO2 != "DO" {
		t.Fatalf("Lookup returned %+v", e)
	}
}

// TestFirstWriteWins pins the duplicate rule: the entry that arrives
// first under a normalized key stays, later ones are dropped.
func TestFirstWriteWins(t *testing.T) {
	ix := New(1)
	ix.Add(Entry{Name: "France", ISO2: "FR", Lon: 2.2, Lat: 46.2})
	ix.Add(Entry{Name: "france", ISO2: "XX", Lon: 0, Lat: 0})
	ix.Seal()
	e, ok, err := ix.Lookup("France")
	if err != nil || !ok {
		t.Fatalf("Lookup = ok=%v err=%v", ok, err)
	}
	if e.ISO2 != "FR" {
		t.Fatalf("duplicate overwrote the first entry: %+v", e)
	}
	if ix.Len() != 1 {
		t.Fatalf("Len = %d, want 1", ix.Len())
	}
}

// TestSuggestOrdersPrefixFirst checks that prefix matches rank above
// substring matches and that the result never exceeds the limit or
// repeats a name.
func TestSuggestOrdersPrefixFirst(t *testing.T) {
	ix := seeded()
	got, err := ix.Suggest("fr", 5)
	if err != nil {
		t.Fatalf("Suggest: %v", err)
	}
	if len(got) < 2 || got[0] != "France" || got[1] != "French Guiana" {
		t.Fatalf("Suggest(fr) = %v, want France then French Guiana first", got)
	}
	seen := map[string]bool{}
	for _, name := range got {
		if seen[name] {
			t.Fatalf("Suggest returned duplicate %q", name)
		}
		seen[name] = true
	}
	if len(got) > 5 {
		t.Fatalf("Suggest returned %d names, limit 5", len(got))
	}
}

func TestSuggestSubstring(t *testing.T) {
	ix := seeded()
	got, err := ix.Suggest("africa", 5)
	if err != nil {
		t.Fatalf("Suggest: %v", err)
	}
	if len(got) == 0 || got[0] != "South Africa" {
		t.Fatalf("Suggest(africa) = %v, want South Africa", got)
	}
}

// TestSuggestFallback ensures a hopeless query still yields entries, so
// the page always has something to show the user.
func TestSuggestFallback(t *testing.T) {
	ix := seeded()
	got, err := ix.Suggest("zzzz", 3)
	if err != nil {
		t.Fatalf("Suggest: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("Suggest fallback = %v, want first 3 entries", got)
	}
	if got[0] != "France" {
		t.Fatalf("fallback not in insertion order: %v", got)
	}
}

func TestNamesSorted(t *testing.T) {
	ix := seeded()
	names, err := ix.Names()
	if err != nil {
		t.Fatalf("Names: %v", err)
	}
	if len(names) != 5 {
		t.Fatalf("Names len = %d, want 5", len(names))
	}
	for i := 1; i < len(names); i++ {
		if names[i-1] > names[i] {
			t.Fatalf("Names not sorted: %v", names)
		}
	}
}

func TestAddIgnoresBlankName(t *testing.T) {
	ix := New(1)
	ix.Add(Entry{Name: "   "})
	ix.Seal()
	if ix.Len() != 0 {
		t.Fatalf("blank name was indexed, Len = %d", ix.Len())
	}
}
