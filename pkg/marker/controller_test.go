package marker

import (
	"context"
	"errors"
	"testing"
	"time"

	"globe-country-map/pkg/countryindex"
)

func testIndex() *countryindex.Index {
	ix := countryindex.New(1)
	ix.Add(countryindex.Entry{Name: "France", ISO2: "FR", ISO3: "FRA", Lon: 2.2, Lat: 46.2})
	ix.Add(countryindex.Entry{Name: "Germany", ISO2: "DE", ISO3: "DEU", Lon: 10.4, Lat: 51.1})
	ix.Seal()
	return ix
}

// TestReplaceKeepsSingleMarker places twice and checks that only the
// second marker remains visible.
func TestReplaceKeepsSingleMarker(t *testing.T) {
	c := New(testIndex())
	if _, ok := c.Current(); ok {
		t.Fatal("fresh controller already has a marker")
	}
	c.PlaceAt(2.2, 46.2, "France", "ISO2: FR / ISO3: FRA")
	c.PlaceAt(10.4, 51.1, "Germany", "ISO2: DE / ISO3: DEU")
	m, ok := c.Current()
	if !ok {
		t.Fatal("no marker after two placements")
	}
	if m.Title != "Germany" {
		t.Fatalf("current marker = %+v, want the Germany replacement", m)
	}
}

func TestPlaceByName(t *testing.T) {
	c := New(testIndex())
	m, ok, err := c.PlaceByName("  frAnce ")
	if err != nil || !ok {
		t.Fatalf("PlaceByName = ok=%v err=%v", ok, err)
	}
	if m.Title != "France" || m.Lon != 2.2 || m.Lat != 46.2 {
		t.Fatalf("marker = %+v", m)
	}
	if m.Description != "ISO2: FR / ISO3: FRA" {
		t.Fatalf("description = %q", m.Description)
	}
}

// TestPlaceByNameMiss checks the not-found path: a typed name with no
// entry yields *NotFoundError with at most ten suggestions and leaves
// the marker untouched.
func TestPlaceByNameMiss(t *testing.T) {
	c := New(testIndex())
	_, ok, err := c.PlaceByName("Atlantis")
	if ok {
		t.Fatal("miss reported as a placement")
	}
	var nf *NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("err = %v, want *NotFoundError", err)
	}
	if len(nf.Suggestions) == 0 || len(nf.Suggestions) > 10 {
		t.Fatalf("suggestions = %v, want 1..10 entries", nf.Suggestions)
	}
	if _, placed := c.Current(); placed {
		t.Fatal("miss placed a marker")
	}
}

func TestPlaceByNameBlankIsNoop(t *testing.T) {
	c := New(testIndex())
	_, ok, err := c.PlaceByName("   ")
	if ok || err != nil {
		t.Fatalf("blank name: ok=%v err=%v, want silent no-op", ok, err)
	}
}

// TestSubscribeReceivesFlyTo verifies that a subscriber sees the
// placement event with the fixed camera parameters.
func TestSubscribeReceivesFlyTo(t *testing.T) {
	c := New(testIndex())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := c.Subscribe(ctx)

	c.PlaceAt(10.4, 51.1, "Germany", "")
	select {
	case ev := <-events:
		if ev.Marker.Title != "Germany" {
			t.Fatalf("event marker = %+v", ev.Marker)
		}
		if ev.FlyLon != 10.4 || ev.FlyLat != 51.1 {
			t.Fatalf("fly target = (%v,%v)", ev.FlyLon, ev.FlyLat)
		}
		if ev.Height != FlyHeightMeters || ev.Duration != FlyDurationSecs {
			t.Fatalf("camera params = %v/%v", ev.Height, ev.Duration)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no event within 2s")
	}
}
