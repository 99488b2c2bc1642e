package ingest

import (
	"math"
	"testing"
)

// TestBuildPicksDominantRing feeds a feature whose hole-like small ring
// comes first. The outer boundary must be the larger ring regardless of
// source ordering.
func TestBuildPicksDominantRing(t *testing.T) {
	doc := []byte(`{"type":"FeatureCollection","features":[{
		"type":"Feature",
		"properties":{"name":"Boxland","ISO3166-1-Alpha-2":"BX","ISO3166-1-Alpha-3":"BXL"},
		"geometry":{"type":"Polygon","coordinates":[
			[[1,1],[2,1],[2,2],[1,2],[1,1]],
			[[0,0],[10,0],[10,10],[0,10],[0,0]]
		]}
	}]}`)
	feats, err := Build(doc, DefaultPropertyMap())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(feats) != 1 {
		t.Fatalf("got %d features, want 1", len(feats))
	}
	f := feats[0]
	if f.Name != "Boxland" || f.ISO2 != "BX" || f.ISO3 != "BXL" {
		t.Fatalf("properties wrong: %+v", f)
	}
	if math.Abs(f.Centroid.Lon-5) > 1e-9 || math.Abs(f.Centroid.Lat-5) > 1e-9 {
		t.Fatalf("centroid = %+v, want (5,5) from the big ring", f.Centroid)
	}
}

func TestBuildMultiPolygon(t *testing.T) {
	doc := []byte(`{"type":"FeatureCollection","features":[{
		"type":"Feature",
		"properties":{"NAME":"Twin Isles","ISO_A2":"TI"},
		"geometry":{"type":"MultiPolygon","coordinates":[
			[[[0,0],[1,0],[1,1],[0,1],[0,0]]],
			[[[20,20],[26,20],[26,26],[20,26],[20,20]]]
		]}
	}]}`)
	feats, err := Build(doc, DefaultPropertyMap())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(feats) != 1 {
		t.Fatalf("got %d features, want 1", len(feats))
	}
	f := feats[0]
	if f.Name != "Twin Isles" || f.ISO2 != "TI" {
		t.Fatalf("Natural Earth keys not read: %+v", f)
	}
	if math.Abs(f.Centroid.Lon-23) > 1e-9 || math.Abs(f.Centroid.Lat-23) > 1e-9 {
		t.Fatalf("centroid = %+v, want (23,23) from the larger island", f.Centroid)
	}
}

// TestBuildSkipsDegenerate verifies that unusable features vanish
// without failing the whole ingest: a two-point ring, a point geometry,
// and a missing geometry are all dropped while the good one survives.
func TestBuildSkipsDegenerate(t *testing.T) {
	doc := []byte(`{"type":"FeatureCollection","features":[
		{"type":"Feature","properties":{"name":"Line"},"geometry":{"type":"Polygon","coordinates":[[[0,0],[1,1]]]}},
		{"type":"Feature","properties":{"name":"Dot"},"geometry":{"type":"Point","coordinates":[1,1]}},
		{"type":"Feature","properties":{"name":"Ghost"},"geometry":null},
		{"type":"Feature","properties":{"name":"Keeper"},"geometry":{"type":"Polygon","coordinates":[[[0,0],[3,0],[3,3],[0,3],[0,0]]]}}
	]}`)
	feats, err := Build(doc, DefaultPropertyMap())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(feats) != 1 || feats[0].Name != "Keeper" {
		t.Fatalf("got %+v, want only Keeper", feats)
	}
}

func TestBuildDefaultsMissingName(t *testing.T) {
	doc := []byte(`{"type":"FeatureCollection","features":[{
		"type":"Feature","properties":{},
		"geometry":{"type":"Polygon","coordinates":[[[0,0],[2,0],[2,2],[0,2],[0,0]]]}
	}]}`)
	feats, err := Build(doc, DefaultPropertyMap())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(feats) != 1 || feats[0].Name != "Country" {
		t.Fatalf("got %+v, want default name Country", feats)
	}
}

func TestBuildRejectsNonCollection(t *testing.T) {
	if _, err := Build([]byte(`{"type":"Feature"}`), DefaultPropertyMap()); err == nil {
		t.Fatal("expected an error for a non-FeatureCollection document")
	}
	if _, err := Build([]byte(`not json`), DefaultPropertyMap()); err == nil {
		t.Fatal("expected an error for malformed JSON")
	}
}

// TestStringPropSkipsSentinels covers Natural Earth's habit of writing
// "-99" for unknown codes.
func TestStringPropSkipsSentinels(t *testing.T) {
	props := map[string]any{"ISO_A2": "-99", "iso_a2": "fr"}
	if got := stringProp(props, DefaultPropertyMap().ISO2Keys); got != "fr" {
		t.Fatalf("stringProp = %q, want fr", got)
	}
}
