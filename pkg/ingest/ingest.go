// Package ingest turns a GeoJSON FeatureCollection into the render
// features the globe page draws. It is a one-shot pipeline: parse the
// document, normalize every ring, keep the dominant outer boundary per
// feature, and hand back centroids ready for marker placement.
//
// Bad features are skipped, never fatal. One mangled polygon in a
// 250-country file must not take the whole dataset down with it.
package ingest

import (
	"encoding/json"
	"fmt"
	"strings"

	"globe-country-map/pkg/geometry"
)

// PropertyMap tells the ingestor where display names and ISO codes live
// inside feature properties. Real-world country files disagree on key
// names, so the mapping is data, not code: callers can extend it without
// touching the pipeline.
type PropertyMap struct {
	NameKeys []string
	ISO2Keys []string
	ISO3Keys []string
}

// DefaultPropertyMap covers the two property schemas we actually meet:
// the plain "name"/"ISO3166-1-Alpha-2" style and Natural Earth's
// upper-case "NAME"/"ADMIN"/"ISO_A2" style. Keys are tried in order and
// the first non-empty value wins.
func DefaultPropertyMap() PropertyMap {
	return PropertyMap{
		NameKeys: []string{"name", "NAME", "ADMIN", "admin"},
		ISO2Keys: []string{"ISO3166-1-Alpha-2", "ISO_A2", "iso_a2"},
		ISO3Keys: []string{"ISO3166-1-Alpha-3", "ISO_A3", "iso_a3"},
	}
}

// RenderFeature is one country ready for the viewer: the outer boundary
// to draw and the centroid to anchor a marker on.
type RenderFeature struct {
	Name     string           `json:"name"`
	ISO2     string           `json:"iso2,omitempty"`
	ISO3     string           `json:"iso3,omitempty"`
	Centroid geometry.Point   `json:"centroid"`
	Outer    []geometry.Point `json:"outer"`
}

// featureCollection mirrors just enough of the GeoJSON shape. Geometry
// coordinates stay raw until we know the geometry type, because Polygon
// and MultiPolygon nest differently.
type featureCollection struct {
	Type     string    `json:"type"`
	Features []feature `json:"features"`
}

type feature struct {
	Type       string         `json:"type"`
	Properties map[string]any `json:"properties"`
	Geometry   *geometryDoc   `json:"geometry"`
}

type geometryDoc struct {
	Type        string          `json:"type"`
	Coordinates json.RawMessage `json:"coordinates"`
}

// Build parses raw GeoJSON and produces one RenderFeature per feature
// that survives ring normalization. Features with no usable ring are
// dropped without an error; a document that is not a FeatureCollection
// at all is an error, because then the operator pointed us at the wrong
// file and silence would hide that.
func Build(raw []byte, pm PropertyMap) ([]RenderFeature, error) {
	var fc featureCollection
	if err := json.Unmarshal(raw, &fc); err != nil {
		return nil, fmt.Errorf("parse geojson: %w", err)
	}
	if fc.Type != "FeatureCollection" {
		return nil, fmt.Errorf("expected FeatureCollection, got %q", fc.Type)
	}

	out := make([]RenderFeature, 0, len(fc.Features))
	for _, f := range fc.Features {
		rings, ok := ringsOf(f.Geometry)
		if !ok {
			continue
		}
		outer, ok := geometry.DominantRing(rings)
		if !ok {
			continue
		}
		name := stringProp(f.Properties, pm.NameKeys)
		if name == "" {
			name = "Country"
		}
		out = append(out, RenderFeature{
			Name:     name,
			ISO2:     stringProp(f.Properties, pm.ISO2Keys),
			ISO3:     stringProp(f.Properties, pm.ISO3Keys),
			Centroid: geometry.Centroid(outer),
			Outer:    outer,
		})
	}
	return out, nil
}

// ringsOf flattens a Polygon or MultiPolygon into a plain list of rings.
// Ring roles (outer vs hole) are deliberately ignored here; the caller
// ranks them by area because source ordering is not trustworthy.
func ringsOf(g *geometryDoc) ([][]geometry.Point, bool) {
	if g == nil {
		return nil, false
	}
	switch g.Type {
	case "Polygon":
		var coords [][][]float64
		if err := json.Unmarshal(g.Coordinates, &coords); err != nil {
			return nil, false
		}
		return toRings(coords), true
	case "MultiPolygon":
		var coords [][][][]float64
		if err := json.Unmarshal(g.Coordinates, &coords); err != nil {
			return nil, false
		}
		var rings [][]geometry.Point
		for _, poly := range coords {
			rings = append(rings, toRings(poly)...)
		}
		return rings, true
	default:
		return nil, false
	}
}

func toRings(coords [][][]float64) [][]geometry.Point {
	rings := make([][]geometry.Point, 0, len(coords))
	for _, raw := range coords {
		ring := make([]geometry.Point, 0, len(raw))
		for _, pos := range raw {
			if len(pos) < 2 {
				continue
			}
			ring = append(ring, geometry.Point{Lon: pos[0], Lat: pos[1]})
		}
		rings = append(rings, ring)
	}
	return rings
}

// stringProp walks candidate keys in order and returns the first
// non-empty string value. Numeric values are ignored: Natural Earth
// stores "-99" as a number for missing codes, and a number is never a
// usable name or code anyway.
func stringProp(props map[string]any, keys []string) string {
	for _, k := range keys {
		v, ok := props[k]
		if !ok {
			continue
		}
		s, ok := v.(string)
		if !ok {
			continue
		}
		s = strings.TrimSpace(s)
		if s == "" || s == "-99" {
			continue
		}
		return s
	}
	return ""
}
