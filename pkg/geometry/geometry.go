// Package geometry carries the small planar helpers the ingest pipeline
// needs: ring normalization, shoelace areas and area-weighted centroids.
// Everything works on plain longitude/latitude degrees — we deliberately
// skip projections because the results only rank rings against each other
// and anchor a marker, echoing "Clear is better than clever".
package geometry

import "math"

// Point is one vertex in [lon, lat] degree order, matching GeoJSON.
type Point struct {
	Lon float64 `json:"lon"`
	Lat float64 `json:"lat"`
}

const (
	// minRingPoints counts the closing vertex, so a triangle (3 distinct
	// points + repeat of the first) is the smallest ring we accept.
	minRingPoints = 4
	// maxRingPoints guards the renderer against pathological inputs —
	// one malformed feature must not stall the whole globe.
	maxRingPoints = 2000
)

// finite rejects NaN and ±Inf coordinates in one place.
func finite(p Point) bool {
	return !math.IsNaN(p.Lon) && !math.IsInf(p.Lon, 0) &&
		!math.IsNaN(p.Lat) && !math.IsInf(p.Lat, 0)
}

// NormalizeRing drops non-finite vertices, closes the ring by repeating
// the first point when the source forgot to, and rejects anything that
// ends up degenerate (fewer than 4 points after closing) or oversized
// (more than 2000 points). A nil return means "discard this ring".
func NormalizeRing(raw []Point) []Point {
	out := make([]Point, 0, len(raw))
	for _, p := range raw {
		if !finite(p) {
			continue
		}
		out = append(out, p)
	}
	if len(out) < minRingPoints-1 {
		return nil
	}
	if out[0] != out[len(out)-1] {
		out = append(out, out[0])
	}
	if len(out) < minRingPoints || len(out) > maxRingPoints {
		return nil
	}
	return out
}

// signedArea is the shoelace sum over a closed ring. Positive for
// counter-clockwise winding; callers that only need magnitude take Abs.
func signedArea(ring []Point) float64 {
	var sum float64
	for i := 0; i < len(ring)-1; i++ {
		sum += ring[i].Lon*ring[i+1].Lat - ring[i+1].Lon*ring[i].Lat
	}
	return sum / 2
}

// RingArea returns the unsigned shoelace area of a closed ring in
// square degrees. Collinear rings come out as exactly 0.
func RingArea(ring []Point) float64 {
	return math.Abs(signedArea(ring))
}

// Centroid computes the area-weighted centroid of a closed ring. When
// the signed area is numerically zero (collinear points) it falls back
// to the arithmetic mean of the vertices, which avoids dividing by a
// near-zero area and flinging the marker across the globe.
func Centroid(ring []Point) Point {
	a := signedArea(ring)
	if math.Abs(a) < 1e-12 {
		var c Point
		n := len(ring) - 1 // skip the closing vertex so it is not counted twice
		if n <= 0 {
			n = len(ring)
		}
		for i := 0; i < n; i++ {
			c.Lon += ring[i].Lon
			c.Lat += ring[i].Lat
		}
		c.Lon /= float64(n)
		c.Lat /= float64(n)
		return c
	}

	var cx, cy float64
	for i := 0; i < len(ring)-1; i++ {
		cross := ring[i].Lon*ring[i+1].Lat - ring[i+1].Lon*ring[i].Lat
		cx += (ring[i].Lon + ring[i+1].Lon) * cross
		cy += (ring[i].Lat + ring[i+1].Lat) * cross
	}
	return Point{Lon: cx / (6 * a), Lat: cy / (6 * a)}
}

// DominantRing picks the normalized ring with the largest unsigned area.
// Ring order in real-world GeoJSON is not trustworthy — some producers
// put holes first — so ranking by area is the robust choice. The boolean
// is false when no ring survives normalization.
func DominantRing(rings [][]Point) ([]Point, bool) {
	var (
		best     []Point
		bestArea = -1.0
	)
	for _, raw := range rings {
		ring := NormalizeRing(raw)
		if ring == nil {
			continue
		}
		if a := RingArea(ring); a > bestArea {
			best, bestArea = ring, a
		}
	}
	return best, best != nil
}
