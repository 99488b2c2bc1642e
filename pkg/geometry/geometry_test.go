package geometry

import (
	"math"
	"testing"
)

// square returns a closed 2x2 square with its lower-left corner at
// (0,0), centroid (1,1), area 4.
func square() []Point {
	return []Point{{0, 0}, {2, 0}, {2, 2}, {0, 2}, {0, 0}}
}

func TestRingAreaSquare(t *testing.T) {
	if got := RingArea(square()); math.Abs(got-4) > 1e-9 {
		t.Fatalf("RingArea(square) = %v, want 4", got)
	}
}

func TestCentroidSquare(t *testing.T) {
	c := Centroid(square())
	if math.Abs(c.Lon-1) > 1e-9 || math.Abs(c.Lat-1) > 1e-9 {
		t.Fatalf("Centroid(square) = %+v, want (1,1)", c)
	}
}

// TestCentroidCollinearFallsBackToMean covers the degenerate ring whose
// shoelace area is zero: the centroid must become the vertex mean
// instead of a division by (almost) zero.
func TestCentroidCollinearFallsBackToMean(t *testing.T) {
	ring := []Point{{0, 0}, {1, 1}, {2, 2}, {0, 0}}
	if a := RingArea(ring); a != 0 {
		t.Fatalf("RingArea(collinear) = %v, want 0", a)
	}
	c := Centroid(ring)
	if math.Abs(c.Lon-1) > 1e-9 || math.Abs(c.Lat-1) > 1e-9 {
		t.Fatalf("Centroid(collinear) = %+v, want mean (1,1)", c)
	}
}

func TestNormalizeRing(t *testing.T) {
	tests := []struct {
		name    string
		in      []Point
		wantLen int // 0 means rejected
	}{
		{"open triangle gets closed", []Point{{0, 0}, {4, 0}, {0, 4}}, 4},
		{"already closed kept as is", square(), 5},
		{"two points rejected", []Point{{0, 0}, {1, 1}}, 0},
		{"nonfinite vertex dropped", []Point{{0, 0}, {math.NaN(), 1}, {4, 0}, {0, 4}, {0, 0}}, 4},
		{"all nonfinite rejected", []Point{{math.Inf(1), 0}, {0, math.NaN()}}, 0},
	}
	for _, tc := range tests {
		got := NormalizeRing(tc.in)
		if tc.wantLen == 0 {
			if got != nil {
				t.Errorf("%s: got %d points, want rejection", tc.name, len(got))
			}
			continue
		}
		if len(got) != tc.wantLen {
			t.Errorf("%s: got %d points, want %d", tc.name, len(got), tc.wantLen)
			continue
		}
		if got[0] != got[len(got)-1] {
			t.Errorf("%s: ring not closed", tc.name)
		}
	}
}

// TestNormalizeRingOversized checks the hard cap: a ring that still has
// more than 2000 points after closing is discarded entirely rather than
// truncated.
func TestNormalizeRingOversized(t *testing.T) {
	big := make([]Point, 0, 2001)
	for i := 0; i < 2001; i++ {
		big = append(big, Point{Lon: float64(i), Lat: float64(i % 7)})
	}
	if got := NormalizeRing(big); got != nil {
		t.Fatalf("oversized ring accepted with %d points", len(got))
	}
}

func TestDominantRingPicksLargest(t *testing.T) {
	small := []Point{{0, 0}, {1, 0}, {1, 1}, {0, 1}, {0, 0}}
	large := []Point{{10, 10}, {14, 10}, {14, 14}, {10, 14}, {10, 10}}
	got, ok := DominantRing([][]Point{small, large})
	if !ok {
		t.Fatal("DominantRing found nothing")
	}
	if got[0] != (Point{10, 10}) {
		t.Fatalf("DominantRing picked %+v, want the 4x4 ring", got[0])
	}
}

func TestDominantRingAllDegenerate(t *testing.T) {
	if _, ok := DominantRing([][]Point{{{0, 0}, {1, 1}}}); ok {
		t.Fatal("DominantRing accepted a degenerate ring set")
	}
}
