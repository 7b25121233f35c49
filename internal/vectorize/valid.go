package vectorize

import (
	"math"
	"sort"

	"github.com/twpayne/go-geom"
)

// Valid reports whether p is a usable simple polygon: every ring is closed
// with at least four coordinates and non-zero area, no two segments cross or
// overlap (touching at a vertex is allowed), and every hole starts inside
// the exterior.
func Valid(p *geom.Polygon) bool {
	if p == nil || p.NumLinearRings() == 0 {
		return false
	}
	rings := make([][]geom.Coord, p.NumLinearRings())
	for i := range rings {
		r := p.LinearRing(i).Coords()
		if len(r) < 4 || r[0][0] != r[len(r)-1][0] || r[0][1] != r[len(r)-1][1] {
			return false
		}
		if signedArea(r) == 0 || !finite(r) {
			return false
		}
		rings[i] = r
	}
	for _, h := range rings[1:] {
		if !pointInRing(segmentMid(h[0], h[1]), rings[0]) {
			return false
		}
	}
	return !hasCrossing(rings)
}

func finite(r []geom.Coord) bool {
	for _, c := range r {
		if math.IsNaN(c[0]) || math.IsNaN(c[1]) || math.IsInf(c[0], 0) || math.IsInf(c[1], 0) {
			return false
		}
	}
	return true
}

type segment struct {
	a, b       geom.Coord
	ring, idx  int
	n          int // segments in the ring
	minX, maxX float64
}

// hasCrossing sweeps segments ordered by their left end and tests pairs
// whose x ranges overlap.
func hasCrossing(rings [][]geom.Coord) bool {
	var segs []segment
	for ri, r := range rings {
		n := len(r) - 1
		for i := 0; i < n; i++ {
			a, b := r[i], r[i+1]
			segs = append(segs, segment{
				a: a, b: b, ring: ri, idx: i, n: n,
				minX: math.Min(a[0], b[0]), maxX: math.Max(a[0], b[0]),
			})
		}
	}
	sort.Slice(segs, func(i, j int) bool { return segs[i].minX < segs[j].minX })

	for i := range segs {
		s := segs[i]
		for j := i + 1; j < len(segs) && segs[j].minX <= s.maxX; j++ {
			t := segs[j]
			if s.ring == t.ring && adjacent(s.idx, t.idx, s.n) {
				if overlapsCollinear(s, t) {
					return true
				}
				continue
			}
			if crosses(s.a, s.b, t.a, t.b) {
				return true
			}
		}
	}
	return false
}

func adjacent(i, j, n int) bool {
	d := i - j
	if d < 0 {
		d = -d
	}
	return d == 1 || d == n-1
}

func orient(a, b, c geom.Coord) float64 {
	return (b[0]-a[0])*(c[1]-a[1]) - (b[1]-a[1])*(c[0]-a[0])
}

func sign(v float64) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}

// crosses reports a proper crossing or a collinear overlap of positive
// length. Segments meeting only at an endpoint do not cross.
func crosses(p1, p2, q1, q2 geom.Coord) bool {
	d1 := sign(orient(q1, q2, p1))
	d2 := sign(orient(q1, q2, p2))
	d3 := sign(orient(p1, p2, q1))
	d4 := sign(orient(p1, p2, q2))
	if d1*d2 < 0 && d3*d4 < 0 {
		return true
	}
	if d1 == 0 && d2 == 0 && d3 == 0 && d4 == 0 {
		return collinearOverlap(p1, p2, q1, q2)
	}
	// An endpoint lying in the interior of the other segment.
	if d1 == 0 && strictlyBetween(q1, q2, p1) || d2 == 0 && strictlyBetween(q1, q2, p2) ||
		d3 == 0 && strictlyBetween(p1, p2, q1) || d4 == 0 && strictlyBetween(p1, p2, q2) {
		return true
	}
	return false
}

// overlapsCollinear catches consecutive segments that fold back on
// themselves.
func overlapsCollinear(s, t segment) bool {
	if orient(s.a, s.b, t.a) != 0 || orient(s.a, s.b, t.b) != 0 {
		return false
	}
	return collinearOverlap(s.a, s.b, t.a, t.b)
}

func collinearOverlap(p1, p2, q1, q2 geom.Coord) bool {
	// Project onto the dominant axis of p.
	axis := 0
	if math.Abs(p2[1]-p1[1]) > math.Abs(p2[0]-p1[0]) {
		axis = 1
	}
	pl, ph := math.Min(p1[axis], p2[axis]), math.Max(p1[axis], p2[axis])
	ql, qh := math.Min(q1[axis], q2[axis]), math.Max(q1[axis], q2[axis])
	return math.Min(ph, qh)-math.Max(pl, ql) > 0
}

func strictlyBetween(a, b, p geom.Coord) bool {
	if sameCoord(p, a) || sameCoord(p, b) {
		return false
	}
	return p[0] >= math.Min(a[0], b[0]) && p[0] <= math.Max(a[0], b[0]) &&
		p[1] >= math.Min(a[1], b[1]) && p[1] <= math.Max(a[1], b[1])
}

func sameCoord(a, b geom.Coord) bool {
	return a[0] == b[0] && a[1] == b[1]
}

func segmentMid(a, b geom.Coord) geom.Coord {
	return geom.Coord{(a[0] + b[0]) / 2, (a[1] + b[1]) / 2}
}

// pointInRing is an even-odd test.
func pointInRing(p geom.Coord, ring []geom.Coord) bool {
	in := false
	for i := 0; i+1 < len(ring); i++ {
		a, b := ring[i], ring[i+1]
		if (a[1] > p[1]) != (b[1] > p[1]) {
			x := a[0] + (p[1]-a[1])*(b[0]-a[0])/(b[1]-a[1])
			if p[0] < x {
				in = !in
			}
		}
	}
	return in
}
