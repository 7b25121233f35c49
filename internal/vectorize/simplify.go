package vectorize

import (
	"math"

	"github.com/twpayne/go-geom"
)

// simplifyRetries is how many times the tolerance is halved when a
// simplified polygon comes out invalid.
const simplifyRetries = 4

// Simplify reduces the vertex count of every ring with Douglas-Peucker at
// tol map units. Topology is preserved: if the result is invalid the
// tolerance is halved and retried, and the input is returned unchanged when
// no tolerance yields a valid polygon.
func Simplify(p *geom.Polygon, tol float64) *geom.Polygon {
	if tol <= 0 || p.Empty() {
		return p
	}
	for range simplifyRetries + 1 {
		s := simplifyPolygon(p, tol)
		if s != nil && Valid(s) {
			return s
		}
		tol /= 2
	}
	return p
}

func simplifyPolygon(p *geom.Polygon, tol float64) *geom.Polygon {
	rings := make([][]geom.Coord, 0, p.NumLinearRings())
	for i := 0; i < p.NumLinearRings(); i++ {
		r := simplifyRing(p.LinearRing(i).Coords(), tol)
		if len(r) < 4 {
			if i == 0 {
				return nil
			}
			// Holes that collapse are dropped.
			continue
		}
		rings = append(rings, r)
	}
	return geom.NewPolygon(geom.XY).MustSetCoords(rings)
}

// simplifyRing simplifies a closed ring. The ring is split at the vertex
// farthest from its first vertex so both halves are open paths.
func simplifyRing(ring []geom.Coord, tol float64) []geom.Coord {
	n := len(ring) - 1 // last coordinate repeats the first
	if n < 4 {
		return ring
	}
	far, best := 0, -1.0
	for i := 1; i < n; i++ {
		if d := dist(ring[0], ring[i]); d > best {
			far, best = i, d
		}
	}

	keep := make([]bool, n+1)
	keep[0], keep[far], keep[n] = true, true, true
	douglasPeucker(ring, 0, far, tol, keep)
	douglasPeucker(ring, far, n, tol, keep)

	out := make([]geom.Coord, 0, n+1)
	for i, k := range keep {
		if k {
			out = append(out, ring[i])
		}
	}
	return out
}

func douglasPeucker(pts []geom.Coord, lo, hi int, tol float64, keep []bool) {
	for hi-lo > 1 {
		idx, best := -1, tol
		for i := lo + 1; i < hi; i++ {
			if d := segmentDist(pts[i], pts[lo], pts[hi]); d > best {
				idx, best = i, d
			}
		}
		if idx < 0 {
			return
		}
		keep[idx] = true
		douglasPeucker(pts, lo, idx, tol, keep)
		lo = idx
	}
}

func dist(a, b geom.Coord) float64 {
	return math.Hypot(b[0]-a[0], b[1]-a[1])
}

// segmentDist is the distance from p to the segment a-b.
func segmentDist(p, a, b geom.Coord) float64 {
	dx, dy := b[0]-a[0], b[1]-a[1]
	l2 := dx*dx + dy*dy
	if l2 == 0 {
		return dist(p, a)
	}
	t := ((p[0]-a[0])*dx + (p[1]-a[1])*dy) / l2
	t = math.Max(0, math.Min(1, t))
	return math.Hypot(p[0]-(a[0]+t*dx), p[1]-(a[1]+t*dy))
}
