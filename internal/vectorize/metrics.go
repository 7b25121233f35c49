package vectorize

import (
	"math"

	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/xy"

	"github.com/sells-group/grazing-cli/internal/model"
)

// sqmPerHa converts square metres to hectares.
const sqmPerHa = 10000.0

// Metrics computes the shape descriptors of p. Map units are assumed to be
// metres.
//
//	compactness = 4*pi*area / perimeter^2   (0 when degenerate)
//	convexity   = area / convex hull area   (0 when the hull has no area)
//	elongation  = long side / short side of the minimum-area rectangle
//	              (1 when the rectangle cannot be resolved)
func Metrics(p *geom.Polygon) model.ShapeMetrics {
	area := p.Area()
	perim := p.Length()

	m := model.ShapeMetrics{
		AreaHa:     area / sqmPerHa,
		PerimeterM: perim,
		Elongation: 1,
	}
	if area > 0 && perim > 0 {
		m.Compactness = 4 * math.Pi * area / (perim*perim + 1e-9)
	}

	hull, ok := xy.ConvexHull(p).(*geom.Polygon)
	if !ok || hull.Empty() {
		return m
	}
	if ha := hull.Area(); ha > 0 {
		m.Convexity = area / ha
	}
	ring := hull.LinearRing(0).Coords()
	if len(ring) > 0 && !sameCoord(ring[0], ring[len(ring)-1]) {
		ring = append(ring, ring[0])
	}
	if long, short := minAreaRect(ring); short > 0 {
		m.Elongation = long / short
	}
	return m
}

// minAreaRect returns the side lengths (longer first) of the minimum-area
// rectangle enclosing a closed convex ring, by rotating calipers over the
// hull edges. Zero sides mean the rectangle is degenerate.
func minAreaRect(hull []geom.Coord) (long, short float64) {
	n := len(hull) - 1
	if n < 3 {
		return 0, 0
	}
	bestArea := math.Inf(1)
	for i := 0; i < n; i++ {
		a, b := hull[i], hull[i+1]
		ex, ey := b[0]-a[0], b[1]-a[1]
		l := math.Hypot(ex, ey)
		if l == 0 {
			continue
		}
		ux, uy := ex/l, ey/l
		minU, maxU := math.Inf(1), math.Inf(-1)
		minV, maxV := math.Inf(1), math.Inf(-1)
		for _, c := range hull[:n] {
			px, py := c[0]-a[0], c[1]-a[1]
			u := px*ux + py*uy
			v := -px*uy + py*ux
			minU, maxU = math.Min(minU, u), math.Max(maxU, u)
			minV, maxV = math.Min(minV, v), math.Max(maxV, v)
		}
		w, h := maxU-minU, maxV-minV
		if area := w * h; area < bestArea {
			bestArea = area
			long, short = math.Max(w, h), math.Min(w, h)
		}
	}
	return long, short
}
