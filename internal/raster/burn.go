package raster

import (
	"math"
	"sort"

	"github.com/twpayne/go-geom"
)

// Burn writes value into every pixel of g whose centre falls inside poly
// (even-odd rule across all rings). With allTouched, every pixel crossed by a
// ring segment is burned as well.
func Burn(g *Grid, poly *geom.Polygon, value float32, allTouched bool) {
	if poly == nil || poly.Empty() {
		return
	}
	rings := pixelRings(g.Transform, poly)

	minRow, maxRow := math.Inf(1), math.Inf(-1)
	for _, ring := range rings {
		for _, p := range ring {
			minRow = math.Min(minRow, p[1])
			maxRow = math.Max(maxRow, p[1])
		}
	}
	r0 := max(0, int(math.Floor(minRow)))
	r1 := min(g.Height-1, int(math.Ceil(maxRow)))

	var xs []float64
	for r := r0; r <= r1; r++ {
		y := float64(r) + 0.5
		xs = xs[:0]
		for _, ring := range rings {
			for i := 0; i+1 < len(ring); i++ {
				a, b := ring[i], ring[i+1]
				if (a[1] <= y && y < b[1]) || (b[1] <= y && y < a[1]) {
					xs = append(xs, a[0]+(y-a[1])*(b[0]-a[0])/(b[1]-a[1]))
				}
			}
		}
		sort.Float64s(xs)
		for i := 0; i+1 < len(xs); i += 2 {
			c0 := max(0, int(math.Ceil(xs[i]-0.5)))
			c1 := min(g.Width, int(math.Ceil(xs[i+1]-0.5)))
			for c := c0; c < c1; c++ {
				g.Set(r, c, value)
			}
		}
	}

	if !allTouched {
		return
	}
	for _, ring := range rings {
		for i := 0; i+1 < len(ring); i++ {
			traverse(ring[i], ring[i+1], func(c, r int) {
				if r >= 0 && r < g.Height && c >= 0 && c < g.Width {
					g.Set(r, c, value)
				}
			})
		}
	}
}

// pixelRings converts the polygon's rings to closed pixel-space paths.
func pixelRings(t Transform, poly *geom.Polygon) [][][2]float64 {
	rings := make([][][2]float64, 0, poly.NumLinearRings())
	for i := 0; i < poly.NumLinearRings(); i++ {
		coords := poly.LinearRing(i).Coords()
		if len(coords) < 3 {
			continue
		}
		ring := make([][2]float64, 0, len(coords)+1)
		for _, c := range coords {
			col, row := t.Invert(c.X(), c.Y())
			ring = append(ring, [2]float64{col, row})
		}
		if ring[0] != ring[len(ring)-1] {
			ring = append(ring, ring[0])
		}
		rings = append(rings, ring)
	}
	return rings
}

// traverse visits every pixel cell crossed by the segment a-b.
func traverse(a, b [2]float64, visit func(col, row int)) {
	cx, cy := int(math.Floor(a[0])), int(math.Floor(a[1]))
	ex, ey := int(math.Floor(b[0])), int(math.Floor(b[1]))
	dx, dy := b[0]-a[0], b[1]-a[1]

	stepX, tMaxX, tDeltaX := axisStep(a[0], dx, cx)
	stepY, tMaxY, tDeltaY := axisStep(a[1], dy, cy)

	visit(cx, cy)
	for n := abs(ex-cx) + abs(ey-cy); n > 0; n-- {
		if tMaxX < tMaxY {
			tMaxX += tDeltaX
			cx += stepX
		} else {
			tMaxY += tDeltaY
			cy += stepY
		}
		visit(cx, cy)
	}
}

func axisStep(origin, delta float64, cell int) (step int, tMax, tDelta float64) {
	switch {
	case delta > 0:
		return 1, (float64(cell+1) - origin) / delta, 1 / delta
	case delta < 0:
		return -1, (origin - float64(cell)) / -delta, 1 / -delta
	default:
		return 0, math.Inf(1), math.Inf(1)
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
