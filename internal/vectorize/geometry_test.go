package vectorize

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"
)

func polygon(rings ...[]geom.Coord) *geom.Polygon {
	return geom.NewPolygon(geom.XY).MustSetCoords(rings)
}

func rect(x0, y0, x1, y1 float64) []geom.Coord {
	return []geom.Coord{{x0, y0}, {x1, y0}, {x1, y1}, {x0, y1}, {x0, y0}}
}

func circle(cx, cy, r float64, n int) []geom.Coord {
	ring := make([]geom.Coord, 0, n+1)
	for i := 0; i < n; i++ {
		a := 2 * math.Pi * float64(i) / float64(n)
		ring = append(ring, geom.Coord{cx + r*math.Cos(a), cy + r*math.Sin(a)})
	}
	return append(ring, geom.Coord{ring[0][0], ring[0][1]})
}

func TestValid(t *testing.T) {
	assert.True(t, Valid(polygon(rect(0, 0, 10, 10))))
	assert.True(t, Valid(polygon(rect(0, 0, 10, 10), []geom.Coord{{2, 2}, {2, 4}, {4, 4}, {4, 2}, {2, 2}})))

	bowtie := polygon([]geom.Coord{{0, 0}, {10, 10}, {10, 0}, {0, 10}, {0, 0}})
	assert.False(t, Valid(bowtie))

	holeOutside := polygon(rect(0, 0, 10, 10), []geom.Coord{{20, 20}, {20, 22}, {22, 22}, {22, 20}, {20, 20}})
	assert.False(t, Valid(holeOutside))

	flat := polygon([]geom.Coord{{0, 0}, {5, 0}, {10, 0}, {0, 0}})
	assert.False(t, Valid(flat))

	foldBack := polygon([]geom.Coord{{0, 0}, {10, 0}, {10, 10}, {10, 5}, {0, 10}, {0, 0}})
	assert.False(t, Valid(foldBack))

	// A hole may touch the shell at a shared vertex.
	touching := polygon(rect(0, 0, 10, 10), []geom.Coord{{0, 0}, {1, 3}, {3, 1}, {0, 0}})
	assert.True(t, Valid(touching))

	assert.False(t, Valid(nil))
}

func TestSimplify_DropsSmallDeviations(t *testing.T) {
	p := polygon([]geom.Coord{{0, 0}, {10, 0}, {10, 10}, {5, 10.1}, {0, 10}, {0, 0}})
	s := Simplify(p, 0.5)
	assert.Len(t, s.LinearRing(0).Coords(), 5)
	assert.True(t, Valid(s))

	// Zero tolerance is a no-op.
	assert.Same(t, p, Simplify(p, 0))
}

func TestSimplify_KeepsValidityByReducingTolerance(t *testing.T) {
	p := polygon(rect(0, 0, 10, 10))
	s := Simplify(p, 100)
	require.True(t, Valid(s))
	assert.InDelta(t, 100, s.Area(), 1e-9)
}

func TestSimplify_DropsCollapsedHoles(t *testing.T) {
	p := polygon(rect(0, 0, 100, 100), []geom.Coord{{50, 50}, {50, 50.5}, {50.5, 50.5}, {50.5, 50}, {50, 50}})
	s := Simplify(p, 2)
	assert.Equal(t, 1, s.NumLinearRings())
}

func TestEDT(t *testing.T) {
	d := edt([]bool{true, false, false, false, false}, 1, 5)
	assert.Equal(t, []float64{0, 1, 4, 9, 16}, d)

	d = edt([]bool{
		false, false, false,
		false, true, false,
		false, false, false,
	}, 3, 3)
	assert.Equal(t, []float64{2, 1, 2, 1, 0, 1, 2, 1, 2}, d)
}

func TestClosePolygon_FillsNarrowNotch(t *testing.T) {
	// 20x20 square with a 1 m wide, 10 m deep slot cut from the top edge.
	p := polygon([]geom.Coord{
		{0, 0}, {20, 0}, {20, 20}, {11, 20}, {11, 10}, {10, 10}, {10, 20}, {0, 20}, {0, 0},
	})
	require.True(t, Valid(p))
	require.False(t, pointInRing(geom.Coord{10.5, 15}, p.LinearRing(0).Coords()))

	c, err := closePolygon(p, 2, 0.5)
	require.NoError(t, err)
	assert.True(t, Valid(c))
	assert.True(t, pointInRing(geom.Coord{10.5, 15}, c.LinearRing(0).Coords()))
	assert.InDelta(t, 400, c.Area(), 20)
}

func TestClosePolygon_ZeroRadiusRebuilds(t *testing.T) {
	p := polygon(rect(0, 0, 40, 40))
	c, err := closePolygon(p, 0, 0.5)
	require.NoError(t, err)
	assert.True(t, Valid(c))
	assert.InDelta(t, 1600, c.Area(), 40)
}

func TestClosePolygon_Errors(t *testing.T) {
	_, err := closePolygon(polygon(rect(0, 0, 1, 1)), 1, 0)
	assert.Error(t, err)
	_, err = closePolygon(nil, 1, 1)
	assert.Error(t, err)
}

func TestMetrics_Square(t *testing.T) {
	m := Metrics(polygon(rect(0, 0, 100, 100)))
	assert.InDelta(t, 1, m.AreaHa, 1e-12)
	assert.InDelta(t, 400, m.PerimeterM, 1e-9)
	assert.InDelta(t, math.Pi/4, m.Compactness, 1e-9)
	assert.InDelta(t, 1, m.Convexity, 1e-9)
	assert.InDelta(t, 1, m.Elongation, 1e-9)
}

func TestMetrics_Rectangle(t *testing.T) {
	m := Metrics(polygon(rect(0, 0, 200, 50)))
	assert.InDelta(t, 4, m.Elongation, 1e-9)
	assert.InDelta(t, 1, m.Convexity, 1e-9)
}

func TestMetrics_Circle(t *testing.T) {
	m := Metrics(polygon(circle(0, 0, 100, 360)))
	assert.InDelta(t, 1, m.Compactness, 0.01)
	assert.InDelta(t, 1, m.Convexity, 1e-6)
	assert.InDelta(t, 1, m.Elongation, 0.01)
	assert.InDelta(t, math.Pi, m.AreaHa, 0.01)
}

func TestMetrics_LShapeIsNotConvex(t *testing.T) {
	m := Metrics(polygon([]geom.Coord{{0, 0}, {20, 0}, {20, 10}, {10, 10}, {10, 20}, {0, 20}, {0, 0}}))
	assert.InDelta(t, 300.0/350.0, m.Convexity, 1e-9)
}

func TestMetrics_Degenerate(t *testing.T) {
	m := Metrics(polygon([]geom.Coord{{0, 0}, {5, 0}, {10, 0}, {0, 0}}))
	assert.Zero(t, m.AreaHa)
	assert.Zero(t, m.Compactness)
	assert.Zero(t, m.Convexity)
	assert.Equal(t, 1.0, m.Elongation)
}
