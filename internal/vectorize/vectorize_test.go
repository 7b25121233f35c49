package vectorize

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"

	"github.com/sells-group/grazing-cli/internal/model"
	"github.com/sells-group/grazing-cli/internal/raster"
)

// classGrid returns an h x w grid of pixel size px filled with class 2.
func classGrid(h, w int, px float64) *raster.Grid {
	g := raster.New(raster.Profile{
		CRS:       "EPSG:5070",
		Transform: raster.Transform{A: px, C: 0, E: -px, F: float64(h) * px},
		Width:     w,
		Height:    h,
		DType:     raster.Uint8,
		NoData:    raster.NoDataValue(0),
	})
	for i := range g.Data {
		g.Data[i] = raster.ClassNegative
	}
	return g
}

func fillRect(g *raster.Grid, r0, c0, h, w int) {
	for r := r0; r < r0+h; r++ {
		for c := c0; c < c0+w; c++ {
			g.Set(r, c, raster.ClassPositive)
		}
	}
}

func TestRun_CircleBlob(t *testing.T) {
	g := classGrid(100, 100, 1)
	for r := 0; r < 100; r++ {
		for c := 0; c < 100; c++ {
			dx, dy := float64(c)+0.5-50, float64(r)+0.5-50
			if dx*dx+dy*dy <= 15*15 {
				g.Set(r, c, raster.ClassPositive)
			}
		}
	}

	res, err := Run(context.Background(), g, Options{
		TargetClass:       1,
		MinPixels:         50,
		MinHa:             0.01,
		MaxHa:             1,
		SimplifyTolerance: 1,
	})
	require.NoError(t, err)
	require.Len(t, res.Patches, 1)

	p := res.Patches[0]
	assert.Equal(t, 1, p.Class)
	assert.Equal(t, model.RepairOK, p.Repair)
	assert.Greater(t, p.Metrics.Compactness, 0.9)
	assert.InDelta(t, math.Pi*225/1e4, p.Metrics.AreaHa, 0.01)
	assert.InDelta(t, 1, p.Metrics.Elongation, 0.15)
	assert.Greater(t, p.Metrics.Convexity, 0.95)
	assert.True(t, Valid(p.Geometry))
	assert.Equal(t, "EPSG:5070", res.CRS)
	assert.Equal(t, 1, res.Summary.Repairs[model.RepairOK])
}

func TestRun_PixelCountFilter(t *testing.T) {
	g := classGrid(20, 20, 10)
	fillRect(g, 0, 0, 1, 3)   // 3 px
	fillRect(g, 5, 5, 2, 5)   // 10 px
	fillRect(g, 10, 10, 6, 6) // 36 px

	res, err := Run(context.Background(), g, Options{
		TargetClass: 1,
		MinPixels:   10,
		MinHa:       0,
		MaxHa:       100,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Summary.Components)
	assert.Equal(t, 2, res.Summary.Retained)
	assert.Equal(t, 2, res.Summary.Traced)
	assert.Len(t, res.Patches, 2)
}

func TestRun_AreaRangeIsInclusive(t *testing.T) {
	// 10 x 10 pixels of 10 m is exactly one hectare.
	g := classGrid(20, 20, 10)
	fillRect(g, 5, 5, 10, 10)

	opts := Options{TargetClass: 1, MinPixels: 1, MinHa: 1, MaxHa: 1}
	res, err := Run(context.Background(), g, opts)
	require.NoError(t, err)
	require.Len(t, res.Patches, 1)
	assert.InDelta(t, 1, res.Patches[0].Metrics.AreaHa, 0.02)

	opts.MinHa = 1.0001
	opts.MaxHa = 2
	res, err = Run(context.Background(), g, opts)
	require.NoError(t, err)
	assert.Empty(t, res.Patches)
	assert.Zero(t, res.Summary.InAreaRange)

	opts.MinHa = 0
	opts.MaxHa = 0.9999
	res, err = Run(context.Background(), g, opts)
	require.NoError(t, err)
	assert.Empty(t, res.Patches)
}

func TestRun_ShapeFilter(t *testing.T) {
	g := classGrid(30, 30, 10)
	fillRect(g, 2, 2, 2, 20)   // long strip, elongation 10
	fillRect(g, 10, 10, 8, 8)  // square

	opts := Options{TargetClass: 1, MinPixels: 1, MinHa: 0, MaxHa: 100}
	res, err := Run(context.Background(), g, opts)
	require.NoError(t, err)
	require.Len(t, res.Patches, 2)

	opts.MaxElongation = 3
	res, err = Run(context.Background(), g, opts)
	require.NoError(t, err)
	require.Len(t, res.Patches, 1)
	assert.Equal(t, 1, res.Summary.ShapeFiltered)
	assert.InDelta(t, 0.64, res.Patches[0].Metrics.AreaHa, 0.02)
}

func TestRun_SummaryStatistics(t *testing.T) {
	g := classGrid(40, 40, 10)
	fillRect(g, 1, 1, 10, 10)   // 1 ha
	fillRect(g, 20, 20, 10, 20) // 2 ha
	fillRect(g, 15, 2, 10, 5)   // 0.5 ha

	res, err := Run(context.Background(), g, Options{TargetClass: 1, MinPixels: 1, MinHa: 0, MaxHa: 10})
	require.NoError(t, err)
	require.Len(t, res.Patches, 3)

	s := res.Summary
	assert.InDelta(t, 3.5, s.TotalHa, 0.1)
	assert.InDelta(t, 3.5/3, s.MeanHa, 0.05)
	assert.InDelta(t, 1, s.MedianHa, 0.05)
	assert.Greater(t, s.StdDevHa, 0.0)
	assert.Greater(t, s.MeanCompactness, 0.5)
}

func TestRun_NothingSurvives(t *testing.T) {
	g := classGrid(10, 10, 1)
	res, err := Run(context.Background(), g, Options{TargetClass: 1, MinPixels: 1, MinHa: 0, MaxHa: 1})
	require.NoError(t, err)
	assert.Empty(t, res.Patches)
	assert.Zero(t, res.Summary.Components)
}

func TestRun_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	g := classGrid(10, 10, 1)
	fillRect(g, 2, 2, 5, 5)
	_, err := Run(ctx, g, Options{TargetClass: 1, MinPixels: 1, MaxHa: 1})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRepairOutcomes(t *testing.T) {
	orig := polygon(rect(0, 0, 10, 10))
	good := polygon(rect(0, 0, 9, 9))
	bowtie := polygon([]geom.Coord{{0, 0}, {10, 10}, {10, 0}, {0, 10}, {0, 0}})

	ok := func() (*geom.Polygon, error) { return good, nil }
	invalid := func() (*geom.Polygon, error) { return bowtie, nil }
	failing := func() (*geom.Polygon, error) { return nil, errors.New("closing failed") }

	p, outcome := repair(orig, ok, failing)
	assert.Equal(t, model.RepairOK, outcome)
	assert.Same(t, good, p)

	p, outcome = repair(orig, invalid, ok)
	assert.Equal(t, model.RepairFallback, outcome)
	assert.Same(t, good, p)

	p, outcome = repair(orig, failing, invalid)
	assert.Equal(t, model.RepairFailed, outcome)
	assert.Same(t, orig, p)
}
