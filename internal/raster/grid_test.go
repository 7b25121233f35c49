package raster

import (
	"context"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testProfile(h, w int) Profile {
	return Profile{
		CRS:       "EPSG:5070",
		Transform: Transform{A: 10, C: 1000, E: -10, F: 5000},
		Width:     w,
		Height:    h,
		DType:     Uint8,
		NoData:    NoDataValue(0),
	}
}

func sequenceGrid(h, w int) *Grid {
	g := New(testProfile(h, w))
	for i := range g.Data {
		g.Data[i] = float32(i % 251)
	}
	return g
}

func TestProfileBounds(t *testing.T) {
	b := testProfile(3, 4).Bounds()
	assert.Equal(t, Bounds{Left: 1000, Bottom: 4970, Right: 1040, Top: 5000}, b)
}

func TestProfileWithWindow(t *testing.T) {
	p := testProfile(10, 10).WithWindow(Window{RowOff: 2, ColOff: 3, Height: 4, Width: 5})
	assert.Equal(t, 5, p.Width)
	assert.Equal(t, 4, p.Height)
	assert.InDelta(t, 1030, p.Transform.C, 1e-9)
	assert.InDelta(t, 4980, p.Transform.F, 1e-9)
}

func TestProfileValidate(t *testing.T) {
	p := testProfile(2, 2)
	require.NoError(t, p.Validate())

	p.Transform.B = 0.5
	assert.Error(t, p.Validate())

	p = testProfile(0, 2)
	assert.Error(t, p.Validate())

	p = testProfile(2, 2)
	p.DType = "int64"
	assert.Error(t, p.Validate())
}

func TestGridCrop(t *testing.T) {
	g := sequenceGrid(6, 6)
	sub, err := g.Crop(Window{RowOff: 1, ColOff: 2, Height: 2, Width: 3})
	require.NoError(t, err)

	assert.Equal(t, []float32{8, 9, 10, 14, 15, 16}, sub.Data)
	assert.InDelta(t, 1020, sub.Transform.C, 1e-9)
	assert.InDelta(t, 4990, sub.Transform.F, 1e-9)

	_, err = g.Crop(Window{RowOff: 5, ColOff: 5, Height: 2, Width: 2})
	assert.Error(t, err)
}

func TestReadBounds_SameResolution(t *testing.T) {
	g := sequenceGrid(6, 6)
	w := Window{RowOff: 2, ColOff: 1, Height: 3, Width: 4}
	b := g.WithWindow(w).Bounds()

	out, err := g.ReadBounds(context.Background(), b, 3, 4)
	require.NoError(t, err)

	want, err := g.Crop(w)
	require.NoError(t, err)
	assert.Equal(t, want.Data, out.Data)
	assert.Equal(t, want.Transform, out.Transform)
}

func TestReadBounds_Upsamples(t *testing.T) {
	g := New(testProfile(2, 2))
	copy(g.Data, []float32{1, 2, 3, 4})

	out, err := g.ReadBounds(context.Background(), g.Bounds(), 4, 4)
	require.NoError(t, err)
	assert.Equal(t, []float32{
		1, 1, 2, 2,
		1, 1, 2, 2,
		3, 3, 4, 4,
		3, 3, 4, 4,
	}, out.Data)
}

func TestReadBounds_NotCovered(t *testing.T) {
	g := sequenceGrid(4, 4)
	b := g.Bounds()
	b.Right += 25

	_, err := g.ReadBounds(context.Background(), b, 4, 4)
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrNotCovered))
}

func TestReadBounds_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	g := sequenceGrid(2, 2)
	_, err := g.ReadBounds(ctx, g.Bounds(), 2, 2)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestIsNoData(t *testing.T) {
	p := testProfile(1, 1)
	assert.True(t, p.IsNoData(0))
	assert.False(t, p.IsNoData(1))

	p.NoData = nil
	assert.False(t, p.IsNoData(0))
	p.DType = Float32
	assert.True(t, New(p).IsNoData(New(p).Data[0]))
}
