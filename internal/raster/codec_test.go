package raster

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteRead_Uint8(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mask.tif")
	g := sequenceGrid(7, 9)

	require.NoError(t, Write(path, g))
	assert.True(t, Exists(path))

	got, err := Read(path)
	require.NoError(t, err)
	assert.Equal(t, g.Profile, got.Profile)
	assert.Equal(t, g.Data, got.Data)
}

func TestWriteRead_Uint16(t *testing.T) {
	path := filepath.Join(t.TempDir(), "codes.tif")
	p := testProfile(2, 3)
	p.DType = Uint16
	g := New(p)
	copy(g.Data, []float32{0, 176, 37, 65000, 1, 2})

	require.NoError(t, Write(path, g))
	got, err := Read(path)
	require.NoError(t, err)
	assert.Equal(t, g.Data, got.Data)
}

func TestWriteRead_Float32Exact(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ndvi.tif")
	p := testProfile(2, 3)
	p.DType = Float32
	p.NoData = NoDataValue(-9999)
	g := New(p)
	// Threshold boundaries must survive a round trip unchanged.
	copy(g.Data, []float32{-1, 0.2, 0.8, 1, -9999, float32(math.NaN())})

	require.NoError(t, Write(path, g))
	got, err := Read(path)
	require.NoError(t, err)
	assert.Equal(t, g.Profile, got.Profile)

	assert.Equal(t, g.Data[:5], got.Data[:5])
	assert.True(t, math.IsNaN(float64(got.Data[5])))
	assert.GreaterOrEqual(t, got.Data[1], float32(0.2))
	assert.LessOrEqual(t, got.Data[2], float32(0.8))
}

func TestReadProfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mask.tif")
	g := sequenceGrid(5, 8)
	require.NoError(t, Write(path, g))

	p, err := ReadProfile(path)
	require.NoError(t, err)
	assert.Equal(t, g.Profile, p)
}

func TestRead_NotARaster(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mask.tif")
	require.NoError(t, os.WriteFile(path, []byte("not a tiff"), 0o644))
	assert.True(t, Exists(path))

	_, err := Read(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode header")
}

func TestRead_Missing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.tif")
	assert.False(t, Exists(path))
	_, err := ReadProfile(path)
	require.Error(t, err)
}

func TestRemove(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mask.tif")
	require.NoError(t, Write(path, sequenceGrid(2, 2)))
	require.NoError(t, Remove(path))
	assert.False(t, Exists(path))
	// Removing twice is fine.
	require.NoError(t, Remove(path))
}

func TestFileSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "slope.tif")
	g := sequenceGrid(4, 4)
	require.NoError(t, Write(path, g))

	src, err := OpenSource(path)
	require.NoError(t, err)
	assert.Equal(t, g.Profile, src.Header())

	out, err := src.ReadBounds(context.Background(), g.Bounds(), 4, 4)
	require.NoError(t, err)
	assert.Equal(t, g.Data, out.Data)
}

func TestFileSource_ReadsWindowAcrossTiles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mosaic.tif")
	g := sequenceGrid(600, 530)
	require.NoError(t, Write(path, g))

	src, err := OpenSource(path)
	require.NoError(t, err)

	// Straddles the tile seams at row 256 and column 512.
	w := Window{RowOff: 250, ColOff: 500, Height: 12, Width: 20}
	want, err := g.Crop(w)
	require.NoError(t, err)

	out, err := src.ReadBounds(context.Background(), want.Bounds(), w.Height, w.Width)
	require.NoError(t, err)
	assert.Equal(t, want.Data, out.Data)
	assert.Equal(t, want.Transform, out.Transform)

	_, err = src.ReadBounds(context.Background(), Bounds{Left: 0, Bottom: 0, Right: 10, Top: 10}, 1, 1)
	assert.ErrorIs(t, err, ErrNotCovered)
}

func TestListAndStem(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.tif", "a.tif"} {
		require.NoError(t, Write(filepath.Join(dir, name), sequenceGrid(1, 1)))
	}

	files, err := List(dir)
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "a", Stem(files[0]))
	assert.Equal(t, "b", Stem(files[1]))
}
