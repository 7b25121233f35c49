package artifact

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/grazing-cli/internal/raster"
)

func testGrid(v float32) *raster.Grid {
	g := raster.New(raster.Profile{
		CRS:       "EPSG:5070",
		Transform: raster.Transform{A: 30, C: 0, E: -30, F: 900},
		Width:     3,
		Height:    2,
		DType:     raster.Uint8,
		NoData:    raster.NoDataValue(0),
	})
	for i := range g.Data {
		g.Data[i] = v
	}
	return g
}

func exercise(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	ok, err := s.Has(ctx, "patch_b")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Put(ctx, "patch_b", testGrid(2)))
	require.NoError(t, s.Put(ctx, "patch_a", testGrid(1)))

	ok, err = s.Has(ctx, "patch_b")
	require.NoError(t, err)
	assert.True(t, ok)

	ids, err := s.IDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"patch_a", "patch_b"}, ids)

	g, err := s.Get(ctx, "patch_a")
	require.NoError(t, err)
	assert.Equal(t, testGrid(1).Data, g.Data)
	assert.Equal(t, testGrid(1).Profile, g.Profile)

	p, err := s.Profile(ctx, "patch_b")
	require.NoError(t, err)
	assert.Equal(t, testGrid(2).Profile, p)

	_, err = s.Profile(ctx, "missing")
	assert.True(t, eris.Is(err, ErrNotFound))

	_, err = s.Get(ctx, "missing")
	assert.True(t, eris.Is(err, ErrNotFound))

	require.NoError(t, s.Purge(ctx))
	ids, err = s.IDs(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestDirStore(t *testing.T) {
	s := NewDirStore(filepath.Join(t.TempDir(), "tmp_patches"))
	assert.Equal(t, filepath.Join(s.Dir(), "patch_x.tif"), s.Path("patch_x"))
	exercise(t, s)
}

func TestMemStore(t *testing.T) {
	s := NewMemStore()
	exercise(t, s)
	assert.Zero(t, s.Len())
}

func TestMemStore_CopiesOnPut(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	g := testGrid(1)
	require.NoError(t, s.Put(ctx, "a", g))
	g.Data[0] = 9

	got, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, float32(1), got.Data[0])
}

func TestPut_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, NewMemStore().Put(ctx, "a", testGrid(1)), context.Canceled)
	assert.ErrorIs(t, NewDirStore(t.TempDir()).Put(ctx, "a", testGrid(1)), context.Canceled)
}
