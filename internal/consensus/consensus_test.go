package consensus

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/grazing-cli/internal/artifact"
	"github.com/sells-group/grazing-cli/internal/raster"
	"github.com/sells-group/grazing-cli/internal/workpool"
)

func profile(h, w int) raster.Profile {
	return raster.Profile{
		CRS:       "EPSG:5070",
		Transform: raster.Transform{A: 10, C: 5000, E: -10, F: 9000},
		Width:     w,
		Height:    h,
		DType:     raster.Uint8,
		NoData:    raster.NoDataValue(0),
	}
}

func filled(p raster.Profile, v float32) *raster.Grid {
	g := raster.New(p)
	for i := range g.Data {
		g.Data[i] = v
	}
	return g
}

func TestAllQualifying_TruthTable(t *testing.T) {
	p := AllQualifying{}
	assert.Equal(t, 4, p.Arity())
	valid := []bool{true, true, true, true}

	for mask := range 16 {
		vals := make([]float32, 4)
		all := true
		for i := range vals {
			if mask&(1<<i) != 0 {
				vals[i] = 1
			} else {
				vals[i] = 2
				all = false
			}
		}
		want := uint8(raster.ClassNegative)
		if all {
			want = raster.ClassPositive
		}
		assert.Equal(t, want, p.Eval(vals, valid), "inputs %v", vals)
	}
}

func TestAllQualifying_InvalidIsNegative(t *testing.T) {
	p := AllQualifying{Inputs: 2}
	assert.Equal(t, 2, p.Arity())
	assert.Equal(t, uint8(2), p.Eval([]float32{1, 1}, []bool{true, false}))
	assert.Equal(t, uint8(2), p.Eval([]float32{0, 0}, []bool{false, false}))
	assert.Equal(t, uint8(1), p.Eval([]float32{1, 1}, []bool{true, true}))
}

func TestOverride(t *testing.T) {
	p := Override{Enforce: 2}
	cases := []struct {
		base, mask float32
		want       uint8
	}{
		{1, 2, 2},
		{1, 1, 1},
		{1, 0, 1},
		{2, 0, 2},
		{0, 2, 2},
		{0, 1, 0},
	}
	for _, tc := range cases {
		got := p.Eval([]float32{tc.base, tc.mask}, []bool{tc.base != 0, tc.mask != 0})
		assert.Equal(t, tc.want, got, "base %v mask %v", tc.base, tc.mask)
	}
	assert.Equal(t, uint8(7), Override{Enforce: 7}.Eval([]float32{1, 2}, []bool{true, true}))
}

func TestEvaluate_ComputesAndSkipsExisting(t *testing.T) {
	ctx := context.Background()
	p := profile(4, 4)
	store := artifact.NewMemStore()
	ev := &Evaluator{
		Reference: p,
		Layers: []Layer{
			{Name: "a", Source: filled(p, 1)},
			{Name: "b", Source: filled(p, 1)},
		},
		Predicate: AllQualifying{Inputs: 2},
		Store:     store,
	}
	require.NoError(t, ev.Validate())

	w := raster.Window{RowOff: 2, ColOff: 0, Height: 2, Width: 4}
	res, err := ev.Evaluate(ctx, "w1", w)
	require.NoError(t, err)
	assert.Equal(t, Computed, res.Status)

	g, err := store.Get(ctx, "w1")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 1, 1, 1, 1, 1, 1, 1}, g.Data)
	assert.Equal(t, p.WithWindow(w).Transform, g.Transform)

	// A second call with different inputs must not recompute.
	ev.Layers[1].Source = filled(p, 2)
	res, err = ev.Evaluate(ctx, "w1", w)
	require.NoError(t, err)
	assert.Equal(t, AlreadyComputed, res.Status)
	assert.Equal(t, "already_computed", res.Status.String())

	g, err = store.Get(ctx, "w1")
	require.NoError(t, err)
	assert.Equal(t, float32(1), g.Data[0])
}

func TestEvaluate_LayerNotCovered(t *testing.T) {
	p := profile(4, 4)
	small := filled(profile(2, 2), 1)
	ev := &Evaluator{
		Reference: p,
		Layers: []Layer{
			{Name: "ndvi", Source: filled(p, 1)},
			{Name: "slope", Source: small},
		},
		Predicate: AllQualifying{Inputs: 2},
		Store:     artifact.NewMemStore(),
	}

	_, err := ev.Evaluate(context.Background(), "w", raster.Window{Height: 4, Width: 4})
	require.Error(t, err)
	assert.True(t, eris.Is(err, raster.ErrNotCovered))
	assert.Contains(t, err.Error(), "layer slope")
}

func TestValidate_Arity(t *testing.T) {
	p := profile(2, 2)
	ev := &Evaluator{
		Reference: p,
		Layers:    []Layer{{Name: "a", Source: filled(p, 1)}},
		Predicate: Override{Enforce: 2},
		Store:     artifact.NewMemStore(),
	}
	err := ev.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "takes 2 layers")
}

func TestRunTiled_FarmOverride(t *testing.T) {
	ctx := context.Background()
	p := profile(12, 12)
	base := raster.New(p)
	mask := raster.New(p)
	for i := range base.Data {
		base.Data[i] = float32(1 + i%2)
		if i%5 == 0 {
			mask.Data[i] = 2
		} else if i%7 == 0 {
			mask.Data[i] = 1
		}
	}

	out := filepath.Join(t.TempDir(), "grazing_with_farms.tif")
	store := artifact.NewMemStore()
	res, err := RunTiled(ctx, workpool.New("override", 3), TiledJob{
		Reference: p,
		Layers: []Layer{
			{Name: "grazing", Source: base},
			{Name: "farms", Source: mask},
		},
		Predicate:  Override{Enforce: 2},
		WindowSize: 5,
		Store:      store,
		Output:     out,
	})
	require.NoError(t, err)
	assert.Equal(t, 9, res.Report.Done)
	assert.Zero(t, store.Len())

	for i, v := range res.Grid.Data {
		want := base.Data[i]
		if mask.Data[i] == 2 {
			want = 2
		}
		require.Equal(t, want, v, "pixel %d", i)
	}

	written, err := raster.Read(out)
	require.NoError(t, err)
	assert.Equal(t, res.Grid.Data, written.Data)
	assert.Equal(t, p.Transform, written.Transform)
}

func TestRunTiled_KeepsArtifactsAndReusesThem(t *testing.T) {
	ctx := context.Background()
	p := profile(6, 6)
	store := artifact.NewMemStore()
	job := TiledJob{
		Reference:     p,
		Layers:        []Layer{{Name: "grazing", Source: filled(p, 1)}, {Name: "farms", Source: filled(p, 0)}},
		Predicate:     Override{Enforce: 2},
		WindowSize:    4,
		Store:         store,
		KeepArtifacts: true,
	}

	res, err := RunTiled(ctx, workpool.New("first", 2), job)
	require.NoError(t, err)
	assert.Equal(t, 4, res.Report.Done)
	assert.Equal(t, 4, store.Len())

	res, err = RunTiled(ctx, workpool.New("second", 2), job)
	require.NoError(t, err)
	assert.Equal(t, 4, res.Report.AlreadyDone)
	assert.Zero(t, res.Report.Done)
}

func TestRunFiles(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	ndviDir := filepath.Join(dir, "ndvi_active")
	saviDir := filepath.Join(dir, "savi_active")
	outDir := filepath.Join(dir, "final_mask")

	p := profile(3, 3)
	ndvi := filled(p, 1)
	ndvi.Data[4] = 2
	require.NoError(t, raster.Write(filepath.Join(ndviDir, "tile_a_active_new.tif"), ndvi))
	require.NoError(t, raster.Write(filepath.Join(saviDir, "tile_a_active_new.tif"), filled(p, 1)))
	require.NoError(t, raster.Write(filepath.Join(ndviDir, "tile_b_active_new.tif"), filled(p, 1)))

	// Land cover and slope cover a wider area at a coarser resolution.
	wide := raster.Profile{
		CRS:       "EPSG:5070",
		Transform: raster.Transform{A: 30, C: 4970, E: -30, F: 9030},
		Width:     3,
		Height:    3,
		DType:     raster.Uint8,
		NoData:    raster.NoDataValue(0),
	}
	landCover := filled(wide, 1)
	slope := filled(wide, 1)

	job := FilesJob{
		NDVIDir:   ndviDir,
		SAVIDir:   saviDir,
		LandCover: landCover,
		Slope:     slope,
		Store:     artifact.NewDirStore(outDir),
	}
	rep, err := RunFiles(ctx, workpool.New("consensus", 4), job)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Done)
	require.Len(t, rep.Skipped, 1)
	assert.Contains(t, rep.Skipped[0], "missing SAVI for tile_b_active_new.tif")

	mask, err := raster.Read(filepath.Join(outDir, "tile_a_mask.tif"))
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 1, 1, 1, 2, 1, 1, 1, 1}, mask.Data)

	rep, err = RunFiles(ctx, workpool.New("consensus", 4), job)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.AlreadyDone)
	assert.Zero(t, rep.Done)
}

func TestRunFiles_NoInputs(t *testing.T) {
	_, err := RunFiles(context.Background(), workpool.New("consensus", 1), FilesJob{
		NDVIDir: t.TempDir(),
		Store:   artifact.NewMemStore(),
	})
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrNoInputs))
}

func TestMaskID(t *testing.T) {
	assert.Equal(t, "tile_7_mask", MaskID("/data/ndvi/tile_7_active_new.tif"))
	assert.Equal(t, "tile_7_mask", MaskID("tile_7.tif"))
}
