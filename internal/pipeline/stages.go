package pipeline

import (
	"context"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/grazing-cli/internal/artifact"
	"github.com/sells-group/grazing-cli/internal/classify"
	"github.com/sells-group/grazing-cli/internal/consensus"
	"github.com/sells-group/grazing-cli/internal/farms"
	"github.com/sells-group/grazing-cli/internal/model"
	"github.com/sells-group/grazing-cli/internal/mosaic"
	"github.com/sells-group/grazing-cli/internal/raster"
	"github.com/sells-group/grazing-cli/internal/vectorize"
	"github.com/sells-group/grazing-cli/internal/workpool"
)

// overrideDir holds the per-window artifacts of the farm override pass.
const overrideDir = "farm_override_windows"

func fromReport(rep workpool.Report) *model.StageResult {
	return &model.StageResult{
		Done:        rep.Done,
		AlreadyDone: rep.AlreadyDone,
		Skipped:     rep.Skipped,
	}
}

func fromOutcome(o workpool.Outcome, output string) *model.StageResult {
	sr := &model.StageResult{Output: output}
	if o == workpool.AlreadyDone {
		sr.AlreadyDone = 1
	} else {
		sr.Done = 1
	}
	return sr
}

func (r *Runner) slope(ctx context.Context, _ *runState) (*model.StageResult, error) {
	p := r.cfg.Paths.DEM
	gentle := r.cfg.Thresholds.SlopeReclass.GentleMaxDeg
	o, err := classify.ReclassFile(ctx, p.SlopeDeg, p.SlopeReclass, func(g *raster.Grid) *raster.Grid {
		return classify.Slope(g, gentle)
	})
	if err != nil {
		return nil, eris.Wrapf(err, "reclassify slope %s", p.SlopeDeg)
	}
	return fromOutcome(o, p.SlopeReclass), nil
}

// landCover builds the land-cover class mask from the raw product. Without a
// raw path the mask is expected to exist already.
func (r *Runner) landCover(ctx context.Context, _ *runState) (*model.StageResult, error) {
	p := r.cfg.Paths.LandCover
	if p.Raw == "" {
		return nil, errNothingToDo
	}
	codes := r.cfg.LandCover.CompatibleCodes
	o, err := classify.ReclassFile(ctx, p.Raw, p.Mask, func(g *raster.Grid) *raster.Grid {
		return classify.LandCover(g, codes)
	})
	if err != nil {
		return nil, eris.Wrapf(err, "reclassify land cover %s", p.Raw)
	}
	return fromOutcome(o, p.Mask), nil
}

// indices classifies the NDVI and SAVI directories on a CPU-sized pool.
func (r *Runner) indices(ctx context.Context, _ *runState) (*model.StageResult, error) {
	p := r.cfg.Paths.Indices
	pool := workpool.New("classify", r.cfg.Pool.ClassifyWorkers)

	sr := &model.StageResult{Output: p.NDVIActiveDir}
	for _, job := range []classify.IndexJob{
		{Name: "ndvi", InputDir: p.NDVIDir, OutputDir: p.NDVIActiveDir, Range: r.cfg.Thresholds.NDVI},
		{Name: "savi", InputDir: p.SAVIDir, OutputDir: p.SAVIActiveDir, Range: r.cfg.Thresholds.SAVI},
	} {
		rep, err := classify.IndexFiles(ctx, pool, job)
		if err != nil {
			return nil, err
		}
		sr.Done += rep.Done
		sr.AlreadyDone += rep.AlreadyDone
		sr.Skipped = append(sr.Skipped, rep.Skipped...)
	}
	return sr, nil
}

func (r *Runner) consensusFiles(ctx context.Context, _ *runState) (*model.StageResult, error) {
	p := r.cfg.Paths
	lc, err := raster.OpenSource(p.LandCover.Mask)
	if err != nil {
		return nil, eris.Wrap(err, "open land cover mask")
	}
	slope, err := raster.OpenSource(p.DEM.SlopeReclass)
	if err != nil {
		return nil, eris.Wrap(err, "open slope mask")
	}

	rep, err := consensus.RunFiles(ctx, workpool.New("consensus", r.cfg.Pool.MaxWorkers), consensus.FilesJob{
		NDVIDir:   p.Indices.NDVIActiveDir,
		SAVIDir:   p.Indices.SAVIActiveDir,
		LandCover: lc,
		Slope:     slope,
		Store:     artifact.NewDirStore(p.Indices.FinalMaskDir),
	})
	if err != nil {
		return nil, err
	}
	sr := fromReport(rep)
	sr.Output = p.Indices.FinalMaskDir
	return sr, nil
}

// mosaic merges the per-file masks. The masks are inputs of later runs, so
// they are never purged here.
func (r *Runner) mosaic(ctx context.Context, _ *runState) (*model.StageResult, error) {
	p := r.cfg.Paths
	g, err := mosaic.Assemble(ctx, artifact.NewDirStore(p.Indices.FinalMaskDir), mosaic.Options{})
	if err != nil {
		return nil, err
	}
	if err := raster.Write(p.Mosaics.Grazing, g); err != nil {
		return nil, err
	}
	return &model.StageResult{Done: 1, Output: p.Mosaics.Grazing}, nil
}

func (r *Runner) farmMask(_ context.Context, _ *runState) (*model.StageResult, error) {
	p := r.cfg.Paths
	if p.Farms.Shapefile == "" {
		return nil, errNothingToDo
	}
	if raster.Exists(p.Farms.Mask) {
		return &model.StageResult{AlreadyDone: 1, Output: p.Farms.Mask}, nil
	}

	polys, err := farms.LoadShapefile(p.Farms.Shapefile)
	if err != nil {
		return nil, err
	}
	ref, err := raster.ReadProfile(p.Mosaics.Grazing)
	if err != nil {
		return nil, eris.Wrap(err, "read grazing mosaic profile")
	}
	g, err := farms.Rasterize(ref, polys)
	if err != nil {
		return nil, err
	}
	if err := raster.Write(p.Farms.Mask, g); err != nil {
		return nil, err
	}
	zap.L().Info("farm mask written",
		zap.String("component", "pipeline"),
		zap.Int("polygons", len(polys)),
		zap.String("path", p.Farms.Mask),
	)
	return &model.StageResult{Done: 1, Output: p.Farms.Mask}, nil
}

// farmOverride forces farm pixels to the configured class over the grazing
// mosaic, window by window. Without a farm mask there is nothing to apply.
func (r *Runner) farmOverride(ctx context.Context, _ *runState) (*model.StageResult, error) {
	p := r.cfg.Paths
	if !raster.Exists(p.Farms.Mask) {
		if p.Farms.Shapefile == "" {
			return nil, errNothingToDo
		}
		return nil, eris.Errorf("farm mask %s not found", p.Farms.Mask)
	}

	base, err := raster.OpenSource(p.Mosaics.Grazing)
	if err != nil {
		return nil, eris.Wrap(err, "open grazing mosaic")
	}
	farm, err := raster.OpenSource(p.Farms.Mask)
	if err != nil {
		return nil, eris.Wrap(err, "open farm mask")
	}

	res, err := consensus.RunTiled(ctx, workpool.New("override", r.cfg.Pool.MaxWorkers), consensus.TiledJob{
		Reference: base.Header(),
		Layers: []consensus.Layer{
			{Name: "grazing", Source: base},
			{Name: "farms", Source: farm},
		},
		Predicate:     consensus.Override{Enforce: uint8(r.cfg.Consensus.EnforceFarmAsClass)},
		WindowSize:    r.cfg.Consensus.WindowSize,
		Store:         artifact.NewDirStore(filepath.Join(p.WorkDir, overrideDir)),
		Output:        p.Mosaics.GrazingWithFarms,
		KeepArtifacts: r.cfg.Consensus.KeepArtifacts,
	})
	if err != nil {
		return nil, err
	}
	sr := fromReport(res.Report)
	sr.Output = p.Mosaics.GrazingWithFarms
	return sr, nil
}

// vectorizeInput prefers the farm-adjusted mosaic when one exists.
func (r *Runner) vectorizeInput() string {
	m := r.cfg.Paths.Mosaics
	if raster.Exists(m.GrazingWithFarms) {
		return m.GrazingWithFarms
	}
	return m.Grazing
}

func (r *Runner) vectorize(ctx context.Context, rs *runState) (*model.StageResult, error) {
	in := r.vectorizeInput()
	g, err := raster.Read(in)
	if err != nil {
		return nil, err
	}

	vc := r.cfg.Vectorize
	res, err := vectorize.Run(ctx, g, vectorize.Options{
		TargetClass:       vc.TargetClass,
		MinPixels:         vc.MinPixels,
		MinHa:             vc.MinHa,
		MaxHa:             vc.MaxHa,
		SimplifyTolerance: vc.SimplifyToleranceM,
		MinCompactness:    vc.MinCompactness,
		MinConvexity:      vc.MinConvexity,
		MaxElongation:     vc.MaxElongation,
		Workers:           r.cfg.Pool.ClassifyWorkers,
	})
	if err != nil {
		return nil, err
	}

	out := r.cfg.Paths.Vectors
	if len(res.Patches) == 0 {
		// Stale outputs from an earlier run would otherwise survive.
		for _, path := range []string{out.Shapefile, out.GeoJSON} {
			if err := removeVector(path); err != nil {
				return nil, err
			}
		}
		zap.L().Warn("no patches survived filtering",
			zap.String("component", "pipeline"),
			zap.String("input", in),
		)
	} else {
		if out.Shapefile != "" {
			if err := vectorize.WriteShapefile(out.Shapefile, res); err != nil {
				return nil, err
			}
		}
		if out.GeoJSON != "" {
			if err := vectorize.WriteGeoJSON(out.GeoJSON, res); err != nil {
				return nil, err
			}
		}
	}

	rs.result.Patches = res.Summary.Patches
	rs.result.AreaHa = res.Summary.TotalHa
	if r.store != nil {
		if _, err := r.store.SavePatches(ctx, rs.runID, res.CRS, res.Patches); err != nil {
			return nil, eris.Wrap(err, "save patches")
		}
	}
	return &model.StageResult{Done: len(res.Patches), Output: out.Shapefile}, nil
}

// removeVector deletes a vector output and, for shapefiles, its sidecars.
func removeVector(path string) error {
	if path == "" {
		return nil
	}
	paths := []string{path}
	if filepath.Ext(path) == ".shp" {
		stem := path[:len(path)-len(".shp")]
		for _, ext := range []string{".shx", ".dbf", ".prj"} {
			paths = append(paths, stem+ext)
		}
	}
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return eris.Wrapf(err, "remove %s", p)
		}
	}
	return nil
}
