// Package vectorize turns a classified raster into filtered, smoothed patch
// polygons with shape metrics.
package vectorize

import (
	"context"
	"math"
	"sort"
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"

	"github.com/sells-group/grazing-cli/internal/model"
	"github.com/sells-group/grazing-cli/internal/raster"
	"github.com/sells-group/grazing-cli/internal/workpool"
)

// Options configures Run. Zero shape thresholds disable that filter.
type Options struct {
	TargetClass       int
	MinPixels         int
	MinHa             float64
	MaxHa             float64
	SimplifyTolerance float64 // metres

	MinCompactness float64
	MinConvexity   float64
	MaxElongation  float64

	// Workers bounds concurrent smoothing; zero uses every CPU.
	Workers int
}

// Summary reports what each step kept.
type Summary struct {
	Components    int `json:"components"`
	Retained      int `json:"retained"`
	Traced        int `json:"traced"`
	InAreaRange   int `json:"in_area_range"`
	ShapeFiltered int `json:"shape_filtered"`
	Patches       int `json:"patches"`

	Repairs map[model.RepairOutcome]int `json:"repairs"`

	TotalHa         float64 `json:"total_ha"`
	MeanHa          float64 `json:"mean_ha"`
	MedianHa        float64 `json:"median_ha"`
	StdDevHa        float64 `json:"stddev_ha"`
	MeanCompactness float64 `json:"mean_compactness"`
}

// Result is the output of Run. An empty Patches slice is not an error.
type Result struct {
	CRS     string
	Patches []model.Patch
	Summary Summary
}

// Run binarizes g on the target class, labels 8-connected components, drops
// components under MinPixels, traces the rest into polygons, keeps those
// whose area lies in [MinHa, MaxHa], then simplifies, closes and repairs
// each one and recomputes its metrics before the optional shape filter.
// Patches keep the order in which they were traced.
func Run(ctx context.Context, g *raster.Grid, opts Options) (*Result, error) {
	if err := g.Profile.Validate(); err != nil {
		return nil, eris.Wrap(err, "vectorize: input")
	}
	log := zap.L().With(zap.String("component", "vectorize"))
	res := &Result{CRS: g.CRS, Summary: Summary{Repairs: map[model.RepairOutcome]int{}}}

	target := float32(opts.TargetClass)
	mask := make([]bool, len(g.Data))
	for i, v := range g.Data {
		mask[i] = v == target
	}

	comps := Label(mask, g.Height, g.Width, true)
	retained, kept := comps.Retain(opts.MinPixels)
	res.Summary.Components = comps.Count()
	res.Summary.Retained = kept
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	traced := Trace(retained, g.Height, g.Width, g.Transform)
	res.Summary.Traced = len(traced)

	var candidates []*geom.Polygon
	for _, p := range traced {
		ha := p.Area() / sqmPerHa
		if ha < opts.MinHa || ha > opts.MaxHa {
			continue
		}
		candidates = append(candidates, p)
	}
	res.Summary.InAreaRange = len(candidates)
	log.Info("polygons traced",
		zap.Int("components", res.Summary.Components),
		zap.Int("retained", kept),
		zap.Int("traced", len(traced)),
		zap.Int("in_area_range", len(candidates)),
	)

	pw, ph := g.Transform.PixelSize()
	pixel := math.Min(pw, ph)
	patches := make([]model.Patch, len(candidates))

	workers := opts.Workers
	if workers <= 0 {
		workers = workpool.DefaultCPUWorkers
	}
	tasks := make([]workpool.Task, len(candidates))
	for i, p := range candidates {
		tasks[i] = workpool.Task{
			ID: patchID(i),
			Run: func(context.Context) (workpool.Outcome, error) {
				geomOut, outcome := smooth(p, opts.SimplifyTolerance, pixel)
				patches[i] = model.Patch{
					Class:    opts.TargetClass,
					Geometry: geomOut,
					Metrics:  Metrics(geomOut),
					Repair:   outcome,
				}
				return workpool.Done, nil
			},
		}
	}
	if _, err := workpool.New("vectorize", workers).Run(ctx, tasks); err != nil {
		return nil, eris.Wrap(err, "vectorize: smooth")
	}

	for _, p := range patches {
		if !opts.keep(p.Metrics) {
			res.Summary.ShapeFiltered++
			continue
		}
		res.Summary.Repairs[p.Repair]++
		res.Patches = append(res.Patches, p)
	}
	res.Summary.Patches = len(res.Patches)
	res.Summary.fillStats(res.Patches)

	if len(res.Patches) == 0 {
		log.Info("no polygons after filtering")
	}
	return res, nil
}

func (o Options) keep(m model.ShapeMetrics) bool {
	if o.MinCompactness > 0 && m.Compactness < o.MinCompactness {
		return false
	}
	if o.MinConvexity > 0 && m.Convexity < o.MinConvexity {
		return false
	}
	if o.MaxElongation > 0 && m.Elongation > o.MaxElongation {
		return false
	}
	return true
}

func (s *Summary) fillStats(patches []model.Patch) {
	if len(patches) == 0 {
		return
	}
	areas := make([]float64, len(patches))
	compact := make([]float64, len(patches))
	for i, p := range patches {
		areas[i] = p.Metrics.AreaHa
		compact[i] = p.Metrics.Compactness
		s.TotalHa += p.Metrics.AreaHa
	}
	sort.Float64s(areas)
	s.MeanHa = stat.Mean(areas, nil)
	s.MedianHa = stat.Quantile(0.5, stat.Empirical, areas, nil)
	if len(areas) > 1 {
		s.StdDevHa = stat.StdDev(areas, nil)
	}
	s.MeanCompactness = stat.Mean(compact, nil)
}

// smooth simplifies p, closes it by max(tol, 1 m) and repairs the result.
func smooth(p *geom.Polygon, tol, pixel float64) (*geom.Polygon, model.RepairOutcome) {
	s := Simplify(p, tol)
	d := math.Max(tol, 1)
	return repair(p,
		func() (*geom.Polygon, error) { return closePolygon(s, d, math.Min(d, pixel)/4) },
		func() (*geom.Polygon, error) { return closePolygon(s, 0, pixel/4) },
	)
}

// repair returns the first valid candidate with the matching outcome, or
// orig marked RepairFailed when neither is valid.
func repair(orig *geom.Polygon, primary, fallback func() (*geom.Polygon, error)) (*geom.Polygon, model.RepairOutcome) {
	if q, err := primary(); err == nil && Valid(q) {
		return q, model.RepairOK
	}
	if q, err := fallback(); err == nil && Valid(q) {
		return q, model.RepairFallback
	}
	return orig, model.RepairFailed
}

func patchID(i int) string {
	return "polygon_" + strconv.Itoa(i)
}
