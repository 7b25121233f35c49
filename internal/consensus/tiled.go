package consensus

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/grazing-cli/internal/artifact"
	"github.com/sells-group/grazing-cli/internal/mosaic"
	"github.com/sells-group/grazing-cli/internal/raster"
	"github.com/sells-group/grazing-cli/internal/tiling"
	"github.com/sells-group/grazing-cli/internal/workpool"
)

// TiledJob describes a windowed consensus pass over a reference raster.
type TiledJob struct {
	// Reference defines the pixel grid that is tiled. It is usually also the
	// first layer.
	Reference  raster.Profile
	Layers     []Layer
	Predicate  Predicate
	WindowSize int
	Store      artifact.Store
	// Output, if set, receives the assembled mosaic.
	Output string
	// KeepArtifacts leaves the per-window artifacts in the store after
	// assembly.
	KeepArtifacts bool
}

// TiledResult is the outcome of RunTiled.
type TiledResult struct {
	Grid   *raster.Grid
	Report workpool.Report
}

// RunTiled plans windows over the reference grid, evaluates each under pool
// and assembles the artifacts into one raster.
func RunTiled(ctx context.Context, pool *workpool.Pool, job TiledJob) (*TiledResult, error) {
	size := job.WindowSize
	if size <= 0 {
		size = tiling.DefaultWindowSize
	}
	ev := &Evaluator{
		Reference: job.Reference,
		Layers:    job.Layers,
		Predicate: job.Predicate,
		Store:     job.Store,
	}
	if err := ev.Validate(); err != nil {
		return nil, err
	}

	log := zap.L().With(
		zap.String("component", "consensus.tiled"),
		zap.String("predicate", job.Predicate.Name()),
	)

	tasks := make([]workpool.Task, 0, tiling.Count(job.Reference.Height, job.Reference.Width, size))
	for w := range tiling.Windows(job.Reference.Height, job.Reference.Width, size) {
		id := tiling.WindowID(w)
		tasks = append(tasks, workpool.Task{
			ID: id,
			Run: func(ctx context.Context) (workpool.Outcome, error) {
				res, err := ev.Evaluate(ctx, id, w)
				if err != nil {
					return workpool.Done, err
				}
				return outcome(res.Status), nil
			},
		})
	}
	log.Info("evaluating windows",
		zap.Int("windows", len(tasks)),
		zap.Int("window_size", size),
		zap.Int("workers", pool.Capacity()),
	)

	rep, err := pool.Run(ctx, tasks)
	if err != nil {
		return nil, eris.Wrap(err, "consensus: tiled pass")
	}

	g, err := mosaic.Assemble(ctx, job.Store, mosaic.Options{Cleanup: !job.KeepArtifacts})
	if err != nil {
		return nil, eris.Wrap(err, "consensus: assemble")
	}
	if job.Output != "" {
		if err := raster.Write(job.Output, g); err != nil {
			return nil, eris.Wrap(err, "consensus: write mosaic")
		}
		log.Info("mosaic written", zap.String("path", job.Output))
	}
	return &TiledResult{Grid: g, Report: rep}, nil
}

func outcome(s Status) workpool.Outcome {
	if s == AlreadyComputed {
		return workpool.AlreadyDone
	}
	return workpool.Done
}
