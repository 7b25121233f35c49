package classify

import (
	"context"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/grazing-cli/internal/raster"
	"github.com/sells-group/grazing-cli/internal/workpool"
)

// ActiveSuffix is appended to the stem of every classified index file.
const ActiveSuffix = "_active_new"

// IndexJob classifies every raster in InputDir into OutputDir.
type IndexJob struct {
	Name      string
	InputDir  string
	OutputDir string
	Range     Range
}

// ActivePath returns the output path of the classified form of input.
func ActivePath(outDir, input string) string {
	return filepath.Join(outDir, raster.Stem(input)+ActiveSuffix+".tif")
}

// IndexFiles runs Index over each input file under pool. Outputs that
// already exist are reported as AlreadyDone. An empty input directory is not
// an error; the returned report then has Total 0.
func IndexFiles(ctx context.Context, pool *workpool.Pool, job IndexJob) (workpool.Report, error) {
	if err := job.Range.Validate(); err != nil {
		return workpool.Report{}, eris.Wrapf(err, "classify: %s thresholds", job.Name)
	}
	files, err := raster.List(job.InputDir)
	if err != nil {
		return workpool.Report{}, eris.Wrapf(err, "classify: list %s", job.Name)
	}
	log := zap.L().With(zap.String("component", "classify"), zap.String("index", job.Name))
	if len(files) == 0 {
		log.Info("no input files", zap.String("dir", job.InputDir))
		return workpool.Report{}, nil
	}
	if err := os.MkdirAll(job.OutputDir, 0o755); err != nil {
		return workpool.Report{}, eris.Wrapf(err, "classify: create %s", job.OutputDir)
	}

	tasks := make([]workpool.Task, 0, len(files))
	for _, in := range files {
		out := ActivePath(job.OutputDir, in)
		tasks = append(tasks, workpool.Task{
			ID: filepath.Base(in),
			Run: func(ctx context.Context) (workpool.Outcome, error) {
				return ReclassFile(ctx, in, out, func(g *raster.Grid) *raster.Grid {
					return Index(g, job.Range)
				})
			},
		})
	}

	log.Info("classifying", zap.Int("files", len(files)), zap.Int("workers", pool.Capacity()))
	rep, err := pool.Run(ctx, tasks)
	if err != nil {
		return rep, eris.Wrapf(err, "classify: %s", job.Name)
	}
	return rep, nil
}

// ReclassFile reads in, applies fn and writes the result to out. An existing
// out is left untouched.
func ReclassFile(ctx context.Context, in, out string, fn func(*raster.Grid) *raster.Grid) (workpool.Outcome, error) {
	if raster.Exists(out) {
		return workpool.AlreadyDone, nil
	}
	if err := ctx.Err(); err != nil {
		return workpool.Done, err
	}
	g, err := raster.Read(in)
	if err != nil {
		return workpool.Done, err
	}
	if err := raster.Write(out, fn(g)); err != nil {
		return workpool.Done, err
	}
	return workpool.Done, nil
}
