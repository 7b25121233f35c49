package consensus

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/grazing-cli/internal/artifact"
	"github.com/sells-group/grazing-cli/internal/raster"
	"github.com/sells-group/grazing-cli/internal/workpool"
)

// ErrNoInputs is returned when the per-file stage finds no NDVI inputs.
var ErrNoInputs = eris.New("consensus: no NDVI active files, run index classification first")

// FilesJob describes the per-file consensus stage: each NDVI activity mask
// is paired with the SAVI mask of the same name and combined with the land
// cover and slope masks sampled over the NDVI file's bounds.
type FilesJob struct {
	NDVIDir   string
	SAVIDir   string
	LandCover raster.Source
	Slope     raster.Source
	// Store receives one mask per NDVI file.
	Store artifact.Store
}

// MaskID returns the artifact id for an NDVI input file.
func MaskID(ndviPath string) string {
	return strings.Replace(raster.Stem(ndviPath), "_active_new", "", 1) + "_mask"
}

// RunFiles evaluates AllQualifying for every NDVI file under pool. A missing
// SAVI partner skips that file with a warning. An existing mask is kept.
func RunFiles(ctx context.Context, pool *workpool.Pool, job FilesJob) (workpool.Report, error) {
	files, err := raster.List(job.NDVIDir)
	if err != nil {
		return workpool.Report{}, eris.Wrap(err, "consensus: list NDVI")
	}
	if len(files) == 0 {
		return workpool.Report{}, eris.Wrapf(ErrNoInputs, "consensus: %s", job.NDVIDir)
	}
	if job.LandCover == nil || job.Slope == nil {
		return workpool.Report{}, eris.New("consensus: land cover and slope layers are required")
	}

	tasks := make([]workpool.Task, 0, len(files))
	for _, ndvi := range files {
		tasks = append(tasks, workpool.Task{
			ID: filepath.Base(ndvi),
			Run: func(ctx context.Context) (workpool.Outcome, error) {
				return evaluateFile(ctx, job, ndvi)
			},
		})
	}

	zap.L().Info("per-file consensus",
		zap.String("component", "consensus.files"),
		zap.Int("files", len(files)),
		zap.Int("workers", pool.Capacity()),
	)
	rep, err := pool.Run(ctx, tasks)
	if err != nil {
		return rep, eris.Wrap(err, "consensus: per-file pass")
	}
	return rep, nil
}

func evaluateFile(ctx context.Context, job FilesJob, ndviPath string) (workpool.Outcome, error) {
	name := filepath.Base(ndviPath)
	saviPath := filepath.Join(job.SAVIDir, name)
	if _, err := os.Stat(saviPath); err != nil {
		return workpool.Done, workpool.Skip(eris.Errorf("missing SAVI for %s", name))
	}

	id := MaskID(ndviPath)
	if ok, err := job.Store.Has(ctx, id); err != nil {
		return workpool.Done, err
	} else if ok {
		return workpool.AlreadyDone, nil
	}

	ndvi, err := raster.OpenSource(ndviPath)
	if err != nil {
		return workpool.Done, workpool.Skip(err)
	}
	savi, err := raster.OpenSource(saviPath)
	if err != nil {
		return workpool.Done, workpool.Skip(err)
	}

	ev := &Evaluator{
		Reference: ndvi.Header(),
		Layers: []Layer{
			{Name: "ndvi", Source: ndvi},
			{Name: "savi", Source: savi},
			{Name: "land_cover", Source: job.LandCover},
			{Name: "slope", Source: job.Slope},
		},
		Predicate: AllQualifying{},
		Store:     job.Store,
	}
	if err := ev.Validate(); err != nil {
		return workpool.Done, eris.Wrapf(err, "consensus: %s", name)
	}
	full := raster.Window{Height: ev.Reference.Height, Width: ev.Reference.Width}
	res, err := ev.Evaluate(ctx, id, full)
	if err != nil {
		return workpool.Done, err
	}
	return outcome(res.Status), nil
}
