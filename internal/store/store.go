// Package store persists the run ledger: pipeline runs, their stages and
// the patches a run produced.
package store

import (
	"context"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom/encoding/ewkb"

	"github.com/sells-group/grazing-cli/internal/model"
)

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status  model.RunStatus `json:"status,omitempty"`
	Command string          `json:"command,omitempty"`
	Limit   int             `json:"limit,omitempty"`
	Offset  int             `json:"offset,omitempty"`
}

// Store defines the persistence interface for the grazing pipeline.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, command, configPath string) (*model.Run, error)
	UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error
	UpdateRunResult(ctx context.Context, runID string, result *model.RunResult) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)

	// Stages
	CreateStage(ctx context.Context, runID string, name string) (*model.Stage, error)
	CompleteStage(ctx context.Context, stageID string, result *model.StageResult) error
	ListStages(ctx context.Context, runID string) ([]model.Stage, error)

	// Patches
	SavePatches(ctx context.Context, runID, crs string, patches []model.Patch) (int, error)
	CountPatches(ctx context.Context, runID string) (int, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// patchColumns is the column order of patch rows in both backends.
var patchColumns = []string{
	"run_id", "idx", "class", "area_ha", "perimeter_m",
	"compactness", "convexity", "elongation", "repair", "srid", "geom",
}

// SRID extracts the numeric code from an "EPSG:<n>" CRS string; anything
// else yields 0.
func SRID(crs string) int {
	code, ok := strings.CutPrefix(strings.ToUpper(strings.TrimSpace(crs)), "EPSG:")
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(code)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// patchRows encodes patches as rows in patchColumns order with EWKB
// geometries.
func patchRows(runID, crs string, patches []model.Patch) ([][]any, error) {
	srid := SRID(crs)
	rows := make([][]any, 0, len(patches))
	for i, p := range patches {
		if p.Geometry == nil {
			return nil, eris.Errorf("store: patch %d has no geometry", i)
		}
		g := p.Geometry.Clone().SetSRID(srid)
		wkb, err := ewkb.Marshal(g, ewkb.NDR)
		if err != nil {
			return nil, eris.Wrapf(err, "store: encode patch %d", i)
		}
		rows = append(rows, []any{
			runID, i, p.Class,
			p.Metrics.AreaHa, p.Metrics.PerimeterM,
			p.Metrics.Compactness, p.Metrics.Convexity, p.Metrics.Elongation,
			string(p.Repair), srid, wkb,
		})
	}
	return rows, nil
}
