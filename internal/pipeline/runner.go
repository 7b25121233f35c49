// Package pipeline runs the grazing stages in order and records each run in
// the ledger.
package pipeline

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/grazing-cli/internal/config"
	"github.com/sells-group/grazing-cli/internal/model"
	"github.com/sells-group/grazing-cli/internal/store"
)

// Stage names, in execution order.
const (
	StageSlope        = "slope_reclass"
	StageLandCover    = "land_cover_reclass"
	StageIndices      = "classify_indices"
	StageConsensus    = "consensus_files"
	StageMosaic       = "mosaic"
	StageFarmMask     = "farm_rasterize"
	StageFarmOverride = "farm_override"
	StageVectorize    = "vectorize"
)

// Stages lists every stage in the order Run executes them.
var Stages = []string{
	StageSlope,
	StageLandCover,
	StageIndices,
	StageConsensus,
	StageMosaic,
	StageFarmMask,
	StageFarmOverride,
	StageVectorize,
}

// errNothingToDo marks a stage whose optional input is not configured.
var errNothingToDo = eris.New("nothing to do")

type stageFunc func(ctx context.Context, rs *runState) (*model.StageResult, error)

// runState carries values between stages of one run.
type runState struct {
	runID  string
	result *model.RunResult
}

// Runner executes pipeline stages against one configuration.
type Runner struct {
	cfg    *config.Config
	store  store.Store
	stages map[string]stageFunc
}

// New creates a Runner. st may be nil, in which case nothing is recorded.
func New(cfg *config.Config, st store.Store) *Runner {
	r := &Runner{cfg: cfg, store: st}
	r.stages = map[string]stageFunc{
		StageSlope:        r.slope,
		StageLandCover:    r.landCover,
		StageIndices:      r.indices,
		StageConsensus:    r.consensusFiles,
		StageMosaic:       r.mosaic,
		StageFarmMask:     r.farmMask,
		StageFarmOverride: r.farmOverride,
		StageVectorize:    r.vectorize,
	}
	return r
}

// Run executes the named stages in pipeline order, or every stage when none
// are named. The first failing stage stops the run; its error is returned
// along with the partial result.
func (r *Runner) Run(ctx context.Context, command string, names ...string) (*model.RunResult, error) {
	selected, err := selectStages(names)
	if err != nil {
		return nil, err
	}

	log := zap.L().With(zap.String("component", "pipeline"), zap.String("command", command))
	rs := &runState{result: &model.RunResult{}}

	if r.store != nil {
		run, err := r.store.CreateRun(ctx, command, r.cfg.File)
		if err != nil {
			return nil, eris.Wrap(err, "pipeline: create run")
		}
		rs.runID = run.ID
		log = log.With(zap.String("run_id", run.ID))
		if err := r.store.UpdateRunStatus(ctx, run.ID, model.RunStatusRunning); err != nil {
			log.Warn("pipeline: failed to update status", zap.Error(err))
		}
	}

	log.Info("pipeline: starting", zap.Strings("stages", selected))
	var runErr error
	for _, name := range selected {
		sr, err := r.track(ctx, log, rs, name)
		rs.result.Stages = append(rs.result.Stages, *sr)
		if err != nil {
			runErr = eris.Wrapf(err, "pipeline: %s", name)
			rs.result.Error = runErr.Error()
			break
		}
	}

	if r.store != nil {
		// The run context may already be cancelled; the ledger still gets the
		// final state.
		if err := r.store.UpdateRunResult(context.WithoutCancel(ctx), rs.runID, rs.result); err != nil {
			log.Warn("pipeline: failed to save run result", zap.Error(err))
		}
	}
	if runErr != nil {
		return rs.result, runErr
	}
	log.Info("pipeline: complete",
		zap.Int("patches", rs.result.Patches),
		zap.Float64("area_ha", rs.result.AreaHa),
	)
	return rs.result, nil
}

// track runs one stage and records it in the ledger.
func (r *Runner) track(ctx context.Context, log *zap.Logger, rs *runState, name string) (*model.StageResult, error) {
	var stage *model.Stage
	if r.store != nil {
		var err error
		if stage, err = r.store.CreateStage(ctx, rs.runID, name); err != nil {
			log.Warn("pipeline: failed to create stage", zap.String("stage", name), zap.Error(err))
		}
	}

	start := time.Now()
	sr, err := r.stages[name](ctx, rs)
	duration := time.Since(start).Milliseconds()

	if sr == nil {
		sr = &model.StageResult{}
	}
	sr.Name = name
	sr.Duration = duration

	switch {
	case errors.Is(err, errNothingToDo):
		sr.Status = model.StageStatusSkipped
		log.Info("pipeline: stage skipped, nothing to do", zap.String("stage", name))
		err = nil
	case err != nil:
		sr.Status = model.StageStatusFailed
		sr.Error = err.Error()
		log.Error("pipeline: stage failed",
			zap.String("stage", name),
			zap.Int64("duration_ms", duration),
			zap.Error(err),
		)
	default:
		sr.Status = model.StageStatusComplete
		log.Info("pipeline: stage complete",
			zap.String("stage", name),
			zap.Int64("duration_ms", duration),
			zap.Int("done", sr.Done),
			zap.Int("already_done", sr.AlreadyDone),
			zap.Int("skipped", len(sr.Skipped)),
		)
	}

	if stage != nil {
		if cerr := r.store.CompleteStage(context.WithoutCancel(ctx), stage.ID, sr); cerr != nil {
			log.Warn("pipeline: failed to complete stage", zap.String("stage", name), zap.Error(cerr))
		}
	}
	return sr, err
}

// selectStages returns names in pipeline order, or every stage when names is
// empty.
func selectStages(names []string) ([]string, error) {
	if len(names) == 0 {
		return Stages, nil
	}
	for _, n := range names {
		if !slices.Contains(Stages, n) {
			return nil, eris.Errorf("pipeline: unknown stage %q", n)
		}
	}
	out := make([]string, 0, len(names))
	for _, s := range Stages {
		if slices.Contains(names, s) {
			out = append(out, s)
		}
	}
	return out, nil
}
