package consensus

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/grazing-cli/internal/artifact"
	"github.com/sells-group/grazing-cli/internal/raster"
)

// Status tells whether Evaluate produced a new artifact.
type Status int

const (
	// Computed means the artifact was written by this call.
	Computed Status = iota
	// AlreadyComputed means an artifact existed under the key and was kept.
	AlreadyComputed
)

func (s Status) String() string {
	if s == AlreadyComputed {
		return "already_computed"
	}
	return "computed"
}

// Layer is a named input to the evaluator.
type Layer struct {
	Name   string
	Source raster.Source
}

// Result describes one evaluated window.
type Result struct {
	ID     string
	Window raster.Window
	Status Status
}

// Evaluator applies a Predicate to every pixel of a window. Windows are
// defined on Reference; each layer is sampled onto the window's grid.
type Evaluator struct {
	Reference raster.Profile
	Layers    []Layer
	Predicate Predicate
	Store     artifact.Store
}

// Validate checks the evaluator configuration.
func (e *Evaluator) Validate() error {
	if e.Predicate == nil {
		return eris.New("consensus: no predicate")
	}
	if e.Store == nil {
		return eris.New("consensus: no artifact store")
	}
	if len(e.Layers) != e.Predicate.Arity() {
		return eris.Errorf("consensus: predicate %s takes %d layers, got %d",
			e.Predicate.Name(), e.Predicate.Arity(), len(e.Layers))
	}
	return e.Reference.Validate()
}

// OutputProfile returns the profile of the artifact produced for w.
func (e *Evaluator) OutputProfile(w raster.Window) raster.Profile {
	p := e.Reference.WithWindow(w)
	p.DType = raster.Uint8
	if p.NoData == nil || *p.NoData < 0 || *p.NoData > 255 {
		p.NoData = raster.NoDataValue(raster.ClassNoData)
	}
	return p
}

// Evaluate computes the artifact for w and stores it under id. If id is
// already present nothing is read or written and the result is
// AlreadyComputed; stale artifacts must be removed by the caller first.
//
// A layer that does not cover the window's bounds is a configuration fault:
// the returned error wraps raster.ErrNotCovered and names the layer.
func (e *Evaluator) Evaluate(ctx context.Context, id string, w raster.Window) (Result, error) {
	res := Result{ID: id, Window: w}

	exists, err := e.Store.Has(ctx, id)
	if err != nil {
		return res, eris.Wrapf(err, "consensus: check %s", id)
	}
	if exists {
		res.Status = AlreadyComputed
		return res, nil
	}

	out := raster.New(e.OutputProfile(w))
	bounds := out.Bounds()

	grids := make([]*raster.Grid, len(e.Layers))
	for i, l := range e.Layers {
		g, err := l.Source.ReadBounds(ctx, bounds, w.Height, w.Width)
		if err != nil {
			return res, eris.Wrapf(err, "consensus: layer %s for window %s", l.Name, id)
		}
		grids[i] = g
	}

	vals := make([]float32, len(grids))
	valid := make([]bool, len(grids))
	for px := range out.Data {
		for i, g := range grids {
			vals[i] = g.Data[px]
			valid[i] = g.Valid(vals[i])
		}
		out.Data[px] = float32(e.Predicate.Eval(vals, valid))
	}

	if err := ctx.Err(); err != nil {
		return res, err
	}
	if err := e.Store.Put(ctx, id, out); err != nil {
		return res, eris.Wrapf(err, "consensus: store %s", id)
	}
	res.Status = Computed
	return res, nil
}
