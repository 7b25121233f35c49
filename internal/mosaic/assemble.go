// Package mosaic merges per-window artifacts back into one raster.
package mosaic

import (
	"context"
	"math"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/grazing-cli/internal/artifact"
	"github.com/sells-group/grazing-cli/internal/raster"
)

// ErrNoArtifacts is returned when the store holds nothing to assemble.
var ErrNoArtifacts = eris.New("mosaic: no artifacts to assemble")

// pixelTol is the relative tolerance for comparing pixel sizes.
const pixelTol = 1e-9

// Options controls Assemble.
type Options struct {
	// Cleanup purges the store after a successful assembly.
	Cleanup bool
}

// Assemble merges every artifact in s into one grid covering the union of
// their extents. Artifacts are visited in ascending id order and the first
// valid value written to a pixel wins. Pixels no artifact covers hold the
// nodata fill. All artifacts must share CRS and pixel size; a mismatch wraps
// raster.ErrGridMismatch.
func Assemble(ctx context.Context, s artifact.Store, opts Options) (*raster.Grid, error) {
	log := zap.L().With(zap.String("component", "mosaic"))

	ids, err := s.IDs(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "mosaic: list artifacts")
	}
	if len(ids) == 0 {
		return nil, ErrNoArtifacts
	}

	profiles := make([]raster.Profile, len(ids))
	for i, id := range ids {
		p, err := s.Profile(ctx, id)
		if err != nil {
			return nil, eris.Wrapf(err, "mosaic: profile %s", id)
		}
		profiles[i] = p
	}
	out, err := outputProfile(ids, profiles)
	if err != nil {
		return nil, err
	}

	dst := raster.New(out)
	written := make([]bool, len(dst.Data))
	for i, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		g, err := s.Get(ctx, id)
		if err != nil {
			return nil, eris.Wrapf(err, "mosaic: read %s", id)
		}
		paste(dst, written, g, offset(out, profiles[i]))
	}

	log.Info("mosaic assembled",
		zap.Int("artifacts", len(ids)),
		zap.Int("width", out.Width),
		zap.Int("height", out.Height),
	)

	if opts.Cleanup {
		if err := s.Purge(ctx); err != nil {
			return nil, eris.Wrap(err, "mosaic: cleanup")
		}
	}
	return dst, nil
}

func outputProfile(ids []string, profiles []raster.Profile) (raster.Profile, error) {
	first := profiles[0]
	if first.Transform.A <= 0 || first.Transform.E >= 0 {
		return raster.Profile{}, eris.Wrapf(raster.ErrGridMismatch, "mosaic: %s is not north-up", ids[0])
	}

	b := first.Bounds()
	for i, p := range profiles[1:] {
		id := ids[i+1]
		if !closeTo(p.Transform.A, first.Transform.A) || !closeTo(p.Transform.E, first.Transform.E) {
			return raster.Profile{}, eris.Wrapf(raster.ErrGridMismatch,
				"mosaic: %s pixel size %gx%g differs from %gx%g", id,
				p.Transform.A, p.Transform.E, first.Transform.A, first.Transform.E)
		}
		if p.CRS != first.CRS {
			return raster.Profile{}, eris.Wrapf(raster.ErrGridMismatch,
				"mosaic: %s crs %q differs from %q", id, p.CRS, first.CRS)
		}
		b = b.Union(p.Bounds())
	}

	out := first
	out.Transform.C = b.Left
	out.Transform.F = b.Top
	out.Width = int(math.Round(b.Width() / first.Transform.A))
	out.Height = int(math.Round(b.Height() / -first.Transform.E))
	return out, nil
}

// offset returns the pixel position of p's origin within out.
func offset(out, p raster.Profile) raster.Window {
	return raster.Window{
		RowOff: int(math.Round((p.Transform.F - out.Transform.F) / out.Transform.E)),
		ColOff: int(math.Round((p.Transform.C - out.Transform.C) / out.Transform.A)),
		Height: p.Height,
		Width:  p.Width,
	}
}

func paste(dst *raster.Grid, written []bool, src *raster.Grid, at raster.Window) {
	for r := 0; r < src.Height; r++ {
		dr := at.RowOff + r
		if dr < 0 || dr >= dst.Height {
			continue
		}
		for c := 0; c < src.Width; c++ {
			dc := at.ColOff + c
			if dc < 0 || dc >= dst.Width {
				continue
			}
			i := dr*dst.Width + dc
			v := src.At(r, c)
			if written[i] || !src.Valid(v) {
				continue
			}
			dst.Data[i] = v
			written[i] = true
		}
	}
}

func closeTo(a, b float64) bool {
	return math.Abs(a-b) <= pixelTol*math.Max(math.Abs(a), math.Abs(b))
}
