// Package classify turns single-band rasters (vegetation indices, slope,
// land cover) into class masks using the shared class codes: 1 where the
// pixel qualifies for grazing, 2 where it has data but does not, 0 for
// nodata.
package classify

import (
	"math"
	"slices"

	"github.com/rotisserie/eris"

	"github.com/sells-group/grazing-cli/internal/raster"
)

// Range is an inclusive value range.
type Range struct {
	Min float64 `mapstructure:"min" json:"min"`
	Max float64 `mapstructure:"max" json:"max"`
}

// Contains reports whether v lies in [Min, Max].
func (r Range) Contains(v float64) bool { return v >= r.Min && v <= r.Max }

// ContainsSample is Contains at float32 precision, the precision index
// rasters are stored in. A sample equal to float32(Max) is inside the range.
func (r Range) ContainsSample(v float32) bool {
	return v >= float32(r.Min) && v <= float32(r.Max)
}

// Validate rejects empty or non-finite ranges.
func (r Range) Validate() error {
	if math.IsNaN(r.Min) || math.IsNaN(r.Max) || math.IsInf(r.Min, 0) || math.IsInf(r.Max, 0) {
		return eris.Errorf("classify: non-finite range [%v, %v]", r.Min, r.Max)
	}
	if r.Min > r.Max {
		return eris.Errorf("classify: range min %v exceeds max %v", r.Min, r.Max)
	}
	return nil
}

// MaskProfile is p re-typed as a uint8 class mask with nodata 0.
func MaskProfile(p raster.Profile) raster.Profile {
	p.DType = raster.Uint8
	p.NoData = raster.NoDataValue(raster.ClassNoData)
	return p
}

// Index marks valid pixels inside r as positive and every other valid pixel
// as negative.
func Index(g *raster.Grid, r Range) *raster.Grid {
	return apply(g, func(v float32) float32 {
		if r.ContainsSample(v) {
			return raster.ClassPositive
		}
		return raster.ClassNegative
	})
}

// Slope reclassifies a slope-in-degrees grid: 0 <= s <= gentleMax is
// positive, steeper is negative. Negative slopes are treated as nodata.
func Slope(g *raster.Grid, gentleMax float64) *raster.Grid {
	return apply(g, func(v float32) float32 {
		s := float64(v)
		switch {
		case s > gentleMax:
			return raster.ClassNegative
		case s >= 0:
			return raster.ClassPositive
		default:
			return raster.ClassNoData
		}
	})
}

// LandCover marks pixels whose land-cover code is in compatible as positive.
func LandCover(g *raster.Grid, compatible []int) *raster.Grid {
	codes := slices.Clone(compatible)
	slices.Sort(codes)
	return apply(g, func(v float32) float32 {
		if _, ok := slices.BinarySearch(codes, int(v)); ok && float32(int(v)) == v {
			return raster.ClassPositive
		}
		return raster.ClassNegative
	})
}

func apply(g *raster.Grid, class func(float32) float32) *raster.Grid {
	out := &raster.Grid{Profile: MaskProfile(g.Profile), Data: make([]float32, len(g.Data))}
	for i, v := range g.Data {
		if g.IsNoData(v) {
			continue
		}
		out.Data[i] = class(v)
	}
	return out
}
