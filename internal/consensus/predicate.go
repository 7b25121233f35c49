// Package consensus combines aligned raster layers into a categorical mask,
// one window at a time.
package consensus

import (
	"math"

	"github.com/sells-group/grazing-cli/internal/raster"
)

// Predicate maps the K input samples of one pixel to an output class.
// valid[i] is false when vals[i] is the layer's nodata value or NaN.
type Predicate interface {
	Name() string
	Arity() int
	Eval(vals []float32, valid []bool) uint8
}

// AllQualifying outputs ClassPositive where every input is valid and equals
// ClassPositive, and ClassNegative everywhere else. Nodata in any input is
// negative.
type AllQualifying struct {
	// Inputs is the number of layers; zero means four (NDVI, SAVI, land
	// cover, slope).
	Inputs int
}

// Name implements Predicate.
func (AllQualifying) Name() string { return "all_qualifying" }

// Arity implements Predicate.
func (p AllQualifying) Arity() int {
	if p.Inputs > 0 {
		return p.Inputs
	}
	return 4
}

// Eval implements Predicate.
func (AllQualifying) Eval(vals []float32, valid []bool) uint8 {
	for i, v := range vals {
		if !valid[i] || v != raster.ClassPositive {
			return raster.ClassNegative
		}
	}
	return raster.ClassPositive
}

// Override forces the base class (input 0) to Enforce wherever the mask
// (input 1) equals ClassNegative. Elsewhere the base value passes through
// unchanged, nodata included.
type Override struct {
	Enforce uint8
}

// Name implements Predicate.
func (Override) Name() string { return "override" }

// Arity implements Predicate.
func (Override) Arity() int { return 2 }

// Eval implements Predicate.
func (p Override) Eval(vals []float32, _ []bool) uint8 {
	if vals[1] == raster.ClassNegative {
		return p.Enforce
	}
	if math.IsNaN(float64(vals[0])) {
		return raster.ClassNoData
	}
	return uint8(vals[0])
}
