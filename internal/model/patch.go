package model

import "github.com/twpayne/go-geom"

// RepairOutcome records how a smoothed patch geometry was made valid.
type RepairOutcome string

const (
	// RepairOK means the smoothed geometry was valid as produced.
	RepairOK RepairOutcome = "repaired"
	// RepairFallback means the zero-distance rebuild had to be used.
	RepairFallback RepairOutcome = "repaired-fallback"
	// RepairFailed means no repair produced a valid geometry; the patch
	// keeps its unsmoothed boundary.
	RepairFailed RepairOutcome = "unrepaired"
)

// Degraded reports whether the outcome is anything other than RepairOK.
func (r RepairOutcome) Degraded() bool { return r != RepairOK }

// ShapeMetrics are the dimensionless and metric descriptors of a patch.
type ShapeMetrics struct {
	AreaHa      float64 `json:"area_ha"`
	PerimeterM  float64 `json:"perimeter_m"`
	Compactness float64 `json:"compactness"`
	Convexity   float64 `json:"convexity"`
	Elongation  float64 `json:"elongation"`
}

// Patch is one vectorized grazing polygon.
type Patch struct {
	Class    int           `json:"class"`
	Geometry *geom.Polygon `json:"-"`
	Metrics  ShapeMetrics  `json:"metrics"`
	Repair   RepairOutcome `json:"repair"`
}
