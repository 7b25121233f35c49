// Package raster holds the georeferenced grid model shared by every stage of
// the grazing pipeline: profiles, affine transforms, pixel windows, bounded
// resampling reads and the on-disk codec.
package raster

import (
	"math"

	"github.com/rotisserie/eris"
)

// DType is the storage type of a grid's samples.
type DType string

// Supported sample types.
const (
	Uint8   DType = "uint8"
	Uint16  DType = "uint16"
	Float32 DType = "float32"
)

// Class codes shared by the consensus evaluator and the vectorizer.
const (
	ClassNoData   = 0
	ClassPositive = 1
	ClassNegative = 2
)

// Sentinel errors for alignment faults. Both are fatal for a run.
var (
	ErrNotCovered   = eris.New("raster: layer does not cover requested bounds")
	ErrGridMismatch = eris.New("raster: grids are not aligned")
)

// Transform is a pixel-to-map affine transform:
//
//	x = A*col + B*row + C
//	y = D*col + E*row + F
type Transform struct {
	A, B, C, D, E, F float64
}

// NorthUp reports whether the transform has no rotation terms.
func (t Transform) NorthUp() bool {
	return t.B == 0 && t.D == 0 && t.A != 0 && t.E != 0
}

// Apply maps pixel coordinates to map coordinates.
func (t Transform) Apply(col, row float64) (x, y float64) {
	return t.A*col + t.B*row + t.C, t.D*col + t.E*row + t.F
}

// Invert maps map coordinates back to fractional pixel coordinates. Only valid
// for north-up transforms.
func (t Transform) Invert(x, y float64) (col, row float64) {
	return (x - t.C) / t.A, (y - t.F) / t.E
}

// Shift returns the transform of a sub-grid whose origin sits at the given
// pixel offset.
func (t Transform) Shift(colOff, rowOff int) Transform {
	x, y := t.Apply(float64(colOff), float64(rowOff))
	t.C, t.F = x, y
	return t
}

// PixelSize returns the absolute pixel width and height in map units.
func (t Transform) PixelSize() (float64, float64) {
	return math.Abs(t.A), math.Abs(t.E)
}

// Slice returns the coefficients in A..F order.
func (t Transform) Slice() []float64 {
	return []float64{t.A, t.B, t.C, t.D, t.E, t.F}
}

// TransformFromSlice builds a transform from six A..F coefficients.
func TransformFromSlice(v []float64) (Transform, error) {
	if len(v) != 6 {
		return Transform{}, eris.Errorf("raster: transform needs 6 coefficients, got %d", len(v))
	}
	return Transform{A: v[0], B: v[1], C: v[2], D: v[3], E: v[4], F: v[5]}, nil
}

// Bounds is a map-space rectangle.
type Bounds struct {
	Left, Bottom, Right, Top float64
}

// Width returns the horizontal extent.
func (b Bounds) Width() float64 { return b.Right - b.Left }

// Height returns the vertical extent.
func (b Bounds) Height() float64 { return b.Top - b.Bottom }

// Contains reports whether o lies within b, allowing tol of slack on each side.
func (b Bounds) Contains(o Bounds, tol float64) bool {
	return o.Left >= b.Left-tol && o.Right <= b.Right+tol &&
		o.Bottom >= b.Bottom-tol && o.Top <= b.Top+tol
}

// Union returns the smallest rectangle covering both b and o.
func (b Bounds) Union(o Bounds) Bounds {
	return Bounds{
		Left:   math.Min(b.Left, o.Left),
		Bottom: math.Min(b.Bottom, o.Bottom),
		Right:  math.Max(b.Right, o.Right),
		Top:    math.Max(b.Top, o.Top),
	}
}

// Window is a rectangle in a grid's pixel space.
type Window struct {
	RowOff int `json:"row_off"`
	ColOff int `json:"col_off"`
	Height int `json:"height"`
	Width  int `json:"width"`
}

// Contains reports whether pixel (row, col) lies inside the window.
func (w Window) Contains(row, col int) bool {
	return row >= w.RowOff && row < w.RowOff+w.Height &&
		col >= w.ColOff && col < w.ColOff+w.Width
}

// Pixels returns the number of pixels in the window.
func (w Window) Pixels() int { return w.Height * w.Width }

// Profile describes a grid's spatial reference and storage without its data.
type Profile struct {
	CRS       string    `json:"crs"`
	Transform Transform `json:"transform"`
	Width     int       `json:"width"`
	Height    int       `json:"height"`
	DType     DType     `json:"dtype"`
	NoData    *float64  `json:"nodata,omitempty"`
}

// Validate checks that the profile describes a usable north-up grid.
func (p Profile) Validate() error {
	if p.Width <= 0 || p.Height <= 0 {
		return eris.Errorf("raster: invalid shape %dx%d", p.Height, p.Width)
	}
	if !p.Transform.NorthUp() {
		return eris.Errorf("raster: rotated or degenerate transform %+v", p.Transform)
	}
	switch p.DType {
	case Uint8, Uint16, Float32:
	default:
		return eris.Errorf("raster: unsupported dtype %q", p.DType)
	}
	return nil
}

// Bounds returns the map-space extent of the grid.
func (p Profile) Bounds() Bounds {
	x0, y0 := p.Transform.Apply(0, 0)
	x1, y1 := p.Transform.Apply(float64(p.Width), float64(p.Height))
	return Bounds{
		Left:   math.Min(x0, x1),
		Right:  math.Max(x0, x1),
		Bottom: math.Min(y0, y1),
		Top:    math.Max(y0, y1),
	}
}

// WithWindow returns the profile of the sub-grid covered by w.
func (p Profile) WithWindow(w Window) Profile {
	p.Transform = p.Transform.Shift(w.ColOff, w.RowOff)
	p.Width = w.Width
	p.Height = w.Height
	return p
}

// SameGrid reports whether two profiles share shape, transform and CRS.
func (p Profile) SameGrid(o Profile) bool {
	return p.Width == o.Width && p.Height == o.Height &&
		p.Transform == o.Transform && (p.CRS == "" || o.CRS == "" || p.CRS == o.CRS)
}

// IsNoData reports whether v is the nodata sentinel or NaN.
func (p Profile) IsNoData(v float32) bool {
	if math.IsNaN(float64(v)) {
		return true
	}
	return p.NoData != nil && float64(v) == *p.NoData
}

// Fill returns the value used for pixels without data.
func (p Profile) Fill() float32 {
	if p.NoData != nil {
		return float32(*p.NoData)
	}
	if p.DType == Float32 {
		return float32(math.NaN())
	}
	return 0
}

// NoDataValue is a convenience for building profiles with a nodata sentinel.
func NoDataValue(v float64) *float64 { return &v }

// Grid is a single-band raster held in memory, row-major.
type Grid struct {
	Profile
	Data []float32
}

// New allocates a grid for p with every pixel set to the profile's fill value.
func New(p Profile) *Grid {
	g := &Grid{Profile: p, Data: make([]float32, p.Width*p.Height)}
	if fill := p.Fill(); fill != 0 {
		for i := range g.Data {
			g.Data[i] = fill
		}
	}
	return g
}

// At returns the sample at (row, col).
func (g *Grid) At(row, col int) float32 { return g.Data[row*g.Width+col] }

// Set stores v at (row, col).
func (g *Grid) Set(row, col int, v float32) { g.Data[row*g.Width+col] = v }

// Valid reports whether v is a data value for this grid.
func (g *Grid) Valid(v float32) bool { return !g.IsNoData(v) }

// Crop copies the pixels of w into a new grid with the window's transform.
func (g *Grid) Crop(w Window) (*Grid, error) {
	if w.RowOff < 0 || w.ColOff < 0 || w.Height <= 0 || w.Width <= 0 ||
		w.RowOff+w.Height > g.Height || w.ColOff+w.Width > g.Width {
		return nil, eris.Errorf("raster: window %+v outside %dx%d grid", w, g.Height, g.Width)
	}
	out := &Grid{Profile: g.WithWindow(w), Data: make([]float32, w.Pixels())}
	for r := 0; r < w.Height; r++ {
		src := (w.RowOff+r)*g.Width + w.ColOff
		copy(out.Data[r*w.Width:(r+1)*w.Width], g.Data[src:src+w.Width])
	}
	return out, nil
}
