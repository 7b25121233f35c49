package vectorize

import (
	"math"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"

	"github.com/sells-group/grazing-cli/internal/raster"
)

// maxClosingCells caps the working raster of a closing along each axis.
const maxClosingCells = 2048

// edtInf stands in for "no feature pixel" in the distance transform.
const edtInf = 1e20

// closePolygon applies a morphological closing of radius d (dilate by d,
// then erode by d) to p. The polygon is burned into a working raster with
// cells of the given size, the closing runs on exact Euclidean distance
// transforms and the result is traced back and simplified just above the
// cell size, which removes the staircase left by the cells.
// With d = 0 this just rebuilds p through the raster, which removes
// self-intersections. The largest resulting polygon is returned.
func closePolygon(p *geom.Polygon, d, cell float64) (*geom.Polygon, error) {
	if p == nil || p.Empty() {
		return nil, eris.New("vectorize: closing an empty polygon")
	}
	if cell <= 0 || d < 0 {
		return nil, eris.Errorf("vectorize: invalid closing radius %g or cell %g", d, cell)
	}

	b := p.Bounds()
	margin := d + 2*cell
	w := b.Max(0) - b.Min(0) + 2*margin
	h := b.Max(1) - b.Min(1) + 2*margin
	cell = math.Max(cell, math.Max(w, h)/maxClosingCells)
	margin = d + 2*cell
	w = b.Max(0) - b.Min(0) + 2*margin
	h = b.Max(1) - b.Min(1) + 2*margin

	work := raster.New(raster.Profile{
		Transform: raster.Transform{A: cell, C: b.Min(0) - margin, E: -cell, F: b.Max(1) + margin},
		Width:     int(math.Ceil(w / cell)),
		Height:    int(math.Ceil(h / cell)),
		DType:     raster.Uint8,
	})
	raster.Burn(work, p, 1, false)

	rows, cols := work.Height, work.Width
	mask := make([]bool, len(work.Data))
	for i, v := range work.Data {
		mask[i] = v != 0
	}

	if d > 0 {
		r2 := (d / cell) * (d / cell)
		toInside := edt(mask, rows, cols)
		for i := range mask {
			mask[i] = toInside[i] <= r2
		}
		outside := make([]bool, len(mask))
		for i, in := range mask {
			outside[i] = !in
		}
		toOutside := edt(outside, rows, cols)
		for i := range mask {
			mask[i] = toOutside[i] > r2
		}
	}

	var best *geom.Polygon
	for _, q := range Trace(mask, rows, cols, work.Transform) {
		if best == nil || q.Area() > best.Area() {
			best = q
		}
	}
	if best == nil {
		return nil, eris.New("vectorize: closing removed the polygon")
	}
	return Simplify(best, 1.5*cell), nil
}

// edt returns, for every pixel, the squared distance in cells to the
// nearest feature pixel (Felzenszwalb and Huttenlocher).
func edt(feature []bool, rows, cols int) []float64 {
	d := make([]float64, rows*cols)
	for i, f := range feature {
		if !f {
			d[i] = edtInf
		}
	}

	n := max(rows, cols)
	f := make([]float64, n)
	out := make([]float64, n)
	v := make([]int, n)
	z := make([]float64, n+1)

	for c := 0; c < cols; c++ {
		for r := 0; r < rows; r++ {
			f[r] = d[r*cols+c]
		}
		edt1(f[:rows], out[:rows], v, z)
		for r := 0; r < rows; r++ {
			d[r*cols+c] = out[r]
		}
	}
	for r := 0; r < rows; r++ {
		row := d[r*cols : (r+1)*cols]
		copy(f[:cols], row)
		edt1(f[:cols], out[:cols], v, z)
		copy(row, out[:cols])
	}
	return d
}

// edt1 is the one-dimensional squared distance transform of f under the
// lower envelope of parabolas.
func edt1(f, d []float64, v []int, z []float64) {
	n := len(f)
	if n == 0 {
		return
	}
	k := 0
	v[0] = 0
	z[0], z[1] = math.Inf(-1), math.Inf(1)
	for q := 1; q < n; q++ {
		s := intersect(f, q, v[k])
		for s <= z[k] {
			k--
			s = intersect(f, q, v[k])
		}
		k++
		v[k] = q
		z[k] = s
		z[k+1] = math.Inf(1)
	}
	k = 0
	for q := 0; q < n; q++ {
		for z[k+1] < float64(q) {
			k++
		}
		dq := float64(q - v[k])
		d[q] = dq*dq + f[v[k]]
	}
}

func intersect(f []float64, q, p int) float64 {
	return ((f[q] + float64(q*q)) - (f[p] + float64(p*p))) / float64(2*q-2*p)
}
