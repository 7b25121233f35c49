package raster

import (
	"context"
	"math"
	"os"

	"github.com/rotisserie/eris"
)

// Source is a raster layer that can be sampled over arbitrary map bounds.
type Source interface {
	Header() Profile
	// ReadBounds samples the layer over b onto a rows x cols grid using
	// nearest-neighbour selection. Returns ErrNotCovered when b extends
	// beyond the layer.
	ReadBounds(ctx context.Context, b Bounds, rows, cols int) (*Grid, error)
}

// Header returns the grid's profile, satisfying Source.
func (g *Grid) Header() Profile { return g.Profile }

// ReadBounds implements Source for in-memory grids.
func (g *Grid) ReadBounds(ctx context.Context, b Bounds, rows, cols int) (*Grid, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if rows <= 0 || cols <= 0 {
		return nil, eris.Errorf("raster: invalid output shape %dx%d", rows, cols)
	}

	pw, ph := g.Transform.PixelSize()
	if !g.Profile.Bounds().Contains(b, math.Min(pw, ph)/2) {
		return nil, eris.Wrapf(ErrNotCovered, "raster: bounds %+v outside %+v", b, g.Profile.Bounds())
	}

	outW := b.Width() / float64(cols)
	outH := b.Height() / float64(rows)
	out := &Grid{
		Profile: Profile{
			CRS:       g.CRS,
			Transform: Transform{A: outW, C: b.Left, E: -outH, F: b.Top},
			Width:     cols,
			Height:    rows,
			DType:     g.DType,
			NoData:    g.NoData,
		},
		Data: make([]float32, rows*cols),
	}

	// Source columns are constant per output column, so resolve them once.
	srcCols := make([]int, cols)
	for j := range srcCols {
		x := b.Left + (float64(j)+0.5)*outW
		c, _ := g.Transform.Invert(x, g.Transform.F)
		srcCols[j] = clamp(int(math.Floor(c)), g.Width-1)
	}
	for i := 0; i < rows; i++ {
		y := b.Top - (float64(i)+0.5)*outH
		_, r := g.Transform.Invert(g.Transform.C, y)
		src := clamp(int(math.Floor(r)), g.Height-1) * g.Width
		dst := out.Data[i*cols : (i+1)*cols]
		for j, c := range srcCols {
			dst[j] = g.Data[src+c]
		}
	}
	return out, nil
}

func clamp(v, hi int) int {
	if v < 0 {
		return 0
	}
	if v > hi {
		return hi
	}
	return v
}

// FileSource is a Source backed by a raster file. The profile is read once;
// each ReadBounds call decodes only the strips or tiles under the requested
// bounds, so concurrent windows never hold the whole layer in memory.
type FileSource struct {
	path    string
	band    int
	layout  *tiffLayout
	profile Profile
}

// OpenSource reads the header of the raster at path and samples its first
// band.
func OpenSource(path string) (*FileSource, error) {
	return OpenBand(path, 1)
}

// OpenBand is OpenSource for band, numbered from 1.
func OpenBand(path string, band int) (*FileSource, error) {
	l, p, err := readHeader(path)
	if err != nil {
		return nil, err
	}
	if band < 1 || band > l.bands {
		return nil, eris.Errorf("raster: %s has %d bands, asked for band %d", path, l.bands, band)
	}
	return &FileSource{path: path, band: band, layout: l, profile: p}, nil
}

// Path returns the file backing the source.
func (s *FileSource) Path() string { return s.path }

// Header implements Source.
func (s *FileSource) Header() Profile { return s.profile }

// ReadBounds implements Source.
func (s *FileSource) ReadBounds(ctx context.Context, b Bounds, rows, cols int) (*Grid, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p := s.profile
	pw, ph := p.Transform.PixelSize()
	if !p.Bounds().Contains(b, math.Min(pw, ph)/2) {
		return nil, eris.Wrapf(ErrNotCovered, "raster: %s: bounds %+v outside %+v", s.path, b, p.Bounds())
	}

	sub, err := s.readWindow(p.pixelWindow(b))
	if err != nil {
		return nil, err
	}
	g, err := sub.ReadBounds(ctx, b, rows, cols)
	if err != nil {
		return nil, eris.Wrapf(err, "raster: read %s", s.path)
	}
	return g, nil
}

func (s *FileSource) readWindow(w Window) (*Grid, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, eris.Wrapf(err, "raster: open %s", s.path)
	}
	defer f.Close() //nolint:errcheck

	data, err := s.layout.readWindow(f, s.band-1, w)
	if err != nil {
		return nil, eris.Wrapf(err, "raster: decode %s", s.path)
	}
	return &Grid{Profile: s.profile.WithWindow(w), Data: data}, nil
}

// pixelWindow returns the smallest pixel window covering b, clipped to the
// grid.
func (p Profile) pixelWindow(b Bounds) Window {
	c0, r0 := p.Transform.Invert(b.Left, b.Top)
	c1, r1 := p.Transform.Invert(b.Right, b.Bottom)
	colLo := clamp(int(math.Floor(math.Min(c0, c1))), p.Width-1)
	rowLo := clamp(int(math.Floor(math.Min(r0, r1))), p.Height-1)
	colHi := clamp(int(math.Ceil(math.Max(c0, c1))), p.Width)
	rowHi := clamp(int(math.Ceil(math.Max(r0, r1))), p.Height)
	return Window{
		RowOff: rowLo,
		ColOff: colLo,
		Height: max(rowHi-rowLo, 1),
		Width:  max(colHi-colLo, 1),
	}
}
