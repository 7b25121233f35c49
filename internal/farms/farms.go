// Package farms loads farm boundary polygons and rasterizes them onto the
// grid of the grazing mask.
package farms

import (
	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/sells-group/grazing-cli/internal/raster"
)

// BurnValue is the class written where a farm boundary covers a pixel.
const BurnValue = raster.ClassNegative

// LoadShapefile reads every polygon record of the shapefile at path. Parts
// are regrouped by orientation: a clockwise part starts a new polygon and
// the counter-clockwise parts that follow are its holes. Returned rings are
// in map orientation (counter-clockwise shells). Non-polygon records are
// skipped.
func LoadShapefile(path string) ([]*geom.Polygon, error) {
	reader, err := shp.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "farms: open shapefile %s", path)
	}
	defer func() { _ = reader.Close() }()

	var polys []*geom.Polygon
	var skipped int
	for reader.Next() {
		n, shape := reader.Shape()
		p, ok := shape.(*shp.Polygon)
		if !ok || p == nil {
			skipped++
			continue
		}
		got, err := fromShp(p)
		if err != nil {
			zap.L().Debug("farms: skipping malformed record", zap.Int("record", n), zap.Error(err))
			skipped++
			continue
		}
		polys = append(polys, got...)
	}

	if skipped > 0 {
		zap.L().Debug("farms: skipped shapefile records",
			zap.String("path", path),
			zap.Int("skipped", skipped),
		)
	}
	return polys, nil
}

func fromShp(p *shp.Polygon) ([]*geom.Polygon, error) {
	var out []*geom.Polygon
	var cur [][]geom.Coord
	flush := func() error {
		if len(cur) == 0 {
			return nil
		}
		poly, err := geom.NewPolygon(geom.XY).SetCoords(cur)
		if err != nil {
			return eris.Wrap(err, "farms: build polygon")
		}
		out = append(out, poly)
		cur = nil
		return nil
	}

	for i := int32(0); i < p.NumParts; i++ {
		start := p.Parts[i]
		end := int32(len(p.Points))
		if i+1 < p.NumParts {
			end = p.Parts[i+1]
		}
		if start < 0 || end > int32(len(p.Points)) || end-start < 4 {
			return nil, eris.Errorf("farms: part %d has %d points", i, end-start)
		}

		ring := make([]geom.Coord, 0, end-start)
		for j := end - 1; j >= start; j-- {
			ring = append(ring, geom.Coord{p.Points[j].X, p.Points[j].Y})
		}
		// after reversal a shell is counter-clockwise
		if signedArea(ring) > 0 || len(cur) == 0 {
			if err := flush(); err != nil {
				return nil, err
			}
			if signedArea(ring) < 0 {
				reverse(ring)
			}
		}
		cur = append(cur, ring)
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return out, nil
}

func signedArea(ring []geom.Coord) float64 {
	var s float64
	for i := 0; i+1 < len(ring); i++ {
		s += ring[i][0]*ring[i+1][1] - ring[i+1][0]*ring[i][1]
	}
	return s / 2
}

func reverse(ring []geom.Coord) {
	for i, j := 0, len(ring)-1; i < j; i, j = i+1, j-1 {
		ring[i], ring[j] = ring[j], ring[i]
	}
}

// Rasterize burns polys onto a uint8 grid shaped like ref. Every pixel a
// boundary touches gets BurnValue; the rest stays 0.
func Rasterize(ref raster.Profile, polys []*geom.Polygon) (*raster.Grid, error) {
	if err := ref.Validate(); err != nil {
		return nil, eris.Wrap(err, "farms: reference grid")
	}
	ref.DType = raster.Uint8
	ref.NoData = raster.NoDataValue(0)
	g := raster.New(ref)
	for _, p := range polys {
		raster.Burn(g, p, BurnValue, true)
	}
	return g, nil
}
