package vectorize

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
)

// knownWKT maps the CRS codes the pipeline is normally run in to the ESRI
// WKT written into shapefile .prj files.
var knownWKT = map[string]string{
	"EPSG:4326": `GEOGCS["GCS_WGS_1984",DATUM["D_WGS_1984",SPHEROID["WGS_1984",6378137.0,298.257223563]],PRIMEM["Greenwich",0.0],UNIT["Degree",0.0174532925199433]]`,
	"EPSG:5070": `PROJCS["NAD_1983_Contiguous_USA_Albers",GEOGCS["GCS_North_American_1983",DATUM["D_North_American_1983",SPHEROID["GRS_1980",6378137.0,298.257222101]],PRIMEM["Greenwich",0.0],UNIT["Degree",0.0174532925199433]],PROJECTION["Albers"],PARAMETER["False_Easting",0.0],PARAMETER["False_Northing",0.0],PARAMETER["Central_Meridian",-96.0],PARAMETER["Standard_Parallel_1",29.5],PARAMETER["Standard_Parallel_2",45.5],PARAMETER["Latitude_Of_Origin",23.0],UNIT["Meter",1.0]]`,
}

// shapefile attribute layout; names are limited to ten characters.
var shpFields = []shp.Field{
	shp.NumberField("class", 4),
	shp.FloatField("area_ha", 16, 4),
	shp.FloatField("perim_m", 16, 2),
	shp.FloatField("compact", 10, 6),
	shp.FloatField("convex", 10, 6),
	shp.FloatField("elong", 12, 6),
	shp.StringField("repair", 20),
}

// WriteShapefile writes the patches as a polygon shapefile with a .prj
// when the CRS is known WKT or one of the built-in EPSG codes. Rings follow
// the shapefile convention: clockwise shells, counter-clockwise holes.
func WriteShapefile(path string, res *Result) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrap(err, "vectorize: create shapefile dir")
	}
	w, err := shp.Create(path, shp.POLYGON)
	if err != nil {
		return eris.Wrapf(err, "vectorize: create %s", path)
	}
	defer w.Close()

	if err := w.SetFields(shpFields); err != nil {
		return eris.Wrap(err, "vectorize: set shapefile fields")
	}
	for _, p := range res.Patches {
		row := int(w.Write(toShp(p.Geometry)))
		values := []any{
			p.Class,
			p.Metrics.AreaHa,
			p.Metrics.PerimeterM,
			p.Metrics.Compactness,
			p.Metrics.Convexity,
			p.Metrics.Elongation,
			string(p.Repair),
		}
		for i, v := range values {
			if err := w.WriteAttribute(row, i, v); err != nil {
				return eris.Wrapf(err, "vectorize: write attribute %s", shpFields[i].String())
			}
		}
	}

	if wkt := crsWKT(res.CRS); wkt != "" {
		prj := strings.TrimSuffix(path, filepath.Ext(path)) + ".prj"
		if err := os.WriteFile(prj, []byte(wkt), 0o644); err != nil {
			return eris.Wrap(err, "vectorize: write .prj")
		}
	}
	return nil
}

func crsWKT(crs string) string {
	upper := strings.ToUpper(strings.TrimSpace(crs))
	if strings.HasPrefix(upper, "PROJCS[") || strings.HasPrefix(upper, "GEOGCS[") {
		return crs
	}
	return knownWKT[upper]
}

func toShp(p *geom.Polygon) *shp.Polygon {
	var parts []int32
	var points []shp.Point
	box := shp.Box{MinX: math.Inf(1), MinY: math.Inf(1), MaxX: math.Inf(-1), MaxY: math.Inf(-1)}
	for i := 0; i < p.NumLinearRings(); i++ {
		coords := p.LinearRing(i).Coords()
		parts = append(parts, int32(len(points)))
		for j := len(coords) - 1; j >= 0; j-- {
			c := coords[j]
			points = append(points, shp.Point{X: c[0], Y: c[1]})
			box.MinX, box.MaxX = math.Min(box.MinX, c[0]), math.Max(box.MaxX, c[0])
			box.MinY, box.MaxY = math.Min(box.MinY, c[1]), math.Max(box.MaxY, c[1])
		}
	}
	return &shp.Polygon{
		Box:       box,
		NumParts:  int32(len(parts)),
		NumPoints: int32(len(points)),
		Parts:     parts,
		Points:    points,
	}
}

// WriteGeoJSON writes the patches as a FeatureCollection. A named crs member
// is added for readers that still honour it.
func WriteGeoJSON(path string, res *Result) error {
	fc := geojson.FeatureCollection{Features: make([]*geojson.Feature, 0, len(res.Patches))}
	for i, p := range res.Patches {
		fc.Features = append(fc.Features, &geojson.Feature{
			ID:       strconv.Itoa(i),
			Geometry: p.Geometry,
			Properties: map[string]any{
				"class":       p.Class,
				"area_ha":     p.Metrics.AreaHa,
				"perimeter_m": p.Metrics.PerimeterM,
				"compactness": p.Metrics.Compactness,
				"convexity":   p.Metrics.Convexity,
				"elongation":  p.Metrics.Elongation,
				"repair":      string(p.Repair),
			},
		})
	}
	body, err := fc.MarshalJSON()
	if err != nil {
		return eris.Wrap(err, "vectorize: encode geojson")
	}

	if res.CRS != "" {
		var doc map[string]json.RawMessage
		if err := json.Unmarshal(body, &doc); err != nil {
			return eris.Wrap(err, "vectorize: decode geojson")
		}
		crs, err := json.Marshal(map[string]any{
			"type":       "name",
			"properties": map[string]string{"name": crsURN(res.CRS)},
		})
		if err != nil {
			return eris.Wrap(err, "vectorize: encode crs")
		}
		doc["crs"] = crs
		if body, err = json.Marshal(doc); err != nil {
			return eris.Wrap(err, "vectorize: encode geojson")
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrap(err, "vectorize: create geojson dir")
	}
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return eris.Wrapf(err, "vectorize: write %s", path)
	}
	return nil
}

// crsURN turns "EPSG:5070" into the OGC URN form; other strings pass through.
func crsURN(crs string) string {
	if code, ok := strings.CutPrefix(strings.ToUpper(crs), "EPSG:"); ok {
		return "urn:ogc:def:crs:EPSG::" + code
	}
	return crs
}
