package vectorize

import (
	"github.com/twpayne/go-geom"

	"github.com/sells-group/grazing-cli/internal/raster"
)

// edge is one unit side of a mask pixel that borders the outside. Edges are
// directed so the pixel lies on the right when walking in raster (y-down)
// space, which makes outer rings positive and holes negative under the
// shoelace sum in that space.
type edge struct {
	x0, y0, x1, y1 int32
	px, py         int32 // owning pixel
}

type vertex struct{ x, y int32 }

// Trace converts the true pixels of mask into polygons with holes, one per
// 4-connected region, in the map coordinates of t. Exterior rings are
// counter-clockwise and holes clockwise. Regions touching only at a corner
// become separate polygons.
func Trace(mask []bool, rows, cols int, t raster.Transform) []*geom.Polygon {
	inside := func(r, c int) bool {
		return r >= 0 && r < rows && c >= 0 && c < cols && mask[r*cols+c]
	}

	var edges []edge
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			if !mask[r*cols+c] {
				continue
			}
			x, y, pr, pc := int32(c), int32(r), int32(r), int32(c)
			if !inside(r-1, c) {
				edges = append(edges, edge{x, y, x + 1, y, pc, pr})
			}
			if !inside(r, c+1) {
				edges = append(edges, edge{x + 1, y, x + 1, y + 1, pc, pr})
			}
			if !inside(r+1, c) {
				edges = append(edges, edge{x + 1, y + 1, x, y + 1, pc, pr})
			}
			if !inside(r, c-1) {
				edges = append(edges, edge{x, y + 1, x, y, pc, pr})
			}
		}
	}
	if len(edges) == 0 {
		return nil
	}

	// At most two edges leave any vertex.
	out := make(map[vertex][]int, len(edges))
	for i, e := range edges {
		v := vertex{e.x0, e.y0}
		out[v] = append(out[v], i)
	}

	regions := Label(mask, rows, cols, false)
	type ring struct {
		pts    []vertex
		region int32
		area2  int64
	}
	var rings []ring
	used := make([]bool, len(edges))

	for start := range edges {
		if used[start] {
			continue
		}
		var pts []vertex
		cur := start
		for {
			used[cur] = true
			e := edges[cur]
			pts = append(pts, vertex{e.x0, e.y0})
			next := successor(edges, out[vertex{e.x1, e.y1}], e, regions.Labels, cols)
			if next == start || next < 0 || used[next] {
				break
			}
			cur = next
		}
		pts = dropCollinear(pts)
		e := edges[start]
		rings = append(rings, ring{
			pts:    pts,
			region: regions.Labels[int(e.py)*cols+int(e.px)],
			area2:  shoelace2(pts),
		})
	}

	// One exterior per region; holes attach to their owning pixel's region.
	byRegion := make(map[int32]int)
	var polys []*geom.Polygon
	var holes [][]ring
	for _, rg := range rings {
		if rg.area2 <= 0 {
			continue
		}
		byRegion[rg.region] = len(polys)
		polys = append(polys, nil)
		holes = append(holes, []ring{rg})
	}
	for _, rg := range rings {
		if rg.area2 >= 0 {
			continue
		}
		if i, ok := byRegion[rg.region]; ok {
			holes[i] = append(holes[i], rg)
		}
	}

	for i, rs := range holes {
		coords := make([][]geom.Coord, len(rs))
		for j, rg := range rs {
			coords[j] = toMap(rg.pts, t, j == 0)
		}
		polys[i] = geom.NewPolygon(geom.XY).MustSetCoords(coords)
	}
	return polys
}

// successor picks the edge that continues a ring after e. Two candidates
// only occur where inside pixels meet diagonally at the vertex. If the two
// pixels belong to different regions the ring stays on e's pixel, so the
// regions become separate polygons touching at a corner. If they belong to
// the same region the ring follows the outside pixel instead, which leaves
// any enclosed hole as its own ring touching the shell at that vertex.
func successor(edges []edge, candidates []int, e edge, regions []int32, cols int) int {
	switch len(candidates) {
	case 0:
		return -1
	case 1:
		return candidates[0]
	}
	own, other := -1, -1
	for _, i := range candidates {
		if edges[i].px == e.px && edges[i].py == e.py {
			own = i
		} else {
			other = i
		}
	}
	if own < 0 || other < 0 {
		return candidates[0]
	}
	o := edges[other]
	if regions[int(e.py)*cols+int(e.px)] != regions[int(o.py)*cols+int(o.px)] {
		return own
	}
	return other
}

// dropCollinear removes vertices in the middle of straight runs.
func dropCollinear(pts []vertex) []vertex {
	n := len(pts)
	if n < 4 {
		return pts
	}
	out := make([]vertex, 0, n)
	for i, p := range pts {
		prev, next := pts[(i+n-1)%n], pts[(i+1)%n]
		if (prev.x == p.x && p.x == next.x) || (prev.y == p.y && p.y == next.y) {
			continue
		}
		out = append(out, p)
	}
	return out
}

// shoelace2 is twice the signed area in raster space.
func shoelace2(pts []vertex) int64 {
	var s int64
	for i, p := range pts {
		q := pts[(i+1)%len(pts)]
		s += int64(p.x)*int64(q.y) - int64(q.x)*int64(p.y)
	}
	return s
}

// toMap converts a raster-space ring to a closed map-space ring oriented
// counter-clockwise for exteriors and clockwise for holes.
func toMap(pts []vertex, t raster.Transform, exterior bool) []geom.Coord {
	coords := make([]geom.Coord, 0, len(pts)+1)
	for _, p := range pts {
		x, y := t.Apply(float64(p.x), float64(p.y))
		coords = append(coords, geom.Coord{x, y})
	}
	coords = append(coords, geom.Coord{coords[0][0], coords[0][1]})
	if (signedArea(coords) > 0) != exterior {
		reverse(coords)
	}
	return coords
}

// signedArea is positive for counter-clockwise rings in map space.
func signedArea(ring []geom.Coord) float64 {
	var s float64
	for i := 0; i+1 < len(ring); i++ {
		s += ring[i][0]*ring[i+1][1] - ring[i+1][0]*ring[i][1]
	}
	return s / 2
}

func reverse(coords []geom.Coord) {
	for i, j := 0, len(coords)-1; i < j; i, j = i+1, j-1 {
		coords[i], coords[j] = coords[j], coords[i]
	}
}
