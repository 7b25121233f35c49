package vectorize

// Components is a connected-component labeling of a binary mask.
type Components struct {
	Rows, Cols int
	// Labels holds one label per pixel, row-major; 0 is background and
	// components are numbered from 1 in raster order of first appearance.
	Labels []int32
	// Sizes[l] is the pixel count of label l. Sizes[0] is unused.
	Sizes []int
}

// Count returns the number of labels, including removed ones.
func (c *Components) Count() int { return len(c.Sizes) - 1 }

// Label assigns a label to every maximal connected group of true pixels.
// With eight set, diagonal neighbours are connected.
func Label(mask []bool, rows, cols int, eight bool) *Components {
	labels := make([]int32, rows*cols)
	parent := []int32{0}

	find := func(x int32) int32 {
		for parent[x] != x {
			parent[x] = parent[parent[x]]
			x = parent[x]
		}
		return x
	}
	union := func(a, b int32) int32 {
		ra, rb := find(a), find(b)
		switch {
		case ra < rb:
			parent[rb] = ra
			return ra
		case rb < ra:
			parent[ra] = rb
			return rb
		}
		return ra
	}

	neighbours := [][2]int{{0, -1}, {-1, 0}}
	if eight {
		neighbours = append(neighbours, [2]int{-1, -1}, [2]int{-1, 1})
	}

	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			i := r*cols + c
			if !mask[i] {
				continue
			}
			var l int32
			for _, d := range neighbours {
				nr, nc := r+d[0], c+d[1]
				if nr < 0 || nc < 0 || nc >= cols {
					continue
				}
				nl := labels[nr*cols+nc]
				if nl == 0 {
					continue
				}
				if l == 0 {
					l = find(nl)
				} else {
					l = union(l, nl)
				}
			}
			if l == 0 {
				l = int32(len(parent))
				parent = append(parent, l)
			}
			labels[i] = l
		}
	}

	// Resolve provisional labels to consecutive final ones.
	final := make([]int32, len(parent))
	sizes := []int{0}
	for i, l := range labels {
		if l == 0 {
			continue
		}
		root := find(l)
		if final[root] == 0 {
			final[root] = int32(len(sizes))
			sizes = append(sizes, 0)
		}
		labels[i] = final[root]
		sizes[final[root]]++
	}
	return &Components{Rows: rows, Cols: cols, Labels: labels, Sizes: sizes}
}

// Retain clears every component smaller than minPixels and returns the
// surviving mask and the number of components kept.
func (c *Components) Retain(minPixels int) ([]bool, int) {
	keep := make([]bool, len(c.Sizes))
	kept := 0
	for l := 1; l < len(c.Sizes); l++ {
		if c.Sizes[l] >= minPixels {
			keep[l] = true
			kept++
		}
	}
	mask := make([]bool, len(c.Labels))
	for i, l := range c.Labels {
		if keep[l] {
			mask[i] = true
			continue
		}
		c.Labels[i] = 0
	}
	return mask, kept
}
