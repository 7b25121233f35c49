// Package tiling partitions a raster's pixel extent into fixed-size
// processing windows.
package tiling

import (
	"fmt"
	"iter"
	"slices"

	"github.com/sells-group/grazing-cli/internal/raster"
)

// DefaultWindowSize is the edge length used when no size is configured.
const DefaultWindowSize = 4096

// Windows yields the row-major windows covering a height x width grid. Each
// window is size x size except along the trailing row and column, which are
// clipped to the grid. The sequence is restartable; every range re-plans
// from the origin. Non-positive arguments yield nothing.
func Windows(height, width, size int) iter.Seq[raster.Window] {
	return func(yield func(raster.Window) bool) {
		if height <= 0 || width <= 0 || size <= 0 {
			return
		}
		for r := 0; r < height; r += size {
			for c := 0; c < width; c += size {
				w := raster.Window{
					RowOff: r,
					ColOff: c,
					Height: min(size, height-r),
					Width:  min(size, width-c),
				}
				if !yield(w) {
					return
				}
			}
		}
	}
}

// Plan collects Windows into a slice.
func Plan(height, width, size int) []raster.Window {
	return slices.Collect(Windows(height, width, size))
}

// Count returns the number of windows Plan would produce.
func Count(height, width, size int) int {
	if height <= 0 || width <= 0 || size <= 0 {
		return 0
	}
	return ceilDiv(height, size) * ceilDiv(width, size)
}

// WindowID is the idempotency key of a window's artifact. IDs sort in the
// same row-major order the planner emits.
func WindowID(w raster.Window) string {
	return fmt.Sprintf("patch_%07d_%07d", w.RowOff, w.ColOff)
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}
