package vectorize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parseMask(rows ...string) ([]bool, int, int) {
	mask := make([]bool, 0, len(rows)*len(rows[0]))
	for _, r := range rows {
		for _, ch := range r {
			mask = append(mask, ch == '#')
		}
	}
	return mask, len(rows), len(rows[0])
}

func TestLabel_Connectivity(t *testing.T) {
	mask, rows, cols := parseMask(
		"#..",
		".#.",
		"..#",
	)

	eight := Label(mask, rows, cols, true)
	assert.Equal(t, 1, eight.Count())
	assert.Equal(t, 3, eight.Sizes[1])

	four := Label(mask, rows, cols, false)
	assert.Equal(t, 3, four.Count())
	assert.Equal(t, []int32{1, 0, 0, 0, 2, 0, 0, 0, 3}, four.Labels)
}

func TestLabel_MergesProvisionalLabels(t *testing.T) {
	mask, rows, cols := parseMask(
		"#.#.#",
		"#.#.#",
		"#####",
	)
	c := Label(mask, rows, cols, true)
	require.Equal(t, 1, c.Count())
	assert.Equal(t, 11, c.Sizes[1])
	for i, l := range c.Labels {
		if mask[i] {
			assert.Equal(t, int32(1), l)
		}
	}
}

func TestLabel_AntiDiagonal(t *testing.T) {
	mask, rows, cols := parseMask(
		"..#",
		".#.",
		"#..",
	)
	assert.Equal(t, 1, Label(mask, rows, cols, true).Count())
	assert.Equal(t, 3, Label(mask, rows, cols, false).Count())
}

func TestRetain(t *testing.T) {
	mask, rows, cols := parseMask(
		"#...##...",
		"....##...",
		"......###",
		"......##.",
	)
	c := Label(mask, rows, cols, true)
	require.Equal(t, 2, c.Count())
	assert.Equal(t, []int{0, 1, 9}, c.Sizes)

	kept, n := c.Retain(2)
	assert.Equal(t, 1, n)
	assert.False(t, kept[0])
	assert.True(t, kept[4])

	labels := map[int32]bool{}
	for _, l := range c.Labels {
		labels[l] = true
	}
	assert.Equal(t, map[int32]bool{0: true, 2: true}, labels)
}
