// Package transform computes discrete 90 degree rotations on grid
// coordinates and finds the rotation and translation that best aligns two
// scans of the same box.
package transform

import "tubetrack/pkg/gridpos"

// Rotate90 rotates the points (x[i], y[i]) counter-clockwise by k quarter
// turns. k is taken mod 4, so negative values rotate clockwise. The inputs
// are never written to; the results are freshly allocated.
func Rotate90(x, y []int, k int) ([]int, []int) {
	n := len(x)
	if len(y) < n {
		n = len(y)
	}
	xr := make([]int, n)
	yr := make([]int, n)
	k = mod4(k)
	for i := 0; i < n; i++ {
		xr[i], yr[i] = rotatePoint(x[i], y[i], k)
	}
	return xr, yr
}

func rotatePoint(x, y, k int) (int, int) {
	switch k {
	case 1:
		return -y, x
	case 2:
		return -x, -y
	case 3:
		return y, -x
	default:
		return x, y
	}
}

func mod4(k int) int {
	k %= 4
	if k < 0 {
		k += 4
	}
	return k
}

// RotateCoords rotates grid coordinates by k quarter turns. Col is used as
// the x-axis and Row as the y-axis, so raw (row, col) pairs must go through
// this function rather than Rotate90.
func RotateCoords(coords []gridpos.Coord, k int) []gridpos.Coord {
	k = mod4(k)
	out := make([]gridpos.Coord, len(coords))
	for i, c := range coords {
		x, y := rotatePoint(c.Col, c.Row, k)
		out[i] = gridpos.Coord{Row: y, Col: x}
	}
	return out
}
