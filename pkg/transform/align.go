package transform

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"tubetrack/pkg/domain"
	"tubetrack/pkg/gridpos"
)

// Rotations is the number of distinct quarter-turn rotations.
const Rotations = 4

// RotationResult is the outcome of a best-fit rotation search.
type RotationResult struct {
	// AvgDistance is the mean Euclidean residual after rotating and shifting.
	AvgDistance float64 `json:"avg_distance"`
	// Rotation is the number of counter-clockwise quarter turns, 0..3.
	Rotation int `json:"rotation"`
	// Shift is the (row, col) translation subtracted after rotation.
	Shift [2]float64 `json:"shift"`
}

// Perfect reports whether the rotation explains the data exactly.
func (r RotationResult) Perfect() bool { return r.AvgDistance == 0 }

// AlignByValues restricts both coordinate sets to the values they share and
// returns them index-aligned, following the order of values1. A value that
// repeats in either input uses its first coordinate.
func AlignByValues(values1 []string, coords1 []gridpos.Coord, values2 []string, coords2 []gridpos.Coord) ([]gridpos.Coord, []gridpos.Coord) {
	index2 := make(map[string]int, len(values2))
	for i, v := range values2 {
		if i >= len(coords2) {
			break
		}
		if _, ok := index2[v]; !ok {
			index2[v] = i
		}
	}
	var a, b []gridpos.Coord
	used := make(map[string]struct{})
	for i, v := range values1 {
		if i >= len(coords1) {
			break
		}
		j, ok := index2[v]
		if !ok {
			continue
		}
		if _, dup := used[v]; dup {
			continue
		}
		used[v] = struct{}{}
		a = append(a, coords1[i])
		b = append(b, coords2[j])
	}
	return a, b
}

// BestRotation finds the quarter-turn rotation of coords2 that, after the
// least-squares translation, lies closest to coords1. The inputs must be
// index-aligned. A rotation with zero residual is returned immediately;
// otherwise the smallest average distance wins, ties going to the lower
// rotation. Empty inputs yield domain.ErrNoOverlap.
func BestRotation(coords1, coords2 []gridpos.Coord) (RotationResult, error) {
	if len(coords1) != len(coords2) {
		return RotationResult{}, fmt.Errorf("coordinate sets are not aligned: %d != %d points", len(coords1), len(coords2))
	}
	if len(coords1) == 0 {
		return RotationResult{}, domain.ErrNoOverlap
	}
	n := len(coords1)
	ref := toDense(coords1)
	best := RotationResult{AvgDistance: math.Inf(1)}
	var disp mat.Dense
	dists := make([]float64, n)
	for k := 0; k < Rotations; k++ {
		disp.Sub(toDense(RotateCoords(coords2, k)), ref)
		shift := [2]float64{
			stat.Mean(mat.Col(nil, 0, &disp), nil),
			stat.Mean(mat.Col(nil, 1, &disp), nil),
		}
		for i := 0; i < n; i++ {
			residual := []float64{disp.At(i, 0) - shift[0], disp.At(i, 1) - shift[1]}
			dists[i] = floats.Norm(residual, 2)
		}
		res := RotationResult{AvgDistance: stat.Mean(dists, nil), Rotation: k, Shift: shift}
		if res.AvgDistance == 0 {
			return res, nil
		}
		if res.AvgDistance < best.AvgDistance {
			best = res
		}
	}
	return best, nil
}

// ApplyCorrection maps coordinates from the rotated frame back into the
// reference frame of a BestRotation call: rotate, then subtract the shift
// rounded to whole cells. Every cell moves by the same offset, so an
// imperfect fit never splits or merges cells.
func ApplyCorrection(coords []gridpos.Coord, r RotationResult) []gridpos.Coord {
	rotated := RotateCoords(coords, r.Rotation)
	dr, dc := int(math.Round(r.Shift[0])), int(math.Round(r.Shift[1]))
	out := make([]gridpos.Coord, len(rotated))
	for i, c := range rotated {
		out[i] = gridpos.Coord{Row: c.Row - dr, Col: c.Col - dc}
	}
	return out
}

func toDense(coords []gridpos.Coord) *mat.Dense {
	data := make([]float64, 0, 2*len(coords))
	for _, c := range coords {
		data = append(data, float64(c.Row), float64(c.Col))
	}
	return mat.NewDense(len(coords), 2, data)
}
