package gridpos

import (
	"fmt"
	"sort"

	"tubetrack/pkg/domain"
)

// Empty marks a grid cell without a value.
const Empty = ""

// Grid is a row-major matrix of cell values. Rows may be ragged; missing
// trailing cells are treated as Empty.
type Grid [][]string

// Rows returns the number of rows.
func (g Grid) Rows() int { return len(g) }

// Cols returns the length of the longest row.
func (g Grid) Cols() int {
	n := 0
	for _, row := range g {
		if len(row) > n {
			n = len(row)
		}
	}
	return n
}

// At returns the value at (row, col), or Empty when out of range.
func (g Grid) At(row, col int) string {
	if row < 0 || row >= len(g) || col < 0 || col >= len(g[row]) {
		return Empty
	}
	return g[row][col]
}

// NewGrid allocates an all-empty rows x cols grid.
func NewGrid(rows, cols int) Grid {
	g := make(Grid, rows)
	for i := range g {
		g[i] = make([]string, cols)
	}
	return g
}

// PositionMap maps each value to its position string, e.g. {"tube1": "A01"}.
type PositionMap map[string]string

// Values returns the map keys in ascending order.
func (m PositionMap) Values() []string {
	out := make([]string, 0, len(m))
	for v := range m {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// Options controls traversal when converting a grid.
type Options struct {
	Format Format
	// Transpose visits the grid column-major and labels rows by column index.
	Transpose bool
	// Exclude lists cell values to skip. Nil means only Empty is skipped.
	Exclude []string
}

// DefaultOptions uses DefaultFormat with no transpose.
func DefaultOptions() Options {
	return Options{Format: DefaultFormat()}
}

func excludeSet(values []string) map[string]struct{} {
	if values == nil {
		return map[string]struct{}{Empty: {}}
	}
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}

// visit walks the grid row-major, or column-major with transpose, calling fn
// for every non-excluded cell with the position-space row and column.
func visit(g Grid, transpose bool, exclude map[string]struct{}, fn func(value string, row, col int) error) error {
	if !transpose {
		for r, row := range g {
			for c, v := range row {
				if _, skip := exclude[v]; skip {
					continue
				}
				if err := fn(v, r, c); err != nil {
					return err
				}
			}
		}
		return nil
	}
	cols := g.Cols()
	for c := 0; c < cols; c++ {
		for r := range g {
			if c >= len(g[r]) {
				continue
			}
			v := g[r][c]
			if _, skip := exclude[v]; skip {
				continue
			}
			if err := fn(v, c, r); err != nil {
				return err
			}
		}
	}
	return nil
}

// PositionMapFromGrid returns {value: position} for every non-excluded cell.
// A value that repeats keeps the position of the first cell visited.
func PositionMapFromGrid(g Grid, opts Options) (PositionMap, error) {
	if err := opts.Format.Validate(); err != nil {
		return nil, err
	}
	out := make(PositionMap)
	err := visit(g, opts.Transpose, excludeSet(opts.Exclude), func(v string, r, c int) error {
		if _, seen := out[v]; seen {
			return nil
		}
		pos, err := opts.Format.Position(r, c)
		if err != nil {
			return err
		}
		out[v] = pos
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// PositionValueMapFromGrid returns {position: value} for every non-excluded
// cell using the same traversal as PositionMapFromGrid.
func PositionValueMapFromGrid(g Grid, opts Options) (map[string]string, error) {
	if err := opts.Format.Validate(); err != nil {
		return nil, err
	}
	out := make(map[string]string)
	err := visit(g, opts.Transpose, excludeSet(opts.Exclude), func(v string, r, c int) error {
		pos, err := opts.Format.Position(r, c)
		if err != nil {
			return err
		}
		out[pos] = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ValuesCoordsFromGrid scans row-major and returns index-aligned values and
// coordinates. With unique, later duplicates of a value are dropped.
func ValuesCoordsFromGrid(g Grid, exclude []string, unique bool) ([]string, []Coord) {
	skip := excludeSet(exclude)
	var (
		values []string
		coords []Coord
		seen   map[string]struct{}
	)
	if unique {
		seen = make(map[string]struct{})
	}
	_ = visit(g, false, skip, func(v string, r, c int) error {
		if unique {
			if _, dup := seen[v]; dup {
				return nil
			}
			seen[v] = struct{}{}
		}
		values = append(values, v)
		coords = append(coords, Coord{Row: r, Col: c})
		return nil
	})
	return values, coords
}

// ValuesCoordsFromPositionMap parses every position in m. Values are emitted
// in ascending order so the result is deterministic.
func ValuesCoordsFromPositionMap(m PositionMap, origin Coord, parser *Parser, transpose bool) ([]string, []Coord, error) {
	if parser == nil {
		parser = defaultParser
	}
	values := m.Values()
	coords := make([]Coord, len(values))
	for i, v := range values {
		c, err := parser.Coord(m[v], origin, transpose)
		if err != nil {
			return nil, nil, err
		}
		coords[i] = c
	}
	return values, coords, nil
}

// PositionMapFromValuesCoords renders coordinates back into position strings.
// It is the inverse of ValuesCoordsFromPositionMap for the same origin.
func PositionMapFromValuesCoords(values []string, coords []Coord, origin Coord, f Format, transpose bool) (PositionMap, error) {
	if len(values) != len(coords) {
		return nil, fmt.Errorf("values and coords differ in length: %d != %d", len(values), len(coords))
	}
	out := make(PositionMap, len(values))
	for i, v := range values {
		r, c := coords[i].Row-origin.Row, coords[i].Col-origin.Col
		if transpose {
			r, c = c, r
		}
		pos, err := f.Position(r, c)
		if err != nil {
			return nil, err
		}
		if _, seen := out[v]; !seen {
			out[v] = pos
		}
	}
	return out, nil
}

// GridFromValuesCoords places each value at its coordinate in a rows x cols
// grid. Coordinates outside the grid are a ConfigurationError.
func GridFromValuesCoords(values []string, coords []Coord, rows, cols int) (Grid, error) {
	if len(values) != len(coords) {
		return nil, fmt.Errorf("values and coords differ in length: %d != %d", len(values), len(coords))
	}
	g := NewGrid(rows, cols)
	for i, v := range values {
		c := coords[i]
		if c.Row < 0 || c.Row >= rows || c.Col < 0 || c.Col >= cols {
			return nil, domain.ConfigurationError{Field: "coord", Reason: fmt.Sprintf("(%d, %d) outside %dx%d grid", c.Row, c.Col, rows, cols)}
		}
		g[c.Row][c.Col] = v
	}
	return g, nil
}

var defaultParser = MustParser(DefaultPattern)
