// Package gridpos converts between the three representations of where each
// value sits in a box grid: a 2D grid of cells, a {value: "A01"} position map,
// and parallel (values, coords) slices used for geometric computation.
package gridpos

import (
	"fmt"
	"regexp"
	"strconv"
	"unicode"
	"unicode/utf8"

	"tubetrack/pkg/domain"
)

// DefaultPattern parses a single row letter followed by a column number.
const DefaultPattern = `^(?P<row>[A-Za-z])(?P<col>\d+)$`

// Coord is a zero-indexed grid coordinate. Row grows downward and Col grows
// rightward, so Row plays the geometric y-axis and Col the x-axis.
type Coord struct {
	Row int `json:"row"`
	Col int `json:"col"`
}

// Format controls how grid indices are rendered as position strings.
type Format struct {
	// RowStart is the label of row index 0. Must be a single character.
	RowStart string `yaml:"row_start" json:"row_start"`
	// ColStart is the number of column index 0.
	ColStart int `yaml:"col_start" json:"col_start"`
	// ColWidth zero-pads the column number to this many digits.
	ColWidth int `yaml:"col_width" json:"col_width"`
}

// DefaultFormat renders positions as "A01", "B12", ...
func DefaultFormat() Format {
	return Format{RowStart: "A", ColStart: 1, ColWidth: 2}
}

// Validate reports a ConfigurationError for a multi-character row start or a
// negative column width.
func (f Format) Validate() error {
	if utf8.RuneCountInString(f.RowStart) != 1 {
		return domain.ConfigurationError{Field: "row_start", Reason: fmt.Sprintf("must be a single character, got %q", f.RowStart)}
	}
	if f.ColWidth < 0 {
		return domain.ConfigurationError{Field: "col_width", Reason: "must not be negative"}
	}
	return nil
}

// Position renders the position string for a row and column index.
// Negative indices are off the grid.
func (f Format) Position(row, col int) (string, error) {
	if err := f.Validate(); err != nil {
		return "", err
	}
	start, _ := utf8.DecodeRuneInString(f.RowStart)
	label := start + rune(row)
	if row < 0 || !unicode.IsLetter(label) {
		return "", domain.ConfigurationError{Field: "row", Reason: fmt.Sprintf("row index %d has no single-letter label from %q", row, f.RowStart)}
	}
	if col < 0 {
		return "", domain.ConfigurationError{Field: "col", Reason: fmt.Sprintf("column index %d is off the grid", col)}
	}
	return fmt.Sprintf("%c%0*d", label, f.ColWidth, col+f.ColStart), nil
}

// Parser turns position strings back into coordinates using a pattern with
// named "row" and "col" groups.
type Parser struct {
	re      *regexp.Regexp
	pattern string
	rowIdx  int
	colIdx  int
}

// NewParser compiles pattern. An empty pattern selects DefaultPattern.
func NewParser(pattern string) (*Parser, error) {
	if pattern == "" {
		pattern = DefaultPattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, domain.ConfigurationError{Field: "position_pattern", Reason: err.Error()}
	}
	p := &Parser{re: re, pattern: pattern, rowIdx: re.SubexpIndex("row"), colIdx: re.SubexpIndex("col")}
	if p.rowIdx < 0 || p.colIdx < 0 {
		return nil, domain.ConfigurationError{Field: "position_pattern", Reason: "pattern needs named groups row and col"}
	}
	return p, nil
}

// MustParser is NewParser for patterns known at compile time.
func MustParser(pattern string) *Parser {
	p, err := NewParser(pattern)
	if err != nil {
		panic(err)
	}
	return p
}

// Pattern returns the source pattern.
func (p *Parser) Pattern() string { return p.pattern }

// Coord parses pos. The row is the letter's offset from 'A' plus
// origin.Row and the column is the number minus one plus origin.Col.
// With transpose the two are swapped in the result.
func (p *Parser) Coord(pos string, origin Coord, transpose bool) (Coord, error) {
	m := p.re.FindStringSubmatch(pos)
	if m == nil {
		return Coord{}, domain.ParseError{Position: pos, Pattern: p.pattern}
	}
	letter, size := utf8.DecodeRuneInString(m[p.rowIdx])
	if size == 0 || size != len(m[p.rowIdx]) {
		return Coord{}, domain.ParseError{Position: pos, Pattern: p.pattern}
	}
	num, err := strconv.Atoi(m[p.colIdx])
	if err != nil {
		return Coord{}, domain.ParseError{Position: pos, Pattern: p.pattern}
	}
	c := Coord{Row: int(letter-'A') + origin.Row, Col: num - 1 + origin.Col}
	if transpose {
		c.Row, c.Col = c.Col, c.Row
	}
	return c, nil
}
