// Package scanner turns a box image into a grid of decoded barcodes. It owns
// the grid geometry (where the box sits in the image and how it is divided),
// segmentation into cell images, and the seams to the camera and the barcode
// decoder, both of which are external collaborators.
package scanner

import (
	"fmt"
	"image"
	"strconv"

	"tubetrack/pkg/domain"
)

type marginKind uint8

const (
	marginUnset marginKind = iota
	marginAbsolute
	marginFraction
)

// Margin is one edge of the box within an image: a pixel offset, a fraction
// of the image dimension, or unset. Negative values count from the far edge.
type Margin struct {
	kind     marginKind
	absolute int
	fraction float64
}

// Unset returns a margin that resolves to the image edge.
func Unset() Margin { return Margin{} }

// Absolute returns a margin of px pixels.
func Absolute(px int) Margin { return Margin{kind: marginAbsolute, absolute: px} }

// Fraction returns a margin of f times the image dimension.
func Fraction(f float64) Margin { return Margin{kind: marginFraction, fraction: f} }

// IsSet reports whether the margin was given a value.
func (m Margin) IsSet() bool { return m.kind != marginUnset }

// AbsoluteValue returns the pixel offset and whether the margin is absolute.
func (m Margin) AbsoluteValue() (int, bool) { return m.absolute, m.kind == marginAbsolute }

// FractionValue returns the fraction and whether the margin is fractional.
func (m Margin) FractionValue() (float64, bool) { return m.fraction, m.kind == marginFraction }

func (m Margin) String() string {
	switch m.kind {
	case marginAbsolute:
		return strconv.Itoa(m.absolute) + "px"
	case marginFraction:
		return strconv.FormatFloat(m.fraction, 'g', -1, 64)
	default:
		return "unset"
	}
}

// resolve converts the margin to an offset in [0, dim]. Unset margins resolve
// to fallback.
func (m Margin) resolve(dim, fallback int) int {
	var v int
	switch m.kind {
	case marginAbsolute:
		v = m.absolute
	case marginFraction:
		v = int(float64(dim) * m.fraction)
	default:
		return fallback
	}
	if v < 0 {
		v += dim
	}
	return clamp(v, 0, dim)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// GridGeometry locates the box grid inside an image. Top and Bottom resolve
// against the image height, Left and Right against the width.
type GridGeometry struct {
	Top    Margin
	Bottom Margin
	Left   Margin
	Right  Margin
	Rows   int
	Cols   int
}

// Validate checks the grid shape.
func (g GridGeometry) Validate() error {
	if g.Rows <= 0 || g.Cols <= 0 {
		return domain.ConfigurationError{Field: "grid", Reason: fmt.Sprintf("shape %dx%d must be positive", g.Rows, g.Cols)}
	}
	return nil
}

// Resolve returns the crop rectangle for a width x height image, with origin
// at the top left corner.
func (g GridGeometry) Resolve(width, height int) (image.Rectangle, error) {
	if err := g.Validate(); err != nil {
		return image.Rectangle{}, err
	}
	top := g.Top.resolve(height, 0)
	bottom := g.Bottom.resolve(height, height)
	left := g.Left.resolve(width, 0)
	right := g.Right.resolve(width, width)
	if bottom <= top {
		return image.Rectangle{}, domain.ConfigurationError{
			Field:  "margins",
			Reason: fmt.Sprintf("bottom %d (from %s) is not below top %d (from %s); use a negative bottom for a margin from the lower edge", bottom, g.Bottom, top, g.Top),
		}
	}
	if right <= left {
		return image.Rectangle{}, domain.ConfigurationError{
			Field:  "margins",
			Reason: fmt.Sprintf("right %d (from %s) is not right of left %d (from %s); use a negative right for a margin from the right edge", right, g.Right, left, g.Left),
		}
	}
	return image.Rect(left, top, right, bottom), nil
}

// Cells returns the rows x cols cell rectangles of crop, row-major. Cell
// edges are distributed evenly, so cells differ by at most one pixel.
func (g GridGeometry) Cells(crop image.Rectangle) [][]image.Rectangle {
	h, w := crop.Dy(), crop.Dx()
	cells := make([][]image.Rectangle, g.Rows)
	for r := range cells {
		cells[r] = make([]image.Rectangle, g.Cols)
		y0, y1 := crop.Min.Y+h*r/g.Rows, crop.Min.Y+h*(r+1)/g.Rows
		for c := range cells[r] {
			x0, x1 := crop.Min.X+w*c/g.Cols, crop.Min.X+w*(c+1)/g.Cols
			cells[r][c] = image.Rect(x0, y0, x1, y1)
		}
	}
	return cells
}
