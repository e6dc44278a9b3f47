package scanner

import (
	"context"
	"fmt"
	"image"

	"golang.org/x/image/draw"

	"tubetrack/pkg/gridpos"
)

// CellDecoder decodes the barcode in a single cell image. ok is false when no
// barcode was found; that is not an error.
type CellDecoder interface {
	DecodeCell(ctx context.Context, cell image.Image) (value string, ok bool, err error)
}

// DecoderFunc adapts a function to CellDecoder.
type DecoderFunc func(ctx context.Context, cell image.Image) (string, bool, error)

// DecodeCell calls f.
func (f DecoderFunc) DecodeCell(ctx context.Context, cell image.Image) (string, bool, error) {
	return f(ctx, cell)
}

type subImager interface {
	SubImage(r image.Rectangle) image.Image
}

// Segment splits img into the geometry's grid of cell images. Cells share
// pixels with img when it supports SubImage; otherwise they are copied.
func Segment(img image.Image, geom GridGeometry) ([][]image.Image, error) {
	b := img.Bounds()
	crop, err := geom.Resolve(b.Dx(), b.Dy())
	if err != nil {
		return nil, err
	}
	crop = crop.Add(b.Min)
	rects := geom.Cells(crop)
	out := make([][]image.Image, len(rects))
	for r, row := range rects {
		out[r] = make([]image.Image, len(row))
		for c, rect := range row {
			out[r][c] = cellImage(img, rect)
		}
	}
	return out, nil
}

func cellImage(img image.Image, rect image.Rectangle) image.Image {
	if si, ok := img.(subImager); ok {
		return si.SubImage(rect)
	}
	dst := image.NewRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
	draw.Draw(dst, dst.Bounds(), img, rect.Min, draw.Src)
	return dst
}

// ScanGrid segments img and decodes every cell, returning a grid of the same
// shape with gridpos.Empty where no barcode was decoded.
func ScanGrid(ctx context.Context, img image.Image, geom GridGeometry, dec CellDecoder) (gridpos.Grid, error) {
	cells, err := Segment(img, geom)
	if err != nil {
		return nil, err
	}
	grid := gridpos.NewGrid(geom.Rows, geom.Cols)
	for r, row := range cells {
		for c, cell := range row {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			value, ok, err := dec.DecodeCell(ctx, cell)
			if err != nil {
				return nil, fmt.Errorf("decode cell (%d, %d): %w", r, c, err)
			}
			if ok {
				grid[r][c] = value
			}
		}
	}
	return grid, nil
}
