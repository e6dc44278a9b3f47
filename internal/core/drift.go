package core

import (
	"context"
	"errors"
	"fmt"

	"tubetrack/pkg/domain"
	"tubetrack/pkg/gridpos"
	"tubetrack/pkg/transform"
)

// ComputeBoxRotationDrift compares the stored positions of box with a fresh
// scan and reports the quarter-turn rotation that best explains the
// difference. Only barcodes present in both are compared; with none in common
// the result is an AmbiguousMatchError wrapping domain.ErrNoOverlap. No table
// is modified.
func (t *Tracker) ComputeBoxRotationDrift(ctx context.Context, box string, scanned gridpos.PositionMap) (transform.RotationResult, error) {
	var result transform.RotationResult
	err := t.run(ctx, opDrift, func(ctx context.Context) (outcome, error) {
		out := outcome{entityID: box}
		sets, err := t.BoxBarcodeSets(ctx)
		if err != nil {
			return out, err
		}
		if _, ok := sets[box]; !ok {
			return out, domain.UnknownBoxError{BoxName: box}
		}
		stored, err := t.BoxPositionMap(ctx, box)
		if err != nil {
			return out, err
		}
		storedValues, storedCoords, err := t.valuesCoords(stored)
		if err != nil {
			return out, err
		}
		scannedValues, scannedCoords, err := t.valuesCoords(scanned)
		if err != nil {
			return out, err
		}
		a, b := transform.AlignByValues(storedValues, storedCoords, scannedValues, scannedCoords)
		out.counts = map[string]int{"aligned": len(a)}
		result, err = transform.BestRotation(a, b)
		if errors.Is(err, domain.ErrNoOverlap) {
			return out, domain.AmbiguousMatchError{BoxName: box, Reason: domain.ErrNoOverlap}
		}
		if err != nil {
			return out, fmt.Errorf("best rotation: %w", err)
		}
		out.counts["rotation"] = result.Rotation
		return out, nil
	})
	return result, err
}

// CorrectScan maps scanned positions back into the stored frame of a
// ComputeBoxRotationDrift result. Positions that land outside the labeled
// grid fail with a ConfigurationError.
func (t *Tracker) CorrectScan(scanned gridpos.PositionMap, drift transform.RotationResult) (gridpos.PositionMap, error) {
	values, coords, err := t.valuesCoords(scanned)
	if err != nil {
		return nil, err
	}
	corrected := transform.ApplyCorrection(coords, drift)
	return gridpos.PositionMapFromValuesCoords(values, corrected, gridpos.Coord{}, t.settings.Grid.Format, t.settings.Grid.Transpose)
}

func (t *Tracker) valuesCoords(m gridpos.PositionMap) ([]string, []gridpos.Coord, error) {
	return gridpos.ValuesCoordsFromPositionMap(m, gridpos.Coord{}, t.settings.Parser, t.settings.Grid.Transpose)
}
