package core

import (
	"context"
	"fmt"
	"strings"

	"tubetrack/internal/matching"
	"tubetrack/pkg/domain"
	"tubetrack/pkg/gridpos"
)

// Tubes returns every tube record in table order.
func (t *Tracker) Tubes(ctx context.Context) ([]domain.Tube, error) {
	tubes, _, err := t.loadTables(ctx)
	if err != nil {
		return nil, err
	}
	return tubesOf(tubes), nil
}

// Boxes returns the box names of the boxes table in table order.
func (t *Tracker) Boxes(ctx context.Context) ([]string, error) {
	_, boxes, err := t.loadTables(ctx)
	if err != nil {
		return nil, err
	}
	return boxNamesOf(boxes), nil
}

// BoxTubes returns the tubes currently assigned to box.
func (t *Tracker) BoxTubes(ctx context.Context, box string) ([]domain.Tube, error) {
	all, err := t.Tubes(ctx)
	if err != nil {
		return nil, err
	}
	var out []domain.Tube
	for _, tube := range all {
		if tube.BoxName == box {
			out = append(out, tube)
		}
	}
	return out, nil
}

// BoxPositionMap returns barcode -> position for the tubes in box. Tubes
// without a position are left out; a repeated barcode keeps its first row.
func (t *Tracker) BoxPositionMap(ctx context.Context, box string) (gridpos.PositionMap, error) {
	var out gridpos.PositionMap
	err := t.run(ctx, opBoxPositionMap, func(ctx context.Context) (outcome, error) {
		tubes, err := t.BoxTubes(ctx, box)
		if err != nil {
			return outcome{entityID: box}, err
		}
		out = make(gridpos.PositionMap, len(tubes))
		for _, tube := range tubes {
			if tube.Position == "" || tube.Position == t.settings.RemovedPosition {
				continue
			}
			if _, dup := out[tube.Barcode]; !dup {
				out[tube.Barcode] = tube.Position
			}
		}
		return outcome{entityID: box}, nil
	})
	return out, err
}

// BoxBarcodeSets returns the barcode set of every known box: each box of the
// boxes table, plus any box referenced only by tube records. Sentinel box
// names are not boxes.
func (t *Tracker) BoxBarcodeSets(ctx context.Context) (map[string]matching.Set, error) {
	tubes, boxes, err := t.loadTables(ctx)
	if err != nil {
		return nil, err
	}
	sets := make(map[string]matching.Set)
	for _, name := range boxNamesOf(boxes) {
		sets[name] = matching.NewSet()
	}
	for _, tube := range tubesOf(tubes) {
		if t.isSentinelBox(tube.BoxName) {
			continue
		}
		set, ok := sets[tube.BoxName]
		if !ok {
			set = matching.NewSet()
			sets[tube.BoxName] = set
		}
		set[tube.Barcode] = struct{}{}
	}
	return sets, nil
}

// BoxDiffs diffs scanned against every known box.
func (t *Tracker) BoxDiffs(ctx context.Context, scanned matching.Set) (map[string]matching.Diff, error) {
	sets, err := t.BoxBarcodeSets(ctx)
	if err != nil {
		return nil, err
	}
	return matching.DiffAllBoxes(scanned, sets), nil
}

// RankBoxes orders every known box by similarity to scanned, best first.
func (t *Tracker) RankBoxes(ctx context.Context, scanned matching.Set) ([]matching.Candidate, error) {
	var ranked []matching.Candidate
	err := t.run(ctx, opRankBoxes, func(ctx context.Context) (outcome, error) {
		diffs, err := t.BoxDiffs(ctx, scanned)
		if err != nil {
			return outcome{}, err
		}
		ranked = matching.RankBoxes(diffs)
		return outcome{counts: map[string]int{"candidates": len(ranked)}}, nil
	})
	return ranked, err
}

// BestMatch returns the box most similar to scanned. ok is false when there
// are no boxes; the caller decides whether to confirm or override a match.
func (t *Tracker) BestMatch(ctx context.Context, scanned matching.Set) (box string, ok bool, err error) {
	err = t.run(ctx, opBestMatch, func(ctx context.Context) (outcome, error) {
		sets, err := t.BoxBarcodeSets(ctx)
		if err != nil {
			return outcome{}, err
		}
		box, ok = matching.BestMatch(scanned, sets)
		return outcome{entityID: box, counts: map[string]int{"scanned": len(scanned), "boxes": len(sets)}}, nil
	})
	return box, ok, err
}

// AddBox creates an empty box. It fails with DuplicateBoxError when the box
// already exists.
func (t *Tracker) AddBox(ctx context.Context, name string) error {
	return t.run(ctx, opAddBox, func(ctx context.Context) (outcome, error) {
		out := outcome{entityID: name}
		if strings.TrimSpace(name) == "" {
			return out, domain.ConfigurationError{Field: "boxname", Reason: "must not be empty"}
		}
		if t.isSentinelBox(name) {
			return out, domain.ConfigurationError{Field: "boxname", Reason: fmt.Sprintf("%q is reserved", name)}
		}
		_, boxes, err := t.loadTables(ctx)
		if err != nil {
			return out, err
		}
		if containsBox(boxes, name) {
			return out, domain.DuplicateBoxError{BoxName: name}
		}
		if err := t.store.AppendRow(ctx, t.settings.BoxesTable, domain.Box{Name: name}.Row()); err != nil {
			return out, fmt.Errorf("append box: %w", err)
		}
		if err := t.store.Flush(ctx); err != nil {
			return out, fmt.Errorf("flush: %w", err)
		}
		return out, nil
	})
}
