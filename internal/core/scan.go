package core

import (
	"context"
	"fmt"

	"tubetrack/internal/matching"
	"tubetrack/internal/scanner"
	"tubetrack/pkg/gridpos"
)

// ScanReport is the outcome of ScanBox. Matched is false when no box is
// known; the caller confirms or overrides BestMatch before reconciling.
// BestDiff lists the barcodes behind the best candidate's score.
type ScanReport struct {
	Grid       gridpos.Grid         `json:"grid"`
	Positions  gridpos.PositionMap  `json:"positions"`
	Candidates []matching.Candidate `json:"candidates"`
	BestMatch  string               `json:"best_match,omitempty"`
	BestDiff   *matching.Diff       `json:"best_diff,omitempty"`
	Matched    bool                 `json:"matched"`
	ArchiveKey string               `json:"archive_key,omitempty"`
}

// ScanBox captures an image, decodes its grid and ranks the known boxes
// against the decoded barcodes. The scan is archived under the best match
// when an archive is configured. No table is modified.
func (t *Tracker) ScanBox(ctx context.Context, camera scanner.Camera, decoder scanner.CellDecoder) (ScanReport, error) {
	var report ScanReport
	err := t.run(ctx, opScanBox, func(ctx context.Context) (outcome, error) {
		out := outcome{}
		img, err := camera.Capture(ctx)
		if err != nil {
			return out, fmt.Errorf("capture: %w", err)
		}
		grid, err := scanner.ScanGrid(ctx, img, t.settings.Geometry, decoder)
		if err != nil {
			return out, err
		}
		report, err = t.IdentifyGrid(ctx, grid)
		if err != nil {
			return out, err
		}
		out.entityID = report.BestMatch
		out.counts = map[string]int{"decoded": len(report.Positions), "candidates": len(report.Candidates)}
		if t.archive != nil && report.Matched {
			key, err := t.archiveScan(ctx, report.BestMatch, grid)
			if err != nil {
				return out, err
			}
			report.ArchiveKey = key
		}
		return out, nil
	})
	return report, err
}

// IdentifyGrid ranks the known boxes against an already decoded grid.
func (t *Tracker) IdentifyGrid(ctx context.Context, grid gridpos.Grid) (ScanReport, error) {
	positions, err := gridpos.PositionMapFromGrid(grid, t.settings.Grid)
	if err != nil {
		return ScanReport{}, err
	}
	scanned := matching.NewSet(positions.Values()...)
	ranked, err := t.RankBoxes(ctx, scanned)
	if err != nil {
		return ScanReport{}, err
	}
	report := ScanReport{Grid: grid, Positions: positions, Candidates: ranked}
	if len(ranked) > 0 {
		report.BestMatch, report.Matched = ranked[0].BoxName, true
		sets, err := t.BoxBarcodeSets(ctx)
		if err != nil {
			return ScanReport{}, err
		}
		diff := matching.DiffAgainstBox(scanned, sets[report.BestMatch])
		report.BestDiff = &diff
	}
	return report, nil
}

// ArchiveScan stores grid as a scan of box at the current time. It fails when
// no archive is configured.
func (t *Tracker) ArchiveScan(ctx context.Context, box string, grid gridpos.Grid) (string, error) {
	if t.archive == nil {
		return "", fmt.Errorf("no scan archive configured")
	}
	return t.archiveScan(ctx, box, grid)
}

func (t *Tracker) archiveScan(ctx context.Context, box string, grid gridpos.Grid) (string, error) {
	var key string
	err := t.run(ctx, opArchiveScan, func(ctx context.Context) (outcome, error) {
		var err error
		key, err = t.archive.Save(ctx, box, grid, t.clock.Now())
		return outcome{entityID: box}, err
	})
	return key, err
}
