package core

import (
	"context"
	"fmt"

	"tubetrack/pkg/domain"
)

// NewDuplicateBarcodeRule returns the rule blocking a save when a barcode
// appears in more than one tube row.
func NewDuplicateBarcodeRule() domain.Rule {
	return duplicateBarcodeRule{}
}

type duplicateBarcodeRule struct{}

func (duplicateBarcodeRule) Name() string { return "tube_duplicate_barcode" }

func (duplicateBarcodeRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	// Only barcodes touched by this reconciliation are checked, so rows that
	// were already duplicated before do not block unrelated scans.
	touched := make(map[string]struct{}, len(changes))
	for _, change := range changes {
		if tube, ok := change.After.(domain.Tube); ok {
			touched[tube.Barcode] = struct{}{}
		}
	}
	counts := make(map[string]int)
	var order []string
	for _, tube := range view.ListTubes() {
		if _, ok := touched[tube.Barcode]; !ok {
			continue
		}
		if counts[tube.Barcode] == 0 {
			order = append(order, tube.Barcode)
		}
		counts[tube.Barcode]++
	}

	res := domain.Result{}
	for _, barcode := range order {
		if n := counts[barcode]; n > 1 {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     "tube_duplicate_barcode",
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("barcode %s appears in %d tube rows", barcode, n),
				Entity:   domain.EntityTube,
				EntityID: barcode,
			})
		}
	}
	return res, nil
}
