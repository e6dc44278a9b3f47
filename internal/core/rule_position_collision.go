package core

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"tubetrack/pkg/domain"
)

// NewPositionCollisionRule returns the rule warning about tubes of one box
// sharing a grid position. Empty positions, domain.PositionNA and any of
// ignore are not grid positions.
func NewPositionCollisionRule(ignore ...string) domain.Rule {
	skip := map[string]struct{}{"": {}, domain.PositionNA: {}}
	for _, pos := range ignore {
		skip[pos] = struct{}{}
	}
	return positionCollisionRule{skip: skip}
}

type positionCollisionRule struct {
	skip map[string]struct{}
}

func (positionCollisionRule) Name() string { return "tube_position_collision" }

func (r positionCollisionRule) Evaluate(_ context.Context, view domain.RuleView, _ []domain.Change) (domain.Result, error) {
	type slot struct{ box, pos string }
	occupants := make(map[slot][]string)
	var order []slot
	for _, tube := range view.ListTubes() {
		if _, ok := r.skip[tube.Position]; ok {
			continue
		}
		key := slot{tube.BoxName, tube.Position}
		if _, seen := occupants[key]; !seen {
			order = append(order, key)
		}
		occupants[key] = append(occupants[key], tube.Barcode)
	}

	res := domain.Result{}
	for _, key := range order {
		barcodes := occupants[key]
		if len(barcodes) < 2 {
			continue
		}
		sort.Strings(barcodes)
		res.Violations = append(res.Violations, domain.Violation{
			Rule:     "tube_position_collision",
			Severity: domain.SeverityWarn,
			Message:  fmt.Sprintf("box %s position %s holds %d tubes: %s", key.box, key.pos, len(barcodes), strings.Join(barcodes, ", ")),
			Entity:   domain.EntityBox,
			EntityID: key.box,
		})
	}
	return res, nil
}
