package core

import "tubetrack/pkg/domain"

// NewDefaultRulesEngine builds a rules engine with the built-in policy set.
// removedPositions are sentinel positions exempt from collision checks.
func NewDefaultRulesEngine(removedPositions ...string) *RulesEngine {
	engine := domain.NewRulesEngine()
	engine.Register(NewPositionCollisionRule(removedPositions...))
	engine.Register(NewDuplicateBarcodeRule())
	return engine
}

// tableView exposes reconciled tables to rules before they are saved.
type tableView struct {
	tubes domain.Table
	boxes domain.Table
}

func (v tableView) ListTubes() []domain.Tube { return tubesOf(v.tubes) }

func (v tableView) ListBoxes() []domain.Box {
	out := make([]domain.Box, 0, len(v.boxes.Rows))
	for _, row := range v.boxes.Rows {
		out = append(out, domain.BoxFromRow(row))
	}
	return out
}

var _ domain.RuleView = tableView{}
