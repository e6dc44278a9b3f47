package core

import (
	"context"
	"testing"

	"tubetrack/pkg/domain"
)

func viewOf(tubes ...domain.Tube) tableView {
	var table domain.Table
	for _, tube := range tubes {
		table.Rows = append(table.Rows, tube.Row())
	}
	return tableView{tubes: table}
}

func TestDefaultRulesEngineRegistersBuiltins(t *testing.T) {
	rules := NewDefaultRulesEngine().Rules()
	if len(rules) != 2 || rules[0].Name() != "tube_position_collision" || rules[1].Name() != "tube_duplicate_barcode" {
		t.Fatalf("unexpected rules %v", rules)
	}
}

func TestPositionCollisionRule(t *testing.T) {
	view := viewOf(
		domain.Tube{BoxName: "box1", Barcode: "b", Position: "A01"},
		domain.Tube{BoxName: "box1", Barcode: "a", Position: "A01"},
		domain.Tube{BoxName: "box2", Barcode: "c", Position: "A01"},
		domain.Tube{BoxName: domain.BoxMissing, Barcode: "d", Position: domain.PositionNA},
		domain.Tube{BoxName: domain.BoxMissing, Barcode: "e", Position: domain.PositionNA},
		domain.Tube{BoxName: "(lost)", Barcode: "f", Position: "-"},
		domain.Tube{BoxName: "(lost)", Barcode: "g", Position: "-"},
	)
	res, err := NewPositionCollisionRule("-").Evaluate(context.Background(), view, nil)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(res.Violations) != 1 {
		t.Fatalf("expected one collision, got %+v", res.Violations)
	}
	v := res.Violations[0]
	if v.Severity != domain.SeverityWarn || v.EntityID != "box1" || v.Message != "box box1 position A01 holds 2 tubes: a, b" {
		t.Fatalf("unexpected violation %+v", v)
	}
	if res.HasBlocking() {
		t.Fatalf("collisions must not block")
	}
}

func TestDuplicateBarcodeRuleOnlyChecksTouchedBarcodes(t *testing.T) {
	view := viewOf(
		domain.Tube{BoxName: "box1", Barcode: "x", Position: "A01"},
		domain.Tube{BoxName: "box2", Barcode: "x", Position: "A02"},
		domain.Tube{BoxName: "box1", Barcode: "y", Position: "B01"},
		domain.Tube{BoxName: "box3", Barcode: "y", Position: "B02"},
	)
	rule := NewDuplicateBarcodeRule()
	res, err := rule.Evaluate(context.Background(), view, nil)
	if err != nil || len(res.Violations) != 0 {
		t.Fatalf("untouched duplicates must pass, got %+v, %v", res, err)
	}
	changes := []domain.Change{{
		Entity: domain.EntityTube,
		Action: domain.ActionUpdate,
		After:  domain.Tube{BoxName: "box1", Barcode: "x", Position: "A01"},
	}}
	res, err = rule.Evaluate(context.Background(), view, changes)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(res.Violations) != 1 || res.Violations[0].EntityID != "x" || !res.HasBlocking() {
		t.Fatalf("expected blocking violation for x, got %+v", res.Violations)
	}
}

func TestTableViewListsBoxes(t *testing.T) {
	view := tableView{boxes: domain.Table{Rows: []domain.Row{{domain.ColumnBoxName: "box1"}, {domain.ColumnBoxName: "box2"}}}}
	boxes := view.ListBoxes()
	if len(boxes) != 2 || boxes[1].Name != "box2" || len(view.ListTubes()) != 0 {
		t.Fatalf("unexpected view %+v", boxes)
	}
}
