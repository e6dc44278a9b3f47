package core

import (
	"context"
	"fmt"

	"tubetrack/pkg/domain"
	"tubetrack/pkg/gridpos"
)

// CreateBoxPolicy decides what reconciliation does with a box that is not in
// the boxes table.
type CreateBoxPolicy string

// Box creation policies.
const (
	// CreateBoxRaise fails with domain.UnknownBoxError. It is the default.
	CreateBoxRaise CreateBoxPolicy = "raise"
	// CreateBoxAsk returns a DecisionRequest without touching any table.
	CreateBoxAsk CreateBoxPolicy = "ask"
	// CreateBoxCreate adds the box and continues.
	CreateBoxCreate CreateBoxPolicy = "create"
)

// ParseCreateBoxPolicy accepts "raise", "ask", "create" and the empty string.
func ParseCreateBoxPolicy(s string) (CreateBoxPolicy, error) {
	switch p := CreateBoxPolicy(s); p {
	case "", CreateBoxRaise:
		return CreateBoxRaise, nil
	case CreateBoxAsk, CreateBoxCreate:
		return p, nil
	default:
		return "", domain.ConfigurationError{Field: "create_box", Reason: fmt.Sprintf("unknown policy %q", s)}
	}
}

// ReconcileOptions tune ReconcileBoxScan.
type ReconcileOptions struct {
	CreateBox CreateBoxPolicy
	// UpdateRemoved moves tubes that were in the box but not in the scan to
	// the removed sentinels.
	UpdateRemoved bool
	// RemovedBoxName and RemovedPosition override the configured sentinels.
	RemovedBoxName  string
	RemovedPosition string
	// Flush writes the tables to durable storage before returning.
	Flush bool
}

// DefaultReconcileOptions raise on unknown boxes, mark removed tubes and flush.
func DefaultReconcileOptions() ReconcileOptions {
	return ReconcileOptions{CreateBox: CreateBoxRaise, UpdateRemoved: true, Flush: true}
}

// DecisionKind identifies the question a DecisionRequest asks.
type DecisionKind string

// DecisionCreateBox asks whether an unknown box should be created.
const DecisionCreateBox DecisionKind = "create_box"

// DecisionRequest is returned instead of a reconciliation when the caller has
// to decide something first.
type DecisionRequest struct {
	Kind    DecisionKind `json:"kind"`
	BoxName string       `json:"boxname"`
	Message string       `json:"message"`
}

// ReconcileResult reports what a reconciliation changed. Barcode lists are
// sorted, except Removed which follows table order. Collapsed lists scanned
// barcodes that had several tube rows; they are also reported as moved.
type ReconcileResult struct {
	BoxName    string           `json:"boxname"`
	BoxCreated bool             `json:"box_created"`
	Removed    []string         `json:"removed"`
	Moved      []string         `json:"moved"`
	Inserted   []string         `json:"inserted"`
	Unchanged  []string         `json:"unchanged"`
	Collapsed  []string         `json:"collapsed"`
	Violations domain.Result    `json:"violations"`
	Decision   *DecisionRequest `json:"decision,omitempty"`
}

// NeedsDecision reports whether nothing was reconciled because the caller
// must answer Decision first.
func (r ReconcileResult) NeedsDecision() bool { return r.Decision != nil }

// ReconcileGrid converts a decoded grid with the configured position format
// and reconciles it into box.
func (t *Tracker) ReconcileGrid(ctx context.Context, box string, grid gridpos.Grid, opts ReconcileOptions) (ReconcileResult, error) {
	scanned, err := gridpos.PositionMapFromGrid(grid, t.settings.Grid)
	if err != nil {
		return ReconcileResult{BoxName: box}, err
	}
	return t.ReconcileBoxScan(ctx, box, scanned, opts)
}

// ReconcileBoxScan makes the tubes table agree with a scan of box. Tubes
// previously in box but absent from scanned are reported as removed and, with
// UpdateRemoved, moved to the removed sentinels. Every scanned barcode is
// placed at its scanned position: the first existing row is updated in place,
// further rows with the same barcode are dropped and unknown barcodes are
// appended. Nothing is written when a position fails to
// parse, a decision is needed or a blocking rule fires.
func (t *Tracker) ReconcileBoxScan(ctx context.Context, box string, scanned gridpos.PositionMap, opts ReconcileOptions) (ReconcileResult, error) {
	res := ReconcileResult{BoxName: box}
	err := t.run(ctx, opReconcile, func(ctx context.Context) (outcome, error) {
		out := outcome{entityID: box}
		var err error
		res, err = t.reconcile(ctx, box, scanned, opts)
		out.counts = map[string]int{
			"removed":   len(res.Removed),
			"moved":     len(res.Moved),
			"inserted":  len(res.Inserted),
			"unchanged": len(res.Unchanged),
			"collapsed": len(res.Collapsed),
		}
		return out, err
	})
	return res, err
}

func (t *Tracker) reconcile(ctx context.Context, box string, scanned gridpos.PositionMap, opts ReconcileOptions) (ReconcileResult, error) {
	res := ReconcileResult{BoxName: box}
	if box == "" || t.isSentinelBox(box) {
		return res, domain.ConfigurationError{Field: "boxname", Reason: fmt.Sprintf("cannot reconcile into %q", box)}
	}
	policy, err := ParseCreateBoxPolicy(string(opts.CreateBox))
	if err != nil {
		return res, err
	}
	removedBox, removedPos := opts.RemovedBoxName, opts.RemovedPosition
	if removedBox == "" {
		removedBox = t.settings.RemovedBoxName
	}
	if removedPos == "" {
		removedPos = t.settings.RemovedPosition
	}
	barcodes := scanned.Values()
	for _, barcode := range barcodes {
		if barcode == "" {
			return res, domain.ConfigurationError{Field: "barcode", Reason: "scanned barcode must not be empty"}
		}
		if _, err := t.settings.Parser.Coord(scanned[barcode], gridpos.Coord{}, false); err != nil {
			return res, err
		}
	}

	tubes, boxes, err := t.loadTables(ctx)
	if err != nil {
		return res, err
	}
	tubes, boxes = tubes.Clone(), boxes.Clone()
	var changes []domain.Change
	tables := map[string]domain.Table{t.settings.TubesTable: tubes}
	if !containsBox(boxes, box) {
		switch policy {
		case CreateBoxAsk:
			res.Decision = &DecisionRequest{
				Kind:    DecisionCreateBox,
				BoxName: box,
				Message: fmt.Sprintf("box %s does not exist; create it?", box),
			}
			return res, nil
		case CreateBoxCreate:
			ensureColumns(&boxes, domain.BoxColumns)
			boxes.Rows = append(boxes.Rows, domain.Box{Name: box}.Row())
			tables[t.settings.BoxesTable] = boxes
			res.BoxCreated = true
			changes = append(changes, domain.Change{Entity: domain.EntityBox, Action: domain.ActionCreate, After: domain.Box{Name: box}})
		default:
			return res, domain.UnknownBoxError{BoxName: box}
		}
	}
	ensureColumns(&tubes, domain.TubeColumns)

	seenRemoved := make(map[string]struct{})
	for _, row := range tubes.Rows {
		tube := domain.TubeFromRow(row)
		if tube.BoxName != box {
			continue
		}
		if _, ok := scanned[tube.Barcode]; ok {
			continue
		}
		if _, dup := seenRemoved[tube.Barcode]; !dup {
			seenRemoved[tube.Barcode] = struct{}{}
			res.Removed = append(res.Removed, tube.Barcode)
		}
		if !opts.UpdateRemoved {
			continue
		}
		row[domain.ColumnBoxName] = removedBox
		row[domain.ColumnPosition] = removedPos
		changes = append(changes, domain.Change{Entity: domain.EntityTube, Action: domain.ActionUpdate, Before: tube, After: domain.TubeFromRow(row)})
	}

	rowsByBarcode := make(map[string][]int)
	for i, row := range tubes.Rows {
		rowsByBarcode[row[domain.ColumnBarcode]] = append(rowsByBarcode[row[domain.ColumnBarcode]], i)
	}
	dropped := make(map[int]struct{})
	for _, barcode := range barcodes {
		want := domain.Tube{BoxName: box, Barcode: barcode, Position: scanned[barcode]}
		rows := rowsByBarcode[barcode]
		if len(rows) == 0 {
			tubes.Rows = append(tubes.Rows, want.Row())
			res.Inserted = append(res.Inserted, barcode)
			changes = append(changes, domain.Change{Entity: domain.EntityTube, Action: domain.ActionCreate, After: want})
			continue
		}
		// The first row takes the scanned position; later rows for the same
		// barcode are dropped.
		row := tubes.Rows[rows[0]]
		before := domain.TubeFromRow(row)
		if before != want {
			row[domain.ColumnBoxName] = want.BoxName
			row[domain.ColumnPosition] = want.Position
			changes = append(changes, domain.Change{Entity: domain.EntityTube, Action: domain.ActionUpdate, Before: before, After: want})
		}
		for _, i := range rows[1:] {
			dropped[i] = struct{}{}
			changes = append(changes, domain.Change{Entity: domain.EntityTube, Action: domain.ActionDelete, Before: domain.TubeFromRow(tubes.Rows[i])})
		}
		switch {
		case before != want:
			res.Moved = append(res.Moved, barcode)
		case len(rows) == 1:
			res.Unchanged = append(res.Unchanged, barcode)
		}
		if len(rows) > 1 {
			res.Collapsed = append(res.Collapsed, barcode)
			if before == want {
				res.Moved = append(res.Moved, barcode)
			}
		}
	}
	if len(dropped) > 0 {
		kept := tubes.Rows[:0:0]
		for i, row := range tubes.Rows {
			if _, ok := dropped[i]; !ok {
				kept = append(kept, row)
			}
		}
		tubes.Rows = kept
	}
	tables[t.settings.TubesTable] = tubes

	if t.engine != nil {
		result, err := t.engine.Evaluate(ctx, tableView{tubes: tubes, boxes: boxes}, changes)
		if err != nil {
			return res, fmt.Errorf("evaluate rules: %w", err)
		}
		res.Violations = result
		if result.HasBlocking() {
			return res, domain.RuleViolationError{Result: result}
		}
		for _, v := range result.Violations {
			t.logger.Warn("reconciliation rule violation", "rule", v.Rule, "severity", v.Severity, "entity_id", v.EntityID, "message", v.Message)
		}
	}

	if err := t.saveTables(ctx, tables, opts.Flush); err != nil {
		return res, err
	}
	t.logger.Info("box reconciled", "box", box, "removed", len(res.Removed), "moved", len(res.Moved), "inserted", len(res.Inserted))
	return res, nil
}
