// Package domain defines the persistent records, value types, and rule
// evaluation primitives used by tubetrack.
package domain

// EntityType identifies the type of record a change or violation refers to.
type EntityType string

// Supported entity type identifiers used in Change records and violations.
const (
	// EntityTube identifies a tube record.
	EntityTube EntityType = "tube"
	// EntityBox identifies a box record.
	EntityBox EntityType = "box"
)

// Sentinel values stored in place of a real box name or position when a
// tube's location is not tracked.
const (
	BoxMissing    = "(missing)"
	BoxCheckedOut = "(checked-out)"
	PositionNA    = "N/A"
)

// Column names of the tubes and boxes tables.
const (
	ColumnBoxName  = "boxname"
	ColumnBarcode  = "barcode"
	ColumnPosition = "pos"
)

var (
	// TubeColumns is the canonical column order of the tubes table.
	TubeColumns = []string{ColumnBoxName, ColumnBarcode, ColumnPosition}
	// BoxColumns is the canonical column order of the boxes table.
	BoxColumns = []string{ColumnBoxName}
)

// Tube is a barcoded sample container. BoxName references a Box record or
// holds a sentinel such as BoxMissing; Position is a position string such as
// "A01" or PositionNA.
type Tube struct {
	BoxName  string `json:"boxname"`
	Barcode  string `json:"barcode"`
	Position string `json:"pos"`
}

// Row converts the tube into a table row.
func (t Tube) Row() Row {
	return Row{ColumnBoxName: t.BoxName, ColumnBarcode: t.Barcode, ColumnPosition: t.Position}
}

// TubeFromRow reads a tube out of a tubes-table row. Missing columns yield
// empty fields.
func TubeFromRow(r Row) Tube {
	return Tube{BoxName: r[ColumnBoxName], Barcode: r[ColumnBarcode], Position: r[ColumnPosition]}
}

// Box is a named container holding tubes in a fixed grid layout.
type Box struct {
	Name string `json:"boxname"`
}

// Row converts the box into a table row.
func (b Box) Row() Row {
	return Row{ColumnBoxName: b.Name}
}

// BoxFromRow reads a box out of a boxes-table row.
func BoxFromRow(r Row) Box {
	return Box{Name: r[ColumnBoxName]}
}

// Action indicates the type of modification captured in a Change.
type Action string

// Change actions recorded while reconciling a scan.
const (
	// ActionCreate indicates a record was inserted.
	ActionCreate Action = "create"
	// ActionUpdate indicates a record was modified in place.
	ActionUpdate Action = "update"
	// ActionDelete indicates a record was removed.
	ActionDelete Action = "delete"
)

// Change describes a single record mutation.
type Change struct {
	Entity EntityType
	Action Action
	Before any
	After  any
}
