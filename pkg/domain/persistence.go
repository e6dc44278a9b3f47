package domain

import "context"

// Row is a single table row keyed by column name.
type Row map[string]string

// Clone returns an independent copy of the row.
func (r Row) Clone() Row {
	if r == nil {
		return nil
	}
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Table is an ordered collection of rows sharing a column layout.
type Table struct {
	Columns []string `json:"columns"`
	Rows    []Row    `json:"rows"`
}

// Clone returns a deep copy of the table.
func (t Table) Clone() Table {
	out := Table{Columns: append([]string(nil), t.Columns...)}
	if t.Rows != nil {
		out.Rows = make([]Row, len(t.Rows))
		for i, r := range t.Rows {
			out.Rows[i] = r.Clone()
		}
	}
	return out
}

// TableStore is the storage collaborator consumed by the tracker. Tables are
// addressed by name and replaced whole; there are no partial updates.
// GetTable on a table that was never written returns an empty table.
type TableStore interface {
	GetTable(ctx context.Context, name string) (Table, error)
	// SetTable replaces the named table. When flush is true the table is
	// written to durable storage before returning.
	SetTable(ctx context.Context, name string, table Table, flush bool) error
	AppendRow(ctx context.Context, name string, row Row) error
	// Flush writes every cached table to durable storage.
	Flush(ctx context.Context) error
}

// BatchTableStore is implemented by stores able to replace several tables
// atomically.
type BatchTableStore interface {
	TableStore
	SetTables(ctx context.Context, tables map[string]Table, flush bool) error
}
