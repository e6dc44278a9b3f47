package core

import (
	"context"
	stdcsv "encoding/csv"
	"strings"
	"testing"

	"tubetrack/internal/config"
	"tubetrack/internal/infra/persistence/memory"
	"tubetrack/pkg/domain"
	"tubetrack/pkg/gridpos"
)

const boxesData = `
boxname
box1
box2
box3
`

const tubesData = `
boxname,barcode,pos
box1,First,A01
box1,Second,A02
box1,Third,A03
box1,Fourth,C03
box2,tube1,A01
box2,tube2,B01
box2,tube3,A03
box2,tube4,A08
box2,tube9,D08
box3,One,A01
box3,Two,A02
`

// tubesDataMod1 is tubesData after reconciling gridMod1 into box1.
const tubesDataMod1 = `
boxname,barcode,pos
box1,First,A01
box1,Second,A02
(missing),Third,N/A
box1,Fourth,C03
box1,tube1,B03
box2,tube2,B01
box2,tube3,A03
box2,tube4,A08
box2,tube9,D08
box3,One,A01
box3,Two,A02
`

var (
	grid3x3 = gridpos.Grid{
		{"First", "Second", "Third"},
		{"", "", ""},
		{"", "", "Fourth"},
	}
	grid3x3Rot90 = gridpos.Grid{
		{"Third", "", "Fourth"},
		{"Second", "", ""},
		{"First", "", ""},
	}
	gridMod1 = gridpos.Grid{
		{"First", "Second", ""},
		{"", "", "tube1"},
		{"", "", "Fourth"},
	}
)

func parseTable(t *testing.T, data string) domain.Table {
	t.Helper()
	records, err := stdcsv.NewReader(strings.NewReader(strings.TrimSpace(data))).ReadAll()
	if err != nil {
		t.Fatalf("parse fixture: %v", err)
	}
	table := domain.Table{Columns: records[0]}
	for _, rec := range records[1:] {
		row := make(domain.Row, len(rec))
		for i, v := range rec {
			row[table.Columns[i]] = v
		}
		table.Rows = append(table.Rows, row)
	}
	return table
}

func testSettings(t *testing.T) Settings {
	t.Helper()
	cfg := config.Default()
	cfg.Username = "testuser"
	settings, err := SettingsFromConfig(cfg)
	if err != nil {
		t.Fatalf("settings: %v", err)
	}
	return settings
}

// newFixtureTracker seeds a memory store with the standard three boxes.
func newFixtureTracker(t *testing.T, opts ...Option) (*Tracker, *memory.Store) {
	t.Helper()
	ctx := context.Background()
	store := memory.NewStore()
	settings := testSettings(t)
	if err := store.SetTable(ctx, settings.BoxesTable, parseTable(t, boxesData), false); err != nil {
		t.Fatalf("seed boxes: %v", err)
	}
	if err := store.SetTable(ctx, settings.TubesTable, parseTable(t, tubesData), false); err != nil {
		t.Fatalf("seed tubes: %v", err)
	}
	store.MarkClean(store.TableNames()...)
	return NewTracker(store, settings, opts...), store
}

func mustPositions(t *testing.T, g gridpos.Grid) gridpos.PositionMap {
	t.Helper()
	m, err := gridpos.PositionMapFromGrid(g, gridpos.DefaultOptions())
	if err != nil {
		t.Fatalf("position map: %v", err)
	}
	return m
}

func tubeRows(table domain.Table) []string {
	out := make([]string, 0, len(table.Rows))
	for _, row := range table.Rows {
		tube := domain.TubeFromRow(row)
		out = append(out, tube.BoxName+","+tube.Barcode+","+tube.Position)
	}
	return out
}

// tableOnlyStore hides the batch interface of the wrapped store.
type tableOnlyStore struct {
	inner domain.TableStore
	sets  []string
}

func (s *tableOnlyStore) GetTable(ctx context.Context, name string) (domain.Table, error) {
	return s.inner.GetTable(ctx, name)
}

func (s *tableOnlyStore) SetTable(ctx context.Context, name string, table domain.Table, flush bool) error {
	s.sets = append(s.sets, name)
	return s.inner.SetTable(ctx, name, table, flush)
}

func (s *tableOnlyStore) AppendRow(ctx context.Context, name string, row domain.Row) error {
	return s.inner.AppendRow(ctx, name, row)
}

func (s *tableOnlyStore) Flush(ctx context.Context) error { return s.inner.Flush(ctx) }

func newEmptyStore() *memory.Store { return memory.NewStore() }
