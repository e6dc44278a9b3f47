// Package core hosts the Tracker, the stateful entry point that combines grid
// conversion, box matching and rotation alignment with the table store to
// identify scanned boxes and reconcile tube positions.
package core

import (
	"context"
	"fmt"

	"tubetrack/internal/config"
	"tubetrack/internal/scanner"
	"tubetrack/pkg/domain"
	"tubetrack/pkg/gridpos"
)

type (
	// RulesEngine evaluates reconciliation rules before tables are saved.
	RulesEngine = domain.RulesEngine
	// Rule is a single reconciliation check.
	Rule = domain.Rule
)

// Settings are the resolved tracker parameters.
type Settings struct {
	TubesTable        string
	BoxesTable        string
	RemovedBoxName    string
	RemovedPosition   string
	CheckedOutBoxName string
	Grid              gridpos.Options
	Parser            *gridpos.Parser
	Geometry          scanner.GridGeometry
}

// SettingsFromConfig resolves Settings from a validated configuration.
func SettingsFromConfig(cfg config.Config) (Settings, error) {
	parser, err := cfg.Parser()
	if err != nil {
		return Settings{}, err
	}
	return Settings{
		TubesTable:        cfg.TubesTableName(),
		BoxesTable:        cfg.BoxesTableName(),
		RemovedBoxName:    cfg.Tracker.RemovedBoxName,
		RemovedPosition:   cfg.Tracker.RemovedPosition,
		CheckedOutBoxName: cfg.Tracker.CheckedOutBoxName,
		Grid:              cfg.GridOptions(),
		Parser:            parser,
		Geometry:          cfg.Geometry(),
	}, nil
}

// DefaultSettings returns the settings of the built-in configuration.
func DefaultSettings() Settings {
	s, err := SettingsFromConfig(config.Default())
	if err != nil {
		panic(fmt.Sprintf("default settings: %v", err))
	}
	return s
}

// withDefaults fills unset fields from DefaultSettings.
func (s Settings) withDefaults() Settings {
	def := DefaultSettings()
	if s.TubesTable == "" {
		s.TubesTable = def.TubesTable
	}
	if s.BoxesTable == "" {
		s.BoxesTable = def.BoxesTable
	}
	if s.RemovedBoxName == "" {
		s.RemovedBoxName = def.RemovedBoxName
	}
	if s.RemovedPosition == "" {
		s.RemovedPosition = def.RemovedPosition
	}
	if s.CheckedOutBoxName == "" {
		s.CheckedOutBoxName = def.CheckedOutBoxName
	}
	if s.Grid.Format == (gridpos.Format{}) {
		s.Grid.Format = def.Grid.Format
	}
	if s.Parser == nil {
		s.Parser = def.Parser
	}
	if s.Geometry.Rows == 0 && s.Geometry.Cols == 0 {
		s.Geometry = def.Geometry
	}
	return s
}

// Tracker answers "which box is this?" and reconciles persisted tube
// positions after a scan. Tables are loaded, mutated in memory and written
// back whole.
type Tracker struct {
	store    domain.TableStore
	settings Settings
	engine   *RulesEngine
	archive  *ScanArchive
	logger   Logger
	clock    Clock
	metrics  MetricsRecorder
	tracer   Tracer
	audit    AuditRecorder
}

// Option customises a Tracker.
type Option func(*Tracker)

// WithLogger sets the structured logger.
func WithLogger(l Logger) Option {
	return func(t *Tracker) {
		if l != nil {
			t.logger = l
		}
	}
}

// WithClock overrides the time source.
func WithClock(c Clock) Option {
	return func(t *Tracker) {
		if c != nil {
			t.clock = c
		}
	}
}

// WithMetricsRecorder sets the metrics sink.
func WithMetricsRecorder(m MetricsRecorder) Option {
	return func(t *Tracker) {
		if m != nil {
			t.metrics = m
		}
	}
}

// WithTracer sets the tracer.
func WithTracer(tr Tracer) Option {
	return func(t *Tracker) {
		if tr != nil {
			t.tracer = tr
		}
	}
}

// WithAuditRecorder sets the audit sink.
func WithAuditRecorder(a AuditRecorder) Option {
	return func(t *Tracker) {
		if a != nil {
			t.audit = a
		}
	}
}

// WithScanArchive archives every decoded scan.
func WithScanArchive(a *ScanArchive) Option {
	return func(t *Tracker) { t.archive = a }
}

// WithRulesEngine replaces the default reconciliation rules. A nil engine
// disables rule evaluation.
func WithRulesEngine(e *RulesEngine) Option {
	return func(t *Tracker) {
		if e == nil {
			e = domain.NewRulesEngine()
		}
		t.engine = e
	}
}

// NewTracker constructs a tracker over store. Zero-valued settings fields
// take their DefaultSettings values.
func NewTracker(store domain.TableStore, settings Settings, opts ...Option) *Tracker {
	settings = settings.withDefaults()
	t := &Tracker{
		store:    store,
		settings: settings,
		engine:   NewDefaultRulesEngine(settings.RemovedPosition),
		logger:   noopLogger{},
		clock:    systemClock{},
		metrics:  noopMetricsRecorder{},
		tracer:   noopTracer{},
		audit:    noopAuditRecorder{},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Settings returns the tracker settings.
func (t *Tracker) Settings() Settings { return t.settings }

// Store returns the table store.
func (t *Tracker) Store() domain.TableStore { return t.store }

// Archive returns the scan archive, or nil when scans are not archived.
func (t *Tracker) Archive() *ScanArchive { return t.archive }

func (t *Tracker) loadTables(ctx context.Context) (tubes, boxes domain.Table, err error) {
	tubes, err = t.store.GetTable(ctx, t.settings.TubesTable)
	if err != nil {
		return domain.Table{}, domain.Table{}, fmt.Errorf("load %s: %w", t.settings.TubesTable, err)
	}
	boxes, err = t.store.GetTable(ctx, t.settings.BoxesTable)
	if err != nil {
		return domain.Table{}, domain.Table{}, fmt.Errorf("load %s: %w", t.settings.BoxesTable, err)
	}
	return tubes, boxes, nil
}

// saveTables replaces the given tables, atomically when the store supports
// it. Otherwise the boxes table is written before the tubes table, and a
// failure between the two leaves a box without its tube updates.
func (t *Tracker) saveTables(ctx context.Context, tables map[string]domain.Table, flush bool) error {
	if bs, ok := t.store.(domain.BatchTableStore); ok {
		if err := bs.SetTables(ctx, tables, flush); err != nil {
			return fmt.Errorf("save tables: %w", err)
		}
		return nil
	}
	for _, name := range []string{t.settings.BoxesTable, t.settings.TubesTable} {
		table, ok := tables[name]
		if !ok {
			continue
		}
		if err := t.store.SetTable(ctx, name, table, flush); err != nil {
			return fmt.Errorf("save %s: %w", name, err)
		}
	}
	return nil
}

// ensureColumns appends any of cols missing from the table's column list.
func ensureColumns(table *domain.Table, cols []string) {
	have := make(map[string]struct{}, len(table.Columns))
	for _, c := range table.Columns {
		have[c] = struct{}{}
	}
	for _, c := range cols {
		if _, ok := have[c]; !ok {
			table.Columns = append(table.Columns, c)
		}
	}
}

func tubesOf(table domain.Table) []domain.Tube {
	out := make([]domain.Tube, 0, len(table.Rows))
	for _, row := range table.Rows {
		out = append(out, domain.TubeFromRow(row))
	}
	return out
}

// boxNamesOf returns the distinct box names in table order.
func boxNamesOf(table domain.Table) []string {
	seen := make(map[string]struct{}, len(table.Rows))
	out := make([]string, 0, len(table.Rows))
	for _, row := range table.Rows {
		name := row[domain.ColumnBoxName]
		if _, dup := seen[name]; dup || name == "" {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out
}

func containsBox(boxes domain.Table, name string) bool {
	for _, row := range boxes.Rows {
		if row[domain.ColumnBoxName] == name {
			return true
		}
	}
	return false
}

// isSentinelBox reports box names that stand for an untracked location.
func (t *Tracker) isSentinelBox(name string) bool {
	return name == "" || name == t.settings.RemovedBoxName || name == t.settings.CheckedOutBoxName
}
