package core

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"

	"tubetrack/internal/matching"
	"tubetrack/pkg/domain"
	"tubetrack/pkg/gridpos"
)

type captureAuditRecorder struct {
	entries []AuditEntry
}

func (c *captureAuditRecorder) Record(_ context.Context, entry AuditEntry) {
	c.entries = append(c.entries, entry)
}

func (c *captureAuditRecorder) has(op string, status AuditStatus, predicate func(AuditEntry) bool) bool {
	for _, entry := range c.entries {
		if entry.Operation == op && entry.Status == status {
			if predicate == nil || predicate(entry) {
				return true
			}
		}
	}
	return false
}

type metricsCall struct {
	op       string
	success  bool
	duration time.Duration
}

type captureMetricsRecorder struct {
	calls []metricsCall
}

func (c *captureMetricsRecorder) Observe(_ context.Context, op string, success bool, duration time.Duration) {
	c.calls = append(c.calls, metricsCall{op: op, success: success, duration: duration})
}

func (c *captureMetricsRecorder) has(op string, success bool) bool {
	for _, call := range c.calls {
		if call.op == op && call.success == success {
			return true
		}
	}
	return false
}

type captureTracer struct {
	started []string
	ended   []spanRecord
}

type spanRecord struct {
	op  string
	err error
}

func (c *captureTracer) Start(ctx context.Context, op string) (context.Context, TraceSpan) {
	c.started = append(c.started, op)
	return ctx, &captureSpan{tracer: c, op: op}
}

func (c *captureTracer) has(op string, success bool) bool {
	for _, record := range c.ended {
		if record.op == op && (record.err == nil) == success {
			return true
		}
	}
	return false
}

type captureSpan struct {
	tracer *captureTracer
	op     string
}

func (s *captureSpan) End(err error) {
	s.tracer.ended = append(s.tracer.ended, spanRecord{op: s.op, err: err})
}

type captureLogger struct {
	lines []string
}

func (l *captureLogger) log(level, msg string) { l.lines = append(l.lines, level+": "+msg) }

func (l *captureLogger) Debug(msg string, _ ...any) { l.log("debug", msg) }
func (l *captureLogger) Info(msg string, _ ...any)  { l.log("info", msg) }
func (l *captureLogger) Warn(msg string, _ ...any)  { l.log("warn", msg) }
func (l *captureLogger) Error(msg string, _ ...any) { l.log("error", msg) }

func (l *captureLogger) has(level, msg string) bool {
	for _, line := range l.lines {
		if line == level+": "+msg {
			return true
		}
	}
	return false
}

func TestTrackerObservability(t *testing.T) {
	ctx := context.Background()
	audit := &captureAuditRecorder{}
	metrics := &captureMetricsRecorder{}
	tracer := &captureTracer{}
	logger := &captureLogger{}
	fixed := time.Date(2024, 10, 1, 8, 30, 0, 0, time.UTC)
	tr, _ := newFixtureTracker(t,
		WithAuditRecorder(audit),
		WithMetricsRecorder(metrics),
		WithTracer(tracer),
		WithLogger(logger),
		WithClock(ClockFunc(func() time.Time { return fixed })),
	)

	if err := tr.AddBox(ctx, "box4"); err != nil {
		t.Fatalf("AddBox: %v", err)
	}
	if !audit.has(opAddBox, AuditStatusSuccess, func(e AuditEntry) bool {
		return e.EntityID == "box4" && e.Entity == domain.EntityBox && e.Timestamp.Equal(fixed)
	}) {
		t.Fatalf("expected audit entry for add_box success, got %+v", audit.entries)
	}

	if err := tr.AddBox(ctx, "box1"); err == nil {
		t.Fatalf("expected duplicate error")
	}
	if !audit.has(opAddBox, AuditStatusError, func(e AuditEntry) bool { return strings.Contains(e.Error, "already exists") }) {
		t.Fatalf("expected audit error entry for add_box")
	}
	if !metrics.has(opAddBox, false) || !tracer.has(opAddBox, false) {
		t.Fatalf("expected failed add_box in metrics and traces")
	}
	if !logger.has("warn", "operation failed") {
		t.Fatalf("expected failure to be logged, got %v", logger.lines)
	}

	if _, err := tr.ReconcileGrid(ctx, "box1", gridMod1, DefaultReconcileOptions()); err != nil {
		t.Fatalf("ReconcileGrid: %v", err)
	}
	if !audit.has(opReconcile, AuditStatusSuccess, func(e AuditEntry) bool {
		return e.Counts["removed"] == 1 && e.Counts["moved"] == 1 && e.Counts["unchanged"] == 3 && e.Counts["inserted"] == 0
	}) {
		t.Fatalf("expected reconcile counts in audit, got %+v", audit.entries)
	}
	if !logger.has("info", "box reconciled") {
		t.Fatalf("expected reconcile to be logged, got %v", logger.lines)
	}

	if _, _, err := tr.BestMatch(ctx, matching.NewSet("First")); err != nil {
		t.Fatalf("BestMatch: %v", err)
	}
	if !audit.has(opBestMatch, AuditStatusSuccess, func(e AuditEntry) bool { return e.EntityID == "box1" }) {
		t.Fatalf("expected best_match audit entry")
	}

	before := len(audit.entries)
	if _, err := tr.BoxPositionMap(ctx, "box1"); err != nil {
		t.Fatalf("BoxPositionMap: %v", err)
	}
	if len(audit.entries) != before {
		t.Fatalf("queries must not be audited")
	}
	if !metrics.has(opBoxPositionMap, true) || !tracer.has(opBoxPositionMap, true) {
		t.Fatalf("expected box_position_map metrics and span")
	}
}

func TestNoopObservabilityDefaults(t *testing.T) {
	logger := noopLogger{}
	logger.Debug("debug", "key", "value")
	logger.Info("info")
	logger.Warn("warn")
	logger.Error("error")
	noopAuditRecorder{}.Record(context.Background(), AuditEntry{})
	noopMetricsRecorder{}.Observe(context.Background(), "op", true, time.Second)
	ctx, span := noopTracer{}.Start(context.Background(), "op")
	span.End(errors.New("ignored"))
	if ctx == nil {
		t.Fatalf("expected context from noop tracer")
	}
	if now := (systemClock{}).Now(); now.Location() != time.UTC {
		t.Fatalf("expected UTC clock, got %v", now.Location())
	}
}

func TestJSONTraceTracerWritesSpans(t *testing.T) {
	var buf bytes.Buffer
	now := time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)
	clock := ClockFunc(func() time.Time {
		now = now.Add(5 * time.Millisecond)
		return now
	})
	tracer := NewJSONTracer(&buf, clock)
	_, span := tracer.Start(context.Background(), "trace_op")
	span.End(nil)
	_, span = tracer.Start(context.Background(), "trace_op")
	span.End(errors.New("boom"))
	if err := tracer.Err(); err != nil {
		t.Fatalf("tracer error: %v", err)
	}

	dec := json.NewDecoder(&buf)
	var spans []SpanRecord
	for dec.More() {
		var rec SpanRecord
		if err := dec.Decode(&rec); err != nil {
			t.Fatalf("decode span: %v", err)
		}
		spans = append(spans, rec)
	}
	if len(spans) != 2 {
		t.Fatalf("expected two spans, got %+v", spans)
	}
	if spans[0].Operation != "trace_op" || spans[0].Status != AuditStatusSuccess || spans[0].Duration != 5*time.Millisecond {
		t.Fatalf("unexpected first span %+v", spans[0])
	}
	if spans[1].Status != AuditStatusError || spans[1].Error != "boom" {
		t.Fatalf("unexpected second span %+v", spans[1])
	}
	if NewJSONTracer(&buf, nil).clock == nil {
		t.Fatalf("expected a default clock")
	}
}

func TestJSONTraceTracerFollowsTrackerOperations(t *testing.T) {
	var buf bytes.Buffer
	tr, _ := newFixtureTracker(t, WithTracer(NewJSONTracer(&buf, nil)))
	if _, err := tr.BoxPositionMap(context.Background(), "box1"); err != nil {
		t.Fatalf("BoxPositionMap: %v", err)
	}
	if !strings.Contains(buf.String(), `"operation":"box_position_map"`) {
		t.Fatalf("expected span line, got %q", buf.String())
	}
}

func TestJSONAuditRecorderWritesLines(t *testing.T) {
	var buf bytes.Buffer
	rec := NewJSONAuditRecorder(&buf)
	tr, _ := newFixtureTracker(t, WithAuditRecorder(rec))
	if _, err := tr.ReconcileBoxScan(context.Background(), "box3", gridpos.PositionMap{"One": "A01"}, DefaultReconcileOptions()); err != nil {
		t.Fatalf("ReconcileBoxScan: %v", err)
	}
	if err := rec.Err(); err != nil {
		t.Fatalf("recorder error: %v", err)
	}
	var entry AuditEntry
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("decode audit line %q: %v", buf.String(), err)
	}
	if entry.Operation != opReconcile || entry.EntityID != "box3" || entry.Counts["removed"] != 1 {
		t.Fatalf("unexpected audit entry %+v", entry)
	}
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestJSONAuditRecorderKeepsFirstError(t *testing.T) {
	rec := NewJSONAuditRecorder(failingWriter{})
	rec.Record(context.Background(), AuditEntry{Operation: "a"})
	rec.Record(context.Background(), AuditEntry{Operation: "b"})
	if err := rec.Err(); err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Fatalf("expected write error, got %v", err)
	}
}

func TestPrometheusMetricsRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec, err := NewPrometheusMetricsRecorder(reg)
	if err != nil {
		t.Fatalf("NewPrometheusMetricsRecorder: %v", err)
	}
	tr, _ := newFixtureTracker(t, WithMetricsRecorder(rec))
	ctx := context.Background()
	_ = tr.AddBox(ctx, "box1")
	_ = tr.AddBox(ctx, "box5")
	_ = tr.AddBox(ctx, "box6")

	if got := promtest.ToFloat64(rec.total.WithLabelValues(opAddBox, "success")); got != 2 {
		t.Fatalf("expected 2 successful add_box, got %v", got)
	}
	if got := promtest.ToFloat64(rec.total.WithLabelValues(opAddBox, "error")); got != 1 {
		t.Fatalf("expected 1 failed add_box, got %v", got)
	}
	if n := promtest.CollectAndCount(rec.durations); n != 2 {
		t.Fatalf("expected two histogram series, got %d", n)
	}
	if _, err := NewPrometheusMetricsRecorder(reg); err == nil {
		t.Fatalf("expected duplicate registration to fail")
	}
	if len(rec.Collectors()) != 2 {
		t.Fatalf("expected two collectors")
	}
	unregistered, err := NewPrometheusMetricsRecorder(nil)
	if err != nil || unregistered == nil {
		t.Fatalf("nil registerer: %v", err)
	}
}

func TestWriteMetricsText(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec, err := NewPrometheusMetricsRecorder(reg)
	if err != nil {
		t.Fatalf("NewPrometheusMetricsRecorder: %v", err)
	}
	tr, _ := newFixtureTracker(t, WithMetricsRecorder(rec))
	if err := tr.AddBox(context.Background(), "box7"); err != nil {
		t.Fatalf("AddBox: %v", err)
	}
	var buf bytes.Buffer
	if err := WriteMetricsText(&buf, reg); err != nil {
		t.Fatalf("WriteMetricsText: %v", err)
	}
	out := buf.String()
	for _, want := range []string{
		"# TYPE tubetrack_operations_total counter",
		`tubetrack_operations_total{operation="add_box",status="success"} 1`,
		"tubetrack_operation_duration_seconds_bucket",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in metrics output:\n%s", want, out)
		}
	}
}
