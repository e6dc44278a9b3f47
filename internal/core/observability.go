package core

import (
	"context"
	"time"

	"tubetrack/pkg/domain"
)

// Logger is the structured logging seam. *slog.Logger satisfies it.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

// Now calls f.
func (f ClockFunc) Now() time.Time { return f() }

// MetricsRecorder observes the outcome and duration of tracker operations.
type MetricsRecorder interface {
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
}

// Tracer starts a span per tracker operation.
type Tracer interface {
	Start(ctx context.Context, operation string) (context.Context, TraceSpan)
}

// TraceSpan is ended once with the operation's error, if any.
type TraceSpan interface {
	End(err error)
}

// AuditStatus is the outcome recorded in an AuditEntry.
type AuditStatus string

// Audit outcomes.
const (
	AuditStatusSuccess AuditStatus = "success"
	AuditStatusError   AuditStatus = "error"
)

// AuditEntry describes one completed tracker operation.
type AuditEntry struct {
	Operation string            `json:"operation"`
	Entity    domain.EntityType `json:"entity,omitempty"`
	EntityID  string            `json:"entity_id,omitempty"`
	Status    AuditStatus       `json:"status"`
	// Counts carries per-operation tallies such as removed or inserted tubes.
	Counts    map[string]int `json:"counts,omitempty"`
	Error     string         `json:"error,omitempty"`
	Duration  time.Duration  `json:"duration_ns"`
	Timestamp time.Time      `json:"timestamp"`
}

// AuditRecorder receives an entry for every mutating or identifying operation.
type AuditRecorder interface {
	Record(ctx context.Context, entry AuditEntry)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

type noopAuditRecorder struct{}

func (noopAuditRecorder) Record(context.Context, AuditEntry) {}

type noopMetricsRecorder struct{}

func (noopMetricsRecorder) Observe(context.Context, string, bool, time.Duration) {}

type noopTracer struct{}

func (noopTracer) Start(ctx context.Context, _ string) (context.Context, TraceSpan) {
	return ctx, noopSpan{}
}

type noopSpan struct{}

func (noopSpan) End(error) {}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// operation identifiers shared by metrics, traces and audit entries.
const (
	opAddBox         = "add_box"
	opReconcile      = "reconcile_box_scan"
	opDrift          = "compute_box_rotation_drift"
	opRankBoxes      = "rank_boxes"
	opBestMatch      = "best_match"
	opScanBox        = "scan_box"
	opArchiveScan    = "archive_scan"
	opBoxPositionMap = "box_position_map"
)

// audited lists the operations that produce audit entries, with the entity
// each one concerns.
var audited = map[string]domain.EntityType{
	opAddBox:    domain.EntityBox,
	opReconcile: domain.EntityBox,
	opDrift:     domain.EntityBox,
	opBestMatch: domain.EntityBox,
	opScanBox:   domain.EntityBox,
}

// outcome carries what an operation wants recorded beyond success or failure.
type outcome struct {
	entityID string
	counts   map[string]int
}

// run executes fn inside a span, then records metrics, an audit entry and a
// log line for the operation.
func (t *Tracker) run(ctx context.Context, op string, fn func(ctx context.Context) (outcome, error)) error {
	ctx, span := t.tracer.Start(ctx, op)
	start := t.clock.Now()
	out, err := fn(ctx)
	duration := t.clock.Now().Sub(start)
	span.End(err)
	t.metrics.Observe(ctx, op, err == nil, duration)
	if err != nil {
		t.logger.Warn("operation failed", "operation", op, "entity_id", out.entityID, "error", err)
		t.recordAudit(ctx, op, out, err, duration)
		return err
	}
	t.logger.Debug("operation completed", "operation", op, "entity_id", out.entityID, "duration", duration)
	t.recordAudit(ctx, op, out, nil, duration)
	return nil
}

func (t *Tracker) recordAudit(ctx context.Context, op string, out outcome, err error, duration time.Duration) {
	entity, ok := audited[op]
	if !ok {
		return
	}
	entry := AuditEntry{
		Operation: op,
		Entity:    entity,
		EntityID:  out.entityID,
		Status:    AuditStatusSuccess,
		Counts:    out.counts,
		Duration:  duration,
		Timestamp: t.clock.Now(),
	}
	if err != nil {
		entry.Status = AuditStatusError
		entry.Error = err.Error()
	}
	t.audit.Record(ctx, entry)
}
