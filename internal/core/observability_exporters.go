package core

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"
)

// jsonLines serialises values as JSON lines and keeps the first write error.
type jsonLines struct {
	mu  sync.Mutex
	enc *json.Encoder
	err error
}

func (l *jsonLines) write(v any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.enc.Encode(v); err != nil && l.err == nil {
		l.err = err
	}
}

// Err returns the first write failure.
func (l *jsonLines) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

// SpanRecord is one line written by JSONTraceTracer.
type SpanRecord struct {
	Operation string        `json:"operation"`
	Status    AuditStatus   `json:"status"`
	Duration  time.Duration `json:"duration_ns"`
	Error     string        `json:"error,omitempty"`
	StartedAt time.Time     `json:"started_at"`
}

// JSONTraceTracer writes one SpanRecord per finished operation.
type JSONTraceTracer struct {
	jsonLines
	clock Clock
}

// NewJSONTracer returns a tracer writing to w, timed by clock. A nil clock
// uses UTC wall time.
func NewJSONTracer(w io.Writer, clock Clock) *JSONTraceTracer {
	if clock == nil {
		clock = systemClock{}
	}
	return &JSONTraceTracer{jsonLines: jsonLines{enc: json.NewEncoder(w)}, clock: clock}
}

// Start implements Tracer.
func (t *JSONTraceTracer) Start(ctx context.Context, operation string) (context.Context, TraceSpan) {
	return ctx, &jsonSpan{tracer: t, rec: SpanRecord{Operation: operation, StartedAt: t.clock.Now()}}
}

type jsonSpan struct {
	tracer *JSONTraceTracer
	rec    SpanRecord
}

func (s *jsonSpan) End(err error) {
	rec := s.rec
	rec.Duration = s.tracer.clock.Now().Sub(rec.StartedAt)
	rec.Status = AuditStatusSuccess
	if err != nil {
		rec.Status = AuditStatusError
		rec.Error = err.Error()
	}
	s.tracer.write(rec)
}

// JSONAuditRecorder writes one JSON line per audit entry.
type JSONAuditRecorder struct {
	jsonLines
}

// NewJSONAuditRecorder returns a recorder encoding entries to w.
func NewJSONAuditRecorder(w io.Writer) *JSONAuditRecorder {
	return &JSONAuditRecorder{jsonLines{enc: json.NewEncoder(w)}}
}

// Record implements AuditRecorder. Write failures are kept for Err.
func (r *JSONAuditRecorder) Record(_ context.Context, entry AuditEntry) {
	r.write(entry)
}

var (
	_ Tracer        = (*JSONTraceTracer)(nil)
	_ AuditRecorder = (*JSONAuditRecorder)(nil)
)
