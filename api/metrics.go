package api

import (
	"context"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	snapshotSpanName    = "board.snapshot"
	snapshotEventName   = "board.snapshot.served"
	snapshotEventDomain = "boardsync"
	snapshotRoute       = "/api/boards/:id"
)

// snapshotMetrics collects timings for one board snapshot request and emits
// them as a span plus a structured observability event when the request
// finishes.
type snapshotMetrics struct {
	logger *log.Logger
	span   trace.Span
	start  time.Time

	authDuration  time.Duration
	fetchDuration time.Duration
	listsServed   int
	tasksServed   int
	errorStage    string
}

func newSnapshotMetrics(ctx context.Context, logger *log.Logger) (*snapshotMetrics, context.Context) {
	m := &snapshotMetrics{logger: logger, start: time.Now()}
	spanCtx, span := otel.Tracer(snapshotEventDomain).Start(ctx, snapshotSpanName)
	m.span = span
	return m, spanCtx
}

func (m *snapshotMetrics) ObserveAuth(d time.Duration) {
	if d > 0 {
		m.authDuration = d
	}
}

func (m *snapshotMetrics) ObserveFetch(d time.Duration) {
	if d > 0 {
		m.fetchDuration = d
	}
}

func (m *snapshotMetrics) SetServed(lists, tasks int) {
	if lists > 0 {
		m.listsServed = lists
	}
	if tasks > 0 {
		m.tasksServed = tasks
	}
}

func (m *snapshotMetrics) SetErrorStage(stage string) {
	m.errorStage = stage
}

// Log finishes the span and writes the observability event. Call exactly
// once per request.
func (m *snapshotMetrics) Log(status int, err error) {
	total := time.Since(m.start)

	attrs := []attribute.KeyValue{
		attribute.String("http.route", snapshotRoute),
		attribute.Int("http.status_code", status),
		attribute.Float64("boardsync.snapshot.total_ms", float64(total)/float64(time.Millisecond)),
		attribute.Float64("boardsync.snapshot.auth_ms", float64(m.authDuration)/float64(time.Millisecond)),
		attribute.Float64("boardsync.snapshot.fetch_ms", float64(m.fetchDuration)/float64(time.Millisecond)),
		attribute.Int("boardsync.snapshot.lists_served", m.listsServed),
		attribute.Int("boardsync.snapshot.tasks_served", m.tasksServed),
	}
	if m.errorStage != "" {
		attrs = append(attrs, attribute.String("boardsync.snapshot.error_stage", m.errorStage))
	}
	m.span.SetAttributes(attrs...)
	m.span.AddEvent("observability.event")
	if err != nil || status >= http.StatusInternalServerError {
		m.span.SetStatus(codes.Error, m.errorStage)
		if err != nil {
			m.span.RecordError(err)
		}
	} else {
		m.span.SetStatus(codes.Ok, "")
	}
	m.span.End()

	fields := log.Fields{
		"event.name":   snapshotEventName,
		"event.domain": snapshotEventDomain,
		"attributes": map[string]any{
			"http.route":                      snapshotRoute,
			"http.status_code":                status,
			"boardsync.snapshot.total_ms":     float64(total) / float64(time.Millisecond),
			"boardsync.snapshot.auth_ms":      float64(m.authDuration) / float64(time.Millisecond),
			"boardsync.snapshot.fetch_ms":     float64(m.fetchDuration) / float64(time.Millisecond),
			"boardsync.snapshot.lists_served": m.listsServed,
			"boardsync.snapshot.tasks_served": m.tasksServed,
			"boardsync.snapshot.error_stage":  m.errorStage,
		},
	}
	if sc := m.span.SpanContext(); sc.HasTraceID() {
		fields["trace_id"] = sc.TraceID().String()
	}
	entry := m.logger.WithFields(fields)
	if err != nil || m.errorStage != "" {
		entry.WithFields(log.Fields{"severity_text": "ERROR", "severity_number": 17}).Error("observability.event")
		return
	}
	entry.WithFields(log.Fields{"severity_text": "INFO", "severity_number": 9}).Info("observability.event")
}
