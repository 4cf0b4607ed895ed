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
	tracerName         = "taskboard/api"
	requestSpanName    = "taskboard.http.request"
	requestEventName   = "taskboard.request"
	requestEventDomain = "taskboard"
	attrPrefix         = "taskboard.request."
)

// requestMetrics records one board request as a span plus a single structured
// log event.
type requestMetrics struct {
	logger        *log.Logger
	span          trace.Span
	route         string
	start         time.Time
	authDuration  time.Duration
	boardDuration time.Duration
	org           string
	tasksReturned int
	outcome       string
	errorStage    string
}

func newRequestMetrics(ctx context.Context, logger *log.Logger, method, route string) (*requestMetrics, context.Context) {
	spanCtx, span := otel.Tracer(tracerName).Start(ctx, requestSpanName,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("http.method", method),
			attribute.String("http.route", route),
		))
	return &requestMetrics{
		logger: logger,
		span:   span,
		route:  route,
		start:  time.Now(),
	}, spanCtx
}

func (m *requestMetrics) ObserveAuth(d time.Duration) {
	if d > 0 {
		m.authDuration = d
	}
}

// ObserveBoard records the time spent resolving (and possibly loading) the board.
func (m *requestMetrics) ObserveBoard(d time.Duration) {
	if d > 0 {
		m.boardDuration = d
	}
}

func (m *requestMetrics) SetOrganization(org string) { m.org = org }

func (m *requestMetrics) SetTasksReturned(count int) {
	if count < 0 {
		count = 0
	}
	m.tasksReturned = count
}

func (m *requestMetrics) SetOutcome(outcome string) { m.outcome = outcome }

func (m *requestMetrics) SetErrorStage(stage string) {
	if stage != "" {
		m.errorStage = stage
	}
}

// Log emits the observability event and ends the span.
func (m *requestMetrics) Log(status int, err error) {
	if m == nil {
		return
	}
	attrs := map[string]any{
		"http.route":                m.route,
		"http.status_code":          status,
		attrPrefix + "total_ms":     durationToMillis(time.Since(m.start)),
		attrPrefix + "tasks":        m.tasksReturned,
		attrPrefix + "organization": m.org,
	}
	if m.authDuration > 0 {
		attrs[attrPrefix+"auth_ms"] = durationToMillis(m.authDuration)
	}
	if m.boardDuration > 0 {
		attrs[attrPrefix+"board_ms"] = durationToMillis(m.boardDuration)
	}
	if m.outcome != "" {
		attrs[attrPrefix+"outcome"] = m.outcome
	}
	if m.errorStage != "" {
		attrs[attrPrefix+"error_stage"] = m.errorStage
	}
	if err != nil {
		attrs["error.message"] = err.Error()
	}
	severityText, severityNumber := severityForStatus(status, err)

	if m.span != nil {
		kvs := make([]attribute.KeyValue, 0, len(attrs)+4)
		for k, v := range attrs {
			kvs = append(kvs, toAttribute(k, v))
		}
		m.span.SetAttributes(kvs...)
		eventAttrs := append([]attribute.KeyValue{
			attribute.String("event.name", requestEventName),
			attribute.String("event.domain", requestEventDomain),
			attribute.String("severity_text", severityText),
			attribute.Int("severity_number", severityNumber),
		}, kvs...)
		m.span.AddEvent("observability.event", trace.WithAttributes(eventAttrs...))
		if err != nil || status >= http.StatusInternalServerError {
			desc := http.StatusText(status)
			if err != nil {
				desc = err.Error()
				m.span.RecordError(err)
			}
			m.span.SetStatus(codes.Error, desc)
		} else {
			m.span.SetStatus(codes.Ok, "")
		}
	}

	if m.logger != nil {
		fields := log.Fields{
			"event.name":      requestEventName,
			"event.domain":    requestEventDomain,
			"severity_text":   severityText,
			"severity_number": severityNumber,
			"attributes":      attrs,
		}
		if m.span != nil {
			if sc := m.span.SpanContext(); sc.IsValid() {
				fields["trace_id"] = sc.TraceID().String()
				fields["span_id"] = sc.SpanID().String()
			}
		}
		entry := m.logger.WithFields(fields)
		switch severityText {
		case "ERROR":
			entry.Error("observability.event")
		case "WARN":
			entry.Warn("observability.event")
		default:
			entry.Info("observability.event")
		}
	}

	if m.span != nil {
		m.span.End()
	}
}

func severityForStatus(status int, err error) (string, int) {
	switch {
	case status >= http.StatusInternalServerError || (status == 0 && err != nil):
		return "ERROR", 17
	case status >= http.StatusBadRequest:
		return "WARN", 13
	default:
		return "INFO", 9
	}
}

func toAttribute(key string, v any) attribute.KeyValue {
	switch val := v.(type) {
	case string:
		return attribute.String(key, val)
	case int:
		return attribute.Int(key, val)
	case float64:
		return attribute.Float64(key, val)
	case bool:
		return attribute.Bool(key, val)
	default:
		return attribute.String(key, "")
	}
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
