// Package telemetry provides the structured logging, tracing, and metrics
// collector shared by the ingestion and retrieval engines and every
// storage backend.
package telemetry

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
)

// Logger is a trace-correlated structured logger: every entry carries the
// active span's trace_id/span_id when one is present on ctx.
type Logger struct {
	logger *slog.Logger
}

// NewLogger wraps logger, or slog.Default() if logger is nil.
func NewLogger(logger *slog.Logger) *Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Logger{logger: logger}
}

func (l *Logger) attrs(ctx context.Context, base...slog.Attr) []slog.Attr {
	if spanCtx := trace.SpanContextFromContext(ctx); spanCtx.IsValid() {
		base = append(base,
			slog.String("trace_id", spanCtx.TraceID().String()),
			slog.String("span_id", spanCtx.SpanID().String()),
		)
	}
	return base
}

// LogIngest logs one ingestion-engine operation.
func (l *Logger) LogIngest(ctx context.Context, op, conversationID string, duration time.Duration, err error) {
	attrs := l.attrs(ctx,
		slog.String("operation", op),
		slog.String("conversation_id", conversationID),
		slog.Duration("duration", duration),
	)
	if err != nil {
		l.logger.LogAttrs(ctx, slog.LevelError, "ingest operation failed", append(attrs, slog.String("error", err.Error()))...)
		return
	}
	l.logger.LogAttrs(ctx, slog.LevelInfo, "ingest operation completed", attrs...)
}

// LogRetrieval logs one retrieval-engine operation.
func (l *Logger) LogRetrieval(ctx context.Context, op string, resultCount int, duration time.Duration, err error) {
	attrs := l.attrs(ctx,
		slog.String("operation", op),
		slog.Int("result_count", resultCount),
		slog.Duration("duration", duration),
	)
	if err != nil {
		l.logger.LogAttrs(ctx, slog.LevelError, "retrieval operation failed", append(attrs, slog.String("error", err.Error()))...)
		return
	}
	l.logger.LogAttrs(ctx, slog.LevelInfo, "retrieval operation completed", attrs...)
}

// Warn logs a best-effort failure that does not abort the caller's
// operation (e.g. a best-effort last_accessed_at touch).
func (l *Logger) Warn(ctx context.Context, msg string, keyvals...any) {
	attrs := l.attrs(ctx)
	for i := 0; i+1 < len(keyvals); i += 2 {
		key, ok := keyvals[i].(string)
		if !ok {
			continue
		}
		attrs = append(attrs, slog.Any(key, keyvals[i+1]))
	}
	l.logger.LogAttrs(ctx, slog.LevelWarn, msg, attrs...)
}

// LogStorage logs a storage-backend lifecycle or error event.
func (l *Logger) LogStorage(ctx context.Context, backend, event string, err error) {
	attrs := l.attrs(ctx, slog.String("backend", backend), slog.String("event", event))
	if err != nil {
		l.logger.LogAttrs(ctx, slog.LevelError, "storage event", append(attrs, slog.String("error", err.Error()))...)
		return
	}
	l.logger.LogAttrs(ctx, slog.LevelInfo, "storage event", attrs...)
}

// Metrics collects OpenTelemetry counters and histograms for the
// ingestion and retrieval engines.
type Metrics struct {
	tracer trace.Tracer

	messagesIngested   metric.Int64Counter
	versionsCreated    metric.Int64Counter
	toolUseEdges       metric.Int64Counter
	searchRequests     metric.Int64Counter
	searchDuration     metric.Float64Histogram
	searchResultsCount metric.Int64Histogram
	errorsTotal        metric.Int64Counter
}

// NewMetrics builds a Metrics collector. A nil meter/tracer falls back to
// the OpenTelemetry no-op implementations.
func NewMetrics(meter metric.Meter, tracer trace.Tracer) (*Metrics, error) {
	if meter == nil {
		meter = noop.NewMeterProvider().Meter("agentgraph")
	}
	if tracer == nil {
		tracer = otel.Tracer("agentgraph")
	}

	m := &Metrics{tracer: tracer}
	var err error

	if m.messagesIngested, err = meter.Int64Counter(
		"agentgraph_messages_ingested_total",
		metric.WithDescription("Total number of messages ingested"),
		metric.WithUnit("1"),
	); err != nil {
		return nil, err
	}
	if m.versionsCreated, err = meter.Int64Counter(
		"agentgraph_resource_versions_created_total",
		metric.WithDescription("Total number of resource versions created"),
		metric.WithUnit("1"),
	); err != nil {
		return nil, err
	}
	if m.toolUseEdges, err = meter.Int64Counter(
		"agentgraph_tool_use_edges_created_total",
		metric.WithDescription("Total number of tool-use edges created"),
		metric.WithUnit("1"),
	); err != nil {
		return nil, err
	}
	if m.searchRequests, err = meter.Int64Counter(
		"agentgraph_search_requests_total",
		metric.WithDescription("Total number of search requests"),
		metric.WithUnit("1"),
	); err != nil {
		return nil, err
	}
	if m.searchDuration, err = meter.Float64Histogram(
		"agentgraph_search_duration_seconds",
		metric.WithDescription("Search request duration"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	if m.searchResultsCount, err = meter.Int64Histogram(
		"agentgraph_search_results_count",
		metric.WithDescription("Number of results returned per search"),
		metric.WithUnit("1"),
	); err != nil {
		return nil, err
	}
	if m.errorsTotal, err = meter.Int64Counter(
		"agentgraph_errors_total",
		metric.WithDescription("Total number of errors by operation"),
		metric.WithUnit("1"),
	); err != nil {
		return nil, err
	}

	return m, nil
}

// StartSpan starts a span for op under the agentgraph tracer. A nil Metrics
// (e.g. telemetry disabled) returns ctx unchanged and the already-active
// span, if any.
func (m *Metrics) StartSpan(ctx context.Context, op string) (context.Context, trace.Span) {
	if m == nil || m.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return m.tracer.Start(ctx, op)
}

func (m *Metrics) RecordMessageIngested(ctx context.Context, role string) {
	if m == nil || m.messagesIngested == nil {
		return
	}
	m.messagesIngested.Add(ctx, 1, metric.WithAttributes(attribute.String("role", role)))
}

func (m *Metrics) RecordVersionCreated(ctx context.Context) {
	if m == nil || m.versionsCreated == nil {
		return
	}
	m.versionsCreated.Add(ctx, 1)
}

func (m *Metrics) RecordToolUseEdge(ctx context.Context) {
	if m == nil || m.toolUseEdges == nil {
		return
	}
	m.toolUseEdges.Add(ctx, 1)
}

func (m *Metrics) RecordSearch(ctx context.Context, duration time.Duration, resultCount int) {
	if m == nil || m.searchRequests == nil {
		return
	}
	m.searchRequests.Add(ctx, 1)
	m.searchDuration.Record(ctx, duration.Seconds())
	m.searchResultsCount.Record(ctx, int64(resultCount))
}

func (m *Metrics) RecordError(ctx context.Context, op string) {
	if m == nil || m.errorsTotal == nil {
		return
	}
	m.errorsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("operation", op)))
}
