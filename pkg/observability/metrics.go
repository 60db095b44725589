package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Metrics holds the service instruments. A nil *Metrics is a valid
// no-op receiver, so callers never branch on whether collection is
// enabled.
type Metrics struct {
	provider *sdkmetric.MeterProvider

	ingestDuration metric.Float64Histogram
	ingestTotal    metric.Int64Counter
	chunksIndexed  metric.Int64Counter

	queryDuration metric.Float64Histogram
	queryTotal    metric.Int64Counter
	queryErrors   metric.Int64Counter

	llmDuration     metric.Float64Histogram
	llmInputTokens  metric.Int64Counter
	llmOutputTokens metric.Int64Counter
	llmErrors       metric.Int64Counter

	rerankDuration  metric.Float64Histogram
	rerankCacheHits metric.Int64Counter

	httpDuration metric.Float64Histogram
	httpRequests metric.Int64Counter
}

// InitMetrics builds the meter provider with a Prometheus exporter
// registered on the default registry, so promhttp serves everything
// recorded here. Returns nil when metrics are disabled.
func InitMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.MetricsEnabled() {
		return nil, nil
	}

	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	meter := provider.Meter(cfg.Namespace)
	ns := cfg.Namespace

	m := &Metrics{provider: provider}

	if m.ingestDuration, err = meter.Float64Histogram(
		ns+"_ingest_duration_seconds",
		metric.WithDescription("End-to-end ingest duration"),
	); err != nil {
		return nil, err
	}
	if m.ingestTotal, err = meter.Int64Counter(
		ns+"_ingest_total",
		metric.WithDescription("Documents ingested, by outcome"),
	); err != nil {
		return nil, err
	}
	if m.chunksIndexed, err = meter.Int64Counter(
		ns+"_chunks_indexed_total",
		metric.WithDescription("Chunks written to the indexes"),
	); err != nil {
		return nil, err
	}

	if m.queryDuration, err = meter.Float64Histogram(
		ns+"_query_duration_seconds",
		metric.WithDescription("Query pipeline stage duration"),
	); err != nil {
		return nil, err
	}
	if m.queryTotal, err = meter.Int64Counter(
		ns+"_queries_total",
		metric.WithDescription("Search and chat queries served"),
	); err != nil {
		return nil, err
	}
	if m.queryErrors, err = meter.Int64Counter(
		ns+"_query_errors_total",
		metric.WithDescription("Queries that failed"),
	); err != nil {
		return nil, err
	}

	if m.llmDuration, err = meter.Float64Histogram(
		ns+"_llm_request_duration_seconds",
		metric.WithDescription("LLM request duration"),
	); err != nil {
		return nil, err
	}
	if m.llmInputTokens, err = meter.Int64Counter(
		ns+"_llm_tokens_input_total",
		metric.WithDescription("Prompt tokens sent"),
	); err != nil {
		return nil, err
	}
	if m.llmOutputTokens, err = meter.Int64Counter(
		ns+"_llm_tokens_output_total",
		metric.WithDescription("Completion tokens received"),
	); err != nil {
		return nil, err
	}
	if m.llmErrors, err = meter.Int64Counter(
		ns+"_llm_errors_total",
		metric.WithDescription("LLM calls that failed"),
	); err != nil {
		return nil, err
	}

	if m.rerankDuration, err = meter.Float64Histogram(
		ns+"_rerank_duration_seconds",
		metric.WithDescription("Rerank call duration"),
	); err != nil {
		return nil, err
	}
	if m.rerankCacheHits, err = meter.Int64Counter(
		ns+"_rerank_cache_total",
		metric.WithDescription("Rerank cache lookups, by outcome"),
	); err != nil {
		return nil, err
	}

	if m.httpDuration, err = meter.Float64Histogram(
		ns+"_http_request_duration_seconds",
		metric.WithDescription("HTTP request duration"),
	); err != nil {
		return nil, err
	}
	if m.httpRequests, err = meter.Int64Counter(
		ns+"_http_requests_total",
		metric.WithDescription("HTTP requests served"),
	); err != nil {
		return nil, err
	}

	return m, nil
}

// RegisterQueueDepth exposes the ingest queue depth as an observable
// gauge polled at scrape time.
func (m *Metrics) RegisterQueueDepth(depth func() int64) error {
	if m == nil || m.provider == nil {
		return nil
	}
	meter := m.provider.Meter("mnemo")
	_, err := meter.Int64ObservableGauge(
		"mnemo_ingest_queue_depth",
		metric.WithDescription("Jobs waiting in the ingest queue"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(depth())
			return nil
		}),
	)
	return err
}

// RecordIngest counts one finished ingest with its outcome.
func (m *Metrics) RecordIngest(ctx context.Context, status string, duration time.Duration, chunks int) {
	if m == nil || m.ingestTotal == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("status", status))
	m.ingestDuration.Record(ctx, duration.Seconds(), attrs)
	m.ingestTotal.Add(ctx, 1, attrs)
	if chunks > 0 {
		m.chunksIndexed.Add(ctx, int64(chunks))
	}
}

// RecordQueryStage times one stage of the query pipeline.
func (m *Metrics) RecordQueryStage(ctx context.Context, stage string, duration time.Duration) {
	if m == nil || m.queryDuration == nil {
		return
	}
	m.queryDuration.Record(ctx, duration.Seconds(),
		metric.WithAttributes(attribute.String("stage", stage)))
}

// RecordQuery counts one finished query.
func (m *Metrics) RecordQuery(ctx context.Context, kind string, err error) {
	if m == nil || m.queryTotal == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("kind", kind))
	m.queryTotal.Add(ctx, 1, attrs)
	if err != nil {
		m.queryErrors.Add(ctx, 1, attrs)
	}
}

// RecordLLMCall records duration, token volume, and failure for one
// provider call.
func (m *Metrics) RecordLLMCall(ctx context.Context, model string, duration time.Duration, inputTokens, outputTokens int, err error) {
	if m == nil || m.llmDuration == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("model", model))
	m.llmDuration.Record(ctx, duration.Seconds(), attrs)
	m.llmInputTokens.Add(ctx, int64(inputTokens), attrs)
	m.llmOutputTokens.Add(ctx, int64(outputTokens), attrs)
	if err != nil {
		m.llmErrors.Add(ctx, 1, attrs)
	}
}

// RecordRerank records one rerank call and whether the cache served it.
func (m *Metrics) RecordRerank(ctx context.Context, duration time.Duration, cached bool) {
	if m == nil || m.rerankDuration == nil {
		return
	}
	outcome := "miss"
	if cached {
		outcome = "hit"
	}
	m.rerankDuration.Record(ctx, duration.Seconds())
	m.rerankCacheHits.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordHTTPRequest records one served request.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, endpoint, method string, status int, duration time.Duration) {
	if m == nil || m.httpRequests == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("endpoint", endpoint),
		attribute.String("method", method),
		attribute.Int("status", status),
	)
	m.httpDuration.Record(ctx, duration.Seconds(), attrs)
	m.httpRequests.Add(ctx, 1, attrs)
}

// Shutdown flushes the meter provider.
func (m *Metrics) Shutdown(ctx context.Context) error {
	if m == nil || m.provider == nil {
		return nil
	}
	return m.provider.Shutdown(ctx)
}
