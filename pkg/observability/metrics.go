package observability

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

var (
	globalMetrics Metrics
	metricsMu     sync.RWMutex
)

type Metrics interface {
	RecordHTTPRequest(ctx context.Context, method, route string, status int, duration time.Duration, size int)
	RecordLLMCall(ctx context.Context, model string, duration time.Duration, inputTokens, outputTokens int, err error)
	RecordToolExecution(ctx context.Context, tool string, duration time.Duration, err error)
	RecordRetrieval(ctx context.Context, duration time.Duration, candidates int, err error)
	RecordIndexing(ctx context.Context, duration time.Duration, chunks int, err error)
}

type PrometheusMetrics struct {
	httpDuration metric.Float64Histogram
	httpRequests metric.Int64Counter

	llmDuration     metric.Float64Histogram
	llmInputTokens  metric.Int64Counter
	llmOutputTokens metric.Int64Counter
	llmErrorsTotal  metric.Int64Counter

	toolDuration    metric.Float64Histogram
	toolCallsTotal  metric.Int64Counter
	toolErrorsTotal metric.Int64Counter

	retrievalDuration   metric.Float64Histogram
	retrievalCandidates metric.Int64Counter
	indexingDuration    metric.Float64Histogram
	indexedChunksTotal  metric.Int64Counter
	ragErrorsTotal      metric.Int64Counter
}

// InitMetrics wires the otel meter provider to the prometheus exporter
// that backs the /metrics endpoint.
func InitMetrics(ctx context.Context) (*PrometheusMetrics, error) {
	promExporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	meterProvider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(promExporter))
	meter := meterProvider.Meter("smartrag")

	m := &PrometheusMetrics{}

	if m.httpDuration, err = meter.Float64Histogram(
		"smartrag_http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
	); err != nil {
		return nil, err
	}
	if m.httpRequests, err = meter.Int64Counter(
		"smartrag_http_requests_total",
		metric.WithDescription("Total HTTP requests"),
	); err != nil {
		return nil, err
	}
	if m.llmDuration, err = meter.Float64Histogram(
		"smartrag_llm_request_duration_seconds",
		metric.WithDescription("LLM request duration in seconds"),
	); err != nil {
		return nil, err
	}
	if m.llmInputTokens, err = meter.Int64Counter(
		"smartrag_llm_tokens_input_total",
		metric.WithDescription("Total input tokens sent to the LLM"),
	); err != nil {
		return nil, err
	}
	if m.llmOutputTokens, err = meter.Int64Counter(
		"smartrag_llm_tokens_output_total",
		metric.WithDescription("Total output tokens from the LLM"),
	); err != nil {
		return nil, err
	}
	if m.llmErrorsTotal, err = meter.Int64Counter(
		"smartrag_llm_errors_total",
		metric.WithDescription("Total LLM errors"),
	); err != nil {
		return nil, err
	}
	if m.toolDuration, err = meter.Float64Histogram(
		"smartrag_tool_execution_duration_seconds",
		metric.WithDescription("Tool execution duration in seconds"),
	); err != nil {
		return nil, err
	}
	if m.toolCallsTotal, err = meter.Int64Counter(
		"smartrag_tool_calls_total",
		metric.WithDescription("Total tool calls"),
	); err != nil {
		return nil, err
	}
	if m.toolErrorsTotal, err = meter.Int64Counter(
		"smartrag_tool_errors_total",
		metric.WithDescription("Total tool errors"),
	); err != nil {
		return nil, err
	}
	if m.retrievalDuration, err = meter.Float64Histogram(
		"smartrag_retrieval_duration_seconds",
		metric.WithDescription("Hybrid retrieval duration in seconds"),
	); err != nil {
		return nil, err
	}
	if m.retrievalCandidates, err = meter.Int64Counter(
		"smartrag_retrieval_candidates_total",
		metric.WithDescription("Total retrieval candidates returned"),
	); err != nil {
		return nil, err
	}
	if m.indexingDuration, err = meter.Float64Histogram(
		"smartrag_indexing_duration_seconds",
		metric.WithDescription("Document indexing duration in seconds"),
	); err != nil {
		return nil, err
	}
	if m.indexedChunksTotal, err = meter.Int64Counter(
		"smartrag_indexed_chunks_total",
		metric.WithDescription("Total chunks upserted into the vector store"),
	); err != nil {
		return nil, err
	}
	if m.ragErrorsTotal, err = meter.Int64Counter(
		"smartrag_rag_errors_total",
		metric.WithDescription("Total retrieval and indexing errors"),
	); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *PrometheusMetrics) RecordHTTPRequest(ctx context.Context, method, route string, status int, duration time.Duration, size int) {
	if m == nil || m.httpDuration == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("method", method),
		attribute.String("route", route),
		attribute.Int("status", status),
	}
	m.httpDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
	m.httpRequests.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *PrometheusMetrics) RecordLLMCall(ctx context.Context, model string, duration time.Duration, inputTokens, outputTokens int, err error) {
	if m == nil || m.llmDuration == nil {
		return
	}
	attrs := []attribute.KeyValue{attribute.String("model", model)}

	m.llmDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
	m.llmInputTokens.Add(ctx, int64(inputTokens), metric.WithAttributes(attrs...))
	m.llmOutputTokens.Add(ctx, int64(outputTokens), metric.WithAttributes(attrs...))

	if err != nil {
		m.llmErrorsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

func (m *PrometheusMetrics) RecordToolExecution(ctx context.Context, tool string, duration time.Duration, err error) {
	if m == nil || m.toolDuration == nil {
		return
	}
	attrs := []attribute.KeyValue{attribute.String("tool", tool)}

	m.toolDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
	m.toolCallsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))

	if err != nil {
		m.toolErrorsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

func (m *PrometheusMetrics) RecordRetrieval(ctx context.Context, duration time.Duration, candidates int, err error) {
	if m == nil || m.retrievalDuration == nil {
		return
	}
	m.retrievalDuration.Record(ctx, duration.Seconds())
	m.retrievalCandidates.Add(ctx, int64(candidates))
	if err != nil {
		m.ragErrorsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("op", "retrieve")))
	}
}

func (m *PrometheusMetrics) RecordIndexing(ctx context.Context, duration time.Duration, chunks int, err error) {
	if m == nil || m.indexingDuration == nil {
		return
	}
	m.indexingDuration.Record(ctx, duration.Seconds())
	m.indexedChunksTotal.Add(ctx, int64(chunks))
	if err != nil {
		m.ragErrorsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("op", "index")))
	}
}

func SetGlobalMetrics(m Metrics) {
	metricsMu.Lock()
	defer metricsMu.Unlock()
	globalMetrics = m
}

// GetGlobalMetrics never returns nil; before SetGlobalMetrics is
// called, recording is a no-op.
func GetGlobalMetrics() Metrics {
	metricsMu.RLock()
	defer metricsMu.RUnlock()
	if globalMetrics == nil {
		return noopMetrics{}
	}
	return globalMetrics
}

type noopMetrics struct{}

func (noopMetrics) RecordHTTPRequest(context.Context, string, string, int, time.Duration, int) {}
func (noopMetrics) RecordLLMCall(context.Context, string, time.Duration, int, int, error)      {}
func (noopMetrics) RecordToolExecution(context.Context, string, time.Duration, error)          {}
func (noopMetrics) RecordRetrieval(context.Context, time.Duration, int, error)                 {}
func (noopMetrics) RecordIndexing(context.Context, time.Duration, int, error)                  {}
