package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// PipelineMetrics holds the counters recorded by the crawl, fetch, storage and
// sync layers. A nil *PipelineMetrics records nothing.
type PipelineMetrics struct {
	units        metric.Int64Counter
	attempts     metric.Int64Counter
	rowsInserted metric.Int64Counter
	rowsSkipped  metric.Int64Counter
}

// NewPipelineMetrics creates the pipeline instruments on the global meter.
func NewPipelineMetrics() (*PipelineMetrics, error) {
	meter := otel.Meter(InstrumentationName)

	units, err := meter.Int64Counter(
		"crawl.units",
		metric.WithDescription("Crawl units by terminal state"),
		metric.WithUnit("{unit}"),
	)
	if err != nil {
		return nil, err
	}

	attempts, err := meter.Int64Counter(
		"fetch.attempts",
		metric.WithDescription("HTTP fetch attempts by outcome"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, err
	}

	rowsInserted, err := meter.Int64Counter(
		"storage.rows_inserted",
		metric.WithDescription("Rows appended to storage tables"),
		metric.WithUnit("{row}"),
	)
	if err != nil {
		return nil, err
	}

	rowsSkipped, err := meter.Int64Counter(
		"sync.rows_skipped",
		metric.WithDescription("Rows skipped by key deduplication during sync"),
		metric.WithUnit("{row}"),
	)
	if err != nil {
		return nil, err
	}

	return &PipelineMetrics{
		units:        units,
		attempts:     attempts,
		rowsInserted: rowsInserted,
		rowsSkipped:  rowsSkipped,
	}, nil
}

// RecordUnit counts a crawl unit reaching a terminal state.
func (m *PipelineMetrics) RecordUnit(ctx context.Context, source, state string) {
	if m == nil {
		return
	}
	m.units.Add(ctx, 1, metric.WithAttributes(
		attribute.String("source", source),
		attribute.String("state", state),
	))
}

// RecordAttempt counts one HTTP attempt and its outcome.
func (m *PipelineMetrics) RecordAttempt(ctx context.Context, source, outcome string) {
	if m == nil {
		return
	}
	m.attempts.Add(ctx, 1, metric.WithAttributes(
		attribute.String("source", source),
		attribute.String("outcome", outcome),
	))
}

// RecordRowsInserted counts rows written to a table.
func (m *PipelineMetrics) RecordRowsInserted(ctx context.Context, table string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.rowsInserted.Add(ctx, int64(n), metric.WithAttributes(attribute.String("table", table)))
}

// RecordRowsSkipped counts duplicate rows dropped by sync.
func (m *PipelineMetrics) RecordRowsSkipped(ctx context.Context, table string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.rowsSkipped.Add(ctx, int64(n), metric.WithAttributes(attribute.String("table", table)))
}
