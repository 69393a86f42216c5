package pipeline

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/breatheroute/aqexport/internal/airquality"
)

const instrumentationName = "github.com/breatheroute/aqexport/internal/pipeline"

// Metrics holds the OpenTelemetry instruments of a run.
type Metrics struct {
	fetchDuration metric.Float64Histogram
	fetchRecords  metric.Int64Counter
	fetchFailures metric.Int64Counter
	outputRows    metric.Int64Counter
}

// NewMetrics creates the pipeline instruments on meter. A nil meter uses the
// global meter provider.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	if meter == nil {
		meter = otel.Meter(instrumentationName)
	}

	fetchDuration, err := meter.Float64Histogram(
		"aqexport.fetch.duration",
		metric.WithDescription("Duration of measurements requests in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	fetchRecords, err := meter.Int64Counter(
		"aqexport.fetch.records",
		metric.WithDescription("Measurements received per pollutant"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		return nil, err
	}

	fetchFailures, err := meter.Int64Counter(
		"aqexport.fetch.failures",
		metric.WithDescription("Measurements requests that failed"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	outputRows, err := meter.Int64Counter(
		"aqexport.output.rows",
		metric.WithDescription("Rows written to the final table"),
		metric.WithUnit("{row}"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		fetchDuration: fetchDuration,
		fetchRecords:  fetchRecords,
		fetchFailures: fetchFailures,
		outputRows:    outputRows,
	}, nil
}

func (m *Metrics) recordFetch(ctx context.Context, p airquality.Pollutant, elapsed time.Duration, records int, err error) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("aq.parameter", string(p)))
	m.fetchDuration.Record(ctx, elapsed.Seconds(), attrs)
	if err != nil {
		m.fetchFailures.Add(ctx, 1, attrs)
		return
	}
	m.fetchRecords.Add(ctx, int64(records), attrs)
}

func (m *Metrics) recordOutput(ctx context.Context, sink string, rows int) {
	if m == nil {
		return
	}
	m.outputRows.Add(ctx, int64(rows), metric.WithAttributes(attribute.String("aq.sink", sink)))
}
