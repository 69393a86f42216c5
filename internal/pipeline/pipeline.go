// Package pipeline runs the single-station extract: fetch every pollutant,
// reshape the long result into the wide table and hand it to the sinks.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/breatheroute/aqexport/internal/airquality"
	"github.com/breatheroute/aqexport/internal/export"
)

// Fetcher retrieves the measurements of one pollutant.
type Fetcher interface {
	FetchMeasurements(ctx context.Context, q airquality.MeasurementQuery) ([]airquality.Measurement, error)
}

// SleepFunc blocks for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Config holds the inputs of one run.
type Config struct {
	LocationID  int64
	StationName string
	DateFrom    time.Time
	DateTo      time.Time
	Pollutants  []airquality.Pollutant

	// Pause is the fixed delay after every request, successful or not.
	Pause time.Duration

	Fetcher Fetcher
	Sinks   []export.Sink
	Logger  zerolog.Logger

	// Metrics is optional.
	Metrics *Metrics

	// Tracer defaults to the global tracer provider.
	Tracer trace.Tracer

	// Sleep defaults to a context-aware timer.
	Sleep SleepFunc
}

// Result summarizes a run.
type Result struct {
	LongRows   int
	WideRows   int
	FinalRows  int
	Duplicates int

	// Failed lists the pollutants whose request failed.
	Failed []airquality.Pollutant

	// Outputs maps sink name to the written location.
	Outputs map[string]string

	Table *airquality.FinalTable
}

// Written reports whether any sink received the table.
func (r *Result) Written() bool {
	return len(r.Outputs) > 0
}

// Runner executes the extract.
type Runner struct {
	cfg    Config
	tracer trace.Tracer
}

// NewRunner creates a Runner. Pollutants default to airquality.DefaultPollutants.
func NewRunner(cfg Config) *Runner {
	if len(cfg.Pollutants) == 0 {
		cfg.Pollutants = airquality.DefaultPollutants()
	}
	if cfg.Sleep == nil {
		cfg.Sleep = Sleep
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = otel.Tracer(instrumentationName)
	}
	return &Runner{
		cfg:    cfg,
		tracer: tracer,
	}
}

// Run fetches, reshapes and writes. Fetch failures are logged and the
// pollutant is treated as empty. Sink failures abort the run.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	ctx, span := r.tracer.Start(ctx, "pipeline.Run", trace.WithAttributes(
		attribute.Int64("aq.location_id", r.cfg.LocationID),
		attribute.String("aq.station", r.cfg.StationName),
	))
	defer span.End()

	log := r.cfg.Logger.With().
		Int64("location_id", r.cfg.LocationID).
		Str("station", r.cfg.StationName).
		Logger()

	log.Info().
		Str("date_from", r.cfg.DateFrom.Format("2006-01-02")).
		Str("date_to", r.cfg.DateTo.Format("2006-01-02")).
		Int("pollutants", len(r.cfg.Pollutants)).
		Msg("processing location")

	result := &Result{Outputs: make(map[string]string)}

	long, failed, err := r.fetchAll(ctx, log)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch interrupted")
		return nil, err
	}
	result.Failed = failed
	result.LongRows = len(long)

	if len(long) == 0 {
		log.Warn().Msg("no data fetched for location")
		span.SetAttributes(attribute.Int("aq.long_rows", 0))
		return result, nil
	}

	log.Info().Int("rows", len(long)).Msg("row count before pivoting")

	final, wide := airquality.Reshape(long, r.cfg.Pollutants)
	result.WideRows = len(wide.Rows)
	result.Duplicates = wide.Duplicates
	result.FinalRows = len(final.Rows)
	result.Table = final

	if wide.Duplicates > 0 {
		log.Warn().Int("duplicates", wide.Duplicates).Msg("duplicate measurements for the same key, kept the first")
	}
	log.Info().Int("rows", result.WideRows).Msg("row count after pivoting")
	log.Info().Int("rows", result.FinalRows).Msg("final row count after merging")

	span.SetAttributes(
		attribute.Int("aq.long_rows", result.LongRows),
		attribute.Int("aq.final_rows", result.FinalRows),
	)

	for _, sink := range r.cfg.Sinks {
		location, err := sink.Write(ctx, r.cfg.StationName, final)
		if err != nil {
			err = fmt.Errorf("%s sink: %w", sink.Name(), err)
			span.RecordError(err)
			span.SetStatus(codes.Error, "write failed")
			return result, err
		}
		result.Outputs[sink.Name()] = location
		r.cfg.Metrics.recordOutput(ctx, sink.Name(), result.FinalRows)
		log.Info().Str("sink", sink.Name()).Str("location", location).Msg("data saved")
	}

	return result, nil
}

// fetchAll requests every pollutant in order, pausing after each call.
func (r *Runner) fetchAll(ctx context.Context, log zerolog.Logger) (airquality.LongTable, []airquality.Pollutant, error) {
	var (
		long   airquality.LongTable
		failed []airquality.Pollutant
	)

	for _, p := range r.cfg.Pollutants {
		log.Info().Str("parameter", string(p)).Msg("fetching data")

		results, err := r.fetchOne(ctx, p)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, nil, ctxErr
			}
			failed = append(failed, p)
			event := log.Error().Err(err).Str("parameter", string(p))
			var fetchErr *airquality.FetchError
			if errors.As(err, &fetchErr) {
				event = event.Int("status", fetchErr.StatusCode)
			}
			event.Msg("error fetching measurements")
		} else {
			long.Append(p, results)
			log.Debug().Str("parameter", string(p)).Int("records", len(results)).Msg("fetched measurements")
		}

		if err := r.cfg.Sleep(ctx, r.cfg.Pause); err != nil {
			return nil, nil, err
		}
	}

	return long, failed, nil
}

func (r *Runner) fetchOne(ctx context.Context, p airquality.Pollutant) ([]airquality.Measurement, error) {
	ctx, span := r.tracer.Start(ctx, "pipeline.Fetch", trace.WithAttributes(
		attribute.String("aq.parameter", string(p)),
	))
	defer span.End()

	start := time.Now()
	results, err := r.cfg.Fetcher.FetchMeasurements(ctx, airquality.MeasurementQuery{
		LocationID: r.cfg.LocationID,
		Pollutant:  p,
		DateFrom:   r.cfg.DateFrom,
		DateTo:     r.cfg.DateTo,
		Limit:      airquality.DefaultLimit,
		Sort:       airquality.SortDesc,
	})
	r.cfg.Metrics.recordFetch(ctx, p, time.Since(start), len(results), err)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch failed")
		return nil, err
	}
	span.SetAttributes(attribute.Int("aq.records", len(results)))
	return results, nil
}

// Sleep waits for d unless ctx is cancelled first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
