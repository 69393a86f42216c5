// Package main provides the entrypoint for the single-station air quality extract.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/breatheroute/aqexport/internal/airquality"
	"github.com/breatheroute/aqexport/internal/airquality/openaq"
	"github.com/breatheroute/aqexport/internal/config"
	"github.com/breatheroute/aqexport/internal/database"
	"github.com/breatheroute/aqexport/internal/export"
	"github.com/breatheroute/aqexport/internal/pipeline"
	"github.com/breatheroute/aqexport/internal/telemetry"
)

// Version and BuildTime are set at compile time via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

const serviceName = "aqexport"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		stop()
		os.Exit(1) //nolint:gocritic // run has already logged the failure
	}
}

// run parses flags, loads configuration and executes one extract.
// Every failure is logged before it is returned.
func run(ctx context.Context, args []string, stdout io.Writer) error {
	log := zerolog.New(stdout).
		With().
		Timestamp().
		Str("service", serviceName).
		Str("version", Version).
		Logger()

	fs := flag.NewFlagSet(serviceName, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	envFile := fs.String("env-file", ".env", "optional dotenv file")
	locationID := fs.Int64("location", 0, "OpenAQ location id (overrides AQ_LOCATION_ID)")
	station := fs.String("station", "", "station name used in the output file name (overrides AQ_STATION_NAME)")
	dateFrom := fs.String("from", "", "start date YYYY-MM-DD (overrides AQ_DATE_FROM)")
	dateTo := fs.String("to", "", "end date YYYY-MM-DD (overrides AQ_DATE_TO)")
	outDir := fs.String("out", "", "output directory (overrides AQ_OUTPUT_DIR)")
	pollutants := fs.String("pollutants", "", "comma separated pollutant codes (overrides AQ_POLLUTANTS)")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			fs.SetOutput(stdout)
			fmt.Fprintf(stdout, "Usage: %s [flags]\n", serviceName)
			fs.PrintDefaults()
			return nil
		}
		log.Error().Err(err).Msg("invalid arguments")
		return err
	}

	cfg, err := config.Load(*envFile)
	if err != nil {
		log.Error().Err(err).Msg("failed to load configuration")
		return err
	}
	if err := applyFlags(&cfg, *locationID, *station, *dateFrom, *dateTo, *outDir, *pollutants); err != nil {
		log.Error().Err(err).Msg("invalid arguments")
		return err
	}
	if err := cfg.Validate(); err != nil {
		log.Error().Err(err).Msg("invalid configuration")
		return err
	}

	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		log = log.Level(level)
	}

	runID := uuid.New().String()
	log = log.With().Str("run_id", runID).Logger()
	log.Info().Str("build_time", BuildTime).Msg("starting air quality extract")

	tp, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    serviceName,
		ServiceVersion: Version,
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		Enabled:        cfg.TelemetryEnabled,
		Attributes: []attribute.KeyValue{
			attribute.String("aq.station", cfg.StationName),
			attribute.String("aq.run_id", runID),
		},
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to initialize telemetry")
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := tp.Shutdown(shutdownCtx); shutdownErr != nil {
			log.Error().Err(shutdownErr).Msg("failed to shutdown telemetry")
		}
	}()

	metrics, err := pipeline.NewMetrics(tp.Meter)
	if err != nil {
		log.Error().Err(err).Msg("failed to initialize metrics")
		return err
	}

	sinks := []export.Sink{export.NewCSVWriter(cfg.OutputDir)}
	if cfg.ExportPostgres {
		dbConfig := database.ConfigFromEnv()
		pool, err := database.Connect(ctx, dbConfig)
		if err != nil {
			log.Error().Err(err).Msg("failed to connect to database")
			return err
		}
		defer pool.Close()
		log.Info().Str("database", dbConfig.Redacted()).Msg("database connected")
		sinks = append(sinks, export.NewPostgresSink(pool, runID))
	}

	client := openaq.NewClient(openaq.ClientConfig{
		BaseURL: cfg.BaseURL,
		APIKey:  cfg.APIKey,
		Timeout: cfg.HTTPTimeout,
		Logger:  log,
	})

	runner := pipeline.NewRunner(pipeline.Config{
		LocationID:  cfg.LocationID,
		StationName: cfg.StationName,
		DateFrom:    cfg.DateFrom,
		DateTo:      cfg.DateTo,
		Pollutants:  cfg.Pollutants,
		Pause:       cfg.RequestPause,
		Fetcher:     client,
		Sinks:       sinks,
		Logger:      log,
		Metrics:     metrics,
		Tracer:      tp.Tracer,
	})

	result, err := runner.Run(ctx)
	if err != nil {
		log.Error().Err(err).Msg("extract failed")
		return err
	}

	summary := log.Info().
		Int("final_rows", result.FinalRows).
		Int("failed_pollutants", len(result.Failed)).
		Bool("written", result.Written())
	if counts, ok := client.RequestCounts(); ok {
		summary = summary.
			Uint32("requests", counts.Requests).
			Uint32("request_failures", counts.TotalFailures)
	}
	summary.Msg("extract finished")
	return nil
}

// applyFlags overrides cfg with the non-empty command-line values.
func applyFlags(cfg *config.Config, locationID int64, station, from, to, outDir, pollutants string) error {
	if locationID != 0 {
		cfg.LocationID = locationID
	}
	if station != "" {
		cfg.StationName = station
	}
	if outDir != "" {
		cfg.OutputDir = outDir
	}

	var errs []error
	if from != "" {
		d, err := config.ParseDate(from)
		if err != nil {
			errs = append(errs, fmt.Errorf("-from: %w", err))
		}
		cfg.DateFrom = d
	}
	if to != "" {
		d, err := config.ParseDate(to)
		if err != nil {
			errs = append(errs, fmt.Errorf("-to: %w", err))
		}
		cfg.DateTo = d
	}
	if strings.TrimSpace(pollutants) != "" {
		list, err := airquality.ParsePollutants(pollutants)
		if err != nil {
			errs = append(errs, fmt.Errorf("-pollutants: %w", err))
		}
		cfg.Pollutants = list
	}
	return errors.Join(errs...)
}
