// Package config loads the extract configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/breatheroute/aqexport/internal/airquality"
)

// Configuration errors.
var (
	// ErrMissingAPIKey is returned when OPENAQ_API_KEY is not set.
	ErrMissingAPIKey = errors.New("API key is not set, set the OPENAQ_API_KEY environment variable")

	// ErrInvalidConfig wraps every other invalid setting.
	ErrInvalidConfig = errors.New("invalid configuration")
)

const (
	// DefaultLocationID is the OpenAQ location extracted when none is configured.
	DefaultLocationID int64 = 235228

	// DefaultStationName names the output file when none is configured.
	DefaultStationName = "LLA"

	// DateLayout is the ISO date format used for the date range.
	DateLayout = "2006-01-02"
)

// DefaultDateFrom is the start of the default date range.
var DefaultDateFrom = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

// Config holds all settings of one extract run.
type Config struct {
	APIKey  string
	BaseURL string

	LocationID  int64
	StationName string
	DateFrom    time.Time
	DateTo      time.Time
	Pollutants  []airquality.Pollutant

	// RequestPause is the fixed delay after every measurements request.
	RequestPause time.Duration
	HTTPTimeout  time.Duration

	OutputDir      string
	ExportPostgres bool

	Environment      string
	LogLevel         string
	TelemetryEnabled bool
	OTLPEndpoint     string
}

// Load reads an optional .env file and then the process environment.
// Values already set in the environment take precedence over the file.
func Load(envFiles ...string) (Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return Config{}, fmt.Errorf("%w: load %s: %v", ErrInvalidConfig, f, err)
		}
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from the given lookup function.
func FromEnv(getenv func(string) string) (Config, error) {
	get := func(key, def string) string {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			return v
		}
		return def
	}

	cfg := Config{
		APIKey:           strings.TrimSpace(getenv("OPENAQ_API_KEY")),
		BaseURL:          get("OPENAQ_BASE_URL", "https://api.openaq.org/v2"),
		StationName:      get("AQ_STATION_NAME", DefaultStationName),
		OutputDir:        get("AQ_OUTPUT_DIR", "."),
		ExportPostgres:   get("EXPORT_POSTGRES", "false") == "true",
		Environment:      get("APP_ENV", "development"),
		LogLevel:         get("LOG_LEVEL", "info"),
		TelemetryEnabled: get("OTEL_ENABLED", "false") == "true",
		OTLPEndpoint:     get("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
	}

	var err error
	if cfg.LocationID, err = strconv.ParseInt(get("AQ_LOCATION_ID", strconv.FormatInt(DefaultLocationID, 10)), 10, 64); err != nil {
		return Config{}, fmt.Errorf("%w: AQ_LOCATION_ID: %v", ErrInvalidConfig, err)
	}
	if cfg.DateFrom, err = ParseDate(get("AQ_DATE_FROM", DefaultDateFrom.Format(DateLayout))); err != nil {
		return Config{}, fmt.Errorf("%w: AQ_DATE_FROM: %v", ErrInvalidConfig, err)
	}
	if cfg.DateTo, err = ParseDate(get("AQ_DATE_TO", time.Now().UTC().Format(DateLayout))); err != nil {
		return Config{}, fmt.Errorf("%w: AQ_DATE_TO: %v", ErrInvalidConfig, err)
	}
	if cfg.RequestPause, err = time.ParseDuration(get("AQ_REQUEST_PAUSE", "1s")); err != nil {
		return Config{}, fmt.Errorf("%w: AQ_REQUEST_PAUSE: %v", ErrInvalidConfig, err)
	}
	if cfg.HTTPTimeout, err = time.ParseDuration(get("AQ_HTTP_TIMEOUT", "30s")); err != nil {
		return Config{}, fmt.Errorf("%w: AQ_HTTP_TIMEOUT: %v", ErrInvalidConfig, err)
	}

	cfg.Pollutants = airquality.DefaultPollutants()
	if list := getenv("AQ_POLLUTANTS"); strings.TrimSpace(list) != "" {
		if cfg.Pollutants, err = airquality.ParsePollutants(list); err != nil {
			return Config{}, fmt.Errorf("%w: AQ_POLLUTANTS: %v", ErrInvalidConfig, err)
		}
	}

	return cfg, nil
}

// ParseDate parses an ISO date (YYYY-MM-DD) as UTC midnight.
func ParseDate(s string) (time.Time, error) {
	return time.ParseInLocation(DateLayout, s, time.UTC)
}

// Validate checks the settings required before any network activity.
func (c Config) Validate() error {
	if c.APIKey == "" {
		return ErrMissingAPIKey
	}
	if c.StationName == "" {
		return fmt.Errorf("%w: station name is empty", ErrInvalidConfig)
	}
	if c.LocationID <= 0 {
		return fmt.Errorf("%w: location id must be positive", ErrInvalidConfig)
	}
	if c.DateTo.Before(c.DateFrom) {
		return fmt.Errorf("%w: date range %s..%s is reversed", ErrInvalidConfig,
			c.DateFrom.Format(DateLayout), c.DateTo.Format(DateLayout))
	}
	if c.RequestPause < 0 {
		return fmt.Errorf("%w: request pause must not be negative", ErrInvalidConfig)
	}
	if len(c.Pollutants) == 0 {
		return fmt.Errorf("%w: no pollutants configured", ErrInvalidConfig)
	}
	return nil
}
