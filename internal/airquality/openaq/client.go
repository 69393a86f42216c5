// Package openaq provides a client for the OpenAQ v2 measurements API.
package openaq

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"

	"github.com/breatheroute/aqexport/internal/airquality"
	"github.com/breatheroute/aqexport/internal/provider/resilience"
)

const (
	// DefaultBaseURL is the base URL for the OpenAQ v2 API.
	DefaultBaseURL = "https://api.openaq.org/v2"

	// ProviderName identifies this provider.
	ProviderName = "openaq"

	// APIKeyHeader carries the credential on every request.
	APIKeyHeader = "X-API-Key"

	dateLayout = "2006-01-02"
)

// ClientConfig holds configuration for the OpenAQ client.
type ClientConfig struct {
	// BaseURL is the API base URL (defaults to DefaultBaseURL).
	BaseURL string

	// APIKey is sent in the X-API-Key header.
	APIKey string

	// HTTPClient is the HTTP client to use.
	// If nil, a resilience.Client with Timeout is created.
	HTTPClient HTTPDoer

	// Timeout for individual API requests (default: 30s).
	Timeout time.Duration

	Logger zerolog.Logger
}

// HTTPDoer abstracts HTTP request execution.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// requestCounter is implemented by transports that count their calls.
type requestCounter interface {
	Counts() gobreaker.Counts
}

// Client is an OpenAQ API client.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient HTTPDoer
	logger     zerolog.Logger
}

// NewClient creates a new OpenAQ client.
func NewClient(cfg ClientConfig) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = resilience.NewClient(resilience.ClientConfig{
			Name:    ProviderName,
			Timeout: cfg.Timeout,
		})
	}

	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: httpClient,
		logger:     cfg.Logger,
	}
}

// RequestCounts returns the transport's request and failure counts.
// ok is false when the configured HTTPClient does not count requests.
func (c *Client) RequestCounts() (counts gobreaker.Counts, ok bool) {
	counter, ok := c.httpClient.(requestCounter)
	if !ok {
		return gobreaker.Counts{}, false
	}
	return counter.Counts(), true
}

// API response types (from OpenAQ v2).

type measurementsResponse struct {
	Results []measurementData `json:"results"`
}

type measurementData struct {
	LocationID  int64            `json:"locationId"`
	Parameter   string           `json:"parameter"`
	Value       *float64         `json:"value"`
	Date        *dateData        `json:"date"`
	Unit        string           `json:"unit"`
	Coordinates *coordinatesData `json:"coordinates"`
	Country     string           `json:"country"`
	City        string           `json:"city"`
}

type dateData struct {
	UTC string `json:"utc"`
}

type coordinatesData struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// rejection explains why a result was not converted.
type rejection int

const (
	accepted rejection = iota
	missingTimestamp
	missingValue
)

// FetchMeasurements issues one measurements request for a single pollutant.
// Only the first page is requested; records beyond the limit are not fetched.
// A non-200 response is returned as *airquality.FetchError.
func (c *Client) FetchMeasurements(ctx context.Context, q airquality.MeasurementQuery) ([]airquality.Measurement, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.measurementsURL(q), http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set(APIKeyHeader, c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s measurements: %w", q.Pollutant, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &airquality.FetchError{Pollutant: q.Pollutant, StatusCode: resp.StatusCode}
	}

	var result measurementsResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode measurements response: %w", err)
	}

	measurements := make([]airquality.Measurement, 0, len(result.Results))
	var noTimestamp, noValue int
	for i := range result.Results {
		m, reason := toMeasurement(&result.Results[i])
		switch reason {
		case missingTimestamp:
			noTimestamp++
		case missingValue:
			noValue++
		default:
			measurements = append(measurements, m)
		}
	}

	if noTimestamp > 0 || noValue > 0 {
		c.logger.Warn().
			Str("parameter", string(q.Pollutant)).
			Int("missing_timestamp", noTimestamp).
			Int("missing_value", noValue).
			Msg("skipped incomplete measurements")
	}

	limit := q.Limit
	if limit <= 0 {
		limit = airquality.DefaultLimit
	}
	if len(result.Results) >= limit {
		c.logger.Warn().
			Str("parameter", string(q.Pollutant)).
			Int("limit", limit).
			Msg("result set reached the page limit, older measurements are truncated")
	}

	return measurements, nil
}

// measurementsURL builds the request URL for q.
func (c *Client) measurementsURL(q airquality.MeasurementQuery) string {
	limit := q.Limit
	if limit <= 0 {
		limit = airquality.DefaultLimit
	}
	sort := q.Sort
	if sort == "" {
		sort = airquality.SortDesc
	}

	params := url.Values{}
	params.Set("location_id", strconv.FormatInt(q.LocationID, 10))
	params.Set("parameter", string(q.Pollutant))
	params.Set("date_from", q.DateFrom.Format(dateLayout))
	params.Set("date_to", q.DateTo.Format(dateLayout))
	params.Set("limit", strconv.Itoa(limit))
	params.Set("sort", string(sort))

	return c.baseURL + "/measurements?" + params.Encode()
}

// toMeasurement converts API measurement data to a domain Measurement.
// Records without date.utc or with a null value are rejected.
func toMeasurement(m *measurementData) (airquality.Measurement, rejection) {
	if m.Date == nil || m.Date.UTC == "" {
		return airquality.Measurement{}, missingTimestamp
	}

	measuredAt, err := time.Parse(time.RFC3339, m.Date.UTC)
	if err != nil {
		return airquality.Measurement{}, missingTimestamp
	}

	if m.Value == nil {
		return airquality.Measurement{}, missingValue
	}

	out := airquality.Measurement{
		MeasuredAt: measuredAt.UTC(),
		Pollutant:  airquality.Pollutant(strings.ToLower(m.Parameter)),
		Value:      *m.Value,
		Unit:       m.Unit,
		LocationID: m.LocationID,
		City:       m.City,
		Country:    m.Country,
	}
	if m.Coordinates != nil {
		out.Coordinates = airquality.Coordinates{
			Latitude:  m.Coordinates.Latitude,
			Longitude: m.Coordinates.Longitude,
			Valid:     true,
		}
	}

	return out, accepted
}
