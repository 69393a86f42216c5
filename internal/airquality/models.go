// Package airquality provides the air quality domain model and the long-to-wide
// reshaping of station measurements.
package airquality

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Provider errors.
var (
	// ErrFetchFailed is the kind of every failed measurements request.
	ErrFetchFailed = errors.New("fetch failed")

	// ErrUnknownPollutant is returned when parsing an unsupported pollutant code.
	ErrUnknownPollutant = errors.New("unknown pollutant")
)

// FetchError reports a measurements request that did not return 200.
type FetchError struct {
	Pollutant  Pollutant
	StatusCode int
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch failed for %s: status %d", e.Pollutant, e.StatusCode)
}

// Is makes FetchError match ErrFetchFailed.
func (e *FetchError) Is(target error) bool {
	return target == ErrFetchFailed
}

// Pollutant represents an air quality parameter code as used by OpenAQ.
type Pollutant string

const (
	PollutantPM25 Pollutant = "pm25"
	PollutantPM10 Pollutant = "pm10"
	PollutantSO2  Pollutant = "so2"
	PollutantO3   Pollutant = "o3"
	PollutantCO   Pollutant = "co"
	PollutantNO   Pollutant = "no"
	PollutantNOx  Pollutant = "nox"
	PollutantNO2  Pollutant = "no2"
)

// DefaultPollutants returns the pollutants fetched when none are configured,
// in output column order.
func DefaultPollutants() []Pollutant {
	return []Pollutant{
		PollutantPM25,
		PollutantPM10,
		PollutantSO2,
		PollutantO3,
		PollutantCO,
		PollutantNO,
		PollutantNOx,
		PollutantNO2,
	}
}

// ParsePollutant converts a parameter code to a Pollutant.
func ParsePollutant(code string) (Pollutant, error) {
	p := Pollutant(strings.ToLower(strings.TrimSpace(code)))
	for _, known := range DefaultPollutants() {
		if p == known {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownPollutant, code)
}

// ParsePollutants parses a comma separated list of parameter codes.
// Duplicates are dropped, first occurrence wins.
func ParsePollutants(list string) ([]Pollutant, error) {
	var out []Pollutant
	seen := make(map[Pollutant]bool)
	for _, part := range strings.Split(list, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		p, err := ParsePollutant(part)
		if err != nil {
			return nil, err
		}
		if seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: empty list", ErrUnknownPollutant)
	}
	return out, nil
}

// Coordinates is the position of a measurement. Valid is false when the
// provider returned no coordinates.
type Coordinates struct {
	Latitude  float64
	Longitude float64
	Valid     bool
}

// Measurement is a single observation of one pollutant at one location.
type Measurement struct {
	MeasuredAt  time.Time
	Pollutant   Pollutant
	Value       float64
	Unit        string
	LocationID  int64
	City        string
	Country     string
	Coordinates Coordinates
}

// Key returns the grouping key used for the pivot and the metadata join.
func (m Measurement) Key() Key {
	return Key{
		MeasuredAt: m.MeasuredAt.UTC(),
		LocationID: m.LocationID,
		Unit:       m.Unit,
		City:       m.City,
		Country:    m.Country,
		Latitude:   m.Coordinates.Latitude,
		Longitude:  m.Coordinates.Longitude,
		HasCoords:  m.Coordinates.Valid,
	}
}

// SortOrder is the result ordering requested from the provider.
type SortOrder string

const (
	SortDesc SortOrder = "desc"
	SortAsc  SortOrder = "asc"
)

// DefaultLimit is the provider page cap. Results beyond it are not fetched.
const DefaultLimit = 10000

// MeasurementQuery describes one measurements request.
type MeasurementQuery struct {
	LocationID int64
	Pollutant  Pollutant
	DateFrom   time.Time
	DateTo     time.Time
	Limit      int
	Sort       SortOrder
}

// LongTable is the concatenation of per-pollutant result sets, one row per
// (key, pollutant, value).
type LongTable []Measurement

// Append adds a pollutant's result set, tagging every record with p.
func (t *LongTable) Append(p Pollutant, results []Measurement) {
	for _, m := range results {
		m.Pollutant = p
		*t = append(*t, m)
	}
}
