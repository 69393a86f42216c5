// Package export writes the final wide table to its destinations.
package export

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/breatheroute/aqexport/internal/airquality"
)

// FileSuffix is appended to the station name to form the output file name.
const FileSuffix = "_air_quality_data_with_columns.csv"

// KeyColumns are the leading CSV columns, one per key tuple field.
var KeyColumns = []string{"date", "locationId", "unit", "city", "country", "latitude", "longitude"}

// Sink receives the final table of a run.
type Sink interface {
	Name() string
	Write(ctx context.Context, station string, table *airquality.FinalTable) (string, error)
}

// FileName returns the CSV file name for a station.
func FileName(station string) string {
	return station + FileSuffix
}

// CSVWriter writes the final table as a delimited text file.
type CSVWriter struct {
	dir string
}

// NewCSVWriter creates a writer that places files in dir.
func NewCSVWriter(dir string) *CSVWriter {
	if dir == "" {
		dir = "."
	}
	return &CSVWriter{dir: dir}
}

// Name implements Sink.
func (w *CSVWriter) Name() string {
	return "csv"
}

// Write creates <dir>/<station>_air_quality_data_with_columns.csv and returns its path.
func (w *CSVWriter) Write(_ context.Context, station string, table *airquality.FinalTable) (string, error) {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return "", fmt.Errorf("create output directory: %w", err)
	}

	path := filepath.Join(w.dir, FileName(station))
	file, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create file: %w", err)
	}

	if err := WriteCSV(file, table); err != nil {
		file.Close()
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	if err := file.Close(); err != nil {
		return "", fmt.Errorf("close %s: %w", path, err)
	}

	return path, nil
}

// WriteCSV serializes table with a header row and no index column.
// Missing pollutant values are written as empty fields.
func WriteCSV(out io.Writer, table *airquality.FinalTable) error {
	writer := csv.NewWriter(out)

	header := make([]string, 0, len(KeyColumns)+len(table.Pollutants))
	header = append(header, KeyColumns...)
	for _, p := range table.Pollutants {
		header = append(header, string(p))
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	for _, row := range table.Rows {
		if err := writer.Write(csvRecord(row, table.Pollutants)); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
	}

	writer.Flush()
	return writer.Error()
}

func csvRecord(row airquality.WideRow, pollutants []airquality.Pollutant) []string {
	key := row.Key
	record := make([]string, 0, len(KeyColumns)+len(pollutants))
	record = append(record,
		key.MeasuredAt.UTC().Format(time.RFC3339),
		strconv.FormatInt(key.LocationID, 10),
		key.Unit,
		key.City,
		key.Country,
		coordinate(key.Latitude, key.HasCoords),
		coordinate(key.Longitude, key.HasCoords),
	)

	for _, p := range pollutants {
		if v, ok := row.Value(p); ok {
			record = append(record, formatFloat(v))
		} else {
			record = append(record, "")
		}
	}
	return record
}

func coordinate(v float64, valid bool) string {
	if !valid {
		return ""
	}
	return formatFloat(v)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
