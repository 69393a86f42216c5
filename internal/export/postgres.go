package export

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/breatheroute/aqexport/internal/airquality"
)

// WideTableName is the Postgres table the final table is loaded into.
const WideTableName = "air_quality_wide"

const createWideTableSQL = `
CREATE TABLE IF NOT EXISTS air_quality_wide (
	run_id       TEXT             NOT NULL,
	station      TEXT             NOT NULL,
	measured_at  TIMESTAMPTZ      NOT NULL,
	location_id  BIGINT           NOT NULL,
	unit         TEXT             NOT NULL,
	city         TEXT             NOT NULL,
	country      TEXT             NOT NULL,
	latitude     DOUBLE PRECISION,
	longitude    DOUBLE PRECISION,
	pollutants   JSONB            NOT NULL
)`

var wideColumns = []string{
	"run_id", "station", "measured_at", "location_id", "unit",
	"city", "country", "latitude", "longitude", "pollutants",
}

// DB is the subset of pgxpool.Pool used by the Postgres sink.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// PostgresSink bulk-loads the final table with COPY.
type PostgresSink struct {
	db    DB
	runID string
}

// NewPostgresSink creates a sink tagging rows with runID.
func NewPostgresSink(db DB, runID string) *PostgresSink {
	return &PostgresSink{db: db, runID: runID}
}

// Name implements Sink.
func (s *PostgresSink) Name() string {
	return "postgres"
}

// Write implements Sink. The returned location is the table name.
func (s *PostgresSink) Write(ctx context.Context, station string, table *airquality.FinalTable) (string, error) {
	if _, err := s.db.Exec(ctx, createWideTableSQL); err != nil {
		return "", fmt.Errorf("create %s: %w", WideTableName, err)
	}

	rows, err := WideRows(s.runID, station, table)
	if err != nil {
		return "", err
	}

	n, err := s.db.CopyFrom(ctx, pgx.Identifier{WideTableName}, wideColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return "", fmt.Errorf("copy into %s: %w", WideTableName, err)
	}
	if n != int64(len(rows)) {
		return "", fmt.Errorf("copy into %s: wrote %d of %d rows", WideTableName, n, len(rows))
	}

	return WideTableName, nil
}

// WideRows converts the final table to COPY rows in wideColumns order.
// The pollutants column holds every requested pollutant, null when missing.
func WideRows(runID, station string, table *airquality.FinalTable) ([][]any, error) {
	rows := make([][]any, 0, len(table.Rows))
	for _, row := range table.Rows {
		values := make(map[string]*float64, len(table.Pollutants))
		for _, p := range table.Pollutants {
			if v, ok := row.Value(p); ok {
				values[string(p)] = &v
			} else {
				values[string(p)] = nil
			}
		}

		payload, err := json.Marshal(values)
		if err != nil {
			return nil, fmt.Errorf("encode pollutants: %w", err)
		}

		var lat, lon *float64
		if row.Key.HasCoords {
			la, lo := row.Key.Latitude, row.Key.Longitude
			lat, lon = &la, &lo
		}

		rows = append(rows, []any{
			runID,
			station,
			row.Key.MeasuredAt,
			row.Key.LocationID,
			row.Key.Unit,
			row.Key.City,
			row.Key.Country,
			lat,
			lon,
			payload,
		})
	}
	return rows, nil
}
