package export_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/breatheroute/aqexport/internal/export"
)

type fakeDB struct {
	execSQL  []string
	table    pgx.Identifier
	columns  []string
	rows     [][]any
	execErr  error
	copyErr  error
	copyLoss int64
}

func (f *fakeDB) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	f.execSQL = append(f.execSQL, sql)
	return pgconn.CommandTag{}, f.execErr
}

func (f *fakeDB) CopyFrom(_ context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error) {
	if f.copyErr != nil {
		return 0, f.copyErr
	}
	f.table = tableName
	f.columns = columnNames
	for rowSrc.Next() {
		values, err := rowSrc.Values()
		if err != nil {
			return 0, err
		}
		f.rows = append(f.rows, values)
	}
	return int64(len(f.rows)) - f.copyLoss, nil
}

func TestPostgresSink_Write(t *testing.T) {
	db := &fakeDB{}
	sink := export.NewPostgresSink(db, "run-1")

	location, err := sink.Write(context.Background(), "LLA", sampleTable())
	require.NoError(t, err)

	assert.Equal(t, export.WideTableName, location)
	assert.Equal(t, "postgres", sink.Name())
	require.Len(t, db.execSQL, 1)
	assert.Contains(t, db.execSQL[0], "CREATE TABLE IF NOT EXISTS air_quality_wide")
	assert.Equal(t, pgx.Identifier{"air_quality_wide"}, db.table)
	assert.Len(t, db.columns, 10)
	require.Len(t, db.rows, 2)

	first := db.rows[0]
	assert.Equal(t, "run-1", first[0])
	assert.Equal(t, "LLA", first[1])

	var values map[string]*float64
	require.NoError(t, json.Unmarshal(first[9].([]byte), &values))
	assert.Len(t, values, 8)
	require.NotNil(t, values["pm25"])
	assert.Equal(t, 12.3, *values["pm25"])
	assert.Nil(t, values["so2"])

	second := db.rows[1]
	assert.Nil(t, second[7])
	assert.Nil(t, second[8])
}

func TestPostgresSink_CreateTableError(t *testing.T) {
	db := &fakeDB{execErr: errors.New("permission denied")}
	sink := export.NewPostgresSink(db, "run-1")

	_, err := sink.Write(context.Background(), "LLA", sampleTable())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "permission denied")
}

func TestPostgresSink_CopyError(t *testing.T) {
	db := &fakeDB{copyErr: errors.New("connection reset")}
	sink := export.NewPostgresSink(db, "run-1")

	_, err := sink.Write(context.Background(), "LLA", sampleTable())
	assert.Error(t, err)
}

func TestPostgresSink_ShortCopy(t *testing.T) {
	db := &fakeDB{copyLoss: 1}
	sink := export.NewPostgresSink(db, "run-1")

	_, err := sink.Write(context.Background(), "LLA", sampleTable())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "wrote 1 of 2 rows")
}
