package main

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/breatheroute/aqexport/internal/airquality"
	"github.com/breatheroute/aqexport/internal/config"
)

func TestRun_MissingAPIKey(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	dir := t.TempDir()
	t.Setenv("OPENAQ_API_KEY", "")
	t.Setenv("OPENAQ_BASE_URL", server.URL)

	var out bytes.Buffer
	err := run(context.Background(), []string{
		"-env-file", filepath.Join(dir, "absent.env"),
		"-out", dir,
	}, &out)

	assert.ErrorIs(t, err, config.ErrMissingAPIKey)
	assert.Equal(t, int32(0), requests.Load(), "no network call before the credential check")
	assert.Contains(t, out.String(), "invalid configuration")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "no output file is created")
}

func TestRun_EndToEnd(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get("X-API-Key"))
		if r.URL.Query().Get("parameter") != "pm25" {
			w.Write([]byte(`{"results":[]}`))
			return
		}
		w.Write([]byte(`{"results":[{"locationId":8118,"parameter":"pm25","value":3,"unit":"µg/m³",
			"city":"Delhi","country":"IN","date":{"utc":"2023-01-01T00:00:00Z"},
			"coordinates":{"latitude":28.6,"longitude":77.2}}]}`))
	}))
	defer server.Close()

	dir := t.TempDir()
	t.Setenv("OPENAQ_API_KEY", "secret")
	t.Setenv("OPENAQ_BASE_URL", server.URL)
	t.Setenv("AQ_REQUEST_PAUSE", "0s")
	t.Setenv("EXPORT_POSTGRES", "false")

	var out bytes.Buffer
	err := run(context.Background(), []string{
		"-env-file", filepath.Join(dir, "absent.env"),
		"-location", "8118",
		"-station", "Delhi",
		"-from", "2023-01-01",
		"-to", "2023-01-02",
		"-pollutants", "pm25,o3",
		"-out", dir,
	}, &out)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, "Delhi_air_quality_data_with_columns.csv"))
	require.NoError(t, err)
	assert.Equal(t,
		"date,locationId,unit,city,country,latitude,longitude,pm25,o3\n"+
			"2023-01-01T00:00:00Z,8118,µg/m³,Delhi,IN,28.6,77.2,3,\n",
		string(data))
	assert.Contains(t, out.String(), "run_id")
}

func TestRun_ServerErrorsDoNotStopTheRun(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		param := r.URL.Query().Get("parameter")
		switch param {
		case "pm25", "pm10", "so2", "o3", "co":
			w.WriteHeader(http.StatusServiceUnavailable)
		default:
			fmt.Fprintf(w, `{"results":[{"locationId":235228,"parameter":%q,"value":2,"unit":"ppm",
				"city":"Lahore","country":"PK","date":{"utc":"2024-01-01T00:00:00Z"},
				"coordinates":{"latitude":31.5,"longitude":74.3}}]}`, param)
		}
	}))
	defer server.Close()

	dir := t.TempDir()
	t.Setenv("OPENAQ_API_KEY", "secret")
	t.Setenv("OPENAQ_BASE_URL", server.URL)
	t.Setenv("AQ_REQUEST_PAUSE", "0s")
	t.Setenv("AQ_POLLUTANTS", "")
	t.Setenv("EXPORT_POSTGRES", "false")

	var out bytes.Buffer
	err := run(context.Background(), []string{
		"-env-file", filepath.Join(dir, "absent.env"),
		"-location", "235228",
		"-station", "LLA",
		"-from", "2024-01-01",
		"-to", "2024-01-02",
		"-out", dir,
	}, &out)
	require.NoError(t, err)

	assert.Equal(t, int32(8), requests.Load(), "every pollutant is requested")

	data, err := os.ReadFile(filepath.Join(dir, "LLA_air_quality_data_with_columns.csv"))
	require.NoError(t, err)
	assert.Equal(t,
		"date,locationId,unit,city,country,latitude,longitude,pm25,pm10,so2,o3,co,no,nox,no2\n"+
			"2024-01-01T00:00:00Z,235228,ppm,Lahore,PK,31.5,74.3,,,,,,2,2,2\n",
		string(data))

	logs := out.String()
	assert.Contains(t, logs, `"failed_pollutants":5`)
	assert.Contains(t, logs, `"requests":8`)
	assert.Contains(t, logs, `"request_failures":5`)
}

func TestRun_HelpPrintsUsage(t *testing.T) {
	var out bytes.Buffer
	err := run(context.Background(), []string{"-h"}, &out)
	require.NoError(t, err)

	usage := out.String()
	assert.Contains(t, usage, "Usage: aqexport")
	assert.Contains(t, usage, "-location")
	assert.Contains(t, usage, "-pollutants")
	assert.NotContains(t, usage, "invalid arguments")
}

func TestRun_InvalidFlag(t *testing.T) {
	var out bytes.Buffer
	err := run(context.Background(), []string{"-no-such-flag"}, &out)
	assert.Error(t, err)
}

func TestApplyFlags(t *testing.T) {
	cfg := config.Config{LocationID: 1, StationName: "A", OutputDir: "."}

	err := applyFlags(&cfg, 42, "B", "2021-05-01", "2021-06-01", "/tmp/x", "no2")
	require.NoError(t, err)

	assert.Equal(t, int64(42), cfg.LocationID)
	assert.Equal(t, "B", cfg.StationName)
	assert.Equal(t, "/tmp/x", cfg.OutputDir)
	assert.Equal(t, time.Date(2021, 5, 1, 0, 0, 0, 0, time.UTC), cfg.DateFrom)
	assert.Equal(t, time.Date(2021, 6, 1, 0, 0, 0, 0, time.UTC), cfg.DateTo)
	assert.Equal(t, []airquality.Pollutant{airquality.PollutantNO2}, cfg.Pollutants)
}

func TestApplyFlags_Errors(t *testing.T) {
	cfg := config.Config{}

	err := applyFlags(&cfg, 0, "", "yesterday", "2021-13-01", "", "dust")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "-from")
	assert.Contains(t, err.Error(), "-to")
	assert.ErrorIs(t, err, airquality.ErrUnknownPollutant)
}
