package app

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/lox/wfconsole/internal/provision"
	"github.com/lox/wfconsole/internal/store"
)

const stationJSON = `{
  "status": {"status_code": 0, "status_message": "SUCCESS"},
  "stations": [{
    "station_id": 1234,
    "name": "Back Yard",
    "latitude": -36.79,
    "longitude": 146.97,
    "timezone": "Australia/Melbourne",
    "station_meta": {"elevation": 386.5},
    "devices": [{"device_id": 3, "device_type": "ST", "device_meta": {"agl": 2.5}}]
  }]
}`

const unitsJSON = `{"status":{"status_code":0,"status_message":"SUCCESS"},"station_units":{"units_temp":"c","units_pressure":"mb","units_wind":"kph","units_direction":"cardinal","units_precip":"mm","units_distance":"km","units_other":"metric"}}`

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func metadataServer(t *testing.T, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		switch {
		case strings.HasPrefix(r.URL.Path, "/stations/"):
			w.Write([]byte(stationJSON))
		case strings.HasPrefix(r.URL.Path, "/observations/station/"):
			w.Write([]byte(unitsJSON))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestProvisionCreatesThenLeavesFileAlone(t *testing.T) {
	var calls atomic.Int32
	srv := metadataServer(t, &calls)
	path := filepath.Join(t.TempDir(), "wfconsole.ini")

	var out bytes.Buffer
	cfg := Config{
		StationPath:    path,
		WeatherFlowKey: "wfkey",
		RESTURL:        srv.URL,
		Hardware:       "Other",
		In:             strings.NewReader("wxkey\n1234\ny\n3\nn\n"),
		Out:            &out,
	}
	stationCfg, err := Provision(context.Background(), cfg, discardLogger())
	if err != nil {
		t.Fatalf("Provision() error = %v\n%s", err, out.String())
	}
	if got := stationCfg.Value("Station", "TempestID"); got != "3" {
		t.Errorf("TempestID = %q, want 3", got)
	}
	if got := stationCfg.Value("Units", "Temp"); got != "c" {
		t.Errorf("Units.Temp = %q, want c", got)
	}

	before, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	calls.Store(0)
	cfg.In = strings.NewReader("")
	if _, err := Provision(context.Background(), cfg, discardLogger()); err != nil {
		t.Fatalf("second Provision() error = %v", err)
	}
	after, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(before, after) {
		t.Error("current station file was rewritten")
	}
	if calls.Load() != 0 {
		t.Errorf("current station file made %d metadata requests", calls.Load())
	}
}

func TestProvisionWithoutKeyReusesStoredKey(t *testing.T) {
	var calls atomic.Int32
	srv := metadataServer(t, &calls)
	path := filepath.Join(t.TempDir(), "wfconsole.ini")

	cfg := Config{
		StationPath:    path,
		WeatherFlowKey: "wfkey",
		RESTURL:        srv.URL,
		Hardware:       "Other",
		In:             strings.NewReader("wxkey\n1234\ny\n3\nn\n"),
		Out:            io.Discard,
	}
	if _, err := Provision(context.Background(), cfg, discardLogger()); err != nil {
		t.Fatalf("Provision() error = %v", err)
	}
	before, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}

	calls.Store(0)
	cfg.WeatherFlowKey = ""
	cfg.In = strings.NewReader("")
	stationCfg, err := Provision(context.Background(), cfg, discardLogger())
	if err != nil {
		t.Fatalf("Provision() without key error = %v", err)
	}
	if got := stationCfg.Value("Keys", "WeatherFlow"); got != "wfkey" {
		t.Errorf("Keys.WeatherFlow = %q, want wfkey", got)
	}
	after, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(before, after) {
		t.Error("current station file was rewritten")
	}
	if calls.Load() != 0 {
		t.Errorf("current station file made %d metadata requests", calls.Load())
	}
}

func TestProvisionWithoutAnyKeyFails(t *testing.T) {
	cfg := Config{
		StationPath: filepath.Join(t.TempDir(), "wfconsole.ini"),
		Hardware:    "Other",
		In:          strings.NewReader(""),
		Out:         io.Discard,
	}
	_, err := Provision(context.Background(), cfg, discardLogger())
	if err == nil || !strings.Contains(err.Error(), "Keys.WeatherFlow") {
		t.Errorf("Provision() error = %v, want missing key", err)
	}
	if _, err := os.Stat(cfg.StationPath); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("station file written without a key: %v", err)
	}
}

func TestRunStopsWhenMetadataUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)
	dir := t.TempDir()

	cfg := Config{
		StationPath:    filepath.Join(dir, "wfconsole.ini"),
		DBPath:         filepath.Join(dir, "audit.db"),
		HTTPAddr:       "127.0.0.1:0",
		WeatherFlowKey: "wfkey",
		RESTURL:        srv.URL,
		Hardware:       "Other",
		Panels:         6,
		In:             strings.NewReader("wxkey\n1234\ny\n3\nn\n"),
		Out:            io.Discard,
	}
	err := Run(context.Background(), cfg, discardLogger())
	if !errors.Is(err, provision.ErrRetriesExhausted) {
		t.Fatalf("Run() error = %v, want ErrRetriesExhausted", err)
	}
	if !strings.Contains(err.Error(), "unable to fetch station meta-data") {
		t.Errorf("error = %q", err)
	}

	if _, err := os.Stat(cfg.StationPath); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("station file written after failure: %v", err)
	}

	st, err := store.Open(cfg.DBPath, discardLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	failures, err := st.GetRecentIngestErrors(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(failures) != provision.MaxRetries {
		t.Errorf("audited failures = %d, want %d", len(failures), provision.MaxRetries)
	}
}
