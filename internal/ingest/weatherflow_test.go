package ingest

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
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
    "devices": [
      {"device_id": 1, "device_meta": {"agl": 0}},
      {"device_id": 2, "device_type": "HB", "device_meta": {"agl": 0}},
      {"device_id": 3, "device_type": "ST", "device_meta": {"agl": 2.5}}
    ]
  }]
}`

type recordingAuditor struct {
	mu      sync.Mutex
	results []FetchResult
}

func (r *recordingAuditor) RecordFetch(_ context.Context, res FetchResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, res)
}

func newTestClient(t *testing.T, h http.HandlerFunc) (*WeatherFlow, *recordingAuditor) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	audit := &recordingAuditor{}
	return NewWeatherFlow("secret-key", WithBaseURL(srv.URL), WithAuditor(audit)), audit
}

func TestStation(t *testing.T) {
	var gotPath, gotKey string
	wf, audit := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.URL.Query().Get("api_key")
		w.Write([]byte(stationJSON))
	})

	resp, err := wf.Station(context.Background(), "1234")
	if err != nil {
		t.Fatalf("Station() error = %v", err)
	}
	if gotPath != "/stations/1234" || gotKey != "secret-key" {
		t.Errorf("request = %s key=%s", gotPath, gotKey)
	}
	st := resp.Stations[0]
	if st.StationElevation() != 386.5 {
		t.Errorf("StationElevation() = %v, want 386.5", st.StationElevation())
	}
	d, ok := st.FindDevice("3", DeviceTempest)
	if !ok || d.DeviceMeta.AGL != 2.5 {
		t.Errorf("FindDevice(3, ST) = %+v, %v", d, ok)
	}
	if _, ok := st.FindDevice("3", DeviceSky); ok {
		t.Error("FindDevice matched wrong device type")
	}
	if _, ok := st.FindDevice("1", ""); ok {
		t.Error("FindDevice matched device without type")
	}
	if len(audit.results) != 1 || audit.results[0].Endpoint != "stations" || audit.results[0].HTTPStatus != 200 {
		t.Errorf("audit = %+v", audit.results)
	}
}

func TestStationErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{
			name:    "not found",
			status:  404,
			body:    `{"status":{"status_code":404,"status_message":"NOT FOUND"}}`,
			wantErr: ErrStationNotFound,
		},
		{
			name:    "server error",
			status:  500,
			body:    `oops`,
			wantErr: ErrUnavailable,
		},
		{
			name:    "unauthorised",
			status:  401,
			body:    `{"status":{"status_code":401,"status_message":"UNAUTHORIZED"}}`,
			wantErr: ErrUnavailable,
		},
		{
			name:    "no stations",
			status:  200,
			body:    `{"status":{"status_code":0,"status_message":"SUCCESS"},"stations":[]}`,
			wantErr: ErrUnavailable,
		},
		{
			name:    "bad latitude",
			status:  200,
			body:    `{"status":{"status_message":"SUCCESS"},"stations":[{"name":"x","timezone":"UTC","latitude":123,"longitude":0}]}`,
			wantErr: ErrUnavailable,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wf, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})
			_, err := wf.Station(context.Background(), "1")
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Station() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestObservationUnits(t *testing.T) {
	wf, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/observations/station/99" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(`{"status":{"status_message":"SUCCESS"},"station_units":{"units_temp":"c","units_pressure":"mb","units_other":"metric"}}`))
	})

	resp, err := wf.ObservationUnits(context.Background(), "99")
	if err != nil {
		t.Fatalf("ObservationUnits() error = %v", err)
	}
	if u, ok := resp.Unit("Temp"); !ok || u != "c" {
		t.Errorf("Unit(Temp) = %q, %v", u, ok)
	}
	if _, ok := resp.Unit("Wind"); ok {
		t.Error("Unit(Wind) present, want missing")
	}
}

func TestObservationUnitsRequiresSuccess(t *testing.T) {
	wf, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"station_units":{"units_temp":"c"}}`))
	})
	if _, err := wf.ObservationUnits(context.Background(), "1"); !errors.Is(err, ErrUnavailable) {
		t.Errorf("ObservationUnits() error = %v, want ErrUnavailable", err)
	}
}

func TestBetterForecast(t *testing.T) {
	var query string
	wf, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.RawQuery
		w.Write([]byte(`{"forecast":{}}`))
	})

	body, err := wf.BetterForecast(context.Background(), "1234", "-36.79", "146.97")
	if err != nil {
		t.Fatalf("BetterForecast() error = %v", err)
	}
	if string(body) != `{"forecast":{}}` {
		t.Errorf("body = %s", body)
	}
	want := "api_key=secret-key&lat=-36.79&lon=146.97&station_id=1234"
	if query != want {
		t.Errorf("query = %s, want %s", query, want)
	}
}

func TestBetterForecastNon200(t *testing.T) {
	wf, audit := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	_, err := wf.BetterForecast(context.Background(), "1", "0", "0")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("BetterForecast() error = %v, want ErrUnavailable", err)
	}
	if len(audit.results) != 1 || audit.results[0].Error == nil {
		t.Errorf("audit did not record failure: %+v", audit.results)
	}
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	calls := 0
	wf, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	})
	for i := 0; i < 5; i++ {
		wf.BetterForecast(context.Background(), "1", "0", "0")
	}
	if calls != 3 {
		t.Errorf("server calls = %d, want 3 before breaker opens", calls)
	}
}

func TestRedact(t *testing.T) {
	err := redact(errors.New(`Get "https://x/?api_key=abc": dial tcp`), "abc")
	if err.Error() != `Get "https://x/?api_key=REDACTED": dial tcp` {
		t.Errorf("redact() = %q", err)
	}
}
