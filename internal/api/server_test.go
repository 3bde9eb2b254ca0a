package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/lox/wfconsole/internal/api"
	"github.com/lox/wfconsole/internal/forecast"
	"github.com/lox/wfconsole/internal/observe"
	"github.com/lox/wfconsole/internal/store"
	"github.com/lox/wfconsole/internal/stream"
)

var now = time.Date(2026, 10, 16, 14, 0, 0, 0, time.UTC)

type fakeForecast struct{ state forecast.State }

func (f fakeForecast) Current() forecast.State { return f.state }

type fakeObservations struct{ obs observe.Observations }

func (f fakeObservations) Latest() observe.Observations { return f.obs }

type fakeStream struct{ status stream.Status }

func (f fakeStream) Status() stream.Status { return f.status }

type fakeAudit struct {
	err      error
	ingest   []store.IngestHealthSummary
	sessions []store.StreamSession
}

func (f fakeAudit) GetIngestHealth(context.Context, int) ([]store.IngestHealthSummary, error) {
	return f.ingest, f.err
}

func (f fakeAudit) RecentSessions(context.Context, int) ([]store.StreamSession, error) {
	return f.sessions, f.err
}

func healthyServer(opts ...api.Option) *api.Server {
	fc := fakeForecast{forecast.State{
		Snapshot:  forecast.Snapshot{Available: true, Conditions: "Clear until 16:00 today", Icon: "1"},
		FetchOK:   true,
		UpdatedAt: now.Add(-10 * time.Minute),
	}}
	st := fakeStream{stream.Status{
		State:       stream.Open.String(),
		SessionID:   "abc",
		LastFrameAt: now.Add(-30 * time.Second),
		Frames:      12,
	}}
	obs := fakeObservations{observe.Observations{
		Wind: &observe.Wind{Cardinal: "SW"},
	}}
	opts = append([]api.Option{api.WithClock(func() time.Time { return now })}, opts...)
	return api.NewServer(":0", fc, obs, st, opts...)
}

func TestHealthEndpoint(t *testing.T) {
	t.Parallel()
	srv := healthyServer()

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != 200 {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var health api.HealthStatus
	if err := json.NewDecoder(w.Body).Decode(&health); err != nil {
		t.Fatal(err)
	}
	if health.Status != "ok" {
		t.Errorf("status = %q, want ok", health.Status)
	}
	if health.Stream.AgeSeconds != 30 {
		t.Errorf("age = %d, want 30", health.Stream.AgeSeconds)
	}
}

func TestHealthDegraded(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		forecast forecast.State
		stream   stream.Status
	}{
		{
			name:     "forecast failed",
			forecast: forecast.State{FetchOK: false},
			stream:   stream.Status{State: stream.Open.String(), LastFrameAt: now},
		},
		{
			name:     "stream reconnecting",
			forecast: forecast.State{FetchOK: true},
			stream:   stream.Status{State: stream.Reconnecting.String(), LastFrameAt: now},
		},
		{
			name:     "stream stale",
			forecast: forecast.State{FetchOK: true},
			stream:   stream.Status{State: stream.Open.String(), LastFrameAt: now.Add(-10 * time.Minute)},
		},
		{
			name:     "no frames yet",
			forecast: forecast.State{FetchOK: true},
			stream:   stream.Status{State: stream.Open.String()},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := api.NewServer(":0", fakeForecast{tt.forecast}, fakeObservations{}, fakeStream{tt.stream},
				api.WithClock(func() time.Time { return now }))

			w := httptest.NewRecorder()
			srv.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/health", nil))

			if w.Code != 503 {
				t.Fatalf("expected 503, got %d", w.Code)
			}
			if !strings.Contains(w.Body.String(), `"status":"degraded"`) {
				t.Errorf("body = %s, want degraded status", w.Body.String())
			}
		})
	}
}

func TestForecastEndpoint(t *testing.T) {
	t.Parallel()
	srv := healthyServer()

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/api/forecast", nil))

	if w.Code != 200 {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type = %q", ct)
	}
	var state forecast.State
	if err := json.NewDecoder(w.Body).Decode(&state); err != nil {
		t.Fatal(err)
	}
	if state.Snapshot.Conditions != "Clear until 16:00 today" {
		t.Errorf("conditions = %q", state.Snapshot.Conditions)
	}
	if !state.FetchOK {
		t.Error("expected fetch_ok")
	}
}

func TestObservationsEndpoint(t *testing.T) {
	t.Parallel()
	srv := healthyServer()

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/api/observations", nil))

	if w.Code != 200 {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, `"cardinal":"SW"`) {
		t.Errorf("expected wind cardinal in %s", body)
	}
	if !strings.Contains(body, `"outdoor":null`) {
		t.Errorf("expected missing outdoor reading as null in %s", body)
	}
}

func TestStreamEndpoint(t *testing.T) {
	t.Parallel()
	srv := healthyServer()

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/api/stream", nil))

	var status stream.Status
	if err := json.NewDecoder(w.Body).Decode(&status); err != nil {
		t.Fatal(err)
	}
	if status.State != "open" || status.SessionID != "abc" || status.Frames != 12 {
		t.Errorf("status = %+v", status)
	}
}

func TestAuditEndpoint(t *testing.T) {
	t.Parallel()

	t.Run("disabled without store", func(t *testing.T) {
		w := httptest.NewRecorder()
		healthyServer().Handler().ServeHTTP(w, httptest.NewRequest("GET", "/api/audit", nil))
		if w.Code != 404 {
			t.Fatalf("expected 404, got %d", w.Code)
		}
	})

	t.Run("summaries", func(t *testing.T) {
		audit := fakeAudit{
			ingest:   []store.IngestHealthSummary{{Date: "2026-10-16", Source: "weatherflow", TotalRuns: 3, SuccessRuns: 2, FailedRuns: 1}},
			sessions: []store.StreamSession{{ID: "abc", ConnectedAt: now, Frames: 5, EndState: "timed_out"}},
		}
		w := httptest.NewRecorder()
		healthyServer(api.WithAudit(audit)).Handler().ServeHTTP(w, httptest.NewRequest("GET", "/api/audit", nil))

		if w.Code != 200 {
			t.Fatalf("expected 200, got %d", w.Code)
		}
		var data api.AuditData
		if err := json.NewDecoder(w.Body).Decode(&data); err != nil {
			t.Fatal(err)
		}
		if len(data.Ingest) != 1 || data.Ingest[0].FailedRuns != 1 {
			t.Errorf("ingest = %+v", data.Ingest)
		}
		if len(data.Sessions) != 1 || data.Sessions[0].EndState != "timed_out" {
			t.Errorf("sessions = %+v", data.Sessions)
		}
	})

	t.Run("store error", func(t *testing.T) {
		w := httptest.NewRecorder()
		srv := healthyServer(api.WithAudit(fakeAudit{err: errors.New("database is locked")}))
		srv.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/api/audit", nil))
		if w.Code != 500 {
			t.Fatalf("expected 500, got %d", w.Code)
		}
	})
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()
	w := httptest.NewRecorder()
	healthyServer().Handler().ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	if w.Code != 200 {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "go_goroutines") {
		t.Error("expected Go runtime metrics")
	}
}

func TestMethodNotAllowed(t *testing.T) {
	t.Parallel()
	w := httptest.NewRecorder()
	healthyServer().Handler().ServeHTTP(w, httptest.NewRequest("POST", "/api/forecast", nil))
	if w.Code != 405 {
		t.Fatalf("expected 405, got %d", w.Code)
	}
}
