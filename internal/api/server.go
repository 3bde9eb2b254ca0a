package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lox/wfconsole/internal/forecast"
	"github.com/lox/wfconsole/internal/observe"
	"github.com/lox/wfconsole/internal/store"
	"github.com/lox/wfconsole/internal/stream"
)

// StaleThreshold is how long the stream may go without a frame before
// /health reports it stale. Devices report at least once a minute.
const StaleThreshold = 5 * time.Minute

type ForecastSource interface {
	Current() forecast.State
}

type ObservationSource interface {
	Latest() observe.Observations
}

type StreamSource interface {
	Status() stream.Status
}

// AuditSource is the optional audit log behind /api/audit.
type AuditSource interface {
	GetIngestHealth(ctx context.Context, days int) ([]store.IngestHealthSummary, error)
	RecentSessions(ctx context.Context, limit int) ([]store.StreamSession, error)
}

type Server struct {
	addr         string
	forecast     ForecastSource
	observations ObservationSource
	stream       StreamSource
	audit        AuditSource
	logger       *slog.Logger
	now          func() time.Time
}

type Option func(*Server)

func WithAudit(a AuditSource) Option {
	return func(s *Server) { s.audit = a }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

func NewServer(addr string, f ForecastSource, o ObservationSource, st StreamSource, opts ...Option) *Server {
	s := &Server{
		addr:         addr,
		forecast:     f,
		observations: o,
		stream:       st,
		logger:       slog.Default(),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /api/forecast", s.handleForecast)
	mux.HandleFunc("GET /api/observations", s.handleObservations)
	mux.HandleFunc("GET /api/stream", s.handleStream)
	if s.audit != nil {
		mux.HandleFunc("GET /api/audit", s.handleAudit)
	}
	return mux
}

func (s *Server) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("http listening", "addr", s.addr)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

type HealthStatus struct {
	Status   string         `json:"status"`
	Forecast ForecastHealth `json:"forecast"`
	Stream   StreamHealth   `json:"stream"`
}

type ForecastHealth struct {
	OK          bool      `json:"ok"`
	UpdatedAt   time.Time `json:"updated_at,omitzero"`
	NextRefresh time.Time `json:"next_refresh,omitzero"`
}

type StreamHealth struct {
	State      string `json:"state"`
	AgeSeconds int    `json:"age_seconds"`
	Stale      bool   `json:"stale"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	fc := s.forecast.Current()
	st := s.stream.Status()
	now := s.now()

	health := HealthStatus{
		Status: "ok",
		Forecast: ForecastHealth{
			OK:          fc.FetchOK,
			UpdatedAt:   fc.UpdatedAt,
			NextRefresh: fc.NextRefresh,
		},
		Stream: StreamHealth{State: st.State, AgeSeconds: -1},
	}

	if st.LastFrameAt.IsZero() {
		health.Stream.Stale = true
	} else {
		age := now.Sub(st.LastFrameAt)
		health.Stream.AgeSeconds = int(age.Seconds())
		health.Stream.Stale = age > StaleThreshold
	}

	if !fc.FetchOK || health.Stream.Stale || st.State != stream.Open.String() {
		health.Status = "degraded"
	}

	w.Header().Set("Content-Type", "application/json")
	if health.Status != "ok" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	s.writeJSON(w, "health", health)
}

func (s *Server) handleForecast(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	s.writeJSON(w, "forecast", s.forecast.Current())
}

func (s *Server) handleObservations(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	s.writeJSON(w, "observations", s.observations.Latest())
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	s.writeJSON(w, "stream", s.stream.Status())
}

type AuditData struct {
	Ingest   []store.IngestHealthSummary `json:"ingest"`
	Sessions []store.StreamSession       `json:"sessions"`
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	ingest, err := s.audit.GetIngestHealth(r.Context(), 7)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	sessions, err := s.audit.RecentSessions(r.Context(), 20)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	s.writeJSON(w, "audit", AuditData{Ingest: ingest, Sessions: sessions})
}

func (s *Server) writeJSON(w http.ResponseWriter, route string, v any) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("write response", "route", route, "error", err)
	}
}
