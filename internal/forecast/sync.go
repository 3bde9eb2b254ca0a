package forecast

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tidwall/gjson"

	"github.com/lox/wfconsole/internal/metrics"
	"github.com/lox/wfconsole/internal/station"
)

// RetryDelay is the base delay before retrying a failed refresh.
const RetryDelay = 5 * time.Minute

// Fetcher retrieves the raw better_forecast document.
type Fetcher interface {
	BetterForecast(ctx context.Context, stationID, lat, lon string) ([]byte, error)
}

// Publisher receives every new forecast state.
type Publisher interface {
	Publish(ctx context.Context, topic string, v any) error
}

// State is everything the synchronizer exposes to readers. It is replaced
// wholesale on each refresh.
type State struct {
	Snapshot    Snapshot  `json:"snapshot"`
	Daily       []Day     `json:"daily"`
	FetchOK     bool      `json:"fetch_ok"`
	UpdatedAt   time.Time `json:"updated_at"`
	NextRefresh time.Time `json:"next_refresh"`
}

type Synchronizer struct {
	fetcher   Fetcher
	publisher Publisher
	logger    *slog.Logger
	now       func() time.Time

	stationID string
	lat, lon  string
	settings  Settings

	mu  sync.Mutex // serialises refreshes and guards doc
	doc gjson.Result

	state atomic.Pointer[State]
}

type Option func(*Synchronizer)

func WithPublisher(p Publisher) Option {
	return func(s *Synchronizer) { s.publisher = p }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Synchronizer) { s.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(s *Synchronizer) { s.now = now }
}

// NewSynchronizer builds a synchronizer for the station in cfg.
func NewSynchronizer(f Fetcher, cfg *station.Config, panels int, opts ...Option) *Synchronizer {
	s := &Synchronizer{
		fetcher:   f,
		logger:    slog.Default(),
		now:       time.Now,
		stationID: cfg.Value("Station", "StationID"),
		lat:       cfg.Value("Station", "Latitude"),
		lon:       cfg.Value("Station", "Longitude"),
		settings:  SettingsFromConfig(cfg, panels),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.state.Store(&State{
		Snapshot: UnavailableSnapshot(s.now()),
		Daily:    ExtractDaily(gjson.Result{}, s.settings),
	})
	return s
}

// Current returns the latest state. It never blocks on a refresh.
func (s *Synchronizer) Current() State {
	return *s.state.Load()
}

// Refresh fetches the forecast and rebuilds the state, including when the
// next refresh is due. ok is false when the fetch or the extraction failed.
// A failed fetch re-extracts from the last good document if there is one.
func (s *Synchronizer) Refresh(ctx context.Context) (State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	fetched := false
	body, err := s.fetcher.BetterForecast(ctx, s.stationID, s.lat, s.lon)
	switch {
	case err != nil:
		s.logger.Warn("forecast fetch failed", "error", err)
	case !ValidPayload(body):
		s.logger.Warn("forecast payload invalid", "bytes", len(body))
	default:
		s.doc = gjson.ParseBytes(body)
		fetched = true
	}

	snap, err := Extract(s.doc, now, s.settings)
	if err != nil {
		s.logger.Warn("forecast extraction failed", "error", err)
		snap = UnavailableSnapshot(now)
	}
	ok := fetched && err == nil
	daily := ExtractDaily(s.doc, s.settings)

	finished := s.now()
	delay := NextDelay(finished, s.settings.loc(), ok, finished.Sub(now), RetryDelay)
	state := &State{
		Snapshot:    snap,
		Daily:       daily,
		FetchOK:     fetched,
		UpdatedAt:   now,
		NextRefresh: finished.Add(delay),
	}
	s.state.Store(state)
	metrics.ForecastNextRefreshSeconds.Set(delay.Seconds())

	result := "success"
	if !ok {
		result = "failure"
	}
	metrics.ForecastRefreshTotal.WithLabelValues(result).Inc()
	return *state, ok
}

// Run refreshes immediately and then reschedules itself until ctx is done.
func (s *Synchronizer) Run(ctx context.Context) error {
	for {
		state, ok := s.Refresh(ctx)
		delay := max(state.NextRefresh.Sub(s.now()), 0)
		s.logger.Info("forecast refreshed", "ok", ok, "conditions", state.Snapshot.Conditions, "next", state.NextRefresh)

		if s.publisher != nil {
			if err := s.publisher.Publish(ctx, "forecast", state); err != nil {
				s.logger.Warn("publish forecast", "error", err)
			}
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

// NextDelay is the wait before the next refresh. Success waits for the top
// of the next clock hour in loc, rounded up to a whole second. Failure waits
// retry plus the time the failed attempt took.
func NextDelay(now time.Time, loc *time.Location, ok bool, elapsed, retry time.Duration) time.Duration {
	if !ok {
		return retry + elapsed
	}
	t := now.In(loc)
	next := time.Date(t.Year(), t.Month(), t.Day(), t.Hour()+1, 0, 0, 0, loc)
	secs := math.Ceil(next.Sub(t).Seconds())
	return time.Duration(secs) * time.Second
}
