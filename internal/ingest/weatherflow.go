package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sony/gobreaker"

	"github.com/lox/wfconsole/internal/httputil"
	"github.com/lox/wfconsole/internal/metrics"
)

const DefaultBaseURL = "https://swd.weatherflow.com/swd/rest"

var (
	// ErrStationNotFound means the REST API does not know the station ID.
	ErrStationNotFound = errors.New("station not found")
	// ErrUnavailable covers transport failures, non-success statuses and
	// payloads that do not match the expected shape.
	ErrUnavailable = errors.New("weatherflow api unavailable")
)

// FetchResult describes one REST call for auditing.
type FetchResult struct {
	Endpoint     string
	StationID    string
	StartedAt    time.Time
	Duration     time.Duration
	HTTPStatus   int
	ResponseSize int
	Error        error
}

// Auditor records the outcome of REST calls.
type Auditor interface {
	RecordFetch(ctx context.Context, r FetchResult)
}

// WeatherFlow is a client for the WeatherFlow REST API.
type WeatherFlow struct {
	baseURL  string
	apiKey   string
	client   *http.Client
	breaker  *gobreaker.CircuitBreaker
	validate *validator.Validate
	audit    Auditor
	logger   *slog.Logger
}

type Option func(*WeatherFlow)

func WithBaseURL(u string) Option {
	return func(w *WeatherFlow) { w.baseURL = strings.TrimRight(u, "/") }
}

func WithHTTPClient(c *http.Client) Option {
	return func(w *WeatherFlow) { w.client = c }
}

func WithAuditor(a Auditor) Option {
	return func(w *WeatherFlow) { w.audit = a }
}

func WithLogger(l *slog.Logger) Option {
	return func(w *WeatherFlow) { w.logger = l }
}

func NewWeatherFlow(apiKey string, opts ...Option) *WeatherFlow {
	w := &WeatherFlow{
		baseURL:  DefaultBaseURL,
		apiKey:   apiKey,
		client:   httputil.NewClient(httputil.DefaultTimeout),
		validate: validator.New(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "weatherflow-forecast",
		MaxRequests: 1,
		Timeout:     10 * time.Minute,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			w.logger.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return w
}

// Status is the envelope every WeatherFlow REST response carries.
type Status struct {
	StatusCode    int    `json:"status_code"`
	StatusMessage string `json:"status_message"`
}

func (s *Status) success() bool {
	return s != nil && strings.Contains(s.StatusMessage, "SUCCESS")
}

type StationResponse struct {
	Status   *Status   `json:"status"`
	Stations []Station `json:"stations"`
}

type Station struct {
	StationID   int      `json:"station_id"`
	Name        string   `json:"name" validate:"required"`
	Latitude    float64  `json:"latitude" validate:"latitude"`
	Longitude   float64  `json:"longitude" validate:"longitude"`
	Timezone    string   `json:"timezone" validate:"required"`
	Elevation   *float64 `json:"elevation,omitempty"`
	StationMeta struct {
		Elevation float64 `json:"elevation"`
	} `json:"station_meta"`
	Devices []Device `json:"devices" validate:"dive"`
}

// StationElevation prefers station_meta.elevation, which is what the
// WeatherFlow apps report.
func (s Station) StationElevation() float64 {
	if s.StationMeta.Elevation != 0 || s.Elevation == nil {
		return s.StationMeta.Elevation
	}
	return *s.Elevation
}

// Device type codes.
const (
	DeviceTempest = "ST"
	DeviceSky     = "SK"
	DeviceAir     = "AR"
	DeviceHub     = "HB"
)

type Device struct {
	DeviceID   int    `json:"device_id" validate:"required"`
	DeviceType string `json:"device_type"`
	DeviceMeta struct {
		AGL float64 `json:"agl"`
	} `json:"device_meta"`
}

// FindDevice returns the device with the given ID and type.
func (s Station) FindDevice(id string, deviceType string) (Device, bool) {
	for _, d := range s.Devices {
		if d.DeviceType == "" {
			continue
		}
		if strconv.Itoa(d.DeviceID) == id && d.DeviceType == deviceType {
			return d, true
		}
	}
	return Device{}, false
}

type ObservationResponse struct {
	Status       *Status           `json:"status"`
	StationUnits map[string]string `json:"station_units"`
}

// Unit returns station_units.units_<key>.
func (o *ObservationResponse) Unit(key string) (string, bool) {
	v, ok := o.StationUnits["units_"+strings.ToLower(key)]
	return v, ok
}

// Station fetches the station metadata record.
func (w *WeatherFlow) Station(ctx context.Context, stationID string) (*StationResponse, error) {
	body, _, err := w.get(ctx, "stations", stationID, "/stations/"+url.PathEscape(stationID), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	var resp StationResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: decode station: %v", ErrUnavailable, err)
	}
	if resp.Status == nil {
		return nil, fmt.Errorf("%w: station response has no status", ErrUnavailable)
	}
	if strings.Contains(resp.Status.StatusMessage, "NOT FOUND") {
		return nil, fmt.Errorf("%w: %s", ErrStationNotFound, stationID)
	}
	if !resp.Status.success() {
		return nil, fmt.Errorf("%w: station status %q", ErrUnavailable, resp.Status.StatusMessage)
	}
	if len(resp.Stations) == 0 {
		return nil, fmt.Errorf("%w: station response has no stations", ErrUnavailable)
	}
	if err := w.validate.Struct(resp.Stations[0]); err != nil {
		return nil, fmt.Errorf("%w: station metadata: %v", ErrUnavailable, err)
	}
	return &resp, nil
}

// ObservationUnits fetches the latest observation record, which carries the
// station's configured display units.
func (w *WeatherFlow) ObservationUnits(ctx context.Context, stationID string) (*ObservationResponse, error) {
	body, _, err := w.get(ctx, "observations", stationID, "/observations/station/"+url.PathEscape(stationID), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	var resp ObservationResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: decode observation: %v", ErrUnavailable, err)
	}
	if !resp.Status.success() {
		msg := "missing"
		if resp.Status != nil {
			msg = resp.Status.StatusMessage
		}
		return nil, fmt.Errorf("%w: observation status %q", ErrUnavailable, msg)
	}
	if len(resp.StationUnits) == 0 {
		return nil, fmt.Errorf("%w: observation response has no station_units", ErrUnavailable)
	}
	return &resp, nil
}

// BetterForecast fetches the raw forecast document for a station. Network
// failures and non-200 responses are both reported as ErrUnavailable.
func (w *WeatherFlow) BetterForecast(ctx context.Context, stationID, lat, lon string) ([]byte, error) {
	q := url.Values{}
	q.Set("station_id", stationID)
	q.Set("lat", lat)
	q.Set("lon", lon)

	out, err := w.breaker.Execute(func() (interface{}, error) {
		body, status, err := w.get(ctx, "better_forecast", stationID, "/better_forecast", q)
		if err != nil {
			return nil, err
		}
		if status != http.StatusOK {
			return nil, fmt.Errorf("status %d", status)
		}
		return body, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: forecast: %v", ErrUnavailable, err)
	}
	return out.([]byte), nil
}

func (w *WeatherFlow) get(ctx context.Context, endpoint, stationID, path string, q url.Values) ([]byte, int, error) {
	if q == nil {
		q = url.Values{}
	}
	q.Set("api_key", w.apiKey)
	u := w.baseURL + path + "?" + q.Encode()

	result := FetchResult{Endpoint: endpoint, StationID: stationID, StartedAt: time.Now()}
	defer func() {
		result.Duration = time.Since(result.StartedAt)
		status := "error"
		if result.HTTPStatus > 0 {
			status = strconv.Itoa(result.HTTPStatus)
		}
		metrics.APICallsTotal.WithLabelValues(endpoint, status).Inc()
		metrics.APILatency.WithLabelValues(endpoint).Observe(result.Duration.Seconds())
		if result.Error != nil {
			w.logger.Warn("weatherflow request failed", "endpoint", endpoint, "station", stationID, "error", result.Error)
		}
		if w.audit != nil {
			w.audit.RecordFetch(ctx, result)
		}
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		result.Error = err
		return nil, 0, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		result.Error = fmt.Errorf("fetch %s: %w", endpoint, redact(err, w.apiKey))
		return nil, 0, result.Error
	}
	defer resp.Body.Close()
	result.HTTPStatus = resp.StatusCode

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		result.Error = fmt.Errorf("read body: %w", err)
		return nil, resp.StatusCode, result.Error
	}
	result.ResponseSize = len(body)
	if resp.StatusCode != http.StatusOK {
		result.Error = fmt.Errorf("%s: status %d", endpoint, resp.StatusCode)
	}
	return body, resp.StatusCode, nil
}

// redact strips the API key from URL errors so it never reaches logs.
func redact(err error, key string) error {
	if key == "" {
		return err
	}
	msg := strings.ReplaceAll(err.Error(), key, "REDACTED")
	if msg == err.Error() {
		return err
	}
	return errors.New(msg)
}
