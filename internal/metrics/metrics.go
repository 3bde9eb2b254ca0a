package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	APICallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wfconsole_api_calls_total",
			Help: "Total WeatherFlow REST API calls",
		},
		[]string{"endpoint", "status"},
	)

	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "wfconsole_api_latency_seconds",
			Help:    "WeatherFlow REST API call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	ForecastRefreshTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wfconsole_forecast_refresh_total",
			Help: "Forecast refresh attempts by result",
		},
		[]string{"result"},
	)

	ForecastNextRefreshSeconds = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "wfconsole_forecast_next_refresh_seconds",
			Help: "Delay until the next scheduled forecast refresh",
		},
	)

	StreamFramesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wfconsole_stream_frames_total",
			Help: "Websocket frames received by message type",
		},
		[]string{"type"},
	)

	StreamDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wfconsole_stream_dropped_total",
			Help: "Frames dropped because a handler queue was full",
		},
		[]string{"route"},
	)

	StreamReconnectsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "wfconsole_stream_reconnects_total",
			Help: "Websocket reconnect attempts",
		},
	)

	StreamState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "wfconsole_stream_state",
			Help: "Current websocket connection state",
		},
	)

	ObservationQualityFlags = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wfconsole_observation_quality_flags_total",
			Help: "Observation readings flagged as implausible",
		},
		[]string{"kind", "flag"},
	)

	PublishTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wfconsole_publish_total",
			Help: "MQTT publishes by topic kind and result",
		},
		[]string{"kind", "result"},
	)
)
