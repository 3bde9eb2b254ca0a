// Package app wires the console's components together and supervises them.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lox/wfconsole/internal/api"
	"github.com/lox/wfconsole/internal/forecast"
	"github.com/lox/wfconsole/internal/httputil"
	"github.com/lox/wfconsole/internal/ingest"
	"github.com/lox/wfconsole/internal/logging"
	"github.com/lox/wfconsole/internal/observe"
	"github.com/lox/wfconsole/internal/provision"
	"github.com/lox/wfconsole/internal/publish"
	"github.com/lox/wfconsole/internal/scheduler"
	"github.com/lox/wfconsole/internal/station"
	"github.com/lox/wfconsole/internal/store"
	"github.com/lox/wfconsole/internal/stream"
)

type Config struct {
	StationPath    string
	DBPath         string
	HTTPAddr       string
	WeatherFlowKey string
	RESTURL        string
	StreamURL      string
	Hardware       string
	Panels         int
	MQTT           publish.Config

	// Prompts are read from In and written to Out.
	In  io.Reader
	Out io.Writer
}

// schema builds the default schema. Without a key from the environment the
// key already stored in the station file is used.
func (c Config) schema() station.Schema {
	key := c.WeatherFlowKey
	if key == "" {
		if existing, err := station.Load(c.StationPath); err == nil {
			key = existing.Value("Keys", "WeatherFlow")
		}
	}
	return station.DefaultSchema(station.SchemaOptions{
		WeatherFlowKey: key,
		Hardware:       c.Hardware,
	})
}

// Provision creates or upgrades the station file and returns its contents.
func Provision(ctx context.Context, cfg Config, logger *slog.Logger) (*station.Config, error) {
	return provisionWith(ctx, cfg, nil, logger)
}

func provisionWith(ctx context.Context, cfg Config, audit ingest.Auditor, logger *slog.Logger) (*station.Config, error) {
	wf := newWeatherFlow(cfg, cfg.WeatherFlowKey, audit, logger)
	svc := provision.NewService(wf, provision.NewPrompter(cfg.In, cfg.Out), logging.Component(logger, "provision"))
	res, err := svc.ProvisionFile(ctx, cfg.StationPath, cfg.schema())
	if err != nil {
		return nil, err
	}
	return res.Config, nil
}

func newWeatherFlow(cfg Config, key string, audit ingest.Auditor, logger *slog.Logger, opts ...ingest.Option) *ingest.WeatherFlow {
	opts = append(opts, ingest.WithLogger(logging.Component(logger, "ingest")))
	if cfg.RESTURL != "" {
		opts = append(opts, ingest.WithBaseURL(cfg.RESTURL))
	}
	if audit != nil {
		opts = append(opts, ingest.WithAuditor(audit))
	}
	return ingest.NewWeatherFlow(key, opts...)
}

// Run provisions the station if required and then runs every component
// until ctx is cancelled or one of them fails.
func Run(ctx context.Context, cfg Config, logger *slog.Logger) error {
	logger.Info("config loaded",
		"station", cfg.StationPath,
		"db", cfg.DBPath,
		"httpAddr", cfg.HTTPAddr,
		"mqttBroker", cfg.MQTT.Broker,
		"panels", cfg.Panels,
	)

	var audit *store.Store
	if cfg.DBPath != "" {
		st, err := store.Open(cfg.DBPath, logging.Component(logger, "store"))
		if err != nil {
			return err
		}
		defer func() {
			if err := st.Close(); err != nil {
				logger.Error("db close", "error", err)
			}
		}()
		audit = st
	}

	var fetchAudit ingest.Auditor
	if audit != nil {
		fetchAudit = audit
	}
	stationCfg, err := provisionWith(ctx, cfg, fetchAudit, logger)
	if err != nil {
		return err
	}

	key := stationCfg.Value("Keys", "WeatherFlow")
	if key == "" {
		key = cfg.WeatherFlowKey
	}
	if key == "" {
		return fmt.Errorf("no WeatherFlow API key in %s or environment", cfg.StationPath)
	}
	timeout := httputil.TimeoutFromSeconds(stationCfg.Value("System", "Timeout"))
	wf := newWeatherFlow(cfg, key, fetchAudit, logger, ingest.WithHTTPClient(httputil.NewClient(timeout)))

	var pub *publish.Client
	if cfg.MQTT.Broker != "" {
		pub = publish.New(cfg.MQTT, logging.Component(logger, "publish"))
		connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := pub.Connect(connectCtx)
		cancel()
		if err != nil {
			// paho keeps retrying in the background.
			logger.Warn("mqtt connection failed (continuing)", "error", err)
		}
		defer pub.Disconnect()
	}

	syncOpts := []forecast.Option{forecast.WithLogger(logging.Component(logger, "forecast"))}
	procOpts := []observe.Option{observe.WithLogger(logging.Component(logger, "observe"))}
	if pub != nil {
		syncOpts = append(syncOpts, forecast.WithPublisher(pub))
		procOpts = append(procOpts, observe.WithPublisher(pub))
	}
	fc := forecast.NewSynchronizer(wf, stationCfg, cfg.Panels, syncOpts...)
	proc := observe.NewProcessor(observe.SettingsFromConfig(stationCfg), procOpts...)

	devices := stream.DevicesFromConfig(stationCfg)
	streamLogger := logging.Component(logger, "stream")
	dispatcher := stream.NewDispatcher(devices, proc, streamLogger, stream.DefaultQueueSize)
	clientOpts := []stream.Option{stream.WithLogger(streamLogger)}
	if cfg.StreamURL != "" {
		clientOpts = append(clientOpts, stream.WithURL(cfg.StreamURL))
	}
	if audit != nil {
		clientOpts = append(clientOpts, stream.WithSessionAuditor(audit))
	}
	client := stream.NewClient(key, devices, dispatcher, clientOpts...)

	var cleaner scheduler.Cleaner
	if audit != nil {
		cleaner = audit
	}
	sched := scheduler.New(stationCfg.Location(), proc, cleaner, store.RetentionDays, logging.Component(logger, "scheduler"))

	apiOpts := []api.Option{api.WithLogger(logging.Component(logger, "api"))}
	if audit != nil {
		apiOpts = append(apiOpts, api.WithAudit(audit))
	}
	server := api.NewServer(cfg.HTTPAddr, fc, proc, client, apiOpts...)

	logger.Info("starting",
		"station_id", stationCfg.Value("Station", "StationID"),
		"timezone", stationCfg.Location().String(),
		"tempest", devices.TempestID,
		"sky", devices.SkyID,
		"outdoor_air", devices.OutAirID,
		"indoor_air", devices.InAirID,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return fc.Run(gctx) })
	g.Go(func() error { return dispatcher.Run(gctx) })
	g.Go(func() error { return client.Run(gctx) })
	g.Go(func() error { return sched.Run(gctx) })
	g.Go(func() error { return server.Run(gctx) })

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}
