package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	kongdotenv "github.com/titusjaka/kong-dotenv-go"

	"github.com/lox/wfconsole/internal/app"
	"github.com/lox/wfconsole/internal/ingest"
	"github.com/lox/wfconsole/internal/logging"
	"github.com/lox/wfconsole/internal/provision"
	"github.com/lox/wfconsole/internal/publish"
	"github.com/lox/wfconsole/internal/station"
	"github.com/lox/wfconsole/internal/stream"
)

var version = "dev"

type Globals struct {
	EnvFile kongdotenv.ENVFileConfig `kong:"optional,name=env-file,default='.env',help='Path to .env file.'"`

	Config         string `name:"config" default:"${station_path}" env:"WFCONSOLE_CONFIG" type:"path" help:"Station config file."`
	LogLevel       string `name:"log-level" default:"info" env:"LOG_LEVEL" enum:"debug,info,warn,error" help:"Log level."`
	AppEnv         string `name:"app-env" default:"prod" env:"APP_ENV" help:"dev for coloured logs, anything else for JSON."`
	WeatherFlowKey string `name:"weatherflow-key" env:"WEATHERFLOW_API_KEY" help:"WeatherFlow API key written to new station files."`
	RESTURL        string `name:"rest-url" default:"${rest_url}" env:"WEATHERFLOW_REST_URL" help:"WeatherFlow REST base URL."`
	StreamURL      string `name:"stream-url" default:"${stream_url}" env:"WEATHERFLOW_STREAM_URL" help:"WeatherFlow websocket URL."`
	Hardware       string `name:"hardware" env:"WFCONSOLE_HARDWARE" help:"Hardware label for new station files (detected when empty)."`
}

func (g *Globals) appConfig() app.Config {
	return app.Config{
		StationPath:    g.Config,
		WeatherFlowKey: g.WeatherFlowKey,
		RESTURL:        g.RESTURL,
		StreamURL:      g.StreamURL,
		Hardware:       g.Hardware,
		In:             os.Stdin,
		Out:            os.Stdout,
	}
}

type runtime struct {
	ctx    context.Context
	logger *slog.Logger
}

type ProvisionCmd struct{}

func (c *ProvisionCmd) Run(g *Globals, rt *runtime) error {
	cfg, err := app.Provision(rt.ctx, g.appConfig(), rt.logger)
	if err != nil {
		return err
	}
	rt.logger.Info("station config ready", "path", g.Config, "version", cfg.Value("System", "Version"))
	return nil
}

type RunCmd struct {
	DB              string `name:"db" env:"WFCONSOLE_DB" help:"Audit log sqlite path (empty disables)."`
	Addr            string `name:"addr" default:":8080" env:"HTTP_ADDR" help:"HTTP listen address."`
	Panels          int    `name:"panels" default:"6" env:"WFCONSOLE_PANELS" help:"Number of daily forecast panels."`
	MQTTBroker      string `name:"mqtt-broker" env:"MQTT_BROKER" help:"MQTT broker URL, e.g. tcp://localhost:1883 (empty disables)."`
	MQTTClientID    string `name:"mqtt-client-id" default:"wfconsole" env:"MQTT_CLIENT_ID" help:"MQTT client ID."`
	MQTTTopicPrefix string `name:"mqtt-topic-prefix" default:"${mqtt_prefix}" env:"MQTT_TOPIC_PREFIX" help:"MQTT topic prefix."`
	MQTTUsername    string `name:"mqtt-username" env:"MQTT_USERNAME" help:"MQTT username."`
	MQTTPassword    string `name:"mqtt-password" env:"MQTT_PASSWORD" help:"MQTT password."`
}

func (c *RunCmd) Run(g *Globals, rt *runtime) error {
	cfg := g.appConfig()
	cfg.DBPath = c.DB
	cfg.HTTPAddr = c.Addr
	cfg.Panels = c.Panels
	cfg.MQTT = publish.Config{
		Broker:      c.MQTTBroker,
		ClientID:    c.MQTTClientID,
		TopicPrefix: c.MQTTTopicPrefix,
		Username:    c.MQTTUsername,
		Password:    c.MQTTPassword,
	}

	err := app.Run(rt.ctx, cfg, rt.logger)
	if errors.Is(err, context.Canceled) {
		rt.logger.Info("shutdown complete")
		return nil
	}
	return err
}

type CLI struct {
	Globals

	Provision ProvisionCmd `cmd:"" help:"Create or upgrade the station config file."`
	Run       RunCmd       `cmd:"" default:"1" help:"Provision if required, then run the console services."`
}

func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("wfconsole"),
		kong.Description("WeatherFlow console: station provisioning, forecast sync and live observations."),
		kong.UsageOnError(),
		kong.Vars{
			"station_path": station.DefaultPath,
			"rest_url":     ingest.DefaultBaseURL,
			"stream_url":   stream.DefaultURL,
			"mqtt_prefix":  publish.DefaultTopicPrefix,
		},
	)

	logger := logging.New(cli.AppEnv, cli.LogLevel, version)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := kctx.Run(&cli.Globals, &runtime{ctx: ctx, logger: logger})
	if err == nil {
		return
	}
	if errors.Is(err, provision.ErrRetriesExhausted) {
		// Provisioning leaves no partial station file behind.
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
	logger.Error("wfconsole failed", "error", err)
	stop()
	os.Exit(1)
}
