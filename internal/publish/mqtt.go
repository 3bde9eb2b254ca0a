// Package publish forwards forecast and observation updates to an MQTT
// broker as retained JSON messages.
package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/lox/wfconsole/internal/metrics"
)

const (
	DefaultTopicPrefix = "wfconsole"
	publishTimeout     = 5 * time.Second
	qos                = 1
)

var (
	ErrNotConnected = errors.New("mqtt client not connected")
	ErrStopped      = errors.New("mqtt client stopped")
)

type Config struct {
	Broker      string // tcp://host:1883
	ClientID    string
	TopicPrefix string
	Username    string
	Password    string
}

type Client struct {
	client mqtt.Client
	prefix string
	logger *slog.Logger

	mu        sync.RWMutex
	connected bool

	stopCh   chan struct{}
	stopOnce sync.Once
}

func New(cfg Config, logger *slog.Logger) *Client {
	c := &Client{
		prefix: strings.Trim(cfg.TopicPrefix, "/"),
		logger: logger,
		stopCh: make(chan struct{}),
	}
	if c.prefix == "" {
		c.prefix = DefaultTopicPrefix
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)
	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	opts.SetOnConnectHandler(func(_ mqtt.Client) {
		c.setConnected(true)
		logger.Info("mqtt connected", "broker", cfg.Broker)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		c.setConnected(false)
		logger.Warn("mqtt connection lost", "error", err)
	})

	c.client = mqtt.NewClient(opts)
	return c
}

// Connect waits for the initial broker connection. paho keeps retrying in
// the background, so this only returns early on ctx or Disconnect.
func (c *Client) Connect(ctx context.Context) error {
	select {
	case <-c.stopCh:
		return ErrStopped
	default:
	}
	if c.IsConnected() {
		return nil
	}

	token := c.client.Connect()
	const poll = 200 * time.Millisecond
	for {
		if token.WaitTimeout(poll) {
			if err := token.Error(); err != nil {
				return fmt.Errorf("mqtt connect: %w", err)
			}
			c.setConnected(true)
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.stopCh:
			return ErrStopped
		default:
		}
	}
}

// Topic returns the full topic for a relative name.
func (c *Client) Topic(name string) string {
	return c.prefix + "/" + strings.TrimLeft(name, "/")
}

// Publish marshals v and publishes it retained under the client's prefix.
func (c *Client) Publish(ctx context.Context, topic string, v any) (err error) {
	kind := path.Base(topic)
	defer func() {
		result := "ok"
		if err != nil {
			result = "error"
		}
		metrics.PublishTotal.WithLabelValues(kind, result).Inc()
	}()

	if !c.IsConnected() {
		return ErrNotConnected
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", topic, err)
	}

	full := c.Topic(topic)
	token := c.client.Publish(full, qos, true, data)
	select {
	case <-token.Done():
	case <-time.After(publishTimeout):
		return fmt.Errorf("publish timeout for topic %s", full)
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", full, err)
	}
	c.logger.Debug("published", "topic", full, "bytes", len(data))
	return nil
}

func (c *Client) IsConnected() bool {
	c.mu.RLock()
	connected := c.connected
	c.mu.RUnlock()
	return connected && c.client.IsConnected()
}

// Disconnect is idempotent. Connect fails with ErrStopped afterwards.
func (c *Client) Disconnect() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	if c.client != nil {
		c.client.Disconnect(250)
	}
	c.setConnected(false)
	c.logger.Info("mqtt disconnected")
}

func (c *Client) setConnected(v bool) {
	c.mu.Lock()
	c.connected = v
	c.mu.Unlock()
}
