// Package stream maintains the WeatherFlow websocket connection: it
// subscribes to the configured devices, decodes inbound frames and hands
// them to a Receiver, reconnecting with capped exponential backoff forever.
package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/lox/wfconsole/internal/metrics"
)

const (
	DefaultURL = "wss://ws.weatherflow.com/swd/data"

	// IdleTimeout aborts a connection that has been silent this long.
	IdleTimeout = 300 * time.Second

	MinBackoff = time.Second
	MaxBackoff = 60 * time.Second

	writeTimeout = 10 * time.Second
)

type State int32

const (
	Disconnected State = iota
	Connecting
	Open
	TimedOut
	Closed
	Failed
	Reconnecting
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case TimedOut:
		return "timed_out"
	case Closed:
		return "closed"
	case Failed:
		return "failed"
	case Reconnecting:
		return "reconnecting"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Session summarises one connection for auditing.
type Session struct {
	ID             string
	ConnectedAt    time.Time
	DisconnectedAt time.Time
	Frames         int
	EndState       State
	Error          error
}

// SessionAuditor records finished connections.
type SessionAuditor interface {
	RecordSession(ctx context.Context, s Session)
}

// Status is a point-in-time view of the client.
type Status struct {
	State       string    `json:"state"`
	SessionID   string    `json:"session_id,omitempty"`
	ConnectedAt time.Time `json:"connected_at,omitzero"`
	LastFrameAt time.Time `json:"last_frame_at,omitzero"`
	Frames      int64     `json:"frames"`
	Reconnects  int64     `json:"reconnects"`
}

// NewBackOff is the reconnect policy: 1s doubling to a 60s ceiling, no
// jitter, never giving up.
func NewBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = MinBackoff
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = MaxBackoff
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

type Client struct {
	url      string
	apiKey   string
	devices  Devices
	receiver Receiver
	dialer   *websocket.Dialer
	logger   *slog.Logger
	audit    SessionAuditor

	idleTimeout time.Duration
	newBackOff  func() backoff.BackOff

	state atomic.Int32

	mu          sync.Mutex // guards conn writes and the fields below
	conn        *websocket.Conn
	sessionID   string
	connectedAt time.Time
	lastFrameAt time.Time
	frames      int64
	reconnects  int64
}

type Option func(*Client)

func WithURL(u string) Option {
	return func(c *Client) { c.url = u }
}

func WithDialer(d *websocket.Dialer) Option {
	return func(c *Client) { c.dialer = d }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

func WithSessionAuditor(a SessionAuditor) Option {
	return func(c *Client) { c.audit = a }
}

func WithIdleTimeout(d time.Duration) Option {
	return func(c *Client) { c.idleTimeout = d }
}

func WithBackOff(f func() backoff.BackOff) Option {
	return func(c *Client) { c.newBackOff = f }
}

func NewClient(apiKey string, d Devices, r Receiver, opts ...Option) *Client {
	c := &Client{
		url:         DefaultURL,
		apiKey:      apiKey,
		devices:     d,
		receiver:    r,
		dialer:      &websocket.Dialer{HandshakeTimeout: 20 * time.Second, Proxy: websocket.DefaultDialer.Proxy},
		logger:      slog.Default(),
		idleTimeout: IdleTimeout,
		newBackOff:  NewBackOff,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) State() State {
	return State(c.state.Load())
}

func (c *Client) setState(s State) {
	prev := State(c.state.Swap(int32(s)))
	metrics.StreamState.Set(float64(s))
	if prev != s {
		c.logger.Debug("stream state", "from", prev.String(), "to", s.String())
	}
}

func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		State:       c.State().String(),
		SessionID:   c.sessionID,
		ConnectedAt: c.connectedAt,
		LastFrameAt: c.lastFrameAt,
		Frames:      c.frames,
		Reconnects:  c.reconnects,
	}
}

// Send writes v as a JSON frame. It is a no-op unless the connection is
// open.
func (c *Client) Send(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.State() != Open || c.conn == nil {
		return nil
	}
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return c.conn.WriteJSON(v)
}

func (c *Client) endpoint() (string, error) {
	u, err := url.Parse(c.url)
	if err != nil {
		return "", fmt.Errorf("parse stream url: %w", err)
	}
	q := u.Query()
	q.Set("api_key", c.apiKey)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Run connects and reconnects until ctx is cancelled. It only returns an
// error for a URL that cannot be parsed.
func (c *Client) Run(ctx context.Context) error {
	endpoint, err := c.endpoint()
	if err != nil {
		return err
	}
	b := c.newBackOff()

	for {
		c.setState(Connecting)
		err := c.session(ctx, endpoint, b)
		if ctx.Err() != nil {
			c.setState(Disconnected)
			return nil
		}

		c.setState(Reconnecting)
		delay := b.NextBackOff()
		if delay == backoff.Stop {
			delay = MaxBackoff
		}
		c.mu.Lock()
		c.reconnects++
		c.mu.Unlock()
		metrics.StreamReconnectsTotal.Inc()
		c.logger.Warn("stream disconnected, reconnecting", "error", err, "delay", delay)

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			c.setState(Disconnected)
			return nil
		case <-t.C:
		}
	}
}

// session runs one connection to completion.
func (c *Client) session(ctx context.Context, endpoint string, b backoff.BackOff) error {
	conn, resp, err := c.dialer.DialContext(ctx, endpoint, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		c.setState(Failed)
		return fmt.Errorf("dial: %w", redact(err, c.apiKey))
	}

	b.Reset()
	s := Session{ID: uuid.NewString(), ConnectedAt: time.Now()}
	logger := c.logger.With("session", s.ID)

	c.mu.Lock()
	c.conn = conn
	c.sessionID = s.ID
	c.connectedAt = s.ConnectedAt
	c.mu.Unlock()
	c.setState(Open)
	logger.Info("stream connected")

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for _, sub := range Subscriptions(c.devices) {
		if err := c.Send(sub); err != nil {
			logger.Warn("send subscription", "id", sub.ID, "error", err)
		}
	}

	end, err := c.readLoop(ctx, conn, &s, logger)
	conn.Close()

	c.mu.Lock()
	c.conn = nil
	c.mu.Unlock()
	c.setState(end)

	s.DisconnectedAt = time.Now()
	s.EndState = end
	s.Error = err
	if c.audit != nil {
		c.audit.RecordSession(context.WithoutCancel(ctx), s)
	}
	return err
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn, s *Session, logger *slog.Logger) (State, error) {
	for {
		if err := conn.SetReadDeadline(time.Now().Add(c.idleTimeout)); err != nil {
			return Failed, err
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			var ne net.Error
			switch {
			case ctx.Err() != nil:
				return Closed, nil
			case errors.As(err, &ne) && ne.Timeout():
				logger.Warn("stream idle, aborting connection", "timeout", c.idleTimeout)
				return TimedOut, fmt.Errorf("no frames for %s", c.idleTimeout)
			case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
				return Closed, err
			default:
				return Failed, err
			}
		}

		now := time.Now()
		s.Frames++
		c.mu.Lock()
		c.frames++
		c.lastFrameAt = now
		c.mu.Unlock()

		msg, err := Decode(data)
		if err != nil {
			logger.Warn("undecodable frame", "error", err, "bytes", len(data))
			continue
		}
		metrics.StreamFramesTotal.WithLabelValues(msg.Type()).Inc()
		c.receiver.Dispatch(msg)
	}
}

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
