package stream

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/lox/wfconsole/internal/metrics"
)

// Route names a handler class. Each route has its own worker so a slow
// handler only delays frames of its own class.
type Route string

const (
	RouteWind       Route = "wind"
	RouteRapidWind  Route = "rapid_wind"
	RouteOutdoorAir Route = "outdoor_air"
	RouteIndoorAir  Route = "indoor_air"
	RouteLightning  Route = "lightning"
)

var routes = []Route{RouteWind, RouteRapidWind, RouteOutdoorAir, RouteIndoorAir, RouteLightning}

// DefaultQueueSize bounds the backlog per route.
const DefaultQueueSize = 32

// Handler consumes classified frames.
type Handler interface {
	HandleWind(ctx context.Context, m WindObservation)
	HandleRapidWind(ctx context.Context, m RapidWind)
	HandleOutdoorAir(ctx context.Context, m AirObservation)
	HandleIndoorAir(ctx context.Context, m AirObservation)
	HandleLightning(ctx context.Context, m LightningEvent)
}

// Receiver accepts decoded frames from the client's read loop. Dispatch must
// not block.
type Receiver interface {
	Dispatch(m Message)
}

type job func(ctx context.Context)

// Dispatcher fans frames out to one worker per route. Frames are queued in
// arrival order; a full queue drops the frame.
type Dispatcher struct {
	handler Handler
	logger  *slog.Logger
	queues  map[Route]chan job

	outdoorID, indoorID int64
	hasOutdoor          bool
	hasIndoor           bool
}

func NewDispatcher(d Devices, h Handler, logger *slog.Logger, queueSize int) *Dispatcher {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	dp := &Dispatcher{
		handler: h,
		logger:  logger,
		queues:  make(map[Route]chan job, len(routes)),
	}
	for _, r := range routes {
		dp.queues[r] = make(chan job, queueSize)
	}
	dp.outdoorID, dp.hasOutdoor = deviceID(d.OutAirID)
	dp.indoorID, dp.hasIndoor = deviceID(d.InAirID)
	return dp
}

// Run starts the route workers and blocks until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for r, q := range d.queues {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case fn := <-q:
					d.run(ctx, r, fn)
				}
			}
		})
	}
	return g.Wait()
}

func (d *Dispatcher) run(ctx context.Context, r Route, fn job) {
	defer func() {
		if p := recover(); p != nil {
			d.logger.Error("handler panic", "route", string(r), "panic", p)
		}
	}()
	fn(ctx)
}

func (d *Dispatcher) enqueue(r Route, fn job) bool {
	select {
	case d.queues[r] <- fn:
		return true
	default:
		metrics.StreamDroppedTotal.WithLabelValues(string(r)).Inc()
		d.logger.Warn("handler queue full, frame dropped", "route", string(r))
		return false
	}
}

// Dispatch routes m to its handler class. TEMPEST observations feed both
// the wind and the outdoor air handlers. AIR frames are routed by device ID
// and dropped when they match neither configured sensor.
func (d *Dispatcher) Dispatch(m Message) {
	h := d.handler
	switch m := m.(type) {
	case WindObservation:
		d.enqueue(RouteWind, func(ctx context.Context) { h.HandleWind(ctx, m) })
		if m.Air != nil {
			air := AirObservation{DeviceID: m.DeviceID, Time: m.Time, AirReading: *m.Air}
			d.enqueue(RouteOutdoorAir, func(ctx context.Context) { h.HandleOutdoorAir(ctx, air) })
		}
	case RapidWind:
		d.enqueue(RouteRapidWind, func(ctx context.Context) { h.HandleRapidWind(ctx, m) })
	case AirObservation:
		matched := false
		if d.hasIndoor && m.DeviceID == d.indoorID {
			matched = true
			d.enqueue(RouteIndoorAir, func(ctx context.Context) { h.HandleIndoorAir(ctx, m) })
		}
		if d.hasOutdoor && m.DeviceID == d.outdoorID {
			matched = true
			d.enqueue(RouteOutdoorAir, func(ctx context.Context) { h.HandleOutdoorAir(ctx, m) })
		}
		if !matched {
			metrics.StreamDroppedTotal.WithLabelValues("unmatched_air").Inc()
			d.logger.Debug("air observation from unknown device", "device_id", m.DeviceID)
		}
	case LightningEvent:
		d.enqueue(RouteLightning, func(ctx context.Context) { h.HandleLightning(ctx, m) })
	case ConnectionOpened:
		d.logger.Debug("connection opened")
	case Unknown:
		d.logger.Debug("ignoring frame", "type", m.Tag)
	}
}
