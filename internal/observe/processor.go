// Package observe derives display values from decoded stream frames and
// keeps the running daily aggregates (max gust, mean wind, temperature
// extremes, strike count).
package observe

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/lox/wfconsole/internal/station"
	"github.com/lox/wfconsole/internal/stream"
	"github.com/lox/wfconsole/internal/units"
)

type Kind string

const (
	KindWind      Kind = "wind"
	KindRapidWind Kind = "rapid_wind"
	KindOutdoor   Kind = "outdoor"
	KindIndoor    Kind = "indoor"
	KindLightning Kind = "lightning"
)

// Publisher receives each derived observation.
type Publisher interface {
	Publish(ctx context.Context, topic string, v any) error
}

// Settings are the station config values the handlers depend on.
type Settings struct {
	TempUnit     string
	PressureUnit string
	WindUnit     string
	PrecipUnit   string
	DistanceUnit string
	TimeFormat   string
	Location     *time.Location

	Elevation     float64 // station elevation, m
	OutdoorHeight float64 // outdoor sensor height above ground, m

	FeelsLikeCutoffs []float64 // in TempUnit, ascending
}

func SettingsFromConfig(cfg *station.Config) Settings {
	s := Settings{
		TempUnit:     cfg.Value("Units", "Temp"),
		PressureUnit: cfg.Value("Units", "Pressure"),
		WindUnit:     cfg.Value("Units", "Wind"),
		PrecipUnit:   cfg.Value("Units", "Precip"),
		DistanceUnit: cfg.Value("Units", "Distance"),
		TimeFormat:   cfg.Value("Display", "TimeFormat"),
		Location:     cfg.Location(),
	}
	s.Elevation, _ = cfg.Float("Station", "Elevation")
	if h, ok := cfg.Float("Station", "OutAirHeight"); ok {
		s.OutdoorHeight = h
	} else if h, ok := cfg.Float("Station", "TempestHeight"); ok {
		s.OutdoorHeight = h
	}
	for _, k := range station.FeelsLikeKeys {
		if v, ok := cfg.Float("FeelsLike", k); ok {
			s.FeelsLikeCutoffs = append(s.FeelsLikeCutoffs, v)
		}
	}
	return s
}

func (s Settings) clock(t time.Time) string {
	if t.IsZero() {
		return units.Placeholder
	}
	loc := s.Location
	if loc == nil {
		loc = time.UTC
	}
	if s.TimeFormat == "12 hr" {
		return t.In(loc).Format("3:04 PM")
	}
	return t.In(loc).Format("15:04")
}

type Wind struct {
	Time         time.Time           `json:"time"`
	Speed        units.Formatted     `json:"speed"`
	Gust         units.Formatted     `json:"gust"`
	Lull         units.Formatted     `json:"lull"`
	Direction    units.Formatted     `json:"direction"`
	Cardinal     string              `json:"cardinal"`
	Beaufort     units.BeaufortLevel `json:"beaufort"`
	MaxGust      units.Formatted     `json:"max_gust"`
	MeanSpeed    units.Formatted     `json:"mean_speed"`
	RainRate     units.Formatted     `json:"rain_rate"`
	RainRateText string              `json:"rain_rate_text"`
	Flags        []string            `json:"flags,omitempty"`
}

type RapidWind struct {
	Time      time.Time       `json:"time"`
	Speed     units.Formatted `json:"speed"`
	Direction units.Formatted `json:"direction"`
	Cardinal  string          `json:"cardinal"`
}

type Air struct {
	Time             time.Time       `json:"time"`
	Temperature      units.Formatted `json:"temperature"`
	TempMax          units.Formatted `json:"temp_max"`
	TempMaxAt        string          `json:"temp_max_at"`
	TempMin          units.Formatted `json:"temp_min"`
	TempMinAt        string          `json:"temp_min_at"`
	Humidity         units.Formatted `json:"humidity"`
	DewPoint         units.Formatted `json:"dew_point"`
	FeelsLike        units.Formatted `json:"feels_like"`
	FeelsLikeText    string          `json:"feels_like_text"`
	FeelsLikeIcon    string          `json:"feels_like_icon"`
	Pressure         units.Formatted `json:"pressure"`
	SeaLevelPressure units.Formatted `json:"sea_level_pressure"`
	Flags            []string        `json:"flags,omitempty"`
}

type Lightning struct {
	LastStrike     time.Time       `json:"last_strike,omitzero"`
	LastStrikeText string          `json:"last_strike_text"`
	Distance       units.Formatted `json:"distance"`
	Energy         float64         `json:"energy"`
	StrikesToday   int             `json:"strikes_today"`
}

// Observations is the latest derived value per kind. Nil means no frame of
// that kind has arrived yet.
type Observations struct {
	Wind      *Wind      `json:"wind"`
	RapidWind *RapidWind `json:"rapid_wind"`
	Outdoor   *Air       `json:"outdoor"`
	Indoor    *Air       `json:"indoor"`
	Lightning *Lightning `json:"lightning"`
}

type extremes struct {
	set          bool
	max, min     float64
	maxAt, minAt time.Time
}

func (e *extremes) observe(v float64, at time.Time) {
	if math.IsNaN(v) {
		return
	}
	if !e.set {
		*e = extremes{set: true, max: v, min: v, maxAt: at, minAt: at}
		return
	}
	if v > e.max {
		e.max, e.maxAt = v, at
	}
	if v < e.min {
		e.min, e.minAt = v, at
	}
}

type strike struct {
	at       time.Time
	distance float64
	energy   float64
}

type daily struct {
	maxGust float64
	windSum float64
	windN   int
	outdoor extremes
	indoor  extremes
	strikes int
}

// Processor implements stream.Handler. Handlers for different kinds run
// concurrently; mu guards the shared state.
type Processor struct {
	settings  Settings
	publisher Publisher
	logger    *slog.Logger
	now       func() time.Time

	mu         sync.Mutex
	day        daily
	windMps    float64
	lastStrike *strike
	latest     Observations
}

type Option func(*Processor)

func WithPublisher(p Publisher) Option {
	return func(pr *Processor) { pr.publisher = p }
}

func WithLogger(l *slog.Logger) Option {
	return func(pr *Processor) { pr.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(pr *Processor) { pr.now = now }
}

func NewProcessor(s Settings, opts ...Option) *Processor {
	p := &Processor{
		settings: s,
		logger:   slog.Default(),
		now:      time.Now,
		windMps:  math.NaN(),
		day:      daily{maxGust: math.NaN()},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

var _ stream.Handler = (*Processor)(nil)

// Latest returns the most recent derived observations.
func (p *Processor) Latest() Observations {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.latest
	out.Lightning = p.lightningLocked()
	return out
}

// ResetDaily clears the running daily aggregates. It runs at station-local
// midnight.
func (p *Processor) ResetDaily(ctx context.Context) {
	p.mu.Lock()
	p.day = daily{maxGust: math.NaN()}
	l := p.lightningLocked()
	p.mu.Unlock()

	p.logger.Info("daily observation state reset")
	p.publish(ctx, KindLightning, l)
}

func (p *Processor) HandleWind(ctx context.Context, m stream.WindObservation) {
	s := p.settings
	flags := CheckWind(m)
	countFlags(KindWind, flags)

	p.mu.Lock()
	if !math.IsNaN(m.WindGust) && (math.IsNaN(p.day.maxGust) || m.WindGust > p.day.maxGust) {
		p.day.maxGust = m.WindGust
	}
	if !math.IsNaN(m.WindAvg) {
		p.day.windN++
		p.day.windSum += m.WindAvg
		p.windMps = m.WindAvg
	}
	mean := math.NaN()
	if p.day.windN > 0 {
		mean = p.day.windSum / float64(p.day.windN)
	}
	maxGust := p.day.maxGust
	p.mu.Unlock()

	rate, rateText := RainRate(m.RainAccum, m.ReportInterval)
	rainRate := units.Display(units.Q(rate, units.Millimetre), s.PrecipUnit)
	if rainRate.Unit != "" {
		rainRate.Unit += "/hr"
	}

	w := &Wind{
		Time:         m.Time,
		Speed:        units.Display(units.Q(m.WindAvg, units.MetresPerSecond), s.WindUnit),
		Gust:         units.Display(units.Q(m.WindGust, units.MetresPerSecond), s.WindUnit),
		Lull:         units.Display(units.Q(m.WindLull, units.MetresPerSecond), s.WindUnit),
		Direction:    units.Display(units.Q(m.WindDir, units.Degrees), units.Degrees),
		Cardinal:     units.CardinalDirection(m.WindDir, m.WindAvg),
		Beaufort:     beaufort(m.WindAvg),
		MaxGust:      units.Display(units.Q(maxGust, units.MetresPerSecond), s.WindUnit),
		MeanSpeed:    units.Display(units.Q(mean, units.MetresPerSecond), s.WindUnit),
		RainRate:     rainRate,
		RainRateText: rateText,
		Flags:        flags,
	}

	p.mu.Lock()
	p.latest.Wind = w
	p.mu.Unlock()
	p.publish(ctx, KindWind, w)
}

func beaufort(mps float64) units.BeaufortLevel {
	if math.IsNaN(mps) {
		return units.BeaufortLevel{Force: -1, Description: "-"}
	}
	return units.BeaufortForce(mps)
}

func (p *Processor) HandleRapidWind(ctx context.Context, m stream.RapidWind) {
	s := p.settings
	w := &RapidWind{
		Time:      m.Time,
		Speed:     units.Display(units.Q(m.Speed, units.MetresPerSecond), s.WindUnit),
		Direction: units.Display(units.Q(m.Direction, units.Degrees), units.Degrees),
		Cardinal:  units.CardinalDirection(m.Direction, m.Speed),
	}
	p.mu.Lock()
	p.latest.RapidWind = w
	p.mu.Unlock()
	p.publish(ctx, KindRapidWind, w)
}

func (p *Processor) HandleOutdoorAir(ctx context.Context, m stream.AirObservation) {
	p.handleAir(ctx, KindOutdoor, m)
}

func (p *Processor) HandleIndoorAir(ctx context.Context, m stream.AirObservation) {
	p.handleAir(ctx, KindIndoor, m)
}

func (p *Processor) handleAir(ctx context.Context, kind Kind, m stream.AirObservation) {
	s := p.settings
	flags := CheckAir(m.AirReading)
	countFlags(kind, flags)

	p.mu.Lock()
	ext := &p.day.indoor
	if kind == KindOutdoor {
		ext = &p.day.outdoor
		if !math.IsNaN(m.StrikeCount) && m.StrikeCount > 0 {
			p.day.strikes += int(m.StrikeCount)
		}
	}
	ext.observe(m.Temperature, m.Time)
	e := *ext
	wind := p.windMps
	p.mu.Unlock()

	temp := func(c float64) units.Formatted {
		return units.Display(units.Q(c, units.Celsius), s.TempUnit)
	}
	pressure := func(mb float64) units.Formatted {
		return units.Display(units.Q(mb, units.Millibar), s.PressureUnit)
	}

	a := &Air{
		Time:        m.Time,
		Temperature: temp(m.Temperature),
		TempMax:     temp(math.NaN()),
		TempMaxAt:   units.Placeholder,
		TempMin:     temp(math.NaN()),
		TempMinAt:   units.Placeholder,
		Humidity:    units.Display(units.Q(m.Humidity, units.Percent), units.Percent),
		DewPoint:    temp(DewPoint(m.Temperature, m.Humidity)),
		Pressure:    pressure(m.Pressure),
		Flags:       flags,
	}
	if e.set {
		a.TempMax, a.TempMaxAt = temp(e.max), s.clock(e.maxAt)
		a.TempMin, a.TempMinAt = temp(e.min), s.clock(e.minAt)
	}

	if kind == KindOutdoor {
		feels := FeelsLike(m.Temperature, m.Humidity, wind)
		a.FeelsLike = temp(feels)
		a.FeelsLikeText, a.FeelsLikeIcon = FeelsLikeLevel(feels, s.FeelsLikeCutoffs, s.TempUnit)
		a.SeaLevelPressure = pressure(SeaLevelPressure(m.Pressure, s.Elevation+s.OutdoorHeight))
	} else {
		a.FeelsLike = temp(math.NaN())
		a.FeelsLikeText, a.FeelsLikeIcon = "-", "-"
		a.SeaLevelPressure = pressure(SeaLevelPressure(m.Pressure, s.Elevation))
	}

	p.mu.Lock()
	if kind == KindOutdoor {
		p.latest.Outdoor = a
	} else {
		p.latest.Indoor = a
	}
	p.mu.Unlock()
	p.publish(ctx, kind, a)
}

func (p *Processor) HandleLightning(ctx context.Context, m stream.LightningEvent) {
	p.mu.Lock()
	p.lastStrike = &strike{at: m.Time, distance: m.Distance, energy: m.Energy}
	l := p.lightningLocked()
	p.mu.Unlock()
	p.publish(ctx, KindLightning, l)
}

func (p *Processor) lightningLocked() *Lightning {
	l := &Lightning{
		LastStrikeText: units.Placeholder,
		Distance:       units.Formatted{Value: units.Placeholder, Unit: units.Label(p.settings.DistanceUnit)},
		StrikesToday:   p.day.strikes,
	}
	if p.lastStrike != nil {
		l.LastStrike = p.lastStrike.at
		l.LastStrikeText = humanize.RelTime(p.lastStrike.at, p.now(), "ago", "from now")
		l.Distance = units.Display(units.Q(p.lastStrike.distance, units.Kilometre), p.settings.DistanceUnit)
		l.Energy = p.lastStrike.energy
	}
	return l
}

func (p *Processor) publish(ctx context.Context, kind Kind, v any) {
	if p.publisher == nil {
		return
	}
	if err := p.publisher.Publish(ctx, "observations/"+string(kind), v); err != nil {
		p.logger.Warn("publish observation", "kind", string(kind), "error", err)
	}
}
