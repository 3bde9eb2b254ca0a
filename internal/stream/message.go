package stream

import (
	"errors"
	"math"
	"strconv"
	"time"

	"github.com/tidwall/gjson"

	"github.com/lox/wfconsole/internal/station"
)

// Devices are the sensor IDs configured for the station. An empty ID means
// the device is not installed.
type Devices struct {
	TempestID string
	SkyID     string
	OutAirID  string
	InAirID   string
}

func DevicesFromConfig(cfg *station.Config) Devices {
	return Devices{
		TempestID: cfg.Value("Station", "TempestID"),
		SkyID:     cfg.Value("Station", "SkyID"),
		OutAirID:  cfg.Value("Station", "OutAirID"),
		InAirID:   cfg.Value("Station", "InAirID"),
	}
}

// Subscription is an outbound listen request.
type Subscription struct {
	Type     string `json:"type"`
	DeviceID int64  `json:"device_id"`
	ID       string `json:"id"`
}

// Subscriptions lists the listen requests for the configured devices. A
// TEMPEST supersedes a SKY as the wind source. IDs that are not numeric are
// treated as unconfigured.
func Subscriptions(d Devices) []Subscription {
	var subs []Subscription
	wind := d.TempestID
	if _, ok := deviceID(wind); !ok {
		wind = d.SkyID
	}
	if id, ok := deviceID(wind); ok {
		subs = append(subs,
			Subscription{Type: "listen_start", DeviceID: id, ID: "Sky"},
			Subscription{Type: "listen_rapid_start", DeviceID: id, ID: "rapidWind"},
		)
	}
	if id, ok := deviceID(d.OutAirID); ok {
		subs = append(subs, Subscription{Type: "listen_start", DeviceID: id, ID: "OutdoorAir"})
	}
	if id, ok := deviceID(d.InAirID); ok {
		subs = append(subs, Subscription{Type: "listen_start", DeviceID: id, ID: "IndoorAir"})
	}
	return subs
}

func deviceID(s string) (int64, bool) {
	if s == "" {
		return 0, false
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// Message is a decoded inbound frame. The set of implementations is closed:
// ConnectionOpened, WindObservation, RapidWind, AirObservation,
// LightningEvent and Unknown.
type Message interface {
	Type() string
	message()
}

type ConnectionOpened struct{}

// AirReading is the thermodynamic part of an AIR or TEMPEST observation.
// Missing values are NaN.
type AirReading struct {
	Pressure    float64 `json:"pressure_mb"`
	Temperature float64 `json:"temperature_c"`
	Humidity    float64 `json:"humidity_pct"`
	StrikeCount float64 `json:"strike_count"`
	StrikeDist  float64 `json:"strike_distance_km"`
}

// WindObservation comes from obs_st or obs_sky. TEMPEST frames also carry
// an AirReading.
type WindObservation struct {
	DeviceID       int64
	DeviceType     string
	Time           time.Time
	WindLull       float64
	WindAvg        float64
	WindGust       float64
	WindDir        float64
	RainAccum      float64 // mm over ReportInterval
	ReportInterval float64 // minutes
	UV             float64
	SolarRadiation float64
	Air            *AirReading
}

type RapidWind struct {
	DeviceID  int64
	Time      time.Time
	Speed     float64
	Direction float64
}

type AirObservation struct {
	DeviceID int64
	Time     time.Time
	AirReading
}

type LightningEvent struct {
	DeviceID int64
	Time     time.Time
	Distance float64 // km
	Energy   float64
}

// Unknown is any frame with a type tag not listed above.
type Unknown struct {
	Tag string
	Raw []byte
}

func (ConnectionOpened) Type() string { return "connection_opened" }
func (m WindObservation) Type() string {
	if m.DeviceType == "ST" {
		return "obs_st"
	}
	return "obs_sky"
}
func (RapidWind) Type() string      { return "rapid_wind" }
func (AirObservation) Type() string { return "obs_air" }
func (LightningEvent) Type() string { return "evt_strike" }
func (u Unknown) Type() string      { return u.Tag }

func (ConnectionOpened) message() {}
func (WindObservation) message()  {}
func (RapidWind) message()        {}
func (AirObservation) message()   {}
func (LightningEvent) message()   {}
func (Unknown) message()          {}

var ErrMalformedFrame = errors.New("malformed frame")

// Decode classifies a frame by its type tag. Observation arrays are read
// positionally; null or absent entries decode as NaN.
func Decode(data []byte) (Message, error) {
	if !gjson.ValidBytes(data) {
		return nil, ErrMalformedFrame
	}
	root := gjson.ParseBytes(data)
	tag := root.Get("type")
	if tag.Type != gjson.String {
		return nil, ErrMalformedFrame
	}
	dev := root.Get("device_id").Int()

	switch tag.String() {
	case "connection_opened":
		return ConnectionOpened{}, nil

	case "obs_st":
		ob := root.Get("obs.0")
		if !ob.IsArray() {
			return nil, ErrMalformedFrame
		}
		return WindObservation{
			DeviceID:       dev,
			DeviceType:     "ST",
			Time:           at(ob, 0),
			WindLull:       at64(ob, 1),
			WindAvg:        at64(ob, 2),
			WindGust:       at64(ob, 3),
			WindDir:        at64(ob, 4),
			UV:             at64(ob, 10),
			SolarRadiation: at64(ob, 11),
			RainAccum:      at64(ob, 12),
			ReportInterval: at64(ob, 17),
			Air: &AirReading{
				Pressure:    at64(ob, 6),
				Temperature: at64(ob, 7),
				Humidity:    at64(ob, 8),
				StrikeDist:  at64(ob, 14),
				StrikeCount: at64(ob, 15),
			},
		}, nil

	case "obs_sky":
		ob := root.Get("obs.0")
		if !ob.IsArray() {
			return nil, ErrMalformedFrame
		}
		return WindObservation{
			DeviceID:       dev,
			DeviceType:     "SK",
			Time:           at(ob, 0),
			UV:             at64(ob, 2),
			RainAccum:      at64(ob, 3),
			WindLull:       at64(ob, 4),
			WindAvg:        at64(ob, 5),
			WindGust:       at64(ob, 6),
			WindDir:        at64(ob, 7),
			ReportInterval: at64(ob, 9),
			SolarRadiation: at64(ob, 10),
		}, nil

	case "obs_air":
		ob := root.Get("obs.0")
		if !ob.IsArray() {
			return nil, ErrMalformedFrame
		}
		return AirObservation{
			DeviceID: dev,
			Time:     at(ob, 0),
			AirReading: AirReading{
				Pressure:    at64(ob, 1),
				Temperature: at64(ob, 2),
				Humidity:    at64(ob, 3),
				StrikeCount: at64(ob, 4),
				StrikeDist:  at64(ob, 5),
			},
		}, nil

	case "rapid_wind":
		ob := root.Get("ob")
		if !ob.IsArray() {
			return nil, ErrMalformedFrame
		}
		return RapidWind{
			DeviceID:  dev,
			Time:      at(ob, 0),
			Speed:     at64(ob, 1),
			Direction: at64(ob, 2),
		}, nil

	case "evt_strike":
		ev := root.Get("evt")
		if !ev.IsArray() {
			return nil, ErrMalformedFrame
		}
		return LightningEvent{
			DeviceID: dev,
			Time:     at(ev, 0),
			Distance: at64(ev, 1),
			Energy:   at64(ev, 2),
		}, nil
	}
	return Unknown{Tag: tag.String(), Raw: data}, nil
}

func at64(arr gjson.Result, i int) float64 {
	v := arr.Get(strconv.Itoa(i))
	if v.Type != gjson.Number {
		return math.NaN()
	}
	return v.Float()
}

func at(arr gjson.Result, i int) time.Time {
	v := arr.Get(strconv.Itoa(i))
	if v.Type != gjson.Number {
		return time.Time{}
	}
	return time.Unix(v.Int(), 0)
}
