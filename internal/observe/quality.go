package observe

import (
	"math"

	"github.com/lox/wfconsole/internal/metrics"
	"github.com/lox/wfconsole/internal/stream"
)

const (
	FlagTempOutOfRange     = "temp_out_of_range"
	FlagHumidityInvalid    = "humidity_invalid"
	FlagWindDirInvalid     = "wind_dir_invalid"
	FlagWindSpeedUnlikely  = "wind_speed_unlikely"
	FlagPressureOutOfRange = "pressure_out_of_range"
	FlagSolarNegative      = "solar_negative"
	FlagPrecipNegative     = "precip_negative"
)

// CheckWind flags implausible wind-sensor readings. Missing values are not
// flagged.
func CheckWind(m stream.WindObservation) []string {
	var flags []string
	if valid(m.WindDir) && (m.WindDir < 0 || m.WindDir > 360) {
		flags = append(flags, FlagWindDirInvalid)
	}
	for _, v := range []float64{m.WindLull, m.WindAvg, m.WindGust} {
		if valid(v) && (v < 0 || v > 90) {
			flags = append(flags, FlagWindSpeedUnlikely)
			break
		}
	}
	if valid(m.SolarRadiation) && m.SolarRadiation < 0 {
		flags = append(flags, FlagSolarNegative)
	}
	if valid(m.RainAccum) && m.RainAccum < 0 {
		flags = append(flags, FlagPrecipNegative)
	}
	return flags
}

// CheckAir flags implausible air readings. Station pressure allows for
// high-altitude sites.
func CheckAir(r stream.AirReading) []string {
	var flags []string
	if valid(r.Temperature) && (r.Temperature < -50 || r.Temperature > 60) {
		flags = append(flags, FlagTempOutOfRange)
	}
	if valid(r.Humidity) && (r.Humidity < 0 || r.Humidity > 100) {
		flags = append(flags, FlagHumidityInvalid)
	}
	if valid(r.Pressure) && (r.Pressure < 500 || r.Pressure > 1100) {
		flags = append(flags, FlagPressureOutOfRange)
	}
	return flags
}

func countFlags(kind Kind, flags []string) {
	for _, f := range flags {
		metrics.ObservationQualityFlags.WithLabelValues(string(kind), f).Inc()
	}
}

func valid(v float64) bool { return !math.IsNaN(v) }
