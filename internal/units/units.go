// Package units converts WeatherFlow observations from their native metric
// units into the display units recorded in the station config, and formats
// them for presentation.
package units

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
)

// Unit codes, as reported by the WeatherFlow station_units block.
const (
	Celsius    = "c"
	Fahrenheit = "f"

	MetresPerSecond = "mps"
	KPH             = "kph"
	MPH             = "mph"
	Knots           = "kts"
	Beaufort        = "bft"

	Millibar = "mb"
	HPA      = "hpa"
	InHg     = "inhg"
	MmHg     = "mmhg"

	Millimetre = "mm"
	Centimetre = "cm"
	Inch       = "in"

	Kilometre = "km"
	Mile      = "mi"

	Degrees  = "degrees"
	Cardinal = "cardinal"

	Percent = "%"
)

var ErrUnknownUnit = errors.New("unknown unit")

// Quantity is a value tagged with its unit code. NaN marks a missing reading.
type Quantity struct {
	Value float64
	Unit  string
}

// Q is shorthand for constructing a Quantity.
func Q(v float64, unit string) Quantity { return Quantity{Value: v, Unit: unit} }

// Missing reports whether the reading is absent.
func (q Quantity) Missing() bool { return math.IsNaN(q.Value) }

// Factors from the native unit of each dimension.
var (
	windFactors = map[string]float64{
		MetresPerSecond: 1,
		KPH:             3.6,
		MPH:             2.2369362920544,
		Knots:           1.9438444924406,
	}
	pressureFactors = map[string]float64{
		Millibar: 1,
		HPA:      1,
		InHg:     0.0295299801647,
		MmHg:     0.750061683,
	}
	precipFactors = map[string]float64{
		Millimetre: 1,
		Centimetre: 0.1,
		Inch:       0.0393700787,
	}
	distanceFactors = map[string]float64{
		Kilometre: 1,
		Mile:      0.621371192,
	}
)

// Convert returns q expressed in unit to. Both units must belong to the same
// dimension. Missing readings convert to missing readings.
func Convert(q Quantity, to string) (Quantity, error) {
	to = strings.ToLower(to)
	from := strings.ToLower(q.Unit)
	if from == to {
		return Quantity{Value: q.Value, Unit: to}, nil
	}

	switch {
	case from == Celsius && to == Fahrenheit:
		return Q(q.Value*9/5+32, to), nil
	case from == Fahrenheit && to == Celsius:
		return Q((q.Value-32)*5/9, to), nil
	case to == Beaufort:
		mps, err := Convert(q, MetresPerSecond)
		if err != nil {
			return Quantity{}, err
		}
		if mps.Missing() {
			return Q(math.NaN(), Beaufort), nil
		}
		return Q(float64(BeaufortForce(mps.Value).Force), Beaufort), nil
	}

	for _, table := range []map[string]float64{windFactors, pressureFactors, precipFactors, distanceFactors} {
		f1, ok1 := table[from]
		f2, ok2 := table[to]
		if ok1 && ok2 {
			return Q(q.Value/f1*f2, to), nil
		}
	}
	return Quantity{}, fmt.Errorf("%w: %s to %s", ErrUnknownUnit, q.Unit, to)
}

// CelsiusCutoff converts a Celsius threshold into whole degrees of unit,
// rounding to the nearest integer. Any unit containing "f" is Fahrenheit.
func CelsiusCutoff(c float64, unit string) float64 {
	if strings.Contains(strings.ToLower(unit), Fahrenheit) {
		return math.Round(c*9/5 + 32)
	}
	return c
}

var cardinalPoints = []string{
	"N", "NNE", "NE", "ENE", "E", "ESE", "SE", "SSE",
	"S", "SSW", "SW", "WSW", "W", "WNW", "NW", "NNW", "N",
}

// CardinalDirection names the 16-point compass direction for dir degrees.
// Zero speed is "Calm"; a missing direction is "-".
func CardinalDirection(dir, speed float64) string {
	if speed == 0 {
		return "Calm"
	}
	if math.IsNaN(dir) {
		return "-"
	}
	d := math.Mod(dir, 360)
	if d < 0 {
		d += 360
	}
	return cardinalPoints[int(math.Round(d/22.5))]
}

// BeaufortLevel is a Beaufort force number with its description.
type BeaufortLevel struct {
	Force       int    `json:"force"`
	Description string `json:"description"`
}

var (
	beaufortCutoffs = []float64{0.5, 1.5, 3.3, 5.5, 7.9, 10.7, 13.8, 17.1, 20.7, 24.4, 28.4, 32.6}
	beaufortText    = []string{
		"Calm Conditions", "Light Air", "Light Breeze", "Gentle Breeze",
		"Moderate Breeze", "Fresh Breeze", "Strong Breeze", "Near Gale Force",
		"Gale Force", "Severe Gale Force", "Storm Force", "Violent Storm",
		"Hurricane Force",
	}
)

// BeaufortForce classifies a wind speed in m/s.
func BeaufortForce(mps float64) BeaufortLevel {
	i := Bisect(beaufortCutoffs, mps)
	return BeaufortLevel{Force: i, Description: beaufortText[i]}
}

// Bisect returns the insertion index for v in sorted cutoffs, to the right of
// any equal entries.
func Bisect(cutoffs []float64, v float64) int {
	return sort.Search(len(cutoffs), func(i int) bool { return cutoffs[i] > v })
}
