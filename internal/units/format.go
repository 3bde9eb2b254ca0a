package units

import (
	"math"
	"strconv"
	"strings"
)

// Formatted is a display-ready value and its unit label.
type Formatted struct {
	Value string `json:"value"`
	Unit  string `json:"unit"`
}

func (f Formatted) String() string {
	if f.Unit == "" || f.Value == Placeholder {
		return f.Value
	}
	return f.Value + " " + f.Unit
}

// Placeholder stands in for a missing reading.
const Placeholder = "--"

var labels = map[string]string{
	Celsius:         "°C",
	Fahrenheit:      "°F",
	MetresPerSecond: "m/s",
	KPH:             "km/h",
	MPH:             "mph",
	Knots:           "kts",
	Beaufort:        "bft",
	Millibar:        "mb",
	HPA:             "hPa",
	InHg:            "inHg",
	MmHg:            "mmHg",
	Millimetre:      "mm",
	Centimetre:      "cm",
	Inch:            "in",
	Kilometre:       "km",
	Mile:            "miles",
	Degrees:         "°",
	Percent:         "%",
}

// Label returns the display label for a unit code.
func Label(unit string) string {
	if l, ok := labels[strings.ToLower(unit)]; ok {
		return l
	}
	return unit
}

// decimals is the default display precision for each unit.
var decimals = map[string]int{
	Celsius:         1,
	Fahrenheit:      1,
	MetresPerSecond: 1,
	KPH:             0,
	MPH:             0,
	Knots:           0,
	Beaufort:        0,
	Millibar:        1,
	HPA:             1,
	InHg:            2,
	MmHg:            0,
	Millimetre:      1,
	Centimetre:      2,
	Inch:            2,
	Kilometre:       0,
	Mile:            0,
	Degrees:         0,
	Percent:         0,
}

// Display converts q to unit and formats it at that unit's default precision.
func Display(q Quantity, unit string) Formatted {
	d, ok := decimals[strings.ToLower(unit)]
	if !ok {
		d = 1
	}
	return DisplayN(q, unit, d)
}

// DisplayN converts q to unit and formats it with n decimal places. Missing
// readings and failed conversions render as the placeholder.
func DisplayN(q Quantity, unit string, n int) Formatted {
	label := Label(unit)
	if unit == "" {
		unit = q.Unit
		label = Label(unit)
	}
	c, err := Convert(q, unit)
	if err != nil || c.Missing() || math.IsInf(c.Value, 0) {
		return Formatted{Value: Placeholder, Unit: label}
	}
	v := c.Value
	// Avoid "-0" after rounding.
	if math.Abs(v) < 0.5*math.Pow10(-n) {
		v = 0
	}
	return Formatted{Value: strconv.FormatFloat(v, 'f', n, 64), Unit: label}
}
