package observe

import (
	"math"

	"github.com/lox/wfconsole/internal/units"
)

// DewPoint uses the Magnus approximation. Zero or missing humidity yields
// NaN.
func DewPoint(tempC, rh float64) float64 {
	if rh == 0 || math.IsNaN(rh) || math.IsNaN(tempC) {
		return math.NaN()
	}
	const a, b = 17.625, 243.04
	g := math.Log(rh/100) + a*tempC/(b+tempC)
	return b * g / (a - g)
}

// FeelsLike returns wind chill at or below 10°C with wind above 3 mph, the
// heat index at or above 80°F with humidity of at least 40%, and the air
// temperature otherwise. All values are °C.
func FeelsLike(tempC, rh, windMps float64) float64 {
	if math.IsNaN(tempC) || math.IsNaN(rh) {
		return math.NaN()
	}
	tempF := tempC*9/5 + 32
	windMPH := windMps * 2.2369362920544
	windKPH := windMps * 3.6

	switch {
	case tempC <= 10 && windMPH > 3:
		v := math.Pow(windKPH, 0.16)
		return 13.12 + 0.6215*tempC - 11.37*v + 0.3965*tempC*v
	case tempF >= 80 && rh >= 40:
		hi := -42.379 + 2.04901523*tempF + 10.1433127*rh -
			0.22475541*tempF*rh - 6.83783e-3*tempF*tempF -
			5.481717e-2*rh*rh + 1.22874e-3*tempF*tempF*rh +
			8.5282e-4*tempF*rh*rh - 1.99e-6*tempF*tempF*rh*rh
		return (hi - 32) * 5 / 9
	}
	return tempC
}

var feelsLikeLevels = []struct{ text, icon string }{
	{"Feeling extremely cold", "ExtremelyCold"},
	{"Feeling freezing cold", "FreezingCold"},
	{"Feeling very cold", "VeryCold"},
	{"Feeling cold", "Cold"},
	{"Feeling mild", "Mild"},
	{"Feeling warm", "Warm"},
	{"Feeling hot", "Hot"},
	{"Feeling very hot", "VeryHot"},
	{"Feeling extremely hot", "ExtremelyHot"},
}

// FeelsLikeLevel classifies a feels-like temperature (°C) against cutoffs
// expressed in tempUnit.
func FeelsLikeLevel(feelsC float64, cutoffs []float64, tempUnit string) (text, icon string) {
	if math.IsNaN(feelsC) || len(cutoffs) == 0 {
		return "-", "-"
	}
	v := feelsC
	if c, err := units.Convert(units.Q(feelsC, units.Celsius), tempUnit); err == nil {
		v = c.Value
	}
	i := units.Bisect(cutoffs, v)
	if i >= len(feelsLikeLevels) {
		i = len(feelsLikeLevels) - 1
	}
	return feelsLikeLevels[i].text, feelsLikeLevels[i].icon
}

// SeaLevelPressure reduces station pressure (mb) to sea level for a sensor
// at elevation metres.
func SeaLevelPressure(stationMb, elevation float64) float64 {
	const (
		p0     = 1013.25
		rd     = 287.05
		gammaS = 0.0065
		g      = 9.80665
		t0     = 288.15
	)
	if math.IsNaN(stationMb) || stationMb <= 0 || math.IsNaN(elevation) {
		return math.NaN()
	}
	return stationMb * math.Pow(1+math.Pow(p0/stationMb, rd*gammaS/g)*(gammaS*elevation/t0), g/(rd*gammaS))
}

// RainRate converts the accumulation over an interval (minutes) into mm/hr
// and its description.
func RainRate(accumMm, intervalMin float64) (float64, string) {
	if intervalMin <= 0 || math.IsNaN(intervalMin) {
		intervalMin = 1
	}
	rate := accumMm * 60 / intervalMin
	switch {
	case math.IsNaN(rate):
		return rate, "-"
	case rate == 0:
		return rate, "Currently Dry"
	case rate < 0.25:
		return rate, "Very Light Rain"
	case rate < 1:
		return rate, "Light Rain"
	case rate < 4:
		return rate, "Moderate Rain"
	case rate < 16:
		return rate, "Heavy Rain"
	case rate < 50:
		return rate, "Very Heavy Rain"
	}
	return rate, "Extreme Rain"
}
