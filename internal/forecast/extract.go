// Package forecast turns the WeatherFlow better_forecast document into the
// console's current-conditions snapshot and daily panels, and keeps both
// fresh on an hourly cadence.
package forecast

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/lox/wfconsole/internal/station"
	"github.com/lox/wfconsole/internal/units"
)

// Unavailable is the icon and status sentinel for a forecast that could not
// be extracted or an icon outside the known set.
const Unavailable = "ForecastUnavailable"

// ErrLookup wraps every extraction failure.
var ErrLookup = errors.New("forecast lookup failed")

var iconCodes = map[string]string{
	"clear-day":           "1",
	"clear-night":         "0",
	"rain":                "12",
	"snow":                "27",
	"sleet":               "18",
	"wind":                "wind",
	"fog":                 "6",
	"cloudy":              "7",
	"partly-cloudy-day":   "3",
	"partly-cloudy-night": "2",
}

// IconCode maps a WeatherFlow icon name to the console's icon code.
func IconCode(icon string) string {
	if c, ok := iconCodes[icon]; ok {
		return c
	}
	return Unavailable
}

// Settings are the station config values extraction depends on.
type Settings struct {
	TempUnit   string
	WindUnit   string
	PrecipUnit string
	TimeFormat string
	Location   *time.Location
	Panels     int
}

// SettingsFromConfig reads display units and timezone from the station
// config.
func SettingsFromConfig(cfg *station.Config, panels int) Settings {
	return Settings{
		TempUnit:   cfg.Value("Units", "Temp"),
		WindUnit:   cfg.Value("Units", "Wind"),
		PrecipUnit: cfg.Value("Units", "Precip"),
		TimeFormat: cfg.Value("Display", "TimeFormat"),
		Location:   cfg.Location(),
		Panels:     panels,
	}
}

func (s Settings) loc() *time.Location {
	if s.Location == nil {
		return time.UTC
	}
	return s.Location
}

func (s Settings) clockLayout() string {
	if s.TimeFormat == "12 hr" {
		return "3:04 PM"
	}
	return "15:04"
}

// Snapshot is the current-hour forecast.
type Snapshot struct {
	Time          time.Time       `json:"time"`
	Available     bool            `json:"available"`
	Issued        string          `json:"issued"`
	Valid         string          `json:"valid"`
	Conditions    string          `json:"conditions"`
	Icon          string          `json:"icon"`
	Temp          units.Formatted `json:"temp"`
	TempMax       units.Formatted `json:"temp_max"`
	TempMin       units.Formatted `json:"temp_min"`
	WindSpeed     units.Formatted `json:"wind_speed"`
	WindGust      units.Formatted `json:"wind_gust"`
	WindDir       string          `json:"wind_dir"`
	Precip        units.Formatted `json:"precip_probability"`
	PrecipAmount  units.Formatted `json:"precip_amount"`
	PrecipType    string          `json:"precip_type"`
	StationOnline bool            `json:"station_online"`
	StationUsed   bool            `json:"station_used"`
}

// UnavailableSnapshot is the sentinel state shown when extraction fails.
// Only the time is meaningful.
func UnavailableSnapshot(now time.Time) Snapshot {
	missing := units.Formatted{Value: units.Placeholder}
	return Snapshot{
		Time:         now,
		Issued:       units.Placeholder,
		Valid:        units.Placeholder,
		Conditions:   units.Placeholder,
		Icon:         Unavailable,
		Temp:         missing,
		TempMax:      missing,
		TempMin:      missing,
		WindSpeed:    missing,
		WindGust:     missing,
		WindDir:      units.Placeholder,
		Precip:       missing,
		PrecipAmount: missing,
		PrecipType:   units.Placeholder,
	}
}

// Day is one daily forecast panel.
type Day struct {
	Date    string          `json:"date"`
	Weekday string          `json:"weekday"`
	TempMax units.Formatted `json:"temp_max"`
	TempMin units.Formatted `json:"temp_min"`
	Precip  units.Formatted `json:"precip_probability"`
	Icon    string          `json:"icon"`
}

// ValidPayload reports whether body is a JSON object with a non-null
// "forecast" member.
func ValidPayload(body []byte) bool {
	if !gjson.ValidBytes(body) {
		return false
	}
	root := gjson.ParseBytes(body)
	if !root.IsObject() {
		return false
	}
	f := root.Get("forecast")
	return f.Exists() && f.Type != gjson.Null
}

// bucketIndex returns the hourly bucket covering now: the entry immediately
// before the first timestamp greater than now. ok is false when now precedes
// the whole series.
func bucketIndex(times []int64, now int64) (int, bool) {
	i := sort.Search(len(times), func(i int) bool { return times[i] > now })
	if i == 0 {
		return 0, false
	}
	return i - 1, true
}

// validUntil is the start of the bucket after idx. The last bucket is
// assumed to span the same interval as the one before it.
func validUntil(times []int64, idx int) int64 {
	if idx+1 < len(times) {
		return times[idx+1]
	}
	if idx > 0 {
		return times[idx] + (times[idx] - times[idx-1])
	}
	return times[idx] + int64(time.Hour/time.Second)
}

func num(r gjson.Result, path string) (float64, error) {
	v := r.Get(path)
	if v.Type != gjson.Number {
		return 0, fmt.Errorf("%w: %s is not a number", ErrLookup, path)
	}
	return v.Float(), nil
}

func str(r gjson.Result, path string) (string, error) {
	v := r.Get(path)
	if v.Type != gjson.String {
		return "", fmt.Errorf("%w: %s is not a string", ErrLookup, path)
	}
	return v.String(), nil
}

func boolean(r gjson.Result, path string) (bool, error) {
	v := r.Get(path)
	if v.Type != gjson.True && v.Type != gjson.False {
		return false, fmt.Errorf("%w: %s is not a boolean", ErrLookup, path)
	}
	return v.Bool(), nil
}

var titleCase = cases.Title(language.English)

// Extract builds the current snapshot from a better_forecast document. Any
// missing or malformed field fails the whole extraction.
func Extract(doc gjson.Result, now time.Time, s Settings) (Snapshot, error) {
	loc := s.loc()
	now = now.In(loc)

	hourly := doc.Get("forecast.hourly")
	if !hourly.IsArray() {
		return Snapshot{}, fmt.Errorf("%w: forecast.hourly missing", ErrLookup)
	}
	entries := hourly.Array()
	if len(entries) == 0 {
		return Snapshot{}, fmt.Errorf("%w: forecast.hourly empty", ErrLookup)
	}
	times := make([]int64, len(entries))
	for i, e := range entries {
		t, err := num(e, "time")
		if err != nil {
			return Snapshot{}, err
		}
		times[i] = int64(t)
	}

	idx, ok := bucketIndex(times, now.Unix())
	if !ok {
		return Snapshot{}, fmt.Errorf("%w: now precedes forecast series", ErrLookup)
	}
	hour := entries[idx]

	localDay, err := num(hour, "local_day")
	if err != nil {
		return Snapshot{}, err
	}
	var day gjson.Result
	for _, d := range doc.Get("forecast.daily").Array() {
		if n, err := num(d, "day_num"); err == nil && n == localDay {
			day = d
			break
		}
	}
	if !day.Exists() {
		return Snapshot{}, fmt.Errorf("%w: no daily entry for day %v", ErrLookup, localDay)
	}

	online, err := boolean(doc, "station.is_station_online")
	if err != nil {
		return Snapshot{}, err
	}
	used, err := boolean(doc, "station.includes_tempest")
	if err != nil {
		return Snapshot{}, err
	}

	var (
		temp, windAvg, windGust, windDir, high, low float64
		icon, condition                             string
	)
	for _, f := range []struct {
		r    gjson.Result
		path string
		dst  *float64
	}{
		{hour, "air_temperature", &temp},
		{hour, "wind_avg", &windAvg},
		{hour, "wind_gust", &windGust},
		{hour, "wind_direction", &windDir},
		{day, "air_temp_high", &high},
		{day, "air_temp_low", &low},
	} {
		v, err := num(f.r, f.path)
		if err != nil {
			return Snapshot{}, err
		}
		*f.dst = v
	}
	if icon, err = str(hour, "icon"); err != nil {
		return Snapshot{}, err
	}
	if condition, err = str(hour, "conditions"); err != nil {
		return Snapshot{}, err
	}

	// precip, precip_type and precip_probability are only present when
	// precipitation is forecast.
	prob := 0.0
	if v := hour.Get("precip_probability"); v.Exists() {
		if v.Type != gjson.Number {
			return Snapshot{}, fmt.Errorf("%w: precip_probability is not a number", ErrLookup)
		}
		prob = v.Float()
	}
	amount := 0.0
	if v := hour.Get("precip"); v.Exists() {
		if v.Type != gjson.Number {
			return Snapshot{}, fmt.Errorf("%w: precip is not a number", ErrLookup)
		}
		amount = v.Float()
	}
	precipType := units.Placeholder
	if v := hour.Get("precip_type"); v.Exists() {
		precipType = titleCase.String(v.String())
	}

	layout := s.clockLayout()
	conditions, err := conditionsText(entries, times, idx, condition, now, loc, layout)
	if err != nil {
		return Snapshot{}, err
	}

	return Snapshot{
		Time:          now,
		Available:     true,
		Issued:        time.Unix(times[0], 0).In(loc).Format(layout),
		Valid:         time.Unix(validUntil(times, idx), 0).In(loc).Format(layout),
		Conditions:    conditions,
		Icon:          IconCode(icon),
		Temp:          units.DisplayN(units.Q(temp, units.Celsius), s.TempUnit, 1),
		TempMax:       units.DisplayN(units.Q(high, units.Celsius), s.TempUnit, 1),
		TempMin:       units.DisplayN(units.Q(low, units.Celsius), s.TempUnit, 1),
		WindSpeed:     units.DisplayN(units.Q(windAvg, units.MetresPerSecond), s.WindUnit, 0),
		WindGust:      units.DisplayN(units.Q(windGust, units.MetresPerSecond), s.WindUnit, 0),
		WindDir:       units.CardinalDirection(windDir, windAvg),
		Precip:        units.DisplayN(units.Q(prob, units.Percent), units.Percent, 0),
		PrecipAmount:  units.Display(units.Q(amount, units.Millimetre), s.PrecipUnit),
		PrecipType:    precipType,
		StationOnline: online,
		StationUsed:   used,
	}, nil
}

// conditionsText scans forward from idx until the condition changes and
// describes when it does, relative to now's calendar day.
func conditionsText(entries []gjson.Result, times []int64, idx int, current string, now time.Time, loc *time.Location, layout string) (string, error) {
	for j := idx + 1; j < len(entries); j++ {
		c, err := str(entries[j], "conditions")
		if err != nil {
			return "", err
		}
		if c == current {
			continue
		}
		change := time.Unix(times[j], 0).In(loc)
		return fmt.Sprintf("%s until %s %s", current, change.Format(layout), dayLabel(now, change)), nil
	}
	return current, nil
}

func dayLabel(now, t time.Time) string {
	y1, m1, d1 := now.Date()
	y2, m2, d2 := t.Date()
	a := time.Date(y1, m1, d1, 0, 0, 0, 0, time.UTC)
	b := time.Date(y2, m2, d2, 0, 0, 0, 0, time.UTC)
	switch int(b.Sub(a).Hours() / 24) {
	case 0:
		return "today"
	case 1:
		return "tomorrow"
	default:
		return t.Weekday().String()
	}
}

// ExtractDaily builds s.Panels daily entries. Entries that are missing or
// malformed become zeroed placeholders rather than failing the set.
func ExtractDaily(doc gjson.Result, s Settings) []Day {
	days := doc.Get("forecast.daily").Array()
	out := make([]Day, s.Panels)
	for i := range out {
		d, err := dailyEntry(days, i, s)
		if err != nil {
			d = placeholderDay(s)
		}
		out[i] = d
	}
	return out
}

func placeholderDay(s Settings) Day {
	return Day{
		Date:    "0/0",
		Weekday: time.Monday.String()[:3],
		TempMax: units.DisplayN(units.Q(0, units.Celsius), s.TempUnit, 0),
		TempMin: units.DisplayN(units.Q(0, units.Celsius), s.TempUnit, 0),
		Precip:  units.DisplayN(units.Q(0, units.Percent), units.Percent, 0),
		Icon:    IconCode("XX"),
	}
}

func dailyEntry(days []gjson.Result, i int, s Settings) (Day, error) {
	if i >= len(days) {
		return Day{}, fmt.Errorf("%w: daily[%d] out of range", ErrLookup, i)
	}
	d := days[i]

	var month, dayNum, high, low, prob, sunrise float64
	for _, f := range []struct {
		path string
		dst  *float64
	}{
		{"month_num", &month},
		{"day_num", &dayNum},
		{"air_temp_high", &high},
		{"air_temp_low", &low},
		{"precip_probability", &prob},
		{"sunrise", &sunrise},
	} {
		v, err := num(d, f.path)
		if err != nil {
			return Day{}, err
		}
		*f.dst = v
	}
	icon, err := str(d, "icon")
	if err != nil {
		return Day{}, err
	}

	loc := s.loc()
	year := time.Unix(int64(sunrise), 0).In(loc).Year()
	date := time.Date(year, time.Month(month), int(dayNum), 12, 0, 0, 0, loc)

	return Day{
		Date:    fmt.Sprintf("%02d/%02d", int(month), int(dayNum)),
		Weekday: date.Weekday().String()[:3],
		TempMax: units.DisplayN(units.Q(high, units.Celsius), s.TempUnit, 0),
		TempMin: units.DisplayN(units.Q(low, units.Celsius), s.TempUnit, 0),
		Precip:  units.DisplayN(units.Q(prob, units.Percent), units.Percent, 0),
		Icon:    IconCode(icon),
	}, nil
}
