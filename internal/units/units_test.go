package units

import (
	"errors"
	"math"
	"strconv"
	"testing"

	"github.com/lox/wfconsole/internal/station"
)

func TestConvert(t *testing.T) {
	tests := []struct {
		name string
		in   Quantity
		to   string
		want float64
	}{
		{"c to f", Q(20, Celsius), Fahrenheit, 68},
		{"f to c", Q(212, Fahrenheit), Celsius, 100},
		{"mps to kph", Q(10, MetresPerSecond), KPH, 36},
		{"kph to mps", Q(36, KPH), MetresPerSecond, 10},
		{"mb to hpa", Q(1013.2, Millibar), HPA, 1013.2},
		{"mm to cm", Q(12, Millimetre), Centimetre, 1.2},
		{"same unit", Q(3, Mile), Mile, 3},
		{"mps to bft", Q(9, MetresPerSecond), Beaufort, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Convert(tt.in, tt.to)
			if err != nil {
				t.Fatalf("Convert() error = %v", err)
			}
			if math.Abs(got.Value-tt.want) > 1e-6 {
				t.Errorf("Convert() = %v, want %v", got.Value, tt.want)
			}
			if got.Unit != tt.to {
				t.Errorf("Convert() unit = %q, want %q", got.Unit, tt.to)
			}
		})
	}
}

func TestConvertAcrossDimensions(t *testing.T) {
	_, err := Convert(Q(1, Millibar), KPH)
	if !errors.Is(err, ErrUnknownUnit) {
		t.Errorf("Convert(mb->kph) error = %v, want ErrUnknownUnit", err)
	}
}

func TestConvertMissing(t *testing.T) {
	got, err := Convert(Q(math.NaN(), Celsius), Fahrenheit)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Missing() {
		t.Errorf("Convert(NaN) = %v, want NaN", got.Value)
	}
}

func TestCelsiusCutoff(t *testing.T) {
	tests := []struct {
		c    float64
		unit string
		want float64
	}{
		{-4, Fahrenheit, 25},
		{0, Fahrenheit, 32},
		{9, Fahrenheit, 48},
		{14, "F", 57},
		{28, Fahrenheit, 82},
		{9, Celsius, 9},
	}
	for _, tt := range tests {
		if got := CelsiusCutoff(tt.c, tt.unit); got != tt.want {
			t.Errorf("CelsiusCutoff(%v, %q) = %v, want %v", tt.c, tt.unit, got, tt.want)
		}
	}
}

func TestCelsiusCutoffRoundTrip(t *testing.T) {
	schema := station.DefaultSchema(station.SchemaOptions{WeatherFlowKey: "wfkey", Hardware: "Other"})
	for _, name := range station.FeelsLikeKeys {
		t.Run(name, func(t *testing.T) {
			k, ok := schema.Key("FeelsLike", name)
			if !ok {
				t.Fatalf("no FeelsLike.%s in default schema", name)
			}
			c, err := strconv.ParseFloat(k.Value, 64)
			if err != nil {
				t.Fatal(err)
			}
			f := CelsiusCutoff(c, Fahrenheit)
			back, err := Convert(Q(f, Fahrenheit), Celsius)
			if err != nil {
				t.Fatal(err)
			}
			if d := math.Abs(back.Value - c); d > 1 {
				t.Errorf("%v °C -> %v °F -> %.2f °C, off by %.2f", c, f, back.Value, d)
			}
		})
	}
}

func TestCardinalDirection(t *testing.T) {
	tests := []struct {
		dir, speed float64
		want       string
	}{
		{0, 3, "N"},
		{11, 3, "N"},
		{12, 3, "NNE"},
		{90, 3, "E"},
		{225, 3, "SW"},
		{350, 3, "N"},
		{180, 0, "Calm"},
		{math.NaN(), 2, "-"},
	}
	for _, tt := range tests {
		if got := CardinalDirection(tt.dir, tt.speed); got != tt.want {
			t.Errorf("CardinalDirection(%v, %v) = %q, want %q", tt.dir, tt.speed, got, tt.want)
		}
	}
}

func TestBeaufortForce(t *testing.T) {
	tests := []struct {
		mps  float64
		want int
	}{
		{0, 0},
		{0.5, 1},
		{3.2, 2},
		{10.7, 6},
		{40, 12},
	}
	for _, tt := range tests {
		if got := BeaufortForce(tt.mps); got.Force != tt.want {
			t.Errorf("BeaufortForce(%v) = %d, want %d", tt.mps, got.Force, tt.want)
		}
	}
}

func TestDisplay(t *testing.T) {
	tests := []struct {
		name string
		q    Quantity
		unit string
		want string
	}{
		{"temp", Q(21.46, Celsius), Celsius, "21.5 °C"},
		{"temp f", Q(0, Celsius), Fahrenheit, "32.0 °F"},
		{"wind", Q(5, MetresPerSecond), KPH, "18 km/h"},
		{"pressure", Q(1013.25, Millibar), InHg, "29.92 inHg"},
		{"missing", Q(math.NaN(), Celsius), Celsius, "--"},
		{"negative zero", Q(-0.01, Celsius), Celsius, "0.0 °C"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Display(tt.q, tt.unit).String(); got != tt.want {
				t.Errorf("Display() = %q, want %q", got, tt.want)
			}
		})
	}
}
