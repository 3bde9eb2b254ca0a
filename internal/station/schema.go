package station

import (
	"fmt"
	"os"
	"strings"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/mod/semver"
)

// DefaultVersion is the schema revision written to System.Version.
const DefaultVersion = "v3.6"

// Kind says where a key's value comes from during provisioning.
type Kind string

const (
	KindFixed     Kind = "fixed"
	KindUserInput Kind = "userInput"
	KindDependent Kind = "dependent"
	KindDefault   Kind = "default"
	KindRequest   Kind = "request"
)

type State string

const (
	Required State = "required"
	Optional State = "optional"
)

// Format validates user input for a key.
type Format string

const (
	FormatString Format = "string"
	FormatInt    Format = "int"
)

// Source names the remote metadata record a request key is read from.
type Source string

const (
	SourceStation     Source = "station"
	SourceObservation Source = "observation"
)

type KeySpec struct {
	Name   string
	Kind   Kind
	Desc   string
	Value  string
	State  State
	Format Format
	Source Source
}

type SectionSpec struct {
	Name        string
	Description string
	Keys        []KeySpec
}

// Schema is the ordered default layout of the station config.
type Schema struct {
	Sections []SectionSpec
}

// Version returns the System.Version literal.
func (s Schema) Version() string {
	if k, ok := s.Key("System", "Version"); ok {
		return k.Value
	}
	return ""
}

// Key looks up a key spec by section and name.
func (s Schema) Key(section, name string) (KeySpec, bool) {
	for _, sec := range s.Sections {
		if sec.Name != section {
			continue
		}
		for _, k := range sec.Keys {
			if k.Name == name {
				return k, true
			}
		}
	}
	return KeySpec{}, false
}

// Validate reports every structural problem in the schema at once.
func (s Schema) Validate() error {
	var result *multierror.Error
	seen := map[string]bool{}
	for _, sec := range s.Sections {
		if seen[sec.Name] {
			result = multierror.Append(result, fmt.Errorf("duplicate section %q", sec.Name))
		}
		seen[sec.Name] = true

		keys := map[string]bool{}
		for _, k := range sec.Keys {
			id := sec.Name + "." + k.Name
			if keys[k.Name] {
				result = multierror.Append(result, fmt.Errorf("duplicate key %s", id))
			}
			keys[k.Name] = true

			switch k.Kind {
			case KindFixed:
				if k.Value == "" {
					result = multierror.Append(result, fmt.Errorf("fixed key %s has no value", id))
				}
			case KindUserInput:
				if k.State != Required && k.State != Optional {
					result = multierror.Append(result, fmt.Errorf("user input key %s has no state", id))
				}
				if k.Format != FormatString && k.Format != FormatInt {
					result = multierror.Append(result, fmt.Errorf("user input key %s has no format", id))
				}
			case KindRequest:
				if k.Source != SourceStation && k.Source != SourceObservation {
					result = multierror.Append(result, fmt.Errorf("request key %s has no source", id))
				}
			case KindDependent, KindDefault:
			default:
				result = multierror.Append(result, fmt.Errorf("key %s has unknown kind %q", id, k.Kind))
			}
		}
	}

	if v := s.Version(); v == "" {
		result = multierror.Append(result, fmt.Errorf("schema has no System.Version"))
	} else if !semver.IsValid(normalizeVersion(v)) {
		result = multierror.Append(result, fmt.Errorf("schema version %q is not a semantic version", v))
	}
	return result.ErrorOrNil()
}

// SchemaOptions carries the values the default schema takes from the
// environment rather than from literals.
type SchemaOptions struct {
	WeatherFlowKey string
	Hardware       string
	Version        string
}

// FeelsLikeKeys lists the temperature cut-off keys in ascending order.
var FeelsLikeKeys = []string{"ExtremelyCold", "FreezingCold", "VeryCold", "Cold", "Mild", "Warm", "Hot", "VeryHot"}

// DefaultSchema returns the station config layout.
func DefaultSchema(opts SchemaOptions) Schema {
	if opts.Version == "" {
		opts.Version = DefaultVersion
	}
	if opts.Hardware == "" {
		opts.Hardware = DetectHardware()
	}

	userInput := func(name, desc string, f Format) KeySpec {
		return KeySpec{Name: name, Kind: KindUserInput, State: Required, Format: f, Desc: desc}
	}
	request := func(name, desc string, src Source) KeySpec {
		return KeySpec{Name: name, Kind: KindRequest, Source: src, Desc: desc}
	}
	def := func(name, value, desc string) KeySpec {
		return KeySpec{Name: name, Kind: KindDefault, Value: value, Desc: desc}
	}

	return Schema{Sections: []SectionSpec{
		{Name: "Keys", Description: "API keys", Keys: []KeySpec{
			userInput("CheckWX", "CheckWX API Key", FormatString),
			{Name: "WeatherFlow", Kind: KindFixed, Value: opts.WeatherFlowKey, Desc: "WeatherFlow API Key"},
		}},
		{Name: "Station", Description: "Station and device IDs", Keys: []KeySpec{
			userInput("StationID", "Station ID", FormatInt),
			userInput("TempestID", "TEMPEST device ID", FormatInt),
			userInput("SkyID", "SKY device ID", FormatInt),
			userInput("OutAirID", "outdoor AIR device ID", FormatInt),
			userInput("InAirID", "indoor AIR device ID", FormatInt),
			request("TempestHeight", "height of TEMPEST", SourceStation),
			request("SkyHeight", "height of SKY", SourceStation),
			request("OutAirHeight", "height of outdoor AIR", SourceStation),
			request("Latitude", "station latitude", SourceStation),
			request("Longitude", "station longitude", SourceStation),
			request("Elevation", "station elevation", SourceStation),
			request("Timezone", "station timezone", SourceStation),
			request("Name", "station name", SourceStation),
			def("IndoorBME280Corr", "2.00", "Correction factor for optional BME280 sensor"),
		}},
		{Name: "Units", Description: "Observation units", Keys: []KeySpec{
			request("Temp", "station temperature units", SourceObservation),
			request("Pressure", "station pressure units", SourceObservation),
			request("Wind", "station wind units", SourceObservation),
			request("Direction", "station direction units", SourceObservation),
			request("Precip", "station precipitation units", SourceObservation),
			request("Distance", "station distance units", SourceObservation),
			request("Other", "station other units", SourceObservation),
		}},
		{Name: "Display", Description: "Display settings", Keys: []KeySpec{
			def("TimeFormat", "24 hr", "time format"),
			def("DateFormat", "Mon, 01 Jan 0000", "date format"),
			def("LightningPanel", "1", "lightning panel toggle"),
			def("IndoorTemp", "1", "indoor temperature toggle"),
		}},
		{Name: "FeelsLike", Description: `"Feels Like" temperature cut-offs`, Keys: []KeySpec{
			def("ExtremelyCold", "-4", `"Feels extremely cold" cut-off temperature`),
			def("FreezingCold", "0", `"Feels freezing cold" cut-off temperature`),
			def("VeryCold", "4", `"Feels very cold" cut-off temperature`),
			def("Cold", "9", `"Feels cold" cut-off temperature`),
			def("Mild", "14", `"Feels mild" cut-off temperature`),
			def("Warm", "18", `"Feels warm" cut-off temperature`),
			def("Hot", "23", `"Feels hot" cut-off temperature`),
			def("VeryHot", "28", `"Feels very hot" cut-off temperature`),
		}},
		{Name: "PrimaryPanels", Description: "Primary panel layout", Keys: []KeySpec{
			def("PanelOne", "Forecast", "Primary display for Panel One"),
			def("PanelTwo", "Temperature", "Primary display for Panel Two"),
			def("PanelThree", "WindSpeed", "Primary display for Panel Three"),
			def("PanelFour", "SunriseSunset", "Primary display for Panel Four"),
			def("PanelFive", "Rainfall", "Primary display for Panel Five"),
			def("PanelSix", "Barometer", "Primary display for Panel Six"),
		}},
		{Name: "SecondaryPanels", Description: "Secondary panel layout", Keys: []KeySpec{
			def("PanelOne", "Sager", "Secondary display for Panel One"),
			def("PanelTwo", "", "Secondary display for Panel Two"),
			def("PanelThree", "", "Secondary display for Panel Three"),
			def("PanelFour", "MoonPhase", "Secondary display for Panel Four"),
			def("PanelFive", "", "Secondary display for Panel Five"),
			def("PanelSix", "Lightning", "Secondary display for Panel Six"),
		}},
		{Name: "System", Description: "System settings", Keys: []KeySpec{
			{Name: "BarometerMax", Kind: KindDependent, Desc: "maximum barometer pressure"},
			{Name: "BarometerMin", Kind: KindDependent, Desc: "minimum barometer pressure"},
			def("Timeout", "20", "Timeout in seconds for API requests"),
			def("Hardware", opts.Hardware, "Hardware type"),
			def("Version", opts.Version, "Version number"),
		}},
	}}
}

// DetectHardware classifies the host board from the device-tree model.
func DetectHardware() string {
	b, err := os.ReadFile("/proc/device-tree/model")
	if err != nil {
		return "Other"
	}
	return classifyHardware(string(b))
}

func classifyHardware(model string) string {
	switch {
	case strings.Contains(model, "Raspberry Pi 4"):
		return "Pi4"
	case strings.Contains(model, "Raspberry Pi 3"):
		return "Pi3"
	case strings.Contains(model, "Raspberry Pi Model B"):
		return "PiB"
	default:
		return "Other"
	}
}
