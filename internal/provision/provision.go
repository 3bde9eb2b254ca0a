// Package provision builds and upgrades the station config by walking the
// default schema, prompting the user for device IDs and filling the rest
// from the WeatherFlow REST API.
package provision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/lox/wfconsole/internal/ingest"
	"github.com/lox/wfconsole/internal/station"
	"github.com/lox/wfconsole/internal/units"
)

// MaxRetries bounds the attempts made for each remote metadata fetch.
const MaxRetries = 3

// ErrRetriesExhausted is returned when a metadata fetch fails MaxRetries
// times in a row. Callers treat it as fatal.
var ErrRetriesExhausted = errors.New("retries exhausted")

// MetadataAPI is the subset of the WeatherFlow REST client used during
// provisioning.
type MetadataAPI interface {
	Station(ctx context.Context, stationID string) (*ingest.StationResponse, error)
	ObservationUnits(ctx context.Context, stationID string) (*ingest.ObservationResponse, error)
}

type Service struct {
	api           MetadataAPI
	prompt        *Prompter
	logger        *slog.Logger
	retryInterval time.Duration
}

func NewService(api MetadataAPI, prompt *Prompter, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		api:           api,
		prompt:        prompt,
		logger:        logger,
		retryInterval: time.Second,
	}
}

// Result is the outcome of a provisioning run.
type Result struct {
	Config  *station.Config
	Created bool
	// Changed is false when the existing config was already current and has
	// been returned untouched.
	Changed bool
}

// Provision creates a config from schema when existing is nil, upgrades
// existing when its version predates the schema, and otherwise returns it
// unchanged.
func (s *Service) Provision(ctx context.Context, existing *station.Config, schema station.Schema) (Result, error) {
	if err := schema.Validate(); err != nil {
		return Result{}, fmt.Errorf("invalid schema: %w", err)
	}

	sess := &session{Service: s, ctx: ctx, cfg: station.New()}

	if existing == nil {
		if err := sess.create(schema); err != nil {
			return Result{}, err
		}
		return Result{Config: sess.cfg, Created: true, Changed: true}, nil
	}

	current := existing.Value("System", "Version")
	if !station.Older(current, schema.Version()) {
		return Result{Config: existing}, nil
	}
	s.logger.Info("station config is out of date", "current", current, "target", schema.Version())
	if err := sess.update(existing, schema); err != nil {
		return Result{}, err
	}
	return Result{Config: sess.cfg, Changed: true}, nil
}

// session holds the state of one provisioning walk.
type session struct {
	*Service
	ctx context.Context
	cfg *station.Config

	hasTempest   bool
	hasIndoorAir bool

	station *ingest.Station
	units   *ingest.ObservationResponse
}

func (s *session) banner(upgrade bool) {
	p := s.prompt
	p.Println("")
	p.Println("  ===================================================")
	if upgrade {
		p.Println("  New version detected")
	}
	p.Println("  Starting wfconsole configuration wizard")
	p.Println("  ===================================================")
	p.Println("")
	p.Println("  Required fields are marked with an asterix (*)")
	p.Println("")
}

func (s *session) sectionHeader(sec station.SectionSpec) {
	s.prompt.Println("  " + sec.Description)
	s.prompt.Println("  ---------------------------------")
}

func (s *session) create(schema station.Schema) error {
	s.banner(false)
	for _, sec := range schema.Sections {
		s.cfg.AddSection(sec.Name, sec.Description)
		s.sectionHeader(sec)
		for _, k := range sec.Keys {
			if err := s.writeKey(sec.Name, k); err != nil {
				return err
			}
		}
		s.prompt.Println("")
	}
	return nil
}

func (s *session) update(existing *station.Config, schema station.Schema) error {
	s.banner(true)
	for _, sec := range schema.Sections {
		changes := false
		s.cfg.AddSection(sec.Name, sec.Description)
		s.sectionHeader(sec)
		for _, k := range sec.Keys {
			if !existing.Has(sec.Name, k.Name) {
				changes = true
				if err := s.writeKey(sec.Name, k); err != nil {
					return err
				}
				continue
			}
			s.copyKey(existing, sec.Name, k)
			if sec.Name == "System" && k.Name == "Version" {
				changes = true
				s.cfg.Set(sec.Name, k.Name, schema.Version())
				s.prompt.Println("  Updating version number to: " + schema.Version())
			}
		}
		if !changes {
			s.prompt.Println("  No changes required")
		}
		s.prompt.Println("")
	}
	return nil
}

// copyKey carries an existing value forward. Fixed keys always take the
// schema literal, and SKY/outdoor AIR keys are blanked once a TEMPEST has
// been added in this session.
func (s *session) copyKey(existing *station.Config, section string, k station.KeySpec) {
	value := existing.Value(section, k.Name)
	switch {
	case k.Kind == station.KindFixed:
		value = k.Value
	case s.hasTempest && (k.Name == "SkyID" || k.Name == "SkyHeight" || k.Name == "OutAirID" || k.Name == "OutAirHeight"):
		value = ""
	}
	s.cfg.Set(section, k.Name, value)
}

func (s *session) writeKey(section string, k station.KeySpec) error {
	switch k.Kind {
	case station.KindUserInput:
		return s.writeUserInput(section, k)
	case station.KindRequest:
		value, err := s.requestValue(section, k)
		if err != nil {
			return err
		}
		s.add(section, k, value)
	case station.KindDependent:
		s.add(section, k, s.dependentValue(k))
	case station.KindDefault:
		value := k.Value
		if section == "FeelsLike" {
			value = s.cutoff(k)
		}
		s.add(section, k, value)
	case station.KindFixed:
		s.add(section, k, k.Value)
	default:
		return fmt.Errorf("key %s.%s: unknown kind %q", section, k.Name, k.Kind)
	}
	return nil
}

func (s *session) add(section string, k station.KeySpec, value string) {
	s.prompt.Println("  Adding " + k.Desc + ": " + value)
	s.cfg.Set(section, k.Name, value)
}

func (s *session) writeUserInput(section string, k station.KeySpec) error {
	switch k.Name {
	case "TempestID":
		yes, err := s.prompt.Confirm("Do you own a TEMPEST?*")
		if err != nil {
			return err
		}
		if !yes {
			s.cfg.Set(section, k.Name, "")
			return nil
		}
		s.hasTempest = true
	case "InAirID":
		yes, err := s.prompt.Confirm("Do you own an Indoor AIR?*")
		if err != nil {
			return err
		}
		if !yes {
			s.cfg.Set(section, k.Name, "")
			return nil
		}
		s.hasIndoorAir = true
	case "SkyID", "OutAirID":
		if s.hasTempest {
			s.cfg.Set(section, k.Name, "")
			return nil
		}
	}

	required := k.State == station.Required
	label := "  Please enter your " + k.Desc
	if required {
		label += "*"
	}
	label += ": "

	for {
		answer, err := s.prompt.Ask(label)
		if err != nil {
			return err
		}
		if answer == "" {
			if !required {
				s.cfg.Set(section, k.Name, "")
				return nil
			}
			s.prompt.Println("    " + k.Desc + " cannot be empty. Please try again")
			continue
		}
		value, ok := applyFormat(answer, k.Format)
		if !ok {
			s.prompt.Println("    " + k.Desc + " format is not valid. Please try again")
			continue
		}
		s.cfg.Set(section, k.Name, value)
		return nil
	}
}

// askID re-prompts for a numeric identifier until one parses.
func (s *session) askID(prompt, invalidPrompt, label string) (string, error) {
	for {
		answer, err := s.prompt.Ask(prompt)
		if err != nil {
			return "", err
		}
		if answer == "" {
			s.prompt.Println("    " + label + " cannot be empty. Please try again")
			continue
		}
		value, ok := applyFormat(answer, station.FormatInt)
		if !ok {
			prompt = invalidPrompt
			continue
		}
		return value, nil
	}
}

func applyFormat(answer string, f station.Format) (string, bool) {
	if f != station.FormatInt {
		return answer, true
	}
	n, err := strconv.Atoi(answer)
	if err != nil {
		return "", false
	}
	return strconv.Itoa(n), true
}

var barometerLimits = map[string]struct{ max, min string }{
	units.Millibar: {"1050", "950"},
	units.HPA:      {"1050", "950"},
	units.InHg:     {"31.0", "28.0"},
	units.MmHg:     {"788", "713"},
}

func (s *session) dependentValue(k station.KeySpec) string {
	unit := s.cfg.Value("Units", "Pressure")
	limits, ok := barometerLimits[unit]
	if !ok {
		s.logger.Warn("unknown pressure unit, using mb barometer limits", "unit", unit)
		limits = barometerLimits[units.Millibar]
	}
	if k.Name == "BarometerMin" {
		return limits.min
	}
	return limits.max
}

func (s *session) cutoff(k station.KeySpec) string {
	c, err := strconv.ParseFloat(k.Value, 64)
	if err != nil {
		return k.Value
	}
	v := units.CelsiusCutoff(c, s.cfg.Value("Units", "Temp"))
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func (s *session) retry(what string, op backoff.Operation) error {
	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(s.retryInterval), MaxRetries-1),
		s.ctx,
	)
	return backoff.RetryNotify(op, b, func(err error, d time.Duration) {
		s.logger.Warn("metadata request failed, retrying", "request", what, "error", err, "delay", d)
	})
}

func (s *session) ensureStation() error {
	if s.station != nil {
		return nil
	}
	for {
		var resp *ingest.StationResponse
		id := s.cfg.Value("Station", "StationID")
		err := s.retry("station", func() error {
			r, err := s.api.Station(s.ctx, id)
			if errors.Is(err, ingest.ErrStationNotFound) {
				return backoff.Permanent(err)
			}
			if err != nil {
				return err
			}
			resp = r
			return nil
		})
		if errors.Is(err, ingest.ErrStationNotFound) {
			newID, err := s.askID(
				"    Station not found. Please re-enter your Station ID*: ",
				"    Station ID not valid. Please re-enter your Station ID*: ",
				"Station ID",
			)
			if err != nil {
				return err
			}
			s.cfg.Set("Station", "StationID", newID)
			continue
		}
		if err != nil {
			if ctxErr := s.ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return fmt.Errorf("%w: unable to fetch station meta-data: %v", ErrRetriesExhausted, err)
		}
		s.station = &resp.Stations[0]
		return nil
	}
}

func (s *session) ensureUnits() error {
	if s.units != nil {
		return nil
	}
	var resp *ingest.ObservationResponse
	id := s.cfg.Value("Station", "StationID")
	err := s.retry("observation", func() error {
		r, err := s.api.ObservationUnits(s.ctx, id)
		if err != nil {
			return err
		}
		resp = r
		return nil
	})
	if err != nil {
		if ctxErr := s.ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: unable to fetch observation meta-data: %v", ErrRetriesExhausted, err)
	}
	s.units = resp
	return nil
}

type deviceCheck struct {
	idKey      string
	deviceType string
	label      string
}

var heightDevices = map[string]deviceCheck{
	"TempestHeight": {idKey: "TempestID", deviceType: ingest.DeviceTempest, label: "TEMPEST"},
	"SkyHeight":     {idKey: "SkyID", deviceType: ingest.DeviceSky, label: "SKY"},
	"OutAirHeight":  {idKey: "OutAirID", deviceType: ingest.DeviceAir, label: "Outdoor AIR"},
}

func (s *session) requestValue(section string, k station.KeySpec) (string, error) {
	switch k.Source {
	case station.SourceStation:
		if err := s.ensureStation(); err != nil {
			return "", err
		}
	case station.SourceObservation:
		if err := s.ensureUnits(); err != nil {
			return "", err
		}
	}

	if section == "Units" {
		v, ok := s.units.Unit(k.Name)
		if !ok {
			s.logger.Warn("observation metadata has no unit", "key", k.Name)
		}
		return v, nil
	}

	if dev, ok := heightDevices[k.Name]; ok {
		return s.deviceHeight(dev)
	}

	switch k.Name {
	case "Latitude":
		return formatFloat(s.station.Latitude), nil
	case "Longitude":
		return formatFloat(s.station.Longitude), nil
	case "Elevation":
		return formatFloat(s.station.StationElevation()), nil
	case "Timezone":
		return s.station.Timezone, nil
	case "Name":
		return s.station.Name, nil
	}
	return "", fmt.Errorf("request key %s.%s has no metadata mapping", section, k.Name)
}

// deviceHeight validates the configured device ID against the station's
// device list, re-prompting until it matches, and returns its height above
// ground.
func (s *session) deviceHeight(dev deviceCheck) (string, error) {
	for {
		id := s.cfg.Value("Station", dev.idKey)
		if id == "" {
			return "", nil
		}
		if d, ok := s.station.FindDevice(id, dev.deviceType); ok {
			return formatFloat(d.DeviceMeta.AGL), nil
		}
		newID, err := s.askID(
			"    "+dev.label+" not found. Please re-enter your "+dev.label+" device ID*: ",
			"    "+dev.label+" device ID not valid. Please re-enter your "+dev.label+" device ID*: ",
			dev.label+" device ID",
		)
		if err != nil {
			return "", err
		}
		s.cfg.Set("Station", dev.idKey, newID)
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
