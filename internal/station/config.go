// Package station holds the persisted station configuration: an ordered set
// of INI sections describing the user's WeatherFlow devices, units and
// display preferences, together with the default schema it is provisioned
// from.
package station

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/ini.v1"
)

// DefaultPath is where the station config lives unless overridden.
const DefaultPath = "wfconsole.ini"

// Section is one ordered block of key/value pairs.
type Section struct {
	Name        string
	Description string
	keys        []string
	values      map[string]string
}

// Keys returns the key names in file order.
func (s *Section) Keys() []string {
	return append([]string(nil), s.keys...)
}

// Config is an ordered, in-memory station configuration.
type Config struct {
	sections []*Section
	index    map[string]*Section
}

// New returns an empty Config.
func New() *Config {
	return &Config{index: map[string]*Section{}}
}

// Sections returns the sections in file order.
func (c *Config) Sections() []*Section {
	return append([]*Section(nil), c.sections...)
}

// Section returns the named section, or nil.
func (c *Config) Section(name string) *Section {
	return c.index[name]
}

// AddSection appends a section, or returns the existing one with that name.
func (c *Config) AddSection(name, description string) *Section {
	if s, ok := c.index[name]; ok {
		return s
	}
	s := &Section{Name: name, Description: description, values: map[string]string{}}
	c.sections = append(c.sections, s)
	c.index[name] = s
	return s
}

// Has reports whether section.key is present, even with an empty value.
func (c *Config) Has(section, key string) bool {
	s := c.index[section]
	if s == nil {
		return false
	}
	_, ok := s.values[key]
	return ok
}

// Get returns section.key and whether it is present.
func (c *Config) Get(section, key string) (string, bool) {
	s := c.index[section]
	if s == nil {
		return "", false
	}
	v, ok := s.values[key]
	return v, ok
}

// Value returns section.key, or "" when absent.
func (c *Config) Value(section, key string) string {
	v, _ := c.Get(section, key)
	return v
}

// Set writes section.key, creating the section and appending the key when
// they do not exist yet. Existing keys keep their position.
func (c *Config) Set(section, key, value string) {
	s := c.AddSection(section, "")
	if _, ok := s.values[key]; !ok {
		s.keys = append(s.keys, key)
	}
	s.values[key] = value
}

// Float parses section.key as a float. Empty or malformed values return
// ok=false.
func (c *Config) Float(section, key string) (float64, bool) {
	v := strings.TrimSpace(c.Value(section, key))
	if v == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// Location loads Station.Timezone, falling back to UTC.
func (c *Config) Location() *time.Location {
	tz := c.Value("Station", "Timezone")
	if tz == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Load reads a station config file. A missing file returns an error that
// satisfies errors.Is(err, os.ErrNotExist).
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Decode(bytes.NewReader(b))
}

// Decode parses INI text into a Config, keeping section and key order.
func Decode(r io.Reader) (*Config, error) {
	f, err := ini.LoadSources(ini.LoadOptions{
		IgnoreInlineComment:     true,
		SkipUnrecognizableLines: false,
	}, io.NopCloser(r))
	if err != nil {
		return nil, fmt.Errorf("parse station config: %w", err)
	}

	cfg := New()
	for _, sec := range f.Sections() {
		if sec.Name() == ini.DefaultSection && len(sec.Keys()) == 0 {
			continue
		}
		s := cfg.AddSection(sec.Name(), trimComment(sec.Comment))
		for _, k := range sec.Keys() {
			s.keys = append(s.keys, k.Name())
			s.values[k.Name()] = k.Value()
		}
	}
	return cfg, nil
}

// Encode writes the Config as INI text with section descriptions as
// comments.
func (c *Config) Encode(w io.Writer) error {
	f := ini.Empty()
	for _, s := range c.sections {
		sec, err := f.NewSection(s.Name)
		if err != nil {
			return fmt.Errorf("section %s: %w", s.Name, err)
		}
		sec.Comment = s.Description
		for _, k := range s.keys {
			if _, err := sec.NewKey(k, s.values[k]); err != nil {
				return fmt.Errorf("key %s.%s: %w", s.Name, k, err)
			}
		}
	}
	_, err := f.WriteTo(w)
	return err
}

// Save writes the Config to path via a temporary file so a failed write
// never truncates the existing config.
func (c *Config) Save(path string) error {
	var buf bytes.Buffer
	if err := c.Encode(&buf); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("write station config: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return errors.Join(fmt.Errorf("replace station config: %w", err), os.Remove(tmp))
	}
	return nil
}

func trimComment(s string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(l), ";#"))
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
