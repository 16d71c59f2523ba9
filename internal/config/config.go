package config

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

type Config struct {
	Defaults        UnitDefaults     `yaml:"defaults"`
	PollInterval    time.Duration    `yaml:"poll_interval"`
	RefreshInterval time.Duration    `yaml:"refresh_interval"`
	Window          time.Duration    `yaml:"window"`
	Retention       time.Duration    `yaml:"retention"`
	PurgeInterval   time.Duration    `yaml:"purge_interval"`
	SensorRange     Range            `yaml:"sensor_range"`
	Listen          string           `yaml:"listen"`
	Units           map[string]*Unit `yaml:"units"`
}

type UnitDefaults struct {
	Speed   int           `yaml:"speed"`
	Timeout time.Duration `yaml:"timeout"`
}

// Unit is one configured controller.
type Unit struct {
	Name    string        `yaml:"-"`
	Device  string        `yaml:"device"`
	Speed   int           `yaml:"speed"`
	Timeout time.Duration `yaml:"timeout"`
}

// Range is a [min, max] value band.
type Range [2]float64

func (r Range) Min() float64 { return r[0] }
func (r Range) Max() float64 { return r[1] }

func DefaultConfig() Config {
	return Config{
		Defaults: UnitDefaults{
			Speed:   115200,
			Timeout: 5 * time.Second,
		},
		PollInterval:    2 * time.Second,
		RefreshInterval: time.Second,
		Window:          120 * time.Second,
		Retention:       360 * time.Second,
		PurgeInterval:   time.Hour,
		SensorRange:     Range{0, 60},
		Units:           map[string]*Unit{},
	}
}

// applyDefaults fills per-unit settings left empty from Defaults.
func (c *Config) applyDefaults() {
	if c.Units == nil {
		c.Units = map[string]*Unit{}
	}
	for name, unit := range c.Units {
		if unit == nil {
			unit = &Unit{}
			c.Units[name] = unit
		}
		unit.Name = name
		if unit.Speed == 0 {
			unit.Speed = c.Defaults.Speed
		}
		if unit.Timeout == 0 {
			unit.Timeout = c.Defaults.Timeout
		}
	}
}

// Validate reports every problem that would keep the monitor from running.
func (c *Config) Validate() error {
	var errs []error
	if c.PollInterval <= 0 {
		errs = append(errs, errors.New("poll_interval must be positive"))
	}
	if c.RefreshInterval <= 0 {
		errs = append(errs, errors.New("refresh_interval must be positive"))
	}
	if c.Window <= 0 {
		errs = append(errs, errors.New("window must be positive"))
	}
	if c.Retention < c.Window {
		errs = append(errs, fmt.Errorf("retention %s is shorter than window %s", c.Retention, c.Window))
	}
	if c.PurgeInterval <= 0 {
		errs = append(errs, errors.New("purge_interval must be positive"))
	}
	if c.SensorRange.Max() <= c.SensorRange.Min() {
		errs = append(errs, fmt.Errorf("sensor_range %v is empty", c.SensorRange))
	}
	for _, name := range c.UnitNames() {
		unit := c.Units[name]
		if unit.Device == "" {
			errs = append(errs, fmt.Errorf("unit %q: device missing", name))
		}
		if unit.Speed <= 0 {
			errs = append(errs, fmt.Errorf("unit %q: invalid speed %d", name, unit.Speed))
		}
		if unit.Timeout <= 0 {
			errs = append(errs, fmt.Errorf("unit %q: invalid timeout %s", name, unit.Timeout))
		}
	}
	return errors.Join(errs...)
}

// UnitNames returns the configured unit names, sorted.
func (c *Config) UnitNames() []string {
	names := make([]string, 0, len(c.Units))
	for name := range c.Units {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SameConnection reports whether u and o open the same device the same way.
func (u Unit) SameConnection(o Unit) bool {
	return u.Device == o.Device && u.Speed == o.Speed && u.Timeout == o.Timeout
}
