// Package config loads the unit list and monitor settings from a YAML file.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"gopkg.in/yaml.v3"
)

const defaultFile = ".fanmon.yaml"

var (
	configReloadSuccess = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "fanmon",
		Name:      "config_last_reload_successful",
		Help:      "fanmon config loaded successfully.",
	})

	configReloadSeconds = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "fanmon",
		Name:      "config_last_reload_success_timestamp_seconds",
		Help:      "Timestamp of the last successful configuration reload.",
	})
)

// Register adds the reload gauges to registry.
func Register(registry prometheus.Registerer) error {
	if err := registry.Register(configReloadSuccess); err != nil {
		return err
	}
	return registry.Register(configReloadSeconds)
}

// DefaultPath returns $HOME/.fanmon.yaml.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return defaultFile
	}
	return filepath.Join(home, defaultFile)
}

// Load reads and validates the config file at path. An empty file yields the
// default config with no units.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse decodes and validates a config document.
func Parse(r io.Reader) (*Config, error) {
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)

	c := DefaultConfig()
	if err := decoder.Decode(&c); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &c, nil
}

// SafeConfig holds the current config and swaps it on reload.
type SafeConfig struct {
	sync.RWMutex
	configFile string
	c          *Config
}

func New(configFile string) *SafeConfig {
	c := DefaultConfig()
	return &SafeConfig{
		c:          &c,
		configFile: configFile,
	}
}

func (sc *SafeConfig) Get() *Config {
	sc.RLock()
	defer sc.RUnlock()
	return sc.c
}

func (sc *SafeConfig) File() string {
	return sc.configFile
}

// LoadConfig reloads the file. On error the previous config stays active.
func (sc *SafeConfig) LoadConfig() (err error) {
	defer func() {
		if err != nil {
			configReloadSuccess.Set(0)
		} else {
			configReloadSuccess.Set(1)
			configReloadSeconds.SetToCurrentTime()
		}
	}()

	c, err := Load(sc.configFile)
	if err != nil {
		return err
	}

	sc.Lock()
	sc.c = c
	sc.Unlock()

	return nil
}
