package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
defaults:
  speed: 57600
  timeout: 3s
window: 60s
sensor_range: [10, 50]
units:
  fanpico1:
    device: /dev/ttyACM0
  fanpico2:
    device: COM3
    speed: 115200
    timeout: 1s
`

func TestParseAppliesDefaults(t *testing.T) {
	c, err := Parse(strings.NewReader(sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, []string{"fanpico1", "fanpico2"}, c.UnitNames())

	u1 := c.Units["fanpico1"]
	assert.Equal(t, "fanpico1", u1.Name)
	assert.Equal(t, "/dev/ttyACM0", u1.Device)
	assert.Equal(t, 57600, u1.Speed)
	assert.Equal(t, 3*time.Second, u1.Timeout)

	u2 := c.Units["fanpico2"]
	assert.Equal(t, 115200, u2.Speed)
	assert.Equal(t, time.Second, u2.Timeout)

	assert.Equal(t, 60*time.Second, c.Window)
	assert.Equal(t, 360*time.Second, c.Retention)
	assert.Equal(t, time.Hour, c.PurgeInterval)
	assert.Equal(t, 2*time.Second, c.PollInterval)
	assert.Equal(t, Range{10, 50}, c.SensorRange)
}

func TestParseEmptyDocument(t *testing.T) {
	c, err := Parse(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, c.Units)
	assert.Equal(t, DefaultConfig().Window, c.Window)
}

func TestParseRejectsUnknownFields(t *testing.T) {
	_, err := Parse(strings.NewReader("units:\n  a:\n    device: x\n    baud: 9600\n"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		msg  string
	}{
		{"missing device", "units:\n  a:\n    speed: 9600\n", `unit "a": device missing`},
		{"bad speed", "units:\n  a:\n    device: x\n    speed: -1\n", "invalid speed"},
		{"short retention", "window: 10m\n", "shorter than window"},
		{"empty range", "sensor_range: [50, 50]\n", "sensor_range"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tt.doc))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestSameConnection(t *testing.T) {
	a := Unit{Name: "a", Device: "/dev/ttyACM0", Speed: 115200, Timeout: time.Second}
	b := a
	b.Name = "b"
	assert.True(t, a.SameConnection(b))
	b.Speed = 9600
	assert.False(t, a.SameConnection(b))
}

func TestSafeConfigReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fanmon.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleConfig), 0o644))

	sc := New(path)
	assert.Empty(t, sc.Get().Units)

	require.NoError(t, sc.LoadConfig())
	assert.Len(t, sc.Get().Units, 2)
	assert.Equal(t, 1.0, testutil.ToFloat64(configReloadSuccess))

	require.NoError(t, os.WriteFile(path, []byte("units: [broken"), 0o644))
	require.Error(t, sc.LoadConfig())
	assert.Len(t, sc.Get().Units, 2, "failed reload keeps the previous config")
	assert.Equal(t, 0.0, testutil.ToFloat64(configReloadSuccess))
}

func TestRegister(t *testing.T) {
	registry := prometheus.NewRegistry()
	require.NoError(t, Register(registry))
	assert.Error(t, Register(registry), "second registration must fail")
}
