// Package metrics exports the live state of every unit as Prometheus metrics.
package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/luki/fanmon/internal/status"
	"github.com/luki/fanmon/internal/supervisor"
)

const namespace = "fanmon"

// Source provides the unit states to export.
type Source interface {
	States() []supervisor.State
}

// Collector reads the current snapshot of every unit on each scrape.
type Collector struct {
	source Source
	log    *zap.Logger

	fanRPM     *prometheus.Desc
	fanDuty    *prometheus.Desc
	sensorTemp *prometheus.Desc
	up         *prometheus.Desc
	info       *prometheus.Desc
	lastUpdate *prometheus.Desc
	polls      *prometheus.Desc
	malformed  *prometheus.Desc
}

func New(source Source, log *zap.Logger) *Collector {
	if log == nil {
		log = zap.NewNop()
	}
	channelLabels := []string{"unit", "channel", "name"}
	return &Collector{
		source: source,
		log:    log,
		fanRPM: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "fan", "rpm"),
			"Measured fan speed.",
			append(channelLabels, "group"), nil,
		),
		fanDuty: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "fan", "duty_percent"),
			"Fan PWM duty cycle.",
			append(channelLabels, "group"), nil,
		),
		sensorTemp: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "sensor", "temperature_celsius"),
			"Sensor temperature.",
			channelLabels, nil,
		),
		up: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "device", "up"),
			"Whether the unit is still being polled.",
			[]string{"unit"}, nil,
		),
		info: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "device", "info"),
			"Identity reported by the unit.",
			[]string{"unit", "device", "manufacturer", "model", "serial", "firmware"}, nil,
		),
		lastUpdate: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "last_update_timestamp_seconds"),
			"Time of the last successful status poll.",
			[]string{"unit"}, nil,
		),
		polls: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "polls_total"),
			"Successful status polls.",
			[]string{"unit"}, nil,
		),
		malformed: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "malformed_lines_total"),
			"Status lines dropped because they had too few fields.",
			[]string{"unit"}, nil,
		),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.fanRPM
	ch <- c.fanDuty
	ch <- c.sensorTemp
	ch <- c.up
	ch <- c.info
	ch <- c.lastUpdate
	ch <- c.polls
	ch <- c.malformed
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for _, st := range c.source.States() {
		unit := st.Unit.Name

		up := 0.0
		if st.Connected {
			up = 1
		}
		c.send(ch, c.up, prometheus.GaugeValue, up, unit)
		c.send(ch, c.info, prometheus.GaugeValue, 1,
			unit, st.Unit.Device, st.Identity.Manufacturer, st.Identity.Model, st.Identity.Serial, st.Identity.Firmware)
		c.send(ch, c.polls, prometheus.CounterValue, float64(st.Stats.Polls), unit)
		c.send(ch, c.malformed, prometheus.CounterValue, float64(st.Stats.Malformed), unit)

		ts, ok := st.Snapshot.LastUpdate()
		if !ok {
			continue
		}
		c.send(ch, c.lastUpdate, prometheus.GaugeValue, float64(ts), unit)
		c.collectChannels(ch, unit, st.Snapshot)
	}
}

func (c *Collector) collectChannels(ch chan<- prometheus.Metric, unit string, snap *status.Snapshot) {
	for _, id := range snap.Channels() {
		group, _, ok := id.Parse()
		if !ok {
			continue
		}
		r, _ := snap.Reading(id)
		name := r.Name()

		if group.IsFan() {
			if rpm, err := r.RPM(); err == nil {
				c.send(ch, c.fanRPM, prometheus.GaugeValue, rpm, unit, string(id), name, string(group))
			}
			if duty, err := r.Duty(); err == nil {
				c.send(ch, c.fanDuty, prometheus.GaugeValue, duty, unit, string(id), name, string(group))
			}
			continue
		}
		if temp, err := r.Temperature(); err == nil {
			c.send(ch, c.sensorTemp, prometheus.GaugeValue, temp, unit, string(id), name)
		}
	}
}

// send emits one metric. Label values come from the device and are forced
// to valid UTF-8; a metric that still cannot be built is dropped so a scrape
// never panics.
func (c *Collector) send(ch chan<- prometheus.Metric, desc *prometheus.Desc, typ prometheus.ValueType, v float64, labels ...string) {
	for i, l := range labels {
		labels[i] = strings.ToValidUTF8(l, "\uFFFD")
	}
	m, err := prometheus.NewConstMetric(desc, typ, v, labels...)
	if err != nil {
		c.log.Debug("dropping metric", zap.String("desc", desc.String()), zap.Error(err))
		return
	}
	ch <- m
}
