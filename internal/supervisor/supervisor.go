// Package supervisor ties a unit's poller to its channel histories and
// manages the set of configured units.
package supervisor

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/luki/fanmon/internal/chart"
	"github.com/luki/fanmon/internal/config"
	"github.com/luki/fanmon/internal/history"
	"github.com/luki/fanmon/internal/poller"
	"github.com/luki/fanmon/internal/session"
	"github.com/luki/fanmon/internal/status"
)

// ErrUnknownChannel is returned for a channel that was never recorded.
var ErrUnknownChannel = errors.New("unknown channel")

// FanRange is the y band of duty cycle plots.
var FanRange = config.Range{0, 100}

// Options are the settings shared by all supervisors. RefreshInterval is
// only used by Fleet.Run.
type Options struct {
	PollInterval    time.Duration
	RefreshInterval time.Duration
	Retention       time.Duration
	PurgeInterval   time.Duration
	SensorRange     config.Range
}

// OptionsFrom extracts the supervisor settings from c.
func OptionsFrom(c *config.Config) Options {
	return Options{
		PollInterval:    c.PollInterval,
		RefreshInterval: c.RefreshInterval,
		Retention:       c.Retention,
		PurgeInterval:   c.PurgeInterval,
		SensorRange:     c.SensorRange,
	}
}

func (o Options) withDefaults() Options {
	if o.Retention <= 0 {
		o.Retention = history.DefaultRetention * time.Second
	}
	if o.PurgeInterval <= 0 {
		o.PurgeInterval = time.Hour
	}
	if o.SensorRange.Max() <= o.SensorRange.Min() {
		o.SensorRange = config.Range{0, 60}
	}
	return o
}

// State is a point-in-time view of a supervisor for display.
type State struct {
	Unit      config.Unit
	Identity  session.Identity
	Connected bool
	Err       error
	Snapshot  *status.Snapshot
	Stats     poller.Stats
}

// Supervisor owns one unit's poller and the history of its channels.
// Refresh, Tick and Trend are meant to be called from a single goroutine.
type Supervisor struct {
	unit    config.Unit
	log     *zap.Logger
	poller  *poller.Poller
	history *history.Store

	mu   sync.Mutex
	opts Options

	nextPurge time.Time
}

// New connects to the unit and starts polling it. A unit that cannot be
// opened still yields a Supervisor; its State carries the connect error.
func New(unit config.Unit, opts Options, open session.Opener, log *zap.Logger) *Supervisor {
	if log == nil {
		log = zap.NewNop()
	}
	opts = opts.withDefaults()

	s := &Supervisor{
		unit:    unit,
		opts:    opts,
		log:     log.With(zap.String("unit", unit.Name)),
		history: history.NewStore(),
	}

	s.poller = poller.New(unit.Name, open, unit.Device, unit.Speed, poller.Options{
		Interval: opts.PollInterval,
		Timeout:  unit.Timeout,
	}, log)
	s.poller.Start()

	return s
}

func (s *Supervisor) options() Options {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opts
}

// Reconfigure replaces retention, purge interval and sensor range. The poll
// interval is fixed for the life of the poller; Fleet.Apply restarts a unit
// to change it.
func (s *Supervisor) Reconfigure(opts Options) {
	opts = opts.withDefaults()
	s.mu.Lock()
	defer s.mu.Unlock()
	opts.PollInterval = s.opts.PollInterval
	s.opts = opts
}

func (s *Supervisor) Name() string {
	return s.unit.Name
}

func (s *Supervisor) Unit() config.Unit {
	return s.unit
}

// Refresh appends the newest snapshot's values to the channel histories,
// keyed by the snapshot's poll time. It does nothing until the first poll.
func (s *Supervisor) Refresh() {
	snap := s.poller.Snapshot()
	ts, ok := snap.LastUpdate()
	if !ok {
		return
	}

	for _, id := range snap.Channels() {
		r, _ := snap.Reading(id)
		v, err := channelValue(id, r)
		if err != nil {
			s.log.Debug("skipping channel value", zap.String("channel", string(id)), zap.Error(err))
			continue
		}
		s.history.Record(string(id), ts, v)
	}
}

// channelValue picks the plotted value: duty for fans, temperature for sensors.
func channelValue(id status.ChannelID, r status.Reading) (float64, error) {
	group, _, ok := id.Parse()
	switch {
	case !ok:
		return 0, fmt.Errorf("%s: untracked group", id)
	case group.IsFan():
		return r.Duty()
	default:
		return r.Temperature()
	}
}

// Tick runs Refresh and, once per purge interval, drops samples older than
// the retention horizon.
func (s *Supervisor) Tick(now time.Time) {
	s.Refresh()

	interval := s.options().PurgeInterval
	if s.nextPurge.IsZero() {
		s.nextPurge = now.Add(interval)
		return
	}
	if now.Before(s.nextPurge) {
		return
	}
	s.nextPurge = now.Add(interval)
	s.Purge(now)
}

// Purge drops samples older than the retention horizon relative to now.
func (s *Supervisor) Purge(now time.Time) int {
	cutoff := now.Add(-s.options().Retention).Unix()
	removed := s.history.PurgeOlderThan(cutoff)
	s.log.Debug("purged history", zap.Int64("cutoff", cutoff), zap.Int("removed", removed))
	return removed
}

// Channels returns the IDs that have history, in display order.
func (s *Supervisor) Channels() []status.ChannelID {
	keys := s.history.Keys()
	ids := make([]status.ChannelID, len(keys))
	for i, k := range keys {
		ids[i] = status.ChannelID(k)
	}
	sortIDs(ids)
	return ids
}

func sortIDs(ids []status.ChannelID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i].Less(ids[j]) })
}

// Latest returns the newest recorded value of a channel.
func (s *Supervisor) Latest(id status.ChannelID) (history.Point, error) {
	b := s.history.Get(string(id))
	if b == nil {
		return history.Point{}, fmt.Errorf("%s: %w", id, ErrUnknownChannel)
	}
	p, ok := b.Last()
	if !ok {
		return history.Point{}, fmt.Errorf("%s: no samples", id)
	}
	return p, nil
}

// Range returns the y band used to plot the channel.
func (s *Supervisor) Range(id status.ChannelID) config.Range {
	if id.Group().IsFan() {
		return FanRange
	}
	return s.options().SensorRange
}

// Trend samples the channel's history for a width x height plot covering
// window up to now.
func (s *Supervisor) Trend(id status.ChannelID, now time.Time, width, height int, window time.Duration) ([]chart.Point, error) {
	b := s.history.Get(string(id))
	if b == nil {
		return nil, fmt.Errorf("%s: %w", id, ErrUnknownChannel)
	}
	r := s.Range(id)
	return chart.Sample(b.Entries(), now, chart.Geometry{
		Width:  width,
		Height: height,
		Window: window,
		YMin:   r.Min(),
		YMax:   r.Max(),
	}), nil
}

func (s *Supervisor) State() State {
	return State{
		Unit:      s.unit,
		Identity:  s.poller.Identity(),
		Connected: s.poller.Connected(),
		Err:       s.poller.Err(),
		Snapshot:  s.poller.Snapshot(),
		Stats:     s.poller.Stats(),
	}
}

// Teardown stops the poller and releases the session. It is idempotent.
func (s *Supervisor) Teardown() {
	s.poller.Stop()
	s.log.Debug("supervisor torn down")
}
