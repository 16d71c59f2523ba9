package supervisor

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/luki/fanmon/internal/config"
	"github.com/luki/fanmon/internal/session"
)

// Fleet holds one Supervisor per configured unit. Tick and Apply may be
// called from different goroutines; readers such as the metrics collector
// use States.
type Fleet struct {
	open session.Opener
	log  *zap.Logger

	mu    sync.RWMutex
	opts  Options
	units map[string]*Supervisor

	// reconfigured wakes Run after Apply so it picks up a new refresh interval.
	reconfigured chan struct{}
}

func NewFleet(opts Options, open session.Opener, log *zap.Logger) *Fleet {
	if log == nil {
		log = zap.NewNop()
	}
	return &Fleet{
		open:  open,
		log:   log,
		opts:  opts,
		units: make(map[string]*Supervisor),

		reconfigured: make(chan struct{}, 1),
	}
}

// Apply reconciles the running units with c. New units are started, units no
// longer listed are torn down and units whose connection settings or poll
// interval changed are restarted. Unchanged units keep their poller and
// history and take the new retention, purge interval and sensor range.
func (f *Fleet) Apply(c *config.Config) {
	opts := OptionsFrom(c)

	var stale []*Supervisor
	f.mu.Lock()
	f.opts = opts
	for name, s := range f.units {
		unit, ok := c.Units[name]
		if ok && unit.SameConnection(s.Unit()) && s.options().PollInterval == opts.PollInterval {
			s.Reconfigure(opts)
			continue
		}
		stale = append(stale, s)
		delete(f.units, name)
	}
	f.mu.Unlock()

	select {
	case f.reconfigured <- struct{}{}:
	default:
	}

	for _, s := range stale {
		f.log.Info("stopping unit", zap.String("unit", s.Name()))
		s.Teardown()
	}

	for _, name := range c.UnitNames() {
		if err := f.Add(*c.Units[name]); err != nil {
			f.log.Debug("unit already running", zap.String("unit", name))
		}
	}
}

// Add starts a supervisor for unit. It fails if a unit of that name exists.
// The device is opened without holding the fleet lock.
func (f *Fleet) Add(unit config.Unit) error {
	f.mu.RLock()
	_, exists := f.units[unit.Name]
	opts := f.opts
	f.mu.RUnlock()
	if exists {
		return fmt.Errorf("unit %q already exists", unit.Name)
	}

	f.log.Info("starting unit", zap.String("unit", unit.Name), zap.String("device", unit.Device), zap.Int("speed", unit.Speed))
	s := New(unit, opts, f.open, f.log)

	f.mu.Lock()
	if _, ok := f.units[unit.Name]; ok {
		f.mu.Unlock()
		s.Teardown()
		return fmt.Errorf("unit %q already exists", unit.Name)
	}
	f.units[unit.Name] = s
	f.mu.Unlock()
	return nil
}

// Remove tears down the named unit. It reports whether the unit existed.
func (f *Fleet) Remove(name string) bool {
	f.mu.Lock()
	s, ok := f.units[name]
	delete(f.units, name)
	f.mu.Unlock()

	if !ok {
		return false
	}
	f.log.Info("removing unit", zap.String("unit", name))
	s.Teardown()
	return true
}

// Get returns the supervisor of the named unit.
func (f *Fleet) Get(name string) (*Supervisor, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	s, ok := f.units[name]
	return s, ok
}

// Names returns the running unit names, sorted.
func (f *Fleet) Names() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	names := make([]string, 0, len(f.units))
	for name := range f.units {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Supervisors returns the running supervisors ordered by unit name.
func (f *Fleet) Supervisors() []*Supervisor {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]*Supervisor, 0, len(f.units))
	for _, s := range f.units {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// States returns the state of every unit ordered by unit name.
func (f *Fleet) States() []State {
	sups := f.Supervisors()
	states := make([]State, len(sups))
	for i, s := range sups {
		states[i] = s.State()
	}
	return states
}

// Tick ticks every unit. A unit that panics is logged and skipped so the
// others keep updating.
func (f *Fleet) Tick(now time.Time) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, s := range f.units {
		f.tickOne(s, now)
	}
}

func (f *Fleet) tickOne(s *Supervisor, now time.Time) {
	defer func() {
		if r := recover(); r != nil {
			f.log.Error("unit tick failed", zap.String("unit", s.Name()), zap.Any("panic", r))
		}
	}()
	s.Tick(now)
}

// RefreshInterval is the tick interval Run currently uses.
func (f *Fleet) RefreshInterval() time.Duration {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.opts.RefreshInterval <= 0 {
		return time.Second
	}
	return f.opts.RefreshInterval
}

// Run ticks the fleet every refresh interval until ctx is cancelled. A
// changed interval takes effect after the next Apply.
func (f *Fleet) Run(ctx context.Context) {
	interval := f.RefreshInterval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			f.Tick(now)
		case <-f.reconfigured:
			if next := f.RefreshInterval(); next != interval {
				f.log.Info("refresh interval changed", zap.Duration("from", interval), zap.Duration("to", next))
				interval = next
				ticker.Reset(interval)
			}
		}
	}
}

// Close tears down every unit.
func (f *Fleet) Close() {
	f.mu.Lock()
	units := f.units
	f.units = make(map[string]*Supervisor)
	f.mu.Unlock()

	for _, s := range units {
		s.Teardown()
	}
}
