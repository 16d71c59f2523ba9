// Package poller runs the status polling loop for one controller.
package poller

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/luki/fanmon/internal/session"
	"github.com/luki/fanmon/internal/status"
)

const DefaultInterval = 2 * time.Second

// Options tune a Poller. Zero values select the defaults.
type Options struct {
	Interval time.Duration
	Timeout  time.Duration
	Now      func() time.Time
}

// Stats counts poll cycles and dropped status lines.
type Stats struct {
	Polls     uint64
	Malformed uint64
}

// Poller owns one session and publishes a fresh status.Snapshot after every
// successful query. The first failed query ends the loop for good; the last
// good snapshot stays readable.
type Poller struct {
	unit     string
	address  string
	log      *zap.Logger
	interval time.Duration
	now      func() time.Time

	session  session.Session
	identity session.Identity

	snapshot  atomic.Pointer[status.Snapshot]
	connected atomic.Bool
	polls     atomic.Uint64
	malformed atomic.Uint64

	mu      sync.Mutex
	err     error
	started bool
	stopped bool
	cancel  context.CancelFunc
	done    chan struct{}
	closed  chan struct{}
}

// New opens the device with open. A failed open yields a poller that is
// permanently unconnected, with placeholder identity fields and the
// *session.ConnectError available from Err.
func New(unit string, open session.Opener, address string, baud int, opts Options, log *zap.Logger) *Poller {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	p := &Poller{
		unit:     unit,
		address:  address,
		log:      log.With(zap.String("unit", unit), zap.String("device", address)),
		interval: opts.Interval,
		now:      opts.Now,
		identity: session.UnknownIdentity(),
		done:     make(chan struct{}),
		closed:   make(chan struct{}),
	}
	p.snapshot.Store(status.Empty())

	s, err := open(address, baud, opts.Timeout)
	if err != nil {
		var connErr *session.ConnectError
		if !errors.As(err, &connErr) {
			err = &session.ConnectError{Address: address, Err: err}
		}
		p.err = err
		p.log.Error("cannot connect to device", zap.Error(err))
		return p
	}

	p.session = s
	p.identity = s.Identity()
	p.connected.Store(true)
	p.log.Info("connected to device",
		zap.String("manufacturer", p.identity.Manufacturer),
		zap.String("model", p.identity.Model),
		zap.String("serial", p.identity.Serial),
		zap.String("firmware", p.identity.Firmware))

	return p
}

// Start launches the polling goroutine. It does nothing on an unconnected,
// already started or stopped poller.
func (p *Poller) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started || p.stopped {
		return
	}
	p.started = true

	if p.session == nil {
		close(p.done)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	go p.run(ctx)
}

func (p *Poller) run(ctx context.Context) {
	defer close(p.done)
	p.log.Debug("poller started", zap.Duration("interval", p.interval))
	defer p.log.Debug("poller stopped")

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		reply, err := p.session.Query(ctx, session.StatusCommand, true)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.fail(err)
			return
		}
		p.publish(reply)

		if ctx.Err() != nil {
			return
		}
		timer.Reset(p.interval)
	}
}

func (p *Poller) publish(reply string) {
	channels, malformed := status.Parse(reply)
	if malformed > 0 {
		p.malformed.Add(uint64(malformed))
		p.log.Debug("dropped malformed status lines", zap.Int("count", malformed))
	}

	snap := status.NewSnapshot(channels, p.now())
	p.snapshot.Store(snap)
	p.polls.Add(1)
}

func (p *Poller) fail(err error) {
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
	p.connected.Store(false)

	p.log.Warn("device disconnected",
		zap.Error(err),
		zap.Bool("port_gone", session.IsDisconnect(err)))
}

// Stop ends the polling loop, waits for the goroutine to exit and closes the
// session. It is safe to call more than once and from several goroutines.
func (p *Poller) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		<-p.closed
		return
	}
	p.stopped = true
	started := p.started
	cancel := p.cancel
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if started {
		<-p.done
	} else {
		close(p.done)
	}

	if p.session != nil {
		if err := p.session.Close(); err != nil {
			p.log.Warn("error closing session", zap.Error(err))
		}
	}
	p.connected.Store(false)
	close(p.closed)
}

// Snapshot returns the latest published snapshot, or status.Empty before the
// first successful poll.
func (p *Poller) Snapshot() *status.Snapshot {
	return p.snapshot.Load()
}

// Connected reports whether the loop can still produce snapshots.
func (p *Poller) Connected() bool {
	return p.connected.Load()
}

// Err returns the error that left the poller unconnected, if any.
func (p *Poller) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *Poller) Identity() session.Identity {
	return p.identity
}

func (p *Poller) Unit() string {
	return p.unit
}

func (p *Poller) Stats() Stats {
	return Stats{
		Polls:     p.polls.Load(),
		Malformed: p.malformed.Load(),
	}
}

// Done is closed once the polling goroutine has exited.
func (p *Poller) Done() <-chan struct{} {
	return p.done
}
