package monitor

import (
	"context"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/luki/fanmon/internal/config"
	"github.com/luki/fanmon/internal/session"
	"github.com/luki/fanmon/internal/supervisor"
)

type stubSession struct{}

func (stubSession) Query(ctx context.Context, command string, multiLine bool) (string, error) {
	return "fan1,\"CPU Fan\",1200,20.0,45.0\nsensor1,\"Intake\",31.5", nil
}

func (stubSession) Identity() session.Identity {
	return session.Identity{Manufacturer: "TJKO Industries", Model: "FANPICO-0804", Serial: "e660", Firmware: "1.6.0"}
}

func (stubSession) Close() error { return nil }

func openStub(address string, baud int, timeout time.Duration) (session.Session, error) {
	if address == "/dev/missing" {
		return nil, &session.ConnectError{Address: address, Err: context.DeadlineExceeded}
	}
	return stubSession{}, nil
}

func newTestModel(t *testing.T, units ...config.Unit) (Model, *supervisor.Fleet) {
	t.Helper()
	c := config.DefaultConfig()
	c.PollInterval = time.Millisecond
	for i := range units {
		u := units[i]
		c.Units[u.Name] = &u
	}
	fleet := supervisor.NewFleet(supervisor.OptionsFrom(&c), openStub, nil)
	fleet.Apply(&c)
	t.Cleanup(fleet.Close)

	m := New(fleet, &c)
	next, _ := m.Update(tea.WindowSizeMsg{Width: 120, Height: 60})
	return next.(Model), fleet
}

func TestViewBeforeResize(t *testing.T) {
	c := config.DefaultConfig()
	m := New(supervisor.NewFleet(supervisor.OptionsFrom(&c), openStub, nil), &c)
	if got := m.View(); !strings.Contains(got, "Initializing") {
		t.Errorf("expected initializing view, got %q", got)
	}
}

func TestViewNoUnits(t *testing.T) {
	m, _ := newTestModel(t)
	if got := m.View(); !strings.Contains(got, "No units configured") {
		t.Errorf("expected empty-fleet message, got:\n%s", got)
	}
}

func TestTickRecordsAndRenders(t *testing.T) {
	m, fleet := newTestModel(t, config.Unit{Name: "fanpico1", Device: "/dev/ttyACM0", Speed: 115200, Timeout: time.Second})

	s, ok := fleet.Get("fanpico1")
	if !ok {
		t.Fatal("unit not started")
	}
	deadline := time.Now().Add(time.Second)
	for s.State().Snapshot.IsEmpty() {
		if time.Now().After(deadline) {
			t.Fatal("no snapshot")
		}
		time.Sleep(time.Millisecond)
	}

	next, cmd := m.Update(tickMsg(time.Now()))
	if cmd == nil {
		t.Fatal("tick must schedule the next tick")
	}
	m = next.(Model)

	if len(s.Channels()) != 2 {
		t.Fatalf("expected 2 recorded channels, got %v", s.Channels())
	}

	view := m.View()
	for _, want := range []string{"FANPICO MONITOR", "fanpico1", "FANPICO-0804", "CPU Fan", "Intake", "connected"} {
		if !strings.Contains(view, want) {
			t.Errorf("view is missing %q:\n%s", want, view)
		}
	}
}

func TestKeys(t *testing.T) {
	m, _ := newTestModel(t,
		config.Unit{Name: "a", Device: "/dev/ttyACM0", Speed: 115200, Timeout: time.Second},
		config.Unit{Name: "b", Device: "/dev/missing", Speed: 115200, Timeout: time.Second},
	)

	press := func(k string) {
		var msg tea.KeyMsg
		switch k {
		case "tab":
			msg = tea.KeyMsg{Type: tea.KeyTab}
		case "shift+tab":
			msg = tea.KeyMsg{Type: tea.KeyShiftTab}
		default:
			msg = tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(k)}
		}
		next, _ := m.Update(msg)
		m = next.(Model)
	}

	press("tab")
	if m.selected != 1 {
		t.Errorf("selected = %d after tab, want 1", m.selected)
	}
	if view := m.View(); !strings.Contains(view, "disconnected") {
		t.Errorf("unit b should render as disconnected:\n%s", view)
	}
	press("tab")
	if m.selected != 0 {
		t.Errorf("selected = %d after wrap, want 0", m.selected)
	}
	press("shift+tab")
	if m.selected != 1 {
		t.Errorf("selected = %d after shift+tab, want 1", m.selected)
	}

	window := m.window
	press("-")
	if m.window != window/2 {
		t.Errorf("window = %s, want %s", m.window, window/2)
	}
	press("+")
	press("+")
	press("+")
	if m.window != m.retention {
		t.Errorf("window = %s, want it capped at retention %s", m.window, m.retention)
	}

	press("p")
	if !m.paused {
		t.Error("p must pause")
	}
	frozen := m.now
	next, _ := m.Update(tickMsg(frozen.Add(5 * time.Second)))
	m = next.(Model)
	if !m.now.Equal(frozen) {
		t.Error("paused view must not advance")
	}

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if cmd == nil {
		t.Fatal("q must return a quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("q must quit")
	}
}

func TestFmtDuration(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "0m00s"},
		{75 * time.Second, "1m15s"},
		{2*time.Hour + 3*time.Minute + 4*time.Second, "2h03m04s"},
	}
	for _, tt := range tests {
		if got := fmtDuration(tt.in); got != tt.want {
			t.Errorf("fmtDuration(%s) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestConfigMsg(t *testing.T) {
	m, _ := newTestModel(t)

	c := config.DefaultConfig()
	c.RefreshInterval = 250 * time.Millisecond
	c.Window = 2 * time.Minute
	c.Retention = 10 * time.Minute

	next, cmd := m.Update(ConfigMsg{Config: &c})
	m = next.(Model)
	if cmd != nil {
		t.Error("config reload must not schedule a second tick")
	}
	if m.interval != 250*time.Millisecond {
		t.Errorf("interval = %s, want 250ms", m.interval)
	}
	if m.window != 2*time.Minute {
		t.Errorf("window = %s, want 2m", m.window)
	}
	if m.retention != 10*time.Minute {
		t.Errorf("retention = %s, want 10m", m.retention)
	}

	next, _ = m.Update(ConfigMsg{})
	if next.(Model).window != 2*time.Minute {
		t.Error("an empty ConfigMsg must leave the model unchanged")
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		w    int
		want string
	}{
		{"CPU Fan", 10, "CPU Fan"},
		{"CPU Fan", 5, "CPU …"},
		{"Lüfter Gehäuse", 8, "Lüfter …"},
		{"Gehäuse", 7, "Gehäuse"},
		{"äöü", 2, "äö"},
		{"温度センサー", 4, "温度セ…"},
		{"fan", 0, ""},
	}
	for _, tt := range tests {
		got := truncate(tt.in, tt.w)
		if got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.in, tt.w, got, tt.want)
		}
		if !utf8.ValidString(got) {
			t.Errorf("truncate(%q, %d) returned invalid UTF-8 %q", tt.in, tt.w, got)
		}
	}
}
