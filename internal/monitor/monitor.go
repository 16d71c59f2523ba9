// Package monitor implements the live fan and sensor monitor TUI using
// BubbleTea, with one trend plot per channel of the selected unit.
package monitor

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/luki/fanmon/internal/chart"
	"github.com/luki/fanmon/internal/config"
	"github.com/luki/fanmon/internal/status"
	"github.com/luki/fanmon/internal/supervisor"
)

const (
	plotHeight = 4
	minWindow  = 10 * time.Second
)

// ── Messages ─────────────────────────────────────────────────────────

type tickMsg time.Time

// ConfigMsg carries a reloaded config into a running monitor. It updates the
// refresh interval, retention and plotted window.
type ConfigMsg struct {
	Config *config.Config
}

// ── Model ────────────────────────────────────────────────────────────

// Model is the BubbleTea model for the live monitor. The fleet is ticked
// from Update, so refresh and purge run on the BubbleTea goroutine.
type Model struct {
	fleet     *supervisor.Fleet
	interval  time.Duration
	window    time.Duration
	retention time.Duration
	width     int
	height    int
	scroll    int
	selected  int
	now       time.Time
	startTime time.Time
	paused    bool
}

// New creates the initial model for the live monitor.
func New(fleet *supervisor.Fleet, c *config.Config) Model {
	interval := c.RefreshInterval
	if interval <= 0 {
		interval = time.Second
	}
	return Model{
		fleet:     fleet,
		interval:  interval,
		window:    c.Window,
		retention: c.Retention,
		now:       time.Now(),
		startTime: time.Now(),
	}
}

// ── Commands ─────────────────────────────────────────────────────────

func tickCmd(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// ── Init / Update ────────────────────────────────────────────────────

func (m Model) Init() tea.Cmd {
	return tickCmd(m.interval)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "up", "k":
			if m.scroll > 0 {
				m.scroll--
			}
		case "down", "j":
			m.scroll++
		case "home":
			m.scroll = 0
		case "tab", "right", "l":
			m.selectUnit(1)
		case "shift+tab", "left", "h":
			m.selectUnit(-1)
		case "+", "=":
			m.window *= 2
			if m.retention > 0 && m.window > m.retention {
				m.window = m.retention
			}
		case "-":
			m.window /= 2
			if m.window < minWindow {
				m.window = minWindow
			}
		case " ", "p":
			m.paused = !m.paused
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case ConfigMsg:
		m.reconfigure(msg.Config)

	case tickMsg:
		// history keeps growing while paused; only the plotted time stops
		t := time.Time(msg)
		m.fleet.Tick(t)
		if !m.paused {
			m.now = t
		}
		return m, tickCmd(m.interval)
	}

	return m, nil
}

func (m *Model) reconfigure(c *config.Config) {
	if c == nil {
		return
	}
	if c.RefreshInterval > 0 {
		m.interval = c.RefreshInterval
	}
	m.retention = c.Retention
	m.window = c.Window
	if m.retention > 0 && m.window > m.retention {
		m.window = m.retention
	}
}

func (m *Model) selectUnit(delta int) {
	n := len(m.fleet.Names())
	if n == 0 {
		m.selected = 0
		return
	}
	m.selected = ((m.selected+delta)%n + n) % n
	m.scroll = 0
}

// ── Color palette ────────────────────────────────────────────────────

var (
	colorTitleBg  = lipgloss.Color("17")
	colorTitleFg  = lipgloss.Color("51")
	colorBorder   = lipgloss.Color("62")
	colorUnitName = lipgloss.Color("147")
	colorAdapter  = lipgloss.Color("243")
	colorLabel    = lipgloss.Color("252")
	colorDim      = lipgloss.Color("240")
	colorFooterBg = lipgloss.Color("235")
	colorOk       = lipgloss.Color("78")
	colorWarn     = lipgloss.Color("220")
	colorHigh     = lipgloss.Color("208")
	colorCrit     = lipgloss.Color("196")
	colorPaused   = lipgloss.Color("196")
)

// ── View ─────────────────────────────────────────────────────────────

func (m Model) View() string {
	if m.width == 0 {
		return "  Initializing..."
	}

	contentWidth := m.width - 2
	if contentWidth < 40 {
		contentWidth = 40
	}

	var sections []string

	sections = append(sections, m.renderTitleBar(contentWidth))

	sups := m.fleet.Supervisors()
	if len(sups) == 0 {
		waiting := lipgloss.NewStyle().
			Foreground(colorDim).
			Width(contentWidth).
			Align(lipgloss.Center).
			Padding(2, 0).
			Render("No units configured")
		sections = append(sections, waiting)
	} else {
		selected := m.selected
		if selected >= len(sups) {
			selected = len(sups) - 1
		}
		sections = append(sections, m.renderTabs(sups, selected, contentWidth))
		sections = append(sections, m.renderUnitPanel(sups[selected], contentWidth))
	}

	sections = append(sections, m.renderFooter(contentWidth))

	content := lipgloss.JoinVertical(lipgloss.Left, sections...)

	lines := strings.Split(content, "\n")
	visibleLines := m.height
	if visibleLines < 5 {
		visibleLines = 5
	}
	maxScroll := len(lines) - visibleLines
	if maxScroll < 0 {
		maxScroll = 0
	}
	if m.scroll > maxScroll {
		m.scroll = maxScroll
	}

	start := m.scroll
	end := start + visibleLines
	if end > len(lines) {
		end = len(lines)
	}

	return strings.Join(lines[start:end], "\n")
}

func (m Model) renderTitleBar(width int) string {
	logo := lipgloss.NewStyle().
		Bold(true).
		Foreground(colorTitleFg).
		Render("FANPICO MONITOR")

	dimS := lipgloss.NewStyle().Foreground(colorDim)

	var statusParts []string
	statusParts = append(statusParts, dimS.Render(fmt.Sprintf("up %s", fmtDuration(m.now.Sub(m.startTime)))))
	statusParts = append(statusParts, dimS.Render(m.now.Format("15:04:05")))
	statusParts = append(statusParts, dimS.Render(fmt.Sprintf("window %s", m.window)))

	if m.paused {
		p := lipgloss.NewStyle().
			Foreground(colorPaused).
			Bold(true).
			Render("PAUSED")
		statusParts = append(statusParts, p)
	}

	sep := dimS.Render(" │ ")
	right := strings.Join(statusParts, sep)

	gap := width - lipgloss.Width(logo) - lipgloss.Width(right) - 4
	if gap < 1 {
		gap = 1
	}
	filler := strings.Repeat(" ", gap)

	return lipgloss.NewStyle().
		Background(colorTitleBg).
		Width(width).
		Padding(0, 1).
		Render(logo + filler + right)
}

func (m Model) renderTabs(sups []*supervisor.Supervisor, selected, width int) string {
	var tabs []string
	for i, s := range sups {
		style := lipgloss.NewStyle().Padding(0, 1)
		if !s.State().Connected {
			style = style.Foreground(colorCrit)
		} else {
			style = style.Foreground(colorLabel)
		}
		if i == selected {
			style = style.Bold(true).Underline(true).Foreground(colorUnitName)
		}
		tabs = append(tabs, style.Render(s.Name()))
	}
	return lipgloss.NewStyle().Width(width).Render(strings.Join(tabs, " "))
}

func (m Model) renderUnitPanel(s *supervisor.Supervisor, totalWidth int) string {
	st := s.State()

	innerWidth := totalWidth - 4
	if innerWidth < 30 {
		innerWidth = 30
	}
	chartWidth := innerWidth - 50
	if chartWidth < 15 {
		chartWidth = 15
	}
	if chartWidth > 140 {
		chartWidth = 140
	}

	labelW := 14
	valueW := 9

	dimS := lipgloss.NewStyle().Foreground(colorDim)
	valS := lipgloss.NewStyle().Foreground(lipgloss.Color("250"))

	var rows []string

	model := lipgloss.NewStyle().
		Bold(true).
		Foreground(colorUnitName).
		Render(st.Identity.Manufacturer + " " + st.Identity.Model)
	device := lipgloss.NewStyle().
		Foreground(colorAdapter).
		Render(fmt.Sprintf("%s @ %d", st.Unit.Device, st.Unit.Speed))
	ident := dimS.Render(fmt.Sprintf("serial %s  fw %s", st.Identity.Serial, st.Identity.Firmware))
	rows = append(rows, model+"  "+device+"  "+ident)

	if st.Connected {
		rows = append(rows, lipgloss.NewStyle().Foreground(colorOk).Render("connected"))
	} else {
		msg := "disconnected"
		if st.Err != nil {
			msg = fmt.Sprintf("disconnected: %v", st.Err)
		}
		rows = append(rows, lipgloss.NewStyle().Foreground(colorCrit).Bold(true).Render(msg))
	}

	channels := s.Channels()
	if len(channels) == 0 {
		rows = append(rows, dimS.Render("Waiting for status data..."))
	}

	for _, id := range channels {
		latest, err := s.Latest(id)
		if err != nil {
			continue
		}
		rng := s.Range(id)
		reading, _ := st.Snapshot.Reading(id)

		name := reading.Name()
		if name == "" {
			name = string(id)
		}
		label := lipgloss.NewStyle().
			Foreground(colorLabel).
			Width(labelW).
			Render(truncate(name, labelW))

		var value, extra string
		if id.Group().IsFan() {
			value = chart.RenderValue(latest.Value, "%", 0, 0)
			if rpm, err := reading.RPM(); err == nil {
				extra = dimS.Render(" rpm") + valS.Render(fmt.Sprintf("%5.0f", rpm))
			}
		} else {
			warn, crit := thresholds(rng)
			value = chart.RenderValue(latest.Value, "°C", warn, crit)
		}
		value = lipgloss.NewStyle().Width(valueW).Align(lipgloss.Right).Render(value)

		pts, err := s.Trend(id, m.now, chartWidth, plotHeight, m.window)
		if err != nil {
			continue
		}
		plot := lipgloss.NewStyle().
			Border(lipgloss.NormalBorder(), false, true).
			BorderForeground(colorBorder).
			Render(chart.Render(pts, chartWidth, plotHeight, lineColor(id, latest.Value, rng)))

		band := dimS.Render(fmt.Sprintf(" %g..%g", rng.Min(), rng.Max()))
		rows = append(rows, lipgloss.JoinHorizontal(lipgloss.Top, label, value, " ", plot, extra, band))
	}

	if len(channels) > 0 {
		pad := strings.Repeat(" ", labelW+valueW+2)
		rows = append(rows, pad+chart.RenderAxis(chartWidth, m.window))
	}

	panelContent := lipgloss.JoinVertical(lipgloss.Left, rows...)
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(colorBorder).
		Padding(0, 1).
		Width(totalWidth).
		Render(panelContent)
}

// thresholds places the warn and crit levels at 75% and 90% of the band.
func thresholds(r config.Range) (warn, crit float64) {
	span := r.Max() - r.Min()
	return r.Min() + 0.75*span, r.Min() + 0.9*span
}

func lineColor(id status.ChannelID, v float64, r config.Range) lipgloss.Color {
	if id.Group().IsFan() {
		return colorOk
	}
	warn, crit := thresholds(r)
	return chart.ValueColor(v, warn, crit)
}

func (m Model) renderFooter(width int) string {
	okS := lipgloss.NewStyle().Foreground(colorOk).Render("██")
	warnS := lipgloss.NewStyle().Foreground(colorWarn).Render("██")
	highS := lipgloss.NewStyle().Foreground(colorHigh).Render("██")
	critS := lipgloss.NewStyle().Foreground(colorCrit).Render("██")

	dimS := lipgloss.NewStyle().Foreground(colorDim)
	keyS := lipgloss.NewStyle().Foreground(colorLabel)
	legend := okS + dimS.Render(" ok ") +
		warnS + dimS.Render(" warm ") +
		highS + dimS.Render(" high ") +
		critS + dimS.Render(" crit")

	keys := dimS.Render("q") + keyS.Render(":quit") +
		dimS.Render("  tab") + keyS.Render(":unit") +
		dimS.Render("  +/-") + keyS.Render(":window") +
		dimS.Render("  j/k") + keyS.Render(":scroll") +
		dimS.Render("  p") + keyS.Render(":pause")

	gap := width - lipgloss.Width(legend) - lipgloss.Width(keys) - 4
	if gap < 1 {
		gap = 1
	}
	filler := strings.Repeat(" ", gap)

	return lipgloss.NewStyle().
		Background(colorFooterBg).
		Width(width).
		Padding(0, 1).
		Render(legend + filler + keys)
}

// truncate shortens s to at most w runes.
func truncate(s string, w int) string {
	r := []rune(s)
	if len(r) <= w {
		return s
	}
	if w <= 0 {
		return ""
	}
	if w <= 3 {
		return string(r[:w])
	}
	return string(r[:w-1]) + "…"
}

func fmtDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second
	if h > 0 {
		return fmt.Sprintf("%dh%02dm%02ds", h, m, s)
	}
	return fmt.Sprintf("%dm%02ds", m, s)
}
