package ui

import (
	"context"
	"fmt"
	"math"
	"strings"

	"codeberg.org/mutker/powerdash/internal/chart"
	"codeberg.org/mutker/powerdash/internal/dashboard"
	"codeberg.org/mutker/powerdash/internal/errors"
	"codeberg.org/mutker/powerdash/internal/history"
	"codeberg.org/mutker/powerdash/internal/telemetry"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Dashboard is what the terminal view reads and drives.
type Dashboard interface {
	Reading() telemetry.ReadingView
	ConnState() telemetry.ConnState
	View() dashboard.ViewState
	SelectWindow(w chart.Window)
	Refresh(ctx context.Context) error
	Chart() chart.Spec
	OnChange(fn func(dashboard.Change))
}

type changeMsg struct {
	change dashboard.Change
}

type refreshDoneMsg struct {
	err error
}

type Model struct {
	ctx  context.Context
	dash Dashboard

	ready  bool
	width  int
	height int

	spinner  spinner.Model
	spinning bool

	reading telemetry.ReadingView
	conn    telemetry.ConnState
	view    dashboard.ViewState
	spec    chart.Spec

	statusText string
	showHelp   bool
}

func NewModel(ctx context.Context, d Dashboard) Model {
	spin := spinner.New()
	spin.Spinner = spinner.MiniDot
	spin.Style = lipgloss.NewStyle().Foreground(accentSecondary)

	m := Model{
		ctx:      ctx,
		dash:     d,
		spinner:  spin,
		showHelp: true,
	}
	m.sync()
	return m
}

func (m Model) Init() tea.Cmd {
	if m.busy() {
		return m.spinner.Tick
	}
	return nil
}

func refreshCmd(ctx context.Context, d Dashboard) tea.Cmd {
	return func() tea.Msg {
		return refreshDoneMsg{err: d.Refresh(ctx)}
	}
}

func (m *Model) sync() {
	m.reading = m.dash.Reading()
	m.conn = m.dash.ConnState()
	m.view = m.dash.View()
	m.spec = m.dash.Chart()
}

func (m Model) busy() bool {
	return m.view.Loading || m.view.Refreshing
}

// startSpinner returns the first tick when the spinner is not running yet.
func (m *Model) startSpinner() tea.Cmd {
	if !m.busy() || m.spinning {
		return nil
	}
	m.spinning = true
	return m.spinner.Tick
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.ready = true
		return m, nil

	case changeMsg:
		m.sync()
		cmd := m.startSpinner()
		return m, cmd

	case spinner.TickMsg:
		if !m.busy() {
			m.spinning = false
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case refreshDoneMsg:
		m.sync()
		switch {
		case msg.err == nil:
			m.statusText = "Data refreshed"
		case errors.CodeOf(msg.err) == history.ErrStale, errors.CodeOf(msg.err) == dashboard.ErrRefreshInFlight:
			m.statusText = ""
		default:
			m.statusText = "Refresh failed"
		}
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "q":
		return m, tea.Quit
	case "?":
		m.showHelp = !m.showHelp
		return m, nil
	case "1", "t":
		return m.selectWindow(chart.WindowToday)
	case "7", "w":
		return m.selectWindow(chart.WindowWeek)
	case "3", "m":
		return m.selectWindow(chart.WindowMonth)
	case "tab":
		return m.selectWindow(nextWindow(m.view.Window))
	case "r":
		// Disabled while a refresh is in flight
		if m.view.Refreshing {
			return m, nil
		}
		m.view.Refreshing = !m.view.Loading
		m.statusText = "Refreshing..."
		spin := m.startSpinner()
		return m, tea.Batch(refreshCmd(m.ctx, m.dash), spin)
	}
	return m, nil
}

func (m Model) selectWindow(w chart.Window) (tea.Model, tea.Cmd) {
	m.dash.SelectWindow(w)
	m.sync()
	return m, nil
}

func nextWindow(w chart.Window) chart.Window {
	for i, candidate := range chart.Windows {
		if candidate == w {
			return chart.Windows[(i+1)%len(chart.Windows)]
		}
	}
	return chart.DefaultWindow
}

func (m Model) View() string {
	if !m.ready {
		return "Connecting to power monitor..."
	}

	innerWidth := max(40, m.width-2)

	header := headerStyle.Render("Power Monitor")
	status := statusStyle.Render(fmt.Sprintf("* live: %s", m.conn))
	if m.statusText != "" {
		status += "  " + mutedStyle.Render(m.statusText)
	}

	parts := []string{
		header,
		status,
		m.renderCards(),
		m.renderChartPanel(innerWidth - 4),
	}
	if m.showHelp {
		parts = append(parts, mutedStyle.Render("1/t today | 7/w last 7 days | 3/m last 30 days | tab next window | r refresh | ? help | q quit"))
	}

	return lipgloss.NewStyle().
		Width(innerWidth).
		Padding(0, 1).
		Render(strings.Join(parts, "\n"))
}

func (m Model) renderCards() string {
	if !m.reading.HasSample {
		return renderPanel("Live reading", mutedStyle.Render("Waiting for data..."), 0)
	}

	style := cardStyle
	if m.reading.Highlight {
		style = cardBlinkStyle
	}

	s := m.reading.Sample
	cards := []string{
		style.Render(panelTitleStyle.Render("Time") + "\n" + s.Time.Local().Format("15:04:05")),
		style.Render(panelTitleStyle.Render("Current") + "\n" + fmt.Sprintf("%.0f mA", s.Current)),
		style.Render(panelTitleStyle.Render("Voltage") + "\n" + fmt.Sprintf("%.1f V", s.Voltage)),
		style.Render(panelTitleStyle.Render("Power") + "\n" + fmt.Sprintf("%.1f W", s.Power)),
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, cards...)
}

func (m Model) renderTabs() string {
	tabs := make([]string, 0, len(chart.Windows))
	for _, w := range chart.Windows {
		style := tabStyle
		if w == m.view.Window {
			style = activeTabStyle
		}
		tabs = append(tabs, style.Render(w.Label()))
	}

	refresh := mutedStyle.Render("[r] refresh")
	if m.view.Refreshing {
		refresh = m.spinner.View() + " refreshing"
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, append(tabs, "  ", refresh)...)
}

func (m Model) renderChartPanel(width int) string {
	var body string
	switch {
	case m.view.Error != "":
		body = errorStyle.Render("Failed to load data") + "\n" + mutedStyle.Render(m.view.Error)
	case m.view.Loading:
		body = m.spinner.View() + " Loading data..."
	case len(m.spec.Labels) == 0:
		body = mutedStyle.Render("No data for this window")
	default:
		body = m.renderTrends(width - 30)
	}

	return renderPanel("Historical trends: "+m.view.Window.Label(), m.renderTabs()+"\n\n"+body, width)
}

func (m Model) renderTrends(width int) string {
	width = max(8, width)

	lines := make([]string, 0, len(m.spec.Series)+1)
	for _, s := range m.spec.Series {
		axis := m.spec.Left
		if s.Axis == chart.AxisRight {
			axis = m.spec.Right
		}
		name := lipgloss.NewStyle().Foreground(lipgloss.Color(s.Color)).Width(14).Render(s.Name)
		trend := lipgloss.NewStyle().Foreground(lipgloss.Color(s.Color)).Render(renderTrend(s.Values, axis, width))
		last := s.Values[len(s.Values)-1]
		lines = append(lines, fmt.Sprintf("%s %s %s", name, trend, axis.FormatAxisValue(last)))
	}

	first, last := m.spec.Labels[0], m.spec.Labels[len(m.spec.Labels)-1]
	gap := max(1, width-len(first)-len(last))
	lines = append(lines, strings.Repeat(" ", 15)+mutedStyle.Render(first+strings.Repeat(" ", gap)+last))

	return strings.Join(lines, "\n")
}

// renderTrend draws values as a one-line sparkline scaled to the axis domain.
func renderTrend(values []float64, axis chart.Axis, width int) string {
	width = max(1, width)
	if len(values) == 0 {
		return strings.Repeat(".", width)
	}

	levels := []rune("▁▂▃▄▅▆▇█")
	step := float64(len(values)) / float64(width)

	out := make([]rune, width)
	for i := range out {
		src := min(int(math.Floor(float64(i)*step)), len(values)-1)
		p := (values[src] - axis.Min) / (axis.Max - axis.Min)
		p = math.Max(0, math.Min(1, p))
		out[i] = levels[int(math.Round(p*float64(len(levels)-1)))]
	}
	return string(out)
}
