package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/NimbleMarkets/ntcharts/canvas/runes"
	"github.com/NimbleMarkets/ntcharts/linechart/streamlinechart"

	"github.com/gwillem/nfconsole/pkg/config"
	"github.com/gwillem/nfconsole/pkg/console"
	"github.com/gwillem/nfconsole/pkg/input"
	"github.com/gwillem/nfconsole/pkg/monitoring"
	"github.com/gwillem/nfconsole/pkg/pendant"
	"github.com/gwillem/nfconsole/pkg/recorder"
	"github.com/gwillem/nfconsole/pkg/scene"
	"github.com/gwillem/nfconsole/pkg/session"
)

type TeleoperateCommand struct {
	Mode     string `long:"mode" choice:"local" choice:"sim" choice:"cloud" description:"Connection mode (overrides config)"`
	Host     string `long:"host" description:"Robot or server host (overrides config)"`
	RobotID  string `long:"robot" description:"Robot id (overrides config)"`
	Hz       int    `long:"hz" description:"Control loop frequency (overrides config)"`
	NoOrbit  bool   `long:"no-orbit" description:"Start with orbit mode off"`
	Gamepad  string `long:"gamepad" description:"Joystick device, e.g. /dev/input/js0"`
	Pendant  bool   `long:"pendant" description:"Use the calibrated servo pendant as gamepad"`
	NoRecord bool   `long:"no-record" description:"Do not record the session"`
}

const (
	headerHeight = 3 // title, status line, blank
	tablesHeight = 9 // targets and components
	footerHeight = 7 // log box height
	maxLogs      = 5 // number of log messages to show
	borderSize   = 2 // chart border
	maxRows      = 5 // table rows before truncation
)

// Chart series, each scaled to [-1, 1].
var seriesColors = []struct {
	name  string
	color string
}{
	{"speed", "46"},
	{"vertical", "51"},
	{"winch", "208"},
	{"finger", "201"},
}

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	chartStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("240"))
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	goodStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	badStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

type teleopModel struct {
	ctrl       *console.Controller
	libLogs    <-chan string
	chart      *streamlinechart.Model
	width      int
	height     int
	logs       []string
	state      console.State
	haveState  bool
	quitting   bool
	lastAction input.Action
}

func (m *teleopModel) addLog(msg string) {
	m.logs = append(m.logs, msg)
	if len(m.logs) > maxLogs {
		m.logs = m.logs[len(m.logs)-maxLogs:]
	}
}

// Messages from the controller
type stateMsg console.State
type logMsg string
type libLogMsg string

func waitForState(ctrl *console.Controller) tea.Cmd {
	return func() tea.Msg {
		return stateMsg(<-ctrl.States())
	}
}

func waitForLog(ch <-chan string) tea.Cmd {
	return func() tea.Msg {
		return logMsg(<-ch)
	}
}

func waitForLibLog(ch <-chan string) tea.Cmd {
	return func() tea.Msg {
		return libLogMsg(<-ch)
	}
}

func (m *teleopModel) chartSize() (width, height int) {
	if m.width == 0 || m.height == 0 {
		return 80, 12
	}
	width = m.width - borderSize - 2
	if width < 40 {
		width = 40
	}
	height = m.height - headerHeight - tablesHeight - footerHeight - borderSize - 2
	if height < 6 {
		height = 6
	}
	return width, height
}

func (m *teleopModel) resizeChart() {
	w, h := m.chartSize()
	m.chart.Resize(w, h)
}

func initialTeleopModel(ctrl *console.Controller, libLogs <-chan string) teleopModel {
	chart := streamlinechart.New(80, 12,
		streamlinechart.WithYRange(-1, 1),
	)
	for _, s := range seriesColors {
		style := lipgloss.NewStyle().Foreground(lipgloss.Color(s.color))
		chart.SetDataSetStyles(s.name, runes.ThinLineStyle, style)
	}
	return teleopModel{
		ctrl:    ctrl,
		libLogs: libLogs,
		chart:   &chart,
	}
}

func (m teleopModel) Init() tea.Cmd {
	return tea.Batch(
		waitForState(m.ctrl),
		waitForLog(m.ctrl.Logs()),
		waitForLibLog(m.libLogs),
	)
}

func (m teleopModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resizeChart()
		return m, nil

	case tea.KeyMsg:
		switch key := msg.String(); key {
		case "esc", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "g":
			m.ctrl.AddCamTarget(m.state.Camera, 0.5, 0.5)
		default:
			m.ctrl.Press(key)
		}
		return m, nil

	case stateMsg:
		m.state = console.State(msg)
		m.haveState = true
		// Freeze the chart when idle
		if a := m.state.Action; a != m.lastAction || a.Speed() > 0 {
			m.pushAction(a)
			m.lastAction = a
		}
		return m, waitForState(m.ctrl)

	case logMsg:
		m.addLog(string(msg))
		return m, waitForLog(m.ctrl.Logs())

	case libLogMsg:
		m.addLog(string(msg))
		return m, waitForLibLog(m.libLogs)
	}

	return m, nil
}

func (m *teleopModel) pushAction(a input.Action) {
	dir := a.Direction()
	m.chart.PushDataSet("speed", a.Speed()/input.MaxSpeed)
	m.chart.PushDataSet("vertical", dir.Z)
	m.chart.PushDataSet("winch", a.Winch()/input.WinchSpeed)
	m.chart.PushDataSet("finger", a.Finger()/input.FingerLimit)
	m.chart.DrawAll()
}

func (m teleopModel) View() string {
	if m.quitting {
		return "Teleoperation stopped.\n"
	}

	var sb strings.Builder

	// Header
	sb.WriteString(titleStyle.Render("nfconsole"))
	sb.WriteString(fmt.Sprintf(" - %d Hz", m.ctrl.Hz()))
	if m.width > 0 {
		sb.WriteString(statusStyle.Render(fmt.Sprintf("  [%dx%d]", m.width, m.height)))
	}
	sb.WriteString("\n")
	sb.WriteString(m.renderStatus())
	sb.WriteString("\n\n")

	sb.WriteString(chartStyle.Render(m.chart.View()))
	sb.WriteString("\n")
	sb.WriteString(renderLegend())
	sb.WriteString("\n")

	sb.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
		renderTargets(m.state.Scene, m.state.Overlay), "  ", renderComponents(m.state.Scene)))
	sb.WriteString("\n")

	logStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Width(max(m.width-4, 40)).
		Foreground(lipgloss.Color("9"))

	var logLines string
	if len(m.logs) == 0 {
		logLines = statusStyle.Render("esc to quit, o orbit, up/down/t/c/delete targets, g add target, tab camera")
	} else {
		logLines = strings.Join(m.logs, "\n")
	}
	sb.WriteString(logStyle.Render(logLines))
	sb.WriteString("\n")

	return sb.String()
}

func (m teleopModel) renderStatus() string {
	if !m.haveState {
		return statusStyle.Render("starting...")
	}
	s := m.state
	var parts []string

	link := s.Session.String()
	switch s.Session {
	case session.Open:
		parts = append(parts, goodStyle.Render(link))
	case session.AuthFailed:
		parts = append(parts, badStyle.Render(link))
	default:
		parts = append(parts, warnStyle.Render(link))
	}
	if s.Online {
		parts = append(parts, goodStyle.Render("online"))
	} else {
		parts = append(parts, badStyle.Render("offline"))
	}
	switch {
	case !s.Gamepad:
		parts = append(parts, statusStyle.Render("no gamepad"))
	case s.Locked:
		parts = append(parts, warnStyle.Render("gamepad locked"))
	default:
		parts = append(parts, goodStyle.Render("gamepad"))
	}
	if s.OrbitMode {
		parts = append(parts, "orbit")
	}
	if g := s.Scene.Gantry; g != nil {
		parts = append(parts, fmt.Sprintf("gantry (%.2f, %.2f, %.2f)", g.X, g.Y, g.Z))
	}
	if len(s.Scene.Cables) > 0 {
		lengths := make([]string, 0, len(s.Scene.Cables))
		for _, c := range s.Scene.Cables {
			lengths = append(lengths, fmt.Sprintf("%.2f", c.Length))
		}
		parts = append(parts, "cables "+strings.Join(lengths, "/"))
	}
	if r := s.Scene.Sensors.Range; r != 0 {
		parts = append(parts, fmt.Sprintf("range %.2f", r))
	}
	if p := s.Scene.Progress; p != nil {
		parts = append(parts, fmt.Sprintf("%s %d%%", p.Label, int(p.Fraction*100)))
	}
	if n := len(s.Scene.Popups); n > 0 {
		parts = append(parts, warnStyle.Render(s.Scene.Popups[n-1]))
	}
	if n := len(s.Scene.Sightings); n > 0 {
		parts = append(parts, fmt.Sprintf("%d sightings", n))
	}
	if s.Camera == console.CameraGripper {
		parts = append(parts, "cam gripper")
	} else {
		parts = append(parts, fmt.Sprintf("cam %d", s.Camera))
	}
	parts = append(parts, statusStyle.Render(fmt.Sprintf("sent %d dropped %d", s.Sent, s.Dropped)))
	return strings.Join(parts, "  ")
}

func renderLegend() string {
	var items []string
	for _, s := range seriesColors {
		colorStyle := lipgloss.NewStyle().Foreground(lipgloss.Color(s.color)).Bold(true)
		items = append(items, colorStyle.Render("━━")+" "+s.name)
	}
	return strings.Join(items, "  ")
}

var (
	tableHeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")).Padding(0, 1)
	tableCellStyle   = lipgloss.NewStyle().Padding(0, 1)
	tableHoverStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Padding(0, 1)
	tableSelectStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true).Padding(0, 1)
)

// imageCoord formats where a target lands in the overlay camera image.
func imageCoord(id string, overlay []console.TargetPixel) string {
	for _, p := range overlay {
		if p.ID != id {
			continue
		}
		if p.UV == nil {
			return "behind"
		}
		return fmt.Sprintf("%.2f,%.2f", p.UV.X, p.UV.Y)
	}
	return "-"
}

func renderTargets(s scene.Snapshot, overlay []console.TargetPixel) string {
	rows := make([][]string, 0, maxRows)
	marks := make([]string, 0, maxRows)
	for _, t := range s.Targets {
		if len(rows) == maxRows {
			break
		}
		mark := ""
		switch t.ID {
		case s.Selected:
			mark = "selected"
		case s.Hovered:
			mark = "hover"
		}
		marks = append(marks, mark)
		rows = append(rows, []string{scene.Label(t), t.Status.String(), imageCoord(t.ID, overlay)})
	}
	if len(rows) == 0 {
		rows = append(rows, []string{"no targets", "", ""})
		marks = append(marks, "")
	}

	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(statusStyle).
		Headers("Target", "Status", "Image").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return tableHeaderStyle
			}
			if row >= 0 && row < len(marks) {
				switch marks[row] {
				case "selected":
					return tableSelectStyle
				case "hover":
					return tableHoverStyle
				}
			}
			return tableCellStyle
		}).
		Render()
}

func renderComponents(s scene.Snapshot) string {
	rows := make([][]string, 0, len(s.Components))
	for _, c := range s.Components {
		rows = append(rows, []string{c.Key.String(), c.Websocket.String(), c.Video.String(), c.IPAddress})
	}
	if len(rows) == 0 {
		rows = append(rows, []string{"no components", "", "", ""})
	}

	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(statusStyle).
		Headers("Component", "Link", "Video", "Address").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return tableHeaderStyle
			}
			if col == 1 || col == 2 {
				if row >= 0 && row < len(rows) && rows[row][col] == "connected" {
					return goodStyle.Padding(0, 1)
				}
				return warnStyle.Padding(0, 1)
			}
			return tableCellStyle
		}).
		Render()
}

func (c *TeleoperateCommand) Execute(args []string) error {
	cfg := loadConfig()
	if c.Mode != "" {
		cfg.Mode = c.Mode
	}
	if c.Host != "" {
		cfg.Host = c.Host
	}
	if c.RobotID != "" {
		cfg.RobotID = c.RobotID
	}
	if c.Hz != 0 {
		cfg.Hz = &c.Hz
	}
	if c.NoOrbit {
		off := false
		cfg.OrbitMode = &off
	}
	if c.Gamepad != "" {
		cfg.GamepadDevice = c.Gamepad
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	token := config.LoadEnv()
	target := cfg.Target(token)
	if target.Mode == session.ModeCloud && token == "" {
		return fmt.Errorf("cloud mode needs a token in %s (or .env)", config.TokenEnv)
	}
	keymap, _ := cfg.GetKeymap()

	var rec console.Recorder
	if path := cfg.GetRecordPath(); path != "" && !c.NoRecord {
		r, err := recorder.Open(path, target.RobotID, target.Mode.String())
		if err != nil {
			return fmt.Errorf("opening recorder: %w", err)
		}
		defer r.Close()
		rec = r
	}

	gamepad, err := openGamepad(cfg, c.Pendant)
	if err != nil {
		return err
	}

	// Library diagnostics go to the log box instead of the alt screen.
	libLogs := make(chan string, 16)
	monitoring.SetLogger(func(format string, v ...any) {
		select {
		case libLogs <- fmt.Sprintf(format, v...):
		default:
		}
	})
	defer monitoring.SetLogger(log.Printf)

	ctrl, err := console.NewController(console.Config{
		Target:         target,
		Transport:      session.Websocket{},
		Hz:             cfg.GetHz(),
		OrbitMode:      cfg.GetOrbitMode(),
		Keymap:         keymap,
		HoldWindow:     cfg.GetKeyHold(),
		ReconnectDelay: cfg.GetReconnectDelay(),
		Gamepad:        gamepad,
		Recorder:       rec,
	})
	if err != nil {
		if cl, ok := gamepad.(io.Closer); ok {
			cl.Close()
		}
		return fmt.Errorf("creating controller: %w", err)
	}
	defer ctrl.Close()

	// The loop must be gone before the recorder closes and the logger is
	// restored.
	ctx, cancel := context.WithCancel(context.Background())
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		if err := ctrl.Start(ctx); err != nil && err != context.Canceled {
			log.Printf("Controller error: %v", err)
		}
	}()

	p := tea.NewProgram(initialTeleopModel(ctrl, libLogs), tea.WithAltScreen())
	_, err = p.Run()
	cancel()
	<-loopDone
	if err != nil {
		return fmt.Errorf("running program: %w", err)
	}
	return nil
}

// openGamepad picks the pendant or a joystick device. A requested pendant
// must open; a missing joystick falls back to the keyboard.
func openGamepad(cfg *config.Config, usePendant bool) (input.GamepadSource, error) {
	if usePendant {
		if !cfg.Pendant.IsCalibrated() {
			return nil, fmt.Errorf("pendant not calibrated, run 'nfconsole setup' first")
		}
		p, err := pendant.Open(cfg.Pendant.Port, cfg.Pendant.Calibration)
		if err != nil {
			return nil, fmt.Errorf("opening pendant: %w", err)
		}
		return p, nil
	}
	if cfg.GamepadDevice == "" {
		return nil, nil
	}
	js, err := input.OpenJoystick(cfg.GamepadDevice)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Gamepad unavailable (%v); using keyboard only\n", err)
		return nil, nil
	}
	return js, nil
}
