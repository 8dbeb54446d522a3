package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/hipsterbrown/feetech-servo/feetech"

	"github.com/gwillem/nfconsole/pkg/config"
	"github.com/gwillem/nfconsole/pkg/input"
	"github.com/gwillem/nfconsole/pkg/pendant"
	"github.com/gwillem/nfconsole/pkg/session"
)

var (
	headerStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	subHeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("14"))
	successStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

// Joints with less travel than this are shown in red while calibrating.
const minGoodRange = 500

type SetupCommand struct {
	SkipPendant bool `long:"skip-pendant" description:"Only configure the robot connection"`
}

func (c *SetupCommand) Execute(args []string) error {
	fmt.Println(headerStyle.Render("nfconsole setup"))
	fmt.Println(dimStyle.Render("━━━━━━━━━━━━━━━"))
	fmt.Println()

	cfg := loadConfig()

	// Step 1: robot connection
	chooseRobot(cfg)
	chooseGamepad(cfg)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.SaveTo(opts.ConfigFile); err != nil {
		fmt.Fprintf(os.Stderr, "Error saving config: %v\n", err)
		os.Exit(1)
	}
	if cfg.GetMode() == session.ModeCloud && config.LoadEnv() == "" {
		fmt.Println(dimStyle.Render(fmt.Sprintf("Cloud mode reads its token from %s or a .env file.", config.TokenEnv)))
	}

	// Step 2: optional pendant
	if !c.SkipPendant && confirm("Calibrate a servo pendant?", "An SO-101 leader arm used as gamepad") {
		port := choosePendant()
		if port != "" {
			fmt.Println()
			fmt.Println(subHeaderStyle.Render("━━━ Calibrating Pendant ━━━"))
			fmt.Println()
			cfg.Pendant = config.PendantConfig{
				Port:        port,
				Calibration: calibratePendant(port),
			}
			if err := cfg.SaveTo(opts.ConfigFile); err != nil {
				fmt.Fprintf(os.Stderr, "Error saving config: %v\n", err)
				os.Exit(1)
			}
			recenterPendant(cfg.Pendant)
		}
	}

	fmt.Println()
	fmt.Println(dimStyle.Render("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━"))
	fmt.Println(successStyle.Render("Setup complete!"))
	fmt.Printf("Configuration saved to %s\n", opts.ConfigFile)
	fmt.Println()
	fmt.Println("Start teleoperation with: " + headerStyle.Render("nfconsole teleoperate"))

	return nil
}

func chooseRobot(cfg *config.Config) {
	mode := cfg.GetMode().String()
	host := cfg.Host
	robotID := cfg.RobotID

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("How do you reach the robot?").
				Options(
					huh.NewOption("Simulator", session.ModeSim.String()),
					huh.NewOption("Local network", session.ModeLocal.String()),
					huh.NewOption("Cloud relay", session.ModeCloud.String()),
				).
				Value(&mode),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Host").
				Description("host:port of the robot, simulator or relay").
				Placeholder("localhost:8080").
				Value(&host),
			huh.NewInput().
				Title("Robot id").
				Description("Leave empty for the simulator").
				Value(&robotID),
		),
	)
	if err := form.Run(); err != nil {
		fmt.Println()
		os.Exit(0)
	}

	cfg.Mode = mode
	cfg.Host = strings.TrimSpace(host)
	cfg.RobotID = strings.TrimSpace(robotID)
}

// chooseGamepad offers the first joystick device when one is plugged in.
func chooseGamepad(cfg *config.Config) {
	if cfg.GamepadDevice != "" {
		return
	}
	if _, err := os.Stat(input.DefaultJoystickPath); err != nil {
		return
	}
	if confirm(fmt.Sprintf("Use the gamepad at %s?", input.DefaultJoystickPath), "Squeeze both triggers halfway to unlock it while driving") {
		cfg.GamepadDevice = input.DefaultJoystickPath
	}
}

func confirm(title, description string) bool {
	var ok bool
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title(title).
				Description(description).
				Value(&ok),
		),
	)
	if err := form.Run(); err != nil {
		fmt.Println()
		os.Exit(0)
	}
	return ok
}

func choosePendant() string {
	fmt.Println("Scanning for servo pendants...")
	found, err := pendant.Scan(context.Background())
	if err != nil {
		fmt.Printf("Error listing ports: %v\n", err)
		return ""
	}
	if len(found) == 0 {
		fmt.Println("No pendant found.")
		fmt.Println("Make sure it is connected and powered on.")
		return ""
	}
	if len(found) == 1 {
		fmt.Printf("  Found pendant on %s\n", found[0].Port)
		return found[0].Port
	}

	fmt.Printf("Found %d devices. Let's identify the pendant...\n", len(found))
	for _, f := range found {
		fmt.Printf("\n  Wiggling device on %s...\n", f.Port)
		if err := pendant.Wiggle(context.Background(), f.Port); err != nil {
			fmt.Printf("  Error: %v\n", err)
			continue
		}
		if confirm(fmt.Sprintf("Is the device on %s the pendant?", f.Port), "The arm that just wiggled") {
			return f.Port
		}
	}
	return ""
}

func calibratePendant(port string) pendant.Calibration {
	fmt.Printf("Calibrating pendant on %s\n", port)
	fmt.Println()

	ctx := context.Background()
	bus, servos, err := pendant.Connect(ctx, port)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error connecting to pendant: %v\n", err)
		os.Exit(1)
	}
	defer bus.Close()

	servoMap := make(map[int]*feetech.Servo)
	for _, s := range servos {
		servoMap[s.ID] = feetech.NewServo(bus, s.ID, s.Model)
	}

	// Back-drivable while recording
	for _, servo := range servoMap {
		servo.Disable(ctx)
	}

	fmt.Println(subHeaderStyle.Render("Record range of motion"))
	fmt.Println("Move each joint to its minimum AND maximum positions.")
	fmt.Println("The rest pose you return to becomes neutral on the sticks.")
	fmt.Println()

	joints := pendant.AllJoints()
	initial := make(map[pendant.JointName]int)
	for i, name := range joints {
		pos, _ := servoMap[i+1].Position(ctx)
		initial[name] = pos
	}

	model := calibrationModel{
		joints:   joints,
		servoMap: servoMap,
		ranges:   pendant.NewRangeRecorder(initial),
	}
	finalModel, err := tea.NewProgram(model).Run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error running calibration: %v\n", err)
		os.Exit(1)
	}

	cal := finalModel.(calibrationModel).ranges.Calibration()
	if !cal.Complete() {
		fmt.Fprintln(os.Stderr, "Calibration incomplete: every joint needs some travel.")
		os.Exit(1)
	}
	fmt.Println()
	fmt.Println("Pendant calibrated.")
	return cal
}

// recenterPendant drives the pendant to neutral so the first teleoperation
// session starts with centered sticks.
func recenterPendant(pc config.PendantConfig) {
	p, err := pendant.Open(pc.Port, pc.Calibration)
	if err != nil {
		fmt.Printf("  Could not reopen pendant: %v\n", err)
		return
	}
	defer p.Close()
	fmt.Println(dimStyle.Render("Centering pendant..."))
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := p.Recenter(ctx); err != nil {
		fmt.Printf("  Centering failed: %v\n", err)
	}
}

// Calibration TUI model
type calibrationModel struct {
	joints   []pendant.JointName
	servoMap map[int]*feetech.Servo
	ranges   *pendant.RangeRecorder
	quitting bool
}

type tickMsg time.Time

func tick() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m calibrationModel) Init() tea.Cmd {
	return tick()
}

func (m calibrationModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "enter", "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		}

	case tickMsg:
		ctx := context.Background()
		for i, name := range m.joints {
			pos, err := m.servoMap[i+1].Position(ctx)
			if err != nil {
				continue
			}
			m.ranges.Observe(name, pos)
		}
		return m, tick()
	}

	return m, nil
}

func (m calibrationModel) View() string {
	if m.quitting {
		return ""
	}

	jointStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("14")).Padding(0, 1)
	cellStyle := lipgloss.NewStyle().Padding(0, 1)
	currentStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Padding(0, 1)
	rangeGoodStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Padding(0, 1)
	rangeLowStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Padding(0, 1)

	rows := make([][]string, 0, len(m.joints))
	ranges := make([]int, 0, len(m.joints))
	for _, name := range m.joints {
		r := m.ranges.Range(name)
		ranges = append(ranges, r)
		rows = append(rows, []string{
			string(name),
			fmt.Sprintf("%d", m.ranges.Current[name]),
			fmt.Sprintf("%d", m.ranges.Min[name]),
			fmt.Sprintf("%d", m.ranges.Max[name]),
			fmt.Sprintf("%d", r),
		})
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(dimStyle).
		Headers("Joint", "Current", "Min", "Max", "Range").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return tableHeaderStyle
			}
			switch col {
			case 0:
				return jointStyle
			case 1:
				return currentStyle
			case 4:
				if row >= 0 && row < len(ranges) && ranges[row] > minGoodRange {
					return rangeGoodStyle
				}
				return rangeLowStyle
			default:
				return cellStyle
			}
		})

	return t.Render() + "\n\n" + dimStyle.Render("Press Enter when done")
}
