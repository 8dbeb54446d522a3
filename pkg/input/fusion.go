package input

import (
	"math"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/gwillem/nfconsole/pkg/wire"
)

// Fusion tuning. Speeds are at full deflection; ActionEpsilon is the
// per-component change that counts as a new action.
const (
	MaxSpeed        = 0.25 // m/s at full deflection
	GripDegPerSec   = 90.0
	FingerLimit     = 90.0
	WinchSpeed      = 0.2 // m/s
	ActionEpsilon   = 1e-6
	MovingThreshold = 1e-3
	ResendInterval  = 50 * time.Millisecond
	OrbitEpsilon    = 1e-6
)

// Action is the continuous command state: [vx, vy, vz, speed, winch, finger].
type Action [6]float64

func (a Action) Direction() wire.Vec3 { return wire.Vec3{X: a[0], Y: a[1], Z: a[2]} }
func (a Action) Speed() float64       { return a[3] }
func (a Action) Winch() float64       { return a[4] }
func (a Action) Finger() float64      { return a[5] }

func (a Action) differs(b Action) bool {
	for i := range a {
		if math.Abs(a[i]-b[i]) > ActionEpsilon {
			return true
		}
	}
	return false
}

// edge maps a button's rising edge to the command it emits.
type edge struct {
	held func(Buttons) bool
	item func() wire.ControlItem
}

func command(c wire.Command) func() wire.ControlItem {
	return func() wire.ControlItem { return &wire.CommandItem{Name: c} }
}

var edges = []edge{
	{
		held: func(b Buttons) bool { return b.Start },
		item: func() wire.ControlItem {
			return &wire.EpisodeControl{Events: []string{wire.EpisodeStartStop}}
		},
	},
	{held: func(b Buttons) bool { return b.DpadUp }, item: command(wire.CommandTightenLines)},
	{held: func(b Buttons) bool { return b.DpadLeft }, item: command(wire.CommandHalfCal)},
	{held: func(b Buttons) bool { return b.DpadRight }, item: command(wire.CommandGrasp)},
	{held: func(b Buttons) bool { return b.Select }, item: command(wire.CommandStopAll)},
}

// Fusion turns per-tick controller samples into control items. It is not
// safe for concurrent use; call it from the control loop only.
type Fusion struct {
	orbitMode   bool
	orbitCenter func() (r3.Vec, bool)
	robot       *[2]float64

	unlocked bool
	held     [5]bool

	finger     float64
	current    Action
	lastAction Action
	lastUpdate time.Time
	lastSend   time.Time
}

// Option configures a Fusion.
type Option func(*Fusion)

// WithOrbitMode enables or disables orbit remapping. It is on by default.
func WithOrbitMode(on bool) Option {
	return func(f *Fusion) { f.orbitMode = on }
}

// NewFusion returns a fusion state machine with the gamepad locked.
func NewFusion(opts ...Option) *Fusion {
	f := &Fusion{orbitMode: true}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// SetOrbitMode toggles orbit remapping.
func (f *Fusion) SetOrbitMode(on bool) { f.orbitMode = on }

// OrbitMode reports whether orbit remapping is enabled.
func (f *Fusion) OrbitMode() bool { return f.orbitMode }

// SetOrbitCenter sets the pivot lookup. center returns the pivot's
// render-frame world position, or false while it is unknown.
func (f *Fusion) SetOrbitCenter(center func() (r3.Vec, bool)) {
	f.orbitCenter = center
}

// SetRobotPosition records the last known gantry floor position in the
// robot frame.
func (f *Fusion) SetRobotPosition(x, y float64) {
	f.robot = &[2]float64{x, y}
}

// Locked reports whether gamepad input is still being ignored.
func (f *Fusion) Locked() bool { return !f.unlocked }

// GamepadConnected re-locks the gamepad; call it whenever a gamepad
// (re)appears so its triggers must prove themselves again.
func (f *Fusion) GamepadConnected() { f.unlocked = false }

// Current returns the action computed on the last tick, sent or not.
func (f *Fusion) Current() Action { return f.current }

// Tick runs one control step. gp is nil when no gamepad is present. The
// returned items are ordered: discrete commands first, then at most one Move.
func (f *Fusion) Tick(now time.Time, kb Frame, gp *Frame) []wire.ControlItem {
	in := kb
	if gp != nil {
		if !f.unlocked {
			// Some drivers report bogus trigger values until first touch.
			if inOpenUnit(gp.LT) && inOpenUnit(gp.RT) {
				f.unlocked = true
			}
		} else {
			in = Merge(kb, gp.withDeadzone())
		}
	}

	var dt float64
	if !f.lastUpdate.IsZero() {
		dt = now.Sub(f.lastUpdate).Seconds()
	}

	vx, vy := f.orbit(in.LeftStick.X, in.LeftStick.Y)
	vz := in.RT - in.LT

	mag := math.Sqrt(vx*vx + vy*vy + vz*vz)
	var speed float64
	if mag > 0 {
		vx, vy, vz = vx/mag, vy/mag, vz/mag
		speed = MaxSpeed * mag
	}

	var grip float64
	switch {
	case in.Buttons.A:
		grip = GripDegPerSec
	case in.Buttons.B:
		grip = -GripDegPerSec
	}
	f.finger = math.Max(-FingerLimit, math.Min(FingerLimit, f.finger+grip*dt))

	var winch float64
	switch {
	case in.Buttons.Y:
		winch = -WinchSpeed
	case in.Buttons.X:
		winch = WinchSpeed
	}

	var items []wire.ControlItem
	for i, e := range edges {
		held := e.held(in.Buttons)
		if held && !f.held[i] {
			items = append(items, e.item())
		}
		f.held[i] = held
	}

	action := Action{vx, vy, vz, speed, winch, f.finger}
	f.current = action
	moving := mag > MovingThreshold
	if action.differs(f.lastAction) || (moving && now.Sub(f.lastSend) > ResendInterval) {
		finger := action.Finger()
		items = append(items, &wire.Move{
			Direction: action.Direction(),
			Speed:     speed,
			Finger:    &finger,
			Winch:     winch,
		})
		f.lastAction = action
		f.lastSend = now
	}

	f.lastUpdate = now
	return items
}

// orbit remaps stick X onto the tangent and stick Y onto the radius of a
// circle around the orbit centre through the robot.
func (f *Fusion) orbit(vx, vy float64) (float64, float64) {
	if !f.orbitMode || f.orbitCenter == nil || f.robot == nil {
		return vx, vy
	}
	p, ok := f.orbitCenter()
	if !ok {
		return vx, vy
	}
	// render (x, z) back to robot (x, y)
	cx, cy := p.X, -p.Z

	dx, dy := f.robot[0]-cx, f.robot[1]-cy
	dist := math.Hypot(dx, dy)
	if dist <= OrbitEpsilon {
		return vx, vy
	}
	rx, ry := dx/dist, dy/dist
	tx, ty := ry, -rx
	return vx*tx + vy*rx, vx*ty + vy*ry
}

func inOpenUnit(v float64) bool { return v > 0 && v < 1 }
