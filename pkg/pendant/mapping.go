package pendant

import "github.com/gwillem/nfconsole/pkg/input"

// Thresholds on normalized joint positions ([-100, 100]).
const (
	VerticalDeadzone = 15.0
	WristThreshold   = 50.0
	GripThreshold    = 40.0
)

// ToFrame maps normalized joint positions to a gamepad frame.
//
// The shoulder drives the left stick. The elbow drives vertical motion
// through the trigger pair, centred at 0.5 so the pendant unlocks at rest.
// Wrist flex past WristThreshold works the winch buttons and the gripper
// past GripThreshold opens or closes the finger.
func ToFrame(pos map[JointName]float64) input.Frame {
	var f input.Frame
	f.LeftStick.X = pos[ShoulderPan] / 100
	f.LeftStick.Y = pos[ShoulderLift] / 100

	var d float64
	if e := pos[ElbowFlex]; e > VerticalDeadzone || e < -VerticalDeadzone {
		d = e / 100
	}
	f.LT = 0.5 - d/2
	f.RT = 0.5 + d/2

	switch w := pos[WristFlex]; {
	case w > WristThreshold:
		f.Buttons.Y = true
	case w < -WristThreshold:
		f.Buttons.X = true
	}
	switch g := pos[Gripper]; {
	case g > GripThreshold:
		f.Buttons.A = true
	case g < -GripThreshold:
		f.Buttons.B = true
	}
	return f
}
