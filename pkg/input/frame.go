// Package input fuses keyboard and gamepad input into rate-limited robot
// commands.
package input

import "math"

// Deadzone is the stick magnitude below which a gamepad axis reads as zero.
const Deadzone = 0.1

// Stick is an analog stick. Positive X is right, positive Y is up.
type Stick struct {
	X, Y float64
}

// Buttons holds the digital buttons in standard gamepad layout.
type Buttons struct {
	A, B, X, Y bool
	LB, RB     bool
	Select     bool
	Start      bool
	DpadUp     bool
	DpadDown   bool
	DpadLeft   bool
	DpadRight  bool
}

// Frame is one sample of a controller.
type Frame struct {
	LeftStick  Stick
	RightStick Stick
	Buttons    Buttons
	// LT and RT are analog triggers in [0, 1].
	LT, RT float64
}

// ApplyDeadzone zeroes v if it is inside the deadzone. Values outside are
// passed through unscaled.
func ApplyDeadzone(v float64) float64 {
	if math.Abs(v) < Deadzone {
		return 0
	}
	return v
}

func (f Frame) withDeadzone() Frame {
	f.LeftStick = Stick{ApplyDeadzone(f.LeftStick.X), ApplyDeadzone(f.LeftStick.Y)}
	f.RightStick = Stick{ApplyDeadzone(f.RightStick.X), ApplyDeadzone(f.RightStick.Y)}
	return f
}

// Merge combines two frames: buttons are ORed, triggers take the max and
// stick axes are summed without re-clamping.
func Merge(a, b Frame) Frame {
	return Frame{
		LeftStick:  Stick{a.LeftStick.X + b.LeftStick.X, a.LeftStick.Y + b.LeftStick.Y},
		RightStick: Stick{a.RightStick.X + b.RightStick.X, a.RightStick.Y + b.RightStick.Y},
		Buttons: Buttons{
			A:         a.Buttons.A || b.Buttons.A,
			B:         a.Buttons.B || b.Buttons.B,
			X:         a.Buttons.X || b.Buttons.X,
			Y:         a.Buttons.Y || b.Buttons.Y,
			LB:        a.Buttons.LB || b.Buttons.LB,
			RB:        a.Buttons.RB || b.Buttons.RB,
			Select:    a.Buttons.Select || b.Buttons.Select,
			Start:     a.Buttons.Start || b.Buttons.Start,
			DpadUp:    a.Buttons.DpadUp || b.Buttons.DpadUp,
			DpadDown:  a.Buttons.DpadDown || b.Buttons.DpadDown,
			DpadLeft:  a.Buttons.DpadLeft || b.Buttons.DpadLeft,
			DpadRight: a.Buttons.DpadRight || b.Buttons.DpadRight,
		},
		LT: math.Max(a.LT, b.LT),
		RT: math.Max(a.RT, b.RT),
	}
}

// GamepadSource yields the current gamepad sample. ok is false when no
// usable gamepad is present this tick; sources never fail otherwise.
type GamepadSource interface {
	Poll() (f Frame, ok bool)
}
