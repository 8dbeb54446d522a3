package input

import (
	"fmt"
	"sort"
	"time"
)

// DefaultHoldWindow is how long a key counts as held after its last
// press or auto-repeat. Terminals do not report key-up.
const DefaultHoldWindow = 500 * time.Millisecond

// Control is a virtual gamepad input a key can drive.
type Control int

const (
	StickLeft Control = iota
	StickRight
	StickUp
	StickDown
	TriggerLeft
	TriggerRight
	ButtonA
	ButtonB
	ButtonX
	ButtonY
	ButtonSelect
	ButtonStart
	DpadUp
	DpadLeft
	DpadRight
	DpadDown
)

var controlNames = map[Control]string{
	StickLeft:    "stick_left",
	StickRight:   "stick_right",
	StickUp:      "stick_up",
	StickDown:    "stick_down",
	TriggerLeft:  "lt",
	TriggerRight: "rt",
	ButtonA:      "a",
	ButtonB:      "b",
	ButtonX:      "x",
	ButtonY:      "y",
	ButtonSelect: "select",
	ButtonStart:  "start",
	DpadUp:       "dpad_up",
	DpadLeft:     "dpad_left",
	DpadRight:    "dpad_right",
	DpadDown:     "dpad_down",
}

func (c Control) String() string {
	if s, ok := controlNames[c]; ok {
		return s
	}
	return fmt.Sprintf("control(%d)", int(c))
}

// ParseControl looks up a control by its String name.
func ParseControl(name string) (Control, error) {
	for c, s := range controlNames {
		if s == name {
			return c, nil
		}
	}
	return 0, fmt.Errorf("unknown control %q", name)
}

// Keymap binds key names, as reported by bubbletea's KeyMsg.String, to
// controls.
type Keymap map[string]Control

// DefaultKeymap returns the stock WASD layout.
func DefaultKeymap() Keymap {
	return Keymap{
		"w":         StickUp,
		"a":         StickLeft,
		"s":         StickDown,
		"d":         StickRight,
		"q":         TriggerLeft,
		"e":         TriggerRight,
		" ":         ButtonA,
		"f":         ButtonB,
		"z":         ButtonY,
		"x":         ButtonX,
		"backspace": ButtonSelect,
		"enter":     ButtonStart,
		"1":         DpadUp,
		"2":         DpadLeft,
		"3":         DpadRight,
		"4":         DpadDown,
	}
}

// Bind overrides the control for key. Existing bindings of the same
// control are kept.
func (m Keymap) Bind(key, control string) error {
	c, err := ParseControl(control)
	if err != nil {
		return fmt.Errorf("bind %q: %w", key, err)
	}
	m[key] = c
	return nil
}

// Keys returns the bound keys sorted, for help output.
func (m Keymap) Keys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Keyboard converts key presses into a virtual gamepad frame.
type Keyboard struct {
	keymap Keymap
	hold   time.Duration
	last   map[Control]time.Time
}

// NewKeyboard returns a keyboard using keymap. A zero hold uses
// DefaultHoldWindow.
func NewKeyboard(keymap Keymap, hold time.Duration) *Keyboard {
	if keymap == nil {
		keymap = DefaultKeymap()
	}
	if hold <= 0 {
		hold = DefaultHoldWindow
	}
	return &Keyboard{keymap: keymap, hold: hold, last: make(map[Control]time.Time)}
}

// Press records a press or auto-repeat of key. It reports whether the key
// is bound.
func (k *Keyboard) Press(key string, now time.Time) bool {
	c, ok := k.keymap[key]
	if !ok {
		return false
	}
	k.last[c] = now
	return true
}

// Reset releases every key.
func (k *Keyboard) Reset() {
	clear(k.last)
}

func (k *Keyboard) held(c Control, now time.Time) bool {
	t, ok := k.last[c]
	if !ok {
		return false
	}
	if now.Sub(t) > k.hold {
		delete(k.last, c)
		return false
	}
	return true
}

// Frame returns the virtual gamepad state at now.
func (k *Keyboard) Frame(now time.Time) Frame {
	var f Frame
	axis := func(neg, pos Control) float64 {
		var v float64
		if k.held(neg, now) {
			v--
		}
		if k.held(pos, now) {
			v++
		}
		return v
	}
	f.LeftStick.X = axis(StickLeft, StickRight)
	f.LeftStick.Y = axis(StickDown, StickUp)
	if k.held(TriggerLeft, now) {
		f.LT = 1
	}
	if k.held(TriggerRight, now) {
		f.RT = 1
	}
	f.Buttons = Buttons{
		A:         k.held(ButtonA, now),
		B:         k.held(ButtonB, now),
		X:         k.held(ButtonX, now),
		Y:         k.held(ButtonY, now),
		Select:    k.held(ButtonSelect, now),
		Start:     k.held(ButtonStart, now),
		DpadUp:    k.held(DpadUp, now),
		DpadLeft:  k.held(DpadLeft, now),
		DpadRight: k.held(DpadRight, now),
		DpadDown:  k.held(DpadDown, now),
	}
	return f
}
