package input

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/gwillem/nfconsole/pkg/monitoring"
)

// DefaultJoystickPath is the first Linux joystick device.
const DefaultJoystickPath = "/dev/input/js0"

const (
	jsEventButton = 0x01
	jsEventAxis   = 0x02
	jsEventInit   = 0x80
	jsEventSize   = 8
	jsAxisMax     = 32767.0
)

// Axis and button numbers of the Linux xpad driver.
const (
	jsAxisLX = iota
	jsAxisLY
	jsAxisLT
	jsAxisRX
	jsAxisRY
	jsAxisRT
	jsAxisHatX
	jsAxisHatY
)

const (
	jsButtonA = iota
	jsButtonB
	jsButtonX
	jsButtonY
	jsButtonLB
	jsButtonRB
	jsButtonSelect
	jsButtonStart
)

// Joystick reads a Linux joystick device (the js API) in the background.
// Poll returns the latest snapshot.
type Joystick struct {
	path string
	r    io.ReadCloser

	mu      sync.Mutex
	axes    [8]int16
	buttons [16]bool
	alive   bool
	// triggers stay untouched until the driver sends their first value
	triggerSeen [2]bool
}

// OpenJoystick opens the device at path and starts reading events.
func OpenJoystick(path string) (*Joystick, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open joystick %s: %w", path, err)
	}
	return newJoystick(path, f), nil
}

func newJoystick(path string, r io.ReadCloser) *Joystick {
	j := &Joystick{path: path, r: r, alive: true}
	go j.readLoop()
	return j
}

func (j *Joystick) readLoop() {
	buf := make([]byte, jsEventSize)
	for {
		if _, err := io.ReadFull(j.r, buf); err != nil {
			monitoring.Logf("joystick %s: %v", j.path, err)
			j.mu.Lock()
			j.alive = false
			j.mu.Unlock()
			return
		}
		value := int16(binary.LittleEndian.Uint16(buf[4:6]))
		typ := buf[6] &^ jsEventInit
		num := int(buf[7])

		j.mu.Lock()
		switch typ {
		case jsEventButton:
			if num < len(j.buttons) {
				j.buttons[num] = value != 0
			}
		case jsEventAxis:
			if num < len(j.axes) {
				j.axes[num] = value
				switch num {
				case jsAxisLT:
					j.triggerSeen[0] = true
				case jsAxisRT:
					j.triggerSeen[1] = true
				}
			}
		}
		j.mu.Unlock()
	}
}

// Poll implements GamepadSource.
func (j *Joystick) Poll() (Frame, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !j.alive {
		return Frame{}, false
	}

	axis := func(n int) float64 { return float64(j.axes[n]) / jsAxisMax }
	trigger := func(n, seen int) float64 {
		if !j.triggerSeen[seen] {
			return 0
		}
		return (float64(j.axes[n]) + jsAxisMax) / (2 * jsAxisMax)
	}

	// device Y axes point down
	return Frame{
		LeftStick:  Stick{X: axis(jsAxisLX), Y: -axis(jsAxisLY)},
		RightStick: Stick{X: axis(jsAxisRX), Y: -axis(jsAxisRY)},
		LT:         clampUnit(trigger(jsAxisLT, 0)),
		RT:         clampUnit(trigger(jsAxisRT, 1)),
		Buttons: Buttons{
			A:         j.buttons[jsButtonA],
			B:         j.buttons[jsButtonB],
			X:         j.buttons[jsButtonX],
			Y:         j.buttons[jsButtonY],
			LB:        j.buttons[jsButtonLB],
			RB:        j.buttons[jsButtonRB],
			Select:    j.buttons[jsButtonSelect],
			Start:     j.buttons[jsButtonStart],
			DpadUp:    j.axes[jsAxisHatY] < 0,
			DpadDown:  j.axes[jsAxisHatY] > 0,
			DpadLeft:  j.axes[jsAxisHatX] < 0,
			DpadRight: j.axes[jsAxisHatX] > 0,
		},
	}, true
}

// Close stops the reader.
func (j *Joystick) Close() error {
	return j.r.Close()
}

func clampUnit(v float64) float64 {
	return max(0, min(1, v))
}
