package session

import (
	"fmt"
	"net/url"
)

// LocalPort is the robot's telemetry port on the LAN.
const LocalPort = 4245

// Mode selects how the console reaches the robot.
type Mode int

const (
	ModeLocal Mode = iota
	ModeSim
	ModeCloud
)

var modeNames = map[Mode]string{
	ModeLocal: "local",
	ModeSim:   "sim",
	ModeCloud: "cloud",
}

func (m Mode) String() string {
	if s, ok := modeNames[m]; ok {
		return s
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// ParseMode parses "local", "sim" or "cloud".
func ParseMode(s string) (Mode, error) {
	for m, name := range modeNames {
		if name == s {
			return m, nil
		}
	}
	return 0, fmt.Errorf("unknown mode %q", s)
}

// Target identifies the robot endpoint. It does not change for the
// lifetime of a Session.
type Target struct {
	Mode    Mode
	Host    string
	RobotID string
	Token   string
	// Secure selects wss for the sim endpoint.
	Secure bool
}

// URL builds the websocket address for the target.
func (t Target) URL() (string, error) {
	if t.Host == "" {
		return "", fmt.Errorf("%s target: empty host", t.Mode)
	}
	switch t.Mode {
	case ModeLocal:
		if t.RobotID == "" {
			return "", fmt.Errorf("local target: empty robot id")
		}
		return fmt.Sprintf("ws://%s:%d/telemetry/%s", t.Host, LocalPort, url.PathEscape(t.RobotID)), nil
	case ModeSim:
		scheme := "ws"
		if t.Secure {
			scheme = "wss"
		}
		return fmt.Sprintf("%s://%s/sim", scheme, t.Host), nil
	case ModeCloud:
		if t.RobotID == "" {
			return "", fmt.Errorf("cloud target: empty robot id")
		}
		return fmt.Sprintf("wss://%s/telemetry/%s?token=%s",
			t.Host, url.PathEscape(t.RobotID), url.QueryEscape(t.Token)), nil
	}
	return "", fmt.Errorf("unknown mode %d", int(t.Mode))
}
