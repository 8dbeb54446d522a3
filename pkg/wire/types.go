// Package wire defines the telemetry and control messages exchanged with a
// robot and their protobuf binary encoding. The schema lives in
// proto/nf.proto; the codecs here are written against it by hand using
// protowire.
package wire

import (
	"gonum.org/v1/gonum/spatial/r3"
	"google.golang.org/protobuf/encoding/protowire"
)

// Vec3 is a robot-frame (Z-up) vector. It is carried as three floats.
type Vec3 struct {
	X, Y, Z float64
}

// R3 returns v as a gonum vector.
func (v Vec3) R3() r3.Vec { return r3.Vec{X: v.X, Y: v.Y, Z: v.Z} }

// FromR3 converts a gonum vector.
func FromR3(v r3.Vec) Vec3 { return Vec3{X: v.X, Y: v.Y, Z: v.Z} }

func (v Vec3) appendTo(b []byte) []byte {
	b = appendFloat(b, 1, v.X)
	b = appendFloat(b, 2, v.Y)
	return appendFloat(b, 3, v.Z)
}

func (v *Vec3) unmarshal(b []byte) error {
	return walk(b, func(f field) (err error) {
		switch f.num {
		case 1:
			v.X, err = f.float()
		case 2:
			v.Y, err = f.float()
		case 3:
			v.Z, err = f.float()
		}
		return err
	})
}

// Pose is a position plus a Rodrigues rotation vector, robot frame.
type Pose struct {
	Rotation Vec3
	Position Vec3
}

func (p Pose) appendTo(b []byte) []byte {
	b = appendMessage(b, 1, p.Rotation)
	return appendMessage(b, 2, p.Position)
}

func (p *Pose) unmarshal(b []byte) error {
	return walk(b, func(f field) error {
		switch f.num {
		case 1:
			return f.message(&p.Rotation)
		case 2:
			return f.message(&p.Position)
		}
		return nil
	})
}

func appendVec3s(b []byte, num protowire.Number, vs []Vec3) []byte {
	for _, v := range vs {
		b = appendMessage(b, num, v)
	}
	return b
}

// TargetStatus is the pick state of a detected target.
type TargetStatus int32

const (
	TargetSeen TargetStatus = iota
	TargetSelected
	TargetPickedUp
)

func (s TargetStatus) String() string {
	switch s {
	case TargetSelected:
		return "selected"
	case TargetPickedUp:
		return "picked_up"
	default:
		return "seen"
	}
}

// ConnStatus is a component link state.
type ConnStatus int32

const (
	NotDetected ConnStatus = iota
	Connecting
	Connected
)

func (s ConnStatus) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "not detected"
	}
}

// GripperModel identifies the gripper hardware.
type GripperModel int32

const (
	GripperUnknown GripperModel = iota
	GripperPilot
	GripperArpeggio
)

func (m GripperModel) String() string {
	switch m {
	case GripperPilot:
		return "pilot"
	case GripperArpeggio:
		return "arpeggio"
	default:
		return "unknown"
	}
}

// Command is a discrete robot action.
type Command int32

const (
	CommandUnspecified Command = iota
	CommandStopAll
	CommandTightenLines
	CommandHalfCal
	CommandGrasp
	CommandFullCal
)

var commandNames = map[Command]string{
	CommandUnspecified:  "COMMAND_UNSPECIFIED",
	CommandStopAll:      "COMMAND_STOP_ALL",
	CommandTightenLines: "COMMAND_TIGHTEN_LINES",
	CommandHalfCal:      "COMMAND_HALF_CAL",
	CommandGrasp:        "COMMAND_GRASP",
	CommandFullCal:      "COMMAND_FULL_CAL",
}

func (c Command) String() string {
	if s, ok := commandNames[c]; ok {
		return s
	}
	return "COMMAND_UNKNOWN"
}
