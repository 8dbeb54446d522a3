package wire

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// ControlItem is one outbound command variant. A nil ControlItem in a
// decoded batch is an item whose variant was absent or unknown.
type ControlItem interface {
	Kind() string
	number() protowire.Number
	appendTo([]byte) []byte
	unmarshal([]byte) error
}

// ControlBatch is one outbound binary message.
type ControlBatch struct {
	RobotID string
	Items   []ControlItem
}

var controlTypes = map[protowire.Number]func() ControlItem{
	1: func() ControlItem { return new(Move) },
	2: func() ControlItem { return new(CommandItem) },
	3: func() ControlItem { return new(EpisodeControl) },
	4: func() ControlItem { return new(DeleteTarget) },
	5: func() ControlItem { return new(AddCamTarget) },
}

// controlEnvelope is the ControlItem message: a oneof around the variant.
type controlEnvelope struct {
	item ControlItem
}

func (e controlEnvelope) appendTo(b []byte) []byte {
	if e.item == nil {
		return b
	}
	return appendMessage(b, e.item.number(), e.item)
}

func (e *controlEnvelope) unmarshal(b []byte) error {
	return walk(b, func(f field) error {
		newItem, ok := controlTypes[f.num]
		if !ok {
			return nil
		}
		it := newItem()
		if err := f.message(it); err != nil {
			return err
		}
		e.item = it
		return nil
	})
}

// MarshalControl encodes a batch.
func MarshalControl(batch ControlBatch) []byte {
	b := appendString(nil, 1, batch.RobotID)
	for _, it := range batch.Items {
		b = appendMessage(b, 2, controlEnvelope{item: it})
	}
	return b
}

// UnmarshalControl decodes a batch, keeping unrecognized items as nil.
func UnmarshalControl(data []byte) (ControlBatch, error) {
	var batch ControlBatch
	err := walk(data, func(f field) (err error) {
		switch f.num {
		case 1:
			batch.RobotID, err = f.string()
		case 2:
			var env controlEnvelope
			if err = f.message(&env); err == nil {
				batch.Items = append(batch.Items, env.item)
			}
		}
		return err
	})
	if err != nil {
		return ControlBatch{}, fmt.Errorf("decode control batch: %w", err)
	}
	return batch, nil
}

// Move commands a gantry velocity as a unit direction and a speed in m/s,
// plus gripper finger and wrist angles (degrees) and winch line speed (m/s).
// Finger and Wrist are optional: nil leaves the robot's value unchanged.
type Move struct {
	Direction Vec3
	Speed     float64
	Finger    *float64
	Wrist     *float64
	Winch     float64
}

func (*Move) Kind() string             { return "move" }
func (*Move) number() protowire.Number { return 1 }

func (m *Move) appendTo(b []byte) []byte {
	b = appendMessage(b, 1, m.Direction)
	b = appendFloat(b, 2, m.Speed)
	if m.Finger != nil {
		b = appendFloatAlways(b, 3, *m.Finger)
	}
	if m.Wrist != nil {
		b = appendFloatAlways(b, 4, *m.Wrist)
	}
	return appendFloat(b, 5, m.Winch)
}

func (m *Move) unmarshal(b []byte) error {
	return walk(b, func(f field) (err error) {
		var v float64
		switch f.num {
		case 1:
			err = f.message(&m.Direction)
		case 2:
			m.Speed, err = f.float()
		case 3:
			v, err = f.float()
			m.Finger = &v
		case 4:
			v, err = f.float()
			m.Wrist = &v
		case 5:
			m.Winch, err = f.float()
		}
		return err
	})
}

// CommandItem requests a discrete action.
type CommandItem struct {
	Name Command
}

func (*CommandItem) Kind() string             { return "command" }
func (*CommandItem) number() protowire.Number { return 2 }

func (m *CommandItem) appendTo(b []byte) []byte {
	return appendVarint(b, 1, uint64(m.Name))
}

func (m *CommandItem) unmarshal(b []byte) error {
	return walk(b, func(f field) error {
		if f.num != 1 {
			return nil
		}
		v, err := f.int32()
		m.Name = Command(v)
		return err
	})
}

// EpisodeStartStop toggles dataset episode recording on the robot.
const EpisodeStartStop = "episode_start_stop"

// EpisodeControl carries data-collection episode events.
type EpisodeControl struct {
	Events []string
}

func (*EpisodeControl) Kind() string             { return "episode_control" }
func (*EpisodeControl) number() protowire.Number { return 3 }

func (m *EpisodeControl) appendTo(b []byte) []byte {
	for _, ev := range m.Events {
		b = appendStringAlways(b, 1, ev)
	}
	return b
}

func (m *EpisodeControl) unmarshal(b []byte) error {
	return walk(b, func(f field) error {
		if f.num != 1 {
			return nil
		}
		ev, err := f.string()
		m.Events = append(m.Events, ev)
		return err
	})
}

// DeleteTarget removes a target from the robot's list.
type DeleteTarget struct {
	TargetID string
}

func (*DeleteTarget) Kind() string             { return "delete_target" }
func (*DeleteTarget) number() protowire.Number { return 4 }

func (m *DeleteTarget) appendTo(b []byte) []byte {
	return appendString(b, 1, m.TargetID)
}

func (m *DeleteTarget) unmarshal(b []byte) error {
	return walk(b, func(f field) (err error) {
		if f.num == 1 {
			m.TargetID, err = f.string()
		}
		return err
	})
}

// AddCamTarget asks the robot to add (or, with TargetID set, move) a target
// at a normalized image point seen by an anchor camera.
type AddCamTarget struct {
	AnchorNum int32
	ImgNormX  float64
	ImgNormY  float64
	TargetID  string
}

func (*AddCamTarget) Kind() string             { return "add_cam_target" }
func (*AddCamTarget) number() protowire.Number { return 5 }

func (m *AddCamTarget) appendTo(b []byte) []byte {
	b = appendInt32(b, 1, m.AnchorNum)
	b = appendFloat(b, 2, m.ImgNormX)
	b = appendFloat(b, 3, m.ImgNormY)
	return appendString(b, 4, m.TargetID)
}

func (m *AddCamTarget) unmarshal(b []byte) error {
	return walk(b, func(f field) (err error) {
		switch f.num {
		case 1:
			m.AnchorNum, err = f.int32()
		case 2:
			m.ImgNormX, err = f.float()
		case 3:
			m.ImgNormY, err = f.float()
		case 4:
			m.TargetID, err = f.string()
		}
		return err
	})
}
