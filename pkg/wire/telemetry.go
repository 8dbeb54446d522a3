package wire

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Update is one telemetry variant. A TelemetryItem with a nil Update carries
// no variant the decoder recognized.
type Update interface {
	// Kind is the variant's field name in the schema, e.g. "pos_estimate".
	Kind() string
	number() protowire.Number
	appendTo([]byte) []byte
	unmarshal([]byte) error
}

// TelemetryItem wraps one update. RetainKey, when set, tells relays to keep
// the latest item per key for late joiners.
type TelemetryItem struct {
	Update    Update
	RetainKey string
}

// TelemetryBatch is one inbound binary message.
type TelemetryBatch struct {
	RobotID string
	Updates []TelemetryItem
}

const retainKeyField protowire.Number = 100

var updateTypes = map[protowire.Number]func() Update{
	1:  func() Update { return new(PosEstimate) },
	2:  func() Update { return new(AnchorPoses) },
	3:  func() Update { return new(GantrySightings) },
	4:  func() Update { return new(TargetList) },
	5:  func() Update { return new(VideoReady) },
	6:  func() Update { return new(UplinkStatus) },
	7:  func() Update { return new(ComponentConnStatus) },
	8:  func() Update { return new(Popup) },
	9:  func() Update { return new(Progress) },
	10: func() Update { return new(GripperSensors) },
	11: func() Update { return new(GripperPredictions) },
	12: func() Update { return new(NamedObjectPosition) },
	13: func() Update { return new(PositionFactors) },
	14: func() Update { return new(CommandedVelocity) },
}

// MarshalTelemetry encodes a batch.
func MarshalTelemetry(batch TelemetryBatch) []byte {
	b := appendString(nil, 1, batch.RobotID)
	for _, item := range batch.Updates {
		b = appendMessage(b, 2, item)
	}
	return b
}

// UnmarshalTelemetry decodes a batch. The only failure mode is a malformed
// payload, reported as an error wrapping ErrMalformed.
func UnmarshalTelemetry(data []byte) (TelemetryBatch, error) {
	var batch TelemetryBatch
	err := walk(data, func(f field) (err error) {
		switch f.num {
		case 1:
			batch.RobotID, err = f.string()
		case 2:
			var item TelemetryItem
			if err = f.message(&item); err == nil {
				batch.Updates = append(batch.Updates, item)
			}
		}
		return err
	})
	if err != nil {
		return TelemetryBatch{}, fmt.Errorf("decode telemetry batch: %w", err)
	}
	return batch, nil
}

func (it TelemetryItem) appendTo(b []byte) []byte {
	if it.Update != nil {
		b = appendMessage(b, it.Update.number(), it.Update)
	}
	return appendString(b, retainKeyField, it.RetainKey)
}

func (it *TelemetryItem) unmarshal(b []byte) error {
	return walk(b, func(f field) (err error) {
		if f.num == retainKeyField {
			it.RetainKey, err = f.string()
			return err
		}
		newUpdate, ok := updateTypes[f.num]
		if !ok {
			return nil
		}
		u := newUpdate()
		if err := f.message(u); err != nil {
			return err
		}
		it.Update = u
		return nil
	})
}

// PosEstimate is the fused gantry and gripper state estimate.
type PosEstimate struct {
	GantryPosition Vec3
	GantryVelocity Vec3
	GripperPose    Pose
	DataTS         float64
	Slack          []bool
}

func (*PosEstimate) Kind() string             { return "pos_estimate" }
func (*PosEstimate) number() protowire.Number { return 1 }

func (m *PosEstimate) appendTo(b []byte) []byte {
	b = appendMessage(b, 1, m.GantryPosition)
	b = appendMessage(b, 2, m.GantryVelocity)
	b = appendMessage(b, 3, m.GripperPose)
	b = appendDouble(b, 4, m.DataTS)
	return appendPackedBools(b, 5, m.Slack)
}

func (m *PosEstimate) unmarshal(b []byte) error {
	return walk(b, func(f field) (err error) {
		switch f.num {
		case 1:
			err = f.message(&m.GantryPosition)
		case 2:
			err = f.message(&m.GantryVelocity)
		case 3:
			err = f.message(&m.GripperPose)
		case 4:
			m.DataTS, err = f.double()
		case 5:
			m.Slack, err = f.bools(m.Slack)
		}
		return err
	})
}

// AnchorPoses carries the pose of every anchor, indexed by anchor number.
type AnchorPoses struct {
	Poses []Pose
}

func (*AnchorPoses) Kind() string             { return "new_anchor_poses" }
func (*AnchorPoses) number() protowire.Number { return 2 }

func (m *AnchorPoses) appendTo(b []byte) []byte {
	for _, p := range m.Poses {
		b = appendMessage(b, 1, p)
	}
	return b
}

func (m *AnchorPoses) unmarshal(b []byte) error {
	return walk(b, func(f field) error {
		if f.num != 1 {
			return nil
		}
		var p Pose
		if err := f.message(&p); err != nil {
			return err
		}
		m.Poses = append(m.Poses, p)
		return nil
	})
}

// GantrySightings are raw visual detections of the gantry.
type GantrySightings struct {
	Sightings []Vec3
}

func (*GantrySightings) Kind() string             { return "gantry_sightings" }
func (*GantrySightings) number() protowire.Number { return 3 }

func (m *GantrySightings) appendTo(b []byte) []byte {
	return appendVec3s(b, 1, m.Sightings)
}

func (m *GantrySightings) unmarshal(b []byte) error {
	return walk(b, func(f field) error {
		if f.num != 1 {
			return nil
		}
		var v Vec3
		if err := f.message(&v); err != nil {
			return err
		}
		m.Sightings = append(m.Sightings, v)
		return nil
	})
}

// Target is one pickable object. ID is stable across list updates.
type Target struct {
	ID       string
	Position Vec3
	Status   TargetStatus
	Source   string
}

func (t Target) appendTo(b []byte) []byte {
	b = appendString(b, 1, t.ID)
	b = appendMessage(b, 2, t.Position)
	b = appendVarint(b, 3, uint64(t.Status))
	return appendString(b, 4, t.Source)
}

func (t *Target) unmarshal(b []byte) error {
	return walk(b, func(f field) (err error) {
		switch f.num {
		case 1:
			t.ID, err = f.string()
		case 2:
			err = f.message(&t.Position)
		case 3:
			var v int32
			v, err = f.int32()
			t.Status = TargetStatus(v)
		case 4:
			t.Source, err = f.string()
		}
		return err
	})
}

// TargetList replaces the previous list wholesale.
type TargetList struct {
	Targets []Target
}

func (*TargetList) Kind() string             { return "target_list" }
func (*TargetList) number() protowire.Number { return 4 }

func (m *TargetList) appendTo(b []byte) []byte {
	for _, t := range m.Targets {
		b = appendMessage(b, 1, t)
	}
	return b
}

func (m *TargetList) unmarshal(b []byte) error {
	return walk(b, func(f field) error {
		if f.num != 1 {
			return nil
		}
		var t Target
		if err := f.message(&t); err != nil {
			return err
		}
		m.Targets = append(m.Targets, t)
		return nil
	})
}

// VideoReady announces a camera stream.
type VideoReady struct {
	IsGripper  bool
	AnchorNum  int32
	LocalURI   string
	StreamPath string
}

func (*VideoReady) Kind() string             { return "video_ready" }
func (*VideoReady) number() protowire.Number { return 5 }

func (m *VideoReady) appendTo(b []byte) []byte {
	b = appendBool(b, 1, m.IsGripper)
	b = appendInt32(b, 2, m.AnchorNum)
	b = appendString(b, 3, m.LocalURI)
	return appendString(b, 4, m.StreamPath)
}

func (m *VideoReady) unmarshal(b []byte) error {
	return walk(b, func(f field) (err error) {
		switch f.num {
		case 1:
			m.IsGripper, err = f.bool()
		case 2:
			m.AnchorNum, err = f.int32()
		case 3:
			m.LocalURI, err = f.string()
		case 4:
			m.StreamPath, err = f.string()
		}
		return err
	})
}

// UplinkStatus reports whether the robot is connected to the relay.
type UplinkStatus struct {
	Online bool
}

func (*UplinkStatus) Kind() string             { return "uplink_status" }
func (*UplinkStatus) number() protowire.Number { return 6 }

func (m *UplinkStatus) appendTo(b []byte) []byte {
	return appendBool(b, 1, m.Online)
}

func (m *UplinkStatus) unmarshal(b []byte) error {
	return walk(b, func(f field) (err error) {
		if f.num == 1 {
			m.Online, err = f.bool()
		}
		return err
	})
}

// ComponentConnStatus is the link state of one anchor or the gripper.
type ComponentConnStatus struct {
	IsGripper       bool
	AnchorNum       int32
	WebsocketStatus ConnStatus
	VideoStatus     ConnStatus
	IPAddress       string
	GripperModel    GripperModel
}

func (*ComponentConnStatus) Kind() string             { return "component_conn_status" }
func (*ComponentConnStatus) number() protowire.Number { return 7 }

func (m *ComponentConnStatus) appendTo(b []byte) []byte {
	b = appendBool(b, 1, m.IsGripper)
	b = appendInt32(b, 2, m.AnchorNum)
	b = appendVarint(b, 3, uint64(m.WebsocketStatus))
	b = appendVarint(b, 4, uint64(m.VideoStatus))
	b = appendString(b, 5, m.IPAddress)
	return appendVarint(b, 6, uint64(m.GripperModel))
}

func (m *ComponentConnStatus) unmarshal(b []byte) error {
	return walk(b, func(f field) (err error) {
		var v int32
		switch f.num {
		case 1:
			m.IsGripper, err = f.bool()
		case 2:
			m.AnchorNum, err = f.int32()
		case 3:
			v, err = f.int32()
			m.WebsocketStatus = ConnStatus(v)
		case 4:
			v, err = f.int32()
			m.VideoStatus = ConnStatus(v)
		case 5:
			m.IPAddress, err = f.string()
		case 6:
			v, err = f.int32()
			m.GripperModel = GripperModel(v)
		}
		return err
	})
}

// Popup is a message for the operator.
type Popup struct {
	Message string
}

func (*Popup) Kind() string             { return "popup" }
func (*Popup) number() protowire.Number { return 8 }

func (m *Popup) appendTo(b []byte) []byte { return appendString(b, 1, m.Message) }

func (m *Popup) unmarshal(b []byte) error {
	return walk(b, func(f field) (err error) {
		if f.num == 1 {
			m.Message, err = f.string()
		}
		return err
	})
}

// Progress reports a long-running robot task such as calibration.
type Progress struct {
	Label    string
	Fraction float64
}

func (*Progress) Kind() string             { return "progress" }
func (*Progress) number() protowire.Number { return 9 }

func (m *Progress) appendTo(b []byte) []byte {
	b = appendString(b, 1, m.Label)
	return appendFloat(b, 2, m.Fraction)
}

func (m *Progress) unmarshal(b []byte) error {
	return walk(b, func(f field) (err error) {
		switch f.num {
		case 1:
			m.Label, err = f.string()
		case 2:
			m.Fraction, err = f.float()
		}
		return err
	})
}

// GripperSensors holds the palm range finder, finger angle (degrees), grip
// pressure and wrist angle (degrees).
type GripperSensors struct {
	Range    float64
	Angle    float64
	Pressure float64
	Wrist    float64
}

func (*GripperSensors) Kind() string             { return "grip_sensors" }
func (*GripperSensors) number() protowire.Number { return 10 }

func (m *GripperSensors) appendTo(b []byte) []byte {
	b = appendFloat(b, 1, m.Range)
	b = appendFloat(b, 2, m.Angle)
	b = appendFloat(b, 3, m.Pressure)
	return appendFloat(b, 4, m.Wrist)
}

func (m *GripperSensors) unmarshal(b []byte) error {
	return walk(b, func(f field) (err error) {
		switch f.num {
		case 1:
			m.Range, err = f.float()
		case 2:
			m.Angle, err = f.float()
		case 3:
			m.Pressure, err = f.float()
		case 4:
			m.Wrist, err = f.float()
		}
		return err
	})
}

// GripperPredictions is the grasp model's current output.
type GripperPredictions struct {
	GraspProbability float64
	Holding          bool
}

func (*GripperPredictions) Kind() string             { return "gripper_predictions" }
func (*GripperPredictions) number() protowire.Number { return 11 }

func (m *GripperPredictions) appendTo(b []byte) []byte {
	b = appendFloat(b, 1, m.GraspProbability)
	return appendBool(b, 2, m.Holding)
}

func (m *GripperPredictions) unmarshal(b []byte) error {
	return walk(b, func(f field) (err error) {
		switch f.num {
		case 1:
			m.GraspProbability, err = f.float()
		case 2:
			m.Holding, err = f.bool()
		}
		return err
	})
}

// NamedObjectPosition places a named scene object such as the person tag
// ("user_pers") or the hamper.
type NamedObjectPosition struct {
	Name     string
	Position Vec3
}

func (*NamedObjectPosition) Kind() string             { return "named_position" }
func (*NamedObjectPosition) number() protowire.Number { return 12 }

func (m *NamedObjectPosition) appendTo(b []byte) []byte {
	b = appendString(b, 1, m.Name)
	return appendMessage(b, 2, m.Position)
}

func (m *NamedObjectPosition) unmarshal(b []byte) error {
	return walk(b, func(f field) (err error) {
		switch f.num {
		case 1:
			m.Name, err = f.string()
		case 2:
			err = f.message(&m.Position)
		}
		return err
	})
}

// PositionFactors exposes the estimator's visual and hanging-model inputs.
type PositionFactors struct {
	VisualPos  Vec3
	VisualVel  Vec3
	HangingPos Vec3
	HangingVel Vec3
}

func (*PositionFactors) Kind() string             { return "pos_factors_debug" }
func (*PositionFactors) number() protowire.Number { return 13 }

func (m *PositionFactors) appendTo(b []byte) []byte {
	b = appendMessage(b, 1, m.VisualPos)
	b = appendMessage(b, 2, m.VisualVel)
	b = appendMessage(b, 3, m.HangingPos)
	return appendMessage(b, 4, m.HangingVel)
}

func (m *PositionFactors) unmarshal(b []byte) error {
	return walk(b, func(f field) error {
		switch f.num {
		case 1:
			return f.message(&m.VisualPos)
		case 2:
			return f.message(&m.VisualVel)
		case 3:
			return f.message(&m.HangingPos)
		case 4:
			return f.message(&m.HangingVel)
		}
		return nil
	})
}

// CommandedVelocity echoes the velocity the robot is executing after its
// own clamping.
type CommandedVelocity struct {
	Velocity Vec3
}

func (*CommandedVelocity) Kind() string             { return "last_commanded_vel" }
func (*CommandedVelocity) number() protowire.Number { return 14 }

func (m *CommandedVelocity) appendTo(b []byte) []byte {
	return appendMessage(b, 1, m.Velocity)
}

func (m *CommandedVelocity) unmarshal(b []byte) error {
	return walk(b, func(f field) error {
		if f.num == 1 {
			return f.message(&m.Velocity)
		}
		return nil
	})
}
