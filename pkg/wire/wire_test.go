package wire

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

func ptr(v float64) *float64 { return &v }

func TestTelemetry_EveryVariantSurvivesEncoding(t *testing.T) {
	batch := TelemetryBatch{
		RobotID: "robot_0",
		Updates: []TelemetryItem{
			{Update: &PosEstimate{
				GantryPosition: Vec3{X: 0.5, Y: -1.25, Z: 1.5},
				GantryVelocity: Vec3{X: 0.125},
				GripperPose:    Pose{Rotation: Vec3{Z: 0.75}, Position: Vec3{X: 0.5, Y: -1.25, Z: 0.96875}},
				DataTS:         1712345678.123,
				Slack:          []bool{false, true, false, false},
			}, RetainKey: "pos_estimate"},
			{Update: &AnchorPoses{Poses: []Pose{
				{Position: Vec3{X: -2.5, Y: -2.5, Z: 2.5}, Rotation: Vec3{Z: 2.25}},
				{Position: Vec3{X: 2.5, Y: -2.5, Z: 2.5}, Rotation: Vec3{Z: -2.25}},
			}}, RetainKey: "anchor_poses"},
			{Update: &GantrySightings{Sightings: []Vec3{{X: 1, Y: 2, Z: 1.5}, {X: 1.0625, Y: 2, Z: 1.5}}}},
			{Update: &TargetList{Targets: []Target{
				{ID: "a1b2c3d4e5", Position: Vec3{X: 0.25, Y: 0.5}, Status: TargetSelected, Source: "anchor_1"},
				{ID: "ffff", Status: TargetPickedUp, Source: "gripper"},
			}}},
			{Update: &VideoReady{IsGripper: true, LocalURI: "rtsp://10.0.0.9/stream", StreamPath: "gripper"}},
			{Update: &UplinkStatus{Online: true}},
			{Update: &ComponentConnStatus{AnchorNum: 3, WebsocketStatus: Connected, VideoStatus: Connecting, IPAddress: "192.168.1.103"}},
			{Update: &Popup{Message: "calibration done"}},
			{Update: &Progress{Label: "half cal", Fraction: 0.5}},
			{Update: &GripperSensors{Range: 0.25, Angle: 45, Pressure: 1.5, Wrist: -30}, RetainKey: "grip_sensors"},
			{Update: &GripperPredictions{GraspProbability: 0.875, Holding: true}},
			{Update: &NamedObjectPosition{Name: "user_pers", Position: Vec3{X: 1, Y: 1}}},
			{Update: &PositionFactors{VisualPos: Vec3{X: 1}, VisualVel: Vec3{Y: 1}, HangingPos: Vec3{Z: 1}, HangingVel: Vec3{X: -1}}},
			{Update: &CommandedVelocity{Velocity: Vec3{X: 0.25, Y: -0.125}}, RetainKey: "cmd_vel"},
		},
	}

	got, err := UnmarshalTelemetry(MarshalTelemetry(batch))
	require.NoError(t, err)
	if diff := cmp.Diff(batch, got); diff != "" {
		t.Errorf("telemetry mismatch (-want +got):\n%s", diff)
	}
}

func TestTelemetry_EmptyItemHasNoVariant(t *testing.T) {
	batch := TelemetryBatch{Updates: []TelemetryItem{
		{Update: &UplinkStatus{Online: true}},
		{},
	}}

	got, err := UnmarshalTelemetry(MarshalTelemetry(batch))
	require.NoError(t, err)
	require.Len(t, got.Updates, 2)
	assert.IsType(t, &UplinkStatus{}, got.Updates[0].Update)
	assert.Nil(t, got.Updates[1].Update)
}

func TestTelemetry_UnknownFieldsAreSkipped(t *testing.T) {
	// An item carrying a variant from a newer schema, then a known one.
	var item []byte
	item = protowire.AppendTag(item, 42, protowire.BytesType)
	item = protowire.AppendBytes(item, []byte{0x08, 0x01})
	item = protowire.AppendTag(item, 43, protowire.VarintType)
	item = protowire.AppendVarint(item, 7)

	var data []byte
	data = protowire.AppendTag(data, 2, protowire.BytesType)
	data = protowire.AppendBytes(data, item)
	data = append(data, MarshalTelemetry(TelemetryBatch{RobotID: "r", Updates: []TelemetryItem{{Update: &Popup{Message: "hi"}}}})...)
	data = protowire.AppendTag(data, 99, protowire.Fixed64Type)
	data = protowire.AppendFixed64(data, 1)

	got, err := UnmarshalTelemetry(data)
	require.NoError(t, err)
	assert.Equal(t, "r", got.RobotID)
	require.Len(t, got.Updates, 2)
	assert.Nil(t, got.Updates[0].Update)
	assert.Equal(t, &Popup{Message: "hi"}, got.Updates[1].Update)
}

func TestTelemetry_Malformed(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"truncated length", []byte{0x12, 0x05, 0x01}},
		{"bad tag", []byte{0x00}},
		{"wrong wire type", []byte{0x08, 0x01}},
		{"truncated nested", MarshalTelemetry(TelemetryBatch{Updates: []TelemetryItem{{Update: &Popup{Message: "hello"}}}})[:4]},
		{"garbage", []byte{0xff, 0xff, 0xff}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := UnmarshalTelemetry(tt.data)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrMalformed), "got %v", err)
		})
	}
}

func TestTelemetry_UnpackedSlack(t *testing.T) {
	var pe []byte
	for _, v := range []bool{true, false, true} {
		pe = protowire.AppendTag(pe, 5, protowire.VarintType)
		pe = protowire.AppendVarint(pe, protowire.EncodeBool(v))
	}
	var m PosEstimate
	require.NoError(t, m.unmarshal(pe))
	assert.Equal(t, []bool{true, false, true}, m.Slack)
}

func TestControl_RoundTrip(t *testing.T) {
	batch := ControlBatch{
		RobotID: "robot_0",
		Items: []ControlItem{
			&Move{Direction: Vec3{X: 0.5, Y: -0.5, Z: 0.5}, Speed: 0.125, Finger: ptr(-45), Winch: 0.25},
			&Move{Finger: ptr(0), Wrist: ptr(90)},
			&CommandItem{Name: CommandTightenLines},
			&CommandItem{Name: CommandStopAll},
			&EpisodeControl{Events: []string{EpisodeStartStop}},
			&DeleteTarget{TargetID: "abc"},
			&AddCamTarget{AnchorNum: 2, ImgNormX: 0.25, ImgNormY: 0.75, TargetID: "abc"},
		},
	}

	got, err := UnmarshalControl(MarshalControl(batch))
	require.NoError(t, err)
	if diff := cmp.Diff(batch, got); diff != "" {
		t.Errorf("control mismatch (-want +got):\n%s", diff)
	}
}

func TestControl_OptionalFieldsKeepPresence(t *testing.T) {
	got, err := UnmarshalControl(MarshalControl(ControlBatch{Items: []ControlItem{&Move{}}}))
	require.NoError(t, err)
	require.Len(t, got.Items, 1)

	m := got.Items[0].(*Move)
	assert.Nil(t, m.Finger)
	assert.Nil(t, m.Wrist)
	assert.Zero(t, m.Speed)
}

func TestControl_NilItemDecodesAsNil(t *testing.T) {
	got, err := UnmarshalControl(MarshalControl(ControlBatch{Items: []ControlItem{nil, &DeleteTarget{TargetID: "x"}}}))
	require.NoError(t, err)
	require.Len(t, got.Items, 2)
	assert.Nil(t, got.Items[0])
	assert.Equal(t, "delete_target", got.Items[1].Kind())
}

func TestCommand_String(t *testing.T) {
	assert.Equal(t, "COMMAND_GRASP", CommandGrasp.String())
	assert.Equal(t, "COMMAND_UNKNOWN", Command(99).String())
}
