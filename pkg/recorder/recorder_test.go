package recorder

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gwillem/nfconsole/pkg/monitoring"
	"github.com/gwillem/nfconsole/pkg/wire"
)

func init() {
	monitoring.SetLogger(nil)
}

func openTemp(t *testing.T) *Recorder {
	t.Helper()
	r, err := Open(filepath.Join(t.TempDir(), "rec.db"), "nf-1", "sim")
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func TestRecorder_Controls(t *testing.T) {
	r := openTemp(t)
	at := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	finger := 45.0
	batches := []wire.ControlBatch{
		{RobotID: "nf-1", Items: []wire.ControlItem{&wire.Move{Direction: wire.Vec3{X: 1}, Speed: 0.25, Finger: &finger}}},
		{RobotID: "nf-1", Items: []wire.ControlItem{&wire.CommandItem{Name: wire.CommandStopAll}}},
	}
	for i, b := range batches {
		require.NoError(t, r.RecordControl(at.Add(time.Duration(i)*time.Second), b))
	}

	got, err := r.Controls(r.SessionID())
	require.NoError(t, err)
	require.Len(t, got, 2)
	for i := range batches {
		if diff := cmp.Diff(batches[i], got[i].Batch); diff != "" {
			t.Errorf("batch %d mismatch (-want +got):\n%s", i, diff)
		}
	}
	assert.WithinDuration(t, at.Add(time.Second), got[1].At, time.Millisecond)
}

func TestRecorder_RetainedKeepsLatest(t *testing.T) {
	r := openTemp(t)
	at := time.Now()

	for _, x := range []float64{1, 2, 3} {
		require.NoError(t, r.RecordTelemetry(at, &wire.TelemetryBatch{RobotID: "nf-1", Updates: []wire.TelemetryItem{
			{Update: &wire.PosEstimate{GantryPosition: wire.Vec3{X: x}}, RetainKey: "pos_estimate"},
			{Update: &wire.Popup{Message: "not retained"}},
		}}))
	}
	require.NoError(t, r.RecordTelemetry(at, &wire.TelemetryBatch{Updates: []wire.TelemetryItem{
		{Update: &wire.GripperSensors{Range: 0.5}, RetainKey: "grip_sensors"},
	}}))

	retained, err := r.Retained(r.SessionID())
	require.NoError(t, err)
	require.Len(t, retained, 2)

	pos, ok := retained["pos_estimate"].Update.(*wire.PosEstimate)
	require.True(t, ok)
	assert.Equal(t, 3.0, pos.GantryPosition.X)
	assert.Equal(t, "pos_estimate", retained["pos_estimate"].RetainKey)
}

func TestRecorder_Sessions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rec.db")
	first, err := Open(path, "nf-1", "local")
	require.NoError(t, err)
	require.NoError(t, first.RecordControl(time.Now(), wire.ControlBatch{}))
	require.NoError(t, first.Close())

	second, err := Open(path, "nf-2", "cloud")
	require.NoError(t, err)
	defer second.Close()
	assert.NotEqual(t, first.SessionID(), second.SessionID())

	sessions, err := second.Sessions()
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, second.SessionID(), sessions[0].ID)
	assert.Equal(t, "nf-2", sessions[0].RobotID)
	assert.Equal(t, "local", sessions[1].Mode)
	assert.Equal(t, 1, sessions[1].Controls)
}

func TestInspect_DoesNotStartSession(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rec.db")
	rec, err := Open(path, "nf-1", "sim")
	require.NoError(t, err)
	require.NoError(t, rec.RecordTelemetry(time.Now(), &wire.TelemetryBatch{Updates: []wire.TelemetryItem{
		{Update: &wire.AnchorPoses{Poses: []wire.Pose{{Position: wire.Vec3{Z: 2.5}}}}, RetainKey: "anchor_poses"},
	}}))
	require.NoError(t, rec.Close())

	insp, err := Inspect(path)
	require.NoError(t, err)
	defer insp.Close()
	assert.Empty(t, insp.SessionID())

	sessions, err := insp.Sessions()
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, 1, sessions[0].Telemetry)

	retained, err := insp.Retained(sessions[0].ID)
	require.NoError(t, err)
	poses, ok := retained["anchor_poses"].Update.(*wire.AnchorPoses)
	require.True(t, ok)
	assert.Equal(t, 2.5, poses.Poses[0].Position.Z)
}
