package scene

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/gwillem/nfconsole/pkg/wire"
)

var t0 = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

func TestTargetList_SelectionSurvivesReplacement(t *testing.T) {
	var selects []string
	l := &TargetList{OnSelect: func(id string) { selects = append(selects, id) }}

	l.Update([]wire.Target{{ID: "a"}, {ID: "b"}})
	l.SetSelected("b")
	l.SetHovered("a")

	l.Update([]wire.Target{{ID: "b", Status: wire.TargetSelected}, {ID: "c"}})
	assert.Equal(t, "b", l.Selected())
	assert.Equal(t, "a", l.Hovered(), "hover kept even if the id left the list")

	got, ok := l.Get("b")
	require.True(t, ok)
	assert.Equal(t, wire.TargetSelected, got.Status)

	l.SetSelected("b")
	assert.Equal(t, []string{"b"}, selects, "no notification without a change")
}

func TestTargetList_UpdateCopies(t *testing.T) {
	in := []wire.Target{{ID: "a"}}
	l := &TargetList{}
	l.Update(in)
	in[0].ID = "mutated"
	assert.Equal(t, "a", l.Targets()[0].ID)
}

func TestTargetList_MoveHover(t *testing.T) {
	var hovers []string
	l := &TargetList{OnHover: func(id string) { hovers = append(hovers, id) }}
	l.Update([]wire.Target{{ID: "a"}, {ID: "b"}, {ID: "c"}})

	l.MoveHover(1)
	assert.Equal(t, "a", l.Hovered())
	l.MoveHover(1)
	l.MoveHover(1)
	l.MoveHover(1)
	assert.Equal(t, "a", l.Hovered(), "wraps")
	l.MoveHover(-1)
	assert.Equal(t, "c", l.Hovered())
	assert.Equal(t, []string{"a", "b", "c", "a", "c"}, hovers)

	l.SelectHovered()
	assert.Equal(t, "c", l.Selected())
}

func TestTargetList_DeleteSelected(t *testing.T) {
	l := &TargetList{}
	_, ok := l.DeleteSelected()
	assert.False(t, ok)

	l.SetSelected("abc")
	item, ok := l.DeleteSelected()
	require.True(t, ok)
	assert.Equal(t, &wire.DeleteTarget{TargetID: "abc"}, item)
	assert.Empty(t, l.Selected())
}

func TestLabel(t *testing.T) {
	got := Label(wire.Target{ID: "0123456789abcdef", Source: "anchor 2", Position: wire.Vec3{X: 1.234, Y: -0.5}})
	assert.Equal(t, "(anchor 2) 01234567 (1.23, -0.50)", got)
}

func TestSightings_FadeAndExpire(t *testing.T) {
	var s Sightings
	s.Add(t0, []wire.Vec3{{X: 1, Y: 2, Z: 0.5}})
	s.Add(t0.Add(2*time.Second), []wire.Vec3{{X: 0, Y: 0, Z: 1}})

	live := s.Live(t0.Add(2500 * time.Millisecond))
	require.Len(t, live, 2)
	assert.Equal(t, r3.Vec{X: 1, Y: 0.5, Z: -2}, live[0].Position, "stored in render frame")
	assert.InDelta(t, 0.5, live[0].Opacity(t0.Add(2500*time.Millisecond)), 1e-9)
	assert.InDelta(t, 0.9, live[1].Opacity(t0.Add(2500*time.Millisecond)), 1e-9)

	assert.Len(t, s.Live(t0.Add(MaxAge-time.Nanosecond)), 2)
	assert.Len(t, s.Live(t0.Add(MaxAge)), 1, "age equal to MaxAge is removed")
	assert.Empty(t, s.Live(t0.Add(MaxAge+2*time.Second)))
	assert.Zero(t, s.Len())
}

func cornerPoses() *wire.AnchorPoses {
	return &wire.AnchorPoses{Poses: []wire.Pose{
		{Position: wire.Vec3{X: 2.5, Y: 2.5, Z: 2.5}},
		{Position: wire.Vec3{X: 2.5, Y: -2.5, Z: 2.5}},
		{Position: wire.Vec3{X: -2.5, Y: -2.5, Z: 2.5}},
		{Position: wire.Vec3{X: -2.5, Y: 2.5, Z: 2.5}},
	}}
}

func TestScene_RoomAndCables(t *testing.T) {
	s := New()
	_, ok := s.Room()
	assert.False(t, ok)
	assert.Nil(t, s.Cables())

	s.UpdateAnchorPoses(cornerPoses())
	room, ok := s.Room()
	require.True(t, ok)
	assert.Equal(t, Room{Min: r3.Vec{X: -2.5, Y: -2.5}, Max: r3.Vec{X: 2.5, Y: 2.5, Z: 2.5}}, room)

	s.UpdatePosEstimate(&wire.PosEstimate{GantryPosition: wire.Vec3{Z: 1}})
	cables := s.Cables()
	require.Len(t, cables, 4)
	want := math.Sqrt(2.5*2.5 + 2.5*2.5 + 1.5*1.5)
	for i, c := range cables {
		assert.Equal(t, i, c.Anchor)
		assert.InDelta(t, want, c.Length, 1e-9)
	}
}

func TestScene_AnchorCameraLooksDown(t *testing.T) {
	s := New()
	s.UpdateAnchorPoses(cornerPoses())

	cam, ok := s.AnchorCamera(0)
	require.True(t, ok)
	assert.InDelta(t, 2.5, cam.Position.Y, 1e-9, "robot z becomes render y")

	forward := cam.ApplyDirection(r3.Vec{Z: -1})
	assert.Less(t, forward.Y, 0.0)

	_, ok = s.AnchorCamera(4)
	assert.False(t, ok)
}

func TestScene_GripperCamera(t *testing.T) {
	s := New()
	_, ok := s.GripperCamera()
	assert.False(t, ok)

	s.UpdatePosEstimate(&wire.PosEstimate{GripperPose: wire.Pose{Position: wire.Vec3{X: 1, Y: 1, Z: 1}}})
	cam, ok := s.GripperCamera()
	require.True(t, ok)
	forward := cam.ApplyDirection(r3.Vec{Z: -1})
	assert.InDelta(t, -1, forward.Y, 1e-9)
}

func TestScene_OrbitCenterFromPersonTag(t *testing.T) {
	s := New()
	_, ok := s.OrbitCenter()
	assert.False(t, ok)

	s.UpdateNamedPosition(&wire.NamedObjectPosition{Name: PersonTag, Position: wire.Vec3{X: 1, Y: 2, Z: 0}})
	p, ok := s.OrbitCenter()
	require.True(t, ok)
	assert.Equal(t, r3.Vec{X: 1, Y: 0, Z: -2}, p)
}

func TestScene_Components(t *testing.T) {
	s := New()
	s.UpdateComponent(&wire.ComponentConnStatus{IsGripper: true, AnchorNum: 7, WebsocketStatus: wire.Connected, IPAddress: "192.168.1.19", GripperModel: wire.GripperPilot})
	s.UpdateComponent(&wire.ComponentConnStatus{AnchorNum: 1, WebsocketStatus: wire.Connecting})
	s.UpdateComponent(&wire.ComponentConnStatus{AnchorNum: 0, WebsocketStatus: wire.Connected, VideoStatus: wire.Connected})
	s.UpdateVideoReady(&wire.VideoReady{AnchorNum: 0, StreamPath: "anchor0"})

	snap := s.Snapshot(t0)
	require.Len(t, snap.Components, 3)
	assert.Equal(t, "anchor 0", snap.Components[0].Key.String())
	assert.Equal(t, "anchor0", snap.Components[0].Stream)
	assert.Equal(t, wire.Connecting, snap.Components[1].Websocket)
	assert.Equal(t, "gripper", snap.Components[2].Key.String())
	assert.Equal(t, wire.GripperPilot, snap.Components[2].Model)
}

func TestScene_PopupsAndProgress(t *testing.T) {
	s := New()
	for i := range 7 {
		s.AddPopup(string(rune('a' + i)))
	}
	s.UpdateProgress(&wire.Progress{Label: "calibrating", Fraction: 0.5})

	snap := s.Snapshot(t0)
	assert.Equal(t, []string{"c", "d", "e", "f", "g"}, snap.Popups)
	require.NotNil(t, snap.Progress)
	assert.Equal(t, "calibrating", snap.Progress.Label)

	s.UpdateProgress(&wire.Progress{Label: "calibrating", Fraction: 1})
	assert.Nil(t, s.Snapshot(t0).Progress)
}

func TestScene_SnapshotIsDetached(t *testing.T) {
	s := New()
	s.UpdatePosEstimate(&wire.PosEstimate{GantryPosition: wire.Vec3{X: 1}, Slack: []bool{true, false}})
	snap := s.Snapshot(t0)

	s.UpdatePosEstimate(&wire.PosEstimate{GantryPosition: wire.Vec3{X: 2}, Slack: []bool{false, true}})
	require.NotNil(t, snap.Gantry)
	assert.Equal(t, 1.0, snap.Gantry.X)
	assert.Equal(t, []bool{true, false}, snap.Slack)
}
