// Package sim simulates a gantry robot and serves it over the same
// websocket protocol a real robot speaks, so the console can be driven
// without hardware.
package sim

import (
	"fmt"
	"math"
	"math/rand/v2"
	"slices"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/spatial/r2"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/gwillem/nfconsole/pkg/frame"
	"github.com/gwillem/nfconsole/pkg/lens"
	"github.com/gwillem/nfconsole/pkg/monitoring"
	"github.com/gwillem/nfconsole/pkg/projector"
	"github.com/gwillem/nfconsole/pkg/scene"
	"github.com/gwillem/nfconsole/pkg/wire"
)

// Simulated room and robot. Lengths are metres, UpdateRate is in Hz. The
// robot sleeps after InactivityTimeout without a control batch.
const (
	RoomSizeX         = 5.0
	RoomSizeY         = 5.0
	AnchorHeight      = 2.5
	GripperOffsetZ    = 0.53
	UpdateRate        = 30
	InactivityTimeout = 60 * time.Second
	DefaultRobotID    = "simulated_robot_1"

	visualNoise  = 0.02
	rangeNoise   = 0.005
	rugThickness = 0.03
	smoothing    = 0.1
)

var (
	minBounds = r3.Vec{X: -RoomSizeX / 2, Y: -RoomSizeY / 2, Z: 0}
	maxBounds = r3.Vec{X: RoomSizeX / 2, Y: RoomSizeY / 2, Z: AnchorHeight}

	// PersonPosition is where the simulated operator stands.
	PersonPosition = wire.Vec3{X: 1.5, Y: -1.5, Z: 0}
)

// AnchorPoses returns the four corner anchors, each turned to face out of
// the room.
func AnchorPoses() *wire.AnchorPoses {
	corners := []struct{ x, y, deg float64 }{
		{-2.5, -2.5, -45 + 180},
		{2.5, -2.5, 45 + 180},
		{2.5, 2.5, 135 + 180},
		{-2.5, 2.5, 225 + 180},
	}
	poses := make([]wire.Pose, 0, len(corners))
	for _, c := range corners {
		rot := frame.RodriguesFromEuler(0, 0, c.deg*math.Pi/180)
		poses = append(poses, wire.Pose{
			Position: wire.Vec3{X: c.x, Y: c.y, Z: AnchorHeight},
			Rotation: wire.FromR3(rot),
		})
	}
	return &wire.AnchorPoses{Poses: poses}
}

// Robot is the simulated robot state. It is not safe for concurrent use;
// each connection owns one.
type Robot struct {
	ID string

	pos, vel, targetVel r3.Vec
	wrist, finger       float64

	lastUpdate  time.Time
	lastControl time.Time
	sleeping    bool
	recording   bool

	anchors   *wire.AnchorPoses
	targets   []wire.Target
	projector projector.Projector
	rng       *rand.Rand
}

// NewRobot returns a robot at rest one metre above the room centre.
func NewRobot(id string, now time.Time, rng *rand.Rand) *Robot {
	r := &Robot{
		ID:          id,
		pos:         r3.Vec{Z: 1},
		lastUpdate:  now,
		lastControl: now,
		anchors:     AnchorPoses(),
		projector:   projector.New(lens.RPiCam3),
		rng:         rng,
	}
	for _, p := range []wire.Vec3{{X: 0.8, Y: 0.4}, {X: -1.1, Y: 0.9}, {X: 0.2, Y: -1.3}} {
		r.targets = append(r.targets, wire.Target{ID: uuid.NewString(), Position: p, Source: "sim"})
	}
	return r
}

// Position returns the gantry position.
func (r *Robot) Position() r3.Vec { return r.pos }

// Velocity returns the gantry velocity.
func (r *Robot) Velocity() r3.Vec { return r.vel }

// Sleeping reports whether the robot has paused for lack of input.
func (r *Robot) Sleeping() bool { return r.sleeping }

// Targets returns a copy of the target list.
func (r *Robot) Targets() []wire.Target { return slices.Clone(r.targets) }

// Hello is the batch sent when a client connects.
func (r *Robot) Hello() wire.TelemetryBatch {
	return wire.TelemetryBatch{RobotID: r.ID, Updates: []wire.TelemetryItem{
		{Update: r.anchors, RetainKey: "anchor_poses"},
		{Update: &wire.NamedObjectPosition{Name: scene.PersonTag, Position: PersonPosition}, RetainKey: "named_" + scene.PersonTag},
		r.targetList(),
	}}
}

func (r *Robot) targetList() wire.TelemetryItem {
	return wire.TelemetryItem{Update: &wire.TargetList{Targets: r.Targets()}, RetainKey: "target_list"}
}

// Step advances the physics to now. It returns false while the robot
// sleeps after InactivityTimeout without control input.
func (r *Robot) Step(now time.Time) (wire.TelemetryBatch, bool) {
	if now.Sub(r.lastControl) > InactivityTimeout {
		if !r.sleeping {
			monitoring.Logf("[sim] %s: sleeping after %s without input", r.ID, InactivityTimeout)
			r.sleeping = true
		}
		return wire.TelemetryBatch{}, false
	}
	if r.sleeping {
		monitoring.Logf("[sim] %s: waking up", r.ID)
		r.sleeping = false
		r.lastUpdate = now
	}

	dt := now.Sub(r.lastUpdate).Seconds()
	r.lastUpdate = now

	r.vel = r3.Add(r.vel, r3.Scale(smoothing, r3.Sub(r.targetVel, r.vel)))
	r.pos = clampVec(r3.Add(r.pos, r3.Scale(dt, r.vel)), minBounds, maxBounds)

	gripper := r3.Sub(r.pos, r3.Vec{Z: GripperOffsetZ})
	pos := &wire.PosEstimate{
		GantryPosition: wire.FromR3(r.pos),
		GantryVelocity: wire.FromR3(r.vel),
		GripperPose: wire.Pose{
			Position: wire.FromR3(gripper),
			Rotation: wire.FromR3(frame.RodriguesFromEuler(0, 0, r.wrist*math.Pi/180)),
		},
		DataTS: float64(now.UnixNano()) / 1e9,
		Slack:  []bool{false, false, false, false},
	}

	noise := r3.Vec{X: r.noise(visualNoise), Y: r.noise(visualNoise), Z: r.noise(visualNoise)}
	factors := &wire.PositionFactors{
		VisualPos:  wire.FromR3(r3.Add(r.pos, noise)),
		VisualVel:  wire.FromR3(r.vel),
		HangingPos: wire.FromR3(r.pos),
		HangingVel: wire.FromR3(r.vel),
	}

	rangeToFloor := max(0, r.pos.Z-GripperOffsetZ)
	var pressure float64
	if r.finger > 45 && rangeToFloor < 0.1 {
		pressure = 0.5 + r.rng.Float64()
	}
	sensors := &wire.GripperSensors{
		Range:    rangeToFloor - rugThickness + r.noise(rangeNoise),
		Angle:    r.finger,
		Pressure: pressure,
		Wrist:    r.wrist,
	}

	return wire.TelemetryBatch{RobotID: r.ID, Updates: []wire.TelemetryItem{
		{Update: pos, RetainKey: "pos_estimate"},
		{Update: factors},
		{Update: sensors, RetainKey: "grip_sensors"},
		{Update: &wire.CommandedVelocity{Velocity: wire.FromR3(r.targetVel)}, RetainKey: "cmd_vel"},
	}}, true
}

// noise returns a uniform sample in [-level, level).
func (r *Robot) noise(level float64) float64 {
	return (r.rng.Float64()*2 - 1) * level
}

// Handle applies a control batch and returns the telemetry items it
// produces immediately.
func (r *Robot) Handle(now time.Time, batch wire.ControlBatch) []wire.TelemetryItem {
	r.lastControl = now

	var out []wire.TelemetryItem
	for _, item := range batch.Items {
		switch it := item.(type) {
		case *wire.CommandItem:
			if it.Name == wire.CommandStopAll {
				r.targetVel = r3.Vec{}
				r.vel = r3.Vec{}
			} else {
				monitoring.Logf("[sim] %s: ignoring %s", r.ID, it.Name)
			}
		case *wire.Move:
			r.move(it)
		case *wire.EpisodeControl:
			r.recording = !r.recording
			msg := "Episode recording stopped"
			if r.recording {
				msg = "Episode recording started"
			}
			out = append(out, wire.TelemetryItem{Update: &wire.Popup{Message: msg}})
		case *wire.DeleteTarget:
			n := len(r.targets)
			r.targets = slices.DeleteFunc(r.targets, func(t wire.Target) bool { return t.ID == it.TargetID })
			if len(r.targets) != n {
				out = append(out, r.targetList())
			}
		case *wire.AddCamTarget:
			out = append(out, r.addCamTarget(it))
		}
	}
	return out
}

func (r *Robot) move(m *wire.Move) {
	if m.Speed == 0 {
		r.targetVel = r3.Vec{}
	} else if dir := m.Direction.R3(); r3.Norm(dir) > 0 {
		r.targetVel = r3.Scale(m.Speed, r3.Unit(dir))
	}
	if m.Finger != nil {
		r.finger = *m.Finger
	}
	if m.Wrist != nil {
		r.wrist = *m.Wrist
	}
}

func (r *Robot) addCamTarget(a *wire.AddCamTarget) wire.TelemetryItem {
	if a.AnchorNum < 0 || int(a.AnchorNum) >= len(r.anchors.Poses) {
		return wire.TelemetryItem{Update: &wire.Popup{Message: fmt.Sprintf("No camera on anchor %d", a.AnchorNum)}}
	}
	cam := scene.AnchorCamera(r.anchors.Poses[a.AnchorNum], scene.DefaultCameraMount)
	hit := r.projector.PixelToRobotFloor(cam, []r2.Vec{{X: a.ImgNormX, Y: a.ImgNormY}})[0]
	if hit == nil {
		return wire.TelemetryItem{Update: &wire.Popup{Message: "That point is not on the floor"}}
	}

	id := a.TargetID
	if id == "" {
		id = uuid.NewString()
	}
	r.targets = append(r.targets, wire.Target{
		ID:       id,
		Position: wire.Vec3{X: hit.X, Y: hit.Y},
		Source:   fmt.Sprintf("anchor %d", a.AnchorNum),
	})
	return r.targetList()
}

func clampVec(v, lo, hi r3.Vec) r3.Vec {
	return r3.Vec{
		X: max(lo.X, min(hi.X, v.X)),
		Y: max(lo.Y, min(hi.Y, v.Y)),
		Z: max(lo.Z, min(hi.Z, v.Z)),
	}
}
