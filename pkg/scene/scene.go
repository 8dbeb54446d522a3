// Package scene is the console's model of the robot, fed by telemetry:
// gantry, gripper, anchors and their cameras, targets, sightings, named
// objects and component status.
//
// Positions arriving from the robot are in its Z-up frame. Anything that
// feeds projection (camera transforms, named objects, sightings) is stored
// in the render frame; positions shown to the operator stay robot frame.
package scene

import (
	"fmt"
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/gwillem/nfconsole/pkg/frame"
	"github.com/gwillem/nfconsole/pkg/wire"
)

const (
	// PersonTag is the named object the orbit remap pivots around.
	PersonTag = "user_pers"

	maxPopups = 5
)

// DefaultCameraMount is an anchor camera relative to its anchor: looking
// along the anchor's -Z, pitched down 35 degrees.
var DefaultCameraMount = frame.NewTransform(r3.Vec{}, frame.FromRodrigues(r3.Vec{X: -35 * math.Pi / 180}))

// GripperCameraMount points the palm camera straight down.
var GripperCameraMount = frame.NewTransform(r3.Vec{}, frame.FromRodrigues(r3.Vec{X: -math.Pi / 2}))

// AnchorCamera returns an anchor camera's render-frame transform for an
// anchor pose given in the robot frame.
func AnchorCamera(pose wire.Pose, mount frame.Transform) frame.Transform {
	return frame.PoseToRender(pose.Position.R3(), pose.Rotation.R3()).Compose(mount)
}

// ComponentKey identifies the gripper or one anchor.
type ComponentKey struct {
	Gripper bool
	Anchor  int32
}

func (k ComponentKey) String() string {
	if k.Gripper {
		return "gripper"
	}
	return fmt.Sprintf("anchor %d", k.Anchor)
}

// Component is the last reported link state of a component.
type Component struct {
	Key       ComponentKey
	Websocket wire.ConnStatus
	Video     wire.ConnStatus
	IPAddress string
	Model     wire.GripperModel
	Stream    string
}

// Anchor is one cable anchor.
type Anchor struct {
	Num int
	// Position is robot frame.
	Position r3.Vec
	Pose     frame.Transform
	Camera   frame.Transform
}

// Cable is the straight-line length from an anchor to the gantry.
type Cable struct {
	Anchor int
	Length float64
}

// Room is the axis-aligned box spanned by the anchors, robot frame. The
// floor is z=0.
type Room struct {
	Min, Max r3.Vec
}

// Scene is not safe for concurrent use; the console owns it.
type Scene struct {
	Targets   *TargetList
	Sightings *Sightings

	gantry    *r3.Vec
	gantryVel r3.Vec
	gripper   *wire.Pose
	dataTS    float64
	slack     []bool

	sensors     wire.GripperSensors
	predictions wire.GripperPredictions
	factors     *wire.PositionFactors
	commanded   r3.Vec

	anchors    []Anchor
	named      map[string]r3.Vec
	components map[ComponentKey]*Component
	popups     []string
	progress   *wire.Progress
	uplink     bool
}

// New returns an empty scene using DefaultCameraMount.
func New() *Scene {
	return &Scene{
		Targets:    &TargetList{},
		Sightings:  &Sightings{},
		named:      make(map[string]r3.Vec),
		components: make(map[ComponentKey]*Component),
	}
}

// UpdatePosEstimate stores the gantry and gripper estimate.
func (s *Scene) UpdatePosEstimate(p *wire.PosEstimate) {
	pos := p.GantryPosition.R3()
	s.gantry = &pos
	s.gantryVel = p.GantryVelocity.R3()
	g := p.GripperPose
	s.gripper = &g
	s.dataTS = p.DataTS
	s.slack = append(s.slack[:0], p.Slack...)
}

// UpdateAnchorPoses replaces the anchors and recomputes their camera
// transforms.
func (s *Scene) UpdateAnchorPoses(p *wire.AnchorPoses) {
	s.anchors = s.anchors[:0]
	for i, pose := range p.Poses {
		tf := frame.PoseToRender(pose.Position.R3(), pose.Rotation.R3())
		s.anchors = append(s.anchors, Anchor{
			Num:      i,
			Position: pose.Position.R3(),
			Pose:     tf,
			Camera:   tf.Compose(DefaultCameraMount),
		})
	}
}

// AddSightings adds fading gantry sightings.
func (s *Scene) AddSightings(now time.Time, p *wire.GantrySightings) {
	s.Sightings.Add(now, p.Sightings)
}

// UpdateTargets replaces the target list. Selection and hover carry over
// by id.
func (s *Scene) UpdateTargets(p *wire.TargetList) {
	s.Targets.Update(p.Targets)
}

// UpdateVideoReady records where a component's video can be fetched.
func (s *Scene) UpdateVideoReady(p *wire.VideoReady) {
	c := s.component(ComponentKey{Gripper: p.IsGripper, Anchor: p.AnchorNum})
	c.Stream = p.StreamPath
	if c.Stream == "" {
		c.Stream = p.LocalURI
	}
}

// UpdateComponent records a component's link status. An empty IP address
// keeps the previous one.
func (s *Scene) UpdateComponent(p *wire.ComponentConnStatus) {
	c := s.component(ComponentKey{Gripper: p.IsGripper, Anchor: p.AnchorNum})
	c.Websocket = p.WebsocketStatus
	c.Video = p.VideoStatus
	if p.IPAddress != "" {
		c.IPAddress = p.IPAddress
	}
	if p.IsGripper {
		c.Model = p.GripperModel
	}
}

func (s *Scene) component(key ComponentKey) *Component {
	if key.Gripper {
		key.Anchor = 0
	}
	c, ok := s.components[key]
	if !ok {
		c = &Component{Key: key}
		s.components[key] = c
	}
	return c
}

// AddPopup keeps the last few operator messages.
func (s *Scene) AddPopup(msg string) {
	s.popups = append(s.popups, msg)
	if len(s.popups) > maxPopups {
		s.popups = append(s.popups[:0], s.popups[len(s.popups)-maxPopups:]...)
	}
}

// UpdateProgress records task progress; a fraction of 1 or more clears it.
func (s *Scene) UpdateProgress(p *wire.Progress) {
	if p.Fraction >= 1 {
		s.progress = nil
		return
	}
	cp := *p
	s.progress = &cp
}

// Latest-value updates.
func (s *Scene) UpdateGripperSensors(p *wire.GripperSensors)         { s.sensors = *p }
func (s *Scene) UpdateGripperPredictions(p *wire.GripperPredictions) { s.predictions = *p }
func (s *Scene) UpdateCommandedVelocity(p *wire.CommandedVelocity)   { s.commanded = p.Velocity.R3() }

// UpdatePositionFactors keeps the localization debug factors.
func (s *Scene) UpdatePositionFactors(p *wire.PositionFactors) {
	cp := *p
	s.factors = &cp
}

// UpdateNamedPosition stores a named object, converted to the render frame.
func (s *Scene) UpdateNamedPosition(p *wire.NamedObjectPosition) {
	s.named[p.Name] = frame.RobotToRender(p.Position.R3())
}

// SetUplink records whether the robot reaches the relay.
func (s *Scene) SetUplink(online bool) { s.uplink = online }

// GantryPosition returns the last estimate, robot frame.
func (s *Scene) GantryPosition() (r3.Vec, bool) {
	if s.gantry == nil {
		return r3.Vec{}, false
	}
	return *s.gantry, true
}

// NamedPosition returns a named object's render-frame position.
func (s *Scene) NamedPosition(name string) (r3.Vec, bool) {
	p, ok := s.named[name]
	return p, ok
}

// OrbitCenter is the person tag, the pivot for orbit remapping.
func (s *Scene) OrbitCenter() (r3.Vec, bool) {
	return s.NamedPosition(PersonTag)
}

// AnchorCamera returns anchor num's camera transform.
func (s *Scene) AnchorCamera(num int) (frame.Transform, bool) {
	if num < 0 || num >= len(s.anchors) {
		return frame.Transform{}, false
	}
	return s.anchors[num].Camera, true
}

// GripperCamera returns the palm camera transform.
func (s *Scene) GripperCamera() (frame.Transform, bool) {
	if s.gripper == nil {
		return frame.Transform{}, false
	}
	return frame.PoseToRender(s.gripper.Position.R3(), s.gripper.Rotation.R3()).Compose(GripperCameraMount), true
}

// Room returns the box spanned by the anchors.
func (s *Scene) Room() (Room, bool) {
	if len(s.anchors) == 0 {
		return Room{}, false
	}
	inf := math.Inf(1)
	r := Room{Min: r3.Vec{X: inf, Y: inf}, Max: r3.Vec{X: -inf, Y: -inf, Z: 0}}
	for _, a := range s.anchors {
		r.Min.X = math.Min(r.Min.X, a.Position.X)
		r.Min.Y = math.Min(r.Min.Y, a.Position.Y)
		r.Max.X = math.Max(r.Max.X, a.Position.X)
		r.Max.Y = math.Max(r.Max.Y, a.Position.Y)
		r.Max.Z = math.Max(r.Max.Z, a.Position.Z)
	}
	return r, true
}

// Cables returns the anchor-to-gantry distances, or nil before the first
// position estimate.
func (s *Scene) Cables() []Cable {
	if s.gantry == nil {
		return nil
	}
	cables := make([]Cable, 0, len(s.anchors))
	for _, a := range s.anchors {
		cables = append(cables, Cable{Anchor: a.Num, Length: r3.Norm(r3.Sub(a.Position, *s.gantry))})
	}
	return cables
}

// Snapshot is a copy of the scene for display.
type Snapshot struct {
	Gantry      *r3.Vec
	GantryVel   r3.Vec
	Gripper     *wire.Pose
	DataTS      float64
	Slack       []bool
	Sensors     wire.GripperSensors
	Predictions wire.GripperPredictions
	Factors     *wire.PositionFactors
	Commanded   r3.Vec
	Anchors     []Anchor
	Room        *Room
	Cables      []Cable
	Targets     []wire.Target
	Selected    string
	Hovered     string
	Sightings   []Sighting
	Named       map[string]r3.Vec
	Components  []Component
	Popups      []string
	Progress    *wire.Progress
	Uplink      bool
}

// Snapshot copies the scene at now. It expires stale sightings.
func (s *Scene) Snapshot(now time.Time) Snapshot {
	snap := Snapshot{
		GantryVel:   s.gantryVel,
		DataTS:      s.dataTS,
		Slack:       append([]bool(nil), s.slack...),
		Sensors:     s.sensors,
		Predictions: s.predictions,
		Commanded:   s.commanded,
		Anchors:     append([]Anchor(nil), s.anchors...),
		Cables:      s.Cables(),
		Targets:     s.Targets.Targets(),
		Selected:    s.Targets.Selected(),
		Hovered:     s.Targets.Hovered(),
		Sightings:   s.Sightings.Live(now),
		Named:       make(map[string]r3.Vec, len(s.named)),
		Popups:      append([]string(nil), s.popups...),
		Uplink:      s.uplink,
	}
	if s.gantry != nil {
		g := *s.gantry
		snap.Gantry = &g
	}
	if s.gripper != nil {
		g := *s.gripper
		snap.Gripper = &g
	}
	if s.factors != nil {
		f := *s.factors
		snap.Factors = &f
	}
	if s.progress != nil {
		p := *s.progress
		snap.Progress = &p
	}
	if r, ok := s.Room(); ok {
		snap.Room = &r
	}
	for k, v := range s.named {
		snap.Named[k] = v
	}
	for _, c := range s.components {
		snap.Components = append(snap.Components, *c)
	}
	sort.Slice(snap.Components, func(i, j int) bool {
		a, b := snap.Components[i].Key, snap.Components[j].Key
		if a.Gripper != b.Gripper {
			return !a.Gripper
		}
		return a.Anchor < b.Anchor
	})
	return snap
}
