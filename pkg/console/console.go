// Package console runs the operator control loop: it polls keyboard and
// gamepad input, sends fused commands over the telemetry session and keeps
// the scene model current.
package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"gonum.org/v1/gonum/spatial/r2"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/gwillem/nfconsole/pkg/clock"
	"github.com/gwillem/nfconsole/pkg/frame"
	"github.com/gwillem/nfconsole/pkg/input"
	"github.com/gwillem/nfconsole/pkg/lens"
	"github.com/gwillem/nfconsole/pkg/projector"
	"github.com/gwillem/nfconsole/pkg/scene"
	"github.com/gwillem/nfconsole/pkg/session"
	"github.com/gwillem/nfconsole/pkg/wire"
)

// Console keys handled before the keymap.
const (
	KeyToggleOrbit  = "o"
	KeyHoverUp      = "up"
	KeyHoverDown    = "down"
	KeySelectTarget = "t"
	KeyDeleteTarget = "delete"
	KeyClearTarget  = "c"
	KeyCycleCamera  = "tab"
)

// CameraGripper selects the palm camera for the target overlay. Anchor
// cameras are selected by anchor number.
const CameraGripper = -1

// recordBuffer bounds the batches waiting for the recorder.
const recordBuffer = 256

// TargetPixel is a target as the overlay camera sees it. UV is in
// normalized image coordinates and nil when the target is behind the
// camera.
type TargetPixel struct {
	ID string
	UV *r2.Vec
}

// State is a snapshot of the console for display. Camera is the overlay
// camera, an anchor number or CameraGripper. Overlay holds every target
// projected into it, in list order, and is empty until the camera pose is
// known.
type State struct {
	Session   session.State
	Online    bool
	Gamepad   bool
	Locked    bool
	OrbitMode bool
	Action    input.Action
	Sent      int
	Dropped   int
	Scene     scene.Snapshot
	Camera    int
	Overlay   []TargetPixel
	Timestamp time.Time
}

// Recorder persists the traffic of a session. Calls come from a dedicated
// goroutine, one at a time.
type Recorder interface {
	RecordControl(at time.Time, batch wire.ControlBatch) error
	RecordTelemetry(at time.Time, batch *wire.TelemetryBatch) error
}

// Config holds configuration for the controller.
type Config struct {
	Target         session.Target
	Transport      session.Transport
	Hz             int
	OrbitMode      bool
	Keymap         input.Keymap
	HoldWindow     time.Duration
	ReconnectDelay time.Duration
	// Gamepad is optional. If it implements io.Closer, Close closes it.
	Gamepad  input.GamepadSource
	Recorder Recorder
	Clock    clock.Clock
}

// Controller manages the control loop.
type Controller struct {
	hz        int
	clock     clock.Clock
	target    session.Target
	session   *session.Session
	fusion    *input.Fusion
	keyboard  *input.Keyboard
	scene     *scene.Scene
	projector projector.Projector
	gamepad   input.GamepadSource
	recorder  Recorder

	// owned by the loop goroutine
	gamepadPresent bool
	online         bool
	sent, dropped  int
	camera         int
	recordBehind   bool

	recCh     chan func(Recorder) error
	recDone   chan struct{}
	recFailed atomic.Bool

	mu       sync.Mutex
	running  bool
	keys     chan string
	requests chan func()
	stateCh  chan State
	logCh    chan string
}

// NewController creates a new controller. It does not dial until Start.
func NewController(cfg Config) (*Controller, error) {
	if cfg.Transport == nil {
		return nil, errors.New("no transport")
	}
	if _, err := cfg.Target.URL(); err != nil {
		return nil, fmt.Errorf("target: %w", err)
	}
	if cfg.Hz <= 0 {
		cfg.Hz = 60
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = session.DefaultReconnectDelay
	}

	c := &Controller{
		hz:        cfg.Hz,
		clock:     cfg.Clock,
		target:    cfg.Target,
		fusion:    input.NewFusion(input.WithOrbitMode(cfg.OrbitMode)),
		keyboard:  input.NewKeyboard(cfg.Keymap, cfg.HoldWindow),
		scene:     scene.New(),
		projector: projector.New(lens.RPiCam3),
		gamepad:   cfg.Gamepad,
		recorder:  cfg.Recorder,
		keys:      make(chan string, 64),
		requests:  make(chan func(), 16),
		stateCh:   make(chan State, 1),
		logCh:     make(chan string, 10),
	}
	c.fusion.SetOrbitCenter(c.scene.OrbitCenter)
	c.scene.Targets.OnSelect = func(id string) {
		if id == "" {
			c.log("Target selection cleared")
			return
		}
		c.log("Selected target %s", shortID(id))
	}
	c.session = session.New(cfg.Target, cfg.Transport, c.hooks(),
		session.WithClock(cfg.Clock),
		session.WithReconnectDelay(cfg.ReconnectDelay),
	)
	return c, nil
}

func (c *Controller) hooks() *session.Hooks {
	sc := c.scene
	return &session.Hooks{
		PosEstimate: func(p *wire.PosEstimate) {
			sc.UpdatePosEstimate(p)
			c.fusion.SetRobotPosition(p.GantryPosition.X, p.GantryPosition.Y)
		},
		AnchorPoses: sc.UpdateAnchorPoses,
		GantrySightings: func(p *wire.GantrySightings) {
			sc.AddSightings(c.clock.Now(), p)
		},
		TargetList:          sc.UpdateTargets,
		VideoReady:          sc.UpdateVideoReady,
		UplinkStatus:        func(p *wire.UplinkStatus) { sc.SetUplink(p.Online) },
		ComponentConnStatus: sc.UpdateComponent,
		Popup: func(p *wire.Popup) {
			sc.AddPopup(p.Message)
			c.log("Robot: %s", p.Message)
		},
		Progress:            sc.UpdateProgress,
		GripperSensors:      sc.UpdateGripperSensors,
		GripperPredictions:  sc.UpdateGripperPredictions,
		NamedObjectPosition: sc.UpdateNamedPosition,
		PositionFactors:     sc.UpdatePositionFactors,
		CommandedVelocity:   sc.UpdateCommandedVelocity,
		Batch: func(b *wire.TelemetryBatch) {
			at := c.clock.Now()
			c.record(func(r Recorder) error { return r.RecordTelemetry(at, b) })
		},
		Online: func(v bool) {
			if v != c.online {
				c.online = v
				if v {
					c.log("Robot online")
				} else {
					c.log("Robot offline")
				}
			}
		},
		AuthFailed: func(reason string) {
			c.log("Authentication failed (%s); not reconnecting", reason)
		},
		StateChange: func(s session.State) {
			c.log("Link %s", s)
		},
	}
}

// Close releases the gamepad. The session is closed when Start returns.
func (c *Controller) Close() error {
	c.mu.Lock()
	c.running = false
	c.mu.Unlock()

	if cl, ok := c.gamepad.(io.Closer); ok {
		if err := cl.Close(); err != nil {
			return fmt.Errorf("close gamepad: %w", err)
		}
	}
	return nil
}

// States returns a channel that receives state updates.
func (c *Controller) States() <-chan State {
	return c.stateCh
}

// Logs returns a channel that receives log messages.
func (c *Controller) Logs() <-chan string {
	return c.logCh
}

// Hz returns the control frequency.
func (c *Controller) Hz() int {
	return c.hz
}

// Press forwards a key press from the UI. It never blocks.
func (c *Controller) Press(key string) {
	select {
	case c.keys <- key:
	default:
	}
}

// AddCamTarget asks the robot to add a target at a normalized image point
// seen by an anchor camera. The floor estimate is logged for the operator.
func (c *Controller) AddCamTarget(anchor int, x, y float64) {
	select {
	case c.requests <- func() { c.addCamTarget(anchor, x, y) }:
	default:
		c.log("Busy; add target dropped")
	}
}

func (c *Controller) log(format string, args ...any) {
	msg := fmt.Sprintf("[%s] %s", c.clock.Now().Format("15:04:05"), fmt.Sprintf(format, args...))
	select {
	case c.logCh <- msg:
	default:
		// Drop if channel full
	}
}

// Start runs the control loop until ctx is done.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("already running")
	}
	c.running = true
	c.mu.Unlock()

	url, _ := c.target.URL()
	c.log("Connecting to %s (%s mode)", url, c.target.Mode)
	c.session.Connect(ctx)

	if c.recorder != nil {
		c.recCh = make(chan func(Recorder) error, recordBuffer)
		c.recDone = make(chan struct{})
		go c.recordLoop(c.recorder)
	}

	c.log("Control loop started at %d Hz", c.hz)

	ticker := c.clock.NewTicker(time.Second / time.Duration(c.hz))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.shutdown()
			return ctx.Err()
		case now := <-ticker.C():
			c.step(now)
		case ev := <-c.session.Events():
			c.session.Process(ev)
		case key := <-c.keys:
			c.handleKey(key)
		case req := <-c.requests:
			req()
		}
	}
}

func (c *Controller) step(now time.Time) {
	kb := c.keyboard.Frame(now)

	var gp *input.Frame
	if c.gamepad != nil {
		f, ok := c.gamepad.Poll()
		switch {
		case ok && !c.gamepadPresent:
			c.gamepadPresent = true
			c.fusion.GamepadConnected()
			c.log("Gamepad connected; squeeze both triggers halfway to unlock")
		case !ok && c.gamepadPresent:
			c.gamepadPresent = false
			c.log("Gamepad disconnected")
		}
		if ok {
			gp = &f
		}
	}

	if items := c.fusion.Tick(now, kb, gp); len(items) > 0 {
		c.send(now, items)
	}

	c.sendState(State{
		Session:   c.session.State(),
		Online:    c.online,
		Gamepad:   c.gamepadPresent,
		Locked:    c.fusion.Locked(),
		OrbitMode: c.fusion.OrbitMode(),
		Action:    c.fusion.Current(),
		Sent:      c.sent,
		Dropped:   c.dropped,
		Scene:     c.scene.Snapshot(now),
		Camera:    c.camera,
		Overlay:   c.overlay(),
		Timestamp: now,
	})
}

func (c *Controller) viewCamera() (frame.Transform, bool) {
	if c.camera == CameraGripper {
		return c.scene.GripperCamera()
	}
	return c.scene.AnchorCamera(c.camera)
}

// overlay projects the targets into the selected camera.
func (c *Controller) overlay() []TargetPixel {
	targets := c.scene.Targets.Targets()
	if len(targets) == 0 {
		return nil
	}
	cam, ok := c.viewCamera()
	if !ok {
		return nil
	}
	pts := make([]r3.Vec, len(targets))
	for i, t := range targets {
		pts[i] = t.Position.R3()
	}
	uv := c.projector.RobotFloorToPixel(cam, pts, r2.Vec{X: 1, Y: 1})
	out := make([]TargetPixel, len(targets))
	for i, t := range targets {
		out[i] = TargetPixel{ID: t.ID, UV: uv[i]}
	}
	return out
}

// cycleCamera steps through the anchor cameras, then the gripper camera.
func (c *Controller) cycleCamera() {
	next := c.camera + 1
	if c.camera == CameraGripper {
		next = 0
	} else if _, ok := c.scene.AnchorCamera(next); !ok {
		next = CameraGripper
	}
	c.camera = next
	if next == CameraGripper {
		c.log("Overlay camera: gripper")
	} else {
		c.log("Overlay camera: anchor %d", next)
	}
}

func (c *Controller) send(now time.Time, items []wire.ControlItem) {
	batch := wire.ControlBatch{RobotID: c.target.RobotID, Items: items}
	if !c.session.Send(batch) {
		c.dropped++
		return
	}
	c.sent++
	for _, it := range items {
		switch v := it.(type) {
		case *wire.CommandItem:
			c.log("Sent %s", v.Name)
		case *wire.EpisodeControl:
			c.log("Sent episode %v", v.Events)
		case *wire.DeleteTarget:
			c.log("Sent delete target %s", shortID(v.TargetID))
		case *wire.AddCamTarget:
			c.log("Sent add target from anchor %d", v.AnchorNum)
		}
	}
	c.record(func(r Recorder) error { return r.RecordControl(now, batch) })
}

// record queues fn for the recorder goroutine. Records are dropped while
// the queue is full.
func (c *Controller) record(fn func(Recorder) error) {
	if c.recCh == nil || c.recFailed.Load() {
		return
	}
	select {
	case c.recCh <- fn:
		c.recordBehind = false
	default:
		if !c.recordBehind {
			c.log("Recorder behind; dropping records")
			c.recordBehind = true
		}
	}
}

func (c *Controller) recordLoop(r Recorder) {
	defer close(c.recDone)
	for fn := range c.recCh {
		if c.recFailed.Load() {
			continue
		}
		if err := fn(r); err != nil {
			c.log("Recorder disabled: %v", err)
			c.recFailed.Store(true)
		}
	}
}

func (c *Controller) handleKey(key string) {
	targets := c.scene.Targets
	switch key {
	case KeyToggleOrbit:
		c.fusion.SetOrbitMode(!c.fusion.OrbitMode())
		c.log("Orbit mode %v", c.fusion.OrbitMode())
	case KeyHoverUp:
		targets.MoveHover(-1)
	case KeyHoverDown:
		targets.MoveHover(1)
	case KeySelectTarget:
		targets.SelectHovered()
	case KeyClearTarget:
		targets.SetSelected("")
	case KeyDeleteTarget:
		if item, ok := targets.DeleteSelected(); ok {
			c.send(c.clock.Now(), []wire.ControlItem{item})
		}
	case KeyCycleCamera:
		c.cycleCamera()
	default:
		c.keyboard.Press(key, c.clock.Now())
	}
}

func (c *Controller) addCamTarget(anchor int, x, y float64) {
	if anchor < 0 {
		c.log("Camera targets need an anchor camera")
		return
	}
	if cam, ok := c.scene.AnchorCamera(anchor); ok {
		floor := c.projector.PixelToRobotFloor(cam, []r2.Vec{{X: x, Y: y}})
		if p := floor[0]; p != nil {
			c.log("Target from anchor %d lands near (%.2f, %.2f)", anchor, p.X, p.Y)
		} else {
			c.log("Target from anchor %d does not hit the floor", anchor)
		}
	}
	c.send(c.clock.Now(), []wire.ControlItem{&wire.AddCamTarget{
		AnchorNum: int32(anchor),
		ImgNormX:  x,
		ImgNormY:  y,
	}})
}

func (c *Controller) sendState(s State) {
	select {
	case c.stateCh <- s:
	default:
		// Drop old state if channel full, replace with new
		select {
		case <-c.stateCh:
		default:
		}
		c.stateCh <- s
	}
}

func (c *Controller) shutdown() {
	c.mu.Lock()
	c.running = false
	c.mu.Unlock()

	c.keyboard.Reset()
	c.session.Close()
	if c.recCh != nil {
		// flush what is queued
		close(c.recCh)
		<-c.recDone
		c.recCh = nil
	}
	c.log("Control loop stopped")
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
