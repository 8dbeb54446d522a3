package main

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/spatial/r2"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/gwillem/nfconsole/pkg/lens"
	"github.com/gwillem/nfconsole/pkg/projector"
	"github.com/gwillem/nfconsole/pkg/recorder"
	"github.com/gwillem/nfconsole/pkg/scene"
	"github.com/gwillem/nfconsole/pkg/sim"
	"github.com/gwillem/nfconsole/pkg/wire"
)

type ProjectCommand struct {
	Anchor  int    `short:"a" long:"anchor" default:"0" description:"Anchor whose camera to use"`
	DB      string `long:"db" description:"Take anchor poses from this recording instead of the simulator room"`
	Session string `long:"session" description:"Recorded session id (default newest)"`
	ToPixel bool   `long:"to-pixel" description:"Project a robot floor point (x, y in meters) into the image"`

	Args struct {
		X float64 `positional-arg-name:"x"`
		Y float64 `positional-arg-name:"y"`
	} `positional-args:"yes" required:"yes"`
}

func (c *ProjectCommand) Execute(args []string) error {
	poses, err := c.anchorPoses()
	if err != nil {
		return err
	}
	if c.Anchor < 0 || c.Anchor >= len(poses.Poses) {
		return fmt.Errorf("anchor %d out of range (%d anchors)", c.Anchor, len(poses.Poses))
	}

	cam := scene.AnchorCamera(poses.Poses[c.Anchor], scene.DefaultCameraMount)
	proj := projector.New(lens.RPiCam3)

	if c.ToPixel {
		pt := r3.Vec{X: c.Args.X, Y: c.Args.Y}
		uv := proj.RobotFloorToPixel(cam, []r3.Vec{pt}, r2.Vec{X: 1, Y: 1})[0]
		if uv == nil {
			fmt.Println("behind the camera")
			return nil
		}
		fmt.Printf("%.4f %.4f\n", uv.X, uv.Y)
		return nil
	}

	if c.Args.X < 0 || c.Args.X > 1 || c.Args.Y < 0 || c.Args.Y > 1 {
		return errors.New("image coordinates must be normalized to [0,1]")
	}
	hit := proj.PixelToRobotFloor(cam, []r2.Vec{{X: c.Args.X, Y: c.Args.Y}})[0]
	if hit == nil {
		fmt.Println("no floor intersection")
		return nil
	}
	fmt.Printf("%.4f %.4f\n", hit.X, hit.Y)
	return nil
}

func (c *ProjectCommand) anchorPoses() (*wire.AnchorPoses, error) {
	if c.DB == "" {
		return sim.AnchorPoses(), nil
	}

	rec, err := recorder.Inspect(c.DB)
	if err != nil {
		return nil, err
	}
	defer rec.Close()

	id := c.Session
	if id == "" {
		sessions, err := rec.Sessions()
		if err != nil {
			return nil, err
		}
		if len(sessions) == 0 {
			return nil, fmt.Errorf("%s: no recorded sessions", c.DB)
		}
		id = sessions[0].ID
	}

	retained, err := rec.Retained(id)
	if err != nil {
		return nil, err
	}
	item, ok := retained[anchorPosesKey]
	if !ok {
		return nil, fmt.Errorf("session %s has no anchor poses", id)
	}
	poses, ok := item.Update.(*wire.AnchorPoses)
	if !ok {
		return nil, fmt.Errorf("session %s: unexpected %s under %q", id, item.Update.Kind(), anchorPosesKey)
	}
	return poses, nil
}

const anchorPosesKey = "anchor_poses"
