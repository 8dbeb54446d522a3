// Package projector converts between camera image coordinates and points on
// the floor plane.
package projector

import (
	"math"

	"gonum.org/v1/gonum/spatial/r2"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/gwillem/nfconsole/pkg/frame"
	"github.com/gwillem/nfconsole/pkg/lens"
)

// ParallelEpsilon is the smallest vertical ray component considered to
// intersect the floor.
const ParallelEpsilon = 1e-6

// Projector projects through one lens calibration. The camera transforms it
// receives are render-frame (Y-up, floor at Y=0, camera looking down -Z).
type Projector struct {
	Cal lens.Calibration
}

// New returns a projector for cal.
func New(cal lens.Calibration) Projector {
	return Projector{Cal: cal}
}

// PixelToFloor casts a ray through each normalized image point (origin
// top-left, [0,1] on both axes) and intersects it with the floor. A nil
// entry means the ray is parallel to the floor or hits it behind the camera.
func (p Projector) PixelToFloor(cam frame.Transform, uv []r2.Vec) []*r3.Vec {
	out := make([]*r3.Vec, len(uv))
	for i, pt := range uv {
		px, py := p.Cal.Undistort(pt.X*p.Cal.Shape.Width, pt.Y*p.Cal.Shape.Height)
		u, v := p.Cal.ToNormalized(px, py)

		ray := cam.ApplyDirection(r3.Unit(r3.Vec{X: u, Y: -v, Z: -1}))
		if math.Abs(ray.Y) < ParallelEpsilon {
			continue
		}
		s := -cam.Position.Y / ray.Y
		if s <= 0 {
			continue
		}
		out[i] = &r3.Vec{
			X: cam.Position.X + s*ray.X,
			Y: 0,
			Z: cam.Position.Z + s*ray.Z,
		}
	}
	return out
}

// FloorToPixel projects world points into the camera image and rescales the
// result from the calibration resolution to scale. Passing scale (1,1) yields
// normalized [0,1] coordinates. A nil entry means the point is behind the
// camera.
func (p Projector) FloorToPixel(cam frame.Transform, pts []r3.Vec, scale r2.Vec) []*r2.Vec {
	inv := cam.Inverse()
	out := make([]*r2.Vec, len(pts))
	for i, pt := range pts {
		local := inv.Apply(pt)

		// camera local space has +Y up and -Z forward; image space has +Y
		// down and +Z forward.
		imgX, imgY, imgZ := local.X, -local.Y, -local.Z
		if imgZ <= 0 {
			continue
		}

		dx, dy := p.Cal.Distort(imgX/imgZ, imgY/imgZ)
		u, v := p.Cal.ToPixel(dx, dy)
		out[i] = &r2.Vec{
			X: u / p.Cal.Shape.Width * scale.X,
			Y: v / p.Cal.Shape.Height * scale.Y,
		}
	}
	return out
}

// PixelToRobotFloor is PixelToFloor returning robot-frame (x, y) floor
// coordinates.
func (p Projector) PixelToRobotFloor(cam frame.Transform, uv []r2.Vec) []*r2.Vec {
	hits := p.PixelToFloor(cam, uv)
	out := make([]*r2.Vec, len(hits))
	for i, h := range hits {
		if h == nil {
			continue
		}
		r := frame.RenderToRobot(*h)
		out[i] = &r2.Vec{X: r.X, Y: r.Y}
	}
	return out
}

// RobotFloorToPixel is FloorToPixel taking robot-frame points.
func (p Projector) RobotFloorToPixel(cam frame.Transform, pts []r3.Vec, scale r2.Vec) []*r2.Vec {
	render := make([]r3.Vec, len(pts))
	for i, pt := range pts {
		render[i] = frame.RobotToRender(pt)
	}
	return p.FloorToPixel(cam, render, scale)
}
