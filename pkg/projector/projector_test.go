package projector

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r2"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/gwillem/nfconsole/pkg/frame"
	"github.com/gwillem/nfconsole/pkg/lens"
)

// tenth of a pixel at the calibration width, in normalized units
const roundTripTol = 0.1 / 1920

func lookingDown(pos r3.Vec) frame.Transform {
	return frame.NewTransform(pos, r3.NewRotation(-math.Pi/2, r3.Vec{X: 1}))
}

// An anchor-style camera in a ceiling corner, turned towards the room
// centre and pitched down.
func cornerCamera() frame.Transform {
	yaw := r3.NewRotation(-math.Pi/4, r3.Vec{Y: 1})
	pitch := r3.NewRotation(-35*math.Pi/180, r3.Vec{X: 1})
	body := frame.NewTransform(r3.Vec{X: -2.5, Y: 2.5, Z: 2.5}, yaw)
	return body.Compose(frame.NewTransform(r3.Vec{}, pitch))
}

func TestPixelToFloor_PrincipalPointLooksStraightDown(t *testing.T) {
	p := New(lens.RPiCam3)
	cam := lookingDown(r3.Vec{X: 1, Y: 2, Z: -1})
	center := r2.Vec{X: lens.RPiCam3.K.Cx / 1920, Y: lens.RPiCam3.K.Cy / 1080}

	hits := p.PixelToFloor(cam, []r2.Vec{center})
	require.Len(t, hits, 1)
	require.NotNil(t, hits[0])
	assert.InDelta(t, 1, hits[0].X, 1e-9)
	assert.Zero(t, hits[0].Y)
	assert.InDelta(t, -1, hits[0].Z, 1e-9)
}

func TestPixelToFloor_ParallelRayIsNil(t *testing.T) {
	p := New(lens.RPiCam3)
	cam := frame.NewTransform(r3.Vec{Y: 1}, frame.Identity())
	center := r2.Vec{X: lens.RPiCam3.K.Cx / 1920, Y: lens.RPiCam3.K.Cy / 1080}

	hits := p.PixelToFloor(cam, []r2.Vec{center})
	assert.Nil(t, hits[0])
}

func TestPixelToFloor_RayAboveHorizonIsNil(t *testing.T) {
	p := New(lens.RPiCam3)
	cam := frame.NewTransform(r3.Vec{Y: 1}, frame.Identity())

	hits := p.PixelToFloor(cam, []r2.Vec{{X: 0.5, Y: 0.05}, {X: 0.5, Y: 0.95}})
	assert.Nil(t, hits[0], "top of a level camera points at the ceiling")
	assert.NotNil(t, hits[1], "bottom of a level camera sees the floor")
}

func TestFloorToPixel_BehindCameraIsNil(t *testing.T) {
	p := New(lens.RPiCam3)
	cam := frame.NewTransform(r3.Vec{Y: 1}, frame.Identity())

	px := p.FloorToPixel(cam, []r3.Vec{{Z: 3}, {Z: -3}}, r2.Vec{X: 1, Y: 1})
	assert.Nil(t, px[0])
	assert.NotNil(t, px[1])
}

func TestFloorToPixel_Scale(t *testing.T) {
	p := New(lens.RPiCam3)
	cam := lookingDown(r3.Vec{Y: 2})
	pts := []r3.Vec{{X: 0.3, Z: -0.2}}

	unit := p.FloorToPixel(cam, pts, r2.Vec{X: 1, Y: 1})
	canvas := p.FloorToPixel(cam, pts, r2.Vec{X: 640, Y: 360})
	require.NotNil(t, unit[0])
	require.NotNil(t, canvas[0])
	assert.InDelta(t, unit[0].X*640, canvas[0].X, 1e-9)
	assert.InDelta(t, unit[0].Y*360, canvas[0].Y, 1e-9)
}

func TestRoundTrip(t *testing.T) {
	p := New(lens.RPiCam3)
	cameras := map[string]frame.Transform{
		"down":   lookingDown(r3.Vec{X: 0.4, Y: 1.8, Z: 0.1}),
		"corner": cornerCamera(),
	}
	for name, cam := range cameras {
		t.Run(name, func(t *testing.T) {
			var uv []r2.Vec
			for u := 0.05; u < 1; u += 0.1 {
				for v := 0.05; v < 1; v += 0.1 {
					uv = append(uv, r2.Vec{X: u, Y: v})
				}
			}

			hits := p.PixelToFloor(cam, uv)
			for i, h := range hits {
				require.NotNil(t, h, "uv %v should hit the floor", uv[i])
				back := p.FloorToPixel(cam, []r3.Vec{*h}, r2.Vec{X: 1, Y: 1})
				require.NotNil(t, back[0])
				assert.InDelta(t, uv[i].X, back[0].X, roundTripTol, "u at %v", uv[i])
				assert.InDelta(t, uv[i].Y, back[0].Y, roundTripTol, "v at %v", uv[i])
			}
		})
	}
}

func TestRobotFrameWrappers(t *testing.T) {
	p := New(lens.RPiCam3)
	cam := cornerCamera()

	robotPts := p.PixelToRobotFloor(cam, []r2.Vec{{X: 0.5, Y: 0.6}})
	require.NotNil(t, robotPts[0])

	pt := r3.Vec{X: robotPts[0].X, Y: robotPts[0].Y}
	back := p.RobotFloorToPixel(cam, []r3.Vec{pt}, r2.Vec{X: 1, Y: 1})
	require.NotNil(t, back[0])
	assert.InDelta(t, 0.5, back[0].X, roundTripTol)
	assert.InDelta(t, 0.6, back[0].Y, roundTripTol)
}
