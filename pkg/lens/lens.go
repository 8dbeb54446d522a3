// Package lens models a calibrated camera lens using the Brown-Conrady
// radial and tangential distortion model.
package lens

// UndistortIterations is the fixed number of fixed-point iterations used by
// Undistort. It is not a convergence bound: Undistort always runs exactly
// this many iterations.
const UndistortIterations = 5

// Intrinsics holds the pinhole camera matrix parameters in pixels.
type Intrinsics struct {
	Fx float64 `json:"fx"`
	Fy float64 `json:"fy"`
	Cx float64 `json:"cx"`
	Cy float64 `json:"cy"`
}

// Distortion holds Brown-Conrady coefficients. K3 is optional; zero disables it.
type Distortion struct {
	K1 float64 `json:"k1"`
	K2 float64 `json:"k2"`
	P1 float64 `json:"p1"`
	P2 float64 `json:"p2"`
	K3 float64 `json:"k3,omitempty"`
}

// ImageShape is the resolution the intrinsics were estimated at.
type ImageShape struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Calibration is an immutable camera calibration.
type Calibration struct {
	K     Intrinsics `json:"K"`
	D     Distortion `json:"D"`
	Shape ImageShape `json:"image_shape"`
}

// RPiCam3 is the calibration shared by every anchor and gripper camera.
var RPiCam3 = Calibration{
	K:     Intrinsics{Fx: 1691.33070, Fy: 1697.39780, Cx: 1163.88477, Cy: 633.903475},
	D:     Distortion{K1: 0.021986, K2: 0.160533, P1: -0.003378, P2: 0.00264, K3: -0.356843},
	Shape: ImageShape{Width: 1920, Height: 1080},
}

func (c Calibration) terms(x, y float64) (radial, dx, dy float64) {
	d := c.D
	r2 := x*x + y*y
	r4 := r2 * r2
	r6 := r2 * r4
	radial = 1 + d.K1*r2 + d.K2*r4 + d.K3*r6
	dx = 2*d.P1*x*y + d.P2*(r2+2*x*x)
	dy = d.P1*(r2+2*y*y) + 2*d.P2*x*y
	return radial, dx, dy
}

// Distort applies the forward distortion model to an ideal point on the
// normalized image plane and returns the distorted normalized point.
func (c Calibration) Distort(x, y float64) (float64, float64) {
	radial, dx, dy := c.terms(x, y)
	return x*radial + dx, y*radial + dy
}

// Undistort maps a distorted pixel (origin top-left) to the pixel an ideal
// pinhole camera would have produced.
func (c Calibration) Undistort(px, py float64) (float64, float64) {
	x0, y0 := c.ToNormalized(px, py)
	x, y := x0, y0
	for range UndistortIterations {
		radial, dx, dy := c.terms(x, y)
		x = (x0 - dx) / radial
		y = (y0 - dy) / radial
	}
	return c.ToPixel(x, y)
}

// ToNormalized converts pixel coordinates to the normalized image plane.
func (c Calibration) ToNormalized(px, py float64) (float64, float64) {
	return (px - c.K.Cx) / c.K.Fx, (py - c.K.Cy) / c.K.Fy
}

// ToPixel converts normalized image plane coordinates to pixels.
func (c Calibration) ToPixel(x, y float64) (float64, float64) {
	return x*c.K.Fx + c.K.Cx, y*c.K.Fy + c.K.Cy
}
