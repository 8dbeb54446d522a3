package frame

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/spatial/r3"
)

func assertVec(t *testing.T, want, got r3.Vec, delta float64) {
	t.Helper()
	assert.InDelta(t, want.X, got.X, delta, "X")
	assert.InDelta(t, want.Y, got.Y, delta, "Y")
	assert.InDelta(t, want.Z, got.Z, delta, "Z")
}

func TestRobotToRender(t *testing.T) {
	tests := []struct {
		robot, render r3.Vec
	}{
		{r3.Vec{X: 1}, r3.Vec{X: 1}},
		{r3.Vec{Y: 1}, r3.Vec{Z: -1}},
		{r3.Vec{Z: 1}, r3.Vec{Y: 1}},
		{r3.Vec{X: 1, Y: 2, Z: 3}, r3.Vec{X: 1, Y: 3, Z: -2}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.render, RobotToRender(tt.robot))
		assert.Equal(t, tt.robot, RenderToRobot(tt.render))
	}
}

func TestFromRodrigues_SmallAngleIsIdentity(t *testing.T) {
	assert.Equal(t, Identity(), FromRodrigues(r3.Vec{}))
	assert.Equal(t, Identity(), FromRodrigues(r3.Vec{X: 1e-8}))
}

func TestFromRodrigues_QuarterTurnAboutZ(t *testing.T) {
	r := FromRodrigues(r3.Vec{Z: math.Pi / 2})
	assertVec(t, r3.Vec{Y: 1}, r.Rotate(r3.Vec{X: 1}), 1e-12)
}

func TestRodrigues_RoundTrip(t *testing.T) {
	for _, v := range []r3.Vec{
		{X: 0.3, Y: -0.2, Z: 1.1},
		{Z: math.Pi / 4},
		{X: -2, Y: 0.5},
	} {
		assertVec(t, v, ToRodrigues(FromRodrigues(v)), 1e-9)
	}
}

func TestRodriguesFromEuler_YawOnly(t *testing.T) {
	got := RodriguesFromEuler(0, 0, math.Pi/4)
	assertVec(t, r3.Vec{Z: math.Pi / 4}, got, 1e-12)

	// 225 degrees wraps to -135 because the angle is kept in [0, pi].
	got = RodriguesFromEuler(0, 0, 225*math.Pi/180)
	assertVec(t, r3.Vec{Z: -135 * math.Pi / 180}, got, 1e-9)
}

func TestTransform_ZeroValueIsIdentity(t *testing.T) {
	var tr Transform
	p := r3.Vec{X: 1, Y: 2, Z: 3}
	assert.Equal(t, p, tr.Apply(p))
}

func TestTransform_InverseUndoesApply(t *testing.T) {
	tr := NewTransform(r3.Vec{X: 1, Y: 2, Z: -3}, FromRodrigues(r3.Vec{X: 0.4, Y: -0.9, Z: 0.2}))
	p := r3.Vec{X: -0.5, Y: 0.25, Z: 4}

	assertVec(t, p, tr.Inverse().Apply(tr.Apply(p)), 1e-12)
}

func TestTransform_Compose(t *testing.T) {
	parent := NewTransform(r3.Vec{X: 1}, FromRodrigues(r3.Vec{Y: math.Pi / 2}))
	child := NewTransform(r3.Vec{Z: 1}, FromRodrigues(r3.Vec{X: 0.3}))
	p := r3.Vec{X: 0.2, Y: -0.1, Z: 0.7}

	assertVec(t, parent.Apply(child.Apply(p)), parent.Compose(child).Apply(p), 1e-12)
}

func TestPoseToRender_SwapsPositionAndAxis(t *testing.T) {
	// A yaw about robot Z becomes a rotation about render Y.
	tr := PoseToRender(r3.Vec{X: 1, Y: 2, Z: 3}, r3.Vec{Z: math.Pi / 2})

	assert.Equal(t, r3.Vec{X: 1, Y: 3, Z: -2}, tr.Position)
	assertVec(t, r3.Vec{Z: -1}, tr.ApplyDirection(r3.Vec{X: 1}), 1e-12)
}
