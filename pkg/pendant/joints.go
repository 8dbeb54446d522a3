// Package pendant turns a back-driven SO-101 leader arm on a feetech servo
// bus into a gamepad for the operator console.
package pendant

// JointName identifies a joint of the pendant.
type JointName string

// Joint names, matching servo IDs 1-6.
const (
	ShoulderPan  JointName = "shoulder_pan"
	ShoulderLift JointName = "shoulder_lift"
	ElbowFlex    JointName = "elbow_flex"
	WristFlex    JointName = "wrist_flex"
	WristRoll    JointName = "wrist_roll"
	Gripper      JointName = "gripper"
)

// AllJoints returns all joint names in servo ID order.
func AllJoints() []JointName {
	return []JointName{
		ShoulderPan,
		ShoulderLift,
		ElbowFlex,
		WristFlex,
		WristRoll,
		Gripper,
	}
}
