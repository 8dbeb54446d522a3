package pendant

// MotorCalibration holds calibration data for a single servo.
type MotorCalibration struct {
	ID       int `json:"id"`
	RangeMin int `json:"range_min"`
	RangeMax int `json:"range_max"`
}

// Calibration holds calibration data for all joints.
type Calibration map[JointName]MotorCalibration

// Normalize converts a raw servo position to [-100, 100]. Positions outside
// the recorded range are clamped.
func (c MotorCalibration) Normalize(raw int) float64 {
	rangeSize := float64(c.RangeMax - c.RangeMin)
	if rangeSize == 0 {
		return 0
	}
	n := (float64(raw-c.RangeMin)/rangeSize)*200 - 100
	return max(-100, min(100, n))
}

// Denormalize converts a value in [-100, 100] to a raw servo position.
func (c MotorCalibration) Denormalize(norm float64) int {
	rangeSize := float64(c.RangeMax - c.RangeMin)
	return int((norm+100)/200*rangeSize) + c.RangeMin
}

// MotorIDs returns the servo IDs in joint order.
func (c Calibration) MotorIDs() []int {
	ids := make([]int, 0, len(c))
	for _, name := range AllJoints() {
		if mc, ok := c[name]; ok {
			ids = append(ids, mc.ID)
		}
	}
	return ids
}

// ByID returns the joint name and calibration for a servo ID.
func (c Calibration) ByID(id int) (JointName, MotorCalibration, bool) {
	for name, mc := range c {
		if mc.ID == id {
			return name, mc, true
		}
	}
	return "", MotorCalibration{}, false
}

// Complete reports whether every joint has a usable range.
func (c Calibration) Complete() bool {
	for _, name := range AllJoints() {
		mc, ok := c[name]
		if !ok || mc.RangeMax <= mc.RangeMin {
			return false
		}
	}
	return true
}

// RangeRecorder tracks the extremes of every joint while the operator moves
// the pendant through its range of motion.
type RangeRecorder struct {
	Current map[JointName]int
	Min     map[JointName]int
	Max     map[JointName]int
}

// NewRangeRecorder starts a recording from the given positions.
func NewRangeRecorder(initial map[JointName]int) *RangeRecorder {
	r := &RangeRecorder{
		Current: make(map[JointName]int),
		Min:     make(map[JointName]int),
		Max:     make(map[JointName]int),
	}
	for name, pos := range initial {
		r.Current[name] = pos
		r.Min[name] = pos
		r.Max[name] = pos
	}
	return r
}

// Observe records a raw position for a joint.
func (r *RangeRecorder) Observe(name JointName, pos int) {
	r.Current[name] = pos
	if lo, ok := r.Min[name]; !ok || pos < lo {
		r.Min[name] = pos
	}
	if hi, ok := r.Max[name]; !ok || pos > hi {
		r.Max[name] = pos
	}
}

// Range returns max-min for a joint.
func (r *RangeRecorder) Range(name JointName) int {
	return r.Max[name] - r.Min[name]
}

// Calibration builds the calibration, assigning servo IDs 1-6 in joint order.
func (r *RangeRecorder) Calibration() Calibration {
	cal := make(Calibration, len(AllJoints()))
	for i, name := range AllJoints() {
		cal[name] = MotorCalibration{
			ID:       i + 1,
			RangeMin: r.Min[name],
			RangeMax: r.Max[name],
		}
	}
	return cal
}
