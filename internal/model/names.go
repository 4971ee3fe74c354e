package model

// Reserved canonical names. Collaborators that draw the car or place it on a
// track look channels up by these names.
const (
	ParamWheelbase  = "wheelbase"
	ParamTrackWidth = "track_width"

	StateX       = "x"
	StateY       = "y"
	StateYaw     = "yaw"
	StateSteerFL = "steering_angle_fl"
	StateSteerFR = "steering_angle_fr"
	// StateSteer is the single-track fallback used for both front wheels.
	StateSteer = "steering_angle"
)

// PoseIndices locates the pose states of d. Missing states are -1; the
// tagged channel is used when the canonical name is absent.
func PoseIndices(d *Descriptor) (x, y, yaw int) {
	x = d.States.Index(StateX)
	if x < 0 {
		x = d.TaggedState(TagPoseX)
	}
	y = d.States.Index(StateY)
	if y < 0 {
		y = d.TaggedState(TagPoseY)
	}
	yaw = d.States.Index(StateYaw)
	if yaw < 0 {
		yaw = d.TaggedState(TagPoseYaw)
	}
	return x, y, yaw
}

// SteerIndices locates the front-left and front-right wheel angle states.
func SteerIndices(d *Descriptor) (fl, fr int) {
	fl = d.States.Index(StateSteerFL)
	fr = d.States.Index(StateSteerFR)
	single := d.States.Index(StateSteer)
	if single < 0 {
		single = d.TaggedState(TagSteerAngle)
	}
	if fl < 0 {
		fl = single
	}
	if fr < 0 {
		fr = single
	}
	return fl, fr
}
