package models

import (
	"math"

	"github.com/san-kum/vehsim/internal/dynamo"
	"github.com/san-kum/vehsim/internal/integrators"
	"github.com/san-kum/vehsim/internal/model"
)

const KinematicSingleTrackName = "kinematic_single_track"

const (
	ksWheelbase = iota
	ksVMax
	ksSteeringDelay
	ksDrivetrainDelay
)

const (
	ksInSteeringAngle = iota
	ksInSteeringRate
	ksInAx
)

const (
	ksX = iota
	ksY
	ksYaw
	ksSteeringAngle
	ksV
)

const (
	steeringModeAngle = 0
	steeringModeRate  = 1
	maxSteeringAngle  = 1.0
)

// kinematicBicycle is the state-space form X = [x, y, yaw, v], u = [delta, ax].
type kinematicBicycle struct {
	Wheelbase float64
}

func (k *kinematicBicycle) StateDim() int   { return 4 }
func (k *kinematicBicycle) ControlDim() int { return 2 }

func (k *kinematicBicycle) Derive(x dynamo.State, u dynamo.Control, t float64) dynamo.State {
	yaw, v := x[2], x[3]
	delta, ax := u[0], u[1]

	yawRate := 0.0
	if k.Wheelbase > 0 {
		yawRate = v / k.Wheelbase * math.Tan(delta)
	}
	return dynamo.State{v * math.Cos(yaw), v * math.Sin(yaw), yawRate, ax}
}

// KinematicSingleTrack is a kinematic bicycle with delayed actuators.
type KinematicSingleTrack struct {
	desc  model.Descriptor
	dyn   kinematicBicycle
	integ *integrators.RK4

	vMax  float64
	state dynamo.State
	next  dynamo.State
	steer float64

	steerDelay delayLine
	driveDelay delayLine
	simTime    float64
}

var _ model.Instance = (*KinematicSingleTrack)(nil)

func NewKinematicSingleTrack(dt float64) *KinematicSingleTrack {
	states, tags := buildStates([]stateChannel{
		{model.StateX, -100, 100, model.TagPoseX},
		{model.StateY, -100, 100, model.TagPoseY},
		{model.StateYaw, -math.Pi, math.Pi, model.TagPoseYaw},
		{model.StateSteer, -maxSteeringAngle, maxSteeringAngle, model.TagSteerAngle},
		{"v", 0, 50, model.TagUnknown},
	})
	k := &KinematicSingleTrack{
		desc: model.Descriptor{
			Params: buildChannels([]channel{
				{model.ParamWheelbase, 2.8, 0.5, 5},
				{"v_max", 30, 0, 100},
				{"steering_delay", 0, 0, 1},
				{"drivetrain_delay", 0, 0, 1},
			}),
			Inputs: buildChannels([]channel{
				{"steering_angle", 0, -maxSteeringAngle, maxSteeringAngle},
				{"steering_rate", 0, -5, 5},
				{"ax", 0, -10, 10},
			}),
			States:    states,
			StateTags: tags,
			Settings: buildSettings(
				[]string{"steering_input_mode"},
				[][]string{{"angle", "rate"}},
			),
		},
		integ: integrators.NewRK4(),
		state: make(dynamo.State, 4),
	}
	k.Reset(dt)
	return k
}

func (k *KinematicSingleTrack) Descriptor() *model.Descriptor { return &k.desc }

// Reset reloads parameters and settings and restarts from the pose held in
// the x, y and yaw states at standstill.
func (k *KinematicSingleTrack) Reset(dt float64) {
	p := k.desc.Params.Values
	k.dyn.Wheelbase = p[ksWheelbase]
	k.vMax = p[ksVMax]
	k.steerDelay.configure(dt, p[ksSteeringDelay])
	k.driveDelay.configure(dt, p[ksDrivetrainDelay])

	s := k.desc.States.Values
	k.state[0] = s[ksX]
	k.state[1] = s[ksY]
	k.state[2] = dynamo.WrapAngle(s[ksYaw])
	k.state[3] = 0
	k.steer = 0
	k.simTime = 0
	k.writeStates()
}

func (k *KinematicSingleTrack) Step(dt float64) {
	in := k.desc.Inputs.Values

	if k.desc.Settings.Values[0] == steeringModeRate {
		k.steer += in[ksInSteeringRate] * dt
	} else {
		k.steer = in[ksInSteeringAngle]
	}
	k.steer = dynamo.Clamp(k.steer, -maxSteeringAngle, maxSteeringAngle)

	u := dynamo.Control{k.steerDelay.push(k.steer), k.driveDelay.push(in[ksInAx])}
	next := k.integ.Step(k.next, &k.dyn, k.state, u, k.simTime, dt)
	next[2] = dynamo.WrapAngle(next[2])
	next[3] = dynamo.Clamp(next[3], 0, k.vMax)
	k.next = next
	if next.IsValid() {
		k.state, k.next = next, k.state
	}
	k.simTime += dt
	k.writeStates()
}

func (k *KinematicSingleTrack) Destroy() {}

func (k *KinematicSingleTrack) writeStates() {
	s := k.desc.States.Values
	s[ksX] = k.state[0]
	s[ksY] = k.state[1]
	s[ksYaw] = k.state[2]
	s[ksSteeringAngle] = k.steer
	s[ksV] = k.state[3]
}
