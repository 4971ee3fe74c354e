package models

import (
	"math"

	"github.com/san-kum/vehsim/internal/dynamo"
	"github.com/san-kum/vehsim/internal/integrators"
	"github.com/san-kum/vehsim/internal/model"
)

const DynamicSingleTrackName = "dynamic_single_track"

const (
	dsWheelbase = iota
	dsCGFront
	dsMass
	dsYawInertia
	dsCorneringFront
	dsCorneringRear
	dsTrackWidth
	dsVMax
)

const (
	dsInSteeringAngle = iota
	dsInAx
)

const (
	dsX = iota
	dsY
	dsYaw
	dsVx
	dsVy
	dsYawRate
	dsSteerFL
	dsSteerFR
)

// Below lowSpeed the tyre forces fade out and the lateral states relax
// towards the kinematic solution.
const (
	lowSpeed   = 1.0
	relaxation = 0.1
)

// linearBicycle is the state-space form
// X = [x, y, yaw, vx, vy, r], u = [delta, ax].
type linearBicycle struct {
	Mass, YawInertia float64
	Lf, Lr           float64
	Cf, Cr           float64
}

func (b *linearBicycle) StateDim() int   { return 6 }
func (b *linearBicycle) ControlDim() int { return 2 }

func (b *linearBicycle) Derive(x dynamo.State, u dynamo.Control, t float64) dynamo.State {
	yaw, vx, vy, r := x[2], x[3], x[4], x[5]
	delta, ax := u[0], u[1]

	blend := dynamo.Clamp(vx/lowSpeed, 0, 1)
	vxs := math.Max(vx, lowSpeed)

	alphaF := delta - math.Atan2(vy+b.Lf*r, vxs)
	alphaR := -math.Atan2(vy-b.Lr*r, vxs)
	fyf := blend * b.Cf * alphaF
	fyr := blend * b.Cr * alphaR

	dvx := ax + r*vy
	dvy := (fyf*math.Cos(delta)+fyr)/b.Mass - r*vx
	dr := (b.Lf*fyf*math.Cos(delta) - b.Lr*fyr) / b.YawInertia

	if blend < 1 {
		L := b.Lf + b.Lr
		rk := vx / L * math.Tan(delta)
		vyk := b.Lr * rk
		dvy += (1 - blend) * (vyk - vy) / relaxation
		dr += (1 - blend) * (rk - r) / relaxation
	}

	c, s := math.Cos(yaw), math.Sin(yaw)
	return dynamo.State{
		vx*c - vy*s,
		vx*s + vy*c,
		r,
		dvx,
		dvy,
		dr,
	}
}

// DynamicSingleTrack is a linear-tyre bicycle model with Ackermann front
// wheel angles.
type DynamicSingleTrack struct {
	desc  model.Descriptor
	dyn   linearBicycle
	integ *integrators.RK4

	trackWidth float64
	vMax       float64
	state      dynamo.State
	next       dynamo.State
	delta      float64
	simTime    float64
}

var _ model.Instance = (*DynamicSingleTrack)(nil)

func NewDynamicSingleTrack(dt float64) *DynamicSingleTrack {
	states, tags := buildStates([]stateChannel{
		{model.StateX, -100, 100, model.TagPoseX},
		{model.StateY, -100, 100, model.TagPoseY},
		{model.StateYaw, -math.Pi, math.Pi, model.TagPoseYaw},
		{"vx", 0, 50, model.TagUnknown},
		{"vy", -10, 10, model.TagUnknown},
		{"yaw_rate", -5, 5, model.TagUnknown},
		{model.StateSteerFL, -0.6, 0.6, model.TagSteerAngle},
		{model.StateSteerFR, -0.6, 0.6, model.TagUnknown},
	})
	d := &DynamicSingleTrack{
		desc: model.Descriptor{
			Params: buildChannels([]channel{
				{model.ParamWheelbase, 1.8, 0.5, 5},
				{"cg_front", 0.5, 0.1, 0.9},
				{"mass", 250, 50, 2000},
				{"yaw_inertia", 150, 10, 5000},
				{"cornering_front", 20000, 1000, 200000},
				{"cornering_rear", 25000, 1000, 200000},
				{model.ParamTrackWidth, 1.2, 0.5, 3},
				{"v_max", 25, 0, 100},
			}),
			Inputs: buildChannels([]channel{
				{"steering_angle", 0, -0.5, 0.5},
				{"ax", 0, -10, 10},
			}),
			States:    states,
			StateTags: tags,
		},
		integ: integrators.NewRK4(),
		state: make(dynamo.State, 6),
	}
	d.Reset(dt)
	return d
}

func (d *DynamicSingleTrack) Descriptor() *model.Descriptor { return &d.desc }

func (d *DynamicSingleTrack) Reset(dt float64) {
	p := d.desc.Params.Values
	L := p[dsWheelbase]
	d.dyn = linearBicycle{
		Mass:       p[dsMass],
		YawInertia: p[dsYawInertia],
		Lf:         L * p[dsCGFront],
		Lr:         L * (1 - p[dsCGFront]),
		Cf:         p[dsCorneringFront],
		Cr:         p[dsCorneringRear],
	}
	d.trackWidth = p[dsTrackWidth]
	d.vMax = p[dsVMax]

	s := d.desc.States.Values
	d.state[0] = s[dsX]
	d.state[1] = s[dsY]
	d.state[2] = dynamo.WrapAngle(s[dsYaw])
	for i := 3; i < len(d.state); i++ {
		d.state[i] = 0
	}
	d.delta = 0
	d.simTime = 0
	d.writeStates()
}

func (d *DynamicSingleTrack) Step(dt float64) {
	in := d.desc.Inputs.Values
	d.delta = dynamo.Clamp(in[dsInSteeringAngle], d.desc.Inputs.Min[dsInSteeringAngle], d.desc.Inputs.Max[dsInSteeringAngle])

	u := dynamo.Control{d.delta, in[dsInAx]}
	next := d.integ.Step(d.next, &d.dyn, d.state, u, d.simTime, dt)
	next[2] = dynamo.WrapAngle(next[2])
	next[3] = dynamo.Clamp(next[3], 0, d.vMax)
	d.next = next
	if next.IsValid() {
		d.state, d.next = next, d.state
	}
	d.simTime += dt
	d.writeStates()
}

func (d *DynamicSingleTrack) Destroy() {}

func (d *DynamicSingleTrack) writeStates() {
	s := d.desc.States.Values
	copy(s[:6], d.state)
	s[dsSteerFL], s[dsSteerFR] = ackermann(d.delta, d.dyn.Lf+d.dyn.Lr, d.trackWidth)
}

// ackermann splits a single-track steering angle into left and right wheel
// angles for the given wheelbase and track width.
func ackermann(delta, wheelbase, track float64) (left, right float64) {
	if delta == 0 || wheelbase <= 0 {
		return delta, delta
	}
	radius := wheelbase / math.Tan(delta)
	left = math.Atan(wheelbase / (radius - track/2))
	right = math.Atan(wheelbase / (radius + track/2))
	return left, right
}
