package scene

import "github.com/san-kum/vehsim/internal/model"

type ConeKind string

const (
	ConeBlue      ConeKind = "blue"
	ConeYellow    ConeKind = "yellow"
	ConeOrange    ConeKind = "orange"
	ConeBigOrange ConeKind = "big_orange"
)

type Cone struct {
	X    float64  `json:"x"`
	Y    float64  `json:"y"`
	Kind ConeKind `json:"kind"`
}

// CarGeometry is what a viewer needs to draw the car.
type CarGeometry struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Yaw        float64 `json:"yaw"`
	Wheelbase  float64 `json:"wheelbase"`
	TrackWidth float64 `json:"track_width"`
	SteerFL    float64 `json:"steer_fl"`
	SteerFR    float64 `json:"steer_fr"`
}

// Scene is one published snapshot of the simulation.
type Scene struct {
	Tick          uint64      `json:"tick"`
	SimTime       float64     `json:"sim_time"`
	SchemaVersion uint64      `json:"schema_version"`
	Car           CarGeometry `json:"car"`
	StateNames    []string    `json:"state_names"`
	StateValues   []float64   `json:"state_values"`
	InputNames    []string    `json:"input_names"`
	InputValues   []float64   `json:"input_values"`
	Cones         []Cone      `json:"cones"`
}

// Clone returns a deep copy of s.
func (s *Scene) Clone() *Scene {
	c := *s
	c.StateNames = append([]string(nil), s.StateNames...)
	c.StateValues = append([]float64(nil), s.StateValues...)
	c.InputNames = append([]string(nil), s.InputNames...)
	c.InputValues = append([]float64(nil), s.InputValues...)
	c.Cones = append([]Cone(nil), s.Cones...)
	return &c
}

// State returns the value of the named state.
func (s *Scene) State(name string) (float64, bool) {
	for i, n := range s.StateNames {
		if n == name && i < len(s.StateValues) {
			return s.StateValues[i], true
		}
	}
	return 0, false
}

// Geometry derives the car geometry from the reserved channels of d. A
// model without track_width is drawn with half its wheelbase.
func Geometry(d *model.Descriptor) CarGeometry {
	var g CarGeometry
	if d == nil {
		return g
	}
	states := d.States.Values
	at := func(i int) float64 {
		if i < 0 || i >= len(states) {
			return 0
		}
		return states[i]
	}

	x, y, yaw := model.PoseIndices(d)
	fl, fr := model.SteerIndices(d)
	g.X, g.Y, g.Yaw = at(x), at(y), at(yaw)
	g.SteerFL, g.SteerFR = at(fl), at(fr)

	if i := d.Params.Index(model.ParamWheelbase); i >= 0 {
		g.Wheelbase = d.Params.Values[i]
	}
	if i := d.Params.Index(model.ParamTrackWidth); i >= 0 {
		g.TrackWidth = d.Params.Values[i]
	} else {
		g.TrackWidth = g.Wheelbase / 2
	}
	return g
}

// FromDescriptor builds a scene over the live slices of d. The result
// aliases model memory and must go through [Store.Publish] before sharing.
func FromDescriptor(tick uint64, simTime float64, version uint64, d *model.Descriptor, cones []Cone) Scene {
	s := Scene{
		Tick:          tick,
		SimTime:       simTime,
		SchemaVersion: version,
		Cones:         cones,
	}
	if d != nil {
		s.Car = Geometry(d)
		s.StateNames = d.States.Names
		s.StateValues = d.States.Values
		s.InputNames = d.Inputs.Names
		s.InputValues = d.Inputs.Values
	}
	return s
}

// Pose is a planar position and heading.
type Pose struct {
	X   float64 `json:"x"`
	Y   float64 `json:"y"`
	Yaw float64 `json:"yaw"`
}
