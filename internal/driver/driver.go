package driver

import (
	"fmt"
	"math"
	"sync"

	"github.com/san-kum/vehsim/internal/comm"
	"github.com/san-kum/vehsim/internal/dynamo"
	"github.com/san-kum/vehsim/internal/model"
	"github.com/san-kum/vehsim/internal/scene"
)

const (
	InputSteer = "steering_angle"
	InputAccel = "ax"

	defaultWheelbase = 2.5
)

var speedStates = []string{"v", "vx", "speed"}

type Config struct {
	TargetSpeed float64
	Lookahead   float64
	Kp, Ki, Kd  float64
	Path        []scene.Pose
}

func DefaultConfig() Config {
	return Config{TargetSpeed: 5, Lookahead: 4, Kp: 1.5, Ki: 0.2, Kd: 0.05}
}

// layout locates the channels the driver reads and writes in one schema.
type layout struct {
	version    uint64
	x, y, yaw  int
	speed      int
	steer      int
	accel      int
	base       []float64
	lo, hi     []float64
	wheelbase  float64
	stateCount int
}

// Driver computes inputs for any model exposing a pose, a speed state and
// steering_angle/ax inputs. It is safe for one caller computing inputs
// while another updates the schema.
type Driver struct {
	cfg     Config
	speed   *PID
	pursuit *Pursuit

	mu     sync.Mutex
	lay    *layout
	lastT  float64
	primed bool
}

func New(cfg Config) *Driver {
	return &Driver{
		cfg:     cfg,
		speed:   NewPID(cfg.Kp, cfg.Ki, cfg.Kd, math.Inf(-1), math.Inf(1)),
		pursuit: NewPursuit(cfg.Path, cfg.Lookahead),
	}
}

// SetSchema adopts a new schema and restarts the controllers.
func (d *Driver) SetSchema(s comm.Schema) error {
	l := &layout{
		version:    s.Version,
		x:          index(s.States, model.StateX),
		y:          index(s.States, model.StateY),
		yaw:        index(s.States, model.StateYaw),
		speed:      -1,
		steer:      index(s.Inputs, InputSteer),
		accel:      index(s.Inputs, InputAccel),
		wheelbase:  defaultWheelbase,
		stateCount: len(s.States),
	}
	for _, name := range speedStates {
		if l.speed = index(s.States, name); l.speed >= 0 {
			break
		}
	}
	if l.x < 0 || l.y < 0 || l.yaw < 0 || l.speed < 0 {
		return fmt.Errorf("model %s lacks pose or speed states", s.ModelName)
	}
	if l.steer < 0 || l.accel < 0 {
		return fmt.Errorf("model %s lacks %s or %s inputs", s.ModelName, InputSteer, InputAccel)
	}
	if i := index(s.Params, model.ParamWheelbase); i >= 0 {
		l.wheelbase = s.Params[i].Value
	}
	for _, in := range s.Inputs {
		l.base = append(l.base, in.Value)
		l.lo = append(l.lo, in.Min)
		l.hi = append(l.hi, in.Max)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.lay = l
	d.speed.Min, d.speed.Max = l.lo[l.accel], l.hi[l.accel]
	d.restartLocked()
	return nil
}

func (d *Driver) restartLocked() {
	d.speed.Reset()
	d.pursuit.Reset()
	d.primed = false
}

// Version reports the schema version the driver computes for, 0 if none.
func (d *Driver) Version() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lay == nil {
		return 0
	}
	return d.lay.version
}

// Inputs computes the input vector for the given states. It reports false
// when no schema is known, when states belong to another schema or when
// the state vector is short.
func (d *Driver) Inputs(version uint64, states []float64, simTime float64) ([]float64, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	l := d.lay
	if l == nil || version != l.version || len(states) < l.stateCount {
		return nil, false
	}

	// Simulation time going backwards is a reset.
	if d.primed && simTime < d.lastT {
		d.restartLocked()
	}
	dt := 0.0
	if d.primed {
		dt = simTime - d.lastT
	}
	d.lastT, d.primed = simTime, true

	pose := scene.Pose{X: states[l.x], Y: states[l.y], Yaw: states[l.yaw]}
	out := append([]float64(nil), l.base...)
	out[l.accel] = d.speed.Update(d.cfg.TargetSpeed, states[l.speed], dt)
	out[l.steer] = dynamo.Clamp(d.pursuit.Steer(pose, l.wheelbase), l.lo[l.steer], l.hi[l.steer])
	return out, true
}

// Handle answers a synchronous control request.
func (d *Driver) Handle(req comm.ControlRequest) (comm.ControlReply, bool) {
	in, ok := d.Inputs(req.SchemaVersion, req.States, req.SimTime)
	if !ok {
		return comm.ControlReply{}, false
	}
	return comm.ControlReply{Tick: req.Tick, SchemaVersion: req.SchemaVersion, Epoch: req.Epoch, Inputs: in}, true
}

// Async turns a state broadcast into an asynchronous control message.
func (d *Driver) Async(u comm.StateUpdate) (comm.ControlAsync, bool) {
	in, ok := d.Inputs(u.SchemaVersion, u.States, u.SimTime)
	if !ok {
		return comm.ControlAsync{}, false
	}
	return comm.ControlAsync{Tick: u.Tick, SimTime: u.SimTime, SchemaVersion: u.SchemaVersion, Inputs: in}, true
}

func index(chs []comm.ChannelInfo, name string) int {
	for i, c := range chs {
		if c.Name == name {
			return i
		}
	}
	return -1
}
