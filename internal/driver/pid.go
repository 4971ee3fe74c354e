package driver

import "github.com/san-kum/vehsim/internal/dynamo"

// PID tracks a setpoint. The integral only accumulates while the output is
// inside [Min, Max].
type PID struct {
	Kp, Ki, Kd float64
	Min, Max   float64

	integral float64
	prevErr  float64
	primed   bool
}

func NewPID(kp, ki, kd, lo, hi float64) *PID {
	return &PID{Kp: kp, Ki: ki, Kd: kd, Min: lo, Max: hi}
}

// Update returns the output for one step of length dt. A non-positive dt
// yields the proportional term only.
func (p *PID) Update(setpoint, measured, dt float64) float64 {
	err := setpoint - measured
	if !p.primed || dt <= 0 {
		p.prevErr = err
		p.primed = true
		return dynamo.Clamp(p.Kp*err, p.Min, p.Max)
	}

	derivative := (err - p.prevErr) / dt
	p.prevErr = err

	u := p.Kp*err + p.Ki*(p.integral+err*dt) + p.Kd*derivative
	clamped := dynamo.Clamp(u, p.Min, p.Max)
	if clamped == u {
		p.integral += err * dt
	}
	return clamped
}

// Reset clears integral and derivative state.
func (p *PID) Reset() {
	p.integral = 0
	p.prevErr = 0
	p.primed = false
}
