package integrators

import "github.com/san-kum/vehsim/internal/dynamo"

var _ dynamo.Integrator = (*RK4)(nil)

// RK4 is the classic fourth-order Runge-Kutta stepper. Stage buffers are
// kept between steps so a warm stepper only allocates inside Derive.
type RK4 struct {
	k     [4]dynamo.State
	stage dynamo.State
}

func NewRK4() *RK4 {
	return &RK4{}
}

func (r *RK4) resize(n int) {
	if len(r.stage) == n {
		return
	}
	for i := range r.k {
		r.k[i] = make(dynamo.State, n)
	}
	r.stage = make(dynamo.State, n)
}

// Step advances x by dt and writes the result to dst, which may alias x.
// A dst of the wrong length is replaced; the written slice is returned.
func (r *RK4) Step(dst dynamo.State, sys dynamo.System, x dynamo.State, u dynamo.Control, t, dt float64) dynamo.State {
	n := len(x)
	r.resize(n)
	if len(dst) != n {
		dst = make(dynamo.State, n)
	}

	offsets := [4]float64{0, dt / 2, dt / 2, dt}
	for s := range r.k {
		in := x
		if s > 0 {
			for i := range r.stage {
				r.stage[i] = x[i] + offsets[s]*r.k[s-1][i]
			}
			in = r.stage
		}
		copy(r.k[s], sys.Derive(in, u, t+offsets[s]))
	}

	dt6 := dt / 6
	for i := 0; i < n; i++ {
		dst[i] = x[i] + dt6*(r.k[0][i]+2*r.k[1][i]+2*r.k[2][i]+r.k[3][i])
	}
	return dst
}
