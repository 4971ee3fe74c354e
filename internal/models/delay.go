package models

import "math"

// delayLine delays a sampled signal by a whole number of steps.
type delayLine struct {
	data  []float64
	write int
}

// configure sizes the line for delay seconds at timestep dt and clears it.
func (d *delayLine) configure(dt, delay float64) {
	steps := 0
	if dt > 0 && delay > 0 {
		steps = int(math.Round(delay / dt))
	}
	d.data = make([]float64, steps+1)
	d.write = 0
}

// push stores v and returns the oldest retained sample.
func (d *delayLine) push(v float64) float64 {
	if len(d.data) == 0 {
		return v
	}
	d.data[d.write] = v
	d.write = (d.write + 1) % len(d.data)
	return d.data[d.write]
}

func (d *delayLine) steps() int { return len(d.data) - 1 }
