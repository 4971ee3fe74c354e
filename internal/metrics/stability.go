package metrics

import "math"

// Stability is the fraction of samples in which one state stays within
// a threshold, e.g. lateral velocity as a measure of grip.
type Stability struct {
	name       string
	col        int
	threshold  float64
	violations int
	samples    int
}

func NewStability(name string, col int, threshold float64) *Stability {
	return &Stability{
		name:      name,
		col:       col,
		threshold: threshold,
	}
}

func (s *Stability) Name() string {
	return s.name
}

func (s *Stability) Observe(states, inputs []float64, t float64) {
	if s.col >= len(states) {
		return
	}
	s.samples++
	if v := states[s.col]; math.IsNaN(v) || math.Abs(v) > s.threshold {
		s.violations++
	}
}

func (s *Stability) Value() float64 {
	if s.samples == 0 {
		return 1.0
	}
	return 1.0 - float64(s.violations)/float64(s.samples)
}

func (s *Stability) Reset() {
	s.violations = 0
	s.samples = 0
}
