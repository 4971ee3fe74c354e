package metrics

import "math"

// PathLength is the distance travelled in the plane.
type PathLength struct {
	x, y   int
	total  float64
	px, py float64
	primed bool
}

func NewPathLength(x, y int) *PathLength { return &PathLength{x: x, y: y} }

func (p *PathLength) Name() string { return "path_length" }

func (p *PathLength) Observe(states, inputs []float64, t float64) {
	if p.x >= len(states) || p.y >= len(states) {
		return
	}
	x, y := states[p.x], states[p.y]
	if p.primed {
		p.total += math.Hypot(x-p.px, y-p.py)
	}
	p.px, p.py, p.primed = x, y, true
}

func (p *PathLength) Value() float64 { return p.total }

func (p *PathLength) Reset() { *p = PathLength{x: p.x, y: p.y} }

// Peak is the largest magnitude one state reached.
type Peak struct {
	name string
	col  int
	peak float64
}

func NewPeak(name string, col int) *Peak { return &Peak{name: name, col: col} }

func (p *Peak) Name() string { return p.name }

func (p *Peak) Observe(states, inputs []float64, t float64) {
	if p.col < len(states) {
		p.peak = math.Max(p.peak, math.Abs(states[p.col]))
	}
}

func (p *Peak) Value() float64 { return p.peak }

func (p *Peak) Reset() { p.peak = 0 }

type Mean struct {
	name    string
	col     int
	sum     float64
	samples int
}

func NewMean(name string, col int) *Mean { return &Mean{name: name, col: col} }

func (m *Mean) Name() string { return m.name }

func (m *Mean) Observe(states, inputs []float64, t float64) {
	if m.col < len(states) {
		m.sum += states[m.col]
		m.samples++
	}
}

func (m *Mean) Value() float64 {
	if m.samples == 0 {
		return 0
	}
	return m.sum / float64(m.samples)
}

func (m *Mean) Reset() { m.sum, m.samples = 0, 0 }
