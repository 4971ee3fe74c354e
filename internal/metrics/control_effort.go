package metrics

import "math"

// ControlEffort is the mean over samples of the summed input magnitudes.
// Samples without inputs count as zero effort.
type ControlEffort struct {
	sum     float64
	samples int
}

func NewControlEffort() *ControlEffort { return &ControlEffort{} }

func (*ControlEffort) Name() string { return "control_effort" }

func (c *ControlEffort) Observe(states, inputs []float64, t float64) {
	for _, u := range inputs {
		c.sum += math.Abs(u)
	}
	c.samples++
}

func (c *ControlEffort) Value() float64 {
	if c.samples == 0 {
		return 0
	}
	return c.sum / float64(c.samples)
}

func (c *ControlEffort) Reset() { c.sum, c.samples = 0, 0 }
