package overlay

import (
	"github.com/rs/zerolog"

	"github.com/san-kum/vehsim/internal/dynamo"
	"github.com/san-kum/vehsim/internal/model"
)

// Limits are engine-owned min/max copies for one channel category.
type Limits struct {
	Min []float64
	Max []float64
}

func captureLimits(c model.Channels) Limits {
	return Limits{
		Min: append([]float64(nil), c.Min...),
		Max: append([]float64(nil), c.Max...),
	}
}

func (l Limits) clone() Limits {
	return Limits{
		Min: append([]float64(nil), l.Min...),
		Max: append([]float64(nil), l.Max...),
	}
}

// Clamp limits v to the range of channel i. Out-of-range indices pass v
// through.
func (l Limits) Clamp(i int, v float64) float64 {
	if i < 0 || i >= len(l.Min) || i >= len(l.Max) {
		return v
	}
	return dynamo.Clamp(v, l.Min[i], l.Max[i])
}

// Bounds mirrors the metadata ranges of a model. The model's own arrays are
// never written.
type Bounds struct {
	Params Limits
	Inputs Limits
	States Limits
}

// Capture copies the ranges declared by d.
func Capture(d *model.Descriptor) Bounds {
	if d == nil {
		return Bounds{}
	}
	return Bounds{
		Params: captureLimits(d.Params),
		Inputs: captureLimits(d.Inputs),
		States: captureLimits(d.States),
	}
}

func (b Bounds) Clone() Bounds {
	return Bounds{
		Params: b.Params.clone(),
		Inputs: b.Inputs.clone(),
		States: b.States.clone(),
	}
}

// Apply restores active from base and writes the overlay ranges on top. When
// newlyActive is set the declared defaults are clamped into the resulting
// range and written into the live values of d, and setting labels are
// resolved to option indices. A nil overlay only restores the base ranges.
func Apply(d *model.Descriptor, base Bounds, active *Bounds, o *Overlay, newlyActive bool, log zerolog.Logger) {
	*active = base.Clone()
	if o == nil || d == nil {
		return
	}

	applyRanges(log, "parameter", d.Params, &active.Params, o.Params, newlyActive)
	applyRanges(log, "input", d.Inputs, &active.Inputs, o.Inputs, newlyActive)
	applyRanges(log, "state", d.States, &active.States, o.States, newlyActive)

	if !newlyActive {
		return
	}
	for _, name := range sortedKeys(o.Settings) {
		label := o.Settings[name]
		idx := d.Settings.Index(name)
		if idx < 0 {
			log.Warn().Str("setting", name).Msg("overlay names unknown setting")
			continue
		}
		opt, ok := d.Settings.OptionIndex(idx, label)
		if !ok {
			log.Warn().Str("setting", name).Str("option", label).Msg("overlay names unknown option")
			continue
		}
		d.Settings.Values[idx] = opt
	}
}

func applyRanges(log zerolog.Logger, kind string, ch model.Channels, lim *Limits, ranges map[string]Range, newlyActive bool) {
	for _, name := range sortedKeys(ranges) {
		r := ranges[name]
		idx := ch.Index(name)
		if idx < 0 {
			log.Warn().Str(kind, name).Msg("overlay names unknown channel")
			continue
		}
		if r.Min != nil {
			lim.Min[idx] = *r.Min
		}
		if r.Max != nil {
			lim.Max[idx] = *r.Max
		}
		if newlyActive && r.Default != nil {
			ch.Values[idx] = lim.Clamp(idx, *r.Default)
		}
	}
}
