package config

import "sort"

// Presets are named configurations per model, applied over the defaults.
var Presets = map[string]map[string]*Config{
	"kinematic_single_track": {
		"realtime": {
			Model: "builtin:kinematic_single_track", Dt: 0.01, RunSpeed: 1,
			Control: ControlConfig{Mode: ControlLocal},
		},
		"fast": {
			Model: "builtin:kinematic_single_track", Dt: 0.01, RunSpeed: 4,
			Control: ControlConfig{Mode: ControlAsync},
		},
		"lockstep": {
			Model: "builtin:kinematic_single_track", Dt: 0.005, RunSpeed: 1,
			Control: ControlConfig{Mode: ControlSync, PeriodTicks: 2, DelayTicks: 2},
		},
	},
	"dynamic_single_track": {
		"realtime": {
			Model: "builtin:dynamic_single_track", Dt: 0.005, RunSpeed: 1,
			Control: ControlConfig{Mode: ControlLocal},
		},
		"lockstep": {
			Model: "builtin:dynamic_single_track", Dt: 0.005, RunSpeed: 1,
			Control: ControlConfig{Mode: ControlSync, PeriodTicks: 4, DelayTicks: 4},
		},
	},
}

// GetPreset returns the named preset merged over the defaults, or nil.
func GetPreset(model, preset string) *Config {
	modelPresets, ok := Presets[model]
	if !ok {
		return nil
	}
	p, ok := modelPresets[preset]
	if !ok {
		return nil
	}

	cfg := DefaultConfig()
	cfg.Model = p.Model
	cfg.Dt = p.Dt
	cfg.RunSpeed = p.RunSpeed
	cfg.Control.Mode = p.Control.Mode
	if p.Control.PeriodTicks > 0 {
		cfg.Control.PeriodTicks = p.Control.PeriodTicks
	}
	if p.Control.DelayTicks > 0 {
		cfg.Control.DelayTicks = p.Control.DelayTicks
	}
	return cfg
}

func ListPresets(model string) []string {
	modelPresets, ok := Presets[model]
	if !ok {
		return nil
	}
	names := make([]string, 0, len(modelPresets))
	for name := range modelPresets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
