package model

import (
	"fmt"

	"github.com/san-kum/vehsim/internal/dynamo"
)

// StateTag describes the semantic meaning of a state channel.
type StateTag int32

const (
	TagUnknown    StateTag = 0
	TagPoseX      StateTag = 1
	TagPoseY      StateTag = 2
	TagPoseYaw    StateTag = 3
	TagSteerAngle StateTag = 4
)

// Channels holds one category of continuous values (parameters, inputs or
// states) as parallel slices indexed by channel.
type Channels struct {
	Names  []string
	Values []float64
	Min    []float64
	Max    []float64
}

func (c Channels) Len() int { return len(c.Names) }

// Index returns the position of name, or -1.
func (c Channels) Index(name string) int {
	for i, n := range c.Names {
		if n == name {
			return i
		}
	}
	return -1
}

func (c Channels) validate(category string) error {
	n := len(c.Names)
	if len(c.Values) != n || len(c.Min) != n || len(c.Max) != n {
		return fmt.Errorf("%s: %d names but %d values, %d min, %d max",
			category, n, len(c.Values), len(c.Min), len(c.Max))
	}
	return nil
}

// SettingOption is one entry of the flattened option list. Setting is the
// index of the owning setting.
type SettingOption struct {
	Label   string
	Setting int
}

// Settings are discrete parameters. Values hold the selected option index
// within the owning setting's options, in declaration order.
type Settings struct {
	Names   []string
	Values  []int32
	Options []SettingOption
}

func (s Settings) Len() int { return len(s.Names) }

func (s Settings) Index(name string) int {
	for i, n := range s.Names {
		if n == name {
			return i
		}
	}
	return -1
}

// OptionLabels lists the labels belonging to setting in order.
func (s Settings) OptionLabels(setting int) []string {
	var labels []string
	for _, opt := range s.Options {
		if opt.Setting == setting {
			labels = append(labels, opt.Label)
		}
	}
	return labels
}

// OptionIndex resolves label to its index among the options of setting.
func (s Settings) OptionIndex(setting int, label string) (int32, bool) {
	for i, l := range s.OptionLabels(setting) {
		if l == label {
			return int32(i), true
		}
	}
	return 0, false
}

// Descriptor is the self-describing schema of a live model instance. The
// slices are owned by the instance and are only valid until it is destroyed.
type Descriptor struct {
	Params    Channels
	Inputs    Channels
	States    Channels
	StateTags []StateTag
	Settings  Settings
}

// Validate checks that every parallel slice matches its category count.
func (d *Descriptor) Validate() error {
	if d == nil {
		return fmt.Errorf("nil descriptor: %w", dynamo.ErrInvalidPlugin)
	}
	if err := d.Params.validate("params"); err != nil {
		return err
	}
	if err := d.Inputs.validate("inputs"); err != nil {
		return err
	}
	if err := d.States.validate("states"); err != nil {
		return err
	}
	if len(d.StateTags) != 0 && len(d.StateTags) != d.States.Len() {
		return fmt.Errorf("states: %d names but %d tags", d.States.Len(), len(d.StateTags))
	}
	if len(d.Settings.Values) != d.Settings.Len() {
		return fmt.Errorf("settings: %d names but %d values", d.Settings.Len(), len(d.Settings.Values))
	}
	for k, opt := range d.Settings.Options {
		if opt.Setting < 0 || opt.Setting >= d.Settings.Len() {
			return fmt.Errorf("setting option %d (%q) owned by unknown setting %d", k, opt.Label, opt.Setting)
		}
	}
	return nil
}

// TaggedState returns the index of the first state carrying tag, or -1.
func (d *Descriptor) TaggedState(tag StateTag) int {
	for i, t := range d.StateTags {
		if t == tag {
			return i
		}
	}
	return -1
}
