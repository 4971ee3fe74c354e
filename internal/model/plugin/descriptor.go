package plugin

import (
	"errors"
	"fmt"
	"unsafe"

	"github.com/san-kum/vehsim/internal/model"
)

// cDescriptor mirrors CarModelDescriptor. Pointer fields are kept as
// uintptr since the memory belongs to the plugin.
type cDescriptor struct {
	numParams   uintptr
	paramNames  uintptr
	paramMin    uintptr
	paramMax    uintptr
	paramValues uintptr

	numSettings   uintptr
	settingNames  uintptr
	settingValues uintptr

	numSettingOptions    uintptr
	settingOptionSetting uintptr
	settingOptionNames   uintptr

	numInputs   uintptr
	inputNames  uintptr
	inputMin    uintptr
	inputMax    uintptr
	inputValues uintptr

	numStates   uintptr
	stateNames  uintptr
	stateMin    uintptr
	stateMax    uintptr
	stateTags   uintptr
	stateValues uintptr
}

var errNullArray = errors.New("null array with non-zero count")

// readDescriptor converts the plugin descriptor at p. Value slices alias
// plugin memory; names and bounds are copied.
func readDescriptor(p uintptr) (*model.Descriptor, error) {
	if p == 0 {
		return nil, errors.New("null descriptor")
	}
	c := (*cDescriptor)(unsafe.Pointer(p))

	var d model.Descriptor
	var err error
	if d.Params, err = readChannels("params", c.numParams, c.paramNames, c.paramMin, c.paramMax, c.paramValues); err != nil {
		return nil, err
	}
	if d.Inputs, err = readChannels("inputs", c.numInputs, c.inputNames, c.inputMin, c.inputMax, c.inputValues); err != nil {
		return nil, err
	}
	if d.States, err = readChannels("states", c.numStates, c.stateNames, c.stateMin, c.stateMax, c.stateValues); err != nil {
		return nil, err
	}

	ns := int(c.numStates)
	if ns > 0 && c.stateTags != 0 {
		tags := unsafe.Slice((*int32)(unsafe.Pointer(c.stateTags)), ns)
		d.StateTags = make([]model.StateTag, ns)
		for i, t := range tags {
			d.StateTags[i] = model.StateTag(t)
		}
	}

	n := int(c.numSettings)
	if n > 0 {
		if c.settingNames == 0 || c.settingValues == 0 {
			return nil, fmt.Errorf("settings: %w", errNullArray)
		}
		d.Settings.Names = cStrings(c.settingNames, n)
		d.Settings.Values = unsafe.Slice((*int32)(unsafe.Pointer(c.settingValues)), n)
	}
	no := int(c.numSettingOptions)
	if no > 0 {
		if c.settingOptionSetting == 0 || c.settingOptionNames == 0 {
			return nil, fmt.Errorf("setting options: %w", errNullArray)
		}
		owners := unsafe.Slice((*int32)(unsafe.Pointer(c.settingOptionSetting)), no)
		labels := cStrings(c.settingOptionNames, no)
		d.Settings.Options = make([]model.SettingOption, no)
		for k := range owners {
			d.Settings.Options[k] = model.SettingOption{Label: labels[k], Setting: int(owners[k])}
		}
	}
	return &d, nil
}

func readChannels(category string, count, names, lo, hi, values uintptr) (model.Channels, error) {
	n := int(count)
	if n == 0 {
		return model.Channels{}, nil
	}
	if names == 0 || lo == 0 || hi == 0 || values == 0 {
		return model.Channels{}, fmt.Errorf("%s: %w", category, errNullArray)
	}
	return model.Channels{
		Names:  cStrings(names, n),
		Values: unsafe.Slice((*float64)(unsafe.Pointer(values)), n),
		Min:    append([]float64(nil), unsafe.Slice((*float64)(unsafe.Pointer(lo)), n)...),
		Max:    append([]float64(nil), unsafe.Slice((*float64)(unsafe.Pointer(hi)), n)...),
	}, nil
}

func cStrings(p uintptr, n int) []string {
	ptrs := unsafe.Slice((*uintptr)(unsafe.Pointer(p)), n)
	out := make([]string, n)
	for i, s := range ptrs {
		out[i] = cString(s)
	}
	return out
}

func cString(p uintptr) string {
	if p == 0 {
		return ""
	}
	base := unsafe.Pointer(p)
	n := 0
	for *(*byte)(unsafe.Add(base, n)) != 0 {
		n++
	}
	return string(unsafe.Slice((*byte)(base), n))
}
