package models

import "github.com/san-kum/vehsim/internal/model"

type channel struct {
	name     string
	def      float64
	min, max float64
}

type stateChannel struct {
	name     string
	min, max float64
	tag      model.StateTag
}

func buildChannels(list []channel) model.Channels {
	c := model.Channels{
		Names:  make([]string, len(list)),
		Values: make([]float64, len(list)),
		Min:    make([]float64, len(list)),
		Max:    make([]float64, len(list)),
	}
	for i, ch := range list {
		c.Names[i] = ch.name
		c.Values[i] = ch.def
		c.Min[i] = ch.min
		c.Max[i] = ch.max
	}
	return c
}

func buildStates(list []stateChannel) (model.Channels, []model.StateTag) {
	c := model.Channels{
		Names:  make([]string, len(list)),
		Values: make([]float64, len(list)),
		Min:    make([]float64, len(list)),
		Max:    make([]float64, len(list)),
	}
	tags := make([]model.StateTag, len(list))
	for i, st := range list {
		c.Names[i] = st.name
		c.Min[i] = st.min
		c.Max[i] = st.max
		tags[i] = st.tag
	}
	return c, tags
}

// buildSettings flattens name -> labels into the option list. Every setting
// starts at its first option.
func buildSettings(names []string, labels [][]string) model.Settings {
	s := model.Settings{
		Names:  names,
		Values: make([]int32, len(names)),
	}
	for i := range names {
		for _, l := range labels[i] {
			s.Options = append(s.Options, model.SettingOption{Label: l, Setting: i})
		}
	}
	return s
}
