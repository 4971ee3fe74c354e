package models

import "github.com/san-kum/vehsim/internal/model"

// Register installs every compiled-in model into reg.
func Register(reg *model.Registry) {
	reg.Register(model.NewFactory(KinematicSingleTrackName, func(dt float64) model.Instance {
		return NewKinematicSingleTrack(dt)
	}))
	reg.Register(model.NewFactory(DynamicSingleTrackName, func(dt float64) model.Instance {
		return NewDynamicSingleTrack(dt)
	}))
}

// NewRegistry returns a registry holding the compiled-in models.
func NewRegistry() *model.Registry {
	reg := model.NewRegistry()
	Register(reg)
	return reg
}
