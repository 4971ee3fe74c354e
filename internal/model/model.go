package model

// Instance is one live model. Descriptor values are read and written by the
// simulation loop between calls to Reset and Step.
type Instance interface {
	Descriptor() *Descriptor
	Reset(dt float64)
	Step(dt float64)
	Destroy()
}

// Factory creates instances of one model at a fixed timestep.
type Factory interface {
	Name() string
	Create(dt float64) (Instance, error)
}

// Source is a Factory backed by resources that must be released once every
// instance it created has been destroyed.
type Source interface {
	Factory
	Close() error
}

// Info describes an entry of the model listing.
type Info struct {
	Name    string `json:"name"`
	Ref     string `json:"ref"`
	Builtin bool   `json:"builtin"`
}

type funcFactory struct {
	name   string
	create func(dt float64) Instance
}

// NewFactory adapts a constructor into a Source with no backing resources.
func NewFactory(name string, create func(dt float64) Instance) Source {
	return &funcFactory{name: name, create: create}
}

func (f *funcFactory) Name() string { return f.name }

func (f *funcFactory) Create(dt float64) (Instance, error) {
	inst := f.create(dt)
	if err := inst.Descriptor().Validate(); err != nil {
		inst.Destroy()
		return nil, err
	}
	return inst, nil
}

func (f *funcFactory) Close() error { return nil }
