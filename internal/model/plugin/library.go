package plugin

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/san-kum/vehsim/internal/dynamo"
	"github.com/san-kum/vehsim/internal/model"
)

const (
	symCreate     = "car_model_create"
	symDestroy    = "car_model_destroy"
	symDescriptor = "car_model_get_descriptor"
	symName       = "car_model_get_name"
	symReset      = "car_model_reset"
	symStep       = "car_model_step"
)

type entryPoints struct {
	create     func(dt float64) uintptr
	destroy    func(h uintptr)
	descriptor func(h uintptr) uintptr
	name       func() uintptr
	reset      func(h uintptr, dt float64)
	step       func(h uintptr, dt float64)
}

// Library is an opened shared-library model.
type Library struct {
	path   string
	name   string
	err    error
	handle uintptr
	fns    entryPoints

	mu     sync.Mutex
	live   int
	closed bool
}

var _ model.Source = (*Library)(nil)

// Open loads the library at path and resolves its entry points. The result
// is always non-nil; check Valid before use.
func Open(path string) *Library {
	l := &Library{path: path}

	handle, err := dlopen(path)
	if err != nil {
		l.err = fmt.Errorf("%w: open %s: %v", dynamo.ErrInvalidPlugin, path, err)
		return l
	}

	syms := []struct {
		name string
		fptr any
	}{
		{symCreate, &l.fns.create},
		{symDestroy, &l.fns.destroy},
		{symDescriptor, &l.fns.descriptor},
		{symName, &l.fns.name},
		{symReset, &l.fns.reset},
		{symStep, &l.fns.step},
	}
	for _, s := range syms {
		if err := bind(handle, s.name, s.fptr); err != nil {
			_ = dlclose(handle)
			l.fns = entryPoints{}
			l.err = fmt.Errorf("%w: %s: missing %s: %v", dynamo.ErrInvalidPlugin, path, s.name, err)
			return l
		}
	}

	l.handle = handle
	l.name = cString(l.fns.name())
	if l.name == "" {
		base := filepath.Base(path)
		l.name = strings.TrimSuffix(base, filepath.Ext(base))
	}
	return l
}

// Load opens path and returns it as a model source, or the load error.
func Load(path string) (model.Source, error) {
	l := Open(path)
	if !l.Valid() {
		return nil, l.Err()
	}
	return l, nil
}

func (l *Library) Valid() bool { return l.err == nil && l.handle != 0 }

func (l *Library) Err() error { return l.err }

func (l *Library) Path() string { return l.path }

func (l *Library) Name() string { return l.name }

// Live returns the number of instances not yet destroyed.
func (l *Library) Live() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.live
}

// Create instantiates the model at timestep dt.
func (l *Library) Create(dt float64) (model.Instance, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.Valid() || l.closed {
		if l.err != nil {
			return nil, l.err
		}
		return nil, fmt.Errorf("%w: %s is closed", dynamo.ErrInvalidPlugin, l.path)
	}

	h := l.fns.create(dt)
	if h == 0 {
		return nil, fmt.Errorf("%w: %s returned a null handle", dynamo.ErrInvalidPlugin, symCreate)
	}
	desc, err := readDescriptor(l.fns.descriptor(h))
	if err == nil {
		err = desc.Validate()
	}
	if err != nil {
		l.fns.destroy(h)
		return nil, fmt.Errorf("%w: %s: %v", dynamo.ErrInvalidPlugin, l.path, err)
	}
	l.live++
	return &instance{lib: l, handle: h, desc: desc}, nil
}

// Close unloads the library. It refuses while instances are alive.
func (l *Library) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.live > 0 {
		return fmt.Errorf("%w: %d instance(s) of %s", dynamo.ErrInstancesAlive, l.live, l.name)
	}
	if l.closed || l.handle == 0 {
		return nil
	}
	l.closed = true
	err := dlclose(l.handle)
	l.handle = 0
	return err
}

func (l *Library) release(h uintptr) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.fns.destroy(h)
	l.live--
}

type instance struct {
	lib    *Library
	handle uintptr
	desc   *model.Descriptor
}

func (i *instance) Descriptor() *model.Descriptor { return i.desc }

func (i *instance) Reset(dt float64) {
	if i.handle != 0 {
		i.lib.fns.reset(i.handle, dt)
	}
}

func (i *instance) Step(dt float64) {
	if i.handle != 0 {
		i.lib.fns.step(i.handle, dt)
	}
}

func (i *instance) Destroy() {
	if i.handle == 0 {
		return
	}
	i.lib.release(i.handle)
	i.handle = 0
	i.desc = nil
}
