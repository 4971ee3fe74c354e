package engine_test

import (
	"fmt"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/san-kum/vehsim/internal/engine"
	"github.com/san-kum/vehsim/internal/logging"
	"github.com/san-kum/vehsim/internal/model"
)

// probeModel moves x by gain*dt per step and records the input it saw.
type probeModel struct {
	desc      model.Descriptor
	destroyed *atomic.Int32
}

const (
	pGain = 0
	pMass = 1

	sX     = 0
	sLastU = 3
)

func newProbeModel(extraStates int, destroyed *atomic.Int32) *probeModel {
	names := []string{model.StateX, model.StateY, model.StateYaw, "last_u"}
	for i := 0; i < extraStates; i++ {
		names = append(names, fmt.Sprintf("extra_%d", i))
	}
	n := len(names)
	states := model.Channels{
		Names:  names,
		Values: make([]float64, n),
		Min:    make([]float64, n),
		Max:    make([]float64, n),
	}
	for i := range names {
		states.Min[i], states.Max[i] = -1000, 1000
	}
	m := &probeModel{
		desc: model.Descriptor{
			Params: model.Channels{
				Names:  []string{"gain", "mass"},
				Values: []float64{1, 250},
				Min:    []float64{0, 50},
				Max:    []float64{10, 2000},
			},
			Inputs: model.Channels{
				Names:  []string{"u"},
				Values: []float64{0},
				Min:    []float64{-100},
				Max:    []float64{100},
			},
			States: states,
			Settings: model.Settings{
				Names:   []string{"mode"},
				Values:  []int32{0},
				Options: []model.SettingOption{{Label: "a", Setting: 0}, {Label: "b", Setting: 0}},
			},
		},
		destroyed: destroyed,
	}
	return m
}

func (m *probeModel) Descriptor() *model.Descriptor { return &m.desc }

func (m *probeModel) Reset(float64) {
	s := m.desc.States.Values
	s[sLastU] = 0
	for i := 4; i < len(s); i++ {
		s[i] = 0
	}
}

func (m *probeModel) Step(dt float64) {
	s := m.desc.States.Values
	s[sX] += m.desc.Params.Values[pGain] * dt
	s[sLastU] = m.desc.Inputs.Values[0]
	for i := 4; i < len(s); i++ {
		s[i]++
	}
}

func (m *probeModel) Destroy() { m.destroyed.Add(1) }

type fixture struct {
	eng        *engine.Engine
	registry   *model.Registry
	destroyedA atomic.Int32
	destroyedB atomic.Int32
}

func newFixture(opts engine.Options) *fixture {
	f := &fixture{registry: model.NewRegistry()}
	f.registry.Register(model.NewFactory("probe", func(float64) model.Instance {
		return newProbeModel(0, &f.destroyedA)
	}))
	f.registry.Register(model.NewFactory("wide", func(float64) model.Instance {
		return newProbeModel(3, &f.destroyedB)
	}))
	opts.Catalog = &model.Catalog{Registry: f.registry}
	opts.Log = logging.Nop()
	if opts.Dt == 0 {
		opts.Dt = 0.01
	}
	if opts.RunSpeed == 0 {
		opts.RunSpeed = 50
	}
	if opts.SyncTimeout == 0 {
		opts.SyncTimeout = 30 * time.Millisecond
	}
	f.eng = engine.New(opts)
	return f
}

func (f *fixture) start(ref string) {
	Expect(f.eng.LoadModel(ref)).To(Succeed())
	f.eng.Start()
	DeferCleanup(f.eng.Close)
}

// step runs n ticks and waits until the engine pauses again.
func (f *fixture) step(n int) {
	want := f.eng.Tick() + uint64(n)
	f.eng.Step(n)
	Eventually(f.eng.Paused, 5*time.Second, time.Millisecond).Should(BeTrue())
	Expect(f.eng.Tick()).To(Equal(want))
}

// reset requests a reset and waits for its publish.
func (f *fixture) reset() {
	before := f.eng.Store().Published()
	f.eng.Reset()
	Eventually(func() uint64 { return f.eng.Store().Published() }, 5*time.Second, time.Millisecond).
		Should(BeNumerically(">", before))
	Expect(f.eng.Tick()).To(BeZero())
}

func (f *fixture) state(name string) float64 {
	sc := f.eng.Snapshot()
	v, ok := sc.State(name)
	Expect(ok).To(BeTrue(), "state %s", name)
	return v
}

func (f *fixture) param(name string) float64 {
	sc, err := f.eng.Schema()
	Expect(err).NotTo(HaveOccurred())
	for _, p := range sc.Params {
		if p.Name == name {
			return p.Value
		}
	}
	Fail("no parameter " + name)
	return 0
}
