package engine

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/san-kum/vehsim/internal/comm"
	"github.com/san-kum/vehsim/internal/config"
	"github.com/san-kum/vehsim/internal/dynamo"
	"github.com/san-kum/vehsim/internal/logging"
	"github.com/san-kum/vehsim/internal/model"
	"github.com/san-kum/vehsim/internal/observability"
	"github.com/san-kum/vehsim/internal/overlay"
	"github.com/san-kum/vehsim/internal/scene"
	"github.com/san-kum/vehsim/internal/track"
)

// Transport is the message server as seen by the loop. All calls except
// WaitControlReply and ProbeConnection return immediately.
type Transport interface {
	PublishState(comm.StateUpdate) error
	PublishSchema(comm.Schema) error
	SendControlRequest(comm.ControlRequest) error
	PollControlReply() (comm.ControlReply, bool)
	WaitControlReply(deadline time.Time) (comm.ControlReply, bool)
	ProbeConnection(timeout time.Duration) bool
	SyncClientConnected() bool
	PollAsyncControl() (comm.ControlAsync, bool)
	PollAdminCommand() (comm.AdminCommand, bool)
	ReplyAdmin(comm.AdminReply)
}

var _ Transport = (*comm.Server)(nil)

type Options struct {
	Catalog   *model.Catalog
	Transport Transport
	Store     *scene.Store
	Metrics   *observability.Collector
	Log       zerolog.Logger

	Dt            float64
	RunSpeed      float64
	Control       ControlSettings
	SyncTimeout   time.Duration
	ProbeInterval time.Duration
	ProbeTimeout  time.Duration
}

// OptionsFromConfig fills the timing and control fields from cfg.
func OptionsFromConfig(cfg *config.Config) (Options, error) {
	mode, err := ParseControlMode(cfg.Control.Mode)
	if err != nil {
		return Options{}, err
	}
	return Options{
		Dt:       cfg.Dt,
		RunSpeed: cfg.RunSpeed,
		Control: ControlSettings{
			Mode:        mode,
			PeriodTicks: cfg.Control.PeriodTicks,
			DelayTicks:  cfg.Control.DelayTicks,
		},
		SyncTimeout:   cfg.Control.SyncTimeout,
		ProbeInterval: cfg.Control.ProbeInterval,
		ProbeTimeout:  cfg.Control.ProbeTimeout,
	}, nil
}

const (
	pausedSleep = 10 * time.Millisecond
	idleSleep   = 10 * time.Millisecond
)

// Engine runs one model on a fixed timestep. Configuration changes are
// staged by any goroutine and only become visible inside the reset
// transition executed by the loop.
type Engine struct {
	catalog   *model.Catalog
	transport Transport
	store     *scene.Store
	metrics   *observability.Collector
	log       zerolog.Logger
	hot       zerolog.Logger

	syncTimeout   time.Duration
	probeInterval time.Duration
	probeTimeout  time.Duration

	started   atomic.Bool
	stopFlag  atomic.Bool
	done      chan struct{}
	paused    atomic.Bool
	stepsLeft atomic.Int64
	resetReq  atomic.Bool
	runReq    atomic.Bool
	runSpeed  atomic.Uint64
	tickNow   atomic.Uint64

	// Owned by the loop; other goroutines hold modelMu to read.
	modelMu       sync.Mutex
	source        model.Source
	inst          model.Instance
	desc          *model.Descriptor
	ref           string
	base          overlay.Bounds
	active        overlay.Bounds
	activeOverlay *overlay.Overlay
	version       uint64
	epoch         uint64
	sentVersion   uint64
	schemaDirty   bool
	tick          uint64
	simTime       float64
	dt            float64
	cones         []scene.Cone
	startPose     scene.Pose
	control       ControlSettings
	pending       []pendingRequest
	lastProbe     time.Time

	stageMu sync.Mutex
	staged  staging
}

type stagedParam struct {
	index int
	value float64
}

type stagedSetting struct {
	index int
	value int32
}

type staging struct {
	params   []stagedParam
	settings []stagedSetting
	overlay  *overlay.Overlay
	clear    bool
	dt       float64

	pose   *scene.Pose
	inputs []float64
	cones  []scene.Cone
	coneOK bool
}

func New(opts Options) *Engine {
	if opts.Store == nil {
		opts.Store = scene.NewStore()
	}
	if opts.Transport == nil {
		opts.Transport = nopTransport{}
	}
	if opts.Catalog == nil {
		opts.Catalog = &model.Catalog{Registry: model.NewRegistry()}
	}
	if opts.Dt <= 0 {
		opts.Dt = config.DefaultDt
	}
	if opts.RunSpeed <= 0 {
		opts.RunSpeed = config.DefaultRunSpeed
	}
	if opts.Control.PeriodTicks < 1 {
		opts.Control.PeriodTicks = 1
	}
	if opts.SyncTimeout <= 0 {
		opts.SyncTimeout = config.DefaultSyncTimeout
	}
	if opts.ProbeInterval <= 0 {
		opts.ProbeInterval = config.DefaultProbeInterval
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = config.DefaultProbeTimeout
	}

	log := logging.Component(opts.Log, "engine")
	e := &Engine{
		catalog:       opts.Catalog,
		transport:     opts.Transport,
		store:         opts.Store,
		metrics:       opts.Metrics,
		log:           log,
		hot:           logging.Sampled(log),
		syncTimeout:   opts.SyncTimeout,
		probeInterval: opts.ProbeInterval,
		probeTimeout:  opts.ProbeTimeout,
		dt:            opts.Dt,
		control:       opts.Control,
	}
	e.paused.Store(true)
	e.setRunSpeed(opts.RunSpeed)
	return e
}

func (e *Engine) setRunSpeed(v float64) { e.runSpeed.Store(math.Float64bits(v)) }

func (e *Engine) RunSpeed() float64 { return math.Float64frombits(e.runSpeed.Load()) }

// Start launches the loop goroutine. Calling it twice is a no-op.
func (e *Engine) Start() {
	if e.started.Swap(true) {
		return
	}
	e.stopFlag.Store(false)
	e.done = make(chan struct{})
	go e.run()
	e.log.Info().Float64("dt", e.Dt()).Msg("engine started")
}

// Stop asks the loop to exit after the current iteration and waits for it.
func (e *Engine) Stop() {
	if !e.started.Load() {
		return
	}
	e.stopFlag.Store(true)
	<-e.done
	e.started.Store(false)
	e.log.Info().Msg("engine stopped")
}

// Close stops the loop and releases the live model.
func (e *Engine) Close() error {
	e.Stop()
	e.modelMu.Lock()
	defer e.modelMu.Unlock()
	return e.releaseLocked()
}

func (e *Engine) releaseLocked() error {
	if e.inst != nil {
		e.inst.Destroy()
		e.inst, e.desc = nil, nil
	}
	var err error
	if e.source != nil {
		err = e.source.Close()
		e.source = nil
	}
	return err
}

func (e *Engine) Pause() { e.paused.Store(true) }

func (e *Engine) Resume() { e.paused.Store(false) }

func (e *Engine) Paused() bool { return e.paused.Load() }

// Step runs exactly n more ticks and then pauses.
func (e *Engine) Step(n int) {
	if n <= 0 {
		return
	}
	e.stepsLeft.Store(int64(n))
	e.paused.Store(false)
}

// Reset requests the reset transition on the next loop iteration.
func (e *Engine) Reset() { e.resetReq.Store(true) }

// ResetAndRun requests a reset that leaves the engine running instead of
// paused. A Resume issued before a pending reset is overridden by it.
func (e *Engine) ResetAndRun() {
	e.runReq.Store(true)
	e.resetReq.Store(true)
}

// Tick is the number of ticks executed since the last reset.
func (e *Engine) Tick() uint64 { return e.tickNow.Load() }

func (e *Engine) Snapshot() scene.Scene { return e.store.Snapshot() }

func (e *Engine) Store() *scene.Store { return e.store }

func (e *Engine) AvailableModels() []model.Info { return e.catalog.Available() }

func (e *Engine) Dt() float64 {
	e.modelMu.Lock()
	defer e.modelMu.Unlock()
	return e.dt
}

// LoadModel resolves ref, creates an instance at the current timestep and
// swaps it in. On failure the previous model stays loaded.
func (e *Engine) LoadModel(ref string) error {
	src, err := e.catalog.Resolve(ref)
	if err != nil {
		e.log.Error().Err(err).Str("ref", ref).Msg("model load failed")
		return fmt.Errorf("load model %s: %w", ref, err)
	}

	e.modelMu.Lock()
	defer e.modelMu.Unlock()

	inst, err := src.Create(e.dt)
	if err != nil {
		if src != e.source {
			_ = src.Close()
		}
		e.log.Error().Err(err).Str("ref", ref).Msg("model create failed")
		return fmt.Errorf("create model %s: %w", ref, err)
	}

	oldInst, oldSrc := e.inst, e.source
	e.inst, e.source, e.desc, e.ref = inst, src, inst.Descriptor(), ref
	if oldInst != nil {
		oldInst.Destroy()
	}
	if oldSrc != nil && oldSrc != src {
		if err := oldSrc.Close(); err != nil {
			e.log.Warn().Err(err).Msg("close previous model source")
		}
	}

	e.base = overlay.Capture(e.desc)
	e.active = e.base.Clone()
	e.activeOverlay = nil
	e.stageMu.Lock()
	e.staged.params, e.staged.settings = nil, nil
	e.staged.overlay, e.staged.clear = nil, false
	e.staged.inputs = nil
	e.stageMu.Unlock()

	e.version++
	e.rewindLocked()
	e.paused.Store(true)
	e.stepsLeft.Store(0)
	e.publishLocked()

	e.log.Info().Str("model", src.Name()).Str("ref", ref).Uint64("schema_version", e.version).Msg("model loaded")
	return nil
}

// rewindLocked places the car at the start pose, resets the model and the
// clock, and forgets outstanding sync requests.
func (e *Engine) rewindLocked() {
	x, y, yaw := model.PoseIndices(e.desc)
	s := e.desc.States.Values
	if x >= 0 {
		s[x] = e.startPose.X
	}
	if y >= 0 {
		s[y] = e.startPose.Y
	}
	if yaw >= 0 {
		s[yaw] = e.startPose.Yaw
	}
	e.inst.Reset(e.dt)
	e.tick = 0
	e.simTime = 0
	e.tickNow.Store(0)
	e.epoch++
	e.pending = nil
}

func (e *Engine) paramIndex(name string, index int) (int, error) {
	if e.desc == nil {
		return 0, dynamo.ErrNoModel
	}
	if name != "" {
		index = e.desc.Params.Index(name)
		if index < 0 {
			return 0, fmt.Errorf("parameter %q: %w", name, dynamo.ErrUnknownName)
		}
	}
	if index < 0 || index >= e.desc.Params.Len() {
		return 0, fmt.Errorf("parameter %d: %w", index, dynamo.ErrIndexOutOfRange)
	}
	return index, nil
}

// SetParameter stages a parameter value, clamped to its active range. It
// takes effect at the next reset.
func (e *Engine) SetParameter(index int, value float64) error {
	return e.setParameter("", index, value)
}

func (e *Engine) SetParameterByName(name string, value float64) error {
	return e.setParameter(name, 0, value)
}

func (e *Engine) setParameter(name string, index int, value float64) error {
	e.modelMu.Lock()
	idx, err := e.paramIndex(name, index)
	if err != nil {
		e.modelMu.Unlock()
		return err
	}
	clamped := e.active.Params.Clamp(idx, value)
	e.modelMu.Unlock()

	e.stageMu.Lock()
	e.staged.params = append(e.staged.params, stagedParam{idx, clamped})
	e.stageMu.Unlock()
	return nil
}

// SetSetting stages a setting option index. Label, when non-empty, selects
// the option by name instead.
func (e *Engine) SetSetting(index int, value int32) error {
	return e.setSetting("", index, value, "")
}

func (e *Engine) SetSettingByName(name, label string) error {
	return e.setSetting(name, 0, 0, label)
}

func (e *Engine) setSetting(name string, index int, value int32, label string) error {
	e.modelMu.Lock()
	d := e.desc
	if d == nil {
		e.modelMu.Unlock()
		return dynamo.ErrNoModel
	}
	if name != "" {
		if index = d.Settings.Index(name); index < 0 {
			e.modelMu.Unlock()
			return fmt.Errorf("setting %q: %w", name, dynamo.ErrUnknownName)
		}
	}
	if index < 0 || index >= d.Settings.Len() {
		e.modelMu.Unlock()
		return fmt.Errorf("setting %d: %w", index, dynamo.ErrIndexOutOfRange)
	}
	labels := d.Settings.OptionLabels(index)
	if label != "" {
		opt, ok := d.Settings.OptionIndex(index, label)
		if !ok {
			e.modelMu.Unlock()
			return fmt.Errorf("setting %q option %q: %w", d.Settings.Names[index], label, dynamo.ErrUnknownName)
		}
		value = opt
	} else if len(labels) > 0 && (value < 0 || int(value) >= len(labels)) {
		e.modelMu.Unlock()
		return fmt.Errorf("setting %q option %d: %w", d.Settings.Names[index], value, dynamo.ErrIndexOutOfRange)
	}
	e.modelMu.Unlock()

	e.stageMu.Lock()
	e.staged.settings = append(e.staged.settings, stagedSetting{index, value})
	e.stageMu.Unlock()
	return nil
}

// LoadOverlay parses path and stages it for activation at the next reset.
// A malformed file leaves every overlay untouched.
func (e *Engine) LoadOverlay(path string) error {
	o, err := overlay.Load(path)
	if err != nil {
		e.log.Error().Err(err).Str("path", path).Msg("overlay rejected")
		return err
	}
	e.modelMu.Lock()
	if e.desc != nil && e.source != nil && !o.Matches(e.source.Name()) {
		e.log.Warn().Str("overlay_model", o.Model).Str("model", e.source.Name()).Msg("overlay targets a different model")
	}
	e.modelMu.Unlock()

	e.stageMu.Lock()
	e.staged.overlay = o
	e.staged.clear = false
	e.stageMu.Unlock()
	e.log.Info().Str("path", path).Msg("overlay staged")
	return nil
}

// ClearOverlay stages removal of the active overlay.
func (e *Engine) ClearOverlay() {
	e.stageMu.Lock()
	e.staged.overlay = nil
	e.staged.clear = true
	e.stageMu.Unlock()
}

// SetStartPose stages the pose written at the next reset.
func (e *Engine) SetStartPose(p scene.Pose) {
	e.stageMu.Lock()
	e.staged.pose = &p
	e.stageMu.Unlock()
}

// SetInputs stages input values for the next tick.
func (e *Engine) SetInputs(values []float64) {
	e.stageMu.Lock()
	e.staged.inputs = append([]float64(nil), values...)
	e.stageMu.Unlock()
}

// SetCones stages a replacement cone list.
func (e *Engine) SetCones(cones []scene.Cone) {
	e.stageMu.Lock()
	e.staged.cones = append([]scene.Cone(nil), cones...)
	e.staged.coneOK = true
	e.stageMu.Unlock()
}

// SetTrack loads a track file and stages its cones and start pose.
func (e *Engine) SetTrack(path string) error {
	t, err := track.Load(path)
	if err != nil {
		e.log.Error().Err(err).Str("path", path).Msg("track rejected")
		return err
	}
	e.SetCones(t.Cones)
	if t.Start != nil {
		e.SetStartPose(*t.Start)
	}
	e.log.Info().Str("path", path).Int("cones", len(t.Cones)).Msg("track loaded")
	return nil
}

// SetControlMode switches external control. Outstanding sync requests are
// dropped.
func (e *Engine) SetControlMode(c ControlSettings) error {
	if err := c.validate(); err != nil {
		return err
	}
	e.modelMu.Lock()
	e.control = c
	e.pending = nil
	e.modelMu.Unlock()
	e.log.Info().Stringer("mode", c.Mode).Int("period", c.PeriodTicks).Int("delay", c.DelayTicks).Msg("control mode set")
	return nil
}

func (e *Engine) ControlSettings() ControlSettings {
	e.modelMu.Lock()
	defer e.modelMu.Unlock()
	return e.control
}

// SetSimConfig changes pacing immediately and stages a new timestep for the
// next reset. Non-positive values leave the current setting.
func (e *Engine) SetSimConfig(dt, runSpeed float64) error {
	if math.IsNaN(dt) || math.IsNaN(runSpeed) || math.IsInf(dt, 0) || math.IsInf(runSpeed, 0) {
		return errors.New("timestep and run speed must be finite")
	}
	if runSpeed > 0 {
		e.setRunSpeed(runSpeed)
	}
	if dt > 0 {
		e.stageMu.Lock()
		e.staged.dt = dt
		e.stageMu.Unlock()
	}
	return nil
}

// SimConfig reports the active timestep, a staged one (0 if none) and the
// run speed.
func (e *Engine) SimConfig() (dt, pendingDt, runSpeed float64) {
	e.stageMu.Lock()
	pendingDt = e.staged.dt
	e.stageMu.Unlock()
	return e.Dt(), pendingDt, e.RunSpeed()
}

// Schema describes the live model with its active ranges.
func (e *Engine) Schema() (comm.Schema, error) {
	e.modelMu.Lock()
	defer e.modelMu.Unlock()
	if e.desc == nil {
		return comm.Schema{}, dynamo.ErrNoModel
	}
	return e.schemaLocked(), nil
}

func (e *Engine) schemaLocked() comm.Schema {
	d := e.desc
	sc := comm.Schema{
		Version:   e.version,
		ModelName: e.source.Name(),
		ModelRef:  e.ref,
		Params:    channelInfo(d.Params, e.active.Params),
		Inputs:    channelInfo(d.Inputs, e.active.Inputs),
		States:    channelInfo(d.States, e.active.States),
		Settings:  make([]comm.SettingInfo, d.Settings.Len()),
	}
	for i, name := range d.Settings.Names {
		sc.Settings[i] = comm.SettingInfo{
			Index:   i,
			Name:    name,
			Value:   d.Settings.Values[i],
			Options: d.Settings.OptionLabels(i),
		}
	}
	return sc
}

func channelInfo(ch model.Channels, lim overlay.Limits) []comm.ChannelInfo {
	out := make([]comm.ChannelInfo, ch.Len())
	for i, name := range ch.Names {
		out[i] = comm.ChannelInfo{
			Index: i,
			Name:  name,
			Value: ch.Values[i],
			Min:   lim.Min[i],
			Max:   lim.Max[i],
		}
	}
	return out
}

// Status summarizes the loop for administrative queries.
func (e *Engine) Status() comm.Status {
	e.modelMu.Lock()
	st := comm.Status{
		Tick:        e.tick,
		SimTime:     e.simTime,
		ControlMode: e.control.Mode.String(),
		PeriodTicks: e.control.PeriodTicks,
		DelayTicks:  e.control.DelayTicks,
	}
	e.modelMu.Unlock()
	e.stageMu.Lock()
	st.PendingDt = e.staged.dt
	e.stageMu.Unlock()
	st.Paused = e.paused.Load()
	st.SyncConnected = e.transport.SyncClientConnected()
	return st
}

type nopTransport struct{}

func (nopTransport) PublishState(comm.StateUpdate) error { return nil }

func (nopTransport) PublishSchema(comm.Schema) error { return nil }

func (nopTransport) SendControlRequest(comm.ControlRequest) error {
	return dynamo.ErrNoSyncClient
}

func (nopTransport) PollControlReply() (comm.ControlReply, bool) { return comm.ControlReply{}, false }

func (nopTransport) WaitControlReply(time.Time) (comm.ControlReply, bool) {
	return comm.ControlReply{}, false
}

func (nopTransport) ProbeConnection(time.Duration) bool { return false }

func (nopTransport) SyncClientConnected() bool { return false }

func (nopTransport) PollAsyncControl() (comm.ControlAsync, bool) { return comm.ControlAsync{}, false }

func (nopTransport) PollAdminCommand() (comm.AdminCommand, bool) { return comm.AdminCommand{}, false }

func (nopTransport) ReplyAdmin(comm.AdminReply) {}
