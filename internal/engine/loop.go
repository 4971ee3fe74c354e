package engine

import (
	"time"

	"github.com/san-kum/vehsim/internal/comm"
	"github.com/san-kum/vehsim/internal/overlay"
	"github.com/san-kum/vehsim/internal/scene"
)

func (e *Engine) run() {
	defer close(e.done)
	next := time.Now()
	for !e.stopFlag.Load() {
		e.serveAdmin()
		work, ticked := e.iterate()
		if !ticked {
			next = time.Now()
			continue
		}
		var overrun bool
		next, overrun = e.pace(next)
		e.metrics.ObserveTick(work.Seconds(), overrun)
	}
}

// iterate runs one loop cycle and reports the time spent computing a tick.
// When no tick was executed it has already slept.
func (e *Engine) iterate() (time.Duration, bool) {
	e.modelMu.Lock()
	if e.inst == nil {
		e.modelMu.Unlock()
		e.drainIntake()
		time.Sleep(idleSleep)
		return 0, false
	}

	e.drainAsync()
	cones, conesStaged := e.applyCollaborators()

	if e.resetReq.Swap(false) {
		e.resetLocked()
		e.modelMu.Unlock()
		return 0, false
	}

	if conesStaged {
		e.cones = cones
		e.publishLocked()
	}

	if e.paused.Load() {
		e.modelMu.Unlock()
		e.probeIfDue()
		time.Sleep(pausedSleep)
		return 0, false
	}

	start := time.Now()
	if e.stepsLeft.Load() > 0 && e.stepsLeft.Add(-1) == 0 {
		e.paused.Store(true)
	}

	next := e.tick + 1
	if e.control.Mode == ControlSync {
		e.syncControl(next)
	}

	e.inst.Step(e.dt)
	e.tick = next
	e.simTime += e.dt
	e.tickNow.Store(next)
	e.publishLocked()
	e.modelMu.Unlock()
	return time.Since(start), true
}

// pace sleeps until the next absolute deadline. A loop that falls more than
// one period behind restarts its schedule instead of bursting.
func (e *Engine) pace(prev time.Time) (time.Time, bool) {
	period := time.Duration(e.Dt() / e.RunSpeed() * float64(time.Second))
	next := prev.Add(period)
	now := time.Now()
	if now.After(next) {
		if now.Sub(next) > period {
			return now, true
		}
		return next, true
	}
	time.Sleep(next.Sub(now))
	return next, false
}

// drainIntake discards control traffic while no model is loaded.
func (e *Engine) drainIntake() {
	for {
		if _, ok := e.transport.PollAsyncControl(); !ok {
			return
		}
	}
}

// applyCollaborators consumes staged pose, input and cone updates. The
// cone list is returned for the caller to publish.
func (e *Engine) applyCollaborators() ([]scene.Cone, bool) {
	e.stageMu.Lock()
	pose, inputs := e.staged.pose, e.staged.inputs
	cones, ok := e.staged.cones, e.staged.coneOK
	e.staged.pose, e.staged.inputs = nil, nil
	e.staged.cones, e.staged.coneOK = nil, false
	e.stageMu.Unlock()

	if pose != nil {
		e.startPose = *pose
	}
	if inputs != nil {
		e.writeInputs(inputs)
	}
	return cones, ok
}

// resetLocked is the only place staged configuration reaches the model.
func (e *Engine) resetLocked() {
	e.stageMu.Lock()
	st := e.staged
	e.staged.params, e.staged.settings = nil, nil
	e.staged.overlay, e.staged.clear = nil, false
	e.staged.dt = 0
	e.stageMu.Unlock()

	if st.dt > 0 {
		e.dt = st.dt
	}

	d := e.desc
	for _, p := range st.params {
		if p.index < d.Params.Len() {
			d.Params.Values[p.index] = p.value
		}
	}
	for _, s := range st.settings {
		if s.index < d.Settings.Len() {
			d.Settings.Values[s.index] = s.value
		}
	}

	newlyActive := false
	switch {
	case st.overlay != nil:
		e.activeOverlay = st.overlay
		newlyActive = true
		e.version++
	case st.clear && e.activeOverlay != nil:
		e.activeOverlay = nil
		e.version++
	}
	overlay.Apply(d, e.base, &e.active, e.activeOverlay, newlyActive, e.log)

	e.rewindLocked()
	e.schemaDirty = true
	e.paused.Store(!e.runReq.Swap(false))
	e.stepsLeft.Store(0)
	e.publishLocked()
	e.metrics.Reset()
	e.log.Info().Float64("dt", e.dt).Bool("overlay", e.activeOverlay != nil).Msg("reset")
}

func (e *Engine) publishLocked() {
	sc := scene.FromDescriptor(e.tick, e.simTime, e.version, e.desc, e.cones)
	e.store.Publish(sc)

	if e.sentVersion != e.version || e.schemaDirty {
		if err := e.transport.PublishSchema(e.schemaLocked()); err != nil {
			e.hot.Warn().Err(err).Msg("schema publish failed")
		}
		e.sentVersion = e.version
		e.schemaDirty = false
	}
	err := e.transport.PublishState(comm.StateUpdate{
		Tick:          sc.Tick,
		SimTime:       sc.SimTime,
		SchemaVersion: sc.SchemaVersion,
		States:        sc.StateValues,
		Inputs:        sc.InputValues,
		Car:           sc.Car,
		Cones:         sc.Cones,
	})
	if err != nil {
		e.hot.Warn().Err(err).Msg("state publish failed")
	}
}

// probeIfDue refreshes the sync-client status while paused.
func (e *Engine) probeIfDue() {
	e.modelMu.Lock()
	due := time.Since(e.lastProbe) >= e.probeInterval
	if due {
		e.lastProbe = time.Now()
	}
	e.modelMu.Unlock()
	if due {
		e.transport.ProbeConnection(e.probeTimeout)
	}
}
