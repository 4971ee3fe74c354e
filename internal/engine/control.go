package engine

import (
	"fmt"
	"strings"
	"time"

	"github.com/san-kum/vehsim/internal/comm"
	"github.com/san-kum/vehsim/internal/config"
)

// ControlMode selects who writes the model inputs.
type ControlMode int

const (
	ControlLocal ControlMode = iota
	ControlAsync
	ControlSync
)

func (m ControlMode) String() string {
	switch m {
	case ControlAsync:
		return config.ControlAsync
	case ControlSync:
		return config.ControlSync
	default:
		return config.ControlLocal
	}
}

func ParseControlMode(s string) (ControlMode, error) {
	switch strings.ToLower(s) {
	case "", config.ControlLocal:
		return ControlLocal, nil
	case config.ControlAsync:
		return ControlAsync, nil
	case config.ControlSync:
		return ControlSync, nil
	}
	return ControlLocal, fmt.Errorf("unknown control mode %q", s)
}

// ControlSettings configures external control. Sync requests go out every
// PeriodTicks ticks and their replies take effect DelayTicks later.
type ControlSettings struct {
	Mode        ControlMode
	PeriodTicks int
	DelayTicks  int
}

func (c ControlSettings) validate() error {
	if c.PeriodTicks < 1 {
		return fmt.Errorf("control period must be at least 1 tick, got %d", c.PeriodTicks)
	}
	if c.DelayTicks < 0 {
		return fmt.Errorf("control delay must not be negative, got %d", c.DelayTicks)
	}
	return nil
}

type pendingRequest struct {
	tick      uint64
	applyTick uint64
	version   uint64
	epoch     uint64
	deadline  time.Time
	reply     *comm.ControlReply
}

// drainAsync consumes the async intake. Outside async mode messages are
// discarded; in async mode the newest one carrying the current schema
// version is written into the inputs.
func (e *Engine) drainAsync() {
	var latest *comm.ControlAsync
	for {
		msg, ok := e.transport.PollAsyncControl()
		if !ok {
			break
		}
		if e.control.Mode != ControlAsync {
			continue
		}
		if msg.SchemaVersion != e.version {
			e.metrics.AsyncControl(false)
			e.hot.Debug().Uint64("version", msg.SchemaVersion).Uint64("current", e.version).Msg("stale async control dropped")
			continue
		}
		e.metrics.AsyncControl(true)
		m := msg
		latest = &m
	}
	if latest != nil {
		e.writeInputs(latest.Inputs)
	}
}

// syncControl runs the request/reply exchange for the tick about to be
// computed.
func (e *Engine) syncControl(next uint64) {
	for {
		r, ok := e.transport.PollControlReply()
		if !ok {
			break
		}
		e.matchReply(r)
	}

	if (next-1)%uint64(e.control.PeriodTicks) == 0 {
		e.dispatch(next)
	}

	for len(e.pending) > 0 && e.pending[0].applyTick <= next {
		req := &e.pending[0]
		for req.reply == nil {
			r, ok := e.transport.WaitControlReply(req.deadline)
			if !ok {
				break
			}
			e.matchReply(r)
		}
		if req.reply != nil {
			e.writeInputs(req.reply.Inputs)
		} else {
			e.metrics.SyncTimeout()
			e.hot.Warn().Uint64("tick", req.tick).Msg("sync control timed out, holding inputs")
		}
		e.pending = e.pending[1:]
	}
}

func (e *Engine) dispatch(tick uint64) {
	req := comm.ControlRequest{
		Tick:          tick,
		SimTime:       e.simTime,
		SchemaVersion: e.version,
		Epoch:         e.epoch,
		States:        e.desc.States.Values,
	}
	if err := e.transport.SendControlRequest(req); err != nil {
		e.hot.Debug().Err(err).Uint64("tick", tick).Msg("sync request not sent")
		return
	}
	e.pending = append(e.pending, pendingRequest{
		tick:      tick,
		applyTick: tick + uint64(e.control.DelayTicks),
		version:   e.version,
		epoch:     e.epoch,
		deadline:  time.Now().Add(e.syncTimeout),
	})
}

// matchReply attaches r to the unresolved request with the same tick and
// reset epoch. Heartbeats, stale versions and replies to requests dropped
// by a timeout or a reset are ignored.
func (e *Engine) matchReply(r comm.ControlReply) {
	if r.Tick == 0 {
		return
	}
	for i := range e.pending {
		p := &e.pending[i]
		if p.tick != r.Tick || p.epoch != r.Epoch || p.reply != nil {
			continue
		}
		if r.SchemaVersion != p.version {
			e.hot.Debug().Uint64("tick", r.Tick).Msg("stale sync reply dropped")
			return
		}
		reply := r
		p.reply = &reply
		return
	}
	e.hot.Debug().Uint64("tick", r.Tick).Msg("late sync reply dropped")
}

// writeInputs clamps values into the active input ranges and writes them
// into the live model. A length mismatch drops the whole vector.
func (e *Engine) writeInputs(values []float64) {
	in := e.desc.Inputs.Values
	if len(values) != len(in) {
		e.hot.Warn().Int("got", len(values)).Int("want", len(in)).Msg("input vector size mismatch")
		return
	}
	for i, v := range values {
		in[i] = e.active.Inputs.Clamp(i, v)
	}
}
