package engine

import (
	"errors"
	"fmt"

	"github.com/san-kum/vehsim/internal/comm"
	"github.com/san-kum/vehsim/internal/dynamo"
)

// serveAdmin answers at most one administrative command per iteration.
func (e *Engine) serveAdmin() {
	cmd, ok := e.transport.PollAdminCommand()
	if !ok {
		return
	}
	reply := e.HandleAdmin(cmd)
	e.metrics.AdminCommand(string(cmd.Type), reply.Success)
	if !reply.Success {
		e.log.Warn().Str("type", string(cmd.Type)).Str("error", reply.Message).Msg("admin command failed")
	} else {
		e.log.Debug().Str("type", string(cmd.Type)).Msg("admin command")
	}
	e.transport.ReplyAdmin(reply)
}

func failure(err error) comm.AdminReply {
	return comm.AdminReply{Success: false, Message: err.Error()}
}

func success(msg string) comm.AdminReply {
	return comm.AdminReply{Success: true, Message: msg}
}

// HandleAdmin executes one command and builds its reply.
func (e *Engine) HandleAdmin(cmd comm.AdminCommand) comm.AdminReply {
	switch cmd.Type {
	case comm.CmdRun:
		e.Resume()
		return success("running")
	case comm.CmdPause:
		e.Pause()
		return success("paused")
	case comm.CmdReset:
		e.Reset()
		return success("reset requested")
	case comm.CmdStep:
		n := cmd.StepCount
		if n <= 0 {
			n = 1
		}
		e.Step(n)
		return success(fmt.Sprintf("stepping %d", n))

	case comm.CmdSetParameters:
		var errs []error
		for _, u := range cmd.ParamUpdates {
			if err := e.setParameter(u.Name, u.Index, u.Value); err != nil {
				errs = append(errs, err)
			}
		}
		if err := errors.Join(errs...); err != nil {
			return failure(err)
		}
		return success(fmt.Sprintf("%d parameter update(s) staged", len(cmd.ParamUpdates)))
	case comm.CmdSetSettings:
		var errs []error
		for _, u := range cmd.SettingUpdates {
			if err := e.setSetting(u.Name, u.Index, int32(u.Value), u.Label); err != nil {
				errs = append(errs, err)
			}
		}
		if err := errors.Join(errs...); err != nil {
			return failure(err)
		}
		return success(fmt.Sprintf("%d setting update(s) staged", len(cmd.SettingUpdates)))

	case comm.CmdSetTrack:
		if err := e.SetTrack(cmd.TrackPath); err != nil {
			return failure(err)
		}
		return success("track loaded")
	case comm.CmdLoadOverlay:
		if err := e.LoadOverlay(cmd.OverlayPath); err != nil {
			return failure(err)
		}
		return success("overlay staged, applied on reset")
	case comm.CmdClearOverlay:
		e.ClearOverlay()
		return success("overlay clear staged, applied on reset")
	case comm.CmdSetControlMode:
		c := ControlSettings{
			Mode:        ControlLocal,
			PeriodTicks: cmd.ControlPeriodTicks,
			DelayTicks:  cmd.ControlDelayTicks,
		}
		if cmd.ExternalControl {
			c.Mode = ControlAsync
			if cmd.SyncMode {
				c.Mode = ControlSync
			}
		}
		if c.PeriodTicks == 0 {
			c.PeriodTicks = 1
		}
		if err := e.SetControlMode(c); err != nil {
			return failure(err)
		}
		return success("control mode " + c.Mode.String())
	case comm.CmdGetSchema:
		sc, err := e.Schema()
		if err != nil {
			return failure(err)
		}
		r := success("")
		r.Schema = &sc
		return r

	case comm.CmdSetSimConfig:
		if err := e.SetSimConfig(cmd.Timestep, cmd.RunSpeed); err != nil {
			return failure(err)
		}
		return e.simConfigReply("sim config updated")
	case comm.CmdGetSimConfig:
		return e.simConfigReply("")
	case comm.CmdLoadModel:
		if err := e.LoadModel(cmd.ModelPath); err != nil {
			return failure(err)
		}
		sc, err := e.Schema()
		if err != nil {
			return failure(err)
		}
		r := success("loaded " + sc.ModelName)
		r.Schema = &sc
		return r
	case comm.CmdListModels:
		r := success("")
		r.Models = e.AvailableModels()
		return r
	case comm.CmdSetStartPose:
		if cmd.StartPose == nil {
			return failure(errors.New("set-start-pose requires a start pose"))
		}
		e.SetStartPose(*cmd.StartPose)
		return success("start pose staged, applied on reset")
	}
	return failure(fmt.Errorf("%w: %q", dynamo.ErrUnknownCommand, cmd.Type))
}

func (e *Engine) simConfigReply(msg string) comm.AdminReply {
	dt, _, speed := e.SimConfig()
	st := e.Status()
	r := success(msg)
	r.Timestep = dt
	r.RunSpeed = speed
	r.Status = &st
	return r
}
