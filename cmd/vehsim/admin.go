package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/san-kum/vehsim/internal/comm"
	"github.com/san-kum/vehsim/internal/model"
	"github.com/san-kum/vehsim/internal/scene"
)

const adminTimeout = 10 * time.Second

func newAdminCmd() *cobra.Command {
	adminCmd := &cobra.Command{
		Use:   "admin",
		Short: "send administrative commands to a running simulator",
	}

	simple := func(use, short string, typ comm.CommandType) *cobra.Command {
		return &cobra.Command{
			Use:   use,
			Short: short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return sendAdmin(comm.AdminCommand{Type: typ})
			},
		}
	}

	stepCmd := &cobra.Command{
		Use:   "step",
		Short: "advance a paused simulation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return sendAdmin(comm.AdminCommand{Type: comm.CmdStep, StepCount: stepCount})
		},
	}
	stepCmd.Flags().IntVarP(&stepCount, "count", "n", 1, "number of ticks")

	paramsCmd := &cobra.Command{
		Use:   "set-parameters name=value...",
		Short: "stage parameter changes for the next reset",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			updates, err := parseUpdates(args, false)
			if err != nil {
				return err
			}
			return sendAdmin(comm.AdminCommand{Type: comm.CmdSetParameters, ParamUpdates: updates})
		},
	}

	settingsCmd := &cobra.Command{
		Use:   "set-settings name=option...",
		Short: "stage setting changes for the next reset",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			updates, err := parseUpdates(args, true)
			if err != nil {
				return err
			}
			return sendAdmin(comm.AdminCommand{Type: comm.CmdSetSettings, SettingUpdates: updates})
		},
	}

	trackCmd := &cobra.Command{
		Use:   "set-track [csv]",
		Short: "load track cones",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}
			return sendAdmin(comm.AdminCommand{Type: comm.CmdSetTrack, TrackPath: path})
		},
	}

	overlayCmd := &cobra.Command{
		Use:   "load-overlay [yaml]",
		Short: "stage a configuration overlay",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}
			return sendAdmin(comm.AdminCommand{Type: comm.CmdLoadOverlay, OverlayPath: path})
		},
	}

	controlCmd := &cobra.Command{
		Use:   "set-control-mode [local|async|sync]",
		Short: "choose where inputs come from",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := comm.AdminCommand{
				Type:               comm.CmdSetControlMode,
				ControlPeriodTicks: periodTicks,
				ControlDelayTicks:  delayTicks,
			}
			switch args[0] {
			case "local":
			case "async":
				c.ExternalControl = true
			case "sync":
				c.ExternalControl, c.SyncMode = true, true
			default:
				return fmt.Errorf("unknown control mode %q", args[0])
			}
			return sendAdmin(c)
		},
	}
	controlCmd.Flags().IntVar(&periodTicks, "period-ticks", 1, "ticks between synchronous control requests")
	controlCmd.Flags().IntVar(&delayTicks, "delay-ticks", 1, "ticks until a synchronous reply is applied")

	simCmd := &cobra.Command{
		Use:   "set-sim-config",
		Short: "change the run speed now and the timestep at the next reset",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("dt") && !cmd.Flags().Changed("run-speed") {
				return errors.New("set at least one of --dt and --run-speed")
			}
			return sendAdmin(comm.AdminCommand{Type: comm.CmdSetSimConfig, Timestep: dt, RunSpeed: runSpeed})
		},
	}
	simCmd.Flags().Float64Var(&dt, "dt", 0, "timestep in seconds")
	simCmd.Flags().Float64Var(&runSpeed, "run-speed", 0, "wall-clock speed factor")

	loadCmd := &cobra.Command{
		Use:   "load-model [ref]",
		Short: "swap the running model",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref := args[0]
			if !strings.HasPrefix(ref, model.BuiltinPrefix) && (strings.ContainsRune(ref, filepath.Separator) || model.IsLibraryFile(ref)) {
				abs, err := filepath.Abs(ref)
				if err != nil {
					return err
				}
				ref = abs
			}
			return sendAdmin(comm.AdminCommand{Type: comm.CmdLoadModel, ModelPath: ref})
		},
	}

	poseCmd := &cobra.Command{
		Use:   "set-start-pose [x] [y]",
		Short: "stage the pose the car restarts from",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			x, err := strconv.ParseFloat(args[0], 64)
			if err != nil {
				return fmt.Errorf("x: %w", err)
			}
			y, err := strconv.ParseFloat(args[1], 64)
			if err != nil {
				return fmt.Errorf("y: %w", err)
			}
			pose := scene.Pose{X: x, Y: y, Yaw: poseYaw}
			return sendAdmin(comm.AdminCommand{Type: comm.CmdSetStartPose, StartPose: &pose})
		},
	}
	poseCmd.Flags().Float64Var(&poseYaw, "yaw", 0, "heading in radians")

	adminCmd.AddCommand(
		simple("run", "resume the simulation", comm.CmdRun),
		simple("pause", "pause the simulation", comm.CmdPause),
		simple("reset", "apply staged changes and restart", comm.CmdReset),
		stepCmd,
		paramsCmd,
		settingsCmd,
		trackCmd,
		overlayCmd,
		simple("clear-overlay", "stage removal of the active overlay", comm.CmdClearOverlay),
		controlCmd,
		simple("get-schema", "show the channels of the running model", comm.CmdGetSchema),
		simCmd,
		simple("get-sim-config", "show timing and control status", comm.CmdGetSimConfig),
		loadCmd,
		simple("list-models", "list models the simulator can load", comm.CmdListModels),
		poseCmd,
	)
	return adminCmd
}

// parseUpdates reads name=value pairs. A numeric name addresses the
// channel by index. For settings a non-numeric value names an option.
func parseUpdates(args []string, settings bool) ([]comm.Update, error) {
	out := make([]comm.Update, 0, len(args))
	for _, arg := range args {
		name, val, ok := strings.Cut(arg, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("expected name=value, got %q", arg)
		}
		var u comm.Update
		if idx, err := strconv.Atoi(name); err == nil {
			u.Index = idx
		} else {
			u.Name = name
		}
		v, err := strconv.ParseFloat(val, 64)
		switch {
		case err == nil:
			u.Value = v
		case settings:
			u.Label = val
		default:
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		out = append(out, u)
	}
	return out, nil
}

func sendAdmin(cmd comm.AdminCommand) error {
	client := comm.NewClient(serverAddr)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), adminTimeout)
	defer cancel()

	reply, err := client.Admin(ctx, cmd)
	if err != nil {
		return fmt.Errorf("%s: %w", cmd.Type, err)
	}
	if !reply.Success {
		return fmt.Errorf("%s: %s", cmd.Type, reply.Message)
	}
	printReply(reply)
	return nil
}

func printReply(r *comm.AdminReply) {
	if r.Message != "" {
		fmt.Println(r.Message)
	}
	if r.Schema != nil {
		printSchema(r.Schema)
	}
	if len(r.Models) > 0 {
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tREF\tBUILTIN")
		for _, m := range r.Models {
			fmt.Fprintf(w, "%s\t%s\t%v\n", m.Name, m.Ref, m.Builtin)
		}
		w.Flush()
	}
	if r.Status != nil {
		s := r.Status
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "timestep\t%.4fs\n", r.Timestep)
		if s.PendingDt > 0 {
			fmt.Fprintf(w, "pending timestep\t%.4fs\n", s.PendingDt)
		}
		fmt.Fprintf(w, "run speed\t%.2fx\n", r.RunSpeed)
		fmt.Fprintf(w, "tick\t%d\n", s.Tick)
		fmt.Fprintf(w, "sim time\t%.3fs\n", s.SimTime)
		fmt.Fprintf(w, "paused\t%v\n", s.Paused)
		fmt.Fprintf(w, "control\t%s (period %d, delay %d)\n", s.ControlMode, s.PeriodTicks, s.DelayTicks)
		fmt.Fprintf(w, "sync client\t%v\n", s.SyncConnected)
		w.Flush()
	}
}

func printSchema(s *comm.Schema) {
	fmt.Printf("model: %s (%s) schema v%d\n\n", s.ModelName, s.ModelRef, s.Version)
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "KIND\tINDEX\tNAME\tVALUE\tMIN\tMAX")
	sections := []struct {
		kind string
		chs  []comm.ChannelInfo
	}{
		{"param", s.Params},
		{"input", s.Inputs},
		{"state", s.States},
	}
	for _, sec := range sections {
		for _, c := range sec.chs {
			fmt.Fprintf(w, "%s\t%d\t%s\t%.4f\t%.4f\t%.4f\n", sec.kind, c.Index, c.Name, c.Value, c.Min, c.Max)
		}
	}
	for _, st := range s.Settings {
		label := strconv.Itoa(int(st.Value))
		if int(st.Value) >= 0 && int(st.Value) < len(st.Options) {
			label = st.Options[st.Value]
		}
		fmt.Fprintf(w, "setting\t%d\t%s\t%s\t\t%s\n", st.Index, st.Name, label, strings.Join(st.Options, "|"))
	}
	w.Flush()
}
