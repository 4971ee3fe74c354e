package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/san-kum/vehsim/internal/comm"
	"github.com/san-kum/vehsim/internal/driver"
	"github.com/san-kum/vehsim/internal/track"
)

var (
	driveMode   string
	driveTrack  string
	driveConfig = driver.DefaultConfig()
)

func newDriveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "drive",
		Short: "drive a running simulator around its track as an external controller",
		Long: "drive attaches as the synchronous control client (--mode sync) or streams\n" +
			"asynchronous inputs (--mode async). The simulator must be in the matching\n" +
			"control mode; see 'vehsim admin set-control-mode'.",
		Args: cobra.NoArgs,
		RunE: runDrive,
	}
	f := cmd.Flags()
	f.StringVar(&driveMode, "mode", "sync", "control channel (sync, async)")
	f.StringVar(&driveTrack, "track", "", "track CSV whose midpoints are followed")
	f.Float64Var(&driveConfig.TargetSpeed, "target-speed", driveConfig.TargetSpeed, "speed to hold in m/s")
	f.Float64Var(&driveConfig.Lookahead, "lookahead", driveConfig.Lookahead, "pursuit lookahead in metres")
	f.Float64Var(&driveConfig.Kp, "kp", driveConfig.Kp, "speed pid kp")
	f.Float64Var(&driveConfig.Ki, "ki", driveConfig.Ki, "speed pid ki")
	f.Float64Var(&driveConfig.Kd, "kd", driveConfig.Kd, "speed pid kd")
	return cmd
}

func runDrive(cmd *cobra.Command, args []string) error {
	if driveMode != "sync" && driveMode != "async" {
		return fmt.Errorf("unknown drive mode %q", driveMode)
	}
	log := cliLogger()

	cfg := driveConfig
	if driveTrack != "" {
		t, err := track.Load(driveTrack)
		if err != nil {
			return err
		}
		cfg.Path = t.Midpoints
		log.Info().Int("midpoints", len(t.Midpoints)).Msg("following track")
	}
	d := driver.New(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	client := comm.NewClient(serverAddr)
	defer client.Close()

	errc := make(chan error, 2)
	go func() {
		errc <- client.SubscribeSchema(ctx, func(s comm.Schema) {
			if err := d.SetSchema(s); err != nil {
				log.Warn().Err(err).Uint64("version", s.Version).Msg("cannot drive this model")
				return
			}
			log.Info().Str("model", s.ModelName).Uint64("version", s.Version).Msg("schema")
		})
	}()

	go func() {
		if driveMode == "sync" {
			errc <- client.ServeSyncControl(ctx, d.Handle)
			return
		}
		var last uint64
		errc <- client.SubscribeState(ctx, func(u comm.StateUpdate) {
			if u.Tick == last {
				return
			}
			last = u.Tick
			msg, ok := d.Async(u)
			if !ok {
				return
			}
			if err := client.SendAsyncControl(ctx, msg); err != nil {
				log.Warn().Err(err).Msg("async send failed")
			}
		})
	}()

	log.Info().Str("mode", driveMode).Float64("target_speed", cfg.TargetSpeed).Msg("driving")
	err := <-errc
	cancel()
	if err2 := <-errc; err == nil {
		err = err2
	}
	return err
}
