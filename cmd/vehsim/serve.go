package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/san-kum/vehsim/internal/comm"
	"github.com/san-kum/vehsim/internal/config"
	"github.com/san-kum/vehsim/internal/engine"
	"github.com/san-kum/vehsim/internal/logging"
	"github.com/san-kum/vehsim/internal/model"
	"github.com/san-kum/vehsim/internal/model/plugin"
	"github.com/san-kum/vehsim/internal/models"
	"github.com/san-kum/vehsim/internal/observability"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "run the simulator and its message server",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
	d := config.DefaultConfig()
	f := cmd.Flags()
	f.StringVar(&modelRef, "model", d.Model, "model reference (builtin:<name> or a shared library path)")
	f.StringVar(&listenAddr, "listen", d.Listen, "message server listen address")
	f.StringVar(&overlayPath, "overlay", "", "configuration overlay to apply at startup")
	f.StringVar(&trackPath, "track", "", "track CSV to load at startup")
	f.StringSliceVar(&modelDirs, "model-dir", d.ModelDirs, "directories searched for model libraries")
	f.Float64Var(&dt, "dt", d.Dt, "timestep in seconds")
	f.Float64Var(&runSpeed, "run-speed", d.RunSpeed, "wall-clock speed factor")
	f.StringVar(&controlMode, "control-mode", d.Control.Mode, "control mode (local, async, sync)")
	f.IntVar(&periodTicks, "period-ticks", d.Control.PeriodTicks, "ticks between synchronous control requests")
	f.IntVar(&delayTicks, "delay-ticks", d.Control.DelayTicks, "ticks until a synchronous reply is applied")
	f.BoolVar(&metricsOn, "metrics", d.Metrics.Enabled, "serve prometheus metrics on /metrics")
	f.StringVar(&preset, "preset", "", "start from a named preset of the model")
	f.BoolVar(&startRunning, "run", false, "start running instead of paused")
	return cmd
}

var serveBindings = map[string]string{
	"model":        "model",
	"listen":       "listen",
	"overlay":      "overlay",
	"track":        "track",
	"model-dir":    "model_dirs",
	"dt":           "dt",
	"run-speed":    "run_speed",
	"control-mode": "control.mode",
	"period-ticks": "control.period_ticks",
	"delay-ticks":  "control.delay_ticks",
	"metrics":      "metrics.enabled",
	"log-level":    "log.level",
	"log-format":   "log.format",
}

func loadServeConfig(cmd *cobra.Command) (*config.Config, error) {
	v := viper.New()
	for flag, key := range serveBindings {
		if err := v.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
			return nil, fmt.Errorf("bind %s: %w", flag, err)
		}
	}
	cfg, err := config.LoadViper(v, configFile)
	if err != nil {
		return nil, err
	}
	if preset == "" {
		return cfg, nil
	}

	name := strings.TrimPrefix(cfg.Model, model.BuiltinPrefix)
	p := config.GetPreset(name, preset)
	if p == nil {
		return nil, fmt.Errorf("unknown preset: %s (available: %v)", preset, config.ListPresets(name))
	}
	// Explicit flags win over the preset.
	flags := cmd.Flags()
	if !flags.Changed("dt") {
		cfg.Dt = p.Dt
	}
	if !flags.Changed("run-speed") {
		cfg.RunSpeed = p.RunSpeed
	}
	if !flags.Changed("control-mode") {
		cfg.Control.Mode = p.Control.Mode
	}
	if !flags.Changed("period-ticks") {
		cfg.Control.PeriodTicks = p.Control.PeriodTicks
	}
	if !flags.Changed("delay-ticks") {
		cfg.Control.DelayTicks = p.Control.DelayTicks
	}
	return cfg, cfg.Validate()
}

func newCatalog(dirs []string, log zerolog.Logger) *model.Catalog {
	return &model.Catalog{
		Registry: models.NewRegistry(),
		Dirs:     dirs,
		Open:     plugin.Load,
		Log:      logging.Component(log, "catalog"),
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadServeConfig(cmd)
	if err != nil {
		return err
	}
	log := logging.New(cfg.Log, os.Stderr)

	var metrics *observability.Collector
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		if metrics, err = observability.NewCollector(reg); err != nil {
			return fmt.Errorf("metrics: %w", err)
		}
	}

	srv := comm.NewServer(comm.Options{
		Addr:    cfg.Listen,
		Log:     log,
		Metrics: metrics,
	})
	if err := srv.Start(); err != nil {
		return err
	}
	defer srv.Close()

	opts, err := engine.OptionsFromConfig(cfg)
	if err != nil {
		return err
	}
	opts.Catalog = newCatalog(cfg.ModelDirs, log)
	opts.Transport = srv
	opts.Metrics = metrics
	opts.Log = log

	eng := engine.New(opts)
	defer eng.Close()

	if err := eng.LoadModel(cfg.Model); err != nil {
		return fmt.Errorf("load model: %w", err)
	}
	if cfg.Track != "" {
		if err := eng.SetTrack(cfg.Track); err != nil {
			return fmt.Errorf("load track: %w", err)
		}
	}
	if cfg.Overlay != "" {
		if err := eng.LoadOverlay(cfg.Overlay); err != nil {
			return fmt.Errorf("load overlay: %w", err)
		}
	}
	if startRunning {
		eng.ResetAndRun()
	} else {
		eng.Reset()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eng.Start()
	defer eng.Stop()

	log.Info().
		Str("model", cfg.Model).
		Str("addr", srv.Addr()).
		Float64("dt", cfg.Dt).
		Float64("run_speed", cfg.RunSpeed).
		Str("control", cfg.Control.Mode).
		Bool("running", startRunning).
		Msg("simulator ready")

	<-ctx.Done()
	log.Info().Msg("shutting down")
	return nil
}

func newModelsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "models",
		Short: "list models this host can load",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cat := newCatalog(modelDirs, cliLogger())
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tREF\tBUILTIN")
			for _, m := range cat.Available() {
				fmt.Fprintf(w, "%s\t%s\t%v\n", m.Name, m.Ref, m.Builtin)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringSliceVar(&modelDirs, "model-dir", config.DefaultConfig().ModelDirs, "directories searched for model libraries")
	return cmd
}

func newPresetsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "presets [model]",
		Short: "list available presets for a model",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := strings.TrimPrefix(args[0], model.BuiltinPrefix)
			presets := config.ListPresets(name)
			if len(presets) == 0 {
				fmt.Printf("no presets for model: %s\n", name)
				return nil
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "PRESET\tDT\tSPEED\tCONTROL\tPERIOD\tDELAY")
			for _, p := range presets {
				c := config.GetPreset(name, p)
				fmt.Fprintf(w, "%s\t%.4fs\t%.1fx\t%s\t%d\t%d\n",
					p, c.Dt, c.RunSpeed, c.Control.Mode, c.Control.PeriodTicks, c.Control.DelayTicks)
			}
			return w.Flush()
		},
	}
}
