package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/san-kum/vehsim/internal/logging"
)

const (
	DefaultDt            = 0.01
	DefaultRunSpeed      = 1.0
	DefaultListen        = "127.0.0.1:5555"
	DefaultModel         = "builtin:kinematic_single_track"
	DefaultSyncTimeout   = 50 * time.Millisecond
	DefaultProbeInterval = 500 * time.Millisecond
	DefaultProbeTimeout  = 20 * time.Millisecond
	EnvPrefix            = "VEHSIM"
)

const (
	ControlLocal = "local"
	ControlAsync = "async"
	ControlSync  = "sync"
)

type Config struct {
	Model     string         `mapstructure:"model" yaml:"model"`
	Overlay   string         `mapstructure:"overlay" yaml:"overlay,omitempty"`
	Track     string         `mapstructure:"track" yaml:"track,omitempty"`
	ModelDirs []string       `mapstructure:"model_dirs" yaml:"model_dirs,omitempty"`
	RunsDir   string         `mapstructure:"runs_dir" yaml:"runs_dir"`
	Dt        float64        `mapstructure:"dt" yaml:"dt"`
	RunSpeed  float64        `mapstructure:"run_speed" yaml:"run_speed"`
	Listen    string         `mapstructure:"listen" yaml:"listen"`
	Control   ControlConfig  `mapstructure:"control" yaml:"control"`
	Log       logging.Config `mapstructure:"log" yaml:"log"`
	Metrics   MetricsConfig  `mapstructure:"metrics" yaml:"metrics"`
}

type ControlConfig struct {
	Mode          string        `mapstructure:"mode" yaml:"mode"`
	PeriodTicks   int           `mapstructure:"period_ticks" yaml:"period_ticks"`
	DelayTicks    int           `mapstructure:"delay_ticks" yaml:"delay_ticks"`
	SyncTimeout   time.Duration `mapstructure:"sync_timeout" yaml:"sync_timeout"`
	ProbeInterval time.Duration `mapstructure:"probe_interval" yaml:"probe_interval"`
	ProbeTimeout  time.Duration `mapstructure:"probe_timeout" yaml:"probe_timeout"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

func DefaultConfig() *Config {
	return &Config{
		Model:     DefaultModel,
		ModelDirs: []string{"models"},
		RunsDir:   "runs",
		Dt:        DefaultDt,
		RunSpeed:  DefaultRunSpeed,
		Listen:    DefaultListen,
		Control: ControlConfig{
			Mode:          ControlLocal,
			PeriodTicks:   1,
			DelayTicks:    1,
			SyncTimeout:   DefaultSyncTimeout,
			ProbeInterval: DefaultProbeInterval,
			ProbeTimeout:  DefaultProbeTimeout,
		},
		Log:     logging.DefaultConfig(),
		Metrics: MetricsConfig{Enabled: true},
	}
}

// SetDefaults registers every default under its viper key so that
// environment variables and bound flags resolve for all of them.
func SetDefaults(v *viper.Viper) {
	d := DefaultConfig()
	v.SetDefault("model", d.Model)
	v.SetDefault("overlay", d.Overlay)
	v.SetDefault("track", d.Track)
	v.SetDefault("model_dirs", d.ModelDirs)
	v.SetDefault("runs_dir", d.RunsDir)
	v.SetDefault("dt", d.Dt)
	v.SetDefault("run_speed", d.RunSpeed)
	v.SetDefault("listen", d.Listen)
	v.SetDefault("control.mode", d.Control.Mode)
	v.SetDefault("control.period_ticks", d.Control.PeriodTicks)
	v.SetDefault("control.delay_ticks", d.Control.DelayTicks)
	v.SetDefault("control.sync_timeout", d.Control.SyncTimeout)
	v.SetDefault("control.probe_interval", d.Control.ProbeInterval)
	v.SetDefault("control.probe_timeout", d.Control.ProbeTimeout)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
}

// Load reads path (optional) over the defaults with VEHSIM_* environment
// overrides.
func Load(path string) (*Config, error) {
	return LoadViper(viper.New(), path)
}

// LoadViper is Load on a caller-owned viper instance, typically one with
// command-line flags already bound.
func LoadViper(v *viper.Viper, path string) (*Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func (c *Config) Validate() error {
	var errs []error
	if c.Dt <= 0 || c.Dt > 1 {
		errs = append(errs, fmt.Errorf("dt must be in (0, 1], got %g", c.Dt))
	}
	if c.RunSpeed <= 0 {
		errs = append(errs, fmt.Errorf("run_speed must be positive, got %g", c.RunSpeed))
	}
	if c.Listen == "" {
		errs = append(errs, errors.New("listen address is required"))
	}
	switch c.Control.Mode {
	case ControlLocal, ControlAsync, ControlSync:
	default:
		errs = append(errs, fmt.Errorf("unknown control mode %q", c.Control.Mode))
	}
	if c.Control.PeriodTicks < 1 {
		errs = append(errs, fmt.Errorf("control period must be at least one tick, got %d", c.Control.PeriodTicks))
	}
	if c.Control.DelayTicks < 0 {
		errs = append(errs, fmt.Errorf("control delay must not be negative, got %d", c.Control.DelayTicks))
	}
	if c.Control.SyncTimeout <= 0 {
		errs = append(errs, errors.New("sync_timeout must be positive"))
	}
	return errors.Join(errs...)
}
