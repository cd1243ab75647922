// Package config loads procmesh settings from a config file, PROCMESH_*
// environment variables and command line flags, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/nmxmxh/procmesh/kernel/core/mesh"
	"github.com/nmxmxh/procmesh/kernel/core/message"
	"github.com/nmxmxh/procmesh/kernel/experiment"
	"github.com/nmxmxh/procmesh/kernel/stream"
	"github.com/nmxmxh/procmesh/kernel/utils"
)

// EnvPrefix prefixes every environment override, e.g. PROCMESH_SCENARIO_DENS.
const EnvPrefix = "PROCMESH"

type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
	Color bool   `mapstructure:"color" yaml:"color"`
}

type GeneratorConfig struct {
	Mode        string  `mapstructure:"mode" yaml:"mode"`
	Origin      uint32  `mapstructure:"origin" yaml:"origin"`
	Start       float64 `mapstructure:"start" yaml:"start"`
	Stop        float64 `mapstructure:"stop" yaml:"stop"`
	Senders     int     `mapstructure:"senders" yaml:"senders"`
	Probability float64 `mapstructure:"probability" yaml:"probability"`
}

// ScenarioConfig mirrors experiment.Scenario with variants kept as text.
type ScenarioConfig struct {
	Name              string          `mapstructure:"name" yaml:"name"`
	Seed              int64           `mapstructure:"seed" yaml:"seed"`
	Dens              float64         `mapstructure:"dens" yaml:"dens"`
	Hops              float64         `mapstructure:"hops" yaml:"hops"`
	TVar              float64         `mapstructure:"tvar" yaml:"tvar"`
	Speed             float64         `mapstructure:"speed" yaml:"speed"`
	CommRadius        float64         `mapstructure:"comm_radius" yaml:"comm_radius"`
	Period            float64         `mapstructure:"period" yaml:"period"`
	Retain            float64         `mapstructure:"retain" yaml:"retain"`
	End               float64         `mapstructure:"end" yaml:"end"`
	LogEvery          float64         `mapstructure:"log_every" yaml:"log_every"`
	Synchronous       bool            `mapstructure:"synchronous" yaml:"synchronous"`
	Devices           int             `mapstructure:"devices" yaml:"devices"`
	Side              float64         `mapstructure:"side" yaml:"side"`
	InfoSpeed         float64         `mapstructure:"infospeed" yaml:"infospeed"`
	DistanceDeviation float64         `mapstructure:"distance_deviation" yaml:"distance_deviation"`
	MaxDistance       float64         `mapstructure:"max_distance" yaml:"max_distance"`
	TreeRoot          uint32          `mapstructure:"tree_root" yaml:"tree_root"`
	Variants          string          `mapstructure:"variants" yaml:"variants"`
	Generator         GeneratorConfig `mapstructure:"generator" yaml:"generator"`
	DestinationOnly   bool            `mapstructure:"destination_only" yaml:"destination_only"`
	Render            bool            `mapstructure:"render" yaml:"render"`
	MeasureExports    bool            `mapstructure:"measure_exports" yaml:"measure_exports"`
}

type BatchConfig struct {
	// Sweeps names the swept parameters; each uses its reference range
	// unless overridden as name:min:max:step.
	Sweeps      []string `mapstructure:"sweeps" yaml:"sweeps"`
	Seeds       int      `mapstructure:"seeds" yaml:"seeds"`
	FirstSeed   int64    `mapstructure:"first_seed" yaml:"first_seed"`
	Concurrency int      `mapstructure:"concurrency" yaml:"concurrency"`
}

type ReportConfig struct {
	Dir      string `mapstructure:"dir" yaml:"dir"`
	Compress bool   `mapstructure:"compress" yaml:"compress"`
	Rows     bool   `mapstructure:"rows" yaml:"rows"`
}

type ServeConfig struct {
	Addr            string        `mapstructure:"addr" yaml:"addr"`
	FrameInterval   time.Duration `mapstructure:"frame_interval" yaml:"frame_interval"`
	FramesPerSecond int64         `mapstructure:"frames_per_second" yaml:"frames_per_second"`
	Burst           int64         `mapstructure:"burst" yaml:"burst"`
	SendBuffer      int           `mapstructure:"send_buffer" yaml:"send_buffer"`
	MaxFailures     uint32        `mapstructure:"max_failures" yaml:"max_failures"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// Config is the complete settings tree.
type Config struct {
	Log      LogConfig      `mapstructure:"log" yaml:"log"`
	Scenario ScenarioConfig `mapstructure:"scenario" yaml:"scenario"`
	Batch    BatchConfig    `mapstructure:"batch" yaml:"batch"`
	Report   ReportConfig   `mapstructure:"report" yaml:"report"`
	Serve    ServeConfig    `mapstructure:"serve" yaml:"serve"`
}

// Default returns the reference case study settings.
func Default() Config {
	s := experiment.DefaultScenario()
	hub := stream.DefaultHubConfig()
	return Config{
		Log: LogConfig{Level: "info", Color: true},
		Scenario: ScenarioConfig{
			Name:              s.Name,
			Seed:              s.Seed,
			Dens:              s.Dens,
			Hops:              s.Hops,
			TVar:              s.TVar,
			Speed:             s.Speed,
			CommRadius:        s.CommRadius,
			Period:            s.Period,
			Retain:            s.Retain,
			End:               s.End,
			LogEvery:          s.LogEvery,
			DistanceDeviation: s.DistanceDeviation,
			Variants:          formatVariants(s.Variants),
			Generator: GeneratorConfig{
				Mode:  string(s.Generator.Mode),
				Start: s.Generator.Start,
			},
		},
		Batch: BatchConfig{
			Seeds:     12,
			FirstSeed: 1,
		},
		Report: ReportConfig{Dir: "results"},
		Serve: ServeConfig{
			Addr:            ":8080",
			FrameInterval:   250 * time.Millisecond,
			FramesPerSecond: hub.FramesPerSecond,
			Burst:           hub.Burst,
			SendBuffer:      hub.SendBuffer,
			MaxFailures:     hub.MaxFailures,
			ShutdownTimeout: 5 * time.Second,
		},
	}
}

func formatVariants(vs []experiment.Variant) string {
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = v.String()
	}
	return strings.Join(parts, ",")
}

// flagKeys maps command line flags to config keys.
var flagKeys = map[string]string{
	"log-level":   "log.level",
	"seed":        "scenario.seed",
	"dens":        "scenario.dens",
	"hops":        "scenario.hops",
	"tvar":        "scenario.tvar",
	"speed":       "scenario.speed",
	"end":         "scenario.end",
	"devices":     "scenario.devices",
	"variants":    "scenario.variants",
	"sync":        "scenario.synchronous",
	"render":      "scenario.render",
	"sweep":       "batch.sweeps",
	"seeds":       "batch.seeds",
	"concurrency": "batch.concurrency",
	"out":         "report.dir",
	"compress":    "report.compress",
	"addr":        "serve.addr",
}

// RegisterFlags defines the command line overrides on fs.
func RegisterFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.String("log-level", d.Log.Level, "log level (debug, info, warn, error)")
	fs.Int64("seed", d.Scenario.Seed, "random seed")
	fs.Float64("dens", d.Scenario.Dens, "mean neighbours per device")
	fs.Float64("hops", d.Scenario.Hops, "expected diameter in hops")
	fs.Float64("tvar", d.Scenario.TVar, "round period variance, percent")
	fs.Float64("speed", d.Scenario.Speed, "device speed, percent of comm radius per period")
	fs.Float64("end", d.Scenario.End, "simulated end time")
	fs.Int("devices", 0, "device count (derived from dens and hops when 0)")
	fs.String("variants", d.Scenario.Variants, "comma separated kind/policy list or all")
	fs.Bool("sync", false, "run rounds synchronously")
	fs.Bool("render", false, "record per-device render hints")
	fs.StringSlice("sweep", nil, "swept parameter, optionally name:min:max:step")
	fs.Int("seeds", d.Batch.Seeds, "seeds per batch scenario")
	fs.Int("concurrency", 0, "parallel batch runs (0 uses every CPU)")
	fs.String("out", d.Report.Dir, "report directory (empty disables files)")
	fs.Bool("compress", false, "brotli compress result files")
	fs.String("addr", d.Serve.Addr, "listen address for serve")
}

// Load reads the settings. path may be empty; fs may be nil. Only flags that
// fs defines and the user changed override file and environment values.
func Load(path string, fs *pflag.FlagSet) (Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, utils.WrapError(err, "read config "+path)
		}
	}

	if fs != nil {
		for name, key := range flagKeys {
			if f := fs.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return Config{}, utils.WrapError(err, "bind flag "+name)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, utils.WrapError(err, "decode config")
	}
	return cfg, cfg.Validate()
}

func setDefaults(v *viper.Viper, d Config) {
	raw, err := yaml.Marshal(d)
	if err != nil {
		panic(err)
	}
	var tree map[string]any
	if err := yaml.Unmarshal(raw, &tree); err != nil {
		panic(err)
	}
	var walk func(prefix string, m map[string]any)
	walk = func(prefix string, m map[string]any) {
		for k, val := range m {
			key := k
			if prefix != "" {
				key = prefix + "." + k
			}
			if sub, ok := val.(map[string]any); ok {
				walk(key, sub)
				continue
			}
			v.SetDefault(key, val)
		}
	}
	walk("", tree)
	// yaml renders durations as strings; viper's decode hook parses them back.
	v.SetDefault("serve.frame_interval", d.Serve.FrameInterval)
	v.SetDefault("serve.shutdown_timeout", d.Serve.ShutdownTimeout)
	v.SetDefault("batch.sweeps", d.Batch.Sweeps)
}

// BuildScenario builds the experiment scenario.
func (c Config) BuildScenario() (experiment.Scenario, error) {
	s := c.Scenario
	variants, err := experiment.ParseVariants(s.Variants)
	if err != nil {
		return experiment.Scenario{}, err
	}
	return experiment.Scenario{
		Name:              s.Name,
		Seed:              s.Seed,
		Dens:              s.Dens,
		Hops:              s.Hops,
		TVar:              s.TVar,
		Speed:             s.Speed,
		CommRadius:        s.CommRadius,
		Period:            s.Period,
		Retain:            s.Retain,
		End:               s.End,
		LogEvery:          s.LogEvery,
		Synchronous:       s.Synchronous,
		Devices:           s.Devices,
		Side:              s.Side,
		InfoSpeed:         s.InfoSpeed,
		DistanceDeviation: s.DistanceDeviation,
		MaxDistance:       s.MaxDistance,
		TreeRoot:          s.TreeRoot,
		Variants:          variants,
		Generator: experiment.GeneratorSpec{
			Mode:        message.Mode(s.Generator.Mode),
			Origin:      s.Generator.Origin,
			Start:       s.Generator.Start,
			Stop:        s.Generator.Stop,
			Senders:     s.Generator.Senders,
			Probability: s.Generator.Probability,
		},
		DestinationOnly: s.DestinationOnly,
		Render:          s.Render,
		MeasureExports:  s.MeasureExports,
	}, nil
}

// BuildBatch builds the sweep over the configured scenario.
func (c Config) BuildBatch() (experiment.Batch, error) {
	base, err := c.BuildScenario()
	if err != nil {
		return experiment.Batch{}, err
	}
	sweeps := make([]experiment.Sweep, 0, len(c.Batch.Sweeps))
	for _, raw := range c.Batch.Sweeps {
		sw, err := ParseSweep(raw)
		if err != nil {
			return experiment.Batch{}, err
		}
		sweeps = append(sweeps, sw)
	}
	return experiment.Batch{
		Base:        base,
		Sweeps:      sweeps,
		Seeds:       experiment.SeedRange(c.Batch.FirstSeed, c.Batch.Seeds),
		Concurrency: c.Batch.Concurrency,
	}, nil
}

// ParseSweep parses "name" or "name:min:max:step".
func ParseSweep(raw string) (experiment.Sweep, error) {
	parts := strings.Split(strings.TrimSpace(raw), ":")
	var base *experiment.Sweep
	for _, sw := range experiment.DefaultSweeps() {
		if sw.Parameter == parts[0] {
			base = &sw
			break
		}
	}
	if base == nil {
		return experiment.Sweep{}, mesh.ErrInvalidConfig("batch.sweeps", raw, "expected tvar, dens, hops or speed")
	}
	switch len(parts) {
	case 1:
		return *base, nil
	case 4:
		sw := experiment.Sweep{Parameter: parts[0]}
		if _, err := fmt.Sscanf(strings.Join(parts[1:], " "), "%g %g %g", &sw.Min, &sw.Max, &sw.Step); err != nil {
			return experiment.Sweep{}, mesh.ErrInvalidConfig("batch.sweeps", raw, "bad range").WithContext("cause", err.Error())
		}
		return sw, nil
	default:
		return experiment.Sweep{}, mesh.ErrInvalidConfig("batch.sweeps", raw, "expected name or name:min:max:step")
	}
}

// HubConfig returns the stream hub settings.
func (c Config) HubConfig() stream.HubConfig {
	h := stream.DefaultHubConfig()
	h.FramesPerSecond = c.Serve.FramesPerSecond
	h.Burst = c.Serve.Burst
	h.SendBuffer = c.Serve.SendBuffer
	h.MaxFailures = c.Serve.MaxFailures
	return h
}

// Derived are the values computed from density, hops and speed.
type Derived struct {
	Side      float64 `yaml:"side"`
	Devices   int     `yaml:"devices"`
	InfoSpeed float64 `yaml:"infospeed"`
	Threshold float64 `yaml:"threshold"`
}

// Derived computes the derived values of the scenario.
func (c Config) Derived() (Derived, error) {
	s, err := c.BuildScenario()
	if err != nil {
		return Derived{}, err
	}
	return Derived{
		Side:      s.SideLength(),
		Devices:   s.DeviceCount(),
		InfoSpeed: s.InformationSpeed(),
		Threshold: s.Params().Threshold(),
	}, nil
}

// Validate checks every section.
func (c Config) Validate() error {
	if _, err := utils.ParseLevel(c.Log.Level); err != nil {
		return mesh.ErrInvalidConfig("log.level", c.Log.Level, "expected debug, info, warn or error")
	}
	s, err := c.BuildScenario()
	if err != nil {
		return err
	}
	if err := s.Validate(); err != nil {
		return err
	}
	if _, err := c.BuildBatch(); err != nil {
		return err
	}
	var errs []error
	if c.Batch.Seeds <= 0 {
		errs = append(errs, mesh.ErrInvalidConfig("batch.seeds", c.Batch.Seeds, "must be positive"))
	}
	if c.Batch.Concurrency < 0 {
		errs = append(errs, mesh.ErrInvalidConfig("batch.concurrency", c.Batch.Concurrency, "must not be negative"))
	}
	if c.Serve.FrameInterval <= 0 {
		errs = append(errs, mesh.ErrInvalidConfig("serve.frame_interval", c.Serve.FrameInterval, "must be positive"))
	}
	if c.Serve.FramesPerSecond <= 0 || c.Serve.Burst <= 0 {
		errs = append(errs, mesh.ErrInvalidConfig("serve.frames_per_second", c.Serve.FramesPerSecond, "rate and burst must be positive"))
	}
	return errors.Join(errs...)
}

// Manifest is the effective configuration with its derived values.
type Manifest struct {
	Config  Config  `yaml:"config"`
	Derived Derived `yaml:"derived"`
}

// WriteManifest writes the effective configuration as YAML.
func (c Config) WriteManifest(w io.Writer) error {
	d, err := c.Derived()
	if err != nil {
		return err
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(Manifest{Config: c, Derived: d}); err != nil {
		return utils.WrapError(err, "encode manifest")
	}
	return enc.Close()
}
