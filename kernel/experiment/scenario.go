package experiment

import (
	"math"

	"github.com/nmxmxh/procmesh/kernel/core/field"
	"github.com/nmxmxh/procmesh/kernel/core/mesh"
	"github.com/nmxmxh/procmesh/kernel/core/message"
	"github.com/nmxmxh/procmesh/kernel/core/termination"
)

// GeneratorSpec configures message origination.
type GeneratorSpec struct {
	Mode        message.Mode `json:"mode" yaml:"mode"`
	Origin      uint32       `json:"origin" yaml:"origin"`
	Start       float64      `json:"start" yaml:"start"`
	Stop        float64      `json:"stop" yaml:"stop"`
	Senders     int          `json:"senders" yaml:"senders"`
	Probability float64      `json:"probability" yaml:"probability"`
	// Dest fixes the destination of every message when set.
	Dest *uint32 `json:"dest,omitempty" yaml:"dest,omitempty"`
}

// Scenario is everything one simulation run needs. Zero Devices, Side and
// InfoSpeed are derived from density and hop count.
type Scenario struct {
	Name string `json:"name" yaml:"name"`
	Seed int64  `json:"seed" yaml:"seed"`

	// Dens is the mean number of neighbours per device.
	Dens float64 `json:"dens" yaml:"dens"`
	// Hops is the expected network diameter in hops.
	Hops  float64 `json:"hops" yaml:"hops"`
	TVar  float64 `json:"tvar" yaml:"tvar"`
	Speed float64 `json:"speed" yaml:"speed"`

	CommRadius  float64 `json:"comm_radius" yaml:"comm_radius"`
	Period      float64 `json:"period" yaml:"period"`
	Retain      float64 `json:"retain" yaml:"retain"`
	End         float64 `json:"end" yaml:"end"`
	LogEvery    float64 `json:"log_every" yaml:"log_every"`
	Synchronous bool    `json:"synchronous" yaml:"synchronous"`

	Devices   int     `json:"devices,omitempty" yaml:"devices,omitempty"`
	Side      float64 `json:"side,omitempty" yaml:"side,omitempty"`
	InfoSpeed float64 `json:"infospeed,omitempty" yaml:"infospeed,omitempty"`

	DistanceDeviation float64 `json:"distance_deviation" yaml:"distance_deviation"`
	// MaxDistance bounds spherical processes; 0 means unbounded.
	MaxDistance float64 `json:"max_distance,omitempty" yaml:"max_distance,omitempty"`
	TreeRoot    uint32  `json:"tree_root" yaml:"tree_root"`

	Variants  []Variant     `json:"variants" yaml:"variants"`
	Generator GeneratorSpec `json:"generator" yaml:"generator"`

	DestinationOnly bool `json:"destination_only" yaml:"destination_only"`
	Render          bool `json:"render" yaml:"render"`
	MeasureExports  bool `json:"measure_exports" yaml:"measure_exports"`

	// Links, when set, replace the random deployment with a static topology.
	Links []mesh.Link `json:"links,omitempty" yaml:"links,omitempty"`
}

// DefaultScenario mirrors the reference case study.
func DefaultScenario() Scenario {
	return Scenario{
		Name:              "default",
		Seed:              1,
		Dens:              10,
		Hops:              10,
		TVar:              10,
		Speed:             10,
		CommRadius:        100,
		Period:            1,
		Retain:            3,
		End:               100,
		LogEvery:          1,
		DistanceDeviation: 0.3,
		Variants:          DefaultVariants(),
		Generator: GeneratorSpec{
			Mode:  message.ModeSingle,
			Start: 10,
		},
	}
}

// SideLength returns the deployment side, derived when unset.
func (s Scenario) SideLength() float64 {
	if s.Side > 0 {
		return s.Side
	}
	d := s.Dens
	return math.Floor(s.Hops*(2*d)/(2*d+1)*s.CommRadius/math.Sqrt2 + 0.5)
}

// DeviceCount returns the number of devices, derived when unset.
func (s Scenario) DeviceCount() int {
	if s.Devices > 0 {
		return s.Devices
	}
	side := s.SideLength()
	return int(math.Floor(s.Dens*side*side/(math.Pi*s.CommRadius*s.CommRadius) + 0.5))
}

// InformationSpeed returns the expected information speed, derived when unset.
func (s Scenario) InformationSpeed() float64 {
	if s.InfoSpeed > 0 {
		return s.InfoSpeed
	}
	d := s.Dens
	return (0.08*d-0.7)*s.Speed*0.01 + 0.075*d*d - 1.6*d + 11
}

// MeshConfig returns the runtime settings.
func (s Scenario) MeshConfig() mesh.Config {
	return mesh.Config{
		Devices:        s.DeviceCount(),
		Side:           s.SideLength(),
		CommRadius:     s.CommRadius,
		Period:         s.Period,
		TVar:           s.TVar,
		Speed:          s.Speed,
		Retain:         s.Retain,
		Synchronous:    s.Synchronous,
		Seed:           s.Seed,
		MeasureExports: s.MeasureExports,
		Links:          s.Links,
	}
}

// Params returns the termination constants.
func (s Scenario) Params() termination.Params {
	return termination.Params{
		CommRadius:        s.CommRadius,
		Period:            s.Period,
		InfoSpeed:         s.InformationSpeed(),
		Speed:             s.Speed,
		DistanceDeviation: s.DistanceDeviation,
	}
}

// MessageGenerator returns the generator for the scenario's device count.
func (s Scenario) MessageGenerator() message.Generator {
	g := s.Generator
	devices := s.DeviceCount()
	var gen message.Generator
	if g.Mode == message.ModeMulti {
		gen = message.Multi(devices, g.Senders, g.Probability, g.Start, g.Stop)
	} else {
		gen = message.Single(devices, field.DeviceID(g.Origin), g.Start)
	}
	if g.Dest != nil {
		gen = gen.WithDest(field.DeviceID(*g.Dest))
	}
	return gen
}

// SphereRadius returns the spherical process bound.
func (s Scenario) SphereRadius() float64 {
	if s.MaxDistance <= 0 {
		return math.Inf(1)
	}
	return s.MaxDistance
}

// Validate checks the scenario before any device is built.
func (s Scenario) Validate() error {
	switch {
	case s.CommRadius <= 0:
		return mesh.ErrInvalidConfig("comm_radius", s.CommRadius, "must be positive")
	case s.Devices <= 0 && (s.Dens <= 0 || s.Hops <= 0):
		return mesh.ErrInvalidConfig("dens", s.Dens, "density and hops must be positive")
	case s.End <= 0:
		return mesh.ErrInvalidConfig("end", s.End, "must be positive")
	case s.LogEvery < 0:
		return mesh.ErrInvalidConfig("log_every", s.LogEvery, "must not be negative")
	case len(s.Variants) == 0:
		return mesh.ErrInvalidConfig("variants", nil, "at least one variant is required")
	}
	for _, v := range s.Variants {
		if err := v.Validate(); err != nil {
			return err
		}
	}
	switch s.Generator.Mode {
	case message.ModeSingle, "":
		if int(s.Generator.Origin) >= s.DeviceCount() {
			return mesh.ErrInvalidConfig("generator.origin", s.Generator.Origin, "outside the network")
		}
	case message.ModeMulti:
		if s.Generator.Senders <= 0 || s.Generator.Probability < 0 || s.Generator.Probability > 1 {
			return mesh.ErrInvalidConfig("generator", s.Generator, "multi mode needs senders and a probability in [0,1]")
		}
	default:
		return mesh.ErrInvalidConfig("generator.mode", s.Generator.Mode, "expected single or multi")
	}
	if s.Generator.Dest != nil && int(*s.Generator.Dest) >= s.DeviceCount() {
		return mesh.ErrInvalidConfig("generator.dest", *s.Generator.Dest, "outside the network")
	}
	if int(s.TreeRoot) >= s.DeviceCount() {
		return mesh.ErrInvalidConfig("tree_root", s.TreeRoot, "outside the network")
	}
	return s.MeshConfig().Validate()
}
