package mesh

import (
	"math"

	"github.com/nmxmxh/procmesh/kernel/core/field"
)

// Point is a position in the deployment square.
type Point struct {
	X float64 `json:"x" msgpack:"x" yaml:"x"`
	Y float64 `json:"y" msgpack:"y" yaml:"y"`
}

// Dist returns the euclidean distance between p and q.
func (p Point) Dist(q Point) float64 {
	return math.Hypot(p.X-q.X, p.Y-q.Y)
}

// Link is an explicit undirected connection used instead of radius-based
// connectivity.
type Link struct {
	A    field.DeviceID `json:"a" yaml:"a"`
	B    field.DeviceID `json:"b" yaml:"b"`
	Dist float64        `json:"dist" yaml:"dist"`
}

// Config holds network settings
type Config struct {
	Devices    int     `json:"devices" yaml:"devices"`
	Side       float64 `json:"side" yaml:"side"`
	CommRadius float64 `json:"comm_radius" yaml:"comm_radius"`
	Period     float64 `json:"period" yaml:"period"`
	// TVar is the deviation of round intervals as a percentage of Period.
	TVar float64 `json:"tvar" yaml:"tvar"`
	// Speed is the maximum device speed as a percentage of CommRadius/Period.
	Speed float64 `json:"speed" yaml:"speed"`
	// Retain is how many periods a neighbour export stays usable.
	Retain      float64 `json:"retain" yaml:"retain"`
	Synchronous bool    `json:"synchronous" yaml:"synchronous"`
	Seed        int64   `json:"seed" yaml:"seed"`

	// MeasureExports encodes every export to track broadcast sizes.
	MeasureExports bool `json:"measure_exports" yaml:"measure_exports"`

	// Positions fixes the initial positions; random when empty.
	Positions []Point `json:"positions,omitempty" yaml:"positions,omitempty"`
	// Links replaces radius connectivity with a static topology.
	Links []Link `json:"links,omitempty" yaml:"links,omitempty"`
}

// DefaultConfig returns the reference deployment settings
func DefaultConfig() Config {
	return Config{
		Devices:    100,
		Side:       1000,
		CommRadius: 100,
		Period:     1,
		TVar:       10,
		Speed:      10,
		Retain:     3,
		Seed:       1,
	}
}

// MaxSpeed is the maximum device speed in distance per time unit
func (c Config) MaxSpeed() float64 {
	return c.Speed / 100 * c.CommRadius / c.Period
}

// Validate checks the settings
func (c Config) Validate() error {
	switch {
	case c.Devices <= 0:
		return ErrInvalidConfig("devices", c.Devices, "must be positive")
	case c.Period <= 0 || math.IsInf(c.Period, 0) || math.IsNaN(c.Period):
		return ErrInvalidSchedule(c.Period, c.TVar)
	case c.TVar < 0:
		return ErrInvalidSchedule(c.Period, c.TVar)
	case c.Retain <= 0:
		return ErrInvalidConfig("retain", c.Retain, "must be positive")
	case c.Speed < 0:
		return ErrInvalidConfig("speed", c.Speed, "must not be negative")
	case len(c.Positions) > 0 && len(c.Positions) != c.Devices:
		return ErrInvalidTopology("positions do not match device count").
			WithContext("positions", len(c.Positions)).
			WithContext("devices", c.Devices)
	case c.Links == nil && c.CommRadius <= 0:
		return ErrInvalidConfig("comm_radius", c.CommRadius, "must be positive")
	case c.Links == nil && len(c.Positions) == 0 && c.Side <= 0:
		return ErrInvalidConfig("side", c.Side, "must be positive")
	}
	for _, l := range c.Links {
		if int(l.A) >= c.Devices || int(l.B) >= c.Devices || l.A == l.B {
			return ErrInvalidTopology("link endpoints out of range").
				WithContext("a", l.A).
				WithContext("b", l.B)
		}
		if l.Dist < 0 {
			return ErrInvalidTopology("negative link distance").
				WithContext("a", l.A).
				WithContext("b", l.B)
		}
	}
	return nil
}
