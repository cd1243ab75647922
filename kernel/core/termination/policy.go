// Package termination decides when a process instance has finished and can
// stop spreading. Policies only rewrite the status of the instance they are
// given; the registry does the actual collection.
package termination

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/nmxmxh/procmesh/kernel/core/field"
	"github.com/nmxmxh/procmesh/kernel/core/message"
	"github.com/nmxmxh/procmesh/kernel/core/process"
)

// ErrUnknownPolicy is returned by New for names it does not know.
var ErrUnknownPolicy = errors.New("unknown termination policy")

// Instance is the view of a process instance a policy needs.
type Instance interface {
	Key() message.Message
	Path() field.Path
	Round() int
}

// Policy advances the status of one instance for one round.
type Policy interface {
	Name() string
	// Advance runs inside the instance update. ds is the instance's estimated
	// physical distance from the message origin.
	Advance(c *field.Context, inst Instance, st *process.Status, ds float64)
}

// Params holds the system constants policies read.
type Params struct {
	CommRadius float64 `json:"comm_radius" yaml:"comm_radius"`
	Period     float64 `json:"period" yaml:"period"`
	// InfoSpeed is the expected information speed in communication radii per
	// period, used by the adjusted policy.
	InfoSpeed float64 `json:"info_speed" yaml:"info_speed"`
	// Speed is the maximum device speed as a percentage of CommRadius/Period.
	Speed float64 `json:"speed" yaml:"speed"`
	// DistanceDeviation is the relative deviation of the distance noise.
	DistanceDeviation float64 `json:"distance_deviation" yaml:"distance_deviation"`
}

// DefaultParams mirrors the reference deployment.
func DefaultParams() Params {
	return Params{CommRadius: 100, Period: 1, InfoSpeed: 1, Speed: 10, DistanceDeviation: 0.3}
}

// Threshold is the speed bound 2*CommRadius/Period.
func (p Params) Threshold() float64 {
	return 2 * p.CommRadius / p.Period
}

var constructors = map[string]func(Params) Policy{
	"legacy":   func(Params) Policy { return Legacy{} },
	"share":    func(Params) Policy { return Share{} },
	"novel":    func(p Params) Policy { return Novel{Params: p} },
	"wave":     func(p Params) Policy { return Wave{Params: p} },
	"adjusted": func(p Params) Policy { return NewAdjusted(p) },
}

// New returns the policy registered under name.
func New(name string, p Params) (Policy, error) {
	ctor, ok := constructors[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPolicy, name)
	}
	return ctor(p), nil
}

// Names lists the registered policies in alphabetical order.
func Names() []string {
	names := make([]string, 0, len(constructors))
	for n := range constructors {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// floodTerminated spreads the terminated flag through the shared broadcast:
// true once the instance itself or any neighbour has terminated.
func floodTerminated(c *field.Context, p field.Path, terminating bool) bool {
	return field.Nbr(c, p.Child("share"), terminating, func(nt field.Field[bool]) bool {
		return field.AnyHood(nt) || terminating
	})
}

// exit moves a terminated instance out once every neighbour agrees.
func exit(c *field.Context, p field.Path, st *process.Status, terminated bool) {
	if field.AllHood(field.Exchange(c, p.Child("exit"), terminated)) {
		*st = process.External
	} else if terminated {
		*st = process.InternalOutput
	}
}

// soften turns instances that can no longer matter into border instances.
func soften(st *process.Status) {
	switch *st {
	case process.TerminatedOutput:
		*st = process.BorderOutput
	case process.Internal:
		*st = process.Border
	}
}

func finite(xs ...float64) bool {
	for _, x := range xs {
		if math.IsInf(x, 0) || math.IsNaN(x) {
			return false
		}
	}
	return true
}
